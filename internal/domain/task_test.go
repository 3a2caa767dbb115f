package domain

import (
	"testing"
	"time"
)

func TestTaskKey(t *testing.T) {
	t.Parallel()

	if got := TaskKey(TaskRuleCheck, Target(7)); got != "rule_check:7" {
		t.Fatalf("unexpected key %q", got)
	}
	if got := TaskKey(TaskAlertListRefresh, nil); got != "alert_list_refresh" {
		t.Fatalf("unexpected singleton key %q", got)
	}
	spec := TimerSpec{Type: TaskStatRefresh, TargetID: Target(3)}
	if spec.Key() != "stat_refresh:3" {
		t.Fatalf("unexpected timer key %q", spec.Key())
	}
}

func TestEffectiveTime(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	req := TaskRequest{CreatedAt: created}
	if !req.EffectiveTime().Equal(created) {
		t.Fatalf("expected created time as effective time")
	}
	req.ScheduledAt = created.Add(time.Second)
	if !req.EffectiveTime().Equal(created.Add(time.Second)) {
		t.Fatalf("expected scheduled time as effective time")
	}
}

func TestNormalizePriority(t *testing.T) {
	t.Parallel()

	for input, want := range map[int]int{0: 5, -3: 1, 1: 1, 10: 10, 42: 10, 7: 7} {
		if got := NormalizePriority(input); got != want {
			t.Fatalf("priority %d: expected %d, got %d", input, want, got)
		}
	}
}
