package queue

import (
	"container/heap"
	"testing"
	"time"

	"alertdesk/internal/domain"
)

func TestTaskHeapRemoveKeyKeepsOrder(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	h := &taskHeap{}
	push := func(req domain.TaskRequest, seq uint64) {
		heap.Push(h, &entry{req: req, key: req.Key(), effective: req.EffectiveTime(), seq: seq})
	}
	for i, priority := range []int{5, 1, 7, 1, 3} {
		push(domain.TaskRequest{Type: domain.TaskRuleCheck, TargetID: domain.Target(int64(i)), Priority: priority, CreatedAt: base}, uint64(i))
	}
	push(domain.TaskRequest{Type: domain.TaskStatRefresh, Priority: 1, CreatedAt: base, ScheduledAt: base.Add(time.Minute)}, 98)
	push(domain.TaskRequest{Type: domain.TaskAlertListRefresh, Priority: 1, CreatedAt: base.Add(2 * time.Minute)}, 99)

	if removed := h.removeKey("rule_check:3"); removed != 1 {
		t.Fatalf("expected one removal, got %d", removed)
	}
	var order []string
	for h.Len() > 0 {
		order = append(order, heap.Pop(h).(*entry).key)
	}
	want := []string{"rule_check:1", "rule_check:4", "rule_check:0", "rule_check:2", "stat_refresh", "alert_list_refresh"}
	if len(order) != len(want) {
		t.Fatalf("unexpected order %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("unexpected order %v, want %v", order, want)
		}
	}
}
