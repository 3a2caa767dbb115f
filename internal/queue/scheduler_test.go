package queue

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"alertdesk/internal/domain"
)

type funcExecutor struct {
	taskType domain.TaskType
	fn       func(ctx context.Context, req domain.TaskRequest) (any, error)
}

func (f funcExecutor) Type() domain.TaskType { return f.taskType }

func (f funcExecutor) Execute(ctx context.Context, req domain.TaskRequest) (any, error) {
	return f.fn(ctx, req)
}

func okExecutor(taskType domain.TaskType) funcExecutor {
	return funcExecutor{taskType: taskType, fn: func(context.Context, domain.TaskRequest) (any, error) {
		return "ok", nil
	}}
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.MinDispatchInterval = 0
	opts.PollInterval = 5 * time.Millisecond
	opts.BatchSpacingMin = 0
	opts.BatchSpacingMax = 0
	return opts
}

type recorder struct {
	mu        sync.Mutex
	started   []domain.TaskRequest
	completed []domain.TaskCompletion
	done      chan domain.TaskCompletion
}

func record(s *Scheduler) *recorder {
	r := &recorder{done: make(chan domain.TaskCompletion, 64)}
	s.Subscribe(Listener{
		OnStarted: func(req domain.TaskRequest) {
			r.mu.Lock()
			r.started = append(r.started, req)
			r.mu.Unlock()
		},
		OnCompleted: func(c domain.TaskCompletion) {
			r.mu.Lock()
			r.completed = append(r.completed, c)
			r.mu.Unlock()
			r.done <- c
		},
	})
	return r
}

func (r *recorder) wait(t *testing.T, n int) []domain.TaskCompletion {
	t.Helper()

	out := make([]domain.TaskCompletion, 0, n)
	deadline := time.After(3 * time.Second)
	for len(out) < n {
		select {
		case c := <-r.done:
			out = append(out, c)
		case <-deadline:
			t.Fatalf("timed out waiting for %d completions, got %d", n, len(out))
		}
	}
	return out
}

func (r *recorder) startedKeys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.started))
	for _, req := range r.started {
		keys = append(keys, req.Key())
	}
	return keys
}

func rule(id int64, priority int) domain.TaskRequest {
	return domain.TaskRequest{Type: domain.TaskRuleCheck, TargetID: domain.Target(id), Priority: priority, Source: domain.SourceManual}
}

func TestSchedulerDeduplicatesSameKey(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	s := New(testOptions(), nil, nil, funcExecutor{taskType: domain.TaskRuleCheck, fn: func(context.Context, domain.TaskRequest) (any, error) {
		runs.Add(1)
		return nil, nil
	}})
	defer s.Close()
	rec := record(s)

	if !s.Submit(rule(1, 1)) {
		t.Fatalf("first submit must be accepted")
	}
	if !s.Submit(rule(1, 1)) {
		t.Fatalf("queued duplicate is accepted and collapsed at dispatch")
	}
	s.Start()
	rec.wait(t, 1)

	if s.Submit(rule(1, 1)) {
		t.Fatalf("submission inside dedup window must be dropped")
	}
	time.Sleep(50 * time.Millisecond)
	if got := runs.Load(); got != 1 {
		t.Fatalf("expected one execution, got %d", got)
	}
	select {
	case extra := <-rec.done:
		t.Fatalf("unexpected extra completion %+v", extra)
	default:
	}
}

func TestSchedulerDedupWindowExpires(t *testing.T) {
	t.Parallel()

	opts := testOptions()
	opts.DedupWindow = 20 * time.Millisecond
	s := New(opts, nil, nil, okExecutor(domain.TaskRuleCheck))
	defer s.Close()
	rec := record(s)
	s.Start()

	s.Submit(rule(1, 1))
	rec.wait(t, 1)
	time.Sleep(40 * time.Millisecond)
	if !s.Submit(rule(1, 1)) {
		t.Fatalf("submission after window must be accepted")
	}
	rec.wait(t, 1)
}

func TestSchedulerDedupDisabled(t *testing.T) {
	t.Parallel()

	opts := testOptions()
	opts.DedupEnabled = false
	s := New(opts, nil, nil, okExecutor(domain.TaskRuleCheck))
	defer s.Close()
	rec := record(s)

	s.Submit(rule(1, 1))
	s.Submit(rule(1, 1))
	s.Start()
	rec.wait(t, 2)
}

func TestSchedulerOrdersByTimePriorityAndCreation(t *testing.T) {
	t.Parallel()

	opts := testOptions()
	opts.MaxConcurrency = 1
	s := New(opts, nil, nil, okExecutor(domain.TaskRuleCheck))
	defer s.Close()
	rec := record(s)

	now := time.Now().UTC()
	base := now.Add(-time.Second)
	overdue := rule(1, 5)
	overdue.ScheduledAt = base
	asap := rule(2, 5)
	asap.CreatedAt = base.Add(500 * time.Millisecond)
	urgent := rule(3, 2)
	urgent.CreatedAt = base.Add(200 * time.Millisecond)
	olderScheduled := rule(4, 5)
	olderScheduled.CreatedAt = base.Add(100 * time.Millisecond)
	olderScheduled.ScheduledAt = base.Add(200 * time.Millisecond)
	newer := rule(5, 5)
	newer.CreatedAt = base.Add(200 * time.Millisecond)
	future := rule(9, 1)
	future.ScheduledAt = now.Add(80 * time.Millisecond)

	for _, req := range []domain.TaskRequest{future, asap, newer, olderScheduled, urgent, overdue} {
		if !s.Submit(req) {
			t.Fatalf("submit %s rejected", req.Key())
		}
	}
	s.Start()
	rec.wait(t, 6)

	want := []string{"rule_check:1", "rule_check:3", "rule_check:4", "rule_check:5", "rule_check:2", "rule_check:9"}
	got := rec.startedKeys()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected dispatch order %v, want %v", got, want)
	}
}

func TestSchedulerRunNowOvertakesScheduledEntry(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	s := New(testOptions(), nil, nil, funcExecutor{taskType: domain.TaskRuleCheck, fn: func(context.Context, domain.TaskRequest) (any, error) {
		runs.Add(1)
		return nil, nil
	}})
	defer s.Close()
	rec := record(s)
	s.Start()

	later := rule(1, 5)
	later.Source = domain.SourceStartup
	later.ScheduledAt = time.Now().Add(300 * time.Millisecond)
	if !s.Submit(later) {
		t.Fatalf("scheduled submit rejected")
	}
	submitted := time.Now()
	if !s.Submit(rule(1, 1)) {
		t.Fatalf("run-now must be accepted while a later entry is queued")
	}
	c := rec.wait(t, 1)[0]
	if c.Source != domain.SourceManual {
		t.Fatalf("expected manual run first, got %+v", c)
	}
	if elapsed := c.StartedAt.Sub(submitted); elapsed >= 250*time.Millisecond {
		t.Fatalf("run-now waited for the scheduled slot: %v", elapsed)
	}

	time.Sleep(400 * time.Millisecond)
	if got := runs.Load(); got != 1 {
		t.Fatalf("scheduled duplicate inside dedup window must be dropped, runs=%d", got)
	}
	if got := s.QueuedCount(); got != 0 {
		t.Fatalf("expected empty queue, got %d", got)
	}
}

func TestSchedulerSpacesDispatches(t *testing.T) {
	t.Parallel()

	opts := testOptions()
	opts.MinDispatchInterval = 50 * time.Millisecond
	s := New(opts, nil, nil, okExecutor(domain.TaskRuleCheck))
	defer s.Close()
	rec := record(s)

	for i := int64(1); i <= 4; i++ {
		s.Submit(rule(i, 5))
	}
	s.Start()
	completions := rec.wait(t, 4)

	starts := make([]time.Time, 0, len(completions))
	for _, c := range completions {
		starts = append(starts, c.StartedAt)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })
	for i := 1; i < len(starts); i++ {
		if gap := starts[i].Sub(starts[i-1]); gap < 45*time.Millisecond {
			t.Fatalf("dispatch %d started %v after previous, want >= 50ms", i, gap)
		}
	}
}

func TestSchedulerBoundsConcurrency(t *testing.T) {
	t.Parallel()

	opts := testOptions()
	opts.MaxConcurrency = 2
	var current, peak atomic.Int32
	release := make(chan struct{})
	s := New(opts, nil, nil, funcExecutor{taskType: domain.TaskRuleCheck, fn: func(context.Context, domain.TaskRequest) (any, error) {
		n := current.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		<-release
		current.Add(-1)
		return nil, nil
	}})
	defer s.Close()
	rec := record(s)

	for i := int64(1); i <= 6; i++ {
		s.Submit(rule(i, 5))
	}
	s.Start()

	deadline := time.Now().Add(2 * time.Second)
	for s.RunningCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	time.Sleep(30 * time.Millisecond)
	if got := s.RunningCount(); got != 2 {
		t.Fatalf("expected 2 running, got %d", got)
	}
	if got := s.QueuedCount(); got != 4 {
		t.Fatalf("expected 4 queued, got %d", got)
	}
	close(release)
	rec.wait(t, 6)
	if got := peak.Load(); got != 2 {
		t.Fatalf("expected peak concurrency 2, got %d", got)
	}
}

func TestSchedulerCancel(t *testing.T) {
	t.Parallel()

	s := New(testOptions(), nil, nil, okExecutor(domain.TaskRuleCheck))
	defer s.Close()

	s.Submit(rule(1, 5))
	s.Submit(rule(2, 5))
	s.Submit(rule(3, 5))
	if removed := s.Cancel("rule_check:2"); removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if removed := s.Cancel("rule_check:2"); removed != 0 {
		t.Fatalf("expected nothing left to cancel, got %d", removed)
	}
	if got := s.QueuedCount(); got != 2 {
		t.Fatalf("expected 2 queued, got %d", got)
	}
	if !s.Submit(rule(2, 5)) {
		t.Fatalf("cancelled key must be submittable again")
	}
	if removed := s.CancelAll(); removed != 3 {
		t.Fatalf("expected 3 removed, got %d", removed)
	}
	if got := s.QueuedCount(); got != 0 {
		t.Fatalf("expected empty queue, got %d", got)
	}
}

func TestSchedulerReportsFailures(t *testing.T) {
	t.Parallel()

	opts := testOptions()
	opts.TaskTimeout = 20 * time.Millisecond
	s := New(opts, nil, nil,
		funcExecutor{taskType: domain.TaskRuleCheck, fn: func(context.Context, domain.TaskRequest) (any, error) {
			panic("boom")
		}},
		funcExecutor{taskType: domain.TaskAlertListRefresh, fn: func(ctx context.Context, _ domain.TaskRequest) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}},
	)
	defer s.Close()
	rec := record(s)

	s.Submit(rule(1, 1))
	s.Submit(domain.TaskRequest{Type: domain.TaskAlertListRefresh})
	s.Submit(domain.TaskRequest{Type: domain.TaskStatRefresh, TargetID: domain.Target(3)})
	s.Start()

	byType := map[domain.TaskType]domain.TaskCompletion{}
	for _, c := range rec.wait(t, 3) {
		byType[c.Type] = c
	}
	if c := byType[domain.TaskRuleCheck]; c.Success || !strings.Contains(c.ErrorMessage, "panic") {
		t.Fatalf("expected panic reported as failure, got %+v", c)
	}
	if c := byType[domain.TaskAlertListRefresh]; c.Success || !strings.Contains(c.ErrorMessage, context.DeadlineExceeded.Error()) {
		t.Fatalf("expected timeout failure, got %+v", c)
	}
	if c := byType[domain.TaskStatRefresh]; c.Success || !c.Permanent {
		t.Fatalf("expected missing executor configuration failure, got %+v", c)
	}

	s.Submit(rule(2, 1))
	if c := rec.wait(t, 1)[0]; c.Type != domain.TaskRuleCheck || c.Success {
		t.Fatalf("loop must keep dispatching after failures, got %+v", c)
	}
}

func TestSchedulerCompletionCarriesData(t *testing.T) {
	t.Parallel()

	s := New(testOptions(), nil, nil, okExecutor(domain.TaskRuleCheck))
	defer s.Close()
	rec := record(s)
	s.Start()

	req := rule(4, 1)
	req.ID = "req-4"
	s.Submit(req)
	c := rec.wait(t, 1)[0]
	if !c.Success || c.Data != "ok" || c.RequestID != "req-4" || *c.TargetID != 4 || c.Source != domain.SourceManual {
		t.Fatalf("unexpected completion %+v", c)
	}
	if c.CompletedAt.Before(c.StartedAt) || c.Duration < 0 {
		t.Fatalf("unexpected timing %+v", c)
	}
	if keys := rec.startedKeys(); len(keys) != 1 || keys[0] != "rule_check:4" {
		t.Fatalf("expected one start notification, got %v", keys)
	}
}

func TestSchedulerTimers(t *testing.T) {
	t.Parallel()

	opts := testOptions()
	opts.DedupWindow = 5 * time.Millisecond
	s := New(opts, nil, nil, okExecutor(domain.TaskStatRefresh), okExecutor(domain.TaskAlertListRefresh))
	defer s.Close()
	rec := record(s)
	s.Start()

	if err := s.RegisterTimer(domain.TimerSpec{Type: domain.TaskStatRefresh, TargetID: domain.Target(1)}); !errors.Is(err, ErrInvalidTimer) {
		t.Fatalf("expected invalid timer error, got %v", err)
	}

	if err := s.RegisterTimer(domain.TimerSpec{Type: domain.TaskStatRefresh, TargetID: domain.Target(1), Interval: 30 * time.Millisecond}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if !s.IsTimerRegistered(domain.TaskStatRefresh, domain.Target(1)) {
		t.Fatalf("expected timer registered")
	}
	for _, c := range rec.wait(t, 3) {
		if c.Source != domain.SourceTimer || c.Type != domain.TaskStatRefresh {
			t.Fatalf("unexpected timer completion %+v", c)
		}
	}
	s.UnregisterTimer(domain.TaskStatRefresh, domain.Target(1))
	if s.IsTimerRegistered(domain.TaskStatRefresh, domain.Target(1)) {
		t.Fatalf("expected timer unregistered")
	}

	registered := time.Now()
	if err := s.RegisterTimer(domain.TimerSpec{Type: domain.TaskAlertListRefresh, Interval: time.Hour, InitialDelay: 120 * time.Millisecond}); err != nil {
		t.Fatalf("register delayed: %v", err)
	}
	deadline := time.After(3 * time.Second)
	for {
		select {
		case c := <-rec.done:
			if c.Type != domain.TaskAlertListRefresh {
				continue
			}
			if elapsed := time.Since(registered); elapsed < 100*time.Millisecond {
				t.Fatalf("initial delay not honored: %v", elapsed)
			}
			return
		case <-deadline:
			t.Fatalf("delayed timer never fired")
		}
	}
}

func TestSchedulerBatchSpacing(t *testing.T) {
	t.Parallel()

	s := New(testOptions(), nil, nil, okExecutor(domain.TaskRuleCheck))
	defer s.Close()
	rec := record(s)
	s.Start()

	accepted := s.SubmitBatch([]domain.TaskRequest{rule(1, 5), rule(2, 5), rule(2, 5), rule(3, 5)}, 40*time.Millisecond)
	if accepted != 4 {
		t.Fatalf("expected every batch entry queued, accepted %d", accepted)
	}
	completions := rec.wait(t, 3)
	starts := map[int64]time.Time{}
	for _, c := range completions {
		starts[*c.TargetID] = c.StartedAt
	}
	if gap := starts[3].Sub(starts[1]); gap < 100*time.Millisecond {
		t.Fatalf("expected staggered dispatch, gap %v", gap)
	}
	time.Sleep(50 * time.Millisecond)
	select {
	case extra := <-rec.done:
		t.Fatalf("repeated key inside dedup window must run once, got %+v", extra)
	default:
	}
}

func TestSchedulerCloseRejectsWork(t *testing.T) {
	t.Parallel()

	s := New(testOptions(), nil, nil, okExecutor(domain.TaskRuleCheck))
	s.Start()
	s.Close()
	s.Close()
	if s.Submit(rule(1, 1)) {
		t.Fatalf("submit after close must be rejected")
	}
	if err := s.RegisterTimer(domain.TimerSpec{Type: domain.TaskRuleCheck, TargetID: domain.Target(1), Interval: time.Second}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
