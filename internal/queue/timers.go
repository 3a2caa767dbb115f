package queue

import (
	"context"
	"time"

	"alertdesk/internal/domain"
)

// RegisterTimer starts a periodic submitter for (type, target), replacing any
// timer with the same key. The first submission happens after InitialDelay.
func (s *Scheduler) RegisterTimer(spec domain.TimerSpec) error {
	if !spec.Type.Valid() || spec.Interval <= 0 {
		return ErrInvalidTimer
	}
	if spec.InitialDelay < 0 {
		spec.InitialDelay = 0
	}
	if spec.Priority == 0 {
		spec.Priority = s.opts.TimerPriority
	}
	spec.Priority = domain.NormalizePriority(spec.Priority)
	key := spec.Key()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if previous, ok := s.timers[key]; ok {
		previous.cancel()
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.timers[key] = &timerHandle{cancel: cancel}
	s.workers.Add(1)
	s.mu.Unlock()

	go s.timerLoop(ctx, spec)
	s.logger.Debug("timer registered", "timer_key", key, "interval", spec.Interval, "initial_delay", spec.InitialDelay)
	return nil
}

// UnregisterTimer stops future submissions; an already queued instance stays queued.
func (s *Scheduler) UnregisterTimer(taskType domain.TaskType, targetID *int64) {
	key := domain.TaskKey(taskType, targetID)
	s.mu.Lock()
	timer, ok := s.timers[key]
	if ok {
		delete(s.timers, key)
	}
	s.mu.Unlock()
	if ok {
		timer.cancel()
		s.logger.Debug("timer unregistered", "timer_key", key)
	}
}

// IsTimerRegistered reports whether a timer runs for (type, target).
func (s *Scheduler) IsTimerRegistered(taskType domain.TaskType, targetID *int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[domain.TaskKey(taskType, targetID)]
	return ok
}

func (s *Scheduler) timerLoop(ctx context.Context, spec domain.TimerSpec) {
	defer s.workers.Done()
	if !sleepCtx(ctx, spec.InitialDelay) {
		return
	}
	for {
		s.Submit(domain.TaskRequest{
			Type:     spec.Type,
			TargetID: spec.TargetID,
			Priority: spec.Priority,
			Source:   domain.SourceTimer,
		})
		if !sleepCtx(ctx, spec.Interval) {
			return
		}
	}
}

// sleepCtx waits d or until ctx ends. Returns false when ctx ended.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
