package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"alertdesk/internal/clock"
	"alertdesk/internal/config"
	"alertdesk/internal/domain"
	"alertdesk/internal/queue"
	"alertdesk/internal/store"
)

// chainedRefreshPriority is used for alert-list refreshes triggered by rule completions.
const chainedRefreshPriority = 2

// Scheduler is the queue surface the host drives.
type Scheduler interface {
	Submit(req domain.TaskRequest) bool
	SubmitBatch(reqs []domain.TaskRequest, spacing time.Duration) int
	RegisterTimer(spec domain.TimerSpec) error
	UnregisterTimer(taskType domain.TaskType, targetID *int64)
	Subscribe(listener queue.Listener) func()
}

// HostOptions controls host-level scheduling.
type HostOptions struct {
	StartupBatch      bool
	AlertListInterval time.Duration
	TimerPriority     int
}

// Host mirrors catalog entries into scheduler timers, chains alert-list
// refreshes after rule checks, and keeps the latest alert list.
type Host struct {
	sched   Scheduler
	catalog store.Catalog
	clock   clock.Clock
	logger  *slog.Logger
	opts    HostOptions

	mu          sync.RWMutex
	latest      *domain.AlertListResult
	ruleTimers  map[int64]struct{}
	statTimers  map[int64]struct{}
	unsubscribe func()
}

// NewHost creates host over scheduler and catalog.
func NewHost(sched Scheduler, catalog store.Catalog, opts HostOptions, clk clock.Clock, logger *slog.Logger) *Host {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.AlertListInterval <= 0 {
		opts.AlertListInterval = 30 * time.Second
	}
	return &Host{
		sched:      sched,
		catalog:    catalog,
		clock:      clk,
		logger:     logger,
		opts:       opts,
		ruleTimers: make(map[int64]struct{}),
		statTimers: make(map[int64]struct{}),
	}
}

// Start subscribes to completions, registers timers, and submits the startup batch.
// Params: context for catalog reads.
// Returns: catalog or timer registration error.
func (h *Host) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.unsubscribe == nil {
		h.unsubscribe = h.sched.Subscribe(queue.Listener{OnCompleted: h.onCompleted})
	}
	h.mu.Unlock()

	if err := h.SyncTimers(ctx); err != nil {
		return err
	}
	if err := h.sched.RegisterTimer(domain.TimerSpec{
		Type:         domain.TaskAlertListRefresh,
		Interval:     h.opts.AlertListInterval,
		InitialDelay: h.opts.AlertListInterval,
		Priority:     domain.PriorityBackground,
	}); err != nil {
		return fmt.Errorf("register alert list timer: %w", err)
	}
	if h.opts.StartupBatch {
		if _, err := h.SubmitStartupBatch(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close stops completion handling.
func (h *Host) Close() {
	h.mu.Lock()
	unsubscribe := h.unsubscribe
	h.unsubscribe = nil
	h.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// SyncTimers registers timers for enabled rules and stat configs and drops
// timers of disabled or removed ones.
func (h *Host) SyncTimers(ctx context.Context) error {
	rules, err := h.catalog.ListRules(ctx)
	if err != nil {
		return fmt.Errorf("list rules: %w", err)
	}
	seenRules := make(map[int64]struct{}, len(rules))
	for _, rule := range rules {
		seenRules[rule.ID] = struct{}{}
		if err := h.ApplyRule(rule); err != nil {
			return err
		}
	}

	stats, err := h.catalog.ListStatConfigs(ctx)
	if err != nil {
		return fmt.Errorf("list stat configs: %w", err)
	}
	seenStats := make(map[int64]struct{}, len(stats))
	for _, stat := range stats {
		seenStats[stat.ID] = struct{}{}
		if err := h.ApplyStat(stat); err != nil {
			return err
		}
	}

	for _, id := range h.registered(h.ruleTimers) {
		if _, ok := seenRules[id]; !ok {
			h.RemoveRule(id)
		}
	}
	for _, id := range h.registered(h.statTimers) {
		if _, ok := seenStats[id]; !ok {
			h.RemoveStat(id)
		}
	}
	return nil
}

func (h *Host) registered(set map[int64]struct{}) []int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// ApplyRule registers (or replaces) the rule timer, or removes it for a disabled rule.
func (h *Host) ApplyRule(rule domain.AlertRule) error {
	if !rule.Enabled {
		h.RemoveRule(rule.ID)
		return nil
	}
	spec, err := RuleTimerSpec(rule, h.clock.Now())
	if err != nil {
		return err
	}
	spec.Priority = h.opts.TimerPriority
	if err := h.sched.RegisterTimer(spec); err != nil {
		return fmt.Errorf("register rule %d timer: %w", rule.ID, err)
	}
	h.mu.Lock()
	h.ruleTimers[rule.ID] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("rule timer registered", "rule_id", rule.ID, "interval", spec.Interval, "initial_delay", spec.InitialDelay)
	return nil
}

// RemoveRule drops rule timer.
func (h *Host) RemoveRule(id int64) {
	h.sched.UnregisterTimer(domain.TaskRuleCheck, domain.Target(id))
	h.mu.Lock()
	delete(h.ruleTimers, id)
	h.mu.Unlock()
}

// ApplyStat registers (or replaces) the stat timer, or removes it for a disabled config.
func (h *Host) ApplyStat(stat domain.StatConfig) error {
	if !stat.Enabled {
		h.RemoveStat(stat.ID)
		return nil
	}
	interval := stat.RefreshInterval
	if interval <= 0 {
		interval = domain.DefaultRefreshInterval
	}
	if err := h.sched.RegisterTimer(domain.TimerSpec{
		Type:     domain.TaskStatRefresh,
		TargetID: domain.Target(stat.ID),
		Interval: interval,
		Priority: h.opts.TimerPriority,
	}); err != nil {
		return fmt.Errorf("register stat %d timer: %w", stat.ID, err)
	}
	h.mu.Lock()
	h.statTimers[stat.ID] = struct{}{}
	h.mu.Unlock()
	return nil
}

// RemoveStat drops stat timer.
func (h *Host) RemoveStat(id int64) {
	h.sched.UnregisterTimer(domain.TaskStatRefresh, domain.Target(id))
	h.mu.Lock()
	delete(h.statTimers, id)
	h.mu.Unlock()
}

// RuleTimerSpec derives a fixed-interval timer from the rule schedule.
// Cron schedules are approximated by the gap between the next two fire times;
// the first run waits until the next fire time. Interval-only rules start at once.
// Params: rule and current time.
// Returns: timer spec or schedule error.
func RuleTimerSpec(rule domain.AlertRule, now time.Time) (domain.TimerSpec, error) {
	spec := domain.TimerSpec{Type: domain.TaskRuleCheck, TargetID: domain.Target(rule.ID)}
	if rule.CronExpression != "" {
		schedule, err := config.ParseCron(rule.CronExpression)
		if err != nil {
			return domain.TimerSpec{}, fmt.Errorf("rule %d cron %q: %w", rule.ID, rule.CronExpression, err)
		}
		first := schedule.Next(now)
		second := schedule.Next(first)
		if !first.IsZero() && second.After(first) {
			spec.Interval = second.Sub(first)
			spec.InitialDelay = first.Sub(now)
			return spec, nil
		}
	}
	if rule.Interval > 0 {
		spec.Interval = rule.Interval
		return spec, nil
	}
	return domain.TimerSpec{}, fmt.Errorf("rule %d has no usable schedule", rule.ID)
}

// SubmitStartupBatch staggers one check per enabled rule, then one alert-list refresh.
// Returns: accepted count.
func (h *Host) SubmitStartupBatch(ctx context.Context) (int, error) {
	rules, err := store.EnabledRules(ctx, h.catalog)
	if err != nil {
		return 0, fmt.Errorf("list enabled rules: %w", err)
	}
	reqs := make([]domain.TaskRequest, 0, len(rules)+1)
	for _, rule := range rules {
		reqs = append(reqs, domain.TaskRequest{
			Type:     domain.TaskRuleCheck,
			TargetID: domain.Target(rule.ID),
			Priority: domain.PriorityNormal,
			Source:   domain.SourceStartup,
		})
	}
	reqs = append(reqs, domain.TaskRequest{
		Type:     domain.TaskAlertListRefresh,
		Priority: domain.PriorityNormal,
		Source:   domain.SourceStartup,
	})
	accepted := h.sched.SubmitBatch(reqs, 0)
	h.logger.Info("startup batch submitted", "rules", len(rules), "accepted", accepted)
	return accepted, nil
}

func (h *Host) onCompleted(completion domain.TaskCompletion) {
	if !completion.Success {
		return
	}
	switch completion.Type {
	case domain.TaskAlertListRefresh:
		if result, ok := completion.Data.(*domain.AlertListResult); ok && result != nil {
			h.mu.Lock()
			h.latest = result
			h.mu.Unlock()
		}
	case domain.TaskRuleCheck:
		result, ok := completion.Data.(*domain.AlertCheckResult)
		if !ok || result == nil {
			return
		}
		if !result.HasNewAlert && result.RecoveredCount == 0 {
			return
		}
		accepted := h.sched.Submit(domain.TaskRequest{
			Type:     domain.TaskAlertListRefresh,
			Priority: chainedRefreshPriority,
			Source:   domain.SourceChained,
		})
		h.logger.Debug("alert list refresh chained", "rule_id", result.RuleID, "accepted", accepted)
	}
}

// LatestAlerts returns the most recent alert list, if any refresh succeeded yet.
func (h *Host) LatestAlerts() (*domain.AlertListResult, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest, h.latest != nil
}

// AlertsHandler serves the latest alert list as JSON; 204 before the first refresh.
func (h *Host) AlertsHandler() http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.Method != http.MethodGet {
			writer.Header().Set("Allow", "GET")
			writer.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		latest, ok := h.LatestAlerts()
		if !ok {
			writer.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(writer, http.StatusOK, latest)
	})
}
