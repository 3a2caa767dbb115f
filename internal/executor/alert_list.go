package executor

import (
	"context"
	"fmt"
	"log/slog"

	"alertdesk/internal/clock"
	"alertdesk/internal/domain"
	"alertdesk/internal/store"
)

// AlertListRefreshExecutor builds the visible alert list with per-level counts.
type AlertListRefreshExecutor struct {
	rules  store.Catalog
	alerts store.AlertStore
	clock  clock.Clock
	logger *slog.Logger
}

// NewAlertListRefreshExecutor creates alert list executor.
func NewAlertListRefreshExecutor(rules store.Catalog, alerts store.AlertStore, clk clock.Clock, logger *slog.Logger) *AlertListRefreshExecutor {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AlertListRefreshExecutor{rules: rules, alerts: alerts, clock: clk, logger: logger}
}

// Type returns handled task type.
func (e *AlertListRefreshExecutor) Type() domain.TaskType {
	return domain.TaskAlertListRefresh
}

// Execute loads current alerts, drops ignored ones and joins rule names.
// Returns: *domain.AlertListResult.
func (e *AlertListRefreshExecutor) Execute(ctx context.Context, _ domain.TaskRequest) (any, error) {
	alerts, err := e.alerts.ListAlerts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	rules, err := e.rules.ListRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	byID := make(map[int64]domain.AlertRule, len(rules))
	for _, rule := range rules {
		byID[rule.ID] = rule
	}

	result := &domain.AlertListResult{Alerts: make([]domain.AlertView, 0, len(alerts)), UpdatedAt: e.clock.Now()}
	for _, alert := range alerts {
		if alert.Status == domain.AlertStatusIgnored {
			continue
		}
		view := domain.AlertView{CurrentAlert: alert}
		if rule, ok := byID[alert.RuleID]; ok {
			view.RuleName = rule.Name
			view.Category = rule.Category
		}
		result.Alerts = append(result.Alerts, view)
		switch alert.Level {
		case domain.AlertLevelCritical:
			result.CriticalCount++
		case domain.AlertLevelWarning:
			result.WarningCount++
		case domain.AlertLevelInfo:
			result.InfoCount++
		}
	}
	e.logger.Debug("alert list refreshed",
		"alerts", len(result.Alerts),
		"critical", result.CriticalCount,
		"warning", result.WarningCount,
		"info", result.InfoCount,
	)
	return result, nil
}
