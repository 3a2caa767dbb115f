package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"alertdesk/internal/clock"
	"alertdesk/internal/domain"
	"alertdesk/internal/evaluator"
	"alertdesk/internal/permanent"
	"alertdesk/internal/store"
)

// AlertCheckExecutor evaluates one rule and reconciles its current alerts.
type AlertCheckExecutor struct {
	rules      store.Catalog
	evaluators map[domain.SourceType]evaluator.Evaluator
	alerts     store.AlertStore
	ignores    store.IgnoreStore
	clock      clock.Clock
	logger     *slog.Logger
}

// NewAlertCheckExecutor creates rule check executor.
// Params: rule catalog, evaluator per source type, alert and ignore stores, clock and logger.
// Returns: executor for rule_check tasks.
func NewAlertCheckExecutor(
	rules store.Catalog,
	evaluators map[domain.SourceType]evaluator.Evaluator,
	alerts store.AlertStore,
	ignores store.IgnoreStore,
	clk clock.Clock,
	logger *slog.Logger,
) *AlertCheckExecutor {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AlertCheckExecutor{
		rules:      rules,
		evaluators: evaluators,
		alerts:     alerts,
		ignores:    ignores,
		clock:      clk,
		logger:     logger,
	}
}

// Type returns handled task type.
func (e *AlertCheckExecutor) Type() domain.TaskType {
	return domain.TaskRuleCheck
}

// Execute runs the rule, reconciles alerts and records run status.
// Params: task context and request with rule id target.
// Returns: *domain.AlertCheckResult, nil for missing/disabled rule, or evaluation error.
func (e *AlertCheckExecutor) Execute(ctx context.Context, req domain.TaskRequest) (any, error) {
	if req.TargetID == nil {
		return nil, permanent.Errorf("rule check requires target rule id")
	}
	ruleID := *req.TargetID
	rule, err := e.rules.GetRule(ctx, ruleID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			e.logger.Debug("rule check skipped", "rule_id", ruleID, "reason", "not found")
			return nil, nil
		}
		return nil, fmt.Errorf("load rule %d: %w", ruleID, err)
	}
	if !rule.Enabled {
		e.logger.Debug("rule check skipped", "rule_id", ruleID, "reason", "disabled")
		return nil, nil
	}

	result, err := e.check(ctx, rule)
	bookkeeping := context.WithoutCancel(ctx)
	if err != nil {
		if recordErr := e.rules.RecordRun(bookkeeping, rule.ID, domain.RunStatus{At: e.clock.Now(), Success: false, Result: err.Error()}); recordErr != nil {
			e.logger.Error("record rule run failed", "rule_id", rule.ID, "error", recordErr.Error())
		}
		return nil, err
	}
	summary := fmt.Sprintf("detected %d alerts", result.AlertCount)
	if recordErr := e.rules.RecordRun(bookkeeping, rule.ID, domain.RunStatus{At: result.UpdatedAt, Success: true, Result: summary}); recordErr != nil {
		e.logger.Error("record rule run failed", "rule_id", rule.ID, "error", recordErr.Error())
	}
	if result.AlertCount > 0 {
		e.logger.Warn("rule detected alerts", "rule", rule.Name, "alerts", result.AlertCount, "new", result.NewAlertCount)
	} else {
		e.logger.Info("rule check clean", "rule", rule.Name, "recovered", result.RecoveredCount)
	}
	return result, nil
}

func (e *AlertCheckExecutor) check(ctx context.Context, rule domain.AlertRule) (*domain.AlertCheckResult, error) {
	eval, ok := e.evaluators[rule.SourceType]
	if !ok {
		return nil, permanent.Errorf("rule %q: unsupported source type %q", rule.Name, rule.SourceType)
	}
	tuples, err := eval.Evaluate(ctx, rule)
	if err != nil {
		return nil, err
	}
	now := e.clock.Now()
	newCount, recovered, err := e.reconcile(ctx, rule, tuples, now)
	if err != nil {
		return nil, err
	}
	return &domain.AlertCheckResult{
		RuleID:         rule.ID,
		RuleName:       rule.Name,
		AlertCount:     len(tuples),
		NewAlertCount:  newCount,
		RecoveredCount: recovered,
		HasNewAlert:    newCount > 0,
		UpdatedAt:      now,
	}, nil
}

// reconcile upserts produced tuples and deletes rows whose key disappeared.
// Ignored slots are skipped on upsert; rows in ignored status survive recovery.
func (e *AlertCheckExecutor) reconcile(ctx context.Context, rule domain.AlertRule, tuples []domain.AlertTuple, now time.Time) (int, int, error) {
	produced := make(map[domain.AlertKeySlot]struct{}, len(tuples))
	newCount := 0
	for _, tuple := range tuples {
		slot := domain.KeySlot(tuple.Key)
		if _, seen := produced[slot]; seen {
			continue
		}
		produced[slot] = struct{}{}

		ignored, err := e.ignores.IsIgnored(ctx, rule.ID, tuple.Key)
		if err != nil {
			return 0, 0, fmt.Errorf("check ignored: %w", err)
		}
		if ignored {
			continue
		}
		created, err := e.alerts.UpsertAlert(ctx, domain.CurrentAlert{
			RuleID:    rule.ID,
			AlertKey:  tuple.Key,
			Message:   tuple.Message,
			Level:     rule.Level,
			Status:    domain.AlertStatusUnhandled,
			FirstTime: now,
			LastTime:  now,
		})
		if err != nil {
			return 0, 0, err
		}
		if created {
			newCount++
		}
	}

	existing, err := e.alerts.ListAlertsByRule(ctx, rule.ID)
	if err != nil {
		return 0, 0, fmt.Errorf("list rule alerts: %w", err)
	}
	recovered := 0
	for _, alert := range existing {
		if alert.Status == domain.AlertStatusIgnored {
			continue
		}
		if _, ok := produced[domain.KeySlot(alert.AlertKey)]; ok {
			continue
		}
		if err := e.alerts.DeleteAlert(ctx, rule.ID, alert.AlertKey); err != nil {
			return 0, 0, err
		}
		recovered++
	}
	return newCount, recovered, nil
}
