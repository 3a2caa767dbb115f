package evaluator

import (
	"context"
	"strings"

	"alertdesk/internal/domain"
	"alertdesk/internal/permanent"
	"alertdesk/internal/templatefmt"
)

// Evaluator turns one rule into zero or more alert tuples.
// Params: context bounding source I/O and the rule.
// Returns: tuples for the reconciler or an evaluation error.
type Evaluator interface {
	Evaluate(ctx context.Context, rule domain.AlertRule) ([]domain.AlertTuple, error)
}

// Compare applies numeric operator. Non-numeric operators never match.
func Compare(actual float64, op domain.Operator, threshold float64) bool {
	switch op {
	case domain.OpGreater:
		return actual > threshold
	case domain.OpGreaterEqual:
		return actual >= threshold
	case domain.OpLess:
		return actual < threshold
	case domain.OpLessEqual:
		return actual <= threshold
	case domain.OpEqual:
		return actual == threshold
	case domain.OpNotEqual:
		return actual != threshold
	default:
		return false
	}
}

// Judge applies single-value or multi-row judgment over rows.
// Params: rows (SQL columns or JSON fields), rule judgment settings, template namespace.
// Returns: tuples in row order or configuration error.
func Judge(rows []domain.Row, rule domain.AlertRule, namespace string) ([]domain.AlertTuple, error) {
	switch rule.JudgeType {
	case domain.JudgeMultiRow:
		tuples := make([]domain.AlertTuple, 0, len(rows))
		for _, row := range rows {
			tuples = append(tuples, buildTuple(row, rule, namespace))
		}
		return tuples, nil
	case domain.JudgeSingleValue, "":
		field := strings.TrimSpace(rule.JudgeField)
		if field == "" {
			return nil, permanent.Errorf("rule %q: judge field is required for single-value judgment", rule.Name)
		}
		if !rule.JudgeOperator.Numeric() {
			return nil, permanent.Errorf("rule %q: operator %q is not a numeric comparison", rule.Name, rule.JudgeOperator)
		}
		threshold := domain.ParseNumber(rule.JudgeValue)
		tuples := make([]domain.AlertTuple, 0, 1)
		for _, row := range rows {
			value, ok := row.Get(field)
			if !ok {
				continue
			}
			if Compare(value.Float(), rule.JudgeOperator, threshold) {
				tuples = append(tuples, buildTuple(row, rule, namespace))
			}
		}
		return tuples, nil
	default:
		return nil, permanent.Errorf("rule %q: unsupported judge type %q", rule.Name, rule.JudgeType)
	}
}

func buildTuple(row domain.Row, rule domain.AlertRule, namespace string) domain.AlertTuple {
	return domain.AlertTuple{
		Key:     rowKey(row, rule.KeyField),
		Message: templatefmt.Render(rule.MessageTemplate, namespace, row),
		RawData: row.JSON(),
	}
}

func rowKey(row domain.Row, keyField string) *string {
	keyField = strings.TrimSpace(keyField)
	if keyField == "" {
		return nil
	}
	value, ok := row.Get(keyField)
	if !ok || value.Kind == domain.KindNull {
		return nil
	}
	return domain.StringKey(value.String())
}
