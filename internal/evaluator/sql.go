package evaluator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"alertdesk/internal/domain"
	"alertdesk/internal/permanent"
	"alertdesk/internal/store"
	"alertdesk/internal/templatefmt"
)

// ConnectionLookup loads database connections by id.
type ConnectionLookup interface {
	GetConnection(ctx context.Context, id int64) (domain.DbConnection, error)
}

// SQLRunner executes a read query against one connection.
type SQLRunner interface {
	Query(ctx context.Context, conn domain.DbConnection, query string) ([]string, []domain.Row, error)
}

// SQLEvaluator judges rows returned by the rule's query.
type SQLEvaluator struct {
	connections ConnectionLookup
	runner      SQLRunner
}

// NewSQLEvaluator creates SQL rule evaluator.
// Params: connection lookup and query runner.
// Returns: evaluator for source type sql.
func NewSQLEvaluator(connections ConnectionLookup, runner SQLRunner) *SQLEvaluator {
	return &SQLEvaluator{connections: connections, runner: runner}
}

// Evaluate runs the query and applies judgment with {table.<column>} templating.
func (e *SQLEvaluator) Evaluate(ctx context.Context, rule domain.AlertRule) ([]domain.AlertTuple, error) {
	conn, err := ResolveConnection(ctx, e.connections, rule.ConnectionID, rule.Name)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(rule.SQLQuery) == "" {
		return nil, permanent.Errorf("rule %q: sql query is empty", rule.Name)
	}

	_, rows, err := e.runner.Query(ctx, conn, rule.SQLQuery)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return Judge(rows, rule, templatefmt.NamespaceTable)
}

// ResolveConnection loads an enabled connection referenced by a rule or stat config.
// Params: lookup, optional connection id, owner name for messages.
// Returns: connection or configuration error.
func ResolveConnection(ctx context.Context, lookup ConnectionLookup, id *int64, owner string) (domain.DbConnection, error) {
	if id == nil {
		return domain.DbConnection{}, permanent.Errorf("%q has no database connection", owner)
	}
	conn, err := lookup.GetConnection(ctx, *id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.DbConnection{}, permanent.Errorf("%q: database connection %d not found", owner, *id)
		}
		return domain.DbConnection{}, fmt.Errorf("load connection %d: %w", *id, err)
	}
	if !conn.Enabled {
		return domain.DbConnection{}, permanent.Errorf("%q: database connection %q is disabled", owner, conn.Name)
	}
	return conn, nil
}
