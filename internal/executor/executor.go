package executor

import (
	"context"

	"alertdesk/internal/domain"
)

// Executor runs one task type and returns its typed result.
type Executor interface {
	Type() domain.TaskType
	Execute(ctx context.Context, req domain.TaskRequest) (any, error)
}

var (
	_ Executor = (*AlertCheckExecutor)(nil)
	_ Executor = (*AlertListRefreshExecutor)(nil)
	_ Executor = (*StatRefreshExecutor)(nil)
)
