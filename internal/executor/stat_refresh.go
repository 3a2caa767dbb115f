package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"alertdesk/internal/clock"
	"alertdesk/internal/domain"
	"alertdesk/internal/evaluator"
	"alertdesk/internal/permanent"
	"alertdesk/internal/source"
	"alertdesk/internal/store"
)

// StatRefreshExecutor fetches a statistics view and annotates changes since the last refresh.
type StatRefreshExecutor struct {
	catalog store.Catalog
	runner  evaluator.SQLRunner
	fetcher evaluator.Fetcher
	cache   *SnapshotCache
	clock   clock.Clock
	logger  *slog.Logger
}

// NewStatRefreshExecutor creates stat refresh executor.
// Params: catalog, SQL runner, HTTP fetcher, snapshot cache (nil uses defaults), clock and logger.
// Returns: executor for stat_refresh tasks.
func NewStatRefreshExecutor(
	catalog store.Catalog,
	runner evaluator.SQLRunner,
	fetcher evaluator.Fetcher,
	cache *SnapshotCache,
	clk clock.Clock,
	logger *slog.Logger,
) *StatRefreshExecutor {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if cache == nil {
		cache = NewSnapshotCache(SnapshotCacheOptions{}, clk)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StatRefreshExecutor{catalog: catalog, runner: runner, fetcher: fetcher, cache: cache, clock: clk, logger: logger}
}

// Type returns handled task type.
func (e *StatRefreshExecutor) Type() domain.TaskType {
	return domain.TaskStatRefresh
}

// Execute loads rows for the target stat config.
// Returns: *domain.StatRefreshResult or fetch/configuration error.
func (e *StatRefreshExecutor) Execute(ctx context.Context, req domain.TaskRequest) (any, error) {
	if req.TargetID == nil {
		return nil, permanent.Errorf("stat refresh requires target stat config id")
	}
	configID := *req.TargetID
	stat, err := e.catalog.GetStatConfig(ctx, configID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, permanent.Errorf("stat config %d not found", configID)
		}
		return nil, fmt.Errorf("load stat config %d: %w", configID, err)
	}

	var (
		columns []string
		rows    []domain.Row
	)
	switch stat.SourceType {
	case domain.SourceSQL:
		columns, rows, err = e.querySQL(ctx, stat)
	case domain.SourceAPI:
		columns, rows, err = e.queryAPI(ctx, stat)
	default:
		err = permanent.Errorf("stat %q: unsupported source type %q", stat.Name, stat.SourceType)
	}
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []domain.Row{}
	}

	e.logger.Debug("stat refreshed", "stat_config_id", configID, "rows", len(rows), "columns", len(columns))
	return &domain.StatRefreshResult{
		StatConfigID: configID,
		Name:         stat.Name,
		Columns:      columns,
		Rows:         rows,
		DisplayRows:  e.cache.Annotate(configID, rows),
		UpdatedAt:    e.clock.Now(),
	}, nil
}

func (e *StatRefreshExecutor) querySQL(ctx context.Context, stat domain.StatConfig) ([]string, []domain.Row, error) {
	conn, err := evaluator.ResolveConnection(ctx, e.catalog, stat.ConnectionID, stat.Name)
	if err != nil {
		return nil, nil, err
	}
	if strings.TrimSpace(stat.SQLQuery) == "" {
		return nil, nil, permanent.Errorf("stat %q: sql query is empty", stat.Name)
	}
	columns, rows, err := e.runner.Query(ctx, conn, stat.SQLQuery)
	if err != nil {
		return nil, nil, err
	}
	if len(columns) == 0 && len(rows) > 0 {
		columns = rows[0].Columns()
	}
	return columns, rows, nil
}

func (e *StatRefreshExecutor) queryAPI(ctx context.Context, stat domain.StatConfig) ([]string, []domain.Row, error) {
	req, err := source.BuildRequest(stat.HTTPSource)
	if err != nil {
		return nil, nil, fmt.Errorf("stat %q: %w", stat.Name, err)
	}
	resp, err := e.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	if !resp.Success() {
		return nil, nil, fmt.Errorf("stat %q: http %d %s", stat.Name, resp.StatusCode, resp.Reason)
	}
	node, err := source.Resolve(resp.Body, stat.DataPath)
	if err != nil {
		return nil, nil, fmt.Errorf("stat %q: %w", stat.Name, err)
	}
	if !node.IsArray() {
		return nil, nil, fmt.Errorf("stat %q: data path %q is not a json array", stat.Name, stat.DataPath)
	}
	rows := source.ObjectRows(node)
	var columns []string
	for _, row := range rows {
		if columns = row.Columns(); len(columns) > 0 {
			break
		}
	}
	return columns, rows, nil
}
