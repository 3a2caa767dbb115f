package executor

import (
	"time"

	"alertdesk/internal/clock"
	"alertdesk/internal/domain"

	"github.com/bluele/gcache"
	"github.com/shopspring/decimal"
)

// Snapshot cache defaults.
const (
	DefaultSnapshotConfigs = 20
	DefaultSnapshotRows    = 500
	DefaultSnapshotTTL     = 30 * time.Minute
)

// SnapshotCacheOptions bounds the previous-snapshot cache.
type SnapshotCacheOptions struct {
	MaxConfigs int
	MaxRows    int
	TTL        time.Duration
}

// SnapshotCache keeps the last rows per stat config to annotate numeric changes.
type SnapshotCache struct {
	cache   gcache.Cache
	maxRows int
}

// NewSnapshotCache creates LRU snapshot cache.
// Params: bounds (zero values use defaults) and clock driving expiration.
// Returns: cache ready for Annotate.
func NewSnapshotCache(opts SnapshotCacheOptions, clk clock.Clock) *SnapshotCache {
	if opts.MaxConfigs <= 0 {
		opts.MaxConfigs = DefaultSnapshotConfigs
	}
	if opts.MaxRows <= 0 {
		opts.MaxRows = DefaultSnapshotRows
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultSnapshotTTL
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &SnapshotCache{
		cache:   gcache.New(opts.MaxConfigs).LRU().Expiration(opts.TTL).Clock(clk).Build(),
		maxRows: opts.MaxRows,
	}
}

// Annotate diffs rows against the previous snapshot by row index and stores rows as the new snapshot.
// Changed numeric cells render as "value（+delta）" or "value（-delta）".
// Returns: display rows; rows are returned unchanged on first sight.
func (c *SnapshotCache) Annotate(configID int64, rows []domain.Row) []domain.Row {
	previous := c.previous(configID)
	c.store(configID, rows)
	if len(previous) == 0 || len(rows) == 0 {
		return rows
	}

	display := make([]domain.Row, 0, len(rows))
	for i, row := range rows {
		if i >= len(previous) {
			display = append(display, row)
			continue
		}
		old := previous[i]
		out := domain.NewRow(row.Len())
		for _, column := range row.Columns() {
			current, _ := row.Get(column)
			before, ok := old.Get(column)
			if ok {
				if marked, changed := deltaMark(current, before); changed {
					out.Set(column, domain.String(marked))
					continue
				}
			}
			out.Set(column, current)
		}
		display = append(display, out)
	}
	return display
}

// Forget drops the snapshot of one config.
func (c *SnapshotCache) Forget(configID int64) {
	c.cache.Remove(configID)
}

func (c *SnapshotCache) previous(configID int64) []domain.Row {
	cached, err := c.cache.Get(configID)
	if err != nil {
		return nil
	}
	rows, _ := cached.([]domain.Row)
	return rows
}

func (c *SnapshotCache) store(configID int64, rows []domain.Row) {
	limit := len(rows)
	if limit > c.maxRows {
		limit = c.maxRows
	}
	snapshot := make([]domain.Row, 0, limit)
	for _, row := range rows[:limit] {
		snapshot = append(snapshot, row.Clone())
	}
	_ = c.cache.Set(configID, snapshot)
}

func deltaMark(current, before domain.Value) (string, bool) {
	if !current.IsNumber() || !before.IsNumber() {
		return "", false
	}
	now, err := decimal.NewFromString(current.String())
	if err != nil {
		return "", false
	}
	was, err := decimal.NewFromString(before.String())
	if err != nil {
		return "", false
	}
	diff := now.Sub(was)
	if diff.IsZero() {
		return "", false
	}
	sign := ""
	if diff.IsPositive() {
		sign = "+"
	}
	return current.String() + "（" + sign + diff.String() + "）", true
}
