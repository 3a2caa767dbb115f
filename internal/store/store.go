package store

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"sort"

	"alertdesk/internal/domain"
)

var (
	// ErrNotFound indicates absent entity.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates revision mismatch for CAS update.
	ErrConflict = errors.New("revision conflict")
)

// Catalog reads rule/connection/stat definitions and records rule run status.
type Catalog interface {
	GetRule(ctx context.Context, id int64) (domain.AlertRule, error)
	ListRules(ctx context.Context) ([]domain.AlertRule, error)
	RecordRun(ctx context.Context, ruleID int64, status domain.RunStatus) error
	GetConnection(ctx context.Context, id int64) (domain.DbConnection, error)
	GetStatConfig(ctx context.Context, id int64) (domain.StatConfig, error)
	ListStatConfigs(ctx context.Context) ([]domain.StatConfig, error)
}

// CatalogWriter mutates definitions; used by seeding and rule editing.
type CatalogWriter interface {
	PutRule(ctx context.Context, rule domain.AlertRule) error
	DeleteRule(ctx context.Context, id int64) error
	PutConnection(ctx context.Context, conn domain.DbConnection) error
	PutStatConfig(ctx context.Context, stat domain.StatConfig) error
}

// CatalogStore is a readable and writable catalog.
type CatalogStore interface {
	Catalog
	CatalogWriter
}

// AlertStore persists current alerts keyed by (ruleID, alertKey).
// Every method is individually atomic.
type AlertStore interface {
	// UpsertAlert increments OccurCount and refreshes Message/Level/LastTime of an
	// existing row, or inserts OccurCount=1 Status=unhandled. Returns true on insert.
	UpsertAlert(ctx context.Context, alert domain.CurrentAlert) (bool, error)
	ListAlerts(ctx context.Context) ([]domain.CurrentAlert, error)
	ListAlertsByRule(ctx context.Context, ruleID int64) ([]domain.CurrentAlert, error)
	DeleteAlert(ctx context.Context, ruleID int64, key *string) error
	SetAlertStatus(ctx context.Context, ruleID int64, key *string, status domain.AlertStatus) error
}

// IgnoreStore tracks (ruleID, alertKey) slots suppressed by the user.
type IgnoreStore interface {
	IsIgnored(ctx context.Context, ruleID int64, key *string) (bool, error)
	Ignore(ctx context.Context, item domain.IgnoredAlert) error
	Unignore(ctx context.Context, ruleID int64, key *string) error
	ListIgnored(ctx context.Context) ([]domain.IgnoredAlert, error)
}

// Store is the full repository surface used by the service.
type Store interface {
	CatalogStore
	AlertStore
	IgnoreStore
	Close() error
}

// EnabledRules returns enabled rules ordered by id.
func EnabledRules(ctx context.Context, catalog Catalog) ([]domain.AlertRule, error) {
	rules, err := catalog.ListRules(ctx)
	if err != nil {
		return nil, err
	}
	out := rules[:0]
	for _, rule := range rules {
		if rule.Enabled {
			out = append(out, rule)
		}
	}
	return out, nil
}

// EnabledStatConfigs returns enabled stat configs ordered by sort order then id.
func EnabledStatConfigs(ctx context.Context, catalog Catalog) ([]domain.StatConfig, error) {
	stats, err := catalog.ListStatConfigs(ctx)
	if err != nil {
		return nil, err
	}
	out := stats[:0]
	for _, stat := range stats {
		if stat.Enabled {
			out = append(out, stat)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// SortAlerts orders by level desc, last time desc, id asc.
func SortAlerts(alerts []domain.CurrentAlert) {
	sort.SliceStable(alerts, func(i, j int) bool {
		if alerts[i].Level != alerts[j].Level {
			return alerts[i].Level > alerts[j].Level
		}
		if !alerts[i].LastTime.Equal(alerts[j].LastTime) {
			return alerts[i].LastTime.After(alerts[j].LastTime)
		}
		return alerts[i].ID < alerts[j].ID
	})
}

// slotHash encodes nullable key into fixed-width index column / KV key token.
func slotHash(key *string) string {
	var sum [sha1.Size]byte
	if key == nil {
		sum = sha1.Sum([]byte{0})
	} else {
		sum = sha1.Sum([]byte("k:" + *key))
	}
	return hex.EncodeToString(sum[:])
}

// Composite joins a catalog with separate alert and ignore backends.
type Composite struct {
	CatalogStore
	AlertStore
	IgnoreStore
	closers []func() error
}

// NewComposite builds store from parts; closers run in order on Close.
func NewComposite(catalog CatalogStore, alerts AlertStore, ignores IgnoreStore, closers ...func() error) *Composite {
	return &Composite{CatalogStore: catalog, AlertStore: alerts, IgnoreStore: ignores, closers: closers}
}

// Close runs closers and returns first error.
func (c *Composite) Close() error {
	var firstErr error
	for _, closeFn := range c.closers {
		if closeFn == nil {
			continue
		}
		if err := closeFn(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
