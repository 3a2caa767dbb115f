package store

import (
	"context"
	"fmt"

	"alertdesk/internal/domain"
)

// SeedData is catalog content loaded from configuration.
type SeedData struct {
	Connections []domain.DbConnection
	Rules       []domain.AlertRule
	Stats       []domain.StatConfig
}

// Seed writes connections, then rules, then stat configs.
// Rules already in the catalog keep their run-status bookkeeping.
// Params: writable catalog and seed content.
// Returns: first write error.
func Seed(ctx context.Context, catalog CatalogStore, seed SeedData) error {
	for _, conn := range seed.Connections {
		if err := catalog.PutConnection(ctx, conn); err != nil {
			return fmt.Errorf("seed connection %q: %w", conn.Name, err)
		}
	}
	for _, rule := range seed.Rules {
		if existing, err := catalog.GetRule(ctx, rule.ID); err == nil {
			rule.LastRunAt = existing.LastRunAt
			rule.LastRunSuccess = existing.LastRunSuccess
			rule.LastRunResult = existing.LastRunResult
			rule.ConsecutiveFailures = existing.ConsecutiveFailures
		}
		if err := catalog.PutRule(ctx, rule); err != nil {
			return fmt.Errorf("seed rule %q: %w", rule.Name, err)
		}
	}
	for _, stat := range seed.Stats {
		if err := catalog.PutStatConfig(ctx, stat); err != nil {
			return fmt.Errorf("seed stat %q: %w", stat.Name, err)
		}
	}
	return nil
}
