package store

import (
	"context"
	"sort"
	"sync"

	"alertdesk/internal/domain"
)

// MemoryStore keeps catalog and alert state in process memory.
// Params: in-memory maps guarded by one RWMutex.
// Returns: store implementation without external dependencies.
type MemoryStore struct {
	mu          sync.RWMutex
	rules       map[int64]domain.AlertRule
	connections map[int64]domain.DbConnection
	stats       map[int64]domain.StatConfig
	alerts      map[alertSlot]domain.CurrentAlert
	ignored     map[alertSlot]domain.IgnoredAlert
	nextAlertID int64
	nextIgnore  int64
}

type alertSlot struct {
	ruleID int64
	key    domain.AlertKeySlot
}

func slotOf(ruleID int64, key *string) alertSlot {
	return alertSlot{ruleID: ruleID, key: domain.KeySlot(key)}
}

// NewMemoryStore creates empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rules:       make(map[int64]domain.AlertRule),
		connections: make(map[int64]domain.DbConnection),
		stats:       make(map[int64]domain.StatConfig),
		alerts:      make(map[alertSlot]domain.CurrentAlert),
		ignored:     make(map[alertSlot]domain.IgnoredAlert),
	}
}

// GetRule returns rule by id.
func (s *MemoryStore) GetRule(_ context.Context, id int64) (domain.AlertRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rule, ok := s.rules[id]
	if !ok {
		return domain.AlertRule{}, ErrNotFound
	}
	return rule, nil
}

// ListRules returns all rules ordered by id.
func (s *MemoryStore) ListRules(_ context.Context) ([]domain.AlertRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.AlertRule, 0, len(s.rules))
	for _, rule := range s.rules {
		out = append(out, rule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// RecordRun writes run status; success resets the failure counter, failure increments it.
func (s *MemoryStore) RecordRun(_ context.Context, ruleID int64, status domain.RunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule, ok := s.rules[ruleID]
	if !ok {
		return ErrNotFound
	}
	at := status.At
	success := status.Success
	rule.LastRunAt = &at
	rule.LastRunSuccess = &success
	rule.LastRunResult = status.Result
	if success {
		rule.ConsecutiveFailures = 0
	} else {
		rule.ConsecutiveFailures++
	}
	s.rules[ruleID] = rule
	return nil
}

// PutRule inserts or replaces rule.
func (s *MemoryStore) PutRule(_ context.Context, rule domain.AlertRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[rule.ID] = rule
	return nil
}

// DeleteRule removes rule with its current alerts and ignore entries.
func (s *MemoryStore) DeleteRule(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rules, id)
	for slot := range s.alerts {
		if slot.ruleID == id {
			delete(s.alerts, slot)
		}
	}
	for slot := range s.ignored {
		if slot.ruleID == id {
			delete(s.ignored, slot)
		}
	}
	return nil
}

// GetConnection returns connection by id.
func (s *MemoryStore) GetConnection(_ context.Context, id int64) (domain.DbConnection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conn, ok := s.connections[id]
	if !ok {
		return domain.DbConnection{}, ErrNotFound
	}
	return conn, nil
}

// PutConnection inserts or replaces connection.
func (s *MemoryStore) PutConnection(_ context.Context, conn domain.DbConnection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connections[conn.ID] = conn
	return nil
}

// GetStatConfig returns stat config by id.
func (s *MemoryStore) GetStatConfig(_ context.Context, id int64) (domain.StatConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stat, ok := s.stats[id]
	if !ok {
		return domain.StatConfig{}, ErrNotFound
	}
	return stat, nil
}

// ListStatConfigs returns all stat configs ordered by id.
func (s *MemoryStore) ListStatConfigs(_ context.Context) ([]domain.StatConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.StatConfig, 0, len(s.stats))
	for _, stat := range s.stats {
		out = append(out, stat)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// PutStatConfig inserts or replaces stat config.
func (s *MemoryStore) PutStatConfig(_ context.Context, stat domain.StatConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats[stat.ID] = stat
	return nil
}

// UpsertAlert merges one detection into the (ruleID, alertKey) slot.
func (s *MemoryStore) UpsertAlert(_ context.Context, alert domain.CurrentAlert) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot := slotOf(alert.RuleID, alert.AlertKey)
	if existing, ok := s.alerts[slot]; ok {
		existing.OccurCount++
		existing.Message = alert.Message
		existing.Level = alert.Level
		existing.LastTime = alert.LastTime
		s.alerts[slot] = existing
		return false, nil
	}
	s.nextAlertID++
	alert.ID = s.nextAlertID
	alert.OccurCount = 1
	if alert.Status == "" {
		alert.Status = domain.AlertStatusUnhandled
	}
	if alert.FirstTime.IsZero() {
		alert.FirstTime = alert.LastTime
	}
	s.alerts[slot] = alert
	return true, nil
}

// ListAlerts returns all current alerts ordered for display.
func (s *MemoryStore) ListAlerts(_ context.Context) ([]domain.CurrentAlert, error) {
	s.mu.RLock()
	out := make([]domain.CurrentAlert, 0, len(s.alerts))
	for _, alert := range s.alerts {
		out = append(out, alert)
	}
	s.mu.RUnlock()
	SortAlerts(out)
	return out, nil
}

// ListAlertsByRule returns one rule's current alerts.
func (s *MemoryStore) ListAlertsByRule(_ context.Context, ruleID int64) ([]domain.CurrentAlert, error) {
	s.mu.RLock()
	out := make([]domain.CurrentAlert, 0)
	for slot, alert := range s.alerts {
		if slot.ruleID == ruleID {
			out = append(out, alert)
		}
	}
	s.mu.RUnlock()
	SortAlerts(out)
	return out, nil
}

// DeleteAlert removes one slot; missing slot is not an error.
func (s *MemoryStore) DeleteAlert(_ context.Context, ruleID int64, key *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.alerts, slotOf(ruleID, key))
	return nil
}

// SetAlertStatus changes handling status of one slot.
func (s *MemoryStore) SetAlertStatus(_ context.Context, ruleID int64, key *string, status domain.AlertStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot := slotOf(ruleID, key)
	alert, ok := s.alerts[slot]
	if !ok {
		return ErrNotFound
	}
	alert.Status = status
	s.alerts[slot] = alert
	return nil
}

// IsIgnored reports whether slot is on the ignore list.
func (s *MemoryStore) IsIgnored(_ context.Context, ruleID int64, key *string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ignored[slotOf(ruleID, key)]
	return ok, nil
}

// Ignore adds slot to the ignore list (idempotent, refreshes reason).
func (s *MemoryStore) Ignore(_ context.Context, item domain.IgnoredAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot := slotOf(item.RuleID, item.AlertKey)
	if existing, ok := s.ignored[slot]; ok {
		item.ID = existing.ID
	} else {
		s.nextIgnore++
		item.ID = s.nextIgnore
	}
	s.ignored[slot] = item
	return nil
}

// Unignore removes slot from the ignore list.
func (s *MemoryStore) Unignore(_ context.Context, ruleID int64, key *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ignored, slotOf(ruleID, key))
	return nil
}

// ListIgnored returns ignore entries ordered by id.
func (s *MemoryStore) ListIgnored(_ context.Context) ([]domain.IgnoredAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.IgnoredAlert, 0, len(s.ignored))
	for _, item := range s.ignored {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Close releases memory store resources.
func (s *MemoryStore) Close() error {
	return nil
}
