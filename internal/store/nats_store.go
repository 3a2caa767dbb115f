package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"alertdesk/internal/domain"

	"github.com/nats-io/nats.go"
)

const natsUpsertAttempts = 8

// NATSOptions selects JetStream KV buckets for alert state.
type NATSOptions struct {
	URL                []string
	AlertBucket        string
	IgnoreBucket       string
	AllowCreateBuckets bool
}

// NATSAlertStore persists current alerts and the ignore list in JetStream KV buckets.
// Keys are "rule.<ruleID>.<slotHash>"; updates use revision CAS.
type NATSAlertStore struct {
	nc       *nats.Conn
	alertKV  nats.KeyValue
	ignoreKV nats.KeyValue
}

// NewNATSAlertStore connects and opens (or creates) KV buckets.
// Params: NATS URLs and bucket settings.
// Returns: initialized store or setup error.
func NewNATSAlertStore(opts NATSOptions) (*NATSAlertStore, error) {
	nc, err := nats.Connect(strings.Join(opts.URL, ","))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}
	alertKV, err := openBucket(js, opts.AlertBucket, opts.AllowCreateBuckets)
	if err != nil {
		nc.Close()
		return nil, err
	}
	ignoreKV, err := openBucket(js, opts.IgnoreBucket, opts.AllowCreateBuckets)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return &NATSAlertStore{nc: nc, alertKV: alertKV, ignoreKV: ignoreKV}, nil
}

func openBucket(js nats.JetStreamContext, bucket string, allowCreate bool) (nats.KeyValue, error) {
	kv, err := js.KeyValue(bucket)
	if err == nil {
		return kv, nil
	}
	if !allowCreate {
		return nil, fmt.Errorf("open bucket %q: %w", bucket, err)
	}
	kv, err = js.CreateKeyValue(&nats.KeyValueConfig{Bucket: bucket})
	if err != nil {
		return nil, fmt.Errorf("create bucket %q: %w", bucket, err)
	}
	return kv, nil
}

func natsKey(ruleID int64, key *string) string {
	return rulePrefix(ruleID) + slotHash(key)
}

func rulePrefix(ruleID int64) string {
	return "rule." + strconv.FormatInt(ruleID, 10) + "."
}

func isConflict(err error) bool {
	return errors.Is(err, nats.ErrKeyExists) || strings.Contains(strings.ToLower(err.Error()), "wrong last sequence")
}

// UpsertAlert merges one detection with Create / Update(revision) retries.
func (s *NATSAlertStore) UpsertAlert(_ context.Context, alert domain.CurrentAlert) (bool, error) {
	key := natsKey(alert.RuleID, alert.AlertKey)
	for attempt := 0; attempt < natsUpsertAttempts; attempt++ {
		entry, err := s.alertKV.Get(key)
		if errors.Is(err, nats.ErrKeyNotFound) {
			fresh := alert
			fresh.OccurCount = 1
			if fresh.Status == "" {
				fresh.Status = domain.AlertStatusUnhandled
			}
			if fresh.FirstTime.IsZero() {
				fresh.FirstTime = fresh.LastTime
			}
			body, err := json.Marshal(fresh)
			if err != nil {
				return false, fmt.Errorf("encode alert: %w", err)
			}
			if _, err := s.alertKV.Create(key, body); err != nil {
				if isConflict(err) {
					continue
				}
				return false, fmt.Errorf("create alert: %w", err)
			}
			return true, nil
		}
		if err != nil {
			return false, fmt.Errorf("get alert: %w", err)
		}

		var existing domain.CurrentAlert
		if err := json.Unmarshal(entry.Value(), &existing); err != nil {
			return false, fmt.Errorf("decode alert: %w", err)
		}
		existing.OccurCount++
		existing.Message = alert.Message
		existing.Level = alert.Level
		existing.LastTime = alert.LastTime
		body, err := json.Marshal(existing)
		if err != nil {
			return false, fmt.Errorf("encode alert: %w", err)
		}
		if _, err := s.alertKV.Update(key, body, entry.Revision()); err != nil {
			if isConflict(err) {
				continue
			}
			return false, fmt.Errorf("update alert: %w", err)
		}
		return false, nil
	}
	return false, fmt.Errorf("upsert alert %s: %w", key, ErrConflict)
}

func (s *NATSAlertStore) listByPrefix(prefix string) ([]domain.CurrentAlert, error) {
	keys, err := s.alertKV.Keys()
	if err != nil {
		if errors.Is(err, nats.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list keys: %w", err)
	}
	out := make([]domain.CurrentAlert, 0, len(keys))
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		entry, err := s.alertKV.Get(key)
		if err != nil {
			if errors.Is(err, nats.ErrKeyNotFound) {
				continue
			}
			return nil, fmt.Errorf("get alert: %w", err)
		}
		var alert domain.CurrentAlert
		if err := json.Unmarshal(entry.Value(), &alert); err != nil {
			return nil, fmt.Errorf("decode alert %s: %w", key, err)
		}
		out = append(out, alert)
	}
	SortAlerts(out)
	return out, nil
}

// ListAlerts returns all current alerts ordered for display.
func (s *NATSAlertStore) ListAlerts(_ context.Context) ([]domain.CurrentAlert, error) {
	return s.listByPrefix("rule.")
}

// ListAlertsByRule returns one rule's current alerts.
func (s *NATSAlertStore) ListAlertsByRule(_ context.Context, ruleID int64) ([]domain.CurrentAlert, error) {
	return s.listByPrefix(rulePrefix(ruleID))
}

// DeleteAlert removes one slot.
func (s *NATSAlertStore) DeleteAlert(_ context.Context, ruleID int64, key *string) error {
	if err := s.alertKV.Delete(natsKey(ruleID, key)); err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
		return fmt.Errorf("delete alert: %w", err)
	}
	return nil
}

// SetAlertStatus changes handling status with CAS.
func (s *NATSAlertStore) SetAlertStatus(_ context.Context, ruleID int64, key *string, status domain.AlertStatus) error {
	kvKey := natsKey(ruleID, key)
	for attempt := 0; attempt < natsUpsertAttempts; attempt++ {
		entry, err := s.alertKV.Get(kvKey)
		if err != nil {
			if errors.Is(err, nats.ErrKeyNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("get alert: %w", err)
		}
		var alert domain.CurrentAlert
		if err := json.Unmarshal(entry.Value(), &alert); err != nil {
			return fmt.Errorf("decode alert: %w", err)
		}
		alert.Status = status
		body, err := json.Marshal(alert)
		if err != nil {
			return fmt.Errorf("encode alert: %w", err)
		}
		if _, err := s.alertKV.Update(kvKey, body, entry.Revision()); err != nil {
			if isConflict(err) {
				continue
			}
			return fmt.Errorf("update alert: %w", err)
		}
		return nil
	}
	return ErrConflict
}

// IsIgnored reports whether slot is on the ignore list.
func (s *NATSAlertStore) IsIgnored(_ context.Context, ruleID int64, key *string) (bool, error) {
	if _, err := s.ignoreKV.Get(natsKey(ruleID, key)); err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("get ignored: %w", err)
	}
	return true, nil
}

// Ignore writes ignore entry unconditionally.
func (s *NATSAlertStore) Ignore(_ context.Context, item domain.IgnoredAlert) error {
	body, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode ignored: %w", err)
	}
	if _, err := s.ignoreKV.Put(natsKey(item.RuleID, item.AlertKey), body); err != nil {
		return fmt.Errorf("put ignored: %w", err)
	}
	return nil
}

// Unignore removes ignore entry.
func (s *NATSAlertStore) Unignore(_ context.Context, ruleID int64, key *string) error {
	if err := s.ignoreKV.Delete(natsKey(ruleID, key)); err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
		return fmt.Errorf("delete ignored: %w", err)
	}
	return nil
}

// ListIgnored returns all ignore entries.
func (s *NATSAlertStore) ListIgnored(_ context.Context) ([]domain.IgnoredAlert, error) {
	keys, err := s.ignoreKV.Keys()
	if err != nil {
		if errors.Is(err, nats.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list ignored keys: %w", err)
	}
	out := make([]domain.IgnoredAlert, 0, len(keys))
	for _, key := range keys {
		entry, err := s.ignoreKV.Get(key)
		if err != nil {
			if errors.Is(err, nats.ErrKeyNotFound) {
				continue
			}
			return nil, fmt.Errorf("get ignored: %w", err)
		}
		var item domain.IgnoredAlert
		if err := json.Unmarshal(entry.Value(), &item); err != nil {
			return nil, fmt.Errorf("decode ignored %s: %w", key, err)
		}
		out = append(out, item)
	}
	return out, nil
}

// Close closes underlying NATS connection.
func (s *NATSAlertStore) Close() error {
	s.nc.Close()
	return nil
}
