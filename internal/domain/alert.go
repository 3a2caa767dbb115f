package domain

import (
	"strings"
	"time"
)

// AlertLevel is alert severity. Higher value is more severe.
type AlertLevel int

const (
	// AlertLevelInfo is informational severity.
	AlertLevelInfo AlertLevel = 1
	// AlertLevelWarning is default rule severity.
	AlertLevelWarning AlertLevel = 2
	// AlertLevelCritical is highest severity.
	AlertLevelCritical AlertLevel = 3
)

// String returns lower-case level name.
func (l AlertLevel) String() string {
	switch l {
	case AlertLevelInfo:
		return "info"
	case AlertLevelWarning:
		return "warning"
	case AlertLevelCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParseAlertLevel maps level name to AlertLevel.
// Params: case-insensitive name; empty means warning.
// Returns: level and true when known.
func ParseAlertLevel(value string) (AlertLevel, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "warning", "warn":
		return AlertLevelWarning, true
	case "info":
		return AlertLevelInfo, true
	case "critical":
		return AlertLevelCritical, true
	default:
		return 0, false
	}
}

// AlertStatus is operator-facing handling state of a current alert.
type AlertStatus string

const (
	// AlertStatusUnhandled is the state of newly created alerts.
	AlertStatusUnhandled AlertStatus = "unhandled"
	// AlertStatusInProgress marks alerts someone is working on.
	AlertStatusInProgress AlertStatus = "in_progress"
	// AlertStatusIgnored keeps the row through recovery sweeps.
	AlertStatusIgnored AlertStatus = "ignored"
	// AlertStatusRecovered is reserved for hosts that keep history.
	AlertStatusRecovered AlertStatus = "recovered"
)

// Valid reports whether status is known.
func (s AlertStatus) Valid() bool {
	switch s {
	case AlertStatusUnhandled, AlertStatusInProgress, AlertStatusIgnored, AlertStatusRecovered:
		return true
	default:
		return false
	}
}

// CurrentAlert is one active alert row. Identity is (RuleID, AlertKey).
// AlertKey nil is the single implicit slot of a single-value rule.
type CurrentAlert struct {
	ID         int64       `json:"id"`
	RuleID     int64       `json:"rule_id"`
	AlertKey   *string     `json:"alert_key,omitempty"`
	Message    string      `json:"message"`
	Level      AlertLevel  `json:"level"`
	Status     AlertStatus `json:"status"`
	FirstTime  time.Time   `json:"first_time"`
	LastTime   time.Time   `json:"last_time"`
	OccurCount int         `json:"occur_count"`
}

// IgnoredAlert suppresses re-creation of one (RuleID, AlertKey) slot.
type IgnoredAlert struct {
	ID        int64     `json:"id"`
	RuleID    int64     `json:"rule_id"`
	AlertKey  *string   `json:"alert_key,omitempty"`
	IgnoredAt time.Time `json:"ignored_at"`
	Reason    string    `json:"reason,omitempty"`
}

// SameKey compares nullable alert keys. nil only equals nil.
func SameKey(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// KeySlot converts nullable alert key into a comparable map key.
func KeySlot(key *string) AlertKeySlot {
	if key == nil {
		return AlertKeySlot{Null: true}
	}
	return AlertKeySlot{Value: *key}
}

// AlertKeySlot is comparable form of a nullable alert key.
type AlertKeySlot struct {
	Null  bool
	Value string
}

// StringKey returns pointer to key value for AlertKey fields.
func StringKey(value string) *string {
	return &value
}
