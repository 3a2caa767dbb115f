package domain

import "time"

// AlertTuple is one evaluator output: alert key, rendered message and raw row JSON.
type AlertTuple struct {
	Key     *string
	Message string
	RawData string
}

// AlertCheckResult is RuleCheck completion payload.
type AlertCheckResult struct {
	RuleID         int64     `json:"rule_id"`
	RuleName       string    `json:"rule_name"`
	AlertCount     int       `json:"alert_count"`
	NewAlertCount  int       `json:"new_alert_count"`
	RecoveredCount int       `json:"recovered_count"`
	HasNewAlert    bool      `json:"has_new_alert"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// AlertView is a current alert joined with its rule.
type AlertView struct {
	CurrentAlert
	RuleName string `json:"rule_name"`
	Category string `json:"category,omitempty"`
}

// AlertListResult is AlertListRefresh completion payload.
type AlertListResult struct {
	Alerts        []AlertView `json:"alerts"`
	CriticalCount int         `json:"critical_count"`
	WarningCount  int         `json:"warning_count"`
	InfoCount     int         `json:"info_count"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// StatRefreshResult is StatRefresh completion payload.
// DisplayRows mirror Rows with changed numeric cells rendered as "value（+delta）".
type StatRefreshResult struct {
	StatConfigID int64     `json:"stat_config_id"`
	Name         string    `json:"name"`
	Columns      []string  `json:"columns"`
	Rows         []Row     `json:"rows"`
	DisplayRows  []Row     `json:"display_rows"`
	UpdatedAt    time.Time `json:"updated_at"`
}
