package domain

import (
	"strings"
	"time"
)

// SourceType selects where a rule or stat config reads data from.
type SourceType string

const (
	// SourceSQL reads rows from a configured database connection.
	SourceSQL SourceType = "sql"
	// SourceAPI reads one HTTP response.
	SourceAPI SourceType = "api"
)

// JudgeType is judgment cardinality.
type JudgeType string

const (
	// JudgeSingleValue compares one field per row against a threshold.
	JudgeSingleValue JudgeType = "single_value"
	// JudgeMultiRow turns every row into an alert.
	JudgeMultiRow JudgeType = "multi_row"
)

// JudgeLevel is which layer of an HTTP response is judged.
type JudgeLevel string

const (
	// JudgeRequest alerts on non-2xx status.
	JudgeRequest JudgeLevel = "request"
	// JudgeResponseText alerts on raw body contains / not-contains.
	JudgeResponseText JudgeLevel = "response_text"
	// JudgeJSONParse judges JSON object fields at data path.
	JudgeJSONParse JudgeLevel = "json_parse"
)

// Operator is comparison used by judgments.
type Operator string

const (
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpEqual        Operator = "=="
	OpNotEqual     Operator = "!="
	OpContains     Operator = "contains"
	OpNotContains  Operator = "not_contains"
)

// Numeric reports whether operator compares numbers.
func (o Operator) Numeric() bool {
	switch o {
	case OpGreater, OpGreaterEqual, OpLess, OpLessEqual, OpEqual, OpNotEqual:
		return true
	default:
		return false
	}
}

// Textual reports whether operator compares text.
func (o Operator) Textual() bool {
	return o == OpContains || o == OpNotContains
}

// ParseOperator normalizes operator spelling ("=" and "<>" are accepted).
func ParseOperator(value string) (Operator, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case ">":
		return OpGreater, true
	case ">=":
		return OpGreaterEqual, true
	case "<":
		return OpLess, true
	case "<=":
		return OpLessEqual, true
	case "==", "=":
		return OpEqual, true
	case "!=", "<>":
		return OpNotEqual, true
	case "contains":
		return OpContains, true
	case "not_contains", "notcontains", "not contains":
		return OpNotContains, true
	default:
		return "", false
	}
}

// DbType selects SQL driver for a connection.
type DbType string

const (
	DbMySQL     DbType = "mysql"
	DbSQLServer DbType = "sqlserver"
	DbSQLite    DbType = "sqlite"
	DbPostgres  DbType = "postgres"
)

// Defaults applied when rule/stat fields are left empty.
const (
	DefaultAPITimeout      = 30 * time.Second
	DefaultCronExpression  = "0 */5 * * * ?"
	DefaultRefreshInterval = 60 * time.Second
)

// DbConnection is a named database connection used by SQL sources.
type DbConnection struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	DbType  DbType `json:"db_type"`
	DSN     string `json:"-"`
	Enabled bool   `json:"enabled"`
}

// HTTPSource describes one HTTP request used by API rules and stats.
type HTTPSource struct {
	URL     string        `json:"api_url,omitempty"`
	Method  string        `json:"api_method,omitempty"`
	Headers string        `json:"api_headers,omitempty"`
	Body    string        `json:"api_body,omitempty"`
	Timeout time.Duration `json:"api_timeout,omitempty"`
}

// AlertRule is one user-defined check.
type AlertRule struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	Category     string     `json:"category,omitempty"`
	SourceType   SourceType `json:"source_type"`
	ConnectionID *int64     `json:"connection_id,omitempty"`
	SQLQuery     string     `json:"sql_query,omitempty"`
	HTTPSource

	JudgeLevel    JudgeLevel `json:"judge_level,omitempty"`
	DataPath      string     `json:"data_path,omitempty"`
	JudgeType     JudgeType  `json:"judge_type"`
	JudgeField    string     `json:"judge_field,omitempty"`
	JudgeOperator Operator   `json:"judge_operator,omitempty"`
	JudgeValue    string     `json:"judge_value,omitempty"`
	KeyField      string     `json:"key_field,omitempty"`

	Level           AlertLevel    `json:"level"`
	MessageTemplate string        `json:"message_template,omitempty"`
	CronExpression  string        `json:"cron_expression,omitempty"`
	Interval        time.Duration `json:"interval,omitempty"`
	FailThreshold   int           `json:"fail_threshold,omitempty"`
	Enabled         bool          `json:"enabled"`

	LastRunAt           *time.Time `json:"last_run_at,omitempty"`
	LastRunSuccess      *bool      `json:"last_run_success,omitempty"`
	LastRunResult       string     `json:"last_run_result,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
}

// StatConfig is one periodically refreshed statistics view.
type StatConfig struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	Category     string     `json:"category,omitempty"`
	SourceType   SourceType `json:"source_type"`
	ConnectionID *int64     `json:"connection_id,omitempty"`
	SQLQuery     string     `json:"sql_query,omitempty"`
	HTTPSource
	DataPath        string        `json:"data_path,omitempty"`
	RefreshInterval time.Duration `json:"refresh_interval"`
	SortOrder       int           `json:"sort_order"`
	Enabled         bool          `json:"enabled"`
}

// RunStatus is the bookkeeping written after each rule check.
type RunStatus struct {
	At      time.Time
	Success bool
	Result  string
}
