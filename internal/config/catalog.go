package config

import (
	"fmt"
	"strings"
	"time"

	"alertdesk/internal/domain"
	"alertdesk/internal/store"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ConnectionConfig describes one `[connection.<name>]` table.
type ConnectionConfig struct {
	Name    string `toml:"-"`
	ID      int64  `toml:"id"`
	DbType  string `toml:"db_type"`
	DSN     string `toml:"dsn"`
	Enabled *bool  `toml:"enabled"`
}

// RuleConfig describes one `[rule.<name>]` table.
// Params: source, judgment, severity, and schedule fields; connection referenced by name.
// Returns: seed definition converted to domain.AlertRule.
type RuleConfig struct {
	Name            string `toml:"-"`
	ID              int64  `toml:"id"`
	Category        string `toml:"category"`
	SourceType      string `toml:"source_type"`
	Connection      string `toml:"connection"`
	SQLQuery        string `toml:"sql_query"`
	APIURL          string `toml:"api_url"`
	APIMethod       string `toml:"api_method"`
	APIHeaders      string `toml:"api_headers"`
	APIBody         string `toml:"api_body"`
	APITimeoutSec   int    `toml:"api_timeout_sec"`
	JudgeLevel      string `toml:"judge_level"`
	DataPath        string `toml:"data_path"`
	JudgeType       string `toml:"judge_type"`
	JudgeField      string `toml:"judge_field"`
	JudgeOperator   string `toml:"judge_operator"`
	JudgeValue      string `toml:"judge_value"`
	KeyField        string `toml:"key_field"`
	Level           string `toml:"level"`
	MessageTemplate string `toml:"message_template"`
	Cron            string `toml:"cron"`
	IntervalSec     int    `toml:"interval_sec"`
	FailThreshold   int    `toml:"fail_threshold"`
	Enabled         *bool  `toml:"enabled"`
}

// StatConfig describes one `[stat.<name>]` table.
type StatConfig struct {
	Name               string `toml:"-"`
	ID                 int64  `toml:"id"`
	Category           string `toml:"category"`
	SourceType         string `toml:"source_type"`
	Connection         string `toml:"connection"`
	SQLQuery           string `toml:"sql_query"`
	APIURL             string `toml:"api_url"`
	APIMethod          string `toml:"api_method"`
	APIHeaders         string `toml:"api_headers"`
	APIBody            string `toml:"api_body"`
	APITimeoutSec      int    `toml:"api_timeout_sec"`
	DataPath           string `toml:"data_path"`
	RefreshIntervalSec int    `toml:"refresh_interval_sec"`
	SortOrder          int    `toml:"sort_order"`
	Enabled            *bool  `toml:"enabled"`
}

// ParseCron parses a rule schedule; 5- or 6-field expressions and `?` are accepted.
func ParseCron(expr string) (cron.Schedule, error) {
	return cronParser.Parse(strings.TrimSpace(expr))
}

func enabledOr(flag *bool) bool {
	return flag == nil || *flag
}

// assignCatalogIDs fills missing ids after the largest explicit id, in merged table order.
func assignCatalogIDs(cfg *Config) {
	next := maxID(cfg.Connection, func(c ConnectionConfig) int64 { return c.ID })
	for i := range cfg.Connection {
		if cfg.Connection[i].ID == 0 {
			next++
			cfg.Connection[i].ID = next
		}
	}
	next = maxID(cfg.Rule, func(r RuleConfig) int64 { return r.ID })
	for i := range cfg.Rule {
		if cfg.Rule[i].ID == 0 {
			next++
			cfg.Rule[i].ID = next
		}
	}
	next = maxID(cfg.Stat, func(s StatConfig) int64 { return s.ID })
	for i := range cfg.Stat {
		if cfg.Stat[i].ID == 0 {
			next++
			cfg.Stat[i].ID = next
		}
	}
}

func maxID[T any](items []T, id func(T) int64) int64 {
	var out int64
	for _, item := range items {
		if v := id(item); v > out {
			out = v
		}
	}
	return out
}

// validateCatalog rejects duplicates and malformed seed definitions by converting them.
func validateCatalog(cfg Config) error {
	_, err := cfg.Seed()
	return err
}

// Seed converts catalog tables to domain entities.
// Params: validated or raw config; connection references resolve by name.
// Returns: seed data or first conversion error.
func (c Config) Seed() (store.SeedData, error) {
	var out store.SeedData
	connIDs := make(map[string]int64, len(c.Connection))
	seenIDs := make(map[int64]string, len(c.Connection))
	for _, item := range c.Connection {
		path := "connection." + item.Name
		if _, ok := connIDs[item.Name]; ok {
			return store.SeedData{}, fmt.Errorf("duplicate connection name %q", item.Name)
		}
		if other, ok := seenIDs[item.ID]; ok {
			return store.SeedData{}, fmt.Errorf("%s.id %d duplicates connection.%s", path, item.ID, other)
		}
		dbType := domain.DbType(strings.ToLower(strings.TrimSpace(item.DbType)))
		switch dbType {
		case domain.DbMySQL, domain.DbSQLServer, domain.DbSQLite, domain.DbPostgres:
		default:
			return store.SeedData{}, fmt.Errorf("%s.db_type has unsupported value %q", path, item.DbType)
		}
		if strings.TrimSpace(item.DSN) == "" {
			return store.SeedData{}, fmt.Errorf("%s.dsn is required", path)
		}
		connIDs[item.Name] = item.ID
		seenIDs[item.ID] = item.Name
		out.Connections = append(out.Connections, domain.DbConnection{
			ID:      item.ID,
			Name:    item.Name,
			DbType:  dbType,
			DSN:     item.DSN,
			Enabled: enabledOr(item.Enabled),
		})
	}

	ruleNames := make(map[string]struct{}, len(c.Rule))
	ruleIDs := make(map[int64]string, len(c.Rule))
	for _, item := range c.Rule {
		if _, ok := ruleNames[item.Name]; ok {
			return store.SeedData{}, fmt.Errorf("duplicate rule name %q", item.Name)
		}
		if other, ok := ruleIDs[item.ID]; ok {
			return store.SeedData{}, fmt.Errorf("rule.%s.id %d duplicates rule.%s", item.Name, item.ID, other)
		}
		ruleNames[item.Name] = struct{}{}
		ruleIDs[item.ID] = item.Name
		rule, err := item.toDomain(connIDs)
		if err != nil {
			return store.SeedData{}, err
		}
		out.Rules = append(out.Rules, rule)
	}

	statNames := make(map[string]struct{}, len(c.Stat))
	statIDs := make(map[int64]string, len(c.Stat))
	for _, item := range c.Stat {
		if _, ok := statNames[item.Name]; ok {
			return store.SeedData{}, fmt.Errorf("duplicate stat name %q", item.Name)
		}
		if other, ok := statIDs[item.ID]; ok {
			return store.SeedData{}, fmt.Errorf("stat.%s.id %d duplicates stat.%s", item.Name, item.ID, other)
		}
		statNames[item.Name] = struct{}{}
		statIDs[item.ID] = item.Name
		stat, err := item.toDomain(connIDs)
		if err != nil {
			return store.SeedData{}, err
		}
		out.Stats = append(out.Stats, stat)
	}
	return out, nil
}

// resolveSource validates source type and its connection or URL.
func resolveSource(path, sourceType, connection, query, url string, connIDs map[string]int64) (domain.SourceType, *int64, error) {
	kind := domain.SourceType(strings.ToLower(strings.TrimSpace(sourceType)))
	if kind == "" {
		kind = domain.SourceSQL
	}
	switch kind {
	case domain.SourceSQL:
		id, ok := connIDs[connection]
		if !ok {
			return "", nil, fmt.Errorf("%s.connection references unknown connection %q", path, connection)
		}
		if strings.TrimSpace(query) == "" {
			return "", nil, fmt.Errorf("%s.sql_query is required", path)
		}
		return kind, domain.Target(id), nil
	case domain.SourceAPI:
		if strings.TrimSpace(url) == "" {
			return "", nil, fmt.Errorf("%s.api_url is required", path)
		}
		return kind, nil, nil
	default:
		return "", nil, fmt.Errorf("%s.source_type has unsupported value %q", path, sourceType)
	}
}

func httpSource(url, method, headers, body string, timeoutSec int) domain.HTTPSource {
	timeout := domain.DefaultAPITimeout
	if timeoutSec > 0 {
		timeout = time.Duration(timeoutSec) * time.Second
	}
	return domain.HTTPSource{URL: url, Method: method, Headers: headers, Body: body, Timeout: timeout}
}

func (r RuleConfig) toDomain(connIDs map[string]int64) (domain.AlertRule, error) {
	path := "rule." + r.Name
	kind, connID, err := resolveSource(path, r.SourceType, r.Connection, r.SQLQuery, r.APIURL, connIDs)
	if err != nil {
		return domain.AlertRule{}, err
	}

	judgeType := domain.JudgeType(strings.ToLower(strings.TrimSpace(r.JudgeType)))
	switch judgeType {
	case "":
		judgeType = domain.JudgeSingleValue
	case domain.JudgeSingleValue, domain.JudgeMultiRow:
	default:
		return domain.AlertRule{}, fmt.Errorf("%s.judge_type has unsupported value %q", path, r.JudgeType)
	}

	var judgeLevel domain.JudgeLevel
	if kind == domain.SourceAPI {
		judgeLevel = domain.JudgeLevel(strings.ToLower(strings.TrimSpace(r.JudgeLevel)))
		switch judgeLevel {
		case "":
			judgeLevel = domain.JudgeRequest
		case domain.JudgeRequest, domain.JudgeResponseText, domain.JudgeJSONParse:
		default:
			return domain.AlertRule{}, fmt.Errorf("%s.judge_level has unsupported value %q", path, r.JudgeLevel)
		}
	}

	var op domain.Operator
	if strings.TrimSpace(r.JudgeOperator) != "" {
		parsed, ok := domain.ParseOperator(r.JudgeOperator)
		if !ok {
			return domain.AlertRule{}, fmt.Errorf("%s.judge_operator has unsupported value %q", path, r.JudgeOperator)
		}
		op = parsed
	}
	needsOperator := judgeType == domain.JudgeSingleValue && (kind == domain.SourceSQL || judgeLevel == domain.JudgeJSONParse)
	if needsOperator {
		if strings.TrimSpace(r.JudgeField) == "" {
			return domain.AlertRule{}, fmt.Errorf("%s.judge_field is required for single_value judgment", path)
		}
		if op == "" {
			return domain.AlertRule{}, fmt.Errorf("%s.judge_operator is required for single_value judgment", path)
		}
	}
	if judgeLevel == domain.JudgeResponseText && !op.Textual() {
		return domain.AlertRule{}, fmt.Errorf("%s.judge_operator must be contains or not_contains for response_text", path)
	}

	level, ok := domain.ParseAlertLevel(r.Level)
	if !ok {
		return domain.AlertRule{}, fmt.Errorf("%s.level has unsupported value %q", path, r.Level)
	}

	expr := strings.TrimSpace(r.Cron)
	if expr == "" && r.IntervalSec <= 0 {
		expr = domain.DefaultCronExpression
	}
	if expr != "" {
		if _, err := ParseCron(expr); err != nil {
			return domain.AlertRule{}, fmt.Errorf("%s.cron is invalid: %w", path, err)
		}
	}
	if r.IntervalSec < 0 {
		return domain.AlertRule{}, fmt.Errorf("%s.interval_sec must be >=0", path)
	}

	rule := domain.AlertRule{
		ID:              r.ID,
		Name:            r.Name,
		Category:        r.Category,
		SourceType:      kind,
		ConnectionID:    connID,
		SQLQuery:        r.SQLQuery,
		JudgeLevel:      judgeLevel,
		DataPath:        r.DataPath,
		JudgeType:       judgeType,
		JudgeField:      r.JudgeField,
		JudgeOperator:   op,
		JudgeValue:      r.JudgeValue,
		KeyField:        r.KeyField,
		Level:           level,
		MessageTemplate: r.MessageTemplate,
		CronExpression:  expr,
		Interval:        time.Duration(r.IntervalSec) * time.Second,
		FailThreshold:   r.FailThreshold,
		Enabled:         enabledOr(r.Enabled),
	}
	if kind == domain.SourceAPI {
		rule.HTTPSource = httpSource(r.APIURL, r.APIMethod, r.APIHeaders, r.APIBody, r.APITimeoutSec)
	}
	return rule, nil
}

func (s StatConfig) toDomain(connIDs map[string]int64) (domain.StatConfig, error) {
	path := "stat." + s.Name
	kind, connID, err := resolveSource(path, s.SourceType, s.Connection, s.SQLQuery, s.APIURL, connIDs)
	if err != nil {
		return domain.StatConfig{}, err
	}
	if s.RefreshIntervalSec < 0 {
		return domain.StatConfig{}, fmt.Errorf("%s.refresh_interval_sec must be >=0", path)
	}
	interval := domain.DefaultRefreshInterval
	if s.RefreshIntervalSec > 0 {
		interval = time.Duration(s.RefreshIntervalSec) * time.Second
	}
	stat := domain.StatConfig{
		ID:              s.ID,
		Name:            s.Name,
		Category:        s.Category,
		SourceType:      kind,
		ConnectionID:    connID,
		SQLQuery:        s.SQLQuery,
		DataPath:        s.DataPath,
		RefreshInterval: interval,
		SortOrder:       s.SortOrder,
		Enabled:         enabledOr(s.Enabled),
	}
	if kind == domain.SourceAPI {
		stat.HTTPSource = httpSource(s.APIURL, s.APIMethod, s.APIHeaders, s.APIBody, s.APITimeoutSec)
	}
	return stat, nil
}
