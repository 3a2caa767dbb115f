package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"alertdesk/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// Supported relational repository drivers.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// SQLStore persists catalog and alert state through gorm.
type SQLStore struct {
	db *gorm.DB
}

type connectionRecord struct {
	ID               int64  `gorm:"primaryKey"`
	Name             string `gorm:"size:100;not null"`
	DbType           string `gorm:"size:20;not null"`
	ConnectionString string `gorm:"size:1000;not null"`
	Enabled          bool
}

func (connectionRecord) TableName() string { return "db_connections" }

type ruleRecord struct {
	ID               int64  `gorm:"primaryKey"`
	Name             string `gorm:"size:200;not null"`
	Category         string `gorm:"size:100"`
	SourceType       string `gorm:"size:10;not null"`
	DbConnectionID   *int64
	SQLQuery         string `gorm:"column:sql_query;type:text"`
	APIURL           string `gorm:"column:api_url;size:1000"`
	APIMethod        string `gorm:"column:api_method;size:10"`
	APIHeaders       string `gorm:"column:api_headers;type:text"`
	APIBody          string `gorm:"column:api_body;type:text"`
	APITimeoutSec    int    `gorm:"column:api_timeout_sec"`
	JudgeLevel       string `gorm:"size:20"`
	DataPath         string `gorm:"size:500"`
	JudgeType        string `gorm:"size:20"`
	JudgeField       string `gorm:"size:200"`
	JudgeOperator    string `gorm:"size:20"`
	JudgeValue       string `gorm:"size:500"`
	KeyField         string `gorm:"size:200"`
	AlertLevel       int
	MessageTemplate  string `gorm:"type:text"`
	CronExpression   string `gorm:"size:100"`
	IntervalSec      int
	FailThreshold    int
	Enabled          bool `gorm:"index"`
	LastRunTime      *time.Time
	LastRunSuccess   *bool
	LastRunResult    string `gorm:"type:text"`
	CurrentFailCount int
}

func (ruleRecord) TableName() string { return "alert_rules" }

type statRecord struct {
	ID                 int64  `gorm:"primaryKey"`
	Name               string `gorm:"size:200;not null"`
	Category           string `gorm:"size:100"`
	SourceType         string `gorm:"size:10;not null"`
	DbConnectionID     *int64
	SQLQuery           string `gorm:"column:sql_query;type:text"`
	APIURL             string `gorm:"column:api_url;size:1000"`
	APIMethod          string `gorm:"column:api_method;size:10"`
	APIHeaders         string `gorm:"column:api_headers;type:text"`
	APIBody            string `gorm:"column:api_body;type:text"`
	APITimeoutSec      int    `gorm:"column:api_timeout_sec"`
	DataPath           string `gorm:"size:500"`
	RefreshIntervalSec int
	SortOrder          int
	Enabled            bool
}

func (statRecord) TableName() string { return "stat_configs" }

type currentAlertRecord struct {
	ID         int64   `gorm:"primaryKey;autoIncrement"`
	RuleID     int64   `gorm:"not null;uniqueIndex:idx_current_alert_slot,priority:1"`
	SlotHash   string  `gorm:"size:40;not null;uniqueIndex:idx_current_alert_slot,priority:2"`
	AlertKey   *string `gorm:"size:500"`
	Message    string  `gorm:"type:text"`
	AlertLevel int     `gorm:"index"`
	Status     string  `gorm:"size:20"`
	FirstTime  time.Time
	LastTime   time.Time
	OccurCount int
}

func (currentAlertRecord) TableName() string { return "current_alerts" }

type ignoredAlertRecord struct {
	ID        int64   `gorm:"primaryKey;autoIncrement"`
	RuleID    int64   `gorm:"not null;uniqueIndex:idx_ignored_alert_slot,priority:1"`
	SlotHash  string  `gorm:"size:40;not null;uniqueIndex:idx_ignored_alert_slot,priority:2"`
	AlertKey  *string `gorm:"size:500"`
	IgnoredAt time.Time
	Reason    string `gorm:"size:500"`
}

func (ignoredAlertRecord) TableName() string { return "ignored_alerts" }

// OpenSQLStore opens relational repository and migrates schema.
// Params: driver ("sqlite" | "mysql") and DSN.
// Returns: migrated store or open/migrate error.
func OpenSQLStore(driver, dsn string) (*SQLStore, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	case DriverMySQL:
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", driver, err)
	}
	if err := db.AutoMigrate(
		&connectionRecord{},
		&ruleRecord{},
		&statRecord{},
		&currentAlertRecord{},
		&ignoredAlertRecord{},
	); err != nil {
		closeGorm(db)
		return nil, fmt.Errorf("migrate %s store: %w", driver, err)
	}
	return &SQLStore{db: db}, nil
}

func closeGorm(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// GetRule returns rule by id.
func (s *SQLStore) GetRule(ctx context.Context, id int64) (domain.AlertRule, error) {
	var record ruleRecord
	if err := s.db.WithContext(ctx).First(&record, id).Error; err != nil {
		return domain.AlertRule{}, notFound(err)
	}
	return record.toDomain(), nil
}

// ListRules returns all rules ordered by id.
func (s *SQLStore) ListRules(ctx context.Context) ([]domain.AlertRule, error) {
	var records []ruleRecord
	if err := s.db.WithContext(ctx).Order("id").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	out := make([]domain.AlertRule, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

// RecordRun writes run status in one statement.
func (s *SQLStore) RecordRun(ctx context.Context, ruleID int64, status domain.RunStatus) error {
	updates := map[string]any{
		"last_run_time":    status.At,
		"last_run_success": status.Success,
		"last_run_result":  status.Result,
	}
	if status.Success {
		updates["current_fail_count"] = 0
	} else {
		updates["current_fail_count"] = gorm.Expr("current_fail_count + ?", 1)
	}
	result := s.db.WithContext(ctx).Model(&ruleRecord{}).Where("id = ?", ruleID).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("record run: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// PutRule inserts or replaces rule.
func (s *SQLStore) PutRule(ctx context.Context, rule domain.AlertRule) error {
	record := ruleFromDomain(rule)
	return s.db.WithContext(ctx).Save(&record).Error
}

// DeleteRule removes rule with its current alerts and ignore entries.
func (s *SQLStore) DeleteRule(ctx context.Context, id int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("rule_id = ?", id).Delete(&currentAlertRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Where("rule_id = ?", id).Delete(&ignoredAlertRecord{}).Error; err != nil {
			return err
		}
		return tx.Delete(&ruleRecord{}, id).Error
	})
}

// GetConnection returns connection by id.
func (s *SQLStore) GetConnection(ctx context.Context, id int64) (domain.DbConnection, error) {
	var record connectionRecord
	if err := s.db.WithContext(ctx).First(&record, id).Error; err != nil {
		return domain.DbConnection{}, notFound(err)
	}
	return domain.DbConnection{
		ID:      record.ID,
		Name:    record.Name,
		DbType:  domain.DbType(record.DbType),
		DSN:     record.ConnectionString,
		Enabled: record.Enabled,
	}, nil
}

// PutConnection inserts or replaces connection.
func (s *SQLStore) PutConnection(ctx context.Context, conn domain.DbConnection) error {
	record := connectionRecord{
		ID:               conn.ID,
		Name:             conn.Name,
		DbType:           string(conn.DbType),
		ConnectionString: conn.DSN,
		Enabled:          conn.Enabled,
	}
	return s.db.WithContext(ctx).Save(&record).Error
}

// GetStatConfig returns stat config by id.
func (s *SQLStore) GetStatConfig(ctx context.Context, id int64) (domain.StatConfig, error) {
	var record statRecord
	if err := s.db.WithContext(ctx).First(&record, id).Error; err != nil {
		return domain.StatConfig{}, notFound(err)
	}
	return record.toDomain(), nil
}

// ListStatConfigs returns all stat configs ordered by id.
func (s *SQLStore) ListStatConfigs(ctx context.Context) ([]domain.StatConfig, error) {
	var records []statRecord
	if err := s.db.WithContext(ctx).Order("id").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list stat configs: %w", err)
	}
	out := make([]domain.StatConfig, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

// PutStatConfig inserts or replaces stat config.
func (s *SQLStore) PutStatConfig(ctx context.Context, stat domain.StatConfig) error {
	record := statFromDomain(stat)
	return s.db.WithContext(ctx).Save(&record).Error
}

// UpsertAlert merges one detection inside a single-row transaction.
func (s *SQLStore) UpsertAlert(ctx context.Context, alert domain.CurrentAlert) (bool, error) {
	created := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		hash := slotHash(alert.AlertKey)
		result := tx.Model(&currentAlertRecord{}).
			Where("rule_id = ? AND slot_hash = ?", alert.RuleID, hash).
			Updates(map[string]any{
				"occur_count": gorm.Expr("occur_count + ?", 1),
				"message":     alert.Message,
				"alert_level": int(alert.Level),
				"last_time":   alert.LastTime,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected > 0 {
			return nil
		}
		status := alert.Status
		if status == "" {
			status = domain.AlertStatusUnhandled
		}
		first := alert.FirstTime
		if first.IsZero() {
			first = alert.LastTime
		}
		record := currentAlertRecord{
			RuleID:     alert.RuleID,
			SlotHash:   hash,
			AlertKey:   alert.AlertKey,
			Message:    alert.Message,
			AlertLevel: int(alert.Level),
			Status:     string(status),
			FirstTime:  first,
			LastTime:   alert.LastTime,
			OccurCount: 1,
		}
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("upsert alert: %w", err)
	}
	return created, nil
}

// ListAlerts returns all current alerts ordered for display.
func (s *SQLStore) ListAlerts(ctx context.Context) ([]domain.CurrentAlert, error) {
	var records []currentAlertRecord
	if err := s.db.WithContext(ctx).Order("alert_level DESC, last_time DESC, id").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return alertsFromRecords(records), nil
}

// ListAlertsByRule returns one rule's current alerts.
func (s *SQLStore) ListAlertsByRule(ctx context.Context, ruleID int64) ([]domain.CurrentAlert, error) {
	var records []currentAlertRecord
	err := s.db.WithContext(ctx).Where("rule_id = ?", ruleID).Order("alert_level DESC, last_time DESC, id").Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list rule alerts: %w", err)
	}
	return alertsFromRecords(records), nil
}

// DeleteAlert removes one slot.
func (s *SQLStore) DeleteAlert(ctx context.Context, ruleID int64, key *string) error {
	err := s.db.WithContext(ctx).Where("rule_id = ? AND slot_hash = ?", ruleID, slotHash(key)).Delete(&currentAlertRecord{}).Error
	if err != nil {
		return fmt.Errorf("delete alert: %w", err)
	}
	return nil
}

// SetAlertStatus changes handling status of one slot.
func (s *SQLStore) SetAlertStatus(ctx context.Context, ruleID int64, key *string, status domain.AlertStatus) error {
	result := s.db.WithContext(ctx).Model(&currentAlertRecord{}).
		Where("rule_id = ? AND slot_hash = ?", ruleID, slotHash(key)).
		Update("status", string(status))
	if result.Error != nil {
		return fmt.Errorf("set alert status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		// mysql reports zero affected rows when status is unchanged
		var count int64
		if err := s.db.WithContext(ctx).Model(&currentAlertRecord{}).
			Where("rule_id = ? AND slot_hash = ?", ruleID, slotHash(key)).
			Count(&count).Error; err != nil {
			return fmt.Errorf("set alert status: %w", err)
		}
		if count == 0 {
			return ErrNotFound
		}
	}
	return nil
}

// IsIgnored reports whether slot is on the ignore list.
func (s *SQLStore) IsIgnored(ctx context.Context, ruleID int64, key *string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&ignoredAlertRecord{}).
		Where("rule_id = ? AND slot_hash = ?", ruleID, slotHash(key)).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check ignored: %w", err)
	}
	return count > 0, nil
}

// Ignore adds slot to the ignore list, refreshing reason and time when present.
func (s *SQLStore) Ignore(ctx context.Context, item domain.IgnoredAlert) error {
	record := ignoredAlertRecord{
		RuleID:    item.RuleID,
		SlotHash:  slotHash(item.AlertKey),
		AlertKey:  item.AlertKey,
		IgnoredAt: item.IgnoredAt,
		Reason:    item.Reason,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "rule_id"}, {Name: "slot_hash"}},
		DoUpdates: clause.AssignmentColumns([]string{"ignored_at", "reason"}),
	}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("ignore alert: %w", err)
	}
	return nil
}

// Unignore removes slot from the ignore list.
func (s *SQLStore) Unignore(ctx context.Context, ruleID int64, key *string) error {
	err := s.db.WithContext(ctx).Where("rule_id = ? AND slot_hash = ?", ruleID, slotHash(key)).Delete(&ignoredAlertRecord{}).Error
	if err != nil {
		return fmt.Errorf("unignore alert: %w", err)
	}
	return nil
}

// ListIgnored returns ignore entries ordered by id.
func (s *SQLStore) ListIgnored(ctx context.Context) ([]domain.IgnoredAlert, error) {
	var records []ignoredAlertRecord
	if err := s.db.WithContext(ctx).Order("id").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list ignored: %w", err)
	}
	out := make([]domain.IgnoredAlert, 0, len(records))
	for _, record := range records {
		out = append(out, domain.IgnoredAlert{
			ID:        record.ID,
			RuleID:    record.RuleID,
			AlertKey:  record.AlertKey,
			IgnoredAt: record.IgnoredAt,
			Reason:    record.Reason,
		})
	}
	return out, nil
}

// Close closes underlying connection pool.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func alertsFromRecords(records []currentAlertRecord) []domain.CurrentAlert {
	out := make([]domain.CurrentAlert, 0, len(records))
	for _, record := range records {
		out = append(out, domain.CurrentAlert{
			ID:         record.ID,
			RuleID:     record.RuleID,
			AlertKey:   record.AlertKey,
			Message:    record.Message,
			Level:      domain.AlertLevel(record.AlertLevel),
			Status:     domain.AlertStatus(record.Status),
			FirstTime:  record.FirstTime,
			LastTime:   record.LastTime,
			OccurCount: record.OccurCount,
		})
	}
	return out
}

func (r ruleRecord) toDomain() domain.AlertRule {
	return domain.AlertRule{
		ID:           r.ID,
		Name:         r.Name,
		Category:     r.Category,
		SourceType:   domain.SourceType(r.SourceType),
		ConnectionID: r.DbConnectionID,
		SQLQuery:     r.SQLQuery,
		HTTPSource: domain.HTTPSource{
			URL:     r.APIURL,
			Method:  r.APIMethod,
			Headers: r.APIHeaders,
			Body:    r.APIBody,
			Timeout: time.Duration(r.APITimeoutSec) * time.Second,
		},
		JudgeLevel:          domain.JudgeLevel(r.JudgeLevel),
		DataPath:            r.DataPath,
		JudgeType:           domain.JudgeType(r.JudgeType),
		JudgeField:          r.JudgeField,
		JudgeOperator:       domain.Operator(r.JudgeOperator),
		JudgeValue:          r.JudgeValue,
		KeyField:            r.KeyField,
		Level:               domain.AlertLevel(r.AlertLevel),
		MessageTemplate:     r.MessageTemplate,
		CronExpression:      r.CronExpression,
		Interval:            time.Duration(r.IntervalSec) * time.Second,
		FailThreshold:       r.FailThreshold,
		Enabled:             r.Enabled,
		LastRunAt:           r.LastRunTime,
		LastRunSuccess:      r.LastRunSuccess,
		LastRunResult:       r.LastRunResult,
		ConsecutiveFailures: r.CurrentFailCount,
	}
}

func ruleFromDomain(rule domain.AlertRule) ruleRecord {
	return ruleRecord{
		ID:               rule.ID,
		Name:             rule.Name,
		Category:         rule.Category,
		SourceType:       string(rule.SourceType),
		DbConnectionID:   rule.ConnectionID,
		SQLQuery:         rule.SQLQuery,
		APIURL:           rule.URL,
		APIMethod:        rule.Method,
		APIHeaders:       rule.Headers,
		APIBody:          rule.Body,
		APITimeoutSec:    int(rule.Timeout / time.Second),
		JudgeLevel:       string(rule.JudgeLevel),
		DataPath:         rule.DataPath,
		JudgeType:        string(rule.JudgeType),
		JudgeField:       rule.JudgeField,
		JudgeOperator:    string(rule.JudgeOperator),
		JudgeValue:       rule.JudgeValue,
		KeyField:         rule.KeyField,
		AlertLevel:       int(rule.Level),
		MessageTemplate:  rule.MessageTemplate,
		CronExpression:   rule.CronExpression,
		IntervalSec:      int(rule.Interval / time.Second),
		FailThreshold:    rule.FailThreshold,
		Enabled:          rule.Enabled,
		LastRunTime:      rule.LastRunAt,
		LastRunSuccess:   rule.LastRunSuccess,
		LastRunResult:    rule.LastRunResult,
		CurrentFailCount: rule.ConsecutiveFailures,
	}
}

func (r statRecord) toDomain() domain.StatConfig {
	return domain.StatConfig{
		ID:           r.ID,
		Name:         r.Name,
		Category:     r.Category,
		SourceType:   domain.SourceType(r.SourceType),
		ConnectionID: r.DbConnectionID,
		SQLQuery:     r.SQLQuery,
		HTTPSource: domain.HTTPSource{
			URL:     r.APIURL,
			Method:  r.APIMethod,
			Headers: r.APIHeaders,
			Body:    r.APIBody,
			Timeout: time.Duration(r.APITimeoutSec) * time.Second,
		},
		DataPath:        r.DataPath,
		RefreshInterval: time.Duration(r.RefreshIntervalSec) * time.Second,
		SortOrder:       r.SortOrder,
		Enabled:         r.Enabled,
	}
}

func statFromDomain(stat domain.StatConfig) statRecord {
	return statRecord{
		ID:                 stat.ID,
		Name:               stat.Name,
		Category:           stat.Category,
		SourceType:         string(stat.SourceType),
		DbConnectionID:     stat.ConnectionID,
		SQLQuery:           stat.SQLQuery,
		APIURL:             stat.URL,
		APIMethod:          stat.Method,
		APIHeaders:         stat.Headers,
		APIBody:            stat.Body,
		APITimeoutSec:      int(stat.Timeout / time.Second),
		DataPath:           stat.DataPath,
		RefreshIntervalSec: int(stat.RefreshInterval / time.Second),
		SortOrder:          stat.SortOrder,
		Enabled:            stat.Enabled,
	}
}
