package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultServiceName         = "alertdesk"
	defaultAlertListRefreshSec = 30
	defaultHTTPListen          = ":9470"
	defaultHealthPath          = "/healthz"
	defaultReadyPath           = "/readyz"
	defaultMetricsPath         = "/metrics"
	defaultTasksPath           = "/tasks"
	defaultAlertsPath          = "/alerts"
	defaultMaxBodyBytes        = 64 << 10
	defaultMaxConcurrency      = 3
	defaultMinDispatchMS       = 200
	defaultPollIntervalMS      = 100
	defaultBatchSpacingMinMS   = 500
	defaultBatchSpacingMaxMS   = 2000
	defaultTaskTimeoutSec      = 60
	defaultDedupWindowSec      = 5
	defaultTimerPriority       = 5
	defaultStatCacheConfigs    = 20
	defaultStatCacheRows       = 500
	defaultStatCacheTTLSec     = 1800
	defaultNATSURL             = "nats://127.0.0.1:4222"
	defaultAlertBucket         = "alertdesk_alerts"
	defaultIgnoreBucket        = "alertdesk_ignored"
	defaultCompletionSubject   = "alertdesk.completions"
	defaultRequestSubject      = "alertdesk.requests"
	defaultQueueGroup          = "alertdesk"
	defaultLogMaxSizeMB        = 100
	defaultLogMaxBackups       = 5
	defaultLogMaxAgeDays       = 14

	// StoreBackendMemory keeps catalog and alerts in process memory.
	StoreBackendMemory = "memory"
	// StoreBackendSQL keeps catalog and alerts in a gorm-managed database.
	StoreBackendSQL = "sql"
	// StoreBackendNATS keeps catalog in SQL and alerts in JetStream KV.
	StoreBackendNATS = "nats"

	// StoreDriverSQLite selects embedded SQLite for the sql backend.
	StoreDriverSQLite = "sqlite"
	// StoreDriverMySQL selects MySQL for the sql backend.
	StoreDriverMySQL = "mysql"
)

var (
	legacyRuleArrayPattern = regexp.MustCompile(`(?m)^\s*\[\[\s*(?:rule|stat|connection)\s*\]\]`)
)

// Config holds service runtime settings and the seed catalog.
// Params: TOML sections from file or merged directory snapshot.
// Returns: validated runtime configuration.
type Config struct {
	Service    ServiceConfig
	HTTP       HTTPConfig
	Log        LogConfig
	Queue      QueueConfig
	StatCache  StatCacheConfig
	Store      StoreConfig
	Events     EventsConfig
	Connection []ConnectionConfig
	Rule       []RuleConfig
	Stat       []StatConfig
}

// rawConfig mirrors TOML model before runtime normalization.
// Params: decoded sections from one TOML source.
// Returns: catalog tables keyed by entity name.
type rawConfig struct {
	Service    ServiceConfig               `toml:"service"`
	HTTP       HTTPConfig                  `toml:"http"`
	Log        LogConfig                   `toml:"log"`
	Queue      QueueConfig                 `toml:"queue"`
	StatCache  StatCacheConfig             `toml:"stat_cache"`
	Store      StoreConfig                 `toml:"store"`
	Events     EventsConfig                `toml:"events"`
	Connection map[string]ConnectionConfig `toml:"connection"`
	Rule       map[string]RuleConfig       `toml:"rule"`
	Stat       map[string]StatConfig       `toml:"stat"`
}

// ServiceConfig contains process-level settings.
type ServiceConfig struct {
	Name                string `toml:"name"`
	StartupBatch        *bool  `toml:"startup_batch"`
	AlertListRefreshSec int    `toml:"alert_list_refresh_sec"`
}

// StartupBatchEnabled reports whether enabled rules are submitted once at start.
func (c ServiceConfig) StartupBatchEnabled() bool {
	return c.StartupBatch == nil || *c.StartupBatch
}

// HTTPConfig configures the host HTTP listener and its endpoints.
// Params: listen address, endpoint paths, and submit body limit.
// Returns: HTTP surface behavior.
type HTTPConfig struct {
	Listen       string `toml:"listen"`
	HealthPath   string `toml:"health_path"`
	ReadyPath    string `toml:"ready_path"`
	MetricsPath  string `toml:"metrics_path"`
	TasksPath    string `toml:"tasks_path"`
	AlertsPath   string `toml:"alerts_path"`
	MaxBodyBytes int64  `toml:"max_body_bytes"`
}

// LogConfig contains console/file logging sinks.
type LogConfig struct {
	Console LogSinkConfig `toml:"console"`
	File    LogSinkConfig `toml:"file"`
}

// LogSinkConfig defines one logging sink.
// Params: sink enable flag, level, format, path, and file rotation limits.
// Returns: sink-specific behavior.
type LogSinkConfig struct {
	Enabled    bool   `toml:"enabled"`
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	Path       string `toml:"path"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// QueueConfig configures scheduler dispatch.
// Params: concurrency, spacing, timeout, and dedup knobs in ms/sec units.
// Returns: scheduler options after conversion.
type QueueConfig struct {
	MaxConcurrency        int   `toml:"max_concurrency"`
	MinDispatchIntervalMS int   `toml:"min_dispatch_interval_ms"`
	PollIntervalMS        int   `toml:"poll_interval_ms"`
	BatchSpacingMinMS     int   `toml:"batch_spacing_min_ms"`
	BatchSpacingMaxMS     int   `toml:"batch_spacing_max_ms"`
	TaskTimeoutSec        int   `toml:"task_timeout_sec"`
	DedupEnabled          *bool `toml:"dedup_enabled"`
	DedupWindowSec        int   `toml:"dedup_window_sec"`
	TimerPriority         int   `toml:"timer_priority"`
}

// DedupOn reports whether submissions are deduplicated.
func (c QueueConfig) DedupOn() bool {
	return c.DedupEnabled == nil || *c.DedupEnabled
}

// StatCacheConfig bounds the stat snapshot cache.
type StatCacheConfig struct {
	MaxConfigs int `toml:"max_configs"`
	MaxRows    int `toml:"max_rows"`
	TTLSec     int `toml:"ttl_sec"`
}

// StoreConfig selects repository backend.
// Params: backend kind, SQL driver + DSN, and NATS KV settings.
// Returns: store wiring options.
type StoreConfig struct {
	Backend string          `toml:"backend"`
	Driver  string          `toml:"driver"`
	DSN     string          `toml:"dsn"`
	NATS    NATSStoreConfig `toml:"nats"`
}

// NATSStoreConfig contains JetStream KV controls for alert state.
type NATSStoreConfig struct {
	URL                []string `toml:"url"`
	AlertBucket        string   `toml:"alert_bucket"`
	IgnoreBucket       string   `toml:"ignore_bucket"`
	AllowCreateBuckets bool     `toml:"allow_create_buckets"`
}

// EventsConfig groups outbound/inbound messaging.
type EventsConfig struct {
	NATS NATSEventsConfig `toml:"nats"`
}

// NATSEventsConfig configures completion publishing and run-now requests over NATS.
// Params: enable flag, URLs, subjects, and queue group.
// Returns: messaging behavior.
type NATSEventsConfig struct {
	Enabled           bool     `toml:"enabled"`
	URL               []string `toml:"url"`
	CompletionSubject string   `toml:"completion_subject"`
	RequestSubject    string   `toml:"request_subject"`
	QueueGroup        string   `toml:"queue_group"`
}

// ConfigSource selects configuration input.
// Params: exactly one of file path or directory path, optional env file.
// Returns: normalized source descriptor.
type ConfigSource struct {
	File    string
	Dir     string
	EnvFile string
}

// FromCLI builds normalized source configuration from input paths.
// Params: optional file, directory, and env-file arguments.
// Returns: source descriptor or validation error.
func FromCLI(filePath, dirPath, envFile string) (ConfigSource, error) {
	filePath = strings.TrimSpace(filePath)
	dirPath = strings.TrimSpace(dirPath)
	envFile = strings.TrimSpace(envFile)

	if filePath == "" && dirPath == "" {
		return ConfigSource{}, errors.New("either --config-file or --config-dir must be provided")
	}
	if filePath != "" && dirPath != "" {
		return ConfigSource{}, errors.New("config source must be either file or dir")
	}

	if filePath != "" {
		return ConfigSource{File: filePath, EnvFile: envFile}, nil
	}
	return ConfigSource{Dir: dirPath, EnvFile: envFile}, nil
}

// LoadSnapshot loads, overrides, defaults, and validates configuration.
// Params: source selects file or directory mode.
// Returns: validated config or load/validation error.
func LoadSnapshot(src ConfigSource) (Config, error) {
	var cfg Config
	var err error
	if src.File != "" {
		cfg, err = loadFile(src.File)
	} else {
		cfg, err = loadDir(src.Dir)
	}
	if err != nil {
		return Config{}, err
	}
	if err := applyEnvOverrides(&cfg, src.EnvFile); err != nil {
		return Config{}, err
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// normalizeRawConfig converts raw TOML model to runtime config.
// Params: decoded raw config from file fragment.
// Returns: config with catalog tables flattened in name order.
func normalizeRawConfig(raw rawConfig) Config {
	cfg := Config{
		Service:   raw.Service,
		HTTP:      raw.HTTP,
		Log:       raw.Log,
		Queue:     raw.Queue,
		StatCache: raw.StatCache,
		Store:     raw.Store,
		Events:    raw.Events,
	}
	for _, name := range sortedKeys(raw.Connection) {
		body := raw.Connection[name]
		body.Name = name
		cfg.Connection = append(cfg.Connection, body)
	}
	for _, name := range sortedKeys(raw.Rule) {
		body := raw.Rule[name]
		body.Name = name
		cfg.Rule = append(cfg.Rule, body)
	}
	for _, name := range sortedKeys(raw.Stat) {
		body := raw.Stat[name]
		body.Name = name
		cfg.Stat = append(cfg.Stat, body)
	}
	return cfg
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// loadFile reads one TOML configuration file.
// Params: file path to config snapshot or fragment.
// Returns: decoded config or read/decode error.
func loadFile(path string) (Config, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %q: %w", path, err)
	}
	if legacyRuleArrayPattern.Match(body) {
		return Config{}, fmt.Errorf("decode config file %q: array tables are not supported; use [rule.<name>], [stat.<name>], [connection.<name>]", path)
	}
	var raw rawConfig
	if err := toml.Unmarshal(body, &raw); err != nil {
		return Config{}, fmt.Errorf("decode config file %q: %w", path, err)
	}
	return normalizeRawConfig(raw), nil
}

// loadDir reads and merges TOML files from one directory.
// Params: directory containing config fragments.
// Returns: merged config snapshot or load/decode error.
func loadDir(dir string) (Config, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Config{}, fmt.Errorf("read config dir %q: %w", dir, err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.ToLower(filepath.Ext(name)) != ".toml" {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	if len(files) == 0 {
		return Config{}, fmt.Errorf("no .toml files found in %q", dir)
	}
	sort.Strings(files)

	var merged Config
	for _, file := range files {
		fragment, err := loadFile(file)
		if err != nil {
			return Config{}, err
		}
		mergeConfig(&merged, fragment)
	}
	return merged, nil
}

// mergeConfig overlays source onto destination.
// Params: destination config and next fragment.
// Returns: merged configuration side-effect in dst.
func mergeConfig(dst *Config, src Config) {
	if src.Service != (ServiceConfig{}) {
		dst.Service = src.Service
	}
	if src.HTTP != (HTTPConfig{}) {
		dst.HTTP = src.HTTP
	}
	if src.Log != (LogConfig{}) {
		dst.Log = src.Log
	}
	if src.Queue != (QueueConfig{}) {
		dst.Queue = src.Queue
	}
	if src.StatCache != (StatCacheConfig{}) {
		dst.StatCache = src.StatCache
	}
	if hasStoreConfig(src.Store) {
		dst.Store = src.Store
	}
	if hasEventsConfig(src.Events) {
		dst.Events = src.Events
	}
	dst.Connection = append(dst.Connection, src.Connection...)
	dst.Rule = append(dst.Rule, src.Rule...)
	dst.Stat = append(dst.Stat, src.Stat...)
}

func hasStoreConfig(cfg StoreConfig) bool {
	return strings.TrimSpace(cfg.Backend) != "" ||
		strings.TrimSpace(cfg.Driver) != "" ||
		strings.TrimSpace(cfg.DSN) != "" ||
		len(cfg.NATS.URL) > 0 ||
		cfg.NATS.AlertBucket != "" ||
		cfg.NATS.IgnoreBucket != "" ||
		cfg.NATS.AllowCreateBuckets
}

func hasEventsConfig(cfg EventsConfig) bool {
	n := cfg.NATS
	return n.Enabled || len(n.URL) > 0 || n.CompletionSubject != "" || n.RequestSubject != "" || n.QueueGroup != ""
}

// applyDefaults fills omitted settings.
// Params: config pointer after load and env overrides.
// Returns: defaults side-effect in cfg.
func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Service.Name) == "" {
		cfg.Service.Name = defaultServiceName
	}
	if cfg.Service.AlertListRefreshSec <= 0 {
		cfg.Service.AlertListRefreshSec = defaultAlertListRefreshSec
	}

	setDefault(&cfg.HTTP.Listen, defaultHTTPListen)
	setDefault(&cfg.HTTP.HealthPath, defaultHealthPath)
	setDefault(&cfg.HTTP.ReadyPath, defaultReadyPath)
	setDefault(&cfg.HTTP.MetricsPath, defaultMetricsPath)
	setDefault(&cfg.HTTP.TasksPath, defaultTasksPath)
	setDefault(&cfg.HTTP.AlertsPath, defaultAlertsPath)
	if cfg.HTTP.MaxBodyBytes <= 0 {
		cfg.HTTP.MaxBodyBytes = defaultMaxBodyBytes
	}

	if cfg.Log == (LogConfig{}) {
		cfg.Log.Console.Enabled = true
	}
	setDefault(&cfg.Log.Console.Level, "info")
	setDefault(&cfg.Log.Console.Format, "line")
	setDefault(&cfg.Log.File.Level, "info")
	setDefault(&cfg.Log.File.Format, "json")
	if cfg.Log.File.MaxSizeMB <= 0 {
		cfg.Log.File.MaxSizeMB = defaultLogMaxSizeMB
	}
	if cfg.Log.File.MaxBackups <= 0 {
		cfg.Log.File.MaxBackups = defaultLogMaxBackups
	}
	if cfg.Log.File.MaxAgeDays <= 0 {
		cfg.Log.File.MaxAgeDays = defaultLogMaxAgeDays
	}

	q := &cfg.Queue
	if q.MaxConcurrency == 0 {
		q.MaxConcurrency = defaultMaxConcurrency
	}
	if q.MinDispatchIntervalMS == 0 {
		q.MinDispatchIntervalMS = defaultMinDispatchMS
	}
	if q.PollIntervalMS == 0 {
		q.PollIntervalMS = defaultPollIntervalMS
	}
	if q.BatchSpacingMinMS == 0 && q.BatchSpacingMaxMS == 0 {
		q.BatchSpacingMinMS = defaultBatchSpacingMinMS
		q.BatchSpacingMaxMS = defaultBatchSpacingMaxMS
	}
	if q.TaskTimeoutSec == 0 {
		q.TaskTimeoutSec = defaultTaskTimeoutSec
	}
	if q.DedupWindowSec == 0 {
		q.DedupWindowSec = defaultDedupWindowSec
	}
	if q.TimerPriority == 0 {
		q.TimerPriority = defaultTimerPriority
	}

	if cfg.StatCache.MaxConfigs <= 0 {
		cfg.StatCache.MaxConfigs = defaultStatCacheConfigs
	}
	if cfg.StatCache.MaxRows <= 0 {
		cfg.StatCache.MaxRows = defaultStatCacheRows
	}
	if cfg.StatCache.TTLSec <= 0 {
		cfg.StatCache.TTLSec = defaultStatCacheTTLSec
	}

	cfg.Store.Backend = strings.ToLower(strings.TrimSpace(cfg.Store.Backend))
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = StoreBackendMemory
	}
	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = StoreDriverSQLite
	}
	if cfg.Store.DSN == "" && cfg.Store.Driver == StoreDriverSQLite {
		cfg.Store.DSN = "alertdesk.db"
	}
	cfg.Store.NATS.URL = normalizeNATSURLs(cfg.Store.NATS.URL)
	if len(cfg.Store.NATS.URL) == 0 {
		cfg.Store.NATS.URL = []string{defaultNATSURL}
	}
	setDefault(&cfg.Store.NATS.AlertBucket, defaultAlertBucket)
	setDefault(&cfg.Store.NATS.IgnoreBucket, defaultIgnoreBucket)

	cfg.Events.NATS.URL = normalizeNATSURLs(cfg.Events.NATS.URL)
	if len(cfg.Events.NATS.URL) == 0 {
		cfg.Events.NATS.URL = []string{defaultNATSURL}
	}
	setDefault(&cfg.Events.NATS.CompletionSubject, defaultCompletionSubject)
	setDefault(&cfg.Events.NATS.RequestSubject, defaultRequestSubject)
	setDefault(&cfg.Events.NATS.QueueGroup, defaultQueueGroup)

	assignCatalogIDs(cfg)
}

func setDefault(field *string, value string) {
	if strings.TrimSpace(*field) == "" {
		*field = value
	}
}

// validateConfig checks settings and catalog tables.
// Params: config after defaults.
// Returns: first validation error.
func validateConfig(cfg Config) error {
	for _, path := range []struct{ name, value string }{
		{"http.listen", cfg.HTTP.Listen},
		{"http.health_path", cfg.HTTP.HealthPath},
		{"http.ready_path", cfg.HTTP.ReadyPath},
		{"http.metrics_path", cfg.HTTP.MetricsPath},
		{"http.tasks_path", cfg.HTTP.TasksPath},
		{"http.alerts_path", cfg.HTTP.AlertsPath},
	} {
		if strings.TrimSpace(path.value) == "" {
			return fmt.Errorf("%s is required", path.name)
		}
	}

	if !cfg.Log.Console.Enabled && !cfg.Log.File.Enabled {
		return errors.New("at least one log sink must be enabled")
	}
	if err := validateLogSink("log.console", cfg.Log.Console, false); err != nil {
		return err
	}
	if err := validateLogSink("log.file", cfg.Log.File, true); err != nil {
		return err
	}

	if err := validateQueue(cfg.Queue); err != nil {
		return err
	}

	switch cfg.Store.Backend {
	case StoreBackendMemory:
	case StoreBackendSQL, StoreBackendNATS:
		switch cfg.Store.Driver {
		case StoreDriverSQLite, StoreDriverMySQL:
		default:
			return fmt.Errorf("store.driver has unsupported value %q", cfg.Store.Driver)
		}
		if strings.TrimSpace(cfg.Store.DSN) == "" {
			return errors.New("store.dsn is required")
		}
	default:
		return fmt.Errorf("store.backend has unsupported value %q", cfg.Store.Backend)
	}
	if cfg.Store.Backend == StoreBackendNATS {
		if err := validateNATSURLs("store.nats.url", cfg.Store.NATS.URL); err != nil {
			return err
		}
		if cfg.Store.NATS.AlertBucket == cfg.Store.NATS.IgnoreBucket {
			return errors.New("store.nats.alert_bucket and store.nats.ignore_bucket must differ")
		}
	}
	if cfg.Events.NATS.Enabled {
		if err := validateNATSURLs("events.nats.url", cfg.Events.NATS.URL); err != nil {
			return err
		}
	}

	return validateCatalog(cfg)
}

func validateQueue(q QueueConfig) error {
	if q.MaxConcurrency <= 0 {
		return errors.New("queue.max_concurrency must be >0")
	}
	if q.MinDispatchIntervalMS < 0 {
		return errors.New("queue.min_dispatch_interval_ms must be >=0")
	}
	if q.PollIntervalMS <= 0 {
		return errors.New("queue.poll_interval_ms must be >0")
	}
	if q.BatchSpacingMinMS < 0 || q.BatchSpacingMaxMS < 0 {
		return errors.New("queue.batch_spacing_*_ms must be >=0")
	}
	if q.BatchSpacingMinMS > q.BatchSpacingMaxMS {
		return errors.New("queue.batch_spacing_min_ms must be <= queue.batch_spacing_max_ms")
	}
	if q.TaskTimeoutSec <= 0 {
		return errors.New("queue.task_timeout_sec must be >0")
	}
	if q.DedupWindowSec <= 0 {
		return errors.New("queue.dedup_window_sec must be >0")
	}
	if q.TimerPriority < 1 || q.TimerPriority > 10 {
		return errors.New("queue.timer_priority must be in 1..10")
	}
	return nil
}

func validateNATSURLs(name string, urls []string) error {
	if len(urls) == 0 {
		return fmt.Errorf("%s is required", name)
	}
	for i, url := range urls {
		if url == "" {
			return fmt.Errorf("%s[%d] is empty", name, i)
		}
	}
	return nil
}

// normalizeNATSURLs trims spaces around each configured NATS URL.
// Params: raw URL list from config.
// Returns: normalized URL list preserving element count for validation.
func normalizeNATSURLs(urls []string) []string {
	if len(urls) == 0 {
		return nil
	}
	out := make([]string, len(urls))
	for i := range urls {
		out[i] = strings.TrimSpace(urls[i])
	}
	return out
}

// validateLogSink validates one log sink configuration.
// Params: sink name, sink values, and whether path is required.
// Returns: sink validation error.
func validateLogSink(name string, sink LogSinkConfig, requirePath bool) error {
	if !sink.Enabled {
		return nil
	}

	switch strings.ToLower(strings.TrimSpace(sink.Level)) {
	case "debug", "info", "warn", "error", "panic":
	default:
		return fmt.Errorf("%s.level has unsupported value %q", name, sink.Level)
	}

	switch strings.ToLower(strings.TrimSpace(sink.Format)) {
	case "line", "json":
	default:
		return fmt.Errorf("%s.format has unsupported value %q", name, sink.Format)
	}

	if requirePath && strings.TrimSpace(sink.Path) == "" {
		return fmt.Errorf("%s.path is required", name)
	}

	return nil
}

// Millis converts a millisecond setting to duration.
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// Seconds converts a second setting to duration.
func Seconds(sec int) time.Duration {
	return time.Duration(sec) * time.Second
}
