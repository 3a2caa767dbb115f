package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// envOverrides lists deployment settings that may come from the environment.
type envOverrides struct {
	HTTPListen   string   `env:"ALERTDESK_HTTP_LISTEN"`
	StoreBackend string   `env:"ALERTDESK_STORE_BACKEND"`
	StoreDriver  string   `env:"ALERTDESK_STORE_DRIVER"`
	StoreDSN     string   `env:"ALERTDESK_STORE_DSN"`
	NATSURL      []string `env:"ALERTDESK_NATS_URL" envSeparator:","`
	LogLevel     string   `env:"ALERTDESK_LOG_LEVEL"`
}

// applyEnvOverrides loads optional env file and applies ALERTDESK_* variables.
// Params: config after file load; env file path or empty.
// Returns: load/parse error.
func applyEnvOverrides(cfg *Config, envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("load env file %q: %w", envFile, err)
		}
	}
	var overrides envOverrides
	if err := env.Parse(&overrides); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}

	if overrides.HTTPListen != "" {
		cfg.HTTP.Listen = overrides.HTTPListen
	}
	if overrides.StoreBackend != "" {
		cfg.Store.Backend = overrides.StoreBackend
	}
	if overrides.StoreDriver != "" {
		cfg.Store.Driver = overrides.StoreDriver
	}
	if overrides.StoreDSN != "" {
		cfg.Store.DSN = overrides.StoreDSN
	}
	if len(overrides.NATSURL) > 0 {
		cfg.Store.NATS.URL = overrides.NATSURL
		cfg.Events.NATS.URL = overrides.NATSURL
	}
	if overrides.LogLevel != "" {
		cfg.Log.Console.Level = overrides.LogLevel
		cfg.Log.File.Level = overrides.LogLevel
	}
	return nil
}
