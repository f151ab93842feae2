// Package config builds the immutable runtime configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/opensource-finance/kestrel/internal/domain"
	"gopkg.in/yaml.v3"
)

// Load builds the configuration in three layers: built-in defaults, an
// optional YAML file, then KESTREL_* environment overrides. A `.env` file is
// read first for local development.
func Load(path string) (*domain.Config, error) {
	_ = godotenv.Load()

	cfg := domain.DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnv overrides the operational knobs most likely to differ per
// deployment. Structural config (velocity rules, custom rules, weights)
// stays in the YAML file.
func applyEnv(cfg *domain.Config) {
	setString(&cfg.Server.Host, "KESTREL_HOST")
	setInt(&cfg.Server.Port, "KESTREL_PORT")

	setString(&cfg.Lists.Type, "KESTREL_LISTS_TYPE")
	setString(&cfg.Lists.RedisAddr, "KESTREL_REDIS_ADDR")
	setString(&cfg.Lists.RedisPassword, "KESTREL_REDIS_PASSWORD")

	setString(&cfg.EventBus.Type, "KESTREL_BUS_TYPE")
	setString(&cfg.EventBus.NATSUrl, "KESTREL_NATS_URL")
	setString(&cfg.EventBus.NATSToken, "KESTREL_NATS_TOKEN")

	setString(&cfg.Repository.Driver, "KESTREL_DB_DRIVER")
	setString(&cfg.Repository.SQLitePath, "KESTREL_SQLITE_PATH")
	setString(&cfg.Repository.PostgresHost, "KESTREL_POSTGRES_HOST")
	setInt(&cfg.Repository.PostgresPort, "KESTREL_POSTGRES_PORT")
	setString(&cfg.Repository.PostgresUser, "KESTREL_POSTGRES_USER")
	setString(&cfg.Repository.PostgresPassword, "KESTREL_POSTGRES_PASSWORD")
	setString(&cfg.Repository.PostgresDB, "KESTREL_POSTGRES_DB")

	setString(&cfg.Settlement.Provider, "KESTREL_SETTLEMENT_PROVIDER")
	setString(&cfg.Settlement.URL, "KESTREL_SETTLEMENT_URL")
	setString(&cfg.Settlement.APIKey, "KESTREL_SETTLEMENT_API_KEY")
	setDuration(&cfg.Settlement.Timeout, "KESTREL_SETTLEMENT_TIMEOUT")

	setFloat(&cfg.Admission.MinPayout, "KESTREL_MIN_PAYOUT")
	setFloat(&cfg.Admission.MaxPayout, "KESTREL_MAX_PAYOUT")

	setDuration(&cfg.Queue.Tick, "KESTREL_QUEUE_TICK")
	setDuration(&cfg.Queue.BackoffBase, "KESTREL_BACKOFF_BASE")
	setInt(&cfg.Queue.MaxRetries, "KESTREL_MAX_RETRIES")

	setString(&cfg.Logging.Level, "KESTREL_LOG_LEVEL")
	setString(&cfg.Logging.Format, "KESTREL_LOG_FORMAT")
	setBool(&cfg.Tracing.Enabled, "KESTREL_TRACING_ENABLED")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
