package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "staffdesk.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "STAFFDESK_PORT")
	setString(&cfg.Server.CORSOrigin, "STAFFDESK_CORS_ORIGIN")

	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "STAFFDESK_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "STAFFDESK_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "STAFFDESK_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "STAFFDESK_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "STAFFDESK_PG_HEALTH_CHECK")

	setString(&cfg.NATS.URL, "NATS_URL")

	setString(&cfg.Directory.URL, "STAFFDESK_DIRECTORY_URL")
	setString(&cfg.Directory.ServiceKey, "STAFFDESK_DIRECTORY_SERVICE_KEY")
	setDuration(&cfg.Directory.Timeout, "STAFFDESK_DIRECTORY_TIMEOUT")
	setInt(&cfg.Directory.PageSize, "STAFFDESK_DIRECTORY_PAGE_SIZE")

	setString(&cfg.SMTP.Host, "STAFFDESK_SMTP_HOST")
	setInt(&cfg.SMTP.Port, "STAFFDESK_SMTP_PORT")
	setString(&cfg.SMTP.From, "STAFFDESK_SMTP_FROM")
	setString(&cfg.SMTP.Password, "STAFFDESK_SMTP_PASSWORD")

	setString(&cfg.Mpesa.URL, "STAFFDESK_MPESA_URL")
	setString(&cfg.Mpesa.ConsumerKey, "STAFFDESK_MPESA_CONSUMER_KEY")
	setString(&cfg.Mpesa.ConsumerSecret, "STAFFDESK_MPESA_CONSUMER_SECRET")
	setDuration(&cfg.Mpesa.Timeout, "STAFFDESK_MPESA_TIMEOUT")
	setInt(&cfg.Mpesa.MaxConcurrent, "STAFFDESK_MPESA_MAX_CONCURRENT")
	setDuration(&cfg.Mpesa.CacheTTL, "STAFFDESK_MPESA_CACHE_TTL")

	setString(&cfg.Webhook.EmailSecret, "STAFFDESK_WEBHOOK_EMAIL_SECRET")

	setInt(&cfg.Provision.PasswordLength, "STAFFDESK_PROVISION_PASSWORD_LENGTH")
	setString(&cfg.Provision.EmailSubject, "STAFFDESK_PROVISION_EMAIL_SUBJECT")

	setDuration(&cfg.Reconcile.Interval, "STAFFDESK_RECONCILE_INTERVAL")
	setDuration(&cfg.Reconcile.Lookback, "STAFFDESK_RECONCILE_LOOKBACK")

	setInt64(&cfg.Cache.MaxSizeMB, "STAFFDESK_CACHE_SIZE_MB")

	setString(&cfg.Logging.Level, "STAFFDESK_LOG_LEVEL")
	setString(&cfg.Logging.Service, "STAFFDESK_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "STAFFDESK_LOG_ASYNC")

	setInt(&cfg.Breaker.MaxFailures, "STAFFDESK_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "STAFFDESK_BREAKER_TIMEOUT")

	setFloat64(&cfg.Rate.RequestsPerSecond, "STAFFDESK_RATE_RPS")
	setInt(&cfg.Rate.Burst, "STAFFDESK_RATE_BURST")

	setString(&cfg.Telemetry.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")

	setString(&cfg.Auth.TokenHash, "STAFFDESK_AUTH_TOKEN_HASH")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Directory.PageSize < 1 {
		return errors.New("directory.page_size must be >= 1")
	}
	if cfg.Mpesa.MaxConcurrent < 1 {
		return errors.New("mpesa.max_concurrent must be >= 1")
	}
	if cfg.Provision.PasswordLength < 8 {
		return errors.New("provision.password_length must be >= 8")
	}
	if cfg.Reconcile.Interval <= 0 {
		return errors.New("reconcile.interval must be > 0")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	return nil
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

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
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
