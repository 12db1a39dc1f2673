// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/artpar/quotaguard/domain/plan"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Server      ServerConfig   `yaml:"server"`
	Database    DatabaseConfig `yaml:"database"`
	Counters    CountersConfig `yaml:"counters"`
	Auth        AuthConfig     `yaml:"auth"`
	Plans       []PlanConfig   `yaml:"plans"`
	DefaultPlan string         `yaml:"default_plan"`
	Alerts      AlertsConfig   `yaml:"alerts"`
	Logging     LoggingConfig  `yaml:"logging"`
	Metrics     MetricsConfig  `yaml:"metrics"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig configures the persistent store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite3", "sqlite" or "postgres"
	DSN    string `yaml:"dsn"`
}

// CountersConfig configures the counter store behind rate decisions.
type CountersConfig struct {
	Backend            string        `yaml:"backend"` // "memory" or "redis"
	Shards             int           `yaml:"shards"`
	SweepInterval      time.Duration `yaml:"sweep_interval"`
	QuotaRetentionDays int           `yaml:"quota_retention_days"`
	Redis              RedisConfig   `yaml:"redis"`
}

// RedisConfig configures the Redis counter backend.
type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// AuthConfig configures API key handling.
type AuthConfig struct {
	KeyPrefix  string `yaml:"key_prefix"`
	Header     string `yaml:"header"` // Header name for API key (default: X-API-Key)
	Hasher     string `yaml:"hasher"` // "bcrypt" or "sha256"
	BcryptCost int    `yaml:"bcrypt_cost"`
}

// PlanConfig configures a subscription tier.
type PlanConfig struct {
	Name              string `yaml:"name"`
	RequestsPerMinute int64  `yaml:"requests_per_minute"`
	RequestsPerHour   int64  `yaml:"requests_per_hour"`
	RequestsPerDay    int64  `yaml:"requests_per_day"`
	QuotaPerDay       int64  `yaml:"quota_per_day"`
}

// AlertsConfig configures quota alerting.
type AlertsConfig struct {
	CheckOnAdmit     bool          `yaml:"check_on_admit"`
	EvictionSchedule string        `yaml:"eviction_schedule"` // standard cron expression
	Webhook          WebhookConfig `yaml:"webhook"`
	Email            EmailConfig   `yaml:"email"`
}

// WebhookConfig configures webhook alert delivery. Empty URL disables it.
type WebhookConfig struct {
	URL     string        `yaml:"url"`
	Secret  string        `yaml:"secret,omitempty"`
	Timeout time.Duration `yaml:"timeout"`
}

// EmailConfig configures SMTP alert delivery. Empty Host disables it.
type EmailConfig struct {
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password,omitempty"`
	From        string        `yaml:"from"`
	FromName    string        `yaml:"from_name"`
	StartTLS    bool          `yaml:"starttls"`
	ImplicitTLS bool          `yaml:"implicit_tls"`
	SkipVerify  bool          `yaml:"skip_verify"`
	Timeout     time.Duration `yaml:"timeout"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // Enable /metrics endpoint
	Path    string `yaml:"path"`    // Custom path (default: /metrics)
}

// Catalog builds the plan catalog from the configured tiers.
func (c *Config) Catalog() *plan.Catalog {
	plans := make([]plan.Plan, len(c.Plans))
	for i, p := range c.Plans {
		plans[i] = plan.Plan{
			Name: p.Name,
			Limits: plan.Limits{
				RequestsPerMinute: p.RequestsPerMinute,
				RequestsPerHour:   p.RequestsPerHour,
				RequestsPerDay:    p.RequestsPerDay,
				QuotaPerDay:       p.QuotaPerDay,
			},
		}
	}
	return plan.NewCatalog(plans, c.DefaultPlan)
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv creates configuration from defaults and environment variables.
//
// Environment variables:
//
//	QUOTAGUARD_SERVER_HOST            - Server host (default: 0.0.0.0)
//	QUOTAGUARD_SERVER_PORT            - Server port (default: 8080)
//	QUOTAGUARD_DATABASE_DRIVER        - sqlite3, sqlite or postgres (default: sqlite3)
//	QUOTAGUARD_DATABASE_DSN           - Database DSN (default: quotaguard.db)
//	QUOTAGUARD_COUNTERS_BACKEND       - memory or redis (default: memory)
//	QUOTAGUARD_REDIS_URL              - Redis URL or host:port
//	QUOTAGUARD_AUTH_KEY_PREFIX        - API key marker (default: vk_)
//	QUOTAGUARD_DEFAULT_PLAN           - Fallback plan (default: starter)
//	QUOTAGUARD_ALERTS_CHECK_ON_ADMIT  - Check alerts on every admission
//	QUOTAGUARD_ALERTS_WEBHOOK_URL     - Alert webhook URL
//	QUOTAGUARD_SMTP_HOST              - SMTP server for alert emails
//	QUOTAGUARD_SMTP_FROM              - Sender address for alert emails
//	QUOTAGUARD_LOG_LEVEL              - debug, info, warn, error (default: info)
//	QUOTAGUARD_LOG_FORMAT             - json or console (default: json)
//	QUOTAGUARD_METRICS_ENABLED        - Enable /metrics endpoint
func LoadFromEnv() (*Config, error) {
	var cfg Config

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadWithFallback loads path if it exists, otherwise the environment.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return LoadFromEnv()
}

// applyEnvOverrides applies QUOTAGUARD_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	// Server configuration
	if v := os.Getenv("QUOTAGUARD_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("QUOTAGUARD_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	// Database configuration
	if v := os.Getenv("QUOTAGUARD_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("QUOTAGUARD_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}

	// Counter configuration
	if v := os.Getenv("QUOTAGUARD_COUNTERS_BACKEND"); v != "" {
		cfg.Counters.Backend = v
	}
	if v := os.Getenv("QUOTAGUARD_COUNTERS_SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Counters.SweepInterval = d
		}
	}
	if v := os.Getenv("QUOTAGUARD_COUNTERS_QUOTA_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Counters.QuotaRetentionDays = n
		}
	}
	if v := os.Getenv("QUOTAGUARD_REDIS_URL"); v != "" {
		cfg.Counters.Redis.URL = v
	}
	if v := os.Getenv("QUOTAGUARD_REDIS_PASSWORD"); v != "" {
		cfg.Counters.Redis.Password = v
	}

	// Auth configuration
	if v := os.Getenv("QUOTAGUARD_AUTH_KEY_PREFIX"); v != "" {
		cfg.Auth.KeyPrefix = v
	}
	if v := os.Getenv("QUOTAGUARD_AUTH_HASHER"); v != "" {
		cfg.Auth.Hasher = v
	}

	// Plans
	if v := os.Getenv("QUOTAGUARD_DEFAULT_PLAN"); v != "" {
		cfg.DefaultPlan = v
	}

	// Alerts configuration
	if v := os.Getenv("QUOTAGUARD_ALERTS_CHECK_ON_ADMIT"); v != "" {
		cfg.Alerts.CheckOnAdmit = parseBool(v)
	}
	if v := os.Getenv("QUOTAGUARD_ALERTS_EVICTION_SCHEDULE"); v != "" {
		cfg.Alerts.EvictionSchedule = v
	}
	if v := os.Getenv("QUOTAGUARD_ALERTS_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Webhook.URL = v
	}
	if v := os.Getenv("QUOTAGUARD_ALERTS_WEBHOOK_SECRET"); v != "" {
		cfg.Alerts.Webhook.Secret = v
	}

	// SMTP configuration
	if v := os.Getenv("QUOTAGUARD_SMTP_HOST"); v != "" {
		cfg.Alerts.Email.Host = v
	}
	if v := os.Getenv("QUOTAGUARD_SMTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Alerts.Email.Port = port
		}
	}
	if v := os.Getenv("QUOTAGUARD_SMTP_USERNAME"); v != "" {
		cfg.Alerts.Email.Username = v
	}
	if v := os.Getenv("QUOTAGUARD_SMTP_PASSWORD"); v != "" {
		cfg.Alerts.Email.Password = v
	}
	if v := os.Getenv("QUOTAGUARD_SMTP_FROM"); v != "" {
		cfg.Alerts.Email.From = v
	}

	// Logging configuration
	if v := os.Getenv("QUOTAGUARD_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("QUOTAGUARD_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Metrics configuration
	if v := os.Getenv("QUOTAGUARD_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("QUOTAGUARD_METRICS_PATH"); v != "" {
		cfg.Metrics.Path = v
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite3"
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "quotaguard.db"
	}

	if cfg.Counters.Backend == "" {
		cfg.Counters.Backend = "memory"
	}
	if cfg.Counters.Shards == 0 {
		cfg.Counters.Shards = 32
	}
	if cfg.Counters.SweepInterval == 0 {
		cfg.Counters.SweepInterval = time.Minute
	}
	if cfg.Counters.QuotaRetentionDays == 0 {
		cfg.Counters.QuotaRetentionDays = 2
	}
	if cfg.Counters.Redis.Prefix == "" {
		cfg.Counters.Redis.Prefix = "quotaguard:"
	}

	if cfg.Auth.KeyPrefix == "" {
		cfg.Auth.KeyPrefix = "vk_"
	}
	if cfg.Auth.Header == "" {
		cfg.Auth.Header = "X-API-Key"
	}
	if cfg.Auth.Hasher == "" {
		cfg.Auth.Hasher = "bcrypt"
	}

	if len(cfg.Plans) == 0 {
		for _, p := range plan.Defaults() {
			cfg.Plans = append(cfg.Plans, PlanConfig{
				Name:              p.Name,
				RequestsPerMinute: p.Limits.RequestsPerMinute,
				RequestsPerHour:   p.Limits.RequestsPerHour,
				RequestsPerDay:    p.Limits.RequestsPerDay,
				QuotaPerDay:       p.Limits.QuotaPerDay,
			})
		}
	}
	if cfg.DefaultPlan == "" {
		cfg.DefaultPlan = plan.Starter
	}

	if cfg.Alerts.EvictionSchedule == "" {
		cfg.Alerts.EvictionSchedule = "15 0 * * *"
	}
	if cfg.Alerts.Webhook.Timeout == 0 {
		cfg.Alerts.Webhook.Timeout = 10 * time.Second
	}
	if cfg.Alerts.Email.Host != "" {
		if cfg.Alerts.Email.Port == 0 {
			cfg.Alerts.Email.Port = 587
		}
		if cfg.Alerts.Email.Timeout == 0 {
			cfg.Alerts.Email.Timeout = 30 * time.Second
		}
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

func validate(cfg *Config) error {
	validDrivers := map[string]bool{"sqlite3": true, "sqlite": true, "postgres": true}
	if !validDrivers[cfg.Database.Driver] {
		return fmt.Errorf("database.driver must be 'sqlite3', 'sqlite' or 'postgres', got %q", cfg.Database.Driver)
	}

	switch cfg.Counters.Backend {
	case "memory":
	case "redis":
		if cfg.Counters.Redis.URL == "" {
			return fmt.Errorf("counters.redis.url is required when counters.backend is 'redis'")
		}
	default:
		return fmt.Errorf("counters.backend must be 'memory' or 'redis', got %q", cfg.Counters.Backend)
	}
	if cfg.Counters.Shards < 0 {
		return fmt.Errorf("counters.shards must be positive, got %d", cfg.Counters.Shards)
	}
	if cfg.Counters.QuotaRetentionDays < 1 {
		return fmt.Errorf("counters.quota_retention_days must be at least 1, got %d", cfg.Counters.QuotaRetentionDays)
	}

	validHashers := map[string]bool{"bcrypt": true, "sha256": true}
	if !validHashers[cfg.Auth.Hasher] {
		return fmt.Errorf("auth.hasher must be 'bcrypt' or 'sha256', got %q", cfg.Auth.Hasher)
	}

	names := make(map[string]bool, len(cfg.Plans))
	for i, p := range cfg.Plans {
		if p.Name == "" {
			return fmt.Errorf("plans[%d].name is required", i)
		}
		if names[p.Name] {
			return fmt.Errorf("duplicate plan name: %s", p.Name)
		}
		names[p.Name] = true
		if p.RequestsPerMinute < 0 || p.RequestsPerHour < 0 || p.RequestsPerDay < 0 || p.QuotaPerDay < 0 {
			return fmt.Errorf("plan %s: limits must be non-negative", p.Name)
		}
	}
	if !names[cfg.DefaultPlan] {
		return fmt.Errorf("default_plan %q is not a configured plan", cfg.DefaultPlan)
	}

	if cfg.Alerts.Email.Host != "" && cfg.Alerts.Email.From == "" {
		return fmt.Errorf("alerts.email.from is required when alerts.email.host is set")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", cfg.Logging.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[cfg.Logging.Format] {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", cfg.Logging.Format)
	}

	return nil
}
