package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/artpar/quotaguard/config"
)

func TestLoad_ValidConfig(t *testing.T) {
	content := `
server:
  host: "127.0.0.1"
  port: 9090
database:
  driver: "postgres"
  dsn: "postgres://localhost/quotaguard"
counters:
  backend: "redis"
  sweep_interval: 30s
  quota_retention_days: 3
  redis:
    url: "redis://localhost:6379/1"
    prefix: "qg:"
auth:
  key_prefix: "vk_"
  hasher: "sha256"
plans:
  - name: "hobby"
    requests_per_minute: 5
    requests_per_hour: 50
    requests_per_day: 500
    quota_per_day: 400
  - name: "team"
    requests_per_minute: 100
    requests_per_hour: 2000
    requests_per_day: 20000
    quota_per_day: 20000
default_plan: "hobby"
alerts:
  check_on_admit: true
  eviction_schedule: "0 1 * * *"
  webhook:
    url: "https://hooks.example.com/quota"
    secret: "s3cret"
    timeout: 5s
  email:
    host: "smtp.example.com"
    from: "alerts@example.com"
    starttls: true
logging:
  level: "debug"
  format: "console"
metrics:
  enabled: true
`
	cfg := writeAndLoad(t, content)

	if cfg.Server.Addr() != "127.0.0.1:9090" {
		t.Errorf("Server.Addr() = %s, want 127.0.0.1:9090", cfg.Server.Addr())
	}
	if cfg.Database.Driver != "postgres" {
		t.Errorf("Database.Driver = %s, want postgres", cfg.Database.Driver)
	}
	if cfg.Counters.Backend != "redis" || cfg.Counters.Redis.Prefix != "qg:" {
		t.Errorf("Counters = %+v, want redis backend with prefix qg:", cfg.Counters)
	}
	if cfg.Counters.SweepInterval != 30*time.Second {
		t.Errorf("SweepInterval = %v, want 30s", cfg.Counters.SweepInterval)
	}
	if cfg.Counters.QuotaRetentionDays != 3 {
		t.Errorf("QuotaRetentionDays = %d, want 3", cfg.Counters.QuotaRetentionDays)
	}
	if cfg.Auth.Hasher != "sha256" {
		t.Errorf("Auth.Hasher = %s, want sha256", cfg.Auth.Hasher)
	}
	if len(cfg.Plans) != 2 {
		t.Fatalf("len(Plans) = %d, want 2", len(cfg.Plans))
	}
	if !cfg.Alerts.CheckOnAdmit {
		t.Error("Alerts.CheckOnAdmit = false, want true")
	}
	if cfg.Alerts.Webhook.Timeout != 5*time.Second {
		t.Errorf("Webhook.Timeout = %v, want 5s", cfg.Alerts.Webhook.Timeout)
	}
	if cfg.Alerts.Email.Port != 587 || !cfg.Alerts.Email.StartTLS {
		t.Errorf("Alerts.Email = %+v, want port 587 with starttls", cfg.Alerts.Email)
	}
	if cfg.Logging.Format != "console" {
		t.Errorf("Logging.Format = %s, want console", cfg.Logging.Format)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg := writeAndLoad(t, "server:\n  port: 8080\n")

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %s, want 0.0.0.0", cfg.Server.Host)
	}
	if cfg.Database.Driver != "sqlite3" || cfg.Database.DSN != "quotaguard.db" {
		t.Errorf("Database = %+v, want sqlite3 quotaguard.db", cfg.Database)
	}
	if cfg.Counters.Backend != "memory" {
		t.Errorf("Counters.Backend = %s, want memory", cfg.Counters.Backend)
	}
	if cfg.Counters.SweepInterval != time.Minute {
		t.Errorf("SweepInterval = %v, want 1m", cfg.Counters.SweepInterval)
	}
	if cfg.Counters.QuotaRetentionDays != 2 {
		t.Errorf("QuotaRetentionDays = %d, want 2", cfg.Counters.QuotaRetentionDays)
	}
	if cfg.Auth.KeyPrefix != "vk_" || cfg.Auth.Header != "X-API-Key" || cfg.Auth.Hasher != "bcrypt" {
		t.Errorf("Auth = %+v, want vk_/X-API-Key/bcrypt", cfg.Auth)
	}
	if len(cfg.Plans) != 3 {
		t.Errorf("len(Plans) = %d, want 3 built-in tiers", len(cfg.Plans))
	}
	if cfg.DefaultPlan != "starter" {
		t.Errorf("DefaultPlan = %s, want starter", cfg.DefaultPlan)
	}
	if cfg.Alerts.EvictionSchedule != "15 0 * * *" {
		t.Errorf("EvictionSchedule = %s, want 15 0 * * *", cfg.Alerts.EvictionSchedule)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v, want info/json", cfg.Logging)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %s, want /metrics", cfg.Metrics.Path)
	}
}

func TestConfig_Catalog(t *testing.T) {
	cfg := writeAndLoad(t, `
plans:
  - name: "hobby"
    requests_per_minute: 5
    requests_per_hour: 50
    requests_per_day: 500
    quota_per_day: 400
default_plan: "hobby"
`)

	catalog := cfg.Catalog()

	limits, resolved, found := catalog.Resolve("hobby")
	if !found || resolved != "hobby" {
		t.Errorf("Resolve(hobby) = %q/%v, want hobby/true", resolved, found)
	}
	if limits.RequestsPerMinute != 5 || limits.QuotaPerDay != 400 {
		t.Errorf("limits = %+v, want 5/min and 400/day quota", limits)
	}

	_, resolved, found = catalog.Resolve("gold")
	if found || resolved != "hobby" {
		t.Errorf("Resolve(gold) = %q/%v, want fallback hobby/false", resolved, found)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_REDIS_ADDR", "cache:6379")

	cfg := writeAndLoad(t, `
counters:
  backend: "redis"
  redis:
    url: "${TEST_REDIS_ADDR}"
`)

	if cfg.Counters.Redis.URL != "cache:6379" {
		t.Errorf("Redis.URL = %s, want cache:6379", cfg.Counters.Redis.URL)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "unknown driver",
			content: "database:\n  driver: \"mysql\"\n",
			wantErr: "database.driver",
		},
		{
			name:    "unknown counter backend",
			content: "counters:\n  backend: \"etcd\"\n",
			wantErr: "counters.backend",
		},
		{
			name:    "redis without url",
			content: "counters:\n  backend: \"redis\"\n",
			wantErr: "counters.redis.url",
		},
		{
			name:    "unknown hasher",
			content: "auth:\n  hasher: \"md5\"\n",
			wantErr: "auth.hasher",
		},
		{
			name:    "plan without name",
			content: "plans:\n  - requests_per_minute: 1\n",
			wantErr: "plans[0].name",
		},
		{
			name: "duplicate plan",
			content: `
plans:
  - name: "a"
  - name: "a"
default_plan: "a"
`,
			wantErr: "duplicate plan",
		},
		{
			name: "negative limit",
			content: `
plans:
  - name: "a"
    quota_per_day: -1
default_plan: "a"
`,
			wantErr: "non-negative",
		},
		{
			name:    "default plan not configured",
			content: "default_plan: \"gold\"\n",
			wantErr: "default_plan",
		},
		{
			name:    "smtp without sender",
			content: "alerts:\n  email:\n    host: \"smtp.example.com\"\n",
			wantErr: "alerts.email.from",
		},
		{
			name:    "bad log level",
			content: "logging:\n  level: \"trace\"\n",
			wantErr: "logging.level",
		},
		{
			name:    "bad log format",
			content: "logging:\n  format: \"xml\"\n",
			wantErr: "logging.format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := writeAndLoadErr(t, tt.content)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("QUOTAGUARD_SERVER_PORT", "9999")
	t.Setenv("QUOTAGUARD_DATABASE_DSN", "/tmp/env-test.db")
	t.Setenv("QUOTAGUARD_COUNTERS_BACKEND", "redis")
	t.Setenv("QUOTAGUARD_REDIS_URL", "localhost:6379")
	t.Setenv("QUOTAGUARD_DEFAULT_PLAN", "pro")
	t.Setenv("QUOTAGUARD_ALERTS_CHECK_ON_ADMIT", "yes")
	t.Setenv("QUOTAGUARD_LOG_LEVEL", "debug")
	t.Setenv("QUOTAGUARD_METRICS_ENABLED", "true")

	cfg, err := config.LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv error: %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Database.DSN != "/tmp/env-test.db" {
		t.Errorf("Database.DSN = %s, want /tmp/env-test.db", cfg.Database.DSN)
	}
	if cfg.Counters.Backend != "redis" || cfg.Counters.Redis.URL != "localhost:6379" {
		t.Errorf("Counters = %+v, want redis at localhost:6379", cfg.Counters)
	}
	if cfg.DefaultPlan != "pro" {
		t.Errorf("DefaultPlan = %s, want pro", cfg.DefaultPlan)
	}
	if !cfg.Alerts.CheckOnAdmit {
		t.Error("Alerts.CheckOnAdmit = false, want true")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %s, want debug", cfg.Logging.Level)
	}
	if !cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled = false, want true")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("QUOTAGUARD_SERVER_PORT", "7777")
	t.Setenv("QUOTAGUARD_LOG_LEVEL", "error")

	cfg := writeAndLoad(t, `
server:
  host: "127.0.0.1"
  port: 8080
logging:
  level: "info"
`)

	if cfg.Server.Port != 7777 {
		t.Errorf("Server.Port = %d, want 7777 (env override)", cfg.Server.Port)
	}
	if cfg.Logging.Level != "error" {
		t.Errorf("Logging.Level = %s, want error (env override)", cfg.Logging.Level)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %s, want 127.0.0.1", cfg.Server.Host)
	}
}

func TestEnvOverrides_InvalidValuesIgnored(t *testing.T) {
	t.Setenv("QUOTAGUARD_SERVER_PORT", "not-a-number")
	t.Setenv("QUOTAGUARD_COUNTERS_SWEEP_INTERVAL", "soon")
	t.Setenv("QUOTAGUARD_COUNTERS_QUOTA_RETENTION_DAYS", "many")

	cfg, err := config.LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want default 8080", cfg.Server.Port)
	}
	if cfg.Counters.SweepInterval != time.Minute {
		t.Errorf("SweepInterval = %v, want default 1m", cfg.Counters.SweepInterval)
	}
	if cfg.Counters.QuotaRetentionDays != 2 {
		t.Errorf("QuotaRetentionDays = %d, want default 2", cfg.Counters.QuotaRetentionDays)
	}
}

func TestLoadWithFallback_FileExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 6060\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.LoadWithFallback(path)
	if err != nil {
		t.Fatalf("LoadWithFallback error: %v", err)
	}
	if cfg.Server.Port != 6060 {
		t.Errorf("Server.Port = %d, want 6060", cfg.Server.Port)
	}
}

func TestLoadWithFallback_EnvOnly(t *testing.T) {
	t.Setenv("QUOTAGUARD_SERVER_PORT", "5050")

	for _, path := range []string{"/nonexistent/config.yaml", ""} {
		cfg, err := config.LoadWithFallback(path)
		if err != nil {
			t.Fatalf("LoadWithFallback(%q) error: %v", path, err)
		}
		if cfg.Server.Port != 5050 {
			t.Errorf("LoadWithFallback(%q) Server.Port = %d, want 5050", path, cfg.Server.Port)
		}
	}
}

func TestParseBoolValues(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"true", true},
		{"TRUE", true},
		{"1", true},
		{"yes", true},
		{" on ", true},
		{"false", false},
		{"0", false},
		{"off", false},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("QUOTAGUARD_METRICS_ENABLED", tt.value)

			cfg, err := config.LoadFromEnv()
			if err != nil {
				t.Fatalf("LoadFromEnv error: %v", err)
			}
			if cfg.Metrics.Enabled != tt.want {
				t.Errorf("Metrics.Enabled for %q = %v, want %v", tt.value, cfg.Metrics.Enabled, tt.want)
			}
		})
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := writeAndLoadErr(t, "server: [unclosed")
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := config.Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

// Helpers

func writeAndLoad(t *testing.T, content string) *config.Config {
	t.Helper()
	cfg, err := writeAndLoadErr(t, content)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	return cfg
}

func writeAndLoadErr(t *testing.T, content string) (*config.Config, error) {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	return config.Load(path)
}
