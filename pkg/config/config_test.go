package config

import (
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tcangola/portal/pkg/observability"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("PORTAL_DATABASE_URL", "postgres://portal@localhost/portal?sslmode=disable")
	t.Setenv("PORTAL_JWT_SECRET", testSecret)
}

func TestGetEnv(t *testing.T) {
	t.Setenv("PORTAL_TEST_VAR", "custom")

	if got := getEnv("PORTAL_TEST_VAR", "default"); got != "custom" {
		t.Errorf("getEnv() = %v, want custom", got)
	}
	if got := getEnv("PORTAL_TEST_VAR_NOT_SET", "default"); got != "default" {
		t.Errorf("getEnv() = %v, want default", got)
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"true", false, true},
		{"TRUE", false, true},
		{"1", false, true},
		{"false", true, false},
		{"yes", true, false},
		{"", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("PORTAL_TEST_BOOL", tt.value)
			if got := getEnvBool("PORTAL_TEST_BOOL", tt.def); got != tt.want {
				t.Errorf("getEnvBool(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestGetEnvNumbersAndDurations(t *testing.T) {
	t.Setenv("PORTAL_TEST_INT", "42")
	t.Setenv("PORTAL_TEST_BAD_INT", "forty-two")
	t.Setenv("PORTAL_TEST_INT64", "1048576")
	t.Setenv("PORTAL_TEST_DURATION", "90s")
	t.Setenv("PORTAL_TEST_BAD_DURATION", "soon")

	if got := getEnvInt("PORTAL_TEST_INT", 1); got != 42 {
		t.Errorf("getEnvInt() = %d, want 42", got)
	}
	if got := getEnvInt("PORTAL_TEST_BAD_INT", 7); got != 7 {
		t.Errorf("getEnvInt() with bad value = %d, want default 7", got)
	}
	if got := getEnvInt64("PORTAL_TEST_INT64", 0); got != 1<<20 {
		t.Errorf("getEnvInt64() = %d, want %d", got, 1<<20)
	}
	if got := getEnvDuration("PORTAL_TEST_DURATION", time.Second); got != 90*time.Second {
		t.Errorf("getEnvDuration() = %v, want 90s", got)
	}
	if got := getEnvDuration("PORTAL_TEST_BAD_DURATION", time.Second); got != time.Second {
		t.Errorf("getEnvDuration() with bad value = %v, want default 1s", got)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("Server.Port = %q, want 8080", cfg.Server.Port)
	}
	if cfg.Sessions.StaleAfter != 30*time.Minute {
		t.Errorf("Sessions.StaleAfter = %v, want 30m", cfg.Sessions.StaleAfter)
	}
	if cfg.Sessions.CleanupSchedule != "*/5 * * * *" {
		t.Errorf("Sessions.CleanupSchedule = %q", cfg.Sessions.CleanupSchedule)
	}
	if cfg.Permissions.CacheTTL != 5*time.Minute {
		t.Errorf("Permissions.CacheTTL = %v, want 5m", cfg.Permissions.CacheTTL)
	}
	if cfg.Redis.Enabled() {
		t.Error("Redis should be disabled without PORTAL_REDIS_URL")
	}
	if cfg.Observability.LogLevel != logrus.InfoLevel {
		t.Errorf("LogLevel = %v, want info", cfg.Observability.LogLevel)
	}
	if cfg.Observability.LogFormat != observability.FormatJSON {
		t.Errorf("LogFormat = %v, want json", cfg.Observability.LogFormat)
	}
	if cfg.Identity.BcryptCost != 12 {
		t.Errorf("BcryptCost = %d, want 12", cfg.Identity.BcryptCost)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("PORTAL_REDIS_URL", "redis://cache:6379/1")
	t.Setenv("PORTAL_SESSION_STALE_AFTER", "10m")
	t.Setenv("PORTAL_TRUSTED_PROXIES", "10.0.0.0/8, ,192.0.2.10")
	t.Setenv("PORTAL_SESSION_JANITOR", "true")
	t.Setenv("PORTAL_PROFILE_CATALOG", "/etc/portal/profiles.yaml")
	t.Setenv("PORTAL_PROFILE_CATALOG_WATCH", "1")
	t.Setenv("PORTAL_LOG_LEVEL", "debug")
	t.Setenv("PORTAL_LOG_FORMAT", "text")
	t.Setenv("PORTAL_OTEL_ENABLED", "true")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if !cfg.Redis.Enabled() {
		t.Error("Redis should be enabled")
	}
	if got := strings.Join(cfg.Server.TrustedProxies, "|"); got != "10.0.0.0/8|192.0.2.10" {
		t.Errorf("TrustedProxies = %q", got)
	}
	if cfg.Sessions.StaleAfter != 10*time.Minute {
		t.Errorf("StaleAfter = %v, want 10m", cfg.Sessions.StaleAfter)
	}
	if !cfg.Sessions.EmbeddedJanitor || !cfg.Permissions.WatchCatalog {
		t.Error("expected janitor and catalog watching to be enabled")
	}
	if cfg.Observability.LogLevel != logrus.DebugLevel {
		t.Errorf("LogLevel = %v, want debug", cfg.Observability.LogLevel)
	}

	otel := cfg.Observability.OTel()
	if !otel.Enabled || otel.ServiceName != "tcangola-portal" {
		t.Errorf("OTel() = %+v", otel)
	}
}

func TestValidate(t *testing.T) {
	setRequired(t)
	valid := func() *Config {
		return &Config{
			Server:      loadServerConfig(),
			Database:    loadDatabaseConfig(),
			Redis:       loadRedisConfig(),
			Sessions:    loadSessionsConfig(),
			Permissions: loadPermissionsConfig(),
			Identity:    loadIdentityConfig(),
			Dispatch:    loadDispatchConfig(),
			Observability: ObservabilityConfig{
				OTelEnabled:     true,
				OTelEndpoint:    "collector:4317",
				OTelServiceName: "portal",
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing port", func(c *Config) { c.Server.Port = "" }, "server port"},
		{"trusted proxies", func(c *Config) { c.Server.TrustedProxies = []string{"10.0.0.0/8", "192.0.2.1"} }, ""},
		{"bad trusted proxy", func(c *Config) { c.Server.TrustedProxies = []string{"lb.internal"} }, "trusted proxy"},
		{"missing database", func(c *Config) { c.Database.URL = "" }, "database URL"},
		{"idle above open", func(c *Config) { c.Database.MaxIdleConns = 50 }, "max idle"},
		{"bad schedule", func(c *Config) { c.Sessions.CleanupSchedule = "every five minutes" }, "cleanup schedule"},
		{"zero stale", func(c *Config) { c.Sessions.StaleAfter = 0 }, "stale threshold"},
		{"zero cache ttl", func(c *Config) { c.Permissions.CacheTTL = 0 }, "cache TTL"},
		{"watch without catalog", func(c *Config) { c.Permissions.WatchCatalog = true }, "catalog path"},
		{"short secret", func(c *Config) { c.Identity.JWTSecret = "short" }, "jwt secret"},
		{"bcrypt cost", func(c *Config) { c.Identity.BcryptCost = 2 }, "bcrypt cost"},
		{"no sign-in rate", func(c *Config) { c.Identity.SignInRatePerMinute = 0 }, "sign-in rate"},
		{"no workers", func(c *Config) { c.Dispatch.Workers = 0 }, "dispatch"},
		{"otel without endpoint", func(c *Config) { c.Observability.OTelEndpoint = "" }, "OpenTelemetry endpoint"},
		{"sample ratio above one", func(c *Config) { c.Observability.OTelSampleRatio = 1.5 }, "sample ratio"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadConfig_MissingSecret(t *testing.T) {
	t.Setenv("PORTAL_DATABASE_URL", "postgres://localhost/portal")
	t.Setenv("PORTAL_JWT_SECRET", "")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error without a JWT secret")
	}
}

func TestLoadJanitorConfig(t *testing.T) {
	t.Setenv("PORTAL_DATABASE_URL", "postgres://portal@localhost/portal?sslmode=disable")
	t.Setenv("PORTAL_SESSION_CLEANUP_SCHEDULE", "0 * * * *")

	cfg, err := LoadJanitorConfig()
	if err != nil {
		t.Fatalf("LoadJanitorConfig() error = %v", err)
	}
	if cfg.Sessions.CleanupSchedule != "0 * * * *" {
		t.Errorf("CleanupSchedule = %q, want hourly", cfg.Sessions.CleanupSchedule)
	}
	if cfg.Sessions.StaleAfter != 30*time.Minute {
		t.Errorf("StaleAfter = %v, want 30m", cfg.Sessions.StaleAfter)
	}
}

func TestLoadJanitorConfig_Invalid(t *testing.T) {
	t.Setenv("PORTAL_DATABASE_URL", "postgres://portal@localhost/portal?sslmode=disable")
	t.Setenv("PORTAL_SESSION_CLEANUP_SCHEDULE", "every five minutes")

	if _, err := LoadJanitorConfig(); err == nil {
		t.Error("LoadJanitorConfig() expected error for bad schedule")
	}
}
