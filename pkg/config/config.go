package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/tcangola/portal/pkg/observability"
)

// minJWTSecretLength is the shortest HS256 secret accepted (256 bits)
const minJWTSecretLength = 32

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Sessions      SessionsConfig
	Permissions   PermissionsConfig
	Identity      IdentityConfig
	Dispatch      DispatchConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
	// TrustedProxies are addresses or CIDR ranges allowed to set X-Forwarded-For
	TrustedProxies []string
}

// DatabaseConfig holds the PostgreSQL connection settings
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds the optional Redis settings. An empty URL disables the
// shared capability cache and the distributed rate limiter.
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int
}

// Enabled reports whether Redis is configured
func (r RedisConfig) Enabled() bool {
	return r.URL != ""
}

// SessionsConfig holds session registry settings
type SessionsConfig struct {
	StaleAfter      time.Duration
	CleanupSchedule string
	// EmbeddedJanitor runs the cleanup schedule inside portald instead of a
	// separate session-janitor process
	EmbeddedJanitor bool
}

// PermissionsConfig holds permission resolver settings
type PermissionsConfig struct {
	CacheTTL     time.Duration
	CacheSize    int
	RedisPrefix  string
	CatalogPath  string
	WatchCatalog bool
}

// IdentityConfig holds credential issuance settings
type IdentityConfig struct {
	JWTSecret                string
	Issuer                   string
	AccessTokenTTL           time.Duration
	RefreshWindow            time.Duration
	BcryptCost               int
	RequireEmailConfirmation bool
	SignInRatePerMinute      int
	SignInBurst              int
}

// DispatchConfig sizes the background bookkeeping queue
type DispatchConfig struct {
	Workers     int
	QueueSize   int
	TaskTimeout time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel  logrus.Level
	LogFormat observability.LogFormat

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
	// OTelSampleRatio is the fraction of root traces kept
	OTelSampleRatio float64
}

// OTel returns the OpenTelemetry settings in the form InitOTel expects
func (o ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
		SampleRatio:    o.OTelSampleRatio,
	}
}

// LoadConfig loads configuration from PORTAL_* environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Sessions:      loadSessionsConfig(),
		Permissions:   loadPermissionsConfig(),
		Identity:      loadIdentityConfig(),
		Dispatch:      loadDispatchConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("PORTAL_HOST", "0.0.0.0"),
		Port:            getEnv("PORTAL_PORT", "8080"),
		ReadTimeout:     getEnvDuration("PORTAL_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("PORTAL_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("PORTAL_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("PORTAL_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    getEnvInt64("PORTAL_MAX_BODY_BYTES", 1<<20),
		TrustedProxies:  getEnvList("PORTAL_TRUSTED_PROXIES"),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:             getEnv("PORTAL_DATABASE_URL", ""),
		MaxOpenConns:    getEnvInt("PORTAL_DATABASE_MAX_OPEN_CONNS", 20),
		MaxIdleConns:    getEnvInt("PORTAL_DATABASE_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("PORTAL_DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:        getEnv("PORTAL_REDIS_URL", ""),
		Password:   getEnv("PORTAL_REDIS_PASSWORD", ""),
		DB:         getEnvInt("PORTAL_REDIS_DB", 0),
		MaxRetries: getEnvInt("PORTAL_REDIS_MAX_RETRIES", 3),
		PoolSize:   getEnvInt("PORTAL_REDIS_POOL_SIZE", 10),
	}
}

func loadSessionsConfig() SessionsConfig {
	return SessionsConfig{
		StaleAfter:      getEnvDuration("PORTAL_SESSION_STALE_AFTER", 30*time.Minute),
		CleanupSchedule: getEnv("PORTAL_SESSION_CLEANUP_SCHEDULE", "*/5 * * * *"),
		EmbeddedJanitor: getEnvBool("PORTAL_SESSION_JANITOR", false),
	}
}

func loadPermissionsConfig() PermissionsConfig {
	return PermissionsConfig{
		CacheTTL:     getEnvDuration("PORTAL_PERMISSION_CACHE_TTL", 5*time.Minute),
		CacheSize:    getEnvInt("PORTAL_PERMISSION_CACHE_SIZE", 10000),
		RedisPrefix:  getEnv("PORTAL_PERMISSION_REDIS_PREFIX", "portal:caps:"),
		CatalogPath:  getEnv("PORTAL_PROFILE_CATALOG", ""),
		WatchCatalog: getEnvBool("PORTAL_PROFILE_CATALOG_WATCH", false),
	}
}

func loadIdentityConfig() IdentityConfig {
	return IdentityConfig{
		JWTSecret:                getEnv("PORTAL_JWT_SECRET", ""),
		Issuer:                   getEnv("PORTAL_JWT_ISSUER", "tcangola-portal"),
		AccessTokenTTL:           getEnvDuration("PORTAL_ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshWindow:            getEnvDuration("PORTAL_REFRESH_WINDOW", 24*time.Hour),
		BcryptCost:               getEnvInt("PORTAL_BCRYPT_COST", 12),
		RequireEmailConfirmation: getEnvBool("PORTAL_REQUIRE_EMAIL_CONFIRMATION", false),
		SignInRatePerMinute:      getEnvInt("PORTAL_SIGNIN_RATE_PER_MINUTE", 10),
		SignInBurst:              getEnvInt("PORTAL_SIGNIN_BURST", 5),
	}
}

func loadDispatchConfig() DispatchConfig {
	return DispatchConfig{
		Workers:     getEnvInt("PORTAL_DISPATCH_WORKERS", 4),
		QueueSize:   getEnvInt("PORTAL_DISPATCH_QUEUE_SIZE", 256),
		TaskTimeout: getEnvDuration("PORTAL_DISPATCH_TASK_TIMEOUT", 10*time.Second),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLevel(getEnv("PORTAL_LOG_LEVEL", "info")),
		LogFormat:          observability.ParseFormat(getEnv("PORTAL_LOG_FORMAT", "json")),
		MetricsEnabled:     getEnvBool("PORTAL_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("PORTAL_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("PORTAL_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("PORTAL_OTEL_SERVICE_NAME", "tcangola-portal"),
		OTelServiceVersion: getEnv("PORTAL_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("PORTAL_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("PORTAL_OTEL_SAMPLE_RATIO", 1.0),
	}
}

// JanitorConfig is the part of Config the session janitor reads
type JanitorConfig struct {
	Database      DatabaseConfig
	Sessions      SessionsConfig
	Observability ObservabilityConfig
}

// LoadJanitorConfig loads the janitor configuration from the same
// environment variables as LoadConfig
func LoadJanitorConfig() (*JanitorConfig, error) {
	cfg := &JanitorConfig{
		Database:      loadDatabaseConfig(),
		Sessions:      loadSessionsConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if the janitor configuration is valid
func (c *JanitorConfig) Validate() error {
	if err := c.Database.validate(); err != nil {
		return err
	}
	return c.Sessions.validate()
}

func (d DatabaseConfig) validate() error {
	if d.URL == "" {
		return errors.New("database URL is required (PORTAL_DATABASE_URL)")
	}
	if d.MaxIdleConns > d.MaxOpenConns {
		return fmt.Errorf("database max idle connections (%d) exceed max open connections (%d)",
			d.MaxIdleConns, d.MaxOpenConns)
	}
	return nil
}

func (s SessionsConfig) validate() error {
	if s.StaleAfter <= 0 {
		return errors.New("session stale threshold must be positive")
	}
	if _, err := cron.ParseStandard(s.CleanupSchedule); err != nil {
		return fmt.Errorf("invalid session cleanup schedule %q: %w", s.CleanupSchedule, err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server port is required")
	}
	for _, proxy := range c.Server.TrustedProxies {
		if net.ParseIP(proxy) == nil {
			if _, _, err := net.ParseCIDR(proxy); err != nil {
				return fmt.Errorf("invalid trusted proxy %q", proxy)
			}
		}
	}
	if err := c.Database.validate(); err != nil {
		return err
	}
	if err := c.Sessions.validate(); err != nil {
		return err
	}

	if c.Permissions.CacheTTL <= 0 {
		return errors.New("permission cache TTL must be positive")
	}
	if c.Permissions.CacheSize <= 0 {
		return errors.New("permission cache size must be positive")
	}
	if c.Permissions.WatchCatalog && c.Permissions.CatalogPath == "" {
		return errors.New("profile catalog path is required when watching is enabled")
	}

	if len(c.Identity.JWTSecret) < minJWTSecretLength {
		return fmt.Errorf("jwt secret must be at least %d bytes (PORTAL_JWT_SECRET)", minJWTSecretLength)
	}
	if c.Identity.AccessTokenTTL <= 0 {
		return errors.New("access token TTL must be positive")
	}
	if c.Identity.BcryptCost < 4 || c.Identity.BcryptCost > 31 {
		return fmt.Errorf("bcrypt cost %d out of range 4-31", c.Identity.BcryptCost)
	}
	if c.Identity.SignInRatePerMinute <= 0 {
		return errors.New("sign-in rate must be positive")
	}

	if c.Dispatch.Workers <= 0 || c.Dispatch.QueueSize <= 0 {
		return errors.New("dispatch workers and queue size must be positive")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return errors.New("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return errors.New("OpenTelemetry service name is required when OTel is enabled")
		}
		if c.Observability.OTelSampleRatio < 0 || c.Observability.OTelSampleRatio > 1 {
			return errors.New("OpenTelemetry sample ratio must be between 0 and 1")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvList returns the non-empty comma-separated entries of an environment variable
func getEnvList(key string) []string {
	var out []string
	for _, entry := range strings.Split(os.Getenv(key), ",") {
		if entry = strings.TrimSpace(entry); entry != "" {
			out = append(out, entry)
		}
	}
	return out
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
