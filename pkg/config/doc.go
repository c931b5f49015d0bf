// Package config loads portal configuration from PORTAL_* environment
// variables, with defaults for everything except the database URL and the
// JWT secret.
//
// Server:
//
//	PORTAL_HOST="0.0.0.0"
//	PORTAL_PORT="8080"
//	PORTAL_READ_TIMEOUT="15s"
//	PORTAL_SHUTDOWN_TIMEOUT="30s"
//	PORTAL_TRUSTED_PROXIES="10.0.0.0/8"   # peers allowed to set X-Forwarded-For
//
// Storage:
//
//	PORTAL_DATABASE_URL="postgres://portal@localhost/portal?sslmode=disable"
//	PORTAL_DATABASE_MAX_OPEN_CONNS="20"
//	PORTAL_REDIS_URL="redis://localhost:6379/0"   # optional
//
// Sessions and permissions:
//
//	PORTAL_SESSION_STALE_AFTER="30m"
//	PORTAL_SESSION_CLEANUP_SCHEDULE="*/5 * * * *"
//	PORTAL_SESSION_JANITOR="false"
//	PORTAL_PERMISSION_CACHE_TTL="5m"
//	PORTAL_PROFILE_CATALOG="/etc/portal/profiles.yaml"
//	PORTAL_PROFILE_CATALOG_WATCH="true"
//
// Identity:
//
//	PORTAL_JWT_SECRET="<at least 32 bytes>"
//	PORTAL_ACCESS_TOKEN_TTL="15m"
//	PORTAL_BCRYPT_COST="12"
//	PORTAL_SIGNIN_RATE_PER_MINUTE="10"
//
// Observability:
//
//	PORTAL_LOG_LEVEL="info"   # debug, info, warn, error
//	PORTAL_LOG_FORMAT="json"  # json, text
//	PORTAL_OTEL_ENABLED="true"
//	PORTAL_OTEL_ENDPOINT="otel-collector:4317"
//	PORTAL_OTEL_SAMPLE_RATIO="0.2"
package config
