// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from SITEGATE_* environment
// variables with defaults for every setting except the database URL and the
// credential verifier.
//
// # Configuration Structure
//
// Server settings:
//
//	SITEGATE_ENV="production"  # production, development, test
//	SITEGATE_HOST="0.0.0.0"
//	SITEGATE_PORT="8080"
//	SITEGATE_METRICS_PORT="9090"
//	SITEGATE_CORS_ORIGINS="https://app.example.com"
//
// Store settings:
//
//	SITEGATE_DATABASE_URL="postgres://localhost/sitegate?sslmode=disable"
//	SITEGATE_REDIS_URL="redis://localhost:6379/0"  # sessions and rate limit buckets
//
// Sessions and admission:
//
//	SITEGATE_SESSION_TIMEOUT="30m"
//	SITEGATE_SESSION_SWEEP_INTERVAL="5m"
//	SITEGATE_RATE_LIMIT_WINDOW="1m"
//	SITEGATE_RATE_LIMIT_ADMIN="1000"
//	SITEGATE_RATE_LIMIT_STAFF="600"
//	SITEGATE_RATE_LIMIT_CONTRACTOR="300"
//	SITEGATE_RATE_LIMIT_VIEWER="120"
//	SITEGATE_RATE_LIMIT_IP_MULTIPLIER="1.5"
//	SITEGATE_RATE_LIMIT_DISABLED="false"  # rejected unless SITEGATE_ENV=test
//
// Credentials, one of:
//
//	SITEGATE_JWT_SECRET="..."  SITEGATE_JWT_ISSUER="sitegate"
//	SITEGATE_OIDC_ISSUER_URL="https://id.example.com"  SITEGATE_OIDC_CLIENT_ID="sitegate"
//
// Policy settings:
//
//	SITEGATE_POLICY_CACHE_SIZE="10000"
//	SITEGATE_POLICY_CACHE_TTL="30s"
//	SITEGATE_ACCESS_PRESETS_PATH="/etc/sitegate/presets.yaml"
//
// Observability settings:
//
//	SITEGATE_LOG_LEVEL="info"  # debug, info, warn, error
//	SITEGATE_METRICS_ENABLED="true"
//	SITEGATE_OTEL_ENABLED="true"
//	SITEGATE_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//	limiter := ratelimit.New(store, cfg.RateLimit.Limiter, logger)
package config
