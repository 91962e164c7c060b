package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/sitegate/pkg/auth"
	"github.com/platinummonkey/sitegate/pkg/httputil"
	"github.com/platinummonkey/sitegate/pkg/observability"
	"github.com/platinummonkey/sitegate/pkg/ratelimit"
)

// Environment names
const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
	EnvTest        = "test"
)

// Config holds all application configuration
type Config struct {
	// Env is production, development or test
	Env string

	Server        ServerConfig
	Database      DatabaseConfig
	Session       SessionConfig
	RateLimit     RateLimitConfig
	Auth          AuthConfig
	Policy        PolicyConfig
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
	AllowedOrigins  []string
	MaxBodyBytes    int64

	// TrustedProxies are the addresses or CIDR ranges whose
	// X-Forwarded-For and X-Real-IP headers are believed
	TrustedProxies []string

	// Health/metrics server (separate port for k8s probes)
	MetricsPort string
}

// DatabaseConfig holds the connection settings of the backing stores
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// RedisURL selects Redis for sessions and rate limit buckets when set
	RedisURL string
}

// SessionConfig holds session lifetime settings
type SessionConfig struct {
	Timeout       time.Duration
	SweepInterval time.Duration
}

// RateLimitConfig holds admission settings
type RateLimitConfig struct {
	Limiter       ratelimit.Config
	EvictInterval time.Duration
}

// AuthConfig selects and configures the credential verifier. Exactly one of
// JWTSecret and OIDCIssuerURL must be set.
type AuthConfig struct {
	JWTSecret        string
	JWTIssuer        string
	OIDCIssuerURL    string
	OIDCClientID     string
	RefreshThreshold time.Duration
}

// PolicyConfig holds policy engine settings
type PolicyConfig struct {
	CacheSize   int
	CacheTTL    time.Duration
	PresetsPath string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// Development reports whether internal error details may be exposed
func (c *Config) Development() bool {
	return c.Env == EnvDevelopment
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Env:           strings.ToLower(getEnv("SITEGATE_ENV", EnvProduction)),
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Session:       loadSessionConfig(),
		RateLimit:     loadRateLimitConfig(),
		Auth:          loadAuthConfig(),
		Policy:        loadPolicyConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("SITEGATE_HOST", "0.0.0.0"),
		Port:            getEnv("SITEGATE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("SITEGATE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("SITEGATE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("SITEGATE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("SITEGATE_SHUTDOWN_TIMEOUT", 30*time.Second),
		AllowedOrigins:  getEnvList("SITEGATE_CORS_ORIGINS"),
		MaxBodyBytes:    getEnvInt64("SITEGATE_MAX_BODY_BYTES", 1<<20),
		TrustedProxies:  getEnvList("SITEGATE_TRUSTED_PROXIES"),
		MetricsPort:     getEnv("SITEGATE_METRICS_PORT", "9090"),
	}
}

// loadDatabaseConfig loads store configuration from environment
func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:             getEnv("SITEGATE_DATABASE_URL", ""),
		MaxOpenConns:    getEnvInt("SITEGATE_DATABASE_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvInt("SITEGATE_DATABASE_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("SITEGATE_DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		RedisURL:        getEnv("SITEGATE_REDIS_URL", ""),
	}
}

// loadSessionConfig loads session configuration from environment
func loadSessionConfig() SessionConfig {
	return SessionConfig{
		Timeout:       getEnvDuration("SITEGATE_SESSION_TIMEOUT", 30*time.Minute),
		SweepInterval: getEnvDuration("SITEGATE_SESSION_SWEEP_INTERVAL", 5*time.Minute),
	}
}

// loadRateLimitConfig loads admission configuration from environment
func loadRateLimitConfig() RateLimitConfig {
	limiter := ratelimit.DefaultConfig()
	limiter.Window = getEnvDuration("SITEGATE_RATE_LIMIT_WINDOW", limiter.Window)
	limiter.IPMultiplier = getEnvFloat("SITEGATE_RATE_LIMIT_IP_MULTIPLIER", limiter.IPMultiplier)
	limiter.Disabled = getEnvBool("SITEGATE_RATE_LIMIT_DISABLED", false)
	limiter.FailOpen = getEnvBool("SITEGATE_RATE_LIMIT_FAIL_OPEN", false)
	limiter.EvictAfter = getEnvDuration("SITEGATE_RATE_LIMIT_EVICT_AFTER", limiter.EvictAfter)

	for _, role := range auth.AllRoles() {
		tier := limiter.Tiers[role]
		tier.Limit = getEnvInt("SITEGATE_RATE_LIMIT_"+string(role), tier.Limit)
		limiter.Tiers[role] = tier
	}

	return RateLimitConfig{
		Limiter:       limiter,
		EvictInterval: getEnvDuration("SITEGATE_RATE_LIMIT_EVICT_INTERVAL", 5*time.Minute),
	}
}

// loadAuthConfig loads verifier configuration from environment
func loadAuthConfig() AuthConfig {
	return AuthConfig{
		JWTSecret:        getEnv("SITEGATE_JWT_SECRET", ""),
		JWTIssuer:        getEnv("SITEGATE_JWT_ISSUER", "sitegate"),
		OIDCIssuerURL:    getEnv("SITEGATE_OIDC_ISSUER_URL", ""),
		OIDCClientID:     getEnv("SITEGATE_OIDC_CLIENT_ID", ""),
		RefreshThreshold: getEnvDuration("SITEGATE_TOKEN_REFRESH_THRESHOLD", 5*time.Minute),
	}
}

// loadPolicyConfig loads policy engine configuration from environment
func loadPolicyConfig() PolicyConfig {
	return PolicyConfig{
		CacheSize:   getEnvInt("SITEGATE_POLICY_CACHE_SIZE", 10000),
		CacheTTL:    getEnvDuration("SITEGATE_POLICY_CACHE_TTL", 30*time.Second),
		PresetsPath: getEnv("SITEGATE_ACCESS_PRESETS_PATH", ""),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("SITEGATE_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("SITEGATE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("SITEGATE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("SITEGATE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("SITEGATE_OTEL_SERVICE_NAME", "sitegate"),
		OTelServiceVersion: getEnv("SITEGATE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("SITEGATE_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Env {
	case EnvProduction, EnvDevelopment, EnvTest:
	default:
		return fmt.Errorf("invalid environment: %s (must be production, development, or test)", c.Env)
	}

	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.MetricsPort == "" {
		return fmt.Errorf("metrics port is required")
	}
	if c.Server.Port == c.Server.MetricsPort {
		return fmt.Errorf("server port and metrics port must be different")
	}
	if _, err := httputil.ParseTrustedProxies(c.Server.TrustedProxies); err != nil {
		return err
	}

	// Validate stores
	if c.Env == EnvProduction && c.Database.URL == "" {
		return fmt.Errorf("database URL is required in production")
	}

	// Validate sessions
	if c.Session.Timeout <= 0 {
		return fmt.Errorf("session timeout must be positive")
	}
	if c.Session.SweepInterval <= 0 {
		return fmt.Errorf("session sweep interval must be positive")
	}

	// Validate rate limiting
	if c.RateLimit.Limiter.Disabled && c.Env != EnvTest {
		return fmt.Errorf("rate limiting may only be disabled in the test environment")
	}
	if err := c.RateLimit.Limiter.Validate(); err != nil {
		return err
	}
	if c.RateLimit.EvictInterval <= 0 {
		return fmt.Errorf("rate limit eviction interval must be positive")
	}

	// Validate verifier
	hasJWT := c.Auth.JWTSecret != ""
	hasOIDC := c.Auth.OIDCIssuerURL != ""
	switch {
	case hasJWT && hasOIDC:
		return fmt.Errorf("configure either a JWT secret or an OIDC issuer, not both")
	case !hasJWT && !hasOIDC:
		return fmt.Errorf("a JWT secret or an OIDC issuer is required")
	case hasOIDC && c.Auth.OIDCClientID == "":
		return fmt.Errorf("OIDC client id is required with an OIDC issuer")
	case hasJWT && len(c.Auth.JWTSecret) < 32 && c.Env == EnvProduction:
		return fmt.Errorf("JWT secret must be at least 32 bytes in production")
	}
	if c.Auth.RefreshThreshold < 0 {
		return fmt.Errorf("token refresh threshold must not be negative")
	}

	// Validate policy
	if c.Policy.CacheSize < 0 {
		return fmt.Errorf("policy cache size must not be negative")
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
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

// getEnvList returns a comma separated environment variable as a list
func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
