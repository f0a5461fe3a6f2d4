package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	PublicBaseURL      string
	CORSAllowedOrigins []string
	RunMigrations      bool

	LogLevel           string
	LogFormat          string
	ServiceName        string
	TracingExporter    string
	OTLPEndpoint       string
	TracingSampleRatio float64
	MetricsNamespace   string
	HTTPBuckets        string

	AdminJWTSecret    string
	AdminJWTIssuer    string
	AdminJWTAudience  string
	AdminTokenTTL     time.Duration
	AdminRateLimit    string
	AdminRateLimitKey string
	AuditEnabled      bool

	TenantHeader     string
	TenantRootDomain string
	DefaultTenant    string

	PaymentSandbox         bool
	PaymentSandboxRedisKey string
	PaymentMethodName      string
	PaymentMethodTypes     []string
	PaymentStrategies      []string

	StripeAPIBaseURL        string
	StripeMaxNetworkRetries int64
	GatewayTimeout          time.Duration
	GatewayBreakerMinReqs   int
	GatewayBreakerRatio     float64
	GatewayBreakerOpenFor   time.Duration
	FulfillLockTTL          time.Duration
	FulfillLockWait         time.Duration
	WebhookReplayTTL        time.Duration
	IdempotencyTTL          time.Duration
	PayRateLimitMax         int
	PayRateLimitWindow      time.Duration
	ReturnRateLimitMax      int
	ReturnRateLimitWindow   time.Duration
	MaxRequestBodyBytes     int64
	SecurityHeadersEnabled  bool
	SecurityHSTSEnabled     bool
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		PublicBaseURL:      strings.TrimRight(valueOrDefault(k.String("PUBLIC_BASE_URL"), "http://localhost:8080"), "/"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		RunMigrations:      parseBool(k.String("RUN_MIGRATIONS")),

		LogLevel:           valueOrDefault(k.String("LOG_LEVEL"), "info"),
		LogFormat:          valueOrDefault(k.String("LOG_FORMAT"), "json"),
		ServiceName:        valueOrDefault(k.String("OTEL_SERVICE_NAME"), "emspub-checkout"),
		TracingExporter:    valueOrDefault(k.String("TRACING_EXPORTER"), "none"),
		OTLPEndpoint:       strings.TrimSpace(k.String("OTEL_EXPORTER_OTLP_ENDPOINT")),
		TracingSampleRatio: parseFloat(k.String("TRACING_SAMPLE_RATIO"), 1),
		MetricsNamespace:   valueOrDefault(k.String("METRICS_NAMESPACE"), "emspub"),
		HTTPBuckets:        valueOrDefault(k.String("HTTP_LATENCY_BUCKETS_MS"), "5,10,25,50,100,250,500,1000,2500,5000"),

		AdminJWTSecret:    strings.TrimSpace(k.String("ADMIN_JWT_SECRET")),
		AdminJWTIssuer:    valueOrDefault(k.String("ADMIN_JWT_ISSUER"), "emspub-checkout"),
		AdminJWTAudience:  valueOrDefault(k.String("ADMIN_JWT_AUDIENCE"), "emspub-admin"),
		AdminTokenTTL:     parseDuration(k.String("ADMIN_TOKEN_TTL"), "1h"),
		AdminRateLimit:    valueOrDefault(k.String("ADMIN_RATE_LIMIT"), "20-M"),
		AdminRateLimitKey: valueOrDefault(k.String("ADMIN_RATE_LIMIT_PREFIX"), "rl:admin"),
		AuditEnabled:      parseBoolDefault(k.String("AUDIT_ENABLED"), true),

		TenantHeader:     valueOrDefault(k.String("TENANT_HEADER"), "X-Tenant-ID"),
		TenantRootDomain: strings.TrimSpace(k.String("TENANT_ROOT_DOMAIN")),
		DefaultTenant:    strings.TrimSpace(k.String("DEFAULT_TENANT")),

		PaymentSandbox:         parseBool(k.String("PAYMENT_SANDBOX")),
		PaymentSandboxRedisKey: valueOrDefault(k.String("PAYMENT_SANDBOX_REDIS_KEY"), "config:general:sandbox"),
		PaymentMethodName:      valueOrDefault(k.String("PAYMENT_METHOD_NAME"), "EmsPubStripePayment"),
		PaymentMethodTypes:     splitAndTrim(valueOrDefault(k.String("PAYMENT_METHOD_TYPES"), "card")),
		PaymentStrategies:      splitAndTrim(valueOrDefault(k.String("PAYMENT_STRATEGIES"), "direct_intent,hosted_page")),

		StripeAPIBaseURL:        strings.TrimSpace(k.String("STRIPE_API_BASE_URL")),
		StripeMaxNetworkRetries: int64(parseInt(k.String("STRIPE_MAX_NETWORK_RETRIES"), 1)),
		GatewayTimeout:          parseDuration(k.String("GATEWAY_TIMEOUT"), "10s"),
		GatewayBreakerMinReqs:   parseInt(k.String("GATEWAY_BREAKER_MIN_REQUESTS"), 5),
		GatewayBreakerRatio:     parseFloat(k.String("GATEWAY_BREAKER_FAILURE_RATIO"), 0.5),
		GatewayBreakerOpenFor:   parseDuration(k.String("GATEWAY_BREAKER_OPEN_FOR"), "30s"),
		FulfillLockTTL:          parseDuration(k.String("FULFILL_LOCK_TTL"), "15s"),
		FulfillLockWait:         parseDuration(k.String("FULFILL_LOCK_WAIT"), "5s"),
		WebhookReplayTTL:        parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "72h"),
		IdempotencyTTL:          parseDuration(k.String("IDEMPOTENCY_TTL"), "10m"),
		PayRateLimitMax:         parseInt(k.String("PAY_RATE_LIMIT_MAX"), 10),
		PayRateLimitWindow:      parseDuration(k.String("PAY_RATE_LIMIT_WINDOW"), "1m"),
		ReturnRateLimitMax:      parseInt(k.String("RETURN_RATE_LIMIT_MAX"), 30),
		ReturnRateLimitWindow:   parseDuration(k.String("RETURN_RATE_LIMIT_WINDOW"), "1m"),
		MaxRequestBodyBytes:     int64(parseInt(k.String("MAX_REQUEST_BODY_BYTES"), 64<<10)),
		SecurityHeadersEnabled:  parseBoolDefault(k.String("SECURITY_HEADERS_ENABLED"), true),
		SecurityHSTSEnabled:     parseBool(k.String("SECURITY_HSTS_ENABLED")),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if len(cfg.PaymentMethodTypes) == 0 {
		cfg.PaymentMethodTypes = []string{"card"}
	}
	if len(cfg.PaymentStrategies) == 0 {
		cfg.PaymentStrategies = []string{"direct_intent", "hosted_page"}
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func parseFloat(value string, fallback float64) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return parsed
}

// ParseBool reports whether value spells an enabled flag. Shared with the
// runtime sandbox flag so both sources accept the same spellings.
func ParseBool(value string) bool {
	return parseBool(value)
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseBoolDefault(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
