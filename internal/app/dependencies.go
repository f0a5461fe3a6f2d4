package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	limiter "github.com/ulule/limiter/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/emspub-checkout/internal/auth"
	"github.com/noah-isme/emspub-checkout/internal/config"
	"github.com/noah-isme/emspub-checkout/internal/db"
	"github.com/noah-isme/emspub-checkout/internal/obs"
	"github.com/noah-isme/emspub-checkout/internal/ratelimit"
	"github.com/noah-isme/emspub-checkout/internal/resilience"
)

// Dependencies holds the long-lived clients shared by every handler.
type Dependencies struct {
	DB           *pgxpool.Pool
	Redis        *redis.Client
	Validator    *validator.Validate
	LimiterStore limiter.Store
	// Tokens is nil when ADMIN_JWT_SECRET is unset; admin routes are then
	// not mounted.
	Tokens     *auth.Tokens
	Breaker    *resilience.Breaker
	HTTPClient *http.Client

	shutdownTracing func(context.Context) error
}

// Open connects to Postgres and Redis, runs migrations when enabled and
// prepares the outbound gateway client.
func Open(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Dependencies, error) {
	deps := &Dependencies{Validator: validator.New()}

	shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
		ServiceName:   cfg.ServiceName,
		Endpoint:      cfg.OTLPEndpoint,
		Exporter:      cfg.TracingExporter,
		SamplingRatio: cfg.TracingSampleRatio,
		Environment:   cfg.AppEnv,
		Logger:        logger,
	})
	if err != nil {
		logger.Error().Err(err).Msg("initialise tracing")
	} else {
		deps.shutdownTracing = shutdown
	}

	if cfg.RunMigrations {
		if err := db.Migrate(cfg.DatabaseURL); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info().Msg("migrations applied")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = cfg.ServiceName

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	deps.DB = pool
	if err := pool.Ping(connectCtx); err != nil {
		deps.Close(ctx, logger)
		return nil, fmt.Errorf("ping database: %w", err)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		deps.Close(ctx, logger)
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	deps.Redis = redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(deps.Redis); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisotel.InstrumentMetrics(deps.Redis); err != nil {
		logger.Error().Err(err).Msg("instrument redis metrics")
	}
	if err := deps.Redis.Ping(connectCtx).Err(); err != nil {
		deps.Close(ctx, logger)
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	deps.LimiterStore, err = ratelimit.NewStore(deps.Redis, cfg.AdminRateLimitKey)
	if err != nil {
		deps.Close(ctx, logger)
		return nil, fmt.Errorf("limiter store: %w", err)
	}

	if cfg.AdminJWTSecret != "" {
		deps.Tokens, err = auth.NewTokens(auth.Config{
			Secret:   cfg.AdminJWTSecret,
			Issuer:   cfg.AdminJWTIssuer,
			Audience: cfg.AdminJWTAudience,
			TTL:      cfg.AdminTokenTTL,
		})
		if err != nil {
			deps.Close(ctx, logger)
			return nil, fmt.Errorf("admin tokens: %w", err)
		}
	} else {
		logger.Warn().Msg("ADMIN_JWT_SECRET not set; admin routes disabled")
	}

	deps.Breaker, deps.HTTPClient = GatewayClient(cfg, logger)
	return deps, nil
}

// GatewayClient returns the breaker-guarded, traced client used for all
// payment provider calls.
func GatewayClient(cfg *config.Config, logger zerolog.Logger) (*resilience.Breaker, *http.Client) {
	resilience.RegisterMetrics(cfg.MetricsNamespace, nil)
	breaker := resilience.NewBreaker(resilience.Options{
		MinRequests:  cfg.GatewayBreakerMinReqs,
		FailureRatio: cfg.GatewayBreakerRatio,
		OpenFor:      cfg.GatewayBreakerOpenFor,
		Target:       "stripe",
		Logger:       logger,
	})
	transport := &resilience.Transport{
		Base:    http.DefaultTransport,
		Breaker: breaker,
		Timeout: cfg.GatewayTimeout,
	}
	return breaker, &http.Client{Transport: otelhttp.NewTransport(transport)}
}

// Close releases every client Open created.
func (d *Dependencies) Close(ctx context.Context, logger zerolog.Logger) {
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}
	if d.DB != nil {
		d.DB.Close()
	}
	if d.shutdownTracing != nil {
		if err := d.shutdownTracing(ctx); err != nil {
			logger.Error().Err(err).Msg("shutdown tracer")
		}
	}
}

type readinessChecker struct {
	db    *pgxpool.Pool
	redis *redis.Client
}

func (c readinessChecker) PingDB(ctx context.Context, timeout time.Duration) error {
	if c.db == nil {
		return errors.New("db not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.db.Ping(ctx)
}

func (c readinessChecker) PingRedis(ctx context.Context, timeout time.Duration) error {
	if c.redis == nil {
		return errors.New("redis not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.redis.Ping(ctx).Err()
}
