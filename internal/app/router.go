package app

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/noah-isme/emspub-checkout/internal/audit"
	"github.com/noah-isme/emspub-checkout/internal/auth"
	"github.com/noah-isme/emspub-checkout/internal/billing"
	"github.com/noah-isme/emspub-checkout/internal/common"
	"github.com/noah-isme/emspub-checkout/internal/config"
	"github.com/noah-isme/emspub-checkout/internal/db"
	"github.com/noah-isme/emspub-checkout/internal/health"
	"github.com/noah-isme/emspub-checkout/internal/lock"
	"github.com/noah-isme/emspub-checkout/internal/obs"
	"github.com/noah-isme/emspub-checkout/internal/payment"
	"github.com/noah-isme/emspub-checkout/internal/ratelimit"
	"github.com/noah-isme/emspub-checkout/internal/sandbox"
	"github.com/noah-isme/emspub-checkout/internal/security"
	"github.com/noah-isme/emspub-checkout/internal/settings"
	"github.com/noah-isme/emspub-checkout/internal/tenant"
)

// NewRouter wires every handler onto a chi router.
func NewRouter(cfg *config.Config, deps *Dependencies, logger zerolog.Logger) (http.Handler, error) {
	obs.MustRegisterDomainMetrics(cfg.MetricsNamespace, nil)
	httpMetrics := obs.NewHTTPMetrics(cfg.MetricsNamespace, obs.ParseBucketsCSV(cfg.HTTPBuckets), nil)
	diagnostics := obs.Diagnostics(logger)

	queries := db.New(deps.DB)
	settingsProvider := settings.Provider{Store: settings.PGStore{Q: queries, Plugin: cfg.PaymentMethodName}}
	payments := billing.NewStore(deps.DB)

	flag := sandbox.RedisFlag{Client: deps.Redis, Key: cfg.PaymentSandboxRedisKey, Fallback: cfg.PaymentSandbox}
	guard := sandbox.Guard{Flag: flag, Logger: logger}

	strategies, err := payment.StrategiesByName(cfg.PaymentStrategies)
	if err != nil {
		return nil, fmt.Errorf("payment strategies: %w", err)
	}
	stripe := payment.NewStripeFactory(payment.StripeConfig{
		BaseURL:           cfg.StripeAPIBaseURL,
		HTTPClient:        deps.HTTPClient,
		MaxNetworkRetries: cfg.StripeMaxNetworkRetries,
		Logger:            logger,
	})
	links := payment.Links{BaseURL: cfg.PublicBaseURL, Method: cfg.PaymentMethodName}

	coordinator := &payment.Coordinator{
		Billing: payments,
		Method:  cfg.PaymentMethodName,
		Lock:    lock.Locker{R: deps.Redis, Prefix: "lock:", MaxWait: cfg.FulfillLockWait},
		LockTTL: cfg.FulfillLockTTL,
		Logger:  logger,
	}
	checkout := &payment.Handler{
		Guard: guard,
		Builder: &payment.SessionBuilder{
			Payments:    payments,
			Settings:    settingsProvider,
			Gateways:    stripe,
			Strategies:  strategies,
			Links:       links,
			MethodTypes: cfg.PaymentMethodTypes,
			Logger:      logger,
			Diagnostics: diagnostics,
		},
		Returns: &payment.ReturnHandler{
			Payments:    payments,
			Settings:    settingsProvider,
			Gateways:    stripe,
			Coordinator: coordinator,
			Links:       links,
			Logger:      logger,
			Diagnostics: diagnostics,
		},
		Webhooks: &payment.WebhookProcessor{
			Payments:    payments,
			Settings:    settingsProvider,
			Gateways:    stripe,
			Verifier:    stripe,
			Coordinator: coordinator,
			Replay:      deps.Redis,
			ReplayTTL:   cfg.WebhookReplayTTL,
			Logger:      logger,
			Diagnostics: diagnostics,
		},
		Links:  links,
		Logger: logger,
	}

	idem := common.Idem{R: deps.Redis, TTL: cfg.IdempotencyTTL, Scope: tenantScope}
	payThrottle := checkoutThrottle(deps, "pay", cfg.PayRateLimitMax, cfg.PayRateLimitWindow, logger)
	returnThrottle := checkoutThrottle(deps, "return", cfg.ReturnRateLimitMax, cfg.ReturnRateLimitWindow, logger)
	checkout.Middleware = payment.RouteMiddleware{
		Pay:      []func(http.Handler) http.Handler{payThrottle.Middleware},
		Sessions: []func(http.Handler) http.Handler{payThrottle.Middleware, idem.Middleware},
		Return:   []func(http.Handler) http.Handler{returnThrottle.Middleware},
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(tenant.NewResolver(cfg.TenantHeader, cfg.TenantRootDomain, cfg.DefaultTenant).Middleware)
	r.Use(obs.TracingMiddleware)
	r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{Enable: cfg.SecurityHeadersEnabled, EnableHSTS: cfg.SecurityHSTSEnabled}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(cfg),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", cfg.TenantHeader},
		MaxAge:         300,
	}))
	r.Use(security.BodyLimit{
		Max:       cfg.MaxRequestBodyBytes,
		Overrides: map[string]int64{"/webhooks/": payment.MaxWebhookBody},
	}.Middleware)

	r.Handle("/metrics", promhttp.Handler())

	healthHandler := health.Handler{
		Checker: readinessChecker{db: deps.DB, redis: deps.Redis},
	}
	if deps.Breaker != nil {
		healthHandler.Gateway = func() health.GatewayState { return deps.Breaker.State() }
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/payment/plugin/{method}", func(p chi.Router) {
		p.Use(tenant.Require)
		checkout.Routes(p)
	})
	r.With(tenant.Require).Post("/webhooks/payment/{method}", checkout.Webhook)

	if deps.Tokens == nil {
		return r, nil
	}

	operator := auth.Middleware{Tokens: deps.Tokens}
	adminLimit, err := ratelimit.NewFixedWindow(deps.LimiterStore, cfg.AdminRateLimit, operatorKey, logger)
	if err != nil {
		return nil, err
	}
	settingsHandler := &settings.Handler{Provider: settingsProvider, Validator: deps.Validator, Logger: logger}
	sandboxHandler := sandbox.Handler{Flag: flag, Logger: logger}
	auditStore := audit.Store(queries)
	recorder := audit.HTTPRecorder{
		Service: audit.Service{Store: auditStore, Enabled: cfg.AuditEnabled},
		OnError: func(err error) { logger.Error().Err(err).Msg("record audit entry") },
	}

	r.Route("/admin", func(a chi.Router) {
		a.Use(operator.RequireOperator)
		a.Use(adminLimit)
		a.Get("/sandbox", sandboxHandler.Get)
		a.With(recorder.Middleware(audit.HTTPConfig{Action: "sandbox.set", Resource: "sandbox"})).
			Put("/sandbox", sandboxHandler.Put)
		a.Group(func(t chi.Router) {
			t.Use(tenant.Require)
			t.Get("/payment-settings", settingsHandler.Get)
			t.With(recorder.Middleware(audit.HTTPConfig{Action: "payment_settings.update", Resource: "payment-settings"})).
				Put("/payment-settings", settingsHandler.Put)
			t.Get("/audit", audit.Handler{Store: auditStore}.List)
		})
	})
	return r, nil
}

// checkoutThrottle limits one checkout route family per tenant and client
// address. Each name keeps its own Redis keys and budget.
func checkoutThrottle(deps *Dependencies, name string, max int, window time.Duration, logger zerolog.Logger) ratelimit.Handler {
	return ratelimit.Handler{
		Limiter: ratelimit.Limiter{Client: deps.Redis, Prefix: "rl:" + name + ":"},
		Config: ratelimit.Config{
			Key:    ratelimit.ByTenantAndIP(name),
			Window: window,
			Max:    max,
		},
		OnError: func(err error) { logger.Warn().Err(err).Str("limiter", name).Msg("checkout rate limiter unavailable") },
	}
}

func tenantScope(r *http.Request) string {
	tenantID, _ := tenant.From(r.Context())
	return tenantID
}

// operatorKey buckets admin traffic per operator and tenant.
func operatorKey(r *http.Request) string {
	subject := "anonymous"
	if claims, ok := auth.FromContext(r.Context()); ok {
		subject = claims.Subject
	}
	return subject + "|" + tenantScope(r)
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}
