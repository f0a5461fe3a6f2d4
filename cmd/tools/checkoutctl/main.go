package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/emspub-checkout/internal/auth"
	"github.com/noah-isme/emspub-checkout/internal/config"
	"github.com/noah-isme/emspub-checkout/internal/db"
	"github.com/noah-isme/emspub-checkout/internal/payment"
	"github.com/noah-isme/emspub-checkout/internal/sandbox"
	"github.com/noah-isme/emspub-checkout/internal/settings"
)

const usage = `checkoutctl manages checkout settings for operators.

Commands:
  settings get  -tenant ID
  settings set  -tenant ID [-account NAME] [-client ID] [-secret KEY] [-webhook SECRET] [-test-mode true|false]
  token         -subject NAME [-tenant ID|*]
  sandbox       status|on|off
  seed          -tenant ID -amount 19.99 -currency USD [-descriptor TEXT] [-user ID]
`

// checkoutctl exits 0 on success, 1 on a failed command and 2 on bad usage.
func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "checkoutctl: %v\n", err)
		os.Exit(2)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := run(ctx, cfg, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "checkoutctl: %v\n", err)
		if errors.Is(err, flag.ErrHelp) || errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		os.Exit(1)
	}
}

var errUsage = errors.New("invalid usage")

func run(ctx context.Context, cfg *config.Config, args []string) error {
	switch args[0] {
	case "settings":
		if len(args) < 2 {
			return errUsage
		}
		return runSettings(ctx, cfg, args[1], args[2:])
	case "token":
		return runToken(cfg, args[1:])
	case "sandbox":
		if len(args) < 2 {
			return errUsage
		}
		return runSandbox(ctx, cfg, args[1])
	case "seed":
		return runSeed(ctx, cfg, args[1:])
	default:
		return errUsage
	}
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

func runSettings(ctx context.Context, cfg *config.Config, action string, args []string) error {
	fs := flag.NewFlagSet("settings "+action, flag.ContinueOnError)
	tenantID := fs.String("tenant", cfg.DefaultTenant, "tenant id")
	account := fs.String("account", "", "Stripe account display name")
	client := fs.String("client", "", "Stripe publishable key")
	secret := fs.String("secret", "", "Stripe secret key")
	webhook := fs.String("webhook", "", "Stripe webhook signing secret")
	testMode := fs.String("test-mode", "", "true or false")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*tenantID) == "" {
		return errors.New("-tenant is required")
	}

	pool, err := openPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()
	provider := settings.Provider{Store: settings.PGStore{Q: db.New(pool), Plugin: cfg.PaymentMethodName}}

	var current settings.PaymentSettings
	switch action {
	case "get":
		current, err = provider.Load(ctx, *tenantID)
	case "set":
		form := settings.Form{}
		fs.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "account":
				form.AccountName = account
			case "client":
				form.ClientID = client
			case "secret":
				form.Secret = secret
			case "webhook":
				form.Webhook = webhook
			case "test-mode":
				form.TestMode = testMode
			}
		})
		current, err = provider.Save(ctx, *tenantID, form)
	default:
		return errUsage
	}
	if err != nil {
		return err
	}
	return printJSON(map[string]any{
		"tenant":            *tenantID,
		"accountName":       current.AccountName,
		"clientId":          current.ClientID,
		"secret":            current.MaskedSecret(),
		"testMode":          current.TestMode,
		"webhookConfigured": current.WebhookSecret != "",
		"configured":        current.Configured(),
	})
}

func runToken(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	subject := fs.String("subject", "", "operator name recorded in the token")
	tenantID := fs.String("tenant", auth.AnyTenant, "tenant the token is scoped to, * for all")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if cfg.AdminJWTSecret == "" {
		return errors.New("ADMIN_JWT_SECRET is not set")
	}
	tokens, err := auth.NewTokens(auth.Config{
		Secret:   cfg.AdminJWTSecret,
		Issuer:   cfg.AdminJWTIssuer,
		Audience: cfg.AdminJWTAudience,
		TTL:      cfg.AdminTokenTTL,
	})
	if err != nil {
		return err
	}
	token, expires, err := tokens.Issue(*subject, *tenantID)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{"token": token, "expiresAt": expires.UTC().Format(time.RFC3339)})
}

func runSandbox(ctx context.Context, cfg *config.Config, action string) error {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	defer func() { _ = rdb.Close() }()
	flagStore := sandbox.RedisFlag{Client: rdb, Key: cfg.PaymentSandboxRedisKey, Fallback: cfg.PaymentSandbox}

	switch action {
	case "on", "off":
		if err := flagStore.Set(ctx, action == "on"); err != nil {
			return err
		}
	case "status":
	default:
		return errUsage
	}
	enabled, err := flagStore.Sandbox(ctx)
	if err != nil {
		return err
	}
	return printJSON(map[string]bool{"sandbox": enabled})
}

func runSeed(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	tenantID := fs.String("tenant", cfg.DefaultTenant, "tenant id")
	amount := fs.String("amount", "", "decimal amount, e.g. 19.99")
	currency := fs.String("currency", "USD", "ISO 4217 currency code")
	descriptor := fs.String("descriptor", "Article publication fee", "line item description")
	userID := fs.String("user", "", "optional payer id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*tenantID) == "" {
		return errors.New("-tenant is required")
	}
	value, err := decimal.NewFromString(*amount)
	if err != nil || !value.IsPositive() || !value.Equal(value.Round(2)) {
		return fmt.Errorf("-amount must be a positive amount with at most two decimals, got %q", *amount)
	}
	code := strings.ToUpper(strings.TrimSpace(*currency))
	if len(code) != 3 {
		return fmt.Errorf("-currency must be a three letter code, got %q", *currency)
	}

	pool, err := openPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	id, err := db.New(pool).InsertQueuedPayment(ctx, db.InsertQueuedPaymentParams{
		TenantID:     *tenantID,
		UserID:       pgtype.Text{String: *userID, Valid: *userID != ""},
		Amount:       value.StringFixed(2),
		CurrencyCode: code,
		Descriptor:   *descriptor,
	})
	if err != nil {
		return fmt.Errorf("insert queued payment: %w", err)
	}
	links := payment.Links{BaseURL: cfg.PublicBaseURL, Method: cfg.PaymentMethodName}
	return printJSON(map[string]any{"queuedPaymentId": id, "payUrl": links.Pay(id)})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
