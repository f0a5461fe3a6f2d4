// Package sandbox decides whether the deployment may process real payments.
package sandbox

import (
	"context"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/emspub-checkout/internal/config"
)

// Flag reports the current sandbox setting.
type Flag interface {
	Sandbox(ctx context.Context) (bool, error)
}

// Static is a fixed sandbox value, typically taken from PAYMENT_SANDBOX.
type Static bool

// Sandbox implements Flag.
func (s Static) Sandbox(context.Context) (bool, error) { return bool(s), nil }

// RedisFlag reads the sandbox switch from a Redis key so operators can flip it
// without a redeploy. A missing key falls back to the static default.
type RedisFlag struct {
	Client   *redis.Client
	Key      string
	Fallback bool
}

// Sandbox implements Flag.
func (f RedisFlag) Sandbox(ctx context.Context) (bool, error) {
	if f.Client == nil || strings.TrimSpace(f.Key) == "" {
		return f.Fallback, nil
	}
	value, err := f.Client.Get(ctx, f.Key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return f.Fallback, nil
		}
		return false, err
	}
	return config.ParseBool(value), nil
}

// Set stores the switch. Used by operators and tests.
func (f RedisFlag) Set(ctx context.Context, enabled bool) error {
	if f.Client == nil {
		return errors.New("sandbox: redis client not configured")
	}
	value := "false"
	if enabled {
		value = "true"
	}
	return f.Client.Set(ctx, f.Key, value, 0).Err()
}

// Guard evaluates the flag once per entry point. Nothing is cached between
// calls so a flipped switch applies to the next request.
type Guard struct {
	Flag   Flag
	Logger zerolog.Logger
}

// Engaged reports whether payment processing is disabled. A flag that cannot
// be read counts as engaged: no payment traffic leaves the process while the
// deployment mode is unknown.
func (g Guard) Engaged(ctx context.Context) bool {
	if g.Flag == nil {
		return false
	}
	on, err := g.Flag.Sandbox(ctx)
	if err != nil {
		g.Logger.Error().Err(err).Msg("sandbox flag unreadable; treating deployment as sandbox")
		return true
	}
	return on
}
