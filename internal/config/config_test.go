package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/emspub-checkout/internal/config"
)

func TestLoadRequiresDatabaseAndRedis(t *testing.T) {
	_, err := config.LoadForTests(map[string]string{"DATABASE_URL": "", "REDIS_URL": "redis://localhost:6379/0"})
	require.EqualError(t, err, "DATABASE_URL is required")

	_, err = config.LoadForTests(map[string]string{"DATABASE_URL": "postgres://localhost/pay", "REDIS_URL": ""})
	require.EqualError(t, err, "REDIS_URL is required")
}

func TestLoadPaymentDefaults(t *testing.T) {
	cfg, err := config.LoadForTests(map[string]string{
		"DATABASE_URL":         "postgres://localhost/pay",
		"REDIS_URL":            "redis://localhost:6379/0",
		"PUBLIC_BASE_URL":      "https://journal.example/",
		"PAYMENT_SANDBOX":      "",
		"PAYMENT_METHOD_TYPES": "",
		"GATEWAY_TIMEOUT":      "not-a-duration",
	})
	require.NoError(t, err)
	require.Equal(t, "https://journal.example", cfg.PublicBaseURL)
	require.False(t, cfg.PaymentSandbox)
	require.Equal(t, []string{"card"}, cfg.PaymentMethodTypes)
	require.Equal(t, "EmsPubStripePayment", cfg.PaymentMethodName)
	require.Equal(t, []string{"direct_intent", "hosted_page"}, cfg.PaymentStrategies)
	require.Equal(t, 10*time.Second, cfg.GatewayTimeout)
	require.True(t, cfg.SecurityHeadersEnabled)
	require.Equal(t, ":8080", cfg.HTTPAddr())
}

func TestLoadSandboxAndMethodTypes(t *testing.T) {
	cfg, err := config.LoadForTests(map[string]string{
		"DATABASE_URL":         "postgres://localhost/pay",
		"REDIS_URL":            "redis://localhost:6379/0",
		"PAYMENT_SANDBOX":      "yes",
		"PAYMENT_METHOD_TYPES": "card, link ,",
		"PAYMENT_STRATEGIES":   "hosted_page",
		"PORT":                 ":9000",
	})
	require.NoError(t, err)
	require.True(t, cfg.PaymentSandbox)
	require.Equal(t, []string{"card", "link"}, cfg.PaymentMethodTypes)
	require.Equal(t, []string{"hosted_page"}, cfg.PaymentStrategies)
	require.Equal(t, ":9000", cfg.HTTPAddr())
}

func TestParseBool(t *testing.T) {
	for _, v := range []string{"1", "true", "TRUE", " on ", "yes"} {
		require.True(t, config.ParseBool(v), v)
	}
	for _, v := range []string{"", "0", "false", "off", "nope"} {
		require.False(t, config.ParseBool(v), v)
	}
}
