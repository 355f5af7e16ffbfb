package config_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/payrelay/internal/config"
)

func baseEnv() map[string]string {
	return map[string]string{
		"STRIPE_SECRET_KEY":           "sk_test_123",
		"STRIPE_WEBHOOK_SECRET":       "whsec_123",
		"TAX_RATE":                    "",
		"RELAY_RETRY_MODE":            "",
		"REDIS_URL":                   "",
		"RELAY_RETRY_DELAY":           "",
		"CURRENCY":                    "",
		"CHECKOUT_ALLOW_TAX_OVERRIDE": "",
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.LoadForTests(baseEnv())
	require.NoError(t, err)

	require.Equal(t, 0.10, cfg.TaxRate)
	require.False(t, cfg.TaxRateDegraded())
	require.Equal(t, "mxn", cfg.Currency)
	require.Equal(t, config.RetryModeInProcess, cfg.RelayRetryMode)
	require.Equal(t, 30*time.Second, cfg.RelayRetryDelay)
	require.Equal(t, ":8080", cfg.HTTPAddr())
	require.False(t, cfg.AllowTaxOverride)
}

func TestTaxOverrideFlag(t *testing.T) {
	env := baseEnv()
	env["CHECKOUT_ALLOW_TAX_OVERRIDE"] = "true"
	cfg, err := config.LoadForTests(env)
	require.NoError(t, err)
	require.True(t, cfg.AllowTaxOverride)

	env["CHECKOUT_ALLOW_TAX_OVERRIDE"] = "maybe"
	cfg, err = config.LoadForTests(env)
	require.NoError(t, err)
	require.False(t, cfg.AllowTaxOverride)
}

func TestLoadRequiresStripeSecrets(t *testing.T) {
	env := baseEnv()
	env["STRIPE_SECRET_KEY"] = ""
	_, err := config.LoadForTests(env)
	require.ErrorContains(t, err, "STRIPE_SECRET_KEY")

	env = baseEnv()
	env["STRIPE_WEBHOOK_SECRET"] = ""
	_, err = config.LoadForTests(env)
	require.ErrorContains(t, err, "STRIPE_WEBHOOK_SECRET")
}

func TestMalformedTaxRateDegrades(t *testing.T) {
	env := baseEnv()
	env["TAX_RATE"] = "ten percent"
	cfg, err := config.LoadForTests(env)
	require.NoError(t, err)
	require.True(t, math.IsNaN(cfg.TaxRate))
	require.True(t, cfg.TaxRateDegraded())

	env["TAX_RATE"] = "0.16"
	cfg, err = config.LoadForTests(env)
	require.NoError(t, err)
	require.Equal(t, 0.16, cfg.TaxRate)
}

func TestAsynqRetryModeNeedsRedis(t *testing.T) {
	env := baseEnv()
	env["RELAY_RETRY_MODE"] = "asynq"
	_, err := config.LoadForTests(env)
	require.ErrorContains(t, err, "REDIS_URL")

	env["REDIS_URL"] = "redis://localhost:6379/0"
	cfg, err := config.LoadForTests(env)
	require.NoError(t, err)
	require.Equal(t, config.RetryModeAsynq, cfg.RelayRetryMode)

	env["RELAY_RETRY_MODE"] = "carrier-pigeon"
	_, err = config.LoadForTests(env)
	require.Error(t, err)
}

func TestInvalidDurationsFallBack(t *testing.T) {
	env := baseEnv()
	env["RELAY_RETRY_DELAY"] = "soon"
	env["CURRENCY"] = "USD"
	cfg, err := config.LoadForTests(env)
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, cfg.RelayRetryDelay)
	require.Equal(t, "usd", cfg.Currency)
}
