package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "payments", cfg.AppName)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "postgres", cfg.DBType)
	assert.Equal(t, "Interface/LowProfile.aspx", cfg.Gateway.PaymentPage)
	assert.Equal(t, "Interface/BillGoldGetLowProfileIndicator.aspx", cfg.Gateway.VerifyPath)
	assert.Equal(t, "Interface/ChargeToken.aspx", cfg.Gateway.ChargePath)
	assert.Equal(t, 30, cfg.Gateway.TimeoutSeconds)
	assert.Equal(t, 3, cfg.Gateway.MaxRetries)
	assert.Equal(t, "api/payments/eligible-for-billing", cfg.Ledger.EligiblePath)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("DATABASE_TYPE", "sqlite")
	t.Setenv("GATEWAY_TERMINAL_NUMBER", "1234")
	t.Setenv("GATEWAY_API_PASSWORD", "  hush  ")
	t.Setenv("GATEWAY_TIMEOUT_SECONDS", "nonsense")
	t.Setenv("LEDGER_API_KEY", "key-1")

	cfg := Load()

	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "sqlite", cfg.DBType)
	assert.Equal(t, "1234", cfg.Gateway.TerminalNumber)
	assert.Equal(t, "hush", cfg.Gateway.APIPassword, "password should be trimmed")
	assert.Equal(t, 30, cfg.Gateway.TimeoutSeconds, "unparseable int falls back to default")
	assert.Equal(t, "key-1", cfg.Ledger.APIKey)
}

func TestDefaultBillingConfig(t *testing.T) {
	cfg := DefaultBillingConfig()

	assert.Equal(t, int64(5000), cfg.DefaultMonthlyAmount)
	assert.Equal(t, 1, cfg.DefaultCoinID)
	assert.Equal(t, 24*time.Hour, cfg.ReconcileInterval)
	assert.Equal(t, 30*time.Minute, cfg.RunTimeout)
	require.NoError(t, validateBillingConfig(cfg))
}

func TestValidateBillingConfig(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*BillingConfig)
		wantErr bool
	}{
		{"defaults pass", func(*BillingConfig) {}, false},
		{"zero monthly amount allowed", func(c *BillingConfig) { c.DefaultMonthlyAmount = 0 }, false},
		{"negative monthly amount", func(c *BillingConfig) { c.DefaultMonthlyAmount = -1 }, true},
		{"zero coin id", func(c *BillingConfig) { c.DefaultCoinID = 0 }, true},
		{"zero interval", func(c *BillingConfig) { c.ReconcileInterval = 0 }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultBillingConfig()
			tc.mutate(&cfg)
			err := validateBillingConfig(cfg)
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestStaticBillingConfigHolder(t *testing.T) {
	cfg := DefaultBillingConfig()
	cfg.DefaultMonthlyAmount = 7500

	holder := NewStaticBillingConfigHolder(cfg)
	require.Equal(t, int64(7500), holder.Get().DefaultMonthlyAmount)
}
