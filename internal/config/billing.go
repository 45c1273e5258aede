package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// BillingConfig carries the reconciliation defaults applied when neither the
// ledger's eligibility feed nor the stored token supplies a value.
type BillingConfig struct {
	// DefaultMonthlyAmount is in minor currency units.
	DefaultMonthlyAmount int64         `mapstructure:"defaultMonthlyAmount"`
	DefaultCoinID        int           `mapstructure:"defaultCoinId"`
	ReconcileInterval    time.Duration `mapstructure:"reconcileInterval"`
	RunTimeout           time.Duration `mapstructure:"runTimeout"`
}

func DefaultBillingConfig() BillingConfig {
	return BillingConfig{
		DefaultMonthlyAmount: 5000,
		DefaultCoinID:        1,
		ReconcileInterval:    24 * time.Hour,
		RunTimeout:           30 * time.Minute,
	}
}

type BillingConfigHolder struct {
	current atomic.Value // holds BillingConfig
}

// NewBillingConfigHolder reads billing.yml (if present), validates it, and
// keeps watching it so operators can adjust defaults without a restart.
func NewBillingConfigHolder() (*BillingConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/payments/config")
	v.AddConfigPath("/etc/payments")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PAYMENTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultBillingConfig()
	v.SetDefault("billing.defaultMonthlyAmount", defaults.DefaultMonthlyAmount)
	v.SetDefault("billing.defaultCoinId", defaults.DefaultCoinID)
	v.SetDefault("billing.reconcileInterval", defaults.ReconcileInterval)
	v.SetDefault("billing.runTimeout", defaults.RunTimeout)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg BillingConfig
	if err := v.UnmarshalKey("billing", &cfg); err != nil {
		return nil, err
	}
	if err := validateBillingConfig(cfg); err != nil {
		return nil, err
	}

	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated BillingConfig
		if err := v.UnmarshalKey("billing", &updated); err != nil {
			log.Printf("[billing-config] reload failed: %v", err)
			return
		}
		if err := validateBillingConfig(updated); err != nil {
			log.Printf("[billing-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[billing-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticBillingConfigHolder wraps a fixed config, with no file watching.
func NewStaticBillingConfigHolder(cfg BillingConfig) *BillingConfigHolder {
	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *BillingConfigHolder) Get() BillingConfig {
	return h.current.Load().(BillingConfig)
}

func validateBillingConfig(cfg BillingConfig) error {
	if cfg.DefaultMonthlyAmount < 0 {
		return errors.New("billing.defaultMonthlyAmount cannot be negative")
	}
	if cfg.DefaultCoinID <= 0 {
		return errors.New("billing.defaultCoinId must be positive")
	}
	if cfg.ReconcileInterval <= 0 {
		return errors.New("billing.reconcileInterval must be positive")
	}
	return nil
}
