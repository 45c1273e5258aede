package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	LogLevel  string
	LogFormat string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Gateway GatewayConfig
	Ledger  LedgerConfig
}

// GatewayConfig configures the card gateway client (Cardcom-compatible API).
type GatewayConfig struct {
	BaseURL        string
	TerminalNumber string
	APIName        string
	APIPassword    string
	PaymentPage    string
	VerifyPath     string
	ChargePath     string
	CallbackURL    string
	SuccessURL     string
	FailedURL      string
	TimeoutSeconds int
	MaxRetries     int
}

// LedgerConfig configures the external ledger/eligibility API client.
type LedgerConfig struct {
	BaseURL             string
	APIKey              string
	TokenRegisteredPath string
	EligiblePath        string
	BillingSuccessPath  string
	BillingFailedPath   string
	TimeoutSeconds      int
}

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewBillingConfigHolder),
)

// Load reads configuration from environment variables and an optional .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "payments"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		LogLevel:  getenv("LOG_LEVEL", "info"),
		LogFormat: getenv("LOG_FORMAT", "json"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "payments"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),

		Gateway: GatewayConfig{
			BaseURL:        getenv("GATEWAY_BASE_URL", ""),
			TerminalNumber: getenv("GATEWAY_TERMINAL_NUMBER", ""),
			APIName:        getenv("GATEWAY_API_NAME", ""),
			APIPassword:    strings.TrimSpace(getenv("GATEWAY_API_PASSWORD", "")),
			PaymentPage:    getenv("GATEWAY_PAYMENT_PAGE_PATH", "Interface/LowProfile.aspx"),
			VerifyPath:     getenv("GATEWAY_VERIFY_PATH", "Interface/BillGoldGetLowProfileIndicator.aspx"),
			ChargePath:     getenv("GATEWAY_CHARGE_PATH", "Interface/ChargeToken.aspx"),
			CallbackURL:    getenv("GATEWAY_CALLBACK_URL", ""),
			SuccessURL:     getenv("GATEWAY_SUCCESS_URL", ""),
			FailedURL:      getenv("GATEWAY_FAILED_URL", ""),
			TimeoutSeconds: getenvInt("GATEWAY_TIMEOUT_SECONDS", 30),
			MaxRetries:     getenvInt("GATEWAY_MAX_RETRIES", 3),
		},
		Ledger: LedgerConfig{
			BaseURL:             getenv("LEDGER_BASE_URL", ""),
			APIKey:              strings.TrimSpace(getenv("LEDGER_API_KEY", "")),
			TokenRegisteredPath: getenv("LEDGER_TOKEN_REGISTERED_PATH", "api/payments/token-registered"),
			EligiblePath:        getenv("LEDGER_ELIGIBLE_PATH", "api/payments/eligible-for-billing"),
			BillingSuccessPath:  getenv("LEDGER_BILLING_SUCCESS_PATH", "api/payments/billing-success"),
			BillingFailedPath:   getenv("LEDGER_BILLING_FAILED_PATH", "api/payments/billing-failed"),
			TimeoutSeconds:      getenvInt("LEDGER_TIMEOUT_SECONDS", 30),
		},
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}
