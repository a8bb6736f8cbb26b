package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/metation/quickpay-checkout/checkout"
	"github.com/metation/quickpay-checkout/infra/opensearch"
)

// App represents the application configuration. Everything is read from
// the environment once at startup and validated before the service
// accepts traffic; a missing agreement key is a startup failure, not a
// runtime surprise.
type App struct {
	Port        string `validate:"required"`
	Environment string

	DBPath string `validate:"required"`

	// GatewayBaseURL overrides the QuickPay API endpoint, used in tests.
	GatewayBaseURL string
	GatewayTimeout time.Duration

	// APIKey and PrivateKey form the default agreement. Additional
	// per-currency agreements come from QUICKPAY_API_KEY_<CUR> and
	// QUICKPAY_PRIVATE_KEY_<CUR>.
	APIKey              string `validate:"required"`
	PrivateKey          string `validate:"required"`
	CurrencyAPIKeys     map[string]string
	CurrencyPrivateKeys map[string]string

	Acquirer        string
	PaymentMethods  string
	TestMode        bool
	AutoCapture     bool
	ShopBaseURL     string `validate:"required,url"`
	Language        string
	DefaultCurrency string `validate:"required,len=3"`
	FailedURL       string
	CompleteURL     string

	StatusAuthorized int `validate:"required,gt=0"`
	StatusWaiting    int `validate:"required,gtfield=StatusAuthorized"`
	StatusPaid       int `validate:"required,gtfield=StatusWaiting"`

	SubscriptionsEnabled bool

	OpenSearchURL  string
	OpenSearchUser string
	OpenSearchPass string
	EnableLogging  bool
}

var validate = validator.New()

// Load reads the configuration from the environment and validates it.
func Load() (*App, error) {
	app := &App{
		Port:        GetEnv("APP_PORT", "9999"),
		Environment: GetEnv("ENVIRONMENT", "development"),

		DBPath: GetEnv("DB_PATH", "checkout.db"),

		GatewayBaseURL: GetEnv("QUICKPAY_API_URL", ""),
		GatewayTimeout: time.Duration(GetIntEnv("QUICKPAY_TIMEOUT_SECONDS", 30)) * time.Second,

		APIKey:              os.Getenv("QUICKPAY_API_KEY"),
		PrivateKey:          os.Getenv("QUICKPAY_PRIVATE_KEY"),
		CurrencyAPIKeys:     envByPrefix("QUICKPAY_API_KEY_"),
		CurrencyPrivateKeys: envByPrefix("QUICKPAY_PRIVATE_KEY_"),

		Acquirer:        GetEnv("QUICKPAY_ACQUIRER", "nets"),
		PaymentMethods:  GetEnv("QUICKPAY_PAYMENT_METHODS", "creditcard"),
		TestMode:        GetBoolEnv("QUICKPAY_TESTMODE", true),
		AutoCapture:     GetBoolEnv("QUICKPAY_AUTO_CAPTURE", false),
		ShopBaseURL:     os.Getenv("SHOP_BASE_URL"),
		Language:        GetEnv("QUICKPAY_LANGUAGE", "da"),
		DefaultCurrency: strings.ToUpper(GetEnv("SHOP_CURRENCY", "DKK")),
		FailedURL:       GetEnv("QUICKPAY_FAILED_URL", "/"),
		CompleteURL:     GetEnv("QUICKPAY_COMPLETE_URL", "/checkout/complete"),

		StatusAuthorized: GetIntEnv("ORDER_STATUS_AUTHORIZED", 2),
		StatusWaiting:    GetIntEnv("ORDER_STATUS_WAITING", 3),
		StatusPaid:       GetIntEnv("ORDER_STATUS_PAID", 4),

		SubscriptionsEnabled: GetBoolEnv("SUBSCRIPTIONS_ENABLED", false),

		OpenSearchURL:  GetEnv("OPENSEARCH_URL", "http://localhost:9200"),
		OpenSearchUser: GetEnv("OPENSEARCH_USER", ""),
		OpenSearchPass: GetEnv("OPENSEARCH_PASSWORD", ""),
		EnableLogging:  GetBoolEnv("ENABLE_OPENSEARCH_LOGGING", true),
	}

	if err := app.Validate(); err != nil {
		return nil, err
	}
	return app, nil
}

// Validate checks the configuration for startup-blocking problems.
func (a *App) Validate() error {
	if err := validate.Struct(a); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	// A currency-specific API key without its private key (or the other
	// way round) cannot verify the callbacks it will receive.
	for cur := range a.CurrencyAPIKeys {
		if _, ok := a.CurrencyPrivateKeys[cur]; !ok {
			return fmt.Errorf("invalid configuration: QUICKPAY_API_KEY_%s is set but QUICKPAY_PRIVATE_KEY_%s is not", cur, cur)
		}
	}
	for cur := range a.CurrencyPrivateKeys {
		if _, ok := a.CurrencyAPIKeys[cur]; !ok {
			return fmt.Errorf("invalid configuration: QUICKPAY_PRIVATE_KEY_%s is set but QUICKPAY_API_KEY_%s is not", cur, cur)
		}
	}
	return nil
}

// Settings converts the configuration into checkout settings.
func (a *App) Settings() checkout.Settings {
	return checkout.Settings{
		Acquirer:        a.Acquirer,
		PaymentMethods:  a.PaymentMethods,
		TestMode:        a.TestMode,
		AutoCapture:     a.AutoCapture,
		ShopBaseURL:     strings.TrimSuffix(a.ShopBaseURL, "/"),
		Language:        a.Language,
		DefaultCurrency: a.DefaultCurrency,
		Statuses: checkout.StatusLevels{
			Authorized: a.StatusAuthorized,
			Waiting:    a.StatusWaiting,
			Paid:       a.StatusPaid,
		},
	}
}

// OpenSearch returns the connection settings for the log cluster.
func (a *App) OpenSearch() opensearch.Config {
	return opensearch.Config{
		URL:      a.OpenSearchURL,
		Username: a.OpenSearchUser,
		Password: a.OpenSearchPass,
		Enabled:  a.EnableLogging,
	}
}

// envByPrefix collects environment variables by prefix, keyed by the
// uppercased remainder, e.g. QUICKPAY_API_KEY_SEK -> SEK.
func envByPrefix(prefix string) map[string]string {
	out := map[string]string{}
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || value == "" {
			continue
		}
		if cur, found := strings.CutPrefix(key, prefix); found && cur != "" {
			out[strings.ToUpper(cur)] = value
		}
	}
	return out
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetBoolEnv returns the boolean value of an environment variable or a default value
func GetBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// GetIntEnv returns the integer value of an environment variable or a default value
func GetIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
