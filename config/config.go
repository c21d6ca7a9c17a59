package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"mollie-ideal/money"
)

// Config holds application configuration
type Config struct {
	ServiceName  string `mapstructure:"service_name"`
	OTELEndpoint string `mapstructure:"otel_endpoint"`
	Port         string `mapstructure:"port"`

	DBDriver string `mapstructure:"db_driver"`
	DBDSN    string `mapstructure:"db_dsn"`

	RedisAddr    string   `mapstructure:"redis_addr"`
	KafkaBrokers []string `mapstructure:"kafka_brokers"`
	JWTSecret    string   `mapstructure:"jwt_secret"`

	Mollie MollieConfig `mapstructure:"mollie"`
	IDEAL  IDEALConfig  `mapstructure:"ideal"`
}

// MollieConfig holds the gateway account settings
type MollieConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	PartnerID  string        `mapstructure:"partner_id"`
	ProfileKey string        `mapstructure:"profile_key"`
	TestMode   bool          `mapstructure:"testmode"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// IDEALConfig holds the merchant facing payment method settings
type IDEALConfig struct {
	MinAmountCents int64  `mapstructure:"min_amount"`
	Description    string `mapstructure:"description"`
	PublicBaseURL  string `mapstructure:"public_base_url"`
	SuccessURL     string `mapstructure:"success_url"`
	AmountLocale   string `mapstructure:"amount_locale"`
}

// ReturnURL is where the bank sends the customer back to
func (c IDEALConfig) ReturnURL() string { return c.PublicBaseURL + "/mpm/idl/return" }

// ReportURL is the webhook the gateway calls with status updates
func (c IDEALConfig) ReportURL() string { return c.PublicBaseURL + "/mpm/idl/report" }

// PaymentURL starts a payment for an order
func (c IDEALConfig) PaymentURL() string { return c.PublicBaseURL + "/mpm/idl/payment" }

// FormURL accepts a new bank selection for a failed payment
func (c IDEALConfig) FormURL() string { return c.PublicBaseURL + "/mpm/idl/form" }

// Load loads configuration from a .env file, environment variables and an
// optional YAML file named by IDEAL_CONFIG_FILE. Values in the YAML file win.
func Load() (*Config, error) {
	loadDotEnv()

	cfg := &Config{
		ServiceName:  "mollie-ideal",
		OTELEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		Port:         getEnv("PORT", "8081"),
		DBDriver:     getEnv("DB_DRIVER", "sqlite"),
		DBDSN:        getEnv("DB_DSN", "mollie.db"),
		RedisAddr:    getEnv("REDIS_ADDR", ""),
		KafkaBrokers: splitList(getEnv("KAFKA_BROKERS", "")),
		JWTSecret:    getEnv("JWT_SECRET", ""),
		Mollie: MollieConfig{
			BaseURL:    getEnv("MOLLIE_BASE_URL", "https://secure.mollie.nl/xml/ideal"),
			PartnerID:  getEnv("MOLLIE_PARTNER_ID", ""),
			ProfileKey: getEnv("MOLLIE_PROFILE_KEY", ""),
			TestMode:   getBool("MOLLIE_TESTMODE", false),
			Timeout:    getDuration("GATEWAY_TIMEOUT", 10*time.Second),
		},
		IDEAL: IDEALConfig{
			MinAmountCents: getInt("IDEAL_MIN_AMOUNT", 118),
			Description:    getEnv("IDEAL_DESCRIPTION", "Order %"),
			PublicBaseURL:  strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8081"), "/"),
			SuccessURL:     getEnv("SUCCESS_URL", "/checkout/onepage/success"),
			AmountLocale:   getEnv("AMOUNT_LOCALE", "dot"),
		},
	}

	if path := os.Getenv("IDEAL_CONFIG_FILE"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot run with
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "sqlite", "mysql", "postgres":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	if c.IDEAL.MinAmountCents <= 0 {
		return fmt.Errorf("IDEAL_MIN_AMOUNT must be positive, got %d", c.IDEAL.MinAmountCents)
	}
	if c.Mollie.Timeout <= 0 {
		return fmt.Errorf("GATEWAY_TIMEOUT must be positive, got %s", c.Mollie.Timeout)
	}
	if _, err := money.LocaleByName(c.IDEAL.AmountLocale); err != nil {
		return fmt.Errorf("AMOUNT_LOCALE: %w", err)
	}
	return nil
}

// loadDotEnv reads .env without overriding variables already set
func loadDotEnv() {
	envMap, err := godotenv.Read()
	if err != nil {
		return
	}
	for k, v := range envMap {
		if os.Getenv(k) == "" {
			os.Setenv(k, v)
		}
	}
}

func loadFile(path string, cfg *Config) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return err
	}
	return v.Unmarshal(cfg)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int64) int64 {
	if n, err := strconv.ParseInt(os.Getenv(key), 10, 64); err == nil {
		return n
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
