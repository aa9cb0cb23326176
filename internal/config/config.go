/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the razorpay-gateway service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort          string  `mapstructure:"SERVER_PORT"`
	DatabaseURL         string  `mapstructure:"DATABASE_URL"`
	RedisURL            string  `mapstructure:"REDIS_URL"`
	RabbitMQURL         string  `mapstructure:"RABBITMQ_URL"`
	RazorpayAPIBaseURL  string  `mapstructure:"RAZORPAY_API_BASE_URL"`
	RazorpayKeyID       string  `mapstructure:"RAZORPAY_KEY_ID"`
	RazorpayKeySecret   string  `mapstructure:"RAZORPAY_KEY_SECRET"`
	WebhookSecret       string  `mapstructure:"RAZORPAY_WEBHOOK_SECRET"`
	FeeMode             string  `mapstructure:"FEE_MODE"`
	FeeTolerancePercent float64 `mapstructure:"FEE_TOLERANCE_PERCENT"`
	PaymentAction       string  `mapstructure:"PAYMENT_ACTION"`
	SupportedCurrencies string  `mapstructure:"SUPPORTED_CURRENCIES"`
	BillingAppURL       string  `mapstructure:"BILLING_APP_URL"`
	CallbackBaseURL     string  `mapstructure:"CALLBACK_BASE_URL"`
	BillingTimezone     string  `mapstructure:"BILLING_TIMEZONE"`
	InternalAPIKey      string  `mapstructure:"INTERNAL_API_KEY"`
	SyncCron            string  `mapstructure:"SYNC_CRON"`
	SyncBudgetSeconds   int     `mapstructure:"SYNC_BUDGET_SECONDS"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("RAZORPAY_API_BASE_URL", "https://api.razorpay.com/v1")
	viper.SetDefault("FEE_MODE", "merchant_absorbs")
	viper.SetDefault("FEE_TOLERANCE_PERCENT", 5.0)
	viper.SetDefault("PAYMENT_ACTION", "capture")
	viper.SetDefault("SUPPORTED_CURRENCIES", "INR")
	viper.SetDefault("BILLING_TIMEZONE", "Asia/Kolkata")
	viper.SetDefault("SYNC_BUDGET_SECONDS", 20)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT", "SERVER_PORT", "PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("RAZORPAY_API_BASE_URL")
	_ = viper.BindEnv("RAZORPAY_KEY_ID")
	_ = viper.BindEnv("RAZORPAY_KEY_SECRET")
	_ = viper.BindEnv("RAZORPAY_WEBHOOK_SECRET")
	_ = viper.BindEnv("FEE_MODE")
	_ = viper.BindEnv("FEE_TOLERANCE_PERCENT")
	_ = viper.BindEnv("PAYMENT_ACTION")
	_ = viper.BindEnv("SUPPORTED_CURRENCIES")
	_ = viper.BindEnv("BILLING_APP_URL")
	_ = viper.BindEnv("CALLBACK_BASE_URL")
	_ = viper.BindEnv("BILLING_TIMEZONE")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "GATEWAY_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("SYNC_CRON")
	_ = viper.BindEnv("SYNC_BUDGET_SECONDS")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("GATEWAY_SERVICE_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.BillingAppURL = strings.TrimRight(strings.TrimSpace(config.BillingAppURL), "/")
	config.CallbackBaseURL = strings.TrimRight(strings.TrimSpace(config.CallbackBaseURL), "/")
	if config.CallbackBaseURL == "" {
		config.CallbackBaseURL = config.BillingAppURL
	}

	config.FeeMode = strings.ToLower(strings.TrimSpace(config.FeeMode))
	if config.FeeMode != "merchant_absorbs" && config.FeeMode != "client_pays" {
		log.Printf("level=warn component=config msg=\"unrecognized FEE_MODE; defaulting to merchant_absorbs\" value=%q", config.FeeMode)
		config.FeeMode = "merchant_absorbs"
	}

	config.PaymentAction = strings.ToLower(strings.TrimSpace(config.PaymentAction))
	if config.PaymentAction != "capture" && config.PaymentAction != "authorize" {
		log.Printf("level=warn component=config msg=\"unrecognized PAYMENT_ACTION; defaulting to capture\" value=%q", config.PaymentAction)
		config.PaymentAction = "capture"
	}

	if config.FeeTolerancePercent < 0 {
		log.Printf("level=warn component=config msg=\"negative fee tolerance configured; coercing to zero\" fee_tolerance_percent=%f", config.FeeTolerancePercent)
		config.FeeTolerancePercent = 0
	}
	if config.FeeTolerancePercent > 100 {
		log.Printf("level=warn component=config msg=\"fee tolerance too high; capping at 100\" fee_tolerance_percent=%f", config.FeeTolerancePercent)
		config.FeeTolerancePercent = 100
	}

	if config.SyncBudgetSeconds <= 0 {
		config.SyncBudgetSeconds = 20
	}

	return
}

// Currencies splits the SUPPORTED_CURRENCIES list into normalized codes.
func (c *Config) Currencies() []string {
	var out []string
	for _, code := range strings.Split(c.SupportedCurrencies, ",") {
		code = strings.ToUpper(strings.TrimSpace(code))
		if code != "" {
			out = append(out, code)
		}
	}
	return out
}
