/**
 * @description
 * Configuration management for the onboarding-service. Uses Viper to read
 * settings from environment variables or a local .env file.
 *
 * @dependencies
 * - github.com/spf13/viper: Configuration library.
 */
package config

import (
	"log"
	"strings"

	"github.com/spf13/viper"
)

// Config stores all configuration for the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	ServerPort  string `mapstructure:"SERVER_PORT"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	RabbitMQURL string `mapstructure:"RABBITMQ_URL"`
	RedisURL    string `mapstructure:"REDIS_URL"`

	// Identity token verification (the auth layer issues HS256 tokens).
	JWTSecret string `mapstructure:"JWT_SECRET"`

	// Payment processor.
	StripeSecretKey     string `mapstructure:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `mapstructure:"STRIPE_WEBHOOK_SECRET"`
	CheckoutReturnURL   string `mapstructure:"CHECKOUT_RETURN_URL"`

	// Identity verification vendor.
	PersonaAPIKey        string `mapstructure:"PERSONA_API_KEY"`
	PersonaBaseURL       string `mapstructure:"PERSONA_BASE_URL"`
	PersonaTemplateID    string `mapstructure:"PERSONA_TEMPLATE_ID"`
	PersonaWebhookSecret string `mapstructure:"PERSONA_WEBHOOK_SECRET"`

	// Price allow-list: the only four price ids the checkout issuer accepts.
	PriceIDStarter string `mapstructure:"PRICE_ID_STARTER"`
	PriceIDPlus    string `mapstructure:"PRICE_ID_PLUS"`
	PriceIDPro     string `mapstructure:"PRICE_ID_PRO"`
	PriceIDMax     string `mapstructure:"PRICE_ID_MAX"`

	// Cron expression for the grant reconciliation job.
	ReconcileSchedule string `mapstructure:"RECONCILE_SCHEDULE"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Bind env vars explicitly
	for _, key := range []string{
		"SERVER_PORT",
		"DATABASE_URL",
		"RABBITMQ_URL",
		"REDIS_URL",
		"JWT_SECRET",
		"STRIPE_SECRET_KEY",
		"STRIPE_WEBHOOK_SECRET",
		"CHECKOUT_RETURN_URL",
		"PERSONA_API_KEY",
		"PERSONA_BASE_URL",
		"PERSONA_TEMPLATE_ID",
		"PERSONA_WEBHOOK_SECRET",
		"PRICE_ID_STARTER",
		"PRICE_ID_PLUS",
		"PRICE_ID_PRO",
		"PRICE_ID_MAX",
		"RECONCILE_SCHEDULE",
	} {
		_ = viper.BindEnv(key)
	}

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("PERSONA_BASE_URL", "https://api.withpersona.com")
	viper.SetDefault("RECONCILE_SCHEDULE", "*/10 * * * *")

	// Read the config file if it exists.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("Error reading config file: %s", err)
			return
		}
		err = nil
	}

	// Unmarshal the config into the Config struct.
	if err = viper.Unmarshal(&config); err != nil {
		log.Printf("Unable to decode config into struct: %v", err)
	}

	return
}

// PriceTiers returns the allow-list mapping of checkout price ids to tiers.
// An empty price id is omitted so an unset env var can never match.
func (c Config) PriceTiers() map[string]string {
	tiers := make(map[string]string, 4)
	if c.PriceIDStarter != "" {
		tiers[c.PriceIDStarter] = "starter"
	}
	if c.PriceIDPlus != "" {
		tiers[c.PriceIDPlus] = "plus"
	}
	if c.PriceIDPro != "" {
		tiers[c.PriceIDPro] = "pro"
	}
	if c.PriceIDMax != "" {
		tiers[c.PriceIDMax] = "max"
	}
	return tiers
}
