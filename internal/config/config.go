/**
 * @description
 * This file handles the configuration management for the entitlement-service.
 * It uses the 'viper' library to load configuration from environment variables,
 * providing a centralized and consistent way to manage application settings.
 */
package config

import (
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	AMQPURL              string `mapstructure:"AMQP_URL"`
	PaymentAPIURL        string `mapstructure:"PAYMENT_API_URL"`
	PaymentAPIKey        string `mapstructure:"PAYMENT_API_KEY"`
	PaymentWebhookSecret string `mapstructure:"PAYMENT_WEBHOOK_SECRET"`
	JWKSURL              string `mapstructure:"JWKS_URL"`
	InternalAPIKey       string `mapstructure:"INTERNAL_API_KEY"`
	MediaRoot            string `mapstructure:"MEDIA_ROOT"`
	DownloadRoot         string `mapstructure:"DOWNLOAD_ROOT"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (config Config, err error) {
	viper.SetDefault("SERVER_PORT", "8086")
	viper.SetDefault("MEDIA_ROOT", "/var/lib/cinelux/media")
	viper.SetDefault("DOWNLOAD_ROOT", "/var/lib/cinelux/downloads")
	viper.AutomaticEnv()

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("AMQP_URL")
	_ = viper.BindEnv("PAYMENT_API_URL")
	_ = viper.BindEnv("PAYMENT_API_KEY")
	_ = viper.BindEnv("PAYMENT_WEBHOOK_SECRET")
	_ = viper.BindEnv("JWKS_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY")
	_ = viper.BindEnv("MEDIA_ROOT")
	_ = viper.BindEnv("DOWNLOAD_ROOT")

	err = viper.Unmarshal(&config)
	return
}
