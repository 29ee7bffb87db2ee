package config

import (
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "8086" {
		t.Fatalf("expected default port 8086, got %q", cfg.ServerPort)
	}
	if cfg.MediaRoot != "/var/lib/cinelux/media" {
		t.Fatalf("expected default media root, got %q", cfg.MediaRoot)
	}
	if cfg.DownloadRoot != "/var/lib/cinelux/downloads" {
		t.Fatalf("expected default download root, got %q", cfg.DownloadRoot)
	}
}

func TestLoadConfig_ReadsEnvironment(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("SERVER_PORT", "9000")
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/cinelux")
	t.Setenv("PAYMENT_WEBHOOK_SECRET", "whsec_abc")
	t.Setenv("INTERNAL_API_KEY", "svc-key")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "9000" {
		t.Fatalf("expected SERVER_PORT override, got %q", cfg.ServerPort)
	}
	if cfg.DatabaseURL != "postgres://localhost:5432/cinelux" {
		t.Fatalf("expected DATABASE_URL from env, got %q", cfg.DatabaseURL)
	}
	if cfg.PaymentWebhookSecret != "whsec_abc" {
		t.Fatalf("expected webhook secret from env, got %q", cfg.PaymentWebhookSecret)
	}
	if cfg.InternalAPIKey != "svc-key" {
		t.Fatalf("expected internal key from env, got %q", cfg.InternalAPIKey)
	}
}
