package cmd

import (
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestTokenTTL(t *testing.T) {
	tests := []struct {
		name string
		cfg  AuthConfig
		want time.Duration
	}{
		{name: "duration", cfg: AuthConfig{TokenTTL: 30 * time.Minute}, want: 30 * time.Minute},
		{name: "minutes override", cfg: AuthConfig{TokenTTL: 30 * time.Minute, TokenExpireMinutes: 90}, want: 90 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.tokenTTL(); got != tt.want {
				t.Fatalf("tokenTTL() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestGetConfigDefaultsAndEnv(t *testing.T) {
	t.Setenv("MAX_REQUESTS_FREE", "11")
	t.Setenv("ACCESS_TOKEN_EXPIRE_MINUTES", "45")

	config, err := getConfig()
	if err != nil {
		t.Fatalf("getConfig() error = %v", err)
	}

	if config.Listen != ":8000" {
		t.Fatalf("listen = %q", config.Listen)
	}
	if config.RateLimit.DemoMax != 3 || config.RateLimit.FreeMax != 11 {
		t.Fatalf("rate limits = %d/%d, want 3/11", config.RateLimit.DemoMax, config.RateLimit.FreeMax)
	}
	if config.RateLimit.Window != 24*time.Hour {
		t.Fatalf("window = %s", config.RateLimit.Window)
	}
	if got := config.Auth.tokenTTL(); got != 45*time.Minute {
		t.Fatalf("token ttl = %s", got)
	}
	if config.Mongo.Database != "ATS_Test" {
		t.Fatalf("database = %q", config.Mongo.Database)
	}
}

func TestGetConfigRejectsNegativeQuota(t *testing.T) {
	viper.Set("rate-limit.demo-max", -1)
	t.Cleanup(func() { viper.Set("rate-limit.demo-max", 3) })

	if _, err := getConfig(); err == nil {
		t.Fatal("expected an error for a negative quota")
	}
}

func TestRedactedMasksSecrets(t *testing.T) {
	var c Config
	c.Auth.Secret = "s3cret"
	c.AI.Gemini.APIKey = "key"
	c.Listen = ":8000"

	got := redacted(c)
	if got.Auth.Secret != "***" || got.AI.Gemini.APIKey != "***" {
		t.Fatalf("secrets not masked: %+v", got)
	}
	if got.Redis.Password != "" || got.Listen != ":8000" {
		t.Fatalf("unexpected changes: %+v", got)
	}
	if c.Auth.Secret != "s3cret" {
		t.Fatal("original config was modified")
	}
}
