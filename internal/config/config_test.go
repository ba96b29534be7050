package config

import (
	"testing"
	"time"
)

func validLocal() Config {
	return Config{
		App:   AppConfig{Env: "local", Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "calls"},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{JWTSecret: "secret"},
	}
}

func TestLoad_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_ProductionRequiresSSLModeAndOrigins(t *testing.T) {
	c := validLocal()
	c.App.Env = "production"
	c.Auth.JWTIssuer = "iss"
	c.Auth.JWTAudience = "aud"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE and WS_ALLOWED_ORIGINS")
	}

	c.DB.SSLMode = "require"
	c.WS.AllowedOrigins = []string{"https://app.example"}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidate_LocalDefaults(t *testing.T) {
	c := validLocal()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	if c.Calls.RingTimeout != 60*time.Second || c.Calls.TimeoutStatus != "failed" || c.Calls.GuardTTL != 6*time.Hour {
		t.Fatalf("unexpected call defaults: %+v", c.Calls)
	}
	if c.MediaEnabled() {
		t.Fatalf("media should be disabled without MEDIA_URL")
	}
}

func TestValidate_CallSettings(t *testing.T) {
	c := validLocal()
	c.Calls.TimeoutStatus = "declined"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for invalid CALL_TIMEOUT_STATUS")
	}

	c = validLocal()
	c.Calls.RingTimeout = time.Hour
	c.Calls.GuardTTL = time.Minute
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for guard ttl shorter than ring timeout")
	}

	c = validLocal()
	c.Media.URL = "wss://sfu.example"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for media url without credentials")
	}
}

func TestLoad_ReadsCallEnv(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("APP_PORT", "8080")
	t.Setenv("DB_HOST", "localhost")
	t.Setenv("DB_PORT", "5432")
	t.Setenv("DB_USER", "postgres")
	t.Setenv("DB_NAME", "calls")
	t.Setenv("REDIS_HOST", "localhost")
	t.Setenv("REDIS_PORT", "6379")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("CALL_RING_TIMEOUT", "45s")
	t.Setenv("CALL_TIMEOUT_STATUS", "canceled")
	t.Setenv("WS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Calls.RingTimeout != 45*time.Second || c.Calls.TimeoutStatus != "canceled" {
		t.Fatalf("unexpected calls config: %+v", c.Calls)
	}
	if len(c.WS.AllowedOrigins) != 2 || c.WS.AllowedOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected origins: %v", c.WS.AllowedOrigins)
	}
}
