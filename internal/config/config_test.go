package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.ServerPort == "" {
		t.Fatalf("expected default server port")
	}
	if cfg.PostgresURL == "" {
		t.Fatalf("expected default postgres url")
	}
	if cfg.PresenceTTL() != 5*time.Minute {
		t.Fatalf("unexpected presence ttl: %v", cfg.PresenceTTL())
	}
	if cfg.ReaperInterval() != 5*time.Minute {
		t.Fatalf("unexpected reaper interval: %v", cfg.ReaperInterval())
	}
	if cfg.OrphanSessionAge() != 24*time.Hour {
		t.Fatalf("unexpected orphan age: %v", cfg.OrphanSessionAge())
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", ":9000")
	t.Setenv("POSTGRES_URL", "postgres://example")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("PRESENCE_TTL_SECONDS", "60")
	t.Setenv("REAPER_INTERVAL_SECONDS", "30")

	cfg := Load()
	if cfg.ServerPort != ":9000" {
		t.Fatalf("expected override port")
	}
	if cfg.PostgresURL != "postgres://example" {
		t.Fatalf("expected override postgres")
	}
	if cfg.RedisAddr != "redis:6379" {
		t.Fatalf("expected override redis")
	}
	if cfg.JWTSecret != "secret" {
		t.Fatalf("expected override secret")
	}
	if cfg.PresenceTTL() != time.Minute {
		t.Fatalf("expected override presence ttl")
	}
	if cfg.ReaperInterval() != 30*time.Second {
		t.Fatalf("expected override reaper interval")
	}
}
