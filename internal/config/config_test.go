package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %q", cfg.Port)
	}
	if cfg.SessionRetention != 24*time.Hour {
		t.Errorf("expected 24h retention, got %s", cfg.SessionRetention)
	}
	if cfg.UsesRedis() {
		t.Error("expected in-process cache by default")
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "*" {
		t.Errorf("unexpected origins: %v", cfg.AllowedOrigins)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("CACHE_TTL", "30s")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("IS_CLOUD", "yes")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("expected port 9090, got %q", cfg.Port)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("unexpected origins: %v", cfg.AllowedOrigins)
	}
	if cfg.Cache.TTL != 30*time.Second {
		t.Errorf("expected 30s cache ttl, got %s", cfg.Cache.TTL)
	}
	if !cfg.UsesRedis() || !cfg.IsCloud {
		t.Error("expected redis and cloud mode to be enabled")
	}
}

func TestValidateRejectsBadExporter(t *testing.T) {
	t.Setenv("TRACING_EXPORTER", "jaeger")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown exporter")
	}
}

func TestValidateRequiresManagementEnvironment(t *testing.T) {
	t.Setenv("MANAGEMENT_API_KEY", "secret")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when management environment is missing")
	}
}
