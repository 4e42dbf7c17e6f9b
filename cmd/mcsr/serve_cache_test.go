package main

import (
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestProxyConfigFromEnvironment(t *testing.T) {
	t.Setenv("BACKEND_PORT", "9999")
	t.Setenv("MCSR_DEFAULT_TTL_S", "2")
	t.Setenv("MCSR_UPSTREAM_TIMEOUT_S", "1.5")
	t.Setenv("MCSR_CACHE_AUTH_TOKEN", " secret ")

	cfg := proxyConfig(serveCacheCmd)

	if cfg.Port != 9999 {
		t.Errorf("Port = %d, want 9999", cfg.Port)
	}
	if cfg.DefaultTTL != 5*time.Second {
		t.Errorf("DefaultTTL = %v, want the 5s floor", cfg.DefaultTTL)
	}
	if cfg.Timeout != 1500*time.Millisecond {
		t.Errorf("Timeout = %v, want 1.5s", cfg.Timeout)
	}
	if cfg.AuthToken != "secret" || cfg.AuthHeader != "x-toolscreen-token" {
		t.Errorf("unexpected auth settings: %+v", cfg)
	}
	if cfg.Bind != "127.0.0.1" || !cfg.ForwardAPIKey {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("config should be valid: %v", err)
	}
	if viper.GetString("cache.db") != "data/mcsr_cache_service.db" {
		t.Errorf("cache db = %q", viper.GetString("cache.db"))
	}
}
