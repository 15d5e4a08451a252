package config

import (
	"os"
	"testing"
	"time"
)

func clearEnv(t *testing.T, keys ...string) {
	for _, k := range keys {
		old, had := os.LookupEnv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			} else {
				os.Unsetenv(k)
			}
		})
		os.Unsetenv(k)
	}
}

func TestLoadRequiresJWTSecret(t *testing.T) {
	clearEnv(t, "JWT_SECRET")
	dir := t.TempDir()

	if _, err := Load(dir); err == nil {
		t.Fatalf("expected Load to fail without JWT_SECRET")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearEnv(t, "JWT_SECRET", "ACCESS_TOKEN_TTL_MINUTES", "SERVER_PORT")
	os.Setenv("JWT_SECRET", "test-secret")
	dir := t.TempDir()

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ServerPort != "8080" {
		t.Errorf("ServerPort = %q, want 8080", cfg.ServerPort)
	}
	if cfg.AccessTokenTTLMinutes != 30 {
		t.Errorf("AccessTokenTTLMinutes = %d, want 30", cfg.AccessTokenTTLMinutes)
	}
	if len(cfg.EndpointPolicies) == 0 {
		t.Errorf("expected EndpointPolicies to be populated by Load")
	}
}

func TestLoadClampsNonPositiveOverrides(t *testing.T) {
	clearEnv(t, "JWT_SECRET", "ACCESS_TOKEN_TTL_MINUTES", "METRICS_PUSH_INTERVAL_SECONDS", "SESSION_STALE_THRESHOLD_SECONDS")
	os.Setenv("JWT_SECRET", "test-secret")
	os.Setenv("ACCESS_TOKEN_TTL_MINUTES", "-5")
	os.Setenv("METRICS_PUSH_INTERVAL_SECONDS", "0")
	os.Setenv("SESSION_STALE_THRESHOLD_SECONDS", "-1")
	dir := t.TempDir()

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.AccessTokenTTLMinutes != 30 {
		t.Errorf("expected non-positive ACCESS_TOKEN_TTL_MINUTES to be clamped to 30, got %d", cfg.AccessTokenTTLMinutes)
	}
	if cfg.MetricsPushIntervalSeconds != 1 {
		t.Errorf("expected non-positive METRICS_PUSH_INTERVAL_SECONDS to be clamped to 1, got %d", cfg.MetricsPushIntervalSeconds)
	}
	if cfg.SessionStaleThresholdSeconds != 600 {
		t.Errorf("expected non-positive SESSION_STALE_THRESHOLD_SECONDS to be clamped to 600, got %d", cfg.SessionStaleThresholdSeconds)
	}
}

func TestLoadParsesCSVLists(t *testing.T) {
	clearEnv(t, "JWT_SECRET", "ALLOWED_ORIGINS", "DDOS_WHITELIST")
	os.Setenv("JWT_SECRET", "test-secret")
	os.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example ,https://c.example")
	os.Setenv("DDOS_WHITELIST", "10.0.0.1")
	dir := t.TempDir()

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"https://a.example", "https://b.example", "https://c.example"}
	if len(cfg.AllowedOrigins) != len(want) {
		t.Fatalf("AllowedOrigins = %v, want %v", cfg.AllowedOrigins, want)
	}
	for i, v := range want {
		if cfg.AllowedOrigins[i] != v {
			t.Errorf("AllowedOrigins[%d] = %q, want %q", i, cfg.AllowedOrigins[i], v)
		}
	}
	if len(cfg.DDoSWhitelist) != 1 || cfg.DDoSWhitelist[0] != "10.0.0.1" {
		t.Errorf("DDoSWhitelist = %v, want [10.0.0.1]", cfg.DDoSWhitelist)
	}
}

func TestDefaultEndpointPoliciesIsClosed(t *testing.T) {
	policies := DefaultEndpointPolicies()
	wantKeys := []string{
		"auth_login", "auth_register", "auth_password_reset",
		"vpn_connect", "vpn_disconnect", "payments", "websocket", "general",
	}
	if len(policies) != len(wantKeys) {
		t.Fatalf("expected %d policy entries, got %d", len(wantKeys), len(policies))
	}
	for _, k := range wantKeys {
		if _, ok := policies[k]; !ok {
			t.Errorf("expected policy table to contain %q", k)
		}
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := Config{
		AccessTokenTTLMinutes:        15,
		MetricsPushIntervalSeconds:   2,
		SessionStaleThresholdSeconds: 300,
	}
	if got := cfg.AccessTokenTTL(); got != 15*time.Minute {
		t.Errorf("AccessTokenTTL() = %v, want 15m", got)
	}
	if got := cfg.MetricsPushInterval(); got != 2*time.Second {
		t.Errorf("MetricsPushInterval() = %v, want 2s", got)
	}
	if got := cfg.SessionStaleThreshold(); got != 300*time.Second {
		t.Errorf("SessionStaleThreshold() = %v, want 300s", got)
	}
}
