package config

import "testing"

// TestDefaults verifies defaults load without any environment set
func TestDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Engine.TickRate != 10 {
		t.Errorf("Expected default tick rate 10, got %d", cfg.Engine.TickRate)
	}
	if cfg.Engine.RecentErrors != 100 {
		t.Errorf("Expected default recent errors 100, got %d", cfg.Engine.RecentErrors)
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("Expected default port 3000, got %d", cfg.Server.Port)
	}
	if cfg.RateLimit.RequestsPerSecond != 10 || cfg.RateLimit.Burst != 20 {
		t.Errorf("Unexpected rate limit defaults: %+v", cfg.RateLimit)
	}
}

// TestEnvOverrides verifies environment variables take precedence
func TestEnvOverrides(t *testing.T) {
	t.Setenv("ENGINE_ID", "prod-7")
	t.Setenv("ENGINE_TICK_RATE", "30")
	t.Setenv("ENGINE_AUDIT_PATH", "/tmp/audit.jsonl")
	t.Setenv("PORT", "8080")
	t.Setenv("RATE_LIMIT_RPS", "2.5")

	cfg := Load()

	if cfg.Engine.ID != "prod-7" {
		t.Errorf("Expected ENGINE_ID override, got %q", cfg.Engine.ID)
	}
	if cfg.Engine.TickRate != 30 {
		t.Errorf("Expected tick rate 30, got %d", cfg.Engine.TickRate)
	}
	if cfg.Engine.AuditPath != "/tmp/audit.jsonl" {
		t.Errorf("Expected audit path override, got %q", cfg.Engine.AuditPath)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.RateLimit.RequestsPerSecond != 2.5 {
		t.Errorf("Expected 2.5 rps, got %g", cfg.RateLimit.RequestsPerSecond)
	}
}

// TestInvalidEnvFallsBack verifies malformed values keep defaults
func TestInvalidEnvFallsBack(t *testing.T) {
	t.Setenv("PORT", "not-a-number")
	t.Setenv("ENGINE_TICK_RATE", "-5")

	cfg := Load()
	if cfg.Server.Port != 3000 {
		t.Errorf("Malformed PORT should keep default, got %d", cfg.Server.Port)
	}
	if cfg.Engine.TickRate != 10 {
		t.Errorf("Negative tick rate should keep default, got %d", cfg.Engine.TickRate)
	}
}
