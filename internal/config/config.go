// Package config provides centralized configuration management.
// This is the SINGLE SOURCE OF TRUTH for engine and server settings.
//
// IMPORTANT: When changing defaults, only modify this file.
// All other parts of the codebase should reference these values.
package config

import (
	"os"
	"strconv"
)

// =============================================================================
// ENGINE CONFIGURATION
// =============================================================================

// EngineConfig holds core engine settings.
type EngineConfig struct {
	ID           string // Engine instance id (generated if empty)
	RecentErrors int    // Bounded error history size
	AuditPath    string // JSONL audit trail path ("" disables)
	TickRate     int    // Wall-clock tick driver frequency (ticks/second)
}

// DefaultEngine returns the default engine configuration.
func DefaultEngine() EngineConfig {
	return EngineConfig{
		RecentErrors: 100,
		TickRate:     10,
	}
}

// EngineFromEnv returns engine configuration with environment variable overrides.
// Environment variables take precedence over defaults.
func EngineFromEnv() EngineConfig {
	cfg := DefaultEngine()

	if id := os.Getenv("ENGINE_ID"); id != "" {
		cfg.ID = id
	}
	if n := getEnvInt("ENGINE_RECENT_ERRORS", 0); n > 0 {
		cfg.RecentErrors = n
	}
	if p := os.Getenv("ENGINE_AUDIT_PATH"); p != "" {
		cfg.AuditPath = p
	}
	if tr := getEnvInt("ENGINE_TICK_RATE", 0); tr > 0 {
		cfg.TickRate = tr
	}

	return cfg
}

// =============================================================================
// SERVER CONFIGURATION
// =============================================================================

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port        int
	CORSOrigins []string // Allowed browser origins
}

// DefaultServer returns the default server configuration.
func DefaultServer() ServerConfig {
	return ServerConfig{
		Port: 3000,
		CORSOrigins: []string{
			"http://localhost:3000",
			"http://localhost:5173",
		},
	}
}

// ServerFromEnv returns server configuration with environment variable overrides.
func ServerFromEnv() ServerConfig {
	cfg := DefaultServer()

	if p := getEnvInt("PORT", 0); p > 0 {
		cfg.Port = p
	}
	if origin := os.Getenv("CORS_ORIGIN"); origin != "" {
		cfg.CORSOrigins = append(cfg.CORSOrigins, origin)
	}

	return cfg
}

// =============================================================================
// RATE LIMIT CONFIGURATION
// =============================================================================

// RateLimitConfig controls the per-IP HTTP request limiter.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// DefaultRateLimit returns production-safe limiter defaults.
func DefaultRateLimit() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 10,
		Burst:             20,
	}
}

// RateLimitFromEnv returns limiter configuration with environment overrides.
func RateLimitFromEnv() RateLimitConfig {
	cfg := DefaultRateLimit()

	if rps := getEnvFloat("RATE_LIMIT_RPS", 0); rps > 0 {
		cfg.RequestsPerSecond = rps
	}
	if b := getEnvInt("RATE_LIMIT_BURST", 0); b > 0 {
		cfg.Burst = b
	}

	return cfg
}

// =============================================================================
// COMPLETE APP CONFIGURATION
// =============================================================================

// AppConfig holds the complete application configuration.
type AppConfig struct {
	Engine    EngineConfig
	Server    ServerConfig
	RateLimit RateLimitConfig
}

// Load returns the complete configuration with environment overrides.
func Load() AppConfig {
	return AppConfig{
		Engine:    EngineFromEnv(),
		Server:    ServerFromEnv(),
		RateLimit: RateLimitFromEnv(),
	}
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
