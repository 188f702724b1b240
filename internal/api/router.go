package api

import (
	"context"
	"net/http"

	"simcore/internal/engine"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// EngineInterface defines the engine methods used by the API.
// This interface enables mocking for tests without constructing a full
// engine. Keep this minimal - only include methods the API layer calls.
type EngineInterface interface {
	// Snapshot returns a read-only composite of engine state
	Snapshot() engine.EngineSnapshot
	// Metrics returns the engine-level metrics view
	Metrics() engine.EngineMetrics
	// Errors returns structured error statistics
	Errors() engine.ErrorStatistics
	// Entity returns the entity for id, or nil
	Entity(id string) *engine.Entity
	// RegisterEntity registers a new entity
	RegisterEntity(id string, kind engine.Kind, role string, attributes map[string]any) (*engine.Entity, error)
	// DeregisterEntity removes an entity if present
	DeregisterEntity(id string) (bool, error)
	// Request evaluates one capability-checked request
	Request(ctx context.Context, req engine.Request) engine.Response
	// ScheduleAction inserts a future action and returns its id
	ScheduleAction(spec engine.ActionSpec) (string, error)
	// Tick processes every action due at now
	Tick(ctx context.Context, now int64) (engine.TickResult, error)
	// On subscribes to engine events
	On(eventType string, handler engine.EventHandler) func()
}

// RouterConfig contains all dependencies needed to construct the HTTP router.
// This struct is designed for dependency injection and testability.
//
// Example usage in tests:
//
//	cfg := api.RouterConfig{
//	    Engine: eng,
//	    RateLimitConfig: &api.RateLimitConfig{
//	        RequestsPerSecond: 1000, // High limit for tests
//	        Burst:             1000,
//	    },
//	}
//	router := api.NewRouter(cfg)
//	ts := httptest.NewServer(router)
type RouterConfig struct {
	// Engine is the simulation engine (required)
	Engine EngineInterface

	// RateLimiter is an optional pre-configured rate limiter.
	// If nil, a new one will be created using RateLimitConfig.
	RateLimiter *IPRateLimiter

	// RateLimitConfig is optional configuration for the rate limiter.
	// Only used if RateLimiter is nil. If both are nil, uses DefaultRateLimitConfig.
	RateLimitConfig *RateLimitConfig

	// CORSOrigins is an optional list of allowed CORS origins.
	// If nil, uses the default local-development origins.
	CORSOrigins []string

	// DisableLogging disables the request logger middleware (useful for benchmarks).
	DisableLogging bool
}

// NewRouter constructs the HTTP router with all middleware and routes.
//
// IMPORTANT: This function starts no goroutines and opens no listeners
// (other than the rate limiter's cleanup loop when one is created here),
// which makes it safe to use with httptest.NewServer.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware - order matters
	if !cfg.DisableLogging {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)

	// Rate limiting before CORS to reject early and save CPU
	rateLimiter := cfg.RateLimiter
	if rateLimiter == nil {
		rateLimitCfg := DefaultRateLimitConfig
		if cfg.RateLimitConfig != nil {
			rateLimitCfg = *cfg.RateLimitConfig
		}
		rateLimiter = NewIPRateLimiter(rateLimitCfg)
	}
	r.Use(rateLimiter.Middleware)

	corsOrigins := cfg.CORSOrigins
	if corsOrigins == nil {
		corsOrigins = []string{
			"http://localhost:*",
			"http://127.0.0.1:*",
		}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))

	h := &routerHandlers{engine: cfg.Engine}

	r.Route("/api", func(r chi.Router) {
		// Introspection
		r.Get("/snapshot", h.handleSnapshot)
		r.Get("/metrics", h.handleMetrics)
		r.Get("/errors", h.handleErrors)

		// Entity lifecycle
		r.Post("/entities", h.handleRegisterEntity)
		r.Get("/entities/{id}", h.handleGetEntity)
		r.Delete("/entities/{id}", h.handleDeregisterEntity)

		// Request gateway and scheduler
		r.Post("/requests", h.handleRequest)
		r.Post("/actions", h.handleScheduleAction)
		r.Post("/tick", h.handleTick)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return r
}
