package api

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// snapshotBroadcastInterval is how often connected WebSocket clients
// receive a full engine snapshot.
const snapshotBroadcastInterval = 100 * time.Millisecond

// ServerConfig configures the API server.
type ServerConfig struct {
	// Engine is the simulation engine (required)
	Engine EngineInterface

	// CORSOrigins lists allowed origins for HTTP and WebSocket
	CORSOrigins []string

	// RateLimitConfig overrides the default per-IP HTTP rate limit
	RateLimitConfig *RateLimitConfig
}

// Server is the HTTP API server with WebSocket support.
// It combines the HTTP router with an event hub for real-time updates.
type Server struct {
	engine      EngineInterface
	router      *chi.Mux
	hub         *EventHub
	rateLimiter *IPRateLimiter
	detach      func()
}

// NewServer creates a new API server.
//
// IMPORTANT: Background workers do NOT start until Start() is called.
// This enables testing by allowing the server to be constructed without
// starting goroutines or opening network listeners.
//
// For testing HTTP endpoints without WebSocket support, use NewRouter() directly.
func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		engine: cfg.Engine,
		hub:    NewEventHub(cfg.CORSOrigins),
	}

	rlCfg := DefaultRateLimitConfig
	if cfg.RateLimitConfig != nil {
		rlCfg = *cfg.RateLimitConfig
	}
	s.rateLimiter = NewIPRateLimiter(rlCfg)

	s.router = NewRouter(RouterConfig{
		Engine:      cfg.Engine,
		RateLimiter: s.rateLimiter,
		CORSOrigins: cfg.CORSOrigins,
	})

	// WebSocket routes need the hub instance, so they can't be part of
	// the generic NewRouter factory.
	s.router.Get("/ws", s.hub.HandleWebSocket)

	return s
}

// Start begins the HTTP server AND starts background workers.
// This is the ONLY method that starts goroutines or opens network listeners.
//
// Call this method only once. Use Stop() for graceful worker shutdown.
func (s *Server) Start(addr string) error {
	go s.hub.Run()
	s.detach = s.hub.AttachEngine(s.engine)
	s.hub.StartSnapshotLoop(s.engine, snapshotBroadcastInterval)

	log.Printf("🌐 API server starting on %s", addr)

	return http.ListenAndServe(addr, s.router)
}

// Router returns the HTTP handler for use with httptest.
// Use this in integration tests instead of calling Start().
//
// Example:
//
//	server := api.NewServer(api.ServerConfig{Engine: eng})
//	ts := httptest.NewServer(server.Router())
//	defer ts.Close()
//	resp, _ := http.Get(ts.URL + "/api/snapshot")
func (s *Server) Router() http.Handler {
	return s.router
}

// Hub returns the WebSocket event hub
func (s *Server) Hub() *EventHub {
	return s.hub
}

// Stop performs graceful shutdown of background workers.
// Call this before process exit to ensure clean cleanup.
func (s *Server) Stop() {
	if s.detach != nil {
		s.detach()
	}
	s.hub.Stop()
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
}
