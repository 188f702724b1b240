package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"simcore/internal/api"
	"simcore/internal/config"
	"simcore/internal/engine"

	"github.com/joho/godotenv"
)

func main() {
	// Load .env file from parent directory
	if err := godotenv.Load("../.env"); err != nil {
		// Try current directory as fallback
		if err := godotenv.Load(".env"); err != nil {
			log.Println("💡 No .env file found, using environment variables only")
		}
	} else {
		log.Println("✅ Loaded environment from ../.env")
	}

	log.Println("🧠 ================================")
	log.Println("🧠  SIMCORE - SIMULATION ENGINE")
	log.Println("🧠 ================================")

	// Load centralized configuration (SSOT - Single Source of Truth)
	appConfig := config.Load()
	engineCfg := appConfig.Engine
	serverCfg := appConfig.Server
	rateCfg := appConfig.RateLimit

	port := strconv.Itoa(serverCfg.Port)

	log.Printf("🎛️ Config: %d TPS, %d recent errors, rate limit %.0f rps (burst %d)",
		engineCfg.TickRate, engineCfg.RecentErrors, rateCfg.RequestsPerSecond, rateCfg.Burst)

	ctx := context.Background()

	eng, err := engine.New(ctx, engine.Config{
		ID:           engineCfg.ID,
		RecentErrors: engineCfg.RecentErrors,
		AuditPath:    engineCfg.AuditPath,
	})
	if err != nil {
		log.Fatalf("Failed to create engine: %v", err)
	}

	if engineCfg.AuditPath != "" {
		log.Printf("📝 Audit trail: %s", engineCfg.AuditPath)
	}

	registerDemoActions(eng)

	// Start debug server
	debugCfg := api.DefaultObservabilityConfig()
	if os.Getenv("DISABLE_DEBUG_SERVER") != "true" {
		if err := api.StartDebugServer(debugCfg); err != nil {
			log.Printf("⚠️ Debug server disabled: %v", err)
		}
	}

	// Create API server
	server := api.NewServer(api.ServerConfig{
		Engine:      eng,
		CORSOrigins: serverCfg.CORSOrigins,
		RateLimitConfig: &api.RateLimitConfig{
			RequestsPerSecond: rateCfg.RequestsPerSecond,
			Burst:             rateCfg.Burst,
		},
	})

	// Wall-clock tick driver
	tickCtx, cancelTicks := context.WithCancel(ctx)
	go runTickLoop(tickCtx, eng, engineCfg.TickRate)

	// Start API server in goroutine
	go func() {
		addr := ":" + port
		log.Printf("🌐 API server on http://localhost%s", addr)

		if err := server.Start(addr); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	log.Println("✅ Server ready! Press Ctrl+C to stop.")
	<-quit

	log.Println("🛑 Shutting down...")
	cancelTicks()
	server.Stop()
	if err := eng.Stop(ctx); err != nil {
		log.Printf("⚠️ Engine stop: %v", err)
	}
	log.Println("👋 Goodbye!")
}

// runTickLoop drives the scheduler from wall-clock time at tickRate
// ticks per second until ctx is cancelled.
func runTickLoop(ctx context.Context, eng *engine.Engine, tickRate int) {
	if tickRate <= 0 {
		tickRate = 10
	}
	ticker := time.NewTicker(time.Second / time.Duration(tickRate))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			result, err := eng.Tick(ctx, time.Now().UnixMilli())
			api.RecordTick(time.Since(start))
			if err != nil {
				// Tick on a stopped engine during shutdown is expected
				return
			}

			snap := eng.Snapshot()
			api.UpdateEntityCount(snap.EntityCount)
			api.UpdateActionsPending(result.Remaining)
		}
	}
}

// registerDemoActions wires a few built-in actions so a fresh server is
// immediately exercisable from the HTTP API.
func registerDemoActions(eng *engine.Engine) {
	// echo returns its payload unchanged
	eng.RegisterAction("echo", func(ctx context.Context, req engine.Request) (any, error) {
		return req.Payload, nil
	})

	// entity.describe looks up an entity by id
	eng.RegisterAction("entity.describe", func(ctx context.Context, req engine.Request) (any, error) {
		id, _ := req.Payload.(string)
		if e := eng.Entity(id); e != nil {
			return e, nil
		}
		return nil, nil
	})

	// engine.metrics is restricted to human operators and system actors
	eng.RegisterAction("engine.metrics", func(ctx context.Context, req engine.Request) (any, error) {
		return eng.Metrics(), nil
	})
	eng.RestrictAction("engine.metrics", engine.KindHuman, engine.KindSystem)
}
