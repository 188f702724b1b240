package engine

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
)

// New constructs an engine, initializes all collaborators, and
// transitions it CREATED -> RUNNING. The context bounds construction so
// callers layering slow collaborators above can cancel.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}

	errs := NewErrorDomain(cfg.RecentErrors)

	e := &Engine{
		id:        cfg.ID,
		createdAt: time.Now(),
		registry:  NewEntityRegistry(),
		bus:       NewBus(errs),
		gateway:   NewGateway(),
		metrics:   NewCollector(),
		errs:      errs,
		actions:   make(map[string]ActionHandler),
	}
	e.scheduler = NewScheduler(e.dispatchScheduled, errs)

	if cfg.AuditPath != "" {
		e.audit = NewAuditLog()
		if err := e.audit.Start(cfg.AuditPath); err != nil {
			return nil, fmt.Errorf("start audit log: %w", err)
		}
		e.auditing = true
	}

	// Default policy: only SYSTEM actors may request engine snapshots.
	// Everything else stays open until restricted by the caller.
	e.gateway.Allow(ActionEngineSnapshot, KindSystem)
	e.RegisterAction(ActionEngineSnapshot, func(ctx context.Context, req Request) (any, error) {
		return e.Snapshot(), nil
	})

	e.state.Store(stateRunning)
	log.Printf("🧠 Engine %s running", e.id)
	return e, nil
}

// ActionEngineSnapshot is the builtin introspection action, restricted
// to SYSTEM actors by the default policy.
const ActionEngineSnapshot = "engine.snapshot"

// NewDevelopmentEngine builds an engine with defaults suitable for
// local development and tests: generated id suffix, larger error
// history, no audit trail.
func NewDevelopmentEngine(ctx context.Context, id string) (*Engine, error) {
	if id == "" {
		id = "dev-" + uuid.NewString()[:8]
	}
	return New(ctx, Config{
		ID:           id,
		RecentErrors: 500,
	})
}

// NewRequest is a convenience constructor for collaborators
func NewRequest(action, actorID string, actorKind Kind, payload any) Request {
	return Request{
		Action:    action,
		ActorID:   actorID,
		ActorKind: actorKind,
		Payload:   payload,
	}
}

// FormatMetrics renders an engine metrics view for logs and consoles.
// Presentation only; not part of the core contract.
func FormatMetrics(m EngineMetrics) string {
	var b strings.Builder
	fmt.Fprintf(&b, "requests=%d failed=%d avgLatency=%.2fms", m.RequestsTotal, m.RequestsFailed, m.AverageLatencyMs)
	for name, value := range m.Collector.Gauges {
		fmt.Fprintf(&b, " %s=%g", name, value)
	}
	return b.String()
}
