package engine

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Engine lifecycle states. The transition graph is strictly
// CREATED -> RUNNING -> STOPPED; STOPPED is terminal.
const (
	stateCreated int32 = iota
	stateRunning
	stateStopped
)

// Metric names owned by the engine. All counter state lives in the
// Collector; the Engine only increments and derives.
const (
	MetricRequestsTotal    = "engine_requests_total"
	MetricRequestsFailed   = "engine_requests_failed"
	MetricRequestLatencyMs = "engine_request_latency_ms"
	MetricEntitiesTotal    = "engine_entities_registered_total"
	MetricEntitiesCurrent  = "engine_entities_current"
	MetricTicksTotal       = "engine_ticks_total"
	MetricActionsPending   = "engine_actions_pending"
	MetricTickDurationMs   = "engine_tick_duration_ms"
	MetricActionsScheduled = "engine_actions_scheduled_total"
)

// ActionHandler executes one named action. Handlers receive the full
// request for actor context and return response data or an error.
type ActionHandler func(ctx context.Context, req Request) (any, error)

// Request is an immutable state-change proposal evaluated exactly once
type Request struct {
	Action    string `json:"action"`
	ActorID   string `json:"actorId"`
	ActorKind Kind   `json:"actorKind"`
	Payload   any    `json:"payload"`
}

// Response is the single outcome of a request. Permission failure
// guarantees zero side effects: nothing is ever partially applied.
type Response struct {
	OK   bool             `json:"ok"`
	Data any              `json:"data,omitempty"`
	Err  *StructuredError `json:"error,omitempty"`
}

// EngineSnapshot is a read-only composite of engine state. Taking one
// mutates nothing.
type EngineSnapshot struct {
	EngineID         string    `json:"engineId"`
	State            string    `json:"state"`
	EntityCount      int       `json:"entityCount"`
	ActionsPending   int       `json:"actionsPending"`
	ActionsScheduled uint64    `json:"actionsScheduled"`
	ActionsExecuted  uint64    `json:"actionsExecuted"`
	ActionsFailed    uint64    `json:"actionsFailed"`
	CreatedAt        time.Time `json:"createdAt"`
	Timestamp        time.Time `json:"timestamp"`
}

// EngineMetrics is the engine-level metrics view: derived counters plus
// the full collector snapshot.
type EngineMetrics struct {
	RequestsTotal    uint64          `json:"requestsTotal"`
	RequestsFailed   uint64          `json:"requestsFailed"`
	AverageLatencyMs float64         `json:"averageLatencyMs"`
	Collector        MetricsSnapshot `json:"collector"`
}

// Config carries engine construction parameters
type Config struct {
	ID           string // engine instance id; generated when empty
	RecentErrors int    // bounded error history size; 0 = default
	AuditPath    string // JSONL audit trail path; empty disables auditing
}

// Engine composes the registry, scheduler, event bus, permission
// gateway, metrics collector, and error domain behind the public
// contract consumed by collaborators. Each component guards its own
// state; there is no global engine lock on the hot paths.
type Engine struct {
	id        string
	createdAt time.Time
	state     atomic.Int32

	registry  *EntityRegistry
	scheduler *Scheduler
	bus       *Bus
	gateway   *Gateway
	metrics   *Collector
	errs      *ErrorDomain
	audit     *AuditLog

	actionsMu sync.RWMutex
	actions   map[string]ActionHandler

	stopMu   sync.Mutex
	unsubs   []func()
	auditing bool
}

// running reports whether the engine accepts mutating operations
func (e *Engine) running() bool {
	return e.state.Load() == stateRunning
}

// stoppedError records and returns the terminal-state error for op
func (e *Engine) stoppedError(op string) *StructuredError {
	return e.errs.New(CodeEngineStopped, "engine is stopped", map[string]any{
		"operation": op,
		"engineId":  e.id,
	})
}

// ID returns the engine instance id
func (e *Engine) ID() string {
	return e.id
}

// Errors exposes the error domain statistics
func (e *Engine) Errors() ErrorStatistics {
	return e.errs.Statistics()
}

// RegisterAction binds a handler to an action name. Both Request
// dispatch and the scheduler route through this single table, so an
// unknown action type is a representable state rather than a crash.
func (e *Engine) RegisterAction(name string, handler ActionHandler) {
	e.actionsMu.Lock()
	defer e.actionsMu.Unlock()
	e.actions[name] = handler
}

func (e *Engine) actionHandler(name string) (ActionHandler, bool) {
	e.actionsMu.RLock()
	defer e.actionsMu.RUnlock()
	h, ok := e.actions[name]
	return h, ok
}

// RestrictAction limits an action to the given entity kinds
func (e *Engine) RestrictAction(action string, kinds ...Kind) {
	e.gateway.Allow(action, kinds...)
}

// On subscribes handler to an event type and returns its unsubscribe
// closure. Subscriptions survive until unsubscribed or the engine stops.
func (e *Engine) On(eventType string, handler EventHandler) func() {
	return e.bus.On(eventType, handler)
}

// publish emits an event and mirrors it into the audit trail
func (e *Engine) publish(eventType, actorID string, payload any) {
	e.bus.Emit(eventType, payload)
	if e.auditing {
		e.audit.Record(NewAuditRecord(eventType, actorID, payload))
	}
}

// RegisterEntity registers a new entity, emits entity:registered, and
// bumps the registration counter. Duplicate ids fail with a
// DUPLICATE_ENTITY structured error and leave the prior record intact.
func (e *Engine) RegisterEntity(id string, kind Kind, role string, attributes map[string]any) (*Entity, error) {
	if !e.running() {
		return nil, e.stoppedError("registerEntity")
	}

	entity, err := e.registry.Register(id, kind, role, attributes)
	if err != nil {
		return nil, e.errs.New(CodeDuplicateEntity, "entity id already registered", map[string]any{
			"entityId": id,
		})
	}

	e.publish(EventEntityRegistered, id, EntityEventPayload{Entity: entity})
	e.metrics.IncrementCounter(MetricEntitiesTotal, 1)
	e.metrics.SetGauge(MetricEntitiesCurrent, float64(e.registry.Count()))
	return entity, nil
}

// DeregisterEntity removes an entity. Returns true when something was
// removed; a missing id is an idempotent no-op and emits nothing.
func (e *Engine) DeregisterEntity(id string) (bool, error) {
	if !e.running() {
		return false, e.stoppedError("deregisterEntity")
	}

	entity := e.registry.Get(id)
	if !e.registry.Deregister(id) {
		return false, nil
	}

	e.publish(EventEntityDeregistered, id, EntityEventPayload{Entity: entity})
	e.metrics.SetGauge(MetricEntitiesCurrent, float64(e.registry.Count()))
	return true, nil
}

// Entity returns the entity for id, or nil
func (e *Engine) Entity(id string) *Entity {
	return e.registry.Get(id)
}

// Request evaluates one capability-checked request. requestsTotal
// increments exactly once per call regardless of outcome;
// requestsFailed increments only on denial, unknown action, or handler
// failure. Denial happens before any dispatch, so a denied request has
// zero observable side effects.
func (e *Engine) Request(ctx context.Context, req Request) Response {
	if !e.running() {
		return Response{OK: false, Err: e.stoppedError("request")}
	}

	e.metrics.IncrementCounter(MetricRequestsTotal, 1)

	if !e.gateway.Check(req.Action, req.ActorKind) {
		e.metrics.IncrementCounter(MetricRequestsFailed, 1)
		err := e.errs.New(CodePermissionDenied, "actor kind not permitted for action", map[string]any{
			"action":    req.Action,
			"actorId":   req.ActorID,
			"actorKind": req.ActorKind.String(),
		})
		return Response{OK: false, Err: err}
	}

	handler, ok := e.actionHandler(req.Action)
	if !ok {
		e.metrics.IncrementCounter(MetricRequestsFailed, 1)
		err := e.errs.New(CodeUnknownAction, "no handler registered for action", map[string]any{
			"action": req.Action,
		})
		return Response{OK: false, Err: err}
	}

	start := time.Now()
	data, handlerErr := invokeHandler(ctx, handler, req)
	e.metrics.RecordHistogram(MetricRequestLatencyMs, float64(time.Since(start).Microseconds())/1000.0)

	if handlerErr != nil {
		e.metrics.IncrementCounter(MetricRequestsFailed, 1)
		err := e.errs.New(CodeActionExecutionError, "action handler failed", map[string]any{
			"action":  req.Action,
			"actorId": req.ActorID,
			"error":   handlerErr.Error(),
		})
		return Response{OK: false, Err: err}
	}

	return Response{OK: true, Data: data}
}

// invokeHandler runs a request handler behind a recover barrier so a
// panicking collaborator surfaces as a failed response, not a crash.
func invokeHandler(ctx context.Context, handler ActionHandler, req Request) (data any, err error) {
	defer func() {
		if r := recover(); r != nil {
			data = nil
			err = &StructuredError{
				Code:        CodeActionExecutionError,
				Message:     describePanic(r),
				Recoverable: true,
				Timestamp:   time.Now(),
			}
		}
	}()
	return handler(ctx, req)
}

// ScheduleAction inserts a future action into the scheduler queue and
// returns its generated id.
func (e *Engine) ScheduleAction(spec ActionSpec) (string, error) {
	if !e.running() {
		return "", e.stoppedError("scheduleAction")
	}

	id := e.scheduler.Schedule(spec)
	e.metrics.IncrementCounter(MetricActionsScheduled, 1)
	e.metrics.SetGauge(MetricActionsPending, float64(e.scheduler.Pending()))
	e.publish(EventActionScheduled, "", ActionScheduledPayload{
		ActionID:   id,
		ActionType: spec.ActionType,
		RunAt:      spec.RunAt,
		Priority:   spec.Priority,
	})
	return id, nil
}

// Tick processes every scheduled action due at now (unix milliseconds)
// and aggregates the resulting metrics.
func (e *Engine) Tick(ctx context.Context, now int64) (TickResult, error) {
	if !e.running() {
		return TickResult{}, e.stoppedError("tick")
	}

	start := time.Now()
	result := e.scheduler.Tick(ctx, now)

	e.metrics.IncrementCounter(MetricTicksTotal, 1)
	e.metrics.SetGauge(MetricActionsPending, float64(result.Remaining))
	e.metrics.RecordHistogram(MetricTickDurationMs, float64(time.Since(start).Microseconds())/1000.0)

	e.publish(EventTickCompleted, "", TickCompletedPayload{Now: now, Result: result})
	return result, nil
}

// dispatchScheduled routes due scheduler actions through the shared
// action table. Scheduled work carries no actor, so it bypasses the
// permission gateway: only the scheduling caller was subject to checks.
func (e *Engine) dispatchScheduled(ctx context.Context, actionType string, payload any) error {
	handler, ok := e.actionHandler(actionType)
	if !ok {
		return ErrNoHandler
	}
	_, err := handler(ctx, Request{Action: actionType, ActorKind: KindSystem, Payload: payload})
	return err
}

// Snapshot returns a read-only composite of engine state
func (e *Engine) Snapshot() EngineSnapshot {
	totals := e.scheduler.Totals()
	return EngineSnapshot{
		EngineID:         e.id,
		State:            e.stateName(),
		EntityCount:      e.registry.Count(),
		ActionsPending:   e.scheduler.Pending(),
		ActionsScheduled: totals.Scheduled,
		ActionsExecuted:  totals.Executed,
		ActionsFailed:    totals.Failed,
		CreatedAt:        e.createdAt,
		Timestamp:        time.Now(),
	}
}

func (e *Engine) stateName() string {
	switch e.state.Load() {
	case stateRunning:
		return "RUNNING"
	case stateStopped:
		return "STOPPED"
	default:
		return "CREATED"
	}
}

// Metrics returns the engine-level metrics view. requestsTotal and
// requestsFailed come straight from the collector; averageLatencyMs is
// the running mean of the request latency histogram.
func (e *Engine) Metrics() EngineMetrics {
	snap := e.metrics.Snapshot()
	return EngineMetrics{
		RequestsTotal:    uint64(snap.Counters[MetricRequestsTotal]),
		RequestsFailed:   uint64(snap.Counters[MetricRequestsFailed]),
		AverageLatencyMs: snap.Histograms[MetricRequestLatencyMs].Mean,
		Collector:        snap,
	}
}

// Stop transitions RUNNING -> STOPPED, emits engine:stopped, drops all
// internal subscriptions, and freezes further mutation. Idempotent.
func (e *Engine) Stop(ctx context.Context) error {
	if !e.state.CompareAndSwap(stateRunning, stateStopped) {
		return nil // already stopped (or never started)
	}

	// Emit while subscribers are still attached, then tear down
	e.publish(EventEngineStopped, "", EngineStoppedPayload{
		EngineID: e.id,
		Uptime:   time.Since(e.createdAt).Milliseconds(),
	})

	e.stopMu.Lock()
	for _, unsub := range e.unsubs {
		unsub()
	}
	e.unsubs = nil
	e.stopMu.Unlock()

	if e.auditing {
		e.audit.Stop()
	}

	log.Printf("🛑 Engine %s stopped", e.id)
	return nil
}
