package engine

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewDevelopmentEngine(context.Background(), "test-engine")
	if err != nil {
		t.Fatalf("NewDevelopmentEngine failed: %v", err)
	}
	t.Cleanup(func() { e.Stop(context.Background()) })
	return e
}

// TestRegisterEntityEmitsEvent verifies registration, event, and counter
func TestRegisterEntityEmitsEvent(t *testing.T) {
	e := newTestEngine(t)

	var got Event
	e.On(EventEntityRegistered, func(ev Event) { got = ev })

	entity, err := e.RegisterEntity("alice", KindHuman, "player", map[string]any{"hp": 100})
	if err != nil {
		t.Fatalf("RegisterEntity failed: %v", err)
	}

	payload, ok := got.Payload.(EntityEventPayload)
	if !ok || payload.Entity != entity {
		t.Errorf("entity:registered should carry the new entity, got %+v", got.Payload)
	}
	if e.Metrics().Collector.Counters[MetricEntitiesTotal] != 1 {
		t.Error("Registration counter should increment")
	}
}

// TestRegisterEntityDuplicate verifies the DUPLICATE_ENTITY failure path
func TestRegisterEntityDuplicate(t *testing.T) {
	e := newTestEngine(t)

	e.RegisterEntity("alice", KindHuman, "player", nil)
	_, err := e.RegisterEntity("alice", KindSimulant, "npc", nil)

	var serr *StructuredError
	if !errors.As(err, &serr) || serr.Code != CodeDuplicateEntity {
		t.Fatalf("Expected DUPLICATE_ENTITY, got %v", err)
	}
	if !serr.Recoverable {
		t.Error("Duplicate registration is recoverable (caller picks another id)")
	}
	if e.Entity("alice").Kind != KindHuman {
		t.Error("Failed registration must leave the prior record unchanged")
	}
}

// TestSnapshotScenario mirrors the register-two-then-snapshot flow
func TestSnapshotScenario(t *testing.T) {
	e := newTestEngine(t)

	e.RegisterEntity("alice", KindHuman, "player", nil)
	e.RegisterEntity("bob", KindSimulant, "npc", nil)

	snap := e.Snapshot()
	if snap.EntityCount != 2 {
		t.Errorf("Expected entityCount 2, got %d", snap.EntityCount)
	}
	if snap.EngineID != "test-engine" || snap.State != "RUNNING" {
		t.Errorf("Unexpected snapshot identity: %+v", snap)
	}

	// SYSTEM may request engine.snapshot
	resp := e.Request(context.Background(), NewRequest(ActionEngineSnapshot, "scheduler", KindSystem, nil))
	if !resp.OK {
		t.Fatalf("SYSTEM snapshot request should succeed: %+v", resp.Err)
	}
	if _, ok := resp.Data.(EngineSnapshot); !ok {
		t.Errorf("Expected EngineSnapshot data, got %T", resp.Data)
	}

	// SIMULANT may not
	resp = e.Request(context.Background(), NewRequest(ActionEngineSnapshot, "bob", KindSimulant, nil))
	if resp.OK {
		t.Fatal("SIMULANT snapshot request should be denied")
	}
	if resp.Err == nil || resp.Err.Code != CodePermissionDenied {
		t.Errorf("Expected PERMISSION_DENIED, got %+v", resp.Err)
	}
}

// TestRequestMetricsCounting verifies the requestsTotal/requestsFailed laws
func TestRequestMetricsCounting(t *testing.T) {
	e := newTestEngine(t)
	e.RegisterAction("sim.speak", func(ctx context.Context, req Request) (any, error) {
		return "said", nil
	})
	e.RegisterAction("sim.crash", func(ctx context.Context, req Request) (any, error) {
		return nil, errors.New("handler error")
	})

	ctx := context.Background()
	e.Request(ctx, NewRequest("sim.speak", "alice", KindHuman, nil))                 // ok
	e.Request(ctx, NewRequest("sim.crash", "alice", KindHuman, nil))                 // handler failure
	e.Request(ctx, NewRequest(ActionEngineSnapshot, "bob", KindSimulant, nil))       // denied
	e.Request(ctx, NewRequest("no.such.action", "alice", KindHuman, nil))            // unknown
	e.Request(ctx, NewRequest(ActionEngineSnapshot, "scheduler", KindSystem, nil))   // ok

	m := e.Metrics()
	if m.RequestsTotal != 5 {
		t.Errorf("requestsTotal must increment once per request, got %d", m.RequestsTotal)
	}
	if m.RequestsFailed != 3 {
		t.Errorf("requestsFailed should be 3 (crash, denial, unknown), got %d", m.RequestsFailed)
	}
	if m.AverageLatencyMs < 0 {
		t.Errorf("averageLatencyMs should be non-negative, got %g", m.AverageLatencyMs)
	}
}

// TestRequestDenialHasNoSideEffects verifies denial before any dispatch
func TestRequestDenialHasNoSideEffects(t *testing.T) {
	e := newTestEngine(t)

	handlerRan := false
	e.RegisterAction("world.edit", func(ctx context.Context, req Request) (any, error) {
		handlerRan = true
		return nil, nil
	})
	e.RestrictAction("world.edit", KindSystem)

	events := 0
	e.On(EventEntityRegistered, func(Event) { events++ })

	resp := e.Request(context.Background(), NewRequest("world.edit", "bob", KindSimulant, nil))
	if resp.OK {
		t.Fatal("Request should be denied")
	}
	if handlerRan {
		t.Error("Denied request must never reach the handler")
	}
	if events != 0 || e.Snapshot().EntityCount != 0 {
		t.Error("Denied request must have zero observable side effects")
	}
}

// TestRequestPanicContained verifies a panicking handler yields ok:false
func TestRequestPanicContained(t *testing.T) {
	e := newTestEngine(t)
	e.RegisterAction("sim.panic", func(ctx context.Context, req Request) (any, error) {
		panic("collaborator bug")
	})

	resp := e.Request(context.Background(), NewRequest("sim.panic", "alice", KindHuman, nil))
	if resp.OK {
		t.Fatal("Panicking handler should produce ok:false")
	}
	if resp.Err.Code != CodeActionExecutionError {
		t.Errorf("Expected ACTION_EXECUTION_ERROR, got %s", resp.Err.Code)
	}
	if e.Metrics().RequestsFailed != 1 {
		t.Error("Panic should count as a failed request")
	}
}

// TestScheduleAndTick verifies the scheduling round trip through the engine
func TestScheduleAndTick(t *testing.T) {
	e := newTestEngine(t)

	executed := []string{}
	e.RegisterAction("sim.move", func(ctx context.Context, req Request) (any, error) {
		executed = append(executed, req.Payload.(string))
		return nil, nil
	})

	base := time.Now().UnixMilli()
	id, err := e.ScheduleAction(ActionSpec{RunAt: base + 100, ActionType: "sim.move", Payload: "step-1", Priority: 5})
	if err != nil || id == "" {
		t.Fatalf("ScheduleAction failed: id=%q err=%v", id, err)
	}
	e.ScheduleAction(ActionSpec{RunAt: base + 200, ActionType: "sim.move", Payload: "step-2", Priority: 1})

	result, err := e.Tick(context.Background(), base+50)
	if err != nil || result.Processed != 0 {
		t.Fatalf("Early tick should process nothing: %+v %v", result, err)
	}

	result, err = e.Tick(context.Background(), base+250)
	if err != nil || result.Processed != 2 {
		t.Fatalf("Expected both actions processed: %+v %v", result, err)
	}
	// runAt dominates priority
	if len(executed) != 2 || executed[0] != "step-1" || executed[1] != "step-2" {
		t.Errorf("Expected [step-1 step-2], got %v", executed)
	}

	snap := e.Snapshot()
	if snap.ActionsScheduled != 2 || snap.ActionsExecuted != 2 || snap.ActionsPending != 0 {
		t.Errorf("Unexpected snapshot totals: %+v", snap)
	}
}

// TestStopStateMachine verifies the terminal STOPPED state
func TestStopStateMachine(t *testing.T) {
	e := newTestEngine(t)

	stopped := 0
	e.On(EventEngineStopped, func(Event) { stopped++ })

	if err := e.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if stopped != 1 {
		t.Error("engine:stopped should be emitted exactly once")
	}

	// Idempotent on repeat
	if err := e.Stop(context.Background()); err != nil {
		t.Fatalf("Repeated Stop should be a no-op: %v", err)
	}
	if stopped != 1 {
		t.Error("Repeated Stop must not re-emit engine:stopped")
	}

	// Mutating operations fail after stop
	var serr *StructuredError
	if _, err := e.RegisterEntity("x", KindHuman, "r", nil); !errors.As(err, &serr) || serr.Code != CodeEngineStopped {
		t.Errorf("RegisterEntity after stop should fail with ENGINE_STOPPED, got %v", err)
	}
	if serr.Recoverable {
		t.Error("ENGINE_STOPPED is non-recoverable for this instance")
	}
	if resp := e.Request(context.Background(), NewRequest("sim.speak", "a", KindHuman, nil)); resp.OK || resp.Err.Code != CodeEngineStopped {
		t.Errorf("Request after stop should fail with ENGINE_STOPPED, got %+v", resp)
	}
	if _, err := e.ScheduleAction(ActionSpec{ActionType: "x"}); !errors.As(err, &serr) || serr.Code != CodeEngineStopped {
		t.Errorf("ScheduleAction after stop should fail, got %v", err)
	}
	if _, err := e.Tick(context.Background(), time.Now().UnixMilli()); !errors.As(err, &serr) || serr.Code != CodeEngineStopped {
		t.Errorf("Tick after stop should fail, got %v", err)
	}

	if e.Snapshot().State != "STOPPED" {
		t.Errorf("Expected STOPPED state, got %s", e.Snapshot().State)
	}
}

// TestDeregisterEntity verifies the symmetric removal operation
func TestDeregisterEntity(t *testing.T) {
	e := newTestEngine(t)
	e.RegisterEntity("alice", KindHuman, "player", nil)

	var gone Event
	e.On(EventEntityDeregistered, func(ev Event) { gone = ev })

	removed, err := e.DeregisterEntity("alice")
	if err != nil || !removed {
		t.Fatalf("DeregisterEntity failed: %v removed=%v", err, removed)
	}
	if payload, ok := gone.Payload.(EntityEventPayload); !ok || payload.Entity.ID != "alice" {
		t.Errorf("entity:deregistered should carry the removed entity, got %+v", gone.Payload)
	}

	removed, err = e.DeregisterEntity("alice")
	if err != nil || removed {
		t.Error("Removing a missing entity should be a silent no-op")
	}
}

// TestEngineInstancesIndependent verifies no cross-talk between engines
func TestEngineInstancesIndependent(t *testing.T) {
	a := newTestEngine(t)
	b, err := NewDevelopmentEngine(context.Background(), "other-engine")
	if err != nil {
		t.Fatalf("second engine: %v", err)
	}
	defer b.Stop(context.Background())

	a.RegisterEntity("alice", KindHuman, "player", nil)
	if b.Snapshot().EntityCount != 0 {
		t.Error("Engines must not share registry state")
	}

	a.Request(context.Background(), NewRequest("missing", "x", KindHuman, nil))
	if b.Metrics().RequestsTotal != 0 {
		t.Error("Engines must not share metrics state")
	}
}

// TestFormatMetrics verifies the presentation helper includes the core counters
func TestFormatMetrics(t *testing.T) {
	e := newTestEngine(t)
	e.Request(context.Background(), NewRequest("missing", "x", KindHuman, nil))

	out := FormatMetrics(e.Metrics())
	if out == "" {
		t.Fatal("FormatMetrics returned an empty string")
	}
	if want := "requests=1 failed=1"; len(out) < len(want) || out[:len(want)] != want {
		t.Errorf("Expected output to start with %q, got %q", want, out)
	}
}

// TestParseKind verifies kind round trips
func TestParseKind(t *testing.T) {
	tests := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{"HUMAN", KindHuman, false},
		{"simulant", KindSimulant, false},
		{"System", KindSystem, false},
		{"robot", KindUnknown, true},
	}
	for _, tt := range tests {
		got, err := ParseKind(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseKind(%q) = %v, %v", tt.in, got, err)
		}
	}
}
