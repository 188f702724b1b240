package engine

import (
	"errors"
	"testing"
)

// TestRegisterAndGet verifies register followed by get returns the same record
func TestRegisterAndGet(t *testing.T) {
	registry := NewEntityRegistry()

	entity, err := registry.Register("alice", KindHuman, "player", map[string]any{"level": 3})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if entity.ID != "alice" || entity.Kind != KindHuman || entity.Role != "player" {
		t.Errorf("Unexpected entity: %+v", entity)
	}
	if entity.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}

	got := registry.Get("alice")
	if got != entity {
		t.Error("Get should return the registered record")
	}
}

// TestRegisterDuplicate verifies duplicate ids fail and leave the prior record unchanged
func TestRegisterDuplicate(t *testing.T) {
	registry := NewEntityRegistry()

	first, err := registry.Register("alice", KindHuman, "player", nil)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	_, err = registry.Register("alice", KindSimulant, "npc", nil)
	if !errors.Is(err, ErrDuplicateEntity) {
		t.Fatalf("Expected ErrDuplicateEntity, got %v", err)
	}

	// Failure must be idempotent: prior record untouched
	got := registry.Get("alice")
	if got != first {
		t.Error("Failed re-registration must not replace the record")
	}
	if got.Kind != KindHuman || got.Role != "player" {
		t.Errorf("Prior record mutated: %+v", got)
	}
	if registry.Count() != 1 {
		t.Errorf("Expected count 1, got %d", registry.Count())
	}
}

// TestRegisterCopiesAttributes verifies callers can't alias registry state
func TestRegisterCopiesAttributes(t *testing.T) {
	registry := NewEntityRegistry()

	attrs := map[string]any{"mood": "calm"}
	entity, _ := registry.Register("bob", KindSimulant, "npc", attrs)

	attrs["mood"] = "angry"
	if entity.Attributes["mood"] != "calm" {
		t.Error("Registry should copy attributes at registration")
	}
}

// TestDeregister verifies removal and idempotent no-op behavior
func TestDeregister(t *testing.T) {
	registry := NewEntityRegistry()
	registry.Register("alice", KindHuman, "player", nil)

	if !registry.Deregister("alice") {
		t.Error("Deregister should return true for a present id")
	}
	if registry.Get("alice") != nil {
		t.Error("Entity should be gone after deregistration")
	}
	if registry.Deregister("alice") {
		t.Error("Deregistering a missing id should be a no-op returning false")
	}
	if registry.Deregister("never-existed") {
		t.Error("Deregistering an unknown id should return false")
	}
}

// TestCount verifies count tracks registrations and removals
func TestCount(t *testing.T) {
	registry := NewEntityRegistry()

	if registry.Count() != 0 {
		t.Fatalf("Fresh registry should be empty, got %d", registry.Count())
	}

	registry.Register("a", KindHuman, "player", nil)
	registry.Register("b", KindSimulant, "npc", nil)
	registry.Register("c", KindSystem, "scheduler", nil)
	if registry.Count() != 3 {
		t.Errorf("Expected 3, got %d", registry.Count())
	}

	registry.Deregister("b")
	if registry.Count() != 2 {
		t.Errorf("Expected 2 after removal, got %d", registry.Count())
	}
}
