package engine

import (
	"errors"
	"sync"
	"time"
)

// ErrDuplicateEntity is returned when registering an id that already exists.
var ErrDuplicateEntity = errors.New("entity id already registered")

// EntityRegistry is the authoritative owner of entity lifecycle.
// It is deliberately event-agnostic: emitting entity:registered and
// friends is the Engine's job, so the registry stays reusable in tests
// without a bus attached.
type EntityRegistry struct {
	mu       sync.RWMutex
	entities map[string]*Entity
}

// NewEntityRegistry creates an empty registry
func NewEntityRegistry() *EntityRegistry {
	return &EntityRegistry{
		entities: make(map[string]*Entity),
	}
}

// Register stores a new entity record. Fails with ErrDuplicateEntity if
// the id is already present; the prior record is left untouched.
func (r *EntityRegistry) Register(id string, kind Kind, role string, attributes map[string]any) (*Entity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entities[id]; ok {
		return nil, ErrDuplicateEntity
	}

	// Copy attributes so callers can't alias registry-owned state
	attrs := make(map[string]any, len(attributes))
	for k, v := range attributes {
		attrs[k] = v
	}

	entity := &Entity{
		ID:         id,
		Kind:       kind,
		Role:       role,
		Attributes: attrs,
		CreatedAt:  time.Now(),
	}
	r.entities[id] = entity
	return entity, nil
}

// Get returns the entity for id, or nil if not registered
func (r *EntityRegistry) Get(id string) *Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entities[id]
}

// Count returns the number of registered entities
func (r *EntityRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entities)
}

// Deregister removes the entity if present. Returns true if something
// was removed; removing a missing id is an idempotent no-op.
func (r *EntityRegistry) Deregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entities[id]; !ok {
		return false
	}
	delete(r.entities, id)
	return true
}
