package engine

import (
	"encoding/json"
	"time"
)

// Engine-published event types. Collaborators subscribe to these via On;
// user code is free to emit and subscribe to its own types alongside.
const (
	EventEntityRegistered   = "entity:registered"
	EventEntityDeregistered = "entity:deregistered"
	EventActionScheduled    = "action:scheduled"
	EventTickCompleted      = "tick:completed"
	EventEngineStopped      = "engine:stopped"
)

// Typed payloads for engine-published events

// EntityEventPayload accompanies entity:registered and entity:deregistered
type EntityEventPayload struct {
	Entity *Entity `json:"entity"`
}

// ActionScheduledPayload accompanies action:scheduled
type ActionScheduledPayload struct {
	ActionID   string `json:"actionId"`
	ActionType string `json:"actionType"`
	RunAt      int64  `json:"runAt"`
	Priority   int    `json:"priority"`
}

// TickCompletedPayload accompanies tick:completed
type TickCompletedPayload struct {
	Now    int64      `json:"now"`
	Result TickResult `json:"result"`
}

// EngineStoppedPayload accompanies engine:stopped
type EngineStoppedPayload struct {
	EngineID string `json:"engineId"`
	Uptime   int64  `json:"uptimeMs"`
}

// AuditVersion versions the audit record schema for replay compatibility
const AuditVersion uint8 = 1

// AuditRecord is the durable form of one engine event in the audit trail
type AuditRecord struct {
	Version   uint8           `json:"version"`
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"` // unix nano
	Sequence  uint64          `json:"sequence"`  // monotonic, audit-local
	ActorID   string          `json:"actorId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewAuditRecord builds a record with the current timestamp. Payloads
// that fail to marshal are recorded without a payload rather than
// dropping the record.
func NewAuditRecord(eventType, actorID string, payload any) AuditRecord {
	var raw json.RawMessage
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			raw = data
		}
	}
	return AuditRecord{
		Version:   AuditVersion,
		Type:      eventType,
		Timestamp: time.Now().UnixNano(),
		ActorID:   actorID,
		Payload:   raw,
	}
}
