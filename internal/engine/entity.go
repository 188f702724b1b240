package engine

import (
	"fmt"
	"strings"
	"time"
)

// Kind classifies registered entities. It is a closed set: permission
// checks dispatch on it with a plain map lookup, not a type hierarchy.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindHuman
	KindSimulant
	KindSystem
)

// String returns the canonical wire name for a kind
func (k Kind) String() string {
	switch k {
	case KindHuman:
		return "HUMAN"
	case KindSimulant:
		return "SIMULANT"
	case KindSystem:
		return "SYSTEM"
	default:
		return "UNKNOWN"
	}
}

// ParseKind maps a wire name back to a Kind. Case-insensitive.
func ParseKind(s string) (Kind, error) {
	switch strings.ToUpper(s) {
	case "HUMAN":
		return KindHuman, nil
	case "SIMULANT":
		return KindSimulant, nil
	case "SYSTEM":
		return KindSystem, nil
	default:
		return KindUnknown, fmt.Errorf("unknown entity kind: %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler so kinds render as names
// in JSON payloads instead of raw integers.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Entity is a registered actor or object in the simulation.
// Entities are owned by the EntityRegistry; collaborators hold the
// returned pointer read-only and mutate only through engine operations.
type Entity struct {
	ID         string         `json:"id"`
	Kind       Kind           `json:"kind"`
	Role       string         `json:"role"`
	Attributes map[string]any `json:"attributes"`
	CreatedAt  time.Time      `json:"createdAt"`
}
