package domain

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	// EntityIDPrefix is the prefix for generated entity IDs.
	EntityIDPrefix = "tsen-"

	// MaxEntityIDLength bounds client-chosen entity IDs.
	MaxEntityIDLength = 64

	// MaxStateKeys bounds the size of an entity state bag.
	MaxStateKeys = 64
)

// Well-known entity kinds. Kind is free-form; only KindGlobal carries
// authorization meaning.
const (
	KindToken  = "token"
	KindAvatar = "avatar"

	// KindGlobal marks room-wide state such as fog, lighting or turn order.
	// Only the host may write it.
	KindGlobal = "global"
)

// Position is a point on the table.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Entity is a positionable, stateful object owned by the room.
// The canonical copy lives on the server; clients hold cached copies.
type Entity struct {
	ID         string         `json:"id"`
	Kind       string         `json:"kind"`
	Owner      string         `json:"owner,omitempty"`
	Position   Position       `json:"position"`
	State      map[string]any `json:"state,omitempty"`
	Version    uint64         `json:"version"`
	LastWriter string         `json:"last_writer,omitempty"`
}

// GenerateEntityID creates a new entity ID.
// Format: tsen-{ulid_lowercase}.
func GenerateEntityID() (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", err
	}
	return EntityIDPrefix + strings.ToLower(id.String()), nil
}

// IsValidEntityID reports whether id is usable as an entity key.
// Client-chosen IDs are accepted so that creates can be applied optimistically.
func IsValidEntityID(id string) bool {
	if id == "" || len(id) > MaxEntityIDLength {
		return false
	}
	for _, r := range id {
		if r <= ' ' || r == 0x7f {
			return false
		}
	}
	return true
}

// IsGlobal reports whether the entity holds room-wide state.
func (e *Entity) IsGlobal() bool {
	return e.Kind == KindGlobal
}

// Clone returns a deep copy of the entity.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	clone := *e
	clone.State = cloneState(e.State)
	return &clone
}

// SameValue reports whether two entities carry the same visible value.
// Version and LastWriter are bookkeeping and are ignored.
func (e *Entity) SameValue(other *Entity) bool {
	if e == nil || other == nil {
		return e == nil && other == nil
	}
	if e.ID != other.ID || e.Kind != other.Kind || e.Owner != other.Owner || e.Position != other.Position {
		return false
	}
	if len(e.State) == 0 && len(other.State) == 0 {
		return true
	}
	// State values may arrive as different numeric types after a wire
	// round-trip; canonical JSON compares them by value.
	a, errA := json.Marshal(e.State)
	b, errB := json.Marshal(other.State)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(a, b)
}

func cloneState(state map[string]any) map[string]any {
	if state == nil {
		return nil
	}
	out := make(map[string]any, len(state))
	for k, v := range state {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneState(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return val
	}
}
