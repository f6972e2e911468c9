package domain

import (
	"fmt"
	"math"
	"time"
)

// MutationType is the closed set of canonical state changes.
type MutationType string

const (
	// MutationMove sets an entity's position.
	MutationMove MutationType = "move"

	// MutationStateUpdate sets or clears keys in an entity's state bag.
	MutationStateUpdate MutationType = "state_update"

	// MutationCreateEntity adds an entity to the table.
	MutationCreateEntity MutationType = "create_entity"

	// MutationRemoveEntity deletes an entity from the table.
	MutationRemoveEntity MutationType = "remove_entity"

	// MutationGlobalUpdate writes room-wide state (fog, lighting, turn order).
	MutationGlobalUpdate MutationType = "global_update"
)

// Valid reports whether t is a known mutation type.
func (t MutationType) Valid() bool {
	switch t {
	case MutationMove, MutationStateUpdate, MutationCreateEntity, MutationRemoveEntity, MutationGlobalUpdate:
		return true
	}
	return false
}

// ParseMutationType converts a wire string into a MutationType.
func ParseMutationType(s string) (MutationType, error) {
	t := MutationType(s)
	if !t.Valid() {
		return "", ErrMalformedMutation.WithDetails(fmt.Sprintf("unknown mutation type %q", s))
	}
	return t, nil
}

// MovePayload is the payload of MutationMove.
type MovePayload struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// StatePayload is the payload of MutationStateUpdate and MutationGlobalUpdate.
// Keys in Set are written, keys in Unset are removed.
type StatePayload struct {
	Set   map[string]any `json:"set,omitempty"`
	Unset []string       `json:"unset,omitempty"`
}

// CreatePayload is the payload of MutationCreateEntity.
type CreatePayload struct {
	Kind  string         `json:"kind"`
	Owner string         `json:"owner,omitempty"`
	X     float64        `json:"x"`
	Y     float64        `json:"y"`
	State map[string]any `json:"state,omitempty"`
}

// Mutation is a tagged variant: Type selects which payload field is set.
// Exactly one payload matches the type; RemoveEntity carries none.
type Mutation struct {
	Type     MutationType   `json:"type"`
	EntityID string         `json:"entity_id"`
	Move     *MovePayload   `json:"move,omitempty"`
	State    *StatePayload  `json:"state,omitempty"`
	Create   *CreatePayload `json:"create,omitempty"`
}

// NewMove builds a move mutation.
func NewMove(entityID string, x, y float64) Mutation {
	return Mutation{Type: MutationMove, EntityID: entityID, Move: &MovePayload{X: x, Y: y}}
}

// NewStateUpdate builds a state update mutation.
func NewStateUpdate(entityID string, set map[string]any, unset ...string) Mutation {
	return Mutation{Type: MutationStateUpdate, EntityID: entityID, State: &StatePayload{Set: set, Unset: unset}}
}

// NewGlobalUpdate builds a global state mutation.
func NewGlobalUpdate(entityID string, set map[string]any, unset ...string) Mutation {
	return Mutation{Type: MutationGlobalUpdate, EntityID: entityID, State: &StatePayload{Set: set, Unset: unset}}
}

// NewCreate builds a create mutation.
func NewCreate(entityID string, p CreatePayload) Mutation {
	return Mutation{Type: MutationCreateEntity, EntityID: entityID, Create: &p}
}

// NewRemove builds a remove mutation.
func NewRemove(entityID string) Mutation {
	return Mutation{Type: MutationRemoveEntity, EntityID: entityID}
}

// Validate checks the shape of the mutation. It does not look at room state.
func (m Mutation) Validate() error {
	if !m.Type.Valid() {
		return ErrMalformedMutation.WithDetails(fmt.Sprintf("unknown mutation type %q", m.Type))
	}
	if !IsValidEntityID(m.EntityID) {
		return ErrMalformedMutation.WithDetails("invalid entity_id")
	}

	set := 0
	if m.Move != nil {
		set++
	}
	if m.State != nil {
		set++
	}
	if m.Create != nil {
		set++
	}

	switch m.Type {
	case MutationMove:
		if m.Move == nil || set != 1 {
			return ErrMalformedMutation.WithDetails("move requires exactly a move payload")
		}
		if !finite(m.Move.X) || !finite(m.Move.Y) {
			return ErrMalformedMutation.WithDetails("position must be finite")
		}
	case MutationStateUpdate, MutationGlobalUpdate:
		if m.State == nil || set != 1 {
			return ErrMalformedMutation.WithDetails(string(m.Type) + " requires exactly a state payload")
		}
		if len(m.State.Set) == 0 && len(m.State.Unset) == 0 {
			return ErrMalformedMutation.WithDetails("state payload is empty")
		}
		if len(m.State.Set)+len(m.State.Unset) > MaxStateKeys {
			return ErrMalformedMutation.WithDetails(fmt.Sprintf("at most %d state keys per mutation", MaxStateKeys))
		}
		for k := range m.State.Set {
			if k == "" {
				return ErrMalformedMutation.WithDetails("empty state key")
			}
		}
	case MutationCreateEntity:
		if m.Create == nil || set != 1 {
			return ErrMalformedMutation.WithDetails("create_entity requires exactly a create payload")
		}
		if m.Create.Kind == "" {
			return ErrMalformedMutation.WithDetails("kind is required")
		}
		if !finite(m.Create.X) || !finite(m.Create.Y) {
			return ErrMalformedMutation.WithDetails("position must be finite")
		}
		if len(m.Create.State) > MaxStateKeys {
			return ErrMalformedMutation.WithDetails(fmt.Sprintf("at most %d state keys", MaxStateKeys))
		}
	case MutationRemoveEntity:
		if set != 0 {
			return ErrMalformedMutation.WithDetails("remove_entity carries no payload")
		}
	}
	return nil
}

// Apply computes the value that results from applying m to current.
// current is never modified. A nil result with a nil error means the entity
// is removed. Version and LastWriter are left for the caller to stamp.
func (m Mutation) Apply(current *Entity) (*Entity, error) {
	switch m.Type {
	case MutationCreateEntity:
		if current != nil {
			return nil, ErrEntityExists.WithDetails(m.EntityID)
		}
		return &Entity{
			ID:       m.EntityID,
			Kind:     m.Create.Kind,
			Owner:    m.Create.Owner,
			Position: Position{X: m.Create.X, Y: m.Create.Y},
			State:    cloneState(m.Create.State),
		}, nil

	case MutationGlobalUpdate:
		next := current.Clone()
		if next == nil {
			next = &Entity{ID: m.EntityID, Kind: KindGlobal}
		}
		if !next.IsGlobal() {
			return nil, ErrMalformedMutation.WithDetails("global_update targets a non-global entity")
		}
		applyState(next, m.State)
		return next, nil
	}

	if current == nil {
		return nil, ErrEntityNotFound.WithDetails(m.EntityID)
	}

	switch m.Type {
	case MutationMove:
		next := current.Clone()
		next.Position = Position{X: m.Move.X, Y: m.Move.Y}
		return next, nil
	case MutationStateUpdate:
		next := current.Clone()
		applyState(next, m.State)
		return next, nil
	case MutationRemoveEntity:
		return nil, nil
	}
	return nil, ErrMalformedMutation.WithDetails(fmt.Sprintf("unknown mutation type %q", m.Type))
}

func applyState(e *Entity, p *StatePayload) {
	if e.State == nil && len(p.Set) > 0 {
		e.State = make(map[string]any, len(p.Set))
	}
	for k, v := range p.Set {
		e.State[k] = cloneValue(v)
	}
	for _, k := range p.Unset {
		delete(e.State, k)
	}
	if len(e.State) == 0 {
		e.State = nil
	}
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Submission is a mutation request as received by the bus.
type Submission struct {
	ActionID   string
	RoomID     string
	ActorID    string
	Seq        uint64 // per-actor issue sequence, 0 when the client does not stamp one
	IsFinal    bool
	Mutation   Mutation
	ReceivedAt time.Time
}

// MaxActionIDLength bounds client-generated action IDs.
const MaxActionIDLength = 64

// Validate checks the submission envelope and its mutation.
func (s *Submission) Validate() error {
	if s.ActionID == "" || len(s.ActionID) > MaxActionIDLength {
		return ErrMalformedMutation.WithDetails("invalid action_id")
	}
	if s.RoomID == "" || s.ActorID == "" {
		return ErrMalformedMutation.WithDetails("room_id and actor_id are required")
	}
	return s.Mutation.Validate()
}
