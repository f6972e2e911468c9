package domain

import (
	"crypto/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	// RoomIDPrefix is the prefix for room IDs.
	RoomIDPrefix = "tsrm-"

	// MaxRoomNameLength bounds the display name of a room.
	MaxRoomNameLength = 128

	// DefaultMaxMembers is the membership cap when none is configured.
	DefaultMaxMembers = 16
)

// RoomState is the lifecycle state of a room.
type RoomState string

const (
	RoomOpen    RoomState = "open"
	RoomClosing RoomState = "closing"
	RoomClosed  RoomState = "closed"
)

// ActionRecord remembers the outcome of an applied submission so that a
// retried actionId is answered without applying it twice.
type ActionRecord struct {
	ActionID  string
	ActorID   string
	EntityID  string
	Entity    *Entity
	Version   uint64
	Removed   bool
	AppliedAt time.Time
}

type seqKey struct {
	entityID string
	actorID  string
}

// Room is a shared session with one canonical entity table.
//
// A room is guarded by its own mutex: every read or write of members,
// entities or bookkeeping happens between Lock and Unlock. Different rooms
// never share a lock.
type Room struct {
	mu sync.Mutex

	ID         string
	Name       string
	SecretHash string
	HostID     string
	State      RoomState
	MaxMembers int
	Version    uint64
	CreatedAt  time.Time

	// HostLostAt is set while the host is stale and cleared when it returns.
	HostLostAt time.Time

	members    map[string]*Member
	entities   map[string]*Entity
	tombstones map[string]uint64
	actions    map[string]*ActionRecord
	seqs       map[seqKey]uint64
}

// GenerateRoomID creates a new room ID.
// Format: tsrm-{ulid_lowercase}.
func GenerateRoomID() (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", err
	}
	return RoomIDPrefix + strings.ToLower(id.String()), nil
}

// IsValidRoomID checks whether id has the room ID format.
func IsValidRoomID(id string) bool {
	if !strings.HasPrefix(id, RoomIDPrefix) {
		return false
	}
	_, err := ulid.Parse(strings.ToUpper(id[len(RoomIDPrefix):]))
	return err == nil
}

// NewRoom creates an open room with a fresh ID.
func NewRoom(name, hostID string, maxMembers int, now time.Time) (*Room, error) {
	id, err := GenerateRoomID()
	if err != nil {
		return nil, err
	}
	if maxMembers <= 0 {
		maxMembers = DefaultMaxMembers
	}
	return &Room{
		ID:         id,
		Name:       name,
		HostID:     hostID,
		State:      RoomOpen,
		MaxMembers: maxMembers,
		CreatedAt:  now,
		members:    make(map[string]*Member),
		entities:   make(map[string]*Entity),
		tombstones: make(map[string]uint64),
		actions:    make(map[string]*ActionRecord),
		seqs:       make(map[seqKey]uint64),
	}, nil
}

// Lock acquires the room lock.
func (r *Room) Lock() { r.mu.Lock() }

// Unlock releases the room lock.
func (r *Room) Unlock() { r.mu.Unlock() }

// IsOpen reports whether the room accepts joins and mutations.
func (r *Room) IsOpen() bool {
	return r.State == RoomOpen
}

// HasSecret reports whether joining requires an access secret.
func (r *Room) HasSecret() bool {
	return r.SecretHash != ""
}

// ============================================================================
// Roster
// ============================================================================

// Member returns the member with the given actor ID.
func (r *Room) Member(actorID string) (*Member, bool) {
	m, ok := r.members[actorID]
	return m, ok
}

// AddMember puts m on the roster, replacing any entry for the same actor.
func (r *Room) AddMember(m *Member) {
	r.members[m.ActorID] = m
}

// RemoveMember takes the actor off the roster and returns the removed entry.
func (r *Room) RemoveMember(actorID string) (*Member, bool) {
	m, ok := r.members[actorID]
	if ok {
		delete(r.members, actorID)
	}
	return m, ok
}

// MemberCount returns the roster size.
func (r *Room) MemberCount() int {
	return len(r.members)
}

// Members returns the roster ordered by join time, then actor ID.
func (r *Room) Members() []*Member {
	out := make([]*Member, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ActorID < out[j].ActorID
	})
	return out
}

// Host returns the host member if it is on the roster.
func (r *Room) Host() (*Member, bool) {
	return r.Member(r.HostID)
}

// Broadcast sends ev to every attached member except the given actor.
// Pass an empty actor to reach everyone.
func (r *Room) Broadcast(ev Event, exceptActor string) {
	for id, m := range r.members {
		if id == exceptActor {
			continue
		}
		m.Send(ev)
	}
}

// BroadcastBestEffort delivers ev to every member except exceptActor
// without risking their connections. It returns how many copies were
// dropped.
func (r *Room) BroadcastBestEffort(ev Event, exceptActor string) int {
	dropped := 0
	for id, m := range r.members {
		if id == exceptActor {
			continue
		}
		if !m.TrySend(ev) {
			dropped++
		}
	}
	return dropped
}

// SendTo delivers ev to a single member.
func (r *Room) SendTo(actorID string, ev Event) bool {
	m, ok := r.members[actorID]
	if !ok {
		return false
	}
	return m.Send(ev)
}

// ============================================================================
// Canonical Entities
// ============================================================================

// Entity returns the canonical entity (not a copy).
func (r *Room) Entity(id string) (*Entity, bool) {
	e, ok := r.entities[id]
	return e, ok
}

// EntityCount returns the number of live entities.
func (r *Room) EntityCount() int {
	return len(r.entities)
}

// NextVersion returns the version the next write to id must carry. Removed
// IDs continue from their tombstone so versions never go backwards.
func (r *Room) NextVersion(id string) uint64 {
	v := r.tombstones[id]
	if e, ok := r.entities[id]; ok && e.Version > v {
		v = e.Version
	}
	return v + 1
}

// CurrentVersion returns the latest version known for id, live or removed.
func (r *Room) CurrentVersion(id string) uint64 {
	return r.NextVersion(id) - 1
}

// PutEntity stores e as the canonical value.
func (r *Room) PutEntity(e *Entity) {
	delete(r.tombstones, e.ID)
	r.entities[e.ID] = e
}

// DeleteEntity removes id and records its final version.
func (r *Room) DeleteEntity(id string, version uint64) {
	delete(r.entities, id)
	r.tombstones[id] = version
}

// Entities returns copies of all live entities ordered by ID.
func (r *Room) Entities() []*Entity {
	out := make([]*Entity, 0, len(r.entities))
	for _, e := range r.entities {
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Snapshot returns the full canonical state.
func (r *Room) Snapshot() *Snapshot {
	members := r.Members()
	infos := make([]MemberInfo, len(members))
	for i, m := range members {
		infos[i] = m.Info()
	}
	return &Snapshot{
		RoomID:      r.ID,
		Members:     infos,
		Entities:    r.Entities(),
		RoomVersion: r.Version,
	}
}

// ============================================================================
// Submission Bookkeeping
// ============================================================================

// LookupAction returns the recorded outcome of actionID.
func (r *Room) LookupAction(actionID string) (*ActionRecord, bool) {
	rec, ok := r.actions[actionID]
	return rec, ok
}

// RecordAction remembers an applied submission.
func (r *Room) RecordAction(rec *ActionRecord) {
	r.actions[rec.ActionID] = rec
}

// PruneActions forgets records applied before cutoff and returns how many.
func (r *Room) PruneActions(cutoff time.Time) int {
	n := 0
	for id, rec := range r.actions {
		if rec.AppliedAt.Before(cutoff) {
			delete(r.actions, id)
			n++
		}
	}
	return n
}

// ActionCount returns the number of remembered action IDs.
func (r *Room) ActionCount() int {
	return len(r.actions)
}

// LastSeq returns the highest sequence applied for (entity, actor).
func (r *Room) LastSeq(entityID, actorID string) uint64 {
	return r.seqs[seqKey{entityID: entityID, actorID: actorID}]
}

// SetSeq records the highest sequence applied for (entity, actor).
func (r *Room) SetSeq(entityID, actorID string, seq uint64) {
	r.seqs[seqKey{entityID: entityID, actorID: actorID}] = seq
}

// ForgetActor drops sequence bookkeeping for an actor that left.
func (r *Room) ForgetActor(actorID string) {
	for k := range r.seqs {
		if k.actorID == actorID {
			delete(r.seqs, k)
		}
	}
}
