package domain

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventType tags a server-to-client event.
type EventType string

const (
	EventJoined           EventType = "joined"
	EventSnapshot         EventType = "snapshot"
	EventConfirmation     EventType = "confirmation"
	EventRemoteApply      EventType = "remote_apply"
	EventRejected         EventType = "rejected"
	EventPresence         EventType = "presence"
	EventMemberJoined     EventType = "member_joined"
	EventMemberLeft       EventType = "member_left"
	EventHostDisconnected EventType = "host_disconnected"
	EventHostReconnected  EventType = "host_reconnected"
	EventRoomClosed       EventType = "room_closed"
	EventHeartbeat        EventType = "heartbeat"
	EventError            EventType = "error"
)

// Room closure reasons.
const (
	CloseReasonHostLeft = "host_left"
	CloseReasonHostLost = "host_lost"
	CloseReasonClosed   = "closed_by_host"
	CloseReasonShutdown = "server_shutdown"
)

// Event is a message from the server to one client. Type decides which of
// the optional fields are populated.
type Event struct {
	Type     EventType       `json:"type"`
	RoomID   string          `json:"room_id,omitempty"`
	ActionID string          `json:"action_id,omitempty"`
	EntityID string          `json:"entity_id,omitempty"`
	Entity   *Entity         `json:"entity,omitempty"`
	Version  uint64          `json:"version,omitempty"`
	Removed  bool            `json:"removed,omitempty"`
	Member   *MemberInfo     `json:"member,omitempty"`
	Presence *PresenceRecord `json:"presence,omitempty"`
	Snapshot *Snapshot       `json:"snapshot,omitempty"`
	Role     Role            `json:"role,omitempty"`
	Reason   string          `json:"reason,omitempty"`
	Code     string          `json:"code,omitempty"`
	Kind     ErrorKind       `json:"kind,omitempty"`

	// Heartbeat echo, Unix milliseconds.
	ServerTime int64 `json:"server_time,omitempty"`
	ClientTime int64 `json:"client_time,omitempty"`

	// Heartbeat settings announced on join, milliseconds.
	HeartbeatInterval int64 `json:"heartbeat_interval,omitempty"`
	HeartbeatTimeout  int64 `json:"heartbeat_timeout,omitempty"`
}

// RejectionEvent builds the reply for a failed submission. current is the
// canonical entity (nil if absent), so the sender can reconcile.
func RejectionEvent(roomID, actionID, entityID string, err error, current *Entity, version uint64) Event {
	code := GetErrorCode(err)
	if code == "" {
		code = ErrInternal.Code
	}
	return Event{
		Type:     EventRejected,
		RoomID:   roomID,
		ActionID: actionID,
		EntityID: entityID,
		Entity:   current.Clone(),
		Version:  version,
		Removed:  current == nil,
		Code:     code,
		Kind:     KindOfCode(code),
		Reason:   err.Error(),
	}
}

// Snapshot is the full canonical state of a room.
type Snapshot struct {
	RoomID      string       `json:"room_id"`
	Members     []MemberInfo `json:"members"`
	Entities    []*Entity    `json:"entities"`
	RoomVersion uint64       `json:"room_version"`
}

// PresenceRecord is ephemeral, advisory cursor state. It never enters the
// canonical entity table.
type PresenceRecord struct {
	RoomID    string    `json:"room_id"`
	ActorID   string    `json:"actor_id"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Mailbox is a bounded outbound queue for one connected member.
//
// Send never blocks. A full mailbox closes itself: the reader observes a
// closed channel, drops the connection, and the client resynchronizes from a
// snapshot instead of silently missing confirmations.
type Mailbox struct {
	ch       chan Event
	mu       sync.Mutex
	closed   bool
	overflow atomic.Bool
}

// NewMailbox creates a mailbox holding up to size events.
func NewMailbox(size int) *Mailbox {
	if size <= 0 {
		size = 1
	}
	return &Mailbox{ch: make(chan Event, size)}
}

// C returns the receive side of the mailbox.
func (m *Mailbox) C() <-chan Event {
	return m.ch
}

// Send enqueues ev. It returns false if the mailbox is closed or overflowed.
func (m *Mailbox) Send(ev Event) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	select {
	case m.ch <- ev:
		return true
	default:
		m.overflow.Store(true)
		m.closed = true
		close(m.ch)
		return false
	}
}

// TrySend enqueues ev if there is room and otherwise drops it. Unlike Send
// a full mailbox stays open, so losing a best-effort event never costs the
// member its connection.
func (m *Mailbox) TrySend(ev Event) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	select {
	case m.ch <- ev:
		return true
	default:
		return false
	}
}

// Close closes the mailbox. Queued events remain readable.
func (m *Mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.ch)
}

// Overflowed reports whether the mailbox closed because it was full.
func (m *Mailbox) Overflowed() bool {
	return m.overflow.Load()
}
