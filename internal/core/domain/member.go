package domain

import "time"

// Role is a member's authority level within a room.
type Role string

const (
	// RoleHost holds elevated authority: global state and any entity.
	RoleHost Role = "host"

	// RoleParticipant may edit unowned entities and entities it owns.
	RoleParticipant Role = "participant"
)

// MemberState is the liveness of a member's channel.
//
// Transitions: connecting -> active -> stale -> active | removed.
type MemberState string

const (
	MemberConnecting MemberState = "connecting"
	MemberActive     MemberState = "active"
	MemberStale      MemberState = "stale"
)

// Member is a roster entry of a room.
type Member struct {
	ActorID     string
	DisplayName string
	Role        Role
	State       MemberState
	JoinedAt    time.Time
	LastSeen    time.Time
	StaleSince  time.Time

	mailbox *Mailbox
}

// MemberInfo is the wire view of a member.
type MemberInfo struct {
	ActorID     string      `json:"actor_id"`
	DisplayName string      `json:"display_name"`
	Role        Role        `json:"role"`
	State       MemberState `json:"state"`
}

// MaxActorIDLength bounds actor IDs.
const MaxActorIDLength = 64

// IsValidActorID reports whether id can name an actor: non-empty, at most
// MaxActorIDLength bytes, without spaces or control characters.
func IsValidActorID(id string) bool {
	if id == "" || len(id) > MaxActorIDLength {
		return false
	}
	for _, r := range id {
		if r <= ' ' || r == 0x7f {
			return false
		}
	}
	return true
}

// NewMember creates a member in the connecting state.
func NewMember(actorID, displayName string, role Role, now time.Time) *Member {
	if displayName == "" {
		displayName = actorID
	}
	return &Member{
		ActorID:     actorID,
		DisplayName: displayName,
		Role:        role,
		State:       MemberConnecting,
		JoinedAt:    now,
		LastSeen:    now,
	}
}

// Info returns the wire view of the member.
func (m *Member) Info() MemberInfo {
	return MemberInfo{
		ActorID:     m.ActorID,
		DisplayName: m.DisplayName,
		Role:        m.Role,
		State:       m.State,
	}
}

// IsHost reports whether the member holds the host role.
func (m *Member) IsHost() bool {
	return m.Role == RoleHost
}

// Mailbox returns the member's outbound queue, or nil while detached.
func (m *Member) Mailbox() *Mailbox {
	return m.mailbox
}

// Attach installs a new outbound queue and returns the previous one, if any.
func (m *Member) Attach(mb *Mailbox) *Mailbox {
	old := m.mailbox
	m.mailbox = mb
	return old
}

// Detach removes the outbound queue and returns it.
func (m *Member) Detach() *Mailbox {
	return m.Attach(nil)
}

// Touch records liveness and returns true if the member was not active before.
func (m *Member) Touch(now time.Time) bool {
	if now.After(m.LastSeen) {
		m.LastSeen = now
	}
	if m.State == MemberActive {
		return false
	}
	m.State = MemberActive
	m.StaleSince = time.Time{}
	return true
}

// MarkStale moves the member to stale. It returns false if it already was.
func (m *Member) MarkStale(now time.Time) bool {
	if m.State == MemberStale {
		return false
	}
	m.State = MemberStale
	m.StaleSince = now
	return true
}

// Send delivers ev to the member's mailbox if attached.
func (m *Member) Send(ev Event) bool {
	if m.mailbox == nil {
		return false
	}
	return m.mailbox.Send(ev)
}

// TrySend delivers a best-effort event, dropping it when the mailbox is full.
func (m *Member) TrySend(ev Event) bool {
	if m.mailbox == nil {
		return false
	}
	return m.mailbox.TrySend(ev)
}
