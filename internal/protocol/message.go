package protocol

import (
	"time"

	"github.com/yndnr/tablesync-go/internal/core/domain"
)

// MessageType tags a client-to-server message.
type MessageType string

const (
	MsgJoin            MessageType = "join"
	MsgSubmit          MessageType = "submit"
	MsgRequestFullSync MessageType = "request_full_sync"
	MsgPresence        MessageType = "presence"
	MsgHeartbeat       MessageType = "heartbeat"
	MsgLeave           MessageType = "leave"
)

// ClientMessage is a message from a client. Type decides which fields are
// read.
type ClientMessage struct {
	Type MessageType `json:"type"`

	// join
	RoomID      string      `json:"room_id,omitempty"`
	ActorID     string      `json:"actor_id,omitempty"`
	DisplayName string      `json:"display_name,omitempty"`
	Secret      string      `json:"secret,omitempty"`
	Role        domain.Role `json:"role,omitempty"`

	// submit
	ActionID     string                `json:"action_id,omitempty"`
	EntityID     string                `json:"entity_id,omitempty"`
	MutationType domain.MutationType   `json:"mutation,omitempty"`
	Seq          uint64                `json:"seq,omitempty"`
	IsFinal      bool                  `json:"is_final,omitempty"`
	Move         *domain.MovePayload   `json:"move,omitempty"`
	State        *domain.StatePayload  `json:"state,omitempty"`
	Create       *domain.CreatePayload `json:"create,omitempty"`

	// presence
	X float64 `json:"x,omitempty"`
	Y float64 `json:"y,omitempty"`

	// heartbeat, Unix milliseconds
	ClientTime int64 `json:"client_time,omitempty"`
}

// JoinMessage builds a join request.
func JoinMessage(roomID, actorID, displayName, secret string) *ClientMessage {
	return &ClientMessage{
		Type:        MsgJoin,
		RoomID:      roomID,
		ActorID:     actorID,
		DisplayName: displayName,
		Secret:      secret,
	}
}

// SubmitMessage builds a submit message carrying m.
func SubmitMessage(actionID string, seq uint64, final bool, m domain.Mutation) *ClientMessage {
	return &ClientMessage{
		Type:         MsgSubmit,
		ActionID:     actionID,
		EntityID:     m.EntityID,
		MutationType: m.Type,
		Seq:          seq,
		IsFinal:      final,
		Move:         m.Move,
		State:        m.State,
		Create:       m.Create,
	}
}

// PresenceMessage builds a cursor update.
func PresenceMessage(x, y float64) *ClientMessage {
	return &ClientMessage{Type: MsgPresence, X: x, Y: y}
}

// HeartbeatMessage builds a heartbeat stamped with now.
func HeartbeatMessage(now time.Time) *ClientMessage {
	return &ClientMessage{Type: MsgHeartbeat, ClientTime: now.UnixMilli()}
}

// Mutation extracts the mutation carried by a submit message.
func (m *ClientMessage) Mutation() domain.Mutation {
	return domain.Mutation{
		Type:     m.MutationType,
		EntityID: m.EntityID,
		Move:     m.Move,
		State:    m.State,
		Create:   m.Create,
	}
}

// Submission converts a submit message into a bus submission for the
// connection's room and actor. Room and actor always come from the
// connection, never from the message body.
func (m *ClientMessage) Submission(roomID, actorID string, now time.Time) *domain.Submission {
	return &domain.Submission{
		ActionID:   m.ActionID,
		RoomID:     roomID,
		ActorID:    actorID,
		Seq:        m.Seq,
		IsFinal:    m.IsFinal,
		Mutation:   m.Mutation(),
		ReceivedAt: now,
	}
}

// Validate checks that the fields required by Type are present.
func (m *ClientMessage) Validate() error {
	switch m.Type {
	case MsgJoin:
		if m.RoomID == "" || m.ActorID == "" {
			return domain.ErrProtocol.WithDetails("join requires room_id and actor_id")
		}
	case MsgSubmit:
		if m.ActionID == "" {
			return domain.ErrProtocol.WithDetails("submit requires action_id")
		}
	case MsgRequestFullSync, MsgPresence, MsgHeartbeat, MsgLeave:
	default:
		return domain.ErrProtocol.WithDetails("unknown message type " + string(m.Type))
	}
	return nil
}

// ErrorEvent builds the error frame sent for a request that cannot be
// answered by a rejection.
func ErrorEvent(err error) domain.Event {
	code := domain.GetErrorCode(err)
	if code == "" {
		code = domain.ErrInternal.Code
	}
	return domain.Event{
		Type:   domain.EventError,
		Code:   code,
		Kind:   domain.KindOfCode(code),
		Reason: err.Error(),
	}
}
