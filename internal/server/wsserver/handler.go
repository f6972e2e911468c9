package wsserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yndnr/tablesync-go/internal/core/domain"
	"github.com/yndnr/tablesync-go/internal/core/service"
	"github.com/yndnr/tablesync-go/internal/protocol"
	"github.com/yndnr/tablesync-go/internal/telemetry/logger"
	"github.com/yndnr/tablesync-go/internal/telemetry/metric"
)

// Config holds transport tunables.
type Config struct {
	ReadBufferSize  int
	WriteBufferSize int
	WriteTimeout    time.Duration
	MaxMessageBytes int64
	JoinTimeout     time.Duration

	// AllowedOrigins lists accepted Origin headers. Empty accepts only
	// same-host requests; "*" accepts any origin.
	AllowedOrigins []string
}

// DefaultConfig returns the default transport settings.
func DefaultConfig() Config {
	return Config{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		WriteTimeout:    5 * time.Second,
		MaxMessageBytes: 64 << 10,
		JoinTimeout:     10 * time.Second,
	}
}

// Handler upgrades HTTP requests and serves one member per connection.
type Handler struct {
	cfg      Config
	sessions *service.SessionManager
	bus      *service.Bus
	presence *service.PresenceTracker
	metrics  *metric.Registry
	clock    func() time.Time
	upgrader websocket.Upgrader
}

// Option configures a Handler.
type Option func(*Handler)

// WithMetrics records connection metrics into r.
func WithMetrics(r *metric.Registry) Option {
	return func(h *Handler) { h.metrics = r }
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(h *Handler) { h.clock = clock }
}

// NewHandler creates a WebSocket handler.
func NewHandler(sessions *service.SessionManager, bus *service.Bus, presence *service.PresenceTracker, cfg Config, opts ...Option) *Handler {
	def := DefaultConfig()
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = def.MaxMessageBytes
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = def.JoinTimeout
	}

	h := &Handler{
		cfg:      cfg,
		sessions: sessions,
		bus:      bus,
		presence: presence,
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:    cfg.ReadBufferSize,
		WriteBufferSize:   cfg.WriteBufferSize,
		Subprotocols:      protocol.Subprotocols,
		EnableCompression: true,
		CheckOrigin:       originChecker(cfg.AllowedOrigins),
	}
	return h
}

// originChecker returns the upgrader's CheckOrigin for allowed.
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return nil // gorilla's same-host check
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.ToLower(strings.TrimRight(o, "/"))] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return set[strings.ToLower(u.Scheme+"://"+u.Host)]
	}
}

// ServeHTTP upgrades the request and runs the connection until it ends.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		logger.L(r.Context()).Debug("websocket upgrade failed", "error", err)
		return
	}

	h.metrics.ConnOpened()
	defer h.metrics.ConnClosed()

	ws.SetReadLimit(h.cfg.MaxMessageBytes)
	c := &conn{
		h:     h,
		ws:    ws,
		codec: protocol.ForSubprotocol(ws.Subprotocol()),
	}

	// The request context is not cancelled when a hijacked peer goes away.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	c.serve(ctx)
}

// conn is one upgraded connection.
type conn struct {
	h     *Handler
	ws    *websocket.Conn
	codec protocol.Codec

	roomID  string
	actorID string
	mailbox *domain.Mailbox
	timeout time.Duration
}

func (c *conn) serve(ctx context.Context) {
	defer c.ws.Close()

	join, err := c.handshake(ctx)
	if err != nil {
		c.write(protocol.ErrorEvent(err))
		c.closeWith(websocket.ClosePolicyViolation, string(domain.KindOf(err)))
		return
	}
	ctx = logger.WithActorID(logger.WithRoomID(ctx, c.roomID), c.actorID)
	log := logger.L(ctx)

	if err := c.write(joinedEvent(join)); err != nil {
		c.release(ctx)
		return
	}

	done := make(chan struct{})
	go c.writeLoop(ctx, done)

	err = c.readLoop(ctx)
	c.release(ctx)
	<-done

	if err != nil && !isClosing(err) {
		log.Debug("connection ended", "error", err)
	}
}

// handshake reads the join frame and registers the member.
func (c *conn) handshake(ctx context.Context) (*service.JoinResponse, error) {
	c.ws.SetReadDeadline(time.Now().Add(c.h.cfg.JoinTimeout))

	msg, err := c.read()
	if err != nil {
		return nil, err
	}
	if msg.Type != protocol.MsgJoin {
		return nil, domain.ErrProtocol.WithDetails("first message must be join")
	}

	resp, err := c.h.sessions.Join(ctx, &service.JoinRequest{
		RoomID:        msg.RoomID,
		ActorID:       msg.ActorID,
		DisplayName:   msg.DisplayName,
		Secret:        msg.Secret,
		RequestedRole: msg.Role,
	})
	if err != nil {
		return nil, err
	}

	c.roomID = resp.RoomID
	c.actorID = msg.ActorID
	c.mailbox = resp.Mailbox
	c.timeout = resp.HeartbeatTimeout
	return resp, nil
}

func joinedEvent(resp *service.JoinResponse) domain.Event {
	snap := &domain.Snapshot{
		RoomID:      resp.RoomID,
		Members:     resp.Members,
		Entities:    resp.Entities,
		RoomVersion: resp.RoomVersion,
	}
	return domain.Event{
		Type:              domain.EventJoined,
		RoomID:            resp.RoomID,
		Role:              resp.Role,
		Snapshot:          snap,
		Version:           resp.RoomVersion,
		HeartbeatInterval: resp.HeartbeatInterval.Milliseconds(),
		HeartbeatTimeout:  resp.HeartbeatTimeout.Milliseconds(),
	}
}

// readLoop dispatches inbound frames until the peer goes away or leaves.
func (c *conn) readLoop(ctx context.Context) error {
	for {
		if c.timeout > 0 {
			c.ws.SetReadDeadline(time.Now().Add(c.timeout))
		}

		msg, err := c.read()
		if err != nil {
			if domain.IsDomainError(err, domain.ErrProtocol.Code) {
				c.reply(protocol.ErrorEvent(err))
				continue
			}
			return err
		}

		if leave := c.dispatch(ctx, msg); leave {
			return nil
		}
	}
}

// dispatch handles one message and reports whether the member left.
func (c *conn) dispatch(ctx context.Context, msg *protocol.ClientMessage) bool {
	now := c.h.clock()

	switch msg.Type {
	case protocol.MsgSubmit:
		if err := c.h.bus.Submit(msg.Submission(c.roomID, c.actorID, now)); err != nil {
			ev := protocol.ErrorEvent(err)
			ev.ActionID = msg.ActionID
			ev.EntityID = msg.EntityID
			c.reply(ev)
		}

	case protocol.MsgRequestFullSync:
		snap, err := c.h.bus.RequestFullSync(ctx, c.roomID, c.actorID)
		if err != nil {
			c.reply(protocol.ErrorEvent(err))
			return false
		}
		c.reply(domain.Event{Type: domain.EventSnapshot, RoomID: c.roomID, Snapshot: snap, Version: snap.RoomVersion})

	case protocol.MsgPresence:
		if err := c.h.presence.UpdatePresence(ctx, c.roomID, c.actorID, msg.X, msg.Y, now); err != nil {
			c.reply(protocol.ErrorEvent(err))
		}

	case protocol.MsgHeartbeat:
		if err := c.h.sessions.Heartbeat(ctx, c.roomID, c.actorID, now); err != nil {
			c.reply(protocol.ErrorEvent(err))
			return false
		}
		c.reply(domain.Event{Type: domain.EventHeartbeat, ServerTime: now.UnixMilli(), ClientTime: msg.ClientTime})

	case protocol.MsgLeave:
		if err := c.h.sessions.Leave(ctx, c.roomID, c.actorID); err != nil {
			logger.L(ctx).Debug("leave failed", "error", err)
		}
		return true

	case protocol.MsgJoin:
		c.reply(protocol.ErrorEvent(domain.ErrProtocol.WithDetails("already joined")))
	}
	return false
}

// reply queues ev behind the events already in the mailbox. A failed send
// means the mailbox is closed; the writer is already tearing down.
func (c *conn) reply(ev domain.Event) {
	c.mailbox.Send(ev)
}

// writeLoop drains the mailbox until it closes, then closes the socket so
// the reader unblocks.
func (c *conn) writeLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	for ev := range c.mailbox.C() {
		if err := c.write(ev); err != nil {
			c.ws.Close()
			return
		}
	}

	if c.mailbox.Overflowed() {
		c.h.metrics.MailboxOverflowed()
		logger.L(ctx).Warn("mailbox overflowed, dropping connection")
		c.closeWith(websocket.CloseTryAgainLater, "mailbox overflow")
	} else {
		c.closeWith(websocket.CloseNormalClosure, "")
	}
	c.ws.Close()
}

// release marks the member stale unless it already re-attached elsewhere.
func (c *conn) release(ctx context.Context) {
	if err := c.h.sessions.Release(ctx, c.roomID, c.actorID, c.mailbox, c.h.clock()); err != nil &&
		!domain.IsDomainError(err, domain.ErrRoomNotFound.Code) {
		logger.L(ctx).Warn("release failed", "error", err)
	}
}

func (c *conn) read() (*protocol.ClientMessage, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	var msg protocol.ClientMessage
	if err := c.codec.Unmarshal(data, &msg); err != nil {
		return nil, domain.ErrProtocol.WithCause(err)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}

// write encodes and sends one event. Only the handshake and the writer
// goroutine call it, never both at once.
func (c *conn) write(ev domain.Event) error {
	data, err := c.codec.Marshal(ev)
	if err != nil {
		return err
	}
	frame := websocket.TextMessage
	if c.codec.Binary() {
		frame = websocket.BinaryMessage
	}
	c.ws.SetWriteDeadline(time.Now().Add(c.h.cfg.WriteTimeout))
	return c.ws.WriteMessage(frame, data)
}

func (c *conn) closeWith(code int, text string) {
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text),
		time.Now().Add(time.Second))
}

func isClosing(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		errors.Is(err, net.ErrClosed)
}
