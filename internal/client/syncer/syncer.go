package syncer

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/yndnr/tablesync-go/internal/client/ledger"
	"github.com/yndnr/tablesync-go/internal/client/throttle"
	"github.com/yndnr/tablesync-go/internal/core/domain"
	"github.com/yndnr/tablesync-go/internal/protocol"
	"github.com/yndnr/tablesync-go/internal/telemetry/logger"
)

// State is the connection state of a Syncer.
type State string

const (
	StateDisconnected       State = "disconnected"
	StateConnecting         State = "connecting"
	StateRequestingSnapshot State = "requesting_snapshot"
	StateSynced             State = "synced"
)

// Config holds the room identity and client tunables.
type Config struct {
	RoomID      string
	ActorID     string
	DisplayName string
	Secret      string

	Throttle throttle.Config
	// Staleness is how long a pending action waits for confirmation.
	Staleness time.Duration
	// PurgeInterval is how often stale pending actions are purged.
	PurgeInterval time.Duration
	// HeartbeatInterval is used until the server announces its own.
	HeartbeatInterval time.Duration
	// HandshakeTimeout bounds the wait for joined and snapshot.
	HandshakeTimeout time.Duration

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// BackoffJitter is the fraction by which each retry delay is
	// randomized; 0 keeps delays exact.
	BackoffJitter float64
	// MaxRetries is the number of consecutive failed attempts after which
	// Run gives up.
	MaxRetries int
}

// DefaultConfig returns client defaults without room identity.
func DefaultConfig() Config {
	return Config{
		Throttle:          throttle.DefaultConfig(),
		Staleness:         ledger.DefaultStaleness,
		PurgeInterval:     time.Second,
		HeartbeatInterval: 5 * time.Second,
		HandshakeTimeout:  10 * time.Second,
		InitialBackoff:    250 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffJitter:     0.2,
		MaxRetries:        8,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.Staleness <= 0 {
		c.Staleness = def.Staleness
	}
	if c.PurgeInterval <= 0 {
		c.PurgeInterval = def.PurgeInterval
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = def.InitialBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = def.MaxBackoff
	}
	if c.BackoffJitter < 0 || c.BackoffJitter >= 1 {
		c.BackoffJitter = def.BackoffJitter
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
}

// cursorEntity keys the throttle window of the local pointer. It cannot
// collide with an entity ID since those never contain control characters.
const cursorEntity = "\x00cursor"

// Notice is an event surfaced to the application.
type Notice struct {
	Type  domain.EventType
	Event domain.Event
	// Conflict is set when a confirmation overrode the visible value.
	Conflict bool
}

type inputKind int

const (
	inputMutation inputKind = iota
	inputPresence
	inputResync
	inputLeave
)

type input struct {
	kind  inputKind
	m     domain.Mutation
	final bool
	x, y  float64
}

var (
	errRoomClosed = errors.New("room closed")
	errLeft       = errors.New("left room")
)

// Syncer keeps a local replica of one room in sync with the server.
type Syncer struct {
	cfg      Config
	dialer   Dialer
	ledger   *ledger.Ledger
	throttle *throttle.Throttle
	now      func() time.Time

	input   chan input
	notices chan Notice

	mu      sync.Mutex
	state   State
	role    domain.Role
	members map[string]domain.MemberInfo
	rtt     time.Duration
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(s *Syncer) { s.now = now }
}

// WithLedger replaces the ledger, e.g. to fix action IDs in tests.
func WithLedger(l *ledger.Ledger) Option {
	return func(s *Syncer) { s.ledger = l }
}

// New creates a syncer. Call Run to connect.
func New(cfg Config, dialer Dialer, opts ...Option) *Syncer {
	cfg.applyDefaults()
	s := &Syncer{
		cfg:      cfg,
		dialer:   dialer,
		throttle: throttle.New(cfg.Throttle),
		now:      time.Now,
		input:    make(chan input, 256),
		notices:  make(chan Notice, 256),
		state:    StateDisconnected,
		role:     domain.RoleParticipant,
		members:  make(map[string]domain.MemberInfo),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.ledger == nil {
		s.ledger = ledger.New(cfg.Staleness)
	}
	return s
}

// Ledger returns the local replica.
func (s *Syncer) Ledger() *ledger.Ledger { return s.ledger }

// Events returns surfaced notices. Notices are dropped when nobody reads.
func (s *Syncer) Events() <-chan Notice { return s.notices }

// Status returns the current state.
func (s *Syncer) Status() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Role returns the role assigned on the last join.
func (s *Syncer) Role() domain.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// Members returns the roster ordered by actor.
func (s *Syncer) Members() []domain.MemberInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.MemberInfo, 0, len(s.members))
	for _, m := range s.members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ActorID < out[j].ActorID })
	return out
}

// RTT returns the last measured heartbeat round trip.
func (s *Syncer) RTT() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rtt
}

// Move offers a position. Intermediate positions of a drag are throttled;
// final forwards immediately.
func (s *Syncer) Move(entityID string, x, y float64, final bool) error {
	return s.push(input{kind: inputMutation, m: domain.NewMove(entityID, x, y), final: final})
}

// Update offers a state change.
func (s *Syncer) Update(entityID string, set map[string]any, unset ...string) error {
	return s.push(input{kind: inputMutation, m: domain.NewStateUpdate(entityID, set, unset...), final: true})
}

// UpdateGlobal offers a change to room-wide state.
func (s *Syncer) UpdateGlobal(entityID string, set map[string]any, unset ...string) error {
	return s.push(input{kind: inputMutation, m: domain.NewGlobalUpdate(entityID, set, unset...), final: true})
}

// Create adds an entity.
func (s *Syncer) Create(entityID string, p domain.CreatePayload) error {
	return s.push(input{kind: inputMutation, m: domain.NewCreate(entityID, p), final: true})
}

// Remove deletes an entity.
func (s *Syncer) Remove(entityID string) error {
	return s.push(input{kind: inputMutation, m: domain.NewRemove(entityID), final: true})
}

// Cursor publishes the pointer position. Positions are throttled like a
// drag and sent fire-and-forget.
func (s *Syncer) Cursor(x, y float64) error {
	return s.push(input{kind: inputPresence, x: x, y: y})
}

// Resync asks the server for a full snapshot.
func (s *Syncer) Resync() error {
	return s.push(input{kind: inputResync})
}

// Leave leaves the room; Run then returns nil.
func (s *Syncer) Leave() error {
	return s.push(input{kind: inputLeave})
}

func (s *Syncer) push(in input) error {
	select {
	case s.input <- in:
		return nil
	default:
		return domain.ErrOverloaded.WithDetails("local input queue full")
	}
}

// Run connects and keeps the replica in sync until ctx ends, the room
// closes, the actor leaves, the server refuses the join, or MaxRetries
// consecutive attempts fail.
func (s *Syncer) Run(ctx context.Context) error {
	ctx = logger.WithActorID(logger.WithRoomID(ctx, s.cfg.RoomID), s.cfg.ActorID)
	log := logger.L(ctx)
	defer s.setState(StateDisconnected)

	retry := s.newBackOff()
	failures := 0
	for {
		s.setState(StateConnecting)
		synced, err := s.attempt(ctx)
		s.setState(StateDisconnected)

		switch {
		case errors.Is(err, errRoomClosed), errors.Is(err, errLeft):
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		case terminal(err):
			return err
		}

		if synced {
			failures = 0
			retry.Reset()
		}
		failures++
		if failures > s.cfg.MaxRetries {
			return domain.ErrTransportLost.WithCause(err)
		}

		delay := retry.NextBackOff()
		log.Info("connection lost, retrying", "attempt", failures, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// terminal reports whether retrying cannot help.
func terminal(err error) bool {
	switch domain.KindOf(err) {
	case domain.KindNotFound, domain.KindUnauthorized, domain.KindRoomFull, domain.KindInvalidConfig:
		return true
	}
	return false
}

// newBackOff returns the reconnect delay schedule: doubling from
// InitialBackoff up to MaxBackoff.
func (s *Syncer) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.InitialBackoff
	b.MaxInterval = s.cfg.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = s.cfg.BackoffJitter
	b.Reset()
	return b
}

func (s *Syncer) attempt(ctx context.Context) (bool, error) {
	conn, err := s.dialer.Dial(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	// 1. Join
	if err := conn.Send(protocol.JoinMessage(s.cfg.RoomID, s.cfg.ActorID, s.cfg.DisplayName, s.cfg.Secret)); err != nil {
		return false, err
	}
	joined, err := s.await(ctx, conn, domain.EventJoined)
	if err != nil {
		return false, err
	}
	heartbeat := s.cfg.HeartbeatInterval
	if joined.HeartbeatInterval > 0 {
		heartbeat = time.Duration(joined.HeartbeatInterval) * time.Millisecond
	}
	s.mu.Lock()
	if joined.Role != "" {
		s.role = joined.Role
	}
	s.mu.Unlock()

	// 2. Full sync
	s.setState(StateRequestingSnapshot)
	if err := conn.Send(&protocol.ClientMessage{Type: protocol.MsgRequestFullSync}); err != nil {
		return false, err
	}
	ev, err := s.await(ctx, conn, domain.EventSnapshot)
	if err != nil {
		return false, err
	}
	s.applySnapshot(ctx, ev.Snapshot)
	s.setState(StateSynced)

	// 3. Incremental
	return true, s.loop(ctx, conn, heartbeat)
}

// await waits for an event of type want. Events that precede it are
// superseded by the snapshot and dropped.
func (s *Syncer) await(ctx context.Context, conn Conn, want domain.EventType) (domain.Event, error) {
	timer := time.NewTimer(s.cfg.HandshakeTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return domain.Event{}, ctx.Err()
		case <-timer.C:
			return domain.Event{}, domain.ErrTransportLost.WithDetails("handshake timed out waiting for " + string(want))
		case ev, ok := <-conn.Events():
			if !ok {
				return domain.Event{}, connErr(conn)
			}
			switch ev.Type {
			case want:
				return ev, nil
			case domain.EventError:
				return domain.Event{}, eventError(ev)
			case domain.EventRoomClosed:
				s.notify(Notice{Type: ev.Type, Event: ev})
				return domain.Event{}, errRoomClosed
			}
		}
	}
}

func (s *Syncer) loop(ctx context.Context, conn Conn, heartbeatEvery time.Duration) error {
	heartbeat := time.NewTicker(heartbeatEvery)
	defer heartbeat.Stop()
	purge := time.NewTicker(s.cfg.PurgeInterval)
	defer purge.Stop()

	flush := time.NewTimer(time.Hour)
	flush.Stop()
	defer flush.Stop()
	arm := func() {
		if !flush.Stop() {
			select {
			case <-flush.C:
			default:
			}
		}
		if next, ok := s.throttle.NextDeadline(); ok {
			d := next.Sub(s.now())
			if d < 0 {
				d = 0
			}
			flush.Reset(d)
		}
	}

	for {
		select {
		case <-ctx.Done():
			conn.Send(&protocol.ClientMessage{Type: protocol.MsgLeave})
			return ctx.Err()

		case ev, ok := <-conn.Events():
			if !ok {
				return connErr(conn)
			}
			if err := s.handle(ctx, ev); err != nil {
				return err
			}

		case in := <-s.input:
			if err := s.local(conn, in); err != nil {
				return err
			}
			arm()

		case <-flush.C:
			if err := s.forward(conn, s.throttle.Flush(s.now()), false); err != nil {
				return err
			}
			arm()

		case <-purge.C:
			if ids := s.ledger.Purge(s.now()); len(ids) > 0 {
				logger.L(ctx).Warn("pending actions expired, resyncing", "entities", ids)
				if err := conn.Send(&protocol.ClientMessage{Type: protocol.MsgRequestFullSync}); err != nil {
					return err
				}
			}

		case <-heartbeat.C:
			if err := conn.Send(protocol.HeartbeatMessage(s.now())); err != nil {
				return err
			}
		}
	}
}

func (s *Syncer) local(conn Conn, in input) error {
	switch in.kind {
	case inputMutation:
		return s.forward(conn, s.throttle.Offer(in.m.EntityID, s.cfg.ActorID, s.Role(), in.m, in.final, s.now()), in.final)
	case inputPresence:
		cursor := domain.NewMove(cursorEntity, in.x, in.y)
		return s.forward(conn, s.throttle.Offer(cursorEntity, s.cfg.ActorID, s.Role(), cursor, false, s.now()), false)
	case inputResync:
		return conn.Send(&protocol.ClientMessage{Type: protocol.MsgRequestFullSync})
	case inputLeave:
		conn.Send(&protocol.ClientMessage{Type: protocol.MsgLeave})
		return errLeft
	}
	return nil
}

// forward sends what the throttle released. Cursor positions go out as
// presence, everything else through the ledger.
func (s *Syncer) forward(conn Conn, muts []domain.Mutation, final bool) error {
	for _, m := range muts {
		var err error
		if m.EntityID == cursorEntity {
			err = conn.Send(protocol.PresenceMessage(m.Move.X, m.Move.Y))
		} else {
			err = s.submit(conn, m, final)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// submit records m in the ledger and sends it. A mutation the local
// replica already refuses is surfaced and not sent.
func (s *Syncer) submit(conn Conn, m domain.Mutation, final bool) error {
	pa, err := s.ledger.ApplyLocal(m, s.now())
	if err != nil {
		ev := protocol.ErrorEvent(err)
		ev.EntityID = m.EntityID
		s.notify(Notice{Type: ev.Type, Event: ev})
		return nil
	}
	return conn.Send(protocol.SubmitMessage(pa.ActionID, pa.Seq, final, m))
}

func (s *Syncer) handle(ctx context.Context, ev domain.Event) error {
	switch ev.Type {
	case domain.EventConfirmation:
		value := ev.Entity
		if ev.Removed {
			value = nil
		}
		if s.ledger.OnConfirmation(ev.ActionID, ev.EntityID, value, ev.Version) {
			s.notify(Notice{Type: ev.Type, Event: ev, Conflict: true})
		}

	case domain.EventRemoteApply:
		value := ev.Entity
		if ev.Removed {
			value = nil
		}
		if s.ledger.OnRemoteApply(ev.EntityID, value, ev.Version) {
			s.notify(Notice{Type: ev.Type, Event: ev})
		}

	case domain.EventRejected:
		s.ledger.OnRejection(ev.ActionID, ev.EntityID, ev.Entity, ev.Version)
		// Ordering conflicts reconcile silently.
		if ev.Kind != domain.KindRejected {
			s.notify(Notice{Type: ev.Type, Event: ev})
		}

	case domain.EventSnapshot:
		s.applySnapshot(ctx, ev.Snapshot)
		s.notify(Notice{Type: ev.Type, Event: ev})

	case domain.EventMemberJoined, domain.EventMemberLeft:
		if ev.Member != nil {
			s.mu.Lock()
			if ev.Type == domain.EventMemberJoined {
				s.members[ev.Member.ActorID] = *ev.Member
			} else {
				delete(s.members, ev.Member.ActorID)
			}
			s.mu.Unlock()
		}
		s.notify(Notice{Type: ev.Type, Event: ev})

	case domain.EventHeartbeat:
		if ev.ClientTime > 0 {
			rtt := s.now().Sub(time.UnixMilli(ev.ClientTime))
			s.mu.Lock()
			s.rtt = rtt
			s.mu.Unlock()
		}

	case domain.EventRoomClosed:
		s.notify(Notice{Type: ev.Type, Event: ev})
		return errRoomClosed

	default:
		s.notify(Notice{Type: ev.Type, Event: ev})
	}
	return nil
}

func (s *Syncer) applySnapshot(ctx context.Context, snap *domain.Snapshot) {
	if snap == nil {
		return
	}
	dropped := s.ledger.Reset(snap)
	s.throttle.Reset()
	if dropped > 0 {
		logger.L(ctx).Info("discarded unconfirmed actions on resync", "count", dropped)
	}

	s.mu.Lock()
	s.members = make(map[string]domain.MemberInfo, len(snap.Members))
	for _, m := range snap.Members {
		s.members[m.ActorID] = m
	}
	s.mu.Unlock()
}

func (s *Syncer) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Syncer) notify(n Notice) {
	select {
	case s.notices <- n:
	default:
	}
}

func connErr(conn Conn) error {
	if err := conn.Err(); err != nil {
		return err
	}
	return domain.ErrTransportLost
}

// eventError rebuilds the server's error so that KindOf classifies it.
func eventError(ev domain.Event) error {
	return domain.NewDomainError(ev.Code, ev.Reason)
}
