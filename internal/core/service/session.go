package service

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/yndnr/tablesync-go/internal/core/domain"
	"github.com/yndnr/tablesync-go/internal/telemetry/logger"
	"github.com/yndnr/tablesync-go/internal/telemetry/metric"
)

// SessionConfig holds room lifecycle tunables.
type SessionConfig struct {
	MaxMembers        int
	MailboxSize       int
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	StaleGrace        time.Duration
	HostGrace         time.Duration
}

// DefaultSessionConfig returns the default lifecycle settings.
func DefaultSessionConfig() *SessionConfig {
	return &SessionConfig{
		MaxMembers:        domain.DefaultMaxMembers,
		MailboxSize:       256,
		HeartbeatInterval: 5 * time.Second,
		HeartbeatTimeout:  15 * time.Second,
		StaleGrace:        30 * time.Second,
		HostGrace:         30 * time.Second,
	}
}

// SessionManager owns room lifecycle and membership.
type SessionManager struct {
	registry SessionRegistry
	config   atomic.Pointer[SessionConfig]
	metrics  *metric.Registry
	clock    func() time.Time

	onRoomClosed    []func(roomID string)
	onMemberRemoved []func(roomID, actorID string)
}

// SessionOption configures a SessionManager.
type SessionOption func(*SessionManager)

// WithSessionMetrics records lifecycle metrics into r.
func WithSessionMetrics(r *metric.Registry) SessionOption {
	return func(s *SessionManager) { s.metrics = r }
}

// WithSessionClock overrides the clock used for Create and Join.
func WithSessionClock(clock func() time.Time) SessionOption {
	return func(s *SessionManager) { s.clock = clock }
}

// NewSessionManager creates a SessionManager over registry.
func NewSessionManager(registry SessionRegistry, cfg *SessionConfig, opts ...SessionOption) *SessionManager {
	if cfg == nil {
		cfg = DefaultSessionConfig()
	}
	s := &SessionManager{registry: registry, clock: time.Now}
	s.config.Store(cfg)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the active settings.
func (s *SessionManager) Config() *SessionConfig {
	return s.config.Load()
}

// UpdateConfig swaps in new settings. Rooms already created keep their
// member cap; timeouts apply from the next sweep.
func (s *SessionManager) UpdateConfig(cfg *SessionConfig) {
	if cfg != nil {
		s.config.Store(cfg)
	}
}

// OnRoomClosed registers fn to run after a room is closed. Hooks must be
// registered before the manager is used.
func (s *SessionManager) OnRoomClosed(fn func(roomID string)) {
	s.onRoomClosed = append(s.onRoomClosed, fn)
}

// OnMemberRemoved registers fn to run after a member leaves a roster.
func (s *SessionManager) OnMemberRemoved(fn func(roomID, actorID string)) {
	s.onMemberRemoved = append(s.onMemberRemoved, fn)
}

// ============================================================================
// Create
// ============================================================================

// CreateRoomRequest contains parameters for room creation.
type CreateRoomRequest struct {
	Name            string
	HostID          string
	HostName        string
	AccessSecret    string           // Optional; empty means anyone may join
	MaxMembers      int              // Optional; 0 uses the configured cap
	InitialEntities []*domain.Entity // Optional; seeded at version 0
}

// CreateRoomResponse contains the result of room creation.
type CreateRoomResponse struct {
	RoomID   string
	Snapshot *domain.Snapshot
}

// Create allocates a room with the host registered as a connecting member.
func (s *SessionManager) Create(ctx context.Context, req *CreateRoomRequest) (*CreateRoomResponse, error) {
	cfg := s.Config()

	// 1. Validate options
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidConfig.WithDetails("room name is required")
	}
	if len(name) > domain.MaxRoomNameLength {
		return nil, domain.ErrInvalidConfig.WithDetails(
			fmt.Sprintf("room name exceeds %d bytes", domain.MaxRoomNameLength))
	}
	if !domain.IsValidActorID(req.HostID) {
		return nil, domain.ErrInvalidArgument.WithDetails("host_id is required and must not contain spaces")
	}
	maxMembers := req.MaxMembers
	if maxMembers < 0 {
		return nil, domain.ErrInvalidConfig.WithDetails("max_members must not be negative")
	}
	if maxMembers == 0 {
		maxMembers = cfg.MaxMembers
	}

	// 2. Hash the access secret
	var secretHash string
	if req.AccessSecret != "" {
		if err := ValidateSecret(req.AccessSecret); err != nil {
			return nil, err
		}
		h, err := HashSecret(req.AccessSecret)
		if err != nil {
			return nil, domain.ErrInternal.WithCause(err)
		}
		secretHash = h
	}

	// 3. Build the room
	now := s.clock()
	room, err := domain.NewRoom(name, req.HostID, maxMembers, now)
	if err != nil {
		return nil, domain.ErrInternal.WithCause(err)
	}
	room.SecretHash = secretHash

	for _, e := range req.InitialEntities {
		if e == nil || !domain.IsValidEntityID(e.ID) || e.Kind == "" {
			return nil, domain.ErrInvalidConfig.WithDetails("initial entity needs a valid id and kind")
		}
		if _, dup := room.Entity(e.ID); dup {
			return nil, domain.ErrInvalidConfig.WithDetails("duplicate initial entity " + e.ID)
		}
		seeded := e.Clone()
		seeded.Version = 0
		seeded.LastWriter = ""
		room.PutEntity(seeded)
	}

	room.AddMember(domain.NewMember(req.HostID, req.HostName, domain.RoleHost, now))

	// 4. Register
	if err := s.registry.Add(ctx, room); err != nil {
		return nil, err
	}

	s.metrics.RoomCreated()
	logger.L(logger.WithRoomID(ctx, room.ID)).Info("room created",
		"host_id", req.HostID, "max_members", maxMembers,
		"entities", len(req.InitialEntities), "protected", secretHash != "")

	room.Lock()
	snap := room.Snapshot()
	room.Unlock()

	return &CreateRoomResponse{RoomID: room.ID, Snapshot: snap}, nil
}

// ============================================================================
// Join / Leave
// ============================================================================

// JoinRequest contains parameters for joining a room.
type JoinRequest struct {
	RoomID        string
	ActorID       string
	DisplayName   string
	Secret        string
	RequestedRole domain.Role // Advisory; only the room's host id becomes host
}

// JoinResponse is the joining member's initial view of the room.
type JoinResponse struct {
	RoomID            string
	Role              domain.Role
	Members           []domain.MemberInfo
	Entities          []*domain.Entity
	RoomVersion       uint64
	Mailbox           *domain.Mailbox
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	Rejoined          bool
}

// Join adds an actor to a room, or re-attaches one that is already on the
// roster. The previous mailbox of a rejoining actor is closed.
func (s *SessionManager) Join(ctx context.Context, req *JoinRequest) (*JoinResponse, error) {
	cfg := s.Config()

	if !domain.IsValidActorID(req.ActorID) {
		return nil, domain.ErrInvalidArgument.WithDetails("actor_id is required and must not contain spaces")
	}

	room, err := s.registry.Get(ctx, req.RoomID)
	if err != nil {
		return nil, err
	}

	// SecretHash never changes after creation; verify before taking the lock.
	if room.HasSecret() && !VerifySecret(req.Secret, room.SecretHash) {
		return nil, domain.ErrUnauthorized
	}

	now := s.clock()
	mb := domain.NewMailbox(cfg.MailboxSize)

	room.Lock()
	defer room.Unlock()

	if !room.IsOpen() {
		return nil, domain.ErrRoomClosing
	}

	member, known := room.Member(req.ActorID)
	rejoined := known && member.State != domain.MemberConnecting
	if known {
		if old := member.Attach(mb); old != nil {
			old.Close()
		}
		if req.DisplayName != "" {
			member.DisplayName = req.DisplayName
		}
		room.ForgetActor(req.ActorID)
		s.touch(room, member, now)
	} else {
		if room.MemberCount() >= room.MaxMembers {
			return nil, domain.ErrRoomFull.WithDetails(
				fmt.Sprintf("room has %d members (max %d)", room.MemberCount(), room.MaxMembers))
		}
		role := domain.RoleParticipant
		if req.ActorID == room.HostID {
			role = domain.RoleHost
		}
		member = domain.NewMember(req.ActorID, req.DisplayName, role, now)
		member.Attach(mb)
		member.Touch(now)
		room.AddMember(member)

		info := member.Info()
		room.Broadcast(domain.Event{Type: domain.EventMemberJoined, RoomID: room.ID, Member: &info}, member.ActorID)
	}

	s.metrics.MemberJoined()
	logger.L(logger.WithActorID(logger.WithRoomID(ctx, room.ID), req.ActorID)).Info("member joined",
		"role", member.Role, "rejoined", rejoined)

	snap := room.Snapshot()
	return &JoinResponse{
		RoomID:            room.ID,
		Role:              member.Role,
		Members:           snap.Members,
		Entities:          snap.Entities,
		RoomVersion:       snap.RoomVersion,
		Mailbox:           mb,
		HeartbeatInterval: cfg.HeartbeatInterval,
		HeartbeatTimeout:  cfg.HeartbeatTimeout,
		Rejoined:          rejoined,
	}, nil
}

// Leave removes an actor from a room. The host leaving closes the room.
func (s *SessionManager) Leave(ctx context.Context, roomID, actorID string) error {
	room, err := s.registry.Get(ctx, roomID)
	if err != nil {
		return err
	}

	room.Lock()
	if _, ok := room.Member(actorID); !ok {
		room.Unlock()
		return domain.ErrNotMember
	}
	if actorID == room.HostID {
		room.Unlock()
		return s.Close(ctx, roomID, domain.CloseReasonHostLeft)
	}
	s.removeMember(room, actorID)
	room.Unlock()

	s.memberRemoved(ctx, roomID, actorID, "left")
	return nil
}

// removeMember drops actorID from the roster and tells the others.
// The caller holds the room lock.
func (s *SessionManager) removeMember(room *domain.Room, actorID string) {
	m, ok := room.RemoveMember(actorID)
	if !ok {
		return
	}
	if mb := m.Detach(); mb != nil {
		mb.Close()
	}
	room.ForgetActor(actorID)

	info := m.Info()
	room.Broadcast(domain.Event{Type: domain.EventMemberLeft, RoomID: room.ID, Member: &info}, "")
}

func (s *SessionManager) memberRemoved(ctx context.Context, roomID, actorID, why string) {
	s.metrics.MemberLeft()
	for _, fn := range s.onMemberRemoved {
		fn(roomID, actorID)
	}
	logger.L(logger.WithActorID(logger.WithRoomID(ctx, roomID), actorID)).Info("member removed", "reason", why)
}

// ============================================================================
// Close
// ============================================================================

// Close shuts a room down: members are told why, their mailboxes are
// closed and the room ID stops resolving. Closing a room that is already
// closing is a no-op.
func (s *SessionManager) Close(ctx context.Context, roomID, reason string) error {
	room, err := s.registry.Get(ctx, roomID)
	if err != nil {
		return err
	}

	room.Lock()
	if room.State != domain.RoomOpen {
		room.Unlock()
		return nil
	}
	room.State = domain.RoomClosing
	room.Broadcast(domain.Event{Type: domain.EventRoomClosed, RoomID: room.ID, Reason: reason}, "")
	for _, m := range room.Members() {
		if mb := m.Detach(); mb != nil {
			mb.Close()
		}
	}
	room.Unlock()

	if _, err := s.registry.Remove(ctx, roomID); err != nil && !domain.IsDomainError(err, domain.ErrRoomNotFound.Code) {
		return err
	}

	room.Lock()
	room.State = domain.RoomClosed
	room.Unlock()

	for _, fn := range s.onRoomClosed {
		fn(roomID)
	}
	s.metrics.RoomClosed(reason)
	logger.L(logger.WithRoomID(ctx, roomID)).Info("room closed", "reason", reason)
	return nil
}

// CloseAll closes every room with the given reason.
func (s *SessionManager) CloseAll(ctx context.Context, reason string) int {
	var ids []string
	s.registry.Range(func(room *domain.Room) bool {
		ids = append(ids, room.ID)
		return true
	})
	n := 0
	for _, id := range ids {
		if err := s.Close(ctx, id, reason); err == nil {
			n++
		}
	}
	return n
}

// ============================================================================
// Liveness
// ============================================================================

// Heartbeat records that actorID is alive. A returning host cancels the
// pending closure of its room.
func (s *SessionManager) Heartbeat(ctx context.Context, roomID, actorID string, now time.Time) error {
	room, err := s.registry.Get(ctx, roomID)
	if err != nil {
		return err
	}

	room.Lock()
	defer room.Unlock()

	if !room.IsOpen() {
		return domain.ErrRoomClosing
	}
	m, ok := room.Member(actorID)
	if !ok {
		return domain.ErrNotMember
	}
	s.touch(room, m, now)
	return nil
}

// touch marks m alive and announces a host that came back within grace.
// The caller holds the room lock.
func (s *SessionManager) touch(room *domain.Room, m *domain.Member, now time.Time) {
	m.Touch(now)
	if m.ActorID == room.HostID && !room.HostLostAt.IsZero() {
		room.HostLostAt = time.Time{}
		info := m.Info()
		room.Broadcast(domain.Event{Type: domain.EventHostReconnected, RoomID: room.ID, Member: &info}, m.ActorID)
	}
}

// Disconnect records that actorID's channel dropped. The member turns stale
// and stays on the roster until it rejoins or the grace period runs out.
func (s *SessionManager) Disconnect(ctx context.Context, roomID, actorID string, now time.Time) error {
	return s.disconnect(ctx, roomID, actorID, nil, now)
}

// Release is Disconnect for a specific connection: it does nothing if the
// member has since re-attached with a different mailbox.
func (s *SessionManager) Release(ctx context.Context, roomID, actorID string, mb *domain.Mailbox, now time.Time) error {
	return s.disconnect(ctx, roomID, actorID, mb, now)
}

func (s *SessionManager) disconnect(ctx context.Context, roomID, actorID string, mb *domain.Mailbox, now time.Time) error {
	room, err := s.registry.Get(ctx, roomID)
	if err != nil {
		return err
	}

	room.Lock()
	defer room.Unlock()

	m, ok := room.Member(actorID)
	if !ok {
		return nil
	}
	if mb != nil && m.Mailbox() != mb {
		return nil
	}
	if old := m.Detach(); old != nil {
		old.Close()
	}
	s.markStale(room, m, now)

	logger.L(logger.WithActorID(logger.WithRoomID(ctx, roomID), actorID)).Debug("member disconnected")
	return nil
}

// markStale moves m to stale and starts the host grace period if m is the
// host. The caller holds the room lock.
func (s *SessionManager) markStale(room *domain.Room, m *domain.Member, now time.Time) {
	if !m.MarkStale(now) {
		return
	}
	if m.ActorID == room.HostID && room.HostLostAt.IsZero() {
		room.HostLostAt = now
		info := m.Info()
		room.Broadcast(domain.Event{Type: domain.EventHostDisconnected, RoomID: room.ID, Member: &info}, m.ActorID)
	}
}

// SweepResult counts what a sweep changed.
type SweepResult struct {
	MarkedStale int
	Removed     int
	Closed      int
}

// Sweep applies heartbeat timeouts and grace periods as of now.
func (s *SessionManager) Sweep(ctx context.Context, now time.Time) SweepResult {
	cfg := s.Config()

	var rooms []*domain.Room
	s.registry.Range(func(room *domain.Room) bool {
		rooms = append(rooms, room)
		return true
	})

	type removal struct{ roomID, actorID string }
	var (
		res     SweepResult
		removed []removal
		toClose []string
	)

	for _, room := range rooms {
		room.Lock()
		if !room.IsOpen() {
			room.Unlock()
			continue
		}
		for _, m := range room.Members() {
			switch m.State {
			case domain.MemberActive, domain.MemberConnecting:
				if now.Sub(m.LastSeen) > cfg.HeartbeatTimeout {
					s.markStale(room, m, now)
					res.MarkedStale++
				}
			case domain.MemberStale:
				if m.ActorID != room.HostID && now.Sub(m.StaleSince) > cfg.StaleGrace {
					s.removeMember(room, m.ActorID)
					removed = append(removed, removal{room.ID, m.ActorID})
				}
			}
		}
		if !room.HostLostAt.IsZero() && now.Sub(room.HostLostAt) > cfg.HostGrace {
			toClose = append(toClose, room.ID)
		}
		room.Unlock()
	}

	for _, r := range removed {
		s.memberRemoved(ctx, r.roomID, r.actorID, "stale")
	}
	res.Removed = len(removed)

	for _, id := range toClose {
		if err := s.Close(ctx, id, domain.CloseReasonHostLost); err == nil {
			res.Closed++
		}
	}
	return res
}

// Run sweeps on every tick until ctx is done.
func (s *SessionManager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if res := s.Sweep(ctx, now); res != (SweepResult{}) {
				logger.L(ctx).Debug("session sweep",
					"stale", res.MarkedStale, "removed", res.Removed, "closed", res.Closed)
			}
		}
	}
}

// ============================================================================
// Queries
// ============================================================================

// RoomSummary is a read-only view of a room for listings.
type RoomSummary struct {
	ID          string
	Name        string
	HostID      string
	State       domain.RoomState
	HasSecret   bool
	MaxMembers  int
	MemberCount int
	EntityCount int
	Version     uint64
	CreatedAt   time.Time
	Members     []domain.MemberInfo
}

func summarize(room *domain.Room) *RoomSummary {
	room.Lock()
	defer room.Unlock()

	members := room.Members()
	infos := make([]domain.MemberInfo, len(members))
	for i, m := range members {
		infos[i] = m.Info()
	}
	return &RoomSummary{
		ID:          room.ID,
		Name:        room.Name,
		HostID:      room.HostID,
		State:       room.State,
		HasSecret:   room.HasSecret(),
		MaxMembers:  room.MaxMembers,
		MemberCount: len(members),
		EntityCount: room.EntityCount(),
		Version:     room.Version,
		CreatedAt:   room.CreatedAt,
		Members:     infos,
	}
}

// Get returns a summary of one room.
func (s *SessionManager) Get(ctx context.Context, roomID string) (*RoomSummary, error) {
	room, err := s.registry.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return summarize(room), nil
}

// List returns summaries of rooms matching filter and the total match count.
func (s *SessionManager) List(ctx context.Context, filter *RoomFilter) ([]*RoomSummary, int, error) {
	if filter == nil {
		filter = &RoomFilter{}
	}
	filter.Normalize()

	rooms, total, err := s.registry.List(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	out := make([]*RoomSummary, len(rooms))
	for i, room := range rooms {
		out[i] = summarize(room)
	}
	return out, total, nil
}

// Stats reports room, member and entity counts.
func (s *SessionManager) Stats() metric.Stats {
	var st metric.Stats
	s.registry.Range(func(room *domain.Room) bool {
		room.Lock()
		st.Rooms++
		st.Members += room.MemberCount()
		st.Entities += room.EntityCount()
		room.Unlock()
		return true
	})
	return st
}
