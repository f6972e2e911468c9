package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/yndnr/tablesync-go/internal/core/domain"
	"github.com/yndnr/tablesync-go/internal/telemetry/logger"
	"github.com/yndnr/tablesync-go/internal/telemetry/metric"
	"github.com/yndnr/tablesync-go/pkg/cmap"
)

// BusConfig holds mutation pipeline tunables.
type BusConfig struct {
	// Lanes is the number of application goroutines. A room always maps to
	// the same lane.
	Lanes int
	// QueueSize bounds the submissions waiting on one lane.
	QueueSize int
	// DedupeRetention is how long applied action IDs are remembered.
	DedupeRetention time.Duration
	// HostRate and ParticipantRate are sustained submissions per second.
	HostRate        float64
	ParticipantRate float64
	// Burst is the token bucket depth for participants; hosts get twice this.
	Burst int
}

// DefaultBusConfig returns the default pipeline settings.
func DefaultBusConfig() *BusConfig {
	return &BusConfig{
		Lanes:           8,
		QueueSize:       1024,
		DedupeRetention: 2 * time.Minute,
		HostRate:        60,
		ParticipantRate: 30,
		Burst:           30,
	}
}

// Bus is the single writer of canonical room state.
//
// Submissions for one room are applied strictly in order on one lane; rooms
// on different lanes proceed in parallel. Apply holds the room lock for the
// whole read-check-write, so a synchronous Apply and a lane never interleave
// within a room either.
type Bus struct {
	registry SessionRegistry
	config   atomic.Pointer[BusConfig]
	limiters *RateLimiterRegistry
	metrics  *metric.Registry
	clock    func() time.Time

	lanes []chan *domain.Submission

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithBusMetrics records pipeline metrics into r.
func WithBusMetrics(r *metric.Registry) BusOption {
	return func(b *Bus) { b.metrics = r }
}

// WithBusClock overrides the clock used when a submission has no ReceivedAt.
func WithBusClock(clock func() time.Time) BusOption {
	return func(b *Bus) { b.clock = clock }
}

// NewBus creates a bus over registry. Call Start to run the lanes.
func NewBus(registry SessionRegistry, cfg *BusConfig, opts ...BusOption) *Bus {
	if cfg == nil {
		cfg = DefaultBusConfig()
	}
	lanes := cfg.Lanes
	if lanes <= 0 {
		lanes = 1
	}
	queue := cfg.QueueSize
	if queue <= 0 {
		queue = 1
	}

	b := &Bus{
		registry: registry,
		limiters: NewRateLimiterRegistry(),
		clock:    time.Now,
		lanes:    make([]chan *domain.Submission, lanes),
		done:     make(chan struct{}),
	}
	for i := range b.lanes {
		b.lanes[i] = make(chan *domain.Submission, queue)
	}
	b.config.Store(cfg)
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// UpdateConfig swaps in new rate and retention settings. Lane count and
// queue size are fixed at construction.
func (b *Bus) UpdateConfig(cfg *BusConfig) {
	if cfg == nil {
		return
	}
	b.config.Store(cfg)
	b.limiters.DeletePrefix("")
}

// Start launches one goroutine per lane.
func (b *Bus) Start(ctx context.Context) {
	b.startOnce.Do(func() {
		for i, lane := range b.lanes {
			b.wg.Add(1)
			go b.runLane(ctx, i, lane)
		}
	})
}

// Stop halts the lanes and waits for them. Queued submissions are dropped.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() { close(b.done) })
	b.wg.Wait()
}

func (b *Bus) runLane(ctx context.Context, idx int, lane chan *domain.Submission) {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case <-ctx.Done():
			return
		case sub := <-lane:
			b.metrics.SetLaneDepth(idx, len(lane))
			if err := b.Apply(ctx, sub); err != nil {
				logger.L(logger.WithActorID(logger.WithRoomID(ctx, sub.RoomID), sub.ActorID)).Debug(
					"submission rejected", "action_id", sub.ActionID, "error", err)
			}
		}
	}
}

// Submit queues sub on its room's lane without waiting for the result. The
// outcome reaches the submitter's mailbox as a confirmation or rejection.
// A full lane fails fast with ErrOverloaded.
func (b *Bus) Submit(sub *domain.Submission) error {
	select {
	case <-b.done:
		return domain.ErrOverloaded.WithDetails("bus stopped")
	default:
	}

	idx := cmap.Slot(sub.RoomID, len(b.lanes))
	select {
	case b.lanes[idx] <- sub:
		return nil
	default:
		b.metrics.MutationRejected(domain.ErrOverloaded.Code)
		return domain.ErrOverloaded.WithDetails(fmt.Sprintf("lane %d full", idx))
	}
}

// Apply validates, authorizes and applies one submission, then delivers a
// confirmation to the submitter and a remote apply to every other member.
// Failures after the submitter is identified are delivered as a rejection
// and also returned.
func (b *Bus) Apply(ctx context.Context, sub *domain.Submission) error {
	started := time.Now()
	cfg := b.config.Load()

	now := sub.ReceivedAt
	if now.IsZero() {
		now = b.clock()
	}

	// 1. Room and membership
	room, err := b.registry.Get(ctx, sub.RoomID)
	if err != nil {
		return err
	}

	room.Lock()
	defer room.Unlock()

	if !room.IsOpen() {
		return domain.ErrRoomClosing
	}
	member, ok := room.Member(sub.ActorID)
	if !ok {
		return domain.ErrNotMember
	}

	entityID := sub.Mutation.EntityID
	reject := func(err error) error {
		current, _ := room.Entity(entityID)
		room.SendTo(sub.ActorID, domain.RejectionEvent(
			room.ID, sub.ActionID, entityID, err, current, room.CurrentVersion(entityID)))
		b.metrics.MutationRejected(domain.GetErrorCode(err))
		return err
	}

	// 2. Duplicate action; a resend costs no budget
	if rec, ok := room.LookupAction(sub.ActionID); ok {
		if rec.ActorID != sub.ActorID {
			return reject(domain.ErrMalformedMutation.WithDetails("action_id already used"))
		}
		room.SendTo(sub.ActorID, confirmationEvent(room.ID, rec))
		b.metrics.DuplicateAction()
		return nil
	}

	// 3. Fairness budget
	if !b.limiter(room.ID, member, cfg).AllowN(now, 1) {
		return reject(domain.ErrRateLimited)
	}

	// 4. Shape and target
	if err := sub.Validate(); err != nil {
		return reject(err)
	}
	m := sub.Mutation
	current, _ := room.Entity(entityID)
	next, err := m.Apply(current)
	if err != nil {
		return reject(err)
	}

	// 5. Role and ownership
	if err := authorize(member, m, current); err != nil {
		return reject(err)
	}

	// 6. Per-actor ordering
	if sub.Seq > 0 {
		if last := room.LastSeq(entityID, sub.ActorID); sub.Seq <= last {
			return reject(domain.ErrStaleMutation.WithDetails(
				fmt.Sprintf("seq %d not after %d", sub.Seq, last)))
		}
	}

	// 7. Commit
	version := room.NextVersion(entityID)
	rec := &domain.ActionRecord{
		ActionID:  sub.ActionID,
		ActorID:   sub.ActorID,
		EntityID:  entityID,
		Version:   version,
		AppliedAt: now,
	}
	if next == nil {
		room.DeleteEntity(entityID, version)
		rec.Removed = true
	} else {
		next.Version = version
		next.LastWriter = sub.ActorID
		room.PutEntity(next)
		rec.Entity = next.Clone()
	}
	room.Version++
	room.RecordAction(rec)
	if sub.Seq > 0 {
		room.SetSeq(entityID, sub.ActorID, sub.Seq)
	}

	// 8. Fan out
	room.SendTo(sub.ActorID, confirmationEvent(room.ID, rec))
	room.Broadcast(domain.Event{
		Type:     domain.EventRemoteApply,
		RoomID:   room.ID,
		EntityID: entityID,
		Entity:   rec.Entity.Clone(),
		Version:  version,
		Removed:  rec.Removed,
	}, sub.ActorID)

	b.metrics.MutationApplied(string(m.Type), time.Since(started))
	return nil
}

func confirmationEvent(roomID string, rec *domain.ActionRecord) domain.Event {
	return domain.Event{
		Type:     domain.EventConfirmation,
		RoomID:   roomID,
		ActionID: rec.ActionID,
		EntityID: rec.EntityID,
		Entity:   rec.Entity.Clone(),
		Version:  rec.Version,
		Removed:  rec.Removed,
	}
}

func (b *Bus) limiter(roomID string, m *domain.Member, cfg *BusConfig) *rate.Limiter {
	limit, burst := cfg.ParticipantRate, cfg.Burst
	if m.IsHost() {
		limit, burst = cfg.HostRate, cfg.Burst*2
	}
	if burst <= 0 {
		burst = 1
	}
	if limit <= 0 {
		return b.limiters.GetOrCreate(limiterKey(roomID, m.ActorID), rate.Inf, burst)
	}
	return b.limiters.GetOrCreate(limiterKey(roomID, m.ActorID), rate.Limit(limit), burst)
}

func limiterKey(roomID, actorID string) string {
	return roomID + "/" + actorID
}

// authorize decides whether member may apply m to current.
func authorize(member *domain.Member, m domain.Mutation, current *domain.Entity) error {
	if member.IsHost() {
		return nil
	}
	self := member.ActorID

	switch m.Type {
	case domain.MutationGlobalUpdate:
		return domain.ErrPermissionDenied.WithDetails("global state is host-only")
	case domain.MutationCreateEntity:
		if m.Create.Kind == domain.KindGlobal {
			return domain.ErrPermissionDenied.WithDetails("global entities are host-only")
		}
		if m.Create.Owner != "" && m.Create.Owner != self {
			return domain.ErrPermissionDenied.WithDetails("cannot create entities for another actor")
		}
	case domain.MutationRemoveEntity:
		if current.Owner != self {
			return domain.ErrPermissionDenied.WithDetails("only the owner may remove an entity")
		}
	default:
		if current.IsGlobal() {
			return domain.ErrPermissionDenied.WithDetails("global entities are host-only")
		}
		if current.Owner != "" && current.Owner != self {
			return domain.ErrPermissionDenied.WithDetails("entity is owned by " + current.Owner)
		}
	}
	return nil
}

// RequestFullSync returns the canonical state of a room for one of its
// members.
func (b *Bus) RequestFullSync(ctx context.Context, roomID, actorID string) (*domain.Snapshot, error) {
	room, err := b.registry.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}

	room.Lock()
	defer room.Unlock()

	if !room.IsOpen() {
		return nil, domain.ErrRoomClosing
	}
	if _, ok := room.Member(actorID); !ok {
		return nil, domain.ErrNotMember
	}
	return room.Snapshot(), nil
}

// Prune forgets action records older than the retention window and returns
// how many were dropped.
func (b *Bus) Prune(now time.Time) int {
	cutoff := now.Add(-b.config.Load().DedupeRetention)

	var rooms []*domain.Room
	b.registry.Range(func(room *domain.Room) bool {
		rooms = append(rooms, room)
		return true
	})

	n := 0
	for _, room := range rooms {
		room.Lock()
		n += room.PruneActions(cutoff)
		room.Unlock()
	}
	return n
}

// ForgetActor drops the fairness budget of one member.
func (b *Bus) ForgetActor(roomID, actorID string) {
	b.limiters.Delete(limiterKey(roomID, actorID))
}

// ForgetRoom drops the fairness budgets of every member of a room.
func (b *Bus) ForgetRoom(roomID string) {
	b.limiters.DeletePrefix(roomID + "/")
}

// QueueDepth returns the number of submissions waiting on each lane.
func (b *Bus) QueueDepth() []int {
	out := make([]int, len(b.lanes))
	for i, lane := range b.lanes {
		out[i] = len(lane)
	}
	return out
}
