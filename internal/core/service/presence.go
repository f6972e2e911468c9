package service

import (
	"context"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/yndnr/tablesync-go/internal/core/domain"
	"github.com/yndnr/tablesync-go/internal/telemetry/logger"
	"github.com/yndnr/tablesync-go/internal/telemetry/metric"
)

const (
	// DefaultFadeTimeout is how long a cursor survives without an update.
	DefaultFadeTimeout = 3 * time.Second

	// DefaultPresenceRate is the sustained cursor updates per second
	// accepted from one member.
	DefaultPresenceRate = 30

	// DefaultPresenceBurst is the cursor updates one member may send back
	// to back.
	DefaultPresenceBurst = 10
)

// PresenceMirror publishes cursor positions outside the process. Failures
// are logged and never block the in-memory tracker.
type PresenceMirror interface {
	Put(ctx context.Context, rec domain.PresenceRecord, ttl time.Duration) error
	Delete(ctx context.Context, roomID, actorID string) error
	DeleteRoom(ctx context.Context, roomID string) error
}

// PresenceTracker keeps the latest cursor position of each member. Records
// are advisory: they never enter the canonical entity table and vanish after
// the fade timeout.
type PresenceTracker struct {
	registry SessionRegistry
	mirror   PresenceMirror
	metrics  *metric.Registry
	fade     atomic.Int64
	limiters *RateLimiterRegistry
	limit    rate.Limit
	burst    int

	mu      sync.Mutex
	records map[string]map[string]domain.PresenceRecord // room -> actor -> record
}

// PresenceOption configures a PresenceTracker.
type PresenceOption func(*PresenceTracker)

// WithPresenceMirror copies every update to m.
func WithPresenceMirror(m PresenceMirror) PresenceOption {
	return func(p *PresenceTracker) { p.mirror = m }
}

// WithPresenceMetrics records presence metrics into r.
func WithPresenceMetrics(r *metric.Registry) PresenceOption {
	return func(p *PresenceTracker) { p.metrics = r }
}

// WithPresenceRate caps the cursor updates accepted from each member.
// perSecond <= 0 accepts every update.
func WithPresenceRate(perSecond float64, burst int) PresenceOption {
	return func(p *PresenceTracker) {
		p.limit = rate.Limit(perSecond)
		if perSecond <= 0 {
			p.limit = rate.Inf
		}
		p.burst = max(burst, 1)
	}
}

// NewPresenceTracker creates a tracker. fade <= 0 uses DefaultFadeTimeout.
func NewPresenceTracker(registry SessionRegistry, fade time.Duration, opts ...PresenceOption) *PresenceTracker {
	p := &PresenceTracker{
		registry: registry,
		limiters: NewRateLimiterRegistry(),
		limit:    DefaultPresenceRate,
		burst:    DefaultPresenceBurst,
		records:  make(map[string]map[string]domain.PresenceRecord),
	}
	p.SetFadeTimeout(fade)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetFadeTimeout changes the silence window after which records are swept.
func (p *PresenceTracker) SetFadeTimeout(fade time.Duration) {
	if fade <= 0 {
		fade = DefaultFadeTimeout
	}
	p.fade.Store(int64(fade))
}

// FadeTimeout returns the current silence window.
func (p *PresenceTracker) FadeTimeout() time.Duration {
	return time.Duration(p.fade.Load())
}

// UpdatePresence stores the actor's cursor and relays it to the other
// members. An update older than the stored one, or beyond the member's
// budget, is dropped without error. Relayed copies never overflow a
// recipient's mailbox.
func (p *PresenceTracker) UpdatePresence(ctx context.Context, roomID, actorID string, x, y float64, now time.Time) error {
	if math.IsNaN(x) || math.IsInf(x, 0) || math.IsNaN(y) || math.IsInf(y, 0) {
		return domain.ErrInvalidArgument.WithDetails("cursor coordinates must be finite")
	}

	room, err := p.registry.Get(ctx, roomID)
	if err != nil {
		return err
	}

	rec := domain.PresenceRecord{RoomID: roomID, ActorID: actorID, X: x, Y: y, UpdatedAt: now}

	room.Lock()
	if !room.IsOpen() {
		room.Unlock()
		return domain.ErrRoomClosing
	}
	if _, ok := room.Member(actorID); !ok {
		room.Unlock()
		return domain.ErrNotMember
	}
	if !p.limiter(roomID, actorID).AllowN(now, 1) {
		room.Unlock()
		p.metrics.PresenceDropped(1)
		return nil
	}
	if !p.store(rec) {
		room.Unlock()
		return nil
	}
	relay := rec
	dropped := room.BroadcastBestEffort(domain.Event{Type: domain.EventPresence, RoomID: roomID, Presence: &relay}, actorID)
	room.Unlock()

	p.metrics.PresenceDropped(dropped)

	p.metrics.PresenceUpdated()
	if p.mirror != nil {
		if err := p.mirror.Put(ctx, rec, p.FadeTimeout()); err != nil {
			logger.L(logger.WithRoomID(ctx, roomID)).Warn("presence mirror put failed", "error", err)
		}
	}
	return nil
}

func (p *PresenceTracker) limiter(roomID, actorID string) *rate.Limiter {
	return p.limiters.GetOrCreate(limiterKey(roomID, actorID), p.limit, p.burst)
}

func (p *PresenceTracker) store(rec domain.PresenceRecord) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	byActor, ok := p.records[rec.RoomID]
	if !ok {
		byActor = make(map[string]domain.PresenceRecord)
		p.records[rec.RoomID] = byActor
	}
	if prev, ok := byActor[rec.ActorID]; ok && rec.UpdatedAt.Before(prev.UpdatedAt) {
		return false
	}
	byActor[rec.ActorID] = rec
	return true
}

// Sweep deletes and returns every record silent for longer than the fade
// timeout.
func (p *PresenceTracker) Sweep(now time.Time) []domain.PresenceRecord {
	fade := p.FadeTimeout()

	p.mu.Lock()
	var faded []domain.PresenceRecord
	for roomID, byActor := range p.records {
		for actorID, rec := range byActor {
			if now.Sub(rec.UpdatedAt) > fade {
				faded = append(faded, rec)
				delete(byActor, actorID)
			}
		}
		if len(byActor) == 0 {
			delete(p.records, roomID)
		}
	}
	p.mu.Unlock()

	sortPresence(faded)
	p.metrics.PresenceExpired(len(faded))
	return faded
}

// List returns the live records of a room ordered by actor.
func (p *PresenceTracker) List(roomID string) []domain.PresenceRecord {
	p.mu.Lock()
	out := make([]domain.PresenceRecord, 0, len(p.records[roomID]))
	for _, rec := range p.records[roomID] {
		out = append(out, rec)
	}
	p.mu.Unlock()

	sortPresence(out)
	return out
}

// Forget drops one actor's record.
func (p *PresenceTracker) Forget(ctx context.Context, roomID, actorID string) {
	p.mu.Lock()
	if byActor, ok := p.records[roomID]; ok {
		delete(byActor, actorID)
		if len(byActor) == 0 {
			delete(p.records, roomID)
		}
	}
	p.mu.Unlock()
	p.limiters.Delete(limiterKey(roomID, actorID))

	if p.mirror != nil {
		if err := p.mirror.Delete(ctx, roomID, actorID); err != nil {
			logger.L(logger.WithRoomID(ctx, roomID)).Warn("presence mirror delete failed", "error", err)
		}
	}
}

// DropRoom drops every record of a room.
func (p *PresenceTracker) DropRoom(ctx context.Context, roomID string) {
	p.mu.Lock()
	delete(p.records, roomID)
	p.mu.Unlock()
	p.limiters.DeletePrefix(roomID + "/")

	if p.mirror != nil {
		if err := p.mirror.DeleteRoom(ctx, roomID); err != nil {
			logger.L(logger.WithRoomID(ctx, roomID)).Warn("presence mirror cleanup failed", "error", err)
		}
	}
}

// Count returns the number of live records across rooms.
func (p *PresenceTracker) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, byActor := range p.records {
		n += len(byActor)
	}
	return n
}

func sortPresence(recs []domain.PresenceRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].RoomID != recs[j].RoomID {
			return recs[i].RoomID < recs[j].RoomID
		}
		return recs[i].ActorID < recs[j].ActorID
	})
}
