package ledger

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yndnr/tablesync-go/internal/core/domain"
)

// DefaultStaleness is how long a pending action waits for its confirmation.
const DefaultStaleness = 30 * time.Second

// PendingAction is a local mutation awaiting server confirmation.
type PendingAction struct {
	ActionID string
	Seq      uint64
	Mutation domain.Mutation
	IssuedAt time.Time
}

// Ledger is the optimistic update ledger of one actor.
type Ledger struct {
	mu        sync.Mutex
	staleness time.Duration
	newID     func() string

	seq       uint64
	base      map[string]*domain.Entity
	versions  map[string]uint64 // last confirmed version, kept after removal
	visible   map[string]*domain.Entity
	pending   map[string]*PendingAction
	resync    map[string]bool
	conflicts uint64
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithIDGenerator replaces the UUID action ID generator.
func WithIDGenerator(fn func() string) Option {
	return func(l *Ledger) { l.newID = fn }
}

// New creates an empty ledger. staleness <= 0 uses DefaultStaleness.
func New(staleness time.Duration, opts ...Option) *Ledger {
	if staleness <= 0 {
		staleness = DefaultStaleness
	}
	l := &Ledger{
		staleness: staleness,
		newID:     func() string { return uuid.NewString() },
		base:      make(map[string]*domain.Entity),
		versions:  make(map[string]uint64),
		visible:   make(map[string]*domain.Entity),
		pending:   make(map[string]*PendingAction),
		resync:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ApplyLocal applies m to the working copy and records it as pending. The
// returned action carries the ID and sequence to submit with.
func (l *Ledger) ApplyLocal(m domain.Mutation, now time.Time) (PendingAction, error) {
	if err := m.Validate(); err != nil {
		return PendingAction{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	next, err := m.Apply(l.visible[m.EntityID])
	if err != nil {
		return PendingAction{}, err
	}

	l.seq++
	pa := &PendingAction{
		ActionID: l.newID(),
		Seq:      l.seq,
		Mutation: m,
		IssuedAt: now,
	}
	l.pending[pa.ActionID] = pa
	l.setVisible(m.EntityID, next)
	return *pa, nil
}

// OnConfirmation resolves actionID with the value the server applied at
// version. value is nil when the entity was removed. It reports whether the
// visible value had to snap to the server's value.
func (l *Ledger) OnConfirmation(actionID, entityID string, value *domain.Entity, version uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.pending, actionID)
	l.advance(entityID, value, version)
	return l.settle(entityID)
}

// OnRejection resolves actionID as refused. current and version describe
// the server's value at the time of the rejection; the visible value rolls
// back to it. It reports whether the visible value changed.
func (l *Ledger) OnRejection(actionID, entityID string, current *domain.Entity, version uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	before := l.visible[entityID]
	delete(l.pending, actionID)
	if version >= l.versions[entityID] {
		l.setBase(entityID, current, version)
	}
	l.recompute(entityID)
	return !before.SameValue(l.visible[entityID])
}

// OnRemoteApply records another actor's write. Writes not newer than the
// last confirmed version are ignored. The visible value follows only when
// no local mutation is pending for the entity. It reports whether the write
// was applied.
func (l *Ledger) OnRemoteApply(entityID string, value *domain.Entity, version uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.advance(entityID, value, version) {
		return false
	}
	if !l.hasPending(entityID) {
		l.setVisible(entityID, l.base[entityID].Clone())
	}
	return true
}

// Purge drops pending actions issued more than the staleness threshold
// before now. Affected entities fall back to their confirmed base and are
// flagged for resync. It returns the affected entity IDs.
func (l *Ledger) Purge(now time.Time) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	touched := make(map[string]bool)
	for id, pa := range l.pending {
		if now.Sub(pa.IssuedAt) > l.staleness {
			delete(l.pending, id)
			touched[pa.Mutation.EntityID] = true
		}
	}

	out := make([]string, 0, len(touched))
	for entityID := range touched {
		l.recompute(entityID)
		l.resync[entityID] = true
		out = append(out, entityID)
	}
	sort.Strings(out)
	return out
}

// Reset discards every pending action and replaces the working copy with
// snap. It returns how many pending actions were dropped.
func (l *Ledger) Reset(snap *domain.Snapshot) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	dropped := len(l.pending)
	l.pending = make(map[string]*PendingAction)
	l.base = make(map[string]*domain.Entity)
	l.versions = make(map[string]uint64)
	l.visible = make(map[string]*domain.Entity)
	l.resync = make(map[string]bool)

	if snap != nil {
		for _, e := range snap.Entities {
			l.base[e.ID] = e.Clone()
			l.visible[e.ID] = e.Clone()
			l.versions[e.ID] = e.Version
		}
	}
	return dropped
}

// Entity returns a copy of the visible value of id.
func (l *Ledger) Entity(id string) (*domain.Entity, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.visible[id]
	return e.Clone(), ok
}

// Confirmed returns a copy of the confirmed base of id.
func (l *Ledger) Confirmed(id string) (*domain.Entity, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.base[id]
	return e.Clone(), ok
}

// Version returns the last confirmed version of id.
func (l *Ledger) Version(id string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.versions[id]
}

// Entities returns copies of every visible entity ordered by ID.
func (l *Ledger) Entities() []*domain.Entity {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*domain.Entity, 0, len(l.visible))
	for _, e := range l.visible {
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Pending returns the unresolved actions in issue order.
func (l *Ledger) Pending() []PendingAction {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pendingFor("")
}

// NeedsResync returns the entities flagged by Purge that have not been
// refreshed since.
func (l *Ledger) NeedsResync() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]string, 0, len(l.resync))
	for id := range l.resync {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Conflicts returns how many times a confirmation overrode the visible value.
func (l *Ledger) Conflicts() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conflicts
}

// advance moves the confirmed base forward if version is newer.
func (l *Ledger) advance(entityID string, value *domain.Entity, version uint64) bool {
	if version <= l.versions[entityID] {
		return false
	}
	l.setBase(entityID, value, version)
	delete(l.resync, entityID)
	return true
}

func (l *Ledger) setBase(entityID string, value *domain.Entity, version uint64) {
	l.versions[entityID] = version
	if value == nil {
		delete(l.base, entityID)
		return
	}
	l.base[entityID] = value.Clone()
}

// settle recomputes the visible value after a confirmation. With nothing
// left pending, a visible value that differs from the base is a conflict.
func (l *Ledger) settle(entityID string) bool {
	if l.hasPending(entityID) {
		l.recompute(entityID)
		return false
	}
	base := l.base[entityID]
	conflict := !l.visible[entityID].SameValue(base)
	l.setVisible(entityID, base.Clone())
	if conflict {
		l.conflicts++
	}
	return conflict
}

// recompute replays the pending actions of entityID over its base. Actions
// that no longer apply are skipped.
func (l *Ledger) recompute(entityID string) {
	value := l.base[entityID].Clone()
	for _, pa := range l.pendingFor(entityID) {
		if next, err := pa.Mutation.Apply(value); err == nil {
			value = next
		}
	}
	l.setVisible(entityID, value)
}

func (l *Ledger) setVisible(entityID string, value *domain.Entity) {
	if value == nil {
		delete(l.visible, entityID)
		return
	}
	l.visible[entityID] = value
}

func (l *Ledger) hasPending(entityID string) bool {
	for _, pa := range l.pending {
		if pa.Mutation.EntityID == entityID {
			return true
		}
	}
	return false
}

// pendingFor returns pending actions ordered by Seq; an empty entityID
// selects all of them.
func (l *Ledger) pendingFor(entityID string) []PendingAction {
	out := make([]PendingAction, 0, len(l.pending))
	for _, pa := range l.pending {
		if entityID == "" || pa.Mutation.EntityID == entityID {
			out = append(out, *pa)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}
