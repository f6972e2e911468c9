package throttle

import (
	"sort"
	"sync"
	"time"

	"github.com/yndnr/tablesync-go/internal/core/domain"
)

// Config holds window lengths.
type Config struct {
	// HostWindow is the window length for the host.
	HostWindow time.Duration
	// ParticipantWindow is the window length for everyone else.
	ParticipantWindow time.Duration
	// IdleLifetime is how long a closed window is remembered.
	IdleLifetime time.Duration
}

// DefaultConfig returns the default window lengths.
func DefaultConfig() Config {
	return Config{
		HostWindow:        50 * time.Millisecond,
		ParticipantWindow: 100 * time.Millisecond,
		IdleLifetime:      30 * time.Second,
	}
}

type key struct {
	entityID string
	actorID  string
}

type window struct {
	length    time.Duration
	end       time.Time
	open      bool
	pending   *domain.Mutation
	lastOffer time.Time
}

// Throttle holds the windows of every (entity, actor) pair.
type Throttle struct {
	mu      sync.Mutex
	cfg     Config
	windows map[key]*window
}

// New creates a throttle. Zero durations fall back to DefaultConfig.
func New(cfg Config) *Throttle {
	def := DefaultConfig()
	if cfg.HostWindow <= 0 {
		cfg.HostWindow = def.HostWindow
	}
	if cfg.ParticipantWindow <= 0 {
		cfg.ParticipantWindow = def.ParticipantWindow
	}
	if cfg.IdleLifetime <= 0 {
		cfg.IdleLifetime = def.IdleLifetime
	}
	return &Throttle{cfg: cfg, windows: make(map[key]*window)}
}

// WindowFor returns the window length used for role.
func (t *Throttle) WindowFor(role domain.Role) time.Duration {
	if role == domain.RoleHost {
		return t.cfg.HostWindow
	}
	return t.cfg.ParticipantWindow
}

// Offer accepts a candidate mutation and returns what must be forwarded now:
// either nothing or the offer itself. A final offer is always forwarded and
// discards the pending value.
func (t *Throttle) Offer(entityID, actorID string, role domain.Role, m domain.Mutation, final bool, now time.Time) []domain.Mutation {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := key{entityID: entityID, actorID: actorID}
	w, ok := t.windows[k]
	if !ok {
		w = &window{}
		t.windows[k] = w
	}
	w.length = t.WindowFor(role)
	w.lastOffer = now

	if final {
		w.pending = nil
		w.open = false
		return []domain.Mutation{m}
	}

	if w.open && now.Before(w.end) {
		pending := m
		w.pending = &pending
		return nil
	}

	// Idle, or the window ended without a Flush: the offer supersedes any
	// pending value and opens a new window.
	w.pending = nil
	w.open = true
	w.end = now.Add(w.length)
	return []domain.Mutation{m}
}

// Flush forwards the pending value of every window that has ended. Such a
// window rolls on to the next window boundary; an ended window with nothing
// pending closes. Closed windows idle past the lifetime are deleted.
func (t *Throttle) Flush(now time.Time) []domain.Mutation {
	t.mu.Lock()
	defer t.mu.Unlock()

	type due struct {
		k   key
		end time.Time
		m   domain.Mutation
	}
	var out []due

	for k, w := range t.windows {
		if w.open && !now.Before(w.end) {
			if w.pending == nil {
				w.open = false
			} else {
				out = append(out, due{k: k, end: w.end, m: *w.pending})
				w.pending = nil
				for !now.Before(w.end) {
					w.end = w.end.Add(w.length)
				}
			}
		}
		if !w.open && now.Sub(w.lastOffer) > t.cfg.IdleLifetime {
			delete(t.windows, k)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].end.Equal(out[j].end) {
			return out[i].end.Before(out[j].end)
		}
		if out[i].k.entityID != out[j].k.entityID {
			return out[i].k.entityID < out[j].k.entityID
		}
		return out[i].k.actorID < out[j].k.actorID
	})

	muts := make([]domain.Mutation, len(out))
	for i, d := range out {
		muts[i] = d.m
	}
	return muts
}

// NextDeadline returns the earliest end of an open window.
func (t *Throttle) NextDeadline() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var next time.Time
	found := false
	for _, w := range t.windows {
		if w.open && (!found || w.end.Before(next)) {
			next = w.end
			found = true
		}
	}
	return next, found
}

// Pending reports whether a value is waiting in the window of (entity, actor).
func (t *Throttle) Pending(entityID, actorID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	w, ok := t.windows[key{entityID: entityID, actorID: actorID}]
	return ok && w.pending != nil
}

// Len returns the number of tracked windows.
func (t *Throttle) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.windows)
}

// Reset drops every window and pending value.
func (t *Throttle) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.windows = make(map[key]*window)
}
