package service

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/yndnr/tablesync-go/internal/core/domain"
)

// mockRegistry is a map-backed SessionRegistry.
type mockRegistry struct {
	mu    sync.Mutex
	rooms map[string]*domain.Room
}

func newMockRegistry() *mockRegistry {
	return &mockRegistry{rooms: make(map[string]*domain.Room)}
}

func (m *mockRegistry) Add(_ context.Context, room *domain.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[room.ID]; ok {
		return domain.ErrRoomConflict
	}
	m.rooms[room.ID] = room
	return nil
}

func (m *mockRegistry) Get(_ context.Context, id string) (*domain.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[id]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	return room, nil
}

func (m *mockRegistry) Remove(_ context.Context, id string) (*domain.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[id]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	delete(m.rooms, id)
	return room, nil
}

func (m *mockRegistry) List(_ context.Context, filter *RoomFilter) ([]*domain.Room, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Room
	for _, room := range m.rooms {
		if filter.HostID == "" || room.HostID == filter.HostID {
			out = append(out, room)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (m *mockRegistry) Range(fn func(room *domain.Room) bool) {
	m.mu.Lock()
	rooms := make([]*domain.Room, 0, len(m.rooms))
	for _, room := range m.rooms {
		rooms = append(rooms, room)
	}
	m.mu.Unlock()
	for _, room := range rooms {
		if !fn(room) {
			return
		}
	}
}

func (m *mockRegistry) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}

// testEpoch is the fixed "now" of every test clock.
var testEpoch = time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

type testEnv struct {
	registry *mockRegistry
	sessions *SessionManager
	bus      *Bus
	room     string
	boxes    map[string]*domain.Mailbox
}

func testSessionConfig() *SessionConfig {
	return &SessionConfig{
		MaxMembers:        4,
		MailboxSize:       64,
		HeartbeatInterval: time.Second,
		HeartbeatTimeout:  3 * time.Second,
		StaleGrace:        10 * time.Second,
		HostGrace:         5 * time.Second,
	}
}

func testBusConfig() *BusConfig {
	return &BusConfig{Lanes: 2, QueueSize: 8, DedupeRetention: time.Minute, Burst: 1}
}

// newTestEnv creates a room hosted by "gm" with an unowned token "t1", a
// token "p1-token" owned by p1 and a global "fog", then joins each actor.
func newTestEnv(t *testing.T, actors ...string) *testEnv {
	t.Helper()
	reg := newMockRegistry()
	clock := func() time.Time { return testEpoch }
	env := &testEnv{
		registry: reg,
		sessions: NewSessionManager(reg, testSessionConfig(), WithSessionClock(clock)),
		bus:      NewBus(reg, testBusConfig(), WithBusClock(clock)),
		boxes:    make(map[string]*domain.Mailbox),
	}

	resp, err := env.sessions.Create(context.Background(), &CreateRoomRequest{
		Name:   "Crypt of Ash",
		HostID: "gm",
		InitialEntities: []*domain.Entity{
			{ID: "t1", Kind: domain.KindToken, Position: domain.Position{X: 0, Y: 0}},
			{ID: "p1-token", Kind: domain.KindAvatar, Owner: "p1"},
			{ID: "fog", Kind: domain.KindGlobal, State: map[string]any{"enabled": true}},
		},
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	env.room = resp.RoomID

	for _, actor := range append([]string{"gm"}, actors...) {
		env.join(t, actor)
	}
	for _, mb := range env.boxes {
		drain(mb)
	}
	return env
}

func (e *testEnv) join(t *testing.T, actor string) *JoinResponse {
	t.Helper()
	resp, err := e.sessions.Join(context.Background(), &JoinRequest{RoomID: e.room, ActorID: actor})
	if err != nil {
		t.Fatalf("Join(%s) error = %v", actor, err)
	}
	e.boxes[actor] = resp.Mailbox
	return resp
}

func (e *testEnv) roomRef(t *testing.T) *domain.Room {
	t.Helper()
	room, err := e.registry.Get(context.Background(), e.room)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	return room
}

func (e *testEnv) entity(t *testing.T, id string) *domain.Entity {
	t.Helper()
	room := e.roomRef(t)
	room.Lock()
	defer room.Unlock()
	ent, ok := room.Entity(id)
	if !ok {
		return nil
	}
	return ent.Clone()
}

func (e *testEnv) submit(actor, actionID string, seq uint64, m domain.Mutation) error {
	return e.bus.Apply(context.Background(), &domain.Submission{
		ActionID:   actionID,
		RoomID:     e.room,
		ActorID:    actor,
		Seq:        seq,
		Mutation:   m,
		ReceivedAt: testEpoch,
	})
}

// drain returns every event queued in mb without blocking.
func drain(mb *domain.Mailbox) []domain.Event {
	var out []domain.Event
	for {
		select {
		case ev, ok := <-mb.C():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func eventTypes(evs []domain.Event) []domain.EventType {
	out := make([]domain.EventType, len(evs))
	for i, ev := range evs {
		out[i] = ev.Type
	}
	return out
}

func mailboxClosed(mb *domain.Mailbox) bool {
	for {
		select {
		case _, ok := <-mb.C():
			if !ok {
				return true
			}
		default:
			return false
		}
	}
}
