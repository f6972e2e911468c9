package service

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/yndnr/tablesync-go/internal/core/domain"
)

type mockMirror struct {
	mu      sync.Mutex
	puts    []domain.PresenceRecord
	deletes []string
	rooms   []string
	failPut bool
}

func (m *mockMirror) Put(_ context.Context, rec domain.PresenceRecord, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPut {
		return errors.New("mirror down")
	}
	m.puts = append(m.puts, rec)
	return nil
}

func (m *mockMirror) Delete(_ context.Context, roomID, actorID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes = append(m.deletes, roomID+"/"+actorID)
	return nil
}

func (m *mockMirror) DeleteRoom(_ context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms = append(m.rooms, roomID)
	return nil
}

func TestPresence_UpdateAndRelay(t *testing.T) {
	env := newTestEnv(t, "p1", "p2")
	mirror := &mockMirror{}
	tracker := NewPresenceTracker(env.registry, time.Second, WithPresenceMirror(mirror))
	ctx := context.Background()

	if err := tracker.UpdatePresence(ctx, env.room, "p1", 3, 4, testEpoch); err != nil {
		t.Fatalf("UpdatePresence() error = %v", err)
	}
	if err := tracker.UpdatePresence(ctx, env.room, "p1", 5, 6, testEpoch.Add(100*time.Millisecond)); err != nil {
		t.Fatalf("UpdatePresence() error = %v", err)
	}
	// Out-of-order update is dropped.
	if err := tracker.UpdatePresence(ctx, env.room, "p1", 0, 0, testEpoch.Add(50*time.Millisecond)); err != nil {
		t.Fatalf("UpdatePresence() error = %v", err)
	}

	recs := tracker.List(env.room)
	if len(recs) != 1 || recs[0].X != 5 || recs[0].Y != 6 {
		t.Fatalf("List() = %+v, want latest (5,6)", recs)
	}

	for _, actor := range []string{"gm", "p2"} {
		evs := drain(env.boxes[actor])
		if len(evs) != 2 || evs[1].Type != domain.EventPresence || evs[1].Presence.X != 5 {
			t.Errorf("%s got %v, want two presence events", actor, eventTypes(evs))
		}
	}
	if evs := drain(env.boxes["p1"]); len(evs) != 0 {
		t.Errorf("sender got its own presence: %v", eventTypes(evs))
	}
	if len(mirror.puts) != 2 {
		t.Errorf("mirror saw %d puts, want 2", len(mirror.puts))
	}

	// Cursors never touch canonical entities.
	room := env.roomRef(t)
	room.Lock()
	if room.Version != 0 || room.EntityCount() != 3 {
		t.Errorf("presence changed canonical state: v%d, %d entities", room.Version, room.EntityCount())
	}
	room.Unlock()
}

func TestPresence_Errors(t *testing.T) {
	env := newTestEnv(t, "p1")
	mirror := &mockMirror{failPut: true}
	tracker := NewPresenceTracker(env.registry, 0, WithPresenceMirror(mirror))
	ctx := context.Background()

	if tracker.FadeTimeout() != DefaultFadeTimeout {
		t.Errorf("FadeTimeout() = %v, want default", tracker.FadeTimeout())
	}
	if err := tracker.UpdatePresence(ctx, env.room, "p1", math.Inf(1), 0, testEpoch); domain.KindOf(err) != domain.KindInvalidConfig {
		t.Errorf("infinite cursor error = %v", err)
	}
	if err := tracker.UpdatePresence(ctx, env.room, "stranger", 1, 1, testEpoch); err != domain.ErrNotMember {
		t.Errorf("stranger error = %v, want %v", err, domain.ErrNotMember)
	}
	if err := tracker.UpdatePresence(ctx, "tsrm-gone", "p1", 1, 1, testEpoch); domain.KindOf(err) != domain.KindNotFound {
		t.Errorf("unknown room error = %v, want not found", err)
	}
	// A failing mirror does not fail the update.
	if err := tracker.UpdatePresence(ctx, env.room, "p1", 1, 1, testEpoch); err != nil {
		t.Errorf("UpdatePresence() with failing mirror error = %v", err)
	}
}

func TestPresence_Sweep(t *testing.T) {
	env := newTestEnv(t, "p1", "p2")
	tracker := NewPresenceTracker(env.registry, time.Second)
	ctx := context.Background()

	_ = tracker.UpdatePresence(ctx, env.room, "p1", 1, 1, testEpoch)
	_ = tracker.UpdatePresence(ctx, env.room, "p2", 2, 2, testEpoch.Add(800*time.Millisecond))

	if faded := tracker.Sweep(testEpoch.Add(time.Second)); len(faded) != 0 {
		t.Fatalf("Sweep() at exactly the fade timeout = %+v, want none", faded)
	}
	faded := tracker.Sweep(testEpoch.Add(1500 * time.Millisecond))
	if len(faded) != 1 || faded[0].ActorID != "p1" {
		t.Fatalf("Sweep() = %+v, want p1 faded", faded)
	}
	if tracker.Count() != 1 {
		t.Errorf("Count() = %d, want 1", tracker.Count())
	}

	tracker.SetFadeTimeout(100 * time.Millisecond)
	if faded := tracker.Sweep(testEpoch.Add(time.Second)); len(faded) != 1 {
		t.Errorf("Sweep() after shortening fade = %+v, want p2 faded", faded)
	}
}

func TestPresence_ForgetAndDropRoom(t *testing.T) {
	env := newTestEnv(t, "p1", "p2")
	mirror := &mockMirror{}
	tracker := NewPresenceTracker(env.registry, time.Second, WithPresenceMirror(mirror))
	ctx := context.Background()

	_ = tracker.UpdatePresence(ctx, env.room, "p1", 1, 1, testEpoch)
	_ = tracker.UpdatePresence(ctx, env.room, "p2", 2, 2, testEpoch)

	tracker.Forget(ctx, env.room, "p1")
	if recs := tracker.List(env.room); len(recs) != 1 || recs[0].ActorID != "p2" {
		t.Errorf("List() after Forget = %+v", recs)
	}

	tracker.DropRoom(ctx, env.room)
	if tracker.Count() != 0 {
		t.Errorf("Count() after DropRoom = %d", tracker.Count())
	}
	if len(mirror.deletes) != 1 || len(mirror.rooms) != 1 {
		t.Errorf("mirror deletes = %v, rooms = %v", mirror.deletes, mirror.rooms)
	}
}

func TestPresence_FloodDoesNotOverflowPeers(t *testing.T) {
	env := newTestEnv(t, "p1", "p2")
	tracker := NewPresenceTracker(env.registry, time.Second, WithPresenceRate(0, 0))
	ctx := context.Background()

	// Twice the mailbox capacity of cursor moves from one member.
	for i := 0; i < 2*testSessionConfig().MailboxSize; i++ {
		at := testEpoch.Add(time.Duration(i) * time.Millisecond)
		if err := tracker.UpdatePresence(ctx, env.room, "p1", float64(i), 0, at); err != nil {
			t.Fatalf("UpdatePresence(#%d) error = %v", i, err)
		}
	}

	for _, actor := range []string{"gm", "p2"} {
		mb := env.boxes[actor]
		if mb.Overflowed() {
			t.Errorf("%s mailbox overflowed on cursor traffic", actor)
		}
		if n := len(drain(mb)); n != testSessionConfig().MailboxSize {
			t.Errorf("%s received %d presence events, want %d", actor, n, testSessionConfig().MailboxSize)
		}
	}

	// Reliable traffic still reaches the drained peers.
	if err := env.submit("p1", "a1", 1, domain.NewMove("t1", 1, 1)); err != nil {
		t.Fatalf("submit after flood error = %v", err)
	}
	if evs := drain(env.boxes["p2"]); len(evs) != 1 || evs[0].Type != domain.EventRemoteApply {
		t.Errorf("p2 got %v after flood, want one remote_apply", eventTypes(evs))
	}
}

func TestPresence_PerActorBudget(t *testing.T) {
	env := newTestEnv(t, "p1", "p2")
	tracker := NewPresenceTracker(env.registry, time.Minute, WithPresenceRate(10, 3))
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		if err := tracker.UpdatePresence(ctx, env.room, "p1", float64(i), 0, testEpoch); err != nil {
			t.Fatalf("UpdatePresence(#%d) error = %v", i, err)
		}
	}
	if n := len(drain(env.boxes["p2"])); n != 3 {
		t.Errorf("p2 received %d presence events, want the burst of 3", n)
	}
	recs := tracker.List(env.room)
	if len(recs) != 1 || recs[0].X != 2 {
		t.Errorf("List() = %+v, want p1 at the last accepted x=2", recs)
	}

	// Another member has its own budget.
	if err := tracker.UpdatePresence(ctx, env.room, "p2", 1, 1, testEpoch); err != nil {
		t.Fatalf("UpdatePresence(p2) error = %v", err)
	}
	if n := len(drain(env.boxes["p1"])); n != 1 {
		t.Errorf("p1 received %d presence events from p2, want 1", n)
	}

	// The budget refills with time.
	if err := tracker.UpdatePresence(ctx, env.room, "p1", 9, 9, testEpoch.Add(time.Second)); err != nil {
		t.Fatalf("UpdatePresence() after refill error = %v", err)
	}
	if n := len(drain(env.boxes["p2"])); n != 1 {
		t.Errorf("p2 received %d presence events after refill, want 1", n)
	}

	// Forgetting the member resets its budget.
	tracker.Forget(ctx, env.room, "p1")
	for i := 0; i < 3; i++ {
		_ = tracker.UpdatePresence(ctx, env.room, "p1", 0, float64(i), testEpoch.Add(time.Second))
	}
	if n := len(drain(env.boxes["p2"])); n != 3 {
		t.Errorf("p2 received %d presence events after Forget, want a fresh burst of 3", n)
	}
}
