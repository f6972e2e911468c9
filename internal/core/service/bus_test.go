package service

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/yndnr/tablesync-go/internal/core/domain"
)

// Two participants move the same unowned token from version 0;
// both are applied in arrival order and every member converges.
func TestBus_ConcurrentMovesConverge(t *testing.T) {
	env := newTestEnv(t, "p1", "p2")

	if err := env.submit("p1", "a1", 1, domain.NewMove("t1", 1, 1)); err != nil {
		t.Fatalf("submit p1 error = %v", err)
	}
	if err := env.submit("p2", "a2", 1, domain.NewMove("t1", 2, 2)); err != nil {
		t.Fatalf("submit p2 error = %v", err)
	}

	final := env.entity(t, "t1")
	if final.Position != (domain.Position{X: 2, Y: 2}) || final.Version != 2 || final.LastWriter != "p2" {
		t.Fatalf("canonical t1 = %+v, want (2,2) v2 by p2", final)
	}

	type want struct {
		typ      domain.EventType
		actionID string
		version  uint64
	}
	expect := map[string][]want{
		"p1": {{domain.EventConfirmation, "a1", 1}, {domain.EventRemoteApply, "", 2}},
		"p2": {{domain.EventRemoteApply, "", 1}, {domain.EventConfirmation, "a2", 2}},
		"gm": {{domain.EventRemoteApply, "", 1}, {domain.EventRemoteApply, "", 2}},
	}
	for actor, wants := range expect {
		evs := drain(env.boxes[actor])
		if len(evs) != len(wants) {
			t.Fatalf("%s got %v, want %d events", actor, eventTypes(evs), len(wants))
		}
		for i, w := range wants {
			ev := evs[i]
			if ev.Type != w.typ || ev.ActionID != w.actionID || ev.Version != w.version {
				t.Errorf("%s event %d = %s/%s/v%d, want %s/%s/v%d",
					actor, i, ev.Type, ev.ActionID, ev.Version, w.typ, w.actionID, w.version)
			}
		}
		last := evs[len(evs)-1].Entity
		if !last.SameValue(final) {
			t.Errorf("%s last value %+v differs from canonical %+v", actor, last, final)
		}
	}

	room := env.roomRef(t)
	room.Lock()
	defer room.Unlock()
	if room.Version != 2 {
		t.Errorf("room version = %d, want 2", room.Version)
	}
}

func TestBus_DuplicateActionIsNotReapplied(t *testing.T) {
	env := newTestEnv(t, "p1", "p2")

	for i := 0; i < 3; i++ {
		if err := env.submit("p1", "a1", 1, domain.NewMove("t1", 4, 4)); err != nil {
			t.Fatalf("submit #%d error = %v", i, err)
		}
	}

	evs := drain(env.boxes["p1"])
	if len(evs) != 3 {
		t.Fatalf("p1 got %v, want three confirmations", eventTypes(evs))
	}
	for _, ev := range evs {
		if ev.Type != domain.EventConfirmation || ev.Version != 1 {
			t.Errorf("p1 got %s v%d, want confirmation v1", ev.Type, ev.Version)
		}
	}
	if evs := drain(env.boxes["gm"]); len(evs) != 1 {
		t.Errorf("gm got %v, want a single remote_apply", eventTypes(evs))
	}
	if e := env.entity(t, "t1"); e.Version != 1 {
		t.Errorf("t1 version = %d, want 1", e.Version)
	}

	// Another actor reusing the ID is refused.
	err := env.submit("p2", "a1", 1, domain.NewMove("t1", 9, 9))
	if !domain.IsDomainError(err, domain.ErrMalformedMutation.Code) {
		t.Errorf("reused action id error = %v, want malformed", err)
	}
}

func TestBus_VersionsNeverGoBackwards(t *testing.T) {
	env := newTestEnv(t)

	steps := []domain.Mutation{
		domain.NewCreate("t9", domain.CreatePayload{Kind: domain.KindToken, X: 1, Y: 1}),
		domain.NewMove("t9", 2, 2),
		domain.NewRemove("t9"),
		domain.NewCreate("t9", domain.CreatePayload{Kind: domain.KindToken}),
	}
	for i, m := range steps {
		if err := env.submit("gm", "s"+string(rune('a'+i)), 0, m); err != nil {
			t.Fatalf("step %d (%s) error = %v", i, m.Type, err)
		}
	}

	evs := drain(env.boxes["gm"])
	if len(evs) != len(steps) {
		t.Fatalf("gm got %v", eventTypes(evs))
	}
	for i, ev := range evs {
		if ev.Version != uint64(i+1) {
			t.Errorf("step %d version = %d, want %d", i, ev.Version, i+1)
		}
	}
	if !evs[2].Removed || evs[2].Entity != nil {
		t.Errorf("remove confirmation = %+v, want Removed and no entity", evs[2])
	}
	if e := env.entity(t, "t9"); e == nil || e.Version != 4 {
		t.Errorf("recreated t9 = %+v, want version 4", e)
	}
}

func TestBus_Authorization(t *testing.T) {
	tests := []struct {
		name  string
		actor string
		m     domain.Mutation
		want  domain.ErrorKind
	}{
		{"participant moves unowned", "p1", domain.NewMove("t1", 1, 1), ""},
		{"participant moves own", "p1", domain.NewMove("p1-token", 1, 1), ""},
		{"participant moves other's", "p2", domain.NewMove("p1-token", 1, 1), domain.KindUnauthorized},
		{"participant edits global entity", "p1", domain.NewStateUpdate("fog", map[string]any{"enabled": false}), domain.KindUnauthorized},
		{"participant global update", "p1", domain.NewGlobalUpdate("fog", map[string]any{"enabled": false}), domain.KindUnauthorized},
		{"host global update", "gm", domain.NewGlobalUpdate("fog", map[string]any{"enabled": false}), ""},
		{"host moves owned token", "gm", domain.NewMove("p1-token", 3, 3), ""},
		{"participant creates own", "p1", domain.NewCreate("n1", domain.CreatePayload{Kind: domain.KindToken, Owner: "p1"}), ""},
		{"participant creates unowned", "p1", domain.NewCreate("n1", domain.CreatePayload{Kind: domain.KindToken}), ""},
		{"participant creates for other", "p1", domain.NewCreate("n1", domain.CreatePayload{Kind: domain.KindToken, Owner: "p2"}), domain.KindUnauthorized},
		{"participant creates global", "p1", domain.NewCreate("n1", domain.CreatePayload{Kind: domain.KindGlobal}), domain.KindUnauthorized},
		{"participant removes unowned", "p1", domain.NewRemove("t1"), domain.KindUnauthorized},
		{"participant removes own", "p1", domain.NewRemove("p1-token"), ""},
		{"host removes anything", "gm", domain.NewRemove("t1"), ""},
		{"move unknown entity", "gm", domain.NewMove("ghost", 1, 1), domain.KindNotFound},
		{"create live id", "gm", domain.NewCreate("t1", domain.CreatePayload{Kind: domain.KindToken}), domain.KindRejected},
		{"malformed move", "p1", domain.NewMove("t1", math.NaN(), 0), domain.KindRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, "p1", "p2")
			before := env.entity(t, tt.m.EntityID)

			err := env.submit(tt.actor, "act", 1, tt.m)
			if got := domain.KindOf(err); got != tt.want {
				t.Fatalf("submit error = %v (kind %q), want kind %q", err, got, tt.want)
			}

			evs := drain(env.boxes[tt.actor])
			if len(evs) != 1 {
				t.Fatalf("%s got %v, want exactly one reply", tt.actor, eventTypes(evs))
			}
			if tt.want == "" {
				if evs[0].Type != domain.EventConfirmation {
					t.Errorf("reply = %s, want confirmation", evs[0].Type)
				}
				return
			}

			if evs[0].Type != domain.EventRejected || evs[0].Kind != tt.want {
				t.Errorf("reply = %s kind %q, want rejected kind %q", evs[0].Type, evs[0].Kind, tt.want)
			}
			if !env.entity(t, tt.m.EntityID).SameValue(before) {
				t.Error("rejected submission changed canonical state")
			}
			for _, other := range []string{"gm", "p1", "p2"} {
				if other == tt.actor {
					continue
				}
				if evs := drain(env.boxes[other]); len(evs) != 0 {
					t.Errorf("rejection leaked to %s: %v", other, eventTypes(evs))
				}
			}
		})
	}
}

func TestBus_StaleSequenceRejected(t *testing.T) {
	env := newTestEnv(t, "p1")

	if err := env.submit("p1", "a2", 2, domain.NewMove("t1", 1, 1)); err != nil {
		t.Fatalf("submit seq 2 error = %v", err)
	}
	err := env.submit("p1", "a1", 1, domain.NewMove("t1", 5, 5))
	if !domain.IsDomainError(err, domain.ErrStaleMutation.Code) {
		t.Fatalf("submit seq 1 error = %v, want stale", err)
	}

	evs := drain(env.boxes["p1"])
	if len(evs) != 2 {
		t.Fatalf("p1 got %v", eventTypes(evs))
	}
	rej := evs[1]
	if rej.Type != domain.EventRejected || rej.ActionID != "a1" || rej.Code != domain.ErrStaleMutation.Code {
		t.Fatalf("reply = %+v, want stale rejection for a1", rej)
	}
	if rej.Entity == nil || rej.Entity.Position != (domain.Position{X: 1, Y: 1}) || rej.Version != 1 {
		t.Errorf("rejection carries %+v v%d, want current value (1,1) v1", rej.Entity, rej.Version)
	}

	// Unstamped submissions skip the ordering check.
	if err := env.submit("p1", "a3", 0, domain.NewMove("t1", 7, 7)); err != nil {
		t.Errorf("unstamped submit error = %v", err)
	}
	// Sequences are tracked per entity.
	if err := env.submit("p1", "a4", 1, domain.NewMove("p1-token", 1, 1)); err != nil {
		t.Errorf("seq 1 on another entity error = %v", err)
	}
}

func TestBus_RejectsOutsiders(t *testing.T) {
	env := newTestEnv(t, "p1")

	if err := env.submit("stranger", "x1", 1, domain.NewMove("t1", 1, 1)); err != domain.ErrNotMember {
		t.Errorf("stranger submit error = %v, want %v", err, domain.ErrNotMember)
	}
	if _, err := env.bus.RequestFullSync(context.Background(), env.room, "stranger"); err != domain.ErrNotMember {
		t.Errorf("stranger full sync error = %v, want %v", err, domain.ErrNotMember)
	}

	if err := env.sessions.Close(context.Background(), env.room, domain.CloseReasonClosed); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := env.submit("p1", "x2", 1, domain.NewMove("t1", 1, 1)); domain.KindOf(err) != domain.KindNotFound {
		t.Errorf("submit to closed room error = %v, want not found", err)
	}
}

func TestBus_RateLimit(t *testing.T) {
	env := newTestEnv(t, "p1")
	env.bus.UpdateConfig(&BusConfig{DedupeRetention: time.Minute, HostRate: 2, ParticipantRate: 1, Burst: 1})

	if err := env.submit("p1", "r1", 0, domain.NewMove("t1", 1, 1)); err != nil {
		t.Fatalf("first submit error = %v", err)
	}
	err := env.submit("p1", "r2", 0, domain.NewMove("t1", 2, 2))
	if !domain.IsDomainError(err, domain.ErrRateLimited.Code) {
		t.Fatalf("second submit error = %v, want rate limited", err)
	}

	// The host has twice the burst.
	for i, id := range []string{"h1", "h2"} {
		if err := env.submit("gm", id, 0, domain.NewMove("t1", 3, 3)); err != nil {
			t.Errorf("host submit %d error = %v", i, err)
		}
	}

	// Budget refills with time.
	later := &domain.Submission{
		ActionID: "r3", RoomID: env.room, ActorID: "p1",
		Mutation: domain.NewMove("t1", 4, 4), ReceivedAt: testEpoch.Add(2 * time.Second),
	}
	if err := env.bus.Apply(context.Background(), later); err != nil {
		t.Errorf("submit after refill error = %v", err)
	}
}

func TestBus_ResendWithEmptyBudgetIsConfirmed(t *testing.T) {
	env := newTestEnv(t, "p1")
	env.bus.UpdateConfig(&BusConfig{DedupeRetention: time.Minute, ParticipantRate: 1, Burst: 1})

	if err := env.submit("p1", "a1", 1, domain.NewMove("t1", 1, 1)); err != nil {
		t.Fatalf("first submit error = %v", err)
	}
	drain(env.boxes["p1"])

	// The budget is spent; the resend must still get the recorded outcome.
	if err := env.submit("p1", "a1", 1, domain.NewMove("t1", 1, 1)); err != nil {
		t.Fatalf("resend error = %v, want nil", err)
	}
	evs := drain(env.boxes["p1"])
	if len(evs) != 1 || evs[0].Type != domain.EventConfirmation || evs[0].ActionID != "a1" || evs[0].Version != 1 {
		t.Fatalf("p1 got %v, want one confirmation of a1 at v1", eventTypes(evs))
	}

	// A fresh action is still limited.
	err := env.submit("p1", "a2", 2, domain.NewMove("t1", 2, 2))
	if !domain.IsDomainError(err, domain.ErrRateLimited.Code) {
		t.Errorf("new action error = %v, want rate limited", err)
	}
}

func TestBus_SubmitThroughLanes(t *testing.T) {
	env := newTestEnv(t, "p1")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env.bus.Start(ctx)
	defer env.bus.Stop()

	for i := 1; i <= 5; i++ {
		sub := &domain.Submission{
			ActionID: "lane-" + string(rune('0'+i)), RoomID: env.room, ActorID: "p1",
			Seq: uint64(i), Mutation: domain.NewMove("t1", float64(i), 0), ReceivedAt: testEpoch,
		}
		if err := env.bus.Submit(sub); err != nil {
			t.Fatalf("Submit(%d) error = %v", i, err)
		}
	}

	for i := 1; i <= 5; i++ {
		select {
		case ev := <-env.boxes["p1"].C():
			if ev.Type != domain.EventConfirmation || ev.Version != uint64(i) {
				t.Fatalf("event %d = %s v%d, want confirmation v%d", i, ev.Type, ev.Version, i)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for confirmation %d", i)
		}
	}
}

func TestBus_Overloaded(t *testing.T) {
	reg := newMockRegistry()
	bus := NewBus(reg, &BusConfig{Lanes: 1, QueueSize: 1})

	sub := &domain.Submission{ActionID: "a", RoomID: "tsrm-x", ActorID: "p1"}
	if err := bus.Submit(sub); err != nil {
		t.Fatalf("first Submit() error = %v", err)
	}
	if err := bus.Submit(sub); !domain.IsDomainError(err, domain.ErrOverloaded.Code) {
		t.Fatalf("Submit() on full lane error = %v, want overloaded", err)
	}
	if depth := bus.QueueDepth(); len(depth) != 1 || depth[0] != 1 {
		t.Errorf("QueueDepth() = %v, want [1]", depth)
	}

	bus.Stop()
	if err := bus.Submit(sub); !domain.IsDomainError(err, domain.ErrOverloaded.Code) {
		t.Errorf("Submit() after Stop error = %v, want overloaded", err)
	}
}

func TestBus_RequestFullSync(t *testing.T) {
	env := newTestEnv(t, "p1")
	if err := env.submit("gm", "a1", 0, domain.NewMove("t1", 6, 6)); err != nil {
		t.Fatalf("submit error = %v", err)
	}

	snap, err := env.bus.RequestFullSync(context.Background(), env.room, "p1")
	if err != nil {
		t.Fatalf("RequestFullSync() error = %v", err)
	}
	if snap.RoomVersion != 1 || len(snap.Entities) != 3 || len(snap.Members) != 2 {
		t.Errorf("snapshot = v%d, %d entities, %d members", snap.RoomVersion, len(snap.Entities), len(snap.Members))
	}
}

func TestBus_Prune(t *testing.T) {
	env := newTestEnv(t, "p1")
	if err := env.submit("p1", "a1", 0, domain.NewMove("t1", 1, 1)); err != nil {
		t.Fatalf("submit error = %v", err)
	}

	if n := env.bus.Prune(testEpoch.Add(30 * time.Second)); n != 0 {
		t.Errorf("Prune() inside retention = %d, want 0", n)
	}
	if n := env.bus.Prune(testEpoch.Add(61 * time.Second)); n != 1 {
		t.Errorf("Prune() after retention = %d, want 1", n)
	}
}
