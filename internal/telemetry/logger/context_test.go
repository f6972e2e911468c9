package logger

import (
	"context"
	"testing"
)

func TestFromContext_Default(t *testing.T) {
	if FromContext(context.Background()) != Default() {
		t.Error("FromContext() without logger should return Default()")
	}
}

func TestContextIDs(t *testing.T) {
	ctx := context.Background()
	if RequestIDFromContext(ctx) != "" || RoomIDFromContext(ctx) != "" || ActorIDFromContext(ctx) != "" {
		t.Fatal("empty context should carry no IDs")
	}

	ctx = WithRequestID(ctx, "req-1")
	ctx = WithRoomID(ctx, "tsrm-1")
	ctx = WithActorID(ctx, "gm")

	if got := RequestIDFromContext(ctx); got != "req-1" {
		t.Errorf("RequestIDFromContext() = %q", got)
	}
	if got := RoomIDFromContext(ctx); got != "tsrm-1" {
		t.Errorf("RoomIDFromContext() = %q", got)
	}
	if got := ActorIDFromContext(ctx); got != "gm" {
		t.Errorf("ActorIDFromContext() = %q", got)
	}
}

func TestL_EnrichesFromContext(t *testing.T) {
	l, buf := newJSONLogger(t, "info")

	ctx := WithLogger(context.Background(), l)
	ctx = WithRequestID(ctx, "req-12345")
	ctx = WithRoomID(ctx, "tsrm-abc")
	ctx = WithActorID(ctx, "p1")

	L(ctx).Info("joined")

	entry := decodeEntry(t, buf)
	want := map[string]string{
		"request_id": "req-12345",
		"room_id":    "tsrm-abc",
		"actor_id":   "p1",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("%s = %v, want %q", k, entry[k], v)
		}
	}
}

func TestL_NoIDs(t *testing.T) {
	l, buf := newJSONLogger(t, "info")
	L(WithLogger(context.Background(), l)).Info("plain")

	entry := decodeEntry(t, buf)
	for _, k := range []string{"request_id", "room_id", "actor_id"} {
		if _, ok := entry[k]; ok {
			t.Errorf("unexpected %s in %v", k, entry)
		}
	}
}

func TestContextKeyCollision(t *testing.T) {
	ctx := context.WithValue(context.Background(), 1, "other")
	if RoomIDFromContext(ctx) != "" {
		t.Error("plain int key must not collide with the package key type")
	}
}

func TestContextIDs_Independent(t *testing.T) {
	parent := WithRoomID(context.Background(), "tsrm-1")
	child := WithActorID(parent, "p1")

	if ActorIDFromContext(parent) != "" {
		t.Error("tagging a child must not change its parent")
	}
	if RoomIDFromContext(child) != "tsrm-1" {
		t.Error("child lost the parent's room ID")
	}

	child = WithRoomID(child, "tsrm-2")
	if got := RoomIDFromContext(child); got != "tsrm-2" {
		t.Errorf("RoomIDFromContext() = %q, want the newer tag", got)
	}
	if got := ActorIDFromContext(child); got != "p1" {
		t.Errorf("ActorIDFromContext() = %q, want p1", got)
	}
}
