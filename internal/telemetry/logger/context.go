package logger

import "context"

type contextKey int

const (
	loggerKey contextKey = iota
	fieldsKey
)

// fields are the identifiers a request or connection carries. They are
// stored together so L does one lookup however many are set.
type fields struct {
	requestID string
	roomID    string
	actorID   string
}

func fieldsFrom(ctx context.Context) fields {
	f, _ := ctx.Value(fieldsKey).(fields)
	return f
}

func withFields(ctx context.Context, update func(*fields)) context.Context {
	f := fieldsFrom(ctx)
	update(&f)
	return context.WithValue(ctx, fieldsKey, f)
}

// WithLogger adds a logger to the context.
func WithLogger(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext returns the context's logger, or the default logger.
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(loggerKey).(Logger); ok {
		return l
	}
	return Default()
}

// WithRequestID tags the context with an HTTP request ID.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return withFields(ctx, func(f *fields) { f.requestID = requestID })
}

// RequestIDFromContext returns the request ID, or "".
func RequestIDFromContext(ctx context.Context) string {
	return fieldsFrom(ctx).requestID
}

// WithRoomID tags the context with the room being served.
func WithRoomID(ctx context.Context, roomID string) context.Context {
	return withFields(ctx, func(f *fields) { f.roomID = roomID })
}

// RoomIDFromContext returns the room ID, or "".
func RoomIDFromContext(ctx context.Context) string {
	return fieldsFrom(ctx).roomID
}

// WithActorID tags the context with the acting client.
func WithActorID(ctx context.Context, actorID string) context.Context {
	return withFields(ctx, func(f *fields) { f.actorID = actorID })
}

// ActorIDFromContext returns the actor ID, or "".
func ActorIDFromContext(ctx context.Context) string {
	return fieldsFrom(ctx).actorID
}

// L returns the context's logger with the request, room and actor IDs the
// context carries attached.
func L(ctx context.Context) Logger {
	l := FromContext(ctx)
	f := fieldsFrom(ctx)

	var args []any
	if f.requestID != "" {
		args = append(args, "request_id", f.requestID)
	}
	if f.roomID != "" {
		args = append(args, "room_id", f.roomID)
	}
	if f.actorID != "" {
		args = append(args, "actor_id", f.actorID)
	}
	if len(args) == 0 {
		return l
	}
	return l.With(args...)
}
