package syncer

import (
	"context"

	"github.com/yndnr/tablesync-go/internal/client/wsconn"
	"github.com/yndnr/tablesync-go/internal/core/domain"
	"github.com/yndnr/tablesync-go/internal/protocol"
)

// Conn is a connection to the room server.
type Conn interface {
	Send(msg *protocol.ClientMessage) error
	// Events is closed when the connection ends.
	Events() <-chan domain.Event
	Err() error
	Close() error
}

// Dialer opens connections.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// DialFunc adapts a function to Dialer.
type DialFunc func(ctx context.Context) (Conn, error)

// Dial calls f.
func (f DialFunc) Dial(ctx context.Context) (Conn, error) {
	return f(ctx)
}

// WebSocket adapts a wsconn dialer.
func WebSocket(d *wsconn.Dialer) Dialer {
	return DialFunc(func(ctx context.Context) (Conn, error) {
		c, err := d.Dial(ctx)
		if err != nil {
			return nil, err
		}
		return c, nil
	})
}
