// Package wsconn is the client side of the TableSync WebSocket transport.
package wsconn

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yndnr/tablesync-go/internal/core/domain"
	"github.com/yndnr/tablesync-go/internal/protocol"
)

// DefaultEventBuffer is the number of decoded events buffered ahead of the
// reader.
const DefaultEventBuffer = 256

// Options configures a Dialer.
type Options struct {
	// Subprotocol selects the wire encoding. Empty means JSON.
	Subprotocol string
	// HandshakeTimeout bounds the WebSocket handshake.
	HandshakeTimeout time.Duration
	// WriteTimeout bounds a single frame write.
	WriteTimeout time.Duration
	// Header is sent with the handshake request.
	Header http.Header
	// TLSConfig is used for wss URLs. Nil uses the system roots.
	TLSConfig *tls.Config
}

// Dialer opens connections to one server URL.
type Dialer struct {
	url  string
	opts Options
	ws   *websocket.Dialer
}

// NewDialer creates a dialer for url, e.g. ws://localhost:5380/ws.
func NewDialer(url string, opts Options) *Dialer {
	if opts.Subprotocol == "" {
		opts.Subprotocol = protocol.SubprotocolJSON
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	return &Dialer{
		url:  url,
		opts: opts,
		ws: &websocket.Dialer{
			Proxy:             http.ProxyFromEnvironment,
			HandshakeTimeout:  opts.HandshakeTimeout,
			Subprotocols:      []string{opts.Subprotocol},
			EnableCompression: true,
			TLSClientConfig:   opts.TLSConfig,
		},
	}
}

// Dial opens a connection and starts its reader. A failed handshake is
// reported as ErrTransportLost.
func (d *Dialer) Dial(ctx context.Context) (*Conn, error) {
	ws, resp, err := d.ws.DialContext(ctx, d.url, d.opts.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, domain.ErrTransportLost.WithCause(err)
	}

	c := &Conn{
		ws:           ws,
		codec:        protocol.ForSubprotocol(ws.Subprotocol()),
		writeTimeout: d.opts.WriteTimeout,
		events:       make(chan domain.Event, DefaultEventBuffer),
		done:         make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Conn is one client connection. Send may be called from any goroutine;
// events are delivered in arrival order on Events.
type Conn struct {
	ws           *websocket.Conn
	codec        protocol.Codec
	writeTimeout time.Duration

	writeMu sync.Mutex
	events  chan domain.Event

	closeOnce sync.Once
	done      chan struct{}
	errMu     sync.Mutex
	err       error
}

// Subprotocol returns the negotiated encoding.
func (c *Conn) Subprotocol() string {
	return c.codec.Name()
}

// Send encodes and writes one message.
func (c *Conn) Send(msg *protocol.ClientMessage) error {
	data, err := c.codec.Marshal(msg)
	if err != nil {
		return domain.ErrProtocol.WithCause(err)
	}
	frame := websocket.TextMessage
	if c.codec.Binary() {
		frame = websocket.BinaryMessage
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.ws.WriteMessage(frame, data); err != nil {
		c.fail(err)
		return domain.ErrTransportLost.WithCause(err)
	}
	return nil
}

// Events returns the inbound event stream. It is closed when the
// connection ends; Err then reports why.
func (c *Conn) Events() <-chan domain.Event {
	return c.events
}

// Err returns the reason the connection ended, or nil while it is open or
// after a local Close.
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Close sends a close frame and tears the connection down.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
	})
	return c.ws.Close()
}

func (c *Conn) fail(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = domain.ErrTransportLost.WithCause(err)
	}
}

func (c *Conn) readLoop() {
	defer close(c.events)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					err = errors.New("server closed the connection")
				}
				c.fail(err)
			}
			return
		}

		var ev domain.Event
		if err := c.codec.Unmarshal(data, &ev); err != nil {
			c.fail(domain.ErrProtocol.WithCause(err))
			c.ws.Close()
			return
		}

		select {
		case c.events <- ev:
		case <-c.done:
			return
		}
	}
}
