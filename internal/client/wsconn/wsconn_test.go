package wsconn

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yndnr/tablesync-go/internal/core/domain"
	"github.com/yndnr/tablesync-go/internal/protocol"
)

// echoServer answers every heartbeat with a heartbeat event carrying the
// client time back, and closes after a leave.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()

	upgrader := websocket.Upgrader{Subprotocols: protocol.Subprotocols}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		codec := protocol.ForSubprotocol(ws.Subprotocol())
		frame := websocket.TextMessage
		if codec.Binary() {
			frame = websocket.BinaryMessage
		}
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			var msg protocol.ClientMessage
			if err := codec.Unmarshal(data, &msg); err != nil {
				return
			}
			switch msg.Type {
			case protocol.MsgHeartbeat:
				out, _ := codec.Marshal(domain.Event{
					Type:       domain.EventHeartbeat,
					ServerTime: 42,
					ClientTime: msg.ClientTime,
				})
				ws.WriteMessage(frame, out)
			case protocol.MsgLeave:
				ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second))
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func nextEvent(t *testing.T, c *Conn) (domain.Event, bool) {
	t.Helper()
	select {
	case ev, ok := <-c.Events():
		return ev, ok
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return domain.Event{}, false
	}
}

func TestConn_RoundTrip(t *testing.T) {
	srv := echoServer(t)

	tests := []struct {
		name        string
		subprotocol string
	}{
		{"json", protocol.SubprotocolJSON},
		{"cbor", protocol.SubprotocolCBOR},
		{"default", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewDialer(wsURL(srv), Options{Subprotocol: tt.subprotocol}).Dial(context.Background())
			if err != nil {
				t.Fatalf("Dial() error = %v", err)
			}
			defer c.Close()

			want := tt.subprotocol
			if want == "" {
				want = protocol.SubprotocolJSON
			}
			if got := c.Subprotocol(); got != want {
				t.Errorf("Subprotocol() = %q, want %q", got, want)
			}

			sent := time.UnixMilli(1700000000123)
			if err := c.Send(protocol.HeartbeatMessage(sent)); err != nil {
				t.Fatalf("Send() error = %v", err)
			}

			ev, ok := nextEvent(t, c)
			if !ok {
				t.Fatalf("Events() closed, Err() = %v", c.Err())
			}
			if ev.Type != domain.EventHeartbeat {
				t.Errorf("event type = %q, want %q", ev.Type, domain.EventHeartbeat)
			}
			if ev.ClientTime != sent.UnixMilli() || ev.ServerTime != 42 {
				t.Errorf("heartbeat = (%d, %d), want (%d, 42)", ev.ClientTime, ev.ServerTime, sent.UnixMilli())
			}
		})
	}
}

func TestConn_ServerClose(t *testing.T) {
	srv := echoServer(t)

	c, err := NewDialer(wsURL(srv), Options{}).Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer c.Close()

	if err := c.Send(&protocol.ClientMessage{Type: protocol.MsgLeave}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if _, ok := nextEvent(t, c); ok {
		t.Fatal("Events() delivered an event after the server closed")
	}
	if kind := domain.KindOf(c.Err()); kind != domain.KindTransportLost {
		t.Errorf("KindOf(Err()) = %q, want %q", kind, domain.KindTransportLost)
	}
}

func TestConn_LocalCloseLeavesNoError(t *testing.T) {
	srv := echoServer(t)

	c, err := NewDialer(wsURL(srv), Options{}).Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	c.Close()

	if _, ok := nextEvent(t, c); ok {
		t.Fatal("Events() delivered an event after Close")
	}
	if err := c.Err(); err != nil {
		t.Errorf("Err() = %v, want nil", err)
	}
}

func TestDial_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewDialer("ws://127.0.0.1:1/ws", Options{HandshakeTimeout: time.Second}).Dial(ctx)
	if err == nil {
		t.Fatal("Dial() error = nil, want error")
	}
	if kind := domain.KindOf(err); kind != domain.KindTransportLost {
		t.Errorf("KindOf(err) = %q, want %q", kind, domain.KindTransportLost)
	}
}
