package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/yndnr/tablesync-go/internal/client/wsconn"
	"github.com/yndnr/tablesync-go/internal/core/domain"
	"github.com/yndnr/tablesync-go/internal/infra/confloader"
	"github.com/yndnr/tablesync-go/internal/infra/shutdown"
	"github.com/yndnr/tablesync-go/internal/protocol"
	"github.com/yndnr/tablesync-go/internal/server/config"
	"github.com/yndnr/tablesync-go/internal/telemetry/logger"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tablesync.yaml")
	content := `
server:
  http:
    addr: "127.0.0.1:9000"
session:
  max_members: 6
  heartbeat_interval: 2s
  heartbeat_timeout: 6s
presence:
  fade_timeout: 5s
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Setenv("TABLESYNC_SYNC_HOST__RATE", "0")

	cfg, err := loadConfig(
		confloader.WithConfigFile(path),
		confloader.WithOverrides(map[string]any{"log.level": "debug"}),
	)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}

	if cfg.Server.HTTP.Addr != "127.0.0.1:9000" {
		t.Errorf("Addr = %q", cfg.Server.HTTP.Addr)
	}
	if cfg.Session.MaxMembers != 6 || cfg.Session.HeartbeatInterval != 2*time.Second {
		t.Errorf("Session = %+v", cfg.Session)
	}
	if cfg.Sync.HostRate != 0 {
		t.Errorf("HostRate = %v, want 0 from env", cfg.Sync.HostRate)
	}
	if cfg.Presence.FadeTimeout != 5*time.Second {
		t.Errorf("FadeTimeout = %v", cfg.Presence.FadeTimeout)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug from overrides", cfg.Log.Level)
	}
	if cfg.Sync.Lanes != config.Default().Sync.Lanes {
		t.Errorf("Lanes = %d, default should survive", cfg.Sync.Lanes)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	_, err := loadConfig(confloader.WithOverrides(map[string]any{"session.max_members": 0}))
	if !domain.IsDomainError(err, domain.ErrInvalidConfig.Code) {
		t.Errorf("loadConfig() error = %v, want ErrInvalidConfig", err)
	}
}

type runningServer struct {
	srv      *server
	shutdown *shutdown.Handler
	base     string
}

func startServer(t *testing.T) *runningServer {
	t.Helper()

	cfg := config.Default()
	cfg.Server.WS.AllowedOrigins = []string{"*"}
	cfg.Session.SweepInterval = 50 * time.Millisecond

	srv, err := newServer(context.Background(), cfg, logger.Discard())
	if err != nil {
		t.Fatalf("newServer() error = %v", err)
	}
	h := shutdown.NewHandler(5*time.Second, shutdown.WithLogger(logger.Discard()))
	srv.registerShutdown(h)
	t.Cleanup(func() { h.Shutdown() })

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	go srv.serve(l)

	return &runningServer{srv: srv, shutdown: h, base: "http://" + l.Addr().String()}
}

func (r *runningServer) createRoom(t *testing.T, host string) string {
	t.Helper()
	resp, err := http.Post(r.base+"/rooms", "application/json",
		strings.NewReader(`{"name":"Harbor","host_id":"`+host+`"}`))
	if err != nil {
		t.Fatalf("POST /rooms error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST /rooms status = %d, want 201", resp.StatusCode)
	}

	var body struct {
		Data struct {
			RoomID string `json:"room_id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	return body.Data.RoomID
}

func (r *runningServer) join(t *testing.T, roomID, actor string) *wsconn.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(r.base, "http") + "/ws"
	c, err := wsconn.NewDialer(url, wsconn.Options{}).Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })

	if err := c.Send(protocol.JoinMessage(roomID, actor, "", "")); err != nil {
		t.Fatalf("Send(join) error = %v", err)
	}
	waitFor(t, c, domain.EventJoined)
	return c
}

func waitFor(t *testing.T, c *wsconn.Conn, want domain.EventType) domain.Event {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-c.Events():
			if !ok {
				t.Fatalf("connection closed waiting for %s: %v", want, c.Err())
			}
			if ev.Type == want {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestServer_EndToEnd(t *testing.T) {
	r := startServer(t)
	roomID := r.createRoom(t, "gm")

	resp, err := http.Get(r.base + "/ready")
	if err != nil {
		t.Fatalf("GET /ready error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /ready status = %d, want 200", resp.StatusCode)
	}

	gm := r.join(t, roomID, "gm")
	p1 := r.join(t, roomID, "p1")
	waitFor(t, gm, domain.EventMemberJoined)

	if err := p1.Send(&protocol.ClientMessage{Type: protocol.MsgPresence, X: 3, Y: 4}); err != nil {
		t.Fatalf("Send(presence) error = %v", err)
	}
	ev := waitFor(t, gm, domain.EventPresence)
	if ev.Presence == nil || ev.Presence.ActorID != "p1" {
		t.Errorf("presence event = %+v", ev.Presence)
	}
	if n := r.srv.presence.Count(); n != 1 {
		t.Errorf("presence.Count() = %d, want 1", n)
	}

	// Shutdown drains readiness, closes every room and stops the loops.
	if err := r.shutdown.Shutdown(); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	closed := waitFor(t, p1, domain.EventRoomClosed)
	if closed.Reason != domain.CloseReasonShutdown {
		t.Errorf("room_closed reason = %q, want %q", closed.Reason, domain.CloseReasonShutdown)
	}
	if err := r.srv.readiness(); err == nil {
		t.Error("readiness() = nil after shutdown")
	}
	if n := r.srv.presence.Count(); n != 0 {
		t.Errorf("presence.Count() after shutdown = %d, want 0", n)
	}
}

func TestServer_Reload(t *testing.T) {
	r := startServer(t)

	next := config.Default()
	next.Log.Level = "warn"
	next.Session.MaxMembers = 3
	next.Sync.Lanes = 99
	next.Sync.ParticipantRate = 5
	next.Presence.FadeTimeout = 9 * time.Second
	defer logger.SetLevel("info")

	r.srv.reload(next)

	if got := logger.GetLevel(); got != "warn" {
		t.Errorf("GetLevel() = %q, want warn", got)
	}
	if got := r.srv.sessions.Config().MaxMembers; got != 3 {
		t.Errorf("MaxMembers = %d, want 3", got)
	}
	if got := r.srv.presence.FadeTimeout(); got != 9*time.Second {
		t.Errorf("FadeTimeout = %v, want 9s", got)
	}
	if got := len(r.srv.bus.QueueDepth()); got != r.srv.cfg.Sync.Lanes {
		t.Errorf("lanes = %d, want startup value %d", got, r.srv.cfg.Sync.Lanes)
	}
}
