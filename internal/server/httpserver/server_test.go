package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/yndnr/tablesync-go/internal/client/wsconn"
	"github.com/yndnr/tablesync-go/internal/core/domain"
	"github.com/yndnr/tablesync-go/internal/core/service"
	"github.com/yndnr/tablesync-go/internal/protocol"
	"github.com/yndnr/tablesync-go/internal/server/wsserver"
	"github.com/yndnr/tablesync-go/internal/storage/memory"
	"github.com/yndnr/tablesync-go/internal/telemetry/logger"
	"github.com/yndnr/tablesync-go/internal/telemetry/metric"
)

func TestNew(t *testing.T) {
	s := New(":8080", okHandler())
	if s == nil {
		t.Fatal("New returned nil")
	}
	if s.Addr() != ":8080" {
		t.Errorf("Addr() = %q", s.Addr())
	}
	if s.httpServer.ReadHeaderTimeout <= 0 {
		t.Error("ReadHeaderTimeout should be set")
	}
}

func TestServer_Shutdown(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	s := New(l.Addr().String(), okHandler())

	errChan := make(chan error, 1)
	go func() {
		errChan <- s.Serve(l)
	}()

	resp, err := http.Get("http://" + l.Addr().String() + "/")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown error: %v", err)
	}

	select {
	case err := <-errChan:
		if err != nil {
			t.Errorf("Serve returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("timeout waiting for Serve to return")
	}
}

func TestDefaultRouterConfig(t *testing.T) {
	cfg := DefaultRouterConfig()
	if cfg == nil {
		t.Fatal("DefaultRouterConfig returned nil")
	}
	if cfg.GlobalRateLimit <= 0 {
		t.Error("GlobalRateLimit should be positive")
	}
	if !cfg.EnableAudit {
		t.Error("EnableAudit should default to true")
	}
}

type routerEnv struct {
	sessions *service.SessionManager
	metrics  *metric.Registry
	srv      *httptest.Server
}

func newRouterEnv(t *testing.T, rateLimit int) *routerEnv {
	t.Helper()

	reg := memory.New()
	metrics := metric.NewRegistry()
	sessions := service.NewSessionManager(reg, service.DefaultSessionConfig(), service.WithSessionMetrics(metrics))
	bus := service.NewBus(reg, service.DefaultBusConfig(), service.WithBusMetrics(metrics))
	presence := service.NewPresenceTracker(reg, 0)

	ctx, cancel := context.WithCancel(context.Background())
	bus.Start(ctx)
	t.Cleanup(func() {
		cancel()
		bus.Stop()
	})

	ws := wsserver.NewHandler(sessions, bus, presence, wsserver.Config{}, wsserver.WithMetrics(metrics))
	router := NewRouter(&RouterConfig{
		Sessions:        sessions,
		WebSocket:       ws,
		Metrics:         metrics,
		Logger:          logger.Discard(),
		GlobalRateLimit: rateLimit,
		EnableAudit:     true,
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &routerEnv{sessions: sessions, metrics: metrics, srv: srv}
}

func TestNewRouter_Routes(t *testing.T) {
	env := newRouterEnv(t, 0)

	resp, err := http.Post(env.srv.URL+"/rooms", "application/json",
		strings.NewReader(`{"name": "Sunken Keep", "host_id": "gm"}`))
	if err != nil {
		t.Fatalf("POST /rooms error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST /rooms status = %d, want 201", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}

	tests := []struct {
		path       string
		wantStatus int
		wantBody   string
	}{
		{"/health", http.StatusOK, "healthy"},
		{"/ready", http.StatusOK, "ready"},
		{"/rooms", http.StatusOK, "Sunken Keep"},
		{"/metrics", http.StatusOK, "tablesync_session_rooms_created_total 1"},
		{"/unknown", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(env.srv.URL + tt.path)
			if err != nil {
				t.Fatalf("GET error = %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				t.Fatalf("ReadAll() error = %v", err)
			}
			if !strings.Contains(string(body), tt.wantBody) {
				t.Errorf("body does not contain %q", tt.wantBody)
			}
		})
	}
}

func TestNewRouter_RateLimitSkipsProbes(t *testing.T) {
	env := newRouterEnv(t, 1)

	get := func(path string) int {
		resp, err := http.Get(env.srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s error = %v", path, err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if got := get("/rooms"); got != http.StatusOK {
		t.Fatalf("first GET /rooms = %d, want 200", got)
	}
	if got := get("/rooms"); got != http.StatusTooManyRequests {
		t.Errorf("second GET /rooms = %d, want 429", got)
	}
	for i := 0; i < 3; i++ {
		if got := get("/health"); got != http.StatusOK {
			t.Errorf("GET /health = %d, want 200", got)
		}
	}
}

func TestNewRouter_WebSocketThroughMiddleware(t *testing.T) {
	env := newRouterEnv(t, 0)

	created, err := env.sessions.Create(context.Background(), &service.CreateRoomRequest{Name: "Keep", HostID: "gm"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws"
	conn, err := wsconn.NewDialer(url, wsconn.Options{}).Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	if err := conn.Send(protocol.JoinMessage(created.RoomID, "gm", "Game Master", "")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	select {
	case ev, ok := <-conn.Events():
		if !ok {
			t.Fatalf("connection closed: %v", conn.Err())
		}
		if ev.Type != domain.EventJoined || ev.Role != domain.RoleHost {
			data, _ := json.Marshal(ev)
			t.Errorf("first event = %s, want joined as host", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for joined")
	}
}
