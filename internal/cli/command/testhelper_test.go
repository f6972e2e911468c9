package command

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/tablesync-go/internal/core/domain"
	"github.com/yndnr/tablesync-go/internal/core/service"
	"github.com/yndnr/tablesync-go/internal/server/httpserver"
	"github.com/yndnr/tablesync-go/internal/server/httpserver/handler"
	"github.com/yndnr/tablesync-go/internal/server/wsserver"
	"github.com/yndnr/tablesync-go/internal/storage/memory"
	"github.com/yndnr/tablesync-go/internal/telemetry/logger"
)

// testServer is an in-process room server with the HTTP API and /ws.
type testServer struct {
	*httptest.Server
	sessions *service.SessionManager
}

// newTestServer starts a server and points HOME at an empty directory so
// no user config file leaks into the test. ready may be nil.
func newTestServer(t *testing.T, ready handler.ReadinessFunc) *testServer {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	reg := memory.New()
	sessions := service.NewSessionManager(reg, service.DefaultSessionConfig())
	bus := service.NewBus(reg, service.DefaultBusConfig())
	presence := service.NewPresenceTracker(reg, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	bus.Start(ctx)

	ws := wsserver.NewHandler(sessions, bus, presence, wsserver.DefaultConfig())
	srv := httptest.NewServer(httpserver.NewRouter(&httpserver.RouterConfig{
		Sessions:  sessions,
		WebSocket: ws,
		Ready:     ready,
		Logger:    logger.Discard(),
	}))

	t.Cleanup(func() {
		sessions.CloseAll(context.Background(), domain.CloseReasonShutdown)
		srv.Close()
		cancel()
		bus.Stop()
	})
	return &testServer{Server: srv, sessions: sessions}
}

// createRoom creates a room hosted by "gm" holding entities.
func (s *testServer) createRoom(t *testing.T, entities ...*domain.Entity) string {
	t.Helper()
	resp, err := s.sessions.Create(context.Background(), &service.CreateRoomRequest{
		Name:            "Sunken Keep",
		HostID:          "gm",
		InitialEntities: entities,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return resp.RoomID
}

// waitMember waits until actor is an active member of roomID.
func (s *testServer) waitMember(t *testing.T, roomID, actor string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if summary, err := s.sessions.Get(context.Background(), roomID); err == nil {
			for _, m := range summary.Members {
				if m.ActorID == actor && m.State == domain.MemberActive {
					return
				}
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("%s never became active in %s", actor, roomID)
}

// run executes the CLI against the server with args after the global
// --server flag. stdin feeds confirmation prompts.
func (s *testServer) run(stdin string, args ...string) (string, error) {
	return runCLI(stdin, append([]string{"--server", s.URL}, args...)...)
}

// runCLI executes the CLI with args and returns what it wrote to stdout.
// Exit errors are returned instead of exiting the test binary.
func runCLI(stdin string, args ...string) (string, error) {
	var out bytes.Buffer
	app := App()
	app.Writer = &out
	app.ErrWriter = io.Discard
	app.Reader = strings.NewReader(stdin)
	app.ExitErrHandler = func(*cli.Context, error) {}

	err := app.Run(append([]string{"tablesync-cli"}, args...))
	return out.String(), err
}

// exitCode returns the code carried by err, or -1.
func exitCode(err error) int {
	var exitErr cli.ExitCoder
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
