package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yndnr/tablesync-go/internal/core/domain"
	"github.com/yndnr/tablesync-go/internal/core/service"
	"github.com/yndnr/tablesync-go/internal/infra/shutdown"
	"github.com/yndnr/tablesync-go/internal/infra/tlsroots"
	"github.com/yndnr/tablesync-go/internal/server/config"
	"github.com/yndnr/tablesync-go/internal/server/httpserver"
	"github.com/yndnr/tablesync-go/internal/server/wsserver"
	"github.com/yndnr/tablesync-go/internal/storage/memory"
	redisstore "github.com/yndnr/tablesync-go/internal/storage/redis"
	"github.com/yndnr/tablesync-go/internal/telemetry/logger"
	"github.com/yndnr/tablesync-go/internal/telemetry/metric"
)

const (
	shutdownTimeout  = 30 * time.Second
	redisDialTimeout = 3 * time.Second
)

var errDraining = errors.New("server is draining")

// server holds the running components of one process.
type server struct {
	cfg *config.ServerConfig
	log logger.Logger

	metrics  *metric.Registry
	registry *memory.Registry
	sessions *service.SessionManager
	bus      *service.Bus
	presence *service.PresenceTracker
	mirror   *redisstore.PresenceMirror
	certs    *tlsroots.CertReloader
	http     *httpserver.Server

	ready  atomic.Bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// newServer builds every component and starts the background loops. The
// listener is started separately by listenAndServe or serve.
func newServer(ctx context.Context, cfg *config.ServerConfig, log logger.Logger) (*server, error) {
	s := &server{
		cfg:     cfg,
		log:     log,
		metrics: metric.NewRegistry(),
	}

	s.registry = memory.New(memory.WithMaxRoomsPerHost(cfg.Session.MaxRoomsPerHost))
	s.sessions = service.NewSessionManager(s.registry, cfg.SessionConfig(),
		service.WithSessionMetrics(s.metrics))
	s.bus = service.NewBus(s.registry, cfg.BusConfig(),
		service.WithBusMetrics(s.metrics))

	presenceOpts := []service.PresenceOption{
		service.WithPresenceMetrics(s.metrics),
		service.WithPresenceRate(cfg.Presence.Rate, cfg.Presence.Burst),
	}
	if cfg.Presence.Redis.Enabled {
		dialCtx, cancel := context.WithTimeout(ctx, redisDialTimeout)
		mirror, err := redisstore.Dial(dialCtx, cfg.Presence.Redis.Addr, cfg.Presence.Redis.Password,
			cfg.Presence.Redis.DB, cfg.Presence.Redis.KeyPrefix)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("presence mirror: %w", err)
		}
		s.mirror = mirror
		presenceOpts = append(presenceOpts, service.WithPresenceMirror(mirror))
		log.Info("presence mirror connected", "addr", cfg.Presence.Redis.Addr)
	}
	s.presence = service.NewPresenceTracker(s.registry, cfg.Presence.FadeTimeout, presenceOpts...)

	// Per-member state elsewhere follows the roster.
	s.sessions.OnRoomClosed(func(roomID string) {
		s.bus.ForgetRoom(roomID)
		s.presence.DropRoom(context.Background(), roomID)
	})
	s.sessions.OnMemberRemoved(func(roomID, actorID string) {
		s.bus.ForgetActor(roomID, actorID)
		s.presence.Forget(context.Background(), roomID, actorID)
	})

	s.metrics.MustRegister(metric.NewStatsCollector(metric.StatsFunc(func() metric.Stats {
		st := s.sessions.Stats()
		st.PresenceRecords = s.presence.Count()
		return st
	})))

	if cfg.Server.HTTP.TLSCertFile != "" {
		certs, err := tlsroots.NewCertReloader(cfg.Server.HTTP.TLSCertFile, cfg.Server.HTTP.TLSKeyFile,
			tlsroots.WithLogger(log))
		if err != nil {
			s.closeMirror()
			return nil, err
		}
		s.certs = certs
	}

	ws := wsserver.NewHandler(s.sessions, s.bus, s.presence, cfg.TransportConfig(),
		wsserver.WithMetrics(s.metrics))

	s.http = httpserver.New(cfg.Server.HTTP.Addr, httpserver.NewRouter(&httpserver.RouterConfig{
		Sessions:           s.sessions,
		WebSocket:          ws,
		Metrics:            s.metrics,
		Ready:              s.readiness,
		Logger:             log,
		CORSAllowedOrigins: cfg.Server.HTTP.CORSAllowedOrigins,
		GlobalRateLimit:    cfg.Server.HTTP.RateLimit,
		EnableAudit:        true,
	}))

	s.start(ctx)
	return s, nil
}

// start launches the bus lanes and the maintenance loops.
func (s *server) start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel

	s.bus.Start(ctx)
	if s.certs != nil {
		s.certs.StartAsync()
	}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.sessions.Run(ctx, s.cfg.Session.SweepInterval)
	}()
	go func() {
		defer s.wg.Done()
		s.maintain(ctx)
	}()

	s.ready.Store(true)
}

// maintain expires cursors and forgets old action records.
func (s *server) maintain(ctx context.Context) {
	presenceTick := time.NewTicker(s.cfg.Presence.SweepInterval)
	pruneTick := time.NewTicker(max(s.cfg.Sync.DedupeRetention/4, time.Second))
	defer presenceTick.Stop()
	defer pruneTick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-presenceTick.C:
			s.presence.Sweep(now)
		case now := <-pruneTick.C:
			if n := s.bus.Prune(now); n > 0 {
				s.log.Debug("pruned action records", "count", n)
			}
		}
	}
}

func (s *server) readiness() error {
	if !s.ready.Load() {
		return errDraining
	}
	return nil
}

// listenAndServe serves on the configured address until shutdown.
func (s *server) listenAndServe() error {
	if s.certs != nil {
		return s.http.ListenAndServeTLS(s.certs.ServerConfig())
	}
	return s.http.ListenAndServe()
}

// serve serves plain HTTP on l until shutdown.
func (s *server) serve(l net.Listener) error {
	return s.http.Serve(l)
}

// reload applies the tunables that can change without a restart.
// Listen addresses, TLS files, lane count and the Redis connection keep
// their startup values.
func (s *server) reload(next *config.ServerConfig) {
	logger.SetLevel(next.Log.Level)
	s.presence.SetFadeTimeout(next.Presence.FadeTimeout)

	sessionCfg := next.SessionConfig()
	s.sessions.UpdateConfig(sessionCfg)

	busCfg := next.BusConfig()
	busCfg.Lanes = s.cfg.Sync.Lanes
	busCfg.QueueSize = s.cfg.Sync.QueueSize
	s.bus.UpdateConfig(busCfg)

	s.log.Info("configuration reloaded",
		"log_level", next.Log.Level,
		"max_members", sessionCfg.MaxMembers,
		"host_rate", busCfg.HostRate,
		"participant_rate", busCfg.ParticipantRate,
		"fade_timeout", next.Presence.FadeTimeout)
}

// registerShutdown registers hooks so that shutdown runs: stop taking
// traffic, close every room, stop the loops, release external resources.
func (s *server) registerShutdown(h *shutdown.Handler) {
	h.OnShutdown("presence-mirror", func(context.Context) error {
		return s.closeMirror()
	})
	h.OnShutdown("background", func(ctx context.Context) error {
		if s.certs != nil {
			s.certs.Stop()
		}
		s.cancel()
		s.bus.Stop()

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	h.OnShutdown("rooms", func(ctx context.Context) error {
		n := s.sessions.CloseAll(ctx, domain.CloseReasonShutdown)
		s.log.Info("closed rooms", "count", n)
		return nil
	})
	h.OnShutdown("http", func(ctx context.Context) error {
		return s.http.Shutdown(ctx)
	})
	h.OnShutdown("readiness", func(context.Context) error {
		s.ready.Store(false)
		return nil
	})
}

func (s *server) closeMirror() error {
	if s.mirror == nil {
		return nil
	}
	return s.mirror.Close()
}
