package config

import (
	"fmt"
	"net"
	"os"

	"github.com/yndnr/tablesync-go/internal/core/domain"
	"github.com/yndnr/tablesync-go/internal/telemetry/logger"
)

// Verify validates the configuration. Every failure wraps
// domain.ErrInvalidConfig and names the offending key.
func Verify(cfg *ServerConfig) error {
	checks := []func(*ServerConfig) error{
		verifyServer,
		verifySession,
		verifySync,
		verifyPresence,
		verifyLog,
	}
	for _, check := range checks {
		if err := check(cfg); err != nil {
			return err
		}
	}
	return nil
}

func invalid(key, format string, args ...any) error {
	return domain.ErrInvalidConfig.WithDetails(key + ": " + fmt.Sprintf(format, args...))
}

func verifyServer(cfg *ServerConfig) error {
	http := cfg.Server.HTTP
	if _, _, err := net.SplitHostPort(http.Addr); err != nil {
		return invalid("server.http.addr", "%v", err)
	}
	if (http.TLSCertFile == "") != (http.TLSKeyFile == "") {
		return invalid("server.http.tls_cert_file", "certificate and key must be set together")
	}
	for _, f := range []string{http.TLSCertFile, http.TLSKeyFile} {
		if f == "" {
			continue
		}
		if _, err := os.Stat(f); err != nil {
			return invalid("server.http.tls_cert_file", "%v", err)
		}
	}
	if http.RateLimit < 0 {
		return invalid("server.http.rate_limit", "must not be negative")
	}

	ws := cfg.Server.WS
	if ws.ReadBufferSize < 0 || ws.WriteBufferSize < 0 {
		return invalid("server.ws.read_buffer_size", "buffer sizes must not be negative")
	}
	if ws.WriteTimeout <= 0 {
		return invalid("server.ws.write_timeout", "must be positive")
	}
	if ws.MaxMessageBytes <= 0 {
		return invalid("server.ws.max_message_bytes", "must be positive")
	}
	return nil
}

func verifySession(cfg *ServerConfig) error {
	s := cfg.Session
	if s.MaxMembers < 1 {
		return invalid("session.max_members", "must be at least 1")
	}
	if s.MaxRoomsPerHost < 1 {
		return invalid("session.max_rooms_per_host", "must be at least 1")
	}
	if s.HeartbeatInterval <= 0 {
		return invalid("session.heartbeat_interval", "must be positive")
	}
	if s.HeartbeatTimeout <= s.HeartbeatInterval {
		return invalid("session.heartbeat_timeout", "must exceed heartbeat_interval")
	}
	if s.StaleGrace < 0 || s.HostGrace < 0 {
		return invalid("session.stale_grace", "grace periods must not be negative")
	}
	if s.SweepInterval <= 0 {
		return invalid("session.sweep_interval", "must be positive")
	}
	return nil
}

func verifySync(cfg *ServerConfig) error {
	s := cfg.Sync
	if s.Lanes < 1 {
		return invalid("sync.lanes", "must be at least 1")
	}
	if s.QueueSize < 1 {
		return invalid("sync.queue_size", "must be at least 1")
	}
	if s.MailboxSize < 1 {
		return invalid("sync.mailbox_size", "must be at least 1")
	}
	if s.DedupeRetention <= 0 {
		return invalid("sync.dedupe_retention", "must be positive")
	}
	if s.HostRate < 0 || s.ParticipantRate < 0 {
		return invalid("sync.host_rate", "rates must not be negative")
	}
	if s.Burst < 0 {
		return invalid("sync.burst", "must not be negative")
	}
	return nil
}

func verifyPresence(cfg *ServerConfig) error {
	p := cfg.Presence
	if p.FadeTimeout <= 0 {
		return invalid("presence.fade_timeout", "must be positive")
	}
	if p.SweepInterval <= 0 {
		return invalid("presence.sweep_interval", "must be positive")
	}
	if p.Rate < 0 {
		return invalid("presence.rate", "must not be negative")
	}
	if p.Burst < 0 {
		return invalid("presence.burst", "must not be negative")
	}
	if !p.Redis.Enabled {
		return nil
	}
	if p.Redis.Addr == "" {
		return invalid("presence.redis.addr", "required when the mirror is enabled")
	}
	if p.Redis.DB < 0 {
		return invalid("presence.redis.db", "must not be negative")
	}
	return nil
}

func verifyLog(cfg *ServerConfig) error {
	if !logger.ValidLevel(cfg.Log.Level) {
		return invalid("log.level", "unknown level %q", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "json", "text":
		return nil
	default:
		return invalid("log.format", "must be json or text, got %q", cfg.Log.Format)
	}
}
