package config

import (
	"time"

	"github.com/yndnr/tablesync-go/internal/core/service"
	"github.com/yndnr/tablesync-go/internal/server/wsserver"
)

// ServerConfig is the root configuration for tablesync-server.
type ServerConfig struct {
	Server   ServerSection   `koanf:"server"`
	Session  SessionSection  `koanf:"session"`
	Sync     SyncSection     `koanf:"sync"`
	Presence PresenceSection `koanf:"presence"`
	Log      LogSection      `koanf:"log"`
}

// ServerSection configures server endpoints.
type ServerSection struct {
	HTTP HTTPConfig `koanf:"http"`
	WS   WSConfig   `koanf:"ws"`
}

// HTTPConfig configures the HTTP server.
type HTTPConfig struct {
	Addr               string   `koanf:"addr"`
	TLSCertFile        string   `koanf:"tls_cert_file"`
	TLSKeyFile         string   `koanf:"tls_key_file"`
	RateLimit          int      `koanf:"rate_limit"`
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`
}

// WSConfig configures the WebSocket transport.
type WSConfig struct {
	ReadBufferSize  int           `koanf:"read_buffer_size"`
	WriteBufferSize int           `koanf:"write_buffer_size"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	JoinTimeout     time.Duration `koanf:"join_timeout"`
	MaxMessageBytes int64         `koanf:"max_message_bytes"`
	AllowedOrigins  []string      `koanf:"allowed_origins"`
}

// SessionSection configures room lifecycle.
type SessionSection struct {
	MaxMembers        int           `koanf:"max_members"`
	MaxRoomsPerHost   int           `koanf:"max_rooms_per_host"`
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `koanf:"heartbeat_timeout"`
	StaleGrace        time.Duration `koanf:"stale_grace"`
	HostGrace         time.Duration `koanf:"host_grace"`
	SweepInterval     time.Duration `koanf:"sweep_interval"`
}

// SyncSection configures the mutation pipeline.
type SyncSection struct {
	Lanes           int           `koanf:"lanes"`
	QueueSize       int           `koanf:"queue_size"`
	MailboxSize     int           `koanf:"mailbox_size"`
	DedupeRetention time.Duration `koanf:"dedupe_retention"`
	HostRate        float64       `koanf:"host_rate"`
	ParticipantRate float64       `koanf:"participant_rate"`
	Burst           int           `koanf:"burst"`
}

// PresenceSection configures cursor presence.
type PresenceSection struct {
	FadeTimeout   time.Duration `koanf:"fade_timeout"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
	// Rate is the sustained cursor updates per second accepted from one
	// member; 0 accepts every update.
	Rate  float64     `koanf:"rate"`
	Burst int         `koanf:"burst"`
	Redis RedisConfig `koanf:"redis"`
}

// RedisConfig configures the optional presence mirror.
type RedisConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Addr      string `koanf:"addr"`
	Password  string `koanf:"password"`
	DB        int    `koanf:"db"`
	KeyPrefix string `koanf:"key_prefix"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// SessionConfig returns the session manager settings.
func (c *ServerConfig) SessionConfig() *service.SessionConfig {
	return &service.SessionConfig{
		MaxMembers:        c.Session.MaxMembers,
		MailboxSize:       c.Sync.MailboxSize,
		HeartbeatInterval: c.Session.HeartbeatInterval,
		HeartbeatTimeout:  c.Session.HeartbeatTimeout,
		StaleGrace:        c.Session.StaleGrace,
		HostGrace:         c.Session.HostGrace,
	}
}

// BusConfig returns the mutation pipeline settings.
func (c *ServerConfig) BusConfig() *service.BusConfig {
	return &service.BusConfig{
		Lanes:           c.Sync.Lanes,
		QueueSize:       c.Sync.QueueSize,
		DedupeRetention: c.Sync.DedupeRetention,
		HostRate:        c.Sync.HostRate,
		ParticipantRate: c.Sync.ParticipantRate,
		Burst:           c.Sync.Burst,
	}
}

// TransportConfig returns the WebSocket transport settings.
func (c *ServerConfig) TransportConfig() wsserver.Config {
	return wsserver.Config{
		ReadBufferSize:  c.Server.WS.ReadBufferSize,
		WriteBufferSize: c.Server.WS.WriteBufferSize,
		WriteTimeout:    c.Server.WS.WriteTimeout,
		MaxMessageBytes: c.Server.WS.MaxMessageBytes,
		JoinTimeout:     c.Server.WS.JoinTimeout,
		AllowedOrigins:  c.Server.WS.AllowedOrigins,
	}
}
