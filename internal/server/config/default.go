package config

import (
	"time"

	"github.com/yndnr/tablesync-go/internal/core/domain"
	"github.com/yndnr/tablesync-go/internal/core/service"
	"github.com/yndnr/tablesync-go/internal/storage/memory"
)

// Default configuration values.
const (
	DefaultHTTPAddr  = "127.0.0.1:7480"
	DefaultRateLimit = 100

	DefaultWSBufferSize      = 4096
	DefaultWSWriteTimeout    = 5 * time.Second
	DefaultWSJoinTimeout     = 10 * time.Second
	DefaultWSMaxMessageBytes = 64 << 10

	DefaultSweepInterval = time.Second

	DefaultPresenceSweepInterval = 500 * time.Millisecond
	DefaultRedisAddr             = "127.0.0.1:6379"
	DefaultRedisKeyPrefix        = "tablesync:presence:"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Default returns the default server configuration.
func Default() *ServerConfig {
	session := service.DefaultSessionConfig()
	bus := service.DefaultBusConfig()

	return &ServerConfig{
		Server: ServerSection{
			HTTP: HTTPConfig{
				Addr:      DefaultHTTPAddr,
				RateLimit: DefaultRateLimit,
			},
			WS: WSConfig{
				ReadBufferSize:  DefaultWSBufferSize,
				WriteBufferSize: DefaultWSBufferSize,
				WriteTimeout:    DefaultWSWriteTimeout,
				JoinTimeout:     DefaultWSJoinTimeout,
				MaxMessageBytes: DefaultWSMaxMessageBytes,
			},
		},
		Session: SessionSection{
			MaxMembers:        domain.DefaultMaxMembers,
			MaxRoomsPerHost:   memory.DefaultMaxRoomsPerHost,
			HeartbeatInterval: session.HeartbeatInterval,
			HeartbeatTimeout:  session.HeartbeatTimeout,
			StaleGrace:        session.StaleGrace,
			HostGrace:         session.HostGrace,
			SweepInterval:     DefaultSweepInterval,
		},
		Sync: SyncSection{
			Lanes:           bus.Lanes,
			QueueSize:       bus.QueueSize,
			MailboxSize:     session.MailboxSize,
			DedupeRetention: bus.DedupeRetention,
			HostRate:        bus.HostRate,
			ParticipantRate: bus.ParticipantRate,
			Burst:           bus.Burst,
		},
		Presence: PresenceSection{
			FadeTimeout:   service.DefaultFadeTimeout,
			SweepInterval: DefaultPresenceSweepInterval,
			Rate:          service.DefaultPresenceRate,
			Burst:         service.DefaultPresenceBurst,
			Redis: RedisConfig{
				Enabled:   false,
				Addr:      DefaultRedisAddr,
				KeyPrefix: DefaultRedisKeyPrefix,
			},
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
