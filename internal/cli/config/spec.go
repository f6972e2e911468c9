package config

import (
	"time"

	"github.com/yndnr/tablesync-go/internal/client/ledger"
	"github.com/yndnr/tablesync-go/internal/client/throttle"
	"github.com/yndnr/tablesync-go/internal/protocol"
)

// Defaults.
const (
	DefaultServer           = "http://127.0.0.1:7480"
	DefaultOutput           = "table"
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultMaxRetries       = 3
)

// CLIConfig is the configuration for tablesync-cli.
type CLIConfig struct {
	// Server is the base URL of the room server. The WebSocket endpoint
	// is derived from it.
	Server string `koanf:"server"`

	// ActorID identifies this user in rooms and is sent as X-Actor-ID.
	ActorID     string `koanf:"actor_id"`
	DisplayName string `koanf:"display_name"`

	// Output is one of table, json or yaml.
	Output string `koanf:"output"`

	// Subprotocol selects the WebSocket encoding.
	Subprotocol string `koanf:"subprotocol"`

	TLS  TLSSection  `koanf:"tls"`
	Sync SyncSection `koanf:"sync"`
}

// TLSSection configures server verification for https and wss.
type TLSSection struct {
	// CAFile is a PEM bundle trusted in addition to the system roots.
	CAFile string `koanf:"ca_file"`

	// Insecure skips server certificate verification.
	Insecure bool `koanf:"insecure"`
}

// SyncSection holds client-side sync tunables.
type SyncSection struct {
	HostWindow        time.Duration `koanf:"host_window"`
	ParticipantWindow time.Duration `koanf:"participant_window"`
	Staleness         time.Duration `koanf:"staleness"`
	HandshakeTimeout  time.Duration `koanf:"handshake_timeout"`
	MaxRetries        int           `koanf:"max_retries"`
}

// Default returns the default CLI configuration.
func Default() *CLIConfig {
	tc := throttle.DefaultConfig()
	return &CLIConfig{
		Server:      DefaultServer,
		Output:      DefaultOutput,
		Subprotocol: protocol.SubprotocolJSON,
		Sync: SyncSection{
			HostWindow:        tc.HostWindow,
			ParticipantWindow: tc.ParticipantWindow,
			Staleness:         ledger.DefaultStaleness,
			HandshakeTimeout:  DefaultHandshakeTimeout,
			MaxRetries:        DefaultMaxRetries,
		},
	}
}
