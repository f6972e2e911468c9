package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/yndnr/tablesync-go/internal/infra/confloader"
	"github.com/yndnr/tablesync-go/internal/protocol"
)

// EnvPrefix is the prefix of environment variables read by Load.
const EnvPrefix = "TABLESYNC_CLI_"

// DefaultConfigPath returns the default CLI config file path.
func DefaultConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".tablesync", "cli.yaml")
	}
	return filepath.Join(homeDir, ".tablesync", "cli.yaml")
}

// Load builds the configuration from defaults, the file at path, the
// environment and overrides, in that order. An empty path reads the
// default file if it exists; an explicit path must exist.
func Load(path string, overrides map[string]any) (*CLIConfig, error) {
	if path == "" {
		path = DefaultConfigPath()
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			path = ""
		}
	}

	cfg := Default()
	loader := confloader.NewLoader(
		confloader.WithEnvPrefix(EnvPrefix),
		confloader.WithConfigFile(path),
		confloader.WithOverrides(overrides),
	)
	if err := loader.Load(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Verify(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Verify checks the configuration for values no command can use.
func (c *CLIConfig) Verify() error {
	if _, err := ServerURL(c.Server); err != nil {
		return err
	}
	switch c.Output {
	case "table", "json", "yaml":
	default:
		return fmt.Errorf("output: must be table, json or yaml, got %q", c.Output)
	}
	if !slices.Contains(protocol.Subprotocols, c.Subprotocol) {
		return fmt.Errorf("subprotocol: unsupported %q", c.Subprotocol)
	}
	if c.TLS.CAFile != "" {
		if _, err := os.Stat(c.TLS.CAFile); err != nil {
			return fmt.Errorf("tls.ca_file: %w", err)
		}
	}
	if c.Sync.HostWindow < 0 || c.Sync.ParticipantWindow < 0 {
		return errors.New("sync: throttle windows must not be negative")
	}
	if c.Sync.Staleness < 0 || c.Sync.HandshakeTimeout < 0 {
		return errors.New("sync: timeouts must not be negative")
	}
	if c.Sync.MaxRetries < 0 {
		return errors.New("sync.max_retries: must not be negative")
	}
	return nil
}

// ServerURL parses server, defaulting to http when no scheme is given.
func ServerURL(server string) (*url.URL, error) {
	if server == "" {
		return nil, errors.New("server: required")
	}
	if !strings.Contains(server, "://") {
		server = "http://" + server
	}
	u, err := url.Parse(server)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server: scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("server: missing host in %q", server)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	return u, nil
}

// ToMap returns the configuration keyed the way the file is written.
func (c *CLIConfig) ToMap() map[string]any {
	return map[string]any{
		"server":       c.Server,
		"actor_id":     c.ActorID,
		"display_name": c.DisplayName,
		"output":       c.Output,
		"subprotocol":  c.Subprotocol,
		"tls": map[string]any{
			"ca_file":  c.TLS.CAFile,
			"insecure": c.TLS.Insecure,
		},
		"sync": map[string]any{
			"host_window":        c.Sync.HostWindow.String(),
			"participant_window": c.Sync.ParticipantWindow.String(),
			"staleness":          c.Sync.Staleness.String(),
			"handshake_timeout":  c.Sync.HandshakeTimeout.String(),
			"max_retries":        c.Sync.MaxRetries,
		},
	}
}

// Save writes cfg to path as YAML, readable by the owner only.
func Save(cfg *CLIConfig, path string) error {
	if path == "" {
		path = DefaultConfigPath()
	}

	data, err := yaml.Marshal(cfg.ToMap())
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
