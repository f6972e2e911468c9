package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/yndnr/tablesync-go/internal/protocol"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Server != DefaultServer {
		t.Errorf("Server = %q, want %q", cfg.Server, DefaultServer)
	}
	if cfg.Output != "table" {
		t.Errorf("Output = %q, want table", cfg.Output)
	}
	if cfg.Subprotocol != protocol.SubprotocolJSON {
		t.Errorf("Subprotocol = %q", cfg.Subprotocol)
	}
	if cfg.Sync.HostWindow != 50*time.Millisecond || cfg.Sync.ParticipantWindow != 100*time.Millisecond {
		t.Errorf("windows = %v/%v", cfg.Sync.HostWindow, cfg.Sync.ParticipantWindow)
	}
	if err := cfg.Verify(); err != nil {
		t.Errorf("Verify() error = %v", err)
	}
}

func TestDefaultConfigPath(t *testing.T) {
	path := DefaultConfigPath()
	if !strings.HasSuffix(path, filepath.Join(".tablesync", "cli.yaml")) {
		t.Errorf("DefaultConfigPath() = %q", path)
	}
}

func TestLoad_MissingDefaultFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server != DefaultServer {
		t.Errorf("Server = %q", cfg.Server)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil); err == nil {
		t.Fatal("Load() should fail for an explicit path that does not exist")
	}
}

func TestLoad_Sources(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.yaml")
	content := `
server: https://tables.example.com
actor_id: gm
output: json
sync:
  host_window: 20ms
  max_retries: 5
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TABLESYNC_CLI_ACTOR__ID", "alice")
	t.Setenv("TABLESYNC_CLI_SYNC_PARTICIPANT__WINDOW", "250ms")

	cfg, err := Load(path, map[string]any{"output": "yaml"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server != "https://tables.example.com" {
		t.Errorf("Server = %q", cfg.Server)
	}
	if cfg.ActorID != "alice" {
		t.Errorf("ActorID = %q, env should win over the file", cfg.ActorID)
	}
	if cfg.Output != "yaml" {
		t.Errorf("Output = %q, overrides should win", cfg.Output)
	}
	if cfg.Sync.HostWindow != 20*time.Millisecond {
		t.Errorf("HostWindow = %v", cfg.Sync.HostWindow)
	}
	if cfg.Sync.ParticipantWindow != 250*time.Millisecond {
		t.Errorf("ParticipantWindow = %v", cfg.Sync.ParticipantWindow)
	}
	if cfg.Sync.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d", cfg.Sync.MaxRetries)
	}
	if cfg.Sync.Staleness != Default().Sync.Staleness {
		t.Errorf("Staleness = %v, unset keys should keep defaults", cfg.Sync.Staleness)
	}
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	if _, err := Load("", map[string]any{"output": "xml"}); err == nil {
		t.Fatal("Load() should reject an unknown output format")
	}
}

func TestVerify(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CLIConfig)
	}{
		{"empty server", func(c *CLIConfig) { c.Server = "" }},
		{"ftp server", func(c *CLIConfig) { c.Server = "ftp://host" }},
		{"bad output", func(c *CLIConfig) { c.Output = "csv" }},
		{"bad subprotocol", func(c *CLIConfig) { c.Subprotocol = "tablesync.xml.v1" }},
		{"missing ca file", func(c *CLIConfig) { c.TLS.CAFile = "/nonexistent/ca.pem" }},
		{"negative window", func(c *CLIConfig) { c.Sync.HostWindow = -time.Millisecond }},
		{"negative staleness", func(c *CLIConfig) { c.Sync.Staleness = -time.Second }},
		{"negative retries", func(c *CLIConfig) { c.Sync.MaxRetries = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Verify(); err == nil {
				t.Error("Verify() should fail")
			}
		})
	}
}

func TestServerURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"localhost:7480", "http://localhost:7480", false},
		{"https://tables.example.com/", "https://tables.example.com", false},
		{"http://10.0.0.1:80/api/", "http://10.0.0.1:80/api", false},
		{"", "", true},
		{"ws://localhost", "", true},
		{"http://", "", true},
	}

	for _, tt := range tests {
		u, err := ServerURL(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ServerURL(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err == nil && u.String() != tt.want {
			t.Errorf("ServerURL(%q) = %q, want %q", tt.in, u.String(), tt.want)
		}
	}
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cli.yaml")

	cfg := Default()
	cfg.ActorID = "gm"
	cfg.Sync.HostWindow = 40 * time.Millisecond
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("file mode = %o, want 600", perm)
	}

	loaded, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.ActorID != "gm" || loaded.Sync.HostWindow != 40*time.Millisecond {
		t.Errorf("loaded = %+v", loaded)
	}
}
