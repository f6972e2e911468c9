package command

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/tablesync-go/internal/cli/config"
	"github.com/yndnr/tablesync-go/internal/cli/connection"
	"github.com/yndnr/tablesync-go/internal/cli/output"
	"github.com/yndnr/tablesync-go/internal/infra/buildinfo"
	"github.com/yndnr/tablesync-go/internal/infra/tlsroots"
	"github.com/yndnr/tablesync-go/internal/telemetry/logger"
)

const metadataConfig = "config"

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:    "tablesync-cli",
		Usage:   "Manage TableSync rooms and follow them live",
		Version: buildinfo.String(),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			RoomsCommand(),
			WatchCommand(),
			EntityCommand(),
			StatusCommand(),
			ConfigCommand(),
		},
		Before:   before,
		Metadata: map[string]any{},
	}
}

// globalFlags returns the global CLI flags. Each one overrides the key of
// the same meaning in the config file and TABLESYNC_CLI_* variables.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "CLI config file (default ~/.tablesync/cli.yaml)",
		},
		&cli.StringFlag{
			Name:    "server",
			Aliases: []string{"s"},
			Usage:   "TableSync server URL (e.g., http://localhost:7480)",
		},
		&cli.StringFlag{
			Name:    "actor",
			Aliases: []string{"a"},
			Usage:   "Actor ID to act as",
		},
		&cli.StringFlag{
			Name:  "name",
			Usage: "Display name shown to other members",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: table, json, yaml",
		},
		&cli.BoolFlag{
			Name:    "wide",
			Aliases: []string{"w"},
			Usage:   "Show wide output (more columns)",
		},
		&cli.StringFlag{
			Name:  "subprotocol",
			Usage: "WebSocket encoding (tablesync.json.v1 or tablesync.cbor.v1)",
		},
		&cli.StringFlag{
			Name:  "ca-file",
			Usage: "PEM bundle trusted in addition to the system roots",
		},
		&cli.BoolFlag{
			Name:  "insecure",
			Usage: "Skip server certificate verification",
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"V"},
			Usage:   "Log connection activity to stderr",
		},
	}
}

// flagKeys maps global flags to config keys.
var flagKeys = map[string]string{
	"server":      "server",
	"actor":       "actor_id",
	"name":        "display_name",
	"output":      "output",
	"subprotocol": "subprotocol",
	"ca-file":     "tls.ca_file",
	"insecure":    "tls.insecure",
}

// before loads the configuration and sets up logging for every command.
func before(c *cli.Context) error {
	overrides := make(map[string]any)
	for flag, key := range flagKeys {
		if !c.IsSet(flag) {
			continue
		}
		if flag == "insecure" {
			overrides[key] = c.Bool(flag)
		} else {
			overrides[key] = c.String(flag)
		}
	}

	cfg, err := config.Load(c.String("config"), overrides)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	c.App.Metadata[metadataConfig] = cfg

	level := "warn"
	if c.Bool("verbose") {
		level = "debug"
	}
	log, err := logger.New(logger.Config{Level: level, Format: "text", Output: errWriter(c)})
	if err != nil {
		return err
	}
	logger.SetDefault(log)
	return nil
}

// Settings returns the configuration loaded for this invocation.
func Settings(c *cli.Context) *config.CLIConfig {
	if cfg, ok := c.App.Metadata[metadataConfig].(*config.CLIConfig); ok {
		return cfg
	}
	return config.Default()
}

// EnsureClient returns an HTTP client for the configured server.
func EnsureClient(c *cli.Context) (*connection.Client, error) {
	cfg := Settings(c)

	tlsCfg := cfg.TLS
	if tlsCfg.CAFile == "" && !tlsCfg.Insecure {
		return connection.NewClient(cfg.Server, cfg.ActorID, nil)
	}
	clientTLS, err := tlsroots.ClientConfig(tlsCfg.CAFile, tlsCfg.Insecure)
	if err != nil {
		return nil, err
	}
	return connection.NewClient(cfg.Server, cfg.ActorID, clientTLS)
}

// requireActor returns the configured actor or a usage error.
func requireActor(c *cli.Context) (string, error) {
	actor := Settings(c).ActorID
	if actor == "" {
		return "", cli.Exit("an actor is required: pass --actor or set actor_id in the config", 2)
	}
	return actor, nil
}

// render writes data in the configured output format.
func render(c *cli.Context, data any) error {
	format, err := output.ParseFormat(Settings(c).Output)
	if err != nil {
		return err
	}
	return output.NewFormatter(format, c.Bool("wide")).Format(c.App.Writer, data)
}

// tableOutput reports whether the output is for people rather than tools.
func tableOutput(c *cli.Context) bool {
	return Settings(c).Output == string(output.FormatTable)
}

func errWriter(c *cli.Context) io.Writer {
	if c.App.ErrWriter != nil {
		return c.App.ErrWriter
	}
	return os.Stderr
}

// PrintError prints an error message to stderr.
func PrintError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
}
