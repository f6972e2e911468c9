package command

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/tablesync-go/internal/cli/config"
	"github.com/yndnr/tablesync-go/internal/infra/confloader"
	serverconfig "github.com/yndnr/tablesync-go/internal/server/config"
)

// ConfigCommand returns the config subcommand group.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Configuration management",
		Subcommands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "Show the effective CLI configuration",
				Action: configShow,
			},
			{
				Name:   "path",
				Usage:  "Print the CLI configuration file path",
				Action: configPath,
			},
			{
				Name:  "init",
				Usage: "Write the effective CLI configuration to the config file",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "force",
						Aliases: []string{"f"},
						Usage:   "Overwrite an existing file",
					},
				},
				Action: configInit,
			},
			{
				Name:      "check-server",
				Usage:     "Validate a server configuration file the way the server loads it",
				ArgsUsage: "FILE",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "show",
						Usage: "Print the merged configuration with secrets masked",
					},
				},
				Action: configCheckServer,
			},
		},
	}
}

func cliConfigPath(c *cli.Context) string {
	if path := c.String("config"); path != "" {
		return path
	}
	return config.DefaultConfigPath()
}

func configShow(c *cli.Context) error {
	return render(c, Settings(c).ToMap())
}

func configPath(c *cli.Context) error {
	path := cliConfigPath(c)
	status := "exists"
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		status = "not found"
	}
	fmt.Fprintf(c.App.Writer, "%s (%s)\n", path, status)
	return nil
}

func configInit(c *cli.Context) error {
	path := cliConfigPath(c)
	if _, err := os.Stat(path); err == nil && !c.Bool("force") {
		return cli.Exit(fmt.Sprintf("%s already exists (use --force to overwrite)", path), 1)
	}
	if err := config.Save(Settings(c), path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "✓ Wrote %s\n", path)
	return nil
}

// configCheckServer merges defaults, FILE and TABLESYNC_* variables exactly
// as tablesync-server does, then verifies the result.
func configCheckServer(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return cli.Exit("configuration file path required", 2)
	}

	cfg := serverconfig.Default()
	loader := confloader.NewLoader(confloader.WithConfigFile(path))
	if err := loader.Load(cfg); err != nil {
		return err
	}
	if err := serverconfig.Verify(cfg); err != nil {
		fmt.Fprintf(c.App.Writer, "✗ %s is invalid\n", path)
		return err
	}

	if c.Bool("show") {
		return render(c, serverconfig.Sanitize(cfg))
	}
	fmt.Fprintf(c.App.Writer, "✓ %s is valid\n", path)
	return nil
}
