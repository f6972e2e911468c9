package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/tablesync-go/internal/infra/buildinfo"
	"github.com/yndnr/tablesync-go/internal/infra/confloader"
	"github.com/yndnr/tablesync-go/internal/infra/shutdown"
	"github.com/yndnr/tablesync-go/internal/server/config"
	"github.com/yndnr/tablesync-go/internal/telemetry/logger"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "tablesync-server",
		Usage:   "real-time sync server for shared tabletops",
		Version: buildinfo.String(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML configuration file",
				EnvVars: []string{"TABLESYNC_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "addr",
				Usage: "HTTP listen address (overrides server.http.addr)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level: debug, info, warn, error (overrides log.level)",
			},
			&cli.BoolFlag{
				Name:  "check",
				Usage: "validate the configuration, print it and exit",
			},
		},
		Action: run,
	}
}

func run(c *cli.Context) error {
	loaderOpts := loaderOptions(c)

	cfg, err := loadConfig(loaderOpts...)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if c.Bool("check") {
		return printConfig(c, cfg)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger.SetDefault(log)

	log.Info("starting tablesync-server",
		"version", buildinfo.Get().Version,
		"commit", buildinfo.Get().Commit,
		"config", c.String("config"))
	log.Debug("effective configuration", "config", config.Sanitize(cfg))

	ctx, cancel := context.WithCancelCause(c.Context)
	defer cancel(nil)

	srv, err := newServer(ctx, cfg, log)
	if err != nil {
		return err
	}

	shutdownHandler := shutdown.NewHandler(shutdownTimeout, shutdown.WithLogger(log))
	srv.registerShutdown(shutdownHandler)

	if path := c.String("config"); path != "" {
		if err := watchConfig(shutdownHandler, path, log, func() {
			next, err := loadConfig(loaderOpts...)
			if err != nil {
				log.Error("configuration reload rejected", "error", err)
				return
			}
			srv.reload(next)
		}); err != nil {
			return err
		}
	}

	go func() {
		if err := srv.listenAndServe(); err != nil {
			cancel(fmt.Errorf("http server: %w", err))
		}
	}()

	log.Info("server started", "addr", cfg.Server.HTTP.Addr, "tls", cfg.Server.HTTP.TLSCertFile != "")
	err = shutdownHandler.Wait(ctx)

	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	if err != nil {
		return err
	}
	log.Info("server stopped gracefully")
	return nil
}

func loaderOptions(c *cli.Context) []confloader.Option {
	var opts []confloader.Option
	if path := c.String("config"); path != "" {
		opts = append(opts, confloader.WithConfigFile(path))
	}

	overrides := map[string]any{}
	if addr := c.String("addr"); addr != "" {
		overrides["server.http.addr"] = addr
	}
	if level := c.String("log-level"); level != "" {
		overrides["log.level"] = level
	}
	if len(overrides) > 0 {
		opts = append(opts, confloader.WithOverrides(overrides))
	}
	return opts
}

// loadConfig layers file, environment and flags over the defaults and
// validates the result.
func loadConfig(opts ...confloader.Option) (*config.ServerConfig, error) {
	cfg := config.Default()
	if err := confloader.NewLoader(opts...).Load(cfg); err != nil {
		return nil, err
	}
	if err := config.Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func watchConfig(h *shutdown.Handler, path string, log logger.Logger, onChange func()) error {
	w, err := confloader.NewWatcher(
		confloader.WithWatcherLogger(log),
		confloader.WithDebounce(confloader.DefaultDebounce),
	)
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	if err := w.Watch(path); err != nil {
		w.Stop()
		return fmt.Errorf("config watcher: %w", err)
	}
	w.OnChange(func(string) { onChange() })
	w.StartAsync()

	h.OnShutdown("config-watcher", func(context.Context) error {
		return w.Stop()
	})
	return nil
}

func printConfig(c *cli.Context, cfg *config.ServerConfig) error {
	s := config.Sanitize(cfg)
	out := c.App.Writer
	fmt.Fprintf(out, "server.http.addr: %s\n", s.Server.HTTP.Addr)
	fmt.Fprintf(out, "server.http.tls: %t\n", s.Server.HTTP.TLSCertFile != "")
	fmt.Fprintf(out, "session.max_members: %d\n", s.Session.MaxMembers)
	fmt.Fprintf(out, "session.heartbeat: %s / %s\n", s.Session.HeartbeatInterval, s.Session.HeartbeatTimeout)
	fmt.Fprintf(out, "sync.lanes: %d\n", s.Sync.Lanes)
	fmt.Fprintf(out, "sync.rates: host %.0f/s, participant %.0f/s, burst %d\n",
		s.Sync.HostRate, s.Sync.ParticipantRate, s.Sync.Burst)
	fmt.Fprintf(out, "presence.fade_timeout: %s\n", s.Presence.FadeTimeout)
	fmt.Fprintf(out, "presence.rate: %.0f/s, burst %d\n", s.Presence.Rate, s.Presence.Burst)
	fmt.Fprintf(out, "presence.redis: %t %s\n", s.Presence.Redis.Enabled, s.Presence.Redis.Addr)
	fmt.Fprintf(out, "log: %s/%s\n", s.Log.Level, s.Log.Format)
	fmt.Fprintln(out, "configuration OK")
	return nil
}
