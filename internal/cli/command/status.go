package command

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"
)

// probeTimeout bounds a health or readiness probe.
const probeTimeout = 10 * time.Second

// StatusCommand returns the status command.
func StatusCommand() *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "Check server health and readiness",
		Action: statusAction,
	}
}

type serverStatus struct {
	Server  string `json:"server"`
	Healthy bool   `json:"healthy"`
	Ready   bool   `json:"ready"`
	Version string `json:"version,omitempty"`
	Rooms   int    `json:"rooms"`
	Reason  string `json:"reason,omitempty"`
}

func statusAction(c *cli.Context) error {
	client, err := EnsureClient(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Context, probeTimeout)
	defer cancel()

	st := serverStatus{Server: client.BaseURL()}

	health, err := client.Health(ctx)
	if err != nil {
		st.Reason = err.Error()
	} else {
		st.Healthy = health["status"] == "healthy"
		st.Version, _ = health["version"].(string)

		ready, err := client.Ready(ctx)
		if err != nil {
			st.Reason = err.Error()
		} else {
			st.Ready = true
			if rooms, ok := ready["rooms"].(float64); ok {
				st.Rooms = int(rooms)
			}
		}
	}

	if !tableOutput(c) {
		if err := render(c, st); err != nil {
			return err
		}
	} else {
		switch {
		case st.Ready:
			fmt.Fprintf(c.App.Writer, "✓ %s is ready (version %s, %d rooms)\n", st.Server, st.Version, st.Rooms)
		case st.Healthy:
			fmt.Fprintf(c.App.Writer, "✗ %s is up but not ready: %s\n", st.Server, st.Reason)
		default:
			fmt.Fprintf(c.App.Writer, "✗ %s is unreachable: %s\n", st.Server, st.Reason)
		}
	}

	if !st.Ready {
		return cli.Exit("", 1)
	}
	return nil
}
