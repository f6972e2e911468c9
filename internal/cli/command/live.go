package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/tablesync-go/internal/cli/output"
	"github.com/yndnr/tablesync-go/internal/client/syncer"
	"github.com/yndnr/tablesync-go/internal/client/throttle"
	"github.com/yndnr/tablesync-go/internal/core/domain"
)

const (
	// pollInterval is how often a live command checks the replica.
	pollInterval = 20 * time.Millisecond

	// leaveTimeout bounds the wait for the syncer to leave cleanly.
	leaveTimeout = 5 * time.Second
)

// errNotSynced is returned when the syncer stops before its first snapshot.
var errNotSynced = errors.New("connection ended before the room was synced")

func secretFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "secret",
		Usage: "Room access secret",
	}
}

// WatchCommand returns the watch command.
func WatchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Join a room and print its events until interrupted",
		ArgsUsage: "ROOM_ID",
		Flags: []cli.Flag{
			secretFlag(),
			&cli.DurationFlag{
				Name:  "for",
				Usage: "Stop after this long (0 watches until interrupted)",
			},
			&cli.BoolFlag{
				Name:  "presence",
				Usage: "Include cursor presence events",
			},
		},
		Action: watchAction,
	}
}

// EntityCommand returns the entity subcommand group. Each subcommand joins
// the room, submits one mutation, waits for the outcome and leaves.
func EntityCommand() *cli.Command {
	return &cli.Command{
		Name:    "entity",
		Aliases: []string{"ent"},
		Usage:   "Change entities in a room",
		Subcommands: []*cli.Command{
			{
				Name:      "move",
				Usage:     "Move an entity",
				ArgsUsage: "ROOM_ID ENTITY_ID X Y",
				Flags:     []cli.Flag{secretFlag()},
				Action:    entityMove,
			},
			{
				Name:      "set",
				Usage:     "Set or clear state keys",
				ArgsUsage: "ROOM_ID ENTITY_ID KEY=VALUE...",
				Flags: []cli.Flag{
					secretFlag(),
					&cli.StringSliceFlag{
						Name:  "unset",
						Usage: "State key to remove (repeatable)",
					},
					&cli.BoolFlag{
						Name:  "global",
						Usage: "Write room-wide state (host only)",
					},
				},
				Action: entitySet,
			},
			{
				Name:      "create",
				Usage:     "Create an entity",
				ArgsUsage: "ROOM_ID ENTITY_ID X Y [KEY=VALUE...]",
				Flags: []cli.Flag{
					secretFlag(),
					&cli.StringFlag{
						Name:  "kind",
						Value: domain.KindToken,
						Usage: "Entity kind",
					},
					&cli.StringFlag{
						Name:  "owner",
						Usage: "Owning actor",
					},
				},
				Action: entityCreate,
			},
			{
				Name:      "remove",
				Aliases:   []string{"rm"},
				Usage:     "Remove an entity",
				ArgsUsage: "ROOM_ID ENTITY_ID",
				Flags:     []cli.Flag{secretFlag()},
				Action:    entityRemove,
			},
		},
	}
}

// liveSession is a running syncer joined to one room. err is set before
// done closes.
type liveSession struct {
	s    *syncer.Syncer
	done chan struct{}
	err  error
}

// join starts a syncer for roomID and returns once it holds a snapshot.
func join(ctx context.Context, c *cli.Context, roomID string) (*liveSession, error) {
	actor, err := requireActor(c)
	if err != nil {
		return nil, err
	}
	client, err := EnsureClient(c)
	if err != nil {
		return nil, err
	}
	cfg := Settings(c)

	s := syncer.New(syncer.Config{
		RoomID:      roomID,
		ActorID:     actor,
		DisplayName: cfg.DisplayName,
		Secret:      c.String("secret"),
		Throttle: throttle.Config{
			HostWindow:        cfg.Sync.HostWindow,
			ParticipantWindow: cfg.Sync.ParticipantWindow,
		},
		Staleness:        cfg.Sync.Staleness,
		HandshakeTimeout: cfg.Sync.HandshakeTimeout,
		BackoffJitter:    syncer.DefaultConfig().BackoffJitter,
		MaxRetries:       cfg.Sync.MaxRetries,
	}, syncer.WebSocket(client.Dialer(cfg.Subprotocol)))

	l := &liveSession{s: s, done: make(chan struct{})}
	go func() {
		l.err = s.Run(ctx)
		close(l.done)
	}()

	var spin *output.Spinner
	if tableOutput(c) {
		spin = output.NewSpinner(errWriter(c), "Joining "+roomID)
		spin.Start()
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			spin.Fail("join failed")
			if l.err == nil {
				return nil, errNotSynced
			}
			return nil, l.err
		case <-ticker.C:
			if s.Status() == syncer.StateSynced {
				spin.Stop()
				return l, nil
			}
		}
	}
}

// leave leaves the room and waits for the syncer to stop.
func (l *liveSession) leave() error {
	if err := l.s.Leave(); err != nil {
		return err
	}
	select {
	case <-l.done:
		if errors.Is(l.err, context.Canceled) {
			return nil
		}
		return l.err
	case <-time.After(leaveTimeout):
		return errors.New("timed out leaving the room")
	}
}

func watchAction(c *cli.Context) error {
	roomID := c.Args().First()
	if roomID == "" {
		return cli.Exit("room ID is required", 2)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if d := c.Duration("for"); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	l, err := join(ctx, c, roomID)
	if err != nil {
		return err
	}

	if tableOutput(c) {
		fmt.Fprintf(c.App.Writer, "Joined %s as %s\n", roomID, l.s.Role())
		if err := render(c, entityList(l.s.Ledger().Entities())); err != nil {
			return err
		}
	}

	stream := &output.JSONFormatter{Compact: true}
	emit := func(n syncer.Notice) error {
		if n.Type == domain.EventPresence && !c.Bool("presence") {
			return nil
		}
		if tableOutput(c) {
			_, err := fmt.Fprintln(c.App.Writer, output.Describe(n.Event))
			return err
		}
		return stream.Format(c.App.Writer, n.Event)
	}

	for {
		select {
		case <-l.done:
			// Notices queued before the syncer stopped, room_closed among them.
			for drained := false; !drained; {
				select {
				case n := <-l.s.Events():
					if err := emit(n); err != nil {
						return err
					}
				default:
					drained = true
				}
			}
			if errors.Is(l.err, context.Canceled) || errors.Is(l.err, context.DeadlineExceeded) {
				return nil
			}
			return l.err

		case n := <-l.s.Events():
			if err := emit(n); err != nil {
				return err
			}
		}
	}
}

func entityMove(c *cli.Context) error {
	args := c.Args()
	if args.Len() != 4 {
		return cli.Exit("usage: entity move ROOM_ID ENTITY_ID X Y", 2)
	}
	x, y, err := parsePoint(args.Get(2) + "," + args.Get(3))
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	entityID := args.Get(1)
	return submitOne(c, args.Get(0), entityID, func(s *syncer.Syncer) error {
		return s.Move(entityID, x, y, true)
	})
}

func entitySet(c *cli.Context) error {
	args := c.Args()
	if args.Len() < 2 {
		return cli.Exit("usage: entity set ROOM_ID ENTITY_ID KEY=VALUE...", 2)
	}
	set, err := parseAssignments(args.Slice()[2:])
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	unset := c.StringSlice("unset")
	if len(set) == 0 && len(unset) == 0 {
		return cli.Exit("nothing to change: pass KEY=VALUE or --unset", 2)
	}

	entityID := args.Get(1)
	return submitOne(c, args.Get(0), entityID, func(s *syncer.Syncer) error {
		if c.Bool("global") {
			return s.UpdateGlobal(entityID, set, unset...)
		}
		return s.Update(entityID, set, unset...)
	})
}

func entityCreate(c *cli.Context) error {
	args := c.Args()
	if args.Len() < 4 {
		return cli.Exit("usage: entity create ROOM_ID ENTITY_ID X Y [KEY=VALUE...]", 2)
	}
	x, y, err := parsePoint(args.Get(2) + "," + args.Get(3))
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	state, err := parseAssignments(args.Slice()[4:])
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	entityID := args.Get(1)
	return submitOne(c, args.Get(0), entityID, func(s *syncer.Syncer) error {
		return s.Create(entityID, domain.CreatePayload{
			Kind:  c.String("kind"),
			Owner: c.String("owner"),
			X:     x,
			Y:     y,
			State: state,
		})
	})
}

func entityRemove(c *cli.Context) error {
	args := c.Args()
	if args.Len() != 2 {
		return cli.Exit("usage: entity remove ROOM_ID ENTITY_ID", 2)
	}
	entityID := args.Get(1)
	return submitOne(c, args.Get(0), entityID, func(s *syncer.Syncer) error {
		return s.Remove(entityID)
	})
}

// submitOne joins roomID, runs submit and waits until the server has
// confirmed a newer version of entityID or refused the change.
func submitOne(c *cli.Context, roomID, entityID string, submit func(*syncer.Syncer) error) error {
	cfg := Settings(c)
	ctx, cancel := context.WithTimeout(c.Context, cfg.Sync.HandshakeTimeout+cfg.Sync.Staleness)
	defer cancel()

	l, err := join(ctx, c, roomID)
	if err != nil {
		return err
	}
	defer l.leave()

	ledger := l.s.Ledger()
	before := ledger.Version(entityID)
	if err := submit(l.s); err != nil {
		return err
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", entityID, ctx.Err())

		case <-l.done:
			if l.err == nil {
				return errors.New("room closed before the change was confirmed")
			}
			return l.err

		case n := <-l.s.Events():
			if n.Event.EntityID != entityID {
				continue
			}
			switch n.Type {
			case domain.EventRejected, domain.EventError:
				return domain.NewDomainError(n.Event.Code, n.Event.Reason)
			}

		case <-ticker.C:
			if ledger.Version(entityID) > before && !hasPending(l.s, entityID) {
				e, ok := ledger.Entity(entityID)
				if !ok {
					if tableOutput(c) {
						fmt.Fprintf(c.App.Writer, "%s removed\n", entityID)
						return nil
					}
					return render(c, map[string]any{"id": entityID, "removed": true})
				}
				return render(c, entityList{e})
			}
		}
	}
}

func hasPending(s *syncer.Syncer, entityID string) bool {
	for _, pa := range s.Ledger().Pending() {
		if pa.Mutation.EntityID == entityID {
			return true
		}
	}
	return false
}

// parseAssignments parses KEY=VALUE pairs. Values that parse as JSON keep
// their type, so hp=7 is a number and name=orc a string.
func parseAssignments(args []string) (map[string]any, error) {
	if len(args) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(args))
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("%q: want KEY=VALUE", arg)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		out[key] = v
	}
	return out, nil
}

type entityList []*domain.Entity

func (l entityList) Table(wide bool) *output.Table {
	headers := []string{"ID", "KIND", "X", "Y", "VERSION"}
	if wide {
		headers = append(headers, "OWNER", "LAST_WRITER", "STATE")
	}
	t := output.NewTable(headers...)
	for _, e := range l {
		row := []string{
			e.ID,
			e.Kind,
			output.FormatCoord(e.Position.X),
			output.FormatCoord(e.Position.Y),
			strconv.FormatUint(e.Version, 10),
		}
		if wide {
			row = append(row, e.Owner, e.LastWriter, output.FormatState(e.State))
		}
		t.AddRow(row...)
	}
	return t
}
