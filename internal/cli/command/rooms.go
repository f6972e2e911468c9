package command

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/tablesync-go/internal/cli/connection"
	"github.com/yndnr/tablesync-go/internal/cli/output"
	"github.com/yndnr/tablesync-go/internal/core/domain"
	"github.com/yndnr/tablesync-go/internal/server/httpserver/handler"
)

// requestTimeout bounds one room API call.
const requestTimeout = 30 * time.Second

// RoomsCommand returns the rooms subcommand group.
func RoomsCommand() *cli.Command {
	return &cli.Command{
		Name:    "rooms",
		Aliases: []string{"room"},
		Usage:   "Manage rooms",
		Subcommands: []*cli.Command{
			{
				Name:      "create",
				Usage:     "Create a room hosted by the current actor",
				ArgsUsage: "NAME",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "secret",
						Usage: "Access secret members must present to join",
					},
					&cli.IntFlag{
						Name:  "max-members",
						Usage: "Member cap (0 uses the server default)",
					},
					&cli.StringSliceFlag{
						Name:    "entity",
						Aliases: []string{"e"},
						Usage:   "Initial entity as ID=KIND@X,Y (repeatable)",
					},
				},
				Action: roomsCreate,
			},
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List open rooms",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "host",
						Usage: "Only rooms hosted by this actor",
					},
					&cli.IntFlag{
						Name:  "page",
						Value: 1,
						Usage: "Page number",
					},
					&cli.IntFlag{
						Name:  "page-size",
						Value: 20,
						Usage: "Page size",
					},
				},
				Action: roomsList,
			},
			{
				Name:      "show",
				Aliases:   []string{"get"},
				Usage:     "Show a room and its members",
				ArgsUsage: "ROOM_ID",
				Action:    roomsShow,
			},
			{
				Name:      "close",
				Usage:     "Close a room you host",
				ArgsUsage: "ROOM_ID",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "force",
						Aliases: []string{"f"},
						Usage:   "Skip confirmation",
					},
				},
				Action: roomsClose,
			},
		},
	}
}

func roomsCreate(c *cli.Context) error {
	name := strings.TrimSpace(c.Args().First())
	if name == "" {
		return cli.Exit("room name is required", 2)
	}
	actor, err := requireActor(c)
	if err != nil {
		return err
	}

	entities := make([]*domain.Entity, 0, len(c.StringSlice("entity")))
	for _, spec := range c.StringSlice("entity") {
		e, err := parseEntitySpec(spec)
		if err != nil {
			return cli.Exit(err.Error(), 2)
		}
		entities = append(entities, e)
	}

	client, err := EnsureClient(c)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Context, requestTimeout)
	defer cancel()

	resp, err := client.CreateRoom(ctx, &handler.CreateRoomRequest{
		Name:       name,
		HostID:     actor,
		HostName:   Settings(c).DisplayName,
		Secret:     c.String("secret"),
		MaxMembers: c.Int("max-members"),
		Entities:   entities,
	})
	if err != nil {
		return err
	}
	return render(c, (*createdRoom)(resp))
}

func roomsList(c *cli.Context) error {
	client, err := EnsureClient(c)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Context, requestTimeout)
	defer cancel()

	resp, err := client.ListRooms(ctx, connection.ListOptions{
		HostID:   c.String("host"),
		Page:     c.Int("page"),
		PageSize: c.Int("page-size"),
	})
	if err != nil {
		return err
	}
	return render(c, (*roomList)(resp))
}

func roomsShow(c *cli.Context) error {
	roomID := c.Args().First()
	if roomID == "" {
		return cli.Exit("room ID is required", 2)
	}
	client, err := EnsureClient(c)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Context, requestTimeout)
	defer cancel()

	resp, err := client.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	return render(c, (*roomDetail)(resp))
}

func roomsClose(c *cli.Context) error {
	roomID := c.Args().First()
	if roomID == "" {
		return cli.Exit("room ID is required", 2)
	}
	if _, err := requireActor(c); err != nil {
		return err
	}
	if !c.Bool("force") && !confirm(c, fmt.Sprintf("Close room %s and disconnect every member?", roomID)) {
		fmt.Fprintln(c.App.Writer, "Aborted")
		return nil
	}

	client, err := EnsureClient(c)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Context, requestTimeout)
	defer cancel()

	resp, err := client.CloseRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if tableOutput(c) {
		fmt.Fprintf(c.App.Writer, "Room %s closed\n", resp.RoomID)
		return nil
	}
	return render(c, resp)
}

// confirm asks a yes/no question on the app's reader.
func confirm(c *cli.Context, question string) bool {
	fmt.Fprintf(c.App.Writer, "%s [y/N] ", question)
	line, err := bufio.NewReader(c.App.Reader).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

// parseEntitySpec parses ID=KIND@X,Y, e.g. t1=token@3,4.
func parseEntitySpec(spec string) (*domain.Entity, error) {
	id, rest, ok := strings.Cut(spec, "=")
	if !ok || id == "" {
		return nil, fmt.Errorf("entity %q: want ID=KIND@X,Y", spec)
	}
	kind, pos, ok := strings.Cut(rest, "@")
	if !ok || kind == "" {
		return nil, fmt.Errorf("entity %q: want ID=KIND@X,Y", spec)
	}
	x, y, err := parsePoint(pos)
	if err != nil {
		return nil, fmt.Errorf("entity %q: %w", spec, err)
	}
	return &domain.Entity{ID: id, Kind: kind, Position: domain.Position{X: x, Y: y}}, nil
}

func parsePoint(s string) (float64, float64, error) {
	xs, ys, ok := strings.Cut(s, ",")
	if !ok {
		return 0, 0, fmt.Errorf("position %q: want X,Y", s)
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(xs), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("position %q: %w", s, err)
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(ys), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("position %q: %w", s, err)
	}
	return x, y, nil
}

type createdRoom handler.CreateRoomResponse

func (r *createdRoom) Table(bool) *output.Table {
	t := output.NewTable("ROOM_ID", "ENTITIES", "VERSION")
	entities, version := 0, uint64(0)
	if r.Snapshot != nil {
		entities, version = len(r.Snapshot.Entities), r.Snapshot.RoomVersion
	}
	t.AddRow(r.RoomID, strconv.Itoa(entities), strconv.FormatUint(version, 10))
	return t
}

type roomList handler.ListRoomsResponse

func (l *roomList) Table(wide bool) *output.Table {
	headers := []string{"ID", "NAME", "HOST", "MEMBERS", "ENTITIES", "STATE"}
	if wide {
		headers = append(headers, "VERSION", "SECRET", "CREATED")
	}
	t := output.NewTable(headers...)
	for _, r := range l.Items {
		row := []string{
			r.ID,
			r.Name,
			r.HostID,
			fmt.Sprintf("%d/%d", r.MemberCount, r.MaxMembers),
			strconv.Itoa(r.EntityCount),
			string(r.State),
		}
		if wide {
			row = append(row, strconv.FormatUint(r.Version, 10), yesNo(r.HasSecret), output.FormatTime(r.CreatedAt))
		}
		t.AddRow(row...)
	}
	return t
}

type roomDetail handler.RoomResponse

func (r *roomDetail) Table(bool) *output.Table {
	t := output.NewTable("FIELD", "VALUE")
	t.AddRow("id", r.ID)
	t.AddRow("name", r.Name)
	t.AddRow("host", r.HostID)
	t.AddRow("state", string(r.State))
	t.AddRow("members", fmt.Sprintf("%d/%d", r.MemberCount, r.MaxMembers))
	t.AddRow("entities", strconv.Itoa(r.EntityCount))
	t.AddRow("version", strconv.FormatUint(r.Version, 10))
	t.AddRow("secret", yesNo(r.HasSecret))
	t.AddRow("created", output.FormatTime(r.CreatedAt))
	for _, m := range r.Members {
		t.AddRow("member", fmt.Sprintf("%s %q (%s, %s)", m.ActorID, m.DisplayName, m.Role, m.State))
	}
	return t
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
