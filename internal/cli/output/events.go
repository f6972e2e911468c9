package output

import (
	"fmt"
	"slices"
	"strings"

	"github.com/yndnr/tablesync-go/internal/core/domain"
)

// Describe renders ev as one human-readable line.
func Describe(ev domain.Event) string {
	return fmt.Sprintf("%-18s %s", ev.Type, describeDetail(ev))
}

func describeDetail(ev domain.Event) string {
	switch ev.Type {
	case domain.EventConfirmation, domain.EventRemoteApply:
		if ev.Removed {
			return fmt.Sprintf("%s removed (v%d)", ev.EntityID, ev.Version)
		}
		return fmt.Sprintf("%s v%d %s", ev.EntityID, ev.Version, DescribeEntity(ev.Entity))

	case domain.EventRejected:
		return fmt.Sprintf("%s [%s] %s", ev.EntityID, ev.Kind, ev.Reason)

	case domain.EventSnapshot, domain.EventJoined:
		if ev.Snapshot == nil {
			return string(ev.Role)
		}
		return fmt.Sprintf("room v%d, %d members, %d entities",
			ev.Snapshot.RoomVersion, len(ev.Snapshot.Members), len(ev.Snapshot.Entities))

	case domain.EventPresence:
		if ev.Presence == nil {
			return ""
		}
		return fmt.Sprintf("%s at (%s, %s)", ev.Presence.ActorID,
			FormatCoord(ev.Presence.X), FormatCoord(ev.Presence.Y))

	case domain.EventMemberJoined, domain.EventMemberLeft:
		if ev.Member == nil {
			return ""
		}
		return fmt.Sprintf("%s (%s)", ev.Member.ActorID, ev.Member.Role)

	case domain.EventRoomClosed, domain.EventHostDisconnected, domain.EventHostReconnected:
		return ev.Reason

	case domain.EventError:
		return fmt.Sprintf("[%s] %s", ev.Code, ev.Reason)
	}
	return ev.Reason
}

// DescribeEntity renders an entity's kind, position and state.
func DescribeEntity(e *domain.Entity) string {
	if e == nil {
		return "-"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s at (%s, %s)", e.Kind, FormatCoord(e.Position.X), FormatCoord(e.Position.Y))
	if e.LastWriter != "" {
		fmt.Fprintf(&b, " by %s", e.LastWriter)
	}
	if len(e.State) > 0 {
		fmt.Fprintf(&b, " %s", FormatState(e.State))
	}
	return b.String()
}

// FormatState renders a state bag as sorted key=value pairs.
func FormatState(state map[string]any) string {
	if len(state) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(state))
	for k := range state {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, state[k])
	}
	return strings.Join(parts, ",")
}
