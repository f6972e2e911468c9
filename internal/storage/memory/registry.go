package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/yndnr/tablesync-go/internal/core/domain"
	"github.com/yndnr/tablesync-go/internal/core/service"
	"github.com/yndnr/tablesync-go/pkg/cmap"
)

// DefaultMaxRoomsPerHost is the default number of rooms one actor may host.
const DefaultMaxRoomsPerHost = 8

// Registry is an in-memory service.SessionRegistry.
type Registry struct {
	// Primary index: RoomID -> Room
	rooms *cmap.Map[*domain.Room]

	// Secondary index: HostID -> set of RoomIDs
	hosts *HostIndex

	maxRoomsPerHost int

	// Serializes Add and Remove so both indexes change together.
	mu sync.Mutex
}

var _ service.SessionRegistry = (*Registry)(nil)

// Option configures the Registry.
type Option func(*Registry)

// WithMaxRoomsPerHost sets the hosting quota. Zero or less disables it.
func WithMaxRoomsPerHost(n int) Option {
	return func(r *Registry) {
		r.maxRoomsPerHost = n
	}
}

// WithShards sets the number of map shards (a power of two).
func WithShards(n int) Option {
	return func(r *Registry) {
		r.rooms = cmap.NewWithShards[*domain.Room](n)
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		rooms:           cmap.New[*domain.Room](),
		hosts:           NewHostIndex(),
		maxRoomsPerHost: DefaultMaxRoomsPerHost,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Add registers a new room.
func (r *Registry) Add(_ context.Context, room *domain.Room) error {
	if room == nil || room.ID == "" {
		return domain.ErrInvalidArgument.WithDetails("room id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxRoomsPerHost > 0 && r.hosts.Count(room.HostID) >= r.maxRoomsPerHost {
		return domain.ErrRoomQuotaExceeded.WithDetails(
			fmt.Sprintf("host has %d rooms (max %d)", r.hosts.Count(room.HostID), r.maxRoomsPerHost))
	}
	if !r.rooms.SetIfAbsent(room.ID, room) {
		return domain.ErrRoomConflict.WithDetails(room.ID)
	}
	r.hosts.Add(room.HostID, room.ID)
	return nil
}

// Get returns a registered room.
func (r *Registry) Get(_ context.Context, id string) (*domain.Room, error) {
	room, ok := r.rooms.Get(id)
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	return room, nil
}

// Remove unregisters a room and returns it.
func (r *Registry) Remove(_ context.Context, id string) (*domain.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms.Pop(id)
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	r.hosts.Remove(room.HostID, room.ID)
	return room, nil
}

// List returns one page of rooms matching filter, newest first.
func (r *Registry) List(_ context.Context, filter *service.RoomFilter) ([]*domain.Room, int, error) {
	if filter == nil {
		filter = &service.RoomFilter{}
	}
	filter.Normalize()

	var matched []*domain.Room
	if filter.HostID != "" {
		for _, id := range r.hosts.Get(filter.HostID) {
			if room, ok := r.rooms.Get(id); ok {
				matched = append(matched, room)
			}
		}
	} else {
		matched = r.rooms.Values()
	}

	// ID and CreatedAt never change after creation, so no room lock is needed.
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	total := len(matched)
	start := (filter.Page - 1) * filter.PageSize
	if start >= total {
		return []*domain.Room{}, total, nil
	}
	end := start + filter.PageSize
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

// Range calls fn for every room until fn returns false.
func (r *Registry) Range(fn func(room *domain.Room) bool) {
	r.rooms.Range(func(_ string, room *domain.Room) bool {
		return fn(room)
	})
}

// Count returns the number of registered rooms.
func (r *Registry) Count() int {
	return r.rooms.Count()
}

// CountByHost returns the number of rooms hosted by hostID.
func (r *Registry) CountByHost(hostID string) int {
	return r.hosts.Count(hostID)
}
