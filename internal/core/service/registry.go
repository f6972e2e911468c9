package service

import (
	"context"

	"github.com/yndnr/tablesync-go/internal/core/domain"
)

// SessionRegistry stores live rooms.
//
// Rooms are returned by reference: the registry owns the lookup, the room's
// own lock guards its contents.
type SessionRegistry interface {
	// Add registers a new room. It fails with ErrRoomConflict on a duplicate ID.
	Add(ctx context.Context, room *domain.Room) error

	// Get returns the room or ErrRoomNotFound.
	Get(ctx context.Context, id string) (*domain.Room, error)

	// Remove unregisters the room and returns it, or ErrRoomNotFound.
	Remove(ctx context.Context, id string) (*domain.Room, error)

	// List returns rooms matching filter, newest first, plus the total match count.
	List(ctx context.Context, filter *RoomFilter) ([]*domain.Room, int, error)

	// Range calls fn for every room until fn returns false.
	Range(fn func(room *domain.Room) bool)

	// Count returns the number of registered rooms.
	Count() int
}

// RoomFilter narrows a room listing.
type RoomFilter struct {
	HostID   string
	Page     int // 1-indexed
	PageSize int // default 20, max 100
}

// Paging defaults for RoomFilter.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Normalize fills in paging defaults and clamps the page size.
func (f *RoomFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}
}
