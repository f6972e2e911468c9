package memory

import (
	"sync"

	"github.com/yndnr/tablesync-go/pkg/cmap"
)

// RoomSet is a concurrent-safe set of room IDs.
type RoomSet struct {
	mu    sync.RWMutex
	items map[string]struct{}
}

// NewRoomSet creates an empty set.
func NewRoomSet() *RoomSet {
	return &RoomSet{items: make(map[string]struct{})}
}

// Add adds a room ID to the set.
func (s *RoomSet) Add(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[id] = struct{}{}
}

// Remove removes a room ID from the set.
func (s *RoomSet) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
}

// Contains checks if a room ID is in the set.
func (s *RoomSet) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.items[id]
	return ok
}

// Len returns the number of items in the set.
func (s *RoomSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Items returns a copy of all room IDs.
func (s *RoomSet) Items() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]string, 0, len(s.items))
	for id := range s.items {
		items = append(items, id)
	}
	return items
}

// HostIndex maps a host actor ID to the rooms it hosts.
type HostIndex struct {
	index *cmap.Map[*RoomSet]
}

// NewHostIndex creates an empty index.
func NewHostIndex() *HostIndex {
	return &HostIndex{index: cmap.New[*RoomSet]()}
}

// Add records that hostID hosts roomID.
func (i *HostIndex) Add(hostID, roomID string) {
	set, ok := i.index.Get(hostID)
	if !ok {
		fresh := NewRoomSet()
		if i.index.SetIfAbsent(hostID, fresh) {
			set = fresh
		} else {
			set, _ = i.index.Get(hostID)
		}
	}
	set.Add(roomID)
}

// Remove forgets roomID for hostID, dropping the host once it has no rooms.
func (i *HostIndex) Remove(hostID, roomID string) {
	set, ok := i.index.Get(hostID)
	if !ok {
		return
	}
	set.Remove(roomID)
	if set.Len() == 0 {
		i.index.Delete(hostID)
	}
}

// Get returns the room IDs hosted by hostID.
func (i *HostIndex) Get(hostID string) []string {
	set, ok := i.index.Get(hostID)
	if !ok {
		return nil
	}
	return set.Items()
}

// Count returns the number of rooms hosted by hostID.
func (i *HostIndex) Count(hostID string) int {
	set, ok := i.index.Get(hostID)
	if !ok {
		return 0
	}
	return set.Len()
}
