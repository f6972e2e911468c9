// Package cmap provides a concurrent map keyed by string.
//
// Keys are spread over a power-of-two number of shards using murmur3, each
// shard guarded by its own RWMutex. The same hash is exposed as Slot so that
// other components (e.g., work lanes) can partition by key consistently.
//
// Usage:
//
//	m := cmap.New[*domain.Room]()
//	m.SetIfAbsent(room.ID, room)
//	room, ok := m.Get(id)
//
// All operations are safe for concurrent use. Range visits shards one at a
// time, so it observes a consistent view per shard only.
package cmap
