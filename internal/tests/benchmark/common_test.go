package benchmark

import (
	"context"
	"fmt"
	"runtime"
	"testing"
	"time"

	"github.com/yndnr/tablesync-go/internal/core/domain"
	"github.com/yndnr/tablesync-go/internal/storage/memory"
)

// RoomCounts defines the registry sizes for benchmarking.
var RoomCounts = []int{1000, 5000, 10000, 50000, 100000}

// SmallRoomCounts for quick benchmarks.
var SmallRoomCounts = []int{100, 1000, 5000}

// EntityCounts defines room sizes for the mutation pipeline.
var EntityCounts = []int{10, 100, 1000}

// newRoom creates an open room hosted by hostID with entities tokens.
func newRoom(hostID string, entities int) *domain.Room {
	now := time.Now()
	room, err := domain.NewRoom("bench", hostID, domain.DefaultMaxMembers, now)
	if err != nil {
		panic(err)
	}
	room.AddMember(domain.NewMember(hostID, hostID, domain.RoleHost, now))
	for i := 0; i < entities; i++ {
		room.PutEntity(&domain.Entity{ID: fmt.Sprintf("t%d", i), Kind: domain.KindToken})
	}
	return room
}

// prefillRegistry adds count rooms spread over 1000 hosts.
func prefillRegistry(ctx context.Context, reg *memory.Registry, count int) []*domain.Room {
	rooms := make([]*domain.Room, count)
	for i := 0; i < count; i++ {
		rooms[i] = newRoom(fmt.Sprintf("host-%d", i%1000), 0)
		reg.Add(ctx, rooms[i])
	}
	return rooms
}

// reportMemory reports memory usage.
func reportMemory(b *testing.B, prefix string) {
	var m runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&m)
	b.ReportMetric(float64(m.Alloc)/(1024*1024), prefix+"_MB")
	b.ReportMetric(float64(m.NumGC), prefix+"_GC")
}

// runWithCounts runs a benchmark function with various sizes.
func runWithCounts(b *testing.B, name string, counts []int, benchFn func(b *testing.B, count int)) {
	for _, count := range counts {
		b.Run(fmt.Sprintf("%s_%d", name, count), func(b *testing.B) {
			benchFn(b, count)
		})
	}
}
