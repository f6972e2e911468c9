package memory

import "testing"

func TestRoomSet(t *testing.T) {
	set := NewRoomSet()

	set.Add("room1")
	set.Add("room2")
	set.Add("room2")

	if set.Len() != 2 {
		t.Fatalf("Len = %d, want 2", set.Len())
	}
	if !set.Contains("room1") {
		t.Fatal("Contains(room1) = false, want true")
	}
	if set.Contains("nonexistent") {
		t.Fatal("Contains(nonexistent) = true, want false")
	}
	if len(set.Items()) != 2 {
		t.Fatalf("len(Items()) = %d, want 2", len(set.Items()))
	}

	set.Remove("room1")
	if set.Len() != 1 || set.Contains("room1") {
		t.Fatal("Remove(room1) did not remove the item")
	}
}

func TestHostIndex(t *testing.T) {
	index := NewHostIndex()

	index.Add("gm", "room1")
	index.Add("gm", "room2")
	index.Add("other", "room3")

	if count := index.Count("gm"); count != 2 {
		t.Fatalf("Count(gm) = %d, want 2", count)
	}
	if got := index.Get("other"); len(got) != 1 || got[0] != "room3" {
		t.Fatalf("Get(other) = %v, want [room3]", got)
	}

	index.Remove("gm", "room1")
	index.Remove("gm", "room2")
	if count := index.Count("gm"); count != 0 {
		t.Fatalf("Count(gm) after removal = %d, want 0", count)
	}
	if got := index.Get("gm"); got != nil {
		t.Fatalf("Get(gm) after removal = %v, want nil", got)
	}

	index.Remove("nobody", "room9")
}
