package service

import (
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestRateLimiterRegistry(t *testing.T) {
	r := NewRateLimiterRegistry()

	l1 := r.GetOrCreate("room/p1", rate.Limit(1), 1)
	if l2 := r.GetOrCreate("room/p1", rate.Limit(99), 99); l2 != l1 {
		t.Fatal("GetOrCreate() should return the existing limiter")
	}
	r.GetOrCreate("room/p2", rate.Limit(1), 1)
	r.GetOrCreate("other/p1", rate.Limit(1), 1)

	now := time.Now()
	if !l1.AllowN(now, 1) || l1.AllowN(now, 1) {
		t.Error("limiter should allow exactly its burst")
	}

	r.Delete("room/p1")
	if r.Len() != 2 {
		t.Errorf("Len() after Delete = %d, want 2", r.Len())
	}
	if n := r.DeletePrefix("room/"); n != 1 {
		t.Errorf("DeletePrefix() = %d, want 1", n)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}
