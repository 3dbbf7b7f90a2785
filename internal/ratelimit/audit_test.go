package ratelimit

import (
	"testing"
	"time"
)

func TestAuditWindow_CountsWithinWindow(t *testing.T) {
	w := NewAuditWindow(60)
	now := time.Unix(1_000_000, 0)
	w.Record(now)
	w.Record(now)
	w.Record(now.Add(1 * time.Second))
	if got := w.Count(now.Add(1 * time.Second)); got != 3 {
		t.Fatalf("Count = %d, want 3", got)
	}
}

func TestAuditWindow_EvictsOldBuckets(t *testing.T) {
	w := NewAuditWindow(5)
	now := time.Unix(1_000_000, 0)
	w.Record(now)
	if got := w.Count(now.Add(10 * time.Second)); got != 0 {
		t.Fatalf("Count after window elapsed = %d, want 0", got)
	}
}

func TestAuditRegistry_PerIdentity(t *testing.T) {
	reg := NewAuditRegistry()
	reg.Record("key-a")
	reg.Record("key-a")
	reg.Record("key-b")
	if got := reg.Count("key-a"); got != 2 {
		t.Fatalf("key-a count = %d, want 2", got)
	}
	if got := reg.Count("key-b"); got != 1 {
		t.Fatalf("key-b count = %d, want 1", got)
	}
	if got := reg.Count("key-unknown"); got != 0 {
		t.Fatalf("unknown identity count = %d, want 0", got)
	}
}
