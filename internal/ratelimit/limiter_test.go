package ratelimit

import (
	"testing"
	"time"
)

func TestAllowDrainsAndRefills(t *testing.T) {
	now := time.Unix(1000, 0)
	l := New(2)
	l.Now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if ok, _ := l.Allow("rep-1"); !ok {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	ok, retry := l.Allow("rep-1")
	if ok {
		t.Fatalf("third request in the same instant should be limited")
	}
	if retry != 30 {
		t.Fatalf("expected 30s retry at 2 rpm, got %d", retry)
	}

	if ok, _ := l.Allow("rep-2"); !ok {
		t.Fatalf("buckets must be per key")
	}

	now = now.Add(30 * time.Second)
	if ok, _ := l.Allow("rep-1"); !ok {
		t.Fatalf("expected refill after 30s")
	}
}

func TestAllowDisabled(t *testing.T) {
	l := New(0)
	for i := 0; i < 100; i++ {
		if ok, _ := l.Allow("x"); !ok {
			t.Fatalf("zero rpm should disable limiting")
		}
	}
}

func TestPrune(t *testing.T) {
	now := time.Unix(1000, 0)
	l := New(10)
	l.Now = func() time.Time { return now }
	l.Allow("old")
	now = now.Add(time.Hour)
	l.Allow("fresh")

	if removed := l.Prune(10 * time.Minute); removed != 1 {
		t.Fatalf("expected 1 pruned bucket, got %d", removed)
	}
	if _, ok := l.buckets["fresh"]; !ok {
		t.Fatalf("fresh bucket should survive")
	}
}
