package resilience_test

import (
	"testing"

	"github.com/calliope-voice/calliope/internal/resilience"
)

func TestLRU_EvictsLeastRecentlyAccessed(t *testing.T) {
	c := resilience.NewLRU[int](3)
	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3)

	// Touch "a" so "b" becomes the least recently accessed.
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected a to be present")
	}

	c.Put("d", 4)

	if _, ok := c.Get("b"); ok {
		t.Error("expected b to be evicted")
	}
	for _, key := range []string{"a", "c", "d"} {
		if _, ok := c.Get(key); !ok {
			t.Errorf("expected %q to survive the eviction", key)
		}
	}
	if c.Len() != 3 {
		t.Errorf("expected 3 entries, got %d", c.Len())
	}
}

func TestLRU_PutReplacesExisting(t *testing.T) {
	c := resilience.NewLRU[string](2)
	c.Put("k", "old")
	c.Put("k", "new")

	got, ok := c.Get("k")
	if !ok || got != "new" {
		t.Errorf("got %q (present=%v), want %q", got, ok, "new")
	}
	if c.Len() != 1 {
		t.Errorf("replace should not grow the cache, got len %d", c.Len())
	}
}

func TestLRU_MissReturnsZeroValue(t *testing.T) {
	c := resilience.NewLRU[int](1)
	got, ok := c.Get("absent")
	if ok {
		t.Error("expected a miss")
	}
	if got != 0 {
		t.Errorf("expected zero value, got %d", got)
	}
}

func TestLRU_CapacityClamped(t *testing.T) {
	c := resilience.NewLRU[int](0)
	c.Put("a", 1)
	c.Put("b", 2)
	if c.Len() != 1 {
		t.Errorf("capacity 0 should clamp to 1, got len %d", c.Len())
	}
}

func TestFingerprintKey(t *testing.T) {
	k1 := resilience.FingerprintKey("backend/tool", []byte(`{"q":"weather"}`))
	k2 := resilience.FingerprintKey("backend/tool", []byte(`{"q":"weather"}`))
	if k1 != k2 {
		t.Error("identical site and arguments must produce identical keys")
	}

	k3 := resilience.FingerprintKey("backend/tool", []byte(`{"q":"news"}`))
	if k1 == k3 {
		t.Error("different arguments must produce different keys")
	}

	k4 := resilience.FingerprintKey("backend/other", []byte(`{"q":"weather"}`))
	if k1 == k4 {
		t.Error("different sites must produce different keys")
	}
}
