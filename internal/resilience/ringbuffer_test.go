package resilience_test

import (
	"bytes"
	"testing"

	"github.com/calliope-voice/calliope/internal/resilience"
)

// chunk builds a 128-byte payload filled with the given marker byte.
func chunk(marker byte) []byte {
	return bytes.Repeat([]byte{marker}, 128)
}

func TestChunkBuffer_EvictsOldestAtCapacity(t *testing.T) {
	b := resilience.NewChunkBuffer(5)

	// Six pushes into a capacity-5 buffer: the sixth evicts the first.
	for i := byte(1); i <= 5; i++ {
		if evicted := b.Push(chunk(i)); evicted {
			t.Errorf("push %d should not evict", i)
		}
	}
	if !b.Full() {
		t.Fatal("expected buffer to be full after 5 pushes")
	}
	if evicted := b.Push(chunk(6)); !evicted {
		t.Error("push 6 should report an eviction")
	}

	if b.Len() != 5 {
		t.Errorf("expected 5 resident chunks, got %d", b.Len())
	}
	if b.Bytes() != 5*128 {
		t.Errorf("expected %d resident bytes, got %d", 5*128, b.Bytes())
	}

	// Drain must return chunks 2..6 in push order, 640 bytes total.
	out := b.Drain()
	if len(out) != 640 {
		t.Fatalf("expected 640 drained bytes, got %d", len(out))
	}
	for i := 0; i < 5; i++ {
		want := byte(i + 2)
		got := out[i*128]
		if got != want {
			t.Errorf("segment %d: got marker %d, want %d", i, got, want)
		}
	}

	if b.Len() != 0 || b.Bytes() != 0 {
		t.Errorf("drain should reset the buffer, got len=%d bytes=%d", b.Len(), b.Bytes())
	}
}

func TestChunkBuffer_DrainEmpty(t *testing.T) {
	b := resilience.NewChunkBuffer(3)
	if out := b.Drain(); out != nil {
		t.Errorf("expected nil from an empty drain, got %d bytes", len(out))
	}
}

func TestChunkBuffer_DrainPreservesPushOrder(t *testing.T) {
	b := resilience.NewChunkBuffer(4)
	b.Push([]byte("alpha "))
	b.Push([]byte("beta "))
	b.Push([]byte("gamma"))

	got := string(b.Drain())
	want := "alpha beta gamma"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestChunkBuffer_CapacityClamped(t *testing.T) {
	b := resilience.NewChunkBuffer(0)
	b.Push([]byte("one"))
	if evicted := b.Push([]byte("two")); !evicted {
		t.Error("capacity 0 should clamp to 1, second push must evict")
	}
	if got := string(b.Drain()); got != "two" {
		t.Errorf("got %q, want %q", got, "two")
	}
}
