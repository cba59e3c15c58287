package history

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestMemoryStore_RoundTrip(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	for i := range 3 {
		err := s.WriteExchange(ctx, Exchange{
			SessionID: "kitchen",
			Prompt:    fmt.Sprintf("prompt %d", i),
			Response:  fmt.Sprintf("response %d", i),
			At:        time.Now(),
		})
		if err != nil {
			t.Fatalf("WriteExchange: %v", err)
		}
	}

	got, err := s.RecentExchanges(ctx, "kitchen", 0)
	if err != nil {
		t.Fatalf("RecentExchanges: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("exchange count = %d, want 3", len(got))
	}
	if got[0].Prompt != "prompt 0" || got[2].Prompt != "prompt 2" {
		t.Errorf("exchanges not in chronological order: %+v", got)
	}
}

func TestMemoryStore_LimitReturnsNewest(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	for i := range 5 {
		_ = s.WriteExchange(ctx, Exchange{SessionID: "s", Prompt: fmt.Sprintf("p%d", i)})
	}

	got, err := s.RecentExchanges(ctx, "s", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("exchange count = %d, want 2", len(got))
	}
	if got[0].Prompt != "p3" || got[1].Prompt != "p4" {
		t.Errorf("limit did not keep the newest entries: %+v", got)
	}
}

func TestMemoryStore_SessionsAreIsolated(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	_ = s.WriteExchange(ctx, Exchange{SessionID: "a", Prompt: "hello"})

	got, err := s.RecentExchanges(ctx, "b", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("unrelated session returned %d exchanges", len(got))
	}
}
