package resilience_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/calliope-voice/calliope/internal/resilience"
)

func TestClientPool_RequiresBaseURL(t *testing.T) {
	if _, err := resilience.NewClientPool(resilience.ClientPoolConfig{}); err == nil {
		t.Fatal("expected an error for empty BaseURL")
	}
}

func TestClientPool_CapsConcurrentAcquisitions(t *testing.T) {
	pool, err := resilience.NewClientPool(resilience.ClientPoolConfig{
		BaseURL:  "http://localhost:8700",
		MaxConns: 1,
	})
	if err != nil {
		t.Fatal(err)
	}

	_, release, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	// With the single slot held, a second acquire must block until its
	// context expires.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, _, err := pool.Acquire(ctx); err == nil {
		t.Fatal("expected the second acquire to fail while the slot is held")
	}

	release()

	// After release the slot is available again.
	client, release2, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	if client == nil {
		t.Error("expected a non-nil client")
	}
	release2()
}

func TestClientPool_DoReleasesOnError(t *testing.T) {
	pool, err := resilience.NewClientPool(resilience.ClientPoolConfig{
		BaseURL:  "http://localhost:8700",
		MaxConns: 1,
	})
	if err != nil {
		t.Fatal(err)
	}

	boom := errors.New("boom")
	if err := pool.Do(context.Background(), func(*http.Client, string) error {
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected the callback error back, got %v", err)
	}

	// The slot must have been released despite the error.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, release, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("slot was leaked: %v", err)
	}
	release()
}

func TestClientPool_DoPassesBaseURL(t *testing.T) {
	pool, err := resilience.NewClientPool(resilience.ClientPoolConfig{
		BaseURL: "http://bridge.internal:9000",
	})
	if err != nil {
		t.Fatal(err)
	}

	var seen string
	if err := pool.Do(context.Background(), func(_ *http.Client, baseURL string) error {
		seen = baseURL
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if seen != "http://bridge.internal:9000" {
		t.Errorf("got base URL %q", seen)
	}
	if pool.BaseURL() != "http://bridge.internal:9000" {
		t.Errorf("BaseURL() returned %q", pool.BaseURL())
	}
}
