package enhance_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/calliope-voice/calliope/internal/fault"
	"github.com/calliope-voice/calliope/pkg/provider/enhance"
)

func TestHTTPEnhancer_RoundTrip(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/enhance" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		// Echo the payload reversed so the test can tell it passed through.
		for i, j := 0, len(body)-1; i < j; i, j = i+1, j-1 {
			body[i], body[j] = body[j], body[i]
		}
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)

	e, err := enhance.NewHTTP(srv.URL)
	if err != nil {
		t.Fatal(err)
	}

	out, err := e.Enhance(context.Background(), []byte{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("Enhance: %v", err)
	}
	if string(out) != string([]byte{4, 3, 2, 1}) {
		t.Errorf("got %v, want reversed payload", out)
	}
}

func TestHTTPEnhancer_ServerErrorIsTransport(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	e, err := enhance.NewHTTP(srv.URL)
	if err != nil {
		t.Fatal(err)
	}

	_, err = e.Enhance(context.Background(), []byte{1})
	if err == nil {
		t.Fatal("expected an error")
	}
	if !fault.Retryable(err) {
		t.Errorf("service failure should be retryable, got %v", err)
	}
}

func TestNewHTTP_RequiresBaseURL(t *testing.T) {
	t.Parallel()

	if _, err := enhance.NewHTTP(""); err == nil {
		t.Fatal("expected an error for empty baseURL")
	}
}
