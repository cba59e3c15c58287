package wsadapter_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/calliope-voice/calliope/internal/fault"
	"github.com/calliope-voice/calliope/pkg/audio"
	"github.com/calliope-voice/calliope/pkg/audio/wsadapter"
	"github.com/coder/websocket"
)

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startServer launches a test WebSocket server; the handler receives the
// accepted conn. The server is closed when the test finishes.
func startServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

var testFormat = audio.Format{SampleRate: 16000, Channels: 1, SampleWidth: 2}

func TestInput_CapturesBinaryFrames(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		// 16000 Hz mono 16-bit: 320 bytes is 10ms.
		_ = conn.Write(ctx, websocket.MessageBinary, make([]byte, 320))
		_ = conn.Write(ctx, websocket.MessageBinary, make([]byte, 320))
		<-conn.CloseRead(context.Background()).Done()
	})

	in := wsadapter.NewInput("mic", wsURL(srv), testFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := in.StartCapture(ctx); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	defer in.StopCapture()

	var got []audio.AudioChunk
	for len(got) < 2 {
		select {
		case chunk, ok := <-in.Chunks():
			if !ok {
				t.Fatal("chunk channel closed early")
			}
			got = append(got, chunk)
		case <-ctx.Done():
			t.Fatal("timeout waiting for chunks")
		}
	}

	if got[0].Sequence != 1 || got[1].Sequence != 2 {
		t.Errorf("sequences = %d, %d; want 1, 2", got[0].Sequence, got[1].Sequence)
	}
	if got[0].CorrelationID == "" || got[0].CorrelationID == got[1].CorrelationID {
		t.Error("expected distinct non-empty correlation IDs")
	}
	if got[0].Duration != 10*time.Millisecond {
		t.Errorf("duration = %v; want 10ms", got[0].Duration)
	}
	if got[0].Format != testFormat {
		t.Errorf("format = %v; want %v", got[0].Format, testFormat)
	}
}

func TestInput_StopCaptureClosesChannel(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		<-conn.CloseRead(context.Background()).Done()
	})

	in := wsadapter.NewInput("mic", wsURL(srv), testFormat)
	if err := in.StartCapture(context.Background()); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	if err := in.StopCapture(); err != nil {
		t.Fatalf("StopCapture: %v", err)
	}
	// Idempotent.
	if err := in.StopCapture(); err != nil {
		t.Fatalf("second StopCapture: %v", err)
	}

	select {
	case _, ok := <-in.Chunks():
		if ok {
			t.Error("expected closed channel after StopCapture")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("chunk channel not closed")
	}
}

func TestInput_StopCaptureWithFullBuffer(t *testing.T) {
	t.Parallel()

	// Push more frames than the capture buffer holds while nothing consumes,
	// so the read loop is parked on the send when StopCapture runs.
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for i := 0; i < 60; i++ {
			if err := conn.Write(ctx, websocket.MessageBinary, make([]byte, 320)); err != nil {
				return
			}
		}
		<-conn.CloseRead(context.Background()).Done()
	})

	in := wsadapter.NewInput("mic", wsURL(srv), testFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := in.StartCapture(ctx); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for len(in.Chunks()) < 50 {
		if time.Now().After(deadline) {
			t.Fatal("capture buffer never filled")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := in.StopCapture(); err != nil {
		t.Fatalf("StopCapture: %v", err)
	}

	// Buffered chunks stay readable; the channel must end closed.
	n := 0
	for range in.Chunks() {
		n++
	}
	if n < 50 {
		t.Errorf("drained %d chunks, want at least 50", n)
	}
}

func TestInput_DialFailureIsTransport(t *testing.T) {
	t.Parallel()

	in := wsadapter.NewInput("mic", "ws://127.0.0.1:1", testFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := in.StartCapture(ctx)
	if err == nil {
		t.Fatal("expected a dial error")
	}
	if !fault.Retryable(err) {
		t.Errorf("dial failure should be retryable, got %v", err)
	}
}

func TestInput_HealthBeforeStart(t *testing.T) {
	t.Parallel()

	in := wsadapter.NewInput("mic", "ws://irrelevant", testFormat)
	if err := in.Health(context.Background()); !errors.Is(err, fault.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestOutput_PlaysChunks(t *testing.T) {
	t.Parallel()

	received := make(chan []byte, 4)
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		for {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			_, data, err := conn.Read(ctx)
			cancel()
			if err != nil {
				return
			}
			received <- data
		}
	})

	out := wsadapter.NewOutput("speaker", wsURL(srv))
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := out.StartPlayback(ctx); err != nil {
		t.Fatalf("StartPlayback: %v", err)
	}
	defer out.StopPlayback()

	in := make(chan audio.AudioChunk, 2)
	in <- audio.AudioChunk{Data: []byte{1, 2, 3, 4}, Format: testFormat}
	in <- audio.AudioChunk{Data: []byte{5, 6, 7, 8}, Format: testFormat}
	close(in)

	if err := out.PlayStream(ctx, in); err != nil {
		t.Fatalf("PlayStream: %v", err)
	}

	for i, want := range [][]byte{{1, 2, 3, 4}, {5, 6, 7, 8}} {
		select {
		case got := <-received:
			if string(got) != string(want) {
				t.Errorf("frame %d: got %v, want %v", i, got, want)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timeout waiting for frame %d", i)
		}
	}
}

func TestOutput_PlayChunkBeforeStart(t *testing.T) {
	t.Parallel()

	out := wsadapter.NewOutput("speaker", "ws://irrelevant")
	err := out.PlayChunk(context.Background(), audio.AudioChunk{Data: []byte{1}})
	if !errors.Is(err, fault.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}
