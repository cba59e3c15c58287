// Package wsadapter provides WebSocket-backed audio adapters: an
// [audio.InputAdapter] that captures binary PCM frames from a WebSocket
// endpoint and an [audio.OutputAdapter] that plays synthesized audio back by
// writing binary frames.
//
// Each received frame becomes one [audio.AudioChunk] in the adapter's
// configured format, tagged with a fresh correlation ID and a monotonic
// sequence number.
package wsadapter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/calliope-voice/calliope/internal/fault"
	"github.com/calliope-voice/calliope/pkg/audio"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// defaultChunkBuffer is the capture channel depth. Roughly one second of
// 20ms frames.
const defaultChunkBuffer = 50

// Input captures audio from a WebSocket endpoint that pushes binary PCM
// frames.
type Input struct {
	name   string
	url    string
	format audio.Format

	mu   sync.Mutex
	conn *websocket.Conn
	done chan struct{}
	seq  uint64

	chunks   chan audio.AudioChunk
	stop     chan struct{}
	stopOnce sync.Once
	once     sync.Once
}

var _ audio.InputAdapter = (*Input)(nil)

// NewInput creates a WebSocket input adapter. url is the capture endpoint
// (ws:// or wss://); format declares the PCM shape the endpoint delivers.
func NewInput(name, url string, format audio.Format) *Input {
	return &Input{
		name:   name,
		url:    url,
		format: format,
		chunks: make(chan audio.AudioChunk, defaultChunkBuffer),
		stop:   make(chan struct{}),
	}
}

// Name implements [audio.InputAdapter].
func (a *Input) Name() string { return a.name }

// StartCapture implements [audio.InputAdapter]. It dials the endpoint and
// starts the read loop; ctx governs both the dial and the loop.
func (a *Input) StartCapture(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, a.url, nil)
	if err != nil {
		return fault.Transportf(fault.TransportConnect,
			fmt.Errorf("wsadapter %q: dial %s: %w", a.name, a.url, err))
	}

	done := make(chan struct{})
	a.mu.Lock()
	a.conn = conn
	a.done = done
	a.mu.Unlock()

	go func() {
		defer close(done)
		a.readLoop(ctx, conn)
	}()
	return nil
}

// readLoop turns binary WebSocket messages into chunks until the connection
// drops, ctx ends, or StopCapture closes the connection.
func (a *Input) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer a.closeChunks()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			// Normal close or cancellation.
			return
		}
		if typ != websocket.MessageBinary || len(data) == 0 {
			continue
		}

		a.mu.Lock()
		a.seq++
		seq := a.seq
		a.mu.Unlock()

		chunk := audio.AudioChunk{
			Data:          data,
			Format:        a.format,
			BitDepth:      a.format.SampleWidth * 8,
			CorrelationID: uuid.NewString(),
			Sequence:      seq,
		}
		if bps := a.format.BytesPerSecond(); bps > 0 {
			chunk.Duration = time.Duration(len(data)) * time.Second / time.Duration(bps)
		}

		select {
		case a.chunks <- chunk:
		case <-a.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// StopCapture implements [audio.InputAdapter]. It closes the connection and
// waits for the read loop to exit; only the loop closes the chunk channel, so
// a sender parked on a full buffer can never hit a closed channel. Safe to
// call more than once.
func (a *Input) StopCapture() error {
	a.stopOnce.Do(func() { close(a.stop) })

	a.mu.Lock()
	conn, done := a.conn, a.done
	a.conn = nil
	a.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "capture stopped")
	}
	if done != nil {
		<-done
	} else {
		// Capture never started; release any waiting consumers.
		a.closeChunks()
	}
	return nil
}

// Chunks implements [audio.InputAdapter].
func (a *Input) Chunks() <-chan audio.AudioChunk { return a.chunks }

// Capabilities implements [audio.InputAdapter].
func (a *Input) Capabilities() audio.Capabilities {
	return audio.Capabilities{
		Formats:  []audio.Format{a.format},
		Realtime: true,
	}
}

// Health implements [audio.InputAdapter]. It pings the peer over the live
// connection.
func (a *Input) Health(ctx context.Context) error {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("wsadapter %q: %w", a.name, fault.ErrNotConnected)
	}
	if err := conn.Ping(ctx); err != nil {
		return fault.Transportf(fault.TransportTimeout,
			fmt.Errorf("wsadapter %q: ping: %w", a.name, err))
	}
	return nil
}

func (a *Input) closeChunks() {
	a.once.Do(func() { close(a.chunks) })
}

// Output plays audio by writing binary PCM frames to a WebSocket endpoint.
type Output struct {
	name string
	url  string

	mu   sync.Mutex
	conn *websocket.Conn
}

var _ audio.OutputAdapter = (*Output)(nil)

// NewOutput creates a WebSocket output adapter targeting url.
func NewOutput(name, url string) *Output {
	return &Output{name: name, url: url}
}

// Name implements [audio.OutputAdapter].
func (a *Output) Name() string { return a.name }

// StartPlayback implements [audio.OutputAdapter]. It dials the endpoint.
func (a *Output) StartPlayback(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, a.url, nil)
	if err != nil {
		return fault.Transportf(fault.TransportConnect,
			fmt.Errorf("wsadapter %q: dial %s: %w", a.name, a.url, err))
	}

	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()
	return nil
}

// StopPlayback implements [audio.OutputAdapter]. Safe to call more than once.
func (a *Output) StopPlayback() error {
	a.mu.Lock()
	conn := a.conn
	a.conn = nil
	a.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "playback stopped")
	}
	return nil
}

// PlayChunk implements [audio.OutputAdapter]. It writes the chunk payload as
// one binary frame.
func (a *Output) PlayChunk(ctx context.Context, chunk audio.AudioChunk) error {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("wsadapter %q: %w", a.name, fault.ErrNotConnected)
	}
	if err := conn.Write(ctx, websocket.MessageBinary, chunk.Data); err != nil {
		return fault.Transportf(fault.TransportProtocol,
			fmt.Errorf("wsadapter %q: write: %w", a.name, err))
	}
	return nil
}

// PlayStream implements [audio.OutputAdapter]. It plays chunks in arrival
// order until in closes or ctx is done.
func (a *Output) PlayStream(ctx context.Context, in <-chan audio.AudioChunk) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-in:
			if !ok {
				return nil
			}
			if err := a.PlayChunk(ctx, chunk); err != nil {
				return err
			}
		}
	}
}

// Capabilities implements [audio.OutputAdapter].
func (a *Output) Capabilities() audio.Capabilities {
	return audio.Capabilities{Realtime: true, Duplex: false}
}

// Health implements [audio.OutputAdapter].
func (a *Output) Health(ctx context.Context) error {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("wsadapter %q: %w", a.name, fault.ErrNotConnected)
	}
	if err := conn.Ping(ctx); err != nil {
		return fault.Transportf(fault.TransportTimeout,
			fmt.Errorf("wsadapter %q: ping: %w", a.name, err))
	}
	return nil
}
