// Package discord provides audio adapters backed by Discord voice channels
// via the bwmarrin/discordgo library. It bridges Discord's Opus-based voice
// transport with Calliope's PCM [audio.AudioChunk] stream.
//
// The [Adapter] implements both [audio.InputAdapter] and
// [audio.OutputAdapter] over one voice connection: capture demuxes incoming
// Opus packets by SSRC and decodes each speaker with a dedicated decoder;
// playback re-encodes synthesized PCM into 20 ms Opus frames.
//
// The adapter requires an active *discordgo.Session (owned by the bot layer),
// a guild ID, and a voice channel ID.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"

	"github.com/calliope-voice/calliope/internal/fault"
	"github.com/calliope-voice/calliope/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.InputAdapter  = (*Adapter)(nil)
	_ audio.OutputAdapter = (*Adapter)(nil)
)

const chunkChannelBuffer = 64

// voiceFormat is the fixed PCM shape on both sides of the Opus codec.
var voiceFormat = audio.Format{
	SampleRate:  opusSampleRate,
	Channels:    opusChannels,
	SampleWidth: 2,
}

// Adapter joins one Discord voice channel and serves as both capture source
// and playback sink for it. The voice connection is established by whichever
// of StartCapture / StartPlayback runs first and torn down when the last of
// StopCapture / StopPlayback runs.
//
// Adapter is safe for concurrent use.
type Adapter struct {
	name      string
	session   *discordgo.Session
	guildID   string
	channelID string

	mu   sync.Mutex
	vc   *discordgo.VoiceConnection
	refs int
	seq  uint64

	chunks     chan audio.AudioChunk
	chunksOnce sync.Once
	recvDone   chan struct{}
	recvStop   sync.Once
	recvExit   chan struct{}

	sendMu   sync.Mutex
	sendBuf  []byte
	enc      *opusEncoder
	speaking bool
	conv     *audio.ChunkConverter

	// joinVoice and leaveVoice are overridden in tests to avoid a live
	// gateway.
	joinVoice  func() (*discordgo.VoiceConnection, error)
	leaveVoice func(vc *discordgo.VoiceConnection) error
}

// New creates a Discord voice adapter registered under name. session must be
// an open discordgo session; the adapter joins the given guild's voice
// channel on demand.
func New(name string, session *discordgo.Session, guildID, channelID string) *Adapter {
	a := &Adapter{
		name:      name,
		session:   session,
		guildID:   guildID,
		channelID: channelID,
		chunks:    make(chan audio.AudioChunk, chunkChannelBuffer),
		recvDone:  make(chan struct{}),
		conv:      &audio.ChunkConverter{Target: voiceFormat},
	}
	a.joinVoice = func() (*discordgo.VoiceConnection, error) {
		// mute=false (we send audio), deaf=false (we receive audio).
		return session.ChannelVoiceJoin(guildID, channelID, false, false)
	}
	a.leaveVoice = func(vc *discordgo.VoiceConnection) error { return vc.Disconnect() }
	return a
}

// Name implements [audio.InputAdapter] and [audio.OutputAdapter].
func (a *Adapter) Name() string { return a.name }

// ensureJoined joins the voice channel if no connection exists and takes a
// reference on it. Must be called without a.mu held.
func (a *Adapter) ensureJoined() (*discordgo.VoiceConnection, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.vc == nil {
		vc, err := a.joinVoice()
		if err != nil {
			return nil, fault.Transportf(fault.TransportConnect,
				fmt.Errorf("discord %q: join voice channel %q: %w", a.name, a.channelID, err))
		}
		a.vc = vc
	}
	a.refs++
	return a.vc, nil
}

// release drops one reference and disconnects when the last holder is gone.
func (a *Adapter) release() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.refs == 0 {
		return
	}
	a.refs--
	if a.refs == 0 && a.vc != nil {
		if err := a.leaveVoice(a.vc); err != nil {
			slog.Warn("discord voice disconnect failed", "adapter", a.name, "err", err)
		}
		a.vc = nil
	}
}

// StartCapture implements [audio.InputAdapter]. It joins the voice channel
// and starts decoding incoming Opus packets onto the Chunks channel.
func (a *Adapter) StartCapture(ctx context.Context) error {
	vc, err := a.ensureJoined()
	if err != nil {
		return err
	}

	exit := make(chan struct{})
	a.mu.Lock()
	a.recvExit = exit
	a.mu.Unlock()

	go func() {
		defer close(exit)
		a.recvLoop(ctx, vc)
	}()
	return nil
}

// recvLoop demuxes Opus packets by SSRC, decodes each speaker with its own
// decoder, and delivers PCM chunks until capture stops.
func (a *Adapter) recvLoop(ctx context.Context, vc *discordgo.VoiceConnection) {
	defer a.closeChunks()
	decoders := make(map[uint32]*opusDecoder)

	for {
		select {
		case <-a.recvDone:
			return
		case <-ctx.Done():
			return
		case pkt, ok := <-vc.OpusRecv:
			if !ok {
				return
			}
			if pkt == nil {
				continue
			}

			dec, exists := decoders[pkt.SSRC]
			if !exists {
				var err error
				dec, err = newOpusDecoder()
				if err != nil {
					slog.Error("discord opus decoder creation failed",
						"adapter", a.name, "ssrc", pkt.SSRC, "err", err)
					continue
				}
				decoders[pkt.SSRC] = dec
			}

			pcm, err := dec.decode(pkt.Opus)
			if err != nil {
				slog.Warn("discord opus decode error",
					"adapter", a.name, "ssrc", pkt.SSRC, "err", err)
				continue
			}

			a.mu.Lock()
			a.seq++
			seq := a.seq
			a.mu.Unlock()

			chunk := audio.AudioChunk{
				Data:          pcm,
				Format:        voiceFormat,
				BitDepth:      16,
				Duration:      opusFrameSizeMs * time.Millisecond,
				CorrelationID: uuid.NewString(),
				Sequence:      seq,
			}

			select {
			case a.chunks <- chunk:
			default:
				// Consumer is behind. Drop rather than stall the gateway read.
			}
		}
	}
}

// StopCapture implements [audio.InputAdapter]. It signals the recv loop and
// waits for it to exit; only the loop closes the chunk channel, so a send in
// flight can never hit a closed channel. Safe to call more than once.
func (a *Adapter) StopCapture() error {
	a.recvStop.Do(func() { close(a.recvDone) })

	a.mu.Lock()
	exit := a.recvExit
	a.mu.Unlock()

	if exit != nil {
		<-exit
	} else {
		// Capture never started; release any waiting consumers.
		a.closeChunks()
	}
	return nil
}

// closeChunks ends capture exactly once, from the recv loop's exit path.
func (a *Adapter) closeChunks() {
	a.chunksOnce.Do(func() {
		close(a.chunks)
		a.release()
	})
}

// Chunks implements [audio.InputAdapter].
func (a *Adapter) Chunks() <-chan audio.AudioChunk { return a.chunks }

// StartPlayback implements [audio.OutputAdapter]. It joins the voice channel
// and prepares the Opus encoder.
func (a *Adapter) StartPlayback(_ context.Context) error {
	if _, err := a.ensureJoined(); err != nil {
		return err
	}

	a.sendMu.Lock()
	defer a.sendMu.Unlock()
	if a.enc == nil {
		enc, err := newOpusEncoder()
		if err != nil {
			a.release()
			return err
		}
		a.enc = enc
	}
	return nil
}

// StopPlayback implements [audio.OutputAdapter]. Safe to call more than once.
func (a *Adapter) StopPlayback() error {
	a.sendMu.Lock()
	hadEncoder := a.enc != nil
	a.enc = nil
	a.sendBuf = nil
	a.speaking = false
	a.sendMu.Unlock()

	if hadEncoder {
		a.setSpeaking(false)
		a.release()
	}
	return nil
}

// PlayChunk implements [audio.OutputAdapter]. The chunk is converted to
// Discord's 48 kHz stereo format, accumulated until complete 20 ms frames are
// available, then encoded and sent.
func (a *Adapter) PlayChunk(ctx context.Context, chunk audio.AudioChunk) error {
	a.mu.Lock()
	vc := a.vc
	a.mu.Unlock()
	if vc == nil {
		return fmt.Errorf("discord %q: %w", a.name, fault.ErrNotConnected)
	}

	a.sendMu.Lock()
	defer a.sendMu.Unlock()
	if a.enc == nil {
		return fmt.Errorf("discord %q: playback not started: %w", a.name, fault.ErrNotConnected)
	}

	if !a.speaking {
		a.setSpeaking(true)
		a.speaking = true
	}

	converted := a.conv.Convert(chunk)
	a.sendBuf = append(a.sendBuf, converted.Data...)

	for len(a.sendBuf) >= opusFrameBytes {
		opus, err := a.enc.encode(a.sendBuf[:opusFrameBytes])
		a.sendBuf = a.sendBuf[opusFrameBytes:]
		if err != nil {
			slog.Warn("discord opus encode error", "adapter", a.name, "err", err)
			continue
		}
		select {
		case vc.OpusSend <- opus:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// PlayStream implements [audio.OutputAdapter].
func (a *Adapter) PlayStream(ctx context.Context, in <-chan audio.AudioChunk) error {
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

// Capabilities implements both adapter interfaces. Discord voice is fixed at
// 48 kHz stereo on the wire.
func (a *Adapter) Capabilities() audio.Capabilities {
	return audio.Capabilities{
		Formats:       []audio.Format{voiceFormat},
		Realtime:      true,
		Duplex:        true,
		MaxChunkBytes: opusFrameBytes,
	}
}

// Health implements both adapter interfaces.
func (a *Adapter) Health(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.vc == nil {
		return fmt.Errorf("discord %q: %w", a.name, fault.ErrNotConnected)
	}
	return nil
}

// setSpeaking sends the speaking notification, logging failures.
func (a *Adapter) setSpeaking(b bool) {
	a.mu.Lock()
	vc := a.vc
	a.mu.Unlock()
	if vc == nil {
		return
	}
	if err := vc.Speaking(b); err != nil {
		slog.Warn("discord speaking notification failed",
			"adapter", a.name, "speaking", b, "err", err)
	}
}
