// Package pipeline turns streams of raw audio chunks into processed,
// wake-annotated segments.
//
// Chunks from one session accumulate in a bounded batch buffer. While the
// buffer is below capacity the pipeline emits a lightweight Pending
// placeholder instead of blocking the producer; a full buffer drains into a
// single processing call whose stages run in fixed order: format conversion
// and resampling (per chunk, on the way into the batch), then optional
// normalization, optional denoising and enhancement through the
// [enhance.Enhancer] boundary, then quality-metric extraction. When wake
// phrases are configured the drained batch is transcribed through the
// [stt.Transcriber] boundary and fuzzy-matched against the phrase list.
//
// Per-chunk failures never abort the stream: a stage error yields a Failed
// segment carrying the error in its metadata and iteration continues.
// CPU-heavy batch work runs under a weighted semaphore shared across all
// sessions so one slow transform cannot starve the others.
package pipeline

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/semaphore"

	"github.com/calliope-voice/calliope/internal/fault"
	"github.com/calliope-voice/calliope/internal/observe"
	"github.com/calliope-voice/calliope/internal/resilience"
	"github.com/calliope-voice/calliope/pkg/audio"
	"github.com/calliope-voice/calliope/pkg/provider/enhance"
	"github.com/calliope-voice/calliope/pkg/provider/stt"
)

// defaultOutBuffer bounds the segment output channel.
const defaultOutBuffer = 16

// Pipeline converts chunk streams into segment streams. One Pipeline is
// shared by all sessions; per-session state lives in the goroutine spawned by
// [Pipeline.ProcessStream]. Safe for concurrent use.
type Pipeline struct {
	mu  sync.RWMutex
	cfg Config

	transcriber stt.Transcriber
	enhancer    enhance.Enhancer
	metrics     *observe.Metrics
	sem         *semaphore.Weighted
	outBuffer   int
}

// Option is a functional option for [New].
type Option func(*Pipeline)

// WithTranscriber sets the speech-to-text boundary used for wake detection.
// Required when the config lists wake phrases.
func WithTranscriber(t stt.Transcriber) Option {
	return func(p *Pipeline) { p.transcriber = t }
}

// WithEnhancer sets the audio-cleanup boundary used by the denoise and
// enhance stages. Required when either flag is enabled.
func WithEnhancer(e enhance.Enhancer) Option {
	return func(p *Pipeline) { p.enhancer = e }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithWorkers caps how many batches may be processed concurrently across all
// sessions. Defaults to GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithOutputBuffer sets the capacity of each session's segment channel.
func WithOutputBuffer(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.outBuffer = n
		}
	}
}

// New creates a Pipeline with the given config. Zero config fields take
// defaults; the result is validated together with the wired boundaries.
func New(cfg Config, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		cfg:       cfg.withDefaults(),
		sem:       semaphore.NewWeighted(int64(runtime.GOMAXPROCS(0))),
		outBuffer: defaultOutBuffer,
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}

	if err := p.validate(p.cfg); err != nil {
		return nil, err
	}
	return p, nil
}

// validate runs Config.Validate plus the boundary checks that depend on how
// the pipeline was wired.
func (p *Pipeline) validate(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fault.Validationf("pipeline config: %v", err)
	}
	if len(cfg.WakePhrases) > 0 && p.transcriber == nil {
		return fault.Validationf("pipeline config: wake_phrases set but no transcriber wired")
	}
	if (cfg.Denoise || cfg.Enhance) && p.enhancer == nil {
		return fault.Validationf("pipeline config: denoise/enhance enabled but no enhancer wired")
	}
	return nil
}

// UpdateConfig replaces the pipeline config. The new config is validated
// first; on failure the active config is left untouched. Running streams
// pick up the new config at their next batch boundary.
func (p *Pipeline) UpdateConfig(cfg Config) error {
	cfg = cfg.withDefaults()
	if err := p.validate(cfg); err != nil {
		return err
	}
	p.mu.Lock()
	p.cfg = cfg
	p.mu.Unlock()
	return nil
}

// Config returns a snapshot of the active config.
func (p *Pipeline) Config() Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// ProcessStream consumes chunks from in and emits one segment per valid
// chunk: a Pending placeholder while the batch buffer fills, and the batch's
// processed segment for the chunk that drains it. Chunks failing validation
// are logged and dropped without a segment. Segments are emitted strictly in
// chunk arrival order. The returned channel closes once in closes (after the
// final partial batch is flushed) or ctx is cancelled.
func (p *Pipeline) ProcessStream(ctx context.Context, sessionID string, in <-chan audio.AudioChunk) <-chan Segment {
	out := make(chan Segment, p.outBuffer)
	go p.run(ctx, sessionID, in, out)
	return out
}

// batch is the accumulation state between two drains.
type batch struct {
	buf      *resilience.ChunkBuffer
	conv     *audio.ChunkConverter
	duration time.Duration
	silent   bool
	source   audio.Format
	lastCID  string
}

func newBatch(cfg Config) *batch {
	return &batch{
		buf:    resilience.NewChunkBuffer(cfg.BatchCapacity),
		conv:   &audio.ChunkConverter{Target: cfg.TargetFormat()},
		silent: true,
	}
}

func (p *Pipeline) run(ctx context.Context, sessionID string, in <-chan audio.AudioChunk, out chan<- Segment) {
	defer close(out)

	cfg := p.Config()
	b := newBatch(cfg)

	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-in:
			if !ok {
				// Flush the partial batch so trailing audio is not lost.
				if b.buf.Len() > 0 {
					p.emit(ctx, out, p.processBatch(ctx, cfg, sessionID, b))
				}
				return
			}

			p.metrics.PipelineChunks.Add(ctx, 1,
				metric.WithAttributes(observe.Attr("session_id", sessionID)))
			if err := chunk.Validate(); err != nil {
				slog.Warn("pipeline: dropping invalid chunk",
					"session_id", sessionID,
					"correlation_id", chunk.CorrelationID,
					"error", err)
				continue
			}

			converted := b.conv.Convert(chunk)
			b.buf.Push(converted.Data)
			b.duration += chunkDuration(converted)
			b.source = chunk.Format
			b.lastCID = chunk.CorrelationID
			if !chunk.IsSilence {
				b.silent = false
			}

			if b.buf.Full() || b.duration >= cfg.MaxSegmentDuration {
				p.emit(ctx, out, p.processBatch(ctx, cfg, sessionID, b))
				// Batch boundary: pick up config updates.
				cfg = p.Config()
				b = newBatch(cfg)
				continue
			}

			p.emit(ctx, out, Segment{
				CorrelationID: chunk.CorrelationID,
				SessionID:     sessionID,
				SourceFormat:  chunk.Format,
				TargetFormat:  cfg.TargetFormat(),
				Status:        StatusPending,
			})
		}
	}
}

// chunkDuration prefers the chunk's own duration and falls back to deriving
// it from the payload length.
func chunkDuration(chunk audio.AudioChunk) time.Duration {
	if chunk.Duration > 0 {
		return chunk.Duration
	}
	bps := chunk.Format.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(len(chunk.Data)) * time.Second / time.Duration(bps)
}

// emit delivers seg unless ctx is cancelled first.
func (p *Pipeline) emit(ctx context.Context, out chan<- Segment, seg Segment) {
	select {
	case <-ctx.Done():
	case out <- seg:
		p.metrics.RecordSegment(ctx, seg.SessionID, string(seg.Status))
	}
}

// processBatch drains b and runs the processing stages under the shared
// worker semaphore, returning exactly one segment.
func (p *Pipeline) processBatch(ctx context.Context, cfg Config, sessionID string, b *batch) Segment {
	start := time.Now()
	seg := Segment{
		CorrelationID: b.lastCID,
		SessionID:     sessionID,
		SourceFormat:  b.source,
		TargetFormat:  cfg.TargetFormat(),
		Duration:      b.duration,
		Status:        StatusProcessing,
		Metadata:      map[string]string{},
	}
	finish := func(status Status) Segment {
		seg.Status = status
		seg.ProcessedAt = time.Now()
		seg.Elapsed = time.Since(start)
		p.metrics.SegmentDuration.Record(ctx, seg.Elapsed.Seconds())
		return seg
	}
	fail := func(err error) Segment {
		slog.Warn("pipeline: segment failed",
			"session_id", sessionID,
			"correlation_id", seg.CorrelationID,
			"error", err)
		seg.Audio = nil
		seg.Metadata["error"] = err.Error()
		return finish(StatusFailed)
	}

	pcm := b.buf.Drain()

	if b.silent || b.duration < cfg.MinSegmentDuration {
		return finish(StatusSkipped)
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fail(&fault.Processing{Stage: "schedule", Err: err})
	}
	defer p.sem.Release(1)

	processed, quality, err := p.runStages(ctx, cfg, pcm)
	if err != nil {
		return fail(err)
	}
	seg.Audio = processed
	seg.Quality = quality

	if len(cfg.WakePhrases) > 0 {
		res, err := p.transcriber.Transcribe(ctx, processed, cfg.TargetFormat())
		if err != nil {
			return fail(&fault.Processing{Stage: "transcribe", Err: err})
		}
		seg.Metadata["transcript"] = res.Text
		seg.Wake = detectWake(res.Text, cfg.WakePhrases, cfg.WakeConfidenceThreshold)
		if seg.Wake.Detected {
			p.metrics.RecordWakeDetection(ctx, seg.Wake.Phrase)
		}
	}

	return finish(StatusCompleted)
}
