package pipeline_test

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/calliope-voice/calliope/internal/fault"
	"github.com/calliope-voice/calliope/internal/pipeline"
	"github.com/calliope-voice/calliope/pkg/audio"
	enhancemock "github.com/calliope-voice/calliope/pkg/provider/enhance/mock"
	"github.com/calliope-voice/calliope/pkg/provider/stt"
	sttmock "github.com/calliope-voice/calliope/pkg/provider/stt/mock"
)

// testFormat matches the pipeline's default target so chunks pass through
// conversion unchanged.
var testFormat = audio.Format{SampleRate: 16000, Channels: 1, SampleWidth: 2}

// loudChunk builds a 100ms non-silent chunk of alternating samples.
func loudChunk(seq int) audio.AudioChunk {
	data := make([]byte, 3200)
	for i := 0; i < len(data); i += 2 {
		v := int16(8000)
		if (i/2)%2 == 1 {
			v = -8000
		}
		binary.LittleEndian.PutUint16(data[i:], uint16(v))
	}
	return audio.AudioChunk{
		Data:          data,
		Format:        testFormat,
		BitDepth:      16,
		Duration:      100 * time.Millisecond,
		CorrelationID: fmt.Sprintf("chunk-%d", seq),
		Sequence:      int64(seq),
	}
}

// silentChunk builds a 100ms chunk flagged as silence.
func silentChunk(seq int) audio.AudioChunk {
	c := loudChunk(seq)
	c.Data = make([]byte, 3200)
	c.IsSilence = true
	return c
}

// feedAndCollect runs the chunks through the pipeline and gathers all
// emitted segments.
func feedAndCollect(t *testing.T, p *pipeline.Pipeline, chunks []audio.AudioChunk) []pipeline.Segment {
	t.Helper()

	in := make(chan audio.AudioChunk)
	out := p.ProcessStream(context.Background(), "sess-1", in)
	go func() {
		for _, c := range chunks {
			in <- c
		}
		close(in)
	}()

	var segs []pipeline.Segment
	deadline := time.After(5 * time.Second)
	for {
		select {
		case seg, ok := <-out:
			if !ok {
				return segs
			}
			segs = append(segs, seg)
		case <-deadline:
			t.Fatalf("timed out after %d segments", len(segs))
		}
	}
}

func TestProcessStream_SegmentPerChunk(t *testing.T) {
	p, err := pipeline.New(pipeline.Config{BatchCapacity: 2, MinSegmentDuration: 10 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}

	chunks := []audio.AudioChunk{loudChunk(1), loudChunk(2), loudChunk(3), loudChunk(4)}
	segs := feedAndCollect(t, p, chunks)

	if len(segs) != 4 {
		t.Fatalf("segment count = %d, want 4", len(segs))
	}
	wantStatus := []pipeline.Status{
		pipeline.StatusPending, pipeline.StatusCompleted,
		pipeline.StatusPending, pipeline.StatusCompleted,
	}
	for i, seg := range segs {
		if seg.Status != wantStatus[i] {
			t.Errorf("segment %d status = %q, want %q", i, seg.Status, wantStatus[i])
		}
		if seg.SessionID != "sess-1" {
			t.Errorf("segment %d session = %q, want sess-1", i, seg.SessionID)
		}
		// Arrival order: each segment carries the id of the chunk that
		// produced it.
		want := fmt.Sprintf("chunk-%d", i+1)
		if seg.CorrelationID != want {
			t.Errorf("segment %d correlation = %q, want %q", i, seg.CorrelationID, want)
		}
	}

	// The drained batches carry both chunks' audio.
	if got := len(segs[1].Audio); got != 6400 {
		t.Errorf("batch audio = %d bytes, want 6400", got)
	}
	if segs[1].Duration != 200*time.Millisecond {
		t.Errorf("batch duration = %s, want 200ms", segs[1].Duration)
	}
}

func TestProcessStream_QualityAndDurationInvariants(t *testing.T) {
	p, err := pipeline.New(pipeline.Config{BatchCapacity: 3, MinSegmentDuration: 10 * time.Millisecond, Normalize: true})
	if err != nil {
		t.Fatal(err)
	}

	chunks := []audio.AudioChunk{
		loudChunk(1), silentChunk(2), loudChunk(3),
		loudChunk(4), loudChunk(5), loudChunk(6),
	}
	for _, seg := range feedAndCollect(t, p, chunks) {
		for name, v := range map[string]float64{
			"volume":  seg.Quality.Volume,
			"noise":   seg.Quality.Noise,
			"clarity": seg.Quality.Clarity,
		} {
			if v < 0 || v > 1 {
				t.Errorf("segment %s %s = %.3f, out of [0, 1]", seg.CorrelationID, name, v)
			}
		}
		if seg.Status != pipeline.StatusPending && seg.Duration <= 0 {
			t.Errorf("segment %s duration = %s, want > 0", seg.CorrelationID, seg.Duration)
		}
	}
}

func TestProcessStream_FlushesPartialBatchOnClose(t *testing.T) {
	p, err := pipeline.New(pipeline.Config{BatchCapacity: 5, MinSegmentDuration: 10 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}

	segs := feedAndCollect(t, p, []audio.AudioChunk{loudChunk(1), loudChunk(2)})

	if len(segs) != 3 {
		t.Fatalf("segment count = %d, want 2 placeholders + 1 flush", len(segs))
	}
	last := segs[2]
	if last.Status != pipeline.StatusCompleted {
		t.Fatalf("flush segment status = %q, want completed", last.Status)
	}
	if last.Duration != 200*time.Millisecond {
		t.Errorf("flush segment duration = %s, want 200ms", last.Duration)
	}
}

func TestProcessStream_SilentBatchSkipped(t *testing.T) {
	p, err := pipeline.New(pipeline.Config{BatchCapacity: 2, MinSegmentDuration: 10 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}

	segs := feedAndCollect(t, p, []audio.AudioChunk{silentChunk(1), silentChunk(2)})

	if len(segs) != 2 {
		t.Fatalf("segment count = %d, want 2", len(segs))
	}
	if segs[1].Status != pipeline.StatusSkipped {
		t.Errorf("silent batch status = %q, want skipped", segs[1].Status)
	}
	if len(segs[1].Audio) != 0 {
		t.Errorf("skipped segment carries %d audio bytes, want 0", len(segs[1].Audio))
	}
}

func TestProcessStream_ShortBatchSkipped(t *testing.T) {
	p, err := pipeline.New(pipeline.Config{
		BatchCapacity:      2,
		MinSegmentDuration: 500 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}

	segs := feedAndCollect(t, p, []audio.AudioChunk{loudChunk(1), loudChunk(2)})

	if len(segs) != 2 {
		t.Fatalf("segment count = %d, want 2", len(segs))
	}
	if segs[1].Status != pipeline.StatusSkipped {
		t.Errorf("200ms batch below 500ms minimum: status = %q, want skipped", segs[1].Status)
	}
}

func TestProcessStream_StageErrorFailsSegmentAndContinues(t *testing.T) {
	enh := &enhancemock.Enhancer{Err: errors.New("denoise backend down")}
	p, err := pipeline.New(
		pipeline.Config{BatchCapacity: 2, MinSegmentDuration: 10 * time.Millisecond, Denoise: true},
		pipeline.WithEnhancer(enh),
	)
	if err != nil {
		t.Fatal(err)
	}

	chunks := []audio.AudioChunk{loudChunk(1), loudChunk(2), loudChunk(3), loudChunk(4)}
	segs := feedAndCollect(t, p, chunks)

	if len(segs) != 4 {
		t.Fatalf("segment count = %d, want 4 (stream must continue past failures)", len(segs))
	}
	for _, i := range []int{1, 3} {
		if segs[i].Status != pipeline.StatusFailed {
			t.Errorf("segment %d status = %q, want failed", i, segs[i].Status)
		}
		if segs[i].Metadata["error"] == "" {
			t.Errorf("segment %d missing error metadata", i)
		}
		if len(segs[i].Audio) != 0 {
			t.Errorf("failed segment %d carries audio payload", i)
		}
	}
}

func TestProcessStream_WakeDetection(t *testing.T) {
	tr := &sttmock.Transcriber{Results: []stt.Result{
		{Text: "hey calliope lights on", Confidence: 0.95, Language: "en"},
		{Text: "just some chatter", Confidence: 0.9, Language: "en"},
	}}
	p, err := pipeline.New(
		pipeline.Config{
			BatchCapacity:           2,
			MinSegmentDuration:      10 * time.Millisecond,
			WakePhrases:             []string{"hey calliope"},
			WakeConfidenceThreshold: 0.8,
		},
		pipeline.WithTranscriber(tr),
	)
	if err != nil {
		t.Fatal(err)
	}

	chunks := []audio.AudioChunk{loudChunk(1), loudChunk(2), loudChunk(3), loudChunk(4)}
	segs := feedAndCollect(t, p, chunks)

	if len(segs) != 4 {
		t.Fatalf("segment count = %d, want 4", len(segs))
	}

	first := segs[1]
	if !first.Wake.Detected {
		t.Error("wake phrase in transcript not detected")
	}
	if first.Wake.Phrase != "hey calliope" {
		t.Errorf("wake phrase = %q, want %q", first.Wake.Phrase, "hey calliope")
	}
	if first.Metadata["transcript"] != "hey calliope lights on" {
		t.Errorf("transcript metadata = %q", first.Metadata["transcript"])
	}

	second := segs[3]
	if second.Wake.Detected {
		t.Error("chatter transcript should not trigger wake")
	}
	if second.Wake.Confidence != 0 {
		t.Errorf("non-detected confidence = %.3f, want 0", second.Wake.Confidence)
	}

	if got := tr.CallCount(); got != 2 {
		t.Errorf("transcriber calls = %d, want 2 (one per drained batch)", got)
	}
}

func TestProcessStream_InvalidChunkDropped(t *testing.T) {
	p, err := pipeline.New(pipeline.Config{BatchCapacity: 2, MinSegmentDuration: 10 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}

	bad := loudChunk(2)
	bad.Data = nil

	segs := feedAndCollect(t, p, []audio.AudioChunk{loudChunk(1), bad, loudChunk(3)})

	// The invalid chunk produces no segment; the two valid chunks fill one
	// batch.
	if len(segs) != 2 {
		t.Fatalf("segment count = %d, want 2", len(segs))
	}
	if segs[1].Status != pipeline.StatusCompleted {
		t.Errorf("batch status = %q, want completed", segs[1].Status)
	}
	if segs[1].CorrelationID != "chunk-3" {
		t.Errorf("batch correlation = %q, want chunk-3", segs[1].CorrelationID)
	}
}

func TestProcessStream_CancellationClosesStream(t *testing.T) {
	p, err := pipeline.New(pipeline.Config{})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan audio.AudioChunk)
	out := p.ProcessStream(ctx, "sess-1", in)

	cancel()

	select {
	case _, ok := <-out:
		if ok {
			// A buffered segment may still arrive; the channel must close
			// right after.
			if _, ok := <-out; ok {
				t.Error("stream did not close after cancellation")
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not close after cancellation")
	}
}

func TestNew_WakePhrasesRequireTranscriber(t *testing.T) {
	_, err := pipeline.New(pipeline.Config{WakePhrases: []string{"hey calliope"}})
	if err == nil {
		t.Fatal("expected an error")
	}
	if !fault.IsValidation(err) {
		t.Errorf("error is not a validation error: %v", err)
	}
}

func TestNew_DenoiseRequiresEnhancer(t *testing.T) {
	_, err := pipeline.New(pipeline.Config{Denoise: true})
	if err == nil {
		t.Fatal("expected an error")
	}
	if !fault.IsValidation(err) {
		t.Errorf("error is not a validation error: %v", err)
	}
}

func TestUpdateConfig_RejectsInvalid(t *testing.T) {
	p, err := pipeline.New(pipeline.Config{})
	if err != nil {
		t.Fatal(err)
	}
	before := p.Config()

	bad := pipeline.Config{BatchCapacity: -1}
	if err := p.UpdateConfig(bad); err == nil {
		t.Fatal("expected an error for negative batch capacity")
	}
	if got := p.Config(); got.BatchCapacity != before.BatchCapacity {
		t.Errorf("config mutated after failed update: %+v", got)
	}
}

func TestUpdateConfig_AppliesValid(t *testing.T) {
	p, err := pipeline.New(pipeline.Config{})
	if err != nil {
		t.Fatal(err)
	}

	next := p.Config()
	next.BatchCapacity = 10
	if err := p.UpdateConfig(next); err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}
	if got := p.Config().BatchCapacity; got != 10 {
		t.Errorf("batch capacity = %d, want 10", got)
	}
}

func TestConfigValidate_MinMustBeBelowMax(t *testing.T) {
	cfg := pipeline.Config{
		MinSegmentDuration: 2 * time.Second,
		MaxSegmentDuration: 1 * time.Second,
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for min >= max")
	}
}
