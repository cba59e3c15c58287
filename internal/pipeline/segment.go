package pipeline

import (
	"time"

	"github.com/calliope-voice/calliope/pkg/audio"
)

// Status is the processing state of a [Segment]. Segments move
// Pending → Processing → one of the terminal states; terminal states never
// transition again.
type Status string

const (
	// StatusPending marks a placeholder emitted while chunks are still
	// accumulating in the batch buffer.
	StatusPending Status = "pending"

	// StatusProcessing marks a segment whose batch is being transformed.
	// Callers never observe this state on an emitted segment; it exists for
	// logging and metrics attribution.
	StatusProcessing Status = "processing"

	// StatusCompleted marks a fully processed segment.
	StatusCompleted Status = "completed"

	// StatusFailed marks a segment whose processing stage raised. The error
	// is recorded in Metadata["error"] and the audio payload is empty.
	StatusFailed Status = "failed"

	// StatusSkipped marks a segment dropped for content reasons: all chunks
	// were silent, or the batch was shorter than the configured minimum.
	StatusSkipped Status = "skipped"
)

// Wake holds the wake-phrase detection result for a segment.
type Wake struct {
	// Detected reports whether any configured phrase met the confidence
	// threshold.
	Detected bool

	// Phrase is the matched phrase, empty when Detected is false.
	Phrase string

	// Confidence is the similarity score of the match in [0,1]. Zero when
	// Detected is false.
	Confidence float64
}

// Quality holds the extracted quality metrics for a segment. All fields are
// normalised to [0,1].
type Quality struct {
	// Volume is the RMS level of the segment audio.
	Volume float64

	// Noise is the estimated noise floor.
	Noise float64

	// Clarity is a heuristic signal-above-floor score.
	Clarity float64
}

// Segment is one unit of pipeline output: the processed audio of a drained
// chunk batch, or a lightweight placeholder while the batch is still filling.
type Segment struct {
	// Audio is the processed PCM payload in TargetFormat. Empty for Pending,
	// Failed, and Skipped segments.
	Audio []byte

	// CorrelationID is carried over from the chunk that completed the batch
	// (or, for placeholders, the buffered chunk itself).
	CorrelationID string

	// SessionID identifies the owning session stream.
	SessionID string

	// SourceFormat is the format the chunks arrived in.
	SourceFormat audio.Format

	// TargetFormat is the format the audio was converted to.
	TargetFormat audio.Format

	// Duration is the audio duration of the batch. Zero for Pending
	// placeholders.
	Duration time.Duration

	// Status is the terminal (or placeholder) state of this segment.
	Status Status

	// ProcessedAt is when processing of the batch finished.
	ProcessedAt time.Time

	// Elapsed is how long the processing stages took.
	Elapsed time.Duration

	// Wake is the wake-phrase detection result.
	Wake Wake

	// Quality holds the extracted quality metrics.
	Quality Quality

	// Metadata carries free-form per-segment annotations, e.g. the
	// transcript used for wake scoring or the stage error of a Failed
	// segment.
	Metadata map[string]string
}

// IsHighQuality reports whether the segment's metrics clear the fixed
// usability bar. It is a pure function of Quality, never stored.
func (s *Segment) IsHighQuality() bool {
	return s.Quality.Clarity >= 0.7 && s.Quality.Noise <= 0.3 && s.Quality.Volume >= 0.1
}
