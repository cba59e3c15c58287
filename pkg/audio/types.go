package audio

import (
	"fmt"
	"time"

	"github.com/calliope-voice/calliope/internal/fault"
)

// Format describes the shape of a PCM stream: sample rate in Hz, channel
// count, and sample width in bytes per sample.
type Format struct {
	SampleRate  int
	Channels    int
	SampleWidth int
}

// String returns a human-readable description, e.g. "48000Hz stereo 16-bit".
func (f Format) String() string {
	ch := "mono"
	switch {
	case f.Channels == 2:
		ch = "stereo"
	case f.Channels > 2:
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s %d-bit", f.SampleRate, ch, f.SampleWidth*8)
}

// BytesPerSecond returns the raw data rate of the format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * f.SampleWidth
}

// AudioChunk is the atomic unit of audio transport: a slice of raw PCM
// captured by an input adapter, annotated with enough metadata to process it
// without consulting the adapter again.
type AudioChunk struct {
	// Data is raw little-endian PCM in the declared Format.
	Data []byte

	// Format describes Data's sample rate, channels, and sample width.
	Format Format

	// BitDepth is the bits per sample, normally Format.SampleWidth × 8.
	BitDepth int

	// Duration is the play length of Data.
	Duration time.Duration

	// CorrelationID ties the chunk to every segment, log line, and metric
	// derived from it downstream.
	CorrelationID string

	// Sequence is the adapter-assigned monotonic position within the stream.
	Sequence uint64

	// IsSilence is set by adapters that perform their own silence detection.
	IsSilence bool

	// VolumeHint is the adapter's rough level estimate in [0, 1], or 0 when
	// the adapter does not measure one.
	VolumeHint float64
}

// Validate reports whether the chunk is well-formed enough to enter the
// pipeline: payload present and the volume hint inside [0, 1].
func (c *AudioChunk) Validate() error {
	if len(c.Data) == 0 {
		return fault.Validationf("audio chunk %s: empty data", c.CorrelationID)
	}
	if c.VolumeHint < 0 || c.VolumeHint > 1 {
		return fault.Validationf("audio chunk %s: volume hint %v outside [0, 1]",
			c.CorrelationID, c.VolumeHint)
	}
	return nil
}

// SampleCount returns the number of samples in Data, counting all channels.
func (c *AudioChunk) SampleCount() int {
	if c.Format.SampleWidth <= 0 {
		return 0
	}
	return len(c.Data) / c.Format.SampleWidth
}
