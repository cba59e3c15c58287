package audio

import (
	"log/slog"
	"sync"
	"time"
)

// decodeSamples interprets little-endian int16 PCM bytes as samples. A
// trailing odd byte is ignored.
func decodeSamples(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}
	return samples
}

// encodeSamples serializes samples as little-endian int16 PCM bytes.
func encodeSamples(samples []int16) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		pcm[i*2] = byte(s)
		pcm[i*2+1] = byte(s >> 8)
	}
	return pcm
}

// clampInt16 narrows a widened sample back into int16 range.
func clampInt16(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// MonoToStereo duplicates each int16 mono sample into a stereo L+R pair.
// Input must be little-endian int16 PCM; a trailing odd byte is dropped.
func MonoToStereo(pcm []byte) []byte {
	mono := decodeSamples(pcm)
	stereo := make([]int16, len(mono)*2)
	for i, s := range mono {
		stereo[i*2] = s
		stereo[i*2+1] = s
	}
	return encodeSamples(stereo)
}

// StereoToMono averages L+R per stereo frame to produce mono output, widening
// to int32 for the sum and clamping the result to int16 range.
func StereoToMono(pcm []byte) []byte {
	stereo := decodeSamples(pcm)
	frames := len(stereo) / 2
	mono := make([]int16, frames)
	for i := 0; i < frames; i++ {
		sum := int32(stereo[i*2]) + int32(stereo[i*2+1])
		mono[i] = clampInt16(sum / 2)
	}
	return encodeSamples(mono)
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using
// linear interpolation. Non-positive or equal rates return the input
// unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	src := decodeSamples(pcm)
	dst := resampleLinear(src, 1, srcRate, dstRate)
	if dst == nil {
		return nil
	}
	return encodeSamples(dst)
}

// ResampleStereo16 resamples 16-bit interleaved stereo PCM from srcRate to
// dstRate using linear interpolation per channel. Non-positive or equal rates
// return the input unchanged.
func ResampleStereo16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 4 {
		return pcm
	}
	src := decodeSamples(pcm)
	dst := resampleLinear(src, 2, srcRate, dstRate)
	if dst == nil {
		return nil
	}
	return encodeSamples(dst)
}

// resampleLinear resamples interleaved samples with the given channel count
// from srcRate to dstRate by linear interpolation between adjacent frames.
func resampleLinear(src []int16, channels, srcRate, dstRate int) []int16 {
	srcFrames := len(src) / channels
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	dst := make([]int16, dstFrames*channels)
	ratio := float64(srcRate) / float64(dstRate)

	for i := 0; i < dstFrames; i++ {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		for ch := 0; ch < channels; ch++ {
			s0 := src[srcIdx*channels+ch]
			s1 := s0
			if srcIdx+1 < srcFrames {
				s1 = src[(srcIdx+1)*channels+ch]
			}
			dst[i*channels+ch] = int16(float64(s0)*(1-frac) + float64(s1)*frac)
		}
	}
	return dst
}

// ChunkConverter converts [AudioChunk] values to a target format: resample
// first, then channel conversion. It logs once per stream on the first format
// mismatch and once on the first corrupt payload. Create one per stream; not
// designed for shared use across goroutines.
type ChunkConverter struct {
	Target         Format
	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Convert converts chunk to the target format, recomputing Duration from the
// converted payload. A chunk already in the target format is returned
// unchanged (zero allocation). A chunk whose payload is not int16-aligned is
// returned with empty data so callers can drop it.
func (c *ChunkConverter) Convert(chunk AudioChunk) AudioChunk {
	if len(chunk.Data)%2 != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("chunk converter: odd byte count in PCM data, dropping",
				"bytes", len(chunk.Data),
				"format", chunk.Format.String(),
				"correlation_id", chunk.CorrelationID,
			)
		})
		dropped := chunk
		dropped.Data = nil
		dropped.Format = c.Target
		dropped.Duration = 0
		return dropped
	}

	if chunk.Format.SampleRate == c.Target.SampleRate && chunk.Format.Channels == c.Target.Channels {
		return chunk
	}

	c.warnedMismatch.Do(func() {
		slog.Warn("chunk format mismatch: converting",
			"from", chunk.Format.String(),
			"to", c.Target.String(),
		)
	})

	pcm := chunk.Data

	// Resample before channel conversion so stereo sources headed for mono
	// are not resampled twice as wide.
	if chunk.Format.SampleRate != c.Target.SampleRate {
		if chunk.Format.Channels == 1 {
			pcm = ResampleMono16(pcm, chunk.Format.SampleRate, c.Target.SampleRate)
		} else {
			pcm = ResampleStereo16(pcm, chunk.Format.SampleRate, c.Target.SampleRate)
		}
	}

	switch {
	case chunk.Format.Channels == 1 && c.Target.Channels == 2:
		pcm = MonoToStereo(pcm)
	case chunk.Format.Channels == 2 && c.Target.Channels == 1:
		pcm = StereoToMono(pcm)
	}

	out := chunk
	out.Data = pcm
	out.Format = c.Target
	out.BitDepth = c.Target.SampleWidth * 8
	if bps := c.Target.BytesPerSecond(); bps > 0 {
		out.Duration = time.Duration(len(pcm)) * time.Second / time.Duration(bps)
	}
	return out
}
