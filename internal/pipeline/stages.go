package pipeline

import (
	"context"
	"encoding/binary"
	"math"

	"github.com/calliope-voice/calliope/internal/fault"
	"github.com/calliope-voice/calliope/pkg/audio"
)

// normalizeTarget is the peak level normalization aims for, as a fraction of
// int16 full scale. Leaving headroom avoids clipping after later stages.
const normalizeTarget = 0.9

// pcmSamples decodes little-endian int16 PCM. An odd trailing byte is
// ignored; batch audio is validated upstream so this is defensive only at
// the stage boundary.
func pcmSamples(pcm []byte) []int16 {
	n := len(pcm) / 2
	samples := make([]int16, n)
	for i := 0; i < n; i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[2*i:]))
	}
	return samples
}

// samplesPCM encodes int16 samples as little-endian PCM bytes.
func samplesPCM(samples []int16) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[2*i:], uint16(s))
	}
	return pcm
}

// normalizePCM scales the audio so its peak reaches normalizeTarget of full
// scale. All-zero input is returned unchanged.
func normalizePCM(pcm []byte) []byte {
	samples := pcmSamples(pcm)
	var peak int32
	for _, s := range samples {
		v := int32(s)
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	if peak == 0 {
		return pcm
	}

	gain := normalizeTarget * math.MaxInt16 / float64(peak)
	if gain <= 1 {
		// Already at or above target level.
		return pcm
	}
	for i, s := range samples {
		v := int32(math.Round(float64(s) * gain))
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		samples[i] = int16(v)
	}
	return samplesPCM(samples)
}

// rmsVolume returns the RMS level of the audio normalised to [0,1].
func rmsVolume(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	return clamp01(rms / math.MaxInt16)
}

// noiseFloor estimates the noise floor as the RMS of the quietest decile of
// fixed-size windows, normalised to [0,1]. Short inputs fall back to the
// overall RMS.
func noiseFloor(samples []int16, sampleRate, channels int) float64 {
	// 10ms analysis windows.
	window := sampleRate * channels / 100
	if window <= 0 || len(samples) < 2*window {
		return rmsVolume(samples)
	}

	var levels []float64
	for i := 0; i+window <= len(samples); i += window {
		levels = append(levels, rmsVolume(samples[i:i+window]))
	}

	// Selection by repeated minimum keeps this allocation-free beyond the
	// levels slice; window counts are small.
	quietest := len(levels) / 10
	if quietest == 0 {
		quietest = 1
	}
	var sum float64
	for range quietest {
		minIdx := 0
		for j, l := range levels {
			if l < levels[minIdx] {
				minIdx = j
			}
		}
		sum += levels[minIdx]
		levels[minIdx] = math.Inf(1)
	}
	return clamp01(sum / float64(quietest))
}

// claritySignal scores how far the signal rises above the noise floor,
// normalised to [0,1]. Silence scores 0.
func claritySignal(volume, noise float64) float64 {
	if volume <= 0 {
		return 0
	}
	return clamp01((volume - noise) / volume)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// extractQuality computes the quality metrics of processed batch audio.
func extractQuality(pcm []byte, format audio.Format) Quality {
	samples := pcmSamples(pcm)
	volume := rmsVolume(samples)
	noise := noiseFloor(samples, format.SampleRate, format.Channels)
	return Quality{
		Volume:  volume,
		Noise:   noise,
		Clarity: claritySignal(volume, noise),
	}
}

// runStages applies the fixed stage order to the drained batch audio:
// format conversion and resampling happened per chunk on the way into the
// batch, so this covers normalize → denoise → enhance → quality metrics.
// A stage failure returns a fault.Processing naming the stage.
func (p *Pipeline) runStages(ctx context.Context, cfg Config, pcm []byte) ([]byte, Quality, error) {
	if cfg.Normalize {
		pcm = normalizePCM(pcm)
	}

	if cfg.Denoise && p.enhancer != nil {
		cleaned, err := p.enhancer.Enhance(ctx, pcm)
		if err != nil {
			return nil, Quality{}, &fault.Processing{Stage: "denoise", Err: err}
		}
		pcm = cleaned
	}

	if cfg.Enhance && p.enhancer != nil {
		enhanced, err := p.enhancer.Enhance(ctx, pcm)
		if err != nil {
			return nil, Quality{}, &fault.Processing{Stage: "enhance", Err: err}
		}
		pcm = enhanced
	}

	return pcm, extractQuality(pcm, cfg.TargetFormat()), nil
}
