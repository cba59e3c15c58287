package pipeline

import (
	"math"
	"testing"

	"github.com/calliope-voice/calliope/pkg/audio"
)

// tonePCM builds n samples of a square-ish tone at the given amplitude.
func tonePCM(n int, amplitude int16) []byte {
	samples := make([]int16, n)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = amplitude
		} else {
			samples[i] = -amplitude
		}
	}
	return samplesPCM(samples)
}

func TestNormalizePCM_ScalesToTarget(t *testing.T) {
	pcm := tonePCM(160, 1000)
	out := normalizePCM(pcm)

	samples := pcmSamples(out)
	var peak int16
	for _, s := range samples {
		if s > peak {
			peak = s
		}
	}
	want := int16(normalizeTarget * math.MaxInt16)
	if peak < want-1 || peak > want+1 {
		t.Errorf("peak after normalize = %d, want ~%d", peak, want)
	}
}

func TestNormalizePCM_SilenceUnchanged(t *testing.T) {
	pcm := make([]byte, 320)
	out := normalizePCM(pcm)
	for i, b := range out {
		if b != 0 {
			t.Fatalf("byte %d = %d, want 0", i, b)
		}
	}
}

func TestNormalizePCM_LoudInputNotAttenuated(t *testing.T) {
	pcm := tonePCM(160, math.MaxInt16)
	out := normalizePCM(pcm)
	if string(out) != string(pcm) {
		t.Error("full-scale input should be returned unchanged")
	}
}

func TestExtractQuality_BoundsForSilence(t *testing.T) {
	q := extractQuality(make([]byte, 3200), audio.Format{SampleRate: 16000, Channels: 1, SampleWidth: 2})
	checkQualityBounds(t, q)
	if q.Volume != 0 {
		t.Errorf("silence volume = %.3f, want 0", q.Volume)
	}
	if q.Clarity != 0 {
		t.Errorf("silence clarity = %.3f, want 0", q.Clarity)
	}
}

func TestExtractQuality_BoundsForTone(t *testing.T) {
	q := extractQuality(tonePCM(3200, 12000), audio.Format{SampleRate: 16000, Channels: 1, SampleWidth: 2})
	checkQualityBounds(t, q)
	if q.Volume <= 0 {
		t.Errorf("tone volume = %.3f, want > 0", q.Volume)
	}
}

func TestExtractQuality_BoundsForEmpty(t *testing.T) {
	q := extractQuality(nil, audio.Format{SampleRate: 16000, Channels: 1, SampleWidth: 2})
	checkQualityBounds(t, q)
}

func checkQualityBounds(t *testing.T, q Quality) {
	t.Helper()
	for name, v := range map[string]float64{"volume": q.Volume, "noise": q.Noise, "clarity": q.Clarity} {
		if v < 0 || v > 1 {
			t.Errorf("%s = %.3f, out of [0, 1]", name, v)
		}
	}
}

func TestIsHighQuality(t *testing.T) {
	tests := []struct {
		name string
		q    Quality
		want bool
	}{
		{"clear speech", Quality{Volume: 0.4, Noise: 0.1, Clarity: 0.8}, true},
		{"too quiet", Quality{Volume: 0.05, Noise: 0.1, Clarity: 0.8}, false},
		{"too noisy", Quality{Volume: 0.4, Noise: 0.5, Clarity: 0.8}, false},
		{"muddy", Quality{Volume: 0.4, Noise: 0.1, Clarity: 0.5}, false},
		{"boundary values", Quality{Volume: 0.1, Noise: 0.3, Clarity: 0.7}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			seg := &Segment{Quality: tc.q}
			if got := seg.IsHighQuality(); got != tc.want {
				t.Errorf("IsHighQuality() = %v, want %v", got, tc.want)
			}
		})
	}
}
