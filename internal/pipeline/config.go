package pipeline

import (
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/calliope-voice/calliope/pkg/audio"
)

// Default configuration values applied by [Config.withDefaults].
const (
	defaultTargetSampleRate = 16000
	defaultTargetChannels   = 1
	defaultWakeThreshold    = 0.8
	defaultMinSegment       = 50 * time.Millisecond
	defaultMaxSegment       = 30 * time.Second
	defaultBatchCapacity    = 5
)

// Config controls chunk→segment processing. A Config is immutable once
// handed to [New]; the only supported post-construction mutation is
// [Pipeline.UpdateConfig], which validates before swapping.
type Config struct {
	// TargetSampleRate is the sample rate segments are resampled to.
	// Default 16000.
	TargetSampleRate int `yaml:"target_sample_rate"`

	// TargetChannels is the channel count segments are converted to.
	// Default 1 (mono).
	TargetChannels int `yaml:"target_channels"`

	// WakePhrases is the ordered list of wake phrases. Empty disables wake
	// detection and every completed segment reports Detected=false.
	WakePhrases []string `yaml:"wake_phrases"`

	// WakeConfidenceThreshold is the minimum similarity score for a phrase
	// match, in [0,1]. Default 0.8.
	WakeConfidenceThreshold float64 `yaml:"wake_confidence_threshold"`

	// Normalize enables peak normalization of the batch audio.
	Normalize bool `yaml:"normalize"`

	// Denoise enables the noise-reduction stage (requires an Enhancer).
	Denoise bool `yaml:"denoise"`

	// Enhance enables the enhancement stage (requires an Enhancer).
	Enhance bool `yaml:"enhance"`

	// MinSegmentDuration is the shortest batch worth processing; shorter
	// batches are emitted as Skipped. Default 50ms.
	MinSegmentDuration time.Duration `yaml:"min_segment_duration"`

	// MaxSegmentDuration caps how much audio accumulates before the batch
	// drains regardless of chunk count. Default 30s.
	MaxSegmentDuration time.Duration `yaml:"max_segment_duration"`

	// BatchCapacity is the number of chunks accumulated before a processing
	// call. Default 5.
	BatchCapacity int `yaml:"batch_capacity"`
}

// duration decodes YAML scalars in Go duration syntax ("50ms", "30s") or
// integer nanoseconds.
type duration time.Duration

func (d *duration) UnmarshalYAML(node *yaml.Node) error {
	var n int64
	if err := node.Decode(&n); err == nil {
		*d = duration(n)
		return nil
	}
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = duration(v)
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler so the duration fields accept
// human-readable strings like "50ms"; yaml.v3 only decodes integer
// nanoseconds into [time.Duration] on its own.
func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type raw struct {
		TargetSampleRate        int      `yaml:"target_sample_rate"`
		TargetChannels          int      `yaml:"target_channels"`
		WakePhrases             []string `yaml:"wake_phrases"`
		WakeConfidenceThreshold float64  `yaml:"wake_confidence_threshold"`
		Normalize               bool     `yaml:"normalize"`
		Denoise                 bool     `yaml:"denoise"`
		Enhance                 bool     `yaml:"enhance"`
		MinSegmentDuration      duration `yaml:"min_segment_duration"`
		MaxSegmentDuration      duration `yaml:"max_segment_duration"`
		BatchCapacity           int      `yaml:"batch_capacity"`
	}
	var r raw
	if err := node.Decode(&r); err != nil {
		return err
	}
	*c = Config{
		TargetSampleRate:        r.TargetSampleRate,
		TargetChannels:          r.TargetChannels,
		WakePhrases:             r.WakePhrases,
		WakeConfidenceThreshold: r.WakeConfidenceThreshold,
		Normalize:               r.Normalize,
		Denoise:                 r.Denoise,
		Enhance:                 r.Enhance,
		MinSegmentDuration:      time.Duration(r.MinSegmentDuration),
		MaxSegmentDuration:      time.Duration(r.MaxSegmentDuration),
		BatchCapacity:           r.BatchCapacity,
	}
	return nil
}

// TargetFormat returns the [audio.Format] segments are produced in.
func (c Config) TargetFormat() audio.Format {
	return audio.Format{
		SampleRate:  c.TargetSampleRate,
		Channels:    c.TargetChannels,
		SampleWidth: 2,
	}
}

// withDefaults returns a copy of c with zero values replaced by defaults.
func (c Config) withDefaults() Config {
	if c.TargetSampleRate == 0 {
		c.TargetSampleRate = defaultTargetSampleRate
	}
	if c.TargetChannels == 0 {
		c.TargetChannels = defaultTargetChannels
	}
	if c.WakeConfidenceThreshold == 0 {
		c.WakeConfidenceThreshold = defaultWakeThreshold
	}
	if c.MinSegmentDuration == 0 {
		c.MinSegmentDuration = defaultMinSegment
	}
	if c.MaxSegmentDuration == 0 {
		c.MaxSegmentDuration = defaultMaxSegment
	}
	if c.BatchCapacity == 0 {
		c.BatchCapacity = defaultBatchCapacity
	}
	return c
}

// Validate checks that c contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func (c Config) Validate() error {
	var errs []error

	if c.TargetSampleRate <= 0 {
		errs = append(errs, fmt.Errorf("target_sample_rate %d must be positive", c.TargetSampleRate))
	}
	if c.TargetChannels != 1 && c.TargetChannels != 2 {
		errs = append(errs, fmt.Errorf("target_channels %d must be 1 or 2", c.TargetChannels))
	}
	if c.WakeConfidenceThreshold < 0 || c.WakeConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("wake_confidence_threshold %.2f is out of range [0, 1]", c.WakeConfidenceThreshold))
	}
	for i, p := range c.WakePhrases {
		if p == "" {
			errs = append(errs, fmt.Errorf("wake_phrases[%d] is empty", i))
		}
	}
	if c.MinSegmentDuration < 0 {
		errs = append(errs, fmt.Errorf("min_segment_duration %s must not be negative", c.MinSegmentDuration))
	}
	if c.MinSegmentDuration >= c.MaxSegmentDuration {
		errs = append(errs, fmt.Errorf("min_segment_duration %s must be shorter than max_segment_duration %s",
			c.MinSegmentDuration, c.MaxSegmentDuration))
	}
	if c.BatchCapacity < 1 {
		errs = append(errs, fmt.Errorf("batch_capacity %d must be at least 1", c.BatchCapacity))
	}

	return errors.Join(errs...)
}
