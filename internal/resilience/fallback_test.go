package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/calliope-voice/calliope/internal/resilience"
	"github.com/calliope-voice/calliope/pkg/audio"
	"github.com/calliope-voice/calliope/pkg/provider/llm"
	llmmock "github.com/calliope-voice/calliope/pkg/provider/llm/mock"
	"github.com/calliope-voice/calliope/pkg/provider/stt"
	sttmock "github.com/calliope-voice/calliope/pkg/provider/stt/mock"
	ttsmock "github.com/calliope-voice/calliope/pkg/provider/tts/mock"
)

func newChain(names ...string) *resilience.Chain[string] {
	c := resilience.NewChain[string](resilience.ChainConfig{
		Breaker: resilience.CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
	})
	for _, n := range names {
		c.Add(n, n)
	}
	return c
}

func TestChain_PrimaryServes(t *testing.T) {
	c := newChain("primary", "secondary")

	var served string
	if err := c.Try(func(v string) error {
		served = v
		return nil
	}); err != nil {
		t.Fatalf("Try: %v", err)
	}
	if served != "primary" {
		t.Errorf("served by %q, want primary", served)
	}
}

func TestChain_FailsOverInOrder(t *testing.T) {
	c := newChain("primary", "secondary")

	var served string
	err := c.Try(func(v string) error {
		if v == "primary" {
			return transportErr()
		}
		served = v
		return nil
	})
	if err != nil {
		t.Fatalf("Try: %v", err)
	}
	if served != "secondary" {
		t.Errorf("served by %q, want secondary", served)
	}
}

func TestChain_AllFail(t *testing.T) {
	c := newChain("primary", "secondary")

	err := c.Try(func(string) error { return transportErr() })
	if !errors.Is(err, resilience.ErrAllProvidersFailed) {
		t.Errorf("err = %v, want ErrAllProvidersFailed", err)
	}
}

func TestChain_Empty(t *testing.T) {
	c := newChain()

	err := c.Try(func(string) error { return nil })
	if !errors.Is(err, resilience.ErrAllProvidersFailed) {
		t.Errorf("err = %v, want ErrAllProvidersFailed", err)
	}
}

func TestChain_OpenBreakerSkipsPrimary(t *testing.T) {
	c := newChain("primary", "secondary")

	// Trip the primary's breaker.
	for i := 0; i < 2; i++ {
		_ = c.Try(func(v string) error {
			if v == "primary" {
				return transportErr()
			}
			return nil
		})
	}

	// The primary must not see the call while its breaker is open.
	var calls []string
	if err := c.Try(func(v string) error {
		calls = append(calls, v)
		return nil
	}); err != nil {
		t.Fatalf("Try: %v", err)
	}
	if len(calls) != 1 || calls[0] != "secondary" {
		t.Errorf("calls = %v, want only secondary", calls)
	}
}

func TestAttempt_ReturnsWinningResult(t *testing.T) {
	c := newChain("primary", "secondary")

	got, err := resilience.Attempt(c, func(v string) (int, error) {
		if v == "primary" {
			return 0, transportErr()
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("Attempt: %v", err)
	}
	if got != 42 {
		t.Errorf("result = %d, want 42", got)
	}
}

func TestFallbackCompleter_FailsOver(t *testing.T) {
	primary := &llmmock.Completer{Err: transportErr()}
	secondary := &llmmock.Completer{Response: &llm.Response{Text: "from backup"}}

	fc := resilience.NewFallbackCompleter(primary, "openai", resilience.ChainConfig{})
	fc.Add("ollama", secondary)

	resp, err := fc.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text != "from backup" {
		t.Errorf("text = %q", resp.Text)
	}
	if primary.CallCount() != 1 || secondary.CallCount() != 1 {
		t.Errorf("call counts = %d/%d, want 1/1", primary.CallCount(), secondary.CallCount())
	}
}

func TestFallbackSynthesizer_FailsOver(t *testing.T) {
	primary := &ttsmock.Synthesizer{Err: transportErr()}
	secondary := &ttsmock.Synthesizer{Audio: []byte{1, 2, 3}}

	fs := resilience.NewFallbackSynthesizer(primary, "openai", resilience.ChainConfig{})
	fs.Add("backup", secondary)

	pcm, err := fs.Synthesize(context.Background(), "hello", "alloy")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(pcm) != 3 {
		t.Errorf("pcm = %v", pcm)
	}
	if got := secondary.Calls[0].Voice; got != "alloy" {
		t.Errorf("voice = %q, want alloy", got)
	}
}

func TestFallbackTranscriber_PrimaryServes(t *testing.T) {
	primary := &sttmock.Transcriber{Result: stt.Result{Text: "turn on the lights", Confidence: 0.9}}
	secondary := &sttmock.Transcriber{}

	ft := resilience.NewFallbackTranscriber(primary, "whisper", resilience.ChainConfig{})
	ft.Add("backup", secondary)

	res, err := ft.Transcribe(context.Background(), make([]byte, 320), audio.Format{
		SampleRate: 16000, Channels: 1, SampleWidth: 2,
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "turn on the lights" {
		t.Errorf("text = %q", res.Text)
	}
	if secondary.CallCount() != 0 {
		t.Errorf("fallback saw %d calls, want 0", secondary.CallCount())
	}
}
