package config

import (
	"errors"
	"testing"

	"github.com/calliope-voice/calliope/pkg/provider/llm"
	llmmock "github.com/calliope-voice/calliope/pkg/provider/llm/mock"
)

func TestRegistry_CreateRegistered(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	var got ProviderEntry
	r.RegisterLLM("mock", func(entry ProviderEntry) (llm.Completer, error) {
		got = entry
		return &llmmock.Completer{}, nil
	})

	c, err := r.CreateLLM(ProviderEntry{Name: "mock", Model: "tiny"})
	if err != nil {
		t.Fatalf("CreateLLM: %v", err)
	}
	if c == nil {
		t.Fatal("nil completer")
	}
	if got.Model != "tiny" {
		t.Errorf("entry not passed through: %+v", got)
	}
}

func TestRegistry_UnregisteredName(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	_, err := r.CreateSTT(ProviderEntry{Name: "ghost"})
	if !errors.Is(err, ErrProviderNotRegistered) {
		t.Errorf("error = %v, want ErrProviderNotRegistered", err)
	}
}
