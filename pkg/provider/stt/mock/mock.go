// Package mock provides an in-memory mock implementation of the
// [stt.Transcriber] interface for use in unit tests.
package mock

import (
	"context"
	"sync"

	"github.com/calliope-voice/calliope/pkg/audio"
	"github.com/calliope-voice/calliope/pkg/provider/stt"
)

// TranscribeCall records the arguments of a single Transcribe invocation.
type TranscribeCall struct {
	// PCM is the payload passed to Transcribe.
	PCM []byte
	// Format is the format passed to Transcribe.
	Format audio.Format
}

// Transcriber is a mock implementation of [stt.Transcriber]. Set the Result
// and Err fields before use; inspect Calls after.
type Transcriber struct {
	mu sync.Mutex

	// Result is returned by Transcribe.
	Result stt.Result

	// Results, when non-empty, is consumed one entry per call before falling
	// back to Result.
	Results []stt.Result

	// Err is returned by Transcribe.
	Err error

	// Calls records all Transcribe invocations.
	Calls []TranscribeCall
}

var _ stt.Transcriber = (*Transcriber)(nil)

// Transcribe implements [stt.Transcriber]. Records the call and returns the
// scripted result.
func (m *Transcriber) Transcribe(_ context.Context, pcm []byte, format audio.Format) (stt.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, TranscribeCall{PCM: pcm, Format: format})
	if len(m.Results) > 0 {
		r := m.Results[0]
		m.Results = m.Results[1:]
		return r, m.Err
	}
	return m.Result, m.Err
}

// CallCount returns how many times Transcribe was called.
func (m *Transcriber) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
