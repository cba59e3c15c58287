package history

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory [Store]. It keeps every exchange for the
// lifetime of the process; use it for tests and deployments without a
// database.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]Exchange
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty [MemoryStore].
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string][]Exchange)}
}

// WriteExchange implements [Store].
func (s *MemoryStore) WriteExchange(_ context.Context, ex Exchange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[ex.SessionID] = append(s.sessions[ex.SessionID], ex)
	return nil
}

// RecentExchanges implements [Store].
func (s *MemoryStore) RecentExchanges(_ context.Context, sessionID string, limit int) ([]Exchange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.sessions[sessionID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]Exchange, len(all))
	copy(out, all)
	return out, nil
}
