// Package history persists conversation exchanges so that sessions survive a
// process restart. The [Store] interface has two implementations: a
// PostgreSQL store for production and an in-memory store for tests and
// DSN-less deployments.
package history

import (
	"context"
	"time"
)

// Exchange is one prompt/response pair of a conversation.
type Exchange struct {
	// SessionID identifies the session the exchange belongs to.
	SessionID string

	// Prompt is the user's utterance as transcribed.
	Prompt string

	// Response is the assistant's final spoken text.
	Response string

	// At is when the exchange completed.
	At time.Time
}

// Store persists exchanges per session.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// WriteExchange appends one exchange.
	WriteExchange(ctx context.Context, ex Exchange) error

	// RecentExchanges returns up to limit of the most recent exchanges for
	// sessionID, ordered chronologically (oldest first). A limit <= 0 means
	// no limit.
	RecentExchanges(ctx context.Context, sessionID string, limit int) ([]Exchange, error)
}
