package agent

import (
	"time"

	"github.com/calliope-voice/calliope/pkg/provider/llm"
)

// Exchange is one completed prompt/response pair.
type Exchange struct {
	Prompt   string
	Response string
	At       time.Time
}

// Conversation is the append-only exchange history of one session. It is
// created lazily by the [Agent] on the first handled segment and discarded
// at [Agent.EndConversation].
//
// Conversation is not safe for concurrent use on its own; the Agent
// serialises access per session.
type Conversation struct {
	// SessionID identifies the owning session.
	SessionID string

	// CreatedAt is when the first segment arrived.
	CreatedAt time.Time

	// LastActive is when the last exchange completed.
	LastActive time.Time

	exchanges []Exchange
}

// newConversation starts an empty conversation for sessionID.
func newConversation(sessionID string) *Conversation {
	now := time.Now()
	return &Conversation{
		SessionID:  sessionID,
		CreatedAt:  now,
		LastActive: now,
	}
}

// record appends one completed exchange.
func (c *Conversation) record(prompt, response string) {
	now := time.Now()
	c.exchanges = append(c.exchanges, Exchange{Prompt: prompt, Response: response, At: now})
	c.LastActive = now
}

// Exchanges returns a copy of the history, oldest first.
func (c *Conversation) Exchanges() []Exchange {
	out := make([]Exchange, len(c.exchanges))
	copy(out, c.exchanges)
	return out
}

// messages renders up to limit of the most recent exchanges as alternating
// user/assistant messages for the next completion request.
func (c *Conversation) messages(limit int) []llm.Message {
	history := c.exchanges
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	msgs := make([]llm.Message, 0, 2*len(history))
	for _, ex := range history {
		msgs = append(msgs,
			llm.Message{Role: llm.RoleUser, Content: ex.Prompt},
			llm.Message{Role: llm.RoleAssistant, Content: ex.Response},
		)
	}
	return msgs
}
