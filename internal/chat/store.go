package chat

import (
	"context"

	"github.com/colebaker/chatwire/internal/llm"
)

// Store persists conversation state. The orchestrator reads history at
// turn start and writes messages at checkpoints (while streaming) and at
// turn end; it holds no message state between turns.
type Store interface {
	Messages(ctx context.Context, sessionID string) ([]llm.Message, error)
	AppendMessage(ctx context.Context, sessionID string, msg llm.Message) error
	UpdateMessage(ctx context.Context, sessionID string, msg llm.Message) error
	DeleteMessage(ctx context.Context, sessionID, messageID string) error
	// AddUsage accumulates token usage onto the session's running totals.
	AddUsage(ctx context.Context, sessionID string, usage llm.Usage) error
}

// Memory supplies ranked context snippets for the system prompt's
// <memory> block. An empty result omits the block entirely.
type Memory interface {
	Recall(ctx context.Context, sessionID, query string, limit int) ([]string, error)
}
