package chat

import (
	"time"

	"github.com/colebaker/chatwire/internal/llm"
)

// EventType names the orchestrator's turn events.
type EventType string

const (
	// EventContent carries a fragment of assistant text.
	EventContent EventType = "content"
	// EventReasoning carries a fragment of reasoning text.
	EventReasoning EventType = "reasoning"
	// EventToolStart announces a tool about to execute.
	EventToolStart EventType = "tool_start"
	// EventToolResult carries a finished tool call with its result.
	EventToolResult EventType = "tool_result"
	// EventRetry announces a backoff wait after a transient failure.
	EventRetry EventType = "retry"
	// EventFinished is the terminal event of a successful turn.
	EventFinished EventType = "finished"
	// EventError is the terminal event of a failed turn.
	EventError EventType = "error"
)

// Event is one notification on a turn's event channel. The channel closes
// after the terminal event.
type Event struct {
	Type      EventType
	Content   string
	ToolCall  *llm.ToolCall
	Attempt   int
	Wait      time.Duration
	Err       error
	MessageID string
}

// TurnState is the terminal state of a turn.
type TurnState string

const (
	TurnFinished  TurnState = "finished"
	TurnCancelled TurnState = "cancelled"
	TurnErrored   TurnState = "errored"
)

// TurnResult reports how a turn ended. Message is the final assistant
// message for finished turns, the error-role message for errored ones,
// and nil for cancellations that removed the placeholder.
type TurnResult struct {
	State   TurnState
	Message *llm.Message
}
