package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/colebaker/chatwire/internal/llm"
)

// runToolCalls executes a finalized reply's tool calls and reports
// whether a follow-up model call is needed and whether a tool paused the
// turn for user input.
//
// Blocking calls run sequentially and always feed a follow-up. Unknown
// names fall under the configured policy. Non-blocking calls depend on
// whether the reply already carries content: with content they run in the
// background and skip the follow-up (the user has an answer); without
// content they run synchronously and do trigger one, so the turn never
// ends with nothing visible.
func (o *Orchestrator) runToolCalls(ctx context.Context, sessionID string, assistant *llm.Message, events chan<- Event) (followUp, pause bool) {
	persistCtx := context.WithoutCancel(ctx)
	contentPresent := strings.TrimSpace(assistant.Content()) != ""

	var blocking, background, deferred []llm.ToolCall
	for _, call := range assistant.ToolCalls {
		switch o.classify(call.Name) {
		case callBlocking:
			blocking = append(blocking, call)
		case callRejected:
			// Refused without execution; the model is told why.
			call.Result = fmt.Sprintf("tool %q is not available", call.Name)
			o.persistToolResult(persistCtx, sessionID, call, events)
			followUp = true
		default:
			if contentPresent {
				background = append(background, call)
			} else {
				deferred = append(deferred, call)
			}
		}
	}

	for _, call := range blocking {
		done, paused := o.executeCall(ctx, persistCtx, sessionID, call, events)
		if paused {
			return false, true
		}
		if !done {
			return false, false
		}
		followUp = true
	}

	for _, call := range deferred {
		done, paused := o.executeCall(ctx, persistCtx, sessionID, call, events)
		if paused {
			return false, true
		}
		if !done {
			return false, false
		}
		followUp = true
	}

	for _, call := range background {
		go o.executeBackground(sessionID, call)
	}

	return followUp, false
}

type callClass int

const (
	callNonBlocking callClass = iota
	callBlocking
	callRejected
)

// classify resolves a streamed tool name to its execution class. Unknown
// tools follow the configured policy; the historical default fails open
// toward progress and treats them as non-blocking.
func (o *Orchestrator) classify(name string) callClass {
	if o.Tools != nil {
		if tool, ok := o.Tools.Get(name); ok {
			if tool.Definition().Blocking {
				return callBlocking
			}
			return callNonBlocking
		}
	}
	switch o.Settings.unknownToolPolicy() {
	case UnknownToolBlocking:
		return callBlocking
	case UnknownToolReject:
		return callRejected
	default:
		return callNonBlocking
	}
}

// executeCall runs one tool synchronously and persists its result as a
// tool-role message. done is false only when the context was cancelled
// mid-execution; paused signals an ErrAwaitUserInput turn stop.
func (o *Orchestrator) executeCall(ctx, persistCtx context.Context, sessionID string, call llm.ToolCall, events chan<- Event) (done, paused bool) {
	emit(events, Event{Type: EventToolStart, ToolCall: &call})

	result, err := o.invoke(ctx, call)
	if ctx.Err() != nil {
		return false, false
	}
	if errors.Is(err, ErrAwaitUserInput) {
		if result == "" {
			result = err.Error()
		}
		call.Result = result
		o.persistToolResult(persistCtx, sessionID, call, events)
		return true, true
	}
	if err != nil {
		result = "error: " + err.Error()
	}
	call.Result = result
	o.persistToolResult(persistCtx, sessionID, call, events)
	return true, false
}

// executeBackground runs a fire-and-forget tool after the turn has
// already answered. The result still lands in the store; no events fire
// because the turn's channel is closing or closed.
func (o *Orchestrator) executeBackground(sessionID string, call llm.ToolCall) {
	ctx := context.Background()
	result, err := o.invoke(ctx, call)
	if err != nil && !errors.Is(err, ErrAwaitUserInput) {
		result = "error: " + err.Error()
	}
	call.Result = result
	o.persistToolResult(ctx, sessionID, call, nil)
}

func (o *Orchestrator) invoke(ctx context.Context, call llm.ToolCall) (string, error) {
	if o.Tools == nil {
		return "", fmt.Errorf("no tool registry configured")
	}
	tool, ok := o.Tools.Get(call.Name)
	if !ok {
		return "", fmt.Errorf("unknown tool %q", call.Name)
	}
	o.Logger.LogEvent("tool_execute", map[string]any{"tool": call.Name, "call_id": call.ID})
	return tool.Execute(ctx, call.Arguments)
}

// persistToolResult writes the finished call as a standalone tool-role
// message.
func (o *Orchestrator) persistToolResult(ctx context.Context, sessionID string, call llm.ToolCall, events chan<- Event) {
	msg := llm.NewMessage(llm.RoleTool, "")
	msg.ToolCalls = []llm.ToolCall{call}
	if err := o.Store.AppendMessage(ctx, sessionID, msg); err != nil {
		o.Logger.LogEvent("tool_result_persist_failed", map[string]any{"tool": call.Name, "error": err.Error()})
	}
	if events != nil {
		emit(events, Event{Type: EventToolResult, ToolCall: &call, MessageID: msg.ID})
	}
}

// ensureToolCallIDs fills in ids for providers that omit them; the agent
// loop needs an id to pair results with calls.
func ensureToolCallIDs(calls []llm.ToolCall) []llm.ToolCall {
	for i := range calls {
		if calls[i].ID == "" {
			calls[i].ID = "call-" + uuid.NewString()
		}
	}
	return calls
}

// dedupeToolCalls drops repeated ids, keeping the first occurrence. Some
// providers re-emit a completed call in the final frame.
func dedupeToolCalls(calls []llm.ToolCall) []llm.ToolCall {
	if len(calls) < 2 {
		return calls
	}
	seen := make(map[string]bool, len(calls))
	out := calls[:0]
	for _, call := range calls {
		if seen[call.ID] {
			continue
		}
		seen[call.ID] = true
		out = append(out, call)
	}
	return out
}
