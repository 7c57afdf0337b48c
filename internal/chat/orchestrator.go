package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/colebaker/chatwire/internal/debuglog"
	"github.com/colebaker/chatwire/internal/llm"
)

// Orchestrator drives turns against one runnable model: it composes the
// outbound message list, executes the request (streaming or not), feeds
// the agent loop, and persists through the Store at checkpoints. One
// orchestrator serves many sessions; per-turn state lives on the stack of
// the turn's goroutine.
type Orchestrator struct {
	Model     llm.RunnableModel
	Store     Store
	Memory    Memory // optional
	Tools     *ToolRegistry
	Requests  *SessionRequestTable
	Transport *Transport
	Settings  Settings
	Retry     RetryConfig
	Logger    *debuglog.Logger // optional
}

// NewOrchestrator wires an orchestrator with defaults. Callers adjust
// fields before the first turn.
func NewOrchestrator(model llm.RunnableModel, store Store) *Orchestrator {
	return &Orchestrator{
		Model:     model,
		Store:     store,
		Tools:     NewToolRegistry(),
		Requests:  NewSessionRequestTable(),
		Transport: &Transport{},
		Retry:     DefaultRetryConfig(),
	}
}

// StartTurn appends the user message and a placeholder assistant reply,
// then runs the turn on its own goroutine. The returned channel carries
// progress events and closes after the terminal event; the handle cancels
// or awaits the turn.
func (o *Orchestrator) StartTurn(ctx context.Context, sessionID, userText string, attachments []llm.Attachment) (*RequestHandle, <-chan Event, error) {
	codec, err := llm.CodecFor(o.Model.Provider.Type)
	if err != nil {
		return nil, nil, err
	}

	// A new turn replaces the in-flight one; cancel it before touching
	// the transcript so the old turn's cleanup cannot interleave with
	// the new messages.
	o.Requests.CancelSession(sessionID)

	user := llm.NewMessage(llm.RoleUser, userText)
	user.Attachments = attachments
	if err := o.Store.AppendMessage(ctx, sessionID, user); err != nil {
		return nil, nil, fmt.Errorf("persist user message: %w", err)
	}

	placeholder := llm.NewMessage(llm.RoleAssistant, "")
	if err := o.Store.AppendMessage(ctx, sessionID, placeholder); err != nil {
		return nil, nil, fmt.Errorf("persist placeholder: %w", err)
	}

	handle, events := o.launch(ctx, sessionID, codec, placeholder)
	return handle, events, nil
}

// Cancel stops the session's in-flight turn, if any, and waits for its
// cleanup to complete.
func (o *Orchestrator) Cancel(sessionID string) bool {
	return o.Requests.CancelSession(sessionID)
}

// RetryMessage regenerates the assistant reply for a message. Retrying an
// assistant or error message resolves to the user message preceding it.
// The replaced reply gains a new version; messages between the user
// message and the next user message are deleted. Error messages are never
// versioned, just removed.
func (o *Orchestrator) RetryMessage(ctx context.Context, sessionID, messageID string) (*RequestHandle, <-chan Event, error) {
	codec, err := llm.CodecFor(o.Model.Provider.Type)
	if err != nil {
		return nil, nil, err
	}

	// A retry replaces the in-flight turn, never runs beside it.
	o.Requests.CancelSession(sessionID)

	messages, err := o.Store.Messages(ctx, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("load session: %w", err)
	}

	userIdx := -1
	for i, msg := range messages {
		if msg.ID != messageID {
			continue
		}
		if msg.Role == llm.RoleUser {
			userIdx = i
			break
		}
		// Assistant and error messages retry their preceding user message.
		for j := i - 1; j >= 0; j-- {
			if messages[j].Role == llm.RoleUser {
				userIdx = j
				break
			}
		}
		break
	}
	if userIdx < 0 {
		return nil, nil, fmt.Errorf("no user message to retry for %s", messageID)
	}

	segmentEnd := len(messages)
	for i := userIdx + 1; i < len(messages); i++ {
		if messages[i].Role == llm.RoleUser {
			segmentEnd = i
			break
		}
	}

	// The first assistant reply in the segment keeps its identity and
	// grows a version; everything else in the segment goes.
	var placeholder llm.Message
	havePlaceholder := false
	for i := userIdx + 1; i < segmentEnd; i++ {
		msg := messages[i]
		if !havePlaceholder && msg.Role == llm.RoleAssistant {
			msg.AddVersion("")
			msg.Reasoning = ""
			msg.ToolCalls = nil
			msg.Usage = nil
			msg.Attachments = nil
			placeholder = msg
			havePlaceholder = true
			if err := o.Store.UpdateMessage(ctx, sessionID, msg); err != nil {
				return nil, nil, fmt.Errorf("version assistant message: %w", err)
			}
			continue
		}
		if err := o.Store.DeleteMessage(ctx, sessionID, msg.ID); err != nil {
			return nil, nil, fmt.Errorf("trim retried segment: %w", err)
		}
	}
	if !havePlaceholder {
		placeholder = llm.NewMessage(llm.RoleAssistant, "")
		if err := o.Store.AppendMessage(ctx, sessionID, placeholder); err != nil {
			return nil, nil, fmt.Errorf("persist placeholder: %w", err)
		}
	}

	handle, events := o.launch(ctx, sessionID, codec, placeholder)
	return handle, events, nil
}

// launch registers the turn in the request table and runs it.
func (o *Orchestrator) launch(parent context.Context, sessionID string, codec llm.Codec, placeholder llm.Message) (*RequestHandle, <-chan Event) {
	runCtx, handle := o.Requests.Begin(parent, sessionID)
	events := make(chan Event, 256)

	go func() {
		result := o.runTurn(runCtx, sessionID, codec, placeholder, events)
		// Finish before the terminal event: Wait() must imply cleanup done.
		o.Requests.Finish(handle)
		switch result.State {
		case TurnErrored:
			emit(events, Event{Type: EventError, Err: result.err})
		case TurnFinished:
			var id string
			if result.Message != nil {
				id = result.Message.ID
			}
			emit(events, Event{Type: EventFinished, MessageID: id})
		}
		close(events)
	}()
	return handle, events
}

// emit delivers an event without ever blocking the turn. A caller that
// stops draining loses progress events, not correctness; everything that
// matters is in the Store.
func emit(events chan<- Event, e Event) {
	select {
	case events <- e:
	default:
	}
}

type turnOutcome struct {
	TurnResult
	err error
}

// runTurn is the per-turn state machine: model call, agent loop, repeat
// until no follow-up is needed or the call budget runs out.
func (o *Orchestrator) runTurn(ctx context.Context, sessionID string, codec llm.Codec, placeholder llm.Message, events chan<- Event) turnOutcome {
	// Cleanup writes must survive the turn's own cancellation.
	persistCtx := context.WithoutCancel(ctx)

	var memories []string
	if o.Memory != nil {
		limit := o.Settings.MemoryLimit
		if limit <= 0 {
			limit = 5
		}
		if recalled, err := o.Memory.Recall(ctx, sessionID, lastUserText(ctx, o.Store, sessionID), limit); err == nil {
			memories = recalled
		} else {
			o.Logger.LogEvent("memory_recall_failed", map[string]any{"error": err.Error()})
		}
	}

	for call := 0; call < o.Settings.maxTurns(); call++ {
		wireMessages, err := o.buildMessages(ctx, sessionID, placeholder.ID, memories, call == 0)
		if err != nil {
			return o.failTurn(persistCtx, sessionID, &placeholder, err)
		}

		final, err := o.callModel(ctx, sessionID, codec, wireMessages, &placeholder, events)
		if ctx.Err() != nil {
			return o.cancelTurn(persistCtx, sessionID, &placeholder)
		}
		if err != nil {
			return o.failTurn(persistCtx, sessionID, &placeholder, err)
		}

		o.graft(&placeholder, final)
		if err := o.Store.UpdateMessage(persistCtx, sessionID, placeholder); err != nil {
			return o.failTurn(persistCtx, sessionID, &placeholder, err)
		}
		if placeholder.Usage != nil {
			_ = o.Store.AddUsage(persistCtx, sessionID, *placeholder.Usage)
		}

		if len(placeholder.ToolCalls) == 0 {
			return turnOutcome{TurnResult: TurnResult{State: TurnFinished, Message: &placeholder}}
		}

		followUp, pause := o.runToolCalls(ctx, sessionID, &placeholder, events)
		if ctx.Err() != nil {
			return o.cancelTurn(persistCtx, sessionID, &placeholder)
		}
		if pause || !followUp || call+1 >= o.Settings.maxTurns() {
			return turnOutcome{TurnResult: TurnResult{State: TurnFinished, Message: &placeholder}}
		}

		next := llm.NewMessage(llm.RoleAssistant, "")
		if err := o.Store.AppendMessage(persistCtx, sessionID, next); err != nil {
			return o.failTurn(persistCtx, sessionID, &placeholder, err)
		}
		placeholder = next
	}
	return turnOutcome{TurnResult: TurnResult{State: TurnFinished, Message: &placeholder}}
}

// buildMessages assembles the outbound list: composed system prompt, then
// the windowed history minus the in-flight placeholder, with the
// enhancement applied only on a turn's first call.
func (o *Orchestrator) buildMessages(ctx context.Context, sessionID, placeholderID string, memories []string, firstCall bool) ([]llm.Message, error) {
	history, err := o.Store.Messages(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	trimmed := history[:0:0]
	for _, msg := range history {
		if msg.ID != placeholderID {
			trimmed = append(trimmed, msg)
		}
	}
	trimmed = windowHistory(trimmed, o.Settings.HistoryWindow)
	if firstCall {
		trimmed = applyEnhancement(trimmed, o.Settings.EnhancementPrompt)
	}

	system := composeSystemPrompt(o.Settings, memories, time.Now())
	if system == "" {
		return trimmed, nil
	}
	out := make([]llm.Message, 0, len(trimmed)+1)
	out = append(out, llm.NewMessage(llm.RoleSystem, system))
	return append(out, trimmed...), nil
}

// callModel performs one model call with transient-error retry and
// returns the finalized assistant message.
func (o *Orchestrator) callModel(ctx context.Context, sessionID string, codec llm.Codec, messages []llm.Message, placeholder *llm.Message, events chan<- Event) (llm.Message, error) {
	params := llm.ChatParams{
		Stream:      o.Model.Model.Stream,
		Temperature: o.Model.Model.Temperature,
		TopP:        o.Model.Model.TopP,
		MaxTokens:   o.Model.Model.MaxTokens,
	}
	var tools []llm.ToolDefinition
	if o.Tools != nil {
		tools = o.Tools.Definitions()
	}

	var final llm.Message
	err := withRetry(ctx, o.Retry, func(attempt int, wait time.Duration) {
		o.Logger.LogEvent("retry", map[string]any{"attempt": attempt, "wait_secs": wait.Seconds()})
		emit(events, Event{Type: EventRetry, Attempt: attempt, Wait: wait})
	}, func(ctx context.Context) error {
		wire, err := codec.BuildChatRequest(o.Model, params, messages, tools)
		if err != nil {
			return err
		}
		o.Logger.LogRequest(o.Model.Provider.ID, o.Model.Model.WireName(), wire.Method, wire.URL, wire.Header, wire.Body)

		if params.Stream {
			msg, err := o.streamCall(ctx, sessionID, codec, wire, placeholder, events)
			if err != nil {
				return err
			}
			final = msg
			return nil
		}

		body, err := o.Transport.Do(ctx, o.Model.Provider.ID, wire)
		if err != nil {
			return err
		}
		msg, err := codec.ParseResponse(body)
		if err != nil {
			return err
		}
		emit(events, Event{Type: EventContent, Content: msg.Content()})
		final = *msg
		return nil
	})
	return final, err
}

// streamCall drains a streaming response through the delta assembler,
// emitting fragments and checkpointing partial content into the Store so
// a crash or cancellation never loses rendered text.
func (o *Orchestrator) streamCall(ctx context.Context, sessionID string, codec llm.Codec, wire *llm.WireRequest, placeholder *llm.Message, events chan<- Event) (llm.Message, error) {
	assembler := llm.NewDeltaAssembler()
	assembler.Warnf = func(format string, args ...any) {
		o.Logger.LogEvent("assembler_warning", map[string]any{"message": fmt.Sprintf(format, args...)})
	}

	persistCtx := context.WithoutCancel(ctx)
	sinceCheckpoint := 0
	err := o.Transport.Stream(ctx, o.Model.Provider.ID, wire, func(line string) {
		part := codec.ParseStreamLine(line)
		if part.Empty() {
			return
		}
		assembler.Add(part)
		if part.Content != "" {
			emit(events, Event{Type: EventContent, Content: part.Content})
		}
		if part.Reasoning != "" {
			emit(events, Event{Type: EventReasoning, Content: part.Reasoning})
		}

		sinceCheckpoint++
		if sinceCheckpoint >= o.Settings.checkpointEvery() {
			sinceCheckpoint = 0
			snapshot := *placeholder
			snapshot.Versions = append([]string(nil), placeholder.Versions...)
			snapshot.SetContent(assembler.Content())
			snapshot.Reasoning = assembler.Reasoning()
			_ = o.Store.UpdateMessage(persistCtx, sessionID, snapshot)
		}
	})
	if err != nil {
		// Keep whatever streamed before the failure on the placeholder so
		// cancellation and error handling can judge visible output.
		placeholder.SetContent(assembler.Content())
		placeholder.Reasoning = assembler.Reasoning()
		return llm.Message{}, err
	}
	return assembler.Message(), nil
}

// graft moves a finalized reply onto the placeholder, keeping the
// placeholder's identity and version history. Streamed tool names are
// mapped back to their canonical definitions and call IDs are repaired.
func (o *Orchestrator) graft(placeholder *llm.Message, final llm.Message) {
	placeholder.SetContent(final.Content())
	placeholder.Reasoning = final.Reasoning
	placeholder.Usage = final.Usage
	placeholder.Attachments = final.Attachments

	var defs []llm.ToolDefinition
	if o.Tools != nil {
		defs = o.Tools.Definitions()
	}
	calls := final.ToolCalls
	for i := range calls {
		calls[i].Name = llm.CanonicalToolName(calls[i].Name, defs)
	}
	placeholder.ToolCalls = dedupeToolCalls(ensureToolCallIDs(calls))
}

// retirePlaceholder settles an interrupted turn's placeholder: visible
// output is kept, an empty retry version is popped so the prior answer
// comes back, and only a message with no history at all is deleted.
// Reports whether the message survived.
func (o *Orchestrator) retirePlaceholder(persistCtx context.Context, sessionID string, placeholder *llm.Message) bool {
	if placeholder.HasVisibleOutput() {
		_ = o.Store.UpdateMessage(persistCtx, sessionID, *placeholder)
		return true
	}
	if placeholder.DropCurrentVersion() {
		_ = o.Store.UpdateMessage(persistCtx, sessionID, *placeholder)
		return true
	}
	_ = o.Store.DeleteMessage(persistCtx, sessionID, placeholder.ID)
	return false
}

// cancelTurn unwinds a cancelled turn. A partial answer the user already
// saw is kept; a retried message falls back to its previous version.
func (o *Orchestrator) cancelTurn(persistCtx context.Context, sessionID string, placeholder *llm.Message) turnOutcome {
	if o.retirePlaceholder(persistCtx, sessionID, placeholder) {
		return turnOutcome{TurnResult: TurnResult{State: TurnCancelled, Message: placeholder}}
	}
	return turnOutcome{TurnResult: TurnResult{State: TurnCancelled}}
}

// failTurn records a failed turn: the placeholder is settled the same way
// cancellation settles it, and an error-role message is appended.
func (o *Orchestrator) failTurn(persistCtx context.Context, sessionID string, placeholder *llm.Message, err error) turnOutcome {
	o.Logger.LogEvent("turn_error", map[string]any{"error": err.Error()})
	o.retirePlaceholder(persistCtx, sessionID, placeholder)
	errMsg := llm.NewMessage(llm.RoleError, err.Error())
	_ = o.Store.AppendMessage(persistCtx, sessionID, errMsg)
	return turnOutcome{TurnResult: TurnResult{State: TurnErrored, Message: &errMsg}, err: err}
}

// lastUserText returns the text of the session's most recent user
// message, used as the memory recall query.
func lastUserText(ctx context.Context, store Store, sessionID string) string {
	messages, err := store.Messages(ctx, sessionID)
	if err != nil {
		return ""
	}
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == llm.RoleUser {
			return messages[i].Content()
		}
	}
	return ""
}
