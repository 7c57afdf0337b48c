package llm

import (
	"regexp"
	"strings"
)

// DeltaAssembler folds a sequence of StreamParts into one merged message.
// One instance serves exactly one in-flight request; it is not safe for
// concurrent use. All mutation happens on the goroutine draining the
// response body.
type DeltaAssembler struct {
	content   strings.Builder
	reasoning strings.Builder

	builders  map[int]*toolCallBuilder
	order     []int
	indexByID map[string]int
	nextIndex int

	usage *Usage

	// Warnf receives notes about dropped fragments. Defaults to discard.
	Warnf func(format string, args ...any)
}

type toolCallBuilder struct {
	id   string
	name string
	args strings.Builder
}

// NewDeltaAssembler returns an empty assembler.
func NewDeltaAssembler() *DeltaAssembler {
	return &DeltaAssembler{
		builders:  make(map[int]*toolCallBuilder),
		indexByID: make(map[string]int),
	}
}

// Add folds one stream part into the accumulated state.
func (a *DeltaAssembler) Add(part *StreamPart) {
	if part == nil {
		return
	}
	if part.Content != "" {
		a.content.WriteString(part.Content)
	}
	if part.Reasoning != "" {
		a.reasoning.WriteString(part.Reasoning)
	}
	for _, delta := range part.ToolCalls {
		a.applyToolDelta(delta)
	}
	if part.Usage != nil {
		a.mergeUsage(part.Usage)
	}
}

// applyToolDelta resolves the builder for a delta and merges the fragment.
// Resolution order: known id, explicit index, next unused index. A later
// non-empty name overwrites (providers may send the name once and never
// again, or correct a partial one); argument fragments always append.
func (a *DeltaAssembler) applyToolDelta(delta ToolCallDelta) {
	idx, ok := a.resolveIndex(delta)
	if !ok {
		idx = a.allocIndex()
	}
	builder := a.builders[idx]
	if builder == nil {
		builder = &toolCallBuilder{}
		a.builders[idx] = builder
		a.order = append(a.order, idx)
	}
	if delta.ID != "" {
		builder.id = delta.ID
		a.indexByID[delta.ID] = idx
	}
	if delta.Name != "" {
		builder.name = delta.Name
	}
	if delta.Arguments != "" {
		builder.args.WriteString(delta.Arguments)
	}
	if idx >= a.nextIndex {
		a.nextIndex = idx + 1
	}
}

func (a *DeltaAssembler) resolveIndex(delta ToolCallDelta) (int, bool) {
	if delta.ID != "" {
		if idx, ok := a.indexByID[delta.ID]; ok {
			return idx, true
		}
	}
	if delta.Index != nil {
		return *delta.Index, true
	}
	return 0, false
}

func (a *DeltaAssembler) allocIndex() int {
	for {
		if _, used := a.builders[a.nextIndex]; !used {
			return a.nextIndex
		}
		a.nextIndex++
	}
}

// mergeUsage merges a usage snapshot field-wise. Providers report input
// and output tokens in different frames (Anthropic: message_start vs
// message_delta), so a plain overwrite would lose half the numbers.
func (a *DeltaAssembler) mergeUsage(u *Usage) {
	if a.usage == nil {
		a.usage = &Usage{}
	}
	if u.InputTokens > 0 {
		a.usage.InputTokens = u.InputTokens
	}
	if u.OutputTokens > 0 {
		a.usage.OutputTokens = u.OutputTokens
	}
	if u.TotalTokens > 0 {
		a.usage.TotalTokens = u.TotalTokens
	} else if a.usage.InputTokens > 0 || a.usage.OutputTokens > 0 {
		a.usage.TotalTokens = a.usage.InputTokens + a.usage.OutputTokens
	}
}

// Content returns the text accumulated so far, for checkpoint persistence
// while the stream is still running.
func (a *DeltaAssembler) Content() string { return a.content.String() }

// Reasoning returns the reasoning text accumulated so far.
func (a *DeltaAssembler) Reasoning() string { return a.reasoning.String() }

// Message finalizes the accumulated state into an assistant message.
// Builders that never resolved a name are dropped with a warning: an
// unnamed tool call is unusable and must not reach the agent loop.
func (a *DeltaAssembler) Message() Message {
	content, thoughts := ExtractThoughts(a.content.String())
	reasoning := a.reasoning.String()
	if thoughts != "" {
		if reasoning != "" {
			reasoning += "\n"
		}
		reasoning += thoughts
	}

	msg := NewMessage(RoleAssistant, content)
	msg.Reasoning = reasoning
	msg.Usage = a.usage

	for _, idx := range a.order {
		builder := a.builders[idx]
		if builder == nil {
			continue
		}
		if builder.name == "" {
			a.warnf("dropping unnamed tool call at index %d (%d argument bytes)", idx, builder.args.Len())
			continue
		}
		msg.ToolCalls = append(msg.ToolCalls, ToolCall{
			ID:        builder.id,
			Name:      builder.name,
			Arguments: builder.args.String(),
		})
	}
	return msg
}

func (a *DeltaAssembler) warnf(format string, args ...any) {
	if a.Warnf != nil {
		a.Warnf(format, args...)
	}
}

// thoughtTagRe matches inline reasoning the model wrapped in thought
// tags. Case-sensitive, dot matches newline, non-greedy.
var thoughtTagRe = regexp.MustCompile(`(?s)<thought>(.*?)</thought>|<thinking>(.*?)</thinking>|<think>(.*?)</think>`)

// ExtractThoughts moves thought-tagged spans out of content and into a
// reasoning string. Unterminated or mismatched tags leave the content
// unchanged. The remaining content is trimmed.
func ExtractThoughts(content string) (clean string, reasoning string) {
	matches := thoughtTagRe.FindAllStringSubmatchIndex(content, -1)
	if len(matches) == 0 {
		return content, ""
	}

	var out strings.Builder
	var thoughts []string
	last := 0
	for _, m := range matches {
		out.WriteString(content[last:m[0]])
		last = m[1]
		// Groups 1..3 correspond to the three tag alternations; exactly
		// one is set per match.
		for g := 1; g <= 3; g++ {
			if m[2*g] >= 0 {
				thoughts = append(thoughts, content[m[2*g]:m[2*g+1]])
				break
			}
		}
	}
	out.WriteString(content[last:])
	return strings.TrimSpace(out.String()), strings.TrimSpace(strings.Join(thoughts, "\n"))
}
