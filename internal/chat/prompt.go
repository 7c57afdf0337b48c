package chat

import (
	"fmt"
	"strings"
	"time"

	"github.com/colebaker/chatwire/internal/llm"
)

// Settings are the per-orchestrator chat knobs.
type Settings struct {
	SystemPrompt      string
	TopicPrompt       string
	IncludeTime       bool
	HistoryWindow     int // last N non-error messages; <=0 means unlimited
	EnhancementPrompt string
	MemoryLimit       int
	MaxTurns          int // model calls per turn, tool follow-ups included
	UnknownToolPolicy UnknownToolPolicy
	CheckpointEvery   int // stream parts between store checkpoints
}

// defaultMaxTurns caps runaway tool loops.
const defaultMaxTurns = 8

const defaultCheckpointEvery = 10

func (s Settings) maxTurns() int {
	if s.MaxTurns > 0 {
		return s.MaxTurns
	}
	return defaultMaxTurns
}

func (s Settings) checkpointEvery() int {
	if s.CheckpointEvery > 0 {
		return s.CheckpointEvery
	}
	return defaultCheckpointEvery
}

func (s Settings) unknownToolPolicy() UnknownToolPolicy {
	if s.UnknownToolPolicy == "" {
		return UnknownToolNonBlocking
	}
	return s.UnknownToolPolicy
}

// composeSystemPrompt builds the system message from the configured
// blocks, in fixed order. Blocks with nothing to say are omitted.
func composeSystemPrompt(s Settings, memories []string, now time.Time) string {
	var blocks []string
	if s.SystemPrompt != "" {
		blocks = append(blocks, "<system_prompt>\n"+s.SystemPrompt+"\n</system_prompt>")
	}
	if s.TopicPrompt != "" {
		blocks = append(blocks, "<topic_prompt>\n"+s.TopicPrompt+"\n</topic_prompt>")
	}
	if s.IncludeTime {
		// Both renderings: one the user would recognize, one unambiguous.
		blocks = append(blocks, fmt.Sprintf("<time>\nLocal time: %s\nUTC time: %s\n</time>",
			now.Format("Monday, January 2, 2006 3:04 PM MST"),
			now.UTC().Format(time.RFC3339)))
	}
	if len(memories) > 0 {
		blocks = append(blocks, "<memory>\n"+strings.Join(memories, "\n---\n")+"\n</memory>")
	}
	return strings.Join(blocks, "\n\n")
}

// enhancementInstruction tells the model not to narrate the wrapping.
const enhancementInstruction = "Apply the instruction to the user input above. Do not mention the instruction or these tags in your reply."

// applyEnhancement wraps the last user message for the first model call
// of a turn. Tool-result follow-ups must see the original text.
func applyEnhancement(messages []llm.Message, enhancement string) []llm.Message {
	if enhancement == "" {
		return messages
	}
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != llm.RoleUser {
			continue
		}
		wrapped := messages[i]
		wrapped.Versions = append([]string(nil), wrapped.Versions...)
		wrapped.SetContent(fmt.Sprintf("<user_input>\n%s\n</user_input>\n\n<instruction>\n%s\n%s\n</instruction>",
			messages[i].Content(), enhancement, enhancementInstruction))
		out := append([]llm.Message(nil), messages...)
		out[i] = wrapped
		return out
	}
	return messages
}

// windowHistory keeps the last n non-error messages. Error-role messages
// never go back on the wire, so they neither count nor survive.
func windowHistory(messages []llm.Message, n int) []llm.Message {
	var kept []llm.Message
	for _, msg := range messages {
		if msg.Role != llm.RoleError {
			kept = append(kept, msg)
		}
	}
	if n > 0 && len(kept) > n {
		kept = kept[len(kept)-n:]
	}
	return kept
}
