package chat

import (
	"strings"
	"testing"
	"time"

	"github.com/colebaker/chatwire/internal/llm"
)

func TestComposeSystemPromptBlockOrder(t *testing.T) {
	s := Settings{
		SystemPrompt: "You are terse.",
		TopicPrompt:  "Stay on Go.",
		IncludeTime:  true,
	}
	now := time.Date(2026, 3, 14, 9, 26, 0, 0, time.UTC)
	prompt := composeSystemPrompt(s, []string{"likes tabs", "hates yaml"}, now)

	order := []string{"<system_prompt>", "<topic_prompt>", "<time>", "<memory>"}
	last := -1
	for _, tag := range order {
		idx := strings.Index(prompt, tag)
		if idx < 0 {
			t.Fatalf("prompt missing %s:\n%s", tag, prompt)
		}
		if idx < last {
			t.Errorf("%s out of order", tag)
		}
		last = idx
	}

	if !strings.Contains(prompt, "likes tabs\n---\nhates yaml") {
		t.Errorf("memories not joined with separator:\n%s", prompt)
	}
	if !strings.Contains(prompt, "2026-03-14T09:26:00Z") {
		t.Errorf("missing RFC3339 UTC time:\n%s", prompt)
	}
}

func TestComposeSystemPromptOmitsEmptyBlocks(t *testing.T) {
	prompt := composeSystemPrompt(Settings{SystemPrompt: "hi"}, nil, time.Now())
	for _, tag := range []string{"<topic_prompt>", "<time>", "<memory>"} {
		if strings.Contains(prompt, tag) {
			t.Errorf("empty block %s present:\n%s", tag, prompt)
		}
	}

	if got := composeSystemPrompt(Settings{}, nil, time.Now()); got != "" {
		t.Errorf("all-empty settings produced %q", got)
	}
}

func TestApplyEnhancementWrapsLastUserMessage(t *testing.T) {
	messages := []llm.Message{
		llm.NewMessage(llm.RoleUser, "first question"),
		llm.NewMessage(llm.RoleAssistant, "first answer"),
		llm.NewMessage(llm.RoleUser, "second question"),
	}

	out := applyEnhancement(messages, "Answer in French.")

	wrapped := out[2].Content()
	if !strings.Contains(wrapped, "<user_input>\nsecond question\n</user_input>") {
		t.Errorf("user input not wrapped:\n%s", wrapped)
	}
	if !strings.Contains(wrapped, "Answer in French.") {
		t.Errorf("enhancement missing:\n%s", wrapped)
	}
	if strings.Contains(out[0].Content(), "<user_input>") {
		t.Error("earlier user message was wrapped")
	}

	// The stored message must keep its original text; only the wire copy
	// carries the wrapping.
	if got := messages[2].Content(); got != "second question" {
		t.Errorf("original mutated: %q", got)
	}
}

func TestApplyEnhancementNoop(t *testing.T) {
	messages := []llm.Message{llm.NewMessage(llm.RoleUser, "hello")}
	out := applyEnhancement(messages, "")
	if out[0].Content() != "hello" {
		t.Errorf("empty enhancement changed content: %q", out[0].Content())
	}

	// No user message at all: nothing to wrap.
	assistantOnly := []llm.Message{llm.NewMessage(llm.RoleAssistant, "hi")}
	out = applyEnhancement(assistantOnly, "something")
	if out[0].Content() != "hi" {
		t.Errorf("assistant-only history changed: %q", out[0].Content())
	}
}

func TestWindowHistory(t *testing.T) {
	messages := []llm.Message{
		llm.NewMessage(llm.RoleUser, "one"),
		llm.NewMessage(llm.RoleError, "API error"),
		llm.NewMessage(llm.RoleUser, "two"),
		llm.NewMessage(llm.RoleAssistant, "reply two"),
		llm.NewMessage(llm.RoleUser, "three"),
	}

	got := windowHistory(messages, 3)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].Content() != "two" || got[2].Content() != "three" {
		t.Errorf("wrong window: %q .. %q", got[0].Content(), got[2].Content())
	}
	for _, msg := range got {
		if msg.Role == llm.RoleError {
			t.Error("error message survived windowing")
		}
	}

	// Unlimited window still drops errors.
	got = windowHistory(messages, 0)
	if len(got) != 4 {
		t.Errorf("unlimited window len = %d, want 4", len(got))
	}
}

func TestSettingsDefaults(t *testing.T) {
	var s Settings
	if got := s.maxTurns(); got != defaultMaxTurns {
		t.Errorf("maxTurns = %d, want %d", got, defaultMaxTurns)
	}
	if got := s.checkpointEvery(); got != defaultCheckpointEvery {
		t.Errorf("checkpointEvery = %d, want %d", got, defaultCheckpointEvery)
	}
	if got := s.unknownToolPolicy(); got != UnknownToolNonBlocking {
		t.Errorf("unknownToolPolicy = %q, want %q", got, UnknownToolNonBlocking)
	}

	s = Settings{MaxTurns: 2, CheckpointEvery: 3, UnknownToolPolicy: UnknownToolReject}
	if s.maxTurns() != 2 || s.checkpointEvery() != 3 || s.unknownToolPolicy() != UnknownToolReject {
		t.Error("explicit settings not honored")
	}
}
