// Package testutil provides fakes for orchestrator and agent-loop tests.
package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/colebaker/chatwire/internal/llm"
)

// MockTool is a configurable tool for tests.
type MockTool struct {
	Def       llm.ToolDefinition
	ExecuteFn func(ctx context.Context, arguments string) (string, error)

	mu    sync.Mutex
	calls []string
}

func (t *MockTool) Definition() llm.ToolDefinition { return t.Def }

func (t *MockTool) Execute(ctx context.Context, arguments string) (string, error) {
	t.mu.Lock()
	t.calls = append(t.calls, arguments)
	t.mu.Unlock()
	if t.ExecuteFn != nil {
		return t.ExecuteFn(ctx, arguments)
	}
	return "ok", nil
}

// Calls returns the arguments of every invocation so far.
func (t *MockTool) Calls() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.calls...)
}

// MemStore is an in-memory chat.Store.
type MemStore struct {
	mu       sync.Mutex
	sessions map[string][]llm.Message
	usage    map[string]llm.Usage
}

func NewMemStore() *MemStore {
	return &MemStore{
		sessions: make(map[string][]llm.Message),
		usage:    make(map[string]llm.Usage),
	}
}

func (s *MemStore) Messages(_ context.Context, sessionID string) ([]llm.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Message(nil), s.sessions[sessionID]...), nil
}

func (s *MemStore) AppendMessage(_ context.Context, sessionID string, msg llm.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = append(s.sessions[sessionID], msg)
	return nil
}

func (s *MemStore) UpdateMessage(_ context.Context, sessionID string, msg llm.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.sessions[sessionID] {
		if existing.ID == msg.ID {
			s.sessions[sessionID][i] = msg
			return nil
		}
	}
	return fmt.Errorf("message %s not found in session %s", msg.ID, sessionID)
}

func (s *MemStore) DeleteMessage(_ context.Context, sessionID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	messages := s.sessions[sessionID]
	for i, existing := range messages {
		if existing.ID == messageID {
			s.sessions[sessionID] = append(messages[:i:i], messages[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *MemStore) AddUsage(_ context.Context, sessionID string, usage llm.Usage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := s.usage[sessionID]
	total.Add(&usage)
	s.usage[sessionID] = total
	return nil
}

// Usage returns the accumulated usage for a session.
func (s *MemStore) Usage(sessionID string) llm.Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage[sessionID]
}

// StaticMemory is a chat.Memory returning fixed snippets.
type StaticMemory struct {
	Snippets []string
}

func (m *StaticMemory) Recall(context.Context, string, string, int) ([]string, error) {
	return m.Snippets, nil
}
