package chat

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/colebaker/chatwire/internal/llm"
)

// ErrAwaitUserInput is returned by a tool that needs the user to respond
// before the turn can continue (a permission denial, a confirmation
// prompt). The agent loop ends the turn without a follow-up call.
var ErrAwaitUserInput = errors.New("tool awaits user input")

// Tool is a callable capability advertised to the model.
type Tool interface {
	Definition() llm.ToolDefinition
	Execute(ctx context.Context, arguments string) (string, error)
}

// ToolRegistry stores tools by canonical name. Safe for concurrent reads
// and writes; registration normally happens before the first turn.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

func (r *ToolRegistry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Definition().Name] = tool
}

func (r *ToolRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get resolves a tool by canonical or sanitized name. Providers echo the
// sanitized form back, so both spellings must find the tool.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if tool, ok := r.tools[name]; ok {
		return tool, true
	}
	for canonical, tool := range r.tools {
		if llm.SanitizeToolName(canonical) == name {
			return tool, true
		}
	}
	return nil, false
}

// Definitions returns the definitions of every registered tool.
func (r *ToolRegistry) Definitions() []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]llm.ToolDefinition, 0, len(r.tools))
	for _, tool := range r.tools {
		defs = append(defs, tool.Definition())
	}
	return defs
}

// manifestEntry is one tool override in a YAML manifest.
type manifestEntry struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Parameters  map[string]any `yaml:"parameters"`
	Blocking    *bool          `yaml:"blocking"`
}

// LoadManifest applies a YAML tool manifest to the registry. Entries
// matching a registered tool override its description and blocking flag;
// unmatched entries are an error so typos don't silently do nothing.
func (r *ToolRegistry) LoadManifest(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read tool manifest: %w", err)
	}
	var entries []manifestEntry
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return fmt.Errorf("parse tool manifest %s: %w", path, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entry := range entries {
		tool, ok := r.tools[entry.Name]
		if !ok {
			return fmt.Errorf("tool manifest %s names unknown tool %q", path, entry.Name)
		}
		r.tools[entry.Name] = &overriddenTool{inner: tool, override: entry}
	}
	return nil
}

// overriddenTool wraps a tool with manifest-supplied definition fields.
type overriddenTool struct {
	inner    Tool
	override manifestEntry
}

func (t *overriddenTool) Definition() llm.ToolDefinition {
	def := t.inner.Definition()
	if t.override.Description != "" {
		def.Description = t.override.Description
	}
	if t.override.Parameters != nil {
		def.Parameters = t.override.Parameters
	}
	if t.override.Blocking != nil {
		def.Blocking = *t.override.Blocking
	}
	return def
}

func (t *overriddenTool) Execute(ctx context.Context, arguments string) (string, error) {
	return t.inner.Execute(ctx, arguments)
}

// UnknownToolPolicy decides what happens when the model calls a tool name
// nothing registered. The historical behavior is to fail open and treat
// the call as non-blocking.
type UnknownToolPolicy string

const (
	UnknownToolNonBlocking UnknownToolPolicy = "non_blocking"
	UnknownToolBlocking    UnknownToolPolicy = "blocking"
	UnknownToolReject      UnknownToolPolicy = "reject"
)
