package mcp

import (
	"context"

	"github.com/colebaker/chatwire/internal/chat"
	"github.com/colebaker/chatwire/internal/llm"
)

// toolCaller is the slice of Client that ServerTool needs.
type toolCaller interface {
	CallTool(ctx context.Context, name, arguments string) (string, error)
}

// ServerTool adapts one MCP server tool to the agent loop's Tool
// interface. MCP tools block the turn: the model needs the result
// before it can continue.
type ServerTool struct {
	caller toolCaller
	spec   ToolSpec
}

func NewServerTool(caller toolCaller, spec ToolSpec) *ServerTool {
	return &ServerTool{caller: caller, spec: spec}
}

func (t *ServerTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        t.spec.Name,
		Description: t.spec.Description,
		Parameters:  t.spec.Schema,
		Blocking:    true,
	}
}

func (t *ServerTool) Execute(ctx context.Context, arguments string) (string, error) {
	return t.caller.CallTool(ctx, t.spec.Name, arguments)
}

// RegisterTools registers every tool a connected client advertises.
func RegisterTools(client *Client, registry *chat.ToolRegistry) {
	for _, spec := range client.Tools() {
		registry.Register(NewServerTool(client, spec))
	}
}
