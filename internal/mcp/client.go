// Package mcp connects to Model Context Protocol servers and exposes
// their tools to the chat agent loop.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// ServerConfig describes one stdio MCP server from the config file.
type ServerConfig struct {
	Command string            `mapstructure:"command"`
	Args    []string          `mapstructure:"args"`
	Env     map[string]string `mapstructure:"env"`
}

// ToolSpec is one tool advertised by a connected server.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]any
}

// Client wraps one MCP server connection.
type Client struct {
	name   string
	config ServerConfig

	mu      sync.RWMutex
	session *sdk.ClientSession
	tools   []ToolSpec
	running bool
}

func NewClient(name string, config ServerConfig) *Client {
	return &Client{name: name, config: config}
}

// Name returns the configured server name.
func (c *Client) Name() string { return c.name }

// Start launches the server process, connects over stdio, and fetches
// its tool list.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}

	client := sdk.NewClient(&sdk.Implementation{
		Name:    "chatwire",
		Version: "1.0.0",
	}, nil)

	session, err := client.Connect(ctx, c.createStdioTransport(ctx), nil)
	if err != nil {
		return fmt.Errorf("connect to MCP server %s: %w", c.name, err)
	}
	c.session = session

	if err := c.refreshTools(ctx); err != nil {
		session.Close()
		c.session = nil
		return fmt.Errorf("list tools from %s: %w", c.name, err)
	}
	c.running = true
	return nil
}

// createStdioTransport builds the command transport. A custom env is
// layered on top of the parent environment; without one the subprocess
// inherits everything.
func (c *Client) createStdioTransport(ctx context.Context) sdk.Transport {
	cmd := exec.CommandContext(ctx, c.config.Command, c.config.Args...)
	if len(c.config.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range c.config.Env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
	}
	return &sdk.CommandTransport{Command: cmd}
}

// Stop closes the session and forgets the server's tools.
func (c *Client) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return nil
	}
	var err error
	if c.session != nil {
		err = c.session.Close()
		c.session = nil
	}
	c.running = false
	c.tools = nil
	return err
}

// Tools returns the tools the server advertised at connect time.
func (c *Client) Tools() []ToolSpec {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tools
}

func (c *Client) refreshTools(ctx context.Context) error {
	result, err := c.session.ListTools(ctx, nil)
	if err != nil {
		return err
	}
	c.tools = make([]ToolSpec, 0, len(result.Tools))
	for _, t := range result.Tools {
		schema := map[string]any{}
		if m, ok := t.InputSchema.(map[string]any); ok {
			schema = m
		}
		c.tools = append(c.tools, ToolSpec{
			Name:        t.Name,
			Description: t.Description,
			Schema:      schema,
		})
	}
	return nil
}

// CallTool invokes a tool on the server. The arguments arrive as the
// raw JSON string the model produced.
func (c *Client) CallTool(ctx context.Context, name, arguments string) (string, error) {
	c.mu.RLock()
	session := c.session
	running := c.running
	c.mu.RUnlock()
	if !running || session == nil {
		return "", fmt.Errorf("MCP server %s is not running", c.name)
	}

	var args map[string]any
	if arguments != "" {
		if err := json.Unmarshal([]byte(arguments), &args); err != nil {
			return "", fmt.Errorf("invalid tool arguments: %w", err)
		}
	}

	result, err := session.CallTool(ctx, &sdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return "", fmt.Errorf("call tool %s: %w", name, err)
	}
	if result.IsError {
		return "", fmt.Errorf("tool %s returned error: %s", name, flattenContent(result.Content))
	}
	return flattenContent(result.Content), nil
}

// flattenContent renders MCP content parts as one string. Text parts
// pass through; anything else is JSON-encoded.
func flattenContent(content []sdk.Content) string {
	var out string
	for _, part := range content {
		switch v := part.(type) {
		case *sdk.TextContent:
			out += v.Text
		default:
			if data, err := json.Marshal(part); err == nil {
				out += string(data)
			}
		}
	}
	return out
}
