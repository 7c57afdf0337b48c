package mcp

import (
	"context"
	"strings"
	"testing"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

func TestStdioTransportLayersEnvOverParent(t *testing.T) {
	client := NewClient("notes", ServerConfig{
		Command: "notes-server",
		Args:    []string{"--stdio"},
		Env:     map[string]string{"NOTES_DIR": "/tmp/notes"},
	})

	transport := client.createStdioTransport(context.Background())
	ct, ok := transport.(*sdk.CommandTransport)
	if !ok {
		t.Fatalf("transport = %T, want *sdk.CommandTransport", transport)
	}

	var hasPath, hasCustom bool
	for _, e := range ct.Command.Env {
		if strings.HasPrefix(e, "PATH=") {
			hasPath = true
		}
		if e == "NOTES_DIR=/tmp/notes" {
			hasCustom = true
		}
	}
	if !hasPath {
		t.Error("subprocess env lost the parent PATH")
	}
	if !hasCustom {
		t.Error("configured env var missing from subprocess env")
	}
}

func TestStdioTransportWithoutEnvInheritsParent(t *testing.T) {
	client := NewClient("notes", ServerConfig{Command: "notes-server"})

	transport := client.createStdioTransport(context.Background())
	ct := transport.(*sdk.CommandTransport)
	// nil Env means exec inherits the parent environment wholesale.
	if ct.Command.Env != nil {
		t.Errorf("Env = %v, want nil", ct.Command.Env)
	}
}

func TestCallToolBeforeStart(t *testing.T) {
	client := NewClient("notes", ServerConfig{Command: "notes-server"})
	if _, err := client.CallTool(context.Background(), "list_notes", "{}"); err == nil {
		t.Fatal("expected error calling a tool on a stopped client")
	}
}

func TestFlattenContent(t *testing.T) {
	got := flattenContent([]sdk.Content{
		&sdk.TextContent{Text: "first"},
		&sdk.TextContent{Text: " second"},
	})
	if got != "first second" {
		t.Errorf("flattenContent = %q, want %q", got, "first second")
	}
}
