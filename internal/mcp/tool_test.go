package mcp

import (
	"context"
	"errors"
	"testing"
)

type stubCaller struct {
	gotName string
	gotArgs string
	result  string
	err     error
}

func (s *stubCaller) CallTool(_ context.Context, name, arguments string) (string, error) {
	s.gotName = name
	s.gotArgs = arguments
	return s.result, s.err
}

func TestServerToolDefinition(t *testing.T) {
	tool := NewServerTool(&stubCaller{}, ToolSpec{
		Name:        "search_notes",
		Description: "Full-text search over notes",
		Schema:      map[string]any{"type": "object"},
	})

	def := tool.Definition()
	if def.Name != "search_notes" {
		t.Errorf("Name = %q", def.Name)
	}
	if def.Description != "Full-text search over notes" {
		t.Errorf("Description = %q", def.Description)
	}
	if def.Parameters["type"] != "object" {
		t.Errorf("Parameters = %v", def.Parameters)
	}
	if !def.Blocking {
		t.Error("server tools must block the turn")
	}
}

func TestServerToolExecuteForwardsToCaller(t *testing.T) {
	caller := &stubCaller{result: "3 notes found"}
	tool := NewServerTool(caller, ToolSpec{Name: "search_notes"})

	out, err := tool.Execute(context.Background(), `{"query":"go"}`)
	if err != nil {
		t.Fatal(err)
	}
	if out != "3 notes found" {
		t.Errorf("result = %q", out)
	}
	if caller.gotName != "search_notes" {
		t.Errorf("called %q", caller.gotName)
	}
	if caller.gotArgs != `{"query":"go"}` {
		t.Errorf("arguments = %q", caller.gotArgs)
	}
}

func TestServerToolExecutePropagatesError(t *testing.T) {
	caller := &stubCaller{err: errors.New("server went away")}
	tool := NewServerTool(caller, ToolSpec{Name: "search_notes"})

	if _, err := tool.Execute(context.Background(), "{}"); err == nil {
		t.Fatal("expected error")
	}
}
