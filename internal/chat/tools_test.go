package chat

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/colebaker/chatwire/internal/llm"
	"github.com/colebaker/chatwire/internal/testutil"
)

func TestToolRegistryGetResolvesSanitizedName(t *testing.T) {
	registry := NewToolRegistry()
	canonical := "repo:search files!"
	registry.Register(&testutil.MockTool{Def: llm.ToolDefinition{Name: canonical}})

	if _, ok := registry.Get(canonical); !ok {
		t.Error("canonical name not found")
	}
	sanitized := llm.SanitizeToolName(canonical)
	if sanitized == canonical {
		t.Fatalf("test needs a name that sanitization changes, got %q", sanitized)
	}
	if _, ok := registry.Get(sanitized); !ok {
		t.Errorf("sanitized name %q not resolved", sanitized)
	}
	if _, ok := registry.Get("missing"); ok {
		t.Error("unknown name resolved")
	}
}

func TestToolRegistryUnregister(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(&testutil.MockTool{Def: llm.ToolDefinition{Name: "gone"}})
	registry.Unregister("gone")
	if _, ok := registry.Get("gone"); ok {
		t.Error("tool still resolvable after Unregister")
	}
	if len(registry.Definitions()) != 0 {
		t.Error("definitions not empty after Unregister")
	}
}

func TestLoadManifestOverrides(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(&testutil.MockTool{Def: llm.ToolDefinition{
		Name:        "search",
		Description: "original",
		Blocking:    false,
	}})

	path := filepath.Join(t.TempDir(), "tools.yaml")
	manifest := `- name: search
  description: Search the session index.
  blocking: true
`
	if err := os.WriteFile(path, []byte(manifest), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := registry.LoadManifest(path); err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}

	tool, ok := registry.Get("search")
	if !ok {
		t.Fatal("tool missing after manifest load")
	}
	def := tool.Definition()
	if def.Description != "Search the session index." {
		t.Errorf("description = %q", def.Description)
	}
	if !def.Blocking {
		t.Error("blocking override not applied")
	}
}

func TestLoadManifestUnknownToolFails(t *testing.T) {
	registry := NewToolRegistry()
	path := filepath.Join(t.TempDir(), "tools.yaml")
	if err := os.WriteFile(path, []byte("- name: nope\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	err := registry.LoadManifest(path)
	if err == nil || !strings.Contains(err.Error(), "unknown tool") {
		t.Errorf("err = %v, want unknown tool error", err)
	}
}
