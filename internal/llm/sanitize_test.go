package llm

import (
	"regexp"
	"strings"
	"testing"
)

func TestSanitizeToolNamePassthrough(t *testing.T) {
	for _, name := range []string{"search", "read_file", "fs.list", "get-user", "Tool_9"} {
		if got := SanitizeToolName(name); got != name {
			t.Fatalf("SanitizeToolName(%q)=%q, want unchanged", name, got)
		}
	}
}

func TestSanitizeToolNameReplacesUnsafe(t *testing.T) {
	if got := SanitizeToolName("my tool!"); got != "my_tool_" {
		t.Fatalf("got %q", got)
	}
	if got := SanitizeToolName("ns::fn"); got != "ns__fn" {
		t.Fatalf("got %q", got)
	}
}

func TestSanitizeToolNameLongName(t *testing.T) {
	long := strings.Repeat("a", 100)
	got := SanitizeToolName(long)
	if len(got) != 64 {
		t.Fatalf("len=%d, want 64", len(got))
	}
	if !strings.HasPrefix(got, strings.Repeat("a", 55)+"_") {
		t.Fatalf("unexpected shape: %q", got)
	}
	suffix := got[56:]
	if !regexp.MustCompile(`^[0-9a-f]{8}$`).MatchString(suffix) {
		t.Fatalf("suffix %q is not 8 hex chars", suffix)
	}
}

func TestSanitizeToolNameDeterministic(t *testing.T) {
	long := strings.Repeat("x", 80) + "!"
	a := SanitizeToolName(long)
	b := SanitizeToolName(long)
	if a != b {
		t.Fatalf("not deterministic: %q vs %q", a, b)
	}
}

func TestSanitizeToolNameIdempotent(t *testing.T) {
	long := strings.Repeat("b", 90)
	once := SanitizeToolName(long)
	twice := SanitizeToolName(once)
	if once != twice {
		t.Fatalf("not idempotent: %q vs %q", once, twice)
	}
}

func TestSanitizeToolNameDistinctLongNames(t *testing.T) {
	a := SanitizeToolName(strings.Repeat("a", 70) + "first")
	b := SanitizeToolName(strings.Repeat("a", 70) + "second")
	if a == b {
		t.Fatalf("distinct names collided: %q", a)
	}
}

func TestCanonicalToolName(t *testing.T) {
	tools := []ToolDefinition{
		{Name: "my tool!"},
		{Name: "plain"},
	}
	if got := CanonicalToolName("my_tool_", tools); got != "my tool!" {
		t.Fatalf("got %q", got)
	}
	if got := CanonicalToolName("plain", tools); got != "plain" {
		t.Fatalf("got %q", got)
	}
	if got := CanonicalToolName("unknown", tools); got != "unknown" {
		t.Fatalf("got %q", got)
	}
}
