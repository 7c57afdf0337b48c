package llm

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
)

// maxToolNameLen is the strictest name length across the three protocols.
const maxToolNameLen = 64

var toolNameUnsafe = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// SanitizeToolName normalizes a tool name into the charset and length all
// three providers accept. Over-long names are truncated and suffixed with
// a hash of the original so distinct names stay distinct, and the same
// source name always sanitizes identically. Providers echo the sanitized
// name back in tool calls, so determinism is what makes the reverse
// lookup in CanonicalToolName work.
func SanitizeToolName(name string) string {
	safe := toolNameUnsafe.ReplaceAllString(name, "_")
	if len(safe) <= maxToolNameLen {
		return safe
	}
	sum := sha256.Sum256([]byte(name))
	suffix := "_" + hex.EncodeToString(sum[:])[:8]
	return safe[:maxToolNameLen-len(suffix)] + suffix
}

// CanonicalToolName maps a name echoed by a provider back to the
// canonical definition it was sanitized from. Unknown names are returned
// unchanged.
func CanonicalToolName(streamed string, tools []ToolDefinition) string {
	for _, t := range tools {
		if t.Name == streamed || SanitizeToolName(t.Name) == streamed {
			return t.Name
		}
	}
	return streamed
}
