package llm

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role identifies a message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleError     Role = "error"
)

// Message is a single conversation entry. Assistant replies keep every
// rendering they ever had in Versions; Current indexes the one shown.
// Versions is never empty and Current is always a valid index.
type Message struct {
	ID          string       `json:"id"`
	Role        Role         `json:"role"`
	Versions    []string     `json:"versions"`
	Current     int          `json:"current"`
	Reasoning   string       `json:"reasoning,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	Usage       *Usage       `json:"usage,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	CreatedAt   time.Time    `json:"created_at,omitempty"`
}

// NewMessage creates a message with a fresh ID and a single version.
func NewMessage(role Role, text string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Versions:  []string{text},
		Current:   0,
		CreatedAt: time.Now(),
	}
}

// normalize repairs the version invariant after deserialization from
// sources that may not have maintained it.
func (m *Message) normalize() {
	if len(m.Versions) == 0 {
		m.Versions = []string{""}
	}
	if m.Current < 0 {
		m.Current = 0
	}
	if m.Current >= len(m.Versions) {
		m.Current = len(m.Versions) - 1
	}
}

// Content returns the currently selected version's text.
func (m *Message) Content() string {
	m.normalize()
	return m.Versions[m.Current]
}

// SetContent overwrites the current version in place. Used while a reply
// is still streaming; finished versions are only replaced via AddVersion.
func (m *Message) SetContent(text string) {
	m.normalize()
	m.Versions[m.Current] = text
}

// AddVersion appends a new version and selects it. Prior versions stay
// reachable by index.
func (m *Message) AddVersion(text string) {
	m.normalize()
	m.Versions = append(m.Versions, text)
	m.Current = len(m.Versions) - 1
}

// VersionCount reports how many renderings this message retains.
func (m *Message) VersionCount() int {
	m.normalize()
	return len(m.Versions)
}

// SelectVersion switches the visible version. Out-of-range indexes are
// ignored.
func (m *Message) SelectVersion(i int) {
	m.normalize()
	if i >= 0 && i < len(m.Versions) {
		m.Current = i
	}
}

// DropCurrentVersion removes the selected version and re-selects the
// last remaining one. The final version never drops; reports whether a
// version was removed.
func (m *Message) DropCurrentVersion() bool {
	m.normalize()
	if len(m.Versions) < 2 {
		return false
	}
	m.Versions = append(m.Versions[:m.Current], m.Versions[m.Current+1:]...)
	m.Current = len(m.Versions) - 1
	return true
}

// HasVisibleOutput reports whether the message carries anything a user
// could already have seen. Cancellation keeps such messages.
func (m *Message) HasVisibleOutput() bool {
	return strings.TrimSpace(m.Content()) != "" ||
		strings.TrimSpace(m.Reasoning) != "" ||
		len(m.ToolCalls) > 0 ||
		len(m.Attachments) > 0
}

// ToolCall is a model-requested tool invocation. Arguments accumulates
// incrementally during streaming and is only guaranteed to be valid JSON
// once the call is complete.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
	Result    string `json:"result,omitempty"`
}

// ToolDefinition describes a callable tool advertised to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Blocking    bool           `json:"blocking"`
}

// ToolCallDelta is one streamed fragment of a tool call. Providers key
// fragments differently (explicit id, block index, or nothing at all), so
// every field is optional.
type ToolCallDelta struct {
	ID        string
	Index     *int
	Name      string
	Arguments string
}

// StreamPart is the result of decoding one streaming line.
type StreamPart struct {
	Content   string
	Reasoning string
	ToolCalls []ToolCallDelta
	Usage     *Usage
}

// Empty reports whether the part carries no information.
func (p *StreamPart) Empty() bool {
	return p == nil || (p.Content == "" && p.Reasoning == "" && len(p.ToolCalls) == 0 && p.Usage == nil)
}

// Usage captures token accounting for one model call. A nil *Usage means
// the provider reported nothing; a zero value means it reported zeros.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add folds another usage report into this one.
func (u *Usage) Add(other *Usage) {
	if other == nil {
		return
	}
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
}

// Attachment is a binary payload sent with a message (image, audio, or an
// arbitrary file). Data is raw bytes; codecs base64-encode as needed.
type Attachment struct {
	Name string `json:"name"`
	MIME string `json:"mime"`
	Data []byte `json:"data,omitempty"`
}

// IsImage reports whether the attachment is an image by MIME type.
func (a Attachment) IsImage() bool { return strings.HasPrefix(a.MIME, "image/") }

// IsAudio reports whether the attachment is audio by MIME type.
func (a Attachment) IsAudio() bool { return strings.HasPrefix(a.MIME, "audio/") }

// ProviderType selects a wire protocol.
type ProviderType string

const (
	ProviderOpenAI    ProviderType = "openai"
	ProviderGemini    ProviderType = "gemini"
	ProviderAnthropic ProviderType = "anthropic"
)

// ProviderConfig is the connection half of a runnable model.
type ProviderConfig struct {
	ID         string            `json:"id"`
	Type       ProviderType      `json:"type"`
	BaseURL    string            `json:"base_url"`
	APIKeys    []string          `json:"api_keys,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	APIVersion string            `json:"api_version,omitempty"` // anthropic-version override
}

// ModelConfig is the model half of a runnable model.
type ModelConfig struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"` // wire model name; defaults to ID
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	Stream      bool     `json:"stream"`
}

// WireName returns the model identifier sent on the wire.
func (m ModelConfig) WireName() string {
	if m.Name != "" {
		return m.Name
	}
	return m.ID
}

// RunnableModel pairs a provider with a model. Identity is the composite
// ID only; two structurally different copies with the same ID name the
// same target.
type RunnableModel struct {
	Provider ProviderConfig `json:"provider"`
	Model    ModelConfig    `json:"model"`
}

// ID returns the composite identity.
func (r RunnableModel) ID() string {
	return r.Provider.ID + "/" + r.Model.ID
}

// Equal compares runnable models by ID only.
func (r RunnableModel) Equal(other RunnableModel) bool {
	return r.ID() == other.ID()
}

// ChatParams are the per-request knobs shared by all providers.
type ChatParams struct {
	Stream      bool
	Temperature *float64
	TopP        *float64
	MaxTokens   int
}

// ModelInfo describes a model reported by a provider's listing endpoint.
type ModelInfo struct {
	ID          string
	DisplayName string
	Created     int64
	OwnedBy     string
}

// GeneratedImage is one decoded image-generation result.
type GeneratedImage struct {
	MIME string
	Data []byte
}
