package llm

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// anthropicDefaultVersion is sent as anthropic-version unless the provider
// config overrides it.
const anthropicDefaultVersion = "2023-06-01"

// anthropicDefaultMaxTokens is used when the model config leaves the limit
// unset; the messages API rejects requests without max_tokens.
const anthropicDefaultMaxTokens = 8192

// AnthropicCodec speaks the Anthropic messages protocol.
type AnthropicCodec struct{}

func (c *AnthropicCodec) Type() ProviderType { return ProviderAnthropic }

type antRequest struct {
	Model       string       `json:"model"`
	MaxTokens   int          `json:"max_tokens"`
	System      string       `json:"system,omitempty"`
	Messages    []antMessage `json:"messages"`
	Tools       []antTool    `json:"tools,omitempty"`
	Temperature *float64     `json:"temperature,omitempty"`
	TopP        *float64     `json:"top_p,omitempty"`
	Stream      bool         `json:"stream,omitempty"`
}

type antMessage struct {
	Role    string     `json:"role"`
	Content []antBlock `json:"content"`
}

// antBlock is a typed content block. Only the fields for its Type are set.
type antBlock struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	Source *antSource `json:"source,omitempty"`

	// tool_use
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

type antSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type antTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

type antResponse struct {
	ID      string `json:"id"`
	Role    string `json:"role"`
	Content []struct {
		Type     string         `json:"type"`
		Text     string         `json:"text"`
		Thinking string         `json:"thinking"`
		ID       string         `json:"id"`
		Name     string         `json:"name"`
		Input    map[string]any `json:"input"`
	} `json:"content"`
	StopReason string    `json:"stop_reason"`
	Usage      *antUsage `json:"usage"`
	Error      *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

type antUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
}

func (c *AnthropicCodec) BuildChatRequest(model RunnableModel, params ChatParams, messages []Message, tools []ToolDefinition) (*WireRequest, error) {
	base, err := parseBaseURL(model.Provider)
	if err != nil {
		return nil, err
	}
	apiKey, err := resolveAPIKey(model.Provider)
	if err != nil {
		return nil, err
	}

	system, wireMessages := buildAntMessages(messages)
	if len(wireMessages) == 0 {
		return nil, &BuildError{Provider: model.Provider.ID, Reason: BuildNoMessages, Detail: "no messages to send"}
	}

	maxTokens := params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}
	wire := antRequest{
		Model:       model.Model.WireName(),
		MaxTokens:   maxTokens,
		System:      system,
		Messages:    wireMessages,
		Tools:       buildAntTools(tools),
		Temperature: params.Temperature,
		TopP:        params.TopP,
		Stream:      params.Stream,
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, &BuildError{Provider: model.Provider.ID, Reason: BuildSerialization, Err: err}
	}

	header := antHeader(model.Provider, apiKey)
	return &WireRequest{
		Method: "POST",
		URL:    base + "/messages",
		Header: header,
		Body:   body,
	}, nil
}

// antHeader builds the auth headers the messages API requires. Anthropic
// authenticates with x-api-key rather than a bearer token.
func antHeader(cfg ProviderConfig, apiKey string) http.Header {
	header := newJSONHeader()
	header.Set("x-api-key", apiKey)
	version := cfg.APIVersion
	if version == "" {
		version = anthropicDefaultVersion
	}
	header.Set("anthropic-version", version)
	applyHeaderOverrides(header, cfg.Headers, apiKey)
	return header
}

// buildAntMessages lifts system text to the top-level system field and
// converts everything else into typed content blocks. Tool results become
// user-role tool_result blocks, paired to the tool_use id.
func buildAntMessages(messages []Message) (string, []antMessage) {
	var systemParts []string
	var out []antMessage

	for i := range messages {
		msg := &messages[i]
		switch msg.Role {
		case RoleSystem:
			if text := msg.Content(); text != "" {
				systemParts = append(systemParts, text)
			}
		case RoleUser:
			var blocks []antBlock
			for _, att := range msg.Attachments {
				if !att.IsImage() {
					continue
				}
				blocks = append(blocks, antBlock{
					Type: "image",
					Source: &antSource{
						Type:      "base64",
						MediaType: att.MIME,
						Data:      base64.StdEncoding.EncodeToString(att.Data),
					},
				})
			}
			if text := msg.Content(); text != "" {
				blocks = append(blocks, antBlock{Type: "text", Text: text})
			}
			if len(blocks) > 0 {
				out = append(out, antMessage{Role: "user", Content: blocks})
			}
		case RoleAssistant:
			var blocks []antBlock
			if text := msg.Content(); text != "" {
				blocks = append(blocks, antBlock{Type: "text", Text: text})
			}
			for _, call := range msg.ToolCalls {
				blocks = append(blocks, antBlock{
					Type:  "tool_use",
					ID:    call.ID,
					Name:  SanitizeToolName(call.Name),
					Input: argsToMap(call.Arguments),
				})
			}
			if len(blocks) > 0 {
				out = append(out, antMessage{Role: "assistant", Content: blocks})
			}
		case RoleTool:
			var blocks []antBlock
			for _, call := range msg.ToolCalls {
				blocks = append(blocks, antBlock{
					Type:      "tool_result",
					ToolUseID: call.ID,
					Content:   call.Result,
				})
			}
			if len(blocks) > 0 {
				out = append(out, antMessage{Role: "user", Content: blocks})
			}
		}
	}
	return strings.Join(systemParts, "\n\n"), out
}

func buildAntTools(tools []ToolDefinition) []antTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]antTool, 0, len(tools))
	for _, def := range tools {
		schema := def.Parameters
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, antTool{
			Name:        SanitizeToolName(def.Name),
			Description: def.Description,
			InputSchema: schema,
		})
	}
	return out
}

func (c *AnthropicCodec) ParseResponse(body []byte) (*Message, error) {
	var resp antResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &ParseError{Provider: string(ProviderAnthropic), Kind: ParseMalformedJSON, RawBody: string(body), Err: err}
	}
	if resp.Error != nil {
		return nil, &ParseError{Provider: string(ProviderAnthropic), Kind: ParseUnexpectedShape, RawBody: string(body), Err: fmt.Errorf("%s: %s", resp.Error.Type, resp.Error.Message)}
	}
	if len(resp.Content) == 0 {
		return nil, &ParseError{Provider: string(ProviderAnthropic), Kind: ParseMissingContent, RawBody: string(body)}
	}

	var content, reasoning strings.Builder
	msg := NewMessage(RoleAssistant, "")
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			content.WriteString(block.Text)
		case "thinking":
			reasoning.WriteString(block.Thinking)
		case "tool_use":
			msg.ToolCalls = append(msg.ToolCalls, ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: marshalArgs(block.Input),
			})
		}
	}

	clean, thoughts := ExtractThoughts(content.String())
	msg.SetContent(clean)
	msg.Reasoning = joinReasoning(reasoning.String(), thoughts)
	msg.Usage = antUsageToUsage(resp.Usage)
	return &msg, nil
}

// antUsageToUsage folds cache token counts into the input side; the total
// is computed since the protocol reports none.
func antUsageToUsage(u *antUsage) *Usage {
	if u == nil {
		return nil
	}
	input := u.InputTokens + u.CacheCreationInputTokens + u.CacheReadInputTokens
	usage := &Usage{InputTokens: input, OutputTokens: u.OutputTokens}
	if input > 0 || u.OutputTokens > 0 {
		usage.TotalTokens = input + u.OutputTokens
	}
	return usage
}

// antStreamEvent covers every event shape the messages stream emits; the
// Type field says which of the optional payloads is present.
type antStreamEvent struct {
	Type string `json:"type"`

	Message *struct {
		Usage *antUsage `json:"usage"`
	} `json:"message"`

	Index        *int `json:"index"`
	ContentBlock *struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`

	Delta *struct {
		Type        string    `json:"type"`
		Text        string    `json:"text"`
		Thinking    string    `json:"thinking"`
		PartialJSON string    `json:"partial_json"`
		StopReason  string    `json:"stop_reason"`
		Usage       *antUsage `json:"usage"`
	} `json:"delta"`

	Usage *antUsage `json:"usage"`
}

// ParseStreamLine decodes one SSE data line. Event names on their own
// "event:" lines are ignored; the data payload's type field carries the
// same information.
func (c *AnthropicCodec) ParseStreamLine(line string) *StreamPart {
	data, ok := strings.CutPrefix(strings.TrimSpace(line), "data:")
	if !ok {
		return nil
	}
	data = strings.TrimSpace(data)
	if data == "" {
		return nil
	}

	var event antStreamEvent
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		return nil
	}

	switch event.Type {
	case "message_start":
		// Carries the input-side token counts; the output side arrives
		// later in message_delta and the assembler merges field-wise.
		if event.Message != nil && event.Message.Usage != nil {
			u := event.Message.Usage
			input := u.InputTokens + u.CacheCreationInputTokens + u.CacheReadInputTokens
			return &StreamPart{Usage: &Usage{InputTokens: input}}
		}
	case "content_block_start":
		if event.ContentBlock != nil && event.ContentBlock.Type == "tool_use" {
			return &StreamPart{ToolCalls: []ToolCallDelta{{
				ID:    event.ContentBlock.ID,
				Index: event.Index,
				Name:  event.ContentBlock.Name,
			}}}
		}
	case "content_block_delta":
		if event.Delta == nil {
			return nil
		}
		switch event.Delta.Type {
		case "text_delta":
			return &StreamPart{Content: event.Delta.Text}
		case "thinking_delta":
			return &StreamPart{Reasoning: event.Delta.Thinking}
		case "input_json_delta":
			return &StreamPart{ToolCalls: []ToolCallDelta{{
				Index:     event.Index,
				Arguments: event.Delta.PartialJSON,
			}}}
		}
	case "message_delta":
		var u *antUsage
		if event.Usage != nil {
			u = event.Usage
		} else if event.Delta != nil && event.Delta.Usage != nil {
			u = event.Delta.Usage
		}
		if u != nil {
			return &StreamPart{Usage: &Usage{OutputTokens: u.OutputTokens}}
		}
	}
	return nil
}

type antModelsResponse struct {
	Data []struct {
		ID          string `json:"id"`
		DisplayName string `json:"display_name"`
		CreatedAt   string `json:"created_at"`
	} `json:"data"`
}

func (c *AnthropicCodec) BuildModelListRequest(model RunnableModel) (*WireRequest, error) {
	base, err := parseBaseURL(model.Provider)
	if err != nil {
		return nil, err
	}
	apiKey, err := resolveAPIKey(model.Provider)
	if err != nil {
		return nil, err
	}
	return &WireRequest{
		Method: "GET",
		URL:    base + "/models",
		Header: antHeader(model.Provider, apiKey),
	}, nil
}

func (c *AnthropicCodec) ParseModelListResponse(body []byte) ([]ModelInfo, error) {
	var resp antModelsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &ParseError{Provider: string(ProviderAnthropic), Kind: ParseMalformedJSON, RawBody: string(body), Err: err}
	}
	models := make([]ModelInfo, len(resp.Data))
	for i, m := range resp.Data {
		info := ModelInfo{ID: m.ID, DisplayName: m.DisplayName}
		if t, err := time.Parse(time.RFC3339, m.CreatedAt); err == nil {
			info.Created = t.Unix()
		}
		models[i] = info
	}
	return models, nil
}

func (c *AnthropicCodec) BuildEmbeddingRequest(RunnableModel, EmbeddingRequest) (*WireRequest, error) {
	return nil, &FeatureError{Provider: ProviderAnthropic, Feature: "embeddings"}
}

func (c *AnthropicCodec) ParseEmbeddingResponse([]byte) ([][]float64, error) {
	return nil, &FeatureError{Provider: ProviderAnthropic, Feature: "embeddings"}
}

func (c *AnthropicCodec) BuildTranscriptionRequest(RunnableModel, string, []byte, string) (*WireRequest, error) {
	return nil, &FeatureError{Provider: ProviderAnthropic, Feature: "audio transcription"}
}

func (c *AnthropicCodec) ParseTranscriptionResponse([]byte) (string, error) {
	return "", &FeatureError{Provider: ProviderAnthropic, Feature: "audio transcription"}
}

func (c *AnthropicCodec) BuildImageRequest(RunnableModel, ImageRequest) (*WireRequest, error) {
	return nil, &FeatureError{Provider: ProviderAnthropic, Feature: "image generation"}
}

func (c *AnthropicCodec) ParseImageResponse([]byte) ([]GeneratedImage, error) {
	return nil, &FeatureError{Provider: ProviderAnthropic, Feature: "image generation"}
}
