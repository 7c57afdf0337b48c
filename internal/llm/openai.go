package llm

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"strings"
)

// OpenAICodec speaks the OpenAI chat-completions protocol, which is also
// the de facto dialect of Ollama, LM Studio, OpenRouter and most hosted
// gateways.
type OpenAICodec struct{}

func (c *OpenAICodec) Type() ProviderType { return ProviderOpenAI }

// Wire structures. Tool choice can be a string ("none"/"auto") or an
// object, so it stays `any`.
type oaiChatRequest struct {
	Model         string            `json:"model"`
	Messages      []oaiMessage      `json:"messages"`
	Tools         []oaiTool         `json:"tools,omitempty"`
	ToolChoice    any               `json:"tool_choice,omitempty"`
	Temperature   *float64          `json:"temperature,omitempty"`
	TopP          *float64          `json:"top_p,omitempty"`
	MaxTokens     *int              `json:"max_tokens,omitempty"`
	Stream        bool              `json:"stream,omitempty"`
	StreamOptions *oaiStreamOptions `json:"stream_options,omitempty"`
}

type oaiStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type oaiMessage struct {
	Role             string        `json:"role"`
	Content          any           `json:"content,omitempty"` // string or []oaiContentPart
	ReasoningContent string        `json:"reasoning_content,omitempty"`
	ToolCalls        []oaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID       string        `json:"tool_call_id,omitempty"`
}

type oaiContentPart struct {
	Type       string         `json:"type"`
	Text       string         `json:"text,omitempty"`
	ImageURL   *oaiImageURL   `json:"image_url,omitempty"`
	InputAudio *oaiInputAudio `json:"input_audio,omitempty"`
	File       *oaiInputFile  `json:"file,omitempty"`
}

type oaiImageURL struct {
	URL string `json:"url"`
}

type oaiInputAudio struct {
	Data   string `json:"data"`
	Format string `json:"format"`
}

type oaiInputFile struct {
	Filename string `json:"filename"`
	FileData string `json:"file_data"`
}

type oaiTool struct {
	Type     string      `json:"type"`
	Function oaiFunction `json:"function"`
}

type oaiFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type oaiToolCall struct {
	Index    *int   `json:"index,omitempty"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function,omitempty"`
}

type oaiChatResponse struct {
	ID      string      `json:"id"`
	Model   string      `json:"model"`
	Choices []oaiChoice `json:"choices"`
	Usage   *oaiUsage   `json:"usage,omitempty"`
	Error   *oaiError   `json:"error,omitempty"`
}

type oaiChoice struct {
	Index        int         `json:"index"`
	Message      *oaiMessage `json:"message,omitempty"`
	Delta        *oaiMessage `json:"delta,omitempty"`
	FinishReason string      `json:"finish_reason"`
}

type oaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type oaiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (c *OpenAICodec) BuildChatRequest(model RunnableModel, params ChatParams, messages []Message, tools []ToolDefinition) (*WireRequest, error) {
	base, err := parseBaseURL(model.Provider)
	if err != nil {
		return nil, err
	}
	apiKey, err := resolveAPIKey(model.Provider)
	if err != nil {
		return nil, err
	}

	wireMessages := buildOAIMessages(messages)
	if len(wireMessages) == 0 {
		return nil, &BuildError{Provider: model.Provider.ID, Reason: BuildNoMessages, Detail: "no messages to send"}
	}

	chatReq := oaiChatRequest{
		Model:       model.Model.WireName(),
		Messages:    wireMessages,
		Tools:       buildOAITools(tools),
		Temperature: params.Temperature,
		TopP:        params.TopP,
		Stream:      params.Stream,
	}
	if len(chatReq.Tools) > 0 {
		chatReq.ToolChoice = "auto"
	}
	if params.MaxTokens > 0 {
		v := params.MaxTokens
		chatReq.MaxTokens = &v
	}
	if params.Stream {
		chatReq.StreamOptions = &oaiStreamOptions{IncludeUsage: true}
	}

	body, err := json.Marshal(chatReq)
	if err != nil {
		return nil, &BuildError{Provider: model.Provider.ID, Reason: BuildSerialization, Err: err}
	}

	header := newJSONHeader()
	header.Set("Authorization", "Bearer "+apiKey)
	applyHeaderOverrides(header, model.Provider.Headers, apiKey)

	return &WireRequest{
		Method: "POST",
		URL:    base + "/chat/completions",
		Header: header,
		Body:   body,
	}, nil
}

func buildOAIMessages(messages []Message) []oaiMessage {
	var result []oaiMessage
	for i := range messages {
		msg := &messages[i]
		switch msg.Role {
		case RoleSystem:
			if text := msg.Content(); text != "" {
				result = append(result, oaiMessage{Role: "system", Content: text})
			}
		case RoleUser:
			result = append(result, oaiMessage{Role: "user", Content: buildOAIUserContent(msg)})
		case RoleAssistant:
			wire := oaiMessage{Role: "assistant"}
			if text := msg.Content(); text != "" {
				wire.Content = text
			}
			for _, call := range msg.ToolCalls {
				tc := oaiToolCall{ID: call.ID, Type: "function"}
				tc.Function.Name = SanitizeToolName(call.Name)
				tc.Function.Arguments = call.Arguments
				wire.ToolCalls = append(wire.ToolCalls, tc)
			}
			if wire.Content == nil && len(wire.ToolCalls) == 0 {
				continue
			}
			result = append(result, wire)
		case RoleTool:
			for _, call := range msg.ToolCalls {
				result = append(result, oaiMessage{
					Role:       "tool",
					Content:    call.Result,
					ToolCallID: call.ID,
				})
			}
		}
		// RoleError messages never go back on the wire.
	}
	return result
}

// buildOAIUserContent returns a plain string for text-only messages and a
// content-part array when attachments are present.
func buildOAIUserContent(msg *Message) any {
	if len(msg.Attachments) == 0 {
		return msg.Content()
	}
	parts := []oaiContentPart{}
	if text := msg.Content(); text != "" {
		parts = append(parts, oaiContentPart{Type: "text", Text: text})
	}
	for _, att := range msg.Attachments {
		encoded := base64.StdEncoding.EncodeToString(att.Data)
		switch {
		case att.IsImage():
			parts = append(parts, oaiContentPart{
				Type:     "image_url",
				ImageURL: &oaiImageURL{URL: fmt.Sprintf("data:%s;base64,%s", att.MIME, encoded)},
			})
		case att.IsAudio():
			parts = append(parts, oaiContentPart{
				Type:       "input_audio",
				InputAudio: &oaiInputAudio{Data: encoded, Format: audioFormat(att.MIME)},
			})
		default:
			parts = append(parts, oaiContentPart{
				Type: "file",
				File: &oaiInputFile{
					Filename: att.Name,
					FileData: fmt.Sprintf("data:%s;base64,%s", att.MIME, encoded),
				},
			})
		}
	}
	return parts
}

func audioFormat(mime string) string {
	format := strings.TrimPrefix(mime, "audio/")
	if format == "mpeg" {
		return "mp3"
	}
	return format
}

func buildOAITools(tools []ToolDefinition) []oaiTool {
	if len(tools) == 0 {
		return nil
	}
	result := make([]oaiTool, 0, len(tools))
	for _, def := range tools {
		params, err := json.Marshal(def.Parameters)
		if err != nil {
			continue
		}
		result = append(result, oaiTool{
			Type: "function",
			Function: oaiFunction{
				Name:        SanitizeToolName(def.Name),
				Description: def.Description,
				Parameters:  params,
			},
		})
	}
	return result
}

func (c *OpenAICodec) ParseResponse(body []byte) (*Message, error) {
	var resp oaiChatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &ParseError{Provider: string(ProviderOpenAI), Kind: ParseMalformedJSON, RawBody: string(body), Err: err}
	}
	if resp.Error != nil {
		return nil, &ParseError{Provider: string(ProviderOpenAI), Kind: ParseUnexpectedShape, RawBody: string(body), Err: fmt.Errorf("%s", resp.Error.Message)}
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message == nil {
		return nil, &ParseError{Provider: string(ProviderOpenAI), Kind: ParseMissingContent, RawBody: string(body)}
	}

	wire := resp.Choices[0].Message
	content, _ := wire.Content.(string)
	clean, thoughts := ExtractThoughts(content)

	msg := NewMessage(RoleAssistant, clean)
	msg.Reasoning = joinReasoning(wire.ReasoningContent, thoughts)
	for _, tc := range wire.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	msg.Usage = oaiUsageToUsage(resp.Usage)
	return &msg, nil
}

func joinReasoning(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n")
}

func oaiUsageToUsage(u *oaiUsage) *Usage {
	if u == nil {
		return nil
	}
	return &Usage{
		InputTokens:  u.PromptTokens,
		OutputTokens: u.CompletionTokens,
		TotalTokens:  u.TotalTokens,
	}
}

// oaiStreamDone is the protocol's terminal sentinel.
const oaiStreamDone = "[DONE]"

func (c *OpenAICodec) ParseStreamLine(line string) *StreamPart {
	data, ok := strings.CutPrefix(strings.TrimSpace(line), "data:")
	if !ok {
		return nil
	}
	data = strings.TrimSpace(data)
	if data == "" || data == oaiStreamDone {
		return nil
	}

	var resp oaiChatResponse
	if err := json.Unmarshal([]byte(data), &resp); err != nil {
		return nil
	}

	part := &StreamPart{Usage: oaiUsageToUsage(resp.Usage)}
	for _, choice := range resp.Choices {
		delta := choice.Delta
		if delta == nil {
			continue
		}
		if content, ok := delta.Content.(string); ok {
			part.Content += content
		}
		part.Reasoning += delta.ReasoningContent
		for _, tc := range delta.ToolCalls {
			part.ToolCalls = append(part.ToolCalls, ToolCallDelta{
				ID:        tc.ID,
				Index:     tc.Index,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
	}
	return part
}

type oaiModelsResponse struct {
	Data []struct {
		ID      string `json:"id"`
		Created int64  `json:"created"`
		OwnedBy string `json:"owned_by"`
	} `json:"data"`
}

func (c *OpenAICodec) BuildModelListRequest(model RunnableModel) (*WireRequest, error) {
	base, err := parseBaseURL(model.Provider)
	if err != nil {
		return nil, err
	}
	apiKey, err := resolveAPIKey(model.Provider)
	if err != nil {
		return nil, err
	}
	header := newJSONHeader()
	header.Set("Authorization", "Bearer "+apiKey)
	applyHeaderOverrides(header, model.Provider.Headers, apiKey)
	return &WireRequest{Method: "GET", URL: base + "/models", Header: header}, nil
}

func (c *OpenAICodec) ParseModelListResponse(body []byte) ([]ModelInfo, error) {
	var resp oaiModelsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &ParseError{Provider: string(ProviderOpenAI), Kind: ParseMalformedJSON, RawBody: string(body), Err: err}
	}
	models := make([]ModelInfo, len(resp.Data))
	for i, m := range resp.Data {
		models[i] = ModelInfo{ID: m.ID, Created: m.Created, OwnedBy: m.OwnedBy}
	}
	return models, nil
}

type oaiEmbeddingRequest struct {
	Model          string   `json:"model"`
	Input          []string `json:"input"`
	Dimensions     *int     `json:"dimensions,omitempty"`
	EncodingFormat string   `json:"encoding_format"`
}

type oaiEmbeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

func (c *OpenAICodec) BuildEmbeddingRequest(model RunnableModel, req EmbeddingRequest) (*WireRequest, error) {
	base, err := parseBaseURL(model.Provider)
	if err != nil {
		return nil, err
	}
	apiKey, err := resolveAPIKey(model.Provider)
	if err != nil {
		return nil, err
	}
	wire := oaiEmbeddingRequest{
		Model:          model.Model.WireName(),
		Input:          req.Inputs,
		EncodingFormat: "float",
	}
	if req.Dimensions > 0 {
		wire.Dimensions = &req.Dimensions
	}
	body, err := json.Marshal(wire)
	if err != nil {
		return nil, &BuildError{Provider: model.Provider.ID, Reason: BuildSerialization, Err: err}
	}
	header := newJSONHeader()
	header.Set("Authorization", "Bearer "+apiKey)
	applyHeaderOverrides(header, model.Provider.Headers, apiKey)
	return &WireRequest{Method: "POST", URL: base + "/embeddings", Header: header, Body: body}, nil
}

func (c *OpenAICodec) ParseEmbeddingResponse(body []byte) ([][]float64, error) {
	var resp oaiEmbeddingResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &ParseError{Provider: string(ProviderOpenAI), Kind: ParseMalformedJSON, RawBody: string(body), Err: err}
	}
	if len(resp.Data) == 0 {
		return nil, &ParseError{Provider: string(ProviderOpenAI), Kind: ParseMissingContent, RawBody: string(body)}
	}
	vectors := make([][]float64, len(resp.Data))
	for _, d := range resp.Data {
		if d.Index >= 0 && d.Index < len(vectors) {
			vectors[d.Index] = d.Embedding
		}
	}
	return vectors, nil
}

type oaiTranscription struct {
	Text string `json:"text"`
}

func (c *OpenAICodec) BuildTranscriptionRequest(model RunnableModel, fileName string, audio []byte, language string) (*WireRequest, error) {
	base, err := parseBaseURL(model.Provider)
	if err != nil {
		return nil, err
	}
	apiKey, err := resolveAPIKey(model.Provider)
	if err != nil {
		return nil, err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return nil, &BuildError{Provider: model.Provider.ID, Reason: BuildSerialization, Err: err}
	}
	if _, err := fw.Write(audio); err != nil {
		return nil, &BuildError{Provider: model.Provider.ID, Reason: BuildSerialization, Err: err}
	}
	_ = mw.WriteField("model", model.Model.WireName())
	_ = mw.WriteField("response_format", "json")
	if language != "" {
		_ = mw.WriteField("language", language)
	}
	if err := mw.Close(); err != nil {
		return nil, &BuildError{Provider: model.Provider.ID, Reason: BuildSerialization, Err: err}
	}

	header := newJSONHeader()
	header.Set("Content-Type", mw.FormDataContentType())
	header.Set("Authorization", "Bearer "+apiKey)
	applyHeaderOverrides(header, model.Provider.Headers, apiKey)
	return &WireRequest{Method: "POST", URL: base + "/audio/transcriptions", Header: header, Body: body.Bytes()}, nil
}

func (c *OpenAICodec) ParseTranscriptionResponse(body []byte) (string, error) {
	var resp oaiTranscription
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &ParseError{Provider: string(ProviderOpenAI), Kind: ParseMalformedJSON, RawBody: string(body), Err: err}
	}
	return resp.Text, nil
}

type oaiImageRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n,omitempty"`
	Size           string `json:"size,omitempty"`
	ResponseFormat string `json:"response_format"`
}

type oaiImageResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

func (c *OpenAICodec) BuildImageRequest(model RunnableModel, req ImageRequest) (*WireRequest, error) {
	base, err := parseBaseURL(model.Provider)
	if err != nil {
		return nil, err
	}
	apiKey, err := resolveAPIKey(model.Provider)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(oaiImageRequest{
		Model:          model.Model.WireName(),
		Prompt:         req.Prompt,
		N:              req.Count,
		Size:           req.Size,
		ResponseFormat: "b64_json",
	})
	if err != nil {
		return nil, &BuildError{Provider: model.Provider.ID, Reason: BuildSerialization, Err: err}
	}
	header := newJSONHeader()
	header.Set("Authorization", "Bearer "+apiKey)
	applyHeaderOverrides(header, model.Provider.Headers, apiKey)
	return &WireRequest{Method: "POST", URL: base + "/images/generations", Header: header, Body: body}, nil
}

func (c *OpenAICodec) ParseImageResponse(body []byte) ([]GeneratedImage, error) {
	var resp oaiImageResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &ParseError{Provider: string(ProviderOpenAI), Kind: ParseMalformedJSON, RawBody: string(body), Err: err}
	}
	if len(resp.Data) == 0 {
		return nil, &ParseError{Provider: string(ProviderOpenAI), Kind: ParseMissingContent, RawBody: string(body)}
	}
	images := make([]GeneratedImage, 0, len(resp.Data))
	for _, d := range resp.Data {
		raw, err := base64.StdEncoding.DecodeString(d.B64JSON)
		if err != nil {
			continue
		}
		images = append(images, GeneratedImage{MIME: SniffImageMIME(raw), Data: raw})
	}
	return images, nil
}
