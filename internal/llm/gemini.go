package llm

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// GeminiCodec speaks the Gemini generateContent protocol. The API accepts
// snake_case on requests and emits camelCase on responses, so the request
// and response structs are kept separate.
type GeminiCodec struct{}

func (c *GeminiCodec) Type() ProviderType { return ProviderGemini }

type gemRequest struct {
	Contents          []gemReqContent `json:"contents"`
	SystemInstruction *gemReqContent  `json:"system_instruction,omitempty"`
	GenerationConfig  *gemGenConfig   `json:"generationConfig,omitempty"`
	Tools             []gemTool       `json:"tools,omitempty"`
}

type gemReqContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []gemReqPart `json:"parts"`
}

type gemReqPart struct {
	Text             string               `json:"text,omitempty"`
	InlineData       *gemBlob             `json:"inline_data,omitempty"`
	FunctionCall     *gemFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *gemFunctionResponse `json:"functionResponse,omitempty"`
}

type gemBlob struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type gemFunctionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type gemFunctionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type gemGenConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
}

type gemTool struct {
	FunctionDeclarations []gemFunctionDecl `json:"function_declarations"`
}

type gemFunctionDecl struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type gemResponse struct {
	Candidates []struct {
		Content *struct {
			Role  string        `json:"role"`
			Parts []gemRespPart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *gemUsage `json:"usageMetadata"`
	Error         *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type gemRespPart struct {
	Text         string           `json:"text"`
	Thought      bool             `json:"thought"`
	InlineData   *gemRespBlob     `json:"inlineData"`
	FunctionCall *gemFunctionCall `json:"functionCall"`
}

type gemRespBlob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type gemUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	ThoughtsTokenCount   int `json:"thoughtsTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

func (c *GeminiCodec) BuildChatRequest(model RunnableModel, params ChatParams, messages []Message, tools []ToolDefinition) (*WireRequest, error) {
	base, err := parseBaseURL(model.Provider)
	if err != nil {
		return nil, err
	}
	apiKey, err := resolveAPIKey(model.Provider)
	if err != nil {
		return nil, err
	}

	system, contents := buildGemContents(messages)
	if len(contents) == 0 {
		return nil, &BuildError{Provider: model.Provider.ID, Reason: BuildNoMessages, Detail: "no messages to send"}
	}

	wire := gemRequest{Contents: contents, Tools: buildGemTools(tools)}
	if system != "" {
		wire.SystemInstruction = &gemReqContent{Parts: []gemReqPart{{Text: system}}}
	}
	if params.Temperature != nil || params.TopP != nil || params.MaxTokens > 0 {
		wire.GenerationConfig = &gemGenConfig{
			Temperature:     params.Temperature,
			TopP:            params.TopP,
			MaxOutputTokens: params.MaxTokens,
		}
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, &BuildError{Provider: model.Provider.ID, Reason: BuildSerialization, Err: err}
	}

	verb := "generateContent"
	query := url.Values{"key": {apiKey}}
	if params.Stream {
		verb = "streamGenerateContent"
		query.Set("alt", "sse")
	}

	header := newJSONHeader()
	applyHeaderOverrides(header, model.Provider.Headers, apiKey)

	return &WireRequest{
		Method: "POST",
		URL:    fmt.Sprintf("%s/models/%s:%s?%s", base, model.Model.WireName(), verb, query.Encode()),
		Header: header,
		Body:   body,
	}, nil
}

// buildGemContents maps the internal conversation onto Gemini roles:
// assistant becomes "model", system text is lifted out into
// system_instruction, and tool results ride in "function" role parts.
func buildGemContents(messages []Message) (string, []gemReqContent) {
	var systemParts []string
	var contents []gemReqContent

	for i := range messages {
		msg := &messages[i]
		switch msg.Role {
		case RoleSystem:
			if text := msg.Content(); text != "" {
				systemParts = append(systemParts, text)
			}
		case RoleUser:
			content := gemReqContent{Role: "user"}
			if text := msg.Content(); text != "" {
				content.Parts = append(content.Parts, gemReqPart{Text: text})
			}
			for _, att := range msg.Attachments {
				content.Parts = append(content.Parts, gemReqPart{
					InlineData: &gemBlob{
						MIMEType: att.MIME,
						Data:     base64.StdEncoding.EncodeToString(att.Data),
					},
				})
			}
			if len(content.Parts) > 0 {
				contents = append(contents, content)
			}
		case RoleAssistant:
			content := gemReqContent{Role: "model"}
			if text := msg.Content(); text != "" {
				content.Parts = append(content.Parts, gemReqPart{Text: text})
			}
			for _, call := range msg.ToolCalls {
				content.Parts = append(content.Parts, gemReqPart{
					FunctionCall: &gemFunctionCall{
						Name: SanitizeToolName(call.Name),
						Args: argsToMap(call.Arguments),
					},
				})
			}
			if len(content.Parts) > 0 {
				contents = append(contents, content)
			}
		case RoleTool:
			content := gemReqContent{Role: "function"}
			for _, call := range msg.ToolCalls {
				content.Parts = append(content.Parts, gemReqPart{
					FunctionResponse: &gemFunctionResponse{
						Name:     SanitizeToolName(call.Name),
						Response: map[string]any{"output": call.Result},
					},
				})
			}
			if len(content.Parts) > 0 {
				contents = append(contents, content)
			}
		}
	}
	return strings.Join(systemParts, "\n\n"), contents
}

func argsToMap(raw string) map[string]any {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return map[string]any{"_raw": raw}
	}
	return args
}

func buildGemTools(tools []ToolDefinition) []gemTool {
	if len(tools) == 0 {
		return nil
	}
	decls := make([]gemFunctionDecl, 0, len(tools))
	for _, def := range tools {
		decls = append(decls, gemFunctionDecl{
			Name:        SanitizeToolName(def.Name),
			Description: def.Description,
			Parameters:  def.Parameters,
		})
	}
	return []gemTool{{FunctionDeclarations: decls}}
}

func (c *GeminiCodec) ParseResponse(body []byte) (*Message, error) {
	var resp gemResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &ParseError{Provider: string(ProviderGemini), Kind: ParseMalformedJSON, RawBody: string(body), Err: err}
	}
	if resp.Error != nil {
		return nil, &ParseError{Provider: string(ProviderGemini), Kind: ParseUnexpectedShape, RawBody: string(body), Err: fmt.Errorf("%s", resp.Error.Message)}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, &ParseError{Provider: string(ProviderGemini), Kind: ParseMissingContent, RawBody: string(body)}
	}

	var content, reasoning strings.Builder
	msg := NewMessage(RoleAssistant, "")
	for _, part := range resp.Candidates[0].Content.Parts {
		switch {
		case part.FunctionCall != nil:
			msg.ToolCalls = append(msg.ToolCalls, ToolCall{
				ID:        geminiCallID(part.FunctionCall.ID),
				Name:      part.FunctionCall.Name,
				Arguments: marshalArgs(part.FunctionCall.Args),
			})
		case part.InlineData != nil:
			if raw, err := base64.StdEncoding.DecodeString(part.InlineData.Data); err == nil {
				mime := part.InlineData.MIMEType
				if mime == "" {
					mime = SniffImageMIME(raw)
				}
				msg.Attachments = append(msg.Attachments, Attachment{MIME: mime, Data: raw})
			}
		case part.Thought:
			reasoning.WriteString(part.Text)
		default:
			content.WriteString(part.Text)
		}
	}

	clean, thoughts := ExtractThoughts(content.String())
	msg.SetContent(clean)
	msg.Reasoning = joinReasoning(reasoning.String(), thoughts)
	msg.Usage = gemUsageToUsage(resp.UsageMetadata)
	return &msg, nil
}

// geminiCallID returns the provider's call id or synthesizes one; the
// protocol has no native id on most models, and the agent loop needs one
// to pair calls with results.
func geminiCallID(id string) string {
	if id != "" {
		return id
	}
	return "gemini-call-" + uuid.NewString()
}

func marshalArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

// gemUsageToUsage folds thinking tokens into the completion count, per
// the internal convention that output means everything generated.
func gemUsageToUsage(u *gemUsage) *Usage {
	if u == nil {
		return nil
	}
	return &Usage{
		InputTokens:  u.PromptTokenCount,
		OutputTokens: u.CandidatesTokenCount + u.ThoughtsTokenCount,
		TotalTokens:  u.TotalTokenCount,
	}
}

func (c *GeminiCodec) ParseStreamLine(line string) *StreamPart {
	data, ok := strings.CutPrefix(strings.TrimSpace(line), "data:")
	if !ok {
		return nil
	}
	data = strings.TrimSpace(data)
	if data == "" {
		return nil
	}

	var resp gemResponse
	if err := json.Unmarshal([]byte(data), &resp); err != nil {
		return nil
	}

	part := &StreamPart{Usage: gemUsageToUsage(resp.UsageMetadata)}
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, p := range cand.Content.Parts {
			switch {
			case p.FunctionCall != nil:
				// Gemini streams whole calls, one per chunk; synthesize an
				// id so the assembler allocates a fresh builder per call.
				part.ToolCalls = append(part.ToolCalls, ToolCallDelta{
					ID:        geminiCallID(p.FunctionCall.ID),
					Name:      p.FunctionCall.Name,
					Arguments: marshalArgs(p.FunctionCall.Args),
				})
			case p.Thought:
				part.Reasoning += p.Text
			default:
				part.Content += p.Text
			}
		}
	}
	return part
}

type gemModelsResponse struct {
	Models []struct {
		Name        string `json:"name"`
		DisplayName string `json:"displayName"`
	} `json:"models"`
}

func (c *GeminiCodec) BuildModelListRequest(model RunnableModel) (*WireRequest, error) {
	base, err := parseBaseURL(model.Provider)
	if err != nil {
		return nil, err
	}
	apiKey, err := resolveAPIKey(model.Provider)
	if err != nil {
		return nil, err
	}
	header := newJSONHeader()
	applyHeaderOverrides(header, model.Provider.Headers, apiKey)
	return &WireRequest{
		Method: "GET",
		URL:    base + "/models?key=" + url.QueryEscape(apiKey),
		Header: header,
	}, nil
}

func (c *GeminiCodec) ParseModelListResponse(body []byte) ([]ModelInfo, error) {
	var resp gemModelsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &ParseError{Provider: string(ProviderGemini), Kind: ParseMalformedJSON, RawBody: string(body), Err: err}
	}
	models := make([]ModelInfo, len(resp.Models))
	for i, m := range resp.Models {
		models[i] = ModelInfo{
			ID:          strings.TrimPrefix(m.Name, "models/"),
			DisplayName: m.DisplayName,
		}
	}
	return models, nil
}

type gemEmbedBatchRequest struct {
	Requests []gemEmbedRequest `json:"requests"`
}

type gemEmbedRequest struct {
	Model   string        `json:"model"`
	Content gemReqContent `json:"content"`
}

type gemEmbedResponse struct {
	Embeddings []struct {
		Values []float64 `json:"values"`
	} `json:"embeddings"`
}

func (c *GeminiCodec) BuildEmbeddingRequest(model RunnableModel, req EmbeddingRequest) (*WireRequest, error) {
	base, err := parseBaseURL(model.Provider)
	if err != nil {
		return nil, err
	}
	apiKey, err := resolveAPIKey(model.Provider)
	if err != nil {
		return nil, err
	}
	wireModel := "models/" + model.Model.WireName()
	batch := gemEmbedBatchRequest{}
	for _, text := range req.Inputs {
		batch.Requests = append(batch.Requests, gemEmbedRequest{
			Model:   wireModel,
			Content: gemReqContent{Parts: []gemReqPart{{Text: text}}},
		})
	}
	body, err := json.Marshal(batch)
	if err != nil {
		return nil, &BuildError{Provider: model.Provider.ID, Reason: BuildSerialization, Err: err}
	}
	header := newJSONHeader()
	applyHeaderOverrides(header, model.Provider.Headers, apiKey)
	return &WireRequest{
		Method: "POST",
		URL:    fmt.Sprintf("%s/%s:batchEmbedContents?key=%s", base, wireModel, url.QueryEscape(apiKey)),
		Header: header,
		Body:   body,
	}, nil
}

func (c *GeminiCodec) ParseEmbeddingResponse(body []byte) ([][]float64, error) {
	var resp gemEmbedResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &ParseError{Provider: string(ProviderGemini), Kind: ParseMalformedJSON, RawBody: string(body), Err: err}
	}
	if len(resp.Embeddings) == 0 {
		return nil, &ParseError{Provider: string(ProviderGemini), Kind: ParseMissingContent, RawBody: string(body)}
	}
	vectors := make([][]float64, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		vectors[i] = e.Values
	}
	return vectors, nil
}

func (c *GeminiCodec) BuildTranscriptionRequest(RunnableModel, string, []byte, string) (*WireRequest, error) {
	return nil, &FeatureError{Provider: ProviderGemini, Feature: "audio transcription"}
}

func (c *GeminiCodec) ParseTranscriptionResponse([]byte) (string, error) {
	return "", &FeatureError{Provider: ProviderGemini, Feature: "audio transcription"}
}

// BuildImageRequest uses generateContent: Gemini image models return the
// image as an inlineData part rather than through a dedicated endpoint.
func (c *GeminiCodec) BuildImageRequest(model RunnableModel, req ImageRequest) (*WireRequest, error) {
	messages := []Message{NewMessage(RoleUser, req.Prompt)}
	return c.BuildChatRequest(model, ChatParams{}, messages, nil)
}

func (c *GeminiCodec) ParseImageResponse(body []byte) ([]GeneratedImage, error) {
	msg, err := c.ParseResponse(body)
	if err != nil {
		return nil, err
	}
	images := make([]GeneratedImage, 0, len(msg.Attachments))
	for _, att := range msg.Attachments {
		if att.IsImage() {
			images = append(images, GeneratedImage{MIME: att.MIME, Data: att.Data})
		}
	}
	if len(images) == 0 {
		return nil, &ParseError{Provider: string(ProviderGemini), Kind: ParseMissingContent, RawBody: string(body)}
	}
	return images, nil
}
