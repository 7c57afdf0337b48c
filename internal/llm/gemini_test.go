package llm

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestGeminiBuildChatRequest(t *testing.T) {
	codec := &GeminiCodec{}
	messages := []Message{
		NewMessage(RoleSystem, "be brief"),
		NewMessage(RoleUser, "hello"),
		NewMessage(RoleAssistant, "hi there"),
		NewMessage(RoleUser, "bye"),
	}
	req, err := codec.BuildChatRequest(testModel(ProviderGemini), ChatParams{MaxTokens: 100}, messages, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !strings.Contains(req.URL, "/models/test-model:generateContent?") {
		t.Fatalf("url=%s", req.URL)
	}
	if !strings.Contains(req.URL, "key=sk-test") {
		t.Fatalf("url missing key: %s", req.URL)
	}

	var wire map[string]json.RawMessage
	if err := json.Unmarshal(req.Body, &wire); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := wire["system_instruction"]; !ok {
		t.Fatalf("system_instruction missing: %s", req.Body)
	}

	var contents []gemReqContent
	if err := json.Unmarshal(wire["contents"], &contents); err != nil {
		t.Fatalf("contents: %v", err)
	}
	if len(contents) != 3 {
		t.Fatalf("contents=%d", len(contents))
	}
	if contents[1].Role != "model" {
		t.Fatalf("assistant role=%q", contents[1].Role)
	}
}

func TestGeminiBuildStreamURL(t *testing.T) {
	codec := &GeminiCodec{}
	req, err := codec.BuildChatRequest(testModel(ProviderGemini), ChatParams{Stream: true}, []Message{NewMessage(RoleUser, "hi")}, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !strings.Contains(req.URL, ":streamGenerateContent?") || !strings.Contains(req.URL, "alt=sse") {
		t.Fatalf("url=%s", req.URL)
	}
}

func TestGeminiBuildToolResults(t *testing.T) {
	codec := &GeminiCodec{}
	assistant := NewMessage(RoleAssistant, "")
	assistant.ToolCalls = []ToolCall{{ID: "gemini-call-1", Name: "lookup", Arguments: `{"q":"go"}`}}
	toolMsg := NewMessage(RoleTool, "")
	toolMsg.ToolCalls = []ToolCall{{ID: "gemini-call-1", Name: "lookup", Result: "found it"}}

	req, err := codec.BuildChatRequest(testModel(ProviderGemini), ChatParams{},
		[]Message{NewMessage(RoleUser, "go"), assistant, toolMsg},
		[]ToolDefinition{{Name: "lookup"}})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	body := string(req.Body)
	if !strings.Contains(body, `"functionCall"`) {
		t.Fatalf("no functionCall: %s", body)
	}
	if !strings.Contains(body, `"functionResponse"`) || !strings.Contains(body, `"role":"function"`) {
		t.Fatalf("no functionResponse: %s", body)
	}
	if !strings.Contains(body, `"output":"found it"`) {
		t.Fatalf("result not wrapped: %s", body)
	}
	if !strings.Contains(body, `"function_declarations"`) {
		t.Fatalf("no tool declarations: %s", body)
	}
}

func TestGeminiParseResponse(t *testing.T) {
	body := `{
		"candidates":[{"content":{"role":"model","parts":[
			{"text":"plan first","thought":true},
			{"text":"The answer is 4."}
		]}}],
		"usageMetadata":{"promptTokenCount":12,"candidatesTokenCount":6,"thoughtsTokenCount":3,"totalTokenCount":21}
	}`
	codec := &GeminiCodec{}
	msg, err := codec.ParseResponse([]byte(body))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if msg.Content() != "The answer is 4." {
		t.Fatalf("content=%q", msg.Content())
	}
	if msg.Reasoning != "plan first" {
		t.Fatalf("reasoning=%q", msg.Reasoning)
	}
	// Thinking tokens count as output.
	if msg.Usage == nil || msg.Usage.OutputTokens != 9 || msg.Usage.InputTokens != 12 {
		t.Fatalf("usage=%+v", msg.Usage)
	}
}

func TestGeminiParseResponseFunctionCall(t *testing.T) {
	body := `{"candidates":[{"content":{"role":"model","parts":[
		{"functionCall":{"name":"lookup","args":{"q":"go"}}}
	]}}]}`
	codec := &GeminiCodec{}
	msg, err := codec.ParseResponse([]byte(body))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(msg.ToolCalls) != 1 {
		t.Fatalf("calls=%+v", msg.ToolCalls)
	}
	call := msg.ToolCalls[0]
	if call.Name != "lookup" || call.Arguments != `{"q":"go"}` {
		t.Fatalf("call=%+v", call)
	}
	if !strings.HasPrefix(call.ID, "gemini-call-") {
		t.Fatalf("no synthesized id: %q", call.ID)
	}
}

func TestGeminiParseResponseMissingContent(t *testing.T) {
	codec := &GeminiCodec{}
	_, err := codec.ParseResponse([]byte(`{"candidates":[]}`))
	var pe *ParseError
	if !asParseError(err, &pe) || pe.Kind != ParseMissingContent {
		t.Fatalf("err=%v", err)
	}
}

func TestGeminiParseStreamLine(t *testing.T) {
	codec := &GeminiCodec{}
	part := codec.ParseStreamLine(`data: {"candidates":[{"content":{"role":"model","parts":[{"text":"Hel"}]}}]}`)
	if part == nil || part.Content != "Hel" {
		t.Fatalf("part=%+v", part)
	}
	if p := codec.ParseStreamLine(""); p != nil {
		t.Fatalf("blank produced %+v", p)
	}
	if p := codec.ParseStreamLine("data: {nope"); p != nil {
		t.Fatalf("malformed produced %+v", p)
	}
}

func TestGeminiStreamDistinctCallsGetDistinctSlots(t *testing.T) {
	codec := &GeminiCodec{}
	a := NewDeltaAssembler()
	a.Add(codec.ParseStreamLine(`data: {"candidates":[{"content":{"role":"model","parts":[{"functionCall":{"name":"one","args":{}}}]}}]}`))
	a.Add(codec.ParseStreamLine(`data: {"candidates":[{"content":{"role":"model","parts":[{"functionCall":{"name":"two","args":{}}}]}}]}`))

	msg := a.Message()
	if len(msg.ToolCalls) != 2 {
		t.Fatalf("calls=%+v", msg.ToolCalls)
	}
	if msg.ToolCalls[0].ID == msg.ToolCalls[1].ID {
		t.Fatalf("ids collided: %q", msg.ToolCalls[0].ID)
	}
}

func TestGeminiParseModelList(t *testing.T) {
	codec := &GeminiCodec{}
	models, err := codec.ParseModelListResponse([]byte(`{"models":[
		{"name":"models/gemini-pro","displayName":"Gemini Pro"}
	]}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(models) != 1 || models[0].ID != "gemini-pro" || models[0].DisplayName != "Gemini Pro" {
		t.Fatalf("models=%+v", models)
	}
}

func TestGeminiEmbeddingRoundTrip(t *testing.T) {
	codec := &GeminiCodec{}
	req, err := codec.BuildEmbeddingRequest(testModel(ProviderGemini), EmbeddingRequest{Inputs: []string{"a", "b"}})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !strings.Contains(req.URL, ":batchEmbedContents?") {
		t.Fatalf("url=%s", req.URL)
	}
	vectors, err := codec.ParseEmbeddingResponse([]byte(`{"embeddings":[{"values":[0.1]},{"values":[0.2]}]}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(vectors) != 2 || vectors[1][0] != 0.2 {
		t.Fatalf("vectors=%v", vectors)
	}
}

func TestGeminiTranscriptionUnsupported(t *testing.T) {
	codec := &GeminiCodec{}
	_, err := codec.BuildTranscriptionRequest(testModel(ProviderGemini), "a.mp3", nil, "")
	var fe *FeatureError
	if !errors.As(err, &fe) {
		t.Fatalf("err=%v", err)
	}
}
