package llm

import (
	"strings"
	"testing"
)

// Each provider's stream, reassembled delta by delta, must land on the
// same message its non-streaming response parser produces for the
// equivalent full body.
func TestStreamReassemblyMatchesParseResponse(t *testing.T) {
	cases := []struct {
		name  string
		codec Codec
		lines []string
		body  string
		// Gemini synthesizes call ids, so only the prefix is stable.
		idPrefix string
	}{
		{
			name:  "openai",
			codec: &OpenAICodec{},
			lines: []string{
				`data: {"choices":[{"delta":{"role":"assistant","content":"The answer "}}]}`,
				`data: {"choices":[{"delta":{"content":"is 42.","reasoning_content":"Let me "}}]}`,
				`data: {"choices":[{"delta":{"reasoning_content":"check."}}]}`,
				`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"get_weather","arguments":"{\"ci"}}]}}]}`,
				`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"ty\":\"Oslo\"}"}}]}}]}`,
				`data: [DONE]`,
			},
			body: `{"choices":[{"message":{"role":"assistant","content":"The answer is 42.",` +
				`"reasoning_content":"Let me check.","tool_calls":[{"id":"call_1","type":"function",` +
				`"function":{"name":"get_weather","arguments":"{\"city\":\"Oslo\"}"}}]},"finish_reason":"tool_calls"}]}`,
		},
		{
			name:  "anthropic",
			codec: &AnthropicCodec{},
			lines: []string{
				`data: {"type":"message_start","message":{"usage":{"input_tokens":12}}}`,
				`data: {"type":"content_block_start","index":0,"content_block":{"type":"thinking"}}`,
				`data: {"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"Weighing "}}`,
				`data: {"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"options."}}`,
				`data: {"type":"content_block_start","index":1,"content_block":{"type":"text"}}`,
				`data: {"type":"content_block_delta","index":1,"delta":{"type":"text_delta","text":"Porto in "}}`,
				`data: {"type":"content_block_delta","index":1,"delta":{"type":"text_delta","text":"May."}}`,
				`data: {"type":"content_block_start","index":2,"content_block":{"type":"tool_use","id":"toolu_1","name":"get_weather"}}`,
				`data: {"type":"content_block_delta","index":2,"delta":{"type":"input_json_delta","partial_json":"{\"city\":"}}`,
				`data: {"type":"content_block_delta","index":2,"delta":{"type":"input_json_delta","partial_json":"\"Porto\"}"}}`,
				`data: {"type":"message_delta","delta":{"type":"message_delta","stop_reason":"tool_use"},"usage":{"output_tokens":9}}`,
			},
			body: `{"id":"msg_1","role":"assistant","content":[` +
				`{"type":"thinking","thinking":"Weighing options."},` +
				`{"type":"text","text":"Porto in May."},` +
				`{"type":"tool_use","id":"toolu_1","name":"get_weather","input":{"city":"Porto"}}],` +
				`"stop_reason":"tool_use","usage":{"input_tokens":12,"output_tokens":9}}`,
		},
		{
			name:  "gemini",
			codec: &GeminiCodec{},
			lines: []string{
				`data: {"candidates":[{"content":{"role":"model","parts":[{"text":"Thinking it through.","thought":true}]}}]}`,
				`data: {"candidates":[{"content":{"role":"model","parts":[{"text":"Lisbon "}]}}]}`,
				`data: {"candidates":[{"content":{"role":"model","parts":[{"text":"works."}]}}]}`,
				`data: {"candidates":[{"content":{"role":"model","parts":[{"functionCall":{"name":"get_weather","args":{"city":"Lisbon"}}}]}}]}`,
				`data: {"candidates":[{"content":{"role":"model","parts":[]}}],"usageMetadata":{"promptTokenCount":8,"candidatesTokenCount":5,"totalTokenCount":13}}`,
			},
			body: `{"candidates":[{"content":{"role":"model","parts":[` +
				`{"text":"Thinking it through.","thought":true},` +
				`{"text":"Lisbon works."},` +
				`{"functionCall":{"name":"get_weather","args":{"city":"Lisbon"}}}]},` +
				`"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":8,"candidatesTokenCount":5,"totalTokenCount":13}}`,
			idPrefix: "gemini-call-",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assembler := NewDeltaAssembler()
			for _, line := range tc.lines {
				assembler.Add(tc.codec.ParseStreamLine(line))
			}
			streamed := assembler.Message()

			full, err := tc.codec.ParseResponse([]byte(tc.body))
			if err != nil {
				t.Fatalf("ParseResponse: %v", err)
			}

			if streamed.Content() != full.Content() {
				t.Errorf("content: streamed %q, full %q", streamed.Content(), full.Content())
			}
			if streamed.Reasoning != full.Reasoning {
				t.Errorf("reasoning: streamed %q, full %q", streamed.Reasoning, full.Reasoning)
			}
			if len(streamed.ToolCalls) != len(full.ToolCalls) {
				t.Fatalf("tool calls: streamed %d, full %d", len(streamed.ToolCalls), len(full.ToolCalls))
			}
			for i := range streamed.ToolCalls {
				sc, fc := streamed.ToolCalls[i], full.ToolCalls[i]
				if sc.Name != fc.Name {
					t.Errorf("call %d name: streamed %q, full %q", i, sc.Name, fc.Name)
				}
				if sc.Arguments != fc.Arguments {
					t.Errorf("call %d arguments: streamed %q, full %q", i, sc.Arguments, fc.Arguments)
				}
				if tc.idPrefix != "" {
					if !strings.HasPrefix(sc.ID, tc.idPrefix) || !strings.HasPrefix(fc.ID, tc.idPrefix) {
						t.Errorf("call %d ids %q / %q missing prefix %q", i, sc.ID, fc.ID, tc.idPrefix)
					}
				} else if sc.ID != fc.ID {
					t.Errorf("call %d id: streamed %q, full %q", i, sc.ID, fc.ID)
				}
			}
		})
	}
}
