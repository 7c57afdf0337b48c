package llm

import (
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
)

// apiKeyPlaceholder in a header override value is replaced with the
// resolved key at build time, only when a key was actually resolved.
const apiKeyPlaceholder = "{api_key}"

// WireRequest is a fully built provider request, ready for the transport.
type WireRequest struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// EmbeddingRequest asks a provider to embed a batch of texts.
type EmbeddingRequest struct {
	Inputs     []string
	Dimensions int
}

// ImageRequest asks a provider to generate images from a prompt.
type ImageRequest struct {
	Prompt string
	Size   string
	Count  int
}

// Codec translates between the internal conversation model and one
// provider's wire protocol. Implementations are stateless; all per-request
// state lives in the arguments and in the DeltaAssembler.
type Codec interface {
	Type() ProviderType

	BuildChatRequest(model RunnableModel, params ChatParams, messages []Message, tools []ToolDefinition) (*WireRequest, error)
	ParseResponse(body []byte) (*Message, error)
	// ParseStreamLine decodes one raw protocol line. It returns nil for
	// non-data lines, terminal sentinels, and malformed fragments: one bad
	// line must never lose the rest of the answer.
	ParseStreamLine(line string) *StreamPart

	BuildModelListRequest(model RunnableModel) (*WireRequest, error)
	ParseModelListResponse(body []byte) ([]ModelInfo, error)

	BuildEmbeddingRequest(model RunnableModel, req EmbeddingRequest) (*WireRequest, error)
	ParseEmbeddingResponse(body []byte) ([][]float64, error)

	BuildTranscriptionRequest(model RunnableModel, fileName string, audio []byte, language string) (*WireRequest, error)
	ParseTranscriptionResponse(body []byte) (string, error)

	BuildImageRequest(model RunnableModel, req ImageRequest) (*WireRequest, error)
	ParseImageResponse(body []byte) ([]GeneratedImage, error)
}

// CodecFor returns the codec for a provider type.
func CodecFor(t ProviderType) (Codec, error) {
	switch t {
	case ProviderOpenAI:
		return &OpenAICodec{}, nil
	case ProviderGemini:
		return &GeminiCodec{}, nil
	case ProviderAnthropic:
		return &AnthropicCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown provider type: %q", t)
	}
}

// resolveAPIKey picks one of the configured keys uniformly at random.
// Random selection across a key list is the whole key-rotation scheme.
func resolveAPIKey(cfg ProviderConfig) (string, error) {
	keys := make([]string, 0, len(cfg.APIKeys))
	for _, k := range cfg.APIKeys {
		if strings.TrimSpace(k) != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return "", &BuildError{Provider: cfg.ID, Reason: BuildNoAPIKey, Detail: "no API key configured"}
	}
	return keys[rand.Intn(len(keys))], nil
}

// parseBaseURL validates the provider base URL and returns it without a
// trailing slash.
func parseBaseURL(cfg ProviderConfig) (string, error) {
	base := strings.TrimSuffix(cfg.BaseURL, "/")
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", &BuildError{Provider: cfg.ID, Reason: BuildBadBaseURL, Detail: cfg.BaseURL, Err: err}
	}
	return base, nil
}

// applyHeaderOverrides copies configured extra headers onto the request,
// substituting the {api_key} placeholder when a key was resolved. With no
// key the placeholder is left untouched rather than substituting empty.
func applyHeaderOverrides(h http.Header, overrides map[string]string, apiKey string) {
	for name, value := range overrides {
		if value == "" {
			continue
		}
		if apiKey != "" {
			value = strings.ReplaceAll(value, apiKeyPlaceholder, apiKey)
		}
		h.Set(name, value)
	}
}

func newJSONHeader() http.Header {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	return h
}
