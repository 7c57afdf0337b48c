package llm

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// BuildReason classifies request-build failures. Build failures are never
// retried; the caller surfaces them immediately.
type BuildReason string

const (
	BuildBadBaseURL    BuildReason = "bad_base_url"
	BuildNoAPIKey      BuildReason = "no_api_key"
	BuildSerialization BuildReason = "serialization"
	BuildNoMessages    BuildReason = "no_messages"
)

// BuildError is a request that could not be constructed.
type BuildError struct {
	Provider string
	Reason   BuildReason
	Detail   string
	Err      error
}

func (e *BuildError) Error() string {
	msg := fmt.Sprintf("%s: cannot build request (%s)", e.Provider, e.Reason)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *BuildError) Unwrap() error { return e.Err }

// ParseKind classifies response-parse failures.
type ParseKind string

const (
	ParseMalformedJSON   ParseKind = "malformed_json"
	ParseMissingContent  ParseKind = "missing_content"
	ParseUnexpectedShape ParseKind = "unexpected_shape"
)

// parseErrorPreviewLimit caps how much of a bad body is echoed inline.
const parseErrorPreviewLimit = 500

// ParseError is a response body the codec could not interpret. RawBody
// holds the full body so a "view full" surface can show it; Error echoes
// at most parseErrorPreviewLimit characters.
type ParseError struct {
	Provider string
	Kind     ParseKind
	RawBody  string
	Err      error
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("%s: cannot parse response (%s)", e.Provider, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.RawBody != "" {
		msg += ": " + e.BodyPreview()
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Err }

// BodyPreview returns the raw body truncated for inline display.
func (e *ParseError) BodyPreview() string {
	if len(e.RawBody) <= parseErrorPreviewLimit {
		return e.RawBody
	}
	return e.RawBody[:parseErrorPreviewLimit] + "… (truncated, view full body for the rest)"
}

// Truncated reports whether BodyPreview dropped anything.
func (e *ParseError) Truncated() bool { return len(e.RawBody) > parseErrorPreviewLimit }

// transportBodyLimit caps how much of an error response body is captured
// for diagnostics.
const transportBodyLimit = 64 * 1024

// TransportError is a non-2xx HTTP response.
type TransportError struct {
	Provider   string
	StatusCode int
	Body       []byte // truncated by the transport, never more than 64KB
	RetryAfter int    // seconds, 0 if the server sent none
}

func (e *TransportError) Error() string {
	msg := fmt.Sprintf("%s: API error (status %d, %s)", e.Provider, e.StatusCode, StatusDescription(e.StatusCode))
	if detail := ExtractAPIErrorMessage(e.Body); detail != "" {
		msg += ": " + detail
	}
	return msg
}

// Transient reports whether the failure is worth retrying. 4xx responses
// other than 408 and 429 are hard failures.
func (e *TransportError) Transient() bool {
	switch {
	case e.StatusCode == 408 || e.StatusCode == 429:
		return true
	case e.StatusCode >= 500:
		return true
	default:
		return false
	}
}

// statusDescriptions maps the status codes providers actually return to a
// human description. Anything unlisted falls back to a class description.
var statusDescriptions = map[int]string{
	400: "bad request",
	401: "invalid or missing API key",
	403: "permission denied",
	404: "model or endpoint not found",
	408: "request timed out",
	413: "request too large",
	422: "request rejected by provider",
	429: "rate limited",
	500: "provider internal error",
	502: "bad gateway",
	503: "provider overloaded",
	529: "provider overloaded",
}

// StatusDescription returns a human description for an HTTP status code.
func StatusDescription(code int) string {
	if desc, ok := statusDescriptions[code]; ok {
		return desc
	}
	switch {
	case code >= 400 && code < 500:
		return "request rejected"
	case code >= 500:
		return "provider error"
	default:
		return "unexpected status"
	}
}

// ExtractAPIErrorMessage pulls a human-readable error message out of a
// provider error body. The three protocols shape errors differently
// (OpenAI: error.message; Gemini: error.message or [0].error.message;
// Anthropic: error.message), so probe the known paths instead of binding
// to one struct.
func ExtractAPIErrorMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	for _, path := range []string{"error.message", "0.error.message", "message", "error"} {
		if v := gjson.GetBytes(body, path); v.Exists() && v.Type == gjson.String && v.Str != "" {
			return v.Str
		}
	}
	// Last resort: a short plain-text body is usually the message itself.
	text := strings.TrimSpace(string(body))
	if text != "" && !strings.HasPrefix(text, "{") && len(text) <= 200 {
		return text
	}
	return ""
}

// FeatureError reports an operation a provider's protocol does not offer.
type FeatureError struct {
	Provider ProviderType
	Feature  string
}

func (e *FeatureError) Error() string {
	return fmt.Sprintf("%s does not support %s", e.Provider, e.Feature)
}
