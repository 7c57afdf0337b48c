package chat

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/colebaker/chatwire/internal/llm"
)

// transportBodyLimit mirrors the cap on error bodies captured for
// diagnostics.
const transportBodyLimit = 64 * 1024

// Transport executes built wire requests. A zero value uses a default
// client with a generous timeout suited to slow model responses.
type Transport struct {
	Client *http.Client
}

func (t *Transport) client() *http.Client {
	if t.Client != nil {
		return t.Client
	}
	return &http.Client{Timeout: 5 * time.Minute}
}

func (t *Transport) send(ctx context.Context, provider string, wire *llm.WireRequest) (*http.Response, error) {
	var body io.Reader
	if len(wire.Body) > 0 {
		body = bytes.NewReader(wire.Body)
	}
	req, err := http.NewRequestWithContext(ctx, wire.Method, wire.URL, body)
	if err != nil {
		return nil, fmt.Errorf("%s: build http request: %w", provider, err)
	}
	req.Header = wire.Header

	resp, err := t.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", provider, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		captured, _ := io.ReadAll(io.LimitReader(resp.Body, transportBodyLimit))
		return nil, &llm.TransportError{
			Provider:   provider,
			StatusCode: resp.StatusCode,
			Body:       captured,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return resp, nil
}

// Do executes a request and returns the full response body.
func (t *Transport) Do(ctx context.Context, provider string, wire *llm.WireRequest) ([]byte, error) {
	resp, err := t.send(ctx, provider, wire)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", provider, err)
	}
	return body, nil
}

// Stream executes a request and invokes onLine for every line of the
// response body. Blank lines are passed through; the codec decides what
// is and isn't data.
func (t *Transport) Stream(ctx context.Context, provider string, wire *llm.WireRequest, onLine func(line string)) error {
	resp, err := t.send(ctx, provider, wire)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		onLine(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s: read stream: %w", provider, err)
	}
	return nil
}

// parseRetryAfter handles the delta-seconds form of the header. The HTTP
// date form is rare from these providers and falls back to zero.
func parseRetryAfter(value string) int {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return secs
	}
	return 0
}
