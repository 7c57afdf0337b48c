package chat

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/colebaker/chatwire/internal/llm"
)

func TestRetryableClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, false},
		{"build error", &llm.BuildError{Provider: "p", Reason: llm.BuildNoAPIKey}, false},
		{"parse error", &llm.ParseError{Provider: "p", Kind: llm.ParseMalformedJSON}, false},
		{"feature error", &llm.FeatureError{Provider: llm.ProviderAnthropic, Feature: "embeddings"}, false},
		{"rate limited", &llm.TransportError{Provider: "p", StatusCode: 429}, true},
		{"server error", &llm.TransportError{Provider: "p", StatusCode: 503}, true},
		{"request timeout", &llm.TransportError{Provider: "p", StatusCode: 408}, true},
		{"auth failure", &llm.TransportError{Provider: "p", StatusCode: 401}, false},
		{"bad request", &llm.TransportError{Provider: "p", StatusCode: 400}, false},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"reset", errors.New("read: connection reset by peer"), true},
		{"dns", errors.New("lookup api.example.com: no such host"), true},
		{"truncated stream", errors.New("unexpected EOF"), true},
		{"plain error", errors.New("something else broke"), false},
		{"wrapped transport", fmt.Errorf("call model: %w", &llm.TransportError{StatusCode: 500}), true},
		{"wrapped build", fmt.Errorf("call model: %w", &llm.BuildError{Reason: llm.BuildBadBaseURL}), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := retryable(tc.err); got != tc.want {
				t.Errorf("retryable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestBackoffForRetryAfter(t *testing.T) {
	cfg := DefaultRetryConfig()

	// Explicit header value wins over the exponential schedule.
	err := &llm.TransportError{StatusCode: 429, RetryAfter: 7}
	if got := cfg.backoffFor(1, err); got != 7*time.Second {
		t.Errorf("backoffFor with RetryAfter=7 = %s, want 7s", got)
	}

	// A hint buried in the error body still counts.
	textErr := errors.New(`429: {"error": "rate limited, retry after 12 seconds"}`)
	if got := cfg.backoffFor(1, textErr); got != 12*time.Second {
		t.Errorf("backoffFor with embedded hint = %s, want 12s", got)
	}

	// Hints are capped at MaxBackoff.
	capped := &llm.TransportError{StatusCode: 429, RetryAfter: 600}
	if got := cfg.backoffFor(1, capped); got != cfg.MaxBackoff {
		t.Errorf("backoffFor with RetryAfter=600 = %s, want cap %s", got, cfg.MaxBackoff)
	}
}

func TestBackoffForExponential(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 5, BaseBackoff: time.Second, MaxBackoff: 30 * time.Second}
	plain := errors.New("connection refused")

	for attempt := 1; attempt <= 4; attempt++ {
		want := time.Duration(float64(time.Second) * float64(int(1)<<(attempt-1)))
		got := cfg.backoffFor(attempt, plain)
		// Jitter is ±25%.
		lo, hi := want*3/4, want*5/4
		if got < lo || got > hi {
			t.Errorf("attempt %d: backoff %s outside [%s, %s]", attempt, got, lo, hi)
		}
	}

	if got := cfg.backoffFor(12, plain); got > cfg.MaxBackoff {
		t.Errorf("backoff %s exceeds cap %s", got, cfg.MaxBackoff)
	}
}

func TestWithRetrySucceedsAfterTransient(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 4, BaseBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}

	calls := 0
	var notified []int
	err := withRetry(context.Background(), cfg, func(attempt int, wait time.Duration) {
		notified = append(notified, attempt)
	}, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &llm.TransportError{StatusCode: 503}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("withRetry: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if len(notified) != 2 || notified[0] != 1 || notified[1] != 2 {
		t.Errorf("onRetry attempts = %v, want [1 2]", notified)
	}
}

func TestWithRetryStopsOnPermanentError(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 4, BaseBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}

	calls := 0
	err := withRetry(context.Background(), cfg, nil, func(ctx context.Context) error {
		calls++
		return &llm.BuildError{Provider: "p", Reason: llm.BuildNoAPIKey}
	})
	var be *llm.BuildError
	if !errors.As(err, &be) {
		t.Fatalf("err = %v, want BuildError", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestWithRetryExhaustsBudget(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, BaseBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}

	calls := 0
	err := withRetry(context.Background(), cfg, nil, func(ctx context.Context) error {
		calls++
		return &llm.TransportError{StatusCode: 429}
	})
	var te *llm.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want TransportError", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestWithRetryHonorsCancellation(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 5, BaseBackoff: time.Hour, MaxBackoff: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- withRetry(ctx, cfg, nil, func(ctx context.Context) error {
			return &llm.TransportError{StatusCode: 503}
		})
	}()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("withRetry did not return after cancellation")
	}
}
