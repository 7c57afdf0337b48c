package chat

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/colebaker/chatwire/internal/llm"
)

// RetryConfig bounds the transient-error retry loop.
type RetryConfig struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetryConfig returns the defaults used for rate-limit retries.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 5,
		BaseBackoff: 1 * time.Second,
		MaxBackoff:  30 * time.Second,
	}
}

// retryable reports whether an error is transient. Build and parse
// failures are deterministic and never retried; transport errors defer to
// their status classification; everything else falls back to message
// probing for connection-level failures.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var be *llm.BuildError
	var pe *llm.ParseError
	var fe *llm.FeatureError
	if errors.As(err, &be) || errors.As(err, &pe) || errors.As(err, &fe) {
		return false
	}

	var te *llm.TransportError
	if errors.As(err, &te) {
		return te.Transient()
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"connection refused",
		"connection reset",
		"timeout",
		"temporary failure",
		"no such host",
		"unexpected eof",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// retryAfterRe matches Retry-After hints embedded in error messages.
var retryAfterRe = regexp.MustCompile(`(?i)retry[- ]?after[:\s]+(\d+)`)

// backoffFor computes the wait before the given attempt (1-based). An
// explicit Retry-After from the provider wins over exponential backoff.
func (c RetryConfig) backoffFor(attempt int, err error) time.Duration {
	var te *llm.TransportError
	if errors.As(err, &te) && te.RetryAfter > 0 {
		wait := time.Duration(te.RetryAfter) * time.Second
		if wait > c.MaxBackoff {
			wait = c.MaxBackoff
		}
		return wait
	}
	if err != nil {
		if m := retryAfterRe.FindStringSubmatch(err.Error()); len(m) > 1 {
			if secs, perr := strconv.Atoi(m[1]); perr == nil && secs > 0 {
				wait := time.Duration(secs) * time.Second
				if wait > c.MaxBackoff {
					wait = c.MaxBackoff
				}
				return wait
			}
		}
	}

	backoff := float64(c.BaseBackoff) * math.Pow(2, float64(attempt-1))
	backoff += (rand.Float64() - 0.5) * 0.5 * backoff
	if backoff > float64(c.MaxBackoff) {
		backoff = float64(c.MaxBackoff)
	}
	return time.Duration(backoff)
}

// withRetry runs fn until it succeeds, fails hard, or exhausts the
// attempt budget. onRetry (optional) is told about each wait so callers
// can surface progress.
func withRetry(ctx context.Context, cfg RetryConfig, onRetry func(attempt int, wait time.Duration), fn func(ctx context.Context) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		lastErr = err

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt >= cfg.MaxAttempts {
			break
		}

		wait := cfg.backoffFor(attempt, err)
		if onRetry != nil {
			onRetry(attempt, wait)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return lastErr
}
