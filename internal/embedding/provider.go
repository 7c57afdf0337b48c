// Package embedding turns text into vectors for memory ranking.
package embedding

import (
	"context"
	"fmt"
	"math"
)

// Provider embeds batches of text.
type Provider interface {
	Name() string
	DefaultModel() string
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// New returns the provider named by kind with the given credentials.
func New(kind, apiKey, model string) (Provider, error) {
	switch kind {
	case "openai":
		p := NewOpenAIProvider(apiKey)
		if model != "" {
			p.model = model
		}
		return p, nil
	case "gemini":
		p := NewGeminiProvider(apiKey)
		if model != "" {
			p.model = model
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (valid: openai, gemini)", kind)
	}
}

// CosineSimilarity computes the cosine similarity between two vectors.
// Mismatched or empty vectors score zero.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}
