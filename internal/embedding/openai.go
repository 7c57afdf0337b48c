package embedding

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const openaiDefaultModel = "text-embedding-3-small"

// OpenAIProvider embeds through OpenAI's embeddings API.
type OpenAIProvider struct {
	apiKey string
	model  string
}

func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	return &OpenAIProvider{apiKey: apiKey, model: openaiDefaultModel}
}

func (p *OpenAIProvider) Name() string { return "OpenAI" }

func (p *OpenAIProvider) DefaultModel() string { return openaiDefaultModel }

func (p *OpenAIProvider) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	client := openai.NewClient(option.WithAPIKey(p.apiKey))

	resp, err := client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: p.model,
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embedding: %w", err)
	}

	vectors := make([][]float64, len(texts))
	for i, emb := range resp.Data {
		idx := int(emb.Index)
		if idx < 0 || idx >= len(vectors) {
			idx = i
		}
		vectors[idx] = emb.Embedding
	}
	return vectors, nil
}
