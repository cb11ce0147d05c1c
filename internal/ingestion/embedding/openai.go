package embedding

import (
	"context"
	"fmt"

	"github.com/yungbote/botforge-backend/internal/platform/openai"
)

type openAIEmbedder struct {
	client openai.Client
	dim    int
}

func NewOpenAI(client openai.Client, dim int) Embedder {
	return &openAIEmbedder{client: client, dim: dim}
}

func (e *openAIEmbedder) Name() string   { return ProviderOpenAI + ":" + e.client.EmbedModel() }
func (e *openAIEmbedder) Dimension() int { return e.dim }

func (e *openAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.client.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("generate embedding: %w", err)
	}
	return out[0], nil
}
