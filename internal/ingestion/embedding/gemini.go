package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/yungbote/botforge-backend/internal/platform/logger"
)

const DefaultGeminiModel = "text-embedding-004"

type geminiEmbedder struct {
	log    *logger.Logger
	client *genai.Client
	model  *genai.EmbeddingModel
	name   string
	dim    int
}

func NewGemini(ctx context.Context, log *logger.Logger, apiKey, model string, dim int) (Embedder, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("gemini embedder: missing GEMINI_API_KEY")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = DefaultGeminiModel
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini embedder: %w", err)
	}
	return &geminiEmbedder{
		log:    log.With("service", "GeminiEmbedder"),
		client: cl,
		model:  cl.EmbeddingModel(model),
		name:   model,
		dim:    dim,
	}, nil
}

func (g *geminiEmbedder) Name() string   { return ProviderGemini + ":" + g.name }
func (g *geminiEmbedder) Dimension() int { return g.dim }

func (g *geminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := g.model.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("generate embedding: gemini: %w", err)
	}
	if resp == nil || resp.Embedding == nil || len(resp.Embedding.Values) == 0 {
		return nil, fmt.Errorf("generate embedding: gemini returned no values")
	}
	return resp.Embedding.Values, nil
}

func (g *geminiEmbedder) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}
