package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/yungbote/botforge-backend/internal/platform/logger"
	"github.com/yungbote/botforge-backend/internal/platform/openai"
)

const (
	ProviderOpenAI        = "openai"
	ProviderGemini        = "gemini"
	ProviderDeterministic = "deterministic"

	DefaultDimension = 1536
	GeminiDimension  = 768
)

// Embedder maps a chunk of text to a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	Name() string
}

type Config struct {
	// Provider is one of openai, gemini or deterministic. Empty selects the first
	// provider with credentials and falls back to deterministic.
	Provider string
	// Dimension of 0 takes the provider's native size.
	Dimension   int
	OpenAI      openai.Config
	GeminiKey   string
	GeminiModel string
}

// New builds the configured Embedder.
func New(ctx context.Context, log *logger.Logger, cfg Config) (Embedder, error) {
	if log == nil {
		log = logger.Nop()
	}
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		switch {
		case strings.TrimSpace(cfg.OpenAI.APIKey) != "":
			provider = ProviderOpenAI
		case strings.TrimSpace(cfg.GeminiKey) != "":
			provider = ProviderGemini
		default:
			provider = ProviderDeterministic
		}
	}
	dim := cfg.Dimension
	if dim <= 0 {
		dim = DefaultDimensionFor(provider)
	}

	switch provider {
	case ProviderOpenAI:
		oc := cfg.OpenAI
		if dim != DefaultDimension {
			oc.Dimensions = dim
		}
		client, err := openai.NewClient(log, oc)
		if err != nil {
			return nil, fmt.Errorf("openai embedder: %w", err)
		}
		return NewOpenAI(client, dim), nil
	case ProviderGemini:
		if dim != GeminiDimension {
			return nil, fmt.Errorf("gemini embedder: EMBEDDING_DIMENSION=%d but the model returns %d-dimensional vectors", dim, GeminiDimension)
		}
		return NewGemini(ctx, log, cfg.GeminiKey, cfg.GeminiModel, dim)
	case ProviderDeterministic:
		log.Warn("no embedding provider configured; using deterministic embeddings, not suitable for production",
			"dimension", dim)
		return NewDeterministic(log, dim), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// DefaultDimensionFor is the vector size a provider produces when no dimension is
// configured.
func DefaultDimensionFor(provider string) int {
	if strings.EqualFold(strings.TrimSpace(provider), ProviderGemini) {
		return GeminiDimension
	}
	return DefaultDimension
}
