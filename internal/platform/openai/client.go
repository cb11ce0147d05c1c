package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/yungbote/botforge-backend/internal/platform/envutil"
	"github.com/yungbote/botforge-backend/internal/platform/httpx"
	"github.com/yungbote/botforge-backend/internal/platform/logger"
)

const (
	DefaultBaseURL    = "https://api.openai.com"
	DefaultEmbedModel = "text-embedding-3-small"
)

// Client is the subset of the OpenAI API the ingestion pipeline needs.
type Client interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
	EmbedModel() string
}

type Config struct {
	APIKey     string
	BaseURL    string
	EmbedModel string
	// Dimensions is forwarded to models that support shortened embeddings.
	Dimensions int
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client
}

// ConfigFromEnv reads OPENAI_API_KEY, OPENAI_BASE_URL, OPENAI_EMBED_MODEL,
// OPENAI_TIMEOUT_SECONDS and OPENAI_MAX_RETRIES.
func ConfigFromEnv() Config {
	return Config{
		APIKey:     envutil.String("OPENAI_API_KEY", ""),
		BaseURL:    envutil.String("OPENAI_BASE_URL", DefaultBaseURL),
		EmbedModel: envutil.String("OPENAI_EMBED_MODEL", DefaultEmbedModel),
		Timeout:    envutil.Duration("OPENAI_TIMEOUT_SECONDS", 60*time.Second),
		MaxRetries: envutil.Int("OPENAI_MAX_RETRIES", 4),
	}
}

type client struct {
	api        *httpx.JSONClient
	baseURL    string
	embedModel string
	dimensions int
}

func NewClient(log *logger.Logger, cfg Config) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := strings.TrimSpace(cfg.EmbedModel)
	if model == "" {
		model = DefaultEmbedModel
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &client{
		api: &httpx.JSONClient{
			Service: "openai",
			HTTP:    httpClient,
			Log:     log.With("service", "OpenAIClient"),
			Retry:   httpx.RetryPolicy{MaxRetries: max(cfg.MaxRetries, 0), Backoff: time.Second},
			Header:  func(h http.Header) { h.Set("Authorization", "Bearer "+apiKey) },
		},
		baseURL:    baseURL,
		embedModel: model,
		dimensions: cfg.Dimensions,
	}, nil
}

func (c *client) EmbedModel() string { return c.embedModel }

type embeddingsRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// Embed returns one vector per input, in input order.
func (c *client) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return [][]float32{}, nil
	}

	clean := make([]string, len(inputs))
	for i := range inputs {
		s := strings.TrimSpace(inputs[i])
		if s == "" {
			s = " "
		}
		clean[i] = s
	}

	req := embeddingsRequest{Model: c.embedModel, Input: clean, Dimensions: c.dimensions}

	var resp embeddingsResponse
	if err := c.api.Do(ctx, http.MethodPost, c.baseURL+"/v1/embeddings", req, &resp); err != nil {
		return nil, err
	}

	out := make([][]float32, len(clean))
	for pos, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			vec[i] = float32(f)
		}
		idx := d.Index
		if idx < 0 || idx >= len(out) || out[idx] != nil {
			idx = pos
		}
		if idx < len(out) {
			out[idx] = vec
		}
	}

	for i := range out {
		if len(out[i]) == 0 {
			return nil, fmt.Errorf("openai embeddings missing index %d: requested=%d returned=%d model=%s", i, len(clean), len(resp.Data), c.embedModel)
		}
	}
	return out, nil
}
