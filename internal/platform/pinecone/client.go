package pinecone

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yungbote/botforge-backend/internal/platform/httpx"
	"github.com/yungbote/botforge-backend/internal/platform/logger"
)

type Client interface {
	DescribeIndex(ctx context.Context, indexName string) (*IndexDescription, error)
	UpsertVectors(ctx context.Context, host string, req UpsertRequest) (*UpsertResponse, error)
	DeleteVectors(ctx context.Context, host string, req DeleteRequest) error
	Query(ctx context.Context, host string, req QueryRequest) (*QueryResponse, error)
	FetchVectors(ctx context.Context, host, namespace string, ids []string) (*FetchResponse, error)
	DescribeIndexStats(ctx context.Context, host string) (*IndexStats, error)
}

type Config struct {
	APIKey     string
	APIVersion string
	BaseURL    string
	Timeout    time.Duration
	// MaxRetries applies to 408, 429, 5xx and timeouts.
	MaxRetries int
	HTTPClient *http.Client
}

type client struct {
	cfg Config
	api *httpx.JSONClient
}

func New(log *logger.Logger, cfg Config) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("missing Pinecone API key")
	}
	if strings.TrimSpace(cfg.APIVersion) == "" {
		cfg.APIVersion = "2025-10"
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.pinecone.io"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &client{
		cfg: cfg,
		api: &httpx.JSONClient{
			Service: "pinecone",
			HTTP:    hc,
			Log:     log.With("client", "PineconeClient"),
			Retry:   httpx.RetryPolicy{MaxRetries: max(cfg.MaxRetries, 0), Backoff: 500 * time.Millisecond},
			Header: func(h http.Header) {
				h.Set("Api-Key", cfg.APIKey)
				h.Set("X-Pinecone-Api-Version", cfg.APIVersion)
			},
		},
	}, nil
}

// -------------------- Control plane --------------------

type IndexDescription struct {
	Name      string `json:"name"`
	Host      string `json:"host"`
	Dimension int    `json:"dimension"`
	Metric    string `json:"metric"`
	Status    struct {
		Ready bool   `json:"ready"`
		State string `json:"state"`
	} `json:"status"`
}

func (c *client) DescribeIndex(ctx context.Context, indexName string) (*IndexDescription, error) {
	indexName = strings.TrimSpace(indexName)
	if indexName == "" {
		return nil, fmt.Errorf("indexName required")
	}
	u := strings.TrimRight(c.cfg.BaseURL, "/") + "/indexes/" + indexName
	out, err := doJSON[IndexDescription](c, ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("pinecone describe_index: %w", err)
	}
	if strings.TrimSpace(out.Host) == "" {
		return nil, fmt.Errorf("pinecone describe_index returned empty host")
	}
	return out, nil
}

// -------------------- Data plane --------------------

type Vector struct {
	ID       string         `json:"id"`
	Values   []float32      `json:"values"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type UpsertRequest struct {
	Vectors   []Vector `json:"vectors"`
	Namespace string   `json:"namespace,omitempty"`
}

type UpsertResponse struct {
	UpsertedCount int64 `json:"upsertedCount"`
}

func (c *client) UpsertVectors(ctx context.Context, host string, req UpsertRequest) (*UpsertResponse, error) {
	if len(req.Vectors) == 0 {
		return &UpsertResponse{UpsertedCount: 0}, nil
	}
	u, err := dataURL(host, "/vectors/upsert")
	if err != nil {
		return nil, err
	}
	return doJSON[UpsertResponse](c, ctx, http.MethodPost, u, req)
}

// DeleteRequest deletes by IDs or by metadata filter. Exactly one should be set.
type DeleteRequest struct {
	IDs       []string       `json:"ids,omitempty"`
	Filter    map[string]any `json:"filter,omitempty"`
	DeleteAll bool           `json:"deleteAll,omitempty"`
	Namespace string         `json:"namespace,omitempty"`
}

func (c *client) DeleteVectors(ctx context.Context, host string, req DeleteRequest) error {
	if len(req.IDs) == 0 && len(req.Filter) == 0 && !req.DeleteAll {
		return nil
	}
	u, err := dataURL(host, "/vectors/delete")
	if err != nil {
		return err
	}
	_, err = doJSON[struct{}](c, ctx, http.MethodPost, u, req)
	return err
}

type QueryRequest struct {
	Namespace       string         `json:"namespace,omitempty"`
	Vector          []float32      `json:"vector"`
	TopK            int            `json:"topK"`
	Filter          map[string]any `json:"filter,omitempty"`
	IncludeValues   bool           `json:"includeValues"`
	IncludeMetadata bool           `json:"includeMetadata"`
}

type QueryMatch struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Values   []float32      `json:"values,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type QueryResponse struct {
	Matches   []QueryMatch `json:"matches"`
	Namespace string       `json:"namespace"`
}

func (c *client) Query(ctx context.Context, host string, req QueryRequest) (*QueryResponse, error) {
	if len(req.Vector) == 0 {
		return nil, fmt.Errorf("query vector required")
	}
	if req.TopK <= 0 {
		return nil, fmt.Errorf("topK must be positive")
	}
	u, err := dataURL(host, "/query")
	if err != nil {
		return nil, err
	}
	return doJSON[QueryResponse](c, ctx, http.MethodPost, u, req)
}

type FetchResponse struct {
	Vectors   map[string]Vector `json:"vectors"`
	Namespace string            `json:"namespace"`
}

// FetchVectors looks vectors up by id. Missing ids are absent from the result.
func (c *client) FetchVectors(ctx context.Context, host, namespace string, ids []string) (*FetchResponse, error) {
	if len(ids) == 0 {
		return &FetchResponse{Vectors: map[string]Vector{}, Namespace: namespace}, nil
	}
	u, err := dataURL(host, "/vectors/fetch")
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	for _, id := range ids {
		q.Add("ids", id)
	}
	if namespace != "" {
		q.Set("namespace", namespace)
	}
	return doJSON[FetchResponse](c, ctx, http.MethodGet, u+"?"+q.Encode(), nil)
}

type NamespaceStats struct {
	VectorCount int64 `json:"vectorCount"`
}

type IndexStats struct {
	Namespaces       map[string]NamespaceStats `json:"namespaces"`
	Dimension        int                       `json:"dimension"`
	IndexFullness    float64                   `json:"indexFullness"`
	TotalVectorCount int64                     `json:"totalVectorCount"`
}

func (c *client) DescribeIndexStats(ctx context.Context, host string) (*IndexStats, error) {
	u, err := dataURL(host, "/describe_index_stats")
	if err != nil {
		return nil, err
	}
	return doJSON[IndexStats](c, ctx, http.MethodPost, u, map[string]any{})
}

// -------------------- helpers --------------------

// dataURL accepts a bare index host (as returned by describe_index) or a full base URL.
func dataURL(host, path string) (string, error) {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	if host == "" {
		return "", fmt.Errorf("host required")
	}
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "https://" + host
	}
	return host + path, nil
}

func doJSON[T any](c *client, ctx context.Context, method, url string, body any) (*T, error) {
	var out T
	if err := c.api.Do(ctx, method, url, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
