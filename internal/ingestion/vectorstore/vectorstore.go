// Package vectorstore writes chunk embeddings to the configured vector index in
// paced batches and cleans them up by metadata filter.
package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/yungbote/botforge-backend/internal/ingestion/chunker"
	"github.com/yungbote/botforge-backend/internal/platform/logger"
)

const (
	DefaultBatchSize  = 100
	DefaultBatchPause = 100 * time.Millisecond

	DefaultTopK = 10
	MaxTopK     = 100
	MaxFetchIDs = 100
)

type Vector struct {
	ID       string
	Values   []float32
	Metadata map[string]any
}

// Filter selects vectors by owner. Empty fields are not constrained.
type Filter struct {
	AgentID  string
	SourceID string
}

func (f Filter) Map() map[string]any {
	m := map[string]any{}
	if f.AgentID != "" {
		m["agent_id"] = f.AgentID
	}
	if f.SourceID != "" {
		m["source_id"] = f.SourceID
	}
	return m
}

func (f Filter) Empty() bool { return f.AgentID == "" && f.SourceID == "" }

// Match is one query hit. Score is cosine similarity, higher is closer.
type Match struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type Stats struct {
	Provider     string           `json:"provider"`
	Dimension    int              `json:"dimension"`
	TotalVectors int64            `json:"totalVectors"`
	Namespaces   map[string]int64 `json:"namespaces"`
}

// Store is a vector index backend.
type Store interface {
	Name() string
	Upsert(ctx context.Context, namespace string, vectors []Vector) error
	DeleteByFilter(ctx context.Context, namespace string, filter Filter) error
	// Query returns up to topK vectors nearest to q, best first.
	Query(ctx context.Context, namespace string, q []float32, topK int, filter Filter) ([]Match, error)
	// Fetch returns the vectors with the given ids in request order. Unknown ids
	// are skipped.
	Fetch(ctx context.Context, namespace string, ids []string) ([]Vector, error)
	Stats(ctx context.Context) (*Stats, error)
}

// VectorID is stable across reprocessing, so a rerun overwrites the previous vectors
// for the same chunk positions.
func VectorID(sourceID string, index int) string {
	return sourceID + "_chunk_" + strconv.Itoa(index)
}

// Namespace is the per-agent partition used for every vector an agent owns.
func Namespace(agentID string) string {
	return "agent_" + agentID
}

// ChunkVectors pairs chunks with their embeddings and attaches the metadata stored
// alongside every vector.
func ChunkVectors(sourceID, agentID, namespace string, chunks []string, embeddings [][]float32, now time.Time) ([]Vector, error) {
	if len(chunks) != len(embeddings) {
		return nil, fmt.Errorf("chunk/embedding count mismatch: %d != %d", len(chunks), len(embeddings))
	}
	createdAt := now.UTC().Format(time.RFC3339)
	out := make([]Vector, len(chunks))
	for i, text := range chunks {
		out[i] = Vector{
			ID:     VectorID(sourceID, i),
			Values: embeddings[i],
			Metadata: map[string]any{
				"source_id":   sourceID,
				"agent_id":    agentID,
				"chunk_index": i,
				"text":        text,
				"char_count":  len([]rune(text)),
				"word_count":  chunker.WordCount(text),
				"namespace":   namespace,
				"created_at":  createdAt,
				"timestamp":   now.UnixMilli(),
			},
		}
	}
	return out, nil
}

type AdapterConfig struct {
	BatchSize int
	Pause     time.Duration
}

// Adapter fronts a Store with batching and pacing.
type Adapter struct {
	log       *logger.Logger
	store     Store
	batchSize int
	pause     time.Duration
}

func NewAdapter(log *logger.Logger, store Store, cfg AdapterConfig) *Adapter {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Pause < 0 {
		cfg.Pause = 0
	}
	return &Adapter{
		log:       log.With("component", "VectorStoreAdapter", "provider", store.Name()),
		store:     store,
		batchSize: cfg.BatchSize,
		pause:     cfg.Pause,
	}
}

func (a *Adapter) Provider() string { return a.store.Name() }

// BatchUpsert writes vectors sequentially in batches, waiting the configured pause
// between batches. It returns the number of vectors written before any failure.
func (a *Adapter) BatchUpsert(ctx context.Context, namespace string, vectors []Vector) (int, error) {
	if len(vectors) == 0 {
		return 0, nil
	}
	var limiter *rate.Limiter
	if a.pause > 0 {
		limiter = rate.NewLimiter(rate.Every(a.pause), 1)
	}

	written := 0
	for start := 0; start < len(vectors); start += a.batchSize {
		end := start + a.batchSize
		if end > len(vectors) {
			end = len(vectors)
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return written, err
			}
		} else if err := ctx.Err(); err != nil {
			return written, err
		}
		if err := a.store.Upsert(ctx, namespace, vectors[start:end]); err != nil {
			return written, fmt.Errorf("upsert batch %d-%d: %w", start, end, err)
		}
		written += end - start
		a.log.Debug("upserted vector batch", "namespace", namespace, "from", start, "to", end, "total", len(vectors))
	}
	return written, nil
}

func (a *Adapter) DeleteByFilter(ctx context.Context, namespace string, filter Filter) error {
	if filter.Empty() {
		return fmt.Errorf("refusing to delete vectors with an empty filter")
	}
	return a.store.DeleteByFilter(ctx, namespace, filter)
}

// Query clamps topK to [1, MaxTopK], defaulting to DefaultTopK.
func (a *Adapter) Query(ctx context.Context, namespace string, q []float32, topK int, filter Filter) ([]Match, error) {
	if len(q) == 0 {
		return nil, fmt.Errorf("query vector required")
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	if topK > MaxTopK {
		topK = MaxTopK
	}
	return a.store.Query(ctx, namespace, q, topK, filter)
}

func (a *Adapter) Fetch(ctx context.Context, namespace string, ids []string) ([]Vector, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("at least one id required")
	}
	if len(ids) > MaxFetchIDs {
		return nil, fmt.Errorf("too many ids: %d > %d", len(ids), MaxFetchIDs)
	}
	return a.store.Fetch(ctx, namespace, ids)
}

func (a *Adapter) DescribeStats(ctx context.Context) (*Stats, error) {
	return a.store.Stats(ctx)
}

// CosineSimilarity is 0 when either vector is zero or the lengths differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// rankMatches sorts best first and keeps topK.
func rankMatches(out []Match, topK int) []Match {
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}
