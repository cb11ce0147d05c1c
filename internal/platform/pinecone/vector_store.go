package pinecone

import (
	"context"
	"fmt"
	"strings"

	"github.com/yungbote/botforge-backend/internal/platform/logger"
)

// VectorStore scopes one Pinecone index to prefixed namespaces.
type VectorStore interface {
	Upsert(ctx context.Context, namespace string, vectors []Vector) error
	DeleteByFilter(ctx context.Context, namespace string, filter map[string]any) error
	// QueryMatches returns the topK nearest vectors with their metadata. Scores
	// follow the index metric, higher is closer.
	QueryMatches(ctx context.Context, namespace string, q []float32, topK int, filter map[string]any) ([]QueryMatch, error)
	Fetch(ctx context.Context, namespace string, ids []string) ([]Vector, error)
	Stats(ctx context.Context) (*IndexStats, error)
}

type StoreConfig struct {
	IndexName string
	// IndexHost skips the describe_index lookup when set.
	IndexHost       string
	NamespacePrefix string
	// Dimension rejects mismatched vectors before they reach the API. Zero
	// takes the index's own dimension when it was described.
	Dimension int
}

type vectorStore struct {
	log       *logger.Logger
	pc        Client
	host      string
	prefix    string
	dimension int
}

func NewVectorStore(ctx context.Context, log *logger.Logger, pc Client, cfg StoreConfig) (VectorStore, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if pc == nil {
		return nil, fmt.Errorf("pinecone client required")
	}
	s := &vectorStore{
		log:       log.With("component", "PineconeVectorStore"),
		pc:        pc,
		host:      strings.TrimSpace(cfg.IndexHost),
		prefix:    strings.TrimSpace(cfg.NamespacePrefix),
		dimension: cfg.Dimension,
	}
	if s.host != "" {
		return s, nil
	}

	name := strings.TrimSpace(cfg.IndexName)
	if name == "" {
		return nil, fmt.Errorf("missing PINECONE_INDEX_NAME")
	}
	desc, err := pc.DescribeIndex(ctx, name)
	if err != nil {
		return nil, err
	}
	s.host = strings.TrimSpace(desc.Host)
	if s.dimension == 0 {
		s.dimension = desc.Dimension
	} else if desc.Dimension != 0 && desc.Dimension != s.dimension {
		return nil, fmt.Errorf("pinecone index %s has dimension %d, embeddings produce %d", name, desc.Dimension, s.dimension)
	}
	s.log.Info("resolved index host via describe_index; set PINECONE_INDEX_HOST to skip this call",
		"index_name", name,
		"index_host", s.host,
		"dimension", desc.Dimension,
	)
	return s, nil
}

func (s *vectorStore) Upsert(ctx context.Context, namespace string, vectors []Vector) error {
	for _, v := range vectors {
		if v.ID == "" {
			return fmt.Errorf("pinecone upsert: vector without id")
		}
		if s.dimension > 0 && len(v.Values) != s.dimension {
			return fmt.Errorf("pinecone upsert: vector %s has %d values, index expects %d", v.ID, len(v.Values), s.dimension)
		}
	}
	resp, err := s.pc.UpsertVectors(ctx, s.host, UpsertRequest{Namespace: s.namespace(namespace), Vectors: vectors})
	if err != nil {
		return err
	}
	if resp != nil && resp.UpsertedCount != int64(len(vectors)) {
		s.log.Warn("pinecone upserted fewer vectors than sent", "sent", len(vectors), "upserted", resp.UpsertedCount)
	}
	return nil
}

// DeleteByFilter matches every key with $eq. An empty filter would wipe the
// namespace and is rejected.
func (s *vectorStore) DeleteByFilter(ctx context.Context, namespace string, filter map[string]any) error {
	if len(filter) == 0 {
		return fmt.Errorf("refusing to delete with an empty filter")
	}
	return s.pc.DeleteVectors(ctx, s.host, DeleteRequest{Namespace: s.namespace(namespace), Filter: eqFilter(filter)})
}

func (s *vectorStore) QueryMatches(ctx context.Context, namespace string, q []float32, topK int, filter map[string]any) ([]QueryMatch, error) {
	if s.dimension > 0 && len(q) != s.dimension {
		return nil, fmt.Errorf("pinecone query: vector has %d values, index expects %d", len(q), s.dimension)
	}
	resp, err := s.pc.Query(ctx, s.host, QueryRequest{
		Namespace:       s.namespace(namespace),
		Vector:          q,
		TopK:            topK,
		Filter:          eqFilter(filter),
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, err
	}
	out := make([]QueryMatch, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		if strings.TrimSpace(m.ID) == "" {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// Fetch returns the stored vectors in ids order, skipping ids the index does not
// hold.
func (s *vectorStore) Fetch(ctx context.Context, namespace string, ids []string) ([]Vector, error) {
	resp, err := s.pc.FetchVectors(ctx, s.host, s.namespace(namespace), ids)
	if err != nil {
		return nil, err
	}
	out := make([]Vector, 0, len(ids))
	for _, id := range ids {
		if v, ok := resp.Vectors[id]; ok {
			if v.ID == "" {
				v.ID = id
			}
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *vectorStore) Stats(ctx context.Context) (*IndexStats, error) {
	return s.pc.DescribeIndexStats(ctx, s.host)
}

func (s *vectorStore) namespace(ns string) string {
	ns = strings.TrimSpace(ns)
	if s.prefix == "" {
		return ns
	}
	if ns == "" {
		return s.prefix
	}
	return s.prefix + ":" + ns
}

func eqFilter(filter map[string]any) map[string]any {
	if len(filter) == 0 {
		return nil
	}
	out := make(map[string]any, len(filter))
	for k, v := range filter {
		out[k] = map[string]any{"$eq": v}
	}
	return out
}
