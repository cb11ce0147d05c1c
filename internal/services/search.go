package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/yungbote/botforge-backend/internal/ingestion/embedding"
	"github.com/yungbote/botforge-backend/internal/ingestion/vectorstore"
	"github.com/yungbote/botforge-backend/internal/platform/apierr"
	"github.com/yungbote/botforge-backend/internal/platform/logger"
)

// VectorReader is the read side of the vector adapter.
type VectorReader interface {
	Query(ctx context.Context, namespace string, q []float32, topK int, filter vectorstore.Filter) ([]vectorstore.Match, error)
	Fetch(ctx context.Context, namespace string, ids []string) ([]vectorstore.Vector, error)
}

// VectorQueryInput carries either Text, which is embedded first, or a ready Vector.
type VectorQueryInput struct {
	Text     string
	Vector   []float32
	TopK     int
	SourceID uuid.UUID
}

type VectorQueryResult struct {
	Namespace string              `json:"namespace"`
	Matches   []vectorstore.Match `json:"matches"`
}

type FetchedVector struct {
	ID       string         `json:"id"`
	Values   []float32      `json:"values,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type SearchService interface {
	QueryVectors(ctx context.Context, agentID uuid.UUID, in VectorQueryInput) (*VectorQueryResult, error)
	FetchVectors(ctx context.Context, agentID uuid.UUID, ids []string, includeValues bool) ([]FetchedVector, error)
}

type searchService struct {
	log      *logger.Logger
	embedder embedding.Embedder
	vectors  VectorReader
}

func NewSearchService(baseLog *logger.Logger, embedder embedding.Embedder, vectors VectorReader) SearchService {
	return &searchService{
		log:      baseLog.With("service", "SearchService"),
		embedder: embedder,
		vectors:  vectors,
	}
}

// QueryVectors searches the agent's namespace. Results are always filtered to the
// agent, and to one source when SourceID is set.
func (s *searchService) QueryVectors(ctx context.Context, agentID uuid.UUID, in VectorQueryInput) (*VectorQueryResult, error) {
	if agentID == uuid.Nil {
		return nil, apierr.Invalid("invalid_agent_id", "agentId is required")
	}
	text := strings.TrimSpace(in.Text)
	if (text == "") == (len(in.Vector) == 0) {
		return nil, apierr.Invalid("invalid_query", "exactly one of text or vector is required")
	}
	if in.TopK > vectorstore.MaxTopK {
		return nil, apierr.Invalid("invalid_top_k", "topK must be at most %d", vectorstore.MaxTopK)
	}

	q := in.Vector
	if text != "" {
		if s.embedder == nil {
			return nil, fmt.Errorf("no embedder configured")
		}
		vec, err := s.embedder.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		q = vec
	}
	if dim := s.embedderDimension(); dim > 0 && len(q) != dim {
		return nil, apierr.Invalid("invalid_vector", "vector has %d dimensions, expected %d", len(q), dim)
	}

	filter := vectorstore.Filter{AgentID: agentID.String()}
	if in.SourceID != uuid.Nil {
		filter.SourceID = in.SourceID.String()
	}
	ns := vectorstore.Namespace(agentID.String())
	matches, err := s.vectors.Query(ctx, ns, q, in.TopK, filter)
	if err != nil {
		return nil, fmt.Errorf("query vectors: %w", err)
	}
	if matches == nil {
		matches = []vectorstore.Match{}
	}
	s.log.Debug("Vector query", "agent_id", agentID, "top_k", in.TopK, "matches", len(matches))
	return &VectorQueryResult{Namespace: ns, Matches: matches}, nil
}

// FetchVectors returns the agent's vectors by id. Ids owned by another agent are
// treated as missing.
func (s *searchService) FetchVectors(ctx context.Context, agentID uuid.UUID, ids []string, includeValues bool) ([]FetchedVector, error) {
	if agentID == uuid.Nil {
		return nil, apierr.Invalid("invalid_agent_id", "agentId is required")
	}
	clean := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		clean = append(clean, id)
	}
	if len(clean) == 0 {
		return nil, apierr.Invalid("missing_ids", "at least one id is required")
	}
	if len(clean) > vectorstore.MaxFetchIDs {
		return nil, apierr.Invalid("too_many_ids", "at most %d ids per request", vectorstore.MaxFetchIDs)
	}

	found, err := s.vectors.Fetch(ctx, vectorstore.Namespace(agentID.String()), clean)
	if err != nil {
		return nil, fmt.Errorf("fetch vectors: %w", err)
	}
	owner := agentID.String()
	out := make([]FetchedVector, 0, len(found))
	for _, v := range found {
		if fmt.Sprint(v.Metadata["agent_id"]) != owner {
			continue
		}
		fv := FetchedVector{ID: v.ID, Metadata: v.Metadata}
		if includeValues {
			fv.Values = v.Values
		}
		out = append(out, fv)
	}
	return out, nil
}

func (s *searchService) embedderDimension() int {
	if s.embedder == nil {
		return 0
	}
	return s.embedder.Dimension()
}
