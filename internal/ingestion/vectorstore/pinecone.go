package vectorstore

import (
	"context"

	"github.com/yungbote/botforge-backend/internal/platform/pinecone"
)

type pineconeStore struct {
	vs pinecone.VectorStore
}

func NewPineconeStore(vs pinecone.VectorStore) Store {
	return &pineconeStore{vs: vs}
}

func (p *pineconeStore) Name() string { return "pinecone" }

func (p *pineconeStore) Upsert(ctx context.Context, namespace string, vectors []Vector) error {
	out := make([]pinecone.Vector, len(vectors))
	for i, v := range vectors {
		out[i] = pinecone.Vector{ID: v.ID, Values: v.Values, Metadata: v.Metadata}
	}
	return p.vs.Upsert(ctx, namespace, out)
}

func (p *pineconeStore) DeleteByFilter(ctx context.Context, namespace string, filter Filter) error {
	return p.vs.DeleteByFilter(ctx, namespace, filter.Map())
}

func (p *pineconeStore) Query(ctx context.Context, namespace string, q []float32, topK int, filter Filter) ([]Match, error) {
	found, err := p.vs.QueryMatches(ctx, namespace, q, topK, filter.Map())
	if err != nil {
		return nil, err
	}
	out := make([]Match, len(found))
	for i, m := range found {
		out[i] = Match{ID: m.ID, Score: m.Score, Metadata: m.Metadata}
	}
	return out, nil
}

func (p *pineconeStore) Fetch(ctx context.Context, namespace string, ids []string) ([]Vector, error) {
	found, err := p.vs.Fetch(ctx, namespace, ids)
	if err != nil {
		return nil, err
	}
	out := make([]Vector, len(found))
	for i, v := range found {
		out[i] = Vector{ID: v.ID, Values: v.Values, Metadata: v.Metadata}
	}
	return out, nil
}

func (p *pineconeStore) Stats(ctx context.Context) (*Stats, error) {
	st, err := p.vs.Stats(ctx)
	if err != nil {
		return nil, err
	}
	out := &Stats{
		Provider:     p.Name(),
		Dimension:    st.Dimension,
		TotalVectors: st.TotalVectorCount,
		Namespaces:   make(map[string]int64, len(st.Namespaces)),
	}
	for ns, s := range st.Namespaces {
		out.Namespaces[ns] = s.VectorCount
	}
	return out, nil
}
