package vectorstore

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps vectors in process. Used for local development and tests.
type MemoryStore struct {
	mu         sync.RWMutex
	namespaces map[string]map[string]Vector
	upserts    int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{namespaces: map[string]map[string]Vector{}}
}

func (m *MemoryStore) Name() string { return "memory" }

func (m *MemoryStore) Upsert(ctx context.Context, namespace string, vectors []Vector) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ns := m.namespaces[namespace]
	if ns == nil {
		ns = map[string]Vector{}
		m.namespaces[namespace] = ns
	}
	for _, v := range vectors {
		if v.ID == "" {
			return fmt.Errorf("vector id required")
		}
		ns[v.ID] = Vector{ID: v.ID, Values: append([]float32(nil), v.Values...), Metadata: copyMeta(v.Metadata)}
	}
	m.upserts++
	return nil
}

func (m *MemoryStore) DeleteByFilter(ctx context.Context, namespace string, filter Filter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	want := filter.Map()
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, v := range m.namespaces[namespace] {
		if matches(v.Metadata, want) {
			delete(m.namespaces[namespace], id)
		}
	}
	return nil
}

func (m *MemoryStore) Query(ctx context.Context, namespace string, q []float32, topK int, filter Filter) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	want := filter.Map()
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Match, 0, len(m.namespaces[namespace]))
	for id, v := range m.namespaces[namespace] {
		if !matches(v.Metadata, want) {
			continue
		}
		out = append(out, Match{ID: id, Score: CosineSimilarity(q, v.Values), Metadata: copyMeta(v.Metadata)})
	}
	return rankMatches(out, topK), nil
}

func (m *MemoryStore) Fetch(ctx context.Context, namespace string, ids []string) ([]Vector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Vector, 0, len(ids))
	for _, id := range ids {
		if v, ok := m.namespaces[namespace][id]; ok {
			out = append(out, Vector{ID: v.ID, Values: append([]float32(nil), v.Values...), Metadata: copyMeta(v.Metadata)})
		}
	}
	return out, nil
}

func (m *MemoryStore) Stats(ctx context.Context) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := &Stats{Provider: m.Name(), Namespaces: map[string]int64{}}
	for ns, vecs := range m.namespaces {
		st.Namespaces[ns] = int64(len(vecs))
		st.TotalVectors += int64(len(vecs))
		for _, v := range vecs {
			st.Dimension = len(v.Values)
			break
		}
	}
	return st, nil
}

// Get returns a stored vector.
func (m *MemoryStore) Get(namespace, id string) (Vector, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.namespaces[namespace][id]
	return v, ok
}

// IDs lists every vector id in namespace.
func (m *MemoryStore) IDs(namespace string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.namespaces[namespace]))
	for id := range m.namespaces[namespace] {
		out = append(out, id)
	}
	return out
}

// UpsertCalls counts Upsert invocations.
func (m *MemoryStore) UpsertCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.upserts
}

func matches(meta map[string]any, want map[string]any) bool {
	for k, v := range want {
		if fmt.Sprint(meta[k]) != fmt.Sprint(v) {
			return false
		}
	}
	return true
}

func copyMeta(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
