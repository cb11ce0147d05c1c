package services

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/botforge-backend/internal/data/repos/testutil"
	"github.com/yungbote/botforge-backend/internal/ingestion/embedding"
	"github.com/yungbote/botforge-backend/internal/ingestion/vectorstore"
	"github.com/yungbote/botforge-backend/internal/platform/apierr"
)

type failingEmbedder struct{ embedding.Embedder }

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("quota exceeded")
}

func newSearchFixture(t *testing.T) (SearchService, *vectorstore.MemoryStore, embedding.Embedder) {
	t.Helper()
	store := vectorstore.NewMemoryStore()
	embedder := embedding.NewDeterministic(nil, 4)
	adapter := vectorstore.NewAdapter(nil, store, vectorstore.AdapterConfig{})
	return NewSearchService(testutil.Logger(t), embedder, adapter), store, embedder
}

func seedVectors(t *testing.T, store *vectorstore.MemoryStore, e embedding.Embedder, agentID, sourceID uuid.UUID, texts ...string) []vectorstore.Vector {
	t.Helper()
	embs := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := e.Embed(context.Background(), text)
		require.NoError(t, err)
		embs[i] = v
	}
	ns := vectorstore.Namespace(agentID.String())
	vecs, err := vectorstore.ChunkVectors(sourceID.String(), agentID.String(), ns, texts, embs, time.Now())
	require.NoError(t, err)
	require.NoError(t, store.Upsert(context.Background(), ns, vecs))
	return vecs
}

func TestQueryVectorsScopesToAgentAndSource(t *testing.T) {
	svc, store, e := newSearchFixture(t)
	agentID := uuid.New()
	faq, policy := uuid.New(), uuid.New()
	seedVectors(t, store, e, agentID, faq, "How do I reset my password?", "Where is my order?")
	seedVectors(t, store, e, agentID, policy, "Where is my order?")

	all, err := svc.QueryVectors(context.Background(), agentID, VectorQueryInput{Text: "Where is my order?"})
	require.NoError(t, err)
	require.Len(t, all.Matches, 3)
	assert.InDelta(t, 1.0, all.Matches[0].Score, 1e-5)
	assert.InDelta(t, 1.0, all.Matches[1].Score, 1e-5)

	scoped, err := svc.QueryVectors(context.Background(), agentID, VectorQueryInput{Text: "Where is my order?", SourceID: policy, TopK: 5})
	require.NoError(t, err)
	require.Len(t, scoped.Matches, 1)
	assert.Equal(t, vectorstore.VectorID(policy.String(), 0), scoped.Matches[0].ID)
}

func TestQueryVectorsValidatesInput(t *testing.T) {
	svc, _, _ := newSearchFixture(t)
	agentID := uuid.New()
	ctx := context.Background()

	cases := map[string]VectorQueryInput{
		"empty":           {},
		"both":            {Text: "hi", Vector: []float32{1, 0, 0, 0}},
		"wrong length":    {Vector: []float32{1, 0}},
		"topK over max":   {Text: "hi", TopK: vectorstore.MaxTopK + 1},
		"whitespace only": {Text: "   "},
	}
	for name, in := range cases {
		_, err := svc.QueryVectors(ctx, agentID, in)
		assert.Equal(t, http.StatusBadRequest, apierr.StatusOf(err), name)
	}
	_, err := svc.QueryVectors(ctx, uuid.Nil, VectorQueryInput{Text: "hi"})
	assert.Equal(t, http.StatusBadRequest, apierr.StatusOf(err))

	broken := NewSearchService(testutil.Logger(t), failingEmbedder{embedding.NewDeterministic(nil, 4)}, vectorstore.NewAdapter(nil, vectorstore.NewMemoryStore(), vectorstore.AdapterConfig{}))
	_, err = broken.QueryVectors(ctx, agentID, VectorQueryInput{Text: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
	assert.Equal(t, http.StatusInternalServerError, apierr.StatusOf(err))
}

func TestFetchVectorsDropsForeignAndDuplicateIDs(t *testing.T) {
	svc, store, e := newSearchFixture(t)
	agentID, sourceID := uuid.New(), uuid.New()
	vecs := seedVectors(t, store, e, agentID, sourceID, "alpha", "beta")

	// A vector written into this agent's namespace under another owner.
	intruder := uuid.New()
	require.NoError(t, store.Upsert(context.Background(), vectorstore.Namespace(agentID.String()), []vectorstore.Vector{{
		ID:       "foreign_chunk_0",
		Values:   []float32{1, 0, 0, 0},
		Metadata: map[string]any{"agent_id": intruder.String()},
	}}))

	got, err := svc.FetchVectors(context.Background(), agentID, []string{vecs[1].ID, " ", vecs[1].ID, "foreign_chunk_0", vecs[0].ID}, false)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, vecs[1].ID, got[0].ID)
	assert.Equal(t, vecs[0].ID, got[1].ID)
	assert.Nil(t, got[0].Values)
	assert.Equal(t, "beta", got[0].Metadata["text"])

	withValues, err := svc.FetchVectors(context.Background(), agentID, []string{vecs[0].ID}, true)
	require.NoError(t, err)
	require.Len(t, withValues, 1)
	assert.Len(t, withValues[0].Values, 4)

	_, err = svc.FetchVectors(context.Background(), agentID, []string{" "}, false)
	assert.Equal(t, http.StatusBadRequest, apierr.StatusOf(err))
	many := make([]string, vectorstore.MaxFetchIDs+1)
	for i := range many {
		many[i] = uuid.NewString()
	}
	_, err = svc.FetchVectors(context.Background(), agentID, many, false)
	assert.Equal(t, http.StatusBadRequest, apierr.StatusOf(err))
}
