package vectorstore

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/botforge-backend/internal/data/repos/testutil"
)

func TestPGVectorStoreOnSQLite(t *testing.T) {
	db := testutil.DB(t)
	require.NoError(t, MigratePGVector(db, 2))
	store := NewPGVectorStore(db, testutil.Logger(t), 2)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, "agent_a1", vectors("s1", 3)))
	require.NoError(t, store.Upsert(ctx, "agent_a1", vectors("s1", 3)))
	require.NoError(t, store.Upsert(ctx, "agent_a1", vectors("s2", 1)))

	var ids []string
	require.NoError(t, db.Model(&VectorRow{}).Order("id").Pluck("id", &ids).Error)
	assert.Equal(t, []string{"s1_chunk_0", "s1_chunk_1", "s1_chunk_2", "s2_chunk_0"}, ids)

	var row VectorRow
	require.NoError(t, db.First(&row, "id = ?", "s1_chunk_2").Error)
	assert.Equal(t, "a1", row.AgentID)
	assert.Equal(t, "s1", row.SourceID)
	assert.Equal(t, 2, row.ChunkIndex)
	assert.Equal(t, []float32{2, 1}, row.Embedding.Slice())

	st, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), st.TotalVectors)

	top, err := store.Query(ctx, "agent_a1", []float32{2, 1}, 2, Filter{SourceID: "s1"})
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "s1_chunk_2", top[0].ID)
	assert.Equal(t, "s1_chunk_1", top[1].ID)
	assert.InDelta(t, 1.0, top[0].Score, 1e-6)
	assert.Equal(t, float64(2), top[0].Metadata["chunk_index"])
	_, err = store.Query(ctx, "agent_a1", []float32{1, 2, 3}, 2, Filter{})
	require.Error(t, err)

	fetched, err := store.Fetch(ctx, "agent_a1", []string{"s2_chunk_0", "s1_chunk_1", "nope"})
	require.NoError(t, err)
	require.Len(t, fetched, 2)
	assert.Equal(t, "s2_chunk_0", fetched[0].ID)
	assert.Equal(t, []float32{1, 1}, fetched[1].Values)
	assert.Equal(t, "s1", fetched[1].Metadata["source_id"])

	require.NoError(t, store.DeleteByFilter(ctx, "agent_a1", Filter{AgentID: "a1", SourceID: "s1"}))
	ids = nil
	require.NoError(t, db.Model(&VectorRow{}).Pluck("id", &ids).Error)
	sort.Strings(ids)
	assert.Equal(t, []string{"s2_chunk_0"}, ids)

	require.Error(t, store.Upsert(ctx, "agent_a1", []Vector{{ID: "bad", Values: []float32{1, 2, 3}}}))
}
