package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/botforge-backend/internal/domain/jobs"
	"github.com/yungbote/botforge-backend/internal/domain/sources"
	"github.com/yungbote/botforge-backend/internal/ingestion/embedding"
	"github.com/yungbote/botforge-backend/internal/ingestion/vectorstore"
	"github.com/yungbote/botforge-backend/internal/platform/dbctx"
	"github.com/yungbote/botforge-backend/internal/platform/logger"
	"github.com/yungbote/botforge-backend/internal/platform/objectstore"
)

func localEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", filepath.Join(t.TempDir(), "botforge.db"))
	t.Setenv("VECTOR_PROVIDER", "memory")
	t.Setenv("OBJECT_STORAGE_PROVIDER", "memory")
	t.Setenv("EMBEDDING_PROVIDER", "deterministic")
	t.Setenv("EMBEDDING_DIMENSION", "16")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("PINECONE_API_KEY", "")
	t.Setenv("OTEL_ENABLED", "false")
	t.Setenv("METRICS_ENABLED", "true")
	t.Setenv("WORKER_CONCURRENCY", "1")
	t.Setenv("WORKER_POLL_INTERVAL", "50ms")
	t.Setenv("VECTOR_BATCH_PAUSE", "1ms")
}

func TestLoadConfigDefaults(t *testing.T) {
	localEnv(t)
	t.Setenv("VECTOR_PROVIDER", "")
	t.Setenv("CHUNK_SIZE", "")
	t.Setenv("CHUNK_OVERLAP", "")
	t.Setenv("JOB_MAX_ATTEMPTS", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, VectorProviderMemory, cfg.VectorProvider)
	assert.Equal(t, objectstore.ProviderMemory, cfg.Storage.Provider)
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
	assert.Equal(t, 1000, cfg.ChunkSize)
	assert.Equal(t, 100, cfg.ChunkOverlap)
	assert.Equal(t, vectorstore.DefaultBatchSize, cfg.VectorBatchSize)
	assert.Equal(t, 16, cfg.Embedding.Dimension)
	assert.False(t, cfg.Redis.Enabled())

	t.Setenv("PINECONE_API_KEY", "pc-key")
	cfg, err = LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, VectorProviderPinecone, cfg.VectorProvider)
}

func TestLoadConfigRejectsOverlapNotSmallerThanSize(t *testing.T) {
	localEnv(t)
	t.Setenv("CHUNK_SIZE", "200")
	t.Setenv("CHUNK_OVERLAP", "200")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CHUNK_OVERLAP")
}

func TestLoadConfigRejectsHeartbeatNearStaleThreshold(t *testing.T) {
	localEnv(t)
	t.Setenv("WORKER_STALE_AFTER", "1m")
	t.Setenv("WORKER_HEARTBEAT_INTERVAL", "45s")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WORKER_HEARTBEAT_INTERVAL")

	t.Setenv("WORKER_HEARTBEAT_INTERVAL", "10s")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.Worker.HeartbeatInterval)
}

func TestLoadConfigLeavesEmbeddingDimensionToProvider(t *testing.T) {
	localEnv(t)
	t.Setenv("EMBEDDING_PROVIDER", "gemini")
	t.Setenv("EMBEDDING_DIMENSION", "")
	t.Setenv("GEMINI_API_KEY", "test-key")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Embedding.Dimension)

	e, err := resolveEmbedder(context.Background(), logger.Nop(), cfg.Embedding)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.(io.Closer).Close() })
	assert.Equal(t, embedding.GeminiDimension, e.Dimension())

	cfg.Embedding.Dimension = embedding.DefaultDimension
	_, err = resolveEmbedder(context.Background(), logger.Nop(), cfg.Embedding)
	var be *BootstrapError
	require.True(t, errors.As(err, &be), "got %v", err)
	assert.Equal(t, ComponentEmbedding, be.Component)
}

func TestLoadConfigInvalidStorage(t *testing.T) {
	localEnv(t)
	t.Setenv("OBJECT_STORAGE_PROVIDER", "floppy")

	_, err := LoadConfig()
	var be *BootstrapError
	require.True(t, errors.As(err, &be), "got %v", err)
	assert.Equal(t, ComponentStorage, be.Component)
	assert.Equal(t, BootstrapErrorInvalidConfig, be.Code)
}

func TestResolveVectorStore(t *testing.T) {
	ctx := context.Background()
	log := logger.Nop()

	store, err := resolveVectorStore(ctx, log, Config{VectorProvider: VectorProviderMemory}, nil, 8)
	require.NoError(t, err)
	assert.Equal(t, "memory", store.Name())

	cases := []struct {
		name string
		cfg  Config
		code BootstrapErrorCode
	}{
		{"unknown provider", Config{VectorProvider: "qdrant"}, BootstrapErrorInvalidConfig},
		{"pgvector without postgres", Config{VectorProvider: VectorProviderPGVector}, BootstrapErrorInvalidConfig},
		{"pinecone without key", Config{VectorProvider: VectorProviderPinecone}, BootstrapErrorMissingConfig},
		{"pinecone without index", Config{VectorProvider: VectorProviderPinecone, Pinecone: PineconeConfig{APIKey: "k"}}, BootstrapErrorMissingConfig},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := resolveVectorStore(ctx, log, tc.cfg, nil, 8)
			var be *BootstrapError
			require.True(t, errors.As(err, &be), "got %v", err)
			assert.Equal(t, ComponentVectors, be.Component)
			assert.Equal(t, tc.code, be.Code)
			assert.Contains(t, be.Error(), "code="+string(tc.code))
		})
	}
}

func TestResolveEmbedderFallsBackToDeterministic(t *testing.T) {
	e, err := resolveEmbedder(context.Background(), logger.Nop(), embedding.Config{Dimension: 8})
	require.NoError(t, err)
	assert.Equal(t, embedding.ProviderDeterministic, e.Name())
	assert.Equal(t, 8, e.Dimension())

	_, err = resolveEmbedder(context.Background(), logger.Nop(), embedding.Config{Provider: "word2vec"})
	var be *BootstrapError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, ComponentEmbedding, be.Component)
}

func TestRunRequiresAMode(t *testing.T) {
	a := &App{Log: logger.Nop()}
	err := a.Run(context.Background())
	require.Error(t, err)
}

func TestAppProcessesTextSourceEndToEnd(t *testing.T) {
	localEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := New(ctx, Options{HTTP: true, Worker: true})
	require.NoError(t, err)
	t.Cleanup(a.Close)
	require.NotNil(t, a.Router)
	require.NotNil(t, a.Metrics)

	agentID := uuid.New()
	body, _ := json.Marshal(map[string]any{
		"name":    "Shipping",
		"content": "Orders ship within two days. Returns are accepted for thirty days after delivery.",
	})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/agents/"+agentID.String()+"/sources/text", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	a.Router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created struct {
		Source struct {
			ID uuid.UUID `json:"id"`
		} `json:"source"`
		Job struct {
			ID uuid.UUID `json:"id"`
		} `json:"job"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	require.NoError(t, a.Services.Worker.Start(ctx))
	t.Cleanup(func() { _ = a.Services.Worker.Stop(context.Background()) })

	require.Eventually(t, func() bool {
		job, err := a.Services.Ingestion.GetJob(dbctx.Background(), created.Job.ID)
		return err == nil && job.Status == jobs.StatusCompleted
	}, 10*time.Second, 50*time.Millisecond)

	src, err := a.Services.Ingestion.GetSource(dbctx.Background(), agentID, created.Source.ID)
	require.NoError(t, err)
	assert.Equal(t, sources.StatusCompleted, src.Status)
	assert.Equal(t, 1.0, a.Metrics.JobCount(jobs.TypeProcessText, "completed"))

	stats := a.Services.Ingestion.QueueStats(ctx)
	assert.True(t, stats.Healthy)
	require.NotNil(t, stats.VectorStore)
	assert.Positive(t, stats.VectorStore.TotalVectors)

	deleted, failed, err := a.Purge(ctx)
	require.NoError(t, err)
	assert.Zero(t, deleted)
	assert.Zero(t, failed)
}
