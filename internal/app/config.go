package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/yungbote/botforge-backend/internal/ingestion/chunker"
	"github.com/yungbote/botforge-backend/internal/ingestion/embedding"
	"github.com/yungbote/botforge-backend/internal/ingestion/vectorstore"
	"github.com/yungbote/botforge-backend/internal/jobs/queue"
	"github.com/yungbote/botforge-backend/internal/jobs/worker"
	"github.com/yungbote/botforge-backend/internal/platform/envutil"
	"github.com/yungbote/botforge-backend/internal/platform/objectstore"
	"github.com/yungbote/botforge-backend/internal/platform/openai"
	"github.com/yungbote/botforge-backend/internal/realtime"
	"github.com/yungbote/botforge-backend/internal/realtime/bus"
)

type VectorProvider string

const (
	VectorProviderPinecone VectorProvider = "pinecone"
	VectorProviderPGVector VectorProvider = "pgvector"
	VectorProviderMemory   VectorProvider = "memory"
)

type PineconeConfig struct {
	APIKey          string
	IndexName       string
	IndexHost       string
	NamespacePrefix string
}

type Config struct {
	LogMode     string
	Port        string
	ServiceName string
	Environment string
	Version     string

	Worker worker.Config
	Queue  queue.Config

	ChunkSize        int
	ChunkOverlap     int
	EmbedConcurrency int
	Embedding        embedding.Config

	VectorProvider   VectorProvider
	VectorBatchSize  int
	VectorBatchPause time.Duration
	Pinecone         PineconeConfig

	Storage objectstore.Config
	Redis   bus.Config

	CrawlRPS       float64
	CrawlTimeout   time.Duration
	PublishTimeout time.Duration
}

// LoadConfig reads .env (when present) and then the process environment.
func LoadConfig() (Config, error) {
	if err := envutil.LoadDotEnv(); err != nil {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	storage, err := objectstore.ConfigFromEnv()
	if err != nil {
		return Config{}, &BootstrapError{Component: ComponentStorage, Code: BootstrapErrorInvalidConfig, Provider: string(storage.Provider), Cause: err}
	}

	cfg := Config{
		LogMode:     envutil.String("LOG_MODE", "development"),
		Port:        envutil.String("PORT", "8080"),
		ServiceName: envutil.String("OTEL_SERVICE_NAME", "botforge"),
		Environment: envutil.String("APP_ENV", "development"),
		Version:     envutil.String("APP_VERSION", "dev"),

		Worker: worker.ConfigFromEnv(),
		Queue: queue.Config{
			MaxAttempts: envutil.Int("JOB_MAX_ATTEMPTS", 3),
			BackoffBase: envutil.Duration("JOB_BACKOFF_BASE", queue.DefaultBackoffBase),
			StaleAfter:  envutil.Duration("WORKER_STALE_AFTER", queue.DefaultStaleAfter),
		},

		ChunkSize:        envutil.Int("CHUNK_SIZE", chunker.DefaultMaxSize),
		ChunkOverlap:     envutil.Int("CHUNK_OVERLAP", chunker.DefaultOverlap),
		EmbedConcurrency: envutil.Int("EMBED_CONCURRENCY", 4),
		Embedding: embedding.Config{
			Provider:    envutil.String("EMBEDDING_PROVIDER", ""),
			Dimension:   envutil.Int("EMBEDDING_DIMENSION", 0),
			OpenAI:      openai.ConfigFromEnv(),
			GeminiKey:   envutil.String("GEMINI_API_KEY", ""),
			GeminiModel: envutil.String("GEMINI_EMBED_MODEL", embedding.DefaultGeminiModel),
		},

		VectorProvider:   VectorProvider(strings.ToLower(envutil.String("VECTOR_PROVIDER", ""))),
		VectorBatchSize:  envutil.Int("VECTOR_BATCH_SIZE", vectorstore.DefaultBatchSize),
		VectorBatchPause: envutil.Duration("VECTOR_BATCH_PAUSE", vectorstore.DefaultBatchPause),
		Pinecone: PineconeConfig{
			APIKey:          envutil.String("PINECONE_API_KEY", ""),
			IndexName:       envutil.String("PINECONE_INDEX_NAME", ""),
			IndexHost:       envutil.String("PINECONE_INDEX_HOST", ""),
			NamespacePrefix: envutil.String("PINECONE_NAMESPACE_PREFIX", ""),
		},

		Storage: storage,
		Redis:   bus.ConfigFromEnv(),

		CrawlRPS:       envutil.Float("CRAWL_RPS", 2),
		CrawlTimeout:   envutil.Duration("CRAWL_TIMEOUT", 30*time.Second),
		PublishTimeout: envutil.Duration("PUBLISH_TIMEOUT", realtime.DefaultPublishTimeout),
	}
	if cfg.VectorProvider == "" {
		cfg.VectorProvider = defaultVectorProvider(cfg)
	}
	if hb := cfg.Worker.HeartbeatInterval; hb > 0 && hb*2 >= cfg.Queue.StaleAfter {
		return Config{}, fmt.Errorf("WORKER_HEARTBEAT_INTERVAL (%s) must be under half of WORKER_STALE_AFTER (%s)", hb, cfg.Queue.StaleAfter)
	}
	if cfg.ChunkOverlap >= cfg.ChunkSize {
		return Config{}, fmt.Errorf("CHUNK_OVERLAP (%d) must be smaller than CHUNK_SIZE (%d)", cfg.ChunkOverlap, cfg.ChunkSize)
	}
	return cfg, nil
}

// defaultVectorProvider prefers Pinecone when it has a key, otherwise the
// in-process store.
func defaultVectorProvider(cfg Config) VectorProvider {
	if strings.TrimSpace(cfg.Pinecone.APIKey) != "" {
		return VectorProviderPinecone
	}
	return VectorProviderMemory
}
