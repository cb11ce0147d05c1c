package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/yungbote/botforge-backend/internal/ingestion/embedding"
	"github.com/yungbote/botforge-backend/internal/ingestion/vectorstore"
	"github.com/yungbote/botforge-backend/internal/jobs/queue"
	"github.com/yungbote/botforge-backend/internal/platform/logger"
	"github.com/yungbote/botforge-backend/internal/platform/objectstore"
	"github.com/yungbote/botforge-backend/internal/platform/pinecone"
	"github.com/yungbote/botforge-backend/internal/realtime"
	"github.com/yungbote/botforge-backend/internal/realtime/bus"
)

const (
	ComponentVectors   = "vector_store"
	ComponentStorage   = "object_storage"
	ComponentEmbedding = "embedding"
	ComponentRealtime  = "realtime"
)

type BootstrapErrorCode string

const (
	BootstrapErrorInvalidConfig BootstrapErrorCode = "invalid_config"
	BootstrapErrorMissingConfig BootstrapErrorCode = "missing_config"
	BootstrapErrorInitFailed    BootstrapErrorCode = "init_failed"
)

// BootstrapError reports which dependency failed to come up and why.
type BootstrapError struct {
	Component string
	Code      BootstrapErrorCode
	Provider  string
	Cause     error
}

func (e *BootstrapError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("%s bootstrap failed (code=%s", e.Component, e.Code)
	if e.Provider != "" {
		msg += ", provider=" + e.Provider
	}
	msg += ")"
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *BootstrapError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func bootstrapErr(component string, code BootstrapErrorCode, provider string, cause error) error {
	return &BootstrapError{Component: component, Code: code, Provider: provider, Cause: cause}
}

// resolveVectorStore builds the configured backend. pgvector creates its table
// on the application database.
func resolveVectorStore(ctx context.Context, log *logger.Logger, cfg Config, gdb *gorm.DB, dim int) (vectorstore.Store, error) {
	switch cfg.VectorProvider {
	case VectorProviderMemory:
		log.Warn("Using in-memory vector store; vectors are lost on restart")
		return vectorstore.NewMemoryStore(), nil
	case VectorProviderPGVector:
		if gdb == nil || gdb.Dialector.Name() != "postgres" {
			return nil, bootstrapErr(ComponentVectors, BootstrapErrorInvalidConfig, string(cfg.VectorProvider), errors.New("pgvector requires DB_DRIVER=postgres"))
		}
		if err := vectorstore.MigratePGVector(gdb, dim); err != nil {
			return nil, bootstrapErr(ComponentVectors, BootstrapErrorInitFailed, string(cfg.VectorProvider), err)
		}
		return vectorstore.NewPGVectorStore(gdb, log, dim), nil
	case VectorProviderPinecone:
		p := cfg.Pinecone
		if strings.TrimSpace(p.APIKey) == "" {
			return nil, bootstrapErr(ComponentVectors, BootstrapErrorMissingConfig, string(cfg.VectorProvider), errors.New("PINECONE_API_KEY is required"))
		}
		if strings.TrimSpace(p.IndexName) == "" && strings.TrimSpace(p.IndexHost) == "" {
			return nil, bootstrapErr(ComponentVectors, BootstrapErrorMissingConfig, string(cfg.VectorProvider), errors.New("PINECONE_INDEX_NAME or PINECONE_INDEX_HOST is required"))
		}
		pc, err := pinecone.New(log, pinecone.Config{APIKey: p.APIKey, MaxRetries: 3})
		if err != nil {
			return nil, bootstrapErr(ComponentVectors, BootstrapErrorInitFailed, string(cfg.VectorProvider), err)
		}
		vs, err := pinecone.NewVectorStore(ctx, log, pc, pinecone.StoreConfig{
			IndexName:       p.IndexName,
			IndexHost:       p.IndexHost,
			NamespacePrefix: p.NamespacePrefix,
			Dimension:       dim,
		})
		if err != nil {
			return nil, bootstrapErr(ComponentVectors, BootstrapErrorInitFailed, string(cfg.VectorProvider), err)
		}
		return vectorstore.NewPineconeStore(vs), nil
	default:
		return nil, bootstrapErr(ComponentVectors, BootstrapErrorInvalidConfig, string(cfg.VectorProvider),
			fmt.Errorf("unsupported VECTOR_PROVIDER %q (want pinecone, pgvector or memory)", cfg.VectorProvider))
	}
}

// resolveObjectStore returns the store and an optional closer.
func resolveObjectStore(ctx context.Context, log *logger.Logger, cfg objectstore.Config) (objectstore.Store, io.Closer, error) {
	switch cfg.Provider {
	case objectstore.ProviderS3:
		s, err := objectstore.NewS3Store(ctx, log, cfg)
		if err != nil {
			return nil, nil, bootstrapErr(ComponentStorage, BootstrapErrorInitFailed, string(cfg.Provider), err)
		}
		return s, nil, nil
	case objectstore.ProviderGCS, objectstore.ProviderGCSEmulator:
		s, err := objectstore.NewGCSStore(ctx, log, cfg)
		if err != nil {
			return nil, nil, bootstrapErr(ComponentStorage, BootstrapErrorInitFailed, string(cfg.Provider), err)
		}
		return s, s, nil
	case objectstore.ProviderMemory:
		log.Warn("Using in-memory object storage; uploads are lost on restart")
		return objectstore.NewMemoryStore(), nil, nil
	default:
		return nil, nil, bootstrapErr(ComponentStorage, BootstrapErrorInvalidConfig, string(cfg.Provider), errors.New("unsupported object storage provider"))
	}
}

func resolveEmbedder(ctx context.Context, log *logger.Logger, cfg embedding.Config) (embedding.Embedder, error) {
	e, err := embedding.New(ctx, log, cfg)
	if err != nil {
		return nil, bootstrapErr(ComponentEmbedding, BootstrapErrorInitFailed, cfg.Provider, err)
	}
	return e, nil
}

// realtimeStack is the publisher plus whatever cross-process plumbing backs it.
type realtimeStack struct {
	hub       *realtime.SSEHub
	publisher realtime.Publisher
	notifier  queue.Notifier
	bus       bus.Bus
	redis     *goredis.Client
}

// resolveRealtime connects Redis when configured. Without it, events and queue
// wakeups stay inside this process.
func resolveRealtime(ctx context.Context, log *logger.Logger, cfg Config) (*realtimeStack, error) {
	hub := realtime.NewSSEHub(log)
	if !cfg.Redis.Enabled() {
		log.Info("REDIS_ADDR not set; realtime events and queue wakeups are process-local")
		return &realtimeStack{
			hub:       hub,
			publisher: realtime.NewPublisher(log, hub, nil, cfg.PublishTimeout),
			notifier:  queue.NewLocalNotifier(),
		}, nil
	}

	rdb, err := bus.NewClient(ctx, cfg.Redis)
	if err != nil {
		return nil, bootstrapErr(ComponentRealtime, BootstrapErrorInitFailed, "redis", err)
	}
	b, err := bus.NewRedisBus(log, rdb, cfg.Redis.Channel)
	if err != nil {
		_ = rdb.Close()
		return nil, bootstrapErr(ComponentRealtime, BootstrapErrorInitFailed, "redis", err)
	}
	notifier, err := queue.NewRedisNotifier(ctx, log, rdb, queue.DefaultWakeChannel)
	if err != nil {
		_ = rdb.Close()
		return nil, bootstrapErr(ComponentRealtime, BootstrapErrorInitFailed, "redis", err)
	}
	return &realtimeStack{
		hub:       hub,
		publisher: realtime.NewPublisher(log, hub, b, cfg.PublishTimeout),
		notifier:  notifier,
		bus:       b,
		redis:     rdb,
	}, nil
}
