package app

import (
	"context"
	"io"
	"net/http"

	"gorm.io/gorm"

	jobrepo "github.com/yungbote/botforge-backend/internal/data/repos/jobs"
	sourcerepo "github.com/yungbote/botforge-backend/internal/data/repos/sources"
	types "github.com/yungbote/botforge-backend/internal/domain/jobs"
	httpserver "github.com/yungbote/botforge-backend/internal/http"
	httpH "github.com/yungbote/botforge-backend/internal/http/handlers"
	"github.com/yungbote/botforge-backend/internal/ingestion/chunker"
	"github.com/yungbote/botforge-backend/internal/ingestion/crawler"
	"github.com/yungbote/botforge-backend/internal/ingestion/extractor"
	"github.com/yungbote/botforge-backend/internal/ingestion/processor"
	"github.com/yungbote/botforge-backend/internal/ingestion/vectorstore"
	"github.com/yungbote/botforge-backend/internal/jobs/queue"
	"github.com/yungbote/botforge-backend/internal/jobs/runtime"
	"github.com/yungbote/botforge-backend/internal/jobs/worker"
	"github.com/yungbote/botforge-backend/internal/observability"
	"github.com/yungbote/botforge-backend/internal/platform/logger"
	"github.com/yungbote/botforge-backend/internal/services"
)

type Repos struct {
	Jobs    jobrepo.JobRepo
	Sources sourcerepo.DataSourceRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Jobs:    jobrepo.NewJobRepo(db, log),
		Sources: sourcerepo.NewDataSourceRepo(db, log),
	}
}

type Services struct {
	Queue     *queue.Queue
	Vectors   *vectorstore.Adapter
	Ingestion services.IngestionService
	Search    services.SearchService
	Worker    *worker.Worker
}

// wireServices builds the queue, the storage adapters and the processor. The
// returned closers release provider clients on shutdown.
func wireServices(ctx context.Context, db *gorm.DB, log *logger.Logger, cfg Config, repos Repos, rt *realtimeStack, metrics *observability.Metrics) (Services, []io.Closer, error) {
	log.Info("Wiring services...")
	var closers []io.Closer

	q := queue.New(db, log, repos.Jobs, cfg.Queue, rt.notifier)

	objects, objCloser, err := resolveObjectStore(ctx, log, cfg.Storage)
	if err != nil {
		return Services{}, nil, err
	}
	if objCloser != nil {
		closers = append(closers, objCloser)
	}

	embedder, err := resolveEmbedder(ctx, log, cfg.Embedding)
	if err != nil {
		return Services{}, closers, err
	}
	if c, ok := embedder.(io.Closer); ok {
		closers = append(closers, c)
	}

	store, err := resolveVectorStore(ctx, log, cfg, db, embedder.Dimension())
	if err != nil {
		return Services{}, closers, err
	}
	vectors := vectorstore.NewAdapter(log, store, vectorstore.AdapterConfig{
		BatchSize: cfg.VectorBatchSize,
		Pause:     cfg.VectorBatchPause,
	})

	stages, err := processor.LoadStagePlan()
	if err != nil {
		return Services{}, closers, err
	}
	proc, err := processor.New(log, processor.Deps{
		Jobs:      repos.Jobs,
		Sources:   repos.Sources,
		Objects:   objects,
		Extractor: extractor.New(log),
		Crawler: crawler.New(log, crawler.Config{
			HTTPClient: &http.Client{},
			Timeout:    cfg.CrawlTimeout,
			RPS:        cfg.CrawlRPS,
		}),
		Embedder:  embedder,
		Vectors:   vectors,
		Publisher: rt.publisher,
		Stages:    stages,
	}, processor.Config{
		EmbedConcurrency: cfg.EmbedConcurrency,
		Chunker:          chunker.New(cfg.ChunkSize, cfg.ChunkOverlap),
	})
	if err != nil {
		return Services{}, closers, err
	}

	registry := runtime.NewRegistry()
	if err := proc.Register(registry); err != nil {
		return Services{}, closers, err
	}
	if err := registry.Require(types.AllTypes...); err != nil {
		return Services{}, closers, err
	}
	w := worker.NewWorker(log, q, registry, rt.publisher, cfg.Worker).WithMetrics(metrics)

	ingestion := services.NewIngestionService(db, log, repos.Jobs, repos.Sources, q, objects, vectors, rt.publisher)
	search := services.NewSearchService(log, embedder, vectors)

	return Services{
		Queue:     q,
		Vectors:   vectors,
		Ingestion: ingestion,
		Search:    search,
		Worker:    w,
	}, closers, nil
}

func wireRouterConfig(log *logger.Logger, cfg Config, svcs Services, rt *realtimeStack, metrics *observability.Metrics) httpserver.RouterConfig {
	log.Info("Wiring handlers...")
	return httpserver.RouterConfig{
		Log:             log,
		Metrics:         metrics,
		ServiceName:     cfg.ServiceName,
		SourceHandler:   httpH.NewSourceHandler(svcs.Ingestion),
		JobHandler:      httpH.NewJobHandler(svcs.Ingestion),
		FileHandler:     httpH.NewFileHandler(svcs.Ingestion),
		VectorHandler:   httpH.NewVectorHandler(svcs.Search),
		RealtimeHandler: httpH.NewRealtimeHandler(log, rt.hub),
		HealthHandler:   httpH.NewHealthHandler(svcs.Ingestion),
	}
}
