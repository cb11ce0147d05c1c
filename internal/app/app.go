package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/yungbote/botforge-backend/internal/data/db"
	httpserver "github.com/yungbote/botforge-backend/internal/http"
	"github.com/yungbote/botforge-backend/internal/jobs/worker"
	"github.com/yungbote/botforge-backend/internal/observability"
	"github.com/yungbote/botforge-backend/internal/platform/logger"
	"github.com/yungbote/botforge-backend/internal/realtime"
)

const httpShutdownTimeout = 15 * time.Second

// Options picks which halves of the process run. The API and the worker pool can
// share a process or be deployed separately against the same database.
type Options struct {
	HTTP   bool
	Worker bool
}

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Router   *gin.Engine
	Cfg      Config
	Repos    Repos
	Services Services
	SSEHub   *realtime.SSEHub
	Metrics  *observability.Metrics

	opts         Options
	pg           *db.PostgresService
	rt           *realtimeStack
	server       *httpserver.Server
	closers      []io.Closer
	otelShutdown func(context.Context) error
	bgCtx        context.Context
	cancel       context.CancelFunc
}

// New loads configuration from the environment and wires every dependency.
func New(ctx context.Context, opts Options) (*App, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	a, err := NewWithConfig(ctx, log.Named(cfg.ServiceName), cfg, opts)
	if err != nil {
		log.Sync()
		return nil, err
	}
	return a, nil
}

func NewWithConfig(ctx context.Context, log *logger.Logger, cfg Config, opts Options) (a *App, err error) {
	a = &App{Log: log, Cfg: cfg, opts: opts}
	// Subscriptions and collectors outlive the constructor's ctx.
	a.bgCtx, a.cancel = context.WithCancel(context.WithoutCancel(ctx))
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.otelShutdown = observability.InitOTel(ctx, log,
		observability.OtelConfigFromEnv(cfg.ServiceName, cfg.Environment, cfg.Version))

	a.pg, err = db.NewPostgresService(log)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	if err = a.pg.AutoMigrateAll(); err != nil {
		return nil, fmt.Errorf("database automigrate: %w", err)
	}
	a.DB = a.pg.DB()

	if observability.Enabled() {
		a.Metrics = observability.NewMetrics()
	}

	a.Repos = wireRepos(a.DB, log)

	a.rt, err = resolveRealtime(a.bgCtx, log, cfg)
	if err != nil {
		return nil, err
	}
	a.SSEHub = a.rt.hub

	var closers []io.Closer
	a.Services, closers, err = wireServices(ctx, a.DB, log, cfg, a.Repos, a.rt, a.Metrics)
	a.closers = append(a.closers, closers...)
	if err != nil {
		return nil, err
	}

	if opts.HTTP {
		routerCfg := wireRouterConfig(log, cfg, a.Services, a.rt, a.Metrics)
		a.server = httpserver.NewServer(net.JoinHostPort("", cfg.Port), routerCfg)
		a.Router = a.server.Engine
		if a.rt.bus != nil {
			if err = a.rt.bus.StartForwarder(a.bgCtx, a.rt.hub.Broadcast); err != nil {
				return nil, bootstrapErr(ComponentRealtime, BootstrapErrorInitFailed, "redis", err)
			}
		}
	}

	if a.Metrics != nil {
		a.Metrics.StartQueueCollector(a.bgCtx, log, a.Services.Queue.Depth)
		a.Metrics.StartDBCollector(a.bgCtx, log, a.DB)
		if a.rt.redis != nil {
			a.Metrics.StartRedisCollector(a.bgCtx, log, a.rt.redis)
		}
	}
	return a, nil
}

// Run serves HTTP and/or runs the worker pool until ctx is done or one of them
// fails, then shuts both down.
func (a *App) Run(ctx context.Context) error {
	if a == nil {
		return fmt.Errorf("app not initialized")
	}
	if !a.opts.HTTP && !a.opts.Worker {
		return fmt.Errorf("nothing to run: enable the HTTP server or the worker")
	}
	g, gctx := errgroup.WithContext(ctx)

	if a.opts.Worker {
		g.Go(func() error {
			return a.Services.Worker.Run(gctx)
		})
	}
	if a.server != nil {
		g.Go(func() error {
			a.Log.Info("HTTP server listening", "port", a.Cfg.Port)
			return a.server.Run()
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), httpShutdownTimeout)
			defer cancel()
			if err := a.server.Shutdown(sctx); err != nil {
				a.Log.Warn("HTTP shutdown", "error", err)
			}
			return nil
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Purge runs one janitor pass and returns.
func (a *App) Purge(ctx context.Context) (deleted, failed int64, err error) {
	deleted, failed, err = worker.PurgeOnce(ctx, a.Log, a.Services.Queue, a.Cfg.Worker.Retention)
	if err == nil {
		a.Metrics.ObservePurge(deleted, failed)
	}
	return deleted, failed, err
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.Log.Warn("close provider", "error", err)
		}
	}
	a.closers = nil
	if a.rt != nil && a.rt.redis != nil {
		if err := a.rt.redis.Close(); err != nil {
			a.Log.Warn("close redis", "error", err)
		}
		a.rt = nil
	}
	if a.pg != nil {
		if err := a.pg.Close(); err != nil {
			a.Log.Warn("close database", "error", err)
		}
		a.pg = nil
	}
	if a.otelShutdown != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.otelShutdown(sctx)
		cancel()
		a.otelShutdown = nil
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
