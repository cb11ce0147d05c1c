package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	types "github.com/yungbote/botforge-backend/internal/domain/jobs"
	"github.com/yungbote/botforge-backend/internal/ingestion/ingesterr"
	"github.com/yungbote/botforge-backend/internal/jobs/queue"
	"github.com/yungbote/botforge-backend/internal/jobs/runtime"
	"github.com/yungbote/botforge-backend/internal/observability"
	"github.com/yungbote/botforge-backend/internal/platform/envutil"
	"github.com/yungbote/botforge-backend/internal/platform/logger"
	"github.com/yungbote/botforge-backend/internal/realtime"
)

const (
	DefaultConcurrency   = 3
	DefaultPollInterval  = time.Second
	DefaultShutdownGrace = 30 * time.Second
	DefaultPurgeInterval = time.Hour
	DefaultRetention     = 7 * 24 * time.Hour

	DefaultHeartbeatInterval = 30 * time.Second
)

type Config struct {
	Concurrency   int
	PollInterval  time.Duration
	ShutdownGrace time.Duration
	PurgeInterval time.Duration
	Retention     time.Duration

	// HeartbeatInterval must stay well below the queue's stale threshold or
	// running jobs get reclaimed.
	HeartbeatInterval time.Duration
}

func ConfigFromEnv() Config {
	return Config{
		Concurrency:   envutil.Int("WORKER_CONCURRENCY", DefaultConcurrency),
		PollInterval:  envutil.Duration("WORKER_POLL_INTERVAL", DefaultPollInterval),
		ShutdownGrace: envutil.Duration("WORKER_SHUTDOWN_GRACE", DefaultShutdownGrace),
		PurgeInterval: envutil.Duration("JOB_PURGE_INTERVAL", DefaultPurgeInterval),
		Retention:     time.Duration(envutil.Int("JOB_RETENTION_DAYS", 7)) * 24 * time.Hour,

		HeartbeatInterval: envutil.Duration("WORKER_HEARTBEAT_INTERVAL", DefaultHeartbeatInterval),
	}
}

func (c Config) withDefaults() Config {
	if c.Concurrency < 1 {
		c.Concurrency = DefaultConcurrency
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = DefaultShutdownGrace
	}
	if c.PurgeInterval <= 0 {
		c.PurgeInterval = DefaultPurgeInterval
	}
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	return c
}

// Queue is the subset of *queue.Queue the pool drives.
type Queue interface {
	Dequeue(ctx context.Context) (*types.Job, error)
	Ack(ctx context.Context, job *types.Job, result datatypes.JSON) (bool, error)
	Nack(ctx context.Context, job *types.Job, cause error) (queue.Outcome, error)
	Heartbeat(ctx context.Context, job *types.Job) (bool, error)
	Wake() <-chan struct{}
	Purge(ctx context.Context, age time.Duration) (int64, int64, error)
}

type Worker struct {
	log      *logger.Logger
	queue    Queue
	registry *runtime.Registry
	pub      realtime.Publisher
	metrics  *observability.Metrics
	cfg      Config

	mu          sync.Mutex
	started     bool
	stopClaims  context.CancelFunc
	cancelJobs  context.CancelFunc
	done        chan struct{}
	janitorStop context.CancelFunc
}

func NewWorker(baseLog *logger.Logger, q Queue, registry *runtime.Registry, pub realtime.Publisher, cfg Config) *Worker {
	if pub == nil {
		pub = realtime.NopPublisher{}
	}
	return &Worker{
		log:      baseLog.With("component", "JobWorker"),
		queue:    q,
		registry: registry,
		pub:      pub,
		cfg:      cfg.withDefaults(),
	}
}

// WithMetrics records job outcomes and janitor passes on m. Call before Start.
func (w *Worker) WithMetrics(m *observability.Metrics) *Worker {
	w.metrics = m
	return w
}

// Start launches the slots and the janitor and returns immediately. Cancelling ctx
// stops claiming; in-flight jobs keep running until Stop's grace period expires.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return fmt.Errorf("worker already started")
	}
	w.started = true

	claimCtx, stopClaims := context.WithCancel(ctx)
	jobCtx, cancelJobs := context.WithCancel(context.WithoutCancel(ctx))
	janitorCtx, janitorStop := context.WithCancel(ctx)
	w.stopClaims = stopClaims
	w.cancelJobs = cancelJobs
	w.janitorStop = janitorStop
	w.done = make(chan struct{})

	w.log.Info("Starting job worker pool",
		"concurrency", w.cfg.Concurrency,
		"poll_interval", w.cfg.PollInterval,
		"heartbeat_interval", w.cfg.HeartbeatInterval,
	)

	g := new(errgroup.Group)
	for i := 0; i < w.cfg.Concurrency; i++ {
		slot := i + 1
		g.Go(func() error {
			w.runLoop(claimCtx, jobCtx, slot)
			return nil
		})
	}
	g.Go(func() error {
		w.runJanitor(janitorCtx)
		return nil
	})
	go func() {
		_ = g.Wait()
		close(w.done)
	}()
	return nil
}

// Stop stops claiming and waits for in-flight jobs. When the grace period (or ctx)
// runs out first, job contexts are cancelled and their rows are left for stale
// reclaim.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return nil
	}
	stopClaims, cancelJobs, janitorStop, done := w.stopClaims, w.cancelJobs, w.janitorStop, w.done
	w.mu.Unlock()

	stopClaims()
	janitorStop()

	grace := time.NewTimer(w.cfg.ShutdownGrace)
	defer grace.Stop()

	select {
	case <-done:
		cancelJobs()
		w.log.Info("Job worker pool stopped")
		return nil
	case <-grace.C:
		w.log.Warn("Shutdown grace period expired; cancelling in-flight jobs", "grace", w.cfg.ShutdownGrace)
	case <-ctx.Done():
		w.log.Warn("Shutdown context done; cancelling in-flight jobs", "error", ctx.Err())
	}
	cancelJobs()
	<-done
	return nil
}

// Run starts the pool and blocks until ctx is done, then stops gracefully.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return w.Stop(context.WithoutCancel(ctx))
}

func (w *Worker) runLoop(claimCtx, jobCtx context.Context, slot int) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if claimCtx.Err() != nil {
			w.log.Debug("Worker loop stopped", "worker_id", slot)
			return
		}
		job, err := w.queue.Dequeue(claimCtx)
		if err != nil && claimCtx.Err() == nil {
			w.log.Warn("Dequeue failed", "worker_id", slot, "error", err)
		}
		if job != nil {
			w.process(jobCtx, slot, job)
			continue
		}
		select {
		case <-claimCtx.Done():
		case <-ticker.C:
		case <-w.queue.Wake():
		}
	}
}

func (w *Worker) process(ctx context.Context, slot int, job *types.Job) {
	log := w.log.With("worker_id", slot, "job_id", job.ID, "job_type", job.Type, "attempt", job.Attempts)
	jc := runtime.NewContext(ctx, job, log, w.queue.Ack)
	start := time.Now()
	outcome := "interrupted"
	defer func() { w.metrics.ObserveJob(job.Type, outcome, time.Since(start)) }()

	var runErr error
	if h, ok := w.registry.Get(job.Type); !ok {
		log.Warn("No handler registered for job_type")
		runErr = ingesterr.Contentf("no handler registered for job_type=%s", job.Type)
	} else {
		stopBeat := w.heartbeat(ctx, job, log)
		runErr = w.runHandler(h, jc, log)
		stopBeat()
	}

	if ctx.Err() != nil && runErr != nil {
		log.Warn("Job interrupted by shutdown; leaving it for stale reclaim", "error", runErr)
		return
	}

	if runErr == nil {
		if !jc.Finished() {
			if _, err := jc.Succeed(nil); err != nil {
				log.Error("Ack failed", "error", err)
				return
			}
		}
		outcome = "superseded"
		if job.Status == types.StatusCompleted {
			outcome = types.StatusCompleted
			w.pub.PublishJobUpdate(ctx, job.ID, realtime.JobUpdate{
				Status:   types.StatusCompleted,
				Progress: types.Progress{Step: "completed", Percent: 100},
				Result:   rawResult(job.Result),
			})
			log.Info("Job completed")
		}
		return
	}

	out, err := w.queue.Nack(ctx, job, runErr)
	if err != nil {
		log.Error("Nack failed", "error", err, "cause", runErr)
		return
	}
	outcome = out.Status
	if !out.Applied {
		log.Info("Job already terminal; failure not recorded", "status", out.Status, "cause", runErr)
		return
	}
	w.pub.PublishJobUpdate(ctx, job.ID, realtime.JobUpdate{
		Status:       out.Status,
		ErrorMessage: runErr.Error(),
	})
}

func (w *Worker) runHandler(h runtime.Handler, jc *runtime.Context, log *logger.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Job handler panic", "panic", r)
			err = &panicError{Val: r}
		}
	}()
	return h.Run(jc)
}

// heartbeat keeps the claim on job alive until the returned stop func is called.
// Beating stops early once the job leaves processing.
func (w *Worker) heartbeat(ctx context.Context, job *types.Job, log *logger.Logger) (stop func()) {
	quit := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(w.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-quit:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			ok, err := w.queue.Heartbeat(ctx, job)
			if err != nil {
				if ctx.Err() == nil {
					log.Warn("Job heartbeat failed", "error", err)
				}
				continue
			}
			if !ok {
				log.Info("Job no longer held by this worker; heartbeat stopped")
				return
			}
		}
	}()
	return func() {
		close(quit)
		<-done
	}
}

func (w *Worker) runJanitor(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, failed, err := PurgeOnce(ctx, w.log, w.queue, w.cfg.Retention)
			if err != nil && !errors.Is(err, context.Canceled) {
				w.log.Warn("Job purge failed", "error", err)
			}
			w.metrics.ObservePurge(deleted, failed)
		}
	}
}

// PurgeOnce runs one janitor pass.
func PurgeOnce(ctx context.Context, log *logger.Logger, q Queue, retention time.Duration) (deleted, failed int64, err error) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	deleted, failed, err = q.Purge(ctx, retention)
	if err != nil {
		return deleted, failed, err
	}
	log.Info("Job janitor pass", "deleted", deleted, "stale_failed", failed, "retention", retention)
	return deleted, failed, nil
}

func rawResult(b datatypes.JSON) any {
	if len(b) == 0 {
		return nil
	}
	return json.RawMessage(b)
}

type panicError struct{ Val any }

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.Val) }
