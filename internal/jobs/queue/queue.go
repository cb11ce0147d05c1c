package queue

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	jobrepo "github.com/yungbote/botforge-backend/internal/data/repos/jobs"
	types "github.com/yungbote/botforge-backend/internal/domain/jobs"
	"github.com/yungbote/botforge-backend/internal/ingestion/ingesterr"
	"github.com/yungbote/botforge-backend/internal/platform/dbctx"
	"github.com/yungbote/botforge-backend/internal/platform/logger"
)

const (
	DefaultBackoffBase = 5 * time.Second
	DefaultStaleAfter  = 10 * time.Minute
	MaxBackoff         = time.Hour
)

// Message is the payload handed to AddProcessingJob.
type Message struct {
	JobID        uuid.UUID
	DataSourceID uuid.UUID
	Type         string
}

type Options struct {
	Priority int
	Delay    time.Duration
}

type Config struct {
	MaxAttempts int
	BackoffBase time.Duration
	StaleAfter  time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = types.DefaultMaxAttempts
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = DefaultStaleAfter
	}
	return c
}

// Outcome describes what Nack did with a failed job.
type Outcome struct {
	Applied bool
	Retry   bool
	Delay   time.Duration
	Status  string
}

type Queue struct {
	db     *gorm.DB
	log    *logger.Logger
	repo   jobrepo.JobRepo
	cfg    Config
	notify Notifier
	now    func() time.Time
}

func New(db *gorm.DB, baseLog *logger.Logger, repo jobrepo.JobRepo, cfg Config, notify Notifier) *Queue {
	if notify == nil {
		notify = NewLocalNotifier()
	}
	return &Queue{
		db:     db,
		log:    baseLog.With("component", "JobQueue"),
		repo:   repo,
		cfg:    cfg.withDefaults(),
		notify: notify,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (q *Queue) Config() Config { return q.cfg }

// Enqueue makes msg runnable. An existing job row keeps its id and history; a missing
// one is created.
func (q *Queue) Enqueue(ctx context.Context, msg Message, opts Options) (*types.Job, error) {
	if msg.DataSourceID == uuid.Nil {
		return nil, fmt.Errorf("enqueue: data source id required")
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("enqueue: job type required")
	}
	priority := opts.Priority
	if priority <= 0 {
		priority = types.PriorityNormal
	}
	now := q.now()
	var scheduled *time.Time
	if opts.Delay > 0 {
		at := now.Add(opts.Delay)
		scheduled = &at
	}

	dbc := dbctx.With(ctx)
	var job *types.Job
	if msg.JobID != uuid.Nil {
		existing, err := q.repo.GetByID(dbc, msg.JobID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			if existing.IsTerminal() {
				return nil, fmt.Errorf("enqueue: job %s is already %s", existing.ID, existing.Status)
			}
			if err := q.repo.UpdateFields(dbc, existing.ID, map[string]interface{}{
				"priority":      priority,
				"scheduled_for": scheduled,
			}); err != nil {
				return nil, err
			}
			existing.Priority = priority
			existing.ScheduledFor = scheduled
			job = existing
		}
	}
	if job == nil {
		created, err := q.repo.Create(dbc, &types.Job{
			ID:           msg.JobID,
			DataSourceID: msg.DataSourceID,
			Type:         msg.Type,
			Priority:     priority,
			Status:       types.StatusPending,
			MaxAttempts:  q.cfg.MaxAttempts,
			ScheduledFor: scheduled,
			Progress:     datatypes.NewJSONType(types.Progress{Step: "queued"}),
			CreatedAt:    now,
			UpdatedAt:    now,
		})
		if err != nil {
			return nil, err
		}
		job = created
	}

	q.log.Info("Job enqueued", "job_id", job.ID, "source_id", job.DataSourceID, "type", job.Type, "priority", priority, "delay", opts.Delay)
	q.signal(ctx)
	return job, nil
}

// Dequeue claims the next runnable job, or returns nil when none is ready.
func (q *Queue) Dequeue(ctx context.Context) (*types.Job, error) {
	return q.repo.ClaimNext(dbctx.With(ctx), q.cfg.StaleAfter)
}

// Heartbeat refreshes the claim on a running job so stale reclaim leaves it alone.
// It reports false once the job is no longer processing under this attempt.
func (q *Queue) Heartbeat(ctx context.Context, job *types.Job) (bool, error) {
	if job == nil {
		return false, fmt.Errorf("heartbeat: nil job")
	}
	return q.repo.Heartbeat(dbctx.With(ctx), job.ID, job.Attempts)
}

// Ack completes a claimed job. It reports false when the job already reached a
// terminal state, for example after a cancel.
func (q *Queue) Ack(ctx context.Context, job *types.Job, result datatypes.JSON) (bool, error) {
	if job == nil {
		return false, fmt.Errorf("ack: nil job")
	}
	now := q.now()
	updates := map[string]interface{}{
		"status":        types.StatusCompleted,
		"error_message": "",
		"locked_at":     nil,
		"heartbeat_at":  nil,
		"completed_at":  now,
		"progress":      datatypes.NewJSONType(types.Progress{Step: "completed", Percent: 100}),
	}
	if len(result) > 0 {
		updates["result"] = result
	}
	ok, err := q.repo.UpdateFieldsUnlessStatus(dbctx.With(ctx), job.ID, types.TerminalStatuses, updates)
	if err != nil {
		return false, err
	}
	if ok {
		job.Status = types.StatusCompleted
		job.Result = result
		job.CompletedAt = &now
		job.LockedAt = nil
		job.HeartbeatAt = nil
	}
	return ok, nil
}

// Nack records a failed attempt. Attempts were counted at claim time, so the job is
// retried with backoff while attempts remain and the error is not permanent, and
// otherwise moves to failed.
func (q *Queue) Nack(ctx context.Context, job *types.Job, cause error) (Outcome, error) {
	if job == nil {
		return Outcome{}, fmt.Errorf("nack: nil job")
	}
	if errors.Is(cause, context.Canceled) || ingesterr.KindOf(cause) == ingesterr.KindCancelled {
		current, err := q.repo.GetByID(dbctx.With(ctx), job.ID)
		if err != nil {
			return Outcome{}, err
		}
		if current != nil && current.IsTerminal() {
			return Outcome{Status: current.Status}, nil
		}
	}

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.cfg.MaxAttempts
	}
	now := q.now()

	out := Outcome{Status: types.StatusFailed}
	updates := map[string]interface{}{
		"error_message": msg,
		"locked_at":     nil,
		"heartbeat_at":  nil,
	}
	if !ingesterr.IsPermanent(cause) && job.Attempts < maxAttempts {
		delay := q.Backoff(job.Attempts)
		at := now.Add(delay)
		out = Outcome{Retry: true, Delay: delay, Status: types.StatusPending}
		updates["status"] = types.StatusPending
		updates["scheduled_for"] = at
	} else {
		updates["status"] = types.StatusFailed
		updates["completed_at"] = now
	}

	ok, err := q.repo.UpdateFieldsUnlessStatus(dbctx.With(ctx), job.ID, types.TerminalStatuses, updates)
	if err != nil {
		return Outcome{}, err
	}
	out.Applied = ok
	if !ok {
		return out, nil
	}
	job.Status = out.Status
	job.ErrorMessage = msg
	job.LockedAt = nil
	job.HeartbeatAt = nil

	if out.Retry {
		q.log.Warn("Job attempt failed; retrying", "job_id", job.ID, "attempt", job.Attempts, "max_attempts", maxAttempts, "delay", out.Delay, "error", msg)
	} else {
		q.log.Error("Job failed", "job_id", job.ID, "attempt", job.Attempts, "permanent", ingesterr.IsPermanent(cause), "error", msg)
	}
	return out, nil
}

// Backoff is base * 2^(attempt-1), capped at MaxBackoff.
func (q *Queue) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(q.cfg.BackoffBase) * math.Pow(2, float64(attempt-1))
	if d > float64(MaxBackoff) {
		return MaxBackoff
	}
	return time.Duration(d)
}

// Depth counts jobs per status.
func (q *Queue) Depth(ctx context.Context) (map[string]int64, error) {
	return q.repo.CountByStatus(dbctx.With(ctx))
}

// Healthy pings the database and the wake-up transport.
func (q *Queue) Healthy(ctx context.Context) error {
	sqlDB, err := q.db.DB()
	if err != nil {
		return fmt.Errorf("database handle: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping: %w", err)
	}
	if err := q.notify.Ping(ctx); err != nil {
		return fmt.Errorf("queue notifier: %w", err)
	}
	return nil
}

// Wake returns a channel that fires when new work may be available.
func (q *Queue) Wake() <-chan struct{} { return q.notify.Wake() }

func (q *Queue) signal(ctx context.Context) {
	if err := q.notify.Notify(ctx); err != nil {
		q.log.Warn("Queue wake-up signal failed", "error", err)
	}
}

// Purge deletes terminal jobs older than age and fails stale final attempts.
func (q *Queue) Purge(ctx context.Context, age time.Duration) (deleted int64, failed int64, err error) {
	dbc := dbctx.With(ctx)
	failed, err = q.repo.FailStale(dbc, q.cfg.StaleAfter)
	if err != nil {
		return 0, 0, fmt.Errorf("fail stale jobs: %w", err)
	}
	deleted, err = q.repo.DeleteTerminalOlderThan(dbc, age)
	if err != nil {
		return 0, failed, fmt.Errorf("delete terminal jobs: %w", err)
	}
	return deleted, failed, nil
}
