package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	jobrepo "github.com/yungbote/botforge-backend/internal/data/repos/jobs"
	sourcerepo "github.com/yungbote/botforge-backend/internal/data/repos/sources"
	types "github.com/yungbote/botforge-backend/internal/domain/jobs"
	"github.com/yungbote/botforge-backend/internal/domain/sources"
	"github.com/yungbote/botforge-backend/internal/ingestion/vectorstore"
	"github.com/yungbote/botforge-backend/internal/jobs/queue"
	"github.com/yungbote/botforge-backend/internal/platform/apierr"
	"github.com/yungbote/botforge-backend/internal/platform/dbctx"
	"github.com/yungbote/botforge-backend/internal/platform/logger"
	"github.com/yungbote/botforge-backend/internal/platform/objectstore"
	"github.com/yungbote/botforge-backend/internal/realtime"
)

const (
	MaxUploadBytes  = 50 << 20
	MaxWebsitePages = 100
	sourcesFolder   = "sources"
)

// Enqueuer is the queue surface the service needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, msg queue.Message, opts queue.Options) (*types.Job, error)
	Depth(ctx context.Context) (map[string]int64, error)
	Healthy(ctx context.Context) error
}

// VectorCleaner removes a source's vectors.
type VectorCleaner interface {
	Provider() string
	DeleteByFilter(ctx context.Context, namespace string, filter vectorstore.Filter) error
	DescribeStats(ctx context.Context) (*vectorstore.Stats, error)
}

type CreateTextInput struct {
	Name     string
	Content  string
	Priority int
}

type CreateWebsiteInput struct {
	Name          string
	URL           string
	CrawlSubpages bool
	MaxPages      int
	Priority      int
}

type CreateFileInput struct {
	Name     string
	MimeType string
	Size     int64
	Body     io.Reader
	Priority int
}

// SourceWithJob is returned by the create calls.
type SourceWithJob struct {
	Source *sources.DataSource `json:"source"`
	Job    *types.Job          `json:"job"`
}

type QueueStats struct {
	Healthy     bool               `json:"healthy"`
	Error       string             `json:"error,omitempty"`
	Counts      map[string]int64   `json:"counts"`
	Total       int64              `json:"total"`
	CheckedAt   time.Time          `json:"checkedAt"`
	VectorStore *vectorstore.Stats `json:"vectorStore,omitempty"`
}

type PresignedUpload struct {
	Key       string    `json:"key"`
	UploadURL string    `json:"uploadUrl"`
	FileURL   string    `json:"fileUrl"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type IngestionService interface {
	AddProcessingJob(dbc dbctx.Context, msg queue.Message, opts queue.Options) (*types.Job, error)
	CreateTextSource(dbc dbctx.Context, agentID uuid.UUID, in CreateTextInput) (*SourceWithJob, error)
	CreateWebsiteSource(dbc dbctx.Context, agentID uuid.UUID, in CreateWebsiteInput) (*SourceWithJob, error)
	CreateFileSource(dbc dbctx.Context, agentID uuid.UUID, in CreateFileInput) (*SourceWithJob, error)
	ReprocessSource(dbc dbctx.Context, agentID, sourceID uuid.UUID) (*types.Job, error)
	RetryJob(dbc dbctx.Context, jobID uuid.UUID) (*types.Job, error)
	CancelJob(dbc dbctx.Context, jobID uuid.UUID) (*types.Job, error)
	DeleteSource(dbc dbctx.Context, agentID, sourceID uuid.UUID) error
	GetJob(dbc dbctx.Context, jobID uuid.UUID) (*types.Job, error)
	GetSource(dbc dbctx.Context, agentID, sourceID uuid.UUID) (*sources.DataSource, error)
	ListSources(dbc dbctx.Context, agentID uuid.UUID, limit, offset int) ([]*sources.DataSource, error)
	ListJobsForSource(dbc dbctx.Context, agentID, sourceID uuid.UUID) ([]*types.Job, error)
	ListJobsForAgent(dbc dbctx.Context, agentID uuid.UUID, status string, limit int) ([]*types.Job, error)
	QueueStats(ctx context.Context) *QueueStats
	PresignUpload(ctx context.Context, agentID uuid.UUID, name, contentType string) (*PresignedUpload, error)
	PresignDownload(ctx context.Context, agentID uuid.UUID, key string) (string, error)
}

type ingestionService struct {
	db      *gorm.DB
	log     *logger.Logger
	jobs    jobrepo.JobRepo
	sources sourcerepo.DataSourceRepo
	queue   Enqueuer
	objects objectstore.Store
	vectors VectorCleaner
	pub     realtime.Publisher
	now     func() time.Time
}

func NewIngestionService(
	db *gorm.DB,
	baseLog *logger.Logger,
	jobs jobrepo.JobRepo,
	sources sourcerepo.DataSourceRepo,
	q Enqueuer,
	objects objectstore.Store,
	vectors VectorCleaner,
	pub realtime.Publisher,
) IngestionService {
	if pub == nil {
		pub = realtime.NopPublisher{}
	}
	return &ingestionService{
		db:      db,
		log:     baseLog.With("service", "IngestionService"),
		jobs:    jobs,
		sources: sources,
		queue:   q,
		objects: objects,
		vectors: vectors,
		pub:     pub,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *ingestionService) AddProcessingJob(dbc dbctx.Context, msg queue.Message, opts queue.Options) (*types.Job, error) {
	if msg.DataSourceID == uuid.Nil {
		return nil, apierr.Invalid("missing_source_id", "data source id is required")
	}
	if _, err := sources.SourceTypeFor(msg.Type); err != nil {
		return nil, apierr.Invalid("invalid_job_type", "%v", err)
	}
	job, err := s.queue.Enqueue(ctxOf(dbc), msg, opts)
	if err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	s.pub.PublishJobUpdate(ctxOf(dbc), job.ID, realtime.JobUpdate{Status: job.Status, Progress: job.SnapshotProgress()})
	return job, nil
}

func (s *ingestionService) CreateTextSource(dbc dbctx.Context, agentID uuid.UUID, in CreateTextInput) (*SourceWithJob, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" || strings.TrimSpace(in.Content) == "" {
		return nil, apierr.Invalid("missing_fields", "name and content are required")
	}
	return s.createSource(dbc, agentID, &sources.DataSource{
		Name:          name,
		Type:          sources.TypeText,
		FileSizeBytes: int64(len(in.Content)),
	}, sources.TextConfig{Content: in.Content}, queue.Options{Priority: priorityOr(in.Priority, types.PriorityHigh)})
}

func (s *ingestionService) CreateWebsiteSource(dbc dbctx.Context, agentID uuid.UUID, in CreateWebsiteInput) (*SourceWithJob, error) {
	u, err := url.Parse(strings.TrimSpace(in.URL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, apierr.Invalid("invalid_url", "invalid URL provided")
	}
	maxPages := in.MaxPages
	if maxPages <= 0 {
		maxPages = sources.DefaultMaxPages
	}
	if maxPages > MaxWebsitePages {
		return nil, apierr.Invalid("invalid_max_pages", "max_pages must be at most %d", MaxWebsitePages)
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = u.Host
	}
	return s.createSource(dbc, agentID, &sources.DataSource{
		Name: name,
		Type: sources.TypeWebsite,
	}, sources.WebsiteConfig{URL: u.String(), CrawlSubpages: in.CrawlSubpages, MaxPages: maxPages}, queue.Options{Priority: priorityOr(in.Priority, types.PriorityNormal)})
}

// CreateFileSource stores the upload first, then records the source and its job.
func (s *ingestionService) CreateFileSource(dbc dbctx.Context, agentID uuid.UUID, in CreateFileInput) (*SourceWithJob, error) {
	if in.Body == nil {
		return nil, apierr.Invalid("missing_file", "no file provided")
	}
	if in.Size > MaxUploadBytes {
		return nil, apierr.Invalid("file_too_large", "file exceeds %d bytes", MaxUploadBytes)
	}
	if s.objects == nil {
		return nil, fmt.Errorf("object storage not configured")
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = "upload"
	}
	mimeType := strings.TrimSpace(in.MimeType)
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	ctx := ctxOf(dbc)
	key := objectstore.GenerateKey(sourcesFolder, agentID.String(), name, s.now())
	if err := s.objects.Put(ctx, key, in.Body, in.Size, mimeType); err != nil {
		return nil, fmt.Errorf("upload file: %w", err)
	}

	out, err := s.createSource(dbc, agentID, &sources.DataSource{
		Name:          name,
		Type:          sources.TypeFile,
		StorageKey:    key,
		FileSizeBytes: in.Size,
	}, sources.FileConfig{URL: s.objects.URL(key), MimeType: mimeType, OriginalName: name}, queue.Options{Priority: priorityOr(in.Priority, types.PriorityNormal)})
	if err != nil && out == nil {
		if derr := s.objects.Delete(context.WithoutCancel(ctx), key); derr != nil {
			s.log.Warn("Failed to remove orphaned upload", "key", key, "error", derr)
		}
	}
	return out, err
}

func (s *ingestionService) createSource(dbc dbctx.Context, agentID uuid.UUID, ds *sources.DataSource, cfg sources.SourceConfig, opts queue.Options) (*SourceWithJob, error) {
	if agentID == uuid.Nil {
		return nil, apierr.Invalid("missing_agent_id", "agent id is required")
	}
	raw, err := sources.EncodeConfig(cfg)
	if err != nil {
		return nil, err
	}
	jobType, err := sources.JobTypeFor(ds.Type)
	if err != nil {
		return nil, err
	}
	ds.ID = uuid.New()
	ds.AgentID = agentID
	ds.Config = raw
	ds.Status = sources.StatusPending

	if _, err := s.sources.Create(dbc, ds); err != nil {
		return nil, fmt.Errorf("create data source: %w", err)
	}
	job, err := s.AddProcessingJob(dbc, queue.Message{DataSourceID: ds.ID, Type: jobType}, opts)
	if err != nil {
		msg := "failed to queue processing job"
		if uerr := s.sources.UpdateFields(dbc, ds.ID, map[string]interface{}{
			"status":        sources.StatusFailed,
			"error_message": msg,
		}); uerr != nil {
			s.log.Error("Failed to mark source failed after enqueue error", "source_id", ds.ID, "error", uerr)
		}
		ds.Status = sources.StatusFailed
		ds.ErrorMessage = msg
		return &SourceWithJob{Source: ds}, err
	}
	s.log.Info("Data source created", "source_id", ds.ID, "agent_id", agentID, "type", ds.Type, "job_id", job.ID)
	s.pub.PublishSourceUpdate(ctxOf(dbc), agentID, ds.ID, realtime.SourceUpdate{Status: ds.Status})
	return &SourceWithJob{Source: ds, Job: job}, nil
}

// ReprocessSource queues a fresh job for an existing source.
func (s *ingestionService) ReprocessSource(dbc dbctx.Context, agentID, sourceID uuid.UUID) (*types.Job, error) {
	ds, err := s.GetSource(dbc, agentID, sourceID)
	if err != nil {
		return nil, err
	}
	active, err := s.jobs.HasActiveForSource(dbc, ds.ID, uuid.Nil)
	if err != nil {
		return nil, err
	}
	if active || ds.Status == sources.StatusProcessing {
		return nil, apierr.Conflict("source_busy", "source %s already has an active job", ds.ID)
	}
	jobType, err := sources.JobTypeFor(ds.Type)
	if err != nil {
		return nil, err
	}
	if err := s.sources.UpdateFields(dbc, ds.ID, map[string]interface{}{
		"status":            sources.StatusPending,
		"error_message":     "",
		"processing_job_id": nil,
	}); err != nil {
		return nil, fmt.Errorf("reset data source: %w", err)
	}
	job, err := s.AddProcessingJob(dbc, queue.Message{DataSourceID: ds.ID, Type: jobType}, queue.Options{Priority: types.PriorityNormal})
	if err != nil {
		return nil, err
	}
	s.pub.PublishSourceUpdate(ctxOf(dbc), ds.AgentID, ds.ID, realtime.SourceUpdate{Status: sources.StatusPending})
	return job, nil
}

// RetryJob resets a failed job and puts it back on the queue under the same id.
func (s *ingestionService) RetryJob(dbc dbctx.Context, jobID uuid.UUID) (*types.Job, error) {
	job, err := s.GetJob(dbc, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != types.StatusFailed {
		return nil, apierr.Invalid("job_not_failed", "only failed jobs can be retried")
	}
	active, err := s.jobs.HasActiveForSource(dbc, job.DataSourceID, job.ID)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, apierr.Conflict("source_busy", "source %s already has an active job", job.DataSourceID)
	}
	ok, err := s.jobs.UpdateFieldsUnlessStatus(dbc, job.ID, []string{types.StatusCompleted, types.StatusCancelled, types.StatusPending, types.StatusProcessing}, map[string]interface{}{
		"status":        types.StatusPending,
		"attempts":      0,
		"error_message": "",
		"started_at":    nil,
		"completed_at":  nil,
		"locked_at":     nil,
		"scheduled_for": nil,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apierr.Conflict("job_changed", "job %s changed state concurrently", job.ID)
	}
	return s.AddProcessingJob(dbc, queue.Message{JobID: job.ID, DataSourceID: job.DataSourceID, Type: job.Type}, queue.Options{Priority: job.Priority})
}

// CancelJob stops a pending or processing job. A running worker notices at its next
// checkpoint and never overwrites the cancelled state.
func (s *ingestionService) CancelJob(dbc dbctx.Context, jobID uuid.UUID) (*types.Job, error) {
	job, err := s.GetJob(dbc, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != types.StatusPending && job.Status != types.StatusProcessing {
		return nil, apierr.Invalid("job_not_cancellable", "only pending or processing jobs can be cancelled")
	}
	now := s.now()
	ok, err := s.jobs.UpdateFieldsUnlessStatus(dbc, job.ID, types.TerminalStatuses, map[string]interface{}{
		"status":       types.StatusCancelled,
		"completed_at": now,
		"locked_at":    nil,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apierr.Conflict("job_finished", "job %s already finished", job.ID)
	}
	job.Status = types.StatusCancelled
	job.CompletedAt = &now

	ds, err := s.sources.GetByID(dbc, job.DataSourceID)
	if err != nil {
		s.log.Warn("Failed to load source for cancelled job", "job_id", job.ID, "error", err)
	} else if ds != nil && (ds.Status == sources.StatusPending ||
		(ds.ProcessingJobID != nil && *ds.ProcessingJobID == job.ID)) {
		if marked, err := s.sources.MarkFailed(dbc, ds.ID, job.ID, "job cancelled"); err != nil {
			s.log.Warn("Failed to mark source of cancelled job", "source_id", ds.ID, "error", err)
		} else if marked {
			s.pub.PublishSourceUpdate(ctxOf(dbc), ds.AgentID, ds.ID, realtime.SourceUpdate{Status: sources.StatusFailed, ErrorMessage: "job cancelled"})
		}
	}
	s.pub.PublishJobUpdate(ctxOf(dbc), job.ID, realtime.JobUpdate{Status: types.StatusCancelled})
	s.log.Info("Job cancelled", "job_id", job.ID, "source_id", job.DataSourceID)
	return job, nil
}

// DeleteSource removes the stored file and the vectors on a best-effort basis, then
// the row itself.
func (s *ingestionService) DeleteSource(dbc dbctx.Context, agentID, sourceID uuid.UUID) error {
	ds, err := s.GetSource(dbc, agentID, sourceID)
	if err != nil {
		return err
	}
	if ds.Status == sources.StatusProcessing {
		return apierr.Conflict("source_processing", "cannot delete source while it is processing")
	}
	ctx := ctxOf(dbc)
	if ds.StorageKey != "" && s.objects != nil {
		if err := s.objects.Delete(ctx, ds.StorageKey); err != nil && !errors.Is(err, objectstore.ErrNotFound) {
			s.log.Warn("Failed to delete stored file", "source_id", ds.ID, "key", ds.StorageKey, "error", err)
		}
	}
	if s.vectors != nil {
		filter := vectorstore.Filter{AgentID: ds.AgentID.String(), SourceID: ds.ID.String()}
		if err := s.vectors.DeleteByFilter(ctx, vectorstore.Namespace(ds.AgentID.String()), filter); err != nil {
			s.log.Warn("Failed to delete source vectors", "source_id", ds.ID, "provider", s.vectors.Provider(), "error", err)
		}
	}
	if err := s.sources.Delete(dbc, ds.ID); err != nil {
		return fmt.Errorf("delete data source: %w", err)
	}
	s.log.Info("Data source deleted", "source_id", ds.ID, "agent_id", agentID)
	return nil
}

func (s *ingestionService) GetJob(dbc dbctx.Context, jobID uuid.UUID) (*types.Job, error) {
	job, err := s.jobs.GetByID(dbc, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, apierr.NotFound("job_not_found", "job not found")
	}
	return job, nil
}

func (s *ingestionService) GetSource(dbc dbctx.Context, agentID, sourceID uuid.UUID) (*sources.DataSource, error) {
	ds, err := s.sources.GetByID(dbc, sourceID)
	if err != nil {
		return nil, err
	}
	if ds == nil || ds.AgentID != agentID {
		return nil, apierr.NotFound("source_not_found", "source not found")
	}
	return ds, nil
}

func (s *ingestionService) ListSources(dbc dbctx.Context, agentID uuid.UUID, limit, offset int) ([]*sources.DataSource, error) {
	return s.sources.ListByAgent(dbc, agentID, limit, offset)
}

func (s *ingestionService) ListJobsForSource(dbc dbctx.Context, agentID, sourceID uuid.UUID) ([]*types.Job, error) {
	if _, err := s.GetSource(dbc, agentID, sourceID); err != nil {
		return nil, err
	}
	return s.jobs.ListForSource(dbc, sourceID)
}

func (s *ingestionService) ListJobsForAgent(dbc dbctx.Context, agentID uuid.UUID, status string, limit int) ([]*types.Job, error) {
	if status != "" && status != types.StatusPending && status != types.StatusProcessing && !types.IsTerminal(status) {
		return nil, apierr.Invalid("invalid_status", "unknown job status %q", status)
	}
	return s.jobs.ListForAgent(dbc, agentID, status, limit)
}

// QueueStats never fails: an unhealthy queue is reported in the result.
func (s *ingestionService) QueueStats(ctx context.Context) *QueueStats {
	out := &QueueStats{Healthy: true, CheckedAt: s.now()}
	if s.vectors != nil {
		stats, err := s.vectors.DescribeStats(ctx)
		if err != nil {
			s.log.Warn("Failed to describe vector store", "provider", s.vectors.Provider(), "error", err)
		} else {
			out.VectorStore = stats
		}
	}
	if err := s.queue.Healthy(ctx); err != nil {
		out.Healthy = false
		out.Error = err.Error()
	}
	counts, err := s.queue.Depth(ctx)
	if err != nil {
		out.Healthy = false
		if out.Error == "" {
			out.Error = err.Error()
		}
		return out
	}
	out.Counts = counts
	for _, n := range counts {
		out.Total += n
	}
	return out
}

func (s *ingestionService) PresignUpload(ctx context.Context, agentID uuid.UUID, name, contentType string) (*PresignedUpload, error) {
	if s.objects == nil {
		return nil, fmt.Errorf("object storage not configured")
	}
	if strings.TrimSpace(name) == "" {
		return nil, apierr.Invalid("missing_file_name", "fileName is required")
	}
	key := objectstore.GenerateKey(sourcesFolder, agentID.String(), name, s.now())
	u, err := s.objects.PresignPut(ctx, key, contentType, objectstore.DefaultPresignTTL)
	if err != nil {
		return nil, fmt.Errorf("presign upload: %w", err)
	}
	return &PresignedUpload{
		Key:       key,
		UploadURL: u,
		FileURL:   s.objects.URL(key),
		ExpiresAt: s.now().Add(objectstore.DefaultPresignTTL),
	}, nil
}

// PresignDownload signs keys under the agent's own upload prefix only.
func (s *ingestionService) PresignDownload(ctx context.Context, agentID uuid.UUID, key string) (string, error) {
	if s.objects == nil {
		return "", fmt.Errorf("object storage not configured")
	}
	key = strings.TrimPrefix(strings.TrimSpace(key), "/")
	if key == "" || strings.Contains(key, "..") {
		return "", apierr.Invalid("invalid_key", "a valid key is required")
	}
	if agentID == uuid.Nil || !strings.HasPrefix(key, agentPrefix(agentID)) {
		return "", apierr.New(http.StatusForbidden, "key_not_owned", fmt.Errorf("key does not belong to agent %s", agentID))
	}
	u, err := s.objects.PresignGet(ctx, key, objectstore.DefaultPresignTTL)
	if err != nil {
		return "", fmt.Errorf("presign download: %w", err)
	}
	return u, nil
}

// agentPrefix is the folder GenerateKey puts an agent's uploads in.
func agentPrefix(agentID uuid.UUID) string {
	return sourcesFolder + "/" + agentID.String() + "/"
}

func priorityOr(p, def int) int {
	if p > 0 {
		return p
	}
	return def
}

func ctxOf(dbc dbctx.Context) context.Context {
	if dbc.Ctx == nil {
		return context.Background()
	}
	return dbc.Ctx
}
