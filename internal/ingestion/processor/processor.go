// Package processor turns a claimed ingestion job into indexed vectors: it loads the
// data source, acquires it for the job, extracts or crawls its text, chunks and
// embeds it, and writes the vectors in batches.
//
// Failures are recorded on two tracks: the job goes back through the queue's Nack
// and the data source is marked failed with the error message. A job that was
// cancelled while running is never overwritten.
package processor

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"

	jobrepo "github.com/yungbote/botforge-backend/internal/data/repos/jobs"
	sourcerepo "github.com/yungbote/botforge-backend/internal/data/repos/sources"
	types "github.com/yungbote/botforge-backend/internal/domain/jobs"
	"github.com/yungbote/botforge-backend/internal/domain/sources"
	"github.com/yungbote/botforge-backend/internal/ingestion/chunker"
	"github.com/yungbote/botforge-backend/internal/ingestion/crawler"
	"github.com/yungbote/botforge-backend/internal/ingestion/embedding"
	"github.com/yungbote/botforge-backend/internal/ingestion/ingesterr"
	"github.com/yungbote/botforge-backend/internal/ingestion/vectorstore"
	"github.com/yungbote/botforge-backend/internal/jobs/runtime"
	"github.com/yungbote/botforge-backend/internal/platform/dbctx"
	"github.com/yungbote/botforge-backend/internal/platform/logger"
	"github.com/yungbote/botforge-backend/internal/platform/objectstore"
	"github.com/yungbote/botforge-backend/internal/realtime"
)

const (
	DefaultEmbedConcurrency = 4
	previewChars            = 1000
)

var errJobCancelled = errors.New("job cancelled")

type Crawler interface {
	Crawl(ctx context.Context, startURL string, opts crawler.Options) (*crawler.Result, error)
}

type Extractor interface {
	Extract(ctx context.Context, name, mimeType string, data []byte) (string, error)
}

type VectorWriter interface {
	Provider() string
	BatchUpsert(ctx context.Context, namespace string, vectors []vectorstore.Vector) (int, error)
	DeleteByFilter(ctx context.Context, namespace string, filter vectorstore.Filter) error
}

type Config struct {
	EmbedConcurrency int
	Chunker          chunker.Chunker
}

type Deps struct {
	Jobs      jobrepo.JobRepo
	Sources   sourcerepo.DataSourceRepo
	Objects   objectstore.Store
	Extractor Extractor
	Crawler   Crawler
	Embedder  embedding.Embedder
	Vectors   VectorWriter
	Publisher realtime.Publisher
	Stages    *StagePlan
}

// Result is stored on the completed job.
type Result struct {
	TotalCharacters   int      `json:"totalCharacters"`
	TotalChunks       int      `json:"totalChunks"`
	VectorsStored     int      `json:"vectorsStored"`
	PagesCrawled      int      `json:"pagesCrawled,omitempty"`
	CrawledURLs       []string `json:"crawledUrls,omitempty"`
	FailedURLs        []string `json:"failedUrls,omitempty"`
	ExtractedContent  string   `json:"extractedContent,omitempty"`
	EmbeddingProvider string   `json:"embeddingProvider"`
	VectorProvider    string   `json:"vectorProvider"`
}

type Processor struct {
	log    *logger.Logger
	deps   Deps
	cfg    Config
	tracer trace.Tracer
	now    func() time.Time
}

func New(baseLog *logger.Logger, deps Deps, cfg Config) (*Processor, error) {
	switch {
	case deps.Jobs == nil || deps.Sources == nil:
		return nil, fmt.Errorf("processor: job and source repos required")
	case deps.Embedder == nil:
		return nil, fmt.Errorf("processor: embedder required")
	case deps.Vectors == nil:
		return nil, fmt.Errorf("processor: vector writer required")
	}
	if deps.Publisher == nil {
		deps.Publisher = realtime.NopPublisher{}
	}
	if deps.Stages == nil {
		deps.Stages = DefaultStagePlan()
	}
	if cfg.EmbedConcurrency <= 0 {
		cfg.EmbedConcurrency = DefaultEmbedConcurrency
	}
	if cfg.Chunker.MaxSize <= 0 {
		cfg.Chunker = chunker.New(chunker.DefaultMaxSize, chunker.DefaultOverlap)
	}
	return &Processor{
		log:    baseLog.With("component", "SourceProcessor"),
		deps:   deps,
		cfg:    cfg,
		tracer: otel.Tracer("botforge/ingestion/processor"),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// run carries the per-job state through the phases.
type run struct {
	jc       *runtime.Context
	job      *types.Job
	ds       *sources.DataSource
	srcType  sources.SourceType
	log      *logger.Logger
	owned    bool
	conflict error
}

// ProcessSource ingests the data source behind jc.Job. It acks the job itself on
// success; a returned error is for the queue's Nack.
func (p *Processor) ProcessSource(jc *runtime.Context) (res *Result, err error) {
	job := jc.Job
	srcType, typeErr := sources.SourceTypeFor(job.Type)

	ctx, span := p.tracer.Start(jc.Ctx, "ingest.process_source", trace.WithAttributes(
		attribute.String("job.id", job.ID.String()),
		attribute.String("job.type", job.Type),
		attribute.String("source.id", job.DataSourceID.String()),
		attribute.Int("job.attempt", job.Attempts),
	))
	defer span.End()
	jc.Ctx = ctx

	r := &run{
		jc:      jc,
		job:     job,
		srcType: srcType,
		log:     p.log.With("job_id", job.ID, "source_id", job.DataSourceID, "job_type", job.Type, "attempt", job.Attempts),
	}

	defer func() {
		if err != nil {
			p.fail(r, err)
			if ingesterr.KindOf(err) != ingesterr.KindCancelled {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
		}
	}()

	if err := p.begin(r); err != nil {
		return nil, err
	}
	if typeErr != nil {
		return nil, ingesterr.Content(typeErr)
	}
	if err := p.acquire(r); err != nil {
		return nil, err
	}

	text, res, err := p.collect(r)
	if err != nil {
		return nil, err
	}
	if err := p.checkCancelled(r); err != nil {
		return nil, err
	}

	chunks, err := p.chunk(r, text)
	if err != nil {
		return nil, err
	}
	vectors, err := p.embed(r, chunks)
	if err != nil {
		return nil, err
	}
	if err := p.checkCancelled(r); err != nil {
		return nil, err
	}
	stored, err := p.store(r, vectors)
	if err != nil {
		return nil, err
	}

	if err := p.progress(r, StepFinalizing, 0, map[string]any{"vectorsStored": stored}); err != nil {
		return nil, err
	}

	res.TotalCharacters = utf8.RuneCountInString(text)
	res.TotalChunks = len(chunks)
	res.VectorsStored = stored
	res.EmbeddingProvider = p.deps.Embedder.Name()
	res.VectorProvider = p.deps.Vectors.Provider()

	acked, err := jc.Succeed(res)
	if err != nil {
		return nil, fmt.Errorf("complete job: %w", err)
	}
	if !acked {
		return nil, ingesterr.Cancelled(errJobCancelled)
	}

	dbc := dbctx.With(ctx)
	if ok, err := p.deps.Sources.MarkCompleted(dbc, r.ds.ID, job.ID, res.TotalCharacters, res.TotalChunks); err != nil {
		r.log.Error("Failed to mark data source completed", "error", err)
	} else if !ok {
		r.log.Warn("Data source no longer owned by job; completion not recorded")
	} else {
		chars, chunkCount := res.TotalCharacters, res.TotalChunks
		p.deps.Publisher.PublishSourceUpdate(ctx, r.ds.AgentID, r.ds.ID, realtime.SourceUpdate{
			Status:     sources.StatusCompleted,
			CharCount:  &chars,
			ChunkCount: &chunkCount,
		})
	}
	span.SetAttributes(attribute.Int("ingest.chunks", res.TotalChunks), attribute.Int("ingest.vectors", stored))
	r.log.Info("Data source processed", "chars", res.TotalCharacters, "chunks", res.TotalChunks, "vectors", stored)
	return res, nil
}

// begin moves the job into processing. The write is rejected when the job was
// cancelled before the worker got to it.
func (p *Processor) begin(r *run) error {
	now := p.now()
	updates := map[string]interface{}{
		"status":   types.StatusProcessing,
		"progress": datatypes.NewJSONType(types.Progress{Step: StepStarting, Percent: 0}),
	}
	if r.job.StartedAt == nil {
		updates["started_at"] = now
	}
	ok, err := p.deps.Jobs.UpdateFieldsUnlessStatus(dbctx.With(r.jc.Ctx), r.job.ID, types.TerminalStatuses, updates)
	if err != nil {
		return fmt.Errorf("mark job processing: %w", err)
	}
	if !ok {
		return ingesterr.Cancelled(errJobCancelled)
	}
	p.deps.Publisher.PublishJobUpdate(r.jc.Ctx, r.job.ID, realtime.JobUpdate{
		Status:   types.StatusProcessing,
		Progress: types.Progress{Step: StepStarting, Percent: 0},
	})
	return nil
}

// acquire loads the data source and takes ownership of it for this job.
func (p *Processor) acquire(r *run) error {
	dbc := dbctx.With(r.jc.Ctx)
	ds, err := p.deps.Sources.GetByID(dbc, r.job.DataSourceID)
	if err != nil {
		return fmt.Errorf("load data source: %w", err)
	}
	if ds == nil {
		return ingesterr.NotFoundf("data source %s not found", r.job.DataSourceID)
	}
	r.ds = ds
	if ds.Type != r.srcType {
		return ingesterr.Contentf("job type %s does not match %s source", r.job.Type, ds.Type)
	}

	ok, err := p.deps.Sources.TryBeginProcessing(dbc, ds.ID, r.job.ID)
	if err != nil {
		return fmt.Errorf("acquire data source: %w", err)
	}
	if !ok {
		if ok, err = p.takeOver(r); err != nil {
			return err
		}
	}
	if !ok {
		return r.conflict
	}
	r.owned = true
	p.deps.Publisher.PublishSourceUpdate(r.jc.Ctx, ds.AgentID, ds.ID, realtime.SourceUpdate{Status: sources.StatusProcessing})
	return nil
}

// takeOver claims a processing source whose owning job is gone or finished.
func (p *Processor) takeOver(r *run) (bool, error) {
	dbc := dbctx.With(r.jc.Ctx)
	current, err := p.deps.Sources.GetByID(dbc, r.ds.ID)
	if err != nil {
		return false, fmt.Errorf("reload data source: %w", err)
	}
	if current == nil {
		return false, ingesterr.NotFoundf("data source %s not found", r.ds.ID)
	}
	if current.Status != sources.StatusProcessing {
		r.conflict = ingesterr.Conflictf("data source %s is %s", current.ID, current.Status)
		return false, nil
	}
	from := uuid.Nil
	if current.ProcessingJobID != nil {
		from = *current.ProcessingJobID
		owner, err := p.deps.Jobs.GetByID(dbc, from)
		if err != nil {
			return false, fmt.Errorf("load owning job: %w", err)
		}
		if owner != nil && !owner.IsTerminal() {
			r.conflict = ingesterr.Conflictf("data source %s is already being processed by job %s", current.ID, from)
			return false, nil
		}
	}
	ok, err := p.deps.Sources.TakeOverProcessing(dbc, current.ID, from, r.job.ID)
	if err != nil {
		return false, fmt.Errorf("take over data source: %w", err)
	}
	if !ok {
		r.conflict = ingesterr.Conflictf("data source %s changed owner concurrently", current.ID)
		return false, nil
	}
	r.log.Warn("Took over data source from finished job", "previous_job_id", from)
	return true, nil
}

// collect produces the raw text for the source.
func (p *Processor) collect(r *run) (string, *Result, error) {
	ctx, span := p.tracer.Start(r.jc.Ctx, "ingest.collect", trace.WithAttributes(attribute.String("source.type", string(r.srcType))))
	defer span.End()

	cfg, err := r.ds.DecodeConfig()
	if err != nil {
		return "", nil, ingesterr.Content(err)
	}
	res := &Result{}
	switch c := cfg.(type) {
	case sources.TextConfig:
		if err := p.progress(r, StepProcessingText, 0, nil); err != nil {
			return "", nil, err
		}
		if c.Content == "" {
			return "", nil, ingesterr.Contentf("text source has no content")
		}
		return c.Content, res, nil

	case sources.FileConfig:
		text, err := p.collectFile(ctx, r, c)
		if err != nil {
			return "", nil, err
		}
		res.ExtractedContent = preview(text)
		return text, res, nil

	case sources.WebsiteConfig:
		if p.deps.Crawler == nil {
			return "", nil, fmt.Errorf("website sources are not configured")
		}
		if err := p.progress(r, StepCrawling, 0, map[string]any{"maxPages": c.MaxPages, "crawlSubpages": c.CrawlSubpages}); err != nil {
			return "", nil, err
		}
		crawlCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		var progressErr error
		out, err := p.deps.Crawler.Crawl(crawlCtx, c.URL, crawler.Options{
			FollowSubpages: c.CrawlSubpages,
			MaxPages:       c.MaxPages,
			OnPage: func(pg crawler.Page) {
				if progressErr != nil {
					return
				}
				progressErr = p.progress(r, StepCrawling, float64(pg.PagesCrawled)/float64(pg.MaxPages), map[string]any{
					"pagesCrawled": pg.PagesCrawled,
					"totalPages":   pg.TotalPages,
					"currentUrl":   pg.URL,
				})
				if progressErr != nil {
					cancel()
				}
			},
		})
		if progressErr != nil {
			return "", nil, progressErr
		}
		if err != nil {
			return "", nil, err
		}
		res.PagesCrawled = out.PagesCrawled
		res.CrawledURLs = out.CrawledURLs
		res.FailedURLs = out.FailedURLs
		span.SetAttributes(attribute.Int("crawl.pages", out.PagesCrawled))
		return out.Text, res, nil
	}
	return "", nil, ingesterr.Contentf("unsupported source config %T", cfg)
}

func (p *Processor) collectFile(ctx context.Context, r *run, c sources.FileConfig) (string, error) {
	if p.deps.Objects == nil || p.deps.Extractor == nil {
		return "", fmt.Errorf("file sources are not configured")
	}
	if err := p.progress(r, StepDownloading, 0, nil); err != nil {
		return "", err
	}
	key := r.ds.StorageKey
	if key == "" && c.URL != "" {
		k, err := p.deps.Objects.KeyFromURL(c.URL)
		if err != nil {
			return "", ingesterr.Contentf("resolve file key from %q: %v", c.URL, err)
		}
		key = k
	}
	if key == "" {
		return "", ingesterr.Contentf("no file key found to download file")
	}
	data, err := p.deps.Objects.Get(ctx, key)
	if errors.Is(err, objectstore.ErrNotFound) {
		return "", ingesterr.NotFoundf("file %s not found in storage", key)
	}
	if err != nil {
		return "", fmt.Errorf("download file %s: %w", key, err)
	}

	mimeType := c.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	if err := p.progress(r, StepExtracting, 0, map[string]any{"fileSize": len(data), "mimeType": mimeType}); err != nil {
		return "", err
	}
	name := c.OriginalName
	if name == "" {
		name = r.ds.Name
	}
	return p.deps.Extractor.Extract(ctx, name, mimeType, data)
}

func (p *Processor) chunk(r *run, text string) ([]string, error) {
	if err := p.progress(r, StepChunking, 0, map[string]any{"totalContentLength": utf8.RuneCountInString(text)}); err != nil {
		return nil, err
	}
	chunks := p.cfg.Chunker.Chunk(text)
	if len(chunks) == 0 {
		return nil, ingesterr.Contentf("no content to index")
	}
	return chunks, nil
}

func (p *Processor) embed(r *run, chunks []string) ([]vectorstore.Vector, error) {
	ctx, span := p.tracer.Start(r.jc.Ctx, "ingest.embed", trace.WithAttributes(
		attribute.Int("chunks", len(chunks)),
		attribute.String("embedding.provider", p.deps.Embedder.Name()),
	))
	defer span.End()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var progressErr error
	embeddings, err := embedding.EmbedAll(ctx, p.deps.Embedder, chunks, p.cfg.EmbedConcurrency, func(done, total int) {
		if progressErr != nil {
			return
		}
		if perr := p.progress(r, StepEmbedding, float64(done)/float64(total), map[string]any{
			"processedChunks": done,
			"totalChunks":     total,
		}); perr != nil {
			progressErr = perr
			cancel()
		}
	})
	if progressErr != nil {
		return nil, progressErr
	}
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	ns := vectorstore.Namespace(r.ds.AgentID.String())
	return vectorstore.ChunkVectors(r.ds.ID.String(), r.ds.AgentID.String(), ns, chunks, embeddings, p.now())
}

func (p *Processor) store(r *run, vectors []vectorstore.Vector) (int, error) {
	ctx, span := p.tracer.Start(r.jc.Ctx, "ingest.store_vectors", trace.WithAttributes(
		attribute.Int("vectors", len(vectors)),
		attribute.String("vector.provider", p.deps.Vectors.Provider()),
	))
	defer span.End()

	if err := p.progress(r, StepStoring, 0, map[string]any{"vectorsToStore": len(vectors)}); err != nil {
		return 0, err
	}
	ns := vectorstore.Namespace(r.ds.AgentID.String())
	// A shorter rerun would otherwise leave the tail of the previous run indexed.
	if r.ds.ChunkCount != nil && *r.ds.ChunkCount > len(vectors) {
		filter := vectorstore.Filter{AgentID: r.ds.AgentID.String(), SourceID: r.ds.ID.String()}
		if err := p.deps.Vectors.DeleteByFilter(ctx, ns, filter); err != nil {
			r.log.Warn("Failed to clear previous vectors before rerun", "error", err)
		}
	}
	n, err := p.deps.Vectors.BatchUpsert(ctx, ns, vectors)
	if err != nil {
		return n, fmt.Errorf("failed to store vectors: %w", err)
	}
	return n, nil
}

// progress records a step on the job and pushes it to subscribers. A rejected write
// means the job was cancelled.
func (p *Processor) progress(r *run, step string, frac float64, detail map[string]any) error {
	pr := types.Progress{Step: step, Percent: p.deps.Stages.Percent(r.srcType, step, frac), Detail: detail}
	ok, err := p.deps.Jobs.UpdateFieldsUnlessStatus(dbctx.With(r.jc.Ctx), r.job.ID, types.TerminalStatuses, map[string]interface{}{
		"progress": datatypes.NewJSONType(pr),
	})
	if err != nil {
		r.log.Warn("Failed to record progress", "step", step, "error", err)
	} else if !ok {
		return ingesterr.Cancelled(errJobCancelled)
	}
	p.deps.Publisher.PublishJobUpdate(r.jc.Ctx, r.job.ID, realtime.JobUpdate{Status: types.StatusProcessing, Progress: pr})
	return nil
}

func (p *Processor) checkCancelled(r *run) error {
	if err := r.jc.Ctx.Err(); err != nil {
		return err
	}
	job, err := p.deps.Jobs.GetByID(dbctx.With(r.jc.Ctx), r.job.ID)
	if err != nil {
		return fmt.Errorf("check job status: %w", err)
	}
	if job == nil || job.Status == types.StatusCancelled {
		return ingesterr.Cancelled(errJobCancelled)
	}
	return nil
}

// fail records err on the data source. The job side is left to the queue.
func (p *Processor) fail(r *run, err error) {
	kind := ingesterr.KindOf(err)
	if kind == ingesterr.KindCancelled {
		r.log.Info("Job cancelled; stopping", "error", err)
		return
	}
	r.log.Error("Processing failed", "kind", kind, "error", err)
	if r.ds == nil || kind == ingesterr.KindConflict {
		return
	}
	if r.jc.Ctx.Err() != nil {
		return
	}
	owner := uuid.Nil
	if r.owned {
		owner = r.job.ID
	} else if r.ds.Status != sources.StatusPending {
		return
	}
	ctx := context.WithoutCancel(r.jc.Ctx)
	ok, mErr := p.deps.Sources.MarkFailed(dbctx.With(ctx), r.ds.ID, owner, err.Error())
	if mErr != nil {
		r.log.Error("Failed to mark data source failed", "error", mErr)
		return
	}
	if ok {
		p.deps.Publisher.PublishSourceUpdate(ctx, r.ds.AgentID, r.ds.ID, realtime.SourceUpdate{
			Status:       sources.StatusFailed,
			ErrorMessage: err.Error(),
		})
	}
}

func preview(text string) string {
	if utf8.RuneCountInString(text) <= previewChars {
		return text
	}
	runes := []rune(text)
	return string(runes[:previewChars]) + "..."
}
