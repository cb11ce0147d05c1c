package realtime

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/botforge-backend/internal/platform/logger"
)

const DefaultPublishTimeout = 2 * time.Second

func JobChannel(jobID uuid.UUID) string { return "job_" + jobID.String() }

func AgentSourcesChannel(agentID uuid.UUID) string { return "agent_" + agentID.String() + "_sources" }

type JobUpdate struct {
	JobID        string    `json:"jobId"`
	Status       string    `json:"status"`
	Progress     any       `json:"progress,omitempty"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	Result       any       `json:"result,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

type SourceUpdate struct {
	SourceID     string    `json:"sourceId"`
	AgentID      string    `json:"agentId"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	CharCount    *int      `json:"charCount,omitempty"`
	ChunkCount   *int      `json:"chunkCount,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Remote carries messages to every API replica. Each replica's forwarder then
// rebroadcasts into its local hub.
type Remote interface {
	Publish(ctx context.Context, msg SSEMessage) error
}

// Publisher is fire-and-forget: it never returns an error and never blocks longer
// than its timeout.
type Publisher interface {
	PublishJobUpdate(ctx context.Context, jobID uuid.UUID, u JobUpdate)
	PublishSourceUpdate(ctx context.Context, agentID, sourceID uuid.UUID, u SourceUpdate)
}

type publisher struct {
	log     *logger.Logger
	hub     *SSEHub
	remote  Remote
	timeout time.Duration
	now     func() time.Time
}

// NewPublisher publishes through remote when it is non-nil, otherwise directly into
// hub.
func NewPublisher(log *logger.Logger, hub *SSEHub, remote Remote, timeout time.Duration) Publisher {
	if log == nil {
		log = logger.Nop()
	}
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	return &publisher{
		log:     log.With("component", "ProgressPublisher"),
		hub:     hub,
		remote:  remote,
		timeout: timeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (p *publisher) PublishJobUpdate(ctx context.Context, jobID uuid.UUID, u JobUpdate) {
	u.JobID = jobID.String()
	if u.Timestamp.IsZero() {
		u.Timestamp = p.now()
	}
	p.publish(ctx, SSEMessage{Channel: JobChannel(jobID), Event: SSEEventJobStatusUpdate, Data: u})
}

func (p *publisher) PublishSourceUpdate(ctx context.Context, agentID, sourceID uuid.UUID, u SourceUpdate) {
	u.AgentID = agentID.String()
	u.SourceID = sourceID.String()
	if u.Timestamp.IsZero() {
		u.Timestamp = p.now()
	}
	p.publish(ctx, SSEMessage{Channel: AgentSourcesChannel(agentID), Event: SSEEventSourceStatusUpdate, Data: u})
}

func (p *publisher) publish(ctx context.Context, msg SSEMessage) {
	if p.remote == nil {
		if p.hub != nil {
			p.hub.Broadcast(msg)
		}
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	// Publishing must outlive a cancelled job context so the final state still goes out.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()
	if err := p.remote.Publish(pctx, msg); err != nil {
		p.log.Warn("Failed to publish realtime update", "channel", msg.Channel, "event", msg.Event, "error", err)
	}
}

// NopPublisher drops every update.
type NopPublisher struct{}

func (NopPublisher) PublishJobUpdate(context.Context, uuid.UUID, JobUpdate) {}
func (NopPublisher) PublishSourceUpdate(context.Context, uuid.UUID, uuid.UUID, SourceUpdate) {}
