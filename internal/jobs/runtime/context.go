package runtime

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"

	types "github.com/yungbote/botforge-backend/internal/domain/jobs"
	"github.com/yungbote/botforge-backend/internal/platform/logger"
)

// AckFunc completes the job and reports whether the write landed.
type AckFunc func(ctx context.Context, job *types.Job, result datatypes.JSON) (bool, error)

/*
Context is the execution handle for a single claimed job.
Handlers report completion through Succeed so the job row is written before any
follow-up state (such as the data source) changes. A handler that returns nil
without calling Succeed is acked by the worker with an empty result.
Errors returned from Run go to the queue's Nack.
*/
type Context struct {
	Ctx context.Context
	Job *types.Job
	Log *logger.Logger

	ack      AckFunc
	finished bool
	acked    bool
}

func NewContext(ctx context.Context, job *types.Job, log *logger.Logger, ack AckFunc) *Context {
	if log == nil {
		log = logger.Nop()
	}
	return &Context{Ctx: ctx, Job: job, Log: log, ack: ack}
}

// Succeed acks the job with result. It returns false when the job was already
// terminal (cancelled while running).
func (c *Context) Succeed(result any) (bool, error) {
	if c.finished {
		return c.acked, nil
	}
	var raw datatypes.JSON
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return false, fmt.Errorf("encode job result: %w", err)
		}
		raw = datatypes.JSON(b)
	}
	if c.ack == nil {
		return false, fmt.Errorf("job context has no ack")
	}
	ok, err := c.ack(c.Ctx, c.Job, raw)
	if err != nil {
		return false, err
	}
	c.finished = true
	c.acked = ok
	return ok, nil
}

// Finished reports whether Succeed already ran.
func (c *Context) Finished() bool { return c.finished }

// Attempt is the 1-based attempt number of this run.
func (c *Context) Attempt() int {
	if c.Job == nil {
		return 0
	}
	return c.Job.Attempts
}
