package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	jobrepo "github.com/yungbote/botforge-backend/internal/data/repos/jobs"
	"github.com/yungbote/botforge-backend/internal/data/repos/testutil"
	types "github.com/yungbote/botforge-backend/internal/domain/jobs"
	"github.com/yungbote/botforge-backend/internal/ingestion/ingesterr"
	"github.com/yungbote/botforge-backend/internal/platform/dbctx"
)

func newQueue(t *testing.T) (*Queue, jobrepo.JobRepo) {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	repo := jobrepo.NewJobRepo(db, log)
	return New(db, log, repo, Config{BackoffBase: 5 * time.Second}, nil), repo
}

func TestEnqueueDequeuePriorityOrder(t *testing.T) {
	q, _ := newQueue(t)
	ctx := context.Background()
	src := uuid.New()

	low, err := q.Enqueue(ctx, Message{DataSourceID: src, Type: types.TypeProcessText}, Options{Priority: types.PriorityLow})
	require.NoError(t, err)
	urgent, err := q.Enqueue(ctx, Message{DataSourceID: src, Type: types.TypeProcessText}, Options{Priority: types.PriorityUrgent})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, Message{DataSourceID: src, Type: types.TypeProcessText}, Options{Priority: types.PriorityHigh, Delay: time.Hour})
	require.NoError(t, err)

	select {
	case <-q.Wake():
	default:
		t.Fatalf("expected a wake-up signal after enqueue")
	}

	first, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, urgent.ID, first.ID)
	assert.Equal(t, types.StatusProcessing, first.Status)
	assert.Equal(t, 1, first.Attempts)

	second, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, low.ID, second.ID)

	none, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, none, "delayed job must not be delivered early")
}

func TestEnqueueExistingJobKeepsID(t *testing.T) {
	q, repo := newQueue(t)
	ctx := context.Background()
	id := uuid.New()

	job, err := q.Enqueue(ctx, Message{JobID: id, DataSourceID: uuid.New(), Type: types.TypeCrawlWebsite}, Options{})
	require.NoError(t, err)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, types.PriorityNormal, job.Priority)

	again, err := q.Enqueue(ctx, Message{JobID: id, DataSourceID: job.DataSourceID, Type: job.Type}, Options{Priority: types.PriorityHigh})
	require.NoError(t, err)
	assert.Equal(t, id, again.ID)

	stored, err := repo.GetByID(dbctx.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, types.PriorityHigh, stored.Priority)

	require.NoError(t, repo.UpdateFields(dbctx.Background(), id, map[string]interface{}{"status": types.StatusCancelled}))
	_, err = q.Enqueue(ctx, Message{JobID: id, DataSourceID: job.DataSourceID, Type: job.Type}, Options{})
	assert.Error(t, err)
}

func TestNackBackoffThenDead(t *testing.T) {
	q, repo := newQueue(t)
	ctx := context.Background()
	fixed := time.Now().UTC()
	q.now = func() time.Time { return fixed }

	job, err := q.Enqueue(ctx, Message{DataSourceID: uuid.New(), Type: types.TypeProcessText}, Options{})
	require.NoError(t, err)

	boom := errors.New("provider timeout")
	wantDelays := []time.Duration{5 * time.Second, 10 * time.Second}
	for attempt := 1; attempt <= 3; attempt++ {
		if attempt > 1 {
			require.NoError(t, repo.UpdateFields(dbctx.Background(), job.ID, map[string]interface{}{"scheduled_for": nil}))
		}
		claimed, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.NotNil(t, claimed, "attempt %d", attempt)
		require.Equal(t, attempt, claimed.Attempts)

		out, err := q.Nack(ctx, claimed, boom)
		require.NoError(t, err)
		assert.True(t, out.Applied)

		stored, err := repo.GetByID(dbctx.Background(), job.ID)
		require.NoError(t, err)
		if attempt < 3 {
			assert.True(t, out.Retry)
			assert.Equal(t, wantDelays[attempt-1], out.Delay)
			assert.Equal(t, types.StatusPending, stored.Status)
			require.NotNil(t, stored.ScheduledFor)
			assert.WithinDuration(t, fixed.Add(out.Delay), *stored.ScheduledFor, time.Second)
		} else {
			assert.False(t, out.Retry)
			assert.Equal(t, types.StatusFailed, stored.Status)
			assert.Equal(t, 3, stored.Attempts)
			assert.Equal(t, "provider timeout", stored.ErrorMessage)
		}
	}

	none, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, none, "dead job must never be redelivered")
}

func TestNackPermanentGoesStraightToDead(t *testing.T) {
	q, repo := newQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, Message{DataSourceID: uuid.New(), Type: types.TypeProcessFile}, Options{})
	require.NoError(t, err)
	claimed, err := q.Dequeue(ctx)
	require.NoError(t, err)

	out, err := q.Nack(ctx, claimed, ingesterr.Contentf("PDF parsing failed: bad header"))
	require.NoError(t, err)
	assert.False(t, out.Retry)
	assert.Equal(t, types.StatusFailed, out.Status)

	stored, err := repo.GetByID(dbctx.Background(), claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
}

func TestAckAndNackRespectCancellation(t *testing.T) {
	q, repo := newQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, Message{DataSourceID: uuid.New(), Type: types.TypeProcessText}, Options{})
	require.NoError(t, err)
	claimed, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, repo.UpdateFields(dbctx.Background(), claimed.ID, map[string]interface{}{"status": types.StatusCancelled}))

	ok, err := q.Ack(ctx, claimed, datatypes.JSON(`{"totalChunks":1}`))
	require.NoError(t, err)
	assert.False(t, ok)

	out, err := q.Nack(ctx, claimed, ingesterr.Cancelled(context.Canceled))
	require.NoError(t, err)
	assert.False(t, out.Applied)
	assert.Equal(t, types.StatusCancelled, out.Status)

	stored, err := repo.GetByID(dbctx.Background(), claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCancelled, stored.Status)
}

func TestAckStoresResult(t *testing.T) {
	q, repo := newQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, Message{DataSourceID: uuid.New(), Type: types.TypeProcessText}, Options{})
	require.NoError(t, err)
	claimed, err := q.Dequeue(ctx)
	require.NoError(t, err)

	ok, err := q.Ack(ctx, claimed, datatypes.JSON(`{"totalChunks":2}`))
	require.NoError(t, err)
	assert.True(t, ok)

	stored, err := repo.GetByID(dbctx.Background(), claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, stored.Status)
	assert.Nil(t, stored.LockedAt)
	assert.NotNil(t, stored.CompletedAt)
	assert.JSONEq(t, `{"totalChunks":2}`, string(stored.Result))
	assert.Equal(t, float64(100), stored.SnapshotProgress().Percent)
}

func TestBackoffCapped(t *testing.T) {
	q, _ := newQueue(t)
	assert.Equal(t, 5*time.Second, q.Backoff(0))
	assert.Equal(t, 20*time.Second, q.Backoff(3))
	assert.Equal(t, MaxBackoff, q.Backoff(40))
}

func TestDepthAndHealthy(t *testing.T) {
	q, _ := newQueue(t)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := q.Enqueue(ctx, Message{DataSourceID: uuid.New(), Type: types.TypeProcessText}, Options{})
		require.NoError(t, err)
	}
	_, err := q.Dequeue(ctx)
	require.NoError(t, err)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth[types.StatusPending])
	assert.Equal(t, int64(1), depth[types.StatusProcessing])

	// Probing must not consume anything.
	again, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, depth, again)
	assert.NoError(t, q.Healthy(ctx))
}

func TestLocalNotifierCoalesces(t *testing.T) {
	n := NewLocalNotifier()
	for i := 0; i < 5; i++ {
		require.NoError(t, n.Notify(context.Background()))
	}
	<-n.Wake()
	select {
	case <-n.Wake():
		t.Fatalf("expected signals to coalesce into one")
	default:
	}
}
