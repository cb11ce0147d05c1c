package jobs

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/botforge-backend/internal/domain/jobs"
	"github.com/yungbote/botforge-backend/internal/domain/sources"
	"github.com/yungbote/botforge-backend/internal/platform/dbctx"
	"github.com/yungbote/botforge-backend/internal/platform/logger"
)

type JobRepo interface {
	Create(dbc dbctx.Context, job *types.Job) (*types.Job, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Job, error)
	ListForSource(dbc dbctx.Context, dataSourceID uuid.UUID) ([]*types.Job, error)
	ListForAgent(dbc dbctx.Context, agentID uuid.UUID, status string, limit int) ([]*types.Job, error)
	ListPending(dbc dbctx.Context, limit int) ([]*types.Job, error)
	ClaimNext(dbc dbctx.Context, staleAfter time.Duration) (*types.Job, error)
	Heartbeat(dbc dbctx.Context, id uuid.UUID, attempt int) (bool, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error)
	HasActiveForSource(dbc dbctx.Context, dataSourceID uuid.UUID, excludeJobID uuid.UUID) (bool, error)
	CountByStatus(dbc dbctx.Context) (map[string]int64, error)
	FailStale(dbc dbctx.Context, staleAfter time.Duration) (int64, error)
	DeleteTerminalOlderThan(dbc dbctx.Context, age time.Duration) (int64, error)
}

type jobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRepo(db *gorm.DB, baseLog *logger.Logger) JobRepo {
	return &jobRepo{
		db:  db,
		log: baseLog.With("repo", "JobRepo"),
	}
}

func (r *jobRepo) Create(dbc dbctx.Context, job *types.Job) (*types.Job, error) {
	if job == nil {
		return nil, errors.New("nil job")
	}
	if err := dbc.DB(r.db).Create(job).Error; err != nil {
		return nil, err
	}
	return job, nil
}

func (r *jobRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Job, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var job types.Job
	err := dbc.DB(r.db).Where("id = ?", id).Limit(1).Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

func (r *jobRepo) ListForSource(dbc dbctx.Context, dataSourceID uuid.UUID) ([]*types.Job, error) {
	var out []*types.Job
	if dataSourceID == uuid.Nil {
		return out, nil
	}
	if err := dbc.DB(r.db).
		Where("data_source_id = ?", dataSourceID).
		Order("created_at DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *jobRepo) ListForAgent(dbc dbctx.Context, agentID uuid.UUID, status string, limit int) ([]*types.Job, error) {
	var out []*types.Job
	if agentID == uuid.Nil {
		return out, nil
	}
	if limit <= 0 {
		limit = 50
	}
	q := dbc.DB(r.db).
		Where("data_source_id IN (?)", r.db.Model(&sources.DataSource{}).Select("id").Where("agent_id = ?", agentID))
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Order("created_at DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *jobRepo) ListPending(dbc dbctx.Context, limit int) ([]*types.Job, error) {
	var out []*types.Job
	if limit <= 0 {
		limit = 10
	}
	now := time.Now().UTC()
	if err := dbc.DB(r.db).
		Where("status = ? AND (scheduled_for IS NULL OR scheduled_for <= ?)", types.StatusPending, now).
		Order("priority DESC").
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ClaimNext locks the highest-priority runnable job and moves it to processing,
// counting the attempt. A processing job whose last heartbeat is older than
// staleAfter is treated as abandoned and reclaimed while it still has attempts left.
func (r *jobRepo) ClaimNext(dbc dbctx.Context, staleAfter time.Duration) (*types.Job, error) {
	now := time.Now().UTC()
	staleCutoff := now.Add(-staleAfter)
	var claimed *types.Job
	err := dbc.DB(r.db).Transaction(func(txx *gorm.DB) error {
		var job types.Job
		q := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where(`
        (
          (status = ? AND (scheduled_for IS NULL OR scheduled_for <= ?))
          OR (
            status = ?
            AND locked_at IS NOT NULL
            AND COALESCE(heartbeat_at, locked_at) < ?
            AND attempts < max_attempts
          )
        )
      `, types.StatusPending, now, types.StatusProcessing, staleCutoff).
			Order("priority DESC").
			Order("created_at ASC")
		qErr := q.First(&job).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		updates := map[string]interface{}{
			"status":       types.StatusProcessing,
			"attempts":     gorm.Expr("attempts + 1"),
			"locked_at":    now,
			"heartbeat_at": now,
			"updated_at":   now,
		}
		if job.StartedAt == nil {
			updates["started_at"] = now
		}
		res := txx.Model(&types.Job{}).
			Where("id = ? AND status = ?", job.ID, job.Status).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		job.Status = types.StatusProcessing
		job.Attempts++
		job.LockedAt = &now
		job.HeartbeatAt = &now
		if job.StartedAt == nil {
			job.StartedAt = &now
		}
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// Heartbeat marks the claim for the given attempt as alive. It reports false once
// the job has left processing or been reclaimed under a later attempt.
func (r *jobRepo) Heartbeat(dbc dbctx.Context, id uuid.UUID, attempt int) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	res := dbc.DB(r.db).
		Model(&types.Job{}).
		Where("id = ? AND status = ? AND attempts = ?", id, types.StatusProcessing, attempt).
		UpdateColumn("heartbeat_at", time.Now().UTC())
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *jobRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	return dbc.DB(r.db).
		Model(&types.Job{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// UpdateFieldsUnlessStatus applies updates only while the stored status is outside
// disallowedStatuses. It reports whether a row was written.
func (r *jobRepo) UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}

	q := dbc.DB(r.db).
		Model(&types.Job{}).
		Where("id = ?", id)
	if len(disallowedStatuses) == 1 {
		q = q.Where("status <> ?", disallowedStatuses[0])
	} else if len(disallowedStatuses) > 1 {
		q = q.Where("status NOT IN ?", disallowedStatuses)
	}

	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *jobRepo) HasActiveForSource(dbc dbctx.Context, dataSourceID uuid.UUID, excludeJobID uuid.UUID) (bool, error) {
	if dataSourceID == uuid.Nil {
		return false, nil
	}
	q := dbc.DB(r.db).
		Model(&types.Job{}).
		Where("data_source_id = ? AND status IN ?", dataSourceID, []string{types.StatusPending, types.StatusProcessing})
	if excludeJobID != uuid.Nil {
		q = q.Where("id <> ?", excludeJobID)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *jobRepo) CountByStatus(dbc dbctx.Context) (map[string]int64, error) {
	var rows []struct {
		Status string
		N      int64
	}
	if err := dbc.DB(r.db).
		Model(&types.Job{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := map[string]int64{
		types.StatusPending:    0,
		types.StatusProcessing: 0,
		types.StatusCompleted:  0,
		types.StatusFailed:     0,
		types.StatusCancelled:  0,
	}
	for _, row := range rows {
		out[row.Status] = row.N
	}
	return out, nil
}

// FailStale terminates processing jobs whose worker vanished after their last
// allowed attempt.
func (r *jobRepo) FailStale(dbc dbctx.Context, staleAfter time.Duration) (int64, error) {
	now := time.Now().UTC()
	res := dbc.DB(r.db).
		Model(&types.Job{}).
		Where("status = ? AND locked_at IS NOT NULL AND COALESCE(heartbeat_at, locked_at) < ? AND attempts >= max_attempts",
			types.StatusProcessing, now.Add(-staleAfter)).
		Updates(map[string]interface{}{
			"status":        types.StatusFailed,
			"error_message": "worker lost during final attempt",
			"locked_at":     nil,
			"heartbeat_at":  nil,
			"completed_at":  now,
			"updated_at":    now,
		})
	return res.RowsAffected, res.Error
}

func (r *jobRepo) DeleteTerminalOlderThan(dbc dbctx.Context, age time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-age)
	res := dbc.DB(r.db).
		Where("status IN ?", types.TerminalStatuses).
		Where("(completed_at IS NOT NULL AND completed_at < ?) OR (completed_at IS NULL AND created_at < ?)", cutoff, cutoff).
		Delete(&types.Job{})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		r.log.Info("Purged terminal jobs", "count", res.RowsAffected, "cutoff", cutoff)
	}
	return res.RowsAffected, nil
}
