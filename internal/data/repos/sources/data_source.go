package sources

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/botforge-backend/internal/domain/sources"
	"github.com/yungbote/botforge-backend/internal/platform/dbctx"
	"github.com/yungbote/botforge-backend/internal/platform/logger"
)

type DataSourceRepo interface {
	Create(dbc dbctx.Context, ds *types.DataSource) (*types.DataSource, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.DataSource, error)
	ListByAgent(dbc dbctx.Context, agentID uuid.UUID, limit, offset int) ([]*types.DataSource, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	TryBeginProcessing(dbc dbctx.Context, id uuid.UUID, jobID uuid.UUID) (bool, error)
	TakeOverProcessing(dbc dbctx.Context, id uuid.UUID, fromJobID uuid.UUID, toJobID uuid.UUID) (bool, error)
	MarkCompleted(dbc dbctx.Context, id uuid.UUID, jobID uuid.UUID, charCount, chunkCount int) (bool, error)
	MarkFailed(dbc dbctx.Context, id uuid.UUID, jobID uuid.UUID, message string) (bool, error)
	Delete(dbc dbctx.Context, id uuid.UUID) error
}

type dataSourceRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDataSourceRepo(db *gorm.DB, baseLog *logger.Logger) DataSourceRepo {
	return &dataSourceRepo{
		db:  db,
		log: baseLog.With("repo", "DataSourceRepo"),
	}
}

func (r *dataSourceRepo) Create(dbc dbctx.Context, ds *types.DataSource) (*types.DataSource, error) {
	if ds == nil {
		return nil, errors.New("nil data source")
	}
	if err := dbc.DB(r.db).Create(ds).Error; err != nil {
		return nil, err
	}
	return ds, nil
}

func (r *dataSourceRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.DataSource, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var ds types.DataSource
	if err := dbc.DB(r.db).Where("id = ?", id).Limit(1).Find(&ds).Error; err != nil {
		return nil, err
	}
	if ds.ID == uuid.Nil {
		return nil, nil
	}
	return &ds, nil
}

func (r *dataSourceRepo) ListByAgent(dbc dbctx.Context, agentID uuid.UUID, limit, offset int) ([]*types.DataSource, error) {
	var out []*types.DataSource
	if agentID == uuid.Nil {
		return out, nil
	}
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	if err := dbc.DB(r.db).
		Where("agent_id = ?", agentID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *dataSourceRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.DataSource{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// TryBeginProcessing moves the source into processing for jobID. It succeeds from
// pending or failed, or when jobID already owns the source (a reclaimed attempt).
func (r *dataSourceRepo) TryBeginProcessing(dbc dbctx.Context, id uuid.UUID, jobID uuid.UUID) (bool, error) {
	if id == uuid.Nil || jobID == uuid.Nil {
		return false, nil
	}
	res := dbc.DB(r.db).
		Model(&types.DataSource{}).
		Where("id = ?", id).
		Where("status IN ? OR (status = ? AND processing_job_id = ?)",
			[]string{types.StatusPending, types.StatusFailed}, types.StatusProcessing, jobID).
		Updates(map[string]interface{}{
			"status":            types.StatusProcessing,
			"processing_job_id": jobID,
			"error_message":     "",
			"updated_at":        time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// TakeOverProcessing hands a processing source from a job that is known to be
// finished to toJobID.
func (r *dataSourceRepo) TakeOverProcessing(dbc dbctx.Context, id uuid.UUID, fromJobID uuid.UUID, toJobID uuid.UUID) (bool, error) {
	if id == uuid.Nil || toJobID == uuid.Nil {
		return false, nil
	}
	q := dbc.DB(r.db).
		Model(&types.DataSource{}).
		Where("id = ? AND status = ?", id, types.StatusProcessing)
	if fromJobID == uuid.Nil {
		q = q.Where("processing_job_id IS NULL")
	} else {
		q = q.Where("processing_job_id = ?", fromJobID)
	}
	res := q.Updates(map[string]interface{}{
		"processing_job_id": toJobID,
		"error_message":     "",
		"updated_at":        time.Now().UTC(),
	})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// MarkCompleted records the final counts. Only the owning job may complete the
// source.
func (r *dataSourceRepo) MarkCompleted(dbc dbctx.Context, id uuid.UUID, jobID uuid.UUID, charCount, chunkCount int) (bool, error) {
	now := time.Now().UTC()
	res := dbc.DB(r.db).
		Model(&types.DataSource{}).
		Where("id = ? AND status = ? AND processing_job_id = ?", id, types.StatusProcessing, jobID).
		Updates(map[string]interface{}{
			"status":            types.StatusCompleted,
			"char_count":        charCount,
			"chunk_count":       chunkCount,
			"processed_at":      now,
			"processing_job_id": nil,
			"error_message":     "",
			"updated_at":        now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// MarkFailed surfaces a failure on the source. A jobID of uuid.Nil skips the owner
// check (used when the source was never claimed).
func (r *dataSourceRepo) MarkFailed(dbc dbctx.Context, id uuid.UUID, jobID uuid.UUID, message string) (bool, error) {
	q := dbc.DB(r.db).
		Model(&types.DataSource{}).
		Where("id = ? AND status <> ?", id, types.StatusCompleted)
	if jobID != uuid.Nil {
		q = q.Where("processing_job_id = ? OR processing_job_id IS NULL", jobID)
	}
	res := q.Updates(map[string]interface{}{
		"status":            types.StatusFailed,
		"error_message":     message,
		"processing_job_id": nil,
		"updated_at":        time.Now().UTC(),
	})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *dataSourceRepo) Delete(dbc dbctx.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return nil
	}
	return dbc.DB(r.db).Where("id = ?", id).Delete(&types.DataSource{}).Error
}
