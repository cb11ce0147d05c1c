package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/botforge-backend/internal/domain/jobs"
	"github.com/yungbote/botforge-backend/internal/domain/sources"
)

func SeedTextSource(tb testing.TB, ctx context.Context, tx *gorm.DB, agentID uuid.UUID, content string) *sources.DataSource {
	tb.Helper()
	cfg, err := sources.EncodeConfig(sources.TextConfig{Content: content})
	if err != nil {
		tb.Fatalf("encode config: %v", err)
	}
	ds := &sources.DataSource{
		ID:      uuid.New(),
		AgentID: agentID,
		Type:    sources.TypeText,
		Name:    "text",
		Config:  cfg,
		Status:  sources.StatusPending,
	}
	if err := tx.WithContext(ctx).Create(ds).Error; err != nil {
		tb.Fatalf("seed source: %v", err)
	}
	return ds
}

func SeedSource(tb testing.TB, ctx context.Context, tx *gorm.DB, ds *sources.DataSource) *sources.DataSource {
	tb.Helper()
	if err := tx.WithContext(ctx).Create(ds).Error; err != nil {
		tb.Fatalf("seed source: %v", err)
	}
	return ds
}

func SeedJob(tb testing.TB, ctx context.Context, tx *gorm.DB, sourceID uuid.UUID, jobType string) *jobs.Job {
	tb.Helper()
	now := time.Now().UTC()
	j := &jobs.Job{
		ID:           uuid.New(),
		DataSourceID: sourceID,
		Type:         jobType,
		Priority:     jobs.PriorityNormal,
		Status:       jobs.StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := tx.WithContext(ctx).Create(j).Error; err != nil {
		tb.Fatalf("seed job: %v", err)
	}
	return j
}

func PtrUUID(v uuid.UUID) *uuid.UUID { return &v }

func PtrTime(v time.Time) *time.Time { return &v }
