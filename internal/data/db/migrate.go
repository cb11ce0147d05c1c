package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/botforge-backend/internal/domain/jobs"
	"github.com/yungbote/botforge-backend/internal/domain/sources"
)

// Models lists every table owned by the ingestion core.
func Models() []any {
	return []any{
		&sources.DataSource{},
		&jobs.Job{},
	}
}

func (s *PostgresService) AutoMigrateAll() error {
	return AutoMigrate(s.db)
}

func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	// Covers the claim query: pending rows by priority then age.
	if db.Dialector.Name() == "postgres" {
		if err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_ingest_job_claim ON ingest_job (status, priority DESC, created_at ASC)`).Error; err != nil {
			return fmt.Errorf("create claim index: %w", err)
		}
	}
	return nil
}
