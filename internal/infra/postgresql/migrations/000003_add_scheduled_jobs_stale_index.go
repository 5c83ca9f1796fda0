package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func addScheduledJobsStaleIndex() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_add_scheduled_jobs_stale_index",
		Migrate: func(tx *gorm.DB) error {
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_scheduled_jobs_queued ON scheduled_jobs (updated_at) WHERE status = 'QUEUED'`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Exec(`DROP INDEX IF EXISTS idx_scheduled_jobs_queued`).Error
		},
	}
}
