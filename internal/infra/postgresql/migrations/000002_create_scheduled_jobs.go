package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/spencook/subscriptions-reference-app-sub001/internal/repository"
	"gorm.io/gorm"
)

func createScheduledJobsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_scheduled_jobs",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.JobModel{}); err != nil {
				return err
			}
			indexes := []string{
				`CREATE INDEX IF NOT EXISTS idx_scheduled_jobs_due ON scheduled_jobs (run_at) WHERE status = 'PENDING'`,
				`CREATE INDEX IF NOT EXISTS idx_scheduled_jobs_shop_kind ON scheduled_jobs (shop, kind)`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.JobModel{})
		},
	}
}
