package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/spencook/subscriptions-reference-app-sub001/internal/repository"
	"gorm.io/gorm"
)

func createDunningTrackersTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_dunning_trackers",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.TrackerModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_dunning_trackers_open ON dunning_trackers (shop, failure_reason) WHERE completed_at IS NULL`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.TrackerModel{})
		},
	}
}
