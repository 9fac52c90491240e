package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/ocecdr/cdrpush/internal/repository"
	"gorm.io/gorm"
)

func createBatchJobTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_batch_job_tables",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.BatchJobModel{}); err != nil {
				return err
			}
			if err := tx.AutoMigrate(&repository.BatchJobParmModel{}); err != nil {
				return err
			}
			indexes := []string{
				`CREATE INDEX IF NOT EXISTS idx_batch_job_name_status ON batch_job (name, status)`,
				`CREATE INDEX IF NOT EXISTS idx_batch_job_started ON batch_job (started)`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			if err := tx.Migrator().DropTable(&repository.BatchJobParmModel{}); err != nil {
				return err
			}
			return tx.Migrator().DropTable(&repository.BatchJobModel{})
		},
	}
}
