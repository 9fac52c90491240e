package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/ocecdr/cdrpush/internal/repository"
	"gorm.io/gorm"
)

func createJobDocs() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_create_job_docs",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.JobDocModel{}); err != nil {
				return err
			}
			sql := `CREATE INDEX IF NOT EXISTS idx_job_docs_failure ` +
				`ON job_docs (job_id) WHERE failure`
			return tx.Exec(sql).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.JobDocModel{})
		},
	}
}
