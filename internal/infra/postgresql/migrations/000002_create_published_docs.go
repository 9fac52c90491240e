package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/ocecdr/cdrpush/internal/repository"
	"gorm.io/gorm"
)

func createPublishedDocs() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_published_docs",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.PublishedDocModel{}); err != nil {
				return err
			}
			// Partial index keeps forced-push cleanup cheap.
			sql := `CREATE INDEX IF NOT EXISTS idx_published_docs_forced ` +
				`ON published_docs (doc_id) WHERE force_push OR is_new`
			return tx.Exec(sql).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.PublishedDocModel{})
		},
	}
}
