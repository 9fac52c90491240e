package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/ocecdr/cdrpush/internal/repository"
	"gorm.io/gorm"
)

func createDocGraphTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_doc_graph_tables",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.DocVersionModel{}); err != nil {
				return err
			}
			if err := tx.AutoMigrate(&repository.DocLinkModel{}); err != nil {
				return err
			}
			indexes := []string{
				`CREATE INDEX IF NOT EXISTS idx_doc_versions_publishable ON doc_versions (doc_id, num) WHERE publishable`,
				`CREATE INDEX IF NOT EXISTS idx_doc_links_target ON doc_links (target_id)`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			if err := tx.Migrator().DropTable(&repository.DocLinkModel{}); err != nil {
				return err
			}
			return tx.Migrator().DropTable(&repository.DocVersionModel{})
		},
	}
}
