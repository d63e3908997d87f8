package migrations

import (
	"github.com/trahl-dev/trahl/internal/catalog/models"
	"gorm.io/gorm"
)

// AllMigrations returns every registered migration in order.
func AllMigrations() []Migration {
	return []Migration{
		migration001Schema(),
	}
}

// migration001Schema creates every catalog table via GORM AutoMigrate,
// in dependency order (scripts before libraries, libraries before
// variables/file_entries, file_entries before jobs).
func migration001Schema() Migration {
	return Migration{
		Version:     "001",
		Description: "create catalog schema",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(
				&models.Script{},
				&models.Library{},
				&models.Variable{},
				&models.Worker{},
				&models.FileEntry{},
				&models.Job{},
			)
		},
		Down: func(tx *gorm.DB) error {
			tables := []string{"jobs", "file_entries", "workers", "variables", "libraries", "scripts"}
			for _, t := range tables {
				if err := tx.Migrator().DropTable(t); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
