package repository

import (
	"gorm.io/gorm"

	"github.com/genflow-studio/engine/internal/models"
)

// Models lists every persisted model.
func Models() []any {
	return []any{
		&models.Canvas{},
		&models.WorkflowVersion{},
	}
}

// Migrate creates or updates the schema.
func Migrate(db *gorm.DB) error {
	steps := []func(*gorm.DB) error{
		enableUUIDExtension,
		func(db *gorm.DB) error { return db.AutoMigrate(Models()...) },
		addWorkflowChecksumIndex,
	}
	for _, step := range steps {
		if err := step(db); err != nil {
			return err
		}
	}
	return nil
}

// gen_random_uuid needs pgcrypto before PostgreSQL 13.
func enableUUIDExtension(db *gorm.DB) error {
	return db.Exec(`CREATE EXTENSION IF NOT EXISTS "pgcrypto"`).Error
}

func addWorkflowChecksumIndex(db *gorm.DB) error {
	return db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_workflow_versions_canvas_checksum
		ON workflow_versions(canvas_id, checksum)
		WHERE deleted_at IS NULL
	`).Error
}
