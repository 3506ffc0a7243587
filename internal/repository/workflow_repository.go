package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/genflow-studio/engine/internal/models"
	appErr "github.com/genflow-studio/engine/pkg/errors"
)

type WorkflowRepository interface {
	BaseRepository[models.WorkflowVersion]
	GetCurrent(ctx context.Context, canvasID uuid.UUID, dest *models.WorkflowVersion) error
	GetByVersion(ctx context.Context, canvasID uuid.UUID, version int, dest *models.WorkflowVersion) error
	ListByCanvas(ctx context.Context, canvasID uuid.UUID) ([]models.WorkflowVersion, error)
	// Append stores v as the next version of its canvas and marks it current.
	Append(ctx context.Context, v *models.WorkflowVersion) error
	SetCurrent(ctx context.Context, canvasID uuid.UUID, version int) error
}

type workflowRepository struct {
	BaseRepository[models.WorkflowVersion]
	db *gorm.DB
}

func NewWorkflowRepository(db *gorm.DB) WorkflowRepository {
	return &workflowRepository{BaseRepository: NewBaseRepository[models.WorkflowVersion](db, "workflow version"), db: db}
}

func (r *workflowRepository) GetCurrent(ctx context.Context, canvasID uuid.UUID, dest *models.WorkflowVersion) error {
	if err := r.db.WithContext(ctx).Where("canvas_id = ? AND is_current = true", canvasID).First(dest).Error; err != nil {
		return notFoundOr(err, "no current workflow found", "get current workflow failed")
	}
	return nil
}

func (r *workflowRepository) GetByVersion(ctx context.Context, canvasID uuid.UUID, version int, dest *models.WorkflowVersion) error {
	if err := r.db.WithContext(ctx).Where("canvas_id = ? AND version = ?", canvasID, version).First(dest).Error; err != nil {
		return notFoundOr(err, "workflow version not found", "get workflow version failed")
	}
	return nil
}

func (r *workflowRepository) ListByCanvas(ctx context.Context, canvasID uuid.UUID) ([]models.WorkflowVersion, error) {
	var out []models.WorkflowVersion
	err := r.db.WithContext(ctx).
		Select("id", "canvas_id", "version", "checksum", "node_count", "edge_count", "source", "is_current", "created_at", "updated_at").
		Where("canvas_id = ?", canvasID).Order("version DESC").Find(&out).Error
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "list workflow versions failed")
	}
	return out, nil
}

func (r *workflowRepository) Append(ctx context.Context, v *models.WorkflowVersion) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var latest int
		if err := tx.Model(&models.WorkflowVersion{}).Where("canvas_id = ?", v.CanvasID).
			Select("COALESCE(MAX(version), 0)").Scan(&latest).Error; err != nil {
			return appErr.Wrap(err, appErr.CodeInternal, "read latest workflow version failed")
		}
		if err := tx.Model(&models.WorkflowVersion{}).Where("canvas_id = ? AND is_current = true", v.CanvasID).
			Update("is_current", false).Error; err != nil {
			return appErr.Wrap(err, appErr.CodeInternal, "clear current flag failed")
		}
		v.Version = latest + 1
		v.IsCurrent = true
		if err := tx.Create(v).Error; err != nil {
			return appErr.Wrap(err, appErr.CodeInternal, "create workflow version failed")
		}
		return nil
	})
	if err != nil {
		if appErr.CodeOf(err) != appErr.CodeUnknown {
			return err
		}
		return appErr.Wrap(err, appErr.CodeInternal, "append workflow version failed")
	}
	return nil
}

// SetCurrent marks version as current and clears the previous flag in one transaction.
func (r *workflowRepository) SetCurrent(ctx context.Context, canvasID uuid.UUID, version int) error {
	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return appErr.Wrap(tx.Error, appErr.CodeInternal, "begin transaction failed")
	}

	if err := tx.Model(&models.WorkflowVersion{}).Where("canvas_id = ? AND is_current = true", canvasID).Update("is_current", false).Error; err != nil {
		tx.Rollback()
		return appErr.Wrap(err, appErr.CodeInternal, "clear current flag failed")
	}

	res := tx.Model(&models.WorkflowVersion{}).Where("canvas_id = ? AND version = ?", canvasID, version).Update("is_current", true)
	if res.Error != nil {
		tx.Rollback()
		return appErr.Wrap(res.Error, appErr.CodeInternal, "set current flag failed")
	}
	if res.RowsAffected == 0 {
		tx.Rollback()
		return appErr.New(appErr.CodeNotFound, "workflow version not found")
	}

	if err := tx.Commit().Error; err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "commit transaction failed")
	}
	return nil
}
