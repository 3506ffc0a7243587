package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/genflow-studio/engine/internal/models"
	appErr "github.com/genflow-studio/engine/pkg/errors"
)

type CanvasRepository interface {
	BaseRepository[models.Canvas]
	List(ctx context.Context, limit int) ([]models.Canvas, error)
	SetLocked(ctx context.Context, id uuid.UUID, locked bool) error
}

type canvasRepository struct {
	BaseRepository[models.Canvas]
	db *gorm.DB
}

func NewCanvasRepository(db *gorm.DB) CanvasRepository {
	return &canvasRepository{BaseRepository: NewBaseRepository[models.Canvas](db, "canvas"), db: db}
}

func (r *canvasRepository) List(ctx context.Context, limit int) ([]models.Canvas, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []models.Canvas
	if err := r.db.WithContext(ctx).Order("updated_at DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "list canvases failed")
	}
	return out, nil
}

func (r *canvasRepository) SetLocked(ctx context.Context, id uuid.UUID, locked bool) error {
	res := r.db.WithContext(ctx).Model(&models.Canvas{}).Where("id = ?", id).Update("locked", locked)
	if res.Error != nil {
		return appErr.Wrap(res.Error, appErr.CodeInternal, "update canvas lock failed")
	}
	if res.RowsAffected == 0 {
		return appErr.New(appErr.CodeNotFound, "canvas not found")
	}
	return nil
}
