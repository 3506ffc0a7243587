package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// WorkflowVersion stores one exported workflow document of a canvas.
type WorkflowVersion struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	CanvasID  uuid.UUID      `gorm:"type:uuid;not null;index:idx_workflow_canvas_version,unique" json:"canvas_id" validate:"required"`
	Version   int            `gorm:"not null;index:idx_workflow_canvas_version,unique" json:"version" validate:"gte=1"`
	Document  datatypes.JSON `gorm:"type:jsonb" json:"document" validate:"required"`
	Checksum  string         `gorm:"type:char(64);not null;index" json:"checksum"`
	NodeCount int            `gorm:"not null;default:0" json:"node_count"`
	EdgeCount int            `gorm:"not null;default:0" json:"edge_count"`
	Source    string         `gorm:"type:varchar(16);not null;default:'manual'" json:"source" validate:"oneof=manual autosave"`
	IsCurrent bool           `gorm:"not null;default:false;index" json:"is_current"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}
