package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Canvas is a persisted workspace. The live graph is held in memory; saved
// states are WorkflowVersion rows.
type Canvas struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	Name      string         `gorm:"not null" json:"name" validate:"required,max=200"`
	Locked    bool           `gorm:"not null;default:false" json:"locked"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}
