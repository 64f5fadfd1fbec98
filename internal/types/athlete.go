package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Athlete struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Name         string         `gorm:"column:name;not null;index" json:"name"`
	Sport        string         `gorm:"column:sport;not null;index" json:"sport"`
	Biography    string         `gorm:"column:biography;type:text" json:"biography"`
	Achievements datatypes.JSON `gorm:"type:jsonb;column:achievements" json:"achievements"`
	ImageURLs    datatypes.JSON `gorm:"type:jsonb;column:image_urls" json:"image_urls"`
	CreatedAt    time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"not null;default:now();index" json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Athlete) TableName() string { return "athlete" }
