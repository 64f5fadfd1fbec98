package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	VideoJobStatusPending    = "pending"
	VideoJobStatusProcessing = "processing"
	VideoJobStatusCompleted  = "completed"
	VideoJobStatusFailed     = "failed"
	VideoJobStatusCancelled  = "cancelled"
)

// VideoJob is the durable record for one reel generation request. The row
// survives the in-memory queue entry: cancellation and failure are status
// transitions, never row deletion.
type VideoJob struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	AthleteID       uuid.UUID      `gorm:"type:uuid;not null;index" json:"athlete_id"`
	Status          string         `gorm:"column:status;not null;index" json:"status"`
	ScriptGenerated bool           `gorm:"column:script_generated;not null;default:false" json:"script_generated"`
	AudioGenerated  bool           `gorm:"column:audio_generated;not null;default:false" json:"audio_generated"`
	VideoGenerated  bool           `gorm:"column:video_generated;not null;default:false" json:"video_generated"`
	ScriptText      string         `gorm:"column:script_text;type:text" json:"script_text"`
	Title           string         `gorm:"column:title" json:"title"`
	Description     string         `gorm:"column:description;type:text" json:"description"`
	Hashtags        datatypes.JSON `gorm:"type:jsonb;column:hashtags" json:"hashtags"`
	VideoURL        string         `gorm:"column:video_url" json:"video_url"`
	ThumbnailURL    string         `gorm:"column:thumbnail_url" json:"thumbnail_url"`
	ErrorMessage    string         `gorm:"column:error_message;type:text" json:"error_message"`
	RetryCount      int            `gorm:"column:retry_count;not null;default:0" json:"retry_count"`
	TokensUsed      int            `gorm:"column:tokens_used;not null;default:0" json:"tokens_used"`
	StartedAt       *time.Time     `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt     *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt       time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"not null;default:now();index" json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (VideoJob) TableName() string { return "video_job" }

func (j *VideoJob) Terminal() bool {
	switch j.Status {
	case VideoJobStatusCompleted, VideoJobStatusFailed, VideoJobStatusCancelled:
		return true
	default:
		return false
	}
}
