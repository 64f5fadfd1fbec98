package services

import (
	"time"

	"github.com/google/uuid"
)

// Stage is one ordered step of the reel generation workflow.
type Stage string

const (
	StageScript Stage = "script"
	StageSpeech Stage = "speech"
	StageImages Stage = "images"
	StageVideo  Stage = "video"
	StageUpload Stage = "upload"
	StageDone   Stage = "done"
)

// GenerationRequest is the immutable input for one reel. The athlete profile
// is denormalized at enqueue time so pipeline executions never re-read the
// athlete row mid-flight.
type GenerationRequest struct {
	AthleteID    uuid.UUID `json:"athlete_id"`
	AthleteName  string    `json:"athlete_name"`
	Sport        string    `json:"sport"`
	Biography    string    `json:"biography"`
	Achievements []string  `json:"achievements"`
	ImageURLs    []string  `json:"image_urls"`

	DurationSeconds    int    `json:"duration_seconds"`
	Voice              string `json:"voice"`
	Quality            string `json:"quality"` // "draft" | "standard" | "high"
	Subtitles          bool   `json:"subtitles"`
	CustomInstructions string `json:"custom_instructions"`
}

// StageProgress is one progress checkpoint emitted by the pipeline.
// Percent is monotonically non-decreasing within a single execution.
type StageProgress struct {
	Stage      Stage  `json:"stage"`
	Percent    int    `json:"percent"`
	Message    string `json:"message"`
	ETASeconds int    `json:"eta_seconds,omitempty"`
}

// ReelResult is the artifact bundle of a successful pipeline run.
type ReelResult struct {
	ScriptText   string   `json:"script_text"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Hashtags     []string `json:"hashtags"`
	VideoURL     string   `json:"video_url"`
	ThumbnailURL string   `json:"thumbnail_url"`
	TokensUsed   int      `json:"tokens_used"`
	DurationSec  float64  `json:"duration_sec"`
}

// QueueJobView is a read-only snapshot of an in-memory queue entry.
type QueueJobView struct {
	ID           uuid.UUID         `json:"id"`
	Request      GenerationRequest `json:"request"`
	Priority     int               `json:"priority"`
	Attempts     int               `json:"attempts"`
	MaxAttempts  int               `json:"max_attempts"`
	Active       bool              `json:"active"`
	Failed       bool              `json:"failed"`
	ScheduledFor *time.Time        `json:"scheduled_for,omitempty"`
	Progress     *StageProgress    `json:"progress,omitempty"`
	LastError    string            `json:"last_error,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// DerivedStatus buckets a queue entry for GetJobs filtering.
func (v QueueJobView) DerivedStatus() string {
	switch {
	case v.Active:
		return "active"
	case v.Failed:
		return "failed"
	default:
		return "pending"
	}
}

// QueueMetrics is the incremental counter snapshot exposed by the queue.
type QueueMetrics struct {
	TotalJobs       int     `json:"total_jobs"`
	Completed       int     `json:"completed"`
	Failed          int     `json:"failed"`
	Active          int     `json:"active"`
	Queued          int     `json:"queued"`
	AvgProcessingMS float64 `json:"avg_processing_ms"`
	SuccessRate     float64 `json:"success_rate"`
}

// JobListener receives queue lifecycle notifications. Delivery is
// at-least-once per transition; no cross-job ordering is guaranteed.
type JobListener interface {
	JobStarted(jobID uuid.UUID, attempt int)
	JobProgress(jobID uuid.UUID, progress StageProgress)
	JobCompleted(jobID uuid.UUID, result ReelResult)
	JobFailed(jobID uuid.UUID, errMsg string, willRetry bool)
}
