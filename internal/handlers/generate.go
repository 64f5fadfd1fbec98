package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/reelworks/sportsreel-backend/internal/repos"
	"github.com/reelworks/sportsreel-backend/internal/services"
)

type GenerateHandler struct {
	queue       services.GenerationQueue
	athleteRepo repos.AthleteRepo
	jobRepo     repos.VideoJobRepo
	events      *services.JobEventBridge
}

func NewGenerateHandler(queue services.GenerationQueue, athleteRepo repos.AthleteRepo, jobRepo repos.VideoJobRepo, events *services.JobEventBridge) *GenerateHandler {
	return &GenerateHandler{
		queue:       queue,
		athleteRepo: athleteRepo,
		jobRepo:     jobRepo,
		events:      events,
	}
}

// Generate enqueues a reel job. The athlete profile is denormalized into the
// request at this point, so later athlete edits do not affect queued jobs.
func (gh *GenerateHandler) Generate(c *gin.Context) {
	var req struct {
		AthleteID          uuid.UUID `json:"athlete_id"`
		DurationSeconds    int       `json:"duration_seconds"`
		Voice              string    `json:"voice"`
		Quality            string    `json:"quality"`
		Subtitles          bool      `json:"subtitles"`
		CustomInstructions string    `json:"custom_instructions"`
		Priority           int       `json:"priority"`
		DelaySeconds       int       `json:"delay_seconds"`
		MaxAttempts        int       `json:"max_attempts"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.AthleteID == uuid.Nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "athlete_id is required"})
		return
	}
	if req.DurationSeconds <= 0 {
		req.DurationSeconds = 30
	}
	if req.DurationSeconds > 180 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "duration_seconds must be at most 180"})
		return
	}

	athletes, err := gh.athleteRepo.GetByIDs(c.Request.Context(), nil, []uuid.UUID{req.AthleteID})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load athlete"})
		return
	}
	if len(athletes) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "athlete not found"})
		return
	}
	athlete := athletes[0]

	var achievements, imageURLs []string
	_ = json.Unmarshal(athlete.Achievements, &achievements)
	_ = json.Unmarshal(athlete.ImageURLs, &imageURLs)

	genReq := services.GenerationRequest{
		AthleteID:          athlete.ID,
		AthleteName:        athlete.Name,
		Sport:              athlete.Sport,
		Biography:          athlete.Biography,
		Achievements:       achievements,
		ImageURLs:          imageURLs,
		DurationSeconds:    req.DurationSeconds,
		Voice:              req.Voice,
		Quality:            req.Quality,
		Subtitles:          req.Subtitles,
		CustomInstructions: req.CustomInstructions,
	}

	var opts []services.AddJobOption
	if req.DelaySeconds > 0 {
		opts = append(opts, services.WithInitialDelay(time.Duration(req.DelaySeconds)*time.Second))
	}
	if req.MaxAttempts > 0 {
		opts = append(opts, services.WithMaxAttempts(req.MaxAttempts))
	}

	jobID, err := gh.queue.AddJob(c.Request.Context(), genReq, req.Priority, opts...)
	if err != nil {
		if errors.Is(err, services.ErrQueueClosed) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queue is shutting down"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue job"})
		return
	}
	if gh.events != nil {
		gh.events.JobQueued(jobID, req.Priority)
	}

	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID, "status": "pending"})
}

// GetJob reports status from the live queue entry when one exists, else from
// the durable record.
func (gh *GenerateHandler) GetJob(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}
	gh.respondJobStatus(c, id)
}

// GetStatus is the query-parameter form of GetJob.
func (gh *GenerateHandler) GetStatus(c *gin.Context) {
	id, ok := jobIDFromQuery(c)
	if !ok {
		return
	}
	gh.respondJobStatus(c, id)
}

func jobIDFromQuery(c *gin.Context) (uuid.UUID, bool) {
	raw := c.Query("jobId")
	if raw == "" {
		raw = c.Query("job_id")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return uuid.Nil, false
	}
	return id, true
}

func (gh *GenerateHandler) respondJobStatus(c *gin.Context, id uuid.UUID) {
	if view, ok := gh.queue.GetJob(id); ok {
		c.JSON(http.StatusOK, gin.H{
			"job_id":   view.ID,
			"status":   view.DerivedStatus(),
			"priority": view.Priority,
			"attempts": view.Attempts,
			"progress": view.Progress,
			"error":    view.LastError,
		})
		return
	}

	record, err := gh.jobRepo.GetByID(c.Request.Context(), nil, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load job"})
		return
	}
	if record == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, record)
}

func (gh *GenerateHandler) ListJobs(c *gin.Context) {
	priority, _ := strconv.Atoi(c.DefaultQuery("priority", "0"))
	views := gh.queue.GetJobs(services.QueueJobFilter{
		Status:   c.Query("status"),
		Priority: priority,
	})
	c.JSON(http.StatusOK, gin.H{"jobs": views})
}

// CancelJob removes a queued job. Active jobs cannot be cancelled; callers
// get a conflict and should wait for a terminal event instead.
func (gh *GenerateHandler) CancelJob(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}
	gh.cancel(c, id)
}

// Cancel is the query-parameter form of CancelJob.
func (gh *GenerateHandler) Cancel(c *gin.Context) {
	id, ok := jobIDFromQuery(c)
	if !ok {
		return
	}
	gh.cancel(c, id)
}

func (gh *GenerateHandler) cancel(c *gin.Context, id uuid.UUID) {
	if err := gh.queue.RemoveJob(c.Request.Context(), id); err != nil {
		switch {
		case errors.Is(err, services.ErrJobActive):
			c.JSON(http.StatusConflict, gin.H{"error": "job is currently processing"})
		case errors.Is(err, services.ErrJobNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found in queue"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel job"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": "true"})
}

func (gh *GenerateHandler) Metrics(c *gin.Context) {
	c.JSON(http.StatusOK, gh.queue.Metrics())
}

func (gh *GenerateHandler) Pause(c *gin.Context) {
	gh.queue.Pause()
	c.JSON(http.StatusOK, gin.H{"success": "true"})
}

func (gh *GenerateHandler) Resume(c *gin.Context) {
	gh.queue.Resume()
	c.JSON(http.StatusOK, gin.H{"success": "true"})
}

func (gh *GenerateHandler) Clear(c *gin.Context) {
	removed, err := gh.queue.Clear(c.Request.Context())
	if err != nil {
		if errors.Is(err, services.ErrJobsActive) {
			c.JSON(http.StatusConflict, gin.H{"error": "queue has active jobs"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to clear queue"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}
