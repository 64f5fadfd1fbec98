package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/reelworks/sportsreel-backend/internal/logger"
	"github.com/reelworks/sportsreel-backend/internal/sse"
	"github.com/reelworks/sportsreel-backend/internal/sse/bus"
)

// JobEventBridge turns queue lifecycle callbacks into SSE broadcasts. Every
// event goes to the per-job channel and the shared queue channel; when a bus
// is configured the event is also published for other replicas.
type JobEventBridge struct {
	log *logger.Logger
	hub *sse.SSEHub
	bus bus.Bus // nil when no REDIS_ADDR configured
}

func NewJobEventBridge(log *logger.Logger, hub *sse.SSEHub, eventBus bus.Bus) *JobEventBridge {
	return &JobEventBridge{
		log: log.With("service", "JobEventBridge"),
		hub: hub,
		bus: eventBus,
	}
}

// StartForwarding wires remote job events back into the local hub, rebuilt
// into the same per-job and queue-wide channels a local transition uses.
func (b *JobEventBridge) StartForwarding(ctx context.Context) error {
	if b.bus == nil {
		return nil
	}
	return b.bus.StartForwarder(ctx, func(ev bus.JobEvent) {
		b.broadcastLocal(ev.JobID, sse.SSEEvent(ev.Event), ev.Payload)
	})
}

func (b *JobEventBridge) JobQueued(jobID uuid.UUID, priority int) {
	b.emit(jobID, sse.SSEEventJobQueued, map[string]any{
		"job_id":   jobID,
		"priority": priority,
	})
}

func (b *JobEventBridge) JobStarted(jobID uuid.UUID, attempt int) {
	b.emit(jobID, sse.SSEEventJobStarted, map[string]any{
		"job_id":  jobID,
		"attempt": attempt,
	})
}

func (b *JobEventBridge) JobProgress(jobID uuid.UUID, progress StageProgress) {
	b.emit(jobID, sse.SSEEventJobProgress, map[string]any{
		"job_id":   jobID,
		"progress": progress,
	})
}

func (b *JobEventBridge) JobCompleted(jobID uuid.UUID, result ReelResult) {
	b.emit(jobID, sse.SSEEventJobCompleted, map[string]any{
		"job_id":        jobID,
		"video_url":     result.VideoURL,
		"thumbnail_url": result.ThumbnailURL,
		"title":         result.Title,
	})
}

func (b *JobEventBridge) JobFailed(jobID uuid.UUID, errMsg string, willRetry bool) {
	event := sse.SSEEventJobFailed
	if willRetry {
		event = sse.SSEEventJobRetrying
	}
	b.emit(jobID, event, map[string]any{
		"job_id":     jobID,
		"error":      errMsg,
		"will_retry": willRetry,
	})
}

func (b *JobEventBridge) emit(jobID uuid.UUID, event sse.SSEEvent, data map[string]any) {
	b.broadcastLocal(jobID, event, data)
	if b.bus == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ev := bus.JobEvent{JobID: jobID, Event: string(event), Payload: data}
	if err := b.bus.PublishJobEvent(ctx, ev); err != nil {
		b.log.Warn("Failed to publish job event", "job_id", jobID, "event", event, "error", err)
	}
}

func (b *JobEventBridge) broadcastLocal(jobID uuid.UUID, event sse.SSEEvent, data map[string]any) {
	for _, channel := range []string{sse.JobChannel(jobID), sse.QueueChannel} {
		b.hub.Broadcast(sse.SSEMessage{Channel: channel, Event: event, Data: data})
	}
}

var _ JobListener = (*JobEventBridge)(nil)
