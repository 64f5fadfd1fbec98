package bus

import (
	"context"

	"github.com/google/uuid"
)

// JobEvent is the cross-replica form of a queue lifecycle transition. The
// SSE shape shown to subscribers is rebuilt on the receiving side, so the
// wire format stays independent of any one replica's channel layout.
type JobEvent struct {
	JobID   uuid.UUID      `json:"job_id"`
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Bus fans job events out across replicas. Single-node deployments run
// without one; the hub then only sees locally produced events.
type Bus interface {
	PublishJobEvent(ctx context.Context, ev JobEvent) error
	StartForwarder(ctx context.Context, onEvent func(ev JobEvent)) error
	Close() error
}
