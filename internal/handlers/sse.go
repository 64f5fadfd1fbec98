package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/reelworks/sportsreel-backend/internal/sse"
)

type SSEHandler struct {
	hub *sse.SSEHub
}

func NewSSEHandler(hub *sse.SSEHub) *SSEHandler {
	return &SSEHandler{hub: hub}
}

// Stream opens an event stream. Subscriptions come from query params:
// ?job_id=<uuid> for one job's events, ?channels=queue for everything.
func (sh *SSEHandler) Stream(c *gin.Context) {
	client := sh.hub.NewSSEClient()
	defer sh.hub.CloseClient(client)

	subscribed := false
	if raw := strings.TrimSpace(c.Query("job_id")); raw != "" {
		jobID, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job_id"})
			return
		}
		sh.hub.AddChannel(client, sse.JobChannel(jobID))
		subscribed = true
	}
	for _, ch := range strings.Split(c.Query("channels"), ",") {
		if ch = strings.TrimSpace(ch); ch != "" {
			sh.hub.AddChannel(client, ch)
			subscribed = true
		}
	}
	if !subscribed {
		sh.hub.AddChannel(client, sse.QueueChannel)
	}

	sh.hub.ServeHTTP(c.Writer, c.Request, client)
}
