package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const streamHeartbeatInterval = 25 * time.Second

type streamEventPayload struct {
	Action string      `json:"action"`
	Poll   pollPayload `json:"poll"`
}

// handleStream holds the connection open and relays every committed poll
// mutation as a polls:update SSE event. Clients re-fetch on (re)connect; a
// missed event is recovered by that refresh, never replayed here.
func (h *httpHandler) handleStream(c *gin.Context) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"message": messageServerError})
		return
	}

	stream, cleanup := h.realtime.Subscribe(c.Request.Context())
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(streamHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case event, open := <-stream:
			if !open {
				return
			}
			data, err := json.Marshal(streamEventPayload{
				Action: event.Action,
				Poll:   buildPollPayload(event.Poll, nil),
			})
			if err != nil {
				h.logger.Error("failed to encode realtime event", zap.Error(err))
				continue
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", RealtimeEventPollsUpdate, data)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprintf(c.Writer, "event: %s\ndata: {}\n\n", realtimeEventHeartbeat)
			flusher.Flush()
		}
	}
}
