package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"chat-relay/internal/common"
)

// SessionEvents streams message inserts and updates for one session as SSE.
// The stream is advisory: clients that lose it fall back to polling Status,
// so any write error here just ends the connection.
func (h *Handler) SessionEvents(c *gin.Context) {
	userID, _, okk := identity(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	sessionID := c.Param("session_id")
	if _, err := h.Chat.GetSession(c.Request.Context(), userID, sessionID); err != nil {
		failFromError(c, err)
		return
	}

	events, cancel := h.Sub.Subscribe(c.Request.Context(), sessionID)
	defer cancel()

	h.Metrics.SubscriberConnected()
	defer h.Metrics.SubscriberDisconnected()

	// SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // helpful if behind nginx
	c.Status(http.StatusOK)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		fmt.Fprintf(c.Writer, "event: error\ndata: flusher not supported\n\n")
		return
	}

	writeJSON := func(event string, payload any) bool {
		b, err := json.Marshal(payload)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, b); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	// heartbeat ticker (keeps connections alive through proxies)
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !writeJSON("ping", gin.H{"type": "ping", "ts": time.Now().Unix()}) {
				return
			}
		case ev, open := <-events:
			if !open {
				return
			}
			if !writeJSON(string(ev.Type), ev) {
				return
			}
		}
	}
}
