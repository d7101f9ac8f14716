package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"chat-relay/internal/chat"
	"chat-relay/internal/common"
)

type sendMessageReq struct {
	SessionID string `json:"session_id" binding:"required"`
	Text      string `json:"text" binding:"required"`
	BotName   string `json:"bot_name"`
	MessageID string `json:"message_id"`
}

// SendMessage accepts a chat turn and returns 202 immediately. The agent
// call runs detached; the request id in the ACK is the handle for both the
// push channel and the status endpoint.
func (h *Handler) SendMessage(c *gin.Context) {
	userID, _, ok := identity(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 40001, "session_id and text are required")
		return
	}

	ack, err := h.Chat.Submit(c.Request.Context(), chat.SubmitParams{
		SessionID: req.SessionID,
		Text:      req.Text,
		UserID:    userID,
		BotName:   req.BotName,
		MessageID: req.MessageID,
	})
	if err != nil {
		h.Metrics.Submit("error")
		failFromError(c, err)
		return
	}
	h.Metrics.Submit("accepted")
	common.Accepted(c, ack)
}

// Status reports the current state of a submitted request. Unknown request
// ids read as queued so pollers keep going instead of giving up on a race.
func (h *Handler) Status(c *gin.Context) {
	if _, _, ok := identity(c); !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	result, err := h.Chat.Status(c.Request.Context(), c.Query("request_id"))
	if err != nil {
		failFromError(c, err)
		return
	}
	common.Ok(c, result)
}

type messageResp struct {
	ID        string        `json:"id"`
	Role      string        `json:"role"`
	Content   string        `json:"content"`
	Status    string        `json:"status"`
	RequestID string        `json:"request_id,omitempty"`
	ErrorText *string       `json:"error_text,omitempty"`
	LatencyMS *int64        `json:"latency_ms,omitempty"`
	Metadata  chat.Metadata `json:"metadata,omitempty"`
	CreatedAt int64         `json:"created_at"`
}

func (h *Handler) ListMessages(c *gin.Context) {
	userID, _, ok := identity(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	msgs, err := h.Chat.ListMessages(c.Request.Context(), userID, c.Param("session_id"), limit)
	if err != nil {
		failFromError(c, err)
		return
	}

	out := make([]messageResp, 0, len(msgs))
	for _, m := range msgs {
		resp := messageResp{
			ID:        m.ID,
			Role:      string(m.Role),
			Content:   m.Content,
			Status:    string(m.Status),
			ErrorText: m.ErrorText,
			LatencyMS: m.LatencyMS,
			Metadata:  m.Metadata,
			CreatedAt: m.CreatedAt.Unix(),
		}
		if m.RequestID != nil {
			resp.RequestID = *m.RequestID
		}
		out = append(out, resp)
	}
	common.Ok(c, gin.H{"messages": out})
}
