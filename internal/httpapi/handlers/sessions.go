package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-relay/internal/chat"
	"chat-relay/internal/common"
)

type createSessionReq struct {
	BotID      string `json:"bot_id" binding:"required"`
	ExternalID string `json:"external_id"`
}

type sessionResp struct {
	ID            string `json:"id"`
	BotID         string `json:"bot_id"`
	ExternalID    string `json:"external_id,omitempty"`
	Title         string `json:"title"`
	Status        string `json:"status"`
	CreatedAt     int64  `json:"created_at"`
	LastMessageAt int64  `json:"last_message_at"`
}

func toSessionResp(s *chat.Session) sessionResp {
	resp := sessionResp{
		ID:            s.ID,
		BotID:         s.BotID,
		Title:         s.Title,
		Status:        string(s.Status),
		CreatedAt:     s.CreatedAt.Unix(),
		LastMessageAt: s.LastMessageAt.Unix(),
	}
	if s.ExternalID != nil {
		resp.ExternalID = *s.ExternalID
	}
	return resp
}

// CreateSession resolves a conversation for the caller. Repeating the call
// with the same external id returns the existing session.
func (h *Handler) CreateSession(c *gin.Context) {
	userID, tenantID, ok := identity(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req createSessionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 40001, "bot_id is required")
		return
	}

	session, err := h.Chat.ResolveSession(c.Request.Context(), chat.ResolveParams{
		TenantID:   tenantID,
		UserID:     userID,
		BotID:      req.BotID,
		ExternalID: req.ExternalID,
	})
	if err != nil {
		failFromError(c, err)
		return
	}
	common.Ok(c, toSessionResp(session))
}

func (h *Handler) GetSession(c *gin.Context) {
	userID, _, ok := identity(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	session, err := h.Chat.GetSession(c.Request.Context(), userID, c.Param("session_id"))
	if err != nil {
		failFromError(c, err)
		return
	}
	common.Ok(c, toSessionResp(session))
}

func (h *Handler) DeleteSession(c *gin.Context) {
	userID, _, ok := identity(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	if err := h.Chat.DeleteSession(c.Request.Context(), userID, c.Param("session_id")); err != nil {
		failFromError(c, err)
		return
	}
	common.Ok(c, gin.H{"deleted": true})
}

type renameSessionReq struct {
	Title string `json:"title" binding:"required"`
}

func (h *Handler) RenameSession(c *gin.Context) {
	userID, _, ok := identity(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req renameSessionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 40001, "title is required")
		return
	}

	if err := h.Chat.RenameSession(c.Request.Context(), userID, c.Param("session_id"), req.Title); err != nil {
		failFromError(c, err)
		return
	}
	common.Ok(c, gin.H{"updated": true})
}
