package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"chat-relay/internal/chat"
	"chat-relay/internal/common"
	"chat-relay/internal/httpapi/middleware"
	"chat-relay/internal/metrics"
	"chat-relay/internal/notify"
)

type Handler struct {
	Chat    *chat.Service
	Sub     notify.Subscriber
	Metrics *metrics.Metrics
	Log     zerolog.Logger
}

func NewHandler(svc *chat.Service, sub notify.Subscriber, m *metrics.Metrics, log zerolog.Logger) *Handler {
	return &Handler{
		Chat:    svc,
		Sub:     sub,
		Metrics: m,
		Log:     log.With().Str("component", "httpapi").Logger(),
	}
}

func (h *Handler) Ping(c *gin.Context) {
	common.Ok(c, gin.H{"pong": true})
}

func identity(c *gin.Context) (string, string, bool) {
	return middleware.Identity(c)
}

// failFromError maps service errors onto the response envelope.
func failFromError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, chat.ErrValidation):
		common.Fail(c, http.StatusBadRequest, 40001, err.Error())
	case errors.Is(err, chat.ErrUnauthenticated):
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
	case errors.Is(err, chat.ErrForbidden):
		common.Fail(c, http.StatusForbidden, 40301, "tenant has no access to this bot")
	case errors.Is(err, chat.ErrBotNotFound):
		common.Fail(c, http.StatusNotFound, 40401, "bot not found")
	case errors.Is(err, chat.ErrSessionNotFound):
		common.Fail(c, http.StatusNotFound, 40402, "session not found")
	case errors.Is(err, chat.ErrPlaceholderCreate):
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to queue message for processing")
	default:
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
	}
}
