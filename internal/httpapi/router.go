package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"chat-relay/internal/common"
	"chat-relay/internal/httpapi/handlers"
	"chat-relay/internal/httpapi/middleware"
)

func NewRouter(h *handlers.Handler, jwtSecret string, reg *prometheus.Registry, log zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery(log))
	r.Use(middleware.RequestID())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.GET("/ping", h.Ping)
	if reg != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api/v1")
	api.Use(middleware.AuthRequired(jwtSecret))

	// Chat (JWT required)
	api.POST("/chat/sessions", h.CreateSession)
	api.GET("/chat/sessions/:session_id", h.GetSession)
	api.DELETE("/chat/sessions/:session_id", h.DeleteSession)
	api.PUT("/chat/sessions/:session_id/title", h.RenameSession)
	api.GET("/chat/sessions/:session_id/messages", h.ListMessages)
	api.GET("/chat/sessions/:session_id/events", h.SessionEvents)
	api.POST("/chat/messages", h.SendMessage)
	api.GET("/chat/status", h.Status)

	return r
}
