package common

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response envelope shared by every endpoint.
type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

func Ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{Code: 0, Message: "ok", Data: data})
}

// Accepted is the ACK shape: work was queued, result arrives later.
func Accepted(c *gin.Context, data any) {
	c.JSON(http.StatusAccepted, Response{Code: 0, Message: "queued", Data: data})
}

func Fail(c *gin.Context, httpStatus int, code int, msg string) {
	c.JSON(httpStatus, Response{Code: code, Message: msg, Data: nil})
}
