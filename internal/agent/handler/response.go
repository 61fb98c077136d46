package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Response is the envelope of every endpoint
type Response struct {
	Code      int       `json:"code"`
	Message   string    `json:"message"`
	Data      any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

type responder struct {
	ctx *gin.Context
}

func newResponse(c *gin.Context) *responder {
	return &responder{ctx: c}
}

// Success sends a 200 response
func (r *responder) Success(data any) {
	r.ctx.JSON(http.StatusOK, Response{
		Code:      http.StatusOK,
		Message:   "success",
		Data:      data,
		RequestID: r.ctx.GetString("request_id"),
		Timestamp: time.Now(),
	})
}

// Error sends an error response
func (r *responder) Error(status int, err error) {
	r.ctx.JSON(status, Response{
		Code:      status,
		Message:   "error",
		Error:     err.Error(),
		RequestID: r.ctx.GetString("request_id"),
		Timestamp: time.Now(),
	})
}
