// Package handler serves the agent status and control endpoints.
package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"cfgkeeper/internal/agent/scheduler"
	"cfgkeeper/internal/types"
	"cfgkeeper/internal/version"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Runner is the part of the scheduler exposed over HTTP
type Runner interface {
	RunOnce(ctx context.Context) (*types.CycleReport, error)
	Trigger() bool
	Status() scheduler.Status
}

// HealthChecker reports a dependency that cannot do its job
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Handler serves /healthz, /v1/status and /v1/poll
type Handler struct {
	runner Runner
	health HealthChecker
	logger *zap.Logger
	engine *gin.Engine
	server *http.Server
	wg     sync.WaitGroup
}

// NewHandler creates the handler; address is the listen address. health
// may be nil.
func NewHandler(address string, runner Runner, health HealthChecker, logger *zap.Logger) *Handler {
	logger = logger.Named("handler")

	h := &Handler{
		runner: runner,
		health: health,
		logger: logger,
		engine: gin.New(),
	}

	h.engine.Use(requestID(), accessLog(logger), recovery(logger))
	h.engine.GET("/healthz", h.healthCheck)

	v1 := h.engine.Group("/v1")
	v1.GET("/status", h.status)
	v1.POST("/poll", h.poll)

	h.server = &http.Server{
		Addr:              address,
		Handler:           h.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return h
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	h.engine.ServeHTTP(w, req)
}

// Start starts the HTTP server
func (h *Handler) Start(_ context.Context) error {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.logger.Info("Status server listening", zap.String("address", h.server.Addr))
		if err := h.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop stops the HTTP server
func (h *Handler) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := h.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	h.wg.Wait()
	return nil
}

func (h *Handler) healthCheck(c *gin.Context) {
	if h.health != nil {
		if err := h.health.Health(c.Request.Context()); err != nil {
			newResponse(c).Error(http.StatusServiceUnavailable, err)
			return
		}
	}
	newResponse(c).Success(gin.H{
		"status":  "healthy",
		"version": version.GetInfo().Version,
	})
}

func (h *Handler) status(c *gin.Context) {
	newResponse(c).Success(h.runner.Status())
}

// poll runs a cycle and returns its report. With ?async=true it only
// queues a run on the background loop.
func (h *Handler) poll(c *gin.Context) {
	resp := newResponse(c)

	if c.Query("async") == "true" {
		queued := h.runner.Trigger()
		c.JSON(http.StatusAccepted, Response{
			Code:      http.StatusAccepted,
			Message:   "accepted",
			Data:      gin.H{"queued": queued},
			RequestID: c.GetString("request_id"),
			Timestamp: time.Now(),
		})
		return
	}

	report, err := h.runner.RunOnce(c.Request.Context())
	if err != nil {
		h.logger.Error("Manual cycle failed", zap.Error(err))
		resp.Error(http.StatusBadGateway, err)
		return
	}
	if report == nil {
		resp.Success(gin.H{"due": false})
		return
	}
	resp.Success(gin.H{"due": true, "report": report})
}
