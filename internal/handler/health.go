package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger is satisfied by both repository drivers.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	Store        Pinger
	PingTimeout  time.Duration
	StartedAt    time.Time
	StorageLabel string
}

func (h *HealthHandler) Register(r *gin.Engine) {
	r.GET("/healthz", h.live)
	r.GET("/readyz", h.ready)
}

// @Summary Liveness probe
// @Tags health
// @Success 200 {object} map[string]any
// @Router /healthz [get]
func (h *HealthHandler) live(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if !h.StartedAt.IsZero() {
		body["uptime_seconds"] = int64(time.Since(h.StartedAt).Seconds())
	}
	c.JSON(http.StatusOK, body)
}

// @Summary Readiness probe, pings the strategy store
// @Tags health
// @Success 200 {object} map[string]any
// @Failure 503 {object} map[string]any
// @Router /readyz [get]
func (h *HealthHandler) ready(c *gin.Context) {
	label := h.StorageLabel
	if label == "" {
		label = "store"
	}
	if h.Store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", label: "missing"})
		return
	}
	timeout := h.PingTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
	defer cancel()

	start := time.Now()
	if err := h.Store.Ping(ctx); err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", label: "unreachable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":     "ready",
		label:        "ok",
		"latency_ms": time.Since(start).Milliseconds(),
	})
}
