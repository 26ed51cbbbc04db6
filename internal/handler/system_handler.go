package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/wa-attendance-api/internal/models"
	"github.com/noah-isme/wa-attendance-api/pkg/response"
)

// MetricsSource exposes Prometheus and JSON views of runtime metrics.
type MetricsSource interface {
	Handler() http.Handler
	Snapshot() models.SystemMetrics
}

// ReadinessCheck reports whether a dependency is reachable.
type ReadinessCheck func(ctx context.Context) error

// SystemHandler exposes health and observability endpoints.
type SystemHandler struct {
	metrics MetricsSource
	checks  map[string]ReadinessCheck
}

// NewSystemHandler constructs a SystemHandler.
func NewSystemHandler(metrics MetricsSource, checks map[string]ReadinessCheck) *SystemHandler {
	return &SystemHandler{metrics: metrics, checks: checks}
}

// Prometheus serves the Prometheus metrics endpoint.
func (h *SystemHandler) Prometheus(c *gin.Context) {
	if h.metrics == nil {
		c.Status(http.StatusServiceUnavailable)
		return
	}
	h.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

// Health godoc
// @Summary Liveness probe
// @Tags System
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func (h *SystemHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready godoc
// @Summary Readiness probe
// @Tags System
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /ready [get]
func (h *SystemHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}
	state := "ready"
	if status != http.StatusOK {
		state = "unavailable"
	}
	c.JSON(status, gin.H{"status": state, "checks": results})
}

// Snapshot godoc
// @Summary Runtime metrics snapshot
// @Tags System
// @Produce json
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /system/metrics [get]
func (h *SystemHandler) Snapshot(c *gin.Context) {
	if h.metrics == nil {
		response.JSON(c, http.StatusOK, models.SystemMetrics{GeneratedAt: time.Now().UTC()}, nil)
		return
	}
	response.JSON(c, http.StatusOK, h.metrics.Snapshot(), nil)
}
