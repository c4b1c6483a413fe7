package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AtRiskMedia/tractstack-leads/internal/application/container"
)

// HealthHandlers reports liveness and pipeline configuration
type HealthHandlers struct {
	container *container.Container
	started   time.Time
}

// NewHealthHandlers creates health handlers with injected dependencies
func NewHealthHandlers(c *container.Container) *HealthHandlers {
	return &HealthHandlers{container: c, started: time.Now()}
}

// GetHealth handles GET /health
func (h *HealthHandlers) GetHealth(c *gin.Context) {
	journal := "disabled"
	if h.container.DB != nil {
		journal = h.container.DB.Driver
		if err := h.container.DB.PingContext(c.Request.Context()); err != nil {
			journal = "unreachable"
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"uptime":        time.Since(h.started).Round(time.Second).String(),
		"sinks":         h.container.Dispatcher.Sinks(),
		"dispatchBound": h.container.Dispatcher.Bound().String(),
		"journal":       journal,
	})
}
