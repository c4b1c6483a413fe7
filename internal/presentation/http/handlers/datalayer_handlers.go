package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AtRiskMedia/tractstack-leads/internal/infrastructure/messaging"
	"github.com/AtRiskMedia/tractstack-leads/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/tractstack-leads/internal/infrastructure/security"
)

// DataLayerHandlers upgrades page connections for data-layer pushes
type DataLayerHandlers struct {
	hub    *messaging.DataLayerHub
	logger *logging.ChanneledLogger
}

// NewDataLayerHandlers creates data layer handlers with injected dependencies
func NewDataLayerHandlers(hub *messaging.DataLayerHub, logger *logging.ChanneledLogger) *DataLayerHandlers {
	return &DataLayerHandlers{hub: hub, logger: logger}
}

// GetStream handles GET /api/v1/datalayer/ws?visitorId=
func (h *DataLayerHandlers) GetStream(c *gin.Context) {
	visitorID := c.Query("visitorId")
	if !strings.HasPrefix(visitorID, security.VisitorIDPrefix) || len(visitorID) > 64 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "valid visitorId is required"})
		return
	}

	if err := h.hub.Serve(c.Writer, c.Request, visitorID); err != nil {
		h.logger.DataLayer().Warn("Data layer upgrade failed", "visitorId", logging.MaskID(visitorID), "error", err.Error())
	}
}
