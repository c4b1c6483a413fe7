package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AtRiskMedia/tractstack-leads/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/tractstack-leads/internal/infrastructure/persistence/journal"
)

// ConversionHandlers exposes the outcome journal to operators
type ConversionHandlers struct {
	journal *journal.OutcomeRepository
	logger  *logging.ChanneledLogger
}

// NewConversionHandlers creates conversion handlers. A nil journal answers 503.
func NewConversionHandlers(j *journal.OutcomeRepository, logger *logging.ChanneledLogger) *ConversionHandlers {
	return &ConversionHandlers{journal: j, logger: logger}
}

// GetConversion handles GET /api/v1/conversions/:correlationId
func (h *ConversionHandlers) GetConversion(c *gin.Context) {
	if h.journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "outcome journal disabled"})
		return
	}

	correlationID := c.Param("correlationId")
	reports, err := h.journal.ListByCorrelation(c.Request.Context(), correlationID)
	if err != nil {
		h.logger.LogError(logging.ChannelDatabase, "list_outcomes", err, map[string]any{"correlationId": correlationID})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read journal"})
		return
	}
	if len(reports) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no dispatches recorded", "correlationId": correlationID})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"correlationId": correlationID,
		"dispatches":    reports,
	})
}
