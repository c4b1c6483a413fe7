package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AtRiskMedia/tractstack-leads/internal/application/container"
	"github.com/AtRiskMedia/tractstack-leads/internal/infrastructure/observability/logging"
)

// PrivacyHandlers serves data-portability and erasure requests
type PrivacyHandlers struct {
	container *container.Container
	logger    *logging.ChanneledLogger
}

// NewPrivacyHandlers creates privacy handlers with injected dependencies
func NewPrivacyHandlers(c *container.Container) *PrivacyHandlers {
	return &PrivacyHandlers{container: c, logger: c.Logger}
}

// PostExport handles POST /api/v1/privacy/export
func (h *PrivacyHandlers) PostExport(c *gin.Context) {
	var req StorageEnvelope
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request format"})
		return
	}

	_, store := newPageStore(h.container, req)
	export := store.Export()
	h.logger.Privacy().Info("Visitor data exported",
		"visitorId", logging.MaskID(export.Profile.VisitorID),
		"visits", len(export.VisitHistory),
		"submissions", len(export.FormSubmissions))

	c.JSON(http.StatusOK, gin.H{"export": export})
}

// PostErase handles POST /api/v1/privacy/erase. The response lists every
// namespaced key the page must remove.
func (h *PrivacyHandlers) PostErase(c *gin.Context) {
	var req StorageEnvelope
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request format"})
		return
	}

	sync, store := newPageStore(h.container, req)
	store.Clear()
	changes := sync.Changes()
	changes.Removed = h.container.Keys.All()

	c.JSON(http.StatusOK, gin.H{
		"cleared": true,
		"storage": changes,
	})
}
