// Package handlers provides HTTP request handlers for the presentation layer.
package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AtRiskMedia/tractstack-leads/internal/application/container"
	"github.com/AtRiskMedia/tractstack-leads/internal/application/services"
	"github.com/AtRiskMedia/tractstack-leads/internal/domain/entities/conversion"
	"github.com/AtRiskMedia/tractstack-leads/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/tractstack-leads/internal/infrastructure/storage"
)

const maxBodyBytes = 64 << 10

// StorageEnvelope carries the browser's namespaced localStorage entries.
// StorageDisabled is set by the page shim when localStorage threw.
type StorageEnvelope struct {
	Storage         map[string]string `json:"storage"`
	StorageDisabled bool              `json:"storageDisabled"`
}

// PageRequest is the common body of every tracking call
type PageRequest struct {
	StorageEnvelope
	Page     services.PageLoad `json:"page"`
	Title    string            `json:"title,omitempty"`
	Fbp      string            `json:"fbp,omitempty"`
	Fbc      string            `json:"fbc,omitempty"`
	ScCid    string            `json:"scCid,omitempty"`
	Ttclid   string            `json:"ttclid,omitempty"`
	TestMode bool              `json:"testMode,omitempty"`
}

// FormStartRequest represents the structure for form start requests. Contact
// carries the fields typed before the visitor submitted, if any.
type FormStartRequest struct {
	PageRequest
	FormName     string             `json:"formName"`
	Contact      conversion.Contact `json:"contact"`
	FieldChanged string             `json:"fieldChanged,omitempty"`
}

// LeadRequest represents the structure for lead submissions
type LeadRequest struct {
	PageRequest
	Lead          conversion.Lead `json:"lead"`
	CorrelationID string          `json:"correlationId,omitempty"`
	ExternalID    string          `json:"externalId,omitempty"`
}

// TrackingHandlers contains the page lifecycle endpoints
type TrackingHandlers struct {
	container   *container.Container
	leadService *services.LeadService
	logger      *logging.ChanneledLogger
}

// NewTrackingHandlers creates tracking handlers with injected dependencies
func NewTrackingHandlers(c *container.Container) *TrackingHandlers {
	return &TrackingHandlers{
		container:   c,
		leadService: c.LeadService,
		logger:      c.Logger,
	}
}

// PostVisit handles POST /api/v1/track/visit - bootstraps identity for a page load
func (h *TrackingHandlers) PostVisit(c *gin.Context) {
	var req PageRequest
	if !h.bind(c, &req) {
		return
	}

	sync, store := h.pageStore(req.StorageEnvelope)
	page := h.pageLoad(c, req.Page)
	result := h.leadService.Bootstrap(c.Request.Context(), store, page, req.Title, h.requestContext(c, req))

	c.JSON(http.StatusOK, gin.H{
		"snapshot": result.Snapshot,
		"handoff":  result.Handoff,
		"report":   result.Report,
		"storage":  sync.Changes(),
	})
}

// PostFormStart handles POST /api/v1/track/form-start
func (h *TrackingHandlers) PostFormStart(c *gin.Context) {
	var req FormStartRequest
	if !h.bind(c, &req) {
		return
	}
	if req.FormName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "formName is required"})
		return
	}

	sync, store := h.pageStore(req.StorageEnvelope)
	start := conversion.FormStart{FormName: req.FormName, Contact: req.Contact, FieldChanged: req.FieldChanged}
	result := h.leadService.StartForm(c.Request.Context(), store, h.pageLoad(c, req.Page), start, h.requestContext(c, req.PageRequest))

	c.JSON(http.StatusOK, gin.H{
		"correlationId": result.CorrelationID,
		"report":        result.Report,
		"storage":       sync.Changes(),
	})
}

// PostLead handles POST /api/v1/track/lead - records the submission and fans it out
func (h *TrackingHandlers) PostLead(c *gin.Context) {
	start := time.Now()
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable request body"})
		return
	}
	if err := ValidateLeadRequest(body); err != nil {
		h.logger.HTTP().Warn("Lead submission failed validation", "error", err.Error())
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid lead submission", "details": err.Error()})
		return
	}

	var req LeadRequest
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request format"})
		return
	}

	sync, store := h.pageStore(req.StorageEnvelope)
	ids := services.EventIDs{CorrelationID: req.CorrelationID, ExternalID: req.ExternalID}
	ctx := h.correlated(c.Request.Context(), req.CorrelationID)
	result := h.leadService.SubmitLead(ctx, store, h.pageLoad(c, req.Page), req.Lead, ids, h.requestContext(c, req.PageRequest))

	h.logger.HTTP().Info("Lead submission handled",
		"correlationId", result.CorrelationID,
		"email", logging.MaskEmail(req.Lead.Contact.Email),
		"delivered", result.Report.Count(conversion.StatusDelivered),
		"failed", result.Report.Count(conversion.StatusFailed),
		"duration", time.Since(start))

	c.JSON(http.StatusOK, gin.H{
		"correlationId": result.CorrelationID,
		"externalId":    result.ExternalID,
		"thankYouUrl":   result.ThankYouURL,
		"snapshot":      result.Snapshot,
		"report":        result.Report,
		"storage":       sync.Changes(),
	})
}

// PostConfirm handles POST /api/v1/track/confirm - reports the thank-you page conversion
func (h *TrackingHandlers) PostConfirm(c *gin.Context) {
	var req PageRequest
	if !h.bind(c, &req) {
		return
	}

	sync, store := h.pageStore(req.StorageEnvelope)
	result := h.leadService.ConfirmLead(c.Request.Context(), store, h.pageLoad(c, req.Page), h.requestContext(c, req))

	c.JSON(http.StatusOK, gin.H{
		"correlationId": result.CorrelationID,
		"externalId":    result.ExternalID,
		"recovered":     result.Recovered,
		"report":        result.Report,
		"storage":       sync.Changes(),
	})
}

func (h *TrackingHandlers) bind(c *gin.Context, req any) bool {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	if err := c.ShouldBindJSON(req); err != nil {
		h.logger.HTTP().Warn("Tracking request JSON binding failed", "path", c.Request.URL.Path, "error", err.Error())
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request format"})
		return false
	}
	return true
}

// pageStore builds a request-scoped identity store over the browser entries.
func (h *TrackingHandlers) pageStore(env StorageEnvelope) (*storage.SyncStorage, *services.IdentityStore) {
	return newPageStore(h.container, env)
}

func (h *TrackingHandlers) pageLoad(c *gin.Context, page services.PageLoad) services.PageLoad {
	if page.UserAgent == "" {
		page.UserAgent = c.Request.UserAgent()
	}
	if page.Referrer == "" {
		page.Referrer = c.Request.Referer()
	}
	return page
}

func (h *TrackingHandlers) requestContext(c *gin.Context, req PageRequest) conversion.RequestContext {
	rc := conversion.RequestContext{
		ClientIP:  c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		Fbp:       req.Fbp,
		Fbc:       req.Fbc,
		ScClickID: req.ScCid,
		Ttclid:    req.Ttclid,
		SourceURL: req.Page.URL,
		TestMode:  req.TestMode,
	}
	if rc.Fbp == "" {
		rc.Fbp, _ = c.Cookie("_fbp")
	}
	if rc.Fbc == "" {
		rc.Fbc, _ = c.Cookie("_fbc")
	}
	if rc.ScClickID == "" {
		rc.ScClickID, _ = c.Cookie("_scclid")
	}
	rc.Ttp, _ = c.Cookie("_ttp")
	return rc
}

func (h *TrackingHandlers) correlated(ctx context.Context, correlationID string) context.Context {
	if correlationID == "" {
		return ctx
	}
	return context.WithValue(ctx, logging.CorrelationKey, correlationID)
}

func newPageStore(c *container.Container, env StorageEnvelope) (*storage.SyncStorage, *services.IdentityStore) {
	sync := storage.NewSyncStorage(c.Keys, env.Storage, env.StorageDisabled)
	return sync, c.NewIdentityStore(sync)
}
