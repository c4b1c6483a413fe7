package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/AtRiskMedia/tractstack-leads/internal/domain/entities/conversion"
	"github.com/AtRiskMedia/tractstack-leads/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/tractstack-leads/internal/infrastructure/security"
	"github.com/AtRiskMedia/tractstack-leads/pkg/config"
)

// IdempotencyHeader carries the derived key on every CRM relay call.
const IdempotencyHeader = "Idempotency-Key"

// WebhookSink relays leads to the CRM webhook with raw structured fields. The
// submission and its thank-you confirmation share one correlation ID, so they
// carry the same idempotency key and the CRM keeps only one. Form starts that
// already carry contact fields go to the partial URL flagged is_partial.
type WebhookSink struct {
	cfg    config.WebhookConfig
	client *http.Client
	logger *logging.ChanneledLogger
}

func NewWebhookSink(cfg config.WebhookConfig, client *http.Client, logger *logging.ChanneledLogger) *WebhookSink {
	return &WebhookSink{cfg: cfg, client: defaultClient(client), logger: logger}
}

func (s *WebhookSink) Name() string { return NameWebhook }

func (s *WebhookSink) Available() (bool, string) {
	if s.cfg.URL == "" {
		return false, "WEBHOOK_URL not set"
	}
	return true, ""
}

// WebhookPayload is the JSON body posted to the CRM
type WebhookPayload struct {
	Event          string             `json:"event"`
	CorrelationID  string             `json:"correlation_id"`
	ExternalID     string             `json:"external_id,omitempty"`
	IdempotencyKey string             `json:"idempotency_key"`
	OccurredAt     time.Time          `json:"occurred_at"`
	VisitorID      string             `json:"visitor_id"`
	IsReturning    bool               `json:"is_returning"`
	VisitCount     int                `json:"visit_count"`
	Contact        conversion.Contact `json:"contact"`
	FormName       string             `json:"form_name,omitempty"`
	Destination    string             `json:"destination,omitempty"`
	TravelDate     string             `json:"travel_date,omitempty"`
	Travelers      int                `json:"travelers,omitempty"`
	UserType       string             `json:"user_type,omitempty"`
	Message        string             `json:"message,omitempty"`
	DeclaredValue  float64            `json:"declared_value,omitempty"`
	Currency       string             `json:"currency,omitempty"`
	Classification map[string]string  `json:"classification,omitempty"`
	PageURL        string             `json:"page_url,omitempty"`
	Fbp            string             `json:"fbp,omitempty"`
	Fbc            string             `json:"fbc,omitempty"`
	IsPartial      bool               `json:"is_partial,omitempty"`
	PartialAt      *time.Time         `json:"partial_timestamp,omitempty"`
	FieldChanged   string             `json:"field_changed,omitempty"`
}

// BuildWebhookPayload shapes a lead or partial form event, or reports false
// for events the CRM does not receive.
func BuildWebhookPayload(event conversion.Event) (WebhookPayload, bool) {
	payload := WebhookPayload{
		Event:          string(event.Name),
		CorrelationID:  event.CorrelationID,
		ExternalID:     event.ExternalID,
		IdempotencyKey: security.IdempotencyKey(event.CorrelationID, security.PurposeWebhook),
		OccurredAt:     event.OccurredAt.UTC(),
		VisitorID:      event.Subject.VisitorID,
		IsReturning:    event.Subject.IsReturning,
		VisitCount:     event.Subject.VisitCount,
		Classification: event.Subject.Classification,
		PageURL:        event.PageURL(),
		Fbp:            event.Context.Fbp,
		Fbc:            event.Context.Fbc,
	}
	switch p := event.Payload.(type) {
	case conversion.Lead:
		payload.Contact = p.Contact
		payload.FormName = p.FormName
		payload.Destination = p.Destination
		payload.TravelDate = p.TravelDate
		payload.Travelers = p.Travelers
		payload.UserType = p.UserType
		payload.Message = p.Message
		payload.DeclaredValue = p.DeclaredValue
		payload.Currency = p.Currency
	case conversion.LeadConfirmation:
		payload.Contact = p.Contact
	case conversion.FormStart:
		if p.Contact.IsZero() {
			return WebhookPayload{}, false
		}
		payload.Contact = p.Contact
		payload.FormName = p.FormName
		payload.FieldChanged = p.FieldChanged
		partialAt := payload.OccurredAt
		payload.IsPartial = true
		payload.PartialAt = &partialAt
	default:
		return WebhookPayload{}, false
	}
	return payload, true
}

func (s *WebhookSink) Send(ctx context.Context, event conversion.Event) conversion.Outcome {
	payload, ok := BuildWebhookPayload(event)
	if !ok {
		if event.Name == conversion.FormStarted {
			return conversion.Skipped("no partial contact yet")
		}
		return conversion.Skipped("event not relayed to crm")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return conversion.Failed("encode: " + err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint(payload), bytes.NewReader(body))
	if err != nil {
		return conversion.Failed("build request: " + err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(IdempotencyHeader, payload.IdempotencyKey)
	if s.cfg.SigningSecret != "" {
		token, err := security.GenerateRelayToken(s.cfg.SigningSecret, s.cfg.Issuer, payload.VisitorID, payload.IdempotencyKey, 5*time.Minute)
		if err != nil {
			return conversion.Failed(err.Error())
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	if s.logger != nil {
		s.logger.Sink().Debug("Relaying lead to CRM",
			"event", payload.Event,
			"partial", payload.IsPartial,
			"correlationId", payload.CorrelationID,
			"email", logging.MaskEmail(payload.Contact.Email),
			"phone", logging.MaskPhone(payload.Contact.Phone),
			"hasName", payload.Contact.Name != "" || payload.Contact.FirstName != "")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return transportFailure(ctx, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return conversion.Failed(failedResponse(resp))
	}
	return conversion.Delivered()
}

func (s *WebhookSink) endpoint(payload WebhookPayload) string {
	if payload.IsPartial && s.cfg.PartialURL != "" {
		return s.cfg.PartialURL
	}
	return s.cfg.URL
}
