package sinks

import (
	"context"
	"encoding/json"

	"github.com/AtRiskMedia/tractstack-leads/internal/domain/entities/conversion"
)

// Publisher pushes a message to every open page of a visitor and returns how
// many pages accepted it.
type Publisher interface {
	Publish(visitorID string, message []byte) int
}

// DataLayerSink pushes a tag-manager data-layer entry to the visitor's open
// page. The page shim forwards it to window.dataLayer.
type DataLayerSink struct {
	publisher Publisher
	enabled   bool
}

func NewDataLayerSink(publisher Publisher, enabled bool) *DataLayerSink {
	return &DataLayerSink{publisher: publisher, enabled: enabled}
}

func (s *DataLayerSink) Name() string { return NameDataLayer }

func (s *DataLayerSink) Available() (bool, string) {
	if !s.enabled || s.publisher == nil {
		return false, "data layer disabled"
	}
	return true, ""
}

// DataLayerPush is the entry appended to the page's data layer
type DataLayerPush struct {
	Event            string            `json:"event"`
	EventID          string            `json:"event_id"`
	ExternalID       string            `json:"external_id,omitempty"`
	UserID           string            `json:"user_id"`
	IsReturning      bool              `json:"is_returning"`
	VisitCount       int               `json:"visit_count"`
	FormInteractions int               `json:"form_interactions"`
	Classification   map[string]string `json:"classification,omitempty"`
	Interests        []string          `json:"interests,omitempty"`
	FormName         string            `json:"form_name,omitempty"`
	Destination      string            `json:"destination,omitempty"`
	PageURL          string            `json:"page_url,omitempty"`
}

// BuildPush shapes the data-layer entry for event.
func BuildPush(event conversion.Event) DataLayerPush {
	push := DataLayerPush{
		Event:            DataLayerEventName(event.Name),
		EventID:          event.CorrelationID,
		ExternalID:       event.ExternalID,
		UserID:           event.Subject.VisitorID,
		IsReturning:      event.Subject.IsReturning,
		VisitCount:       event.Subject.VisitCount,
		FormInteractions: event.Subject.FormInteractionCount,
		Classification:   event.Subject.Classification,
		Interests:        event.Subject.Interests,
		PageURL:          event.PageURL(),
	}
	switch p := event.Payload.(type) {
	case conversion.FormStart:
		push.FormName = p.FormName
	case conversion.Lead:
		push.FormName = p.FormName
		push.Destination = p.Destination
	}
	return push
}

func (s *DataLayerSink) Send(ctx context.Context, event conversion.Event) conversion.Outcome {
	if event.Subject.VisitorID == "" {
		return conversion.Skipped("no visitor id")
	}
	message, err := json.Marshal(BuildPush(event))
	if err != nil {
		return conversion.Failed("encode: " + err.Error())
	}
	if err := ctx.Err(); err != nil {
		return transportFailure(ctx, err)
	}
	if s.publisher.Publish(event.Subject.VisitorID, message) == 0 {
		return conversion.Skipped("no data layer listener")
	}
	return conversion.Delivered()
}
