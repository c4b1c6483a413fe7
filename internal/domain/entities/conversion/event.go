// Package conversion provides the tagged conversion event fanned out to every
// sink, and the per-sink outcome report the dispatcher returns for it.
package conversion

import (
	"slices"
	"time"

	"github.com/AtRiskMedia/tractstack-leads/internal/domain/entities/identity"
)

// Name is one of the fixed business events the pipeline reports
type Name string

const (
	PageViewed    Name = "PageViewed"
	FormStarted   Name = "FormStarted"
	LeadSubmitted Name = "LeadSubmitted"
	LeadConfirmed Name = "LeadConfirmed"
)

// Payload is implemented only by the payload types in this package, so every
// event carries a statically known shape.
type Payload interface {
	EventName() Name
	isPayload()
}

// PageView is reported when a page bootstraps
type PageView struct {
	URL      string `json:"url"`
	Title    string `json:"title,omitempty"`
	Referrer string `json:"referrer,omitempty"`
}

// FormStart is reported on the first interaction with a lead form. Contact
// holds whatever the visitor had typed so far.
type FormStart struct {
	FormName     string  `json:"formName"`
	PageURL      string  `json:"pageUrl"`
	Contact      Contact `json:"contact"`
	FieldChanged string  `json:"fieldChanged,omitempty"`
}

// Contact holds raw contact values for the duration of one dispatch. Adapters
// hash them or forward them depending on the channel. They are never stored.
type Contact struct {
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Name        string `json:"name,omitempty"`
	FirstName   string `json:"firstName,omitempty"`
	LastName    string `json:"lastName,omitempty"`
	Nationality string `json:"nationality,omitempty"`
}

// IsZero reports whether no contact value is present.
func (c Contact) IsZero() bool {
	return c == Contact{}
}

// Lead is a completed lead form submission
type Lead struct {
	FormName      string  `json:"formName"`
	PageURL       string  `json:"pageUrl"`
	Contact       Contact `json:"contact"`
	Destination   string  `json:"destination,omitempty"`
	TravelDate    string  `json:"travelDate,omitempty"`
	Travelers     int     `json:"travelers,omitempty"`
	UserType      string  `json:"userType,omitempty"`
	Message       string  `json:"message,omitempty"`
	DeclaredValue float64 `json:"declaredValue,omitempty"`
	Currency      string  `json:"currency,omitempty"`
}

// LeadConfirmation is reported by the thank-you page for a prior submission
type LeadConfirmation struct {
	PageURL string  `json:"pageUrl"`
	Contact Contact `json:"contact"`
	// CorrelationRecovered is false when the handoff token lost the original ID.
	CorrelationRecovered bool `json:"correlationRecovered"`
}

func (PageView) EventName() Name         { return PageViewed }
func (FormStart) EventName() Name        { return FormStarted }
func (Lead) EventName() Name             { return LeadSubmitted }
func (LeadConfirmation) EventName() Name { return LeadConfirmed }

func (PageView) isPayload()         {}
func (FormStart) isPayload()        {}
func (Lead) isPayload()             {}
func (LeadConfirmation) isPayload() {}

// RequestContext describes the browser request an event originated from
type RequestContext struct {
	ClientIP  string `json:"clientIp,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
	Fbp       string `json:"fbp,omitempty"`
	Fbc       string `json:"fbc,omitempty"`
	ScClickID string `json:"scClickId,omitempty"`
	Ttclid    string `json:"ttclid,omitempty"`
	Ttp       string `json:"ttp,omitempty"`
	SourceURL string `json:"sourceUrl,omitempty"`
	TestMode  bool   `json:"testMode,omitempty"`
}

// Subject is the visitor as seen by sinks, derived from the identity snapshot
// at fan-out time.
type Subject struct {
	VisitorID            string            `json:"visitorId"`
	IsReturning          bool              `json:"isReturning"`
	VisitCount           int               `json:"visitCount"`
	FormInteractionCount int               `json:"formInteractionCount"`
	Fingerprints         map[string]string `json:"fingerprints"`
	Classification       map[string]string `json:"classification"`
	Interests            []string          `json:"interests"`
}

// SubjectFrom derives a subject from a snapshot.
func SubjectFrom(snap identity.Snapshot) Subject {
	fingerprints := make(map[string]string, len(snap.ContactFingerprints))
	for k, v := range snap.ContactFingerprints {
		fingerprints[k] = v
	}
	classification := make(map[string]string, len(snap.Classification))
	for k, v := range snap.Classification {
		classification[k] = v
	}
	return Subject{
		VisitorID:            snap.VisitorID,
		IsReturning:          snap.IsReturning,
		VisitCount:           snap.VisitCount,
		FormInteractionCount: snap.FormInteractionCount,
		Fingerprints:         fingerprints,
		Classification:       classification,
		Interests:            slices.Clone(snap.Interests),
	}
}

// Event is one logical business event. Every sink receives the same value.
type Event struct {
	Name          Name           `json:"name"`
	CorrelationID string         `json:"correlationId"`
	ExternalID    string         `json:"externalId,omitempty"`
	OccurredAt    time.Time      `json:"occurredAt"`
	Subject       Subject        `json:"subject"`
	Payload       Payload        `json:"payload"`
	Context       RequestContext `json:"context"`
}

// New builds an event whose name is taken from the payload.
func New(payload Payload, correlationID, externalID string, subject Subject, rc RequestContext, occurredAt time.Time) Event {
	return Event{
		Name:          payload.EventName(),
		CorrelationID: correlationID,
		ExternalID:    externalID,
		OccurredAt:    occurredAt,
		Subject:       subject,
		Payload:       payload,
		Context:       rc,
	}
}

// Contact returns the raw contact carried by the payload, if any.
func (e Event) Contact() (Contact, bool) {
	switch p := e.Payload.(type) {
	case FormStart:
		return p.Contact, !p.Contact.IsZero()
	case Lead:
		return p.Contact, !p.Contact.IsZero()
	case LeadConfirmation:
		return p.Contact, !p.Contact.IsZero()
	default:
		return Contact{}, false
	}
}

// PageURL returns the page the event was reported from.
func (e Event) PageURL() string {
	switch p := e.Payload.(type) {
	case PageView:
		return p.URL
	case FormStart:
		return p.PageURL
	case Lead:
		return p.PageURL
	case LeadConfirmation:
		return p.PageURL
	}
	return e.Context.SourceURL
}
