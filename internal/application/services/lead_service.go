package services

import (
	"context"
	"strings"

	"github.com/AtRiskMedia/tractstack-leads/internal/domain/entities/conversion"
	"github.com/AtRiskMedia/tractstack-leads/internal/domain/entities/identity"
	"github.com/AtRiskMedia/tractstack-leads/internal/infrastructure/handoff"
	"github.com/AtRiskMedia/tractstack-leads/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/tractstack-leads/internal/infrastructure/security"
	"github.com/AtRiskMedia/tractstack-leads/pkg/config"
)

// LeadService is the page controller: it sequences identity updates, ID
// minting and dispatches for the lead funnel. None of its operations fail
// the business action.
type LeadService struct {
	dispatcher     *Dispatcher
	minter         *security.Minter
	logger         *logging.ChanneledLogger
	thankYouURL    string
	currency       string
	trackPageViews bool
}

// NewLeadService creates a new lead service
func NewLeadService(cfg *config.Config, dispatcher *Dispatcher, minter *security.Minter, logger *logging.ChanneledLogger) *LeadService {
	return &LeadService{
		dispatcher:     dispatcher,
		minter:         minter,
		logger:         logger,
		thankYouURL:    cfg.LeadRoutes.ThankYouURL,
		currency:       cfg.Meta.Currency,
		trackPageViews: cfg.Dispatch.TrackPageViews,
	}
}

// BootstrapResult holds the outcome of a page bootstrap
type BootstrapResult struct {
	Snapshot identity.Snapshot  `json:"snapshot"`
	Handoff  []string           `json:"handoff,omitempty"`
	Report   *conversion.Report `json:"report,omitempty"`
}

// FormStartResult holds the outcome of a form start
type FormStartResult struct {
	CorrelationID string            `json:"correlationId"`
	Report        conversion.Report `json:"report"`
}

// LeadResult holds the outcome of a lead submission
type LeadResult struct {
	CorrelationID string            `json:"correlationId"`
	ExternalID    string            `json:"externalId"`
	ThankYouURL   string            `json:"thankYouUrl"`
	Snapshot      identity.Snapshot `json:"snapshot"`
	Report        conversion.Report `json:"report"`
}

// ConfirmResult holds the outcome of a thank-you page confirmation
type ConfirmResult struct {
	CorrelationID string            `json:"correlationId"`
	ExternalID    string            `json:"externalId"`
	Recovered     bool              `json:"recovered"`
	Report        conversion.Report `json:"report"`
}

// Bootstrap initializes identity for a page load and, when page view
// tracking is on, dispatches PageViewed.
func (s *LeadService) Bootstrap(ctx context.Context, store *IdentityStore, page PageLoad, title string, rc conversion.RequestContext) BootstrapResult {
	snap := store.Initialize(page)
	token := handoff.DecodeURL(page.URL)
	result := BootstrapResult{Snapshot: snap, Handoff: token.PresentKeys()}
	if len(result.Handoff) > 0 {
		s.logger.Handoff().Debug("Handoff token present on page load", "keys", strings.Join(result.Handoff, ","))
	}

	if !s.trackPageViews {
		return result
	}
	rc = withTokenClickIDs(rc, token)
	payload := conversion.PageView{URL: handoff.StripURL(page.URL), Title: title, Referrer: page.Referrer}
	event := s.dispatcher.Prepare(payload, EventIDs{CorrelationID: s.minter.CorrelationID()}, snap, rc)
	report := s.dispatcher.Dispatch(ctx, event)
	result.Report = &report
	return result
}

// StartForm mints one correlation ID for the form start and dispatches it.
// Any partial contact on start rides along to the sinks that relay it.
func (s *LeadService) StartForm(ctx context.Context, store *IdentityStore, page PageLoad, start conversion.FormStart, rc conversion.RequestContext) FormStartResult {
	snap := store.Resume(page)
	start.PageURL = handoff.StripURL(page.URL)
	ids := EventIDs{CorrelationID: s.minter.CorrelationID()}
	event := s.dispatcher.Prepare(start, ids, snap, rc)
	return FormStartResult{CorrelationID: ids.CorrelationID, Report: s.dispatcher.Dispatch(ctx, event)}
}

// SubmitLead records the submission, dispatches LeadSubmitted and returns the
// thank-you URL carrying the handoff token. IDs supplied by a retried
// submission are reused; missing ones are minted once here.
func (s *LeadService) SubmitLead(ctx context.Context, store *IdentityStore, page PageLoad, lead conversion.Lead, ids EventIDs, rc conversion.RequestContext) LeadResult {
	store.Resume(page)
	if ids.CorrelationID == "" {
		ids.CorrelationID = s.minter.CorrelationID()
	}
	if ids.ExternalID == "" {
		ids.ExternalID = s.minter.ExternalID()
	}
	if lead.PageURL == "" {
		lead.PageURL = page.URL
	}
	lead.PageURL = handoff.StripURL(lead.PageURL)
	if lead.Currency == "" && lead.DeclaredValue > 0 {
		lead.Currency = s.currency
	}

	snap := store.UpdateProfile(ProfileUpdate{
		Classification: map[string]string{
			identity.AttrNationality: lead.Contact.Nationality,
			identity.AttrUserType:    lead.UserType,
		},
		Contact: ContactUpdate{
			Email:     lead.Contact.Email,
			Phone:     lead.Contact.Phone,
			Name:      lead.Contact.Name,
			FirstName: lead.Contact.FirstName,
			LastName:  lead.Contact.LastName,
		},
		Interests: interestsFor(lead.Destination),
		PageURL:   lead.PageURL,
		Submission: &SubmissionInfo{
			FormName:      lead.FormName,
			PageURL:       lead.PageURL,
			ExternalID:    ids.ExternalID,
			CorrelationID: ids.CorrelationID,
			DeclaredValue: lead.DeclaredValue,
			Currency:      lead.Currency,
			Destination:   lead.Destination,
		},
	})

	event := s.dispatcher.Prepare(lead, ids, snap, rc)
	report := s.dispatcher.Dispatch(ctx, event)

	return LeadResult{
		CorrelationID: ids.CorrelationID,
		ExternalID:    ids.ExternalID,
		ThankYouURL:   s.thankYouFor(lead, ids, rc),
		Snapshot:      snap,
		Report:        report,
	}
}

// ConfirmLead reports the conversion from the thank-you page under the
// correlation ID recovered from its URL. A lost ID is replaced by a fresh one.
func (s *LeadService) ConfirmLead(ctx context.Context, store *IdentityStore, page PageLoad, rc conversion.RequestContext) ConfirmResult {
	store.Resume(page)
	token := handoff.DecodeURL(page.URL)

	correlationID, recovered := token.Correlation(s.minter.CorrelationID)
	if !recovered {
		s.logger.Handoff().Warn("MalformedHandoffToken: correlation lost, minted a fresh ID",
			"presentKeys", strings.Join(token.PresentKeys(), ","),
			"correlationId", correlationID)
	}
	externalID := handoff.Value(token.ExternalID)
	if externalID == "" {
		externalID = s.minter.ExternalID()
	}

	contact := conversion.Contact{
		Email:       handoff.Value(token.Email),
		Phone:       handoff.Value(token.Phone),
		Name:        handoff.Value(token.Name),
		FirstName:   handoff.Value(token.FirstName),
		LastName:    handoff.Value(token.LastName),
		Nationality: handoff.Value(token.Nationality),
	}
	snap := store.Snapshot()
	if !contact.IsZero() {
		snap = store.UpdateProfile(ProfileUpdate{
			Classification: map[string]string{identity.AttrNationality: contact.Nationality},
			Contact: ContactUpdate{
				Email:     contact.Email,
				Phone:     contact.Phone,
				Name:      contact.Name,
				FirstName: contact.FirstName,
				LastName:  contact.LastName,
			},
		})
	}

	rc = withTokenClickIDs(rc, token)
	payload := conversion.LeadConfirmation{
		PageURL:              handoff.StripURL(page.URL),
		Contact:              contact,
		CorrelationRecovered: recovered,
	}
	ids := EventIDs{CorrelationID: correlationID, ExternalID: externalID}
	event := s.dispatcher.Prepare(payload, ids, snap, rc)
	return ConfirmResult{
		CorrelationID: correlationID,
		ExternalID:    externalID,
		Recovered:     recovered,
		Report:        s.dispatcher.Dispatch(ctx, event),
	}
}

func (s *LeadService) thankYouFor(lead conversion.Lead, ids EventIDs, rc conversion.RequestContext) string {
	token := handoff.Token{
		CorrelationID: optional(ids.CorrelationID),
		ExternalID:    optional(ids.ExternalID),
		Email:         optional(lead.Contact.Email),
		Phone:         optional(lead.Contact.Phone),
		FirstName:     optional(lead.Contact.FirstName),
		LastName:      optional(lead.Contact.LastName),
		Name:          optional(lead.Contact.Name),
		Nationality:   optional(lead.Contact.Nationality),
		Fbp:           optional(rc.Fbp),
		Fbc:           optional(rc.Fbc),
	}
	dest, err := handoff.AppendToURL(s.thankYouURL, token)
	if err != nil {
		s.logger.Handoff().Error("Thank-you URL rejected, falling back to bare query", "error", err.Error())
		return "/thank-you?" + handoff.Encode(token)
	}
	return dest
}

func withTokenClickIDs(rc conversion.RequestContext, token handoff.Token) conversion.RequestContext {
	if rc.Fbp == "" {
		rc.Fbp = handoff.Value(token.Fbp)
	}
	if rc.Fbc == "" {
		rc.Fbc = handoff.Value(token.Fbc)
	}
	return rc
}

func optional(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return handoff.String(s)
}

func interestsFor(destination string) []string {
	destination = strings.ToLower(strings.TrimSpace(destination))
	if destination == "" {
		return nil
	}
	return []string{destination}
}
