package sinks

import (
	"context"

	"github.com/AtRiskMedia/tractstack-leads/internal/domain/entities/conversion"
	"github.com/AtRiskMedia/tractstack-leads/internal/domain/entities/identity"
	"github.com/AtRiskMedia/tractstack-leads/internal/infrastructure/email"
	"github.com/AtRiskMedia/tractstack-leads/internal/infrastructure/email/templates"
	"github.com/AtRiskMedia/tractstack-leads/internal/infrastructure/security"
)

// EmailSink notifies the sales inbox about new submissions. Confirmations are
// skipped so one lead sends one email.
type EmailSink struct {
	service    email.Service
	recipients []string
}

func NewEmailSink(service email.Service, recipients []string) *EmailSink {
	return &EmailSink{service: service, recipients: recipients}
}

func (s *EmailSink) Name() string { return NameEmail }

func (s *EmailSink) Available() (bool, string) {
	if s.service == nil {
		return false, "EMAIL_RESEND_API_KEY not set"
	}
	if len(s.recipients) == 0 {
		return false, "EMAIL_RECIPIENTS not set"
	}
	return true, ""
}

// LeadEmail shapes the notification for a submission.
func LeadEmail(event conversion.Event, lead conversion.Lead) templates.LeadEmailProps {
	name := lead.Contact.Name
	if name == "" {
		name = joinName(lead.Contact.FirstName, lead.Contact.LastName)
	}
	nationality := lead.Contact.Nationality
	if nationality == "" {
		nationality = event.Subject.Classification[identity.AttrNationality]
	}
	return templates.LeadEmailProps{
		FormName:      lead.FormName,
		Name:          name,
		Email:         lead.Contact.Email,
		Phone:         lead.Contact.Phone,
		Nationality:   nationality,
		Destination:   lead.Destination,
		TravelDate:    lead.TravelDate,
		Travelers:     lead.Travelers,
		Message:       lead.Message,
		PageURL:       lead.PageURL,
		DeclaredValue: lead.DeclaredValue,
		Currency:      lead.Currency,
		Reference:     security.IdempotencyKey(event.CorrelationID, security.PurposeEmail),
	}
}

func (s *EmailSink) Send(ctx context.Context, event conversion.Event) conversion.Outcome {
	lead, ok := event.Payload.(conversion.Lead)
	if !ok {
		return conversion.Skipped("only submissions are emailed")
	}

	type result struct {
		err error
	}
	done := make(chan result, 1)
	go func() {
		_, err := s.service.SendLeadNotification(email.LeadNotification{
			Recipients: s.recipients,
			Lead:       LeadEmail(event, lead),
		})
		done <- result{err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return conversion.Failed(r.err.Error())
		}
		return conversion.Delivered()
	case <-ctx.Done():
		return transportFailure(ctx, ctx.Err())
	}
}

func joinName(first, last string) string {
	switch {
	case first == "":
		return last
	case last == "":
		return first
	default:
		return first + " " + last
	}
}
