// Package email provides the transactional email client used to notify the
// sales team about new leads.
package email

import (
	"errors"
	"fmt"

	"github.com/resendlabs/resend-go"

	"github.com/AtRiskMedia/tractstack-leads/internal/infrastructure/email/templates"
)

var ErrNotConfigured = errors.New("email service not configured")

// LeadNotification is one message to the lead recipients
type LeadNotification struct {
	Recipients []string
	Lead       templates.LeadEmailProps
}

// Service defines the interface for sending lead notifications, allowing for
// fakes in tests.
type Service interface {
	SendLeadNotification(n LeadNotification) (string, error)
}

// ResendClient is the concrete implementation of the email Service using the Resend API.
type ResendClient struct {
	client    *resend.Client
	fromEmail string
	fromName  string
}

// NewService creates a Resend-backed service.
func NewService(apiKey, fromEmail, fromName string) (*ResendClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: EMAIL_RESEND_API_KEY is required", ErrNotConfigured)
	}
	if fromEmail == "" {
		fromEmail = "noreply@tractstack.com"
	}
	if fromName == "" {
		fromName = "TractStack Leads"
	}
	return &ResendClient{
		client:    resend.NewClient(apiKey),
		fromEmail: fromEmail,
		fromName:  fromName,
	}, nil
}

// SendLeadNotification composes and sends the notification, returning the
// provider message ID.
func (c *ResendClient) SendLeadNotification(n LeadNotification) (string, error) {
	if len(n.Recipients) == 0 {
		return "", fmt.Errorf("%w: no recipients", ErrNotConfigured)
	}

	htmlContent := templates.GetEmailLayout(templates.EmailLayoutProps{
		Preheader: "A new lead is waiting for follow-up",
		Title:     "New lead",
		Content:   templates.GetLeadNotificationContent(n.Lead),
	})

	params := &resend.SendEmailRequest{
		From:    fmt.Sprintf("%s <%s>", c.fromName, c.fromEmail),
		To:      n.Recipients,
		Subject: templates.GetLeadSubject(n.Lead),
		Html:    htmlContent,
		Text:    templates.GetLeadNotificationText(n.Lead),
	}

	sent, err := c.client.Emails.Send(params)
	if err != nil {
		return "", fmt.Errorf("failed to send lead notification via Resend: %w", err)
	}
	return sent.Id, nil
}
