// Package sinks provides one adapter per external delivery channel. Each
// adapter shapes a conversion event for its channel, derives its idempotency
// key from the correlation ID only, and reports failures as outcomes.
package sinks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/AtRiskMedia/tractstack-leads/internal/domain/entities/conversion"
	"github.com/AtRiskMedia/tractstack-leads/internal/domain/entities/identity"
	"github.com/AtRiskMedia/tractstack-leads/internal/infrastructure/security"
)

// Sink names, as they appear in outcome reports.
const (
	NameMetaPixel     = "meta_pixel"
	NameConversionAPI = "meta_capi"
	NameSnapchat      = "snapchat_capi"
	NameTikTok        = "tiktok_events"
	NameDataLayer     = "datalayer"
	NameWebhook       = "crm_webhook"
	NameEmail         = "email"
)

// Sink delivers one event to one channel. Send must never panic on purpose
// and must return quickly once ctx is done.
type Sink interface {
	Name() string
	Send(ctx context.Context, event conversion.Event) conversion.Outcome
}

// Capability is implemented by sinks that depend on configuration. The
// dispatcher asks once, when it is built.
type Capability interface {
	Available() (bool, string)
}

// MetaEventName maps a business event to the ad network's standard event.
func MetaEventName(name conversion.Name) string {
	switch name {
	case conversion.PageViewed:
		return "PageView"
	case conversion.FormStarted:
		return "InitiateCheckout"
	case conversion.LeadSubmitted, conversion.LeadConfirmed:
		return "Lead"
	}
	return string(name)
}

// SnapchatEventName maps a business event to the Snapchat standard event.
func SnapchatEventName(name conversion.Name) string {
	switch name {
	case conversion.PageViewed:
		return "PAGE_VIEW"
	case conversion.FormStarted:
		return "VIEW_CONTENT"
	case conversion.LeadSubmitted, conversion.LeadConfirmed:
		return "SIGN_UP"
	}
	return string(name)
}

// TikTokEventName maps a business event to the TikTok standard event.
func TikTokEventName(name conversion.Name) string {
	switch name {
	case conversion.PageViewed:
		return "ViewContent"
	case conversion.FormStarted:
		return "ClickButton"
	case conversion.LeadSubmitted, conversion.LeadConfirmed:
		return "Lead"
	}
	return string(name)
}

// DataLayerEventName maps a business event to the tag-manager event name.
func DataLayerEventName(name conversion.Name) string {
	switch name {
	case conversion.PageViewed:
		return "page_view"
	case conversion.FormStarted:
		return "form_start"
	case conversion.LeadSubmitted:
		return "generate_lead"
	case conversion.LeadConfirmed:
		return "lead_confirmed"
	}
	return string(name)
}

// hashedUserData returns SHA-256 fingerprints keyed by Meta's user_data names.
// Raw contact values on the payload win over the subject's stored hashes.
func hashedUserData(event conversion.Event) map[string]string {
	fp := event.Subject.Fingerprints
	ud := map[string]string{
		"em": fp[identity.FieldEmail],
		"ph": fp[identity.FieldPhone],
		"fn": fp[identity.FieldFirstName],
		"ln": fp[identity.FieldLastName],
	}

	if contact, ok := event.Contact(); ok {
		first, last := contact.FirstName, contact.LastName
		if first == "" && last == "" {
			first, last = security.SplitName(contact.Name)
		}
		overlay := map[string]string{
			"em": security.Fingerprint(identity.FieldEmail, contact.Email),
			"ph": security.Fingerprint(identity.FieldPhone, contact.Phone),
			"fn": security.Fingerprint(identity.FieldFirstName, first),
			"ln": security.Fingerprint(identity.FieldLastName, last),
		}
		for k, v := range overlay {
			if v != "" {
				ud[k] = v
			}
		}
	}

	if country := event.Subject.Classification["country"]; country != "" {
		ud["country"] = security.Fingerprint("country", country)
	}
	if externalID := externalIdentifier(event); externalID != "" {
		ud["external_id"] = security.Hash(externalID)
	}

	for k, v := range ud {
		if v == "" {
			delete(ud, k)
		}
	}
	return ud
}

// testTraffic reports whether event came from a test run or a local page.
func testTraffic(event conversion.Event) bool {
	if event.Context.TestMode {
		return true
	}
	page := event.PageURL()
	return strings.Contains(page, "localhost") || strings.Contains(page, "127.0.0.1")
}

func externalIdentifier(event conversion.Event) string {
	if event.Subject.VisitorID != "" {
		return event.Subject.VisitorID
	}
	return event.ExternalID
}

// failedResponse drains resp and describes a non-2xx status.
func failedResponse(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if len(body) == 0 {
		return fmt.Sprintf("http %d", resp.StatusCode)
	}
	return fmt.Sprintf("http %d: %s", resp.StatusCode, string(body))
}

// transportFailure converts a client error into an outcome, keeping context
// expiry distinct so the dispatcher can report timeouts uniformly.
func transportFailure(ctx context.Context, err error) conversion.Outcome {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return conversion.Failed("timeout")
		}
		return conversion.Failed("canceled")
	}
	return conversion.Failed("transport: " + err.Error())
}

func defaultClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{}
}
