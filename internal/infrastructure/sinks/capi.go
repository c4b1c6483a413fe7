package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/AtRiskMedia/tractstack-leads/internal/domain/entities/conversion"
	"github.com/AtRiskMedia/tractstack-leads/internal/domain/entities/identity"
	"github.com/AtRiskMedia/tractstack-leads/pkg/config"
)

// ConversionAPISink relays events to the ad network's server-side events
// endpoint with event_id set to the correlation ID.
type ConversionAPISink struct {
	cfg    config.MetaConfig
	client *http.Client
}

func NewConversionAPISink(cfg config.MetaConfig, client *http.Client) *ConversionAPISink {
	return &ConversionAPISink{cfg: cfg, client: defaultClient(client)}
}

func (s *ConversionAPISink) Name() string { return NameConversionAPI }

func (s *ConversionAPISink) Available() (bool, string) {
	if s.cfg.PixelID == "" {
		return false, "META_PIXEL_ID not set"
	}
	if s.cfg.AccessToken == "" {
		return false, "META_ACCESS_TOKEN not set"
	}
	return true, ""
}

type capiRequest struct {
	Data          []capiEvent `json:"data"`
	TestEventCode string      `json:"test_event_code,omitempty"`
}

type capiEvent struct {
	EventName      string         `json:"event_name"`
	EventTime      int64          `json:"event_time"`
	EventID        string         `json:"event_id"`
	EventSourceURL string         `json:"event_source_url,omitempty"`
	ActionSource   string         `json:"action_source"`
	UserData       map[string]any `json:"user_data"`
	CustomData     map[string]any `json:"custom_data,omitempty"`
}

type capiResponse struct {
	EventsReceived int `json:"events_received"`
	Error          *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error,omitempty"`
}

// Endpoint is the events URL for the configured pixel.
func (s *ConversionAPISink) Endpoint() string {
	base := strings.TrimRight(s.cfg.GraphBaseURL, "/")
	return fmt.Sprintf("%s/%s/%s/events?access_token=%s", base, s.cfg.GraphVersion, url.PathEscape(s.cfg.PixelID), url.QueryEscape(s.cfg.AccessToken))
}

// buildRequest shapes the request body for event.
func (s *ConversionAPISink) buildRequest(event conversion.Event) capiRequest {
	userData := map[string]any{}
	for k, v := range hashedUserData(event) {
		switch k {
		case "em", "ph":
			userData[k] = []string{v}
		default:
			userData[k] = v
		}
	}
	if event.Context.ClientIP != "" {
		userData["client_ip_address"] = event.Context.ClientIP
	}
	if event.Context.UserAgent != "" {
		userData["client_user_agent"] = event.Context.UserAgent
	}
	if event.Context.Fbp != "" {
		userData["fbp"] = event.Context.Fbp
	}
	if event.Context.Fbc != "" {
		userData["fbc"] = event.Context.Fbc
	}

	customData := map[string]any{"lead_event_source": "website"}
	if nationality := event.Subject.Classification[identity.AttrNationality]; nationality != "" {
		customData["nationality"] = nationality
	}
	switch p := event.Payload.(type) {
	case conversion.FormStart:
		customData["form_id"] = p.FormName
	case conversion.Lead:
		customData["form_id"] = p.FormName
		customData["content_name"] = p.FormName
		customData["currency"] = currencyOr(p.Currency, s.cfg.Currency)
		customData["value"] = p.DeclaredValue
		if p.Destination != "" {
			customData["content_category"] = p.Destination
		}
	case conversion.LeadConfirmation:
		customData["currency"] = currencyOr("", s.cfg.Currency)
		customData["status"] = "confirmed"
	}

	req := capiRequest{Data: []capiEvent{{
		EventName:      MetaEventName(event.Name),
		EventTime:      event.OccurredAt.Unix(),
		EventID:        event.CorrelationID,
		EventSourceURL: event.PageURL(),
		ActionSource:   "website",
		UserData:       userData,
		CustomData:     customData,
	}}}
	if s.isTest(event) {
		req.TestEventCode = s.cfg.TestEventCode
	}
	return req
}

func (s *ConversionAPISink) isTest(event conversion.Event) bool {
	return s.cfg.TestEventCode != "" && testTraffic(event)
}

func (s *ConversionAPISink) Send(ctx context.Context, event conversion.Event) conversion.Outcome {
	body, err := json.Marshal(s.buildRequest(event))
	if err != nil {
		return conversion.Failed("encode: " + err.Error())
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint(), bytes.NewReader(body))
	if err != nil {
		return conversion.Failed("build request: " + err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return transportFailure(ctx, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return transportFailure(ctx, err)
	}
	var parsed capiResponse
	_ = json.Unmarshal(raw, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || parsed.Error != nil {
		if parsed.Error != nil {
			return conversion.Failed(fmt.Sprintf("graph api %d: %s", resp.StatusCode, parsed.Error.Message))
		}
		return conversion.Failed(fmt.Sprintf("graph api %d", resp.StatusCode))
	}
	return conversion.Delivered()
}
