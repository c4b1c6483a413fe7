package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/AtRiskMedia/tractstack-leads/internal/domain/entities/conversion"
	"github.com/AtRiskMedia/tractstack-leads/pkg/config"
)

// TikTokSink relays events to the TikTok Events API. event_id is the
// correlation ID so browser and server events deduplicate.
type TikTokSink struct {
	cfg    config.TikTokConfig
	client *http.Client
}

func NewTikTokSink(cfg config.TikTokConfig, client *http.Client) *TikTokSink {
	return &TikTokSink{cfg: cfg, client: defaultClient(client)}
}

func (s *TikTokSink) Name() string { return NameTikTok }

func (s *TikTokSink) Available() (bool, string) {
	if s.cfg.PixelID == "" {
		return false, "TIKTOK_PIXEL_ID not set"
	}
	if s.cfg.AccessToken == "" {
		return false, "TIKTOK_ACCESS_TOKEN not set"
	}
	return true, ""
}

type tiktokRequest struct {
	PixelCode     string        `json:"pixel_code"`
	Data          []tiktokEvent `json:"data"`
	TestEventCode string        `json:"test_event_code,omitempty"`
}

type tiktokEvent struct {
	Event      string         `json:"event"`
	EventID    string         `json:"event_id"`
	Timestamp  string         `json:"timestamp"`
	Context    tiktokContext  `json:"context"`
	Properties map[string]any `json:"properties,omitempty"`
}

type tiktokContext struct {
	User      map[string]string `json:"user"`
	Page      tiktokPage        `json:"page"`
	UserAgent string            `json:"user_agent,omitempty"`
	IP        string            `json:"ip,omitempty"`
}

type tiktokPage struct {
	URL      string `json:"url,omitempty"`
	Referrer string `json:"referrer,omitempty"`
}

type tiktokResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *TikTokSink) buildRequest(event conversion.Event) tiktokRequest {
	hashed := hashedUserData(event)
	user := map[string]string{}
	for from, to := range map[string]string{"em": "email", "ph": "phone", "external_id": "external_id"} {
		if v := hashed[from]; v != "" {
			user[to] = v
		}
	}
	if event.Context.Ttclid != "" {
		user["ttclid"] = event.Context.Ttclid
	}
	if event.Context.Ttp != "" {
		user["ttp"] = event.Context.Ttp
	}

	properties := map[string]any{}
	page := tiktokPage{URL: event.PageURL()}
	switch p := event.Payload.(type) {
	case conversion.PageView:
		page.Referrer = p.Referrer
		properties["content_type"] = "product"
	case conversion.FormStart:
		properties["content_name"] = p.FormName
	case conversion.Lead:
		properties["content_name"] = p.FormName
		if p.Destination != "" {
			properties["content_category"] = p.Destination
		}
		if p.DeclaredValue > 0 {
			properties["value"] = p.DeclaredValue
			properties["currency"] = currencyOr(p.Currency, "")
		}
	case conversion.LeadConfirmation:
		properties["status"] = "confirmed"
	}

	req := tiktokRequest{
		PixelCode: s.cfg.PixelID,
		Data: []tiktokEvent{{
			Event:     TikTokEventName(event.Name),
			EventID:   event.CorrelationID,
			Timestamp: event.OccurredAt.UTC().Format(time.RFC3339),
			Context: tiktokContext{
				User:      user,
				Page:      page,
				UserAgent: event.Context.UserAgent,
				IP:        event.Context.ClientIP,
			},
			Properties: properties,
		}},
	}
	if s.cfg.TestEventCode != "" && testTraffic(event) {
		req.TestEventCode = s.cfg.TestEventCode
	}
	return req
}

func (s *TikTokSink) Send(ctx context.Context, event conversion.Event) conversion.Outcome {
	body, err := json.Marshal(s.buildRequest(event))
	if err != nil {
		return conversion.Failed("encode: " + err.Error())
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return conversion.Failed("build request: " + err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Access-Token", s.cfg.AccessToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return transportFailure(ctx, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return transportFailure(ctx, err)
	}
	var parsed tiktokResponse
	decodeErr := json.Unmarshal(raw, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return conversion.Failed(fmt.Sprintf("tiktok api %d", resp.StatusCode))
	}
	// A 200 can still carry a rejection in the body.
	if decodeErr == nil && parsed.Code != 0 {
		return conversion.Failed(fmt.Sprintf("tiktok api code %d: %s", parsed.Code, parsed.Message))
	}
	return conversion.Delivered()
}
