package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/AtRiskMedia/tractstack-leads/internal/domain/entities/conversion"
	"github.com/AtRiskMedia/tractstack-leads/pkg/config"
)

// SnapchatSink relays events to the Snapchat Conversions API with event_id
// set to the correlation ID, matching the browser snaptr call.
type SnapchatSink struct {
	cfg    config.SnapchatConfig
	client *http.Client
}

func NewSnapchatSink(cfg config.SnapchatConfig, client *http.Client) *SnapchatSink {
	return &SnapchatSink{cfg: cfg, client: defaultClient(client)}
}

func (s *SnapchatSink) Name() string { return NameSnapchat }

func (s *SnapchatSink) Available() (bool, string) {
	if s.cfg.PixelID == "" {
		return false, "SNAPCHAT_PIXEL_ID not set"
	}
	if s.cfg.AccessToken == "" {
		return false, "SNAPCHAT_ACCESS_TOKEN not set"
	}
	return true, ""
}

type snapchatRequest struct {
	Data []snapchatEvent `json:"data"`
}

type snapchatEvent struct {
	EventName      string         `json:"event_name"`
	ActionSource   string         `json:"action_source"`
	EventTime      int64          `json:"event_time"`
	EventID        string         `json:"event_id"`
	EventSourceURL string         `json:"event_source_url,omitempty"`
	UserData       map[string]any `json:"user_data"`
	CustomData     map[string]any `json:"custom_data,omitempty"`
}

// Endpoint is the events URL for the configured pixel.
func (s *SnapchatSink) Endpoint() string {
	base := strings.TrimRight(s.cfg.BaseURL, "/")
	return fmt.Sprintf("%s/v3/%s/events?access_token=%s", base, url.PathEscape(s.cfg.PixelID), url.QueryEscape(s.cfg.AccessToken))
}

func (s *SnapchatSink) buildRequest(event conversion.Event) snapchatRequest {
	userData := map[string]any{}
	for k, v := range hashedUserData(event) {
		switch k {
		case "em", "ph", "fn", "ln":
			userData[k] = []string{v}
		default:
			userData[k] = v
		}
	}
	if event.Context.ClientIP != "" {
		userData["client_ip_address"] = event.Context.ClientIP
	}
	if event.Context.UserAgent != "" {
		userData["user_agent"] = event.Context.UserAgent
	}
	if event.Context.ScClickID != "" {
		userData["sc_click_id"] = event.Context.ScClickID
	}

	customData := map[string]any{"event_id": event.CorrelationID}
	switch p := event.Payload.(type) {
	case conversion.FormStart:
		customData["content_category"] = []string{p.FormName}
	case conversion.Lead:
		if p.DeclaredValue > 0 {
			customData["value"] = strconv.FormatFloat(p.DeclaredValue, 'f', -1, 64)
			customData["currency"] = strings.ToUpper(currencyOr(p.Currency, ""))
		}
		if p.Destination != "" {
			customData["content_category"] = []string{p.Destination}
		}
	}

	return snapchatRequest{Data: []snapchatEvent{{
		EventName:      SnapchatEventName(event.Name),
		ActionSource:   "WEB",
		EventTime:      event.OccurredAt.Unix(),
		EventID:        event.CorrelationID,
		EventSourceURL: event.PageURL(),
		UserData:       userData,
		CustomData:     customData,
	}}}
}

func (s *SnapchatSink) Send(ctx context.Context, event conversion.Event) conversion.Outcome {
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
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return conversion.Failed("snapchat " + failedResponse(resp))
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	return conversion.Delivered()
}
