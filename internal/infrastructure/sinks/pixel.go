package sinks

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/AtRiskMedia/tractstack-leads/internal/domain/entities/conversion"
	"github.com/AtRiskMedia/tractstack-leads/pkg/config"
)

// MetaPixelSink fires the ad network's image beacon. Its eid is the
// correlation ID verbatim, which is what lets the network dedup it against the
// conversion API report of the same event.
type MetaPixelSink struct {
	pixelID  string
	endpoint string
	currency string
	client   *http.Client
}

func NewMetaPixelSink(cfg config.MetaConfig, client *http.Client) *MetaPixelSink {
	return &MetaPixelSink{
		pixelID:  cfg.PixelID,
		endpoint: cfg.PixelEndpoint,
		currency: cfg.Currency,
		client:   defaultClient(client),
	}
}

func (s *MetaPixelSink) Name() string { return NameMetaPixel }

func (s *MetaPixelSink) Available() (bool, string) {
	if s.pixelID == "" {
		return false, "META_PIXEL_ID not set"
	}
	if s.endpoint == "" {
		return false, "META_PIXEL_ENDPOINT not set"
	}
	return true, ""
}

// BeaconURL builds the beacon request for event.
func (s *MetaPixelSink) BeaconURL(event conversion.Event) (string, error) {
	u, err := url.Parse(s.endpoint)
	if err != nil {
		return "", err
	}
	q := url.Values{}
	q.Set("id", s.pixelID)
	q.Set("ev", MetaEventName(event.Name))
	q.Set("eid", event.CorrelationID)
	q.Set("noscript", "1")
	q.Set("ts", strconv.FormatInt(event.OccurredAt.UnixMilli(), 10))
	if page := event.PageURL(); page != "" {
		q.Set("dl", page)
	}
	for k, v := range hashedUserData(event) {
		q.Set("ud["+k+"]", v)
	}
	if event.Context.Fbp != "" {
		q.Set("fbp", event.Context.Fbp)
	}
	if event.Context.Fbc != "" {
		q.Set("fbc", event.Context.Fbc)
	}
	if lead, ok := event.Payload.(conversion.Lead); ok {
		q.Set("cd[content_name]", lead.FormName)
		if lead.Destination != "" {
			q.Set("cd[content_category]", lead.Destination)
		}
		if lead.DeclaredValue > 0 {
			q.Set("cd[value]", strconv.FormatFloat(lead.DeclaredValue, 'f', 2, 64))
			q.Set("cd[currency]", currencyOr(lead.Currency, s.currency))
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *MetaPixelSink) Send(ctx context.Context, event conversion.Event) conversion.Outcome {
	beacon, err := s.BeaconURL(event)
	if err != nil {
		return conversion.Failed("invalid pixel endpoint: " + err.Error())
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, beacon, nil)
	if err != nil {
		return conversion.Failed("build request: " + err.Error())
	}
	if event.Context.UserAgent != "" {
		req.Header.Set("User-Agent", event.Context.UserAgent)
	}
	if event.Context.ClientIP != "" {
		req.Header.Set("X-Forwarded-For", event.Context.ClientIP)
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

func currencyOr(currency, fallback string) string {
	if currency != "" {
		return currency
	}
	if fallback != "" {
		return fallback
	}
	return "SAR"
}
