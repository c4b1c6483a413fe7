// Package identity provides domain entities for the browser-local visitor identity:
// the rolling profile, its capped visit and submission histories, and the
// read-only views handed to the conversion pipeline.
package identity

import (
	"slices"
	"time"
)

// Contact fields that may be fingerprinted. Values are always SHA-256 hex of the
// normalized input, never the raw value.
const (
	FieldEmail     = "email"
	FieldPhone     = "phone"
	FieldName      = "name"
	FieldFirstName = "first_name"
	FieldLastName  = "last_name"
)

// Well-known classification attributes.
const (
	AttrNationality = "nationality"
	AttrUserType    = "user_type"
	AttrLanguage    = "language"
)

// VisitorProfile is one browser's accumulated knowledge of a visitor
type VisitorProfile struct {
	VisitorID            string            `json:"visitorId"`
	IsReturning          bool              `json:"isReturning"`
	VisitCount           int               `json:"visitCount"`
	FirstSeenAt          time.Time         `json:"firstSeenAt"`
	LastSeenAt           time.Time         `json:"lastSeenAt"`
	ContactFingerprints  map[string]string `json:"contactFingerprints"`
	Classification       map[string]string `json:"classification"`
	Interests            []string          `json:"interests"`
	FormInteractionCount int               `json:"formInteractionCount"`
	LastFormSubmissionAt *time.Time        `json:"lastFormSubmissionAt,omitempty"`
	LastUpdatedAt        time.Time         `json:"lastUpdatedAt"`
}

// VisitRecord is appended once per page bootstrap and never mutated
type VisitRecord struct {
	Timestamp   time.Time `json:"timestamp"`
	URL         string    `json:"url"`
	Referrer    string    `json:"referrer"`
	UserAgent   string    `json:"userAgent,omitempty"`
	VisitNumber int       `json:"visitNumber"`
}

// FormSubmissionRecord is appended exactly once per successful submission
type FormSubmissionRecord struct {
	Timestamp      time.Time         `json:"timestamp"`
	FormName       string            `json:"formName"`
	PageURL        string            `json:"pageUrl"`
	ExternalID     string            `json:"externalId"`
	CorrelationID  string            `json:"correlationId"`
	Classification map[string]string `json:"classification"`
	DeclaredValue  float64           `json:"declaredValue,omitempty"`
	Currency       string            `json:"currency,omitempty"`
	Destination    string            `json:"destination,omitempty"`
}

// NewVisitorProfile creates an empty profile for a freshly minted visitor ID
func NewVisitorProfile(visitorID string, now time.Time) *VisitorProfile {
	return &VisitorProfile{
		VisitorID:           visitorID,
		FirstSeenAt:         now,
		LastSeenAt:          now,
		ContactFingerprints: make(map[string]string),
		Classification:      make(map[string]string),
		Interests:           []string{},
		LastUpdatedAt:       now,
	}
}

// Normalize replaces nil collections so decoded blobs are always default-shaped.
func (p *VisitorProfile) Normalize() {
	if p.ContactFingerprints == nil {
		p.ContactFingerprints = make(map[string]string)
	}
	if p.Classification == nil {
		p.Classification = make(map[string]string)
	}
	if p.Interests == nil {
		p.Interests = []string{}
	}
}

// Clone returns a deep copy.
func (p *VisitorProfile) Clone() *VisitorProfile {
	if p == nil {
		return nil
	}
	c := *p
	c.ContactFingerprints = cloneMap(p.ContactFingerprints)
	c.Classification = cloneMap(p.Classification)
	c.Interests = append([]string{}, p.Interests...)
	if p.LastFormSubmissionAt != nil {
		t := *p.LastFormSubmissionAt
		c.LastFormSubmissionAt = &t
	}
	return &c
}

// MergeClassification applies last-write-wins per field. Empty values never
// overwrite an existing attribute.
func (p *VisitorProfile) MergeClassification(attrs map[string]string) bool {
	changed := false
	for key, value := range attrs {
		if key == "" || value == "" {
			continue
		}
		if p.Classification[key] != value {
			p.Classification[key] = value
			changed = true
		}
	}
	return changed
}

// AddInterests appends unseen interests and keeps only the most recent limit.
func (p *VisitorProfile) AddInterests(limit int, interests ...string) bool {
	changed := false
	for _, interest := range interests {
		if interest == "" || slices.Contains(p.Interests, interest) {
			continue
		}
		p.Interests = append(p.Interests, interest)
		changed = true
	}
	if limit > 0 && len(p.Interests) > limit {
		p.Interests = append([]string{}, p.Interests[len(p.Interests)-limit:]...)
	}
	return changed
}

// AppendCapped appends item and evicts the oldest entries beyond limit.
func AppendCapped[T any](history []T, item T, limit int) []T {
	history = append(history, item)
	if limit > 0 && len(history) > limit {
		history = append([]T{}, history[len(history)-limit:]...)
	}
	return history
}

func cloneMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
