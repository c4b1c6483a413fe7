package identity

import (
	"slices"
	"time"
)

// Snapshot is a read-only view of the profile used to derive a conversion
// subject. It carries fingerprints and classification only.
type Snapshot struct {
	VisitorID            string            `json:"visitorId"`
	IsReturning          bool              `json:"isReturning"`
	Degraded             bool              `json:"degraded"`
	VisitCount           int               `json:"visitCount"`
	FormInteractionCount int               `json:"formInteractionCount"`
	FirstSeenAt          time.Time         `json:"firstSeenAt"`
	LastSeenAt           time.Time         `json:"lastSeenAt"`
	ContactFingerprints  map[string]string `json:"contactFingerprints"`
	Classification       map[string]string `json:"classification"`
	Interests            []string          `json:"interests"`
}

// SnapshotOf copies p into a Snapshot.
func SnapshotOf(p *VisitorProfile, degraded bool) Snapshot {
	if p == nil {
		return Snapshot{
			Degraded:            degraded,
			ContactFingerprints: map[string]string{},
			Classification:      map[string]string{},
			Interests:           []string{},
		}
	}
	c := p.Clone()
	return Snapshot{
		VisitorID:            c.VisitorID,
		IsReturning:          c.IsReturning,
		Degraded:             degraded,
		VisitCount:           c.VisitCount,
		FormInteractionCount: c.FormInteractionCount,
		FirstSeenAt:          c.FirstSeenAt,
		LastSeenAt:           c.LastSeenAt,
		ContactFingerprints:  c.ContactFingerprints,
		Classification:       c.Classification,
		Interests:            c.Interests,
	}
}

// Fingerprint returns the hash stored for a contact field, or "".
func (s Snapshot) Fingerprint(field string) string {
	return s.ContactFingerprints[field]
}

// Export is the full persisted state returned for data-portability requests
type Export struct {
	Profile         VisitorProfile         `json:"profile" yaml:"profile"`
	VisitHistory    []VisitRecord          `json:"visitHistory" yaml:"visitHistory"`
	FormSubmissions []FormSubmissionRecord `json:"formSubmissions" yaml:"formSubmissions"`
	ExportedAt      time.Time              `json:"exportedAt" yaml:"exportedAt"`
}

// NewExport returns a default-shaped export with non-nil collections.
func NewExport(now time.Time) Export {
	return Export{
		Profile: VisitorProfile{
			ContactFingerprints: map[string]string{},
			Classification:      map[string]string{},
			Interests:           []string{},
		},
		VisitHistory:    []VisitRecord{},
		FormSubmissions: []FormSubmissionRecord{},
		ExportedAt:      now,
	}
}

// IsEmpty reports whether nothing is persisted.
func (e Export) IsEmpty() bool {
	return e.Profile.VisitorID == "" && len(e.VisitHistory) == 0 && len(e.FormSubmissions) == 0
}

// Criteria selects visitors for targeted content. Zero values are ignored.
type Criteria struct {
	MinVisits           int               `json:"minVisits,omitempty"`
	MaxVisits           int               `json:"maxVisits,omitempty"`
	Classification      map[string]string `json:"classification,omitempty"`
	MinFormInteractions int               `json:"minFormInteractions,omitempty"`
	AnyInterests        []string          `json:"anyInterests,omitempty"`
}

// Matches reports whether the snapshot satisfies every set criterion.
func (s Snapshot) Matches(c Criteria) bool {
	if c.MinVisits > 0 && s.VisitCount < c.MinVisits {
		return false
	}
	if c.MaxVisits > 0 && s.VisitCount > c.MaxVisits {
		return false
	}
	for key, want := range c.Classification {
		if s.Classification[key] != want {
			return false
		}
	}
	if c.MinFormInteractions > 0 && s.FormInteractionCount < c.MinFormInteractions {
		return false
	}
	if len(c.AnyInterests) > 0 {
		return slices.ContainsFunc(c.AnyInterests, func(interest string) bool {
			return slices.Contains(s.Interests, interest)
		})
	}
	return true
}
