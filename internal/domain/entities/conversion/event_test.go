package conversion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/AtRiskMedia/tractstack-leads/internal/domain/entities/identity"
)

func TestNewTakesNameFromPayload(t *testing.T) {
	now := time.Now()
	cases := map[Name]Payload{
		PageViewed:    PageView{URL: "/"},
		FormStarted:   FormStart{FormName: "trip"},
		LeadSubmitted: Lead{FormName: "trip"},
		LeadConfirmed: LeadConfirmation{},
	}
	for want, payload := range cases {
		ev := New(payload, "c1", "e1", Subject{}, RequestContext{}, now)
		assert.Equal(t, want, ev.Name)
		assert.Equal(t, "c1", ev.CorrelationID)
	}
}

func TestEventContact(t *testing.T) {
	lead := New(Lead{Contact: Contact{Email: "a@b.c"}}, "c1", "", Subject{}, RequestContext{}, time.Now())
	contact, ok := lead.Contact()
	assert.True(t, ok)
	assert.Equal(t, "a@b.c", contact.Email)

	started := New(FormStart{FormName: "trip", Contact: Contact{Phone: "+1 555"}}, "c3", "", Subject{}, RequestContext{}, time.Now())
	contact, ok = started.Contact()
	assert.True(t, ok)
	assert.Equal(t, "+1 555", contact.Phone)

	view := New(PageView{URL: "/x"}, "c2", "", Subject{}, RequestContext{}, time.Now())
	_, ok = view.Contact()
	assert.False(t, ok)
	assert.Equal(t, "/x", view.PageURL())
}

func TestSubjectFromCopiesSnapshot(t *testing.T) {
	snap := identity.Snapshot{
		VisitorID:           "vis_1",
		VisitCount:          2,
		ContactFingerprints: map[string]string{identity.FieldEmail: "h"},
		Classification:      map[string]string{identity.AttrUserType: "family"},
		Interests:           []string{"italy"},
	}
	subject := SubjectFrom(snap)
	subject.Fingerprints[identity.FieldEmail] = "changed"

	assert.Equal(t, "h", snap.ContactFingerprints[identity.FieldEmail])
	assert.Equal(t, "vis_1", subject.VisitorID)
	assert.Equal(t, []string{"italy"}, subject.Interests)
}

func TestReportCounts(t *testing.T) {
	r := Report{Outcomes: []Outcome{
		{Sink: "a", Status: StatusDelivered},
		{Sink: "b", Status: StatusFailed, Reason: "timeout"},
		{Sink: "c", Status: StatusSkipped},
	}}
	assert.Equal(t, 1, r.Count(StatusFailed))
	o, ok := r.Outcome("b")
	assert.True(t, ok)
	assert.Equal(t, "timeout", o.Reason)
	_, ok = r.Outcome("z")
	assert.False(t, ok)
}
