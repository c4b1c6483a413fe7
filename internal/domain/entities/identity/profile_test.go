package identity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeClassificationKeepsExistingOnEmpty(t *testing.T) {
	p := NewVisitorProfile("vis_1", time.Now())

	assert.True(t, p.MergeClassification(map[string]string{AttrNationality: "saudi", AttrUserType: "family"}))
	assert.True(t, p.MergeClassification(map[string]string{AttrNationality: "", AttrUserType: "couple"}))
	assert.False(t, p.MergeClassification(map[string]string{AttrUserType: "couple"}))

	assert.Equal(t, "saudi", p.Classification[AttrNationality])
	assert.Equal(t, "couple", p.Classification[AttrUserType])
}

func TestAddInterestsDeduplicatesAndCaps(t *testing.T) {
	p := NewVisitorProfile("vis_1", time.Now())

	p.AddInterests(3, "italy", "uk", "italy")
	assert.Equal(t, []string{"italy", "uk"}, p.Interests)

	p.AddInterests(3, "cruise", "travel")
	assert.Equal(t, []string{"uk", "cruise", "travel"}, p.Interests)
}

func TestAppendCappedEvictsOldest(t *testing.T) {
	var history []VisitRecord
	for i := 1; i <= 5; i++ {
		history = AppendCapped(history, VisitRecord{VisitNumber: i}, 3)
	}
	require.Len(t, history, 3)
	assert.Equal(t, 3, history[0].VisitNumber)
	assert.Equal(t, 5, history[2].VisitNumber)
}

func TestSnapshotIsACopy(t *testing.T) {
	p := NewVisitorProfile("vis_1", time.Now())
	p.ContactFingerprints[FieldEmail] = "abc"
	snap := SnapshotOf(p, false)

	snap.ContactFingerprints[FieldEmail] = "mutated"
	snap.Interests = append(snap.Interests, "x")

	assert.Equal(t, "abc", p.ContactFingerprints[FieldEmail])
	assert.Empty(t, p.Interests)
}

func TestNewExportIsDefaultShaped(t *testing.T) {
	e := NewExport(time.Now())
	assert.True(t, e.IsEmpty())
	assert.NotNil(t, e.VisitHistory)
	assert.NotNil(t, e.FormSubmissions)
	assert.NotNil(t, e.Profile.Classification)
	assert.NotNil(t, e.Profile.ContactFingerprints)
}

func TestSnapshotMatches(t *testing.T) {
	snap := Snapshot{
		VisitCount:           3,
		FormInteractionCount: 1,
		Classification:       map[string]string{AttrNationality: "saudi", AttrUserType: "family"},
		Interests:            []string{"italy", "travel"},
	}

	tests := []struct {
		name     string
		criteria Criteria
		want     bool
	}{
		{"empty criteria", Criteria{}, true},
		{"min visits met", Criteria{MinVisits: 3}, true},
		{"min visits not met", Criteria{MinVisits: 4}, false},
		{"max visits exceeded", Criteria{MaxVisits: 2}, false},
		{"classification equal", Criteria{Classification: map[string]string{AttrUserType: "family"}}, true},
		{"classification differs", Criteria{Classification: map[string]string{AttrNationality: "uae"}}, false},
		{"form interactions", Criteria{MinFormInteractions: 2}, false},
		{"any interest", Criteria{AnyInterests: []string{"cruise", "italy"}}, true},
		{"no interest", Criteria{AnyInterests: []string{"cruise"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, snap.Matches(tt.criteria))
		})
	}
}
