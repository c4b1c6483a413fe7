// Package services provides application-level orchestration services
package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/AtRiskMedia/tractstack-leads/internal/domain/entities/identity"
	"github.com/AtRiskMedia/tractstack-leads/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/tractstack-leads/internal/infrastructure/security"
	"github.com/AtRiskMedia/tractstack-leads/internal/infrastructure/storage"
	"github.com/AtRiskMedia/tractstack-leads/pkg/config"
)

// Profile notification kinds emitted to observers.
const (
	NotifyIdentification = "user_identification"
	NotifyProfileUpdate  = "user_profile_update"
	NotifyDataCleared    = "user_data_cleared"
)

// PageLoad describes the page bootstrapping the store
type PageLoad struct {
	URL       string `json:"url"`
	Referrer  string `json:"referrer,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
}

// ContactUpdate carries raw contact values. They are hashed before they touch
// the profile and are never persisted.
type ContactUpdate struct {
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Name      string `json:"name,omitempty"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
}

// SubmissionInfo marks an update as a completed form submission
type SubmissionInfo struct {
	FormName      string  `json:"formName"`
	PageURL       string  `json:"pageUrl"`
	ExternalID    string  `json:"externalId"`
	CorrelationID string  `json:"correlationId"`
	DeclaredValue float64 `json:"declaredValue,omitempty"`
	Currency      string  `json:"currency,omitempty"`
	Destination   string  `json:"destination,omitempty"`
}

// ProfileUpdate is a partial profile merged by UpdateProfile
type ProfileUpdate struct {
	Classification map[string]string `json:"classification,omitempty"`
	Contact        ContactUpdate     `json:"contact"`
	Interests      []string          `json:"interests,omitempty"`
	PageURL        string            `json:"pageUrl,omitempty"`
	Submission     *SubmissionInfo   `json:"submission,omitempty"`
}

// ProfileNotification is delivered to observers after a profile change
type ProfileNotification struct {
	Kind     string            `json:"kind"`
	Snapshot identity.Snapshot `json:"snapshot"`
}

// ProfileObserver receives profile-changed notifications synchronously.
type ProfileObserver func(ProfileNotification)

// IdentityStore owns the visitor profile, visit history and submission
// history persisted in browser-local storage. One instance serves one page
// lifecycle. Concurrent tabs share storage without locking, so two tabs
// bootstrapping at once may each mint a visitor id; the last write wins.
type IdentityStore struct {
	primary   storage.Storage
	keys      storage.KeySet
	cfg       config.IdentityConfig
	minter    *security.Minter
	logger    *logging.ChanneledLogger
	observers []ProfileObserver
	now       func() time.Time

	mu          sync.Mutex
	active      storage.Storage
	degraded    bool
	initialized bool
	profile     *identity.VisitorProfile
}

// NewIdentityStore builds a store over primary. Nothing is read until
// Initialize or Resume is called.
func NewIdentityStore(primary storage.Storage, keys storage.KeySet, cfg config.IdentityConfig, minter *security.Minter, logger *logging.ChanneledLogger, observers ...ProfileObserver) *IdentityStore {
	return &IdentityStore{
		primary:   primary,
		keys:      keys,
		cfg:       cfg,
		minter:    minter,
		logger:    logger,
		observers: observers,
		now:       time.Now,
		active:    primary,
	}
}

// Initialize bootstraps the page. Repeated calls within one page lifecycle
// return the current snapshot without counting another visit.
func (s *IdentityStore) Initialize(page PageLoad) identity.Snapshot {
	s.mu.Lock()
	if s.initialized {
		snap := identity.SnapshotOf(s.profile, s.degraded)
		s.mu.Unlock()
		return snap
	}
	s.initialized = true

	now := s.now()
	if err := s.bootstrap(page, now); err != nil {
		s.degrade("initialize", err, false)
		if err := s.bootstrap(page, now); err != nil {
			s.logger.Identity().Error("In-memory bootstrap failed", "error", err.Error())
		}
	}
	snap := identity.SnapshotOf(s.profile, s.degraded)
	s.mu.Unlock()

	s.logger.Identity().Info("Visitor identified",
		"visitorId", logging.MaskID(snap.VisitorID),
		"isReturning", snap.IsReturning,
		"visitCount", snap.VisitCount,
		"degraded", snap.Degraded)
	s.notify(NotifyIdentification, snap)
	return snap
}

// NewPage resets the per-page guard so the next Initialize counts a visit.
// Storage is left untouched.
func (s *IdentityStore) NewPage() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized = false
	s.degraded = false
	s.active = s.primary
}

// Resume loads a page that was already bootstrapped without counting a visit.
// When no visitor exists yet it behaves like Initialize.
func (s *IdentityStore) Resume(page PageLoad) identity.Snapshot {
	s.mu.Lock()
	if s.initialized {
		snap := identity.SnapshotOf(s.profile, s.degraded)
		s.mu.Unlock()
		return snap
	}

	found, err := s.load()
	if err != nil {
		s.degrade("resume", err, false)
		found = false
	}
	if found {
		s.initialized = true
		snap := identity.SnapshotOf(s.profile, s.degraded)
		s.mu.Unlock()
		return snap
	}
	s.mu.Unlock()
	return s.Initialize(page)
}

// UpdateProfile merges classification, hashes contact fields, infers
// interests and, for submissions, appends a FormSubmissionRecord.
func (s *IdentityStore) UpdateProfile(update ProfileUpdate) identity.Snapshot {
	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		s.Resume(PageLoad{URL: update.PageURL})
		s.mu.Lock()
	}
	if s.profile == nil {
		s.profile = identity.NewVisitorProfile(s.minter.VisitorID(), s.now())
	}

	now := s.now()
	p := s.profile
	changed := p.MergeClassification(update.Classification)
	if s.applyContact(p, update.Contact) {
		changed = true
	}
	interests := append(s.inferInterests(update.PageURL), update.Interests...)
	if p.AddInterests(s.cfg.InterestCap, interests...) {
		changed = true
	}

	var submission *identity.FormSubmissionRecord
	if update.Submission != nil {
		p.FormInteractionCount++
		p.LastFormSubmissionAt = &now
		submission = &identity.FormSubmissionRecord{
			Timestamp:      now,
			FormName:       update.Submission.FormName,
			PageURL:        update.Submission.PageURL,
			ExternalID:     update.Submission.ExternalID,
			CorrelationID:  update.Submission.CorrelationID,
			Classification: cloneStrings(p.Classification),
			DeclaredValue:  update.Submission.DeclaredValue,
			Currency:       update.Submission.Currency,
			Destination:    update.Submission.Destination,
		}
		changed = true
	}

	if changed {
		p.LastUpdatedAt = now
		if err := s.persistUpdate(p, submission); err != nil {
			s.degrade("update_profile", err, true)
			if err := s.persistUpdate(p, submission); err != nil {
				s.logger.Identity().Error("In-memory profile update failed", "error", err.Error())
			}
		}
	}
	snap := identity.SnapshotOf(p, s.degraded)
	s.mu.Unlock()

	if changed {
		s.logger.Identity().Info("Profile updated",
			"visitorId", logging.MaskID(snap.VisitorID),
			"formInteractionCount", snap.FormInteractionCount,
			"submission", submission != nil)
		s.notify(NotifyProfileUpdate, snap)
	}
	return snap
}

// Snapshot returns a read-only copy of the current profile.
func (s *IdentityStore) Snapshot() identity.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return identity.SnapshotOf(s.profile, s.degraded)
}

// Matches evaluates targeting criteria against the current profile.
func (s *IdentityStore) Matches(c identity.Criteria) bool {
	return s.Snapshot().Matches(c)
}

// Degraded reports whether the store fell back to memory for this page.
func (s *IdentityStore) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// Clear removes every namespaced key and resets in-memory state. It returns
// once all keys are gone.
func (s *IdentityStore) Clear() {
	s.mu.Lock()
	visitorID := ""
	if s.profile != nil {
		visitorID = s.profile.VisitorID
	}
	removed := 0
	targets := []storage.Storage{s.primary}
	if s.active != s.primary {
		targets = append(targets, s.active)
	}
	for _, target := range targets {
		for _, key := range s.keys.All() {
			if err := target.RemoveItem(key); err != nil {
				s.logger.Privacy().Warn("Failed to remove key during erasure", "key", key, "error", err.Error())
				continue
			}
			removed++
		}
	}
	s.profile = nil
	s.initialized = false
	s.degraded = false
	s.active = s.primary
	snap := identity.SnapshotOf(nil, false)
	s.mu.Unlock()

	s.logger.Privacy().Info("Visitor data cleared", "visitorId", logging.MaskID(visitorID), "keysRemoved", removed)
	s.notify(NotifyDataCleared, snap)
}

// Export returns the full persisted state. After Clear it is default-shaped.
func (s *IdentityStore) Export() identity.Export {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := identity.NewExport(s.now())
	if profile, ok, err := readJSON[identity.VisitorProfile](s.active, s.keys.Profile); err != nil {
		s.logger.Privacy().Warn("Export could not read profile", "error", err.Error())
	} else if ok {
		profile.Normalize()
		out.Profile = profile
	}
	if visits, ok, err := readJSON[[]identity.VisitRecord](s.active, s.keys.VisitHistory); err == nil && ok && visits != nil {
		out.VisitHistory = visits
	}
	if subs, ok, err := readJSON[[]identity.FormSubmissionRecord](s.active, s.keys.FormSubmissions); err == nil && ok && subs != nil {
		out.FormSubmissions = subs
	}
	return out
}

// bootstrap loads or creates the visitor and records one visit. Caller holds mu.
func (s *IdentityStore) bootstrap(page PageLoad, now time.Time) error {
	visitorID, ok, err := s.active.GetItem(s.keys.VisitorID)
	if err != nil {
		return err
	}

	var p *identity.VisitorProfile
	if !ok || visitorID == "" {
		p = identity.NewVisitorProfile(s.minter.VisitorID(), now)
		if err := s.active.SetItem(s.keys.VisitorID, p.VisitorID); err != nil {
			return err
		}
		if err := s.active.SetItem(s.keys.FirstVisit, now.UTC().Format(time.RFC3339Nano)); err != nil {
			return err
		}
	} else {
		p, err = s.readProfile(visitorID, now)
		if err != nil {
			return err
		}
		p.IsReturning = true
	}

	storedCount, err := s.storedVisitCount()
	if err != nil {
		return err
	}
	p.VisitCount = max(p.VisitCount, storedCount) + 1
	p.LastSeenAt = now
	p.LastUpdatedAt = now

	visits, _, err := readJSON[[]identity.VisitRecord](s.active, s.keys.VisitHistory)
	if err != nil && !errors.Is(err, errCorruptBlob) {
		return err
	}
	visits = identity.AppendCapped(visits, identity.VisitRecord{
		Timestamp:   now,
		URL:         page.URL,
		Referrer:    page.Referrer,
		UserAgent:   page.UserAgent,
		VisitNumber: p.VisitCount,
	}, s.cfg.VisitHistoryCap)
	p.AddInterests(s.cfg.InterestCap, s.inferInterests(page.URL)...)

	if err := writeJSON(s.active, s.keys.Profile, p); err != nil {
		return err
	}
	if err := writeJSON(s.active, s.keys.VisitHistory, visits); err != nil {
		return err
	}
	if err := s.active.SetItem(s.keys.VisitCount, strconv.Itoa(p.VisitCount)); err != nil {
		return err
	}
	if err := s.active.SetItem(s.keys.LastVisit, now.UTC().Format(time.RFC3339Nano)); err != nil {
		return err
	}
	s.profile = p
	return nil
}

// load reads an existing profile without recording a visit. Caller holds mu.
func (s *IdentityStore) load() (bool, error) {
	visitorID, ok, err := s.active.GetItem(s.keys.VisitorID)
	if err != nil {
		return false, err
	}
	if !ok || visitorID == "" {
		return false, nil
	}
	p, err := s.readProfile(visitorID, s.now())
	if err != nil {
		return false, err
	}
	s.profile = p
	return true, nil
}

// readProfile decodes the profile blob, rebuilding it around visitorID when
// the blob is missing or unreadable. The stored visitor id always wins.
func (s *IdentityStore) readProfile(visitorID string, now time.Time) (*identity.VisitorProfile, error) {
	stored, ok, err := readJSON[identity.VisitorProfile](s.active, s.keys.Profile)
	if err != nil && !errors.Is(err, errCorruptBlob) {
		return nil, err
	}
	if err != nil || !ok {
		if err != nil {
			s.logger.Identity().Warn("Discarding unreadable profile blob", "error", err.Error())
		}
		p := identity.NewVisitorProfile(visitorID, now)
		if first, ok, _ := s.active.GetItem(s.keys.FirstVisit); ok {
			if t, perr := time.Parse(time.RFC3339Nano, first); perr == nil {
				p.FirstSeenAt = t
			}
		}
		return p, nil
	}
	stored.Normalize()
	stored.VisitorID = visitorID
	return &stored, nil
}

func (s *IdentityStore) storedVisitCount() (int, error) {
	raw, ok, err := s.active.GetItem(s.keys.VisitCount)
	if err != nil || !ok {
		return 0, err
	}
	n, convErr := strconv.Atoi(raw)
	if convErr != nil {
		return 0, nil
	}
	return n, nil
}

func (s *IdentityStore) persistUpdate(p *identity.VisitorProfile, submission *identity.FormSubmissionRecord) error {
	if err := writeJSON(s.active, s.keys.Profile, p); err != nil {
		return err
	}
	if submission == nil {
		return nil
	}
	subs, _, err := readJSON[[]identity.FormSubmissionRecord](s.active, s.keys.FormSubmissions)
	if err != nil && !errors.Is(err, errCorruptBlob) {
		return err
	}
	subs = identity.AppendCapped(subs, *submission, s.cfg.SubmissionCap)
	return writeJSON(s.active, s.keys.FormSubmissions, subs)
}

// degrade switches to an in-memory store for the rest of the page lifecycle.
// With keep set the current profile is carried over, otherwise memory starts
// empty. Caller holds mu.
func (s *IdentityStore) degrade(operation string, err error, keep bool) {
	if s.degraded {
		return
	}
	s.logger.Identity().Warn("StorageUnavailable: continuing with in-memory profile",
		"operation", operation, "error", err.Error())
	s.degraded = true
	s.active = storage.NewMemoryStorage(nil)
	if !keep {
		s.profile = nil
		return
	}
	if s.profile != nil {
		s.profile.IsReturning = false
		_ = s.active.SetItem(s.keys.VisitorID, s.profile.VisitorID)
	}
}

func (s *IdentityStore) applyContact(p *identity.VisitorProfile, c ContactUpdate) bool {
	first, last := c.FirstName, c.LastName
	if first == "" && last == "" && c.Name != "" {
		first, last = security.SplitName(c.Name)
	}
	fields := map[string]string{
		identity.FieldEmail:     c.Email,
		identity.FieldPhone:     c.Phone,
		identity.FieldName:      c.Name,
		identity.FieldFirstName: first,
		identity.FieldLastName:  last,
	}
	changed := false
	for field, raw := range fields {
		hash := security.Fingerprint(field, raw)
		if hash == "" || p.ContactFingerprints[field] == hash {
			continue
		}
		p.ContactFingerprints[field] = hash
		changed = true
	}
	return changed
}

// inferInterests maps page path fragments to interests using the configured
// rules, in rule order.
func (s *IdentityStore) inferInterests(pageURL string) []string {
	if pageURL == "" || len(s.cfg.InterestRules) == 0 {
		return nil
	}
	path := pageURL
	if u, err := url.Parse(pageURL); err == nil && u.Path != "" {
		path = u.Path
	}
	path = strings.ToLower(path)

	fragments := make([]string, 0, len(s.cfg.InterestRules))
	for fragment := range s.cfg.InterestRules {
		fragments = append(fragments, fragment)
	}
	sort.Strings(fragments)

	var interests []string
	for _, fragment := range fragments {
		if strings.Contains(path, strings.ToLower(fragment)) {
			interests = append(interests, s.cfg.InterestRules[fragment])
		}
	}
	return interests
}

func (s *IdentityStore) notify(kind string, snap identity.Snapshot) {
	for _, observer := range s.observers {
		observer(ProfileNotification{Kind: kind, Snapshot: snap})
	}
}

var errCorruptBlob = errors.New("corrupt storage blob")

func readJSON[T any](st storage.Storage, key string) (T, bool, error) {
	var out T
	raw, ok, err := st.GetItem(key)
	if err != nil || !ok || raw == "" {
		return out, false, err
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		var zero T
		return zero, false, fmt.Errorf("%w: %s: %v", errCorruptBlob, key, err)
	}
	return out, true, nil
}

func writeJSON(st storage.Storage, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return st.SetItem(key, string(data))
}

func cloneStrings(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
