package security

import (
	"bytes"
	crand "crypto/rand"
	"io"
	mrand "math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/AtRiskMedia/tractstack-leads/internal/infrastructure/observability/logging"
)

// VisitorIDPrefix marks identifiers minted for visitors.
const VisitorIDPrefix = "vis_"

// Minter produces correlation, external and visitor identifiers. Each call
// returns a fresh value; reusing one across sinks is the caller's job.
type Minter struct {
	secure io.Reader
	logger *logging.ChanneledLogger
	now    func() time.Time

	mu       sync.Mutex
	fallback *mrand.Rand
	warnOnce sync.Once
	degraded bool
}

// NewMinter reads from crypto/rand.
func NewMinter(logger *logging.ChanneledLogger) *Minter {
	return NewMinterWithSource(crand.Reader, logger)
}

// NewMinterWithSource reads entropy from r. When r fails the minter switches
// to a time-seeded pseudo-random source.
func NewMinterWithSource(r io.Reader, logger *logging.ChanneledLogger) *Minter {
	return &Minter{secure: r, logger: logger, now: time.Now}
}

// Degraded reports whether the fallback source has been used.
func (m *Minter) Degraded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.degraded
}

func (m *Minter) entropy(n int) []byte {
	b := make([]byte, n)
	_, err := io.ReadFull(m.secure, b)
	if err == nil {
		return b
	}
	m.warnOnce.Do(func() {
		if m.logger != nil {
			m.logger.System().Warn("EntropySourceDegraded: secure random source failed, using fallback", "error", err.Error())
		}
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	m.degraded = true
	if m.fallback == nil {
		m.fallback = mrand.New(mrand.NewSource(m.now().UnixNano()))
	}
	m.fallback.Read(b)
	return b
}

// CorrelationID returns an RFC 4122 version 4 UUID.
func (m *Minter) CorrelationID() string {
	id, err := uuid.NewRandomFromReader(bytes.NewReader(m.entropy(16)))
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// ExternalID returns a ULID scoped to one submission.
func (m *Minter) ExternalID() string {
	id, err := ulid.New(ulid.Timestamp(m.now()), bytes.NewReader(m.entropy(10)))
	if err != nil {
		return ulid.Make().String()
	}
	return id.String()
}

// VisitorID returns a prefixed ULID for a new visitor.
func (m *Minter) VisitorID() string {
	return VisitorIDPrefix + m.ExternalID()
}

// GenerateULID generates a new ULID string.
func GenerateULID() string {
	return ulid.Make().String()
}
