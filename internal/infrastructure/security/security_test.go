package security

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AtRiskMedia/tractstack-leads/internal/domain/entities/identity"
	"github.com/AtRiskMedia/tractstack-leads/internal/infrastructure/observability/logging"
)

type brokenReader struct{}

func (brokenReader) Read([]byte) (int, error) { return 0, errors.New("no entropy") }

func sha(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestMinterCorrelationIDIsUUIDv4(t *testing.T) {
	m := NewMinter(logging.NewDiscardLogger())
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := m.CorrelationID()
		parsed, err := uuid.Parse(id)
		require.NoError(t, err)
		assert.Equal(t, uuid.Version(4), parsed.Version())
		assert.False(t, seen[id])
		seen[id] = true
	}
	assert.False(t, m.Degraded())
}

func TestMinterExternalAndVisitorIDs(t *testing.T) {
	m := NewMinter(nil)

	_, err := ulid.Parse(m.ExternalID())
	require.NoError(t, err)

	vid := m.VisitorID()
	assert.True(t, strings.HasPrefix(vid, VisitorIDPrefix))
	_, err = ulid.Parse(strings.TrimPrefix(vid, VisitorIDPrefix))
	require.NoError(t, err)
	assert.NotEqual(t, m.VisitorID(), vid)
}

func TestMinterFallsBackWithSingleWarning(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.NewChanneledLogger(&logging.LoggerConfig{Output: &buf, JSONFormat: true, DefaultLevel: slog.LevelInfo})
	require.NoError(t, err)

	m := NewMinterWithSource(brokenReader{}, logger)
	a := m.CorrelationID()
	b := m.CorrelationID()
	_ = m.ExternalID()

	assert.NotEqual(t, a, b)
	assert.True(t, m.Degraded())
	_, err = uuid.Parse(a)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(buf.String(), "EntropySourceDegraded"))
}

func TestFingerprintNormalization(t *testing.T) {
	assert.Equal(t, sha("a@example.com"), Fingerprint(identity.FieldEmail, "A@Example.com "))
	assert.NotEqual(t, "A@Example.com ", Fingerprint(identity.FieldEmail, "A@Example.com "))

	assert.Equal(t, "966501234567", NormalizePhone("+966 50-123-4567"))
	assert.Equal(t, "0501234567", NormalizePhone("٠٥٠١٢٣٤٥٦٧"))
	assert.Equal(t, "0501234567", NormalizePhone("۰۵۰۱۲۳۴۵۶۷"))
	assert.Equal(t, "123", NormalizePhone("１２３"))

	assert.Equal(t, "sara al harbi", NormalizeName("  Sara   Al Harbi "))
	assert.Equal(t, "", Fingerprint(identity.FieldPhone, "n/a"))
}

func TestSplitName(t *testing.T) {
	first, last := SplitName("Sara Al Harbi")
	assert.Equal(t, "Sara", first)
	assert.Equal(t, "Al Harbi", last)

	first, last = SplitName("Cher")
	assert.Equal(t, "Cher", first)
	assert.Empty(t, last)

	first, last = SplitName("   ")
	assert.Empty(t, first)
	assert.Empty(t, last)
}

func TestIdempotencyKeyIsDeterministicPerPurpose(t *testing.T) {
	a := IdempotencyKey("c1", PurposeWebhook)
	assert.Len(t, a, 32)
	assert.Equal(t, a, IdempotencyKey("c1", PurposeWebhook))
	assert.NotEqual(t, a, IdempotencyKey("c1", PurposeEmail))
	assert.NotEqual(t, a, IdempotencyKey("c2", PurposeWebhook))
	assert.Empty(t, IdempotencyKey("", PurposeWebhook))
}

func TestSealerRoundTrip(t *testing.T) {
	for _, key := range []string{
		"0123456789abcdef0123456789abcdef",
		"raw-sixteen-key!",
		strings.Repeat("ab", 32),
	} {
		s, err := NewSealer(key)
		require.NoError(t, err, key)
		sealed, err := s.Seal("payload")
		require.NoError(t, err)
		assert.NotContains(t, sealed, "payload")
		plain, err := s.Open(sealed)
		require.NoError(t, err)
		assert.Equal(t, "payload", plain)
	}

	_, err := NewSealer("short")
	assert.ErrorIs(t, err, ErrInvalidKey)

	s, err := NewSealer("raw-sixteen-key!")
	require.NoError(t, err)
	_, err = s.Open("AAAA")
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestRelayAndAdminTokens(t *testing.T) {
	token, err := GenerateRelayToken("secret", "tractstack-leads", "vis_1", "key-1", time.Minute)
	require.NoError(t, err)

	claims, err := ValidateJWT(token, "secret")
	require.NoError(t, err)
	assert.Equal(t, "key-1", claims["jti"])
	assert.Equal(t, "tractstack-leads", claims["iss"])

	_, err = ValidateJWT(token, "wrong")
	assert.Error(t, err)

	admin, err := GenerateAdminToken("secret", "ops", time.Minute)
	require.NoError(t, err)
	claims, err = ValidateJWT(admin, "secret")
	require.NoError(t, err)
	assert.Equal(t, "admin", claims["role"])

	expired, err := GenerateAdminToken("secret", "ops", -time.Minute)
	require.NoError(t, err)
	_, err = ValidateJWT(expired, "secret")
	assert.Error(t, err)
}
