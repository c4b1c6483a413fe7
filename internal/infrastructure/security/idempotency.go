package security

import (
	"crypto/sha256"
	"encoding/hex"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Channel purposes for derived idempotency keys.
const (
	PurposeWebhook = "crm-webhook"
	PurposeEmail   = "lead-email"
)

// IdempotencyKey derives a channel-specific key from a correlation ID. The
// same inputs always produce the same 32 hex characters.
func IdempotencyKey(correlationID, purpose string) string {
	if correlationID == "" {
		return ""
	}
	out := make([]byte, 16)
	r := hkdf.New(sha256.New, []byte(correlationID), nil, []byte(purpose))
	if _, err := io.ReadFull(r, out); err != nil {
		sum := sha256.Sum256([]byte(purpose + ":" + correlationID))
		return hex.EncodeToString(sum[:16])
	}
	return hex.EncodeToString(out)
}
