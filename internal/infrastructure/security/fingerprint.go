package security

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/AtRiskMedia/tractstack-leads/internal/domain/entities/identity"
)

var lower = cases.Lower(language.Und)

// NormalizeEmail folds width and case and trims surrounding space.
func NormalizeEmail(email string) string {
	return lower.String(strings.TrimSpace(norm.NFKC.String(email)))
}

// NormalizePhone keeps digits only. Arabic-Indic and Persian digits are
// mapped to ASCII.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range norm.NFKC.String(phone) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= '٠' && r <= '٩':
			b.WriteRune('0' + (r - '٠'))
		case r >= '۰' && r <= '۹':
			b.WriteRune('0' + (r - '۰'))
		}
	}
	return b.String()
}

// NormalizeName lowercases and collapses internal whitespace.
func NormalizeName(name string) string {
	return lower.String(strings.Join(strings.Fields(norm.NFKC.String(name)), " "))
}

// SplitName splits a full name into first name and the remainder.
func SplitName(full string) (first, last string) {
	parts := strings.Fields(full)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}

// Hash returns the SHA-256 hex digest of an already normalized value, or ""
// when the value is empty.
func Hash(normalized string) string {
	if normalized == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Normalize applies the normalization rule for a contact field.
func Normalize(field, raw string) string {
	switch field {
	case identity.FieldEmail:
		return NormalizeEmail(raw)
	case identity.FieldPhone:
		return NormalizePhone(raw)
	default:
		return NormalizeName(raw)
	}
}

// Fingerprint normalizes and hashes raw for field.
func Fingerprint(field, raw string) string {
	return Hash(Normalize(field, raw))
}
