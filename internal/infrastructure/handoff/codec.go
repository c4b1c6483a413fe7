// Package handoff encodes the identity and correlation state that must survive a
// full page navigation into the destination URL's query string, and recovers it
// on the destination page.
package handoff

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"unicode"
)

// Query keys, as read by the thank-you page.
const (
	KeyCorrelationID = "eventId"
	KeyExternalID    = "external_id"
	KeyEmail         = "email"
	KeyPhone         = "phone"
	KeyFirstName     = "firstName"
	KeyLastName      = "lastName"
	KeyName          = "name"
	KeyNationality   = "nationality"
	KeyFbp           = "fbp"
	KeyFbc           = "fbc"
)

// MaxCorrelationIDLength bounds a recovered correlation ID.
const MaxCorrelationIDLength = 128

var ErrInvalidDestination = errors.New("invalid handoff destination")

// Token is the minimal state carried across a navigation. A nil field was not
// provided; a pointer to "" was provided empty. Email and phone travel in the
// clear only here, and the destination re-hashes them before use.
type Token struct {
	CorrelationID *string `json:"correlationId,omitempty"`
	ExternalID    *string `json:"externalId,omitempty"`
	Email         *string `json:"email,omitempty"`
	Phone         *string `json:"phone,omitempty"`
	FirstName     *string `json:"firstName,omitempty"`
	LastName      *string `json:"lastName,omitempty"`
	Name          *string `json:"name,omitempty"`
	Nationality   *string `json:"nationality,omitempty"`
	Fbp           *string `json:"fbp,omitempty"`
	Fbc           *string `json:"fbc,omitempty"`
}

// String returns a pointer to s for building tokens.
func String(s string) *string { return &s }

// Value dereferences p, returning "" when absent.
func Value(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func (t *Token) fields() []struct {
	key string
	ptr **string
} {
	return []struct {
		key string
		ptr **string
	}{
		{KeyCorrelationID, &t.CorrelationID},
		{KeyExternalID, &t.ExternalID},
		{KeyEmail, &t.Email},
		{KeyPhone, &t.Phone},
		{KeyFirstName, &t.FirstName},
		{KeyLastName, &t.LastName},
		{KeyName, &t.Name},
		{KeyNationality, &t.Nationality},
		{KeyFbp, &t.Fbp},
		{KeyFbc, &t.Fbc},
	}
}

// Values returns the non-empty fields as query values.
func (t Token) Values() url.Values {
	values := url.Values{}
	for _, f := range t.fields() {
		if v := Value(*f.ptr); v != "" {
			values.Set(f.key, v)
		}
	}
	return values
}

// IsEmpty reports whether encoding would produce nothing.
func (t Token) IsEmpty() bool {
	return len(t.Values()) == 0
}

// Encode serializes the token as a query string with keys in sorted order.
// Empty and absent fields are omitted.
func Encode(t Token) string {
	return t.Values().Encode()
}

// AppendToURL merges the token into dest, replacing any handoff keys already
// present and keeping every unrelated parameter.
func AppendToURL(dest string, t Token) (string, error) {
	u, err := url.Parse(dest)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidDestination, err)
	}
	query := u.Query()
	for _, f := range t.fields() {
		query.Del(f.key)
	}
	for key, vals := range t.Values() {
		query[key] = vals
	}
	u.RawQuery = query.Encode()
	return u.String(), nil
}

// StripURL removes every handoff key from raw so contact values never leave
// the destination page in a reported URL. Unparseable input is returned
// without its query.
func StripURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		before, _, _ := strings.Cut(raw, "?")
		return before
	}
	query := u.Query()
	var t Token
	for _, f := range t.fields() {
		query.Del(f.key)
	}
	u.RawQuery = query.Encode()
	return u.String()
}

// Decode reads a token from parsed query values. Missing keys stay nil.
func Decode(values url.Values) Token {
	var t Token
	for _, f := range t.fields() {
		vals, ok := values[f.key]
		if !ok || len(vals) == 0 {
			continue
		}
		v := vals[0]
		*f.ptr = &v
	}
	return t
}

// DecodeQuery parses a raw query string, with or without a leading "?".
// Malformed pairs are dropped and every recoverable pair is kept.
func DecodeQuery(raw string) Token {
	raw = strings.TrimPrefix(raw, "?")
	values := url.Values{}
	for _, pair := range strings.FieldsFunc(raw, func(r rune) bool { return r == '&' || r == ';' }) {
		key, value, _ := strings.Cut(pair, "=")
		k, err := url.QueryUnescape(key)
		if err != nil || k == "" {
			continue
		}
		v, err := url.QueryUnescape(value)
		if err != nil {
			continue
		}
		values.Add(k, v)
	}
	return Decode(values)
}

// DecodeURL decodes the token from a full URL. An unparseable URL falls back
// to whatever follows the first "?".
func DecodeURL(raw string) Token {
	if u, err := url.Parse(raw); err == nil {
		return DecodeQuery(u.RawQuery)
	}
	if _, query, ok := strings.Cut(raw, "?"); ok {
		if i := strings.IndexByte(query, '#'); i >= 0 {
			query = query[:i]
		}
		return DecodeQuery(query)
	}
	return Token{}
}

// Correlation returns the recovered correlation ID, or a fresh one from mint
// when the token cannot supply a usable value. recovered is false in the
// latter case.
func (t Token) Correlation(mint func() string) (id string, recovered bool) {
	if valid := usableCorrelationID(Value(t.CorrelationID)); valid != "" {
		return valid, true
	}
	return mint(), false
}

func usableCorrelationID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > MaxCorrelationIDLength {
		return ""
	}
	for _, r := range id {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return ""
		}
	}
	return id
}

// PresentKeys lists the keys the token carries, sorted. Used for logging
// without values.
func (t Token) PresentKeys() []string {
	var keys []string
	for _, f := range t.fields() {
		if *f.ptr != nil {
			keys = append(keys, f.key)
		}
	}
	sort.Strings(keys)
	return keys
}
