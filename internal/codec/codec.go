// Package codec provides the wire-level primitives shared by every other
// package: unpadded Base64URL for binary fields, ISO-8601 timestamps, and
// UUIDv4 generation. Nothing here touches the filesystem or WebAuthn
// semantics.
package codec

import (
	"encoding/base64"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openwrt/webauthn-helper/internal/apperr"
)

// base64URLEncoding is RFC 4648 §5 without padding, matching every binary
// field on the wire (challenge bytes, credential ids, public keys).
var base64URLEncoding = base64.RawURLEncoding

// EncodeBytes renders b as an unpadded Base64URL string. Always succeeds.
func EncodeBytes(b []byte) string {
	return base64URLEncoding.EncodeToString(b)
}

// DecodeBytes parses an unpadded Base64URL string back into raw bytes. It
// rejects padding characters and the standard (non-URL-safe) alphabet
// outright, rather than silently tolerating them, so malformed input from
// the calling web UI is caught at the boundary instead of downstream.
func DecodeBytes(s string) ([]byte, error) {
	if strings.ContainsAny(s, "=+/") {
		return nil, apperr.NewInvalidInput("invalid base64url encoding: unexpected %q", s)
	}
	b, err := base64URLEncoding.DecodeString(s)
	if err != nil {
		return nil, apperr.NewInvalidInput("invalid base64url encoding: %v", err)
	}
	return b, nil
}

// NewUUID returns a new UUIDv4 string in canonical 8-4-4-4-12 lowercase
// form, seeded from crypto/rand via google/uuid.
func NewUUID() string {
	return uuid.New().String()
}

// ParseUUID validates that s is a canonical UUID, returning INVALID_INPUT
// on malformed input.
func ParseUUID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.UUID{}, apperr.NewInvalidInput("invalid challenge id: %v", err)
	}
	return id, nil
}

// isoLayout is the canonical wire timestamp: ISO-8601, UTC, Z-suffixed,
// microsecond precision.
const isoLayout = "2006-01-02T15:04:05.000000Z"

// FormatTime renders t as a UTC, Z-suffixed ISO-8601 timestamp. Always
// succeeds.
func FormatTime(t time.Time) string {
	return t.UTC().Format(isoLayout)
}

// ParseTime parses an ISO-8601 UTC timestamp produced by FormatTime (or
// any RFC3339-compatible variant a persisted record may contain).
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(isoLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, apperr.NewStorageError(err, "invalid timestamp %q", s)
	}
	return t.UTC(), nil
}

// Now returns the current UTC time truncated to microsecond precision, so
// round-tripping through FormatTime/ParseTime is lossless.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
