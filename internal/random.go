package internal

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
)

const (
	sessionIDSize = 24
	csrfTokenSize = 32
)

// NewSessionID returns a fresh opaque session id (base64url, no padding).
func NewSessionID() (string, error) {
	var raw [sessionIDSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// ValidSessionID reports whether sid has the shape produced by NewSessionID.
func ValidSessionID(sid string) bool {
	raw, err := base64.RawURLEncoding.DecodeString(sid)
	if err != nil {
		return false
	}
	return len(raw) == sessionIDSize
}

// NewCSRFToken returns a hex encoded anti-forgery token.
func NewCSRFToken() (string, error) {
	var raw [csrfTokenSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw[:]), nil
}

// MaskSecret keeps the first four characters of a secret for logging. Empty
// values stay empty.
func MaskSecret(v string) string {
	if v == "" {
		return ""
	}
	if len(v) <= 4 {
		return "****"
	}
	return v[:4] + "****"
}
