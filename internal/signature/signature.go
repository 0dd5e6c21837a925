// Package signature authenticates webhook bodies with a shared-secret
// HMAC-SHA256.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const prefix = "sha256="

// Sign returns the hex-encoded HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether sig is a valid signature of the exact body bytes.
// Malformed or empty input never verifies.
func Verify(secret string, body []byte, sig string) bool {
	if secret == "" {
		return false
	}
	sig = strings.TrimSpace(sig)
	sig = strings.TrimPrefix(sig, prefix)
	got, err := hex.DecodeString(sig)
	if err != nil || len(got) != sha256.Size {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Verifier checks webhook signatures unless bypassed by configuration.
type Verifier struct {
	Secret string
	Bypass bool
}

func (v Verifier) Verify(body []byte, sig string) bool {
	if v.Bypass {
		return true
	}
	return Verify(v.Secret, body, sig)
}
