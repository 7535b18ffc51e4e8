package webhook

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// SignatureHeader carries the payload signature on every delivery.
const SignatureHeader = "X-Signature"

// ErrNoSecret means an endpoint has no usable signing secret. Delivery for
// that endpoint is skipped and flagged, never sent unsigned.
var ErrNoSecret = errors.New("endpoint has no signing secret")

// Sign computes the signature header value for a raw payload:
// "sha256=<hex HMAC-SHA256 of body using secret>".
func Sign(body []byte, secret string) (string, error) {
	if secret == "" {
		return "", ErrNoSecret
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify checks a signature header value against a payload and secret using
// a constant-time comparison. Consumers use the same routine on their side.
func Verify(body []byte, secret, header string) bool {
	raw, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(raw)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// GenerateSecret produces a new random endpoint secret. The raw value is
// returned to the caller exactly once at endpoint creation.
func GenerateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return "whsec_" + hex.EncodeToString(buf), nil
}

// SecretFingerprint returns the SHA-256 hex digest of a secret, used for
// display without revealing the secret itself.
func SecretFingerprint(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
