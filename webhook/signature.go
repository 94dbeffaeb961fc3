package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"bitbucket.org/mmdatafocus/collections_backend/utils"
)

// Envelope is the tenant wire contract: every webhook body is exactly
// {event, timestamp, data}.
type Envelope struct {
	Event     string                 `json:"event"`
	Timestamp string                 `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Sign computes the envelope signature: hex HMAC-SHA256 over the canonical
// (sorted-key) JSON serialization, prefixed with "sha256=". Verifiers must
// canonicalize the same way.
func Sign(envelope Envelope, secret string) (string, error) {
	canonical, err := utils.CanonicalJSON(envelope)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(canonical)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify recomputes the signature with the given secret and compares in
// constant time.
func Verify(envelope Envelope, secret string, signature string) bool {
	expected, err := Sign(envelope, secret)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(signature))
}
