package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Headers sent with every delivery.
const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderEvent     = "X-Webhook-Event"
	HeaderTimestamp = "X-Webhook-Timestamp"

	signaturePrefix = "sha256="
)

// Sign returns the hex HMAC-SHA256 of body keyed by secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureHeader returns the X-Webhook-Signature value for body.
func SignatureHeader(secret string, body []byte) string {
	return signaturePrefix + Sign(secret, body)
}

// Verify checks a received X-Webhook-Signature value against body.
// Receivers written in Go can use it as is.
func Verify(secret string, body []byte, header string) bool {
	got, ok := strings.CutPrefix(header, signaturePrefix)
	if !ok {
		return false
	}
	want := Sign(secret, body)
	return hmac.Equal([]byte(got), []byte(want))
}
