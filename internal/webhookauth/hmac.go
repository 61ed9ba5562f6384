package webhookauth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// ComputeHMAC returns the lowercase hex HMAC-SHA256 of body keyed by secret.
func ComputeHMAC(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMAC checks a hex HMAC-SHA256 signature header over the raw request body.
// prefix is stripped from the header first ("sha256=" for GitHub, "" for Linear).
func VerifyHMAC(secret string, body []byte, header, prefix string) bool {
	if secret == "" || header == "" {
		return false
	}
	if prefix != "" {
		if !strings.HasPrefix(header, prefix) {
			return false
		}
		header = strings.TrimPrefix(header, prefix)
	}

	expected := ComputeHMAC(secret, body)
	return hmac.Equal([]byte(strings.ToLower(header)), []byte(expected))
}

// VerifyToken compares a plain shared-secret header in constant time.
func VerifyToken(secret, header string) bool {
	if secret == "" || header == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(header)) == 1
}
