// Package crypto signs outbound webhook payloads so receivers can verify
// they came from this deployment.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// Header names carried by signed webhook requests.
const (
	HeaderTimestamp = "X-Ledger-Timestamp"
	HeaderSignature = "X-Ledger-Signature"
)

// HMACAuth holds the shared secret for HMAC-signed webhook requests.
type HMACAuth struct {
	Secret string
}

// Headers returns the signing headers for body. The signature is
// HMAC-SHA256(secret, timestamp + "." + body) encoded as base64.
func (h *HMACAuth) Headers(body []byte) map[string]string {
	return h.HeadersAt(body, time.Now().Unix())
}

// HeadersAt is like Headers but lets the caller supply the Unix timestamp
// (useful for deterministic testing).
func (h *HMACAuth) HeadersAt(body []byte, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	return map[string]string{
		HeaderTimestamp: ts,
		HeaderSignature: hmacSHA256Base64([]byte(h.Secret), ts+"."+string(body)),
	}
}

// Verify reports whether signature matches body at ts, and that ts lies
// within maxSkew of now.
func (h *HMACAuth) Verify(body []byte, ts, signature string, now time.Time, maxSkew time.Duration) bool {
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	if skew := now.Sub(time.Unix(unix, 0)); skew > maxSkew || skew < -maxSkew {
		return false
	}
	want := hmacSHA256Base64([]byte(h.Secret), ts+"."+string(body))
	return hmac.Equal([]byte(want), []byte(signature))
}

// hmacSHA256Base64 computes HMAC-SHA256 of message using key and returns the
// result as a base64 standard-encoded string.
func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	if len(h.Secret) <= 4 {
		return "HMACAuth{secret=****}"
	}
	return fmt.Sprintf("HMACAuth{secret=%s****}", h.Secret[:4])
}
