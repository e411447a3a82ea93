// Package crypto provides HMAC request authentication for the order
// submission sidecar and encrypted-at-rest storage for its API secret.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// HMACAuth holds the credentials for authenticated sidecar requests.
type HMACAuth struct {
	Key    string // API key identifier
	Secret string // shared secret
}

// Headers returns the HTTP headers for a sidecar request. The signature is
// HMAC-SHA256(secret, timestamp+method+path+body) encoded as base64.
//
// Returned header keys:
//   - X-Sidecar-Key
//   - X-Sidecar-Timestamp
//   - X-Sidecar-Signature
func (h *HMACAuth) Headers(method, path, body string) map[string]string {
	return h.HeadersAt(method, path, body, time.Now().Unix())
}

// HeadersAt is like Headers but lets the caller supply the Unix timestamp,
// which keeps signature tests deterministic.
func (h *HMACAuth) HeadersAt(method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	sig := hmacSHA256Base64([]byte(h.Secret), ts+method+path+body)
	return map[string]string{
		"X-Sidecar-Key":       h.Key,
		"X-Sidecar-Timestamp": ts,
		"X-Sidecar-Signature": sig,
	}
}

// Verify checks a signature produced by HeadersAt against the same inputs.
// It is used by tests and by the local API's shared-secret auth middleware.
func (h *HMACAuth) Verify(method, path, body, ts, sig string) bool {
	want := hmacSHA256Base64([]byte(h.Secret), ts+method+path+body)
	return hmac.Equal([]byte(want), []byte(sig))
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}

// hmacSHA256Base64 computes HMAC-SHA256 of message using key and returns the
// result base64 standard-encoded.
func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
