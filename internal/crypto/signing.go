// Package crypto provides HMAC request authentication and encrypted secret
// storage for the broker gateway credentials.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// RequestAuth holds the credentials for HMAC-authenticated requests against
// the broker gateway API.
type RequestAuth struct {
	Key    string // API key, sent in the clear
	Secret string // API secret, used only to sign
}

// Headers returns the authentication headers for one request. The signature
// is HMAC-SHA256(secret, timestamp+method+path+body) encoded as base64.
//
// Returned header keys:
//   - X-API-KEY
//   - X-API-TIMESTAMP
//   - X-API-SIGNATURE
func (a *RequestAuth) Headers(method, path, body string) map[string]string {
	return a.HeadersAt(method, path, body, time.Now().Unix())
}

// HeadersAt is like Headers but lets the caller supply the Unix timestamp
// (useful for deterministic testing).
func (a *RequestAuth) HeadersAt(method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)

	message := ts + method + path + body
	sig := hmacSHA256Base64([]byte(a.Secret), message)

	return map[string]string{
		"X-API-KEY":       a.Key,
		"X-API-TIMESTAMP": ts,
		"X-API-SIGNATURE": sig,
	}
}

// String returns a redacted representation suitable for logging.
func (a *RequestAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("RequestAuth{key=%s, secret=%s}", redact(a.Key), redact(a.Secret))
}

func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
