package bridge

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strconv"
	"time"
)

// Handshake header names.
const (
	HeaderKey       = "X-Bridge-Key"
	HeaderTimestamp = "X-Bridge-Timestamp"
	HeaderSign      = "X-Bridge-Sign"
)

// Signer authenticates the websocket handshake.
type Signer struct {
	key    string
	secret string
	now    func() time.Time
}

// NewSigner creates a new Signer instance
func NewSigner(key, secret string) *Signer {
	return &Signer{key: key, secret: secret, now: time.Now}
}

// Headers returns the signed handshake headers for path.
// Payload: timestamp(ms) + "GET" + path
func (s *Signer) Headers(path string) http.Header {
	timestamp := strconv.FormatInt(s.now().UnixMilli(), 10)

	h := make(http.Header)
	h.Set(HeaderKey, s.key)
	h.Set(HeaderTimestamp, timestamp)
	h.Set(HeaderSign, computeHmacSha256(timestamp+http.MethodGet+path, s.secret))
	return h
}

// Verify checks headers produced by Headers. Used by bridge-side tooling and tests.
func (s *Signer) Verify(h http.Header, path string) bool {
	if h.Get(HeaderKey) != s.key {
		return false
	}
	want := computeHmacSha256(h.Get(HeaderTimestamp)+http.MethodGet+path, s.secret)
	return hmac.Equal([]byte(want), []byte(h.Get(HeaderSign)))
}

func computeHmacSha256(message string, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
