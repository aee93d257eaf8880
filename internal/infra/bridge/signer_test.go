package bridge

import (
	"testing"
	"time"
)

func TestSigner_Headers(t *testing.T) {
	signer := NewSigner("key", "secret")
	signer.now = func() time.Time { return time.UnixMilli(1600000000000) }

	h := signer.Headers("/ws")

	if h.Get(HeaderKey) != "key" {
		t.Errorf("Expected %s to be 'key', got %s", HeaderKey, h.Get(HeaderKey))
	}
	if h.Get(HeaderTimestamp) != "1600000000000" {
		t.Errorf("Expected timestamp 1600000000000, got %s", h.Get(HeaderTimestamp))
	}
	if want := computeHmacSha256("1600000000000GET/ws", "secret"); h.Get(HeaderSign) != want {
		t.Errorf("Signature mismatch. Expected %s, got %s", want, h.Get(HeaderSign))
	}
	if !signer.Verify(h, "/ws") {
		t.Error("Verify rejected headers it produced")
	}
	if signer.Verify(h, "/other") {
		t.Error("Verify accepted headers for a different path")
	}
	if NewSigner("key", "wrong").Verify(h, "/ws") {
		t.Error("Verify accepted headers signed with another secret")
	}
}

func TestComputeHmacSha256(t *testing.T) {
	// HMAC-SHA256("key", "The quick brown fox jumps over the lazy dog")
	// Base64: 97yD9DBThCSxMpjmqm+xQ+9NWaFJRhdZl0edvC0aPNg=
	expected := "97yD9DBThCSxMpjmqm+xQ+9NWaFJRhdZl0edvC0aPNg="
	result := computeHmacSha256("The quick brown fox jumps over the lazy dog", "key")

	if result != expected {
		t.Errorf("HMAC Mismatch. Expected %s, got %s", expected, result)
	}
}
