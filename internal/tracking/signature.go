package tracking

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
)

// Header names SendGrid uses for the signed event webhook.
const (
	SignatureHeader = "X-Twilio-Email-Event-Webhook-Signature"
	TimestampHeader = "X-Twilio-Email-Event-Webhook-Timestamp"
)

var (
	ErrBadSignature     = errors.New("webhook signature mismatch")
	ErrMissingSignature = errors.New("webhook signature headers missing")
)

// Verifier checks HMAC-SHA256(key, timestamp || body) signatures. A Verifier
// with no key accepts everything.
type Verifier struct {
	key []byte
}

// NewVerifier decodes a base64 verification key. An empty key yields a
// permissive verifier.
func NewVerifier(b64Key string) (*Verifier, error) {
	if b64Key == "" {
		return &Verifier{}, nil
	}
	key, err := base64.StdEncoding.DecodeString(b64Key)
	if err != nil {
		return nil, fmt.Errorf("decode webhook verify key: %w", err)
	}
	return &Verifier{key: key}, nil
}

// Enabled reports whether a key is configured.
func (v *Verifier) Enabled() bool { return v != nil && len(v.key) > 0 }

// Verify reports whether signature matches body and timestamp. It returns
// true when no key is configured.
func (v *Verifier) Verify(body []byte, signature, timestamp string) bool {
	if !v.Enabled() {
		return true
	}
	expected := v.Sign(body, timestamp)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Check is Verify with a reason. Missing headers are ErrMissingSignature
// when a key is configured.
func (v *Verifier) Check(body []byte, signature, timestamp string) error {
	if !v.Enabled() {
		return nil
	}
	if signature == "" || timestamp == "" {
		return ErrMissingSignature
	}
	if !v.Verify(body, signature, timestamp) {
		return ErrBadSignature
	}
	return nil
}

// Sign computes the base64 signature for body at timestamp.
func (v *Verifier) Sign(body []byte, timestamp string) string {
	mac := hmac.New(sha256.New, v.key)
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
