package tracking

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, key []byte, ts string, body []byte) string {
	t.Helper()
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(ts + string(body)))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestVerifier(t *testing.T) {
	key := []byte("webhook-secret")
	v, err := NewVerifier(base64.StdEncoding.EncodeToString(key))
	require.NoError(t, err)
	require.True(t, v.Enabled())

	body := []byte(`[{"event":"open"}]`)
	sig := sign(t, key, "1700000000", body)

	assert.True(t, v.Verify(body, sig, "1700000000"))
	assert.Equal(t, sig, v.Sign(body, "1700000000"))
	assert.False(t, v.Verify(body, sig, "1700000001"), "timestamp is part of the signed data")
	assert.False(t, v.Verify([]byte(`[]`), sig, "1700000000"))

	assert.NoError(t, v.Check(body, sig, "1700000000"))
	assert.ErrorIs(t, v.Check(body, "", ""), ErrMissingSignature)
	assert.ErrorIs(t, v.Check(body, "AAAA", "1700000000"), ErrBadSignature)
}

func TestVerifier_Permissive(t *testing.T) {
	v, err := NewVerifier("")
	require.NoError(t, err)
	assert.False(t, v.Enabled())
	assert.True(t, v.Verify([]byte("anything"), "", ""))
	assert.NoError(t, v.Check([]byte("anything"), "bogus", "1"))
}

func TestNewVerifier_BadKey(t *testing.T) {
	_, err := NewVerifier("not base64!!")
	assert.Error(t, err)
}
