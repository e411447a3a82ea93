package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeadersDeterministic(t *testing.T) {
	auth := &HMACAuth{Key: "key-1", Secret: "topsecret"}

	h1 := auth.HeadersAt("POST", "/orders", `{"size":1}`, 1700000000)
	h2 := auth.HeadersAt("POST", "/orders", `{"size":1}`, 1700000000)
	assert.Equal(t, h1, h2)
	assert.Equal(t, "key-1", h1["X-Sidecar-Key"])
	assert.Equal(t, "1700000000", h1["X-Sidecar-Timestamp"])
	assert.NotEmpty(t, h1["X-Sidecar-Signature"])

	assert.True(t, auth.Verify("POST", "/orders", `{"size":1}`, "1700000000", h1["X-Sidecar-Signature"]))
	assert.False(t, auth.Verify("POST", "/orders", `{"size":2}`, "1700000000", h1["X-Sidecar-Signature"]))
}

func TestHMACAuthStringRedacts(t *testing.T) {
	auth := &HMACAuth{Key: "abcdef", Secret: "supersecret"}
	s := auth.String()
	assert.NotContains(t, s, "supersecret")
	assert.Contains(t, s, "abcd****")
}

func TestSecretRoundTrip(t *testing.T) {
	blob, err := EncryptSecret("sidecar-api-secret", "hunter2")
	require.NoError(t, err)

	got, err := DecryptSecret(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "sidecar-api-secret", got)

	_, err = DecryptSecret(blob, "wrong")
	assert.Error(t, err)
}

func TestLoadSecretPrefersRaw(t *testing.T) {
	got, err := LoadSecret(SecretConfig{RawSecret: "raw"})
	require.NoError(t, err)
	assert.Equal(t, "raw", got)

	_, err = LoadSecret(SecretConfig{})
	assert.Error(t, err)
}
