package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestAuthHeadersDeterministic(t *testing.T) {
	auth := &RequestAuth{Key: "key-1", Secret: "topsecret"}

	h1 := auth.HeadersAt("POST", "/v1/orders", `{"symbol":"EURUSD"}`, 1700000000)
	h2 := auth.HeadersAt("POST", "/v1/orders", `{"symbol":"EURUSD"}`, 1700000000)

	assert.Equal(t, "key-1", h1["X-API-KEY"])
	assert.Equal(t, "1700000000", h1["X-API-TIMESTAMP"])
	assert.NotEmpty(t, h1["X-API-SIGNATURE"])
	assert.Equal(t, h1, h2)

	// A different body must produce a different signature.
	h3 := auth.HeadersAt("POST", "/v1/orders", `{"symbol":"GBPUSD"}`, 1700000000)
	assert.NotEqual(t, h1["X-API-SIGNATURE"], h3["X-API-SIGNATURE"])
}

func TestRequestAuthStringRedacts(t *testing.T) {
	auth := &RequestAuth{Key: "abcdef", Secret: "0123456789"}
	s := auth.String()
	assert.NotContains(t, s, "abcdef")
	assert.NotContains(t, s, "0123456789")
	assert.Contains(t, s, "abcd****")
}

func TestEncryptDecryptSecretRoundTrip(t *testing.T) {
	blob, err := EncryptSecret("broker-api-secret", "hunter2")
	require.NoError(t, err)

	got, err := DecryptSecret(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "broker-api-secret", got)
}

func TestDecryptSecretWrongPassword(t *testing.T) {
	blob, err := EncryptSecret("broker-api-secret", "hunter2")
	require.NoError(t, err)

	_, err = DecryptSecret(blob, "wrong")
	assert.Error(t, err)
}

func TestLoadSecretResolutionOrder(t *testing.T) {
	// Raw secret takes precedence, and an unset config resolves to empty.
	got, err := LoadSecret(SecretConfig{RawSecret: "raw"})
	require.NoError(t, err)
	assert.Equal(t, "raw", got)

	got, err = LoadSecret(SecretConfig{})
	require.NoError(t, err)
	assert.Empty(t, got)
}
