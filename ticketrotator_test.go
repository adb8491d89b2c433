package edge

import (
	"crypto/tls"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTicketRotatorDeriveKeyIsDeterministicPerSeed(t *testing.T) {
	secret := base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))
	r := NewTicketRotator(secret, "")
	cfg := &tls.Config{}

	k1, err := r.deriveKey(cfg)
	require.NoError(t, err)
	k2, err := r.deriveKey(cfg)
	require.NoError(t, err)
	require.Equal(t, k1, k2)
	require.Len(t, k1, ticketKeySize)
}

func TestTicketRotatorDeriveKeyVariesWithContext(t *testing.T) {
	secret := base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))
	withImage := NewTicketRotator(secret, "my-image:v2")
	withoutImage := NewTicketRotator(secret, "")
	cfg := &tls.Config{}

	k1, err := withImage.deriveKey(cfg)
	require.NoError(t, err)
	k2, err := withoutImage.deriveKey(cfg)
	require.NoError(t, err)
	require.NotEqual(t, k1, k2)
}

func TestTicketRotatorRotateAllInstallsKey(t *testing.T) {
	secret := base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))
	cfg := &tls.Config{}
	r := NewTicketRotator(secret, "", cfg)
	r.rotateAll()
	// SetSessionTicketKeys leaves no public getter, so this only verifies
	// rotateAll doesn't error out on a config with no certificates when a
	// secret is configured (the listener-key fallback path is untouched).
	require.NotNil(t, cfg)
}

func TestTruncateKeyTakesFirst32Bytes(t *testing.T) {
	key := make([]byte, ticketKeySize)
	for i := range key {
		key[i] = byte(i)
	}
	out := truncateKey(key)
	require.Len(t, out, 32)
	require.Equal(t, key[:32], out[:])
}
