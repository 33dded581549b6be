package identity

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	priv, pub, err := GenerateKeyPair()
	require.NoError(t, err)

	data := []byte("a proposal worth deliberating")
	sig := Sign(priv, data)
	assert.NoError(t, Verify(pub, data, sig))

	assert.Error(t, Verify(pub, []byte("tampered"), sig))

	tamperedSig := sig[:len(sig)-2] + "ff"
	assert.Error(t, Verify(pub, data, tamperedSig))
}

func TestKeystoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.key")

	priv, _, err := GenerateKeyPair()
	require.NoError(t, err)

	require.NoError(t, StoreEncrypted(path, "correct horse battery staple", priv))

	loaded, err := LoadEncrypted(path, "correct horse battery staple")
	require.NoError(t, err)
	assert.Equal(t, priv.Hex(), loaded.Hex())

	_, err = LoadEncrypted(path, "wrong passphrase")
	var authErr *AuthError
	assert.ErrorAs(t, err, &authErr)
}

func TestKeystoreEmptyPassphraseRefused(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.key")
	priv, _, _ := GenerateKeyPair()
	assert.Error(t, StoreEncrypted(path, "", priv))
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestCanonicalJSONStableUnderKeyReorder(t *testing.T) {
	a := []byte(`{"b":1,"a":2,"c":{"y":1,"x":2}}`)
	b := []byte(`{"c":{"x":2,"y":1},"a":2,"b":1}`)

	ca, err := CanonicalJSON(a)
	require.NoError(t, err)
	cb, err := CanonicalJSON(b)
	require.NoError(t, err)
	assert.Equal(t, ca, cb)
	assert.Equal(t, `{"a":2,"b":1,"c":{"x":2,"y":1}}`, ca)
}

func TestAuthenticateRequestReplayWindow(t *testing.T) {
	priv, pub, _ := GenerateKeyPair()
	now := time.Now()
	body := []byte(`{"title":"proposal"}`)

	sig, err := SignRequest(priv, "POST", "/api/proposal", now.Unix(), body)
	require.NoError(t, err)

	err = AuthenticateRequest("POST", "/api/proposal", now.Unix(), body, pub.Hex(), sig, now, nil)
	assert.NoError(t, err)

	stale := now.Add(-600 * time.Second).Unix()
	staleSig, _ := SignRequest(priv, "POST", "/api/proposal", stale, body)
	err = AuthenticateRequest("POST", "/api/proposal", stale, body, pub.Hex(), staleSig, now, nil)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestAuthenticateRequestUnknownSigner(t *testing.T) {
	priv, pub, _ := GenerateKeyPair()
	now := time.Now()
	body := []byte(`{}`)
	sig, _ := SignRequest(priv, "GET", "/api/wallet", now.Unix(), body)

	err := AuthenticateRequest("GET", "/api/wallet", now.Unix(), body, pub.Hex(), sig, now, func(string) bool { return false })
	assert.ErrorIs(t, err, ErrUnknownSigner)
}
