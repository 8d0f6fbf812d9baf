package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptSignerKey(t *testing.T) {
	blob, err := EncryptSignerKey("0x"+testKeyHex, "hunter2")
	require.NoError(t, err)

	got, err := DecryptSignerKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)
}

func TestDecryptSignerKeyWrongPassword(t *testing.T) {
	blob, err := EncryptSignerKey(testKeyHex, "hunter2")
	require.NoError(t, err)

	_, err = DecryptSignerKey(blob, "wrong")
	require.Error(t, err)
}

func TestLoadSignerKeyRawTakesPrecedence(t *testing.T) {
	got, err := LoadSignerKey(KeyfileConfig{
		RawPrivateKey:    "0x" + testKeyHex,
		EncryptedKeyPath: "/does/not/exist",
	})
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)
}

func TestLoadSignerKeyFromFile(t *testing.T) {
	blob, err := EncryptSignerKey(testKeyHex, "pw")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "signer.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	got, err := LoadSignerKey(KeyfileConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)
}

func TestLoadSignerKeyUnconfigured(t *testing.T) {
	_, err := LoadSignerKey(KeyfileConfig{})
	require.Error(t, err)
}
