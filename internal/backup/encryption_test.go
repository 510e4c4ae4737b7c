package backup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptionRoundTrip(t *testing.T) {
	enc := NewEncryptor([]byte("correct horse battery staple"))
	plaintext := []byte(`{"metadata":{"backupCode":"bkp-x"}}`)

	ciphertext, stats, err := enc.Encrypt(plaintext)
	require.NoError(t, err)
	require.NotNil(t, stats)

	assert.Equal(t, "AES-256-GCM", stats.Algorithm)
	assert.NotEqual(t, plaintext, ciphertext)
	assert.Greater(t, len(ciphertext), len(plaintext))

	decrypted, err := enc.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestEncryptionDisabledPassesThrough(t *testing.T) {
	enc := NewEncryptor(nil)
	assert.False(t, enc.Enabled())

	data := []byte("plain data")
	out, stats, err := enc.Encrypt(data)
	require.NoError(t, err)
	assert.Equal(t, data, out)
	assert.Equal(t, "NONE", stats.Algorithm)

	back, err := enc.Decrypt(out)
	require.NoError(t, err)
	assert.Equal(t, data, back)
}

func TestDecryptWrongPassphrase(t *testing.T) {
	enc := NewEncryptor([]byte("right"))
	ciphertext, _, err := enc.Encrypt([]byte("secret payload"))
	require.NoError(t, err)

	wrong := NewEncryptor([]byte("wrong"))
	_, err = wrong.Decrypt(ciphertext)
	require.Error(t, err)
	assert.True(t, IsType(err, ErrorTypeEncryption))
}

func TestDecryptTamperedCiphertext(t *testing.T) {
	enc := NewEncryptor([]byte("key"))
	ciphertext, _, err := enc.Encrypt([]byte("secret payload"))
	require.NoError(t, err)

	ciphertext[len(ciphertext)-1] ^= 0xff
	_, err = enc.Decrypt(ciphertext)
	require.Error(t, err)
}

func TestDecryptTooShort(t *testing.T) {
	enc := NewEncryptor([]byte("key"))

	_, err := enc.Decrypt([]byte{1, 2, 3})
	require.Error(t, err)
	assert.True(t, IsType(err, ErrorTypeEncryption))
}

func TestEncryptProducesUniqueCiphertexts(t *testing.T) {
	enc := NewEncryptor([]byte("key"))
	plaintext := []byte("same input")

	first, _, err := enc.Encrypt(plaintext)
	require.NoError(t, err)
	second, _, err := enc.Encrypt(plaintext)
	require.NoError(t, err)

	// Random salt and nonce per call.
	assert.NotEqual(t, first, second)
}
