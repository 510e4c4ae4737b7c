package backup

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"io"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

// Key derivation parameters for passphrase-based keys.
const (
	keySaltSize       = 16
	keyIterations     = 100000
	derivedKeyLength  = 32
	encryptionVersion = byte(1)
)

// EncryptionStats contains statistics about an encryption operation
type EncryptionStats struct {
	OriginalSize  int64         `json:"original_size"`
	EncryptedSize int64         `json:"encrypted_size"`
	Algorithm     string        `json:"algorithm"`
	Duration      time.Duration `json:"duration"`
}

// Encryptor performs AES-256-GCM encryption of backup artifacts.
// The key is derived from a passphrase with PBKDF2-SHA256; the output
// layout is version || salt || nonce || ciphertext.
type Encryptor struct {
	passphrase []byte
}

// NewEncryptor creates an encryptor from the given passphrase.
// A nil or empty passphrase yields a disabled encryptor that passes
// data through unchanged.
func NewEncryptor(passphrase []byte) *Encryptor {
	return &Encryptor{passphrase: passphrase}
}

// Enabled reports whether a passphrase is configured.
func (e *Encryptor) Enabled() bool {
	return len(e.passphrase) > 0
}

// Encrypt encrypts data using AES-256-GCM
func (e *Encryptor) Encrypt(data []byte) ([]byte, *EncryptionStats, error) {
	if !e.Enabled() {
		return data, &EncryptionStats{
			OriginalSize:  int64(len(data)),
			EncryptedSize: int64(len(data)),
			Algorithm:     "NONE",
		}, nil
	}

	start := time.Now()

	salt := make([]byte, keySaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, nil, NewEncryptionError("failed to generate salt", err)
	}

	key := pbkdf2.Key(e.passphrase, salt, keyIterations, derivedKeyLength, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, NewEncryptionError("failed to create AES cipher", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, NewEncryptionError("failed to create GCM cipher", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, NewEncryptionError("failed to generate nonce", err)
	}

	out := make([]byte, 0, 1+len(salt)+len(nonce)+len(data)+gcm.Overhead())
	out = append(out, encryptionVersion)
	out = append(out, salt...)
	out = append(out, nonce...)
	out = gcm.Seal(out, nonce, data, nil)

	stats := &EncryptionStats{
		OriginalSize:  int64(len(data)),
		EncryptedSize: int64(len(out)),
		Algorithm:     "AES-256-GCM",
		Duration:      time.Since(start),
	}

	return out, stats, nil
}

// Decrypt decrypts data produced by Encrypt
func (e *Encryptor) Decrypt(encrypted []byte) ([]byte, error) {
	if !e.Enabled() {
		return encrypted, nil
	}

	if len(encrypted) < 1+keySaltSize {
		return nil, NewEncryptionError("encrypted data too short", nil)
	}
	if encrypted[0] != encryptionVersion {
		return nil, NewEncryptionError("unsupported encryption format version", nil)
	}

	salt := encrypted[1 : 1+keySaltSize]
	rest := encrypted[1+keySaltSize:]

	key := pbkdf2.Key(e.passphrase, salt, keyIterations, derivedKeyLength, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, NewEncryptionError("failed to create AES cipher", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, NewEncryptionError("failed to create GCM cipher", err)
	}

	nonceSize := gcm.NonceSize()
	if len(rest) < nonceSize {
		return nil, NewEncryptionError("encrypted data too short", nil)
	}

	nonce, ciphertext := rest[:nonceSize], rest[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, NewEncryptionError("failed to decrypt data", err)
	}

	return plaintext, nil
}
