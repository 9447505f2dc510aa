// Package crypto seals OAuth credentials before they reach storage.
//
// Tokens are encrypted with AES-256-GCM under a key derived once from the
// process master secret with PBKDF2-HMAC-SHA256. Each blob carries its own
// random nonce, so sealing the same token twice yields different ciphertexts.
// The empty string is reserved as the "never set" value and passes through
// both directions unchanged.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	stderrors "errors"
	"io"

	"golang.org/x/crypto/pbkdf2"
	"x-auto-post-tool/internal/common/errors"
)

const (
	// KeySalt is fixed and public; the secrecy lives in the master secret.
	KeySalt = "x-auto-post-token-salt"
	// KeyIterations is the PBKDF2 work factor.
	KeyIterations = 100000
	keyLength     = 32
)

// ErrDecryption is wrapped by every failed Decrypt so callers can use errors.Is.
var ErrDecryption = stderrors.New("ciphertext could not be decrypted")

// TokenCipher encrypts and decrypts token strings. It is safe for concurrent use.
type TokenCipher struct {
	aead cipher.AEAD
}

// NewTokenCipher derives the encryption key from masterSecret.
func NewTokenCipher(masterSecret string) (*TokenCipher, error) {
	if masterSecret == "" {
		return nil, errors.ValidationError("token encryption secret cannot be empty")
	}

	key := pbkdf2.Key([]byte(masterSecret), []byte(KeySalt), KeyIterations, keyLength, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.InternalError("failed to create cipher", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.InternalError("failed to create GCM", err)
	}

	return &TokenCipher{aead: aead}, nil
}

// Encrypt seals plaintext into an opaque URL-safe blob.
func (c *TokenCipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.InternalError("failed to generate nonce", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a blob produced by Encrypt. An empty blob yields an empty
// plaintext. Any tampering, truncation or key mismatch yields a decryption error.
func (c *TokenCipher) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	data, err := base64.URLEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", errors.DecryptionError("invalid ciphertext encoding", stderrors.Join(ErrDecryption, err))
	}

	nonceSize := c.aead.NonceSize()
	if len(data) < nonceSize+c.aead.Overhead() {
		return "", errors.DecryptionError("ciphertext too short", ErrDecryption)
	}

	nonce, sealed := data[:nonceSize], data[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", errors.DecryptionError("ciphertext failed authentication", stderrors.Join(ErrDecryption, err))
	}

	return string(plaintext), nil
}

// IsSet reports whether ciphertext holds a value, as opposed to the "never set" sentinel.
func IsSet(ciphertext string) bool {
	return ciphertext != ""
}
