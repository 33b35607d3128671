// Package crypto seals small secrets, such as project environment variables,
// at rest. Payloads are nonce||ciphertext under AES-256-GCM, keyed by the
// SHA-256 digest of the daemon's encryption secret.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
)

// ErrMalformedCiphertext reports a payload too short to carry a nonce.
var ErrMalformedCiphertext = errors.New("ciphertext shorter than nonce")

func aeadFor(secret string) (cipher.AEAD, error) {
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// EncryptString seals plaintext under the given secret.
func EncryptString(secret, plaintext string) ([]byte, error) {
	aead, err := aeadFor(secret)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

// DecryptToString opens a payload produced by EncryptString. Tampered or
// truncated payloads fail, as do payloads sealed under a different secret.
func DecryptToString(secret string, sealed []byte) (string, error) {
	aead, err := aeadFor(secret)
	if err != nil {
		return "", err
	}
	if len(sealed) < aead.NonceSize() {
		return "", ErrMalformedCiphertext
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
