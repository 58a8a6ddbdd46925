// Package cipher provides authenticated symmetric encryption for shard
// payloads, identity records, and conversation segments.
package cipher

import (
	"crypto/aes"
	gocipher "crypto/cipher"
	"fmt"

	"github.com/relaymem/syncengine/internal/syncerr"
	"github.com/relaymem/syncengine/pkg/helpers"
)

// KeySize is the required symmetric key size (AES-256).
const KeySize = 32

// NonceSize is the random nonce size prepended to every ciphertext.
const NonceSize = 12

// TagSize is the authentication tag size appended by AES-GCM.
const TagSize = 16

// Overhead is the constant number of bytes added by Encrypt on top of the
// plaintext: nonce + tag.
const Overhead = NonceSize + TagSize

// Encrypt seals plaintext under key, returning nonce || ciphertext || tag.
// A fresh random nonce is drawn for every call.
func Encrypt(key, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce, err := helpers.GenerateSecureRandom(NonceSize)
	if err != nil {
		return nil, fmt.Errorf("cipher: failed to generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a nonce || ciphertext || tag buffer produced by Encrypt.
// Any nonce/key mismatch or authentication-tag failure returns
// syncerr.ErrCipherTampered; it never silently returns garbage.
func Decrypt(key, sealed []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(sealed) < NonceSize {
		return nil, fmt.Errorf("%w: ciphertext shorter than nonce", syncerr.ErrCipherTampered)
	}

	nonce, ciphertext := sealed[:NonceSize], sealed[NonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", syncerr.ErrCipherTampered, err)
	}

	return plaintext, nil
}

func newGCM(key []byte) (gocipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("cipher: key must be %d bytes, got %d", KeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cipher: failed to create AES cipher: %w", err)
	}

	gcm, err := gocipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher: failed to create GCM: %w", err)
	}

	return gcm, nil
}
