// Package identity derives a wallet keypair and a symmetric data-encryption
// key from a recovery phrase, deterministically and without ever persisting
// key material in plaintext.
package identity

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"

	"github.com/relaymem/syncengine/pkg/helpers"
)

// SaltLen is the length in bytes of the symmetric-key-derivation salt.
const SaltLen = 16

// Argon2id parameters for the symmetric data-encryption key.
const (
	argon2Time        = 3
	argon2Memory      = 64 * 1024 // 64 MiB
	argon2Parallelism = 1
	argon2KeyLen      = 32
)

const (
	hkdfSaltFmt = "%s-identity-v1"
	hkdfInfo    = "secp256k1-private-key"
)

// Identity holds the derived keypair, wallet identifier, and symmetric key
// for a single recovery phrase. All fields are process-local; nothing here
// is ever written to disk in plaintext.
type Identity struct {
	PrivateKey *btcec.PrivateKey
	WalletID   string // 0x-prefixed lowercase 20-byte derivation of the pubkey
	SymKey     []byte // 32-byte AES-256 key
	Salt       []byte // 16-byte salt that produced SymKey
}

// DeriveKeypair derives the secp256k1 keypair and wallet identifier from a
// normalized recovery phrase using a fixed extract-then-expand scheme: HKDF
// with a constant salt ("<appName>-identity-v1") and a constant info string
// ("secp256k1-private-key"), producing 32 bytes interpreted directly as a
// private key.
func DeriveKeypair(appName, phrase string) (*btcec.PrivateKey, string, error) {
	salt := []byte(fmt.Sprintf(hkdfSaltFmt, appName))
	r := hkdf.New(sha3.New256, []byte(phrase), salt, []byte(hkdfInfo))

	raw := make([]byte, 32)
	if _, err := r.Read(raw); err != nil {
		return nil, "", fmt.Errorf("identity: hkdf expand failed: %w", err)
	}

	privKey, _ := btcec.PrivKeyFromBytes(raw)
	walletID := WalletIDFromPublicKey(privKey.PubKey())

	return privKey, walletID, nil
}

// WalletIDFromPublicKey derives the 0x-prefixed lowercase wallet identifier
// from a public key: the last 20 bytes of keccak256(x||y) of the
// uncompressed public key, with the leading 0x04 marker stripped first.
func WalletIDFromPublicKey(pubKey *btcec.PublicKey) string {
	uncompressed := pubKey.SerializeUncompressed()
	hash := Keccak256(uncompressed[1:])
	return helpers.BytesToHex(hash[12:])
}

// Keccak256 computes the Keccak-256 hash used for the wallet identifier.
func Keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}

// DeriveSymKey derives the 32-byte symmetric data-encryption key from a
// normalized, lowercased, space-joined recovery phrase and a salt, using
// Argon2id with {time=3, memory=64MiB, parallelism=1, dkLen=32}.
func DeriveSymKey(phrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(strings.ToLower(phrase)), salt, argon2Time, argon2Memory, argon2Parallelism, argon2KeyLen)
}

// New derives a complete Identity from an app name, a normalized recovery
// phrase, and a salt. The salt is generated once at initialization time (see
// NewSalt) and must be persisted locally and uploaded inside the identity
// record's tags to allow recovery.
func New(appName, phrase string, salt []byte) (*Identity, error) {
	if len(salt) != SaltLen {
		return nil, fmt.Errorf("identity: salt must be %d bytes, got %d", SaltLen, len(salt))
	}

	privKey, walletID, err := DeriveKeypair(appName, phrase)
	if err != nil {
		return nil, err
	}

	return &Identity{
		PrivateKey: privKey,
		WalletID:   walletID,
		SymKey:     DeriveSymKey(phrase, salt),
		Salt:       salt,
	}, nil
}

// NewSalt generates a fresh random 16-byte salt for symmetric key
// derivation. Called once at local initialization and never regenerated.
func NewSalt() ([]byte, error) {
	salt, err := helpers.GenerateSecureRandom(SaltLen)
	if err != nil {
		return nil, fmt.Errorf("identity: failed to generate salt: %w", err)
	}
	return salt, nil
}
