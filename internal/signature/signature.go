// Package signature signs and verifies shard payloads with recoverable
// secp256k1 signatures, so a verifier can recover the signer's wallet
// identifier from the signature alone.
package signature

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"

	"github.com/relaymem/syncengine/internal/identity"
	"github.com/relaymem/syncengine/pkg/helpers"
)

// Size is the length in bytes of a recoverable signature: r || s || v.
const Size = 65

// Sign produces a 65-byte recoverable signature over the 32-byte content
// hash of data, hex-encoded with a 0x prefix.
func Sign(privKey *btcec.PrivateKey, data []byte) string {
	hash := contentHash(data)
	sig := btcecdsa.SignCompact(privKey, hash, false)

	// SignCompact returns v || r || s with v in {27, 28}; re-pack as r || s || v.
	out := make([]byte, Size)
	copy(out[:64], sig[1:65])
	out[64] = sig[0] - 27

	return helpers.BytesToHex(out)
}

// Verify recovers the signer's public key from sig and the recomputed
// content hash of data, derives the wallet identifier, and compares it
// case-insensitively against expectedWallet. Any parse error or recovery
// failure returns false rather than an error.
func Verify(data []byte, sig string, expectedWallet string) bool {
	raw, err := decodeSig(sig)
	if err != nil {
		return false
	}

	hash := contentHash(data)

	// RecoverCompact expects v || r || s with v in {27..34}.
	compact := make([]byte, Size)
	compact[0] = raw[64] + 27
	copy(compact[1:], raw[:64])

	pubKey, _, err := btcecdsa.RecoverCompact(compact, hash)
	if err != nil {
		return false
	}

	recoveredWallet := identity.WalletIDFromPublicKey(pubKey)
	return strings.EqualFold(recoveredWallet, expectedWallet)
}

func decodeSig(sig string) ([]byte, error) {
	raw, err := helpers.HexToBytes(sig)
	if err != nil {
		return nil, fmt.Errorf("signature: invalid hex: %w", err)
	}
	if len(raw) != Size {
		return nil, fmt.Errorf("signature: expected %d bytes, got %d", Size, len(raw))
	}
	return raw, nil
}

func contentHash(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}
