// Package phrase generates and validates the 12-word recovery phrase that
// is the sole input needed to reconstruct an Identity on a fresh machine.
package phrase

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/tyler-smith/go-bip39"

	"github.com/relaymem/syncengine/internal/syncerr"
	"github.com/relaymem/syncengine/pkg/helpers"
)

// WordCount is the number of words in a generated phrase.
const WordCount = 12

// entropyBits is 128 bits, producing a 4-bit checksum and 12 * 11-bit
// word indices (132 bits total).
const entropyBits = 128

// Generate draws 128 bits of cryptographically secure entropy and encodes
// it as a 12-word phrase against the fixed 2048-word English wordlist.
func Generate() (string, error) {
	entropy, err := helpers.GenerateSecureRandom(entropyBits / 8)
	if err != nil {
		return "", fmt.Errorf("phrase: failed to generate entropy: %w", err)
	}

	words, err := encode(entropy)
	if err != nil {
		return "", err
	}

	return strings.Join(words, " "), nil
}

// Normalize lowercases and collapses whitespace in a user-supplied phrase.
func Normalize(raw string) string {
	fields := strings.Fields(strings.ToLower(raw))
	return strings.Join(fields, " ")
}

// Validate normalizes phrase and checks it against the wordlist and
// checksum, returning a distinct error for each failure kind:
// syncerr.ErrBadPhraseLength, syncerr.ErrBadPhraseWord, or
// syncerr.ErrBadPhraseChecksum (each also wraps syncerr.ErrBadPhrase).
func Validate(raw string) error {
	normalized := Normalize(raw)
	words := strings.Fields(normalized)

	if len(words) != WordCount {
		return fmt.Errorf("%w: %w: got %d words, want %d", syncerr.ErrBadPhrase, syncerr.ErrBadPhraseLength, len(words), WordCount)
	}

	wordlist := bip39.GetWordList()
	index := make(map[string]int, len(wordlist))
	for i, w := range wordlist {
		index[w] = i
	}

	// Unpack 12 * 11-bit indices MSB-first into 132 bits, one bit per slice
	// element: 128 entropy bits followed by the 4 checksum bits.
	bits := make([]byte, 0, WordCount*11)
	for _, w := range words {
		idx, ok := index[w]
		if !ok {
			return fmt.Errorf("%w: %w: unknown word %q", syncerr.ErrBadPhrase, syncerr.ErrBadPhraseWord, w)
		}
		for b := 10; b >= 0; b-- {
			bits = append(bits, byte((idx>>uint(b))&1))
		}
	}

	entropy := bitsToBytes(bits[:entropyBits])
	gotChecksum := bitsToByte(bits[entropyBits:])

	sum := sha256.Sum256(entropy)
	wantChecksum := sum[0] >> 4

	if gotChecksum != wantChecksum {
		return fmt.Errorf("%w: %w", syncerr.ErrBadPhrase, syncerr.ErrBadPhraseChecksum)
	}

	return nil
}

// encode packs 128 bits of entropy plus its 4-bit checksum into 12 words.
func encode(entropy []byte) ([]string, error) {
	if len(entropy) != entropyBits/8 {
		return nil, fmt.Errorf("phrase: entropy must be %d bytes", entropyBits/8)
	}

	sum := sha256.Sum256(entropy)
	checksum := sum[0] >> 4

	bits := make([]byte, 0, entropyBits+4)
	for _, b := range entropy {
		for i := 7; i >= 0; i-- {
			bits = append(bits, (b>>uint(i))&1)
		}
	}
	for i := 3; i >= 0; i-- {
		bits = append(bits, (checksum>>uint(i))&1)
	}

	wordlist := bip39.GetWordList()
	words := make([]string, WordCount)
	for i := 0; i < WordCount; i++ {
		chunk := bits[i*11 : i*11+11]
		idx := 0
		for _, b := range chunk {
			idx = (idx << 1) | int(b)
		}
		words[i] = wordlist[idx]
	}

	return words, nil
}

func bitsToBytes(bits []byte) []byte {
	out := make([]byte, len(bits)/8)
	for i := range out {
		var b byte
		for j := 0; j < 8; j++ {
			b = (b << 1) | bits[i*8+j]
		}
		out[i] = b
	}
	return out
}

func bitsToByte(bits []byte) byte {
	var b byte
	for _, bit := range bits {
		b = (b << 1) | bit
	}
	// bits holds the 4 checksum bits, so the shift is by zero and the value
	// stays in the low nibble, directly comparable to sha256(entropy)[0]>>4.
	return b << uint(4-len(bits))
}
