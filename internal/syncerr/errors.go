// Package syncerr defines the sentinel error taxonomy shared by every
// layer of the sync engine, so callers can discriminate failure kinds
// with errors.Is instead of parsing messages.
package syncerr

import "errors"

var (
	// ErrUninitialized means expected local state is absent.
	ErrUninitialized = errors.New("syncengine: local state is uninitialized")

	// ErrAlreadyInitialized means init was attempted on a populated home.
	ErrAlreadyInitialized = errors.New("syncengine: home directory already initialized")

	// ErrBadPhrase is the umbrella error for any recovery-phrase validation
	// failure. ErrBadPhraseLength, ErrBadPhraseWord, and ErrBadPhraseChecksum
	// wrap it so callers can match on either the specific cause or the
	// umbrella kind.
	ErrBadPhrase = errors.New("syncengine: invalid recovery phrase")

	// ErrBadPhraseLength means the phrase did not split into 12 words.
	ErrBadPhraseLength = errors.New("syncengine: recovery phrase must be 12 words")

	// ErrBadPhraseWord means a word is not in the wordlist.
	ErrBadPhraseWord = errors.New("syncengine: recovery phrase contains an unknown word")

	// ErrBadPhraseChecksum means the words are in the wordlist but the
	// checksum bits don't match.
	ErrBadPhraseChecksum = errors.New("syncengine: recovery phrase checksum mismatch")

	// ErrBadPassphrase means decryption of the identity payload failed.
	ErrBadPassphrase = errors.New("syncengine: passphrase does not decrypt identity record")

	// ErrIdentityMissing means no identity record exists on the ledger for
	// the wallet being recovered.
	ErrIdentityMissing = errors.New("syncengine: identity record not found")

	// ErrIdentityMismatch means the phrase-derived keypair does not match
	// the decrypted identity record.
	ErrIdentityMismatch = errors.New("syncengine: recovered identity does not match phrase")

	// ErrNoRecoverableShards means every queried shard failed verification
	// or decryption during a pull.
	ErrNoRecoverableShards = errors.New("syncengine: no shard survived verification during pull")

	// ErrCipherTampered means authenticated decryption failed: a bad key,
	// a bad nonce, or a corrupted/tampered ciphertext.
	ErrCipherTampered = errors.New("syncengine: ciphertext failed authentication")

	// ErrShardTooLarge is a diagnostic error: a single operation exceeds the
	// upload budget. The chunker still emits the oversized shard; this error
	// is informational for callers that want to warn about it upstream.
	ErrShardTooLarge = errors.New("syncengine: operation exceeds upload budget")

	// ErrNetworkError wraps a transient ledger-adapter failure.
	ErrNetworkError = errors.New("syncengine: transient network error")

	// ErrLedgerRejected wraps a non-transient ledger-adapter failure
	// (quota exhausted, bad credentials).
	ErrLedgerRejected = errors.New("syncengine: ledger rejected the request")
)
