package sync

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/relaymem/syncengine/internal/cipher"
	"github.com/relaymem/syncengine/internal/config"
	"github.com/relaymem/syncengine/internal/identity"
	"github.com/relaymem/syncengine/internal/ledger"
	"github.com/relaymem/syncengine/internal/shard"
	"github.com/relaymem/syncengine/internal/signature"
	"github.com/relaymem/syncengine/internal/store"
	"github.com/relaymem/syncengine/internal/syncerr"
	"github.com/relaymem/syncengine/pkg/helpers"
	"github.com/relaymem/syncengine/pkg/logging"
)

// PullAndReconstruct implements spec §4.8.5: given nothing but a wallet
// identifier and a recovery phrase, it rebuilds a fresh local store entirely
// from what the ledger holds. Precondition: no local state exists at dbDir.
func PullAndReconstruct(ctx context.Context, appName, wallet, phrase, dbDir string, adapter ledger.Adapter, cfg *config.SyncConfig) (*store.Store, *identity.Identity, error) {
	log := logging.Default().Component("sync")
	maxIdentityBytes := 16384
	maxShardBytes := 102400
	if cfg != nil {
		if cfg.MaxIdentityFetchBytes > 0 {
			maxIdentityBytes = cfg.MaxIdentityFetchBytes
		}
		if cfg.MaxShardFetchBytes > 0 {
			maxShardBytes = cfg.MaxShardFetchBytes
		}
	}

	// 1. Fetch the identity record.
	idMatches, err := adapter.QueryByTags(ctx, ledger.TagFilter{Tags: []ledger.Tag{
		{Name: ledger.TagAppName, Value: appName},
		{Name: ledger.TagWallet, Value: wallet},
		{Name: ledger.TagType, Value: ledger.TypeIdentity},
	}})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: query identity: %v", syncerr.ErrNetworkError, err)
	}
	if len(idMatches) == 0 {
		return nil, nil, syncerr.ErrIdentityMissing
	}

	idMeta := idMatches[0]
	saltHex := tagValue(idMeta.Tags, ledger.TagSalt)
	salt, err := hexDecodeImpl(saltHex)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: malformed salt tag: %v", syncerr.ErrIdentityMissing, err)
	}

	encryptedKey, err := adapter.FetchBlob(ctx, idMeta.TxID, maxIdentityBytes)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: fetch identity blob: %v", syncerr.ErrNetworkError, err)
	}

	// 2. Derive the symmetric key and decrypt the identity payload.
	symKey := identity.DeriveSymKey(phrase, salt)
	decryptedKeyBytes, err := cipher.Decrypt(symKey, encryptedKey)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", syncerr.ErrBadPassphrase, err)
	}

	// 3. Derive the keypair from the phrase and confirm it matches.
	privKey, walletID, err := identity.DeriveKeypair(appName, phrase)
	if err != nil {
		return nil, nil, fmt.Errorf("sync: derive keypair: %w", err)
	}
	if !helpers.ConstantTimeCompare(privKey.Serialize(), decryptedKeyBytes) {
		return nil, nil, syncerr.ErrIdentityMismatch
	}

	id := &identity.Identity{PrivateKey: privKey, WalletID: walletID, SymKey: symKey, Salt: salt}

	st, err := store.New(&store.Config{DataDir: dbDir})
	if err != nil {
		return nil, nil, fmt.Errorf("sync: open local store: %w", err)
	}

	// 4. Query all data shards for the wallet.
	deltaMatches, err := adapter.QueryByTags(ctx, ledger.TagFilter{Tags: []ledger.Tag{
		{Name: ledger.TagAppName, Value: appName},
		{Name: ledger.TagWallet, Value: wallet},
		{Name: ledger.TagType, Value: ledger.TypeDelta},
	}})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: query delta shards: %v", syncerr.ErrNetworkError, err)
	}
	snapshotMatches, err := adapter.QueryByTags(ctx, ledger.TagFilter{Tags: []ledger.Tag{
		{Name: ledger.TagAppName, Value: appName},
		{Name: ledger.TagWallet, Value: wallet},
		{Name: ledger.TagType, Value: ledger.TypeSnapshot},
	}})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: query snapshot shards: %v", syncerr.ErrNetworkError, err)
	}
	allMatches := append(append([]ledger.TxMeta{}, deltaMatches...), snapshotMatches...)

	// 5. Empty ledger: stop with a fresh, clean store.
	if len(allMatches) == 0 {
		if err := setMetaUint(st, metaCurrentVersion, 0); err != nil {
			return nil, nil, err
		}
		if err := st.SetMeta(metaWalletAddress, walletID); err != nil {
			return nil, nil, err
		}
		return st, id, nil
	}

	// 6. Choose the starting point: newest snapshot, or everything.
	var maxSnapshotVersion uint64
	hasSnapshot := false
	for _, m := range snapshotMatches {
		v := tagUint(m.Tags, ledger.TagVersion)
		if !hasSnapshot || v > maxSnapshotVersion {
			maxSnapshotVersion = v
			hasSnapshot = true
		}
	}

	var selected []ledger.TxMeta
	var maxVersionOverall uint64
	for _, m := range allMatches {
		v := tagUint(m.Tags, ledger.TagVersion)
		if v > maxVersionOverall {
			maxVersionOverall = v
		}
		if !hasSnapshot || v >= maxSnapshotVersion {
			selected = append(selected, m)
		}
	}

	// 7. Fetch, verify, decrypt, deserialize each selected shard.
	var survivors []*shard.Shard
	for _, m := range selected {
		blob, err := adapter.FetchBlob(ctx, m.TxID, maxShardBytes)
		if err != nil {
			log.Warn("skipping shard: fetch failed", "tx_id", m.TxID, "error", err)
			continue
		}
		sig := tagValue(m.Tags, ledger.TagSignature)
		if sig == "" || !signature.Verify(blob, sig, walletID) {
			log.Warn("skipping shard: signature missing or invalid", "tx_id", m.TxID)
			continue
		}
		plaintext, err := cipher.Decrypt(symKey, blob)
		if err != nil {
			log.Warn("skipping shard: decryption failed", "tx_id", m.TxID, "error", err)
			continue
		}
		s, err := shard.Deserialize(plaintext)
		if err != nil {
			log.Warn("skipping shard: deserialization failed", "tx_id", m.TxID, "error", err)
			continue
		}
		survivors = append(survivors, s)
	}

	// 8. Zero survivors is fatal, distinct from an absent identity.
	if len(survivors) == 0 {
		return nil, nil, syncerr.ErrNoRecoverableShards
	}

	// 9. Replay in ascending version order, persist, and advance cursors.
	sort.Slice(survivors, func(i, j int) bool { return survivors[i].ShardVersion < survivors[j].ShardVersion })
	facts := shard.Replay(survivors)
	for _, f := range facts {
		if err := st.ReplaceFact(f); err != nil {
			return nil, nil, fmt.Errorf("sync: write reconstructed fact %q: %w", f.Key, err)
		}
	}

	if err := setMetaUint(st, metaCurrentVersion, maxVersionOverall); err != nil {
		return nil, nil, err
	}
	if err := st.SetMeta(metaWalletAddress, walletID); err != nil {
		return nil, nil, err
	}

	return st, id, nil
}

func tagValue(tags []ledger.Tag, name string) string {
	for _, t := range tags {
		if t.Name == name {
			return t.Value
		}
	}
	return ""
}

func tagUint(tags []ledger.Tag, name string) uint64 {
	v, _ := strconv.ParseUint(tagValue(tags, name), 10, 64)
	return v
}

