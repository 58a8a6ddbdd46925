package sync

import (
	"context"
	"fmt"

	"github.com/relaymem/syncengine/internal/config"
	"github.com/relaymem/syncengine/internal/identity"
	"github.com/relaymem/syncengine/internal/ledger"
	"github.com/relaymem/syncengine/internal/signature"
	"github.com/relaymem/syncengine/internal/store"
	"github.com/relaymem/syncengine/internal/syncerr"
	"github.com/relaymem/syncengine/pkg/logging"
)

// Meta keys held in the local store's meta table (spec §3).
const (
	metaCurrentVersion    = "current_version"
	metaLastPushedVersion = "last_pushed_version"
	metaWalletAddress     = "wallet_address"
	metaIdentityPushed    = "identity_pushed"
)

func conversationOffsetKey(client, session string) string {
	return fmt.Sprintf("conversation_offset:%s:%s", client, session)
}

// Engine wires together the local store, key material, and a ledger
// adapter to push local mutations and reconstruct state from a recovery
// phrase. It never logs or persists key material itself.
type Engine struct {
	appName  string
	store    *store.Store
	identity *identity.Identity
	adapter  ledger.Adapter
	cfg      *config.SyncConfig
	log      *logging.Logger
}

// NewEngine constructs a push-capable engine bound to a local store,
// derived identity, and ledger adapter.
func NewEngine(appName string, st *store.Store, id *identity.Identity, adapter ledger.Adapter, cfg *config.SyncConfig) *Engine {
	return &Engine{
		appName:  appName,
		store:    st,
		identity: id,
		adapter:  adapter,
		cfg:      cfg,
		log:      logging.Default().Component("sync"),
	}
}

func (e *Engine) uploadBudget() int {
	if e.cfg != nil && e.cfg.UploadBudgetBytes > 0 {
		return e.cfg.UploadBudgetBytes
	}
	return 92160
}

// uploadSigned signs an already-sealed payload and uploads it with the
// common App-Name/Wallet/Content-Type/Timestamp/Signature tag block plus
// extraTags appended, wrapping any transport failure in
// syncerr.ErrNetworkError. Callers own encryption: PushFacts encrypts each
// shard separately and PushIdentity encrypts once, while PushConversationDelta
// encrypts once and then splits the sealed buffer into chunks that are
// uploaded as separate pieces, each signed independently.
func (e *Engine) uploadSigned(ctx context.Context, sealed []byte, timestamp int64, extraTags []ledger.Tag) (ledger.UploadResult, error) {
	sig := signature.Sign(e.identity.PrivateKey, sealed)

	tags := append([]ledger.Tag{
		{Name: ledger.TagAppName, Value: e.appName},
		{Name: ledger.TagWallet, Value: e.identity.WalletID},
		{Name: ledger.TagContentType, Value: "application/octet-stream"},
		{Name: ledger.TagTimestamp, Value: fmt.Sprintf("%d", timestamp)},
		{Name: ledger.TagSignature, Value: sig},
	}, extraTags...)

	res, err := e.adapter.Upload(ctx, sealed, tags)
	if err != nil {
		return ledger.UploadResult{}, fmt.Errorf("%w: %v", syncerr.ErrNetworkError, err)
	}
	return res, nil
}

// getMetaUint reads a meta key as a non-negative integer, defaulting to 0.
func getMetaUint(st *store.Store, key string) (uint64, error) {
	raw, ok, err := st.GetMeta(key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	var v uint64
	if _, err := fmt.Sscanf(raw, "%d", &v); err != nil {
		return 0, fmt.Errorf("sync: meta %q is not a valid integer: %w", key, err)
	}
	return v, nil
}

func setMetaUint(st *store.Store, key string, v uint64) error {
	return st.SetMeta(key, fmt.Sprintf("%d", v))
}
