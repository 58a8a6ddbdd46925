package sync

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"

	"github.com/relaymem/syncengine/internal/config"
	"github.com/relaymem/syncengine/internal/identity"
	"github.com/relaymem/syncengine/internal/ledger"
	"github.com/relaymem/syncengine/internal/store"
)

const testAppName = "relaymem-test"
const testPhrase = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func newTestIdentity(t *testing.T) *identity.Identity {
	t.Helper()
	salt, err := identity.NewSalt()
	if err != nil {
		t.Fatalf("NewSalt: %v", err)
	}
	id, err := identity.New(testAppName, testPhrase, salt)
	if err != nil {
		t.Fatalf("identity.New: %v", err)
	}
	return id
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir, err := os.MkdirTemp("", "syncengine-sync-test-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	st, err := store.New(&store.Config{DataDir: dir})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestEngine(t *testing.T) (*Engine, *store.Store, *identity.Identity, *ledger.Memory) {
	t.Helper()
	st := newTestStore(t)
	id := newTestIdentity(t)
	adapter := ledger.NewMemory(ledger.Balance{HumanReadable: "1.0", EstimatedUploadsRemaining: 1000})
	cfg := &config.SyncConfig{UploadBudgetBytes: 92160}
	engine := NewEngine(testAppName, st, id, adapter, cfg)
	// Recovery starts from the identity record, so every engine under test
	// publishes one before any fact is pushed.
	if err := engine.PushIdentity(context.Background()); err != nil {
		t.Fatalf("PushIdentity: %v", err)
	}
	return engine, st, id, adapter
}

func TestSingleFactRoundtrip(t *testing.T) {
	ctx := context.Background()
	engine, st, id, adapter := newTestEngine(t)

	f := &store.Fact{ID: uuid.NewString(), Scope: store.GlobalScope, Key: "a", Value: "1", Tags: []string{"t"}, Confidence: 0.9}
	if err := st.UpsertFact(f); err != nil {
		t.Fatalf("UpsertFact: %v", err)
	}
	if err := engine.PushFacts(ctx); err != nil {
		t.Fatalf("PushFacts: %v", err)
	}

	dbDir, err := os.MkdirTemp("", "syncengine-restore-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	defer os.RemoveAll(dbDir)

	restored, _, err := PullAndReconstruct(ctx, testAppName, id.WalletID, testPhrase, dbDir, adapter, nil)
	if err != nil {
		t.Fatalf("PullAndReconstruct: %v", err)
	}
	defer restored.Close()

	facts, err := restored.ListAll()
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(facts) != 1 {
		t.Fatalf("len(facts) = %d, want 1", len(facts))
	}
	if facts[0].Key != "a" || facts[0].Value != "1" || facts[0].Scope != store.GlobalScope {
		t.Errorf("restored fact = %+v, want key=a value=1 scope=global", facts[0])
	}
}

func TestDeleteThenResurrectRoundtrip(t *testing.T) {
	ctx := context.Background()
	engine, st, id, adapter := newTestEngine(t)

	upsert := func(key, value string) {
		t.Helper()
		if err := st.UpsertFact(&store.Fact{ID: uuid.NewString(), Scope: store.GlobalScope, Key: key, Value: value}); err != nil {
			t.Fatalf("UpsertFact: %v", err)
		}
		if err := engine.PushFacts(ctx); err != nil {
			t.Fatalf("PushFacts: %v", err)
		}
	}

	upsert("k", "old")
	if err := st.DeleteFact("k"); err != nil {
		t.Fatalf("DeleteFact: %v", err)
	}
	if err := engine.PushFacts(ctx); err != nil {
		t.Fatalf("PushFacts (delete): %v", err)
	}
	upsert("k", "new")

	dbDir, err := os.MkdirTemp("", "syncengine-restore-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	defer os.RemoveAll(dbDir)

	restored, _, err := PullAndReconstruct(ctx, testAppName, id.WalletID, testPhrase, dbDir, adapter, nil)
	if err != nil {
		t.Fatalf("PullAndReconstruct: %v", err)
	}
	defer restored.Close()

	facts, err := restored.ListAll()
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(facts) != 1 || facts[0].Value != "new" {
		t.Fatalf("facts = %+v, want exactly one fact with value=new", facts)
	}
}

func TestPullSkipsTamperedShardButSucceeds(t *testing.T) {
	ctx := context.Background()
	engine, st, id, adapter := newTestEngine(t)

	if err := st.UpsertFact(&store.Fact{ID: uuid.NewString(), Scope: store.GlobalScope, Key: "good", Value: "v1"}); err != nil {
		t.Fatalf("UpsertFact: %v", err)
	}
	if err := engine.PushFacts(ctx); err != nil {
		t.Fatalf("PushFacts: %v", err)
	}
	if err := st.UpsertFact(&store.Fact{ID: uuid.NewString(), Scope: store.GlobalScope, Key: "also-good", Value: "v2"}); err != nil {
		t.Fatalf("UpsertFact: %v", err)
	}
	if err := engine.PushFacts(ctx); err != nil {
		t.Fatalf("PushFacts: %v", err)
	}

	// Tamper with the first uploaded blob directly in the memory adapter.
	matches, err := adapter.QueryByTags(ctx, ledger.TagFilter{Tags: []ledger.Tag{{Name: ledger.TagVersion, Value: "1"}}})
	if err != nil || len(matches) == 0 {
		t.Fatalf("QueryByTags: %v (matches=%d)", err, len(matches))
	}
	blob, err := adapter.FetchBlob(ctx, matches[0].TxID, 0)
	if err != nil {
		t.Fatalf("FetchBlob: %v", err)
	}
	tampered := append([]byte(nil), blob...)
	tampered[0] ^= 0xFF
	adapter.Tamper(matches[0].TxID, tampered)

	dbDir, err := os.MkdirTemp("", "syncengine-restore-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	defer os.RemoveAll(dbDir)

	restored, _, err := PullAndReconstruct(ctx, testAppName, id.WalletID, testPhrase, dbDir, adapter, nil)
	if err != nil {
		t.Fatalf("PullAndReconstruct: %v", err)
	}
	defer restored.Close()

	facts, err := restored.ListAll()
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(facts) != 1 || facts[0].Key != "also-good" {
		t.Fatalf("facts = %+v, want exactly the untampered fact", facts)
	}
}

func TestPullOverEmptyLedgerYieldsCleanStore(t *testing.T) {
	ctx := context.Background()
	id := newTestIdentity(t)
	adapter := ledger.NewMemory(ledger.Balance{})

	// Push identity only, no facts.
	engine := NewEngine(testAppName, newTestStore(t), id, adapter, nil)
	if err := engine.PushIdentity(ctx); err != nil {
		t.Fatalf("PushIdentity: %v", err)
	}

	dbDir, err := os.MkdirTemp("", "syncengine-restore-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	defer os.RemoveAll(dbDir)

	restored, _, err := PullAndReconstruct(ctx, testAppName, id.WalletID, testPhrase, dbDir, adapter, nil)
	if err != nil {
		t.Fatalf("PullAndReconstruct: %v", err)
	}
	defer restored.Close()

	facts, err := restored.ListAll()
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(facts) != 0 {
		t.Errorf("expected no facts over an empty ledger, got %d", len(facts))
	}
	version, _, err := restored.GetMeta("current_version")
	if err != nil {
		t.Fatalf("GetMeta: %v", err)
	}
	if version != "0" {
		t.Errorf("current_version = %q, want 0", version)
	}
}

func TestConversationDeltaCursorAdvancesAndNoOps(t *testing.T) {
	ctx := context.Background()
	engine, st, _, _ := newTestEngine(t)

	messages := make([]Message, 10)
	for i := range messages {
		messages[i] = Message{Content: []byte(`"m"`)}
	}
	conv := &Conversation{ID: "sess-1", Client: ledger.ClientCursor, Project: "proj", Messages: messages}

	if err := st.SetMeta(conversationOffsetKey(conv.Client, conv.ID), "4"); err != nil {
		t.Fatalf("SetMeta: %v", err)
	}

	if err := engine.PushConversationDelta(ctx, conv); err != nil {
		t.Fatalf("PushConversationDelta: %v", err)
	}

	cursor, ok, err := st.GetMeta(conversationOffsetKey(conv.Client, conv.ID))
	if err != nil || !ok {
		t.Fatalf("GetMeta: %v (ok=%v)", err, ok)
	}
	if cursor != "10" {
		t.Errorf("cursor = %q, want 10", cursor)
	}

	// Second push with the same session and no new messages is a no-op:
	// PushConversationDelta must not error and the cursor stays at 10.
	if err := engine.PushConversationDelta(ctx, conv); err != nil {
		t.Fatalf("PushConversationDelta (no-op): %v", err)
	}
	cursor, _, err = st.GetMeta(conversationOffsetKey(conv.Client, conv.ID))
	if err != nil {
		t.Fatalf("GetMeta: %v", err)
	}
	if cursor != "10" {
		t.Errorf("cursor after no-op push = %q, want 10", cursor)
	}
}

func TestWrongPhraseAbortsRecovery(t *testing.T) {
	ctx := context.Background()
	id := newTestIdentity(t)
	adapter := ledger.NewMemory(ledger.Balance{})
	engine := NewEngine(testAppName, newTestStore(t), id, adapter, nil)
	if err := engine.PushIdentity(ctx); err != nil {
		t.Fatalf("PushIdentity: %v", err)
	}

	const wrongPhrase = "zoo zoo zoo zoo zoo zoo zoo zoo zoo zoo zoo wrong"

	dbDir, err := os.MkdirTemp("", "syncengine-restore-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	defer os.RemoveAll(dbDir)

	// A syntactically invalid phrase fails phrase validation upstream in a
	// real CLI; here we exercise the engine's own defense by using a
	// different (but validly formed) recovery phrase that derives a
	// different keypair, expecting the bad-passphrase path to fire first
	// since a wrong phrase also derives the wrong symmetric key.
	_, _, err = PullAndReconstruct(ctx, testAppName, id.WalletID, wrongPhrase, dbDir, adapter, nil)
	if err == nil {
		t.Fatal("expected recovery with the wrong phrase to fail")
	}
}
