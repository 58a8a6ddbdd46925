package sync

import (
	"context"
	"fmt"

	"github.com/relaymem/syncengine/internal/cipher"
	"github.com/relaymem/syncengine/internal/ledger"
	"github.com/relaymem/syncengine/internal/shard"
)

// PushFacts implements spec §4.8.2: reads the dirty set, chunks it into
// shards, uploads them in strict version order, and only then clears the
// local dirty flags and advances current_version.
func (e *Engine) PushFacts(ctx context.Context) error {
	dirty, err := e.store.GetDirty()
	if err != nil {
		return fmt.Errorf("sync: read dirty facts: %w", err)
	}
	deletes, err := e.store.GetPendingDeletes()
	if err != nil {
		return fmt.Errorf("sync: read pending deletes: %w", err)
	}
	if len(dirty) == 0 && len(deletes) == 0 {
		return nil
	}

	ops := make([]shard.Operation, 0, len(dirty)+len(deletes))
	for _, f := range dirty {
		ops = append(ops, shard.FactToUpsertOp(f))
	}
	for _, d := range deletes {
		ops = append(ops, shard.PendingDeleteToDeleteOp(d))
	}

	currentVersion, err := getMetaUint(e.store, metaCurrentVersion)
	if err != nil {
		return fmt.Errorf("sync: read current_version: %w", err)
	}
	startVersion := currentVersion + 1

	sessionID := shard.NewSessionID()
	shards, err := shard.Chunk(ops, startVersion, sessionID, e.uploadBudget())
	if err != nil {
		return fmt.Errorf("sync: chunk operations: %w", err)
	}

	var lastUploadedVersion uint64
	for _, s := range shards {
		data, err := shard.Serialize(s)
		if err != nil {
			return fmt.Errorf("sync: serialize shard %d: %w", s.ShardVersion, err)
		}

		sealed, err := cipher.Encrypt(e.identity.SymKey, data)
		if err != nil {
			return fmt.Errorf("sync: encrypt shard %d: %w", s.ShardVersion, err)
		}

		extraTags := []ledger.Tag{
			{Name: ledger.TagType, Value: ledger.TypeDelta},
			{Name: ledger.TagVersion, Value: fmt.Sprintf("%d", s.ShardVersion)},
		}
		if _, err := e.uploadSigned(ctx, sealed, s.Timestamp, extraTags); err != nil {
			e.log.Warn("shard upload failed, aborting push; dirty flags preserved", "version", s.ShardVersion, "error", err)
			return fmt.Errorf("sync: upload shard %d: %w", s.ShardVersion, err)
		}
		lastUploadedVersion = s.ShardVersion

		if err := setMetaUint(e.store, metaLastPushedVersion, lastUploadedVersion); err != nil {
			return fmt.Errorf("sync: record last_pushed_version: %w", err)
		}
	}

	if lastUploadedVersion == 0 {
		// Chunk produced nothing (shouldn't happen given the emptiness
		// check above, but guards against an inconsistent caller).
		return nil
	}

	if err := e.store.ClearDirty(); err != nil {
		return fmt.Errorf("sync: clear dirty after push: %w", err)
	}
	if err := setMetaUint(e.store, metaCurrentVersion, lastUploadedVersion); err != nil {
		return fmt.Errorf("sync: advance current_version: %w", err)
	}
	return nil
}

// PushIdentity implements spec §4.8.3: uploads the encrypted private key
// once, recording the resulting transaction id so it never re-runs.
func (e *Engine) PushIdentity(ctx context.Context) error {
	if pushed, ok, err := e.store.GetMeta(metaIdentityPushed); err != nil {
		return fmt.Errorf("sync: read identity_pushed: %w", err)
	} else if ok && pushed != "" {
		return nil
	}

	encryptedKey, err := cipher.Encrypt(e.identity.SymKey, e.identity.PrivateKey.Serialize())
	if err != nil {
		return fmt.Errorf("sync: encrypt identity payload: %w", err)
	}

	extraTags := []ledger.Tag{
		{Name: ledger.TagType, Value: ledger.TypeIdentity},
		{Name: ledger.TagSalt, Value: hexEncode(e.identity.Salt)},
	}
	res, err := e.uploadSigned(ctx, encryptedKey, nowUnix(), extraTags)
	if err != nil {
		return fmt.Errorf("sync: upload identity: %w", err)
	}

	return e.store.SetMeta(metaIdentityPushed, res.TxID)
}

// PushConversationDelta implements spec §4.8.4: uploads the unsynced tail
// of a conversation as one encrypted segment, chunked at the ledger's
// upload budget, advancing the per-source cursor only on full success.
func (e *Engine) PushConversationDelta(ctx context.Context, conv *Conversation) error {
	cursorKey := conversationOffsetKey(conv.Client, conv.ID)
	lastSynced, err := getMetaUint(e.store, cursorKey)
	if err != nil {
		return fmt.Errorf("sync: read conversation cursor: %w", err)
	}

	safeOffset := clampInt(int(lastSynced), 0, len(conv.Messages))
	delta := conv.Messages[safeOffset:]
	if len(delta) == 0 {
		return nil
	}

	segment := Segment{
		ID:        conv.ID,
		Client:    conv.Client,
		Project:   conv.Project,
		StartedAt: conv.StartedAt,
		UpdatedAt: conv.UpdatedAt,
		Offset:    safeOffset,
		Count:     len(delta),
		Messages:  delta,
	}

	payload, err := marshalSegment(&segment)
	if err != nil {
		return fmt.Errorf("sync: marshal conversation segment: %w", err)
	}

	sealed, err := cipher.Encrypt(e.identity.SymKey, payload)
	if err != nil {
		return fmt.Errorf("sync: encrypt conversation segment: %w", err)
	}

	pieces := splitBytes(sealed, e.uploadBudget())
	n := len(pieces)

	timestamp := nowUnix()
	for i, piece := range pieces {
		extraTags := []ledger.Tag{
			{Name: ledger.TagType, Value: ledger.TypeConversation},
			{Name: ledger.TagClient, Value: conv.Client},
			{Name: ledger.TagProject, Value: conv.Project},
			{Name: ledger.TagSession, Value: conv.ID},
			{Name: ledger.TagOffset, Value: fmt.Sprintf("%d", safeOffset)},
			{Name: ledger.TagCount, Value: fmt.Sprintf("%d", len(delta))},
			{Name: ledger.TagChunk, Value: fmt.Sprintf("%d/%d", i+1, n)},
		}

		if _, err := e.uploadSigned(ctx, piece, timestamp, extraTags); err != nil {
			e.log.Warn("conversation chunk upload failed, cursor not advanced", "session", conv.ID, "chunk", i+1, "of", n, "error", err)
			return fmt.Errorf("sync: upload conversation chunk %d/%d: %w", i+1, n, err)
		}
	}

	return setMetaUint(e.store, cursorKey, uint64(len(conv.Messages)))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// splitBytes divides data into pieces of at most limitBytes, always
// returning at least one piece (possibly empty) so a zero-length payload
// still uploads as a single chunk.
func splitBytes(data []byte, limitBytes int) [][]byte {
	if limitBytes <= 0 {
		return [][]byte{data}
	}
	if len(data) == 0 {
		return [][]byte{data}
	}
	var pieces [][]byte
	for start := 0; start < len(data); start += limitBytes {
		end := start + limitBytes
		if end > len(data) {
			end = len(data)
		}
		pieces = append(pieces, data[start:end])
	}
	return pieces
}
