package sync

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/relaymem/syncengine/internal/cipher"
	"github.com/relaymem/syncengine/internal/ledger"
	"github.com/relaymem/syncengine/internal/signature"
	"github.com/relaymem/syncengine/pkg/logging"
)

type chunkGroupKey struct {
	session   string
	offset    string
	timestamp string
}

type chunkGroup struct {
	total  int
	chunks map[int]ledger.TxMeta
}

type stampedSegment struct {
	segment   *Segment
	timestamp int64
}

// PullConversations implements spec §4.8.6: fetches every conversation
// chunk uploaded for the wallet, reassembles complete chunk groups into
// segments, and stitches segments into per-session conversations.
func PullConversations(ctx context.Context, appName, wallet string, symKey []byte, adapter ledger.Adapter) ([]*Conversation, error) {
	log := logging.Default().Component("sync")

	matches, err := adapter.QueryByTags(ctx, ledger.TagFilter{Tags: []ledger.Tag{
		{Name: ledger.TagAppName, Value: appName},
		{Name: ledger.TagWallet, Value: wallet},
		{Name: ledger.TagType, Value: ledger.TypeConversation},
	}})
	if err != nil {
		return nil, fmt.Errorf("sync: query conversation chunks: %w", err)
	}

	groups := make(map[chunkGroupKey]*chunkGroup)
	var order []chunkGroupKey

	for _, m := range matches {
		key := chunkGroupKey{
			session:   tagValue(m.Tags, ledger.TagSession),
			offset:    tagValue(m.Tags, ledger.TagOffset),
			timestamp: tagValue(m.Tags, ledger.TagTimestamp),
		}
		idx, total, ok := parseChunkTag(tagValue(m.Tags, ledger.TagChunk))
		if !ok {
			log.Warn("skipping conversation chunk: malformed Chunk tag", "tx_id", m.TxID)
			continue
		}

		g, exists := groups[key]
		if !exists {
			g = &chunkGroup{total: total, chunks: make(map[int]ledger.TxMeta)}
			groups[key] = g
			order = append(order, key)
		}
		g.chunks[idx] = m
	}

	var stamped []stampedSegment
	for _, key := range order {
		g := groups[key]
		if len(g.chunks) != g.total {
			log.Warn("skipping incomplete conversation group", "session", key.session, "have", len(g.chunks), "want", g.total)
			continue
		}

		var ciphertext []byte
		complete := true
		for i := 1; i <= g.total; i++ {
			m, ok := g.chunks[i]
			if !ok {
				complete = false
				break
			}
			blob, err := adapter.FetchBlob(ctx, m.TxID, 0)
			if err != nil {
				log.Warn("skipping conversation group: chunk fetch failed", "session", key.session, "chunk", i, "error", err)
				complete = false
				break
			}
			sig := tagValue(m.Tags, ledger.TagSignature)
			if sig == "" || !signature.Verify(blob, sig, wallet) {
				log.Warn("skipping conversation group: chunk signature invalid", "session", key.session, "chunk", i)
				complete = false
				break
			}
			ciphertext = append(ciphertext, blob...)
		}
		if !complete {
			continue
		}

		plaintext, err := cipher.Decrypt(symKey, ciphertext)
		if err != nil {
			log.Warn("skipping conversation group: decryption failed", "session", key.session, "error", err)
			continue
		}

		seg, err := unmarshalSegment(plaintext)
		if err != nil {
			log.Warn("skipping conversation group: invalid segment shape", "session", key.session, "error", err)
			continue
		}

		ts, _ := strconv.ParseInt(key.timestamp, 10, 64)
		stamped = append(stamped, stampedSegment{segment: seg, timestamp: ts})
	}

	return stitchConversations(stamped), nil
}

func parseChunkTag(raw string) (idx, total int, ok bool) {
	parts := strings.SplitN(raw, "/", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	i, err1 := strconv.Atoi(parts[0])
	n, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || i < 1 || n < 1 || i > n {
		return 0, 0, false
	}
	return i, n, true
}

// stitchConversations groups segments by session, orders them by
// (offset ascending, upload timestamp ascending), and appends each
// new offset's messages in turn. Duplicate offsets within a session take
// the first seen, which the stable sort guarantees is the earliest upload.
func stitchConversations(stamped []stampedSegment) []*Conversation {
	bySession := make(map[string][]stampedSegment)
	var sessionOrder []string
	for _, s := range stamped {
		if _, ok := bySession[s.segment.ID]; !ok {
			sessionOrder = append(sessionOrder, s.segment.ID)
		}
		bySession[s.segment.ID] = append(bySession[s.segment.ID], s)
	}

	var result []*Conversation
	for _, sessionID := range sessionOrder {
		segs := bySession[sessionID]
		sort.SliceStable(segs, func(i, j int) bool {
			if segs[i].segment.Offset != segs[j].segment.Offset {
				return segs[i].segment.Offset < segs[j].segment.Offset
			}
			return segs[i].timestamp < segs[j].timestamp
		})

		conv := &Conversation{ID: sessionID}
		seenOffsets := make(map[int]bool)
		first := true
		for _, s := range segs {
			if seenOffsets[s.segment.Offset] {
				continue
			}
			seenOffsets[s.segment.Offset] = true

			seg := s.segment
			conv.Client = seg.Client
			conv.Project = seg.Project
			conv.Messages = append(conv.Messages, seg.Messages...)
			if first || seg.StartedAt < conv.StartedAt {
				conv.StartedAt = seg.StartedAt
			}
			if first || seg.UpdatedAt > conv.UpdatedAt {
				conv.UpdatedAt = seg.UpdatedAt
			}
			first = false
		}
		result = append(result, conv)
	}
	return result
}

// CheckRemoteVersion returns the highest shard version recorded on the
// ledger for wallet, without fetching or decrypting any shard body.
func CheckRemoteVersion(ctx context.Context, appName, wallet string, adapter ledger.Adapter) (uint64, error) {
	var max uint64
	for _, typ := range []string{ledger.TypeDelta, ledger.TypeSnapshot} {
		matches, err := adapter.QueryByTags(ctx, ledger.TagFilter{Tags: []ledger.Tag{
			{Name: ledger.TagAppName, Value: appName},
			{Name: ledger.TagWallet, Value: wallet},
			{Name: ledger.TagType, Value: typ},
		}})
		if err != nil {
			return 0, fmt.Errorf("sync: query remote version: %w", err)
		}
		for _, m := range matches {
			if v := tagUint(m.Tags, ledger.TagVersion); v > max {
				max = v
			}
		}
	}
	return max, nil
}
