package shard

import (
	"time"

	"github.com/relaymem/syncengine/internal/store"
)

// replayEntry tracks a fact's reconstructed state during a fold.
type replayEntry struct {
	fact *store.Fact
}

// Replay folds an ordered sequence of shards (already sorted by
// ShardVersion ascending) into a final fact set. It preserves insertion
// order: the first time a key appears determines its position in the
// returned slice, and later upserts of the same key update in place
// without moving it. A delete removes the key from the order, so an upsert
// after it re-adds the key at the end. A later shard's operation always wins over an
// earlier one for the same key, per ascending version order.
func Replay(shards []*Shard) []*store.Fact {
	var order []string
	entries := make(map[string]*replayEntry)

	for _, s := range shards {
		for _, op := range s.Operations {
			switch op.Op {
			case OpUpsert:
				applyUpsert(s, op.Upsert, &order, entries)
			case OpDelete:
				applyDelete(op.Delete.Key, &order, entries)
			}
		}
	}

	result := make([]*store.Fact, 0, len(order))
	for _, key := range order {
		if e, ok := entries[key]; ok {
			result = append(result, e.fact)
		}
	}
	return result
}

func applyUpsert(s *Shard, u *UpsertFields, order *[]string, entries map[string]*replayEntry) {
	existing, had := entries[u.Key]

	created := timestampToTime(s.Timestamp)
	accessCount := int64(0)
	if had {
		created = existing.fact.Created
		accessCount = existing.fact.AccessCount
	}

	f := &store.Fact{
		ID:            u.FactID,
		Scope:         u.Scope,
		Key:           u.Key,
		Value:         u.Value,
		Tags:          u.Tags,
		Confidence:    u.Confidence,
		SourceSession: s.SessionID,
		Created:       created,
		LastConfirmed: timestampToTime(s.Timestamp),
		AccessCount:   accessCount,
		Dirty:         false,
	}

	if !had {
		*order = append(*order, u.Key)
	}
	entries[u.Key] = &replayEntry{fact: f}
}

func applyDelete(key string, order *[]string, entries map[string]*replayEntry) {
	if _, had := entries[key]; !had {
		return
	}
	delete(entries, key)

	for i, k := range *order {
		if k == key {
			*order = append((*order)[:i], (*order)[i+1:]...)
			break
		}
	}
}

func timestampToTime(unixSeconds int64) time.Time {
	return time.Unix(unixSeconds, 0).UTC()
}
