package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/relaymem/syncengine/internal/syncerr"
)

// Memory is an in-process Adapter backed by a map, used by tests and by
// the demo binary in place of a real ledger transport.
type Memory struct {
	mu      sync.Mutex
	blobs   map[string][]byte
	tags    map[string][]Tag
	order   []string
	balance Balance
}

// NewMemory returns an empty in-memory adapter with the given reported balance.
func NewMemory(balance Balance) *Memory {
	return &Memory{
		blobs:   make(map[string][]byte),
		tags:    make(map[string][]Tag),
		balance: balance,
	}
}

func (m *Memory) Upload(_ context.Context, data []byte, tags []Tag) (UploadResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	txID := txIDFor(data, len(m.order))
	m.blobs[txID] = append([]byte(nil), data...)
	m.tags[txID] = append([]Tag(nil), tags...)
	m.order = append(m.order, txID)

	return UploadResult{TxID: txID}, nil
}

func (m *Memory) Balance(_ context.Context, _ string) (Balance, error) {
	return m.balance, nil
}

func (m *Memory) QueryByTags(_ context.Context, filter TagFilter) ([]TxMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Newest-first, matching how a real ledger's GQL-style index typically
	// orders results.
	var matches []TxMeta
	for i := len(m.order) - 1; i >= 0; i-- {
		txID := m.order[i]
		if tagsMatch(m.tags[txID], filter.Tags) {
			matches = append(matches, TxMeta{TxID: txID, Tags: append([]Tag(nil), m.tags[txID]...)})
		}
	}
	return matches, nil
}

func (m *Memory) FetchBlob(_ context.Context, txID string, maxBytes int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.blobs[txID]
	if !ok {
		return nil, syncerr.ErrNetworkError
	}
	if maxBytes > 0 && len(data) > maxBytes {
		return nil, syncerr.ErrShardTooLarge
	}
	return append([]byte(nil), data...), nil
}

// Tamper overwrites a previously uploaded blob's bytes in place. It exists
// for tests exercising tamper-detection on pull; no real ledger adapter
// offers anything like it.
func (m *Memory) Tamper(txID string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[txID] = append([]byte(nil), data...)
}

func tagsMatch(have, want []Tag) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if h.Name == w.Name && h.Value == w.Value {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func txIDFor(data []byte, seq int) string {
	h := sha256.New()
	h.Write(data)
	h.Write([]byte{byte(seq), byte(seq >> 8), byte(seq >> 16), byte(seq >> 24)})
	return hex.EncodeToString(h.Sum(nil))
}
