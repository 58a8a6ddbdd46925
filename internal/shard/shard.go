// Package shard constructs, size-bounds, serializes, deserializes, and
// replays the operation shards that carry local mutations to the ledger.
package shard

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/relaymem/syncengine/internal/cipher"
	"github.com/relaymem/syncengine/internal/store"
)

// OpType discriminates the two ShardOperation variants.
type OpType string

const (
	OpUpsert OpType = "upsert"
	OpDelete OpType = "delete"
)

// Operation is a closed tagged variant: exactly one of Upsert or Delete is
// populated, selected by Op. Strict JSON parsing (DisallowUnknownFields)
// rejects any other shape on pull.
type Operation struct {
	Op     OpType
	Upsert *UpsertFields
	Delete *DeleteFields
}

// UpsertFields carries the fields of an upsert operation: a fact stripped
// of its local-only bookkeeping (Dirty, AccessCount, timestamps).
type UpsertFields struct {
	Key        string   `json:"key"`
	Value      string   `json:"value"`
	Tags       []string `json:"tags"`
	Scope      string   `json:"scope"`
	Confidence float64  `json:"confidence"`
	FactID     string   `json:"fact_id,omitempty"`
}

// DeleteFields carries the fields of a delete operation.
type DeleteFields struct {
	Key string `json:"key"`
}

// operationWire is the JSON-on-the-wire shape of an Operation.
type operationWire struct {
	Op         OpType   `json:"op"`
	Key        string   `json:"key,omitempty"`
	Value      string   `json:"value,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Scope      string   `json:"scope,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	FactID     string   `json:"fact_id,omitempty"`
}

// MarshalJSON encodes the closed variant as a single flat object tagged by "op".
func (o Operation) MarshalJSON() ([]byte, error) {
	switch o.Op {
	case OpUpsert:
		if o.Upsert == nil {
			return nil, fmt.Errorf("shard: upsert operation missing fields")
		}
		confidence := o.Upsert.Confidence
		return json.Marshal(operationWire{
			Op:         OpUpsert,
			Key:        o.Upsert.Key,
			Value:      o.Upsert.Value,
			Tags:       o.Upsert.Tags,
			Scope:      o.Upsert.Scope,
			Confidence: &confidence,
			FactID:     o.Upsert.FactID,
		})
	case OpDelete:
		if o.Delete == nil {
			return nil, fmt.Errorf("shard: delete operation missing fields")
		}
		return json.Marshal(operationWire{Op: OpDelete, Key: o.Delete.Key})
	default:
		return nil, fmt.Errorf("shard: unknown operation type %q", o.Op)
	}
}

// UnmarshalJSON decodes a single flat object into the closed variant,
// rejecting unknown fields and shapes that don't match the declared op.
func (o *Operation) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var wire operationWire
	if err := dec.Decode(&wire); err != nil {
		return fmt.Errorf("shard: decode operation: %w", err)
	}

	switch wire.Op {
	case OpUpsert:
		if wire.Key == "" || wire.Confidence == nil {
			return fmt.Errorf("shard: upsert operation missing required fields")
		}
		o.Op = OpUpsert
		o.Upsert = &UpsertFields{
			Key:        wire.Key,
			Value:      wire.Value,
			Tags:       wire.Tags,
			Scope:      wire.Scope,
			Confidence: *wire.Confidence,
			FactID:     wire.FactID,
		}
		o.Delete = nil
	case OpDelete:
		if wire.Key == "" {
			return fmt.Errorf("shard: delete operation missing key")
		}
		o.Op = OpDelete
		o.Delete = &DeleteFields{Key: wire.Key}
		o.Upsert = nil
	default:
		return fmt.Errorf("shard: unknown operation type %q", wire.Op)
	}

	return nil
}

// Shard is an immutable, versioned batch of operations.
type Shard struct {
	ShardVersion uint64      `json:"shard_version"`
	Timestamp    int64       `json:"timestamp"`
	SessionID    string      `json:"session_id"`
	Operations   []Operation `json:"operations"`
}

// FactToUpsertOp strips local-only fields from a fact and returns the
// corresponding upsert operation.
func FactToUpsertOp(f *store.Fact) Operation {
	return Operation{
		Op: OpUpsert,
		Upsert: &UpsertFields{
			Key:        f.Key,
			Value:      f.Value,
			Tags:       f.Tags,
			Scope:      f.Scope,
			Confidence: f.Confidence,
			FactID:     f.ID,
		},
	}
}

// PendingDeleteToDeleteOp converts a tombstone into its delete operation.
func PendingDeleteToDeleteOp(p *store.PendingDelete) Operation {
	return Operation{Op: OpDelete, Delete: &DeleteFields{Key: p.Key}}
}

// CreateShard builds a single shard from ops at the given version and session.
func CreateShard(ops []Operation, version uint64, sessionID string) *Shard {
	return &Shard{
		ShardVersion: version,
		Timestamp:    time.Now().UTC().Unix(),
		SessionID:    sessionID,
		Operations:   ops,
	}
}

// Serialize encodes a shard deterministically as UTF-8 JSON.
func Serialize(s *Shard) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("shard: serialize: %w", err)
	}
	return data, nil
}

// Deserialize decodes a shard, rejecting unknown top-level fields.
func Deserialize(data []byte) (*Shard, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var s Shard
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("shard: deserialize: %w", err)
	}
	return &s, nil
}

// Chunk splits ops into a sequence of shards with consecutive versions
// starting at startVersion, such that each shard's serialized-then-encrypted
// size does not exceed limitBytes. The wrapper size (shard_version, timestamp,
// session_id, the operations array braces) is measured by actually encoding
// an empty-operations shard with a realistic timestamp and session id, not a
// precomputed constant, because its width varies with both. A single
// operation that alone exceeds the limit is still emitted as its own shard.
func Chunk(ops []Operation, startVersion uint64, sessionID string, limitBytes int) ([]*Shard, error) {
	if len(ops) == 0 {
		return nil, nil
	}

	wrapper, err := wrapperSize(startVersion, sessionID)
	if err != nil {
		return nil, err
	}

	var shards []*Shard
	version := startVersion
	var current []Operation
	currentSize := wrapper

	flush := func() {
		if len(current) == 0 {
			return
		}
		shards = append(shards, CreateShard(current, version, sessionID))
		version++
		current = nil
		currentSize = wrapper
	}

	for _, op := range ops {
		opData, err := json.Marshal(op)
		if err != nil {
			return nil, fmt.Errorf("shard: marshal operation for sizing: %w", err)
		}
		opSize := len(opData) + 1 // +1 inter-operation separator

		if len(current) > 0 && currentSize+opSize+cipher.Overhead > limitBytes {
			flush()
		}

		current = append(current, op)
		currentSize += opSize
	}
	flush()

	return shards, nil
}

// wrapperSize measures the encoded size of a shard carrying no operations,
// using the real version and session id so the wrapper's width reflects
// reality rather than an assumed constant.
func wrapperSize(version uint64, sessionID string) (int, error) {
	empty := CreateShard(nil, version, sessionID)
	data, err := Serialize(empty)
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

// NewSessionID generates a fresh session identifier for a push.
func NewSessionID() string {
	return uuid.NewString()
}
