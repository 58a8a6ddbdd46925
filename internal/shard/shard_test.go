package shard

import (
	"encoding/json"
	"testing"

	"github.com/relaymem/syncengine/internal/store"
)

func upsertOp(key, value string) Operation {
	return Operation{Op: OpUpsert, Upsert: &UpsertFields{Key: key, Value: value, Scope: store.GlobalScope, Confidence: 0.8}}
}

func deleteOp(key string) Operation {
	return Operation{Op: OpDelete, Delete: &DeleteFields{Key: key}}
}

func TestOperationRoundtrip(t *testing.T) {
	for _, op := range []Operation{upsertOp("a", "1"), deleteOp("a")} {
		data, err := json.Marshal(op)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		var got Operation
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("Unmarshal: %v", err)
		}
		if got.Op != op.Op {
			t.Errorf("Op = %v, want %v", got.Op, op.Op)
		}
	}
}

func TestOperationRejectsUnknownFields(t *testing.T) {
	raw := []byte(`{"op":"upsert","key":"a","value":"1","confidence":0.5,"bogus":true}`)
	var op Operation
	if err := json.Unmarshal(raw, &op); err == nil {
		t.Error("expected unmarshal to reject an unknown field")
	}
}

func TestShardSerializeDeserializeRoundtrip(t *testing.T) {
	s := CreateShard([]Operation{upsertOp("a", "1"), deleteOp("b")}, 4, "sess-1")

	data, err := Serialize(s)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	got, err := Deserialize(data)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if got.ShardVersion != s.ShardVersion {
		t.Errorf("ShardVersion = %d, want %d", got.ShardVersion, s.ShardVersion)
	}
	if got.SessionID != s.SessionID {
		t.Errorf("SessionID = %q, want %q", got.SessionID, s.SessionID)
	}
	if len(got.Operations) != len(s.Operations) {
		t.Fatalf("len(Operations) = %d, want %d", len(got.Operations), len(s.Operations))
	}
}

func TestDeserializeRejectsUnknownTopLevelField(t *testing.T) {
	raw := []byte(`{"shard_version":1,"timestamp":1,"session_id":"s","operations":[],"extra":true}`)
	if _, err := Deserialize(raw); err == nil {
		t.Error("expected deserialize to reject an unknown top-level field")
	}
}

func TestChunkAssignsConsecutiveVersions(t *testing.T) {
	ops := make([]Operation, 0, 50)
	for i := 0; i < 50; i++ {
		ops = append(ops, upsertOp("key", "some reasonably sized value to pad things out a bit"))
	}

	shards, err := Chunk(ops, 10, "sess-1", 512)
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	if len(shards) < 2 {
		t.Fatalf("expected chunking to produce multiple shards, got %d", len(shards))
	}
	for i, s := range shards {
		want := uint64(10 + i)
		if s.ShardVersion != want {
			t.Errorf("shard %d version = %d, want %d", i, s.ShardVersion, want)
		}
	}
}

func TestChunkRespectsSizeBound(t *testing.T) {
	ops := make([]Operation, 0, 50)
	for i := 0; i < 50; i++ {
		ops = append(ops, upsertOp("key", "some reasonably sized value to pad things out a bit"))
	}

	limit := 512
	shards, err := Chunk(ops, 1, "sess-1", limit)
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	for i, s := range shards {
		data, err := Serialize(s)
		if err != nil {
			t.Fatalf("Serialize: %v", err)
		}
		if len(data)+28 > limit {
			t.Errorf("shard %d encoded+overhead size %d exceeds limit %d", i, len(data)+28, limit)
		}
	}
}

func TestChunkEmitsOversizedOperationAlone(t *testing.T) {
	huge := upsertOp("key", string(make([]byte, 2000)))
	small := upsertOp("other", "tiny")

	shards, err := Chunk([]Operation{huge, small}, 1, "sess-1", 256)
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	if len(shards) != 2 {
		t.Fatalf("expected the oversized operation to be isolated into its own shard, got %d shards", len(shards))
	}
	if len(shards[0].Operations) != 1 {
		t.Errorf("expected first shard to carry exactly the oversized operation alone")
	}
}

func TestChunkOnEmptyOpsReturnsNoShards(t *testing.T) {
	shards, err := Chunk(nil, 1, "sess-1", 1024)
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	if len(shards) != 0 {
		t.Errorf("expected no shards for empty input, got %d", len(shards))
	}
}

func TestReplayAppliesInVersionOrder(t *testing.T) {
	s1 := CreateShard([]Operation{upsertOp("a", "v1")}, 1, "sess-1")
	s2 := CreateShard([]Operation{upsertOp("a", "v2")}, 2, "sess-1")

	facts := Replay([]*Shard{s1, s2})
	if len(facts) != 1 {
		t.Fatalf("len(facts) = %d, want 1", len(facts))
	}
	if facts[0].Value != "v2" {
		t.Errorf("Value = %q, want %q (later version wins)", facts[0].Value, "v2")
	}
}

func TestReplayPreservesCreatedAcrossUpdates(t *testing.T) {
	s1 := CreateShard([]Operation{upsertOp("a", "v1")}, 1, "sess-1")
	s2 := CreateShard([]Operation{upsertOp("a", "v2")}, 2, "sess-1")

	facts := Replay([]*Shard{s1, s2})
	if !facts[0].Created.Equal(timestampToTime(s1.Timestamp)) {
		t.Errorf("Created = %v, want first shard's timestamp %v", facts[0].Created, timestampToTime(s1.Timestamp))
	}
	if !facts[0].LastConfirmed.Equal(timestampToTime(s2.Timestamp)) {
		t.Errorf("LastConfirmed = %v, want second shard's timestamp %v", facts[0].LastConfirmed, timestampToTime(s2.Timestamp))
	}
}

func TestReplayDeleteThenResurrect(t *testing.T) {
	s1 := CreateShard([]Operation{upsertOp("a", "v1")}, 1, "sess-1")
	s2 := CreateShard([]Operation{deleteOp("a")}, 2, "sess-1")
	s3 := CreateShard([]Operation{upsertOp("a", "v3")}, 3, "sess-1")

	facts := Replay([]*Shard{s1, s2, s3})
	if len(facts) != 1 {
		t.Fatalf("len(facts) = %d, want 1", len(facts))
	}
	if facts[0].Value != "v3" {
		t.Errorf("Value = %q, want %q", facts[0].Value, "v3")
	}
}

func TestReplayPreservesInsertionOrder(t *testing.T) {
	s1 := CreateShard([]Operation{upsertOp("b", "1"), upsertOp("a", "1")}, 1, "sess-1")
	s2 := CreateShard([]Operation{upsertOp("b", "2")}, 2, "sess-1")

	facts := Replay([]*Shard{s1, s2})
	if len(facts) != 2 {
		t.Fatalf("len(facts) = %d, want 2", len(facts))
	}
	if facts[0].Key != "b" || facts[1].Key != "a" {
		t.Errorf("order = [%s, %s], want [b, a] (first-seen order preserved)", facts[0].Key, facts[1].Key)
	}
}

func TestFactToUpsertOpStripsLocalFields(t *testing.T) {
	f := &store.Fact{ID: "id-1", Scope: store.GlobalScope, Key: "k", Value: "v", Confidence: 0.5, Dirty: true, AccessCount: 7}
	op := FactToUpsertOp(f)
	if op.Op != OpUpsert {
		t.Fatalf("Op = %v, want OpUpsert", op.Op)
	}
	if op.Upsert.Key != "k" || op.Upsert.FactID != "id-1" {
		t.Errorf("unexpected upsert fields: %+v", op.Upsert)
	}
}
