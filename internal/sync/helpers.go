package sync

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/relaymem/syncengine/internal/ledger"
	"github.com/relaymem/syncengine/pkg/helpers"
)

func nowUnix() int64 {
	return time.Now().UTC().Unix()
}

// hexEncode formats the Salt tag value without the 0x prefix carried by
// helpers.BytesToHex, since the Salt tag is bare hex per the wire format.
func hexEncode(b []byte) string {
	return hex.EncodeToString(b)
}

// hexDecodeImpl decodes the Salt tag value; helpers.HexToBytes also
// tolerates an optional 0x prefix, which is harmless here since Salt never
// carries one.
func hexDecodeImpl(s string) ([]byte, error) {
	return helpers.HexToBytes(s)
}

func marshalSegment(s *Segment) ([]byte, error) {
	return json.Marshal(s)
}

// segmentWire is the JSON-on-the-wire shape of a Segment. Required fields
// are pointers so a missing key can be distinguished from a present
// zero-value, matching the strict shard operation parser.
type segmentWire struct {
	ID        *string    `json:"id"`
	Client    *string    `json:"client"`
	Project   *string    `json:"project"`
	StartedAt *int64     `json:"startedAt"`
	UpdatedAt *int64     `json:"updatedAt"`
	Offset    *int       `json:"offset"`
	Count     int        `json:"count,omitempty"`
	Messages  *[]Message `json:"messages"`
}

// unmarshalSegment decodes a conversation segment, rejecting unknown fields
// and any shape missing one of the required fields from spec §4.8.6 step 2:
// id, client, project, startedAt, updatedAt, offset>=0, messages[].
func unmarshalSegment(data []byte) (*Segment, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var wire segmentWire
	if err := dec.Decode(&wire); err != nil {
		return nil, fmt.Errorf("sync: decode conversation segment: %w", err)
	}

	switch {
	case wire.ID == nil || *wire.ID == "":
		return nil, fmt.Errorf("sync: conversation segment missing id")
	case wire.Client == nil:
		return nil, fmt.Errorf("sync: conversation segment missing client")
	case *wire.Client != ledger.ClientCursor && *wire.Client != ledger.ClientClaudeCode:
		return nil, fmt.Errorf("sync: conversation segment has unknown client %q", *wire.Client)
	case wire.Project == nil:
		return nil, fmt.Errorf("sync: conversation segment missing project")
	case wire.StartedAt == nil:
		return nil, fmt.Errorf("sync: conversation segment missing startedAt")
	case wire.UpdatedAt == nil:
		return nil, fmt.Errorf("sync: conversation segment missing updatedAt")
	case wire.Offset == nil:
		return nil, fmt.Errorf("sync: conversation segment missing offset")
	case *wire.Offset < 0:
		return nil, fmt.Errorf("sync: conversation segment has negative offset %d", *wire.Offset)
	case wire.Messages == nil:
		return nil, fmt.Errorf("sync: conversation segment missing messages")
	}

	return &Segment{
		ID:        *wire.ID,
		Client:    *wire.Client,
		Project:   *wire.Project,
		StartedAt: *wire.StartedAt,
		UpdatedAt: *wire.UpdatedAt,
		Offset:    *wire.Offset,
		Count:     wire.Count,
		Messages:  *wire.Messages,
	}, nil
}
