// Package ledger defines the pluggable remote-ledger adapter boundary: the
// tag vocabulary the sync engine writes and queries by, and the narrow
// interface a concrete ledger transport (Arweave, a test double, anything
// append-only and tag-queryable) must satisfy.
package ledger

import "context"

// Tag names, fixed by wire format. A ledger transport must expose these
// verbatim as its secondary index so QueryByTags filters work identically
// regardless of which concrete Adapter is wired in.
const (
	TagAppName     = "App-Name"
	TagWallet      = "Wallet"
	TagContentType = "Content-Type"
	TagTimestamp   = "Timestamp"
	TagSignature   = "Signature"
	TagType        = "Type"
	TagVersion     = "Version"
	TagSalt        = "Salt"
	TagClient      = "Client"
	TagProject     = "Project"
	TagSession     = "Session"
	TagOffset      = "Offset"
	TagCount       = "Count"
	TagChunk       = "Chunk"
)

// Values for TagType.
const (
	TypeDelta        = "delta"
	TypeSnapshot     = "snapshot"
	TypeIdentity     = "identity"
	TypeConversation = "conversation"
)

// Values for TagClient.
const (
	ClientCursor     = "cursor"
	ClientClaudeCode = "claude-code"
)

// Tag is a single name/value pair attached to an uploaded blob.
type Tag struct {
	Name  string
	Value string
}

// UploadResult is returned by a successful Upload.
type UploadResult struct {
	TxID string
}

// Balance reports how much headroom remains for future uploads, in
// whatever unit the concrete ledger's native currency uses.
type Balance struct {
	HumanReadable             string
	EstimatedUploadsRemaining int64
}

// TxMeta is the tag-only metadata of a remote transaction, as returned by
// QueryByTags, without fetching its body.
type TxMeta struct {
	TxID string
	Tags []Tag
}

// TagFilter selects transactions whose tags match every entry.
type TagFilter struct {
	Tags []Tag
}

// Adapter is the boundary a concrete ledger transport must implement. The
// sync engine depends only on this interface, never on a specific ledger's
// SDK, so swapping transports never touches engine logic.
type Adapter interface {
	Upload(ctx context.Context, data []byte, tags []Tag) (UploadResult, error)
	Balance(ctx context.Context, wallet string) (Balance, error)
	QueryByTags(ctx context.Context, filter TagFilter) ([]TxMeta, error)
	FetchBlob(ctx context.Context, txID string, maxBytes int) ([]byte, error)
}
