// Package oplog is the append-only, per-document operation log: the sole
// source of version and order truth. Append assigns contiguous versions
// under per-document exclusion; the log never deletes entries.
package oplog

import (
	"context"
	"errors"

	"collabnotes/backend/internal/ot"
)

var (
	// ErrVersionConflict is returned when an append lost a race for its
	// version slot. Callers retry against a refreshed concurrency window.
	ErrVersionConflict = errors.New("VERSION_CONFLICT")
)

// Chunked retrieval defaults: documents above ChunkThreshold operations are
// read in ChunkSize ranges whose concatenation equals the full query. Purely
// a scalability affordance, no semantic effect.
const (
	ChunkThreshold = 100
	ChunkSize      = 50
)

// Log stores submitted operations per document.
type Log interface {
	// Append assigns version = count(documentID)+1 and the operation id,
	// then stores the operation. This is the per-document serialization
	// point: two concurrent appends never receive the same version.
	Append(ctx context.Context, op ot.Operation) (ot.Operation, error)

	// Query returns every operation for the document, ordered by
	// timestamp ascending.
	Query(ctx context.Context, documentID string) ([]ot.Operation, error)

	// QueryApplied is Query filtered to applied operations.
	QueryApplied(ctx context.Context, documentID string) ([]ot.Operation, error)

	// QueryAfter returns operations with timestamp >= since, ordered
	// ascending.
	QueryAfter(ctx context.Context, documentID string, since int64) ([]ot.Operation, error)

	// QueryAppliedRange returns one ordered range of the applied
	// operations, for chunked history retrieval.
	QueryAppliedRange(ctx context.Context, documentID string, offset, limit int) ([]ot.Operation, error)

	// Count returns the number of operations stored for the document.
	Count(ctx context.Context, documentID string) (int, error)
}
