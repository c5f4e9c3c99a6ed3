package collab

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"collabnotes/backend/internal/oplog"
	"collabnotes/backend/internal/ot"
	"collabnotes/backend/internal/replog"
)

func newTestService(t *testing.T, log oplog.Log, repl Replicator, meta MetadataToucher) *Service {
	t.Helper()
	return NewService(log, repl, meta, zap.NewNop(), Options{NodeID: "node-test"})
}

func TestSubmit_ConcurrentInsertsConverge(t *testing.T) {
	svc := newTestService(t, oplog.NewMemory(), nil, nil)
	ctx := context.Background()

	a := ot.Operation{DocumentID: "doc", AuthorID: "A", Kind: ot.Insert, Position: 0, Payload: "Hi", Timestamp: 1000}
	if _, err := svc.Submit(ctx, a); err != nil {
		t.Fatalf("Submit(A) error = %v", err)
	}
	b := ot.Operation{DocumentID: "doc", AuthorID: "B", Kind: ot.Insert, Position: 2, Payload: " there", Timestamp: 1200}
	if _, err := svc.Submit(ctx, b); err != nil {
		t.Fatalf("Submit(B) error = %v", err)
	}

	got, err := svc.Content(ctx, "doc")
	if err != nil {
		t.Fatalf("Content() error = %v", err)
	}
	if got != "Hi there" {
		t.Fatalf("Content = %q, want %q", got, "Hi there")
	}
}

func TestSubmit_VersionAssignedByAppend(t *testing.T) {
	svc := newTestService(t, oplog.NewMemory(), nil, nil)
	ctx := context.Background()

	first, err := svc.Submit(ctx, ot.Operation{DocumentID: "doc", Kind: ot.Insert, Payload: "a", Timestamp: 100})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	second, err := svc.Submit(ctx, ot.Operation{DocumentID: "doc", Kind: ot.Insert, Position: 1, Payload: "b", Timestamp: 200})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if first.Version != 1 || second.Version != 2 {
		t.Fatalf("versions = %d,%d, want 1,2", first.Version, second.Version)
	}
}

// conflictLog wraps the memory log and fails the first N appends with a
// version conflict.
type conflictLog struct {
	*oplog.Memory
	mu        sync.Mutex
	conflicts int
	appends   int
}

func (c *conflictLog) Append(ctx context.Context, op ot.Operation) (ot.Operation, error) {
	c.mu.Lock()
	c.appends++
	fail := c.appends <= c.conflicts
	c.mu.Unlock()
	if fail {
		return ot.Operation{}, oplog.ErrVersionConflict
	}
	return c.Memory.Append(ctx, op)
}

func TestSubmit_RetriesOnVersionConflict(t *testing.T) {
	log := &conflictLog{Memory: oplog.NewMemory(), conflicts: 2}
	svc := newTestService(t, log, nil, nil)

	stored, err := svc.Submit(context.Background(), ot.Operation{DocumentID: "doc", Kind: ot.Insert, Payload: "x", Timestamp: 100})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if stored.Version != 1 {
		t.Fatalf("Version = %d, want 1", stored.Version)
	}
	if log.appends != 3 {
		t.Fatalf("append attempts = %d, want 3", log.appends)
	}
}

func TestSubmit_ConflictRetryExhaustion(t *testing.T) {
	log := &conflictLog{Memory: oplog.NewMemory(), conflicts: 100}
	svc := newTestService(t, log, nil, nil)

	_, err := svc.Submit(context.Background(), ot.Operation{DocumentID: "doc", Kind: ot.Insert, Payload: "x", Timestamp: 100})
	if !errors.Is(err, ErrTooManyConflicts) {
		t.Fatalf("Submit() error = %v, want ErrTooManyConflicts", err)
	}
}

type recordingReplicator struct {
	mu      sync.Mutex
	entries []replog.Entry
	fail    bool
}

func (r *recordingReplicator) Enqueue(ctx context.Context, e replog.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("queue full")
	}
	r.entries = append(r.entries, e)
	return nil
}

func TestSubmit_ReplicatesStoredOperation(t *testing.T) {
	repl := &recordingReplicator{}
	svc := newTestService(t, oplog.NewMemory(), repl, nil)

	stored, err := svc.Submit(context.Background(), ot.Operation{DocumentID: "doc", Kind: ot.Insert, Payload: "x", Timestamp: 100})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	repl.mu.Lock()
	defer repl.mu.Unlock()
	if len(repl.entries) != 1 {
		t.Fatalf("replicated %d entries, want 1", len(repl.entries))
	}
	if repl.entries[0].Op.ID != stored.ID {
		t.Fatalf("replicated op %q, want %q", repl.entries[0].Op.ID, stored.ID)
	}
	if repl.entries[0].NodeID != "node-test" {
		t.Fatalf("NodeID = %q, want %q", repl.entries[0].NodeID, "node-test")
	}
}

func TestSubmit_ReplicationFailureInvisible(t *testing.T) {
	repl := &recordingReplicator{fail: true}
	svc := newTestService(t, oplog.NewMemory(), repl, nil)

	if _, err := svc.Submit(context.Background(), ot.Operation{DocumentID: "doc", Kind: ot.Insert, Payload: "x", Timestamp: 100}); err != nil {
		t.Fatalf("Submit() error = %v, replication failure must not surface", err)
	}
}

type failingToucher struct {
	mu     sync.Mutex
	calls  int
	called chan struct{}
}

func (f *failingToucher) TouchUpdatedAt(ctx context.Context, documentID string) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	select {
	case f.called <- struct{}{}:
	default:
	}
	return errors.New("metadata store down")
}

func TestSubmit_MetadataFailureInvisible(t *testing.T) {
	meta := &failingToucher{called: make(chan struct{}, 1)}
	svc := newTestService(t, oplog.NewMemory(), nil, meta)

	if _, err := svc.Submit(context.Background(), ot.Operation{DocumentID: "doc", Kind: ot.Insert, Payload: "x", Timestamp: 100}); err != nil {
		t.Fatalf("Submit() error = %v, metadata failure must not surface", err)
	}
	select {
	case <-meta.called:
	case <-time.After(2 * time.Second):
		t.Fatalf("metadata touch-up never invoked")
	}
}

func TestHistory_SmallDocumentUnchunked(t *testing.T) {
	log := oplog.NewMemory()
	svc := newTestService(t, log, nil, nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := log.Append(ctx, ot.Operation{DocumentID: "doc", Kind: ot.Insert, Payload: "x", Timestamp: int64(i), Applied: true}); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	ops, err := svc.History(ctx, "doc")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(ops) != 3 {
		t.Fatalf("History returned %d ops, want 3", len(ops))
	}
}

func TestHistory_LargeDocumentEqualsFullQuery(t *testing.T) {
	log := oplog.NewMemory()
	svc := newTestService(t, log, nil, nil)
	ctx := context.Background()
	for i := 0; i < 101; i++ {
		if _, err := log.Append(ctx, ot.Operation{DocumentID: "doc", Kind: ot.Insert, Position: i, Payload: "x", Timestamp: int64(1000 + i), Applied: true}); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	chunked, err := svc.History(ctx, "doc")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	full, err := log.QueryApplied(ctx, "doc")
	if err != nil {
		t.Fatalf("QueryApplied() error = %v", err)
	}
	if len(chunked) != len(full) {
		t.Fatalf("History returned %d ops, full query has %d", len(chunked), len(full))
	}
	for i := range full {
		if chunked[i].ID != full[i].ID {
			t.Fatalf("History diverges from full query at %d", i)
		}
	}
}
