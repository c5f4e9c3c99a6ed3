package oplog

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"collabnotes/backend/internal/ot"
)

// docLog owns one document's entries. Its mutex is the append serialization
// point for that document; documents never share a lock.
type docLog struct {
	mu  sync.Mutex
	ops []ot.Operation // append order
}

// Memory is the in-process Log. It backs tests and single-instance runs;
// the durable variant is MySQL.
type Memory struct {
	mu   sync.RWMutex // guards the registry map only
	docs map[string]*docLog
}

func NewMemory() *Memory {
	return &Memory{docs: make(map[string]*docLog)}
}

func (m *Memory) getOrCreate(documentID string) *docLog {
	m.mu.RLock()
	dl := m.docs[documentID]
	m.mu.RUnlock()
	if dl != nil {
		return dl
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if dl = m.docs[documentID]; dl == nil {
		dl = &docLog{}
		m.docs[documentID] = dl
	}
	return dl
}

func (m *Memory) get(documentID string) *docLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.docs[documentID]
}

func (m *Memory) Append(ctx context.Context, op ot.Operation) (ot.Operation, error) {
	dl := m.getOrCreate(op.DocumentID)
	dl.mu.Lock()
	defer dl.mu.Unlock()
	op.Version = len(dl.ops) + 1
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	dl.ops = append(dl.ops, op)
	return op, nil
}

// snapshot copies the entries sorted ascending by timestamp. Sorting is
// stable so same-timestamp entries keep append order.
func (m *Memory) snapshot(documentID string) []ot.Operation {
	dl := m.get(documentID)
	if dl == nil {
		return nil
	}
	dl.mu.Lock()
	out := make([]ot.Operation, len(dl.ops))
	copy(out, dl.ops)
	dl.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}

func (m *Memory) Query(ctx context.Context, documentID string) ([]ot.Operation, error) {
	return m.snapshot(documentID), nil
}

func (m *Memory) QueryApplied(ctx context.Context, documentID string) ([]ot.Operation, error) {
	var out []ot.Operation
	for _, op := range m.snapshot(documentID) {
		if op.Applied {
			out = append(out, op)
		}
	}
	return out, nil
}

func (m *Memory) QueryAfter(ctx context.Context, documentID string, since int64) ([]ot.Operation, error) {
	var out []ot.Operation
	for _, op := range m.snapshot(documentID) {
		if op.Timestamp >= since {
			out = append(out, op)
		}
	}
	return out, nil
}

func (m *Memory) QueryAppliedRange(ctx context.Context, documentID string, offset, limit int) ([]ot.Operation, error) {
	applied, _ := m.QueryApplied(ctx, documentID)
	if offset >= len(applied) {
		return nil, nil
	}
	end := offset + limit
	if end > len(applied) {
		end = len(applied)
	}
	out := make([]ot.Operation, end-offset)
	copy(out, applied[offset:end])
	return out, nil
}

func (m *Memory) Count(ctx context.Context, documentID string) (int, error) {
	dl := m.get(documentID)
	if dl == nil {
		return 0, nil
	}
	dl.mu.Lock()
	defer dl.mu.Unlock()
	return len(dl.ops), nil
}
