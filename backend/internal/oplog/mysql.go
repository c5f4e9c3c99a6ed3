package oplog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"collabnotes/backend/internal/ot"
)

// MySQL persists the operation log in a `document_operations` table:
//
//	id           VARCHAR(36)  PRIMARY KEY
//	document_id  VARCHAR(64)  NOT NULL
//	author_id    VARCHAR(64)  NOT NULL
//	kind         VARCHAR(8)   NOT NULL
//	position     INT          NOT NULL
//	payload      TEXT         NOT NULL
//	ts           BIGINT       NOT NULL
//	version      INT          NOT NULL
//	applied      TINYINT(1)   NOT NULL
//	UNIQUE KEY uniq_doc_version (document_id, version)
//
// The unique key backs the version assignment: a lost race surfaces as a
// duplicate-key error and maps to ErrVersionConflict for the retry path.
type MySQL struct {
	db *sql.DB
	// docLocks serializes appends per document within this process; the
	// unique index catches races across instances.
	mu       sync.Mutex
	docLocks map[string]*sync.Mutex
}

func NewMySQL(db *sql.DB) *MySQL {
	return &MySQL{db: db, docLocks: make(map[string]*sync.Mutex)}
}

func (s *MySQL) lockFor(documentID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.docLocks[documentID]
	if l == nil {
		l = &sync.Mutex{}
		s.docLocks[documentID] = l
	}
	return l
}

func (s *MySQL) Append(ctx context.Context, op ot.Operation) (ot.Operation, error) {
	l := s.lockFor(op.DocumentID)
	l.Lock()
	defer l.Unlock()

	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM document_operations WHERE document_id = ?`,
		op.DocumentID,
	).Scan(&count); err != nil {
		return ot.Operation{}, fmt.Errorf("count operations: %w", err)
	}
	op.Version = count + 1
	if op.ID == "" {
		op.ID = uuid.NewString()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO document_operations (id, document_id, author_id, kind, position, payload, ts, version, applied)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		op.ID, op.DocumentID, op.AuthorID, string(op.Kind), op.Position, op.Payload, op.Timestamp, op.Version, op.Applied,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ot.Operation{}, ErrVersionConflict
		}
		return ot.Operation{}, fmt.Errorf("insert operation: %w", err)
	}
	return op, nil
}

const selectCols = `id, document_id, author_id, kind, position, payload, ts, version, applied`

func (s *MySQL) queryOps(ctx context.Context, query string, args ...any) ([]ot.Operation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ot.Operation
	for rows.Next() {
		var op ot.Operation
		var kind string
		if err := rows.Scan(&op.ID, &op.DocumentID, &op.AuthorID, &kind, &op.Position, &op.Payload, &op.Timestamp, &op.Version, &op.Applied); err != nil {
			return nil, err
		}
		op.Kind = ot.Kind(kind)
		out = append(out, op)
	}
	return out, rows.Err()
}

func (s *MySQL) Query(ctx context.Context, documentID string) ([]ot.Operation, error) {
	return s.queryOps(ctx,
		`SELECT `+selectCols+` FROM document_operations WHERE document_id = ? ORDER BY ts ASC, version ASC`,
		documentID)
}

func (s *MySQL) QueryApplied(ctx context.Context, documentID string) ([]ot.Operation, error) {
	return s.queryOps(ctx,
		`SELECT `+selectCols+` FROM document_operations WHERE document_id = ? AND applied = 1 ORDER BY ts ASC, version ASC`,
		documentID)
}

func (s *MySQL) QueryAfter(ctx context.Context, documentID string, since int64) ([]ot.Operation, error) {
	return s.queryOps(ctx,
		`SELECT `+selectCols+` FROM document_operations WHERE document_id = ? AND ts >= ? ORDER BY ts ASC, version ASC`,
		documentID, since)
}

func (s *MySQL) QueryAppliedRange(ctx context.Context, documentID string, offset, limit int) ([]ot.Operation, error) {
	return s.queryOps(ctx,
		`SELECT `+selectCols+` FROM document_operations WHERE document_id = ? AND applied = 1 ORDER BY ts ASC, version ASC LIMIT ? OFFSET ?`,
		documentID, limit, offset)
}

func (s *MySQL) Count(ctx context.Context, documentID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM document_operations WHERE document_id = ?`,
		documentID,
	).Scan(&count)
	return count, err
}
