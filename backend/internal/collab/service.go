// Package collab runs the edit pipeline: concurrency window, transform,
// append, fire-and-forget replication, and the off-critical-path metadata
// touch-up.
package collab

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"collabnotes/backend/internal/oplog"
	"collabnotes/backend/internal/ot"
	"collabnotes/backend/internal/replog"
)

// ErrTooManyConflicts is returned when the bounded append retry is
// exhausted. The only pipeline failure a submitting client ever sees.
var ErrTooManyConflicts = errors.New("PROCESSING_FAILED")

// Replicator is the fire-and-forget hand-off to the cross-instance
// sequencer.
type Replicator interface {
	Enqueue(ctx context.Context, e replog.Entry) error
}

// MetadataToucher refreshes a document's updated-at stamp after an append.
// External collaborator; its failure never affects the edit.
type MetadataToucher interface {
	TouchUpdatedAt(ctx context.Context, documentID string) error
}

type Service struct {
	log    oplog.Log
	window ot.Window
	repl   Replicator      // optional
	meta   MetadataToucher // optional
	nodeID string
	logger *zap.Logger

	maxAttempts    int
	chunkThreshold int
	chunkSize      int
}

type Options struct {
	Window ot.Window
	// MaxAttempts bounds the transform+append retry on version conflicts.
	MaxAttempts    int
	ChunkThreshold int
	ChunkSize      int
	NodeID         string
}

func NewService(log oplog.Log, repl Replicator, meta MetadataToucher, logger *zap.Logger, opt Options) *Service {
	if opt.MaxAttempts <= 0 {
		opt.MaxAttempts = 3
	}
	if opt.ChunkThreshold <= 0 {
		opt.ChunkThreshold = oplog.ChunkThreshold
	}
	if opt.ChunkSize <= 0 {
		opt.ChunkSize = oplog.ChunkSize
	}
	if opt.Window == (ot.Window{}) {
		opt.Window = ot.DefaultWindow()
	}
	return &Service{
		log:            log,
		window:         opt.Window,
		repl:           repl,
		meta:           meta,
		nodeID:         opt.NodeID,
		logger:         logger,
		maxAttempts:    opt.MaxAttempts,
		chunkThreshold: opt.ChunkThreshold,
		chunkSize:      opt.ChunkSize,
	}
}

// Submit transforms the incoming operation against its concurrency window
// and appends it. A version conflict refreshes the window and retries,
// bounded by MaxAttempts. On success the stored operation is already
// durable; replication and the metadata touch-up run behind the response.
func (s *Service) Submit(ctx context.Context, incoming ot.Operation) (ot.Operation, error) {
	var stored ot.Operation
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		since := s.window.PrefilterSince(incoming.Timestamp)
		recent, err := s.log.QueryAfter(ctx, incoming.DocumentID, since)
		if err != nil {
			return ot.Operation{}, err
		}
		concurrent := s.window.Concurrent(recent, incoming.Timestamp)
		transformed := ot.Transform(incoming, concurrent)

		stored, err = s.log.Append(ctx, transformed)
		if errors.Is(err, oplog.ErrVersionConflict) {
			s.logger.Debug("append conflict, retrying",
				zap.String("docId", incoming.DocumentID),
				zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return ot.Operation{}, err
		}

		s.replicate(stored)
		s.touchMetadata(stored.DocumentID)
		return stored, nil
	}
	return ot.Operation{}, ErrTooManyConflicts
}

func (s *Service) replicate(op ot.Operation) {
	if s.repl == nil {
		return
	}
	e := replog.Entry{
		DocumentID: op.DocumentID,
		Op:         op,
		NodeID:     s.nodeID,
		AppliedAt:  time.Now(),
	}
	// Bounded wait; replication never blocks the edit for long and a miss
	// is only a lost best-effort record.
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := s.repl.Enqueue(ctx, e); err != nil {
		s.logger.Warn("replication enqueue failed",
			zap.String("docId", op.DocumentID),
			zap.String("opId", op.ID),
			zap.Error(err))
	}
}

func (s *Service) touchMetadata(documentID string) {
	if s.meta == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.meta.TouchUpdatedAt(ctx, documentID); err != nil {
			s.logger.Warn("metadata touch-up failed",
				zap.String("docId", documentID),
				zap.Error(err))
		}
	}()
}

// Content projects the document by replaying its applied operations.
func (s *Service) Content(ctx context.Context, documentID string) (string, error) {
	applied, err := s.log.QueryApplied(ctx, documentID)
	if err != nil {
		return "", err
	}
	return ot.Project(applied), nil
}

// History returns the applied operations for session initialization. Large
// documents are read in fixed ranges whose concatenation equals the
// unpaginated query.
func (s *Service) History(ctx context.Context, documentID string) ([]ot.Operation, error) {
	count, err := s.log.Count(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if count <= s.chunkThreshold {
		return s.log.QueryApplied(ctx, documentID)
	}
	var out []ot.Operation
	for offset := 0; ; offset += s.chunkSize {
		chunk, err := s.log.QueryAppliedRange(ctx, documentID, offset, s.chunkSize)
		if err != nil {
			return nil, err
		}
		if len(chunk) == 0 {
			return out, nil
		}
		out = append(out, chunk...)
	}
}
