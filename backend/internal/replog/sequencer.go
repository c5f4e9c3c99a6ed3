// Package replog is the cross-instance ordering and liveness layer: a
// durable sequencer that gives every document a single global append order
// across server instances, plus ephemeral node registration other instances
// observe for failure detection. Replication is best-effort relative to the
// user-visible edit, which is already durable in the operation log and
// already broadcast locally.
package replog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/IBM/sarama"

	"collabnotes/backend/internal/ot"
)

// Entry is one replicated record of an applied operation.
type Entry struct {
	DocumentID string       `json:"documentId"`
	Op         ot.Operation `json:"operation"`
	NodeID     string       `json:"nodeId"`
	AppliedAt  time.Time    `json:"appliedAt"`
}

// Sequencer appends entries to a strictly-ordered replicated log and
// returns the assigned global order id. Any append-only log with
// sequential-id assignment qualifies.
type Sequencer interface {
	AppendSequential(ctx context.Context, documentID string, e Entry) (int64, error)
}

// KafkaSequencer orders entries by producing to one topic keyed by
// documentId: all entries for a document land on the same partition, and
// the partition offset is the cross-instance order id.
type KafkaSequencer struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaSequencer(producer sarama.SyncProducer, topic string) *KafkaSequencer {
	return &KafkaSequencer{producer: producer, topic: topic}
}

func (s *KafkaSequencer) AppendSequential(ctx context.Context, documentID string, e Entry) (int64, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return 0, err
	}
	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(documentID),
		Value: sarama.ByteEncoder(b),
	}
	_, offset, err := s.producer.SendMessage(msg)
	if err != nil {
		return 0, err
	}
	return offset, nil
}
