package replog

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Dispatcher makes replication fire-and-forget: a bounded local queue plus
// a worker pool with capped exponential backoff. The submit path only
// enqueues; a broker stall is absorbed by the queue and, past the retry
// budget, the entry is dropped with a log line. Dropping is acceptable
// here: the edit is already durable in the operation log.
type Dispatcher struct {
	seq   Sequencer
	queue chan Entry
	sem   *Semaphore

	workers     int
	maxRetry    int
	baseBackoff time.Duration
	maxBackoff  time.Duration

	logger *zap.Logger
	wg     sync.WaitGroup
}

type DispatcherOptions struct {
	QueueSize   int
	Workers     int
	MaxRetry    int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func NewDispatcher(seq Sequencer, sem *Semaphore, logger *zap.Logger, opt DispatcherOptions) *Dispatcher {
	d := &Dispatcher{
		seq:         seq,
		queue:       make(chan Entry, opt.QueueSize),
		sem:         sem,
		workers:     opt.Workers,
		maxRetry:    opt.MaxRetry,
		baseBackoff: opt.BaseBackoff,
		maxBackoff:  opt.MaxBackoff,
		logger:      logger,
	}
	d.start()
	return d
}

// Enqueue hands the entry to the background workers. Blocks only until ctx
// expires when the queue is full; not every entry must survive.
func (d *Dispatcher) Enqueue(ctx context.Context, e Entry) error {
	select {
	case d.queue <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting entries and waits for the workers to drain.
func (d *Dispatcher) Close() {
	close(d.queue)
	d.wg.Wait()
}

func (d *Dispatcher) start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.workerLoop(i)
	}
}

func (d *Dispatcher) workerLoop(workerID int) {
	defer d.wg.Done()
	for e := range d.queue {
		d.sendWithRetry(workerID, e)
	}
}

func (d *Dispatcher) sendWithRetry(workerID int, e Entry) {
	for attempt := 0; attempt <= d.maxRetry; attempt++ {
		if d.sem != nil {
			// Workers may wait indefinitely; the submit path is not behind us.
			_ = d.sem.Acquire(context.Background())
		}

		id, err := d.seq.AppendSequential(context.Background(), e.DocumentID, e)

		if d.sem != nil {
			_ = d.sem.Release()
		}

		if err == nil {
			d.logger.Debug("replicated operation",
				zap.String("docId", e.DocumentID),
				zap.String("opId", e.Op.ID),
				zap.Int64("entryId", id))
			return
		}

		if attempt == d.maxRetry {
			d.logger.Warn("replication failed, dropping entry",
				zap.String("docId", e.DocumentID),
				zap.String("opId", e.Op.ID),
				zap.Int("worker", workerID),
				zap.Error(err))
			return
		}

		backoff := d.baseBackoff * time.Duration(1<<attempt)
		if backoff > d.maxBackoff {
			backoff = d.maxBackoff
		}
		time.Sleep(backoff)
	}
}
