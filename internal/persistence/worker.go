package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"MarketLedger/internal/observability"
)

// Record mirrors the persistable part of core.CoreOutput to avoid an import
// cycle. The orchestrator (cmd/marketledger) bridges between the two.
type Record struct {
	Op        OpRow
	Transfers []TransferRow

	// Committed, when non-nil, is closed once the flush containing this
	// record has committed. Senders wait on it before taking any action
	// that must not precede the durable write — publishing a payout
	// transfer instruction, in particular. A record carrying Committed is
	// flushed immediately instead of waiting for the batch to fill.
	Committed chan<- struct{}
}

// Worker drains the persist channel and batch-writes to Postgres. This
// goroutine runs independently from the engine. The persist channel uses
// BLOCKING sends from the engine, so if this worker falls behind, the engine
// stalls — guaranteeing no applied operation is lost.
type Worker struct {
	db           *sql.DB
	writer       *OpLogWriter
	inputChan    <-chan Record
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
}

func NewWorker(
	db *sql.DB,
	inputChan <-chan Record,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
) *Worker {
	return &Worker{
		db:           db,
		writer:       NewOpLogWriter(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
	}
}

// Run starts the persistence worker loop. It batches incoming records and
// flushes when the batch is full, when the flush timeout expires, or
// immediately for a record carrying a commit notification.
// Blocks until ctx is cancelled.
func (pw *Worker) Run(ctx context.Context) error {
	opBatch := make([]OpRow, 0, pw.batchSize)
	transferBatch := make([]TransferRow, 0, pw.batchSize)
	var notifies []chan<- struct{}

	// drain flushes the accumulated batch and signals commit notifications.
	// Notifications are closed ONLY after a successful commit: if the flush
	// ultimately fails, the waiters stay blocked and the gated action (the
	// transfer publish) never happens.
	drain := func(flushCtx context.Context, retry bool) {
		if len(opBatch) == 0 {
			return
		}
		var err error
		if retry {
			err = pw.flushWithRetry(flushCtx, opBatch, transferBatch)
		} else {
			err = pw.flush(flushCtx, opBatch, transferBatch)
		}
		if err != nil {
			log.Printf("ERROR: flush failed: %v", err)
		} else {
			for _, n := range notifies {
				close(n)
			}
		}
		opBatch = opBatch[:0]
		transferBatch = transferBatch[:0]
		notifies = notifies[:0]
	}

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			// Graceful shutdown: flush remaining
			drain(context.Background(), false)
			return ctx.Err()

		case record, ok := <-pw.inputChan:
			if !ok {
				// Channel closed — flush and exit
				drain(context.Background(), false)
				return nil
			}

			opBatch = append(opBatch, record.Op)
			transferBatch = append(transferBatch, record.Transfers...)
			if record.Committed != nil {
				notifies = append(notifies, record.Committed)
			}

			// A record with a commit notification is flushed right away:
			// holding it for the flush timeout would stall the waiter for
			// no benefit.
			if len(opBatch) >= pw.batchSize || record.Committed != nil {
				drain(ctx, true)
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			drain(ctx, true)
			timer.Reset(pw.flushTimeout)
		}
	}
}

// flushWithRetry attempts to flush with exponential backoff. The worker NEVER
// drops records — it retries until the write succeeds or the context is
// cancelled (graceful shutdown), in which case one final attempt is made.
func (pw *Worker) flushWithRetry(ctx context.Context, ops []OpRow, transfers []TransferRow) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			log.Printf("WARN: persistence retry attempt %d (backoff=%v, ops=%d)",
				attempt, backoff, len(ops))
			if pw.metrics != nil {
				pw.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				finalErr := pw.flush(context.Background(), ops, transfers)
				if finalErr != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", finalErr)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := pw.flush(ctx, ops, transfers)
		if err == nil {
			if attempt > 0 {
				log.Printf("INFO: persistence flush succeeded after %d retries", attempt)
			}
			return nil
		}

		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("retry").Inc()
		}
	}
}

// flush writes operations and transfers in a single transaction.
func (pw *Worker) flush(ctx context.Context, ops []OpRow, transfers []TransferRow) error {
	start := time.Now()

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("tx_begin").Inc()
		}
		return err
	}
	defer tx.Rollback()

	if err := pw.writer.WriteOpBatch(ctx, tx, ops); err != nil {
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("write_ops").Inc()
		}
		return err
	}

	if err := pw.writer.WriteTransferBatch(ctx, tx, transfers); err != nil {
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("write_transfers").Inc()
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("tx_commit").Inc()
		}
		return err
	}

	if pw.metrics != nil {
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistBatchSize.Observe(float64(len(ops)))
		pw.metrics.PersistOpsWritten.Add(float64(len(ops)))
		pw.metrics.PersistTransfersWritten.Add(float64(len(transfers)))
		if len(ops) > 0 {
			pw.metrics.PersistLastSequence.Set(float64(ops[len(ops)-1].Sequence))
		}
	}

	return nil
}
