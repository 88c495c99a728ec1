package persistence

import (
	"LendLedger/internal/core"
	"LendLedger/internal/observability"
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// BatchWriter commits one batch of log rows atomically.
type BatchWriter interface {
	WriteBatch(ctx context.Context, actions []ActionRow, transfers []TransferRow) error
}

// PostgresBatchWriter writes a batch inside one transaction.
type PostgresBatchWriter struct {
	db      *sql.DB
	writer  EventLogWriter
	metrics *observability.Metrics
}

func NewPostgresBatchWriter(db *sql.DB, metrics *observability.Metrics) *PostgresBatchWriter {
	return &PostgresBatchWriter{db: db, metrics: metrics}
}

func (w *PostgresBatchWriter) WriteBatch(ctx context.Context, actions []ActionRow, transfers []TransferRow) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		w.fail("tx_begin")
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback()

	if err := w.writer.WriteActionBatch(ctx, tx, actions); err != nil {
		w.fail("write_actions")
		return err
	}
	if err := w.writer.WriteTransferBatch(ctx, tx, transfers); err != nil {
		w.fail("write_transfers")
		return err
	}
	if err := tx.Commit(); err != nil {
		w.fail("tx_commit")
		return errors.Wrap(err, "commit")
	}
	return nil
}

func (w *PostgresBatchWriter) fail(op string) {
	if w.metrics != nil {
		w.metrics.PersistErrors.WithLabelValues(op).Inc()
	}
}

// PersistenceWorker drains the persist channel and batch-writes the event
// log. The engine sends on that channel blocking, so a slow worker stalls
// the engine instead of losing actions.
type PersistenceWorker struct {
	writer       BatchWriter
	input        <-chan core.CoreOutput
	batchSize    int
	flushTimeout time.Duration
	maxBackoff   time.Duration
	metrics      *observability.Metrics
	log          zerolog.Logger
}

func NewPersistenceWorker(
	writer BatchWriter,
	input <-chan core.CoreOutput,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *PersistenceWorker {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &PersistenceWorker{
		writer:       writer,
		input:        input,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		maxBackoff:   30 * time.Second,
		metrics:      metrics,
		log:          log,
	}
}

// Run batches outputs and flushes when the batch is full or the flush
// timeout expires. It returns nil when input is closed and ctx.Err() on
// cancellation, flushing what it holds either way.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	actions := make([]ActionRow, 0, pw.batchSize)
	transfers := make([]TransferRow, 0, pw.batchSize*2)

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	flush := func(ctx context.Context) {
		if len(actions) == 0 {
			return
		}
		if err := pw.flushWithRetry(ctx, actions, transfers); err != nil {
			pw.log.Error().Err(err).Int("actions", len(actions)).Msg("batch flush failed")
		}
		actions = actions[:0]
		transfers = transfers[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush(context.WithoutCancel(ctx))
			return ctx.Err()

		case out, ok := <-pw.input:
			if !ok {
				flush(context.WithoutCancel(ctx))
				return nil
			}
			row, trs := RowsFromOutput(out)
			actions = append(actions, row)
			transfers = append(transfers, trs...)

			if len(actions) >= pw.batchSize {
				flush(ctx)
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			flush(ctx)
			timer.Reset(pw.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds.
// On cancellation it makes one last attempt without the deadline.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, actions []ActionRow, transfers []TransferRow) error {
	backoff := 100 * time.Millisecond

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			if pw.metrics != nil {
				pw.metrics.PersistRetry.Inc()
			}
			pw.log.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("actions", len(actions)).
				Msg("persistence retry")

			select {
			case <-ctx.Done():
				return errors.Wrap(pw.flush(context.WithoutCancel(ctx), actions, transfers), "final flush on shutdown")
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, pw.maxBackoff)
		}

		err := pw.flush(ctx, actions, transfers)
		if err == nil {
			if attempt > 0 {
				pw.log.Info().Int("retries", attempt).Msg("persistence flush recovered")
			}
			return nil
		}
		pw.log.Debug().Err(err).Msg("flush attempt failed")
	}
}

func (pw *PersistenceWorker) flush(ctx context.Context, actions []ActionRow, transfers []TransferRow) error {
	start := time.Now()
	if err := pw.writer.WriteBatch(ctx, actions, transfers); err != nil {
		return err
	}

	if pw.metrics != nil {
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistBatchSize.Observe(float64(len(actions)))
		pw.metrics.PersistActionsWritten.Add(float64(len(actions)))
		pw.metrics.PersistLastSequence.Set(float64(actions[len(actions)-1].Sequence))
	}
	return nil
}
