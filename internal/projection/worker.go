package projection

import (
	"LendLedger/internal/core"
	"LendLedger/internal/lending"
	"LendLedger/internal/observability"
	"LendLedger/internal/store"
	"context"
	"database/sql"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Name is the watermark row this projection maintains.
const Name = "ledger"

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Update is the slice of a committed action the projections need.
type Update struct {
	Sequence int64
	Banks    []*lending.Bank
	Position *lending.UserPosition
}

func UpdateFromOutput(out core.CoreOutput) Update {
	return Update{Sequence: out.Envelope.Sequence, Banks: out.Banks, Position: out.Position}
}

// Writer applies one update atomically.
type Writer interface {
	Apply(ctx context.Context, u Update) error
}

// PostgresWriter writes projections.banks, projections.positions and the
// watermark in one transaction per update.
type PostgresWriter struct {
	db *sql.DB
}

func NewPostgresWriter(db *sql.DB) *PostgresWriter {
	return &PostgresWriter{db: db}
}

func (w *PostgresWriter) Apply(ctx context.Context, u Update) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback()

	if err := applyUpdate(ctx, tx, u); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "commit")
}

const upsertBankSQL = `
	INSERT INTO projections.banks (
		asset, authority, total_deposits, total_deposit_shares, total_borrowed, total_borrowed_shares,
		liquidation_threshold, max_ltv, liquidation_bonus, liquidation_close_factor, interest_rate,
		last_updated, sequence)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	ON CONFLICT (asset) DO UPDATE SET
		total_deposits = EXCLUDED.total_deposits,
		total_deposit_shares = EXCLUDED.total_deposit_shares,
		total_borrowed = EXCLUDED.total_borrowed,
		total_borrowed_shares = EXCLUDED.total_borrowed_shares,
		last_updated = EXCLUDED.last_updated,
		sequence = EXCLUDED.sequence
	WHERE projections.banks.sequence < EXCLUDED.sequence`

const upsertPositionSQL = `
	INSERT INTO projections.positions (
		owner, collateral_asset, debt_asset,
		collateral_deposited_amount, collateral_deposited_shares, collateral_borrowed_amount, collateral_borrowed_shares,
		debt_deposited_amount, debt_deposited_shares, debt_borrowed_amount, debt_borrowed_shares,
		sequence)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (owner) DO UPDATE SET
		collateral_deposited_amount = EXCLUDED.collateral_deposited_amount,
		collateral_deposited_shares = EXCLUDED.collateral_deposited_shares,
		collateral_borrowed_amount = EXCLUDED.collateral_borrowed_amount,
		collateral_borrowed_shares = EXCLUDED.collateral_borrowed_shares,
		debt_deposited_amount = EXCLUDED.debt_deposited_amount,
		debt_deposited_shares = EXCLUDED.debt_deposited_shares,
		debt_borrowed_amount = EXCLUDED.debt_borrowed_amount,
		debt_borrowed_shares = EXCLUDED.debt_borrowed_shares,
		sequence = EXCLUDED.sequence
	WHERE projections.positions.sequence < EXCLUDED.sequence`

const watermarkSQL = `
	INSERT INTO projections.watermark (projection, last_sequence, updated_at)
	VALUES ($1, $2, NOW())
	ON CONFLICT (projection) DO UPDATE SET last_sequence = EXCLUDED.last_sequence, updated_at = NOW()
	WHERE projections.watermark.last_sequence < EXCLUDED.last_sequence`

func u64(v uint64) string { return strconv.FormatUint(v, 10) }

// applyUpdate upserts each record only if it is newer than the stored row,
// so replaying an update is a no-op.
func applyUpdate(ctx context.Context, ex execer, u Update) error {
	for _, b := range u.Banks {
		if _, err := ex.ExecContext(ctx, upsertBankSQL,
			string(b.AssetID), b.Authority,
			u64(b.TotalDeposits), u64(b.TotalDepositShares), u64(b.TotalBorrowed), u64(b.TotalBorrowedShares),
			b.LiquidationThreshold.String(), b.MaxLTV.String(), b.LiquidationBonus.String(),
			b.LiquidationCloseFactor.String(), b.InterestRate.String(),
			b.LastUpdated, u.Sequence,
		); err != nil {
			return errors.Wrapf(err, "bank %s", b.AssetID)
		}
	}

	if p := u.Position; p != nil {
		c, d := p.Collateral, p.Debt
		if _, err := ex.ExecContext(ctx, upsertPositionSQL,
			p.Owner, string(p.CollateralAsset), string(p.DebtAsset),
			u64(c.DepositedAmount), u64(c.DepositedShares), u64(c.BorrowedAmount), u64(c.BorrowedShares),
			u64(d.DepositedAmount), u64(d.DepositedShares), u64(d.BorrowedAmount), u64(d.BorrowedShares),
			u.Sequence,
		); err != nil {
			return errors.Wrapf(err, "position %s", p.Owner)
		}
	}

	_, err := ex.ExecContext(ctx, watermarkSQL, Name, u.Sequence)
	return errors.Wrap(err, "watermark")
}

// ProjectionWorker keeps the query tables current. The engine feeds it
// through a dropping channel; a missed update is repaired by the next one
// touching the same record, or by Rebuild.
type ProjectionWorker struct {
	writer  Writer
	input   <-chan core.CoreOutput
	metrics *observability.Metrics
	log     zerolog.Logger
	lastSeq atomic.Int64
}

func NewProjectionWorker(writer Writer, input <-chan core.CoreOutput, metrics *observability.Metrics, log zerolog.Logger) *ProjectionWorker {
	return &ProjectionWorker{writer: writer, input: input, metrics: metrics, log: log}
}

func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-pw.input:
			if !ok {
				return nil
			}
			u := UpdateFromOutput(out)
			start := time.Now()
			if err := pw.writer.Apply(ctx, u); err != nil {
				pw.log.Warn().Err(err).Int64("sequence", u.Sequence).Msg("projection update failed")
				continue
			}
			pw.lastSeq.Store(u.Sequence)
			if pw.metrics != nil {
				pw.metrics.ProjectionUpdates.WithLabelValues(Name).Inc()
				pw.metrics.ProjectionUpdateDur.WithLabelValues(Name).Observe(time.Since(start).Seconds())
			}
		}
	}
}

// LastSequence is the sequence of the last update written.
func (pw *ProjectionWorker) LastSequence() int64 {
	return pw.lastSeq.Load()
}

// Rebuild replaces the projection tables with the records of st, stamped
// with its chain tip sequence.
func Rebuild(ctx context.Context, db *sql.DB, st store.Store) error {
	var u Update
	var positions []*lending.UserPosition
	err := st.View(ctx, func(tx store.Tx) error {
		tip, err := tx.ChainTip()
		if err != nil {
			return err
		}
		u.Sequence = tip.Sequence
		if u.Banks, err = tx.Banks(); err != nil {
			return err
		}
		positions, err = tx.Positions()
		return err
	})
	if err != nil {
		return errors.Wrap(err, "read store")
	}

	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer sqlTx.Rollback()

	for _, stmt := range []string{
		`TRUNCATE projections.banks`,
		`TRUNCATE projections.positions`,
		`DELETE FROM projections.watermark WHERE projection = '` + Name + `'`,
	} {
		if _, err := sqlTx.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "truncate")
		}
	}

	if err := applyUpdate(ctx, sqlTx, u); err != nil {
		return err
	}
	for _, p := range positions {
		if err := applyUpdate(ctx, sqlTx, Update{Sequence: u.Sequence, Position: p}); err != nil {
			return err
		}
	}
	return errors.Wrap(sqlTx.Commit(), "commit")
}
