package persistence

import (
	"LendLedger/internal/core"
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ActionRow is a row of event_log.actions.
type ActionRow struct {
	Sequence       int64
	Kind           string
	IdempotencyKey string
	Signer         uuid.UUID
	Subject        uuid.NullUUID
	Payload        []byte
	Result         []byte
	StateHash      []byte
	PrevHash       []byte
	AppliedAt      time.Time
}

// TransferRow is a row of event_log.transfers. Amount is a decimal string
// so the full uint64 range fits NUMERIC(20,0).
type TransferRow struct {
	TransferID  uuid.UUID
	BatchID     uuid.UUID
	Ref         string
	Sequence    int64
	FromAccount string
	ToAccount   string
	Asset       string
	Amount      string
	Kind        string
	Authority   uuid.UUID
	Timestamp   int64
}

// RowsFromOutput flattens one committed action into its log rows.
func RowsFromOutput(out core.CoreOutput) (ActionRow, []TransferRow) {
	env := out.Envelope
	row := ActionRow{
		Sequence:       env.Sequence,
		Kind:           env.Kind.String(),
		IdempotencyKey: env.IdempotencyKey,
		Signer:         env.Signer,
		Payload:        env.Payload,
		Result:         env.Result,
		StateHash:      append([]byte(nil), env.StateHash[:]...),
		PrevHash:       append([]byte(nil), env.PrevHash[:]...),
		AppliedAt:      time.Unix(env.Timestamp, 0).UTC(),
	}
	if out.Position != nil {
		row.Subject = uuid.NullUUID{UUID: out.Position.Owner, Valid: true}
	}

	if out.Batch == nil {
		return row, nil
	}
	transfers := make([]TransferRow, 0, len(out.Batch.Transfers))
	for _, t := range out.Batch.Transfers {
		transfers = append(transfers, TransferRow{
			TransferID:  t.ID,
			BatchID:     t.BatchID,
			Ref:         t.Ref,
			Sequence:    t.Sequence,
			FromAccount: t.From.AccountPath(),
			ToAccount:   t.To.AccountPath(),
			Asset:       string(t.Asset),
			Amount:      strconv.FormatUint(t.Amount, 10),
			Kind:        t.Kind.String(),
			Authority:   t.Authority,
			Timestamp:   t.Timestamp,
		})
	}
	return row, transfers
}

// EventLogWriter writes actions and transfers with multi-row INSERTs.
// Writes are idempotent on the primary keys.
type EventLogWriter struct{}

// jsonb passes JSON as text; lib/pq would encode a []byte as bytea.
func jsonb(raw []byte) any {
	if raw == nil {
		return nil
	}
	return string(raw)
}

func placeholders(row, width int) string {
	ph := make([]string, width)
	for i := range ph {
		ph[i] = fmt.Sprintf("$%d", row*width+i+1)
	}
	return "(" + strings.Join(ph, ", ") + ")"
}

func (EventLogWriter) WriteActionBatch(ctx context.Context, ex execer, rows []ActionRow) error {
	if len(rows) == 0 {
		return nil
	}
	const width = 10

	values := make([]string, 0, len(rows))
	args := make([]any, 0, len(rows)*width)
	for i, r := range rows {
		values = append(values, placeholders(i, width))
		args = append(args,
			r.Sequence, r.Kind, r.IdempotencyKey, r.Signer, r.Subject,
			jsonb(r.Payload), jsonb(r.Result), r.StateHash, r.PrevHash, r.AppliedAt,
		)
	}

	query := `INSERT INTO event_log.actions
		(sequence, kind, idempotency_key, signer, subject, payload, result, state_hash, prev_hash, applied_at)
		VALUES ` + strings.Join(values, ", ") + ` ON CONFLICT (sequence) DO NOTHING`
	_, err := ex.ExecContext(ctx, query, args...)
	return errors.Wrap(err, "insert actions")
}

func (EventLogWriter) WriteTransferBatch(ctx context.Context, ex execer, rows []TransferRow) error {
	if len(rows) == 0 {
		return nil
	}
	const width = 11

	values := make([]string, 0, len(rows))
	args := make([]any, 0, len(rows)*width)
	for i, r := range rows {
		values = append(values, placeholders(i, width))
		args = append(args,
			r.TransferID, r.BatchID, r.Ref, r.Sequence, r.FromAccount, r.ToAccount,
			r.Asset, r.Amount, r.Kind, r.Authority, r.Timestamp,
		)
	}

	query := `INSERT INTO event_log.transfers
		(transfer_id, batch_id, ref, sequence, from_account, to_account, asset, amount, kind, authority, ts)
		VALUES ` + strings.Join(values, ", ") + ` ON CONFLICT (transfer_id) DO NOTHING`
	_, err := ex.ExecContext(ctx, query, args...)
	return errors.Wrap(err, "insert transfers")
}
