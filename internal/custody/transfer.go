package custody

import (
	"LendLedger/internal/lending"
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrUnauthorized        = errors.New("transfer not authorized for source account")
	ErrInsufficientBalance = errors.New("insufficient custody balance")
	ErrInvalidTransfer     = errors.New("invalid transfer")
)

// Transferer moves balances between custodial accounts. A transfer either
// applies in full or not at all.
type Transferer interface {
	Transfer(ctx context.Context, t Transfer) error
}

// TransferKind is the purpose of a transfer.
type TransferKind int32

const (
	KindDeposit TransferKind = iota
	KindWithdraw
	KindBorrow
	KindRepay
	KindLiquidationRepay
	KindLiquidationSeize
	KindFund
	KindReversal
)

func (k TransferKind) String() string {
	switch k {
	case KindDeposit:
		return "deposit"
	case KindWithdraw:
		return "withdraw"
	case KindBorrow:
		return "borrow"
	case KindRepay:
		return "repay"
	case KindLiquidationRepay:
		return "liquidation_repay"
	case KindLiquidationSeize:
		return "liquidation_seize"
	case KindFund:
		return "fund"
	case KindReversal:
		return "reversal"
	default:
		return "unknown"
	}
}

// Transfer is a single movement of Amount from From to To.
type Transfer struct {
	ID        uuid.UUID       `json:"id"`
	BatchID   uuid.UUID       `json:"batch_id"`
	Ref       string          `json:"ref"` // idempotency key of the source action
	Sequence  int64           `json:"sequence"`
	From      AccountKey      `json:"from"`
	To        AccountKey      `json:"to"`
	Asset     lending.AssetID `json:"asset"`
	Amount    uint64          `json:"amount"` // always positive
	Kind      TransferKind    `json:"kind"`
	Authority uuid.UUID       `json:"authority"`
	Timestamp int64           `json:"timestamp"`
}

// Validate checks the transfer is well-formed. It does not look at
// balances or authority.
func (t *Transfer) Validate() error {
	if t.Amount == 0 {
		return fmt.Errorf("%w: transfer %s has zero amount", ErrInvalidTransfer, t.ID)
	}
	if t.From == t.To {
		return fmt.Errorf("%w: transfer %s has same source and destination", ErrInvalidTransfer, t.ID)
	}
	if t.From.Asset != t.Asset || t.To.Asset != t.Asset {
		return fmt.Errorf("%w: transfer %s mixes assets %s -> %s", ErrInvalidTransfer, t.ID, t.From.Asset, t.To.Asset)
	}
	return nil
}

// Reversal returns the transfer that undoes t.
func (t *Transfer) Reversal() Transfer {
	return Transfer{
		ID:        uuid.New(),
		BatchID:   t.BatchID,
		Ref:       t.ID.String(),
		Sequence:  t.Sequence,
		From:      t.To,
		To:        t.From,
		Asset:     t.Asset,
		Amount:    t.Amount,
		Kind:      KindReversal,
		Authority: t.To.Authority(),
		Timestamp: t.Timestamp,
	}
}

// Batch is the ordered set of transfers settling one action.
type Batch struct {
	BatchID   uuid.UUID  `json:"batch_id"`
	Ref       string     `json:"ref"`
	Sequence  int64      `json:"sequence"`
	Timestamp int64      `json:"timestamp"`
	Transfers []Transfer `json:"transfers"`
}

func (b *Batch) Validate() error {
	if len(b.Transfers) == 0 {
		return fmt.Errorf("%w: batch %s is empty", ErrInvalidTransfer, b.BatchID)
	}
	for i := range b.Transfers {
		t := &b.Transfers[i]
		if t.BatchID != b.BatchID {
			return fmt.Errorf("%w: transfer %s has mismatched batch_id", ErrInvalidTransfer, t.ID)
		}
		if err := t.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Settle executes the batch in order. If a leg fails, the legs already
// applied are reversed before the error is returned, wrapped in
// lending.ErrTransferFailed.
func Settle(ctx context.Context, tr Transferer, b *Batch) ([]Transfer, error) {
	if err := b.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", lending.ErrTransferFailed, err)
	}

	done := make([]Transfer, 0, len(b.Transfers))
	for _, t := range b.Transfers {
		if err := tr.Transfer(ctx, t); err != nil {
			if rerr := Unwind(context.WithoutCancel(ctx), tr, done); rerr != nil {
				return nil, fmt.Errorf("%w: %s leg: %w (unwind: %v)", lending.ErrTransferFailed, t.Kind, err, rerr)
			}
			return nil, fmt.Errorf("%w: %s leg: %w", lending.ErrTransferFailed, t.Kind, err)
		}
		done = append(done, t)
	}
	return done, nil
}

// Unwind reverses applied transfers, newest first.
func Unwind(ctx context.Context, tr Transferer, applied []Transfer) error {
	var errs []error
	for i := len(applied) - 1; i >= 0; i-- {
		if err := tr.Transfer(ctx, applied[i].Reversal()); err != nil {
			errs = append(errs, fmt.Errorf("reverse %s: %w", applied[i].ID, err))
		}
	}
	return errors.Join(errs...)
}
