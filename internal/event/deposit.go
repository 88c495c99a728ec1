package event

import (
	"LendLedger/internal/lending"
	"errors"

	"github.com/google/uuid"
)

// AssetAction is the shape shared by deposit, withdraw, borrow and repay.
type AssetAction struct {
	RequestID uuid.UUID       `json:"request_id"`
	Owner     uuid.UUID       `json:"owner"`
	Asset     lending.AssetID `json:"asset"`
	Amount    uint64          `json:"amount"`
}

func (a *AssetAction) IdempotencyKey() string { return a.RequestID.String() }

func (a *AssetAction) Signer() uuid.UUID { return a.Owner }

func (a *AssetAction) Validate() error {
	return errors.Join(
		requireRequestID(a.RequestID),
		requireField(a.Owner != uuid.Nil, "owner"),
		requireField(a.Asset != "", "asset"),
		requireField(a.Amount > 0, "amount"),
	)
}

// Deposit moves Amount from the owner's wallet into the bank.
type Deposit struct{ AssetAction }

func (*Deposit) Kind() ActionKind { return ActionDeposit }
