package event

import (
	"LendLedger/internal/lending"
	"errors"

	"github.com/google/uuid"
)

// Liquidate repays part of User's debt on behalf of Liquidator in exchange
// for collateral.
type Liquidate struct {
	RequestID       uuid.UUID       `json:"request_id"`
	Liquidator      uuid.UUID       `json:"liquidator"`
	User            uuid.UUID       `json:"user"`
	CollateralAsset lending.AssetID `json:"collateral_asset"`
	DebtAsset       lending.AssetID `json:"debt_asset"`
}

func (l *Liquidate) IdempotencyKey() string { return l.RequestID.String() }

func (l *Liquidate) Kind() ActionKind { return ActionLiquidate }

func (l *Liquidate) Signer() uuid.UUID { return l.Liquidator }

func (l *Liquidate) Validate() error {
	return errors.Join(
		requireRequestID(l.RequestID),
		requireField(l.Liquidator != uuid.Nil, "liquidator"),
		requireField(l.User != uuid.Nil, "user"),
		requireField(l.CollateralAsset != "", "collateral_asset"),
		requireField(l.DebtAsset != "", "debt_asset"),
	)
}
