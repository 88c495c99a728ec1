package event

import (
	"LendLedger/internal/lending"
	"errors"

	"github.com/google/uuid"
)

// InitializeBank creates the pool for one asset.
type InitializeBank struct {
	RequestID uuid.UUID          `json:"request_id"`
	Authority uuid.UUID          `json:"authority"`
	Asset     lending.AssetID    `json:"asset"`
	Params    lending.BankParams `json:"params"`
}

func (b *InitializeBank) IdempotencyKey() string { return b.RequestID.String() }

func (b *InitializeBank) Kind() ActionKind { return ActionInitializeBank }

func (b *InitializeBank) Signer() uuid.UUID { return b.Authority }

func (b *InitializeBank) Validate() error {
	return errors.Join(
		requireRequestID(b.RequestID),
		requireField(b.Authority != uuid.Nil, "authority"),
		requireField(b.Asset != "", "asset"),
	)
}

// InitializeUser creates a participant's position. Repeating it with the
// same collateral asset is a no-op.
type InitializeUser struct {
	RequestID       uuid.UUID       `json:"request_id"`
	Owner           uuid.UUID       `json:"owner"`
	CollateralAsset lending.AssetID `json:"collateral_asset"`
}

func (u *InitializeUser) IdempotencyKey() string { return u.RequestID.String() }

func (u *InitializeUser) Kind() ActionKind { return ActionInitializeUser }

func (u *InitializeUser) Signer() uuid.UUID { return u.Owner }

func (u *InitializeUser) Validate() error {
	return errors.Join(
		requireRequestID(u.RequestID),
		requireField(u.Owner != uuid.Nil, "owner"),
		requireField(u.CollateralAsset != "", "collateral_asset"),
	)
}
