package lending

import (
	fpmath "LendLedger/internal/math"
	"fmt"

	"github.com/google/uuid"
)

// AssetID identifies a token managed by a bank, e.g. "SOL" or "USDC".
type AssetID string

// Bank is the pool ledger for one asset.
type Bank struct {
	Authority uuid.UUID `json:"authority"`
	AssetID   AssetID   `json:"asset_id"`

	TotalDeposits       uint64 `json:"total_deposits"`
	TotalDepositShares  uint64 `json:"total_deposit_shares"`
	TotalBorrowed       uint64 `json:"total_borrowed"`
	TotalBorrowedShares uint64 `json:"total_borrowed_shares"`

	LiquidationThreshold   fpmath.Fraction `json:"liquidation_threshold"`
	MaxLTV                 fpmath.Fraction `json:"max_ltv"`
	LiquidationBonus       fpmath.Fraction `json:"liquidation_bonus"`
	LiquidationCloseFactor fpmath.Fraction `json:"liquidation_close_factor"`
	InterestRate           fpmath.Fraction `json:"interest_rate"` // per second

	LastUpdated int64 `json:"last_updated"` // unix seconds
	CreatedAt   int64 `json:"created_at"`
}

// NewBank creates an empty bank. params must already be validated.
func NewBank(authority uuid.UUID, asset AssetID, params BankParams, now int64) *Bank {
	return &Bank{
		Authority:              authority,
		AssetID:                asset,
		LiquidationThreshold:   params.LiquidationThreshold,
		MaxLTV:                 params.MaxLTV,
		LiquidationBonus:       params.LiquidationBonus,
		LiquidationCloseFactor: params.LiquidationCloseFactor,
		InterestRate:           params.InterestRate,
		LastUpdated:            now,
		CreatedAt:              now,
	}
}

// Clone returns a copy that can be mutated without touching b.
func (b *Bank) Clone() *Bank {
	c := *b
	return &c
}

// SlotKind selects one of the two asset slots of a position.
type SlotKind uint8

const (
	CollateralSlot SlotKind = iota
	DebtSlot
)

func (k SlotKind) Other() SlotKind {
	if k == CollateralSlot {
		return DebtSlot
	}
	return CollateralSlot
}

func (k SlotKind) String() string {
	switch k {
	case CollateralSlot:
		return "collateral"
	case DebtSlot:
		return "debt"
	default:
		return "unknown"
	}
}

// Slot holds a user's exposure to one asset. Amounts mirror the claim of
// the shares at the slot's last update.
type Slot struct {
	DepositedAmount   uint64 `json:"deposited_amount"`
	DepositedShares   uint64 `json:"deposited_shares"`
	BorrowedAmount    uint64 `json:"borrowed_amount"`
	BorrowedShares    uint64 `json:"borrowed_shares"`
	LastDepositUpdate int64  `json:"last_deposit_update"`
	LastBorrowUpdate  int64  `json:"last_borrow_update"`
}

// UserPosition is one participant's exposure to the market pair.
type UserPosition struct {
	Owner           uuid.UUID `json:"owner"`
	CollateralAsset AssetID   `json:"collateral_asset"`
	DebtAsset       AssetID   `json:"debt_asset"`
	Collateral      Slot      `json:"collateral"`
	Debt            Slot      `json:"debt"`
	CreatedAt       int64     `json:"created_at"`
}

func NewUserPosition(owner uuid.UUID, collateral, debt AssetID, now int64) *UserPosition {
	return &UserPosition{
		Owner:           owner,
		CollateralAsset: collateral,
		DebtAsset:       debt,
		CreatedAt:       now,
	}
}

func (p *UserPosition) Clone() *UserPosition {
	c := *p
	return &c
}

// SlotFor resolves which slot tracks asset.
func (p *UserPosition) SlotFor(asset AssetID) (SlotKind, error) {
	switch asset {
	case p.CollateralAsset:
		return CollateralSlot, nil
	case p.DebtAsset:
		return DebtSlot, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset)
}

func (p *UserPosition) Slot(kind SlotKind) *Slot {
	if kind == CollateralSlot {
		return &p.Collateral
	}
	return &p.Debt
}

func (p *UserPosition) Asset(kind SlotKind) AssetID {
	if kind == CollateralSlot {
		return p.CollateralAsset
	}
	return p.DebtAsset
}

// HasBorrows reports whether any slot carries borrow shares.
func (p *UserPosition) HasBorrows() bool {
	return p.Collateral.BorrowedShares > 0 || p.Debt.BorrowedShares > 0
}
