package query

import (
	"LendLedger/internal/lending"
	fpmath "LendLedger/internal/math"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// BankResponse is a bank accrued to the query instant.
type BankResponse struct {
	Asset     lending.AssetID `json:"asset"`
	Authority uuid.UUID       `json:"authority"`

	TotalDeposits       uint64 `json:"total_deposits"`
	TotalDepositShares  uint64 `json:"total_deposit_shares"`
	TotalBorrowed       uint64 `json:"total_borrowed"`
	TotalBorrowedShares uint64 `json:"total_borrowed_shares"`

	ValuePerShare fpmath.Fraction `json:"value_per_share"`
	DebtPerShare  fpmath.Fraction `json:"debt_per_share"`
	Utilization   fpmath.Fraction `json:"utilization"`

	Params      lending.BankParams `json:"params"`
	LastUpdated int64              `json:"last_updated"`

	AsOfSequence int64 `json:"as_of_sequence"`
}

// SlotView is one slot of a position with its shares converted to
// current token amounts.
type SlotView struct {
	Asset           lending.AssetID `json:"asset"`
	DepositedShares uint64          `json:"deposited_shares"`
	DepositClaim    uint64          `json:"deposit_claim"`
	BorrowedShares  uint64          `json:"borrowed_shares"`
	DebtClaim       uint64          `json:"debt_claim"`
}

// PositionResponse is a position valued at the query instant.
// HealthFactor is nil without debt. When a price is unavailable the
// claims are still reported and PriceError says why.
type PositionResponse struct {
	Owner        uuid.UUID        `json:"owner"`
	Collateral   SlotView         `json:"collateral"`
	Debt         SlotView         `json:"debt"`
	HealthFactor *fpmath.Fraction `json:"health_factor,omitempty"`
	Liquidatable bool             `json:"liquidatable"`
	PriceError   string           `json:"price_error,omitempty"`
	AsOfSequence int64            `json:"as_of_sequence"`
}

// ActionHistoryEntry is one committed action from the event log.
type ActionHistoryEntry struct {
	Sequence       int64           `json:"sequence"`
	Kind           string          `json:"kind"`
	IdempotencyKey string          `json:"idempotency_key"`
	Signer         uuid.UUID       `json:"signer"`
	Payload        json.RawMessage `json:"payload"`
	Result         json.RawMessage `json:"result"`
	StateHash      string          `json:"state_hash"`
	AppliedAt      time.Time       `json:"applied_at"`
}

type WalletResponse struct {
	Owner   uuid.UUID       `json:"owner"`
	Asset   lending.AssetID `json:"asset"`
	Balance uint64          `json:"balance"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy       bool    `json:"is_healthy"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`
	CustodyError    string  `json:"custody_error,omitempty"`
	AsOfSequence    int64   `json:"as_of_sequence"`
}
