package core

import (
	"LendLedger/internal/custody"
	"LendLedger/internal/event"
	"LendLedger/internal/lending"
	fpmath "LendLedger/internal/math"
	"encoding/hex"
)

// Outcome is what an action did. It is stored as the envelope Result and
// folded into the state hash.
type Outcome struct {
	Change      *lending.Change     `json:"change,omitempty"`
	Liquidation *LiquidationOutcome `json:"liquidation,omitempty"`
}

type LiquidationOutcome struct {
	User            string          `json:"user"`
	CollateralAsset lending.AssetID `json:"collateral_asset"`
	DebtAsset       lending.AssetID `json:"debt_asset"`
	HealthFactor    fpmath.Fraction `json:"health_factor"`
	Repaid          uint64          `json:"repaid"`
	RepaidShares    uint64          `json:"repaid_shares"`
	Seized          uint64          `json:"seized"`
	SeizedShares    uint64          `json:"seized_shares"`
	Capped          bool            `json:"capped"`
}

// Receipt is returned to the caller of a committed action.
type Receipt struct {
	Sequence  int64            `json:"sequence"`
	Kind      event.ActionKind `json:"kind"`
	Timestamp int64            `json:"timestamp"`
	Outcome
	Bank      *lending.Bank         `json:"bank,omitempty"`
	Position  *lending.UserPosition `json:"position,omitempty"`
	StateHash string                `json:"state_hash"`
}

// CoreOutput is emitted to the persistence, projection and publish
// workers for every committed action.
type CoreOutput struct {
	Envelope *event.ActionEnvelope
	// Batch is nil for actions that move no tokens.
	Batch     *custody.Batch
	Banks     []*lending.Bank
	Position  *lending.UserPosition
	Receipt   *Receipt
}

func newReceipt(env *event.ActionEnvelope, out Outcome, banks []*lending.Bank, pos *lending.UserPosition, primary lending.AssetID) *Receipt {
	r := &Receipt{
		Sequence:  env.Sequence,
		Kind:      env.Kind,
		Timestamp: env.Timestamp,
		Outcome:   out,
		Position:  pos,
		StateHash: hex.EncodeToString(env.StateHash[:]),
	}
	for _, b := range banks {
		if b.AssetID == primary {
			r.Bank = b
		}
	}
	return r
}
