package lending

import (
	fpmath "LendLedger/internal/math"
	"fmt"

	"github.com/holiman/uint256"
)

// LiquidationPlan is the settlement computed for one liquidation call.
type LiquidationPlan struct {
	Valuation    *Valuation
	HealthFactor fpmath.Fraction

	// Repay is debt-asset units the liquidator pays in.
	Repay uint64
	// Seize is collateral-asset units paid out to the liquidator.
	Seize uint64
	// Capped is set when the bonus-adjusted seize exceeded the collateral
	// claim and Repay was scaled down to what the claim covers.
	Capped bool
}

// PlanLiquidation values both sides and sizes the repay and seize legs.
// Risk parameters are taken from the collateral bank. Both banks must
// already be accrued.
func PlanLiquidation(collateral, debt Exposure) (*LiquidationPlan, error) {
	if debt.Slot.BorrowedShares == 0 {
		return nil, ErrNoOutstandingBorrows
	}
	if collateral.Slot.DepositedShares == 0 {
		return nil, ErrNoDeposits
	}

	v, err := Assess(collateral, debt)
	if err != nil {
		return nil, err
	}
	if v.Healthy() {
		return nil, ErrNotUnderCollateralized
	}
	hf, _ := v.HealthFactor()

	params := collateral.Bank
	repay, err := fpmath.MulFraction(v.DebtAmount, params.LiquidationCloseFactor, fpmath.RoundDown)
	if err != nil {
		return nil, fmt.Errorf("repay amount: %w", err)
	}
	if repay == 0 {
		return nil, ErrLiquidationTooSmall
	}

	bonusFactor, err := fpmath.One.Add(params.LiquidationBonus)
	if err != nil {
		return nil, fmt.Errorf("bonus factor: %w", err)
	}

	repayValue, err := Value(repay, debt.Quote)
	if err != nil {
		return nil, err
	}
	seizeValue, err := ScaleValue(repayValue, bonusFactor, fpmath.RoundDown)
	if err != nil {
		return nil, fmt.Errorf("seize value: %w", err)
	}
	seize, err := AmountForValue(seizeValue, collateral.Quote, fpmath.RoundDown)
	if err != nil {
		return nil, fmt.Errorf("seize amount: %w", err)
	}

	plan := &LiquidationPlan{
		Valuation:    v,
		HealthFactor: hf,
		Repay:        repay,
		Seize:        seize,
	}

	if seize > v.CollateralAmount {
		capped, err := repayForCollateral(v.CollateralValue, bonusFactor, debt.Quote)
		if err != nil {
			return nil, err
		}
		plan.Seize = v.CollateralAmount
		plan.Repay = min(capped, repay)
		plan.Capped = true
	}

	if plan.Repay == 0 || plan.Seize == 0 {
		return nil, ErrLiquidationTooSmall
	}
	return plan, nil
}

// repayForCollateral is the debt amount whose bonus-adjusted value equals
// collateralValue. Rounded up so the liquidator never underpays.
func repayForCollateral(collateralValue *uint256.Int, bonusFactor fpmath.Fraction, debtQuote Quote) (uint64, error) {
	repayValue, err := fpmath.MulDiv(collateralValue, fpmath.WAD(), bonusFactor.Int(), fpmath.RoundUp)
	if err != nil {
		return 0, fmt.Errorf("capped repay value: %w", err)
	}
	return AmountForValue(repayValue, debtQuote, fpmath.RoundUp)
}
