package lending

import (
	fpmath "LendLedger/internal/math"
	"fmt"

	"github.com/holiman/uint256"
)

// Exposure is one side of a collateral/debt pair: the bank, the slot and
// the quote used to value it.
type Exposure struct {
	Bank  *Bank
	Slot  *Slot
	Quote Quote
}

// Valuation is a position's collateral and debt in common quote units
// scaled by 10^18.
type Valuation struct {
	CollateralAmount uint64
	DebtAmount       uint64
	CollateralValue  *uint256.Int
	DebtValue        *uint256.Int
	// RiskAdjusted is CollateralValue * liquidation_threshold.
	RiskAdjusted *uint256.Int
}

// Assess computes the current claims of both sides. Banks must already be
// accrued to the valuation instant.
func Assess(collateral, debt Exposure) (*Valuation, error) {
	collAmount, err := collateral.Bank.DepositClaim(collateral.Slot.DepositedShares)
	if err != nil {
		return nil, fmt.Errorf("collateral claim: %w", err)
	}
	debtAmount, err := debt.Bank.DebtClaim(debt.Slot.BorrowedShares)
	if err != nil {
		return nil, fmt.Errorf("debt claim: %w", err)
	}

	collValue, err := Value(collAmount, collateral.Quote)
	if err != nil {
		return nil, err
	}
	debtValue, err := Value(debtAmount, debt.Quote)
	if err != nil {
		return nil, err
	}
	riskAdjusted, err := ScaleValue(collValue, collateral.Bank.LiquidationThreshold, fpmath.RoundDown)
	if err != nil {
		return nil, err
	}

	return &Valuation{
		CollateralAmount: collAmount,
		DebtAmount:       debtAmount,
		CollateralValue:  collValue,
		DebtValue:        debtValue,
		RiskAdjusted:     riskAdjusted,
	}, nil
}

// Healthy reports collateral * threshold >= debt.
func (v *Valuation) Healthy() bool {
	return !v.RiskAdjusted.Lt(v.DebtValue)
}

// HealthFactor returns risk-adjusted collateral / debt. ok is false when
// there is no debt (the factor is unbounded).
func (v *Valuation) HealthFactor() (hf fpmath.Fraction, ok bool) {
	if v.DebtValue.IsZero() {
		return 0, false
	}
	r, err := fpmath.MulDiv(v.RiskAdjusted, fpmath.WAD(), v.DebtValue, fpmath.RoundDown)
	if err != nil || !r.IsUint64() {
		return fpmath.Fraction(^uint64(0)), true
	}
	return fpmath.Fraction(r.Uint64()), true
}

// BorrowableValue is the remaining headroom: risk-adjusted collateral
// minus current debt, floored at zero.
func (v *Valuation) BorrowableValue() *uint256.Int {
	if v.RiskAdjusted.Lt(v.DebtValue) {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(v.RiskAdjusted, v.DebtValue)
}

// CheckBorrow validates borrowing amount of the debt-side asset against
// the collateral side. Nothing is mutated.
func CheckBorrow(collateral, debt Exposure, amount uint64) (*Valuation, error) {
	if amount == 0 {
		return nil, ErrInvalidAmount
	}
	if collateral.Slot.DepositedShares == 0 {
		return nil, ErrNoDeposits
	}

	v, err := Assess(collateral, debt)
	if err != nil {
		return nil, err
	}

	borrowValue, err := Value(amount, debt.Quote)
	if err != nil {
		return nil, err
	}
	if borrowValue.Gt(v.BorrowableValue()) {
		return nil, fmt.Errorf("%w: requested %s, headroom %s",
			ErrOverBorrowableAmount, borrowValue.Dec(), v.BorrowableValue().Dec())
	}
	return v, nil
}

// CheckMaxLTV validates that debt stays within collateral * max_ltv. It is
// applied to the post-withdraw collateral slot.
func CheckMaxLTV(collateral, debt Exposure) error {
	if debt.Slot.BorrowedShares == 0 {
		return nil
	}

	v, err := Assess(collateral, debt)
	if err != nil {
		return err
	}
	limit, err := ScaleValue(v.CollateralValue, collateral.Bank.MaxLTV, fpmath.RoundDown)
	if err != nil {
		return err
	}
	if v.DebtValue.Gt(limit) {
		return fmt.Errorf("%w: debt %s, limit %s", ErrWithdrawExceedsLTV, v.DebtValue.Dec(), limit.Dec())
	}
	return nil
}
