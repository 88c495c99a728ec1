package lending

import (
	fpmath "LendLedger/internal/math"
	"fmt"
)

// BankParams are the risk parameters fixed at bank creation.
type BankParams struct {
	LiquidationThreshold   fpmath.Fraction `json:"liquidation_threshold"`
	MaxLTV                 fpmath.Fraction `json:"max_ltv"`
	LiquidationBonus       fpmath.Fraction `json:"liquidation_bonus"`
	LiquidationCloseFactor fpmath.Fraction `json:"liquidation_close_factor"`
	InterestRate           fpmath.Fraction `json:"interest_rate"`
}

var (
	DefaultCloseFactor = fpmath.MustFraction("0.5")
	// DefaultInterestRate is 5% APR expressed per second.
	DefaultInterestRate = fpmath.Fraction(uint64(fpmath.MustFraction("0.05")) / fpmath.SecondsPerYear)
)

// WithDefaults fills a zero close factor with DefaultCloseFactor.
func (p BankParams) WithDefaults() BankParams {
	if p.LiquidationCloseFactor == 0 {
		p.LiquidationCloseFactor = DefaultCloseFactor
	}
	return p
}

// ValidateBankParams checks the ranges each parameter must fall in:
// 0 < threshold <= 1, 0 < max_ltv <= 1, bonus <= 1, 0 < close_factor <= 1.
func ValidateBankParams(p BankParams) error {
	if p.LiquidationThreshold == 0 || p.LiquidationThreshold > fpmath.One {
		return fmt.Errorf("%w: liquidation_threshold must be in (0, 1], got %s", ErrInvalidParams, p.LiquidationThreshold)
	}
	if p.MaxLTV == 0 || p.MaxLTV > fpmath.One {
		return fmt.Errorf("%w: max_ltv must be in (0, 1], got %s", ErrInvalidParams, p.MaxLTV)
	}
	if p.LiquidationBonus > fpmath.One {
		return fmt.Errorf("%w: liquidation_bonus must be <= 1, got %s", ErrInvalidParams, p.LiquidationBonus)
	}
	if p.LiquidationCloseFactor == 0 || p.LiquidationCloseFactor > fpmath.One {
		return fmt.Errorf("%w: liquidation_close_factor must be in (0, 1], got %s", ErrInvalidParams, p.LiquidationCloseFactor)
	}
	return nil
}
