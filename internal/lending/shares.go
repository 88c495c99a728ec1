package lending

import (
	fpmath "LendLedger/internal/math"
	"fmt"
)

// Accrue brings both pool totals up to now using the bank's rate.
func (b *Bank) Accrue(now int64) error {
	elapsed := now - b.LastUpdated
	if elapsed < 0 {
		return fmt.Errorf("bank %s: last_updated=%d now=%d: %w", b.AssetID, b.LastUpdated, now, ErrNegativeElapsed)
	}
	if elapsed == 0 {
		return nil
	}

	deposits, err := fpmath.Accrue(b.TotalDeposits, b.InterestRate, elapsed)
	if err != nil {
		return fmt.Errorf("accrue deposits: %w", err)
	}
	borrowed, err := fpmath.Accrue(b.TotalBorrowed, b.InterestRate, elapsed)
	if err != nil {
		return fmt.Errorf("accrue borrows: %w", err)
	}

	b.TotalDeposits = deposits
	b.TotalBorrowed = borrowed
	b.LastUpdated = now
	return nil
}

// ValuePerShare returns total_deposits / total_deposit_shares, or 1 when
// no shares exist.
func (b *Bank) ValuePerShare() (fpmath.Fraction, error) {
	return ratio(b.TotalDeposits, b.TotalDepositShares)
}

// DebtPerShare is ValuePerShare for the borrow side.
func (b *Bank) DebtPerShare() (fpmath.Fraction, error) {
	return ratio(b.TotalBorrowed, b.TotalBorrowedShares)
}

func ratio(value, shares uint64) (fpmath.Fraction, error) {
	if shares == 0 {
		return fpmath.One, nil
	}
	r, err := fpmath.MulDivU64(value, uint64(fpmath.One), shares, fpmath.RoundDown)
	return fpmath.Fraction(r), err
}

// DepositClaim is the value of shares on the deposit side, rounded down.
func (b *Bank) DepositClaim(shares uint64) (uint64, error) {
	if shares == 0 || b.TotalDepositShares == 0 {
		return 0, nil
	}
	return fpmath.MulDivU64(shares, b.TotalDeposits, b.TotalDepositShares, fpmath.RoundDown)
}

// DebtClaim is the value owed for borrow shares, rounded up.
func (b *Bank) DebtClaim(shares uint64) (uint64, error) {
	if shares == 0 || b.TotalBorrowedShares == 0 {
		return 0, nil
	}
	return fpmath.MulDivU64(shares, b.TotalBorrowed, b.TotalBorrowedShares, fpmath.RoundUp)
}

// MintDepositShares returns the shares minted for depositing amount.
// The first deposit mints 1:1; later ones round down.
func (b *Bank) MintDepositShares(amount uint64) (uint64, error) {
	shares, err := mintShares(amount, b.TotalDeposits, b.TotalDepositShares, fpmath.RoundDown)
	if err != nil {
		return 0, err
	}
	if shares == 0 {
		return 0, ErrZeroShares
	}
	return shares, nil
}

// BurnDepositShares returns the shares burned to withdraw amount from a
// holder of held shares. Rounds up so the withdrawer never keeps value
// they removed.
func (b *Bank) BurnDepositShares(amount, held uint64) (uint64, error) {
	if b.TotalDeposits == 0 {
		return 0, ErrNoDeposits
	}
	shares, err := fpmath.MulDivU64(amount, b.TotalDepositShares, b.TotalDeposits, fpmath.RoundUp)
	if err != nil {
		return 0, err
	}
	if shares > held {
		return 0, fmt.Errorf("burn %d deposit shares from %d: %w", shares, held, ErrInsufficientFunds)
	}
	return shares, nil
}

// MintBorrowShares returns the borrow shares issued for amount. Rounds up
// so the borrower never owes less than they took.
func (b *Bank) MintBorrowShares(amount uint64) (uint64, error) {
	return mintShares(amount, b.TotalBorrowed, b.TotalBorrowedShares, fpmath.RoundUp)
}

// BurnBorrowShares returns the borrow shares retired by repaying amount.
// Repaying the full claim retires every held share.
func (b *Bank) BurnBorrowShares(amount, held uint64) (uint64, error) {
	claim, err := b.DebtClaim(held)
	if err != nil {
		return 0, err
	}
	if amount == claim {
		return held, nil
	}
	if amount > claim {
		return 0, ErrOverRepay
	}

	shares, err := fpmath.MulDivU64(amount, b.TotalBorrowedShares, b.TotalBorrowed, fpmath.RoundDown)
	if err != nil {
		return 0, err
	}
	if shares > held {
		return 0, fmt.Errorf("burn %d borrow shares from %d: %w", shares, held, ErrOverRepay)
	}
	return shares, nil
}

func mintShares(amount, totalValue, totalShares uint64, mode fpmath.RoundingMode) (uint64, error) {
	if totalShares == 0 {
		return amount, nil
	}
	if totalValue == 0 {
		return 0, fmt.Errorf("pool has %d shares and no value: %w", totalShares, fpmath.ErrDivideByZero)
	}
	return fpmath.MulDivU64(amount, totalShares, totalValue, mode)
}
