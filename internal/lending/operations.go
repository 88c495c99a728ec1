package lending

import (
	fpmath "LendLedger/internal/math"
	"fmt"
)

// Leg binds one slot of a position to the bank that backs it. Quote is
// only read by operations that value the leg.
type Leg struct {
	Bank  *Bank
	Kind  SlotKind
	Quote Quote
}

func (l Leg) exposure(pos *UserPosition) Exposure {
	return Exposure{Bank: l.Bank, Slot: pos.Slot(l.Kind), Quote: l.Quote}
}

// Change is the amount and shares moved by a single operation.
type Change struct {
	Amount uint64 `json:"amount"`
	Shares uint64 `json:"shares"`
}

// The operations below mutate the bank and position they are given. The
// caller passes clones and discards them on error.

// Deposit adds amount to the leg's pool and credits the minted shares.
func Deposit(pos *UserPosition, leg Leg, amount uint64, now int64) (Change, error) {
	if amount == 0 {
		return Change{}, ErrInvalidAmount
	}
	bank := leg.Bank
	if err := bank.Accrue(now); err != nil {
		return Change{}, err
	}

	shares, err := bank.MintDepositShares(amount)
	if err != nil {
		return Change{}, err
	}

	slot := pos.Slot(leg.Kind)
	totalDeposits, err := fpmath.CheckedAdd(bank.TotalDeposits, amount)
	if err != nil {
		return Change{}, err
	}
	totalShares, err := fpmath.CheckedAdd(bank.TotalDepositShares, shares)
	if err != nil {
		return Change{}, err
	}
	held, err := fpmath.CheckedAdd(slot.DepositedShares, shares)
	if err != nil {
		return Change{}, err
	}

	bank.TotalDeposits = totalDeposits
	bank.TotalDepositShares = totalShares
	slot.DepositedShares = held
	if err := syncSlot(slot, bank, now); err != nil {
		return Change{}, err
	}
	return Change{Amount: amount, Shares: shares}, nil
}

// Withdraw removes amount from the user's deposit claim. When the other
// slot carries debt, counter must describe it (bank and quote) and the
// post-withdraw position must stay within the leg bank's max LTV.
func Withdraw(pos *UserPosition, leg, counter Leg, amount uint64, now int64) (Change, error) {
	if amount == 0 {
		return Change{}, ErrInvalidAmount
	}
	bank := leg.Bank
	if err := bank.Accrue(now); err != nil {
		return Change{}, err
	}

	slot := pos.Slot(leg.Kind)
	if slot.DepositedShares == 0 {
		return Change{}, ErrNoDeposits
	}
	claim, err := bank.DepositClaim(slot.DepositedShares)
	if err != nil {
		return Change{}, err
	}
	if amount > claim {
		return Change{}, fmt.Errorf("%w: claim %d, requested %d", ErrInsufficientFunds, claim, amount)
	}

	shares, err := bank.BurnDepositShares(amount, slot.DepositedShares)
	if err != nil {
		return Change{}, err
	}
	totalDeposits, err := fpmath.CheckedSub(bank.TotalDeposits, amount)
	if err != nil {
		return Change{}, err
	}
	totalShares, err := fpmath.CheckedSub(bank.TotalDepositShares, shares)
	if err != nil {
		return Change{}, err
	}
	held, err := fpmath.CheckedSub(slot.DepositedShares, shares)
	if err != nil {
		return Change{}, err
	}

	// Dust left behind by the final withdrawal goes with the last share.
	if totalShares == 0 {
		totalDeposits = 0
	}

	if pos.Slot(leg.Kind.Other()).BorrowedShares > 0 {
		if err := counter.Bank.Accrue(now); err != nil {
			return Change{}, err
		}
		after := *bank
		after.TotalDeposits, after.TotalDepositShares = totalDeposits, totalShares
		remaining := *slot
		remaining.DepositedShares = held
		if err := CheckMaxLTV(Exposure{Bank: &after, Slot: &remaining, Quote: leg.Quote}, counter.exposure(pos)); err != nil {
			return Change{}, err
		}
	}

	bank.TotalDeposits = totalDeposits
	bank.TotalDepositShares = totalShares
	slot.DepositedShares = held
	if err := syncSlot(slot, bank, now); err != nil {
		return Change{}, err
	}
	return Change{Amount: amount, Shares: shares}, nil
}

// Borrow lends amount of the borrow leg's asset against the deposit held
// in the collateral leg.
func Borrow(pos *UserPosition, borrow, collateral Leg, amount uint64, now int64) (Change, error) {
	if amount == 0 {
		return Change{}, ErrInvalidAmount
	}
	if borrow.Kind == collateral.Kind {
		return Change{}, ErrSameAsset
	}
	if pos.Slot(collateral.Kind).BorrowedShares > 0 {
		return Change{}, fmt.Errorf("%w: %s slot already carries debt", ErrCollateralMismatch, collateral.Kind)
	}

	bank := borrow.Bank
	if err := bank.Accrue(now); err != nil {
		return Change{}, err
	}
	if err := collateral.Bank.Accrue(now); err != nil {
		return Change{}, err
	}

	if _, err := CheckBorrow(collateral.exposure(pos), borrow.exposure(pos), amount); err != nil {
		return Change{}, err
	}

	shares, err := bank.MintBorrowShares(amount)
	if err != nil {
		return Change{}, err
	}

	slot := pos.Slot(borrow.Kind)
	totalBorrowed, err := fpmath.CheckedAdd(bank.TotalBorrowed, amount)
	if err != nil {
		return Change{}, err
	}
	totalShares, err := fpmath.CheckedAdd(bank.TotalBorrowedShares, shares)
	if err != nil {
		return Change{}, err
	}
	held, err := fpmath.CheckedAdd(slot.BorrowedShares, shares)
	if err != nil {
		return Change{}, err
	}

	bank.TotalBorrowed = totalBorrowed
	bank.TotalBorrowedShares = totalShares
	slot.BorrowedShares = held
	if err := syncSlot(slot, bank, now); err != nil {
		return Change{}, err
	}
	if err := syncSlot(pos.Slot(collateral.Kind), collateral.Bank, now); err != nil {
		return Change{}, err
	}
	return Change{Amount: amount, Shares: shares}, nil
}

// Repay retires amount of the user's debt on the leg.
func Repay(pos *UserPosition, leg Leg, amount uint64, now int64) (Change, error) {
	if amount == 0 {
		return Change{}, ErrInvalidAmount
	}
	bank := leg.Bank
	if err := bank.Accrue(now); err != nil {
		return Change{}, err
	}
	slot := pos.Slot(leg.Kind)
	if slot.BorrowedShares == 0 {
		return Change{}, ErrNoOutstandingBorrows
	}

	shares, err := retireDebt(bank, slot, amount)
	if err != nil {
		return Change{}, err
	}
	if err := syncSlot(slot, bank, now); err != nil {
		return Change{}, err
	}
	return Change{Amount: amount, Shares: shares}, nil
}

// Liquidation is the applied outcome of a liquidation call.
type Liquidation struct {
	Plan        *LiquidationPlan
	RepayShares uint64
	SeizeShares uint64
}

// Liquidate sizes and applies a liquidation against pos. Nothing is
// credited to the liquidator's own position.
func Liquidate(pos *UserPosition, collateral, debt Leg, now int64) (*Liquidation, error) {
	if collateral.Kind == debt.Kind {
		return nil, ErrSameAsset
	}
	if err := collateral.Bank.Accrue(now); err != nil {
		return nil, err
	}
	if err := debt.Bank.Accrue(now); err != nil {
		return nil, err
	}

	plan, err := PlanLiquidation(collateral.exposure(pos), debt.exposure(pos))
	if err != nil {
		return nil, err
	}

	debtSlot := pos.Slot(debt.Kind)
	repayShares, err := retireDebt(debt.Bank, debtSlot, plan.Repay)
	if err != nil {
		return nil, fmt.Errorf("retire debt: %w", err)
	}

	collBank := collateral.Bank
	collSlot := pos.Slot(collateral.Kind)
	seizeShares := collSlot.DepositedShares
	if !plan.Capped {
		seizeShares, err = collBank.BurnDepositShares(plan.Seize, collSlot.DepositedShares)
		if err != nil {
			return nil, fmt.Errorf("seize collateral: %w", err)
		}
	}
	totalDeposits, err := fpmath.CheckedSub(collBank.TotalDeposits, plan.Seize)
	if err != nil {
		return nil, err
	}
	totalShares, err := fpmath.CheckedSub(collBank.TotalDepositShares, seizeShares)
	if err != nil {
		return nil, err
	}
	collBank.TotalDeposits = totalDeposits
	collBank.TotalDepositShares = totalShares
	collSlot.DepositedShares -= seizeShares
	if collBank.TotalDepositShares == 0 {
		collBank.TotalDeposits = 0
	}

	if err := syncSlot(debtSlot, debt.Bank, now); err != nil {
		return nil, err
	}
	if err := syncSlot(collSlot, collBank, now); err != nil {
		return nil, err
	}
	return &Liquidation{Plan: plan, RepayShares: repayShares, SeizeShares: seizeShares}, nil
}

func retireDebt(bank *Bank, slot *Slot, amount uint64) (uint64, error) {
	shares, err := bank.BurnBorrowShares(amount, slot.BorrowedShares)
	if err != nil {
		return 0, err
	}
	totalBorrowed, err := fpmath.CheckedSub(bank.TotalBorrowed, amount)
	if err != nil {
		return 0, err
	}
	totalShares, err := fpmath.CheckedSub(bank.TotalBorrowedShares, shares)
	if err != nil {
		return 0, err
	}

	bank.TotalBorrowed = totalBorrowed
	bank.TotalBorrowedShares = totalShares
	slot.BorrowedShares -= shares
	if bank.TotalBorrowedShares == 0 {
		bank.TotalBorrowed = 0
	}
	return shares, nil
}

// syncSlot refreshes the stored amounts of slot to the claim of its shares.
func syncSlot(slot *Slot, bank *Bank, now int64) error {
	deposited, err := bank.DepositClaim(slot.DepositedShares)
	if err != nil {
		return err
	}
	borrowed, err := bank.DebtClaim(slot.BorrowedShares)
	if err != nil {
		return err
	}
	slot.DepositedAmount = deposited
	slot.BorrowedAmount = borrowed
	slot.LastDepositUpdate = now
	slot.LastBorrowUpdate = now
	return nil
}
