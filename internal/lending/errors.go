package lending

import (
	fpmath "LendLedger/internal/math"
	"errors"
)

// Errors returned by lending operations. Every error is detected before
// any record is written, so a failed operation leaves state unchanged.
var (
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrOverBorrowableAmount   = errors.New("borrowing amount exceeds collateral")
	ErrOverRepay              = errors.New("repay amount exceeds outstanding debt")
	ErrNoOutstandingBorrows   = errors.New("no outstanding borrows")
	ErrNoDeposits             = errors.New("no deposits")
	ErrNotUnderCollateralized = errors.New("user is not under collateralized, can't be liquidated")
	ErrStalePrice             = errors.New("stale price")
	ErrTransferFailed         = errors.New("transfer failed")

	// ErrMathOverflow is the fixed-point overflow sentinel, so errors.Is
	// matches overflow raised anywhere below this package.
	ErrMathOverflow = fpmath.ErrOverflow
	// ErrNegativeBalance is returned when a checked subtraction would go
	// below zero.
	ErrNegativeBalance = fpmath.ErrUnderflow
	ErrNegativeElapsed = fpmath.ErrNegativeElapsed

	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrUnsupportedAsset    = errors.New("asset is not supported by this position")
	ErrBankExists          = errors.New("bank already initialized")
	ErrBankNotFound        = errors.New("bank not found")
	ErrPositionNotFound    = errors.New("user position not found")
	ErrCollateralMismatch  = errors.New("user position already uses a different collateral asset")
	ErrInvalidParams       = errors.New("invalid bank parameters")
	ErrZeroShares          = errors.New("amount too small to mint shares")
	ErrWithdrawExceedsLTV  = errors.New("withdrawal would exceed max loan-to-value")
	ErrSelfLiquidation     = errors.New("liquidator cannot liquidate own position")
	ErrSameAsset           = errors.New("collateral and debt asset must differ")
	ErrLiquidationTooSmall = errors.New("liquidation amount rounds to zero")
	ErrInvalidPrice        = errors.New("invalid price")
	ErrPriceNotFound       = errors.New("price not found")
)
