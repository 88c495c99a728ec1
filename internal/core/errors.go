package core

import (
	"LendLedger/internal/custody"
	"LendLedger/internal/event"
	"LendLedger/internal/lending"
	"context"
	"errors"
)

var reasons = []struct {
	err    error
	reason string
}{
	{ErrDuplicateRequest, "duplicate"},
	{event.ErrMissingRequestID, "invalid_action"},
	{event.ErrMissingField, "invalid_action"},
	{lending.ErrInvalidAmount, "invalid_amount"},
	{lending.ErrInsufficientFunds, "insufficient_funds"},
	{lending.ErrOverBorrowableAmount, "over_borrowable"},
	{lending.ErrOverRepay, "over_repay"},
	{lending.ErrNoOutstandingBorrows, "no_borrows"},
	{lending.ErrNoDeposits, "no_deposits"},
	{lending.ErrNotUnderCollateralized, "healthy"},
	{lending.ErrStalePrice, "stale_price"},
	{lending.ErrPriceNotFound, "price_not_found"},
	{lending.ErrInvalidPrice, "invalid_price"},
	{lending.ErrMathOverflow, "overflow"},
	{lending.ErrNegativeBalance, "underflow"},
	{lending.ErrNegativeElapsed, "clock"},
	{lending.ErrUnsupportedAsset, "unsupported_asset"},
	{lending.ErrBankExists, "bank_exists"},
	{lending.ErrBankNotFound, "bank_not_found"},
	{lending.ErrPositionNotFound, "position_not_found"},
	{lending.ErrCollateralMismatch, "collateral_mismatch"},
	{lending.ErrInvalidParams, "invalid_params"},
	{lending.ErrZeroShares, "zero_shares"},
	{lending.ErrWithdrawExceedsLTV, "max_ltv"},
	{lending.ErrSelfLiquidation, "self_liquidation"},
	{lending.ErrSameAsset, "same_asset"},
	{lending.ErrLiquidationTooSmall, "too_small"},
	// Transfer failures wrap the custody cause, so match the wrapper first.
	{lending.ErrTransferFailed, "transfer_failed"},
	{custody.ErrUnauthorized, "unauthorized"},
	{context.Canceled, "canceled"},
	{context.DeadlineExceeded, "deadline"},
}

// Reason returns a short metric label for an action error.
func Reason(err error) string {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return "internal"
}
