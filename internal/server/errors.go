package server

import (
	"LendLedger/internal/core"
	"LendLedger/internal/custody"
	"LendLedger/internal/event"
	"LendLedger/internal/lending"
	"LendLedger/internal/query"
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var codeTable = []struct {
	err  error
	code codes.Code
}{
	{core.ErrDuplicateRequest, codes.AlreadyExists},
	{lending.ErrBankExists, codes.AlreadyExists},

	{lending.ErrBankNotFound, codes.NotFound},
	{lending.ErrPositionNotFound, codes.NotFound},

	{lending.ErrStalePrice, codes.Unavailable},
	{lending.ErrPriceNotFound, codes.Unavailable},
	{query.ErrHistoryUnavailable, codes.Unavailable},

	{lending.ErrTransferFailed, codes.Aborted},
	{custody.ErrUnauthorized, codes.PermissionDenied},

	{event.ErrMissingRequestID, codes.InvalidArgument},
	{event.ErrMissingField, codes.InvalidArgument},
	{lending.ErrInvalidAmount, codes.InvalidArgument},
	{lending.ErrInvalidParams, codes.InvalidArgument},
	{lending.ErrInvalidPrice, codes.InvalidArgument},
	{lending.ErrUnsupportedAsset, codes.InvalidArgument},
	{lending.ErrSelfLiquidation, codes.InvalidArgument},
	{lending.ErrSameAsset, codes.InvalidArgument},
	{custody.ErrInvalidTransfer, codes.InvalidArgument},

	{lending.ErrInsufficientFunds, codes.FailedPrecondition},
	{lending.ErrOverBorrowableAmount, codes.FailedPrecondition},
	{lending.ErrOverRepay, codes.FailedPrecondition},
	{lending.ErrNoOutstandingBorrows, codes.FailedPrecondition},
	{lending.ErrNoDeposits, codes.FailedPrecondition},
	{lending.ErrNotUnderCollateralized, codes.FailedPrecondition},
	{lending.ErrWithdrawExceedsLTV, codes.FailedPrecondition},
	{lending.ErrCollateralMismatch, codes.FailedPrecondition},
	{lending.ErrZeroShares, codes.FailedPrecondition},
	{lending.ErrLiquidationTooSmall, codes.FailedPrecondition},
	{custody.ErrInsufficientBalance, codes.FailedPrecondition},

	{lending.ErrMathOverflow, codes.OutOfRange},
	{lending.ErrNegativeBalance, codes.OutOfRange},

	{context.Canceled, codes.Canceled},
	{context.DeadlineExceeded, codes.DeadlineExceeded},
}

// Code maps a ledger error to its gRPC code.
func Code(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	if s, ok := status.FromError(err); ok {
		return s.Code()
	}
	for _, e := range codeTable {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return codes.Internal
}

// toStatus converts err into a status error, keeping its message.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(Code(err), err.Error())
}
