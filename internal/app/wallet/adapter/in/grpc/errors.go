package grpc

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/wallet/domain"
)

// toStatus 將領域錯誤轉為 gRPC status
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(codeOf(err), err.Error())
}

func codeOf(err error) codes.Code {
	switch {
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidLimits),
		errors.Is(err, domain.ErrInvalidMetadata),
		errors.Is(err, domain.ErrInvalidSearchTerm),
		errors.Is(err, domain.ErrInvalidTransactionType),
		errors.Is(err, domain.ErrMissingActor):
		return codes.InvalidArgument
	case errors.Is(err, domain.ErrAccountFrozen),
		errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrMaxBalanceExceeded):
		return codes.FailedPrecondition
	case errors.Is(err, domain.ErrAccountNotFound),
		errors.Is(err, domain.ErrUserNotFound):
		return codes.NotFound
	case errors.Is(err, domain.ErrOperationTimeout):
		return codes.Unavailable
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	default:
		return codes.Internal
	}
}
