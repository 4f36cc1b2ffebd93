package service

import (
	"context"
	"errors"

	"github.com/richardliu001/tenant-wallet/internal/repo"
)

var (
	ErrNotFound             = errors.New("wallet not found")
	ErrInvalidAmount        = errors.New("amount must be positive with at most 2 decimal places")
	ErrSameAccount          = errors.New("cannot transfer to self")
	ErrCrossTenantForbidden = errors.New("transfers across tenants are forbidden")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrDuplicatePayment     = errors.New("payment reference already applied")
	ErrGatewayUnavailable   = errors.New("payment gateway unavailable")

	// ErrStorageConflict is retryable: the whole operation may be re-run.
	ErrStorageConflict = repo.ErrConflict

	ErrWalletExists      = errors.New("wallet already exists")
	ErrInvalidReference  = errors.New("payment reference is required")
	ErrPaymentNotSettled = errors.New("payment not settled")
	ErrCurrencyMismatch  = errors.New("payment currency does not match wallet")
	ErrTenantRequired    = errors.New("tenant is required")
	ErrTenantInactive    = errors.New("tenant is inactive")
	ErrUserRequired      = errors.New("user id is required")
)

// Kind returns a stable label for err, used in logs and metrics.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrSameAccount):
		return "same_account"
	case errors.Is(err, ErrCrossTenantForbidden):
		return "cross_tenant_forbidden"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrDuplicatePayment):
		return "duplicate_payment"
	case errors.Is(err, ErrStorageConflict):
		return "storage_conflict"
	case errors.Is(err, ErrGatewayUnavailable):
		return "gateway_unavailable"
	case errors.Is(err, ErrWalletExists):
		return "wallet_exists"
	case errors.Is(err, ErrInvalidReference):
		return "invalid_reference"
	case errors.Is(err, ErrPaymentNotSettled):
		return "payment_not_settled"
	case errors.Is(err, ErrCurrencyMismatch):
		return "currency_mismatch"
	case errors.Is(err, ErrTenantRequired):
		return "tenant_required"
	case errors.Is(err, ErrTenantInactive):
		return "tenant_inactive"
	case errors.Is(err, ErrUserRequired):
		return "user_required"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	default:
		return "internal"
	}
}

// notFound maps the store's miss onto the engine's NotFound.
func notFound(err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
