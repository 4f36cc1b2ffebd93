package gateway

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnavailable means the provider could not be reached or kept failing.
	ErrUnavailable = errors.New("payment gateway unavailable")
	// ErrRejected means the provider refused the request (4xx).
	ErrRejected = errors.New("payment gateway rejected request")
)

// Status values reported by the provider.
const (
	StatusPending   = "Pending"
	StatusCompleted = "Completed"
	StatusFailed    = "Failed"
)

// Gateway initiates and verifies external payments.
type Gateway interface {
	Initiate(ctx context.Context, req InitiateRequest) (Initiation, error)
	Verify(ctx context.Context, transactionID string) (Verification, error)
}

type InitiateRequest struct {
	Amount    decimal.Decimal
	Currency  string
	ReturnURL string
}

type Initiation struct {
	TransactionID string
	PaymentURL    string
}

// Verification is the provider's view of a payment. Only a settled
// verification may be credited, and only for Amount.
type Verification struct {
	TransactionID string
	Settled       bool
	Status        string
	Amount        decimal.Decimal
	Currency      string
}

func isSettled(status string) bool {
	return strings.EqualFold(status, StatusCompleted) || strings.EqualFold(status, "settled")
}
