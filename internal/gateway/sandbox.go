package gateway

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const sandboxPrefix = "sbx"

// Sandbox is a stateless development gateway: the transaction id carries the
// amount and currency, and every well-formed id verifies as settled.
type Sandbox struct{}

// Initiate mints a self-describing transaction id.
func (Sandbox) Initiate(_ context.Context, req InitiateRequest) (Initiation, error) {
	if !req.Amount.IsPositive() {
		return Initiation{}, fmt.Errorf("%w: amount must be positive", ErrRejected)
	}
	id := strings.Join([]string{
		sandboxPrefix,
		strings.ToUpper(req.Currency),
		req.Amount.StringFixed(2),
		uuid.NewString(),
	}, "_")
	paymentURL := req.ReturnURL
	if paymentURL != "" {
		sep := "?"
		if strings.Contains(paymentURL, "?") {
			sep = "&"
		}
		paymentURL += sep + "transactionId=" + url.QueryEscape(id)
	}
	return Initiation{TransactionID: id, PaymentURL: paymentURL}, nil
}

// Verify decodes the id minted by Initiate.
func (Sandbox) Verify(_ context.Context, transactionID string) (Verification, error) {
	failed := Verification{TransactionID: transactionID, Status: StatusFailed}
	parts := strings.SplitN(transactionID, "_", 4)
	if len(parts) != 4 || parts[0] != sandboxPrefix {
		return failed, nil
	}
	if _, err := uuid.Parse(parts[3]); err != nil {
		return failed, nil
	}
	amount, err := decimal.NewFromString(parts[2])
	if err != nil || !amount.IsPositive() {
		return failed, nil
	}
	return Verification{
		TransactionID: transactionID,
		Settled:       true,
		Status:        StatusCompleted,
		Amount:        amount,
		Currency:      parts[1],
	}, nil
}
