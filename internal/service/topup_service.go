package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/richardliu001/tenant-wallet/internal/gateway"
	"github.com/richardliu001/tenant-wallet/internal/model"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TopUpService drives the two-step payment flow: initiate with the gateway,
// then verify and credit. It is the only caller of the gateway.
type TopUpService struct {
	wallets   *WalletService
	gw        gateway.Gateway
	returnURL string
	log       *zap.SugaredLogger
}

// NewTopUpService wires the engine to a gateway adapter. returnURL is used
// when a request does not bring its own.
func NewTopUpService(wallets *WalletService, gw gateway.Gateway, returnURL string, logger *zap.SugaredLogger) *TopUpService {
	return &TopUpService{wallets: wallets, gw: gw, returnURL: returnURL, log: logger}
}

// Initiate starts a payment in the wallet's currency.
func (s *TopUpService) Initiate(ctx context.Context, tenantID, userID string, amount decimal.Decimal, returnURL string) (gateway.Initiation, error) {
	if err := validateAmount(amount); err != nil {
		return gateway.Initiation{}, err
	}
	w, err := s.wallets.GetWallet(ctx, tenantID, userID)
	if err != nil {
		return gateway.Initiation{}, err
	}
	if returnURL == "" {
		returnURL = s.returnURL
	}
	pay, err := s.gw.Initiate(ctx, gateway.InitiateRequest{
		Amount:    amount,
		Currency:  w.Currency,
		ReturnURL: returnURL,
	})
	if err != nil {
		s.log.Errorw("initiate payment", "tenant_id", tenantID, "user_id", userID, "error", err)
		return gateway.Initiation{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	return pay, nil
}

// Confirm verifies transactionID with the gateway and credits the settled
// amount. Confirming the same transaction twice credits it once.
func (s *TopUpService) Confirm(ctx context.Context, tenantID, userID, transactionID string) (*model.Wallet, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return nil, ErrInvalidReference
	}
	w, err := s.wallets.GetWallet(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}

	v, err := s.gw.Verify(ctx, transactionID)
	if err != nil {
		s.log.Errorw("verify payment", "tenant_id", tenantID, "user_id", userID, "transaction_id", transactionID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	if !v.Settled {
		s.log.Warnw("payment not settled", "transaction_id", transactionID, "status", v.Status)
		return nil, fmt.Errorf("%w: status %s", ErrPaymentNotSettled, v.Status)
	}
	if !strings.EqualFold(v.Currency, w.Currency) {
		return nil, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, v.Currency, w.Currency)
	}
	return s.wallets.TopUp(ctx, tenantID, userID, v.Amount, transactionID)
}
