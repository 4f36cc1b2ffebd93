package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/richardliu001/tenant-wallet/internal/metrics"
	"github.com/richardliu001/tenant-wallet/internal/model"
	"github.com/richardliu001/tenant-wallet/internal/repo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opOpenWallet   = "open_wallet"
	opBalance      = "balance"
	opTransactions = "transactions"
	opTopUp        = "topup"
	opTransfer     = "transfer"
)

// WalletService is the ledger engine: every balance mutation runs as one
// unit of work against the store.
type WalletService struct {
	repo        repo.RepositoryInterface
	log         *zap.SugaredLogger
	metrics     *metrics.Ledger
	maxAttempts int
	backoff     time.Duration
	currency    string
	now         func() time.Time
}

// Option customises a WalletService.
type Option func(*WalletService)

// WithMetrics records operation outcomes on m.
func WithMetrics(m *metrics.Ledger) Option {
	return func(s *WalletService) { s.metrics = m }
}

// WithRetry sets how many times a unit of work is attempted on StorageConflict.
func WithRetry(maxAttempts int, backoff time.Duration) Option {
	return func(s *WalletService) {
		if maxAttempts > 0 {
			s.maxAttempts = maxAttempts
		}
		if backoff >= 0 {
			s.backoff = backoff
		}
	}
}

// WithDefaultCurrency sets the currency given to wallets opened without one.
func WithDefaultCurrency(code string) Option {
	return func(s *WalletService) {
		if code != "" {
			s.currency = strings.ToUpper(code)
		}
	}
}

// NewWalletService returns WalletService.
func NewWalletService(r repo.RepositoryInterface, logger *zap.SugaredLogger, opts ...Option) *WalletService {
	s := &WalletService{
		repo:        r,
		log:         logger,
		maxAttempts: 3,
		backoff:     20 * time.Millisecond,
		currency:    "USD",
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Balance is the answer to GetBalance.
type Balance struct {
	Balance  decimal.Decimal
	Currency string
	AsOf     time.Time
}

// OpenWallet creates the user's wallet in tenantID with a zero balance.
func (s *WalletService) OpenWallet(ctx context.Context, tenantID, userID, currency string) (w *model.Wallet, err error) {
	started := time.Now()
	defer func() { s.observe(opOpenWallet, started, err) }()

	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	if strings.TrimSpace(userID) == "" {
		return nil, ErrUserRequired
	}
	if currency == "" {
		currency = s.currency
	}
	currency = strings.ToUpper(currency)
	if len(currency) != 3 {
		return nil, fmt.Errorf("invalid currency %q", currency)
	}

	t, err := s.repo.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, notFound(err)
	}
	if !t.IsActive {
		return nil, ErrTenantInactive
	}

	w = &model.Wallet{
		ID:       uuid.NewString(),
		UserID:   userID,
		TenantID: tenantID,
		Balance:  decimal.Zero,
		Currency: currency,
	}
	if err := s.repo.CreateWallet(ctx, nil, w); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return nil, ErrWalletExists
		}
		return nil, err
	}
	s.log.Infow("wallet opened", "tenant_id", tenantID, "user_id", userID, "wallet_id", w.ID, "currency", currency)
	return w, nil
}

// GetWallet resolves the user's wallet under tenantID.
func (s *WalletService) GetWallet(ctx context.Context, tenantID, userID string) (*model.Wallet, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	w, err := s.repo.GetWallet(ctx, nil, tenantID, userID)
	if err != nil {
		return nil, notFound(err)
	}
	return w, nil
}

// GetBalance returns current wallet balance. The cache is consulted first;
// AsOf is the time the balance was read from the store.
func (s *WalletService) GetBalance(ctx context.Context, tenantID, userID string) (b Balance, err error) {
	started := time.Now()
	defer func() { s.observe(opBalance, started, err) }()

	if tenantID == "" {
		return Balance{}, ErrTenantRequired
	}
	if cb, cerr := s.repo.GetCachedBalance(ctx, tenantID, userID); cerr == nil {
		return Balance{Balance: cb.Balance, Currency: cb.Currency, AsOf: cb.AsOf}, nil
	}

	w, err := s.GetWallet(ctx, tenantID, userID)
	if err != nil {
		return Balance{}, err
	}
	// refill is skipped by the store when a writer already cached a newer version
	if cerr := s.repo.CacheBalance(ctx, w); cerr != nil {
		s.log.Warnw("cache balance", "wallet_id", w.ID, "error", cerr)
	}
	return Balance{Balance: w.Balance, Currency: w.Currency, AsOf: s.now()}, nil
}

// GetTransactions returns the wallet's ledger, newest first. A missing
// wallet yields an empty ledger, not an error.
func (s *WalletService) GetTransactions(ctx context.Context, tenantID, userID string) (entries []model.LedgerEntry, err error) {
	started := time.Now()
	defer func() { s.observe(opTransactions, started, err) }()

	w, err := s.GetWallet(ctx, tenantID, userID)
	if errors.Is(err, ErrNotFound) {
		return []model.LedgerEntry{}, nil
	}
	if err != nil {
		return nil, err
	}
	return s.repo.ListEntries(ctx, w.ID)
}

// TopUp credits a payment the caller has already verified as settled.
// Re-applying the same paymentRef returns the first result and writes nothing.
func (s *WalletService) TopUp(ctx context.Context, tenantID, userID string, amount decimal.Decimal, paymentRef string) (w *model.Wallet, err error) {
	started := time.Now()
	defer func() { s.observe(opTopUp, started, err) }()

	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	paymentRef = strings.TrimSpace(paymentRef)
	if paymentRef == "" {
		return nil, ErrInvalidReference
	}
	wallet, err := s.GetWallet(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}

	var (
		result  *model.Wallet
		applied bool
	)
	err = s.withRetry(ctx, opTopUp, func() error {
		applied = false
		return s.repo.Transaction(ctx, func(tx *gorm.DB) error {
			cur, err := s.repo.GetWalletForUpdate(ctx, tx, wallet.ID)
			if err != nil {
				return notFound(err)
			}

			prior, err := s.repo.FindTopUpByReference(ctx, tx, paymentRef)
			switch {
			case err == nil:
				if prior.WalletID != cur.ID || !prior.Amount.Equal(amount) {
					return ErrDuplicatePayment
				}
				replay := *cur
				replay.Balance = prior.BalanceAfter
				result = &replay
				return nil
			case !errors.Is(err, repo.ErrNotFound):
				return err
			}

			before := cur.Balance
			after := before.Add(amount)
			now := s.now()
			entry := &model.LedgerEntry{
				ID:            uuid.NewString(),
				WalletID:      cur.ID,
				Amount:        amount,
				BalanceBefore: before,
				BalanceAfter:  after,
				Type:          model.EntryTopUp,
				Status:        model.EntryStatusCompleted,
				Description:   fmt.Sprintf("Top up via payment gateway - Ref: %s", paymentRef),
				Reference:     paymentRef,
				CreatedAt:     now,
			}
			if err := s.repo.CreateEntries(ctx, tx, entry); err != nil {
				return err
			}
			if err := s.repo.UpdateWallet(ctx, tx, cur.ID, after, cur.Version); err != nil {
				return err
			}
			if err := s.writeEvent(ctx, tx, cur, model.EventTopUpCompleted, map[string]interface{}{
				"wallet_id":  cur.ID,
				"user_id":    cur.UserID,
				"amount":     amount,
				"balance":    after,
				"currency":   cur.Currency,
				"reference":  paymentRef,
				"entry_id":   entry.ID,
				"created_at": now,
			}); err != nil {
				return err
			}

			cur.Balance = after
			cur.Version++
			cur.UpdatedAt = now
			result = cur
			applied = true
			return nil
		})
	})
	if err != nil {
		s.log.Errorw("top up failed", "tenant_id", tenantID, "user_id", userID, "reference", paymentRef, "error", err)
		return nil, err
	}

	if !applied {
		s.log.Infow("top up already applied", "tenant_id", tenantID, "user_id", userID, "reference", paymentRef)
		return result, nil
	}
	s.publishBalance(ctx, result)
	s.log.Infow("top up completed",
		"tenant_id", tenantID, "user_id", userID, "wallet_id", result.ID,
		"amount", amount.StringFixed(2), "balance", result.Balance.StringFixed(2), "reference", paymentRef)
	return result, nil
}

// Transfer moves amount between two wallets of the same tenant and returns
// the updated source wallet.
func (s *WalletService) Transfer(ctx context.Context, tenantID, fromUserID, toUserID string, amount decimal.Decimal) (w *model.Wallet, err error) {
	started := time.Now()
	defer func() { s.observe(opTransfer, started, err) }()

	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	if fromUserID == toUserID {
		return nil, ErrSameAccount
	}
	from, err := s.GetWallet(ctx, tenantID, fromUserID)
	if err != nil {
		return nil, err
	}
	to, err := s.destination(ctx, tenantID, toUserID)
	if err != nil {
		return nil, err
	}
	if from.TenantID != to.TenantID {
		return nil, ErrCrossTenantForbidden
	}
	// advisory only, re-checked under lock
	if from.Balance.LessThan(amount) {
		return nil, ErrInsufficientFunds
	}

	var src, dst *model.Wallet
	err = s.withRetry(ctx, opTransfer, func() error {
		return s.repo.Transaction(ctx, func(tx *gorm.DB) error {
			locked, err := s.lockInOrder(ctx, tx, from.ID, to.ID)
			if err != nil {
				return err
			}
			f, t := locked[from.ID], locked[to.ID]
			if f.TenantID != tenantID || t.TenantID != tenantID {
				return ErrCrossTenantForbidden
			}
			if f.Balance.LessThan(amount) {
				return ErrInsufficientFunds
			}

			reference := uuid.NewString()
			now := s.now()
			fromAfter := f.Balance.Sub(amount)
			toAfter := t.Balance.Add(amount)

			debit := &model.LedgerEntry{
				ID:            uuid.NewString(),
				WalletID:      f.ID,
				Amount:        amount.Neg(),
				BalanceBefore: f.Balance,
				BalanceAfter:  fromAfter,
				Type:          model.EntryTransfer,
				Status:        model.EntryStatusCompleted,
				Description:   fmt.Sprintf("Transfer to user %s", toUserID),
				Reference:     reference,
				CreatedAt:     now,
			}
			credit := &model.LedgerEntry{
				ID:            uuid.NewString(),
				WalletID:      t.ID,
				Amount:        amount,
				BalanceBefore: t.Balance,
				BalanceAfter:  toAfter,
				Type:          model.EntryTransfer,
				Status:        model.EntryStatusCompleted,
				Description:   fmt.Sprintf("Transfer from user %s", fromUserID),
				Reference:     reference,
				CreatedAt:     now,
			}
			if err := s.repo.CreateEntries(ctx, tx, debit); err != nil {
				return err
			}
			if err := s.repo.CreateEntries(ctx, tx, credit); err != nil {
				return err
			}
			if err := s.repo.UpdateWallet(ctx, tx, f.ID, fromAfter, f.Version); err != nil {
				return err
			}
			if err := s.repo.UpdateWallet(ctx, tx, t.ID, toAfter, t.Version); err != nil {
				return err
			}
			if err := s.writeEvent(ctx, tx, f, model.EventTransferCompleted, map[string]interface{}{
				"reference":      reference,
				"from_wallet_id": f.ID,
				"to_wallet_id":   t.ID,
				"from_user_id":   fromUserID,
				"to_user_id":     toUserID,
				"amount":         amount,
				"currency":       f.Currency,
				"created_at":     now,
			}); err != nil {
				return err
			}

			f.Balance, f.Version, f.UpdatedAt = fromAfter, f.Version+1, now
			t.Balance, t.Version, t.UpdatedAt = toAfter, t.Version+1, now
			src, dst = f, t
			return nil
		})
	})
	if err != nil {
		s.log.Errorw("transfer failed",
			"tenant_id", tenantID, "from_user_id", fromUserID, "to_user_id", toUserID,
			"amount", amount.StringFixed(2), "error", err)
		return nil, err
	}

	s.publishBalance(ctx, src)
	s.publishBalance(ctx, dst)
	s.log.Infow("transfer completed",
		"tenant_id", tenantID, "from_user_id", fromUserID, "to_user_id", toUserID,
		"amount", amount.StringFixed(2), "from_balance", src.Balance.StringFixed(2))
	return src, nil
}

// destination resolves the receiving wallet. A user who only has wallets in
// other tenants is a cross-tenant transfer, not a missing wallet.
func (s *WalletService) destination(ctx context.Context, tenantID, userID string) (*model.Wallet, error) {
	w, err := s.GetWallet(ctx, tenantID, userID)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return w, err
	}
	others, ferr := s.repo.FindWalletsByUser(ctx, nil, userID)
	if ferr != nil {
		return nil, ferr
	}
	if len(others) > 0 {
		return nil, ErrCrossTenantForbidden
	}
	return nil, ErrNotFound
}

// lockInOrder locks both rows in ascending id order so that two transfers
// running in opposite directions cannot wait on each other.
func (s *WalletService) lockInOrder(ctx context.Context, tx *gorm.DB, a, b string) (map[string]*model.Wallet, error) {
	first, second := a, b
	if second < first {
		first, second = second, first
	}
	locked := make(map[string]*model.Wallet, 2)
	for _, id := range []string{first, second} {
		w, err := s.repo.GetWalletForUpdate(ctx, tx, id)
		if err != nil {
			return nil, notFound(err)
		}
		locked[id] = w
	}
	return locked, nil
}

func (s *WalletService) writeEvent(ctx context.Context, tx *gorm.DB, w *model.Wallet, eventType string, payload map[string]interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return s.repo.CreateOutboxEvent(ctx, tx, &model.OutboxEvent{
		Aggregate:   "Wallet",
		AggregateID: w.ID,
		TenantID:    w.TenantID,
		EventType:   eventType,
		Payload:     string(raw),
	})
}

// withRetry re-runs fn from scratch while it fails with ErrStorageConflict.
func (s *WalletService) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err = fn()
		if !errors.Is(err, ErrStorageConflict) {
			return err
		}
		s.metrics.Conflict(op)
		s.log.Warnw("storage conflict", "operation", op, "attempt", attempt, "max_attempts", s.maxAttempts)
		if attempt == s.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", err, ctx.Err())
		case <-time.After(s.backoff * time.Duration(attempt)):
		}
	}
	return err
}

// publishBalance caches a committed balance. The write is version-guarded,
// so it never loses to a reader refilling from an older snapshot; if it fails
// the key is dropped instead.
func (s *WalletService) publishBalance(ctx context.Context, w *model.Wallet) {
	err := s.repo.CacheBalance(ctx, w)
	if err == nil {
		return
	}
	s.log.Warnw("cache committed balance", "wallet_id", w.ID, "version", w.Version, "error", err)
	if err := s.repo.InvalidateBalance(ctx, w); err != nil {
		s.log.Warnw("invalidate cached balance", "wallet_id", w.ID, "error", err)
	}
}

func (s *WalletService) observe(op string, started time.Time, err error) {
	s.metrics.Observe(op, Kind(err), started)
}

func validateAmount(amt decimal.Decimal) error {
	if !amt.IsPositive() || !amt.Equal(amt.Truncate(2)) {
		return ErrInvalidAmount
	}
	return nil
}
