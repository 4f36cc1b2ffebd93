package repo

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/richardliu001/tenant-wallet/internal/model"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RepositoryInterface restricts Repo methods so the engine can be tested with fakes.
type RepositoryInterface interface {
	DB(ctx context.Context) *gorm.DB
	Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error

	CreateTenant(ctx context.Context, t *model.Tenant) error
	GetTenant(ctx context.Context, tenantID string) (*model.Tenant, error)

	CreateWallet(ctx context.Context, tx *gorm.DB, w *model.Wallet) error
	GetWallet(ctx context.Context, tx *gorm.DB, tenantID, userID string) (*model.Wallet, error)
	GetWalletByID(ctx context.Context, tx *gorm.DB, walletID string) (*model.Wallet, error)
	FindWalletsByUser(ctx context.Context, tx *gorm.DB, userID string) ([]model.Wallet, error)
	GetWalletForUpdate(ctx context.Context, tx *gorm.DB, walletID string) (*model.Wallet, error)
	UpdateWallet(ctx context.Context, tx *gorm.DB, walletID string, newBalance decimal.Decimal, oldVersion uint64) error

	CreateEntries(ctx context.Context, tx *gorm.DB, entries ...*model.LedgerEntry) error
	FindTopUpByReference(ctx context.Context, tx *gorm.DB, reference string) (*model.LedgerEntry, error)
	ListEntries(ctx context.Context, walletID string) ([]model.LedgerEntry, error)

	CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error
	PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkOutboxProcessed(ctx context.Context, id uint64) error
	PublishEvent(ctx context.Context, evt model.OutboxEvent) error

	CacheBalance(ctx context.Context, w *model.Wallet) error
	GetCachedBalance(ctx context.Context, tenantID, userID string) (*CachedBalance, error)
	InvalidateBalance(ctx context.Context, w *model.Wallet) error
}

// Repository implements RepositoryInterface.
type Repository struct {
	db       *gorm.DB
	rdb      *redis.Client
	writer   *kafka.Writer
	log      *zap.SugaredLogger
	cacheTTL time.Duration
}

// NewRepository constructs repo. rdb and w may be nil: the cache is then
// disabled and PublishEvent fails.
func NewRepository(db *gorm.DB, rdb *redis.Client, w *kafka.Writer, logger *zap.SugaredLogger) *Repository {
	return &Repository{db: db, rdb: rdb, writer: w, log: logger, cacheTTL: 5 * time.Minute}
}

// WithCacheTTL overrides the balance cache expiry.
func (r *Repository) WithCacheTTL(ttl time.Duration) *Repository {
	if ttl > 0 {
		r.cacheTTL = ttl
	}
	return r
}

// DB returns underlying *gorm.DB
func (r *Repository) DB(ctx context.Context) *gorm.DB { return r.db.WithContext(ctx) }

// Transaction runs fn as one unit of work. A nil return commits; an error,
// a panic or a cancelled ctx rolls everything back.
func (r *Repository) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return translate(r.db.WithContext(ctx).Transaction(fn))
}

// CreateTenant inserts a tenant.
func (r *Repository) CreateTenant(ctx context.Context, t *model.Tenant) error {
	return translate(r.db.WithContext(ctx).Create(t).Error)
}

// GetTenant loads a tenant by id.
func (r *Repository) GetTenant(ctx context.Context, tenantID string) (*model.Tenant, error) {
	var t model.Tenant
	if err := r.db.WithContext(ctx).Where("id = ?", tenantID).First(&t).Error; err != nil {
		return nil, translate(err)
	}
	return &t, nil
}

// CreateWallet inserts a wallet; a second wallet for the same (tenant, user) is ErrConflict.
func (r *Repository) CreateWallet(ctx context.Context, tx *gorm.DB, w *model.Wallet) error {
	return translate(r.conn(ctx, tx).Create(w).Error)
}

// GetWallet looks a wallet up by its unique (tenant, user) key.
func (r *Repository) GetWallet(ctx context.Context, tx *gorm.DB, tenantID, userID string) (*model.Wallet, error) {
	var w model.Wallet
	if err := r.conn(ctx, tx).
		Where("tenant_id = ? AND user_id = ?", tenantID, userID).
		Take(&w).Error; err != nil {
		return nil, translate(err)
	}
	return &w, nil
}

// GetWalletByID reads a wallet without locking it.
func (r *Repository) GetWalletByID(ctx context.Context, tx *gorm.DB, walletID string) (*model.Wallet, error) {
	var w model.Wallet
	if err := r.conn(ctx, tx).Where("id = ?", walletID).Take(&w).Error; err != nil {
		return nil, translate(err)
	}
	return &w, nil
}

// FindWalletsByUser returns the user's wallets across all tenants.
func (r *Repository) FindWalletsByUser(ctx context.Context, tx *gorm.DB, userID string) ([]model.Wallet, error) {
	var ws []model.Wallet
	err := r.conn(ctx, tx).Where("user_id = ?", userID).Order("tenant_id").Find(&ws).Error
	return ws, translate(err)
}

// GetWalletForUpdate locks wallet row.
func (r *Repository) GetWalletForUpdate(ctx context.Context, tx *gorm.DB, walletID string) (*model.Wallet, error) {
	var w model.Wallet
	if err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", walletID).Take(&w).Error; err != nil {
		return nil, translate(err)
	}
	return &w, nil
}

// UpdateWallet with optimistic lock.
func (r *Repository) UpdateWallet(ctx context.Context, tx *gorm.DB, walletID string, newBalance decimal.Decimal, oldVersion uint64) error {
	if newBalance.IsNegative() {
		return errors.New("refusing to persist negative balance")
	}
	res := tx.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("id = ? AND version = ?", walletID, oldVersion).
		Updates(map[string]interface{}{
			"balance":    newBalance,
			"version":    oldVersion + 1,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// CreateEntries appends ledger entries. Entries are never updated or deleted.
func (r *Repository) CreateEntries(ctx context.Context, tx *gorm.DB, entries ...*model.LedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return translate(tx.WithContext(ctx).Create(entries).Error)
}

// FindTopUpByReference returns the top-up entry carrying the payment reference.
func (r *Repository) FindTopUpByReference(ctx context.Context, tx *gorm.DB, reference string) (*model.LedgerEntry, error) {
	var e model.LedgerEntry
	err := r.conn(ctx, tx).
		Where("type = ? AND reference = ?", model.EntryTopUp, reference).
		Take(&e).Error
	if err != nil {
		return nil, translate(err)
	}
	return &e, nil
}

// ListEntries returns the wallet's entries, newest first.
func (r *Repository) ListEntries(ctx context.Context, walletID string) ([]model.LedgerEntry, error) {
	entries := make([]model.LedgerEntry, 0)
	err := r.db.WithContext(ctx).
		Where("wallet_id = ?", walletID).
		Order("created_at desc").Order("id desc").
		Find(&entries).Error
	return entries, translate(err)
}

func (r *Repository) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx.WithContext(ctx)
	}
	return r.db.WithContext(ctx)
}
