package service

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/richardliu001/tenant-wallet/internal/metrics"
	"github.com/richardliu001/tenant-wallet/internal/model"
	"github.com/richardliu001/tenant-wallet/internal/repo"
	"github.com/richardliu001/tenant-wallet/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	tenantA = "aaaaaaaa-0000-0000-0000-000000000001"
	tenantB = "bbbbbbbb-0000-0000-0000-000000000002"
)

type fixture struct {
	db   *gorm.DB
	repo *repo.Repository
	mr   *miniredis.Miniredis
	reg  *prometheus.Registry
	svc  *WalletService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	r := repo.NewRepository(db, rdb, nil, testutil.Logger(t))

	ctx := context.Background()
	require.NoError(t, r.CreateTenant(ctx, &model.Tenant{ID: tenantA, Name: "a", IsActive: true}))
	require.NoError(t, r.CreateTenant(ctx, &model.Tenant{ID: tenantB, Name: "b", IsActive: true}))

	f := &fixture{db: db, repo: r, mr: mr}
	f.svc = f.service(t, r)
	return f
}

// service builds an engine over r and points f.reg at its registry.
func (f *fixture) service(t *testing.T, r repo.RepositoryInterface) *WalletService {
	reg := prometheus.NewRegistry()
	f.reg = reg
	return NewWalletService(r, testutil.Logger(t),
		WithMetrics(metrics.NewLedger(reg)),
		WithRetry(3, 0),
	)
}

// open creates userID's wallet under tenantID funded with amount.
func (f *fixture) open(t *testing.T, tenantID, userID, amount string) *model.Wallet {
	t.Helper()
	ctx := context.Background()
	w, err := f.svc.OpenWallet(ctx, tenantID, userID, "")
	require.NoError(t, err)
	if amt := dec(amount); amt.IsPositive() {
		w, err = f.svc.TopUp(ctx, tenantID, userID, amt, "seed-"+tenantID+"-"+userID)
		require.NoError(t, err)
	}
	return w
}

func (f *fixture) balance(t *testing.T, tenantID, userID string) decimal.Decimal {
	t.Helper()
	var w model.Wallet
	require.NoError(t, f.db.Where("tenant_id = ? AND user_id = ?", tenantID, userID).Take(&w).Error)
	return w.Balance
}

func (f *fixture) entries(t *testing.T, walletID string) []model.LedgerEntry {
	t.Helper()
	es, err := f.repo.ListEntries(context.Background(), walletID)
	require.NoError(t, err)
	return es
}

func (f *fixture) outboxCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&model.OutboxEvent{}).Count(&n).Error)
	return n
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// faultyRepo injects failures into an otherwise real store.
type faultyRepo struct {
	repo.RepositoryInterface

	failCreateEntriesOn int // 1-based call number, 0 disables
	failUpdateOn        int
	conflicts           int // UpdateWallet calls to fail with ErrConflict
	blindLookups        int // FindTopUpByReference calls that report a miss

	createCalls int
	updateCalls int
	lookups     int
}

var errInjected = errors.New("injected failure")

func (f *faultyRepo) CreateEntries(ctx context.Context, tx *gorm.DB, entries ...*model.LedgerEntry) error {
	f.createCalls++
	if f.createCalls == f.failCreateEntriesOn {
		return errInjected
	}
	return f.RepositoryInterface.CreateEntries(ctx, tx, entries...)
}

func (f *faultyRepo) FindTopUpByReference(ctx context.Context, tx *gorm.DB, reference string) (*model.LedgerEntry, error) {
	f.lookups++
	if f.blindLookups > 0 {
		f.blindLookups--
		return nil, repo.ErrNotFound
	}
	return f.RepositoryInterface.FindTopUpByReference(ctx, tx, reference)
}

func (f *faultyRepo) UpdateWallet(ctx context.Context, tx *gorm.DB, walletID string, newBalance decimal.Decimal, oldVersion uint64) error {
	f.updateCalls++
	if f.conflicts > 0 {
		f.conflicts--
		return repo.ErrConflict
	}
	if f.updateCalls == f.failUpdateOn {
		return errInjected
	}
	return f.RepositoryInterface.UpdateWallet(ctx, tx, walletID, newBalance, oldVersion)
}
