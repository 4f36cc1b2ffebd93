package repo

import (
	"context"
	"testing"
	"time"

	"github.com/richardliu001/tenant-wallet/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestCreateWallet_UniquePerTenantAndUser(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, r.CreateWallet(ctx, nil, &model.Wallet{ID: "w1", TenantID: "t1", UserID: "alice", Currency: "USD"}))
	err := r.CreateWallet(ctx, nil, &model.Wallet{ID: "w2", TenantID: "t1", UserID: "alice", Currency: "USD"})
	assert.ErrorIs(t, err, ErrConflict)

	// same user in another tenant is a different wallet
	require.NoError(t, r.CreateWallet(ctx, nil, &model.Wallet{ID: "w3", TenantID: "t2", UserID: "alice", Currency: "USD"}))

	ws, err := r.FindWalletsByUser(ctx, nil, "alice")
	require.NoError(t, err)
	assert.Len(t, ws, 2)
}

func TestGetWallet_ScopedByTenant(t *testing.T) {
	r, db := newTestRepo(t)
	seedWallet(t, db, "w1", "t1", "alice", 10)
	ctx := context.Background()

	w, err := r.GetWallet(ctx, nil, "t1", "alice")
	require.NoError(t, err)
	assert.Equal(t, "w1", w.ID)

	_, err = r.GetWallet(ctx, nil, "t2", "alice")
	assert.ErrorIs(t, err, ErrNotFound)

	byID, err := r.GetWalletByID(ctx, nil, "w1")
	require.NoError(t, err)
	assert.Equal(t, "alice", byID.UserID)
	_, err = r.GetWalletByID(ctx, nil, "w9")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetTenant(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, r.CreateTenant(ctx, &model.Tenant{ID: "t1", Name: "acme", IsActive: true}))
	got, err := r.GetTenant(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "acme", got.Name)

	_, err = r.GetTenant(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func entry(id, walletID string, typ model.EntryType, ref string, amount int64, at time.Time) *model.LedgerEntry {
	return &model.LedgerEntry{
		ID: id, WalletID: walletID, Amount: decimal.NewFromInt(amount),
		BalanceBefore: decimal.Zero, BalanceAfter: decimal.NewFromInt(amount),
		Type: typ, Status: model.EntryStatusCompleted, Reference: ref, CreatedAt: at,
	}
}

func TestListEntries_NewestFirst(t *testing.T) {
	r, db := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, db.Create(entry("e1", "w1", model.EntryTopUp, "r1", 5, base)).Error)
	require.NoError(t, db.Create(entry("e2", "w1", model.EntryTopUp, "r2", 6, base.Add(time.Minute))).Error)
	require.NoError(t, db.Create(entry("e3", "w2", model.EntryTopUp, "r3", 7, base.Add(2*time.Minute))).Error)

	got, err := r.ListEntries(ctx, "w1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "e2", got[0].ID)
	assert.Equal(t, "e1", got[1].ID)

	empty, err := r.ListEntries(ctx, "nope")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestFindTopUpByReference(t *testing.T) {
	r, db := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, db.Create(entry("e1", "w1", model.EntryTransfer, "shared", -5, now)).Error)
	_, err := r.FindTopUpByReference(ctx, nil, "shared")
	assert.ErrorIs(t, err, ErrNotFound, "transfer entries do not count")

	require.NoError(t, db.Create(entry("e2", "w2", model.EntryTopUp, "pay-1", 50, now)).Error)
	got, err := r.FindTopUpByReference(ctx, nil, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, "e2", got.ID)
}

func TestCreateEntries_TopUpReferenceIsGloballyUnique(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	err := r.Transaction(ctx, func(tx *gorm.DB) error {
		return r.CreateEntries(ctx, tx, entry("e1", "w1", model.EntryTopUp, "pay-1", 5, now))
	})
	require.NoError(t, err)

	err = r.Transaction(ctx, func(tx *gorm.DB) error {
		return r.CreateEntries(ctx, tx, entry("e2", "w2", model.EntryTopUp, "pay-1", 5, now))
	})
	assert.ErrorIs(t, err, ErrConflict)
}
