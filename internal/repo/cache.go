package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/richardliu001/tenant-wallet/internal/model"
	"github.com/shopspring/decimal"
)

// CachedBalance is the Redis view of a wallet balance.
type CachedBalance struct {
	WalletID string          `json:"wallet_id"`
	Balance  decimal.Decimal `json:"balance"`
	Currency string          `json:"currency"`
	Version  uint64          `json:"version"`
	AsOf     time.Time       `json:"as_of"`
}

// setIfNewer stores ARGV[1] unless the cached entry already carries a
// version >= ARGV[2]. Returns 1 when written.
var setIfNewer = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur then
	local ok, decoded = pcall(cjson.decode, cur)
	if ok and type(decoded) == 'table' and decoded.version ~= nil and tonumber(decoded.version) >= tonumber(ARGV[2]) then
		return 0
	end
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`)

func balanceKey(tenantID, userID string) string {
	return fmt.Sprintf("balance:%s:%s", tenantID, userID)
}

// CacheBalance writes w to Redis unless a newer version is already cached,
// so a reader refilling from an old snapshot cannot hide a committed write.
func (r *Repository) CacheBalance(ctx context.Context, w *model.Wallet) error {
	if r.rdb == nil {
		return nil
	}
	raw, err := json.Marshal(CachedBalance{
		WalletID: w.ID,
		Balance:  w.Balance,
		Currency: w.Currency,
		Version:  w.Version,
		AsOf:     time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	key := balanceKey(w.TenantID, w.UserID)
	return setIfNewer.Run(ctx, r.rdb, []string{key}, raw, w.Version, r.cacheTTL.Milliseconds()).Err()
}

// GetCachedBalance reads Redis. A miss (or a disabled cache) returns redis.Nil.
func (r *Repository) GetCachedBalance(ctx context.Context, tenantID, userID string) (*CachedBalance, error) {
	if r.rdb == nil {
		return nil, redis.Nil
	}
	raw, err := r.rdb.Get(ctx, balanceKey(tenantID, userID)).Bytes()
	if err != nil {
		return nil, err
	}
	var cb CachedBalance
	if err := json.Unmarshal(raw, &cb); err != nil {
		return nil, err
	}
	return &cb, nil
}

// InvalidateBalance drops the cached balance. Writers use it only when the
// versioned write in CacheBalance failed.
func (r *Repository) InvalidateBalance(ctx context.Context, w *model.Wallet) error {
	if r.rdb == nil {
		return nil
	}
	return r.rdb.Del(ctx, balanceKey(w.TenantID, w.UserID)).Err()
}
