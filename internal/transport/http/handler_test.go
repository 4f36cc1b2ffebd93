package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/richardliu001/tenant-wallet/internal/config"
	"github.com/richardliu001/tenant-wallet/internal/gateway"
	"github.com/richardliu001/tenant-wallet/internal/metrics"
	"github.com/richardliu001/tenant-wallet/internal/model"
	"github.com/richardliu001/tenant-wallet/internal/repo"
	"github.com/richardliu001/tenant-wallet/internal/service"
	"github.com/richardliu001/tenant-wallet/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	tenantA = "aaaaaaaa-0000-0000-0000-000000000001"
	tenantB = "bbbbbbbb-0000-0000-0000-000000000002"
)

func newTestRouter(t *testing.T) *gin.Engine {
	gin.SetMode(gin.TestMode)
	log := testutil.Logger(t)
	r := repo.NewRepository(testutil.NewDB(t), nil, nil, log)
	ctx := context.Background()
	require.NoError(t, r.CreateTenant(ctx, &model.Tenant{ID: tenantA, Name: "a", IsActive: true}))
	require.NoError(t, r.CreateTenant(ctx, &model.Tenant{ID: tenantB, Name: "b", IsActive: true}))

	reg := prometheus.NewRegistry()
	wallets := service.NewWalletService(r, log, service.WithMetrics(metrics.NewLedger(reg)))
	topups := service.NewTopUpService(wallets, gateway.Sandbox{}, "https://app.example/return", log)
	return NewRouter(Deps{
		Wallets:   wallets,
		TopUps:    topups,
		Tenants:   r,
		RateLimit: config.RateLimitConfig{},
		Tenant:    config.TenantConfig{Header: "X-Tenant-ID", Default: tenantA, RequireActive: true},
		Registry:  reg,
		Log:       log,
	})
}

func call(t *testing.T, r http.Handler, method, path, tenantID string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	if tenantID != "" {
		req.Header.Set("X-Tenant-ID", tenantID)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	out := map[string]interface{}{}
	if w.Body.Len() > 0 && w.Body.Bytes()[0] == '{' {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w.Code, out
}

// fund opens a wallet and credits it through the sandbox top-up flow.
func fund(t *testing.T, r http.Handler, tenantID, userID, amount string) {
	t.Helper()
	code, _ := call(t, r, http.MethodPost, "/v1/wallets", tenantID, gin.H{"user_id": userID})
	require.Equal(t, http.StatusCreated, code)
	if amount == "" {
		return
	}
	code, pay := call(t, r, http.MethodPost, "/v1/wallets/"+userID+"/topup/initiate", tenantID, gin.H{"amount": amount})
	require.Equal(t, http.StatusOK, code)
	code, _ = call(t, r, http.MethodPost, "/v1/wallets/"+userID+"/topup/confirm", tenantID, gin.H{"transaction_id": pay["transaction_id"]})
	require.Equal(t, http.StatusOK, code)
}

func TestOpenWallet(t *testing.T) {
	r := newTestRouter(t)

	code, body := call(t, r, http.MethodPost, "/v1/wallets", "", gin.H{"user_id": "alice"})
	assert.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "0.00", body["balance"])
	assert.Equal(t, tenantA, body["tenant_id"])

	code, body = call(t, r, http.MethodPost, "/v1/wallets", tenantA, gin.H{"user_id": "alice"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "wallet_exists", body["kind"])

	code, _ = call(t, r, http.MethodPost, "/v1/wallets", tenantA, gin.H{})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = call(t, r, http.MethodPost, "/v1/wallets", tenantA, gin.H{"user_id": "  "})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "user_required", body["kind"])
}

func TestTopUpFlow(t *testing.T) {
	r := newTestRouter(t)
	fund(t, r, tenantA, "alice", "")

	code, pay := call(t, r, http.MethodPost, "/v1/wallets/alice/topup/initiate", tenantA, gin.H{"amount": "25"})
	require.Equal(t, http.StatusOK, code)
	txID, _ := pay["transaction_id"].(string)
	require.NotEmpty(t, txID)
	assert.Contains(t, pay["payment_url"], "transactionId=")

	// the provider redirect brings the id back as a query parameter
	code, body := call(t, r, http.MethodPost, "/v1/wallets/alice/topup/confirm?transactionId="+txID, tenantA, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "25.00", body["balance"])

	code, body = call(t, r, http.MethodPost, "/v1/wallets/alice/topup/confirm", tenantA, gin.H{"transaction_id": txID})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "25.00", body["balance"], "replayed confirmation credits once")

	code, body = call(t, r, http.MethodGet, "/v1/wallets/alice/balance", tenantA, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "25.00", body["balance"])
	assert.Equal(t, "USD", body["currency"])

	code, body = call(t, r, http.MethodPost, "/v1/wallets/alice/topup/confirm", tenantA, gin.H{"transaction_id": "bogus"})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "payment_not_settled", body["kind"])

	code, _ = call(t, r, http.MethodPost, "/v1/wallets/alice/topup/initiate", tenantA, gin.H{"amount": "ten"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestTransfer(t *testing.T) {
	r := newTestRouter(t)
	fund(t, r, tenantA, "alice", "1000")
	fund(t, r, tenantA, "bob", "500")
	fund(t, r, tenantB, "carol", "")

	code, body := call(t, r, http.MethodPost, "/v1/wallets/alice/transfer", tenantA, gin.H{"to_user_id": "bob", "amount": "300"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "700.00", body["new_balance"])

	_, body = call(t, r, http.MethodGet, "/v1/wallets/bob/balance", tenantA, nil)
	assert.Equal(t, "800.00", body["balance"])

	cases := []struct {
		name   string
		to     string
		amount string
		status int
		kind   string
	}{
		{"insufficient", "bob", "5000", http.StatusUnprocessableEntity, "insufficient_funds"},
		{"self", "alice", "1", http.StatusBadRequest, "same_account"},
		{"other tenant", "carol", "1", http.StatusForbidden, "cross_tenant_forbidden"},
		{"unknown", "nobody", "1", http.StatusNotFound, "not_found"},
		{"fractional cent", "bob", "0.001", http.StatusBadRequest, "invalid_amount"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, body := call(t, r, http.MethodPost, "/v1/wallets/alice/transfer", tenantA, gin.H{"to_user_id": tc.to, "amount": tc.amount})
			assert.Equal(t, tc.status, code)
			assert.Equal(t, tc.kind, body["kind"])
		})
	}
}

func TestTransactions(t *testing.T) {
	r := newTestRouter(t)
	fund(t, r, tenantA, "alice", "100")
	fund(t, r, tenantA, "bob", "")
	code, _ := call(t, r, http.MethodPost, "/v1/wallets/alice/transfer", tenantA, gin.H{"to_user_id": "bob", "amount": "40"})
	require.Equal(t, http.StatusOK, code)

	req := httptest.NewRequest(http.MethodGet, "/v1/wallets/alice/transactions", nil)
	req.Header.Set("X-Tenant-ID", tenantA)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var entries []entryResp
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "Transfer", entries[0].Type)
	assert.Equal(t, "-40.00", entries[0].Amount)
	assert.Equal(t, "60.00", entries[0].BalanceAfter)
	assert.Equal(t, "TopUp", entries[1].Type)

	req = httptest.NewRequest(http.MethodGet, "/v1/wallets/ghost/transactions", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestBalance_NotFound(t *testing.T) {
	r := newTestRouter(t)
	code, body := call(t, r, http.MethodGet, "/v1/wallets/ghost/balance", tenantA, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "not_found", body["kind"])
}

func TestUnknownTenantRejected(t *testing.T) {
	r := newTestRouter(t)
	code, _ := call(t, r, http.MethodGet, "/v1/wallets/alice/balance", "cccccccc-0000-0000-0000-000000000003", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestHealthAndMetrics(t *testing.T) {
	r := newTestRouter(t)
	fund(t, r, tenantA, "alice", "")

	code, body := call(t, r, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "wallet_ledger_operations_total")
	assert.Contains(t, w.Body.String(), "http_request_duration_seconds")
}

func TestRateLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimitMiddleware(1, 1))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	hit := func() int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}
	assert.Equal(t, http.StatusNoContent, hit())
	assert.Equal(t, http.StatusTooManyRequests, hit())
}

func TestIPLimiter_EvictsIdleClients(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := newIPLimiter(1, 1, time.Minute)
	l.now = func() time.Time { return now }

	assert.True(t, l.allow("10.0.0.1"))
	assert.True(t, l.allow("10.0.0.2"))
	assert.False(t, l.allow("10.0.0.1"))
	assert.Equal(t, 2, l.size())

	now = now.Add(30 * time.Second)
	assert.True(t, l.allow("10.0.0.2"))

	// 10.0.0.1 has been idle for a full window, 10.0.0.2 has not
	now = now.Add(45 * time.Second)
	assert.True(t, l.allow("10.0.0.3"))
	assert.Equal(t, 2, l.size())
	assert.True(t, l.allow("10.0.0.1"), "evicted client starts with a fresh bucket")
}
