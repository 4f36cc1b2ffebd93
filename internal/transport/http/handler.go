package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/richardliu001/tenant-wallet/internal/model"
	"github.com/richardliu001/tenant-wallet/internal/service"
	"github.com/richardliu001/tenant-wallet/internal/tenant"
	"github.com/shopspring/decimal"
)

func registerOn(r gin.IRouter, svc *service.WalletService, topups *service.TopUpService) {
	v1 := r.Group("/v1")
	{
		v1.POST("/wallets", openWalletHandler(svc))
		v1.GET("/wallets/:userId/balance", balanceHandler(svc))
		v1.GET("/wallets/:userId/transactions", transactionsHandler(svc))
		v1.POST("/wallets/:userId/topup/initiate", initiateTopUpHandler(topups))
		v1.POST("/wallets/:userId/topup/confirm", confirmTopUpHandler(topups))
		v1.POST("/wallets/:userId/transfer", transferHandler(svc))
	}
}

type openWalletReq struct {
	UserID   string `json:"user_id" binding:"required"`
	Currency string `json:"currency"`
}

type walletResp struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	TenantID  string    `json:"tenant_id"`
	Balance   string    `json:"balance"`
	Currency  string    `json:"currency"`
	CreatedAt time.Time `json:"created_at"`
}

type entryResp struct {
	ID            string    `json:"id"`
	Amount        string    `json:"amount"`
	BalanceBefore string    `json:"balance_before"`
	BalanceAfter  string    `json:"balance_after"`
	Type          string    `json:"type"`
	Status        string    `json:"status"`
	Description   string    `json:"description"`
	Reference     string    `json:"reference"`
	CreatedAt     time.Time `json:"created_at"`
}

func toEntryResp(e model.LedgerEntry) entryResp {
	return entryResp{
		ID:            e.ID,
		Amount:        e.Amount.StringFixed(2),
		BalanceBefore: e.BalanceBefore.StringFixed(2),
		BalanceAfter:  e.BalanceAfter.StringFixed(2),
		Type:          string(e.Type),
		Status:        e.Status,
		Description:   e.Description,
		Reference:     e.Reference,
		CreatedAt:     e.CreatedAt,
	}
}

func openWalletHandler(svc *service.WalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req openWalletReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		tenantID, _ := tenant.Current(c)
		w, err := svc.OpenWallet(c.Request.Context(), tenantID, req.UserID, req.Currency)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, walletResp{
			ID:        w.ID,
			UserID:    w.UserID,
			TenantID:  w.TenantID,
			Balance:   w.Balance.StringFixed(2),
			Currency:  w.Currency,
			CreatedAt: w.CreatedAt,
		})
	}
}

func balanceHandler(svc *service.WalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, _ := tenant.Current(c)
		userID := c.Param("userId")
		b, err := svc.GetBalance(c.Request.Context(), tenantID, userID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"user_id":  userID,
			"balance":  b.Balance.StringFixed(2),
			"currency": b.Currency,
			"as_of":    b.AsOf,
		})
	}
}

func transactionsHandler(svc *service.WalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, _ := tenant.Current(c)
		entries, err := svc.GetTransactions(c.Request.Context(), tenantID, c.Param("userId"))
		if err != nil {
			writeError(c, err)
			return
		}
		out := make([]entryResp, 0, len(entries))
		for _, e := range entries {
			out = append(out, toEntryResp(e))
		}
		c.JSON(http.StatusOK, out)
	}
}

type initiateReq struct {
	Amount    string `json:"amount" binding:"required"`
	ReturnURL string `json:"return_url"`
}

func initiateTopUpHandler(topups *service.TopUpService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req initiateReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		amt, err := decimal.NewFromString(req.Amount)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
			return
		}
		tenantID, _ := tenant.Current(c)
		pay, err := topups.Initiate(c.Request.Context(), tenantID, c.Param("userId"), amt, req.ReturnURL)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"transaction_id": pay.TransactionID,
			"payment_url":    pay.PaymentURL,
		})
	}
}

type confirmReq struct {
	TransactionID string `json:"transaction_id"`
}

func confirmTopUpHandler(topups *service.TopUpService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req confirmReq
		// the provider redirect carries the id as a query parameter
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}
		if req.TransactionID == "" {
			req.TransactionID = c.Query("transactionId")
		}
		tenantID, _ := tenant.Current(c)
		w, err := topups.Confirm(c.Request.Context(), tenantID, c.Param("userId"), req.TransactionID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"message":        "Top up completed successfully",
			"balance":        w.Balance.StringFixed(2),
			"transaction_id": req.TransactionID,
		})
	}
}

type transferReq struct {
	ToUserID string `json:"to_user_id" binding:"required"`
	Amount   string `json:"amount" binding:"required"`
}

func transferHandler(svc *service.WalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req transferReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		amt, err := decimal.NewFromString(req.Amount)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
			return
		}
		tenantID, _ := tenant.Current(c)
		w, err := svc.Transfer(c.Request.Context(), tenantID, c.Param("userId"), req.ToUserID, amt)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"message":     "Transfer completed successfully",
			"new_balance": w.Balance.StringFixed(2),
		})
	}
}
