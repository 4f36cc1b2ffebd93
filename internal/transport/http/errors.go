package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/richardliu001/tenant-wallet/internal/service"
)

var errStatus = []struct {
	err    error
	status int
}{
	{service.ErrNotFound, http.StatusNotFound},
	{service.ErrInvalidAmount, http.StatusBadRequest},
	{service.ErrSameAccount, http.StatusBadRequest},
	{service.ErrInvalidReference, http.StatusBadRequest},
	{service.ErrCurrencyMismatch, http.StatusBadRequest},
	{service.ErrTenantRequired, http.StatusBadRequest},
	{service.ErrUserRequired, http.StatusBadRequest},
	{service.ErrCrossTenantForbidden, http.StatusForbidden},
	{service.ErrTenantInactive, http.StatusForbidden},
	{service.ErrInsufficientFunds, http.StatusUnprocessableEntity},
	{service.ErrPaymentNotSettled, http.StatusUnprocessableEntity},
	{service.ErrDuplicatePayment, http.StatusConflict},
	{service.ErrWalletExists, http.StatusConflict},
	{service.ErrStorageConflict, http.StatusConflict},
	{service.ErrGatewayUnavailable, http.StatusBadGateway},
}

// writeError maps engine errors to a status code and a stable error kind.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	for _, m := range errStatus {
		if errors.Is(err, m.err) {
			status = m.status
			break
		}
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	c.JSON(status, gin.H{"error": msg, "kind": service.Kind(err)})
}
