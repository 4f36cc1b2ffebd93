package tenant

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/richardliu001/tenant-wallet/internal/model"
	"github.com/richardliu001/tenant-wallet/internal/repo"
	"go.uber.org/zap"
)

const ginKey = "tenant_id"

type ctxKey struct{}

// Lookup loads a tenant; the store's GetTenant satisfies it.
type Lookup interface {
	GetTenant(ctx context.Context, tenantID string) (*model.Tenant, error)
}

// Config drives the middleware.
type Config struct {
	Header        string
	Default       string
	RequireActive bool
}

// WithTenant returns a copy of ctx carrying tenantID.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, tenantID)
}

// FromContext returns the tenant resolved for this request.
func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok && id != ""
}

// Current returns the tenant stored on the gin context by Middleware.
func Current(c *gin.Context) (string, bool) {
	if v, ok := c.Get(ginKey); ok {
		if id, ok := v.(string); ok && id != "" {
			return id, true
		}
	}
	return FromContext(c.Request.Context())
}

// Resolve picks the tenant for a raw header value: a valid uuid wins,
// anything else falls back to def.
func Resolve(header, def string) string {
	if id, err := uuid.Parse(header); err == nil {
		return id.String()
	}
	return def
}

// Middleware resolves the tenant once per request and stores it on both the
// gin context and the request context. lookup may be nil to skip the
// existence check.
func Middleware(cfg Config, lookup Lookup, log *zap.SugaredLogger) gin.HandlerFunc {
	header := cfg.Header
	if header == "" {
		header = "X-Tenant-ID"
	}
	return func(c *gin.Context) {
		id := Resolve(c.GetHeader(header), cfg.Default)
		if id == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "tenant is required"})
			return
		}

		if lookup != nil && cfg.RequireActive {
			t, err := lookup.GetTenant(c.Request.Context(), id)
			switch {
			case errors.Is(err, repo.ErrNotFound):
				c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "tenant not found"})
				return
			case err != nil:
				log.Errorw("tenant lookup", "tenant_id", id, "error", err)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "tenant lookup failed"})
				return
			case !t.IsActive:
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "tenant is inactive"})
				return
			}
		}

		c.Set(ginKey, id)
		c.Request = c.Request.WithContext(WithTenant(c.Request.Context(), id))
		c.Next()
	}
}
