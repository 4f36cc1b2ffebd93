package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/richardliu001/tenant-wallet/internal/config"
	"github.com/richardliu001/tenant-wallet/internal/service"
	"github.com/richardliu001/tenant-wallet/internal/tenant"
	httpmetrics "github.com/slok/go-http-metrics/metrics/prometheus"
	"github.com/slok/go-http-metrics/middleware"
	ginmiddleware "github.com/slok/go-http-metrics/middleware/gin"
	"go.uber.org/zap"
)

// Deps are the collaborators the router needs.
type Deps struct {
	Wallets   *service.WalletService
	TopUps    *service.TopUpService
	Tenants   tenant.Lookup
	RateLimit config.RateLimitConfig
	Tenant    config.TenantConfig
	OpTimeout time.Duration
	Registry  *prometheus.Registry
	Log       *zap.SugaredLogger
}

func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware(d.Log))

	if d.Registry != nil {
		mdlw := middleware.New(middleware.Config{
			Recorder: httpmetrics.NewRecorder(httpmetrics.Config{Registry: d.Registry}),
		})
		r.Use(ginmiddleware.Handler("", mdlw))
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{})))
	}
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	api := r.Group("")
	api.Use(RateLimitMiddleware(d.RateLimit.RPS, d.RateLimit.Burst))
	api.Use(TimeoutMiddleware(d.OpTimeout))
	api.Use(tenant.Middleware(tenant.Config{
		Header:        d.Tenant.Header,
		Default:       d.Tenant.Default,
		RequireActive: d.Tenant.RequireActive,
	}, d.Tenants, d.Log))
	registerOn(api, d.Wallets, d.TopUps)
	return r
}
