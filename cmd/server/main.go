package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/richardliu001/tenant-wallet/internal/config"
	"github.com/richardliu001/tenant-wallet/internal/gateway"
	"github.com/richardliu001/tenant-wallet/internal/logger"
	"github.com/richardliu001/tenant-wallet/internal/metrics"
	"github.com/richardliu001/tenant-wallet/internal/model"
	"github.com/richardliu001/tenant-wallet/internal/repo"
	"github.com/richardliu001/tenant-wallet/internal/service"
	httptransport "github.com/richardliu001/tenant-wallet/internal/transport/http"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	// 1. load config
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "internal/config/config.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	// 2. init logger
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. postgres
	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{PrepareStmt: true, TranslateError: true})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	if cfg.Postgres.AutoMigrate {
		if err := gdb.AutoMigrate(model.All()...); err != nil {
			log.Fatalf("auto-migrate: %v", err)
		}
	}

	// 4. redis, optional
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("redis ping: %v", err)
		}
	} else {
		log.Warn("redis not configured, balance cache disabled")
	}

	// 5. metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	ledgerMetrics := metrics.NewLedger(reg)

	// 6. repo & services; the server only writes the outbox, cmd/poller publishes it
	repository := repo.NewRepository(gdb, rdb, nil, log).WithCacheTTL(cfg.Redis.TTL)
	if err := seedDefaultTenant(ctx, repository, cfg.Tenant.Default, log); err != nil {
		log.Fatalf("seed tenant: %v", err)
	}
	wallets := service.NewWalletService(repository, log,
		service.WithMetrics(ledgerMetrics),
		service.WithRetry(cfg.Ledger.MaxAttempts, cfg.Ledger.RetryBackoff),
		service.WithDefaultCurrency(cfg.Ledger.DefaultCurrency),
	)
	topups := service.NewTopUpService(wallets, newGateway(cfg.Gateway, log), cfg.Gateway.ReturnURL, log)

	// 7. gin router
	router := httptransport.NewRouter(httptransport.Deps{
		Wallets:   wallets,
		TopUps:    topups,
		Tenants:   repository,
		RateLimit: cfg.RateLimit,
		Tenant:    cfg.Tenant,
		OpTimeout: cfg.Ledger.OpTimeout,
		Registry:  reg,
		Log:       log,
	})

	// 8. serve
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Server.Port), Handler: router}
	go func() {
		log.Infof("wallet-server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("shutdown: %v", err)
	}
}

func newGateway(cfg config.GatewayConfig, log *zap.SugaredLogger) gateway.Gateway {
	if cfg.Mode == "http" {
		return gateway.NewClient(gateway.ClientConfig{
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			Timeout:    cfg.Timeout,
			MaxRetries: cfg.MaxRetries,
			RPS:        cfg.RPS,
		}, nil, log)
	}
	log.Warn("using sandbox payment gateway")
	return gateway.Sandbox{}
}

func seedDefaultTenant(ctx context.Context, r *repo.Repository, id string, log *zap.SugaredLogger) error {
	if id == "" {
		return nil
	}
	_, err := r.GetTenant(ctx, id)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	if err := r.CreateTenant(ctx, &model.Tenant{ID: id, Name: "default", IsActive: true}); err != nil && !errors.Is(err, repo.ErrConflict) {
		return err
	}
	log.Infow("default tenant created", "tenant_id", id)
	return nil
}
