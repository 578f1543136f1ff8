package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bizledger/internal/caching"
	"bizledger/internal/common"
	"bizledger/internal/config"
	"bizledger/internal/handlers"
	"bizledger/internal/jobs"
	"bizledger/internal/jobs/background"
	"bizledger/internal/metrics"
	"bizledger/internal/middleware"
	"bizledger/internal/models"
	"bizledger/internal/repositories"
	"bizledger/internal/services"
	"bizledger/pkg/database"
	"bizledger/pkg/logger"

	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const apiVersion = "v1"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "bizledger: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, resolver, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	cache := caching.NewNoopCacheService()
	if cfg.Redis.Enabled {
		cache = caching.NewRedisCacheService(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, log)
		if err := cache.Ping(ctx); err != nil {
			log.Warn("redis unavailable, continuing without cache", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	opts := services.Options{
		SummaryTTL:      cfg.Ledger.SummaryTTL,
		IdempotencyTTL:  cfg.Ledger.IdempotencyTTL,
		ConflictRetries: cfg.Ledger.ConflictRetries,
	}
	invoiceService := services.NewInvoiceService(store, resolver, cache, m, log, opts)
	paymentService := services.NewPaymentService(store, cache, m, log, opts)
	settingsService := services.NewSettingsService(store, log)

	h := &handlers.Handlers{
		Invoices: handlers.NewInvoiceHandlers(invoiceService, log),
		Payments: handlers.NewPaymentHandlers(paymentService, invoiceService, log),
		Settings: handlers.NewSettingsHandlers(settingsService, log),
		Health:   handlers.NewHealthHandlers(store, cache, cfg.Version),
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = common.NewRequestValidator()
	e.Pre(echoMiddleware.RemoveTrailingSlash())
	e.Use(echoMiddleware.RequestID())
	e.Use(middleware.RequestLogger(log, m))
	e.Use(echoMiddleware.Recover())

	h.RegisterHealth(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	var guards []echo.MiddlewareFunc
	if cfg.Auth.JWTSecret != "" {
		guards = append(guards, middleware.JWTMiddleware(cfg.Auth.JWTSecret))
	} else {
		log.Warn("auth.jwt_secret not set, API is unauthenticated")
	}
	versions := middleware.NewVersionMiddleware()
	h.RegisterAPI(versions.VersionRoute(e, apiVersion, guards...))

	var scheduler *background.JobScheduler
	if cfg.Jobs.Enabled {
		sweep := jobs.NewOverdueSweep(invoiceService, m, log, time.Minute)
		scheduler, err = background.NewJobScheduler(sweep, cfg.Jobs.OverdueSweepInterval, log)
		if err != nil {
			return err
		}
		scheduler.Start()
	}

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      e,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("bizledger server starting",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version),
			zap.String("storage", cfg.Storage.Driver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if scheduler != nil {
		if err := scheduler.Stop(); err != nil {
			log.Warn("scheduler shutdown", zap.Error(err))
		}
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}

// openStore returns the ledger store for the configured driver along with its
// line item resolver and a close func.
func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (repositories.LedgerStore, repositories.LineItemRepository, func(), error) {
	if cfg.Storage.Driver == config.StorageMemory {
		log.Warn("using in-memory storage, data is lost on exit")
		store := repositories.NewMemoryStore(models.DefaultNumberingPolicy(cfg.Ledger.Currency))
		return store, repositories.NewStaticLineItemRepo(), func() {}, nil
	}

	pool, err := database.NewPool(ctx, database.PoolConfig{
		URL:             cfg.Database.URL,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, log)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := repositories.EnsureSchema(ctx, pool, cfg.Ledger.Currency); err != nil {
		pool.Close()
		return nil, nil, nil, err
	}

	store := repositories.NewPostgresStore(pool, cfg.Ledger.LockTimeout, log)
	return store, repositories.NewLineItemRepo(pool), pool.Close, nil
}
