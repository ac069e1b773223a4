package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/launchpath/launchpath/internal"
	"github.com/launchpath/launchpath/internal/billing"
	"github.com/launchpath/launchpath/internal/email"
	"github.com/launchpath/launchpath/internal/handler"
	"github.com/launchpath/launchpath/internal/identity"
	"github.com/launchpath/launchpath/internal/metrics"
	"github.com/launchpath/launchpath/internal/middleware"
	"github.com/launchpath/launchpath/internal/service"
	"github.com/launchpath/launchpath/internal/storage"
	"github.com/launchpath/launchpath/internal/store"
	"github.com/launchpath/launchpath/internal/worker"
)

func run() error {
	ctx := context.Background()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize database connection
	db, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	// Run migrations
	if err := internal.RunMigrations(db); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("database ready")

	// Initialize store
	st := store.NewPostgres(db)

	// Initialize object storage
	objects, err := newStorage(cfg, logger)
	if err != nil {
		return fmt.Errorf("storage initialization failed: %w", err)
	}

	// Initialize services
	accountService := service.NewAccountService(st, cfg.AccountAutoProvision, logger)
	entitlementService := service.NewEntitlementService(st, logger)
	exportService := service.NewExportService(st, logger)

	// Stripe billing is optional: without keys the webhook endpoint no-ops.
	var billingService billing.Service
	if cfg.StripeSecretKey != "" {
		billingService = billing.NewStripeService(cfg.StripeSecretKey, cfg.StripeWebhookSecret, billing.PriceConfig{
			PaidMonthlyPriceID:       cfg.StripePaidMonthlyPriceID,
			PaidYearlyPriceID:        cfg.StripePaidYearlyPriceID,
			EnterpriseMonthlyPriceID: cfg.StripeEnterpriseMonthlyPriceID,
			EnterpriseYearlyPriceID:  cfg.StripeEnterpriseYearlyPriceID,
			CreditPackPriceID:        cfg.StripeCreditPackPriceID,
			CreditPackSize:           int64(cfg.StripeCreditPackSize),
		})
		logger.Info("stripe billing enabled")
	} else {
		logger.Warn("stripe billing disabled: STRIPE_SECRET_KEY not set")
	}

	// Initialize middleware
	isSecure := cfg.Env != "development"
	resolver := identity.NewJWTResolver(identity.Config{
		Secret:   cfg.AuthJWTSecret,
		Issuer:   cfg.AuthIssuer,
		Audience: cfg.AuthAudience,
	}, logger)
	authMw := middleware.NewAuthMiddleware(resolver, accountService, logger)
	adminMw := middleware.NewAdminAuthMiddleware(cfg.AdminAPIKeyHashes, logger)
	loggingMw := middleware.NewRequestLoggingMiddleware(logger)
	consumeLimiter := middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow, logger)
	rateLimitMw := middleware.NewRateLimitMiddleware(consumeLimiter, logger)

	// Initialize handlers
	creditsHandler := handler.NewCreditsHandler(entitlementService, logger, isSecure)
	adminHandler := handler.NewAdminHandler(accountService, exportService, logger)
	webhookHandler := handler.NewWebhookHandler(billingService, accountService, st, logger)

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Credit endpoints. The check is a pure read; the consume endpoint is
	// rate limited to blunt cookie-clearing abuse.
	withAccount := middleware.Stack(authMw.WithAccount)
	mux.Handle("GET /api/credits", withAccount(http.HandlerFunc(creditsHandler.Check)))
	mux.Handle("POST /api/credits/use",
		middleware.Stack(authMw.WithAccount, rateLimitMw.Limit)(http.HandlerFunc(creditsHandler.Use)))

	// Stripe webhook (public, authenticated by signature)
	mux.HandleFunc("POST /webhooks/stripe", webhookHandler.HandleStripeWebhook)

	// Admin API behind the key middleware
	requireAdmin := middleware.Stack(adminMw.RequireKey)
	mux.Handle("GET /api/admin/accounts", requireAdmin(http.HandlerFunc(adminHandler.ListAccounts)))
	mux.Handle("GET /api/admin/accounts/{id}", requireAdmin(http.HandlerFunc(adminHandler.GetAccount)))
	mux.Handle("PUT /api/admin/accounts/{id}/tier", requireAdmin(http.HandlerFunc(adminHandler.SetTier)))
	mux.Handle("POST /api/admin/accounts/{id}/credits", requireAdmin(http.HandlerFunc(adminHandler.GrantCredits)))
	mux.Handle("POST /api/admin/exports", requireAdmin(http.HandlerFunc(adminHandler.TriggerExport)))
	mux.Handle("GET /api/admin/exports/{id}", requireAdmin(http.HandlerFunc(adminHandler.GetExport)))

	// Metrics endpoint behind optional basic auth
	metricsAuth := middleware.NewMetricsAuthMiddleware(cfg.MetricsUsername, cfg.MetricsPassword)
	mux.Handle("GET /metrics", metricsAuth.Handler(promhttp.Handler()))

	root := middleware.Stack(loggingMw.Handler, metrics.Middleware)(mux)

	// ==========================================================================
	// Start background worker
	// ==========================================================================

	if cfg.WorkerEnabled {
		var notifier email.EmailService
		if cfg.ExportNotifyEmail != "" {
			notifier = email.NewSMTPEmailService(email.SMTPConfig{
				Host:     cfg.SMTPHost,
				Port:     cfg.SMTPPort,
				Username: cfg.SMTPUsername,
				Password: cfg.SMTPPassword,
				From:     cfg.SMTPFrom,
				FromName: cfg.SMTPFromName,
			}, logger)
		}

		workerCfg := worker.DefaultConfig()
		workerCfg.Concurrency = cfg.WorkerConcurrency
		workerCfg.PollInterval = cfg.WorkerPollInterval
		workerCfg.JobTimeout = cfg.WorkerJobTimeout

		exporter := worker.NewExporter(st, objects, logger)
		w, err := worker.New(st, exporter, objects, notifier, cfg.ExportNotifyEmail, workerCfg, logger)
		if err != nil {
			return fmt.Errorf("worker initialization failed: %w", err)
		}
		w.Start(ctx)
		defer w.Stop()
	}

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: root,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("server started", "address", server.Addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
		}
	}()

	<-sigChan
	logger.Info("shutdown signal received, initiating graceful shutdown...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("graceful shutdown complete")
	return nil
}

// newStorage builds the configured storage provider.
func newStorage(cfg *internal.Config, logger *slog.Logger) (storage.Storage, error) {
	switch cfg.StorageProvider {
	case storage.ProviderR2:
		return storage.NewR2Storage(storage.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			PublicURL:       cfg.R2PublicURL,
		}, logger)
	default:
		return storage.NewLocalStorage(storage.LocalConfig{
			BasePath: cfg.LocalStoragePath,
			BaseURL:  cfg.LocalStorageURL,
		}, logger)
	}
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
