package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/wisbric/auditloop/internal/admin"
	"github.com/wisbric/auditloop/internal/adminauth"
	"github.com/wisbric/auditloop/internal/config"
	"github.com/wisbric/auditloop/internal/httpserver"
	"github.com/wisbric/auditloop/internal/platform"
	"github.com/wisbric/auditloop/internal/telemetry"
	"github.com/wisbric/auditloop/pkg/apikey"
	"github.com/wisbric/auditloop/pkg/auditrun"
	"github.com/wisbric/auditloop/pkg/idempotency"
	"github.com/wisbric/auditloop/pkg/intake"
	"github.com/wisbric/auditloop/pkg/job"
	"github.com/wisbric/auditloop/pkg/opsnotify"
	"github.com/wisbric/auditloop/pkg/progress"
	"github.com/wisbric/auditloop/pkg/quota"
	"github.com/wisbric/auditloop/pkg/tenant"
	"github.com/wisbric/auditloop/pkg/webhook"
	"github.com/wisbric/auditloop/pkg/worker"
)

// Run is the main application entry point. It reads config, connects to
// infrastructure, and starts the appropriate mode (api or worker).
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting auditloop",
		"mode", cfg.Mode,
		"listen", cfg.ListenAddr(),
	)

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	metricsReg := telemetry.NewRegistry()

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, logger, db, rdb, metricsReg)
	case "worker":
		return runWorker(ctx, cfg, logger, db, rdb, metricsReg)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

func runAPI(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry) error {
	tenantStore := tenant.NewStore(db)
	quotaStore := quota.NewStore(db)
	quotaSvc := quota.NewService(quotaStore, telemetry.QuotaRejectionsTotal)
	jobStore := job.NewStore(db)
	webhookStore := webhook.NewPGStore(db)
	idemCache := idempotency.NewCache(rdb, logger, telemetry.IdempotencyHitsTotal)
	progressSink := progress.NewSink(db, rdb, logger)
	apikeySvc := apikey.NewService(db, logger)

	notifier := opsnotify.New(cfg.SlackBotToken, cfg.SlackOpsChannel, logger)
	if notifier.IsEnabled() {
		logger.Info("ops notifications enabled", "channel", cfg.SlackOpsChannel)
	} else {
		logger.Info("ops notifications disabled (SLACK_BOT_TOKEN not set)")
	}

	webhookEngine := webhook.NewEngine(webhookStore, nil, logger, notifier, telemetry.WebhookDeliveriesTotal)

	srv := httpserver.NewServer(cfg, logger, db, rdb, metricsReg, apikeySvc)

	// Tenant-authenticated audit submission and webhook subscription surface.
	auditSvc := intake.NewAuditService(db, jobStore, quotaSvc, idemCache, progressSink, webhookEngine, logger)
	auditHandler := intake.NewAuditHandler(logger, auditSvc)
	srv.APIRouter.Mount("/audits", auditHandler.Routes())

	webhookSvc := intake.NewWebhookService(webhookStore, webhookEngine, nil, logger)
	webhookHandler := intake.NewWebhookHandler(logger, webhookSvc)
	srv.APIRouter.Mount("/webhooks", webhookHandler.Routes())

	// Operator-facing admin surface: tenant provisioning, tier/quota
	// management, API key issuance. Bcrypt-guarded, never tenant-authenticated.
	if cfg.AdminPasswordHash == "" {
		logger.Warn("ADMIN_PASSWORD_HASH not set, admin routes will reject all requests")
	}
	adminLimiter := adminauth.NewRateLimiter(rdb, 10, 15*time.Minute)
	apikeyHandler := apikey.NewHandler(logger, db)
	adminHandler := admin.New(logger, tenantStore, quotaSvc, apikeyHandler)
	srv.Router.Route("/admin", func(r chi.Router) {
		r.Use(adminauth.RequireAdmin(cfg.AdminPasswordHash, adminLimiter, logger))
		r.Mount("/", adminHandler.Routes())
	})

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry) error {
	logger.Info("worker started", "worker_id", cfg.WorkerID)

	webhookStore := webhook.NewPGStore(db)
	notifier := opsnotify.New(cfg.SlackBotToken, cfg.SlackOpsChannel, logger)
	webhookEngine := webhook.NewEngine(webhookStore, nil, logger, notifier, telemetry.WebhookDeliveriesTotal)
	progressSink := progress.NewSink(db, rdb, logger)

	registry := worker.NewRegistry()
	registry.Register("full_audit", auditrun.NewFullAuditHandler(db, progressSink, webhookEngine))
	registry.Register("hello_audit", auditrun.NewHelloAuditHandler(db, progressSink))
	registry.Register("competitor_audit", auditrun.NewCompetitorAuditHandler(db, progressSink, webhookEngine))

	runtime := worker.NewRuntime(db, registry, webhookEngine, worker.Config{
		WorkerID:             cfg.WorkerID,
		PollInterval:         cfg.WorkerPollInterval,
		LeaseSeconds:         cfg.WorkerLeaseSeconds,
		WebhookRetryInterval: cfg.WebhookRetryInterval,
	}, logger, notifier, worker.Metrics{
		JobsClaimed:   telemetry.JobsClaimedTotal,
		JobsCompleted: telemetry.JobsCompletedTotal,
		JobRetries:    telemetry.JobRetriesTotal,
		ClaimDuration: telemetry.JobClaimDuration,
	})

	runtime.Run(ctx)
	return nil
}
