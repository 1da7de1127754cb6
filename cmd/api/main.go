// Package main is the entry point for the Minha Floresta reconciliation API.
//
// It loads configuration, connects the Postgres pool and AWS clients, wires
// the webhook pipeline (ledger, materializer, issuer, renderer, sweeper) into
// the HTTP handlers, and serves until interrupted.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"minhafloresta/internal/api/handlers"
	"minhafloresta/internal/config"
	"minhafloresta/internal/core"
	"minhafloresta/internal/db"
	"minhafloresta/internal/external"
	"minhafloresta/internal/intent"
	"minhafloresta/internal/metrics"
	"minhafloresta/internal/reconcile"
	"minhafloresta/internal/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("minha floresta API starting",
		"environment", cfg.Environment,
		"port", cfg.Server.Port,
	)

	ctx := context.Background()

	pool, err := newPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}
	defer pool.Close()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return fmt.Errorf("loading AWS configuration: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.AWS.EndpointURL != "" {
			// LocalStack needs an explicit endpoint and path-style addressing.
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			o.UsePathStyle = true
		}
	})

	var recorder metrics.Recorder = metrics.NoopRecorder{}
	if cfg.Metrics.Enabled {
		recorder = metrics.NewCloudWatchRecorder(
			cloudwatch.NewFromConfig(awsCfg),
			cfg.Metrics.Namespace,
			logger,
		)
	}

	// Repositories.
	eventRepo := db.NewEventRepo(pool, logger)
	intentRepo := db.NewIntentRepo(pool, logger)
	purchaseRepo := db.NewPurchaseRepo(pool, logger)
	donationRepo := db.NewDonationRepo(pool, logger)
	certRepo := db.NewCertificateRepo(pool, logger)
	projectRepo := db.NewProjectRepo(pool, logger)

	// Pipeline stages.
	decoder := intent.NewDecoder(logger)
	materializer := reconcile.NewMaterializer(purchaseRepo, donationRepo, projectRepo, intentRepo, decoder, logger)
	issuer := reconcile.NewIssuer(purchaseRepo, certRepo, recorder, logger)
	store := storage.NewS3Store(s3Client, storage.S3StoreConfig{
		Bucket:        cfg.Storage.CertificateBucket,
		Region:        cfg.AWS.Region,
		PublicBaseURL: cfg.Storage.PublicBaseURL,
		UploadTimeout: cfg.Storage.UploadTimeout,
		Logger:        logger,
	})
	renderer := reconcile.NewRenderer(certRepo, purchaseRepo, projectRepo, store, recorder, cfg.Server.VerifyBaseURL, logger)
	sweeper := reconcile.NewSweeper(purchaseRepo, intentRepo, certRepo, materializer, issuer, renderer, logger)

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	webhookHandler := handlers.NewStripeWebhookHandler(
		&external.StripeVerifier{},
		cfg.Payments.StripeWebhookSecret,
		eventRepo,
		intentRepo,
		materializer,
		issuer,
		renderer,
		certRepo,
		recorder,
		logger,
	)
	certHandler := handlers.NewCertificateHandler(certRepo, projectRepo, renderer, logger)
	backfillHandler := handlers.NewBackfillHandler(sweeper, srv.Validator, logger)
	dashboardHandler := handlers.NewDashboardHandler(intentRepo, purchaseRepo, certRepo, projectRepo, decoder, logger)

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		func(r chi.Router) { webhookHandler.RegisterRoutes(r) },
		func(r chi.Router) { certHandler.RegisterRoutes(r) },
		func(r chi.Router) { backfillHandler.RegisterRoutes(r) },
		func(r chi.Router) { dashboardHandler.RegisterRoutes(r) },
	)
	srv.MountRoutes()

	return runHTTPServer(srv, cfg, logger)
}

// newPool builds the pgx connection pool from configuration.
func newPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConns)
	poolCfg.MinConns = int32(cfg.Database.MinConns)
	poolCfg.MaxConnLifetime = cfg.Database.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: false,
	})
	return slog.New(handler)
}
