// Package main implements the reconcile CLI tool for running pipeline
// maintenance tasks directly, without going through the HTTP API.
//
// This tool is intended for local development, manual backfilling, and
// operational debugging.
//
// Usage:
//
//	go run ./cmd/tools/reconcile --task=backfill --email=ana@example.com
//	go run ./cmd/tools/reconcile --task=backfill --purchase-id=<uuid>
//	go run ./cmd/tools/reconcile --task=verify --number=MF-ABC123
//	go run ./cmd/tools/reconcile --task=archive-ledger --older-than-days=90
//	go run ./cmd/tools/reconcile --list
//
// The tool reads DATABASE_URL and the AWS settings from environment variables
// (or a .env file via the config loader).
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/klauspost/compress/gzip"

	"minhafloresta/internal/config"
	"minhafloresta/internal/db"
	"minhafloresta/internal/intent"
	"minhafloresta/internal/metrics"
	"minhafloresta/internal/reconcile"
	"minhafloresta/internal/storage"
	"minhafloresta/internal/types"
)

// validTasks maps task names to their descriptions for --list output.
var validTasks = map[string]string{
	"backfill":       "Re-run materialization, issuance and rendering for selected purchases",
	"verify":         "Look up a certificate by number and print its verification state",
	"archive-ledger": "Compress processed webhook events and upload them to object storage",
}

// archiveBatchLimit bounds how many ledger rows one archive run exports.
const archiveBatchLimit = 5000

func main() {
	taskFlag := flag.String("task", "", "Task to execute (backfill, verify, archive-ledger)")
	purchaseFlag := flag.String("purchase-id", "", "Backfill: target a single purchase")
	emailFlag := flag.String("email", "", "Backfill: target every purchase of one customer")
	recentDaysFlag := flag.Int("recent-days", 0, "Backfill: recency window in days (default 30)")
	limitFlag := flag.Int("limit", 0, "Backfill: maximum targets per run (default 100)")
	numberFlag := flag.String("number", "", "Verify: certificate number to look up")
	olderThanFlag := flag.Int("older-than-days", 90, "Archive-ledger: only events processed before this many days ago")
	listFlag := flag.Bool("list", false, "List all available tasks and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: reconcile [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Run reconciliation pipeline tasks directly.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nUse --list to see all available tasks.\n")
	}

	flag.Parse()

	if *listFlag {
		printAvailableTasks()
		return
	}

	if *taskFlag == "" {
		fmt.Fprintf(os.Stderr, "error: --task is required\n\n")
		flag.Usage()
		os.Exit(1)
	}
	if _, ok := validTasks[*taskFlag]; !ok {
		fmt.Fprintf(os.Stderr, "error: unknown task %q\n\n", *taskFlag)
		printAvailableTasks()
		os.Exit(1)
	}

	if err := run(*taskFlag, taskOptions{
		purchaseID:    *purchaseFlag,
		email:         *emailFlag,
		recentDays:    *recentDaysFlag,
		limit:         *limitFlag,
		number:        *numberFlag,
		olderThanDays: *olderThanFlag,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type taskOptions struct {
	purchaseID    string
	email         string
	recentDays    int
	limit         int
	number        string
	olderThanDays int
}

func printAvailableTasks() {
	names := make([]string, 0, len(validTasks))
	for name := range validTasks {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println("Available tasks:")
	for _, name := range names {
		fmt.Printf("  %-16s %s\n", name, validTasks[name])
	}
}

func run(task string, opts taskOptions) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx := context.Background()

	pool, err := pgxpool.New(ctx, cfg.Database.URL.Unmask())
	if err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}
	defer pool.Close()

	switch task {
	case "backfill":
		return runBackfill(ctx, cfg, pool, logger, opts)
	case "verify":
		return runVerify(ctx, pool, logger, opts)
	case "archive-ledger":
		return runArchiveLedger(ctx, cfg, pool, logger, opts)
	default:
		return fmt.Errorf("unknown task %q", task)
	}
}

func newObjectStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.ObjectStore, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS configuration: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			o.UsePathStyle = true
		}
	})
	return storage.NewS3Store(client, storage.S3StoreConfig{
		Bucket:        cfg.Storage.CertificateBucket,
		Region:        cfg.AWS.Region,
		PublicBaseURL: cfg.Storage.PublicBaseURL,
		UploadTimeout: cfg.Storage.UploadTimeout,
		Logger:        logger,
	}), nil
}

// runBackfill wires the full sweep stack and prints per-target results.
func runBackfill(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger *slog.Logger, opts taskOptions) error {
	store, err := newObjectStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	intentRepo := db.NewIntentRepo(pool, logger)
	purchaseRepo := db.NewPurchaseRepo(pool, logger)
	donationRepo := db.NewDonationRepo(pool, logger)
	certRepo := db.NewCertificateRepo(pool, logger)
	projectRepo := db.NewProjectRepo(pool, logger)

	decoder := intent.NewDecoder(logger)
	materializer := reconcile.NewMaterializer(purchaseRepo, donationRepo, projectRepo, intentRepo, decoder, logger)
	issuer := reconcile.NewIssuer(purchaseRepo, certRepo, metrics.NoopRecorder{}, logger)
	renderer := reconcile.NewRenderer(certRepo, purchaseRepo, projectRepo, store, metrics.NoopRecorder{}, cfg.Server.VerifyBaseURL, logger)
	sweeper := reconcile.NewSweeper(purchaseRepo, intentRepo, certRepo, materializer, issuer, renderer, logger)

	results, err := sweeper.Backfill(ctx, types.BackfillParams{
		PurchaseID:       opts.purchaseID,
		Email:            opts.email,
		RecentWithinDays: opts.recentDays,
		Limit:            opts.limit,
	})
	if err != nil {
		return err
	}

	return printJSON(map[string]any{
		"processed": len(results),
		"results":   results,
	})
}

// runVerify prints the verification view for one certificate number.
func runVerify(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger, opts taskOptions) error {
	if opts.number == "" {
		return fmt.Errorf("--number is required for task verify")
	}

	certRepo := db.NewCertificateRepo(pool, logger)
	projectRepo := db.NewProjectRepo(pool, logger)

	cert, err := certRepo.GetByNumber(ctx, opts.number)
	if err != nil {
		return err
	}

	return printJSON(types.CertificateVerification{
		Found:             true,
		CertificateNumber: cert.CertificateNumber,
		ProjectID:         cert.ProjectID,
		ProjectName:       projectRepo.GetName(ctx, cert.ProjectID),
		AreaSqm:           cert.AreaSqm,
		Status:            cert.Status,
		IssuedAt:          cert.IssuedAt,
		ValidUntil:        cert.ValidUntil(),
		PDFURL:            cert.PDFURL,
	})
}

// runArchiveLedger exports processed ledger rows older than the cutoff as a
// gzip-compressed NDJSON object. The ledger rows themselves are never
// deleted; the export exists for cold-storage analysis.
func runArchiveLedger(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger *slog.Logger, opts taskOptions) error {
	store, err := newObjectStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	eventRepo := db.NewEventRepo(pool, logger)
	cutoff := time.Now().UTC().AddDate(0, 0, -opts.olderThanDays)

	events, err := eventRepo.ListProcessedBefore(ctx, cutoff, archiveBatchLimit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		logger.Info("no processed events older than cutoff", "cutoff", cutoff)
		return printJSON(map[string]any{"archived": 0})
	}

	body, err := compressEvents(events)
	if err != nil {
		return fmt.Errorf("compressing ledger export: %w", err)
	}

	key := fmt.Sprintf("ledger/payment_events_%s.ndjson.gz", time.Now().UTC().Format("20060102T150405Z"))
	url, err := store.Put(ctx, key, "application/gzip", body)
	if err != nil {
		return fmt.Errorf("uploading ledger export: %w", err)
	}

	logger.Info("ledger export uploaded", "key", key, "events", len(events))
	return printJSON(map[string]any{
		"archived": len(events),
		"cutoff":   cutoff,
		"url":      url,
	})
}

// archivedEvent is the NDJSON line format of the ledger export. The raw
// provider payload is carried verbatim.
type archivedEvent struct {
	ID              int64           `json:"id"`
	ProviderEventID string          `json:"provider_event_id"`
	Type            string          `json:"type"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	ReceivedAt      time.Time       `json:"received_at"`
	ProcessedAt     *time.Time      `json:"processed_at,omitempty"`
	RetryCount      int             `json:"retry_count"`
}

func compressEvents(events []types.PaymentEvent) ([]byte, error) {
	var out bytes.Buffer
	w := gzip.NewWriter(&out)
	enc := json.NewEncoder(w)
	for _, ev := range events {
		line := archivedEvent{
			ID:              ev.ID,
			ProviderEventID: ev.ProviderEventID,
			Type:            ev.Type,
			Payload:         json.RawMessage(ev.Payload),
			ReceivedAt:      ev.ReceivedAt,
			ProcessedAt:     ev.ProcessedAt,
			RetryCount:      ev.RetryCount,
		}
		if !json.Valid(line.Payload) {
			line.Payload = nil
		}
		if err := enc.Encode(line); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
