package reconcile

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"minhafloresta/internal/types"
)

// Sweep defaults. A sweep bounds its own work; callers tune via BackfillParams.
const (
	defaultRecentDays = 30
	defaultSweepLimit = 100
	renderParallelism = 4
)

type sweepPurchaseStore interface {
	Get(ctx context.Context, purchaseID string) (*types.Purchase, error)
	ListByEmail(ctx context.Context, email string) ([]types.Purchase, error)
	ListRecent(ctx context.Context, withinDays, limit int) ([]types.Purchase, error)
}

type sweepIntentStore interface {
	ListUnmaterializedByEmail(ctx context.Context, email string) ([]types.PaymentIntentRecord, error)
}

type sweepCertStore interface {
	ListByPurchase(ctx context.Context, purchaseID string) ([]types.Certificate, error)
}

type materializer interface {
	Materialize(ctx context.Context, rec *types.PaymentIntentRecord) (*MaterializeOutcome, error)
}

type issuer interface {
	EnsureCertificates(ctx context.Context, purchaseID string) (int, error)
}

type renderer interface {
	Render(ctx context.Context, certificateID string) (string, error)
}

// Sweeper repairs partial pipeline state: purchases missing from succeeded
// intents, certificates missing from purchases, and PDFs missing from
// certificates. It is the only recovery mechanism; the webhook path never
// retries on its own.
type Sweeper struct {
	purchases    sweepPurchaseStore
	intents      sweepIntentStore
	certs        sweepCertStore
	materializer materializer
	issuer       issuer
	renderer     renderer
	logger       *slog.Logger
}

// NewSweeper wires a Sweeper.
func NewSweeper(
	purchases sweepPurchaseStore,
	intents sweepIntentStore,
	certs sweepCertStore,
	m materializer,
	i issuer,
	r renderer,
	logger *slog.Logger,
) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		purchases:    purchases,
		intents:      intents,
		certs:        certs,
		materializer: m,
		issuer:       i,
		renderer:     r,
		logger:       logger,
	}
}

// Backfill resolves the target purchases for the selected mode and completes
// each one: ensure certificates, then render every certificate still missing
// a PDF. Per-target failures are collected into that target's result and
// never abort the sweep.
func (s *Sweeper) Backfill(ctx context.Context, params types.BackfillParams) ([]types.BackfillResult, error) {
	targets, err := s.resolveTargets(ctx, params)
	if err != nil {
		return nil, err
	}

	results := make([]types.BackfillResult, 0, len(targets))
	for _, purchaseID := range targets {
		results = append(results, s.processTarget(ctx, purchaseID))
	}
	return results, nil
}

// resolveTargets applies the selector priority: explicit purchase ID, then
// email, then the recency window.
func (s *Sweeper) resolveTargets(ctx context.Context, params types.BackfillParams) ([]string, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = defaultSweepLimit
	}

	switch {
	case params.PurchaseID != "":
		p, err := s.purchases.Get(ctx, params.PurchaseID)
		if err != nil {
			return nil, err
		}
		return []string{p.ID}, nil

	case params.Email != "":
		return s.resolveEmailTargets(ctx, params.Email, limit)

	default:
		days := params.RecentWithinDays
		if days <= 0 {
			days = defaultRecentDays
		}
		purchases, err := s.purchases.ListRecent(ctx, days, limit)
		if err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(purchases))
		for _, p := range purchases {
			ids = append(ids, p.ID)
		}
		return ids, nil
	}
}

// resolveEmailTargets materializes any succeeded intents of the email that
// never became purchases, then returns all of the email's purchases. A
// failed materialization is logged and skipped so one broken intent cannot
// block the rest of the account.
func (s *Sweeper) resolveEmailTargets(ctx context.Context, email string, limit int) ([]string, error) {
	pending, err := s.intents.ListUnmaterializedByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	for idx := range pending {
		rec := &pending[idx]
		if _, err := s.materializer.Materialize(ctx, rec); err != nil {
			s.logger.WarnContext(ctx, "backfill materialization failed",
				slog.String("provider_payment_intent_id", rec.ProviderPaymentIntentID),
				slog.String("error", err.Error()),
			)
		}
	}

	purchases, err := s.purchases.ListByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(purchases))
	for _, p := range purchases {
		if len(ids) >= limit {
			break
		}
		ids = append(ids, p.ID)
	}
	return ids, nil
}

// processTarget completes one purchase. Renders run with bounded parallelism
// since storage uploads dominate the latency of a sweep.
func (s *Sweeper) processTarget(ctx context.Context, purchaseID string) types.BackfillResult {
	result := types.BackfillResult{PurchaseID: purchaseID}

	created, err := s.issuer.EnsureCertificates(ctx, purchaseID)
	result.CertificatesCreated = created
	if err != nil {
		result.Errors = append(result.Errors, "issue: "+err.Error())
	}

	certs, err := s.certs.ListByPurchase(ctx, purchaseID)
	if err != nil {
		result.Errors = append(result.Errors, "list certificates: "+err.Error())
		return result
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(renderParallelism)

	for _, cert := range certs {
		if cert.PDFURL != nil {
			continue
		}
		cert := cert
		g.Go(func() error {
			if _, rerr := s.renderer.Render(gctx, cert.ID); rerr != nil {
				mu.Lock()
				result.Errors = append(result.Errors, "render "+cert.CertificateNumber+": "+rerr.Error())
				mu.Unlock()
				// Collected, not propagated; sibling renders continue.
				return nil
			}
			mu.Lock()
			result.PDFsGenerated++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return result
}
