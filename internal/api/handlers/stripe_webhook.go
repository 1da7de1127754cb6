// Package handlers contains the HTTP handlers of the reconciliation API:
// the Stripe webhook intake, certificate rendering and verification, the
// admin backfill trigger, and the user dashboard.
package handlers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"minhafloresta/internal/core"
	"minhafloresta/internal/external"
	"minhafloresta/internal/metrics"
	"minhafloresta/internal/reconcile"
	"minhafloresta/internal/types"
)

// maxWebhookBodySize caps the webhook payload we are willing to read (64 KB).
// Stripe events are far smaller; anything bigger is not a legitimate event.
const maxWebhookBodySize = 64 * 1024

type eventLedger interface {
	RecordIfNew(ctx context.Context, providerEventID, eventType string, payload []byte) (bool, error)
	MarkProcessed(ctx context.Context, providerEventID string) error
	MarkFailed(ctx context.Context, providerEventID string, procErr error) error
}

type intentUpserter interface {
	Upsert(ctx context.Context, rec *types.PaymentIntentRecord) error
}

type intentMaterializer interface {
	Materialize(ctx context.Context, rec *types.PaymentIntentRecord) (*reconcile.MaterializeOutcome, error)
}

type certificateIssuer interface {
	EnsureCertificates(ctx context.Context, purchaseID string) (int, error)
}

type certificateRenderer interface {
	Render(ctx context.Context, certificateID string) (string, error)
}

type purchaseCertLister interface {
	ListByPurchase(ctx context.Context, purchaseID string) ([]types.Certificate, error)
}

// StripeWebhookHandler receives provider webhook events and drives them
// through the ledger and materialization pipeline. Once an event is in the
// ledger, the handler answers 200 regardless of processing outcome; the
// backfill sweep is the recovery path for failed events.
type StripeWebhookHandler struct {
	verifier      external.WebhookVerifier
	webhookSecret types.SecretString
	events        eventLedger
	intents       intentUpserter
	materializer  intentMaterializer
	issuer        certificateIssuer
	renderer      certificateRenderer
	certs         purchaseCertLister
	recorder      metrics.Recorder
	logger        *slog.Logger
}

// NewStripeWebhookHandler wires the webhook intake.
func NewStripeWebhookHandler(
	verifier external.WebhookVerifier,
	webhookSecret types.SecretString,
	events eventLedger,
	intents intentUpserter,
	materializer intentMaterializer,
	issuer certificateIssuer,
	renderer certificateRenderer,
	certs purchaseCertLister,
	recorder metrics.Recorder,
	logger *slog.Logger,
) *StripeWebhookHandler {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeWebhookHandler{
		verifier:      verifier,
		webhookSecret: webhookSecret,
		events:        events,
		intents:       intents,
		materializer:  materializer,
		issuer:        issuer,
		renderer:      renderer,
		certs:         certs,
		recorder:      recorder,
		logger:        logger,
	}
}

// RegisterRoutes mounts the webhook endpoint.
func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/stripe", h.Handle)
}

// Handle processes one webhook delivery. The trust boundary (signature
// verification) rejects with 4xx; everything after a successful ledger write
// answers 200 so the provider does not retry what the sweep can recover.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidJSON, "failed to read webhook body", err))
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	if signature == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeSignatureMissing, "missing Stripe-Signature header", nil))
		return
	}

	if err := h.verifier.Verify(payload, signature, h.webhookSecret.Unmask()); err != nil {
		h.logger.WarnContext(ctx, "webhook signature verification failed", slog.String("error", err.Error()))
		core.Error(w, r, types.NewAppError(types.ErrCodeSignatureInvalid, "invalid webhook signature", err))
		return
	}

	env, err := external.ParseEvent(payload)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	created, err := h.events.RecordIfNew(ctx, env.ID, env.Type, payload)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if !created {
		// A previous delivery owns this event. Acknowledge and stop.
		h.recorder.CountEvent(ctx, env.Type, metrics.OutcomeDuplicate)
		h.respondReceived(w, r)
		return
	}

	if procErr := h.process(ctx, env); procErr != nil {
		h.logger.ErrorContext(ctx, "webhook event processing failed",
			slog.String("event_id", env.ID),
			slog.String("event_type", env.Type),
			slog.String("error", procErr.Error()),
		)
		if markErr := h.events.MarkFailed(ctx, env.ID, procErr); markErr != nil {
			h.logger.ErrorContext(ctx, "failed to mark event as failed",
				slog.String("event_id", env.ID),
				slog.String("error", markErr.Error()),
			)
		}
		h.recorder.CountEvent(ctx, env.Type, metrics.OutcomeFailed)
		// Return 200 anyway to prevent Stripe from retrying; the backfill
		// sweep picks this event up from the ledger.
		h.respondReceived(w, r)
		return
	}

	if err := h.events.MarkProcessed(ctx, env.ID); err != nil {
		h.logger.ErrorContext(ctx, "failed to mark event as processed",
			slog.String("event_id", env.ID),
			slog.String("error", err.Error()),
		)
	}
	h.recorder.CountEvent(ctx, env.Type, metrics.OutcomeAccepted)
	h.respondReceived(w, r)
}

// process runs the materialization pipeline for one freshly recorded event.
func (h *StripeWebhookHandler) process(ctx context.Context, env *external.EventEnvelope) error {
	if env.Intent == nil {
		// Event type we acknowledge but do not materialize.
		h.logger.InfoContext(ctx, "ignoring unhandled event type",
			slog.String("event_id", env.ID),
			slog.String("event_type", env.Type),
		)
		return nil
	}

	if err := h.intents.Upsert(ctx, env.Intent); err != nil {
		return fmt.Errorf("upsert intent: %w", err)
	}

	if env.Intent.Status != "succeeded" {
		h.logger.InfoContext(ctx, "intent not succeeded, mirror updated only",
			slog.String("intent_id", env.Intent.ProviderPaymentIntentID),
			slog.String("status", env.Intent.Status),
		)
		return nil
	}

	outcome, err := h.materializer.Materialize(ctx, env.Intent)
	if err != nil {
		return fmt.Errorf("materialize: %w", err)
	}

	if outcome.Purchase == nil {
		return nil
	}

	if _, err := h.issuer.EnsureCertificates(ctx, outcome.Purchase.ID); err != nil {
		return fmt.Errorf("issue certificates: %w", err)
	}

	return h.renderPending(ctx, outcome.Purchase.ID)
}

// renderPending renders every certificate of the purchase that has no PDF
// yet. The first render failure is returned so the event is marked failed and
// the sweep finishes the rest.
func (h *StripeWebhookHandler) renderPending(ctx context.Context, purchaseID string) error {
	certs, err := h.certs.ListByPurchase(ctx, purchaseID)
	if err != nil {
		return fmt.Errorf("list certificates: %w", err)
	}
	for _, c := range certs {
		if c.PDFURL != nil {
			continue
		}
		if _, err := h.renderer.Render(ctx, c.ID); err != nil {
			return fmt.Errorf("render %s: %w", c.CertificateNumber, err)
		}
	}
	return nil
}

func (h *StripeWebhookHandler) respondReceived(w http.ResponseWriter, r *http.Request) {
	core.JSON(w, r, http.StatusOK, map[string]bool{"received": true})
}
