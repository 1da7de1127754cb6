// Package reconcile implements the payment-to-certificate pipeline: turning
// mirrored payment intents into purchases and donations, issuing
// certificates for purchased area, rendering their PDF artifacts, and
// sweeping up anything a partial failure left behind.
//
// Every operation here is idempotent. The webhook path is not atomic across
// its stages, so each stage must be safe to re-enter with whatever state a
// previous attempt left.
package reconcile

import (
	"context"
	"log/slog"

	"minhafloresta/internal/types"
)

// Narrow data-access interfaces, satisfied by the db package repositories.

type purchaseCreator interface {
	CreateWithItems(ctx context.Context, p *types.Purchase, items []types.PurchaseItem) (*types.Purchase, bool, error)
}

type donationCreator interface {
	Create(ctx context.Context, d *types.Donation) (*types.Donation, bool, error)
}

type fundAdder interface {
	AddFunds(ctx context.Context, projectID string, amountCents int64) error
}

type intentLinker interface {
	LinkPurchase(ctx context.Context, providerPaymentIntentID, purchaseID string) error
	LinkDonation(ctx context.Context, providerPaymentIntentID, donationID string) error
}

type intentDecoder interface {
	Decode(md types.Metadata, fallbackEmail string) *types.DecodedIntent
}

// MaterializeOutcome reports what a materialization produced. Exactly one of
// Purchase/Donation is set. Created is false when a concurrent run or an
// earlier attempt already owned the row.
type MaterializeOutcome struct {
	Purchase *types.Purchase
	Donation *types.Donation
	Created  bool
}

// Materializer converts a succeeded payment intent into its durable domain
// rows. Idempotency lives at the row level: the unique index on
// provider_payment_intent_id decides ownership, so webhook delivery racing a
// backfill sweep is safe.
type Materializer struct {
	purchases purchaseCreator
	donations donationCreator
	projects  fundAdder
	intents   intentLinker
	decoder   intentDecoder
	logger    *slog.Logger
}

// NewMaterializer wires a Materializer.
func NewMaterializer(
	purchases purchaseCreator,
	donations donationCreator,
	projects fundAdder,
	intents intentLinker,
	decoder intentDecoder,
	logger *slog.Logger,
) *Materializer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Materializer{
		purchases: purchases,
		donations: donations,
		projects:  projects,
		intents:   intents,
		decoder:   decoder,
		logger:    logger,
	}
}

// Materialize decodes the intent's metadata and creates the purchase or
// donation it describes. Re-running for an already-materialized intent
// returns the existing row with Created=false.
func (m *Materializer) Materialize(ctx context.Context, rec *types.PaymentIntentRecord) (*MaterializeOutcome, error) {
	decoded := m.decoder.Decode(rec.Metadata, rec.Email)

	switch decoded.Kind {
	case types.IntentDonation:
		return m.materializeDonation(ctx, rec, decoded.Donation)
	default:
		return m.materializePurchase(ctx, rec, decoded.Purchase)
	}
}

func (m *Materializer) materializePurchase(ctx context.Context, rec *types.PaymentIntentRecord, pi *types.PurchaseIntent) (*MaterializeOutcome, error) {
	intentID := rec.ProviderPaymentIntentID
	purchase := &types.Purchase{
		BuyerEmail:              pi.BuyerEmail,
		TotalAmountCents:        rec.AmountCents,
		Currency:                rec.Currency,
		PaymentMethod:           "stripe",
		PaymentStatus:           "paid",
		PaymentDate:             rec.CreatedAt,
		ProviderPaymentIntentID: &intentID,
	}

	items := make([]types.PurchaseItem, 0, len(pi.Items))
	for _, it := range pi.Items {
		items = append(items, types.PurchaseItem{
			ProjectID:      it.ProjectID,
			Quantity:       it.Quantity,
			UnitPriceCents: it.UnitPriceCents,
		})
	}
	if len(items) == 0 {
		m.logger.WarnContext(ctx, "purchase intent decoded without items, inserting header only",
			slog.String("provider_payment_intent_id", intentID),
		)
	}

	created, wasNew, err := m.purchases.CreateWithItems(ctx, purchase, items)
	if err != nil {
		return nil, err
	}

	if err := m.intents.LinkPurchase(ctx, intentID, created.ID); err != nil {
		// The purchase exists; a stale link only costs the sweep a redundant pass.
		m.logger.WarnContext(ctx, "failed to link purchase to payment intent",
			slog.String("purchase_id", created.ID),
			slog.String("provider_payment_intent_id", intentID),
			slog.String("error", err.Error()),
		)
	}

	return &MaterializeOutcome{Purchase: created, Created: wasNew}, nil
}

func (m *Materializer) materializeDonation(ctx context.Context, rec *types.PaymentIntentRecord, di *types.DonationIntent) (*MaterializeOutcome, error) {
	donation := &types.Donation{
		AmountCents:             rec.AmountCents,
		Currency:                rec.Currency,
		Status:                  types.DonationStatusPaid,
		IsAnonymous:             di.IsAnonymous,
		ProviderPaymentIntentID: rec.ProviderPaymentIntentID,
	}
	if di.ProjectID != "" {
		donation.ProjectID = &di.ProjectID
	}
	if di.DonorName != "" {
		donation.DonorName = &di.DonorName
	}
	if di.DonorEmail != "" {
		donation.DonorEmail = &di.DonorEmail
	}
	if di.DonorPhone != "" {
		donation.DonorPhone = &di.DonorPhone
	}
	if di.Message != "" {
		donation.Message = &di.Message
	}

	created, wasNew, err := m.donations.Create(ctx, donation)
	if err != nil {
		return nil, err
	}

	// The fund increment belongs to the insert winner only; a duplicate run
	// must not double-count.
	if wasNew && di.ProjectID != "" && di.ProjectID != types.GeneralProjectID {
		if err := m.projects.AddFunds(ctx, di.ProjectID, rec.AmountCents); err != nil {
			m.logger.ErrorContext(ctx, "donation recorded but fund increment failed",
				slog.String("donation_id", created.ID),
				slog.String("project_id", di.ProjectID),
				slog.String("error", err.Error()),
			)
			return nil, err
		}
	}

	if err := m.intents.LinkDonation(ctx, rec.ProviderPaymentIntentID, created.ID); err != nil {
		m.logger.WarnContext(ctx, "failed to link donation to payment intent",
			slog.String("donation_id", created.ID),
			slog.String("error", err.Error()),
		)
	}

	return &MaterializeOutcome{Donation: created, Created: wasNew}, nil
}
