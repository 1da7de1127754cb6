package db

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"minhafloresta/internal/types"
)

// IntentRepo mirrors the provider's payment intents locally. The mirror is
// what the backfill sweep scans when it has to reconstruct purchases for a
// customer whose webhook processing failed.
type IntentRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewIntentRepo creates a new IntentRepo backed by the given database
// connection (pool or transaction).
func NewIntentRepo(db DBTX, logger *slog.Logger) *IntentRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &IntentRepo{db: db, logger: logger}
}

// Upsert records or refreshes the local mirror of a payment intent. A second
// delivery for the same intent updates status and metadata in place; the
// purchase_id / donation_id links are preserved.
func (r *IntentRepo) Upsert(ctx context.Context, rec *types.PaymentIntentRecord) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO payment_intents (provider_payment_intent_id, amount_cents, currency, status, metadata, email, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW())
		 ON CONFLICT (provider_payment_intent_id) DO UPDATE
		 SET amount_cents = EXCLUDED.amount_cents,
		     currency = EXCLUDED.currency,
		     status = EXCLUDED.status,
		     metadata = EXCLUDED.metadata,
		     email = EXCLUDED.email`,
		rec.ProviderPaymentIntentID,
		rec.AmountCents,
		rec.Currency,
		rec.Status,
		rec.Metadata,
		rec.Email,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert payment intent", err)
	}
	return nil
}

// LinkPurchase stamps the purchase the intent materialized into.
func (r *IntentRepo) LinkPurchase(ctx context.Context, providerPaymentIntentID, purchaseID string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE payment_intents SET purchase_id = $1 WHERE provider_payment_intent_id = $2`,
		purchaseID,
		providerPaymentIntentID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to link purchase to payment intent", err)
	}
	return nil
}

// LinkDonation stamps the donation the intent materialized into.
func (r *IntentRepo) LinkDonation(ctx context.Context, providerPaymentIntentID, donationID string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE payment_intents SET donation_id = $1 WHERE provider_payment_intent_id = $2`,
		donationID,
		providerPaymentIntentID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to link donation to payment intent", err)
	}
	return nil
}

// ListUnmaterializedByEmail returns succeeded intents for the email that were
// never linked to a purchase or donation, oldest first. Email matching is
// case-insensitive.
func (r *IntentRepo) ListUnmaterializedByEmail(ctx context.Context, email string) ([]types.PaymentIntentRecord, error) {
	rows, err := r.db.Query(ctx,
		`SELECT provider_payment_intent_id, amount_cents, currency, status, metadata, email, purchase_id, donation_id, created_at
		 FROM payment_intents
		 WHERE LOWER(email) = LOWER($1)
		   AND status = 'succeeded'
		   AND purchase_id IS NULL
		   AND donation_id IS NULL
		 ORDER BY created_at ASC`,
		email,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list unmaterialized payment intents", err)
	}
	defer rows.Close()

	return scanIntents(rows)
}

// ListSucceededByEmail returns every succeeded intent for the email, newest
// first. The dashboard classifies and enriches these.
func (r *IntentRepo) ListSucceededByEmail(ctx context.Context, email string) ([]types.PaymentIntentRecord, error) {
	rows, err := r.db.Query(ctx,
		`SELECT provider_payment_intent_id, amount_cents, currency, status, metadata, email, purchase_id, donation_id, created_at
		 FROM payment_intents
		 WHERE LOWER(email) = LOWER($1)
		   AND status = 'succeeded'
		 ORDER BY created_at DESC`,
		email,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list payment intents by email", err)
	}
	defer rows.Close()

	return scanIntents(rows)
}

// Get loads a single payment intent mirror row. Returns a not-found AppError
// when the intent was never recorded.
func (r *IntentRepo) Get(ctx context.Context, providerPaymentIntentID string) (*types.PaymentIntentRecord, error) {
	var rec types.PaymentIntentRecord
	err := r.db.QueryRow(ctx,
		`SELECT provider_payment_intent_id, amount_cents, currency, status, metadata, email, purchase_id, donation_id, created_at
		 FROM payment_intents
		 WHERE provider_payment_intent_id = $1`,
		providerPaymentIntentID,
	).Scan(
		&rec.ProviderPaymentIntentID,
		&rec.AmountCents,
		&rec.Currency,
		&rec.Status,
		&rec.Metadata,
		&rec.Email,
		&rec.PurchaseID,
		&rec.DonationID,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load payment intent", err)
	}
	return &rec, nil
}

func scanIntents(rows pgx.Rows) ([]types.PaymentIntentRecord, error) {
	var records []types.PaymentIntentRecord
	for rows.Next() {
		var rec types.PaymentIntentRecord
		if err := rows.Scan(
			&rec.ProviderPaymentIntentID,
			&rec.AmountCents,
			&rec.Currency,
			&rec.Status,
			&rec.Metadata,
			&rec.Email,
			&rec.PurchaseID,
			&rec.DonationID,
			&rec.CreatedAt,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan payment intent", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate payment intents", err)
	}
	return records, nil
}
