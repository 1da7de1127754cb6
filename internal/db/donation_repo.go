package db

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"minhafloresta/internal/types"
)

// DonationRepo persists donations. provider_payment_intent_id is unique, so
// a concurrent materialization of the same intent yields exactly one row.
type DonationRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewDonationRepo creates a new DonationRepo backed by the given database
// connection (pool or transaction).
func NewDonationRepo(db DBTX, logger *slog.Logger) *DonationRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &DonationRepo{db: db, logger: logger}
}

// Create inserts the donation. On a unique violation of the payment intent
// link it returns the existing row with created=false.
func (r *DonationRepo) Create(ctx context.Context, d *types.Donation) (donation *types.Donation, created bool, err error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO donations (id, project_id, donor_name, donor_email, donor_phone, message, amount_cents, currency, status, is_anonymous, provider_payment_intent_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())`,
		d.ID,
		d.ProjectID,
		d.DonorName,
		d.DonorEmail,
		d.DonorPhone,
		d.Message,
		d.AmountCents,
		d.Currency,
		d.Status,
		d.IsAnonymous,
		d.ProviderPaymentIntentID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			existing, findErr := r.GetByProviderPaymentIntentID(ctx, d.ProviderPaymentIntentID)
			if findErr != nil {
				return nil, false, findErr
			}
			r.logger.InfoContext(ctx, "donation already materialized for payment intent",
				slog.String("donation_id", existing.ID),
				slog.String("provider_payment_intent_id", d.ProviderPaymentIntentID),
			)
			return existing, false, nil
		}
		return nil, false, types.NewAppError(types.ErrCodeInternalDB, "failed to insert donation", err)
	}

	return d, true, nil
}

// GetByProviderPaymentIntentID loads the donation materialized from the given
// payment intent, if any.
func (r *DonationRepo) GetByProviderPaymentIntentID(ctx context.Context, providerPaymentIntentID string) (*types.Donation, error) {
	var d types.Donation
	err := r.db.QueryRow(ctx,
		`SELECT id, project_id, donor_name, donor_email, donor_phone, message, amount_cents, currency, status, is_anonymous, provider_payment_intent_id, created_at
		 FROM donations
		 WHERE provider_payment_intent_id = $1`,
		providerPaymentIntentID,
	).Scan(
		&d.ID,
		&d.ProjectID,
		&d.DonorName,
		&d.DonorEmail,
		&d.DonorPhone,
		&d.Message,
		&d.AmountCents,
		&d.Currency,
		&d.Status,
		&d.IsAnonymous,
		&d.ProviderPaymentIntentID,
		&d.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "donation not found for payment intent", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load donation by payment intent", err)
	}
	return &d, nil
}

// ListByEmail returns donations made with the email, newest first. Anonymous
// donations are included; presentation decides what to show.
func (r *DonationRepo) ListByEmail(ctx context.Context, email string) ([]types.Donation, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, project_id, donor_name, donor_email, donor_phone, message, amount_cents, currency, status, is_anonymous, provider_payment_intent_id, created_at
		 FROM donations
		 WHERE LOWER(donor_email) = LOWER($1)
		 ORDER BY created_at DESC`,
		email,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list donations by email", err)
	}
	defer rows.Close()

	var donations []types.Donation
	for rows.Next() {
		var d types.Donation
		if err := rows.Scan(
			&d.ID,
			&d.ProjectID,
			&d.DonorName,
			&d.DonorEmail,
			&d.DonorPhone,
			&d.Message,
			&d.AmountCents,
			&d.Currency,
			&d.Status,
			&d.IsAnonymous,
			&d.ProviderPaymentIntentID,
			&d.CreatedAt,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan donation", err)
		}
		donations = append(donations, d)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate donations", err)
	}

	return donations, nil
}
