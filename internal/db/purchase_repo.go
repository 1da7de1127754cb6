package db

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"minhafloresta/internal/types"
)

// PurchaseRepo persists purchase headers and their line items.
//
// provider_payment_intent_id carries a unique index. CreateWithItems treats a
// violation on it as "a concurrent materializer already created this
// purchase" and returns the existing row instead of an error.
type PurchaseRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewPurchaseRepo creates a new PurchaseRepo backed by the given database
// connection (pool or transaction).
func NewPurchaseRepo(db DBTX, logger *slog.Logger) *PurchaseRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &PurchaseRepo{db: db, logger: logger}
}

// CreateWithItems inserts the purchase header followed by its items. On a
// unique violation of the payment intent link it loads and returns the
// already-existing purchase with created=false; the caller proceeds to
// certificate issuance either way.
//
// The header insert and item inserts are separate statements; run this on a
// pgx.Tx when atomicity across them matters. Item inserts after a fresh
// header cannot conflict (the purchase ID is new).
func (r *PurchaseRepo) CreateWithItems(ctx context.Context, p *types.Purchase, items []types.PurchaseItem) (purchase *types.Purchase, created bool, err error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.PaymentDate.IsZero() {
		p.PaymentDate = time.Now()
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO purchases (id, buyer_email, total_amount_cents, currency, payment_method, payment_status, payment_date, provider_payment_intent_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID,
		p.BuyerEmail,
		p.TotalAmountCents,
		p.Currency,
		p.PaymentMethod,
		p.PaymentStatus,
		p.PaymentDate,
		p.ProviderPaymentIntentID,
	)
	if err != nil {
		if isUniqueViolation(err) && p.ProviderPaymentIntentID != nil {
			existing, findErr := r.GetByProviderPaymentIntentID(ctx, *p.ProviderPaymentIntentID)
			if findErr != nil {
				return nil, false, findErr
			}
			r.logger.InfoContext(ctx, "purchase already materialized for payment intent",
				slog.String("purchase_id", existing.ID),
				slog.String("provider_payment_intent_id", *p.ProviderPaymentIntentID),
			)
			return existing, false, nil
		}
		return nil, false, types.NewAppError(types.ErrCodeInternalDB, "failed to insert purchase", err)
	}

	for i := range items {
		item := &items[i]
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		item.PurchaseID = p.ID

		_, err = r.db.Exec(ctx,
			`INSERT INTO purchase_items (id, purchase_id, project_id, quantity, unit_price_cents)
			 VALUES ($1, $2, $3, $4, $5)`,
			item.ID,
			item.PurchaseID,
			item.ProjectID,
			item.Quantity,
			item.UnitPriceCents,
		)
		if err != nil {
			return nil, false, types.NewAppError(types.ErrCodeInternalDB, "failed to insert purchase item", err)
		}
	}

	return p, true, nil
}

// Get loads a purchase header by ID.
func (r *PurchaseRepo) Get(ctx context.Context, purchaseID string) (*types.Purchase, error) {
	p, err := r.scanOne(r.db.QueryRow(ctx,
		`SELECT id, buyer_email, total_amount_cents, currency, payment_method, payment_status, payment_date, provider_payment_intent_id
		 FROM purchases
		 WHERE id = $1`,
		purchaseID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundPurchase, "purchase not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load purchase", err)
	}
	return p, nil
}

// GetByProviderPaymentIntentID loads the purchase materialized from the given
// payment intent, if any.
func (r *PurchaseRepo) GetByProviderPaymentIntentID(ctx context.Context, providerPaymentIntentID string) (*types.Purchase, error) {
	p, err := r.scanOne(r.db.QueryRow(ctx,
		`SELECT id, buyer_email, total_amount_cents, currency, payment_method, payment_status, payment_date, provider_payment_intent_id
		 FROM purchases
		 WHERE provider_payment_intent_id = $1`,
		providerPaymentIntentID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundPurchase, "purchase not found for payment intent", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load purchase by payment intent", err)
	}
	return p, nil
}

// ListItems returns the line items of a purchase in insertion order.
func (r *PurchaseRepo) ListItems(ctx context.Context, purchaseID string) ([]types.PurchaseItem, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, purchase_id, project_id, quantity, unit_price_cents
		 FROM purchase_items
		 WHERE purchase_id = $1
		 ORDER BY id`,
		purchaseID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list purchase items", err)
	}
	defer rows.Close()

	var items []types.PurchaseItem
	for rows.Next() {
		var it types.PurchaseItem
		if err := rows.Scan(&it.ID, &it.PurchaseID, &it.ProjectID, &it.Quantity, &it.UnitPriceCents); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan purchase item", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate purchase items", err)
	}

	return items, nil
}

// ListByEmail returns all purchases for the email, newest first. Email
// matching is case-insensitive.
func (r *PurchaseRepo) ListByEmail(ctx context.Context, email string) ([]types.Purchase, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, buyer_email, total_amount_cents, currency, payment_method, payment_status, payment_date, provider_payment_intent_id
		 FROM purchases
		 WHERE LOWER(buyer_email) = LOWER($1)
		 ORDER BY payment_date DESC`,
		email,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list purchases by email", err)
	}
	defer rows.Close()

	return r.scanMany(rows)
}

// ListRecent returns purchases whose payment date falls within the last
// withinDays days, newest first, capped at limit. The backfill sweep uses
// this for its recent-purchases mode.
func (r *PurchaseRepo) ListRecent(ctx context.Context, withinDays, limit int) ([]types.Purchase, error) {
	cutoff := time.Now().AddDate(0, 0, -withinDays)
	rows, err := r.db.Query(ctx,
		`SELECT id, buyer_email, total_amount_cents, currency, payment_method, payment_status, payment_date, provider_payment_intent_id
		 FROM purchases
		 WHERE payment_date >= $1
		 ORDER BY payment_date DESC
		 LIMIT $2`,
		cutoff,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list recent purchases", err)
	}
	defer rows.Close()

	return r.scanMany(rows)
}

func (r *PurchaseRepo) scanOne(row pgx.Row) (*types.Purchase, error) {
	var p types.Purchase
	err := row.Scan(
		&p.ID,
		&p.BuyerEmail,
		&p.TotalAmountCents,
		&p.Currency,
		&p.PaymentMethod,
		&p.PaymentStatus,
		&p.PaymentDate,
		&p.ProviderPaymentIntentID,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PurchaseRepo) scanMany(rows pgx.Rows) ([]types.Purchase, error) {
	var purchases []types.Purchase
	for rows.Next() {
		var p types.Purchase
		if err := rows.Scan(
			&p.ID,
			&p.BuyerEmail,
			&p.TotalAmountCents,
			&p.Currency,
			&p.PaymentMethod,
			&p.PaymentStatus,
			&p.PaymentDate,
			&p.ProviderPaymentIntentID,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan purchase", err)
		}
		purchases = append(purchases, p)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate purchases", err)
	}
	return purchases, nil
}
