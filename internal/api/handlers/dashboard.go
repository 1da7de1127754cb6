package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"minhafloresta/internal/core"
	"minhafloresta/internal/types"
)

type succeededIntentLister interface {
	ListSucceededByEmail(ctx context.Context, email string) ([]types.PaymentIntentRecord, error)
}

type dashboardPurchaseStore interface {
	GetByProviderPaymentIntentID(ctx context.Context, providerPaymentIntentID string) (*types.Purchase, error)
	ListItems(ctx context.Context, purchaseID string) ([]types.PurchaseItem, error)
}

type emailCertLister interface {
	ListByEmail(ctx context.Context, email string) ([]types.Certificate, error)
}

type intentClassifier interface {
	Decode(md types.Metadata, fallbackEmail string) *types.DecodedIntent
}

// DashboardHandler assembles a user's purchase, donation and certificate
// history from the intent mirror. Relational enrichment is best-effort: a
// purchase row that was never materialized still appears, just thinner.
type DashboardHandler struct {
	intents   succeededIntentLister
	purchases dashboardPurchaseStore
	certs     emailCertLister
	projects  projectNamer
	decoder   intentClassifier
	logger    *slog.Logger
}

// NewDashboardHandler wires the dashboard endpoint.
func NewDashboardHandler(
	intents succeededIntentLister,
	purchases dashboardPurchaseStore,
	certs emailCertLister,
	projects projectNamer,
	decoder intentClassifier,
	logger *slog.Logger,
) *DashboardHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DashboardHandler{
		intents:   intents,
		purchases: purchases,
		certs:     certs,
		projects:  projects,
		decoder:   decoder,
		logger:    logger,
	}
}

// RegisterRoutes mounts the dashboard endpoint.
func (h *DashboardHandler) RegisterRoutes(r chi.Router) {
	r.Get("/dashboard", h.Handle)
}

// Handle builds the dashboard for the email in the query string.
func (h *DashboardHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if email == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "email query parameter is required", nil))
		return
	}
	if !strings.Contains(email, "@") {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidEmail, "email query parameter is not a valid address", nil))
		return
	}

	records, err := h.intents.ListSucceededByEmail(ctx, email)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	dashboard := types.Dashboard{
		Purchases:    []types.DashboardPurchase{},
		Donations:    []types.DashboardDonation{},
		Certificates: []types.Certificate{},
		Activity:     []types.ActivityEntry{},
	}

	for _, rec := range records {
		decoded := h.decoder.Decode(rec.Metadata, rec.Email)
		switch decoded.Kind {
		case types.IntentDonation:
			dashboard.Donations = append(dashboard.Donations, h.donationEntry(ctx, rec, decoded.Donation))
		default:
			dashboard.Purchases = append(dashboard.Purchases, h.purchaseEntry(ctx, rec))
		}
		dashboard.Activity = append(dashboard.Activity, types.ActivityEntry{
			Kind:        decoded.Kind,
			AmountCents: rec.AmountCents,
			Date:        rec.CreatedAt,
			Reference:   rec.ProviderPaymentIntentID,
		})
	}

	certs, err := h.certs.ListByEmail(ctx, email)
	if err != nil {
		h.logger.WarnContext(ctx, "failed to list certificates for dashboard",
			slog.String("error", err.Error()),
		)
	} else if certs != nil {
		dashboard.Certificates = certs
	}

	core.JSON(w, r, http.StatusOK, dashboard)
}

// purchaseEntry enriches one purchase intent with relational data when the
// purchase was materialized. Lookup failures thin the entry, never drop it.
func (h *DashboardHandler) purchaseEntry(ctx context.Context, rec types.PaymentIntentRecord) types.DashboardPurchase {
	entry := types.DashboardPurchase{
		ProviderPaymentIntentID: rec.ProviderPaymentIntentID,
		AmountCents:             rec.AmountCents,
		Currency:                rec.Currency,
		Date:                    rec.CreatedAt,
	}

	purchase, err := h.purchases.GetByProviderPaymentIntentID(ctx, rec.ProviderPaymentIntentID)
	if err != nil || purchase == nil {
		return entry
	}
	entry.PurchaseID = &purchase.ID

	items, err := h.purchases.ListItems(ctx, purchase.ID)
	if err != nil {
		h.logger.WarnContext(ctx, "failed to list purchase items for dashboard",
			slog.String("purchase_id", purchase.ID),
			slog.String("error", err.Error()),
		)
		return entry
	}
	for _, item := range items {
		entry.TotalAreaSqm += item.Quantity
		entry.ProjectNames = append(entry.ProjectNames, h.projects.GetName(ctx, item.ProjectID))
	}
	return entry
}

func (h *DashboardHandler) donationEntry(ctx context.Context, rec types.PaymentIntentRecord, di *types.DonationIntent) types.DashboardDonation {
	entry := types.DashboardDonation{
		ProviderPaymentIntentID: rec.ProviderPaymentIntentID,
		AmountCents:             rec.AmountCents,
		Currency:                rec.Currency,
		Date:                    rec.CreatedAt,
	}
	if di != nil && di.ProjectID != "" {
		entry.ProjectID = di.ProjectID
		if di.ProjectID != types.GeneralProjectID {
			entry.ProjectName = h.projects.GetName(ctx, di.ProjectID)
		}
	}
	return entry
}
