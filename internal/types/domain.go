// Package types holds the shared domain model for the Minha Floresta
// reconciliation service: the durable rows written by the pipeline, the
// decoded payment intents that flow between its stages, and the AppError
// taxonomy used at every boundary.
package types

import "time"

// ---------------------------------------------------------------------------
// Event Ledger
// ---------------------------------------------------------------------------

// PaymentEvent is one row of the append-only webhook event ledger.
// provider_event_id carries a unique constraint; a second delivery of the
// same provider event must observe an insert conflict and become a no-op.
// Rows are never deleted.
type PaymentEvent struct {
	ID              int64      `json:"id"`
	ProviderEventID string     `json:"provider_event_id"`
	Type            string     `json:"type"`
	Payload         []byte     `json:"-"`
	ReceivedAt      time.Time  `json:"received_at"`
	Processed       bool       `json:"processed"`
	ProcessedAt     *time.Time `json:"processed_at,omitempty"`
	Error           *string    `json:"error,omitempty"`
	RetryCount      int        `json:"retry_count"`
}

// PaymentIntentRecord mirrors the provider's payment intent, upserted on
// payment_intent.succeeded / checkout.session.completed. The provider ID is
// unique; the same intent never produces two rows.
type PaymentIntentRecord struct {
	ProviderPaymentIntentID string    `json:"provider_payment_intent_id"`
	AmountCents             int64     `json:"amount"`
	Currency                string    `json:"currency"`
	Status                  string    `json:"status"`
	Metadata                Metadata  `json:"metadata"`
	Email                   string    `json:"email"`
	PurchaseID              *string   `json:"purchase_id,omitempty"`
	DonationID              *string   `json:"donation_id,omitempty"`
	CreatedAt               time.Time `json:"created_at"`
}

// ---------------------------------------------------------------------------
// Purchases and donations
// ---------------------------------------------------------------------------

// Purchase is the durable header for a certificate purchase. Created at most
// once per provider_payment_intent_id (unique, nullable for legacy rows).
type Purchase struct {
	ID                      string    `json:"id"`
	BuyerEmail              string    `json:"buyer_email"`
	TotalAmountCents        int64     `json:"total_amount"`
	Currency                string    `json:"currency"`
	PaymentMethod           string    `json:"payment_method"`
	PaymentStatus           string    `json:"payment_status"`
	PaymentDate             time.Time `json:"payment_date"`
	ProviderPaymentIntentID *string   `json:"provider_payment_intent_id,omitempty"`
}

// PurchaseItem is one line of a purchase. Quantity doubles as conserved area:
// 1 unit = 1 m². Immutable after creation.
type PurchaseItem struct {
	ID             string `json:"id"`
	PurchaseID     string `json:"purchase_id"`
	ProjectID      string `json:"project_id"`
	Quantity       int64  `json:"quantity"`
	UnitPriceCents *int64 `json:"unit_price,omitempty"`
}

// Donation is a one-off gift to a social project. Created at most once per
// payment intent; materialization atomically increments the target project's
// funds_raised.
type Donation struct {
	ID                      string    `json:"id"`
	ProjectID               *string   `json:"project_id,omitempty"`
	DonorName               *string   `json:"donor_name,omitempty"`
	DonorEmail              *string   `json:"donor_email,omitempty"`
	DonorPhone              *string   `json:"donor_phone,omitempty"`
	Message                 *string   `json:"message,omitempty"`
	AmountCents             int64     `json:"amount"`
	Currency                string    `json:"currency"`
	Status                  string    `json:"status"`
	IsAnonymous             bool      `json:"is_anonymous"`
	ProviderPaymentIntentID string    `json:"provider_payment_intent_id"`
	CreatedAt               time.Time `json:"created_at"`
}

// DonationStatusPaid is the status a donation is materialized with.
const DonationStatusPaid = "paid"

// GeneralProjectID is the sentinel project selector for donations that are
// not earmarked for a concrete project. No fund increment happens for it.
const GeneralProjectID = "general"

// ---------------------------------------------------------------------------
// Certificates
// ---------------------------------------------------------------------------

// CertificateStatus enumerates the lifecycle states of a certificate.
type CertificateStatus string

const (
	CertStatusIssued    CertificateStatus = "issued"
	CertStatusActive    CertificateStatus = "active"
	CertStatusExpired   CertificateStatus = "expired"
	CertStatusCancelled CertificateStatus = "cancelled"
)

// CertValidityYears is the default validity period applied when a certificate
// carries no explicit expiry.
const CertValidityYears = 30

// Certificate represents conserved area purchased under one project of one
// purchase. At most one certificate exists per (purchase_id, project_id);
// certificate_number is globally unique. PDFURL is nil until the renderer has
// produced and uploaded the artifact.
type Certificate struct {
	ID                string            `json:"id"`
	PurchaseID        string            `json:"purchase_id"`
	ProjectID         string            `json:"project_id"`
	AreaSqm           int64             `json:"area_sqm"`
	CertificateNumber string            `json:"certificate_number"`
	CertificateType   string            `json:"certificate_type"`
	IssuedAt          time.Time         `json:"issued_at"`
	Status            CertificateStatus `json:"status"`
	PDFURL            *string           `json:"pdf_url,omitempty"`
	ExpiresAt         *time.Time        `json:"expires_at,omitempty"`
}

// ValidUntil computes the certificate's expiry: the stored expiry when
// present, otherwise issued_at plus the default validity period.
func (c *Certificate) ValidUntil() time.Time {
	if c.ExpiresAt != nil {
		return *c.ExpiresAt
	}
	return c.IssuedAt.AddDate(CertValidityYears, 0, 0)
}

// ---------------------------------------------------------------------------
// Projects
// ---------------------------------------------------------------------------

// SocialProject is the subset of the project entity the pipeline touches.
// FundsRaisedCents is mutated only via atomic increment, never read-modify-write.
type SocialProject struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	FundsRaisedCents int64  `json:"funds_raised"`
}
