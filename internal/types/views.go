package types

import "time"

// ---------------------------------------------------------------------------
// Backfill
// ---------------------------------------------------------------------------

// BackfillParams selects the targets of a reconciliation sweep. Exactly one
// selector mode is honored per call, in priority order: PurchaseID, Email,
// RecentWithinDays, then the default recent-purchases window.
type BackfillParams struct {
	PurchaseID       string `json:"purchase_id,omitempty"`
	Email            string `json:"email,omitempty" validate:"omitempty,email"`
	ProcessRecent    bool   `json:"process_recent,omitempty"`
	RecentWithinDays int    `json:"recent_days,omitempty" validate:"omitempty,min=1,max=365"`
	Limit            int    `json:"limit,omitempty" validate:"omitempty,min=1,max=500"`
}

// BackfillResult is the per-target outcome of a sweep. Errors carries the
// collected per-stage failures for this target; a non-empty Errors never
// aborted the processing of sibling targets.
type BackfillResult struct {
	PurchaseID          string   `json:"purchase_id"`
	CertificatesCreated int      `json:"certificates_created"`
	PDFsGenerated       int      `json:"pdfs_generated"`
	Errors              []string `json:"errors,omitempty"`
}

// ---------------------------------------------------------------------------
// Verification
// ---------------------------------------------------------------------------

// CertificateVerification is the public verification view. Found=false is a
// normal, non-exceptional outcome; all other fields are zero in that case.
type CertificateVerification struct {
	Found             bool              `json:"found"`
	CertificateNumber string            `json:"certificate_number,omitempty"`
	ProjectID         string            `json:"project_id,omitempty"`
	ProjectName       string            `json:"project_name,omitempty"`
	AreaSqm           int64             `json:"area_sqm,omitempty"`
	Status            CertificateStatus `json:"status,omitempty"`
	IssuedAt          time.Time         `json:"issued_at,omitzero"`
	ValidUntil        time.Time         `json:"valid_until,omitzero"`
	PDFURL            *string           `json:"pdf_url,omitempty"`
}

// ---------------------------------------------------------------------------
// Dashboard
// ---------------------------------------------------------------------------

// DashboardPurchase is one purchase entry in a user's dashboard, enriched
// best-effort with relational purchase data when it exists.
type DashboardPurchase struct {
	ProviderPaymentIntentID string    `json:"provider_payment_intent_id"`
	AmountCents             int64     `json:"amount"`
	Currency                string    `json:"currency"`
	Date                    time.Time `json:"date"`
	PurchaseID              *string   `json:"purchase_id,omitempty"`
	TotalAreaSqm            int64     `json:"total_area_sqm,omitempty"`
	ProjectNames            []string  `json:"project_names,omitempty"`
}

// DashboardDonation is one donation entry in a user's dashboard.
type DashboardDonation struct {
	ProviderPaymentIntentID string    `json:"provider_payment_intent_id"`
	AmountCents             int64     `json:"amount"`
	Currency                string    `json:"currency"`
	Date                    time.Time `json:"date"`
	ProjectID               string    `json:"project_id,omitempty"`
	ProjectName             string    `json:"project_name,omitempty"`
}

// ActivityEntry is one row of the merged purchase/donation timeline.
type ActivityEntry struct {
	Kind        IntentKind `json:"kind"`
	AmountCents int64      `json:"amount"`
	Date        time.Time  `json:"date"`
	Reference   string     `json:"reference"`
}

// Dashboard aggregates a user's purchase, donation and certificate history.
// Assembly is best-effort: missing relational enrichment thins the view, it
// never fails it.
type Dashboard struct {
	Purchases    []DashboardPurchase `json:"purchases"`
	Donations    []DashboardDonation `json:"donations"`
	Certificates []Certificate       `json:"certificates"`
	Activity     []ActivityEntry     `json:"activity"`
}
