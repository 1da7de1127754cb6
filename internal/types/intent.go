package types

// IntentKind discriminates the two shapes a decoded payment intent can take.
type IntentKind string

const (
	IntentPurchase IntentKind = "purchase"
	IntentDonation IntentKind = "donation"
)

// DecodedIntent is the tagged-variant result of metadata decoding. Exactly one
// of Purchase/Donation is non-nil, matching Kind. Downstream components
// operate on this typed value only, never on raw metadata keys.
type DecodedIntent struct {
	Kind     IntentKind
	Purchase *PurchaseIntent
	Donation *DonationIntent
}

// PurchaseIntent is a decoded certificate purchase: the items to materialize
// and the buyer identity. Items may legitimately be empty when metadata was
// malformed; the materializer then inserts the purchase header only.
type PurchaseIntent struct {
	Items      []ItemIntent
	BuyerEmail string
	UserID     string
}

// ItemIntent is one decoded line item. Quantity is area in m².
type ItemIntent struct {
	ProjectID      string `json:"project_id"`
	Quantity       int64  `json:"quantity"`
	UnitPriceCents *int64 `json:"price,omitempty"`
}

// DonationIntent is a decoded donation: target project (empty or "general"
// means unearmarked) and optional donor identity.
type DonationIntent struct {
	ProjectID   string
	DonorName   string
	DonorEmail  string
	DonorPhone  string
	Message     string
	IsAnonymous bool
}
