// Package intent decodes the flat string metadata attached to payment
// objects into typed purchase or donation intents. The provider's metadata
// transport carries no nested objects, so structured data arrives either as
// a JSON string value or as ad-hoc scalar keys from older checkout flows.
package intent

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"

	"minhafloresta/internal/types"
)

// Decoder turns payment metadata into a DecodedIntent. Strategies are tried
// in fixed priority order; the first that applies wins.
type Decoder struct {
	logger *slog.Logger
}

// NewDecoder creates a Decoder.
func NewDecoder(logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Decoder{logger: logger}
}

// Decode resolves the metadata to a donation or purchase intent.
//
// Routing: an explicit type="donation", or presence of donation-only fields,
// selects the donation variant. Everything else is treated as a purchase,
// decoded by the first applicable strategy:
//  1. items_json: a serialized item list, parsed directly.
//  2. project_ids + item_count: a comma list, one quantity-1 item per ID.
//  3. Neither: a bare purchase with no items. The materializer still inserts
//     the purchase header so the payment is not lost over a metadata bug.
//
// fallbackEmail fills the buyer email when the metadata carries none; it is
// the billing email captured on the payment object itself.
func (d *Decoder) Decode(md types.Metadata, fallbackEmail string) *types.DecodedIntent {
	if isDonation(md) {
		return &types.DecodedIntent{
			Kind:     types.IntentDonation,
			Donation: decodeDonation(md),
		}
	}

	p := &types.PurchaseIntent{
		BuyerEmail: firstNonEmpty(md["email"], md["buyer_email"], fallbackEmail),
		UserID:     md["user_id"],
	}

	if raw, ok := md["items_json"]; ok && raw != "" {
		items, err := parseItemsJSON(raw)
		if err != nil {
			// Lenient by contract: keep the purchase, drop the items.
			d.logger.Warn("undecodable items_json in payment metadata",
				slog.String("error", err.Error()),
			)
		} else {
			p.Items = items
		}
		return &types.DecodedIntent{Kind: types.IntentPurchase, Purchase: p}
	}

	if ids, ok := md["project_ids"]; ok && ids != "" {
		p.Items = synthesizeFromIDList(ids, md["item_count"])
		return &types.DecodedIntent{Kind: types.IntentPurchase, Purchase: p}
	}

	return &types.DecodedIntent{Kind: types.IntentPurchase, Purchase: p}
}

// donationOnlyKeys identify a donation even without an explicit type field.
var donationOnlyKeys = []string{"donor_name", "donor_email", "donor_phone", "donation_message", "is_anonymous"}

func isDonation(md types.Metadata) bool {
	if strings.EqualFold(md["type"], "donation") {
		return true
	}
	// An explicit non-donation type wins over incidental keys.
	if md["type"] != "" {
		return false
	}
	for _, k := range donationOnlyKeys {
		if md[k] != "" {
			return true
		}
	}
	return false
}

func decodeDonation(md types.Metadata) *types.DonationIntent {
	anon, _ := strconv.ParseBool(md["is_anonymous"])
	return &types.DonationIntent{
		ProjectID:   md["project_id"],
		DonorName:   md["donor_name"],
		DonorEmail:  firstNonEmpty(md["donor_email"], md["email"]),
		DonorPhone:  md["donor_phone"],
		Message:     firstNonEmpty(md["donation_message"], md["message"]),
		IsAnonymous: anon,
	}
}

func parseItemsJSON(raw string) ([]types.ItemIntent, error) {
	var items []types.ItemIntent
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, err
	}
	// Drop entries that cannot yield a certificate.
	valid := items[:0]
	for _, it := range items {
		if it.ProjectID == "" || it.Quantity <= 0 {
			continue
		}
		valid = append(valid, it)
	}
	return valid, nil
}

// synthesizeFromIDList builds one quantity-1 item per project ID. item_count
// caps the list when present and parseable; the older checkout flow sent
// both and they occasionally disagreed.
func synthesizeFromIDList(ids, countStr string) []types.ItemIntent {
	parts := strings.Split(ids, ",")
	var items []types.ItemIntent
	for _, part := range parts {
		id := strings.TrimSpace(part)
		if id == "" {
			continue
		}
		items = append(items, types.ItemIntent{ProjectID: id, Quantity: 1})
	}
	if n, err := strconv.Atoi(strings.TrimSpace(countStr)); err == nil && n >= 0 && n < len(items) {
		items = items[:n]
	}
	return items
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
