package external

import (
	"github.com/stripe/stripe-go/v82/webhook"
)

// StripeVerifier implements WebhookVerifier using stripe-go's webhook
// signature verification: HMAC-SHA256 over the raw payload with the default
// timestamp tolerance against replayed deliveries.
type StripeVerifier struct{}

// Verify validates a Stripe webhook payload against the Stripe-Signature
// header and the endpoint's signing secret.
func (v *StripeVerifier) Verify(payload []byte, header string, secret string) error {
	_, err := webhook.ConstructEvent(payload, header, secret)
	return err
}
