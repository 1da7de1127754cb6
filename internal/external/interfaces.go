// Package external contains integrations with the payment provider. The rest
// of the pipeline consumes the narrow interfaces defined here, never the
// provider SDK directly.
package external

// WebhookVerifier validates a webhook payload against its signature header.
type WebhookVerifier interface {
	Verify(payload []byte, header string, secret string) error
}

// Stripe event types the pipeline materializes. Everything else is recorded
// in the ledger and marked processed without side effects.
const (
	EventPaymentIntentSucceeded  = "payment_intent.succeeded"
	EventCheckoutSessionComplete = "checkout.session.completed"
)

// IsMaterializable reports whether the event type drives purchase or
// donation creation.
func IsMaterializable(eventType string) bool {
	return eventType == EventPaymentIntentSucceeded || eventType == EventCheckoutSessionComplete
}
