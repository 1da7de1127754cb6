package external

import (
	"encoding/json"
	"time"

	"minhafloresta/internal/types"
)

// EventEnvelope is the normalized view of a provider event that the pipeline
// consumes. Intent is nil for event types the pipeline does not materialize.
type EventEnvelope struct {
	ID     string
	Type   string
	Intent *types.PaymentIntentRecord
}

// Minimal projections of the Stripe wire objects. Only the fields the
// pipeline reads are declared; unknown fields are ignored.

type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type stripePaymentIntent struct {
	ID           string            `json:"id"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Status       string            `json:"status"`
	Metadata     map[string]string `json:"metadata"`
	ReceiptEmail string            `json:"receipt_email"`
	Created      int64             `json:"created"`
}

type stripeCheckoutSession struct {
	ID              string            `json:"id"`
	PaymentIntent   string            `json:"payment_intent"`
	AmountTotal     int64             `json:"amount_total"`
	Currency        string            `json:"currency"`
	PaymentStatus   string            `json:"payment_status"`
	Metadata        map[string]string `json:"metadata"`
	CustomerDetails struct {
		Email string `json:"email"`
	} `json:"customer_details"`
	Created int64 `json:"created"`
}

// ParseEvent decodes a raw webhook payload into the normalized envelope.
// Amounts stay in cents as the provider sends them.
func ParseEvent(payload []byte) (*EventEnvelope, error) {
	var ev stripeEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidJSON, "malformed provider event payload", err)
	}
	if ev.ID == "" || ev.Type == "" {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidJSON, "provider event missing id or type", nil)
	}

	env := &EventEnvelope{ID: ev.ID, Type: ev.Type}

	switch ev.Type {
	case EventPaymentIntentSucceeded:
		var pi stripePaymentIntent
		if err := json.Unmarshal(ev.Data.Object, &pi); err != nil {
			return nil, types.NewAppError(types.ErrCodeValidationInvalidJSON, "malformed payment_intent object", err)
		}
		env.Intent = &types.PaymentIntentRecord{
			ProviderPaymentIntentID: pi.ID,
			AmountCents:             pi.Amount,
			Currency:                pi.Currency,
			Status:                  pi.Status,
			Metadata:                types.Metadata(pi.Metadata),
			Email:                   pi.ReceiptEmail,
			CreatedAt:               unixOrNow(pi.Created),
		}

	case EventCheckoutSessionComplete:
		var cs stripeCheckoutSession
		if err := json.Unmarshal(ev.Data.Object, &cs); err != nil {
			return nil, types.NewAppError(types.ErrCodeValidationInvalidJSON, "malformed checkout.session object", err)
		}
		// Sessions reference the underlying intent; fall back to the session
		// ID for payment methods that complete without one.
		intentID := cs.PaymentIntent
		if intentID == "" {
			intentID = cs.ID
		}
		status := "succeeded"
		if cs.PaymentStatus != "paid" {
			status = cs.PaymentStatus
		}
		env.Intent = &types.PaymentIntentRecord{
			ProviderPaymentIntentID: intentID,
			AmountCents:             cs.AmountTotal,
			Currency:                cs.Currency,
			Status:                  status,
			Metadata:                types.Metadata(cs.Metadata),
			Email:                   cs.CustomerDetails.Email,
			CreatedAt:               unixOrNow(cs.Created),
		}
	}

	return env, nil
}

func unixOrNow(ts int64) time.Time {
	if ts <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(ts, 0).UTC()
}
