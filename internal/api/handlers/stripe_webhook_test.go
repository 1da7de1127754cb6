package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"minhafloresta/internal/external"
	"minhafloresta/internal/reconcile"
	"minhafloresta/internal/types"
)

// ---------------------------------------------------------------------------
// Mock Implementations
// ---------------------------------------------------------------------------

// mockWebhookVerifier implements external.WebhookVerifier for testing.
type mockWebhookVerifier struct {
	shouldFail bool
	err        error
}

func (m *mockWebhookVerifier) Verify(payload []byte, header string, secret string) error {
	if m.shouldFail {
		if m.err != nil {
			return m.err
		}
		return errors.New("signature verification failed")
	}
	return nil
}

// fakeEventLedger implements eventLedger with call recording.
type fakeEventLedger struct {
	duplicate bool
	recordErr error

	recorded  []string
	processed []string
	failed    map[string]string
}

func (f *fakeEventLedger) RecordIfNew(ctx context.Context, providerEventID, eventType string, payload []byte) (bool, error) {
	if f.recordErr != nil {
		return false, f.recordErr
	}
	f.recorded = append(f.recorded, providerEventID)
	return !f.duplicate, nil
}

func (f *fakeEventLedger) MarkProcessed(ctx context.Context, providerEventID string) error {
	f.processed = append(f.processed, providerEventID)
	return nil
}

func (f *fakeEventLedger) MarkFailed(ctx context.Context, providerEventID string, procErr error) error {
	if f.failed == nil {
		f.failed = make(map[string]string)
	}
	f.failed[providerEventID] = procErr.Error()
	return nil
}

// fakeIntentUpserter implements intentUpserter.
type fakeIntentUpserter struct {
	err   error
	calls []*types.PaymentIntentRecord
}

func (f *fakeIntentUpserter) Upsert(ctx context.Context, rec *types.PaymentIntentRecord) error {
	f.calls = append(f.calls, rec)
	return f.err
}

// fakeMaterializer implements intentMaterializer.
type fakeMaterializer struct {
	outcome *reconcile.MaterializeOutcome
	err     error
	calls   int
}

func (f *fakeMaterializer) Materialize(ctx context.Context, rec *types.PaymentIntentRecord) (*reconcile.MaterializeOutcome, error) {
	f.calls++
	return f.outcome, f.err
}

// fakeIssuer implements certificateIssuer.
type fakeIssuer struct {
	created int
	err     error
	calls   []string
}

func (f *fakeIssuer) EnsureCertificates(ctx context.Context, purchaseID string) (int, error) {
	f.calls = append(f.calls, purchaseID)
	return f.created, f.err
}

// fakeRenderer implements certificateRenderer.
type fakeRenderer struct {
	err   error
	calls []string
}

func (f *fakeRenderer) Render(ctx context.Context, certificateID string) (string, error) {
	f.calls = append(f.calls, certificateID)
	if f.err != nil {
		return "", f.err
	}
	return "https://cdn.example/" + certificateID + ".pdf", nil
}

// fakeCertLister implements purchaseCertLister.
type fakeCertLister struct {
	certs []types.Certificate
	err   error
}

func (f *fakeCertLister) ListByPurchase(ctx context.Context, purchaseID string) ([]types.Certificate, error) {
	return f.certs, f.err
}

// ---------------------------------------------------------------------------
// Test Helpers
// ---------------------------------------------------------------------------

type webhookFixture struct {
	verifier     *mockWebhookVerifier
	ledger       *fakeEventLedger
	intents      *fakeIntentUpserter
	materializer *fakeMaterializer
	issuer       *fakeIssuer
	renderer     *fakeRenderer
	certs        *fakeCertLister
	handler      *StripeWebhookHandler
}

func newWebhookFixture() *webhookFixture {
	f := &webhookFixture{
		verifier: &mockWebhookVerifier{},
		ledger:   &fakeEventLedger{},
		intents:  &fakeIntentUpserter{},
		materializer: &fakeMaterializer{
			outcome: &reconcile.MaterializeOutcome{
				Purchase: &types.Purchase{ID: "purchase_1"},
				Created:  true,
			},
		},
		issuer:   &fakeIssuer{created: 1},
		renderer: &fakeRenderer{},
		certs: &fakeCertLister{certs: []types.Certificate{
			{ID: "cert_1", CertificateNumber: "MF-A"},
		}},
	}
	f.handler = NewStripeWebhookHandler(
		f.verifier,
		"whsec_test_secret",
		f.ledger,
		f.intents,
		f.materializer,
		f.issuer,
		f.renderer,
		f.certs,
		nil,
		nil,
	)
	return f
}

// buildStripeEvent creates a JSON-encoded Stripe event for testing.
func buildStripeEvent(eventType string, eventID string, dataObject interface{}) []byte {
	objBytes, _ := json.Marshal(dataObject)
	event := map[string]interface{}{
		"id":   eventID,
		"type": eventType,
		"data": map[string]interface{}{
			"object": json.RawMessage(objBytes),
		},
	}
	b, _ := json.Marshal(event)
	return b
}

// buildPaymentIntentEvent creates a payment_intent.succeeded webhook event.
func buildPaymentIntentEvent(eventID, intentID string, metadata map[string]string) []byte {
	obj := map[string]interface{}{
		"id":            intentID,
		"amount":        5000,
		"currency":      "brl",
		"status":        "succeeded",
		"metadata":      metadata,
		"receipt_email": "ana@example.com",
		"created":       time.Now().Unix(),
	}
	return buildStripeEvent(external.EventPaymentIntentSucceeded, eventID, obj)
}

// doWebhookRequest performs an HTTP request to the webhook handler.
func doWebhookRequest(handler *StripeWebhookHandler, body []byte, sigHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(body))
	if sigHeader != "" {
		req.Header.Set("Stripe-Signature", sigHeader)
	}
	rr := httptest.NewRecorder()
	handler.Handle(rr, req)
	return rr
}

func assertReceivedBody(t *testing.T, rr *httptest.ResponseRecorder) {
	t.Helper()
	var resp map[string]bool
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp["received"] {
		t.Errorf("expected received=true, got body %s", rr.Body.String())
	}
}

// ---------------------------------------------------------------------------
// Tests: Signature Verification
// ---------------------------------------------------------------------------

func TestStripeWebhookHandler_Handle_MissingSignature(t *testing.T) {
	f := newWebhookFixture()

	body := buildPaymentIntentEvent("evt_1", "pi_1", map[string]string{"type": "purchase"})
	rr := doWebhookRequest(f.handler, body, "")

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected status %d, got %d", http.StatusUnauthorized, rr.Code)
	}

	var errResp map[string]map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	if code, ok := errResp["error"]["code"].(string); !ok || code != string(types.ErrCodeSignatureMissing) {
		t.Errorf("expected error code %q, got %q", types.ErrCodeSignatureMissing, code)
	}

	if len(f.ledger.recorded) != 0 {
		t.Errorf("expected no ledger writes for unsigned request, got %d", len(f.ledger.recorded))
	}
}

func TestStripeWebhookHandler_Handle_InvalidSignature(t *testing.T) {
	f := newWebhookFixture()
	f.verifier.shouldFail = true

	body := buildPaymentIntentEvent("evt_1", "pi_1", nil)
	rr := doWebhookRequest(f.handler, body, "t=12345,v1=bad")

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected status %d, got %d", http.StatusUnauthorized, rr.Code)
	}

	var errResp map[string]map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	if code, ok := errResp["error"]["code"].(string); !ok || code != string(types.ErrCodeSignatureInvalid) {
		t.Errorf("expected error code %q, got %q", types.ErrCodeSignatureInvalid, code)
	}
}

// ---------------------------------------------------------------------------
// Tests: Pipeline
// ---------------------------------------------------------------------------

func TestStripeWebhookHandler_Handle_PaymentIntentSucceeded(t *testing.T) {
	f := newWebhookFixture()

	body := buildPaymentIntentEvent("evt_1", "pi_1", map[string]string{
		"type":       "purchase",
		"items_json": `[{"project_id":"mata-atlantica","quantity":100}]`,
	})
	rr := doWebhookRequest(f.handler, body, "t=12345,v1=valid")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d; body: %s", http.StatusOK, rr.Code, rr.Body.String())
	}
	assertReceivedBody(t, rr)

	if len(f.intents.calls) != 1 {
		t.Fatalf("expected 1 Upsert call, got %d", len(f.intents.calls))
	}
	if f.intents.calls[0].ProviderPaymentIntentID != "pi_1" {
		t.Errorf("expected intent pi_1, got %q", f.intents.calls[0].ProviderPaymentIntentID)
	}
	if f.materializer.calls != 1 {
		t.Errorf("expected 1 Materialize call, got %d", f.materializer.calls)
	}
	if len(f.issuer.calls) != 1 || f.issuer.calls[0] != "purchase_1" {
		t.Errorf("expected EnsureCertificates for purchase_1, got %v", f.issuer.calls)
	}
	if len(f.renderer.calls) != 1 || f.renderer.calls[0] != "cert_1" {
		t.Errorf("expected Render for cert_1, got %v", f.renderer.calls)
	}
	if len(f.ledger.processed) != 1 || f.ledger.processed[0] != "evt_1" {
		t.Errorf("expected evt_1 marked processed, got %v", f.ledger.processed)
	}
}

func TestStripeWebhookHandler_Handle_DuplicateDelivery(t *testing.T) {
	f := newWebhookFixture()
	f.ledger.duplicate = true

	body := buildPaymentIntentEvent("evt_1", "pi_1", nil)
	rr := doWebhookRequest(f.handler, body, "t=12345,v1=valid")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	assertReceivedBody(t, rr)

	// Duplicate short-circuits before any pipeline work.
	if len(f.intents.calls) != 0 {
		t.Errorf("expected 0 Upsert calls for duplicate, got %d", len(f.intents.calls))
	}
	if f.materializer.calls != 0 {
		t.Errorf("expected 0 Materialize calls for duplicate, got %d", f.materializer.calls)
	}
	if len(f.ledger.processed) != 0 {
		t.Errorf("expected no MarkProcessed for duplicate, got %v", f.ledger.processed)
	}
}

func TestStripeWebhookHandler_Handle_ProcessingFailureStillReturns200(t *testing.T) {
	f := newWebhookFixture()
	f.materializer.outcome = nil
	f.materializer.err = errors.New("db connection refused")

	body := buildPaymentIntentEvent("evt_1", "pi_1", nil)
	rr := doWebhookRequest(f.handler, body, "t=12345,v1=valid")

	// The event is in the ledger; the sweep recovers it.
	if rr.Code != http.StatusOK {
		t.Errorf("expected status %d despite processing failure, got %d", http.StatusOK, rr.Code)
	}
	assertReceivedBody(t, rr)

	if _, ok := f.ledger.failed["evt_1"]; !ok {
		t.Error("expected evt_1 marked failed")
	}
	if len(f.ledger.processed) != 0 {
		t.Errorf("expected no MarkProcessed on failure, got %v", f.ledger.processed)
	}
}

func TestStripeWebhookHandler_Handle_RenderFailureMarksEventFailed(t *testing.T) {
	f := newWebhookFixture()
	f.renderer.err = errors.New("bucket unavailable")

	body := buildPaymentIntentEvent("evt_1", "pi_1", nil)
	rr := doWebhookRequest(f.handler, body, "t=12345,v1=valid")

	if rr.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	if msg, ok := f.ledger.failed["evt_1"]; !ok {
		t.Error("expected evt_1 marked failed")
	} else if msg == "" {
		t.Error("expected failure message recorded")
	}
}

func TestStripeWebhookHandler_Handle_SkipsCertificatesWithPDF(t *testing.T) {
	f := newWebhookFixture()
	pdfURL := "https://cdn.example/done.pdf"
	f.certs.certs = []types.Certificate{
		{ID: "cert_done", PDFURL: &pdfURL},
		{ID: "cert_pending"},
	}

	body := buildPaymentIntentEvent("evt_1", "pi_1", nil)
	rr := doWebhookRequest(f.handler, body, "t=12345,v1=valid")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	if len(f.renderer.calls) != 1 || f.renderer.calls[0] != "cert_pending" {
		t.Errorf("expected only cert_pending rendered, got %v", f.renderer.calls)
	}
}

func TestStripeWebhookHandler_Handle_NonSucceededIntentMirrorsOnly(t *testing.T) {
	f := newWebhookFixture()

	obj := map[string]interface{}{
		"id":       "pi_pending",
		"amount":   5000,
		"currency": "brl",
		"status":   "requires_payment_method",
	}
	body := buildStripeEvent(external.EventPaymentIntentSucceeded, "evt_1", obj)
	rr := doWebhookRequest(f.handler, body, "t=12345,v1=valid")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	if len(f.intents.calls) != 1 {
		t.Errorf("expected mirror upsert, got %d calls", len(f.intents.calls))
	}
	if f.materializer.calls != 0 {
		t.Errorf("expected no materialization for non-succeeded intent, got %d", f.materializer.calls)
	}
	if len(f.ledger.processed) != 1 {
		t.Errorf("expected event marked processed, got %v", f.ledger.processed)
	}
}

func TestStripeWebhookHandler_Handle_UnhandledEventType(t *testing.T) {
	f := newWebhookFixture()

	body := buildStripeEvent("charge.refunded", "evt_other", map[string]interface{}{})
	rr := doWebhookRequest(f.handler, body, "t=12345,v1=valid")

	if rr.Code != http.StatusOK {
		t.Errorf("expected status %d for unhandled event, got %d", http.StatusOK, rr.Code)
	}
	if len(f.ledger.recorded) != 1 {
		t.Errorf("expected unhandled event still recorded, got %d", len(f.ledger.recorded))
	}
	if len(f.ledger.processed) != 1 {
		t.Errorf("expected unhandled event marked processed, got %v", f.ledger.processed)
	}
	if len(f.intents.calls) != 0 {
		t.Errorf("expected 0 Upsert calls, got %d", len(f.intents.calls))
	}
}

// ---------------------------------------------------------------------------
// Tests: Invalid Payloads
// ---------------------------------------------------------------------------

func TestStripeWebhookHandler_Handle_InvalidJSON(t *testing.T) {
	f := newWebhookFixture()

	rr := doWebhookRequest(f.handler, []byte("not valid json"), "t=12345,v1=valid")

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status %d for invalid JSON, got %d", http.StatusBadRequest, rr.Code)
	}
	if len(f.ledger.recorded) != 0 {
		t.Errorf("expected no ledger write for unparseable payload, got %d", len(f.ledger.recorded))
	}
}

func TestStripeWebhookHandler_Handle_MissingEventID(t *testing.T) {
	f := newWebhookFixture()

	body := []byte(`{"type":"payment_intent.succeeded","data":{"object":{}}}`)
	rr := doWebhookRequest(f.handler, body, "t=12345,v1=valid")

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status %d for event without id, got %d", http.StatusBadRequest, rr.Code)
	}
}

// ---------------------------------------------------------------------------
// Tests: RegisterRoutes
// ---------------------------------------------------------------------------

func TestStripeWebhookHandler_RegisterRoutes(t *testing.T) {
	f := newWebhookFixture()

	r := chi.NewRouter()
	f.handler.RegisterRoutes(r)

	body := buildPaymentIntentEvent("evt_route", "pi_route", nil)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(body))
	req.Header.Set("Stripe-Signature", "t=12345,v1=valid")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status %d from registered route, got %d", http.StatusOK, rr.Code)
	}
}
