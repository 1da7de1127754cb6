package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"minhafloresta/internal/core"
	"minhafloresta/internal/types"
)

// fakeSweeper implements backfillSweeper.
type fakeSweeper struct {
	results []types.BackfillResult
	err     error
	calls   []types.BackfillParams
}

func (f *fakeSweeper) Backfill(ctx context.Context, params types.BackfillParams) ([]types.BackfillResult, error) {
	f.calls = append(f.calls, params)
	return f.results, f.err
}

func newBackfillRouter(h *BackfillHandler) *chi.Mux {
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func doBackfillRequest(h *BackfillHandler, body []byte) *httptest.ResponseRecorder {
	var req *http.Request
	if body == nil {
		req = httptest.NewRequest(http.MethodPost, "/admin/backfill", nil)
	} else {
		req = httptest.NewRequest(http.MethodPost, "/admin/backfill", bytes.NewReader(body))
	}
	rr := httptest.NewRecorder()
	newBackfillRouter(h).ServeHTTP(rr, req)
	return rr
}

func TestBackfillHandler_Handle_WithSelector(t *testing.T) {
	sweeper := &fakeSweeper{results: []types.BackfillResult{
		{PurchaseID: "purchase_1", CertificatesCreated: 2, PDFsGenerated: 2},
	}}
	h := NewBackfillHandler(sweeper, core.NewValidator(nil), nil)

	rr := doBackfillRequest(h, []byte(`{"purchase_id":"purchase_1"}`))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d; body: %s", http.StatusOK, rr.Code, rr.Body.String())
	}

	var resp struct {
		Processed int                    `json:"processed"`
		Results   []types.BackfillResult `json:"results"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Processed != 1 {
		t.Errorf("expected processed=1, got %d", resp.Processed)
	}
	if len(resp.Results) != 1 || resp.Results[0].PurchaseID != "purchase_1" {
		t.Errorf("unexpected results: %+v", resp.Results)
	}

	if len(sweeper.calls) != 1 || sweeper.calls[0].PurchaseID != "purchase_1" {
		t.Errorf("expected sweep for purchase_1, got %+v", sweeper.calls)
	}
}

func TestBackfillHandler_Handle_EmptyBodyUsesDefaults(t *testing.T) {
	sweeper := &fakeSweeper{}
	h := NewBackfillHandler(sweeper, core.NewValidator(nil), nil)

	rr := doBackfillRequest(h, nil)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d; body: %s", http.StatusOK, rr.Code, rr.Body.String())
	}
	if len(sweeper.calls) != 1 {
		t.Fatalf("expected 1 sweep call, got %d", len(sweeper.calls))
	}
	if sweeper.calls[0] != (types.BackfillParams{}) {
		t.Errorf("expected zero params, got %+v", sweeper.calls[0])
	}

	var resp struct {
		Processed int                    `json:"processed"`
		Results   []types.BackfillResult `json:"results"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Results == nil {
		t.Error("expected empty results array, got null")
	}
}

func TestBackfillHandler_Handle_InvalidEmail(t *testing.T) {
	sweeper := &fakeSweeper{}
	h := NewBackfillHandler(sweeper, core.NewValidator(nil), nil)

	rr := doBackfillRequest(h, []byte(`{"email":"not-an-email"}`))

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, rr.Code)
	}
	if len(sweeper.calls) != 0 {
		t.Errorf("expected no sweep for invalid params, got %d calls", len(sweeper.calls))
	}
}

func TestBackfillHandler_Handle_LimitOutOfRange(t *testing.T) {
	sweeper := &fakeSweeper{}
	h := NewBackfillHandler(sweeper, core.NewValidator(nil), nil)

	rr := doBackfillRequest(h, []byte(`{"limit":10000}`))

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, rr.Code)
	}
}

func TestBackfillHandler_Handle_MalformedJSON(t *testing.T) {
	sweeper := &fakeSweeper{}
	h := NewBackfillHandler(sweeper, core.NewValidator(nil), nil)

	rr := doBackfillRequest(h, []byte(`{"purchase_id":`))

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, rr.Code)
	}
}

func TestBackfillHandler_Handle_SweepErrorPropagates(t *testing.T) {
	sweeper := &fakeSweeper{err: types.NewAppError(types.ErrCodeInternalDB, "failed to list purchases", nil)}
	h := NewBackfillHandler(sweeper, core.NewValidator(nil), nil)

	rr := doBackfillRequest(h, []byte(`{"purchase_id":"purchase_1"}`))

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("expected status %d, got %d", http.StatusInternalServerError, rr.Code)
	}
}
