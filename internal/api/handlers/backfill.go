package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"minhafloresta/internal/core"
	"minhafloresta/internal/types"
)

type backfillSweeper interface {
	Backfill(ctx context.Context, params types.BackfillParams) ([]types.BackfillResult, error)
}

type structValidator interface {
	ValidateStruct(s any) error
}

// BackfillHandler exposes the admin reconciliation sweep. It is the recovery
// path for webhook events whose processing failed after the ledger write.
type BackfillHandler struct {
	sweeper   backfillSweeper
	validator structValidator
	logger    *slog.Logger
}

// NewBackfillHandler wires the backfill endpoint.
func NewBackfillHandler(sweeper backfillSweeper, validator structValidator, logger *slog.Logger) *BackfillHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BackfillHandler{
		sweeper:   sweeper,
		validator: validator,
		logger:    logger,
	}
}

// RegisterRoutes mounts the backfill endpoint.
func (h *BackfillHandler) RegisterRoutes(r chi.Router) {
	r.Post("/admin/backfill", h.Handle)
}

// Handle runs one sweep. An empty body is allowed and selects the default
// recent-purchases window.
func (h *BackfillHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var params types.BackfillParams
	if r.ContentLength != 0 {
		if err := core.DecodeJSON(w, r, &params); err != nil {
			core.Error(w, r, err)
			return
		}
	}
	if err := h.validator.ValidateStruct(params); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(ctx, "backfill sweep requested",
		slog.String("purchase_id", params.PurchaseID),
		slog.String("email", params.Email),
		slog.Int("limit", params.Limit),
	)

	results, err := h.sweeper.Backfill(ctx, params)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if results == nil {
		results = []types.BackfillResult{}
	}

	core.JSON(w, r, http.StatusOK, map[string]any{
		"processed": len(results),
		"results":   results,
	})
}
