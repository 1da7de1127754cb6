package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"minhafloresta/internal/core"
	"minhafloresta/internal/types"
)

type certificateFinder interface {
	GetByNumber(ctx context.Context, certificateNumber string) (*types.Certificate, error)
}

type projectNamer interface {
	GetName(ctx context.Context, projectID string) string
}

// CertificateHandler exposes on-demand PDF rendering and the public
// verification endpoint printed on every certificate.
type CertificateHandler struct {
	certs    certificateFinder
	projects projectNamer
	renderer certificateRenderer
	logger   *slog.Logger
}

// NewCertificateHandler wires the certificate endpoints.
func NewCertificateHandler(certs certificateFinder, projects projectNamer, renderer certificateRenderer, logger *slog.Logger) *CertificateHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CertificateHandler{
		certs:    certs,
		projects: projects,
		renderer: renderer,
		logger:   logger,
	}
}

// RegisterRoutes mounts the certificate endpoints.
func (h *CertificateHandler) RegisterRoutes(r chi.Router) {
	r.Post("/certificates/{id}/render", h.HandleRender)
	r.Get("/certificates/verify", h.HandleVerify)
}

// HandleRender renders (or re-renders) the certificate's PDF and returns the
// public URL. Re-rendering overwrites the stored artifact in place.
func (h *CertificateHandler) HandleRender(w http.ResponseWriter, r *http.Request) {
	certificateID := chi.URLParam(r, "id")
	if certificateID == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "certificate id is required", nil))
		return
	}

	pdfURL, err := h.renderer.Render(r.Context(), certificateID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, map[string]any{
		"success": true,
		"pdf_url": pdfURL,
	})
}

// HandleVerify answers the public authenticity check. An unknown number is a
// normal outcome and returns found=false with 200, never an error.
func (h *CertificateHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	number := strings.TrimSpace(r.URL.Query().Get("certificate_number"))
	if number == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "certificate_number query parameter is required", nil))
		return
	}

	cert, err := h.certs.GetByNumber(ctx, number)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundCertificate {
			core.JSON(w, r, http.StatusOK, types.CertificateVerification{Found: false})
			return
		}
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, types.CertificateVerification{
		Found:             true,
		CertificateNumber: cert.CertificateNumber,
		ProjectID:         cert.ProjectID,
		ProjectName:       h.projects.GetName(ctx, cert.ProjectID),
		AreaSqm:           cert.AreaSqm,
		Status:            cert.Status,
		IssuedAt:          cert.IssuedAt,
		ValidUntil:        cert.ValidUntil(),
		PDFURL:            cert.PDFURL,
	})
}
