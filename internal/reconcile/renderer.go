package reconcile

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"minhafloresta/internal/metrics"
	"minhafloresta/internal/storage"
	"minhafloresta/internal/types"
)

type certificateReader interface {
	Get(ctx context.Context, certificateID string) (*types.Certificate, error)
	SetPDFURL(ctx context.Context, certificateID, pdfURL string) error
}

type purchaseReader interface {
	Get(ctx context.Context, purchaseID string) (*types.Purchase, error)
}

type projectNamer interface {
	GetName(ctx context.Context, projectID string) string
}

// Renderer produces the PDF artifact for a certificate and stamps its public
// URL onto the row. The storage key is derived from the certificate number,
// so re-rendering overwrites the previous artifact in place.
type Renderer struct {
	certs         certificateReader
	purchases     purchaseReader
	projects      projectNamer
	store         storage.ObjectStore
	recorder      metrics.Recorder
	verifyBaseURL string
	logger        *slog.Logger
}

// NewRenderer wires a Renderer. verifyBaseURL is the public verification
// page the PDF footer points at.
func NewRenderer(
	certs certificateReader,
	purchases purchaseReader,
	projects projectNamer,
	store storage.ObjectStore,
	recorder metrics.Recorder,
	verifyBaseURL string,
	logger *slog.Logger,
) *Renderer {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{
		certs:         certs,
		purchases:     purchases,
		projects:      projects,
		store:         store,
		recorder:      recorder,
		verifyBaseURL: verifyBaseURL,
		logger:        logger,
	}
}

// Render generates, uploads, and records the certificate's PDF, returning
// the public URL. Safe to call repeatedly; only pdf_url changes.
func (r *Renderer) Render(ctx context.Context, certificateID string) (string, error) {
	start := time.Now()

	cert, err := r.certs.Get(ctx, certificateID)
	if err != nil {
		return "", err
	}

	holder := HolderPlaceholder
	if purchase, perr := r.purchases.Get(ctx, cert.PurchaseID); perr == nil && purchase.BuyerEmail != "" {
		holder = purchase.BuyerEmail
	} else if perr != nil {
		// Render anyway; the certificate is still verifiable without a holder.
		r.logger.WarnContext(ctx, "purchase lookup failed during render, using placeholder holder",
			slog.String("certificate_id", certificateID),
			slog.String("purchase_id", cert.PurchaseID),
		)
	}

	pdfBytes, err := buildCertificatePDF(CertificateData{
		HolderName:        holder,
		ProjectName:       r.projects.GetName(ctx, cert.ProjectID),
		AreaSqm:           cert.AreaSqm,
		CertificateNumber: cert.CertificateNumber,
		IssueDate:         cert.IssuedAt.Format("02/01/2006"),
		VerifyURL:         r.verifyURL(cert.CertificateNumber),
	})
	if err != nil {
		r.recorder.CountPDFRendered(ctx, metrics.OutcomeFailed, time.Since(start))
		return "", types.NewAppError(types.ErrCodeInternalRender, "failed to compose certificate pdf", err)
	}

	key := ObjectKey(cert.CertificateNumber)
	publicURL, err := r.store.Put(ctx, key, "application/pdf", pdfBytes)
	if err != nil {
		r.recorder.CountPDFRendered(ctx, metrics.OutcomeFailed, time.Since(start))
		return "", err
	}

	if err := r.certs.SetPDFURL(ctx, certificateID, publicURL); err != nil {
		// The artifact exists in storage; the row catches up on the next render.
		r.recorder.CountPDFRendered(ctx, metrics.OutcomeFailed, time.Since(start))
		return "", err
	}

	r.recorder.CountPDFRendered(ctx, metrics.OutcomeSuccess, time.Since(start))
	return publicURL, nil
}

// verifyURL builds the verification link printed in the PDF footer.
func (r *Renderer) verifyURL(certificateNumber string) string {
	return r.verifyBaseURL + "?certificate_number=" + url.QueryEscape(certificateNumber)
}

// ObjectKey returns the storage key for a certificate's PDF. Deterministic
// per number, so uploads are pure overwrites.
func ObjectKey(certificateNumber string) string {
	return "certificates/" + certificateNumber + ".pdf"
}
