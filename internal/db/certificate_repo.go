package db

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"minhafloresta/internal/types"
)

// Unique indexes on the certificates table. Insert conflicts are
// discriminated by constraint name: losing the race on the pair index means
// the certificate already exists (proceed), while losing on the number index
// means the generated number collided (regenerate and retry).
const (
	certPairConstraint   = "certificates_purchase_project_key"
	certNumberConstraint = "certificates_certificate_number_key"
)

// ErrCertificateExists reports that another writer issued the certificate
// for this (purchase, project) pair first.
var ErrCertificateExists = errors.New("certificate already exists for purchase and project")

// ErrCertificateNumberTaken reports a collision on the generated certificate
// number. The issuer regenerates and retries on this error.
var ErrCertificateNumberTaken = errors.New("certificate number already taken")

// CertificateRepo persists issued certificates.
type CertificateRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewCertificateRepo creates a new CertificateRepo backed by the given
// database connection (pool or transaction).
func NewCertificateRepo(db DBTX, logger *slog.Logger) *CertificateRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &CertificateRepo{db: db, logger: logger}
}

// Create inserts the certificate. Unique violations surface as
// ErrCertificateExists or ErrCertificateNumberTaken depending on which index
// rejected the row; any other failure is an internal DB error.
func (r *CertificateRepo) Create(ctx context.Context, c *types.Certificate) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO certificates (id, purchase_id, project_id, area_sqm, certificate_number, certificate_type, issued_at, status, pdf_url, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.ID,
		c.PurchaseID,
		c.ProjectID,
		c.AreaSqm,
		c.CertificateNumber,
		c.CertificateType,
		c.IssuedAt,
		c.Status,
		c.PDFURL,
		c.ExpiresAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			switch constraintName(err) {
			case certNumberConstraint:
				return ErrCertificateNumberTaken
			default:
				// The pair index, or an unnamed constraint on an older schema.
				r.logger.InfoContext(ctx, "certificate already issued for purchase and project",
					slog.String("purchase_id", c.PurchaseID),
					slog.String("project_id", c.ProjectID),
				)
				return ErrCertificateExists
			}
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert certificate", err)
	}

	return nil
}

// ListByPurchase returns the certificates of a purchase ordered by project.
func (r *CertificateRepo) ListByPurchase(ctx context.Context, purchaseID string) ([]types.Certificate, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, purchase_id, project_id, area_sqm, certificate_number, certificate_type, issued_at, status, pdf_url, expires_at
		 FROM certificates
		 WHERE purchase_id = $1
		 ORDER BY project_id`,
		purchaseID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list certificates", err)
	}
	defer rows.Close()

	return r.scanMany(rows)
}

// ListByEmail returns all certificates issued against the email's purchases,
// newest first.
func (r *CertificateRepo) ListByEmail(ctx context.Context, email string) ([]types.Certificate, error) {
	rows, err := r.db.Query(ctx,
		`SELECT c.id, c.purchase_id, c.project_id, c.area_sqm, c.certificate_number, c.certificate_type, c.issued_at, c.status, c.pdf_url, c.expires_at
		 FROM certificates c
		 JOIN purchases p ON p.id = c.purchase_id
		 WHERE LOWER(p.buyer_email) = LOWER($1)
		 ORDER BY c.issued_at DESC`,
		email,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list certificates by email", err)
	}
	defer rows.Close()

	return r.scanMany(rows)
}

// Get loads a certificate by ID.
func (r *CertificateRepo) Get(ctx context.Context, certificateID string) (*types.Certificate, error) {
	c, err := r.scanOne(r.db.QueryRow(ctx,
		`SELECT id, purchase_id, project_id, area_sqm, certificate_number, certificate_type, issued_at, status, pdf_url, expires_at
		 FROM certificates
		 WHERE id = $1`,
		certificateID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundCertificate, "certificate not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load certificate", err)
	}
	return c, nil
}

// GetByNumber looks a certificate up by its public number. The lookup is
// tolerant of presentation noise: surrounding whitespace is stripped and the
// comparison is case-insensitive, since numbers are read off printed PDFs.
func (r *CertificateRepo) GetByNumber(ctx context.Context, certificateNumber string) (*types.Certificate, error) {
	normalized := strings.ToUpper(strings.TrimSpace(certificateNumber))

	c, err := r.scanOne(r.db.QueryRow(ctx,
		`SELECT id, purchase_id, project_id, area_sqm, certificate_number, certificate_type, issued_at, status, pdf_url, expires_at
		 FROM certificates
		 WHERE UPPER(certificate_number) = $1`,
		normalized,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundCertificate, "certificate not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to look up certificate number", err)
	}
	return c, nil
}

// SetPDFURL stamps the rendered artifact's public URL onto the certificate.
// Re-rendering overwrites the previous URL.
func (r *CertificateRepo) SetPDFURL(ctx context.Context, certificateID, pdfURL string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE certificates SET pdf_url = $1 WHERE id = $2`,
		pdfURL,
		certificateID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to set certificate pdf url", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundCertificate, "certificate not found", nil)
	}
	return nil
}

func (r *CertificateRepo) scanOne(row pgx.Row) (*types.Certificate, error) {
	var c types.Certificate
	err := row.Scan(
		&c.ID,
		&c.PurchaseID,
		&c.ProjectID,
		&c.AreaSqm,
		&c.CertificateNumber,
		&c.CertificateType,
		&c.IssuedAt,
		&c.Status,
		&c.PDFURL,
		&c.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CertificateRepo) scanMany(rows pgx.Rows) ([]types.Certificate, error) {
	var certs []types.Certificate
	for rows.Next() {
		var c types.Certificate
		if err := rows.Scan(
			&c.ID,
			&c.PurchaseID,
			&c.ProjectID,
			&c.AreaSqm,
			&c.CertificateNumber,
			&c.CertificateType,
			&c.IssuedAt,
			&c.Status,
			&c.PDFURL,
			&c.ExpiresAt,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan certificate", err)
		}
		certs = append(certs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate certificates", err)
	}
	return certs, nil
}
