package reconcile

import (
	"context"
	"crypto/rand"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"minhafloresta/internal/db"
	"minhafloresta/internal/metrics"
	"minhafloresta/internal/types"
)

// certNumberPrefix is the fixed prefix of every certificate number.
const certNumberPrefix = "MF-"

// numberRetryLimit bounds regeneration attempts after a number collision.
const numberRetryLimit = 5

type itemLister interface {
	ListItems(ctx context.Context, purchaseID string) ([]types.PurchaseItem, error)
}

type certificateStore interface {
	Create(ctx context.Context, c *types.Certificate) error
	ListByPurchase(ctx context.Context, purchaseID string) ([]types.Certificate, error)
}

// Issuer creates the missing certificates of a purchase. One certificate per
// (purchase, project) pair; the database unique index arbitrates concurrent
// issuance.
type Issuer struct {
	purchases itemLister
	certs     certificateStore
	recorder  metrics.Recorder
	logger    *slog.Logger
}

// NewIssuer wires an Issuer.
func NewIssuer(purchases itemLister, certs certificateStore, recorder metrics.Recorder, logger *slog.Logger) *Issuer {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Issuer{
		purchases: purchases,
		certs:     certs,
		recorder:  recorder,
		logger:    logger,
	}
}

// EnsureCertificates issues a certificate for every purchase item whose
// project is not covered yet and returns how many it created. Calling it
// again for the same purchase creates nothing.
func (i *Issuer) EnsureCertificates(ctx context.Context, purchaseID string) (int, error) {
	items, err := i.purchases.ListItems(ctx, purchaseID)
	if err != nil {
		return 0, err
	}

	existing, err := i.certs.ListByPurchase(ctx, purchaseID)
	if err != nil {
		return 0, err
	}
	covered := make(map[string]struct{}, len(existing))
	for _, c := range existing {
		covered[c.ProjectID] = struct{}{}
	}

	created := 0
	for _, item := range items {
		if _, ok := covered[item.ProjectID]; ok {
			continue
		}
		if item.Quantity <= 0 {
			continue
		}

		issued, err := i.issueOne(ctx, purchaseID, item)
		if err != nil {
			return created, err
		}
		covered[item.ProjectID] = struct{}{}
		if issued {
			created++
			i.recorder.CountCertificateIssued(ctx, item.ProjectID)
		}
	}

	return created, nil
}

// issueOne inserts a certificate for the item, regenerating the number on a
// collision. Losing the (purchase, project) race is success with issued=false.
func (i *Issuer) issueOne(ctx context.Context, purchaseID string, item types.PurchaseItem) (issued bool, err error) {
	for attempt := 0; attempt < numberRetryLimit; attempt++ {
		cert := &types.Certificate{
			PurchaseID:        purchaseID,
			ProjectID:         item.ProjectID,
			AreaSqm:           item.Quantity,
			CertificateNumber: NewCertificateNumber(),
			CertificateType:   "forest",
			IssuedAt:          time.Now().UTC(),
			Status:            types.CertStatusIssued,
		}

		createErr := i.certs.Create(ctx, cert)
		switch {
		case createErr == nil:
			return true, nil
		case errors.Is(createErr, db.ErrCertificateExists):
			// Concurrent run issued it first.
			i.logger.InfoContext(ctx, "certificate issued by concurrent run, skipping",
				slog.String("purchase_id", purchaseID),
				slog.String("project_id", item.ProjectID),
			)
			return false, nil
		case errors.Is(createErr, db.ErrCertificateNumberTaken):
			i.logger.WarnContext(ctx, "certificate number collision, regenerating",
				slog.String("number", cert.CertificateNumber),
			)
			continue
		default:
			return false, createErr
		}
	}

	return false, types.NewAppError(
		types.ErrCodeConflictNumberExhausted,
		"exhausted certificate number generation attempts",
		nil,
	)
}

// NewCertificateNumber generates a certificate number: fixed prefix,
// nanosecond timestamp in base36, and a short random suffix, uppercased.
// Collisions are possible in principle; the unique index is the guarantee.
func NewCertificateNumber() string {
	ts := strconv.FormatInt(time.Now().UnixNano(), 36)
	return strings.ToUpper(certNumberPrefix + ts + randomSuffix(4))
}

const suffixAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func randomSuffix(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing is effectively unrecoverable; degrade to the
		// timestamp alone rather than panic.
		return ""
	}
	for i := range b {
		b[i] = suffixAlphabet[int(b[i])%len(suffixAlphabet)]
	}
	return string(b)
}
