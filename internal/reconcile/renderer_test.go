package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"minhafloresta/internal/types"
)

type mockCertReader struct {
	mock.Mock
}

func (m *mockCertReader) Get(ctx context.Context, certificateID string) (*types.Certificate, error) {
	args := m.Called(ctx, certificateID)
	if c := args.Get(0); c != nil {
		return c.(*types.Certificate), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockCertReader) SetPDFURL(ctx context.Context, certificateID, pdfURL string) error {
	args := m.Called(ctx, certificateID, pdfURL)
	return args.Error(0)
}

type mockPurchaseReader struct {
	mock.Mock
}

func (m *mockPurchaseReader) Get(ctx context.Context, purchaseID string) (*types.Purchase, error) {
	args := m.Called(ctx, purchaseID)
	if p := args.Get(0); p != nil {
		return p.(*types.Purchase), args.Error(1)
	}
	return nil, args.Error(1)
}

type staticNamer struct{}

func (staticNamer) GetName(_ context.Context, projectID string) string { return "Projeto " + projectID }

type mockObjectStore struct {
	mock.Mock
}

func (m *mockObjectStore) Put(ctx context.Context, key string, contentType string, body []byte) (string, error) {
	args := m.Called(ctx, key, contentType, body)
	return args.String(0), args.Error(1)
}

func testCertificate() *types.Certificate {
	return &types.Certificate{
		ID:                "cert_1",
		PurchaseID:        "purchase_1",
		ProjectID:         "mata-atlantica",
		AreaSqm:           100,
		CertificateNumber: "MF-TESTE123",
		CertificateType:   "forest",
		IssuedAt:          time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		Status:            types.CertStatusIssued,
	}
}

func TestRender_UploadsAndStampsURL(t *testing.T) {
	certs := new(mockCertReader)
	purchases := new(mockPurchaseReader)
	store := new(mockObjectStore)
	r := NewRenderer(certs, purchases, staticNamer{}, store, nil, "https://minhafloresta.org/verificar", nil)

	certs.On("Get", mock.Anything, "cert_1").Return(testCertificate(), nil)
	purchases.On("Get", mock.Anything, "purchase_1").
		Return(&types.Purchase{ID: "purchase_1", BuyerEmail: "ana@example.com"}, nil)
	store.On("Put", mock.Anything, "certificates/MF-TESTE123.pdf", "application/pdf", mock.Anything).
		Return("https://cdn.example/certificates/MF-TESTE123.pdf", nil)
	certs.On("SetPDFURL", mock.Anything, "cert_1", "https://cdn.example/certificates/MF-TESTE123.pdf").
		Return(nil)

	url, err := r.Render(context.Background(), "cert_1")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/certificates/MF-TESTE123.pdf", url)

	// The uploaded artifact is a non-empty PDF document.
	body := store.Calls[0].Arguments.Get(3).([]byte)
	require.NotEmpty(t, body)
	assert.Equal(t, "%PDF", string(body[:4]))
	certs.AssertExpectations(t)
}

func TestRender_PlaceholderHolderWhenPurchaseMissing(t *testing.T) {
	certs := new(mockCertReader)
	purchases := new(mockPurchaseReader)
	store := new(mockObjectStore)
	r := NewRenderer(certs, purchases, staticNamer{}, store, nil, "https://minhafloresta.org/verificar", nil)

	certs.On("Get", mock.Anything, "cert_1").Return(testCertificate(), nil)
	purchases.On("Get", mock.Anything, "purchase_1").
		Return(nil, errors.New("purchase not found"))
	store.On("Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("https://cdn.example/c.pdf", nil)
	certs.On("SetPDFURL", mock.Anything, "cert_1", "https://cdn.example/c.pdf").Return(nil)

	_, err := r.Render(context.Background(), "cert_1")
	require.NoError(t, err)
}

func TestRender_StorageFailureLeavesURLUnset(t *testing.T) {
	certs := new(mockCertReader)
	purchases := new(mockPurchaseReader)
	store := new(mockObjectStore)
	r := NewRenderer(certs, purchases, staticNamer{}, store, nil, "https://minhafloresta.org/verificar", nil)

	certs.On("Get", mock.Anything, "cert_1").Return(testCertificate(), nil)
	purchases.On("Get", mock.Anything, "purchase_1").
		Return(&types.Purchase{ID: "purchase_1", BuyerEmail: "ana@example.com"}, nil)
	store.On("Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("", errors.New("bucket unavailable"))

	_, err := r.Render(context.Background(), "cert_1")
	require.Error(t, err)
	certs.AssertNotCalled(t, "SetPDFURL", mock.Anything, mock.Anything, mock.Anything)
}

func TestObjectKey_DeterministicPerNumber(t *testing.T) {
	assert.Equal(t, "certificates/MF-ABC.pdf", ObjectKey("MF-ABC"))
	assert.Equal(t, ObjectKey("MF-ABC"), ObjectKey("MF-ABC"))
}
