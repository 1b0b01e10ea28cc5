package payments_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/tannaco/paygate/internal/card"
	"github.com/tannaco/paygate/internal/http/payments"
	"github.com/tannaco/paygate/internal/payment"
)

func newRouter(t *testing.T, repo payment.Repository) http.Handler {
	t.Helper()

	handler := payments.NewHandler(payment.NewService(repo, 0), nil, card.NewPassthroughEncryptor())

	r := chi.NewRouter()
	r.Route("/api/v1/payments", handler.Routes)

	return r
}

func postJSON(router http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	return rec
}

func TestHandler_Create_Validation(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	// The repo must never be touched when request validation fails.
	repo := payment.NewMockRepository(ctrl)
	router := newRouter(t, repo)

	tests := []struct {
		name string
		body string
	}{
		{
			name: "MissingKind",
			body: `{"amount": "1000", "currency": "UGX", "customer": {"email": "jane@example.com", "first_name": "Jane"}}`,
		},
		{
			name: "CardKindWithoutCardBlock",
			body: `{"amount": "1000", "currency": "UGX", "kind": "card", "customer": {"email": "jane@example.com", "first_name": "Jane"}}`,
		},
		{
			name: "MobileMoneyKindWithoutWallet",
			body: `{"amount": "1000", "currency": "UGX", "kind": "mobile_money", "customer": {"email": "jane@example.com", "first_name": "Jane"}}`,
		},
		{
			name: "UnknownKind",
			body: `{"amount": "1000", "currency": "UGX", "kind": "crypto", "customer": {"email": "jane@example.com", "first_name": "Jane"}}`,
		},
		{
			name: "BadEmail",
			body: `{"amount": "1000", "currency": "UGX", "kind": "bank", "customer": {"email": "not-an-email", "first_name": "Jane"}}`,
		},
		{
			name: "LowercaseCurrency",
			body: `{"amount": "1000", "currency": "ugx", "kind": "bank", "customer": {"email": "jane@example.com", "first_name": "Jane"}}`,
		},
		{
			name: "NotJSON",
			body: `amount=1000`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(router, "/api/v1/payments", tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestHandler_Get_InvalidID(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	router := newRouter(t, payment.NewMockRepository(ctrl))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/not-a-uuid", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_Get_NotFound(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	repo := payment.NewMockRepository(ctrl)
	repo.EXPECT().
		GetTransaction(gomock.Any(), gomock.Any()).
		Return(nil, payment.ErrNotFound)

	router := newRouter(t, repo)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/7b1f0f44-20e1-4eb9-a67b-47b3a37f5e55", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "not found")
}
