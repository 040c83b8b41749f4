package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"custody-service/internal/handler"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newTestRouter() http.Handler {
	logger := zap.NewNop()
	return SetupRoutes(Handlers{
		Wallet:      handler.NewWalletHandler(nil, logger),
		Pin:         handler.NewPinHandler(nil, logger),
		Transaction: handler.NewTransactionHandler(nil, logger),
		Auth:        handler.NewAuthMiddleware("secret", "", logger),
	}, []string{"https://app.example.com"}, logger)
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestAPIRequiresAuth(t *testing.T) {
	r := newTestRouter()
	for _, path := range []string{"/api/v1/wallets", "/api/v1/pin/status", "/api/v1/transactions"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func TestCORSPreflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/transactions", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()

	newTestRouter().ServeHTTP(rec, req)

	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}
