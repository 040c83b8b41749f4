// internal/router/router.go
package router

import (
	"net/http"
	"time"

	"custody-service/internal/handler"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

type Handlers struct {
	Wallet      *handler.WalletHandler
	Pin         *handler.PinHandler
	Transaction *handler.TransactionHandler
	Auth        *handler.AuthMiddleware
}

func SetupRoutes(h Handlers, allowedOrigins []string, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggerMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Device-Info", "X-Location"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.Auth.Require)

		// ============================================
		// WALLETS
		// ============================================
		r.Route("/wallets", func(r chi.Router) {
			r.Post("/", h.Wallet.CreateWallet)
			r.Get("/", h.Wallet.ListWallets)
			r.Get("/export", h.Wallet.ExportWallets)
			r.Get("/{chain}", h.Wallet.GetWallet)
			r.Delete("/{chain}", h.Wallet.DeactivateWallet)
			r.Get("/{chain}/tokens/{symbol}", h.Wallet.GetTokenBalance)
		})

		// ============================================
		// PIN
		// ============================================
		r.Route("/pin", func(r chi.Router) {
			r.Put("/", h.Pin.SetPin)
			r.Get("/status", h.Pin.GetPinStatus)
			r.Post("/verify", h.Pin.VerifyPin)
			r.Post("/authorize", h.Pin.AuthorizeTransfer)
		})

		// ============================================
		// TRANSACTIONS
		// ============================================
		r.Route("/transactions", func(r chi.Router) {
			r.Post("/", h.Transaction.Send)
			r.Get("/", h.Transaction.ListTransactions)
			r.Post("/estimate-fee", h.Transaction.EstimateFee)
			r.Get("/{id}", h.Transaction.GetTransaction)
		})

		// ============================================
		// ADMIN
		// ============================================
		r.Route("/admin", func(r chi.Router) {
			r.Use(h.Auth.RequireRole("admin"))
			r.Post("/users/{user_id}/pin/unblock", h.Pin.UnblockPin)
		})
	})

	return r
}

// LoggerMiddleware logs HTTP requests
func LoggerMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr))
		})
	}
}
