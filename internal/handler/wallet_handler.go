// internal/handler/wallet_handler.go
package handler

import (
	"context"
	"net/http"
	"strings"

	"custody-service/internal/domain"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// WalletService is the custody surface the wallet routes need.
type WalletService interface {
	CreateWallet(ctx context.Context, userID string, chain domain.ChainID) (*domain.Wallet, error)
	GetWallet(ctx context.Context, userID string, chain domain.ChainID) (*domain.Wallet, error)
	ListWallets(ctx context.Context, userID string) ([]*domain.Wallet, error)
	DeactivateWallet(ctx context.Context, userID string, chain domain.ChainID) error
	RefreshBalance(ctx context.Context, wallet *domain.Wallet) (*domain.Wallet, error)
	ExportWallets(ctx context.Context, userID string) ([]domain.WalletExport, error)
	GetTokenBalance(ctx context.Context, userID string, chain domain.ChainID, symbol string) (decimal.Decimal, error)
	NativeSymbol(chain domain.ChainID) string
}

type WalletHandler struct {
	wallets WalletService
	logger  *zap.Logger
}

func NewWalletHandler(wallets WalletService, logger *zap.Logger) *WalletHandler {
	return &WalletHandler{
		wallets: wallets,
		logger:  logger,
	}
}

type createWalletRequest struct {
	Chain string `json:"chain"`
}

// CreateWallet handles POST /wallets
func (h *WalletHandler) CreateWallet(w http.ResponseWriter, r *http.Request) {
	userID, ok := mustUserID(w, r)
	if !ok {
		return
	}

	var req createWalletRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	chain, err := domain.ParseChain(req.Chain)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	wallet, err := h.wallets.CreateWallet(r.Context(), userID, chain)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.logger.Info("wallet created",
		zap.String("user_id", userID),
		zap.String("chain", chain.String()),
		zap.String("address", wallet.Address))

	writeJSON(w, http.StatusCreated, wallet.View(h.wallets.NativeSymbol(chain)))
}

// ListWallets handles GET /wallets
func (h *WalletHandler) ListWallets(w http.ResponseWriter, r *http.Request) {
	userID, ok := mustUserID(w, r)
	if !ok {
		return
	}

	wallets, err := h.wallets.ListWallets(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	views := make([]domain.WalletView, 0, len(wallets))
	for _, wallet := range wallets {
		views = append(views, wallet.View(h.wallets.NativeSymbol(wallet.Chain)))
	}
	writeJSON(w, http.StatusOK, views)
}

// GetWallet handles GET /wallets/{chain}. With ?refresh=true the balance is
// re-read from the chain; on a chain failure the cached balance is served.
func (h *WalletHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	userID, ok := mustUserID(w, r)
	if !ok {
		return
	}
	chain, err := domain.ParseChain(chi.URLParam(r, "chain"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	wallet, err := h.wallets.GetWallet(r.Context(), userID, chain)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	if strings.EqualFold(r.URL.Query().Get("refresh"), "true") {
		refreshed, err := h.wallets.RefreshBalance(r.Context(), wallet)
		if err != nil {
			h.logger.Warn("balance refresh failed, serving cached balance",
				zap.String("user_id", userID),
				zap.String("chain", chain.String()),
				zap.Error(err))
		}
		if refreshed != nil {
			wallet = refreshed
		}
	}

	writeJSON(w, http.StatusOK, wallet.View(h.wallets.NativeSymbol(chain)))
}

// DeactivateWallet handles DELETE /wallets/{chain}
func (h *WalletHandler) DeactivateWallet(w http.ResponseWriter, r *http.Request) {
	userID, ok := mustUserID(w, r)
	if !ok {
		return
	}
	chain, err := domain.ParseChain(chi.URLParam(r, "chain"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := h.wallets.DeactivateWallet(r.Context(), userID, chain); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"chain": chain.String(), "state": "inactive"})
}

// ExportWallets handles GET /wallets/export
func (h *WalletHandler) ExportWallets(w http.ResponseWriter, r *http.Request) {
	userID, ok := mustUserID(w, r)
	if !ok {
		return
	}

	exports, err := h.wallets.ExportWallets(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, exports)
}

// GetTokenBalance handles GET /wallets/{chain}/tokens/{symbol}
func (h *WalletHandler) GetTokenBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := mustUserID(w, r)
	if !ok {
		return
	}
	chain, err := domain.ParseChain(chi.URLParam(r, "chain"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	symbol := strings.ToUpper(chi.URLParam(r, "symbol"))

	balance, err := h.wallets.GetTokenBalance(r.Context(), userID, chain, symbol)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"chain":   chain.String(),
		"symbol":  symbol,
		"balance": balance.String(),
	})
}
