// internal/handler/transaction_handler.go
package handler

import (
	"context"
	"math/big"
	"net"
	"net/http"
	"strconv"

	"custody-service/internal/domain"
	"custody-service/internal/usecase"
	"custody-service/pkg/utils"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TransactionService is the orchestrator surface the transfer routes need.
type TransactionService interface {
	Send(ctx context.Context, in *usecase.SendInput) (*domain.Transaction, error)
	EstimateFee(ctx context.Context, userID string, chain domain.ChainID, to string, amount decimal.Decimal, tokenSymbol string) (*domain.FeeEstimate, error)
	GetTransaction(ctx context.Context, userID, id string) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, userID string, chain *domain.ChainID, limit, offset int) ([]*domain.Transaction, error)
}

type TransactionHandler struct {
	txs    TransactionService
	logger *zap.Logger
}

func NewTransactionHandler(txs TransactionService, logger *zap.Logger) *TransactionHandler {
	return &TransactionHandler{
		txs:    txs,
		logger: logger,
	}
}

type sendRequest struct {
	Chain              string `json:"chain"`
	To                 string `json:"to"`
	Amount             string `json:"amount"`
	Token              string `json:"token,omitempty"`
	Memo               string `json:"memo,omitempty"`
	AuthorizationToken string `json:"authorization_token"`
	FeeRate            string `json:"fee_rate,omitempty"`
	FeeLimit           uint64 `json:"fee_limit,omitempty"`
}

type estimateFeeRequest struct {
	Chain  string `json:"chain"`
	To     string `json:"to"`
	Amount string `json:"amount"`
	Token  string `json:"token,omitempty"`
}

type feeEstimateResponse struct {
	FeeRate        string `json:"fee_rate,omitempty"`
	FeeLimit       uint64 `json:"fee_limit,omitempty"`
	EstimatedTotal string `json:"estimated_total"`
	Currency       string `json:"currency"`
	Fixed          bool   `json:"fixed"`
}

func parseFeeHint(rate string, limit uint64) (*domain.FeeHint, error) {
	if rate == "" && limit == 0 {
		return nil, nil
	}
	hint := &domain.FeeHint{Limit: limit}
	if rate != "" {
		v, ok := new(big.Int).SetString(rate, 10)
		if !ok || v.Sign() <= 0 {
			return nil, domain.NewValidationError("fee_rate", "must be a positive integer in base units")
		}
		hint.Rate = v
	}
	return hint, nil
}

// Send handles POST /transactions. A transfer whose broadcast outcome is
// unknown is answered with 202 and the pending record.
func (h *TransactionHandler) Send(w http.ResponseWriter, r *http.Request) {
	userID, ok := mustUserID(w, r)
	if !ok {
		return
	}

	var req sendRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	chain, err := domain.ParseChain(req.Chain)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	amount, err := utils.ParseAmount(req.Amount)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	hint, err := parseFeeHint(req.FeeRate, req.FeeLimit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	tx, err := h.txs.Send(r.Context(), &usecase.SendInput{
		UserID:      userID,
		Chain:       chain,
		To:          req.To,
		Amount:      amount,
		TokenSymbol: req.Token,
		FeeHint:     hint,
		Memo:        req.Memo,
		GrantToken:  req.AuthorizationToken,
		Context: domain.FraudContext{
			DeviceInfo: r.Header.Get("X-Device-Info"),
			IPAddress:  clientIP(r),
			Location:   r.Header.Get("X-Location"),
		},
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	status := http.StatusCreated
	if tx.SubmissionNote != nil {
		status = http.StatusAccepted
	}
	writeJSON(w, status, tx.View())
}

// EstimateFee handles POST /transactions/estimate-fee
func (h *TransactionHandler) EstimateFee(w http.ResponseWriter, r *http.Request) {
	userID, ok := mustUserID(w, r)
	if !ok {
		return
	}

	var req estimateFeeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	chain, err := domain.ParseChain(req.Chain)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	amount, err := utils.ParseAmount(req.Amount)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	est, err := h.txs.EstimateFee(r.Context(), userID, chain, req.To, amount, req.Token)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	resp := feeEstimateResponse{
		FeeLimit:       est.FeeLimit,
		EstimatedTotal: est.EstimatedTotal.String(),
		Currency:       est.Currency,
		Fixed:          est.Fixed,
	}
	if est.FeeRate != nil {
		resp.FeeRate = est.FeeRate.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetTransaction handles GET /transactions/{id}
func (h *TransactionHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := mustUserID(w, r)
	if !ok {
		return
	}

	tx, err := h.txs.GetTransaction(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, tx.View())
}

// ListTransactions handles GET /transactions?chain=&limit=&offset=
func (h *TransactionHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := mustUserID(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	var chain *domain.ChainID
	if c := q.Get("chain"); c != "" {
		parsed, err := domain.ParseChain(c)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		chain = &parsed
	}

	limit, err := queryInt(q.Get("limit"), "limit")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	offset, err := queryInt(q.Get("offset"), "offset")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	txs, err := h.txs.ListTransactions(r.Context(), userID, chain, limit, offset)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	views := make([]domain.TransactionView, 0, len(txs))
	for _, tx := range txs {
		views = append(views, tx.View())
	}
	writeJSON(w, http.StatusOK, views)
}

// clientIP drops the port from RemoteAddr. RealIP may already have
// replaced it with a bare address.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func queryInt(raw, field string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, domain.NewValidationError(field, "must be a non-negative integer")
	}
	return v, nil
}
