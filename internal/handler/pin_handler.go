// internal/handler/pin_handler.go
package handler

import (
	"context"
	"net/http"
	"time"

	"custody-service/internal/domain"
	"custody-service/internal/usecase"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// PinService is the PIN gate surface the PIN routes need.
type PinService interface {
	SetPin(ctx context.Context, userID, pin string, reverified bool) error
	VerifyPin(ctx context.Context, userID, pin string) error
	AuthorizeTransfer(ctx context.Context, userID, pin string) (*usecase.Grant, error)
	GetPinStatus(ctx context.Context, userID string) (domain.PinStatus, error)
	UnblockPin(ctx context.Context, userID string) error
}

type PinHandler struct {
	pins   PinService
	logger *zap.Logger
}

func NewPinHandler(pins PinService, logger *zap.Logger) *PinHandler {
	return &PinHandler{
		pins:   pins,
		logger: logger,
	}
}

type pinRequest struct {
	Pin string `json:"pin"`
}

type grantResponse struct {
	AuthorizationToken string    `json:"authorization_token"`
	ExpiresAt          time.Time `json:"expires_at"`
}

// SetPin handles PUT /pin. Only sessions issued after identity
// re-verification may set the PIN.
func (h *PinHandler) SetPin(w http.ResponseWriter, r *http.Request) {
	userID, ok := mustUserID(w, r)
	if !ok {
		return
	}

	var req pinRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	reverified := getPurpose(r.Context()) == PurposePinSetup
	if err := h.pins.SetPin(r.Context(), userID, req.Pin, reverified); err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.logger.Info("pin set", zap.String("user_id", userID))
	writeJSON(w, http.StatusOK, map[string]bool{"pin_set": true})
}

// VerifyPin handles POST /pin/verify
func (h *PinHandler) VerifyPin(w http.ResponseWriter, r *http.Request) {
	userID, ok := mustUserID(w, r)
	if !ok {
		return
	}

	var req pinRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := h.pins.VerifyPin(r.Context(), userID, req.Pin); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"verified": true})
}

// AuthorizeTransfer handles POST /pin/authorize and returns a single-use
// token for the next transfer.
func (h *PinHandler) AuthorizeTransfer(w http.ResponseWriter, r *http.Request) {
	userID, ok := mustUserID(w, r)
	if !ok {
		return
	}

	var req pinRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	grant, err := h.pins.AuthorizeTransfer(r.Context(), userID, req.Pin)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, grantResponse{
		AuthorizationToken: grant.Token,
		ExpiresAt:          grant.ExpiresAt,
	})
}

// GetPinStatus handles GET /pin/status
func (h *PinHandler) GetPinStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := mustUserID(w, r)
	if !ok {
		return
	}

	status, err := h.pins.GetPinStatus(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// UnblockPin handles POST /admin/users/{user_id}/pin/unblock
func (h *PinHandler) UnblockPin(w http.ResponseWriter, r *http.Request) {
	adminID, _ := GetUserID(r.Context())
	target := chi.URLParam(r, "user_id")
	if target == "" {
		writeError(w, h.logger, domain.NewValidationError("user_id", "user id is required"))
		return
	}

	if err := h.pins.UnblockPin(r.Context(), target); err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.logger.Info("pin unblocked by admin",
		zap.String("admin_id", adminID),
		zap.String("user_id", target))
	writeJSON(w, http.StatusOK, map[string]string{"user_id": target, "state": "unblocked"})
}
