// internal/handler/response.go
package handler

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"custody-service/internal/domain"

	"go.uber.org/zap"
)

type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := APIResponse{
		Status: "success",
		Data:   data,
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := APIResponse{
		Status:  "error",
		Message: msg,
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// statusFor maps an error kind to an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrPinLocked):
		return http.StatusLocked
	case errors.Is(err, domain.ErrPinNotSet), errors.Is(err, domain.ErrPinIncorrect):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrAuthorization):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrUnsupportedToken),
		errors.Is(err, domain.ErrUnsupportedChain):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInsufficientFunds), errors.Is(err, domain.ErrInvalidAddress):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrDuplicateWallet):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNetwork):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrSubmission):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError translates err into the error envelope. Internal failures
// (decryption, key generation, storage) are logged and not echoed.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := statusFor(err)

	var locked *domain.PinLockedError
	if errors.As(err, &locked) {
		secs := int64(math.Ceil(locked.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}

	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable && status != http.StatusBadGateway {
		logger.Error("request failed", zap.Error(err))
		writeErrorMessage(w, status, "internal error")
		return
	}

	logger.Debug("request rejected", zap.Int("status", status), zap.Error(err))
	writeErrorMessage(w, status, err.Error())
}

func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return domain.NewValidationError("body", "invalid JSON payload")
	}
	return nil
}
