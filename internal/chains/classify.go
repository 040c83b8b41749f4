package chains

import (
	"context"
	"errors"
	"net"
	"strings"

	"custody-service/internal/domain"
)

var (
	insufficientFundsMarkers = []string{
		"insufficient funds",
		"insufficient balance",
		"balance is not sufficient",
		"transfer amount exceeds balance",
		"no spendable utxos",
	}
	invalidAddressMarkers = []string{
		"invalid address",
		"bad address",
		"invalid checksum",
	}
	retryableSubmissionMarkers = []string{
		"nonce too low",
		"replacement transaction underpriced",
	}
	networkMarkers = []string{
		"connection refused",
		"connection reset",
		"no such host",
		"timeout",
		"unavailable",
		"eof",
	}
)

// Classify wraps a raw failure from a node client into a ChainError. Errors
// that are already classified pass through unchanged.
func Classify(chain domain.ChainID, op string, err error) error {
	if err == nil {
		return nil
	}

	var ce *domain.ChainError
	var unknown *domain.SubmissionUnknownError
	var ve *domain.ValidationError
	if errors.As(err, &ce) || errors.As(err, &unknown) || errors.As(err, &ve) {
		return err
	}

	msg := strings.ToLower(err.Error())
	kind := domain.ErrNetwork
	retryable := false

	switch {
	case containsAny(msg, insufficientFundsMarkers):
		kind = domain.ErrInsufficientFunds
	case containsAny(msg, invalidAddressMarkers):
		kind = domain.ErrInvalidAddress
	case containsAny(msg, retryableSubmissionMarkers):
		kind = domain.ErrSubmission
		retryable = true
	case isNetworkError(err, msg):
		kind = domain.ErrNetwork
	case op == OpSend:
		kind = domain.ErrSubmission
	}

	return &domain.ChainError{Kind: kind, Chain: chain, Op: op, Retryable: retryable, Err: err}
}

// ClassifyBroadcast is Classify for the broadcast step itself. A transport
// failure there leaves the outcome unknown, so it must not be retried.
func ClassifyBroadcast(chain domain.ChainID, hash string, err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if isNetworkError(err, msg) && !containsAny(msg, insufficientFundsMarkers) {
		return &domain.SubmissionUnknownError{Chain: chain, Hash: hash, Err: err}
	}
	return Classify(chain, OpSend, err)
}

// Operation names used in ChainError.Op.
const (
	OpBalance  = "get_balance"
	OpSend     = "send_transaction"
	OpEstimate = "estimate_fee"
	OpStatus   = "get_transaction_status"
	OpGenerate = "generate_wallet"
)

func NetworkError(chain domain.ChainID, op string, err error) error {
	return &domain.ChainError{Kind: domain.ErrNetwork, Chain: chain, Op: op, Err: err}
}

func SubmissionError(chain domain.ChainID, err error) error {
	return &domain.ChainError{Kind: domain.ErrSubmission, Chain: chain, Op: OpSend, Err: err}
}

func InsufficientFunds(chain domain.ChainID, op string, err error) error {
	return &domain.ChainError{Kind: domain.ErrInsufficientFunds, Chain: chain, Op: op, Err: err}
}

func InvalidAddress(chain domain.ChainID, address string) error {
	return &domain.ChainError{
		Kind:  domain.ErrInvalidAddress,
		Chain: chain,
		Op:    "validate_address",
		Err:   errors.New(address),
	}
}

func isNetworkError(err error, msg string) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return containsAny(msg, networkMarkers)
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
