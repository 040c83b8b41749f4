package domain

import (
	"errors"
	"fmt"
	"time"
)

// Error kinds. Callers branch on these with errors.Is.
var (
	ErrValidation        = errors.New("validation error")
	ErrAuthorization     = errors.New("authorization error")
	ErrPinNotSet         = errors.New("pin not set")
	ErrPinLocked         = errors.New("pin locked")
	ErrPinIncorrect      = errors.New("pin incorrect")
	ErrNetwork           = errors.New("network error")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAddress    = errors.New("invalid address")
	ErrSubmission        = errors.New("submission error")
	ErrDecryption        = errors.New("decryption error")
	ErrDuplicateWallet   = errors.New("duplicate wallet")
	ErrUnsupportedToken  = errors.New("unsupported token")
	ErrKeyGeneration     = errors.New("key generation error")
	ErrUnsupportedChain  = errors.New("unsupported chain")
	ErrNotFound          = errors.New("not found")
)

// ValidationError carries the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Reason
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// PinLockedError is returned while a lockout window is active.
type PinLockedError struct {
	BlockedUntil time.Time
	RetryAfter   time.Duration
}

func (e *PinLockedError) Error() string {
	return fmt.Sprintf("pin locked: retry after %s", e.RetryAfter.Round(time.Second))
}

func (e *PinLockedError) Is(target error) bool {
	return target == ErrPinLocked || target == ErrAuthorization
}

// PinIncorrectError reports how many attempts remain before lockout.
type PinIncorrectError struct {
	Remaining int
}

func (e *PinIncorrectError) Error() string {
	return fmt.Sprintf("pin incorrect: %d attempts remaining", e.Remaining)
}

func (e *PinIncorrectError) Is(target error) bool {
	return target == ErrPinIncorrect || target == ErrAuthorization
}

// PinNotSetError is returned when the user has no PIN configured.
type PinNotSetError struct{}

func (e *PinNotSetError) Error() string { return "pin not set" }

func (e *PinNotSetError) Is(target error) bool {
	return target == ErrPinNotSet || target == ErrAuthorization
}

// ChainError is a raw adapter failure classified into one of the chain
// error kinds (network, insufficient funds, invalid address, submission).
type ChainError struct {
	Kind      error
	Chain     ChainID
	Op        string
	Retryable bool
	Err       error
}

func (e *ChainError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %v", e.Chain, e.Op, e.Kind)
	}
	return fmt.Sprintf("%s %s: %v: %v", e.Chain, e.Op, e.Kind, e.Err)
}

func (e *ChainError) Is(target error) bool {
	return target == e.Kind
}

func (e *ChainError) Unwrap() error {
	return e.Err
}

// SubmissionUnknownError means broadcast started but its outcome is not
// known. Hash is the locally computed transaction hash, possibly empty.
type SubmissionUnknownError struct {
	Chain ChainID
	Hash  string
	Err   error
}

func (e *SubmissionUnknownError) Error() string {
	return fmt.Sprintf("%s submission outcome unknown (hash %q): %v", e.Chain, e.Hash, e.Err)
}

func (e *SubmissionUnknownError) Is(target error) bool {
	return target == ErrSubmission
}

func (e *SubmissionUnknownError) Unwrap() error {
	return e.Err
}

// IsRetryableSubmission reports whether err is a definitive rejection that
// may be retried once without risking a duplicate broadcast.
func IsRetryableSubmission(err error) bool {
	var unknown *SubmissionUnknownError
	if errors.As(err, &unknown) {
		return false
	}
	var ce *ChainError
	if errors.As(err, &ce) {
		return ce.Kind == ErrSubmission && ce.Retryable
	}
	return false
}
