package security

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// PinHasher hashes and checks PINs with bcrypt.
type PinHasher struct {
	cost int
}

func NewPinHasher(cost int) *PinHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &PinHasher{cost: cost}
}

func (h *PinHasher) Hash(pin string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash pin: %w", err)
	}
	return string(hash), nil
}

// Compare reports whether pin matches hash. A malformed hash is an error,
// a mismatch is not.
func (h *PinHasher) Compare(hash, pin string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, fmt.Errorf("failed to compare pin: %w", err)
}
