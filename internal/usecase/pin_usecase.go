// internal/usecase/pin_usecase.go
package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"custody-service/internal/domain"
	"custody-service/pkg/cache"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const grantNamespace = "transfer_grant"

// Grant is a single-use proof that the PIN gate approved a transfer.
type Grant struct {
	Token       string    `json:"token"`
	UserID      string    `json:"user_id"`
	PinAttempts int       `json:"pin_attempts"`
	ExpiresAt   time.Time `json:"expires_at"`
}

var errGrantInvalid = fmt.Errorf("%w: transfer authorization missing, expired or already used", domain.ErrAuthorization)

// PinUsecase is the PIN authorization gate.
type PinUsecase struct {
	pins     PinStore
	hasher   PinHasher
	grants   cache.Store
	policy   domain.PinPolicy
	grantTTL time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

func NewPinUsecase(
	pins PinStore,
	hasher PinHasher,
	grants cache.Store,
	policy domain.PinPolicy,
	grantTTL time.Duration,
	logger *zap.Logger,
) *PinUsecase {
	if grantTTL <= 0 {
		grantTTL = 5 * time.Minute
	}
	return &PinUsecase{
		pins:     pins,
		hasher:   hasher,
		grants:   grants,
		policy:   policy,
		grantTTL: grantTTL,
		logger:   logger,
		now:      time.Now,
	}
}

// validatePinFormat accepts 4 to 6 ASCII digits.
func validatePinFormat(pin string) error {
	if len(pin) < 4 || len(pin) > 6 {
		return domain.NewValidationError("pin", "pin must be 4 to 6 digits")
	}
	for i := 0; i < len(pin); i++ {
		if pin[i] < '0' || pin[i] > '9' {
			return domain.NewValidationError("pin", "pin must contain digits only")
		}
	}
	return nil
}

// SetPin sets or replaces the PIN. The caller asserts the user passed
// identity re-verification.
func (uc *PinUsecase) SetPin(ctx context.Context, userID, pin string, reverified bool) error {
	if !reverified {
		return fmt.Errorf("%w: identity re-verification required to set pin", domain.ErrAuthorization)
	}
	if err := validatePinFormat(pin); err != nil {
		return err
	}

	hash, err := uc.hasher.Hash(pin)
	if err != nil {
		return err
	}

	err = uc.pins.Upsert(ctx, userID, func(s *domain.PinState) error {
		s.HashedPin = &hash
		s.Reset(uc.now())
		return nil
	})
	if err != nil {
		return err
	}

	uc.logger.Info("PIN set", zap.String("user_id", userID))
	return nil
}

// VerifyPin checks pin against the stored hash under the per-user lock.
func (uc *PinUsecase) VerifyPin(ctx context.Context, userID, pin string) error {
	_, err := uc.verify(ctx, userID, pin)
	return err
}

// verify returns the failed attempts that preceded a successful check.
func (uc *PinUsecase) verify(ctx context.Context, userID, pin string) (int, error) {
	if err := validatePinFormat(pin); err != nil {
		return 0, err
	}

	var prior int
	err := uc.pins.Mutate(ctx, userID, func(s *domain.PinState) error {
		now := uc.now()
		if err := s.BeginVerification(now); err != nil {
			return err
		}

		ok, err := uc.hasher.Compare(*s.HashedPin, pin)
		if err != nil {
			return err
		}
		if !ok {
			return s.RecordFailure(now, uc.policy)
		}
		prior = s.RecordSuccess(now)
		return nil
	})
	if err != nil {
		var locked *domain.PinLockedError
		switch {
		case errors.As(err, &locked):
			uc.logger.Warn("PIN locked",
				zap.String("user_id", userID),
				zap.Time("blocked_until", locked.BlockedUntil))
		case errors.Is(err, domain.ErrPinIncorrect):
			uc.logger.Info("PIN incorrect", zap.String("user_id", userID))
		}
		return 0, err
	}
	return prior, nil
}

// AuthorizeTransfer verifies the PIN and issues a single-use grant.
func (uc *PinUsecase) AuthorizeTransfer(ctx context.Context, userID, pin string) (*Grant, error) {
	prior, err := uc.verify(ctx, userID, pin)
	if err != nil {
		return nil, err
	}

	grant := &Grant{
		Token:       uuid.New().String(),
		UserID:      userID,
		PinAttempts: prior + 1,
		ExpiresAt:   uc.now().Add(uc.grantTTL).UTC(),
	}
	payload, err := json.Marshal(grant)
	if err != nil {
		return nil, fmt.Errorf("failed to encode grant: %w", err)
	}
	if err := uc.grants.Set(ctx, grantNamespace, grant.Token, payload, uc.grantTTL); err != nil {
		return nil, fmt.Errorf("failed to store grant: %w", err)
	}
	return grant, nil
}

// ConsumeGrant redeems a grant for userID. A grant can be redeemed once.
func (uc *PinUsecase) ConsumeGrant(ctx context.Context, token, userID string) (*Grant, error) {
	if token == "" {
		return nil, errGrantInvalid
	}

	payload, err := uc.grants.GetDel(ctx, grantNamespace, token)
	if err != nil {
		if errors.Is(err, cache.ErrMiss) {
			return nil, errGrantInvalid
		}
		return nil, fmt.Errorf("failed to read grant: %w", err)
	}

	var grant Grant
	if err := json.Unmarshal(payload, &grant); err != nil {
		return nil, fmt.Errorf("failed to decode grant: %w", err)
	}
	if grant.UserID != userID || !uc.now().Before(grant.ExpiresAt) {
		return nil, errGrantInvalid
	}
	return &grant, nil
}

// GetPinStatus is a read-only view; an expired lockout shows as active.
func (uc *PinUsecase) GetPinStatus(ctx context.Context, userID string) (domain.PinStatus, error) {
	s, err := uc.pins.Get(ctx, userID)
	if err != nil {
		return domain.PinStatus{}, err
	}
	return s.Status(uc.now(), uc.policy), nil
}

// UnblockPin clears lockout state regardless of expiry. A user without a
// row gets PinNotSetError.
func (uc *PinUsecase) UnblockPin(ctx context.Context, userID string) error {
	err := uc.pins.Mutate(ctx, userID, func(s *domain.PinState) error {
		s.Reset(uc.now())
		return nil
	})
	if err != nil {
		return err
	}
	uc.logger.Info("PIN unblocked", zap.String("user_id", userID))
	return nil
}
