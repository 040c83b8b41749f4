package domain

import "time"

// PinGateState is the per-user state of the PIN authorization gate.
type PinGateState string

const (
	PinStateNoPin  PinGateState = "NO_PIN"
	PinStateActive PinGateState = "ACTIVE"
	PinStateLocked PinGateState = "LOCKED"
)

type PinPolicy struct {
	MaxAttempts     int
	LockoutDuration time.Duration
}

func DefaultPinPolicy() PinPolicy {
	return PinPolicy{
		MaxAttempts:     10,
		LockoutDuration: 24 * time.Hour,
	}
}

// PinState holds the PIN fields of a user row.
type PinState struct {
	UserID         string
	HashedPin      *string
	FailedAttempts int
	BlockedUntil   *time.Time
	UpdatedAt      time.Time
}

// PinStatus is a read-only snapshot for callers.
type PinStatus struct {
	PinSet            bool         `json:"pin_set"`
	State             PinGateState `json:"state"`
	IsBlocked         bool         `json:"is_blocked"`
	BlockedUntil      *time.Time   `json:"blocked_until,omitempty"`
	FailedAttempts    int          `json:"failed_attempts"`
	RemainingAttempts int          `json:"remaining_attempts"`
}

func (s *PinState) locked(now time.Time) bool {
	return s.BlockedUntil != nil && now.Before(*s.BlockedUntil)
}

// State evaluates the gate state at now without mutating s.
func (s *PinState) State(now time.Time) PinGateState {
	if s.locked(now) {
		return PinStateLocked
	}
	if s.HashedPin == nil {
		return PinStateNoPin
	}
	return PinStateActive
}

// BeginVerification runs the checks that precede the hash comparison.
// An expired lockout is cleared first, so the attempt is judged as ACTIVE.
// The failed counter is kept: one more wrong PIN locks again.
func (s *PinState) BeginVerification(now time.Time) error {
	if s.locked(now) {
		return &PinLockedError{
			BlockedUntil: *s.BlockedUntil,
			RetryAfter:   s.BlockedUntil.Sub(now),
		}
	}
	if s.BlockedUntil != nil {
		s.BlockedUntil = nil
		s.UpdatedAt = now
	}
	if s.HashedPin == nil {
		return &PinNotSetError{}
	}
	return nil
}

// RecordSuccess resets the counter and returns the failed attempts that
// preceded this verification.
func (s *PinState) RecordSuccess(now time.Time) int {
	prior := s.FailedAttempts
	s.FailedAttempts = 0
	s.BlockedUntil = nil
	s.UpdatedAt = now
	return prior
}

// RecordFailure increments the counter and locks once it reaches the policy maximum.
func (s *PinState) RecordFailure(now time.Time, policy PinPolicy) error {
	s.FailedAttempts++
	s.UpdatedAt = now
	if s.FailedAttempts >= policy.MaxAttempts {
		until := now.Add(policy.LockoutDuration)
		s.BlockedUntil = &until
		return &PinLockedError{BlockedUntil: until, RetryAfter: policy.LockoutDuration}
	}
	return &PinIncorrectError{Remaining: policy.MaxAttempts - s.FailedAttempts}
}

// Reset clears lockout state, used by admin unblock and PIN (re)set.
func (s *PinState) Reset(now time.Time) {
	s.FailedAttempts = 0
	s.BlockedUntil = nil
	s.UpdatedAt = now
}

func (s *PinState) Status(now time.Time, policy PinPolicy) PinStatus {
	st := PinStatus{
		PinSet:         s.HashedPin != nil,
		State:          s.State(now),
		FailedAttempts: s.FailedAttempts,
	}
	if st.State == PinStateLocked {
		st.IsBlocked = true
		until := *s.BlockedUntil
		st.BlockedUntil = &until
		return st
	}
	st.RemainingAttempts = policy.MaxAttempts - st.FailedAttempts
	if st.RemainingAttempts < 0 {
		st.RemainingAttempts = 0
	}
	return st
}
