package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pinState() *PinState {
	hash := "hash"
	return &PinState{UserID: "u1", HashedPin: &hash}
}

func TestPinStateNoPin(t *testing.T) {
	s := &PinState{UserID: "u1"}
	now := time.Now()

	assert.Equal(t, PinStateNoPin, s.State(now))
	err := s.BeginVerification(now)
	assert.ErrorIs(t, err, ErrPinNotSet)
	assert.ErrorIs(t, err, ErrAuthorization)
}

func TestPinStateFailuresLock(t *testing.T) {
	policy := DefaultPinPolicy()
	s := pinState()
	now := time.Now()

	for i := 1; i < policy.MaxAttempts; i++ {
		require.NoError(t, s.BeginVerification(now))
		err := s.RecordFailure(now, policy)
		var incorrect *PinIncorrectError
		require.True(t, errors.As(err, &incorrect))
		assert.Equal(t, policy.MaxAttempts-i, incorrect.Remaining)
	}

	require.NoError(t, s.BeginVerification(now))
	err := s.RecordFailure(now, policy)
	var locked *PinLockedError
	require.True(t, errors.As(err, &locked))
	assert.Equal(t, policy.LockoutDuration, locked.RetryAfter)
	assert.Equal(t, PinStateLocked, s.State(now))

	// still locked one hour later, regardless of the PIN supplied
	later := now.Add(time.Hour)
	err = s.BeginVerification(later)
	require.True(t, errors.As(err, &locked))
	assert.Equal(t, 23*time.Hour, locked.RetryAfter)
}

func expiredLock(now time.Time, policy PinPolicy) *PinState {
	s := pinState()
	until := now.Add(-time.Second)
	s.FailedAttempts = policy.MaxAttempts
	s.BlockedUntil = &until
	return s
}

func TestPinStateExpiredLockKeepsCounter(t *testing.T) {
	policy := DefaultPinPolicy()
	now := time.Now()
	s := expiredLock(now, policy)

	assert.Equal(t, PinStateActive, s.State(now))
	require.NoError(t, s.BeginVerification(now))
	assert.Nil(t, s.BlockedUntil)
	assert.Equal(t, policy.MaxAttempts, s.FailedAttempts)

	err := s.RecordFailure(now, policy)
	var locked *PinLockedError
	require.True(t, errors.As(err, &locked))
	assert.Equal(t, policy.MaxAttempts+1, s.FailedAttempts)
	assert.Equal(t, PinStateLocked, s.State(now))
	assert.Equal(t, policy.LockoutDuration, locked.RetryAfter)
}

func TestPinStateExpiredLockSuccessResets(t *testing.T) {
	policy := DefaultPinPolicy()
	now := time.Now()
	s := expiredLock(now, policy)

	require.NoError(t, s.BeginVerification(now))
	prior := s.RecordSuccess(now)
	assert.Equal(t, policy.MaxAttempts, prior)
	assert.Zero(t, s.FailedAttempts)
	assert.Equal(t, PinStateActive, s.State(now))
}

func TestPinStatusExpiredLock(t *testing.T) {
	policy := DefaultPinPolicy()
	now := time.Now()
	s := expiredLock(now, policy)

	st := s.Status(now, policy)
	assert.Equal(t, PinStateActive, st.State)
	assert.False(t, st.IsBlocked)
	assert.Equal(t, policy.MaxAttempts, st.FailedAttempts)
	assert.Zero(t, st.RemainingAttempts)
}

func TestPinStateSuccessResets(t *testing.T) {
	s := pinState()
	now := time.Now()
	s.FailedAttempts = 3

	prior := s.RecordSuccess(now)
	assert.Equal(t, 3, prior)
	assert.Zero(t, s.FailedAttempts)
}

func TestPinStatus(t *testing.T) {
	policy := DefaultPinPolicy()
	s := pinState()
	now := time.Now()
	s.FailedAttempts = 4

	st := s.Status(now, policy)
	assert.True(t, st.PinSet)
	assert.False(t, st.IsBlocked)
	assert.Equal(t, 6, st.RemainingAttempts)

	until := now.Add(time.Minute)
	s.BlockedUntil = &until
	s.FailedAttempts = 10
	st = s.Status(now, policy)
	assert.True(t, st.IsBlocked)
	assert.Equal(t, PinStateLocked, st.State)
	assert.Zero(t, st.RemainingAttempts)
}

func TestTxStatusTransitions(t *testing.T) {
	assert.True(t, TxStatusPending.CanTransitionTo(TxStatusConfirmed))
	assert.True(t, TxStatusPending.CanTransitionTo(TxStatusFailed))
	assert.False(t, TxStatusConfirmed.CanTransitionTo(TxStatusPending))
	assert.False(t, TxStatusFailed.CanTransitionTo(TxStatusConfirmed))
	assert.False(t, TxStatusPending.CanTransitionTo(TxStatusPending))
}

func TestParseChain(t *testing.T) {
	c, err := ParseChain(" Ethereum ")
	require.NoError(t, err)
	assert.Equal(t, ChainEthereum, c)
	assert.Equal(t, ChainModelUTXO, ChainBitcoin.Model())
	assert.True(t, ChainBSC.IsEVM())

	_, err = ParseChain("dogecoin")
	assert.ErrorIs(t, err, ErrValidation)
}
