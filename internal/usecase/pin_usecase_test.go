package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"custody-service/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetPinRequiresReverification(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	err := h.pinUC.SetPin(ctx, "u1", "1234", false)
	assert.ErrorIs(t, err, domain.ErrAuthorization)

	for _, bad := range []string{"123", "1234567", "12a4", "١٢٣٤"} {
		assert.ErrorIs(t, h.pinUC.SetPin(ctx, "u1", bad, true), domain.ErrValidation, bad)
	}

	require.NoError(t, h.pinUC.SetPin(ctx, "u1", "123456", true))
	st, err := h.pinUC.GetPinStatus(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, st.PinSet)
	assert.Equal(t, domain.PinStateActive, st.State)
	assert.NotEqual(t, "123456", *h.pinRows.rows["u1"].HashedPin)
}

func TestVerifyPinNotSet(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	err := h.pinUC.VerifyPin(ctx, "nobody", "1234")
	assert.ErrorIs(t, err, domain.ErrPinNotSet)
	assert.ErrorIs(t, err, domain.ErrAuthorization)

	_, err = h.pinUC.AuthorizeTransfer(ctx, "nobody", "1234")
	assert.ErrorIs(t, err, domain.ErrPinNotSet)
	assert.ErrorIs(t, h.pinUC.UnblockPin(ctx, "nobody"), domain.ErrPinNotSet)

	// unknown users are not created by a failed verification or unblock
	assert.NotContains(t, h.pinRows.rows, "nobody")
}

func TestPinLockoutScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.pinUC.SetPin(ctx, "u1", "1234", true))

	for i := 1; i <= 9; i++ {
		err := h.pinUC.VerifyPin(ctx, "u1", "0000")
		var incorrect *domain.PinIncorrectError
		require.True(t, errors.As(err, &incorrect), "attempt %d: %v", i, err)
		assert.Equal(t, 10-i, incorrect.Remaining)
	}

	err := h.pinUC.VerifyPin(ctx, "u1", "0000")
	var locked *domain.PinLockedError
	require.True(t, errors.As(err, &locked))
	assert.Equal(t, 24*time.Hour, locked.RetryAfter)

	// the correct PIN is still refused while locked
	err = h.pinUC.VerifyPin(ctx, "u1", "1234")
	assert.ErrorIs(t, err, domain.ErrPinLocked)
	_, err = h.pinUC.AuthorizeTransfer(ctx, "u1", "1234")
	assert.ErrorIs(t, err, domain.ErrPinLocked)

	st, err := h.pinUC.GetPinStatus(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, st.IsBlocked)

	h.clock.Advance(24*time.Hour + time.Second)

	st, err = h.pinUC.GetPinStatus(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, st.IsBlocked)
	assert.Equal(t, 10, st.FailedAttempts)
	assert.Zero(t, st.RemainingAttempts)

	require.NoError(t, h.pinUC.VerifyPin(ctx, "u1", "1234"))
	assert.Zero(t, h.pinRows.rows["u1"].FailedAttempts)

	st, err = h.pinUC.GetPinStatus(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 10, st.RemainingAttempts)
}

func TestPinWrongAttemptAfterLockoutRelocks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.pinUC.SetPin(ctx, "u1", "1234", true))
	for i := 0; i < 10; i++ {
		_ = h.pinUC.VerifyPin(ctx, "u1", "0000")
	}

	h.clock.Advance(25 * time.Hour)

	err := h.pinUC.VerifyPin(ctx, "u1", "0000")
	var locked *domain.PinLockedError
	require.True(t, errors.As(err, &locked), "got %v", err)
	assert.Equal(t, 24*time.Hour, locked.RetryAfter)
	assert.Equal(t, 11, h.pinRows.rows["u1"].FailedAttempts)

	// the new lockout also refuses the correct PIN
	assert.ErrorIs(t, h.pinUC.VerifyPin(ctx, "u1", "1234"), domain.ErrPinLocked)
}

func TestPinCorrectAttemptAfterLockoutResets(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.pinUC.SetPin(ctx, "u1", "1234", true))
	for i := 0; i < 10; i++ {
		_ = h.pinUC.VerifyPin(ctx, "u1", "0000")
	}

	h.clock.Advance(25 * time.Hour)

	g, err := h.pinUC.AuthorizeTransfer(ctx, "u1", "1234")
	require.NoError(t, err)
	assert.Equal(t, 11, g.PinAttempts)
	assert.Zero(t, h.pinRows.rows["u1"].FailedAttempts)
	assert.Nil(t, h.pinRows.rows["u1"].BlockedUntil)

	var incorrect *domain.PinIncorrectError
	require.True(t, errors.As(h.pinUC.VerifyPin(ctx, "u1", "0000"), &incorrect))
	assert.Equal(t, 9, incorrect.Remaining)
}

func TestConcurrentFailuresCountOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.pinUC.SetPin(ctx, "u1", "1234", true))

	var mu sync.Mutex
	var incorrect, locked int
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := h.pinUC.VerifyPin(ctx, "u1", "9999")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, domain.ErrPinLocked):
				locked++
			case errors.Is(err, domain.ErrPinIncorrect):
				incorrect++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 9, incorrect)
	assert.Equal(t, 11, locked)
	assert.Equal(t, 10, h.pinRows.rows["u1"].FailedAttempts)
}

func TestUnblockPin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.pinUC.SetPin(ctx, "u1", "1234", true))
	for i := 0; i < 10; i++ {
		_ = h.pinUC.VerifyPin(ctx, "u1", "0000")
	}

	require.NoError(t, h.pinUC.UnblockPin(ctx, "u1"))
	require.NoError(t, h.pinUC.VerifyPin(ctx, "u1", "1234"))
}

func TestSetPinResetsCounter(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.pinUC.SetPin(ctx, "u1", "1234", true))
	for i := 0; i < 3; i++ {
		_ = h.pinUC.VerifyPin(ctx, "u1", "0000")
	}

	require.NoError(t, h.pinUC.SetPin(ctx, "u1", "5678", true))
	assert.Zero(t, h.pinRows.rows["u1"].FailedAttempts)
	assert.ErrorIs(t, h.pinUC.VerifyPin(ctx, "u1", "1234"), domain.ErrPinIncorrect)
	assert.NoError(t, h.pinUC.VerifyPin(ctx, "u1", "5678"))
}

func TestGrantSingleUse(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.pinUC.SetPin(ctx, "u1", "1234", true))
	_ = h.pinUC.VerifyPin(ctx, "u1", "0000")

	g, err := h.pinUC.AuthorizeTransfer(ctx, "u1", "1234")
	require.NoError(t, err)
	assert.Equal(t, 2, g.PinAttempts)

	_, err = h.pinUC.ConsumeGrant(ctx, g.Token, "u2")
	assert.ErrorIs(t, err, domain.ErrAuthorization, "other user")

	g, err = h.pinUC.AuthorizeTransfer(ctx, "u1", "1234")
	require.NoError(t, err)
	assert.Equal(t, 1, g.PinAttempts)

	got, err := h.pinUC.ConsumeGrant(ctx, g.Token, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)

	_, err = h.pinUC.ConsumeGrant(ctx, g.Token, "u1")
	assert.ErrorIs(t, err, domain.ErrAuthorization)
}

func TestGrantExpires(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.pinUC.SetPin(ctx, "u1", "1234", true))

	g, err := h.pinUC.AuthorizeTransfer(ctx, "u1", "1234")
	require.NoError(t, err)

	h.clock.Advance(6 * time.Minute)
	_, err = h.pinUC.ConsumeGrant(ctx, g.Token, "u1")
	assert.ErrorIs(t, err, domain.ErrAuthorization)
}
