// internal/repository/user_pin_repo.go
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"custody-service/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UserPinRepository stores the PIN fields of the users table.
type UserPinRepository struct {
	pool *pgxpool.Pool
}

func NewUserPinRepository(pool *pgxpool.Pool) *UserPinRepository {
	return &UserPinRepository{pool: pool}
}

// Get reads the PIN state without locking. An unknown user has no PIN.
func (r *UserPinRepository) Get(ctx context.Context, userID string) (*domain.PinState, error) {
	query := `
		SELECT id, hashed_pin, pin_failed_attempts, pin_blocked_until, COALESCE(pin_updated_at, created_at)
		FROM users
		WHERE id = $1
	`

	s, err := scanPinState(r.pool.QueryRow(ctx, query, userID))
	if err != nil {
		if nf := notFound(err, "user"); nf != nil {
			return &domain.PinState{UserID: userID}, nil
		}
		return nil, fmt.Errorf("failed to get pin state: %w", err)
	}
	return s, nil
}

// Mutate runs fn on the user's PIN state under a row lock and writes the
// state back in the same transaction. The state is written even when fn
// returns an error, so a failed verification still counts; fn's error is
// returned after commit. A missing user row yields PinNotSetError and
// nothing is written.
func (r *UserPinRepository) Mutate(ctx context.Context, userID string, fn func(s *domain.PinState) error) error {
	return r.mutate(ctx, userID, false, fn)
}

// Upsert is Mutate that creates the user row first. Used when setting a PIN.
func (r *UserPinRepository) Upsert(ctx context.Context, userID string, fn func(s *domain.PinState) error) error {
	return r.mutate(ctx, userID, true, fn)
}

func (r *UserPinRepository) mutate(ctx context.Context, userID string, create bool, fn func(s *domain.PinState) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if create {
		if _, err := tx.Exec(ctx, `INSERT INTO users (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, userID); err != nil {
			return fmt.Errorf("failed to ensure user row: %w", err)
		}
	}

	query := `
		SELECT id, hashed_pin, pin_failed_attempts, pin_blocked_until, COALESCE(pin_updated_at, created_at)
		FROM users
		WHERE id = $1
		FOR UPDATE
	`
	state, err := scanPinState(tx.QueryRow(ctx, query, userID))
	if err != nil {
		return pinLockError(err)
	}

	fnErr := fn(state)

	update := `
		UPDATE users
		SET hashed_pin = $1, pin_failed_attempts = $2, pin_blocked_until = $3, pin_updated_at = $4
		WHERE id = $5
	`
	updatedAt := state.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	if _, err := tx.Exec(ctx, update, state.HashedPin, state.FailedAttempts, state.BlockedUntil, updatedAt, userID); err != nil {
		return fmt.Errorf("failed to update pin state: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit pin state: %w", err)
	}
	return fnErr
}

// pinLockError maps a failed row lock. A user without a row has no PIN.
func pinLockError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return &domain.PinNotSetError{}
	}
	return fmt.Errorf("failed to lock pin state: %w", err)
}

func scanPinState(row rowScanner) (*domain.PinState, error) {
	s := &domain.PinState{}
	if err := row.Scan(&s.UserID, &s.HashedPin, &s.FailedAttempts, &s.BlockedUntil, &s.UpdatedAt); err != nil {
		return nil, err
	}
	return s, nil
}
