package repository

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"custody-service/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestIsUniqueViolation(t *testing.T) {
	dup := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})
	assert.True(t, isUniqueViolation(dup))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, isUniqueViolation(errors.New("boom")))
}

func TestNotFound(t *testing.T) {
	err := notFound(pgx.ErrNoRows, "wallet")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Contains(t, err.Error(), "wallet")

	assert.NoError(t, notFound(errors.New("conn reset"), "wallet"))
}

func TestPinLockErrorMissingUser(t *testing.T) {
	err := pinLockError(pgx.ErrNoRows)
	assert.ErrorIs(t, err, domain.ErrPinNotSet)
	assert.ErrorIs(t, err, domain.ErrAuthorization)

	err = pinLockError(errors.New("conn reset"))
	assert.NotErrorIs(t, err, domain.ErrPinNotSet)
	assert.Contains(t, err.Error(), "failed to lock pin state")
}

func TestDecimalHelpers(t *testing.T) {
	assert.True(t, parseDecimal("0.000000000000000001").Equal(decimal.New(1, -18)))
	assert.True(t, parseDecimal("garbage").IsZero())

	assert.Nil(t, parseDecimalPtr(nil))
	s := "12.5"
	assert.Equal(t, "12.5", parseDecimalPtr(&s).String())

	assert.Nil(t, decimalArg(nil))
	d := decimal.RequireFromString("3.14")
	assert.Equal(t, "3.14", *decimalArg(&d))
}

func TestSchemaEnforcesInvariants(t *testing.T) {
	assert.Contains(t, schemaSQL, "WHERE is_active")
	assert.True(t, strings.Contains(schemaSQL, "CHECK (status IN ('pending', 'confirmed', 'failed'))"),
		"transactions.status must be constrained")
}
