package utils

import (
	"fmt"
	"math/big"
	"strings"

	"custody-service/internal/domain"

	"github.com/shopspring/decimal"
)

// ParseAmount parses a caller-supplied decimal string. Amounts must be
// strictly positive.
func ParseAmount(amountStr string) (decimal.Decimal, error) {
	amountStr = strings.TrimSpace(amountStr)
	if amountStr == "" {
		return decimal.Zero, domain.NewValidationError("amount", "amount is required")
	}

	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return decimal.Zero, domain.NewValidationError("amount", "invalid decimal format")
	}
	if amount.Sign() <= 0 {
		return decimal.Zero, domain.NewValidationError("amount", "amount must be positive")
	}
	return amount, nil
}

// ToBaseUnits converts a decimal amount to the smallest unit of an asset
// (wei, sun, satoshi). Precision finer than one base unit is rejected
// rather than truncated.
func ToBaseUnits(amount decimal.Decimal, decimals int32) (*big.Int, error) {
	shifted := amount.Shift(decimals)
	if !shifted.IsInteger() {
		return nil, domain.NewValidationError("amount",
			fmt.Sprintf("amount has more than %d decimal places", decimals))
	}
	return shifted.BigInt(), nil
}

// FromBaseUnits converts a base-unit integer to a decimal amount.
func FromBaseUnits(value *big.Int, decimals int32) decimal.Decimal {
	if value == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(value, -decimals)
}

// FormatAmount renders an amount with its symbol, e.g. "1.5 ETH".
func FormatAmount(amount decimal.Decimal, symbol string) string {
	return fmt.Sprintf("%s %s", amount.String(), symbol)
}

// StringPtr returns pointer to string
func StringPtr(s string) *string {
	return &s
}

// Int64Ptr returns pointer to int64
func Int64Ptr(i int64) *int64 {
	return &i
}

func Uint64Ptr(i uint64) *uint64 {
	return &i
}

func DecimalPtr(d decimal.Decimal) *decimal.Decimal {
	return &d
}
