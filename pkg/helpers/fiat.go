package helpers

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// DefaultMaxFiatAmount is the largest fiat amount a single payment may carry.
var DefaultMaxFiatAmount = decimal.NewFromInt(100_000)

var (
	ErrFiatAmountNotPositive = errors.New("fiat amount must be greater than zero")
	ErrFiatAmountTooLarge    = errors.New("fiat amount exceeds limit")
	ErrInvalidPrice          = errors.New("price must be greater than zero")
)

// ValidateFiatAmount checks 0 < amount <= max. A zero max falls back to
// DefaultMaxFiatAmount.
func ValidateFiatAmount(amount, max decimal.Decimal) error {
	if max.IsZero() {
		max = DefaultMaxFiatAmount
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s", ErrFiatAmountNotPositive, amount)
	}
	if amount.GreaterThan(max) {
		return fmt.Errorf("%w: %s > %s", ErrFiatAmountTooLarge, amount, max)
	}
	return nil
}

// FiatToSatoshis converts a fiat amount to satoshis at pricePerBTC (fiat
// units per whole bitcoin), rounding half-up to the nearest satoshi.
func FiatToSatoshis(amount, pricePerBTC decimal.Decimal) (uint64, error) {
	if !pricePerBTC.IsPositive() {
		return 0, fmt.Errorf("%w: %s", ErrInvalidPrice, pricePerBTC)
	}
	if amount.IsNegative() {
		return 0, fmt.Errorf("%w: %s", ErrNegativeAmount, amount)
	}

	sats := amount.Div(pricePerBTC).Shift(BTCDecimals).Round(0)
	if sats.GreaterThan(decimal.NewFromInt(MaxSatoshis)) {
		return 0, fmt.Errorf("%w: %s", ErrAmountOverflow, sats)
	}
	return uint64(sats.IntPart()), nil
}

// SatoshisToFiat values an amount of satoshis at pricePerBTC, rounded to
// two decimal places.
func SatoshisToFiat(satoshis uint64, pricePerBTC decimal.Decimal) decimal.Decimal {
	return decimal.New(int64(satoshis), -BTCDecimals).Mul(pricePerBTC).Round(2)
}
