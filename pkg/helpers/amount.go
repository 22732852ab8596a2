// Package helpers provides amount conversion and small byte/hex utilities
// shared by the wallet engine and its RPC surface.
package helpers

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// SatoshisPerBTC is the number of satoshis in one bitcoin.
const SatoshisPerBTC = 100_000_000

// BTCDecimals is the number of decimal places of a BTC amount.
const BTCDecimals = 8

// MaxSatoshis is the total bitcoin supply in satoshis.
const MaxSatoshis = 21_000_000 * SatoshisPerBTC

var (
	ErrEmptyAmount     = errors.New("empty amount")
	ErrNegativeAmount  = errors.New("negative amount")
	ErrAmountPrecision = errors.New("too many decimal places")
	ErrAmountOverflow  = errors.New("amount exceeds supply")
)

// FormatAmount formats an amount in smallest units as a decimal string with
// trailing zeros trimmed. FormatAmount(150000000, 8) returns "1.5".
func FormatAmount(amount uint64, decimals uint8) string {
	return decimal.New(int64(amount), -int32(decimals)).String()
}

// ParseAmount parses a decimal string into smallest units. More fractional
// digits than decimals is an error rather than a silent truncation.
func ParseAmount(s string, decimals uint8) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrEmptyAmount
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("%w: %s", ErrNegativeAmount, s)
	}

	scaled := d.Shift(int32(decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s has more than %d", ErrAmountPrecision, s, decimals)
	}
	if !scaled.BigInt().IsUint64() {
		return 0, fmt.Errorf("%w: %s", ErrAmountOverflow, s)
	}

	return scaled.BigInt().Uint64(), nil
}

// SatoshisToBTC converts satoshis to a BTC string with trailing zeros trimmed.
func SatoshisToBTC(satoshis uint64) string {
	return FormatAmount(satoshis, BTCDecimals)
}

// FormatBTC converts satoshis to a BTC string with exactly 8 decimals.
func FormatBTC(satoshis uint64) string {
	return decimal.New(int64(satoshis), -BTCDecimals).StringFixed(BTCDecimals)
}

// BTCToSatoshis converts a BTC string to satoshis, rejecting amounts above
// the 21M BTC supply.
func BTCToSatoshis(btc string) (uint64, error) {
	sats, err := ParseAmount(btc, BTCDecimals)
	if err != nil {
		return 0, err
	}
	if sats > MaxSatoshis {
		return 0, fmt.Errorf("%w: %s BTC", ErrAmountOverflow, btc)
	}
	return sats, nil
}
