package sats

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Satoshi arithmetic for the gateway. All monetary values are carried as
// int64 satoshis end to end; floating point never touches an amount that
// gets persisted or charged.

const (
	// Decimals is the number of fractional digits in one sBTC.
	Decimals = 8

	// PerBTC is the number of satoshis in one BTC/sBTC.
	PerBTC int64 = 100_000_000

	// MaxAmount is the total sBTC/BTC supply expressed in satoshis.
	// No single payment intent can exceed it.
	MaxAmount int64 = 2_100_000_000_000_000
)

var (
	// ErrInvalidFormat occurs when an amount string cannot be parsed.
	ErrInvalidFormat = errors.New("sats: invalid amount format")

	// ErrNonPositive occurs when a normalized amount is zero or negative.
	ErrNonPositive = errors.New("sats: amount must be positive")

	// ErrExceedsSupply occurs when a normalized amount exceeds the total supply.
	ErrExceedsSupply = errors.New("sats: amount exceeds total supply")
)

// Unit identifies the denomination of a caller-supplied amount.
type Unit string

const (
	UnitSBTC Unit = "sbtc" // decimal sBTC, e.g. "0.0005"
	UnitSats Unit = "sats" // raw satoshis, e.g. "50000"
)

// ParseUnit normalizes a currency hint into a Unit. An empty hint defaults
// to sBTC, matching the public API where amounts are quoted in sBTC.
func ParseUnit(s string) (Unit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sbtc", "btc":
		return UnitSBTC, nil
	case "sats", "sat", "satoshi", "satoshis":
		return UnitSats, nil
	default:
		return "", fmt.Errorf("%w: unknown currency %q", ErrInvalidFormat, s)
	}
}

// Normalize converts a caller-supplied amount string in the given unit into
// canonical satoshis. Decimal sBTC amounts are floored, never rounded up:
// a merchant must not charge more than the customer asked to pay.
// The supply ceiling is checked after conversion so that both input modes
// hit the same bound.
func Normalize(amount string, unit Unit) (int64, error) {
	var (
		value int64
		err   error
	)

	switch unit {
	case UnitSBTC:
		value, err = FromDecimal(amount)
	case UnitSats:
		value, err = fromRaw(amount)
	default:
		return 0, fmt.Errorf("%w: unknown unit %q", ErrInvalidFormat, unit)
	}
	if err != nil {
		return 0, err
	}

	if value <= 0 {
		return 0, ErrNonPositive
	}
	if value > MaxAmount {
		return 0, ErrExceedsSupply
	}
	return value, nil
}

// FromDecimal parses a decimal sBTC string into satoshis, flooring any
// precision beyond 8 fractional digits.
//
// Examples:
//   - "0.0005"      -> 50000
//   - "0.000499999" -> 49999 (floored, not rounded)
//   - "1"           -> 100000000
func FromDecimal(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty amount", ErrInvalidFormat)
	}
	if strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		return 0, fmt.Errorf("%w: signs are not accepted", ErrInvalidFormat)
	}

	intPart, fracPart, hasFrac := strings.Cut(s, ".")
	if hasFrac && strings.Contains(fracPart, ".") {
		return 0, fmt.Errorf("%w: multiple decimal points", ErrInvalidFormat)
	}
	if intPart == "" && fracPart == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidFormat, s)
	}
	if intPart == "" {
		intPart = "0"
	}

	// ParseInt tolerates a sign, so both parts must be bare digits. A
	// trailing dot ("2.") keeps an empty, valid fraction.
	if !digitsOnly(intPart) || (fracPart != "" && !digitsOnly(fracPart)) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidFormat, s)
	}

	whole, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			return 0, ErrExceedsSupply
		}
		return 0, fmt.Errorf("%w: %q", ErrInvalidFormat, s)
	}

	// Truncate the fraction at 8 digits: anything finer than one satoshi
	// is floored away.
	if len(fracPart) > Decimals {
		fracPart = fracPart[:Decimals]
	}
	var frac int64
	if fracPart != "" {
		frac, err = strconv.ParseInt(fracPart, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidFormat, s)
		}
		// Scale up short fractions: "0.05" is 5 * 10^6 sats, not 5.
		for i := len(fracPart); i < Decimals; i++ {
			frac *= 10
		}
	}

	// Bounding the whole part by the supply keeps whole*PerBTC + frac far
	// below the int64 ceiling.
	if whole > MaxAmount/PerBTC {
		return 0, ErrExceedsSupply
	}
	return whole*PerBTC + frac, nil
}

func digitsOnly(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return len(s) > 0
}

// fromRaw parses a raw satoshi string into an int64.
func fromRaw(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty amount", ErrInvalidFormat)
	}
	if strings.ContainsAny(s, ".eE") {
		return 0, fmt.Errorf("%w: satoshi amounts must be integers", ErrInvalidFormat)
	}
	value, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidFormat, s)
	}
	return value, nil
}

// ToDecimal renders satoshis as a decimal sBTC string for display.
func ToDecimal(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	whole := v / PerBTC
	frac := v % PerBTC
	if frac == 0 {
		return fmt.Sprintf("%s%d", sign, whole)
	}
	fracStr := strings.TrimRight(fmt.Sprintf("%08d", frac), "0")
	return fmt.Sprintf("%s%d.%s", sign, whole, fracStr)
}
