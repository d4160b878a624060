// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package runes

import (
	"errors"
	"math/big"

	"github.com/shopspring/decimal"
)

// ErrInvalidAmount defines that provided rune amount is malformed or not positive.
var ErrInvalidAmount = errors.New("invalid rune amount")

// ScaleAmount converts display units amount into minimal rune units, fractional remainder is always floored.
func ScaleAmount(display string, divisibility byte) (*big.Int, error) {
	amount, err := decimal.NewFromString(display)
	if err != nil {
		return nil, errors.Join(ErrInvalidAmount, err)
	}

	return ScaleDecimal(amount, divisibility)
}

// ScaleDecimal converts decimal display amount into minimal rune units, flooring the result.
func ScaleDecimal(amount decimal.Decimal, divisibility byte) (*big.Int, error) {
	if divisibility > MaxDivisibility {
		return nil, errors.New("too large divisibility")
	}

	scaled := amount.Shift(int32(divisibility)).Floor()
	if scaled.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	return scaled.BigInt(), nil
}

// DisplayAmount converts minimal rune units into display units.
func DisplayAmount(amount *big.Int, divisibility byte) decimal.Decimal {
	return decimal.NewFromBigInt(amount, -int32(divisibility))
}
