// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package numbers

import (
	"math/big"
)

// MaxUInt128Value defines maximum value of uint128 type, the largest rune amount.
var MaxUInt128Value = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// IsPositive returns true if the number is grater than zero.
func IsPositive(num *big.Int) bool {
	return num != nil && num.Sign() > 0
}

// IsLess returns true is a < b.
func IsLess(a, b *big.Int) bool {
	return a.Cmp(b) < 0
}

// FitsUint128 returns true if the number is in [0, 2^128).
func FitsUint128(num *big.Int) bool {
	return num != nil && num.Sign() >= 0 && num.Cmp(MaxUInt128Value) <= 0
}
