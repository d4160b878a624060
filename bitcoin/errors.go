// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package bitcoin

import "errors"

var (
	// ErrInsufficientNativeBalance defines that provided utxos do not cover bitcoin amount.
	ErrInsufficientNativeBalance = errors.New("insufficient bitcoin balance")
	// ErrInsufficientRuneBalance defines that provided utxos do not cover rune amount.
	ErrInsufficientRuneBalance = errors.New("insufficient rune balance")
	// ErrDustOutput defines output value below the relay dust limit.
	ErrDustOutput = errors.New("output value is below dust limit")
)
