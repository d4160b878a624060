// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package txbuilder

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/BoostyLabs/chimera/bitcoin"
	"github.com/BoostyLabs/chimera/errs"
)

// BalanceType defines which balance is not enough to build a draft.
type BalanceType string

const (
	// InsufficientErrorTypeBitcoin defines insufficient bitcoin balance error type.
	InsufficientErrorTypeBitcoin BalanceType = "bitcoin"
	// InsufficientErrorTypeRune defines insufficient rune balance error type.
	InsufficientErrorTypeRune BalanceType = "rune"
)

// InsufficientError describes a balance that can not cover a draft, selection never
// returns a partial set of utxos together with it.
type InsufficientError struct {
	Type   BalanceType
	Asset  string // rune id for rune balance errors.
	Need   *big.Int
	Have   *big.Int
	Causer Owner // side whose balance is short, empty when unknown.
}

// Error returns error description.
func (e *InsufficientError) Error() string {
	var sb strings.Builder
	sb.WriteString("insufficient ")
	sb.WriteString(string(e.Type))
	sb.WriteString(" balance")

	if e.Asset != "" {
		sb.WriteString(" of " + e.Asset)
	}
	if e.Causer != "" {
		sb.WriteString(" on " + string(e.Causer) + " side")
	}
	if e.Need != nil && e.Have != nil {
		fmt.Fprintf(&sb, ": need %s, have %s", e.Need, e.Have)
	}

	return sb.String()
}

// Kind classifies the error for callers.
func (e *InsufficientError) Kind() errs.Kind {
	return errs.InsufficientFunds
}

// Is matches errors of the same balance type and the balance sentinels of the bitcoin package.
func (e *InsufficientError) Is(target error) bool {
	var other *InsufficientError
	if errors.As(target, &other) {
		return other.Type == e.Type
	}

	sentinels := map[BalanceType]error{
		InsufficientErrorTypeBitcoin: bitcoin.ErrInsufficientNativeBalance,
		InsufficientErrorTypeRune:    bitcoin.ErrInsufficientRuneBalance,
	}

	return sentinels[e.Type] == target
}

// withAmounts returns copy of the error with Need and Have set.
func (e *InsufficientError) withAmounts(need, have *big.Int) *InsufficientError {
	clarified := *e
	clarified.Need, clarified.Have = need, have

	return &clarified
}

// on marks the side whose balance is short.
func (e *InsufficientError) on(owner Owner) *InsufficientError {
	e.Causer = owner
	return e
}
