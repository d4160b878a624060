// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package runes

import "fmt"

// CenotaphReason defines which runestone part violates the protocol.
type CenotaphReason byte

const (
	// CenotaphPointer defines pointer outside of the transaction outputs.
	CenotaphPointer CenotaphReason = iota + 1
	// CenotaphMint defines mint of impossible rune id.
	CenotaphMint
	// CenotaphEdict defines malformed edict.
	CenotaphEdict
)

// String returns reason name.
func (r CenotaphReason) String() string {
	switch r {
	case CenotaphPointer:
		return "pointer"
	case CenotaphMint:
		return "mint"
	case CenotaphEdict:
		return "edict"
	}

	return fmt.Sprintf("reason(%d)", byte(r))
}

// CenotaphError describes runestone which the protocol would burn, it matches ErrCenotaph.
type CenotaphError struct {
	Reason CenotaphReason
	Detail string
}

func (e *CenotaphError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrCenotaph.Error(), e.Reason, e.Detail)
}

// Unwrap returns ErrCenotaph.
func (e *CenotaphError) Unwrap() error {
	return ErrCenotaph
}
