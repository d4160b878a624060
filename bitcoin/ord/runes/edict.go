// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package runes

import (
	"fmt"
	"math/big"
	"slices"

	"github.com/BoostyLabs/chimera/internal/sequencereader"
)

// Edict defines transfer values of the rune protocol.
type Edict struct {
	RuneID RuneID
	Amount *big.Int
	Output uint32
}

// ParseEdictsFromIntSeq parses vector of Edicts from number sequence.
func ParseEdictsFromIntSeq(sr *sequencereader.SequenceReader[*big.Int]) ([]Edict, error) {
	if sr.Len()%4 != 0 {
		return nil, ErrCenotaph
	}

	var current RuneID
	edicts := make([]Edict, 0, sr.Len()/4)
	for sr.HasNext() {
		// groups of 4 are guaranteed by the length check above.
		group, _ := sr.Take(4)

		current = current.Apply(RuneID{Block: group[0].Uint64(), TxID: uint32(group[1].Uint64())})
		edicts = append(edicts, Edict{RuneID: current, Amount: group[2], Output: uint32(group[3].Uint64())})
	}

	return edicts, nil
}

// ToIntSeq returns Edict as sequence on integers.
func (edict *Edict) ToIntSeq() []*big.Int {
	return append(edict.RuneID.ToIntSeq(), new(big.Int).Set(edict.Amount), big.NewInt(int64(edict.Output)))
}

// String returns human readable edict representation.
func (edict Edict) String() string {
	return fmt.Sprintf("{%s %s -> %d}", edict.RuneID.String(), edict.Amount.String(), edict.Output)
}

// SortEdicts sorts edicts by block number and transaction id,
// edicts of the same rune keep their relative order.
func SortEdicts(edicts []Edict) {
	slices.SortStableFunc(edicts, func(a, b Edict) int {
		return a.RuneID.Compare(b.RuneID)
	})
}

// UseDelta returns copies of sorted edicts with rune ids relative to the previous edict.
func UseDelta(sortedEdicts []Edict) []Edict {
	delta := make([]Edict, len(sortedEdicts))

	var prev RuneID
	for idx, edict := range sortedEdicts {
		delta[idx] = Edict{RuneID: edict.RuneID.Delta(prev), Amount: edict.Amount, Output: edict.Output}
		prev = edict.RuneID
	}

	return delta
}

// EdictsToIntSeq converts list of Edicts into in list of integers, provided list is left untouched.
func EdictsToIntSeq(edicts []Edict) []*big.Int {
	sorted := slices.Clone(edicts)
	SortEdicts(sorted)

	sequence := make([]*big.Int, 0, len(sorted)*4)
	for _, edict := range UseDelta(sorted) {
		sequence = append(sequence, edict.ToIntSeq()...)
	}

	return sequence
}
