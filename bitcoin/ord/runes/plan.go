// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package runes

import (
	"errors"
	"fmt"
	"math/big"
	"slices"
)

// ErrNotConserved defines that edicts of the rune do not distribute exactly the consumed amount.
var ErrNotConserved = errors.New("rune amount is not conserved")

// Plan accumulates consumed rune amounts and their allocations to the outputs
// and produces the Runestone only when every consumed amount is fully allocated.
type Plan struct {
	order     []RuneID
	consumed  map[RuneID]*big.Int
	allocated map[RuneID]*big.Int
	edicts    []Edict
}

// NewPlan is a constructor for Plan.
func NewPlan() *Plan {
	return &Plan{
		consumed:  make(map[RuneID]*big.Int),
		allocated: make(map[RuneID]*big.Int),
	}
}

// Consume registers rune amount held by a spent input.
func (plan *Plan) Consume(runeID RuneID, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}

	if _, ok := plan.consumed[runeID]; !ok {
		plan.order = append(plan.order, runeID)
		plan.consumed[runeID] = big.NewInt(0)
		plan.allocated[runeID] = big.NewInt(0)
	}

	plan.consumed[runeID].Add(plan.consumed[runeID], amount)
}

// Allocate adds edict which moves amount of the rune to the output.
func (plan *Plan) Allocate(runeID RuneID, amount *big.Int, output uint32) error {
	if amount == nil || amount.Sign() <= 0 {
		// zero amount edict means "all remaining" in the protocol, never emit it.
		return fmt.Errorf("%w: %s to output %d", ErrInvalidAmount, runeID.String(), output)
	}

	remainder := plan.Remainder(runeID)
	if remainder.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s allocates %s, only %s left", ErrNotConserved, runeID.String(), amount.String(), remainder.String())
	}

	plan.allocated[runeID].Add(plan.allocated[runeID], amount)
	plan.edicts = append(plan.edicts, Edict{RuneID: runeID, Amount: new(big.Int).Set(amount), Output: output})

	return nil
}

// Remainder returns not yet allocated amount of the rune.
func (plan *Plan) Remainder(runeID RuneID) *big.Int {
	consumed, ok := plan.consumed[runeID]
	if !ok {
		return big.NewInt(0)
	}

	return new(big.Int).Sub(consumed, plan.allocated[runeID])
}

// Change allocates the whole remainder of the rune to the output, returns false if nothing was left.
func (plan *Plan) Change(runeID RuneID, output uint32) bool {
	remainder := plan.Remainder(runeID)
	if remainder.Sign() <= 0 {
		return false
	}

	// remainder is positive and fits, error is impossible here.
	_ = plan.Allocate(runeID, remainder, output)

	return true
}

// HasRemainder returns true if any consumed rune is not fully allocated.
func (plan *Plan) HasRemainder() bool {
	for _, runeID := range plan.order {
		if plan.Remainder(runeID).Sign() > 0 {
			return true
		}
	}

	return false
}

// Runes returns consumed rune ids in the order they were first consumed.
func (plan *Plan) Runes() []RuneID {
	return slices.Clone(plan.order)
}

// Consumed returns copy of consumed amounts per rune.
func (plan *Plan) Consumed() map[RuneID]*big.Int {
	consumed := make(map[RuneID]*big.Int, len(plan.consumed))
	for id, amount := range plan.consumed {
		consumed[id] = new(big.Int).Set(amount)
	}

	return consumed
}

// Runestone returns Runestone with planned edicts, fails if any consumed rune is not fully allocated.
func (plan *Plan) Runestone() (*Runestone, error) {
	runestone := &Runestone{Edicts: slices.Clone(plan.edicts)}
	if err := VerifyConservation(runestone, plan.consumed); err != nil {
		return nil, err
	}

	if len(runestone.Edicts) == 0 {
		return nil, nil
	}

	return runestone, nil
}

// VerifyConservation checks that for every rune the sum of edict amounts equals the consumed amount.
func VerifyConservation(runestone *Runestone, consumed map[RuneID]*big.Int) error {
	sums := make(map[RuneID]*big.Int, len(consumed))
	if runestone != nil {
		for _, edict := range runestone.Edicts {
			if _, ok := consumed[edict.RuneID]; !ok {
				return fmt.Errorf("%w: edict for not consumed rune %s", ErrNotConserved, edict.RuneID.String())
			}

			if _, ok := sums[edict.RuneID]; !ok {
				sums[edict.RuneID] = big.NewInt(0)
			}

			sums[edict.RuneID].Add(sums[edict.RuneID], edict.Amount)
		}
	}

	for id, amount := range consumed {
		if amount.Sign() == 0 {
			continue
		}

		sum, ok := sums[id]
		if !ok || sum.Cmp(amount) != 0 {
			got := big.NewInt(0)
			if ok {
				got = sum
			}

			return fmt.Errorf("%w: %s consumed %s, distributed %s", ErrNotConserved, id.String(), amount.String(), got.String())
		}
	}

	return nil
}
