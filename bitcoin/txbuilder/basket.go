// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package txbuilder

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/BoostyLabs/chimera/bitcoin"
	"github.com/BoostyLabs/chimera/bitcoin/ord/runes"
	"github.com/BoostyLabs/chimera/errs"
)

// MaxBasketDestinations defines the largest number of destination runes in a basket.
const MaxBasketDestinations = 9

// BasketWeight defines how many display units of the destination rune one display
// unit of the source rune redeems.
type BasketWeight struct {
	Rune   bitcoin.Rune
	Weight decimal.Decimal
}

// Basket describes source rune redeemable into weighted destination runes held by escrow.
type Basket struct {
	Source       bitcoin.Rune
	Destinations []BasketWeight
}

// Validate checks basket definition.
func (b Basket) Validate() error {
	if !b.Source.ID.IsValid() {
		return errs.New(errs.InputValidation, "basket source rune id is invalid")
	}

	if len(b.Destinations) == 0 || len(b.Destinations) > MaxBasketDestinations {
		return errs.New(errs.InputValidation, "basket has %d destinations, expected 1 to %d",
			len(b.Destinations), MaxBasketDestinations)
	}

	seen := make(map[runes.RuneID]struct{}, len(b.Destinations))
	for _, destination := range b.Destinations {
		switch {
		case !destination.Rune.ID.IsValid():
			return errs.New(errs.InputValidation, "basket destination rune id is invalid")
		case destination.Rune.ID == b.Source.ID:
			return errs.New(errs.InputValidation, "basket destination %s equals source", destination.Rune.ID)
		case !destination.Weight.IsPositive():
			return errs.New(errs.InputValidation, "basket destination %s has non positive weight", destination.Rune.ID)
		}

		if _, ok := seen[destination.Rune.ID]; ok {
			return errs.New(errs.InputValidation, "basket destination %s is duplicated", destination.Rune.ID)
		}
		seen[destination.Rune.ID] = struct{}{}
	}

	return nil
}

// Legs returns destination legs from escrow to user followed by the source leg from user to escrow
// for the source amount in display units. Scaled amounts are floored, destinations which floor
// to zero are left out.
func (b Basket) Legs(display string) ([]TokenLeg, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	amount, err := decimal.NewFromString(display)
	if err != nil || !amount.IsPositive() {
		return nil, errs.New(errs.InputValidation, "invalid redemption amount %q", display)
	}

	sourceAmount, err := runes.ScaleDecimal(amount, b.Source.Divisibility)
	if err != nil {
		return nil, errs.Wrap(errs.InputValidation, err)
	}

	legs := make([]TokenLeg, 0, len(b.Destinations)+1)
	for _, destination := range b.Destinations {
		destinationAmount, err := runes.ScaleDecimal(amount.Mul(destination.Weight), destination.Rune.Divisibility)
		if errors.Is(err, runes.ErrInvalidAmount) {
			continue
		}
		if err != nil {
			return nil, errs.Wrap(errs.InputValidation, err)
		}

		legs = append(legs, TokenLeg{RuneID: destination.Rune.ID, Amount: destinationAmount, From: OwnerEscrow})
	}

	if len(legs) == 0 {
		return nil, errs.New(errs.InputValidation, "redemption amount %s is too small for the basket", display)
	}

	return append(legs, TokenLeg{RuneID: b.Source.ID, Amount: sourceAmount, From: OwnerUser}), nil
}
