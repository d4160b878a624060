// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package txbuilder

import (
	"fmt"
	"math/big"

	"github.com/BoostyLabs/chimera/bitcoin/ord/runes"
	"github.com/BoostyLabs/chimera/errs"
)

// Operation defines discriminant of the escrow program operation, the first byte of instruction data.
type Operation byte

const (
	// OperationTokenForAsset defines user token payment in exchange for escrow asset.
	OperationTokenForAsset Operation = 0
	// OperationTokenBasketRedemption defines source token conversion into basket of escrow tokens.
	OperationTokenBasketRedemption Operation = 1
	// OperationAssetForToken defines user asset and token payment in exchange for escrow asset.
	OperationAssetForToken Operation = 2
	// OperationClaim defines fixed escrow token amount released to the user.
	OperationClaim Operation = 3
)

// Placement defines where the program attaches escrow inputs to the user transaction.
type Placement byte

const (
	// PlacementPrepend defines single escrow input attached in front of user inputs.
	PlacementPrepend Placement = iota
	// PlacementAppend defines escrow inputs attached after all user inputs, in order.
	PlacementAppend
	// PlacementIndexed defines escrow inputs attached at input indexes carried by the instruction.
	PlacementIndexed
)

// String returns placement name.
func (p Placement) String() string {
	switch p {
	case PlacementPrepend:
		return "prepend"
	case PlacementAppend:
		return "append"
	case PlacementIndexed:
		return "indexed"
	default:
		return fmt.Sprintf("placement(%d)", byte(p))
	}
}

// Check returns error if escrow input indexes of a transaction with the given number
// of inputs can not be attached by the program with this placement.
func (p Placement) Check(escrowIndexes []int, inputs int) error {
	switch p {
	case PlacementPrepend:
		if len(escrowIndexes) != 1 || escrowIndexes[0] != 0 {
			return fmt.Errorf("prepend placement needs single escrow input at index 0, got %v", escrowIndexes)
		}
	case PlacementAppend:
		first := inputs - len(escrowIndexes)
		for i, idx := range escrowIndexes {
			if idx != first+i {
				return fmt.Errorf("append placement needs escrow inputs at indexes %d-%d, got %v", first, inputs-1, escrowIndexes)
			}
		}
	case PlacementIndexed:
		for i, idx := range escrowIndexes {
			if idx < 0 || idx >= inputs || (i > 0 && idx <= escrowIndexes[i-1]) {
				return fmt.Errorf("indexed placement needs ascending escrow input indexes below %d, got %v", inputs, escrowIndexes)
			}
		}
	default:
		return fmt.Errorf("unknown %s", p)
	}

	return nil
}

// DefaultMaxTokenLegsPerDraft defines how many token legs one draft carries.
const DefaultMaxTokenLegsPerDraft = 3

// MaxDraftsPerRequest defines the largest number of drafts one request may produce.
const MaxDraftsPerRequest = 4

// SwapShape describes legs of a swap: which assets and tokens move in which direction,
// how token legs are packed into drafts and which counter the settlement commits.
type SwapShape struct {
	Name                 string
	Operation            Operation
	Placement            Placement
	UserAssetToEscrow    bool
	EscrowAssetToUser    bool
	UserTokenToEscrow    bool
	EscrowTokenToUser    bool
	MaxTokenLegsPerDraft int

	// Counter is the ledger counter name, empty if the shape mutates none.
	// It is incremented once per settled draft, so a request packed into
	// several drafts counts as several.
	Counter string
}

var (
	// AssetForToken defines the shape for user asset and token payment into escrow asset.
	AssetForToken = SwapShape{
		Name:                 "asset_for_token",
		Operation:            OperationAssetForToken,
		Placement:            PlacementIndexed,
		UserAssetToEscrow:    true,
		EscrowAssetToUser:    true,
		UserTokenToEscrow:    true,
		MaxTokenLegsPerDraft: DefaultMaxTokenLegsPerDraft,
	}
	// TokenForAsset defines the shape for user token payment into escrow asset.
	TokenForAsset = SwapShape{
		Name:                 "token_for_asset",
		Operation:            OperationTokenForAsset,
		Placement:            PlacementPrepend,
		EscrowAssetToUser:    true,
		UserTokenToEscrow:    true,
		MaxTokenLegsPerDraft: DefaultMaxTokenLegsPerDraft,
	}
	// TokenBasketRedemption defines the shape for source token redemption into basket of tokens.
	TokenBasketRedemption = SwapShape{
		Name:                 "token_basket_redemption",
		Operation:            OperationTokenBasketRedemption,
		Placement:            PlacementAppend,
		UserTokenToEscrow:    true,
		EscrowTokenToUser:    true,
		MaxTokenLegsPerDraft: DefaultMaxTokenLegsPerDraft,
		Counter:              "redemptions",
	}
	// Claim defines the shape for fixed escrow token amount released to the user.
	Claim = SwapShape{
		Name:                 "claim",
		Operation:            OperationClaim,
		Placement:            PlacementAppend,
		EscrowTokenToUser:    true,
		MaxTokenLegsPerDraft: DefaultMaxTokenLegsPerDraft,
		Counter:              "claims",
	}
)

// Shapes returns all supported shapes.
func Shapes() []SwapShape {
	return []SwapShape{AssetForToken, TokenForAsset, TokenBasketRedemption, Claim}
}

// ShapeByName returns shape by its name.
func ShapeByName(name string) (SwapShape, error) {
	for _, shape := range Shapes() {
		if shape.Name == name {
			return shape, nil
		}
	}

	return SwapShape{}, errs.New(errs.InputValidation, "unknown swap shape %q", name)
}

// ShapeByOperation returns shape by its operation discriminant.
func ShapeByOperation(operation Operation) (SwapShape, error) {
	for _, shape := range Shapes() {
		if shape.Operation == operation {
			return shape, nil
		}
	}

	return SwapShape{}, errs.New(errs.InputValidation, "unknown operation %d", operation)
}

// Owner defines which side holds an input or receives an output.
type Owner string

const (
	// OwnerUser defines user wallet.
	OwnerUser Owner = "user"
	// OwnerEscrow defines escrow account.
	OwnerEscrow Owner = "escrow"
)

// Counterparty returns the other side of the swap.
func (o Owner) Counterparty() Owner {
	if o == OwnerUser {
		return OwnerEscrow
	}

	return OwnerUser
}

// TokenLeg describes movement of a rune amount from one side to the other.
type TokenLeg struct {
	RuneID runes.RuneID
	Amount *big.Int // in minimal rune units.
	From   Owner
}

// String returns human readable leg representation.
func (leg TokenLeg) String() string {
	return fmt.Sprintf("%s %s: %s -> %s", leg.Amount.String(), leg.RuneID.String(), leg.From, leg.From.Counterparty())
}

// validateLegs checks that legs match the shape directions and are not duplicated.
func (shape SwapShape) validateLegs(legs []TokenLeg) error {
	seen := make(map[string]struct{}, len(legs))
	for _, leg := range legs {
		switch {
		case leg.Amount == nil || leg.Amount.Sign() <= 0:
			return errs.New(errs.InputValidation, "token leg %s has non positive amount", leg.RuneID.String())
		case leg.From == OwnerUser && !shape.UserTokenToEscrow:
			return errs.New(errs.InputValidation, "shape %s has no user token legs", shape.Name)
		case leg.From == OwnerEscrow && !shape.EscrowTokenToUser:
			return errs.New(errs.InputValidation, "shape %s has no escrow token legs", shape.Name)
		case leg.From != OwnerUser && leg.From != OwnerEscrow:
			return errs.New(errs.InputValidation, "unknown token leg owner %q", leg.From)
		}

		key := string(leg.From) + leg.RuneID.String()
		if _, ok := seen[key]; ok {
			return errs.New(errs.InputValidation, "duplicated token leg %s", leg.String())
		}
		seen[key] = struct{}{}
	}

	return nil
}

// PackLegs splits legs into consecutive groups carried by separate drafts.
func (shape SwapShape) PackLegs(legs []TokenLeg) ([][]TokenLeg, error) {
	perDraft := shape.MaxTokenLegsPerDraft
	if perDraft <= 0 {
		perDraft = DefaultMaxTokenLegsPerDraft
	}

	if len(legs) == 0 {
		return [][]TokenLeg{nil}, nil
	}

	packed := make([][]TokenLeg, 0, (len(legs)+perDraft-1)/perDraft)
	for start := 0; start < len(legs); start += perDraft {
		packed = append(packed, legs[start:min(start+perDraft, len(legs))])
	}

	if shape.Placement == PlacementPrepend && len(packed) > 1 {
		return nil, errs.New(errs.InputValidation, "shape %s carries at most %d token legs", shape.Name, perDraft)
	}

	if len(packed) > MaxDraftsPerRequest {
		return nil, errs.New(errs.InputValidation, "%d token legs need %d drafts, at most %d allowed",
			len(legs), len(packed), MaxDraftsPerRequest)
	}

	return packed, nil
}
