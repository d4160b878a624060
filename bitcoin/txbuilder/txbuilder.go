// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package txbuilder

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/BoostyLabs/chimera/bitcoin"
	"github.com/BoostyLabs/chimera/bitcoin/ord/runes"
	"github.com/BoostyLabs/chimera/errs"
)

const (
	// txVersion defines transaction version for this builder.
	txVersion int32 = 2
	// userSignHashType defines signature hash type for user inputs, so escrow inputs
	// can be attached by the execution layer without invalidating user signatures.
	userSignHashType = txscript.SigHashAll | txscript.SigHashAnyOneCanPay
)

// Source lists candidate utxos of an address page by page.
type Source interface {
	ListUTXOs(ctx context.Context, address string, page int) ([]bitcoin.UTXO, bool, error)
	ListRuneUTXOs(ctx context.Context, address string, runeID runes.RuneID, page int) ([]bitcoin.UTXO, bool, error)
}

// Wallet describes user wallet: ordinals (taproot) account for assets and payment account for fees.
type Wallet struct {
	TaprootAddress string
	TaprootPubKey  string
	PaymentAddress string
	PaymentPubKey  string
}

// Escrow describes resolved escrow account.
type Escrow struct {
	Address string
	Script  []byte
}

// DraftRequest describes data needed to build drafts of one swap request.
type DraftRequest struct {
	Shape       SwapShape
	User        Wallet
	Escrow      Escrow
	UserAsset   *bitcoin.UTXO // moved to escrow for shapes with UserAssetToEscrow.
	EscrowAsset *bitcoin.UTXO // moved to user for shapes with EscrowAssetToUser.
	Legs        []TokenLeg
	FeeRate     int64      // satoshi per vByte.
	Used        Exclusions // outpoints taken by earlier drafts of the request, updated in place.
}

// TxBuilder provides swap transaction building related logic.
type TxBuilder struct {
	networkParams *chaincfg.Params
	selector      *Selector
	source        Source
}

// NewTxBuilder is a constructor for TxBuilder.
func NewTxBuilder(networkParams *chaincfg.Params, selector *Selector, source Source) *TxBuilder {
	return &TxBuilder{
		networkParams: networkParams,
		selector:      selector,
		source:        source,
	}
}

// Build packs token legs of the request into drafts and builds them one after another,
// asset legs are carried by the first draft. Every draft selects its own payment inputs
// and never reuses outpoints of the previous drafts.
func (b *TxBuilder) Build(ctx context.Context, req DraftRequest) ([]*Draft, error) {
	if err := req.Shape.validateLegs(req.Legs); err != nil {
		return nil, err
	}

	packed, err := req.Shape.PackLegs(req.Legs)
	if err != nil {
		return nil, err
	}

	if req.Used == nil {
		req.Used = make(Exclusions)
	}

	drafts := make([]*Draft, 0, len(packed))
	for idx, legs := range packed {
		draftReq := req
		draftReq.Legs = legs
		if idx > 0 {
			draftReq.Shape.UserAssetToEscrow, draftReq.Shape.EscrowAssetToUser = false, false
		}

		draft, err := b.BuildDraft(ctx, draftReq)
		if err != nil {
			return nil, fmt.Errorf("draft %d of %d: %w", idx+1, len(packed), err)
		}

		draft.Shape = req.Shape
		drafts = append(drafts, draft)
	}

	return drafts, nil
}

// draftState collects inputs and outputs while the draft is composed.
type draftState struct {
	inputs  []DraftInput
	outputs []*wire.TxOut
	plans   map[Owner]*runes.Plan
	scripts map[Owner][]byte
}

// moveEscrowInputsLast keeps relative order of inputs and places escrow ones after the rest.
func (s *draftState) moveEscrowInputsLast() {
	sort.SliceStable(s.inputs, func(i, j int) bool {
		return s.inputs[i].Role != RoleEscrow && s.inputs[j].Role == RoleEscrow
	})
}

// BuildDraft constructs single swap draft.
//
//	Tx struct
//	inputs:
//	┌─────────┬────────────────┬─────────────────────────────────────────┐
//	│  index  │      type      │              description                │
//	├=========┼================┼=========================================┤
//	│   0 - a │ asset inputs   │ user asset, then escrow asset, one each │
//	│         │                │ if the shape moves it.                  │
//	├─────────┼────────────────┼─────────────────────────────────────────┤
//	│ a+1 - k │ rune inputs    │ per token leg, utxos of the leg source  │
//	│         │                │ side (user or escrow).                  │
//	├─────────┼────────────────┼─────────────────────────────────────────┤
//	│ k+1 - n │ payment inputs │ user utxos with bitcoin only.           │
//	└─────────┴────────────────┴─────────────────────────────────────────┘
//
//	Shapes with append placement move escrow rune inputs after the payment
//	inputs, the program attaches them behind all user inputs.
//
//	outputs:
//	┌─────────┬────────────────┬─────────────────────────────────────────┐
//	│  index  │      type      │              description                │
//	├=========┼================┼=========================================┤
//	│   0 - a │ asset outputs  │ output i receives postage of asset      │
//	│         │                │ input i, so the inscription lands on    │
//	│         │                │ the counterparty address.               │
//	├─────────┼────────────────┼─────────────────────────────────────────┤
//	│     a+1 │ runestone      │ present if any token leg exists.        │
//	├─────────┼────────────────┼─────────────────────────────────────────┤
//	│ a+2 - m │ rune outputs   │ per token leg: receive output, then     │
//	│         │                │ change output of the source side if     │
//	│         │                │ anything is left for it.                │
//	├─────────┼────────────────┼─────────────────────────────────────────┤
//	│     m+1 │ change output  │ user payment change, mandatory.         │
//	└─────────┴────────────────┴─────────────────────────────────────────┘
func (b *TxBuilder) BuildDraft(ctx context.Context, req DraftRequest) (*Draft, error) {
	if req.Used == nil {
		req.Used = make(Exclusions)
	}

	if err := req.Shape.validateLegs(req.Legs); err != nil {
		return nil, err
	}

	taproot, err := NewPSBTInputBuilder(req.User.TaprootPubKey, req.User.TaprootAddress, b.networkParams)
	if err != nil {
		return nil, err
	}

	payment, err := NewPSBTInputBuilder(req.User.PaymentPubKey, req.User.PaymentAddress, b.networkParams)
	if err != nil {
		return nil, err
	}

	if len(req.Escrow.Script) == 0 {
		return nil, errs.New(errs.InputValidation, "escrow script is not resolved")
	}

	state := &draftState{
		plans: map[Owner]*runes.Plan{OwnerUser: runes.NewPlan(), OwnerEscrow: runes.NewPlan()},
		scripts: map[Owner][]byte{
			OwnerUser:   taproot.Script(),
			OwnerEscrow: req.Escrow.Script,
		},
	}

	if err = b.addAssetLegs(state, req); err != nil {
		return nil, err
	}

	if err = b.addTokenInputs(ctx, state, req); err != nil {
		return nil, err
	}

	runestoneOutput := -1
	var runestone *runes.Runestone
	if len(req.Legs) > 0 {
		runestoneOutput = len(state.outputs)
		state.outputs = append(state.outputs, wire.NewTxOut(0, nil))

		runestone, err = b.addTokenOutputs(state, req.Legs)
		if err != nil {
			return nil, err
		}

		state.outputs[runestoneOutput].PkScript, err = runestone.IntoScript()
		if err != nil {
			return nil, errs.Wrap(errs.Internal, err)
		}
	}

	selection, err := b.selectPayment(ctx, state, req, payment.Script())
	if err != nil {
		return nil, err
	}

	if req.Shape.Placement == PlacementAppend {
		state.moveEscrowInputsLast()
	}

	draft := &Draft{
		Shape:           req.Shape,
		Legs:            req.Legs,
		Inputs:          state.inputs,
		Runestone:       runestone,
		RunestoneOutput: runestoneOutput,
		Fee:             selection.Fee,
	}

	draft.Tx, err = b.assembleTx(state)
	if err != nil {
		return nil, err
	}

	draft.Packet, err = b.assemblePSBT(draft, taproot, payment)
	if err != nil {
		return nil, err
	}

	if err = draft.Verify(); err != nil {
		return nil, errs.Wrap(errs.Internal, err)
	}

	return draft, nil
}

// addAssetLegs places asset inputs and aligned asset outputs.
func (b *TxBuilder) addAssetLegs(state *draftState, req DraftRequest) error {
	add := func(asset *bitcoin.UTXO, owner Owner, role Role) error {
		switch {
		case asset == nil:
			return errs.New(errs.InputValidation, "%s asset is required by shape %s", owner, req.Shape.Name)
		case len(asset.Inscriptions) == 0:
			return errs.New(errs.InputValidation, "%s asset utxo %s carries no inscription", owner, asset.OutPoint())
		case asset.HasRunes():
			return errs.New(errs.InputValidation, "%s asset utxo %s carries runes", owner, asset.OutPoint())
		case asset.Amount < bitcoin.DustAmount:
			return errs.New(errs.InputValidation, "%s asset utxo %s postage is below dust", owner, asset.OutPoint())
		case req.Used.Has(asset.OutPoint()):
			return errs.New(errs.InputValidation, "%s asset utxo %s is already used", owner, asset.OutPoint())
		}

		input := *asset
		if len(input.Script) == 0 {
			input.Script = state.scripts[owner]
		}

		state.inputs = append(state.inputs, DraftInput{UTXO: input, Role: role})
		state.outputs = append(state.outputs, wire.NewTxOut(asset.Amount, state.scripts[owner.Counterparty()]))
		req.Used.Add(*asset)

		return nil
	}

	if req.Shape.UserAssetToEscrow {
		if err := add(req.UserAsset, OwnerUser, RoleAssetHolder); err != nil {
			return err
		}
	}

	if req.Shape.EscrowAssetToUser {
		if err := add(req.EscrowAsset, OwnerEscrow, RoleEscrow); err != nil {
			return err
		}
	}

	return nil
}

// addTokenInputs selects rune inputs for every leg from the leg source side.
func (b *TxBuilder) addTokenInputs(ctx context.Context, state *draftState, req DraftRequest) error {
	addresses := map[Owner]string{OwnerUser: req.User.TaprootAddress, OwnerEscrow: req.Escrow.Address}
	roles := map[Owner]Role{OwnerUser: RoleAssetHolder, OwnerEscrow: RoleEscrow}

	for _, leg := range req.Legs {
		address := addresses[leg.From]
		runeID := leg.RuneID
		pager := func(ctx context.Context, page int) ([]bitcoin.UTXO, bool, error) {
			return b.source.ListRuneUTXOs(ctx, address, runeID, page)
		}

		// rune inputs selected for the previous legs may already carry this rune.
		need := new(big.Int).Sub(leg.Amount, state.plans[leg.From].Remainder(runeID))
		if need.Sign() <= 0 {
			continue
		}

		selected, _, err := b.selector.SelectRunes(ctx, pager, runeID, need, req.Used)
		if err != nil {
			var insufficient *InsufficientError
			if errors.As(err, &insufficient) {
				return insufficient.on(leg.From)
			}

			return err
		}

		for _, utxo := range selected {
			if len(utxo.Script) == 0 {
				utxo.Script = state.scripts[leg.From]
			}

			state.inputs = append(state.inputs, DraftInput{UTXO: utxo, Role: roles[leg.From]})
			for _, r := range utxo.Runes {
				state.plans[leg.From].Consume(r.RuneID, r.Amount)
			}
		}

		req.Used.Add(selected...)
	}

	return nil
}

// addTokenOutputs appends receive and change outputs per leg and returns the runestone
// with edict destinations equal to positions of the appended outputs.
func (b *TxBuilder) addTokenOutputs(state *draftState, legs []TokenLeg) (*runes.Runestone, error) {
	lastLeg := make(map[Owner]int, 2)
	for idx, leg := range legs {
		lastLeg[leg.From] = idx
	}

	for idx, leg := range legs {
		plan := state.plans[leg.From]

		receiveOutput := uint32(len(state.outputs))
		state.outputs = append(state.outputs, wire.NewTxOut(bitcoin.DustAmount, state.scripts[leg.From.Counterparty()]))
		if err := plan.Allocate(leg.RuneID, leg.Amount, receiveOutput); err != nil {
			return nil, errs.Wrap(errs.Internal, err)
		}

		// the last leg of the side also returns runes which no leg of the side moves.
		isLast := lastLeg[leg.From] == idx
		if !(isLast && plan.HasRemainder()) && plan.Remainder(leg.RuneID).Sign() <= 0 {
			continue
		}

		changeOutput := uint32(len(state.outputs))
		state.outputs = append(state.outputs, wire.NewTxOut(bitcoin.DustAmount, state.scripts[leg.From]))
		if !isLast {
			plan.Change(leg.RuneID, changeOutput)
			continue
		}

		for _, runeID := range plan.Runes() {
			plan.Change(runeID, changeOutput)
		}
	}

	runestone := new(runes.Runestone)
	consumed := make(map[runes.RuneID]*big.Int)
	for _, owner := range []Owner{OwnerUser, OwnerEscrow} {
		ownerRunestone, err := state.plans[owner].Runestone()
		if err != nil {
			return nil, errs.Wrap(errs.Internal, err)
		}

		if ownerRunestone != nil {
			runestone.Edicts = append(runestone.Edicts, ownerRunestone.Edicts...)
		}

		for runeID, amount := range state.plans[owner].Consumed() {
			if _, ok := consumed[runeID]; !ok {
				consumed[runeID] = big.NewInt(0)
			}

			consumed[runeID].Add(consumed[runeID], amount)
		}
	}

	if err := runes.VerifyConservation(runestone, consumed); err != nil {
		return nil, errs.Wrap(errs.Internal, err)
	}

	return runestone, nil
}

// selectPayment selects user payment inputs for outputs value and fee, appends the change output.
func (b *TxBuilder) selectPayment(ctx context.Context, state *draftState, req DraftRequest, changeScript []byte) (*ValueSelection, error) {
	var inputsValue, outputsValue int64
	for _, input := range state.inputs {
		inputsValue += input.UTXO.Amount
	}
	for _, out := range state.outputs {
		outputsValue += out.Value
	}

	feeRate := max(req.FeeRate, MinFeeRate)
	address := req.User.PaymentAddress
	pager := func(ctx context.Context, page int) ([]bitcoin.UTXO, bool, error) {
		return b.source.ListUTXOs(ctx, address, page)
	}

	selection, err := b.selector.SelectValue(ctx, pager, ValueTarget{
		FixedInputs: len(state.inputs),
		Outputs:     len(state.outputs),
		Amount:      outputsValue - inputsValue,
		FeeRate:     feeRate,
	}, req.Used)
	if err != nil {
		var insufficient *InsufficientError
		if errors.As(err, &insufficient) {
			return nil, insufficient.on(OwnerUser)
		}

		return nil, err
	}

	for _, utxo := range selection.UTXOs {
		if len(utxo.Script) == 0 {
			utxo.Script = changeScript
		}

		state.inputs = append(state.inputs, DraftInput{UTXO: utxo, Role: RolePayment})
	}
	req.Used.Add(selection.UTXOs...)

	state.outputs = append(state.outputs, wire.NewTxOut(selection.Change, changeScript))

	return selection, nil
}

// assembleTx returns unsigned transaction from collected inputs and outputs.
func (b *TxBuilder) assembleTx(state *draftState) (*wire.MsgTx, error) {
	tx := wire.NewMsgTx(txVersion)
	for _, input := range state.inputs {
		utxoHash, err := chainhash.NewHashFromStr(input.UTXO.TxHash)
		if err != nil {
			return nil, errs.Wrap(errs.ExternalService, fmt.Errorf("utxo %s: %w", input.UTXO.OutPoint(), err))
		}

		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(utxoHash, input.UTXO.Index), nil, nil))
	}

	for _, out := range state.outputs {
		tx.AddTxOut(out)
	}

	return tx, nil
}

// assemblePSBT returns PSBT with witness utxos, signing data of user inputs and
// global unknowns marking input indexes per signer.
func (b *TxBuilder) assemblePSBT(draft *Draft, taproot, payment *PSBTInputBuilder) (*psbt.Packet, error) {
	p, err := psbt.NewFromUnsignedTx(draft.Tx)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, err)
	}

	indexes := make(map[InputsHelpingKey][]int, 3)
	for idx, input := range draft.Inputs {
		p.Inputs[idx].WitnessUtxo = wire.NewTxOut(input.UTXO.Amount, input.UTXO.Script)

		var key InputsHelpingKey
		switch input.Role {
		case RoleAssetHolder:
			taproot.PrepareInput(&p.Inputs[idx])
			p.Inputs[idx].SighashType = userSignHashType
			key = taproot.InputsHelpingKey()
		case RolePayment:
			payment.PrepareInput(&p.Inputs[idx])
			p.Inputs[idx].SighashType = userSignHashType
			key = payment.InputsHelpingKey()
		case RoleEscrow:
			key = EscrowInputsHelpingKey
		}

		indexes[key] = append(indexes[key], idx)
	}

	p.Unknowns, err = InputsHelpingUnknowns(indexes)
	if err != nil {
		return nil, errs.Wrap(errs.InputValidation, err)
	}

	return p, nil
}
