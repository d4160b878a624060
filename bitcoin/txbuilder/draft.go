// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package txbuilder

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/BoostyLabs/chimera/bitcoin"
	"github.com/BoostyLabs/chimera/bitcoin/ord/runes"
)

// ErrInvalidDraft defines draft which breaks value, dust or rune conservation rules.
var ErrInvalidDraft = errors.New("invalid draft")

// Role defines who authorizes an input of the draft.
type Role string

const (
	// RolePayment defines user payment input which funds the fee.
	RolePayment Role = "payment"
	// RoleAssetHolder defines user input carrying runes or inscription.
	RoleAssetHolder Role = "asset-holder"
	// RoleEscrow defines escrow input, attached and signed by the execution layer.
	RoleEscrow Role = "escrow"
)

// DraftInput defines draft input with the role of its signer.
type DraftInput struct {
	UTXO bitcoin.UTXO
	Role Role
}

// Draft defines unsigned swap transaction with its metadata.
type Draft struct {
	Shape           SwapShape
	Legs            []TokenLeg
	Inputs          []DraftInput
	Tx              *wire.MsgTx
	Runestone       *runes.Runestone
	RunestoneOutput int // -1 if the draft moves no runes.
	Fee             int64
	Packet          *psbt.Packet
}

// Indexes returns input indexes of the role.
func (d *Draft) Indexes(role Role) []int {
	indexes := make([]int, 0, len(d.Inputs))
	for idx, input := range d.Inputs {
		if input.Role == role {
			indexes = append(indexes, idx)
		}
	}

	return indexes
}

// InputsOf returns inputs of the role.
func (d *Draft) InputsOf(role Role) []DraftInput {
	inputs := make([]DraftInput, 0, len(d.Inputs))
	for _, input := range d.Inputs {
		if input.Role == role {
			inputs = append(inputs, input)
		}
	}

	return inputs
}

// Consumed returns rune amounts held by all draft inputs.
func (d *Draft) Consumed() map[runes.RuneID]*big.Int {
	consumed := make(map[runes.RuneID]*big.Int)
	for _, input := range d.Inputs {
		for _, r := range input.UTXO.Runes {
			if r.Amount == nil || r.Amount.Sign() <= 0 {
				continue
			}

			if _, ok := consumed[r.RuneID]; !ok {
				consumed[r.RuneID] = big.NewInt(0)
			}

			consumed[r.RuneID].Add(consumed[r.RuneID], r.Amount)
		}
	}

	return consumed
}

// Serialize returns draft as serialized PSBT.
func (d *Draft) Serialize() ([]byte, error) {
	w := bytes.NewBuffer(nil)
	if err := d.Packet.Serialize(w); err != nil {
		return nil, err
	}

	return w.Bytes(), nil
}

// Hex returns serialized PSBT as hex string.
func (d *Draft) Hex() (string, error) {
	data, err := d.Serialize()
	if err != nil {
		return "", err
	}

	return hex.EncodeToString(data), nil
}

// Base64 returns serialized PSBT in the standard base64 envelope.
func (d *Draft) Base64() (string, error) {
	data, err := d.Serialize()
	if err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(data), nil
}

// Verify checks that inputs fund outputs and fee exactly, every non OP_RETURN output is above dust
// and the runestone, parsed back from the output script, distributes exactly the consumed runes.
func (d *Draft) Verify() error {
	if d.Tx == nil || len(d.Tx.TxIn) != len(d.Inputs) {
		return fmt.Errorf("%w: inputs do not match transaction", ErrInvalidDraft)
	}

	var inputsValue, outputsValue int64
	for idx, input := range d.Inputs {
		if input.UTXO.OutPoint() != d.Tx.TxIn[idx].PreviousOutPoint.String() {
			return fmt.Errorf("%w: input %d spends %s, expected %s", ErrInvalidDraft, idx,
				d.Tx.TxIn[idx].PreviousOutPoint.String(), input.UTXO.OutPoint())
		}

		inputsValue += input.UTXO.Amount
	}

	if err := d.Shape.Placement.Check(d.Indexes(RoleEscrow), len(d.Inputs)); err != nil {
		return errors.Join(ErrInvalidDraft, err)
	}

	runestoneOutputs := 0
	for idx, out := range d.Tx.TxOut {
		outputsValue += out.Value
		if len(out.PkScript) > 0 && out.PkScript[0] == txscript.OP_RETURN {
			if idx != d.RunestoneOutput {
				return fmt.Errorf("%w: unexpected OP_RETURN output %d", ErrInvalidDraft, idx)
			}

			runestoneOutputs++
			continue
		}

		if out.Value < bitcoin.DustAmount {
			return fmt.Errorf("%w: output %d carries %d: %w", ErrInvalidDraft, idx, out.Value, bitcoin.ErrDustOutput)
		}
	}

	if inputsValue != outputsValue+d.Fee {
		return fmt.Errorf("%w: inputs %d != outputs %d + fee %d", ErrInvalidDraft, inputsValue, outputsValue, d.Fee)
	}

	consumed := d.Consumed()
	if d.RunestoneOutput < 0 {
		if len(consumed) > 0 {
			return fmt.Errorf("%w: runes are spent without runestone", ErrInvalidDraft)
		}

		return nil
	}

	if runestoneOutputs != 1 || d.RunestoneOutput >= len(d.Tx.TxOut) {
		return fmt.Errorf("%w: runestone output is missing", ErrInvalidDraft)
	}

	parsed, err := runes.ParseRunestone(d.Tx.TxOut[d.RunestoneOutput].PkScript)
	if err != nil {
		return errors.Join(ErrInvalidDraft, err)
	}

	if err = parsed.Verify(len(d.Tx.TxOut)); err != nil {
		return errors.Join(ErrInvalidDraft, err)
	}

	for idx, edict := range parsed.Edicts {
		if int(edict.Output) == d.RunestoneOutput {
			return fmt.Errorf("%w: edict %d points to runestone output", ErrInvalidDraft, idx)
		}
	}

	if err = runes.VerifyConservation(parsed, consumed); err != nil {
		return errors.Join(ErrInvalidDraft, err)
	}

	return nil
}
