// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package settlement

import (
	"encoding/hex"

	"github.com/btcsuite/btcd/btcutil/psbt"

	"github.com/BoostyLabs/chimera/bitcoin/txbuilder"
	"github.com/BoostyLabs/chimera/errs"
	"github.com/BoostyLabs/chimera/execution"
)

// ReferencedUTXO describes escrow input the caller resubmits verbatim at settlement.
type ReferencedUTXO struct {
	TxID       string `json:"txid"`
	Vout       uint32 `json:"vout"`
	Value      int64  `json:"value"`
	Script     string `json:"script"` // hex encoded.
	InputIndex uint32 `json:"inputIndex"`
}

// Referenced describes operation of the draft and escrow inputs the program attaches.
type Referenced struct {
	Operation txbuilder.Operation `json:"operation"`
	UTXOs     []ReferencedUTXO    `json:"utxos"`
}

// ReferencedFromDraft returns escrow inputs of the draft.
func ReferencedFromDraft(draft *txbuilder.Draft) Referenced {
	referenced := Referenced{Operation: draft.Shape.Operation, UTXOs: make([]ReferencedUTXO, 0)}
	for _, idx := range draft.Indexes(txbuilder.RoleEscrow) {
		utxo := draft.Inputs[idx].UTXO
		referenced.UTXOs = append(referenced.UTXOs, ReferencedUTXO{
			TxID:       utxo.TxHash,
			Vout:       utxo.Index,
			Value:      utxo.Amount,
			Script:     hex.EncodeToString(utxo.Script),
			InputIndex: uint32(idx),
		})
	}

	return referenced
}

// InputIndexes returns input indexes of the referenced utxos.
func (r Referenced) InputIndexes() []int {
	indexes := make([]int, 0, len(r.UTXOs))
	for _, utxo := range r.UTXOs {
		indexes = append(indexes, int(utxo.InputIndex))
	}

	return indexes
}

// match checks that every referenced utxo is spent by the packet at its input index,
// that escrow inputs marked in the packet are all referenced and that the program of the
// operation attaches them at those indexes.
func (r Referenced) match(packet *psbt.Packet, placement txbuilder.Placement) error {
	inputs := packet.UnsignedTx.TxIn
	seen := make(map[int]struct{}, len(r.UTXOs))
	for _, utxo := range r.UTXOs {
		idx := int(utxo.InputIndex)
		if idx >= len(inputs) {
			return errs.New(errs.InputValidation, "referenced input index %d is out of %d inputs", idx, len(inputs))
		}

		if _, ok := seen[idx]; ok {
			return errs.New(errs.InputValidation, "input index %d is referenced twice", idx)
		}
		seen[idx] = struct{}{}

		outPoint := inputs[idx].PreviousOutPoint
		if outPoint.Hash.String() != utxo.TxID || outPoint.Index != utxo.Vout {
			return errs.New(errs.InputValidation, "input %d spends %s, referenced %s:%d", idx, outPoint.String(), utxo.TxID, utxo.Vout)
		}
	}

	for _, idx := range txbuilder.ExtractAddressTypeInputIndexesFromPSBT(packet)[txbuilder.EscrowInputsHelpingKey] {
		if _, ok := seen[idx]; !ok {
			return errs.New(errs.InputValidation, "escrow input %d is not referenced", idx)
		}
	}

	if err := placement.Check(r.InputIndexes(), len(inputs)); err != nil {
		return errs.Wrap(errs.InputValidation, err)
	}

	return nil
}

// payload returns instruction payload for the transaction stripped of the referenced inputs.
func (r Referenced) payload(rawTx []byte) execution.SwapPayload {
	payload := execution.SwapPayload{Escrow: make([]execution.EscrowInput, 0, len(r.UTXOs)), Tx: rawTx}
	for _, utxo := range r.UTXOs {
		payload.Escrow = append(payload.Escrow, execution.EscrowInput{
			TxID:       utxo.TxID,
			Vout:       utxo.Vout,
			InputIndex: utxo.InputIndex,
		})
	}

	return payload
}
