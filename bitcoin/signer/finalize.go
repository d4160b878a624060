// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package signer

import (
	"bytes"
	"errors"
	"fmt"
	"slices"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
)

// ErrNotSigned defines input which has neither final scripts nor signatures to finalize.
var ErrNotSigned = errors.New("input is not signed")

// Finalize finalizes every input except the detached ones and returns the transaction
// without the detached inputs. Already finalized inputs are taken as is.
// Detached inputs are expected to be attached back at the same indexes by their signer.
func Finalize(packet *psbt.Packet, detached []int) (*wire.MsgTx, error) {
	for _, idx := range detached {
		if idx < 0 || idx >= len(packet.Inputs) {
			return nil, ErrInvalidInputIndex
		}
	}

	tx := packet.UnsignedTx.Copy()
	for idx := range packet.Inputs {
		if slices.Contains(detached, idx) {
			continue
		}

		input := &packet.Inputs[idx]
		if !isFinalized(input) {
			if len(input.PartialSigs) == 0 && len(input.TaprootKeySpendSig) == 0 && len(input.TaprootScriptSpendSig) == 0 {
				return nil, fmt.Errorf("%w: %d", ErrNotSigned, idx)
			}

			if err := psbt.Finalize(packet, idx); err != nil {
				return nil, fmt.Errorf("finalize input %d: %w", idx, err)
			}
		}

		tx.TxIn[idx].SignatureScript = input.FinalScriptSig
		if len(input.FinalScriptWitness) != 0 {
			witness, err := parseWitness(input.FinalScriptWitness)
			if err != nil {
				return nil, fmt.Errorf("input %d witness: %w", idx, err)
			}

			tx.TxIn[idx].Witness = witness
		}
	}

	txIn := make([]*wire.TxIn, 0, len(tx.TxIn)-len(detached))
	for idx, in := range tx.TxIn {
		if !slices.Contains(detached, idx) {
			txIn = append(txIn, in)
		}
	}
	tx.TxIn = txIn

	return tx, nil
}

// isFinalized returns true if the input carries final script sig or witness.
func isFinalized(input *psbt.PInput) bool {
	return len(input.FinalScriptSig) != 0 || len(input.FinalScriptWitness) != 0
}

// parseWitness parses serialized witness stack: items count followed by length prefixed items.
func parseWitness(serialized []byte) (wire.TxWitness, error) {
	r := bytes.NewReader(serialized)
	count, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, err
	}

	if count > uint64(len(serialized)) {
		return nil, errors.New("witness items count exceeds data length")
	}

	witness := make(wire.TxWitness, count)
	for idx := range witness {
		witness[idx], err = wire.ReadVarBytes(r, 0, uint32(len(serialized)), "witness item")
		if err != nil {
			return nil, err
		}
	}

	if r.Len() != 0 {
		return nil, errors.New("trailing witness data")
	}

	return witness, nil
}
