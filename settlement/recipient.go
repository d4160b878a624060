// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package settlement

import (
	"bytes"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"

	"github.com/BoostyLabs/chimera/bitcoin"
	"github.com/BoostyLabs/chimera/bitcoin/ord/runes"
	"github.com/BoostyLabs/chimera/errs"
)

// Recipient returns address of the only non escrow output script the runestone of the
// transaction sends runes to. Counters of the settled draft are charged to that address.
func Recipient(tx *wire.MsgTx, escrowScript []byte, networkParams *chaincfg.Params) (string, error) {
	if len(escrowScript) == 0 {
		return "", errs.New(errs.InputValidation, "escrow script is not resolved")
	}

	var runestone *runes.Runestone
	for idx, out := range tx.TxOut {
		if !runes.IsPossibleRunestone(out.PkScript) {
			continue
		}

		if runestone != nil {
			return "", errs.New(errs.InputValidation, "output %d carries second runestone", idx)
		}

		parsed, err := runes.ParseRunestone(out.PkScript)
		if err != nil {
			return "", errs.Wrap(errs.InputValidation, err)
		}
		runestone = parsed
	}

	if runestone == nil {
		return "", errs.New(errs.InputValidation, "transaction carries no runestone")
	}

	if err := runestone.Verify(len(tx.TxOut)); err != nil {
		return "", errs.Wrap(errs.InputValidation, err)
	}

	destinations := make([]uint32, 0, len(runestone.Edicts)+1)
	for _, edict := range runestone.Edicts {
		destinations = append(destinations, edict.Output)
	}
	if runestone.Pointer != nil {
		destinations = append(destinations, *runestone.Pointer)
	}

	var script []byte
	for _, output := range destinations {
		pkScript := tx.TxOut[output].PkScript
		if bytes.Equal(pkScript, escrowScript) {
			continue
		}

		if script != nil && !bytes.Equal(script, pkScript) {
			return "", errs.New(errs.InputValidation, "runes are sent to more than one non escrow address")
		}
		script = pkScript
	}

	if script == nil {
		return "", errs.New(errs.InputValidation, "runestone sends no runes outside escrow")
	}

	address, err := bitcoin.AddressFromScript(script, networkParams)
	if err != nil {
		return "", errs.Wrap(errs.InputValidation, err)
	}

	return address, nil
}
