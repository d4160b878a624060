// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package signer

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// ErrInvalidInputIndex defines input index outside of the transaction inputs.
var ErrInvalidInputIndex = errors.New("invalid input index")

// SignParams defines parameters for SignTaproot and SignWitness methods.
type SignParams struct {
	SerializedPSBT []byte
	Inputs         []int // inputs indexes.
	PrivateKey     *btcec.PrivateKey
}

// signInputParams defines parameters for single input signing methods.
type signInputParams struct {
	packet     *psbt.Packet
	input      int
	sigHashes  *txscript.TxSigHashes
	privateKey *btcec.PrivateKey
}

// Signer provides wallet side transaction signing related logic.
type Signer struct {
	networkParams *chaincfg.Params
}

// NewSigner is a constructor for Signer.
func NewSigner(networkParams *chaincfg.Params) *Signer {
	return &Signer{
		networkParams: networkParams,
	}
}

// SignTaproot signs taproot key spend inputs by provided indexes, returns updated serialized PSBT.
func (signer *Signer) SignTaproot(params SignParams) ([]byte, error) {
	return signer.sign(params, signer.signTaprootInput)
}

// SignWitness signs P2WPKH and nested P2SH-P2WPKH inputs by provided indexes, returns updated serialized PSBT.
func (signer *Signer) SignWitness(params SignParams) ([]byte, error) {
	return signer.sign(params, signer.signWitnessInput)
}

// sign parses PSBT, signs every requested input and serializes the result.
func (signer *Signer) sign(params SignParams, signInput func(signInputParams) error) ([]byte, error) {
	packet, err := psbt.NewFromRawBytes(bytes.NewBuffer(params.SerializedPSBT), false)
	if err != nil {
		return nil, err
	}

	var (
		tx                   = packet.UnsignedTx
		prevOutputFetcherMap = make(map[wire.OutPoint]*wire.TxOut, len(tx.TxIn))
	)
	for idx, in := range packet.Inputs {
		if in.WitnessUtxo == nil {
			return nil, fmt.Errorf("input %d has no witness utxo", idx)
		}

		prevOutputFetcherMap[tx.TxIn[idx].PreviousOutPoint] = in.WitnessUtxo
	}

	var sigHashes = txscript.NewTxSigHashes(tx, txscript.NewMultiPrevOutFetcher(prevOutputFetcherMap))
	for _, input := range params.Inputs {
		if input < 0 || len(packet.Inputs) <= input {
			return nil, ErrInvalidInputIndex
		}

		err = signInput(signInputParams{
			packet:     packet,
			input:      input,
			sigHashes:  sigHashes,
			privateKey: params.PrivateKey,
		})
		if err != nil {
			return nil, err
		}
	}

	w := bytes.NewBuffer(nil)
	err = packet.Serialize(w)
	if err != nil {
		return nil, err
	}

	return w.Bytes(), nil
}

// signTaprootInput signs taproot input with key spend path.
func (signer *Signer) signTaprootInput(params signInputParams) error {
	var (
		input       = &params.packet.Inputs[params.input]
		value       = input.WitnessUtxo.Value
		pkScript    = input.WitnessUtxo.PkScript
		sigHashType = input.SighashType
	)

	witness, err := txscript.TaprootWitnessSignature(
		params.packet.UnsignedTx, params.sigHashes, params.input,
		value, pkScript, sigHashType, params.privateKey)
	if err != nil {
		return err
	}

	input.TaprootKeySpendSig = witness[0]

	return nil
}

// signWitnessInput signs segwit v0 public key hash input, nested one is signed over its redeem script.
func (signer *Signer) signWitnessInput(params signInputParams) error {
	var (
		input       = &params.packet.Inputs[params.input]
		value       = input.WitnessUtxo.Value
		script      = input.WitnessUtxo.PkScript
		sigHashType = input.SighashType
	)

	if len(input.RedeemScript) != 0 {
		script = input.RedeemScript
	}

	if sigHashType == 0 {
		sigHashType = txscript.SigHashAll
	}

	sig, err := txscript.RawTxInWitnessSignature(
		params.packet.UnsignedTx, params.sigHashes, params.input,
		value, script, sigHashType, params.privateKey)
	if err != nil {
		return err
	}

	input.PartialSigs = append(input.PartialSigs, &psbt.PartialSig{
		PubKey:    params.privateKey.PubKey().SerializeCompressed(),
		Signature: sig,
	})

	return nil
}
