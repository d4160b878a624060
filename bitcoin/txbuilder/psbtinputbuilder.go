// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package txbuilder

import (
	"bytes"
	"encoding/hex"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"

	"github.com/BoostyLabs/chimera/errs"
)

// ErrPSBTInputBuilder defines errors class for prepare address data method.
var ErrPSBTInputBuilder = errors.New("prepare address data")

// ErrPubKeyMismatch defines that public key does not control the address.
var ErrPubKeyMismatch = errors.New("public key does not match address")

const (
	// P2PKH defines P2PKH (public key hash) script type over which the address is built.
	P2PKH = "P2PKH"
	// P2SH defines P2SH (script hash) script type, nested P2WPKH is assumed.
	P2SH = "P2SH"
	// P2WPKH defines P2WPKH (witness public key hash) script type over which the address is built.
	P2WPKH = "P2WPKH"
	// P2TR defines P2TR (taproot) script type over which the address is built.
	P2TR = "P2TR"
)

// PSBTInputBuilder is a helping tool to prepare psbt input based on address type.
// It also validates that the wallet public key controls the address.
type PSBTInputBuilder struct {
	params       *chaincfg.Params
	scriptType   string
	address      btcutil.Address
	script       []byte
	xOnlyPubKey  []byte
	redeemScript []byte
}

// NewPSBTInputBuilder is a constructor for PSBTInputBuilder, failures are input validation errors.
func NewPSBTInputBuilder(pubKey, address string, networkParams *chaincfg.Params) (pib *PSBTInputBuilder, err error) {
	pib = &PSBTInputBuilder{params: networkParams}

	defer func(err *error) {
		if err != nil && *err != nil {
			*err = errs.Wrap(errs.InputValidation, errors.Join(ErrPSBTInputBuilder, *err))
		}
	}(&err)

	pib.address, err = btcutil.DecodeAddress(address, pib.params)
	if err != nil {
		return nil, err
	}

	if !pib.address.IsForNet(pib.params) {
		return nil, btcutil.ErrUnknownAddressType
	}

	switch pib.address.(type) {
	case *btcutil.AddressTaproot:
		pib.scriptType = P2TR
	case *btcutil.AddressWitnessPubKeyHash:
		pib.scriptType = P2WPKH
	case *btcutil.AddressPubKeyHash:
		pib.scriptType = P2PKH
	case *btcutil.AddressScriptHash:
		pib.scriptType = P2SH
	default:
		return nil, btcutil.ErrUnknownAddressType
	}

	pib.script, err = txscript.PayToAddrScript(pib.address)
	if err != nil {
		return nil, err
	}

	publicKeyBytes, err := hex.DecodeString(pubKey)
	if err != nil {
		return nil, err
	}

	if err = pib.bindPubKey(publicKeyBytes); err != nil {
		return nil, err
	}

	return pib, nil
}

// bindPubKey parses the public key and checks that it controls the address.
func (pib *PSBTInputBuilder) bindPubKey(publicKeyBytes []byte) error {
	if pib.scriptType == P2TR {
		var (
			internalKey *btcec.PublicKey
			err         error
		)
		switch len(publicKeyBytes) {
		case schnorr.PubKeyBytesLen:
			internalKey, err = schnorr.ParsePubKey(publicKeyBytes)
		case btcec.PubKeyBytesLenCompressed:
			internalKey, err = btcec.ParsePubKey(publicKeyBytes)
		default:
			err = errors.New("invalid taproot public key length")
		}
		if err != nil {
			return err
		}

		pib.xOnlyPubKey = schnorr.SerializePubKey(internalKey)
		outputKey := txscript.ComputeTaprootKeyNoScript(internalKey)
		if !bytes.Equal(schnorr.SerializePubKey(outputKey), pib.address.ScriptAddress()) {
			return ErrPubKeyMismatch
		}

		return nil
	}

	publicKey, err := btcec.ParsePubKey(publicKeyBytes)
	if err != nil {
		return err
	}

	pubKeyHash := btcutil.Hash160(publicKey.SerializeCompressed())
	switch pib.scriptType {
	case P2WPKH, P2PKH:
		if !bytes.Equal(pubKeyHash, pib.address.ScriptAddress()) {
			return ErrPubKeyMismatch
		}
	case P2SH:
		witnessAddress, err := btcutil.NewAddressWitnessPubKeyHash(pubKeyHash, pib.params)
		if err != nil {
			return err
		}

		pib.redeemScript, err = txscript.PayToAddrScript(witnessAddress)
		if err != nil {
			return err
		}

		if !bytes.Equal(btcutil.Hash160(pib.redeemScript), pib.address.ScriptAddress()) {
			return ErrPubKeyMismatch
		}
	}

	return nil
}

// PrepareInput updates input with required data based on address type.
func (pib *PSBTInputBuilder) PrepareInput(input *psbt.PInput) {
	switch pib.scriptType {
	case P2TR:
		input.TaprootInternalKey = pib.xOnlyPubKey
	case P2SH:
		input.RedeemScript = pib.redeemScript
	}
}

// InputsHelpingKey return InputsHelpingKey for wallet input indexes distinguishing.
func (pib *PSBTInputBuilder) InputsHelpingKey() InputsHelpingKey {
	if pib.scriptType == P2TR {
		return TaprootInputsHelpingKey
	}

	return PaymentInputsHelpingKey
}

// ScriptType returns underlying script type.
func (pib *PSBTInputBuilder) ScriptType() string {
	return pib.scriptType
}

// Script returns locking script of the address.
func (pib *PSBTInputBuilder) Script() []byte {
	return pib.script
}
