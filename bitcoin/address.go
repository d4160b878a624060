// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package bitcoin

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// ScriptFromAddress decodes address for the network and returns its locking script.
func ScriptFromAddress(address string, networkParams *chaincfg.Params) ([]byte, error) {
	decoded, err := btcutil.DecodeAddress(address, networkParams)
	if err != nil {
		return nil, err
	}

	if !decoded.IsForNet(networkParams) {
		return nil, btcutil.ErrUnknownAddressType
	}

	return txscript.PayToAddrScript(decoded)
}

// AddressFromScript returns the address paid by a standard single address locking script.
func AddressFromScript(script []byte, networkParams *chaincfg.Params) (string, error) {
	_, addresses, _, err := txscript.ExtractPkScriptAddrs(script, networkParams)
	if err != nil {
		return "", err
	}

	if len(addresses) != 1 {
		return "", btcutil.ErrUnknownAddressType
	}

	return addresses[0].EncodeAddress(), nil
}

// NetworkParams returns chain params by network name, nil if unknown.
func NetworkParams(network string) *chaincfg.Params {
	switch network {
	case "mainnet":
		return &chaincfg.MainNetParams
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params
	case "signet":
		return &chaincfg.SigNetParams
	case "regtest":
		return &chaincfg.RegressionNetParams
	}

	return nil
}
