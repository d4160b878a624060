// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package indexer

import (
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/BoostyLabs/chimera/bitcoin"
	"github.com/BoostyLabs/chimera/bitcoin/ord/runes"
)

// utxoPage defines paginated utxo listing response.
type utxoPage struct {
	Data    []utxo `json:"data"`
	HasMore bool   `json:"has_more"`
}

// utxo defines indexer utxo representation.
type utxo struct {
	TxID         string        `json:"txid"`
	Vout         uint32        `json:"vout"`
	Value        int64         `json:"value"`
	ScriptPubKey string        `json:"script_pubkey"`
	Address      string        `json:"address"`
	Runes        []runeBalance `json:"runes"`
	Inscriptions []string      `json:"inscriptions"`
}

// runeBalance defines rune balance of an utxo, amount is decimal string in minimal units.
type runeBalance struct {
	RuneID       string `json:"rune_id"`
	Amount       string `json:"amount"`
	Divisibility byte   `json:"divisibility"`
}

// transaction defines transaction status response.
type transaction struct {
	TxID        string `json:"txid"`
	Confirmed   bool   `json:"confirmed"`
	BlockHeight int64  `json:"block_height"`
}

// outputStatus defines spent status of a transaction output.
type outputStatus struct {
	Spent bool `json:"spent"`
}

// runeInfo defines rune metadata response.
type runeInfo struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Symbol       string `json:"symbol"`
	Divisibility byte   `json:"divisibility"`
}

// inscriptionInfo defines inscription metadata response.
type inscriptionInfo struct {
	ID         string `json:"id"`
	Collection string `json:"collection"`
	Output     string `json:"output"` // "<txid>:<vout>" of the carrying utxo.
	Address    string `json:"address"`
}

// toUTXO converts indexer utxo into bitcoin.UTXO.
func (u utxo) toUTXO() (bitcoin.UTXO, error) {
	script, err := hex.DecodeString(u.ScriptPubKey)
	if err != nil {
		return bitcoin.UTXO{}, fmt.Errorf("utxo %s:%d script: %w", u.TxID, u.Vout, err)
	}

	result := bitcoin.UTXO{
		TxHash:       u.TxID,
		Index:        u.Vout,
		Amount:       u.Value,
		Script:       script,
		Address:      u.Address,
		Inscriptions: u.Inscriptions,
	}

	for _, balance := range u.Runes {
		runeID, err := runes.NewRuneIDFromString(balance.RuneID)
		if err != nil {
			return bitcoin.UTXO{}, fmt.Errorf("utxo %s:%d rune: %w", u.TxID, u.Vout, err)
		}

		amount, ok := new(big.Int).SetString(balance.Amount, 10)
		if !ok || amount.Sign() < 0 {
			return bitcoin.UTXO{}, fmt.Errorf("utxo %s:%d rune %s: invalid amount %q", u.TxID, u.Vout, balance.RuneID, balance.Amount)
		}

		result.Runes = append(result.Runes, bitcoin.RuneUTXO{
			RuneID:       runeID,
			Amount:       amount,
			Divisibility: balance.Divisibility,
		})
	}

	return result, nil
}
