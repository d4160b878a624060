// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package bitcoin

import (
	"fmt"
	"math/big"

	"github.com/BoostyLabs/chimera/bitcoin/ord/runes"
)

// DustAmount defines the smallest output value in satoshi accepted by the network relay policy.
const DustAmount int64 = 546

// UTXO describes unspent transaction output data.
type UTXO struct {
	TxHash       string
	Index        uint32 // output index in transaction outputs.
	Amount       int64  // in Satoshi.
	Script       []byte // ScriptPubKey.
	Address      string // output recipient address.
	Runes        []RuneUTXO
	Inscriptions []string // inscription ids bound to the output.
}

// RuneUTXO describes linked to UTXO runes balance.
type RuneUTXO struct {
	RuneID       runes.RuneID
	Amount       *big.Int // in minimal rune units.
	Divisibility byte
}

// Rune defines rune metadata needed for amount conversions.
type Rune struct {
	ID           runes.RuneID
	Name         string
	Symbol       string
	Divisibility byte
}

// OutPoint returns "<tx hash>:<index>" identifier of the UTXO.
func (u *UTXO) OutPoint() string {
	return fmt.Sprintf("%s:%d", u.TxHash, u.Index)
}

// RuneAmount returns amount of the rune linked to the UTXO, zero if none.
func (u *UTXO) RuneAmount(runeID runes.RuneID) *big.Int {
	for _, r := range u.Runes {
		if r.RuneID == runeID {
			return r.Amount
		}
	}

	return big.NewInt(0)
}

// HasRunes returns true if any rune balance is linked to the UTXO.
func (u *UTXO) HasRunes() bool {
	for _, r := range u.Runes {
		if r.Amount != nil && r.Amount.Sign() > 0 {
			return true
		}
	}

	return false
}

// HasInscription returns true if the UTXO carries provided inscription.
func (u *UTXO) HasInscription(id string) bool {
	for _, inscription := range u.Inscriptions {
		if inscription == id {
			return true
		}
	}

	return false
}

// IsPlain returns true if the UTXO carries neither runes nor inscriptions,
// so it can be spent to cover fees.
func (u *UTXO) IsPlain() bool {
	return !u.HasRunes() && len(u.Inscriptions) == 0
}
