// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package runes

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// RuneID defined the id of the rune: etching block height and transaction index in the block.
type RuneID struct {
	Block uint64
	TxID  uint32
}

// NewRuneIDFromString returns RuneID parsed from "<block>:<tx>" string.
func NewRuneIDFromString(s string) (RuneID, error) {
	data := strings.Split(s, ":")
	if len(data) != 2 {
		return RuneID{}, fmt.Errorf("invalid rune id format: %s", s)
	}

	block, err := strconv.ParseUint(data[0], 10, 64)
	if err != nil {
		return RuneID{}, err
	}

	txID, err := strconv.ParseUint(data[1], 10, 32)
	if err != nil {
		return RuneID{}, err
	}

	id := RuneID{Block: block, TxID: uint32(txID)}
	if !id.IsValid() {
		return RuneID{}, fmt.Errorf("invalid rune id: %s", s)
	}

	return id, nil
}

// IsValid returns false for ids that can not exist on chain (zero block with non-zero tx).
func (id RuneID) IsValid() bool {
	return !(id.Block == 0 && id.TxID != 0)
}

// Compare orders rune ids by block, then by tx index.
func (id RuneID) Compare(other RuneID) int {
	switch {
	case id.Block < other.Block:
		return -1
	case id.Block > other.Block:
		return 1
	case id.TxID < other.TxID:
		return -1
	case id.TxID > other.TxID:
		return 1
	}

	return 0
}

// Apply returns the rune id the delta points to when read after id.
func (id RuneID) Apply(delta RuneID) RuneID {
	if delta.Block == 0 {
		return RuneID{Block: id.Block, TxID: id.TxID + delta.TxID}
	}

	return RuneID{Block: id.Block + delta.Block, TxID: delta.TxID}
}

// Delta returns id encoded relatively to prev, the inverse of Apply. Ids must be ordered.
func (id RuneID) Delta(prev RuneID) RuneID {
	if id.Block == prev.Block {
		return RuneID{TxID: id.TxID - prev.TxID}
	}

	return RuneID{Block: id.Block - prev.Block, TxID: id.TxID}
}

// String returns RuneID as string.
func (id RuneID) String() string {
	return fmt.Sprintf("%d:%d", id.Block, id.TxID)
}

// ToIntSeq returns RuneID as integer sequence.
func (id *RuneID) ToIntSeq() []*big.Int {
	return []*big.Int{new(big.Int).SetUint64(id.Block), new(big.Int).SetUint64(uint64(id.TxID))}
}
