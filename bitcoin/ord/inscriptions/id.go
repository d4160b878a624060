// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package inscriptions

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// idSeparator defines separator between TxID and Index in inscription ID.
const idSeparator string = "i"

// ErrInvalidID defines malformed inscription identifier.
var ErrInvalidID = errors.New("invalid inscription id")

// ID describes inscription identifier.
type ID struct {
	TxID  chainhash.Hash // Reveal transaction ID.
	Index uint32         // The index of new inscriptions being inscribed in the reveal transaction.
}

// NewIDFromString parses inscription ID from "<txid>i<index>" string.
func NewIDFromString(idStr string) (ID, error) {
	parts := strings.Split(idStr, idSeparator)
	if len(parts) != 2 {
		return ID{}, fmt.Errorf("%w: %q", ErrInvalidID, idStr)
	}

	if len(parts[0]) != chainhash.MaxHashStringSize {
		return ID{}, fmt.Errorf("%w: invalid TxID %q", ErrInvalidID, idStr)
	}

	txID, err := chainhash.NewHashFromStr(parts[0])
	if err != nil {
		return ID{}, errors.Join(ErrInvalidID, err)
	}

	index, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return ID{}, errors.Join(ErrInvalidID, err)
	}

	return ID{TxID: *txID, Index: uint32(index)}, nil
}

// String returns inscription ID as string.
func (id ID) String() string {
	return fmt.Sprintf("%s%s%d", id.TxID.String(), idSeparator, id.Index)
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := NewIDFromString(string(text))
	if err != nil {
		return err
	}

	*id = parsed
	return nil
}
