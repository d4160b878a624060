// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package txbuilder

import (
	"errors"
	"fmt"
)

// ErrUnknownInputsHelpingKey defines that inputs help keys is unknown.
var ErrUnknownInputsHelpingKey = errors.New("unknown inputs help keys")

// InputsHelpingKey is the key of a PSBT global unknown whose value lists input indexes
// signed by one signer, one byte per index.
type InputsHelpingKey byte

const (
	// TaprootInputsHelpingKey defines key for user taproot (asset holder) inputs.
	TaprootInputsHelpingKey InputsHelpingKey = 0x10
	// PaymentInputsHelpingKey defines key for user payment (btc) inputs.
	PaymentInputsHelpingKey InputsHelpingKey = 0x20
	// EscrowInputsHelpingKey defines key for escrow inputs, signed by the execution layer only.
	EscrowInputsHelpingKey InputsHelpingKey = 0x30
)

var helpingKeyNames = map[InputsHelpingKey]string{
	TaprootInputsHelpingKey: "taproot",
	PaymentInputsHelpingKey: "payment",
	EscrowInputsHelpingKey:  "escrow",
}

// InputsHelpingKeyFromBytes parses global unknown key.
func InputsHelpingKeyFromBytes(b []byte) (InputsHelpingKey, error) {
	if len(b) != 1 {
		return 0, ErrUnknownInputsHelpingKey
	}

	if _, ok := helpingKeyNames[InputsHelpingKey(b[0])]; !ok {
		return 0, ErrUnknownInputsHelpingKey
	}

	return InputsHelpingKey(b[0]), nil
}

// Bytes returns InputsHelpingKey as global unknown key.
func (k InputsHelpingKey) Bytes() []byte {
	return []byte{byte(k)}
}

// String returns signer name of the key.
func (k InputsHelpingKey) String() string {
	if name, ok := helpingKeyNames[k]; ok {
		return name
	}

	return fmt.Sprintf("0x%02x", byte(k))
}
