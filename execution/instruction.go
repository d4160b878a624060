// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package execution

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"math"

	"github.com/btcsuite/btcd/wire"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/near/borsh-go"

	"github.com/BoostyLabs/chimera/bitcoin/txbuilder"
)

// ErrInvalidInstruction defines malformed instruction data.
var ErrInvalidInstruction = errors.New("invalid instruction data")

// Pubkey defines execution layer account or program key.
type Pubkey [32]byte

// PubkeyFromHex parses 32 bytes hex encoded key.
func PubkeyFromHex(s string) (Pubkey, error) {
	var pubkey Pubkey

	decoded, err := hex.DecodeString(s)
	if err != nil {
		return pubkey, err
	}

	if len(decoded) != len(pubkey) {
		return pubkey, fmt.Errorf("invalid pubkey length %d", len(decoded))
	}

	copy(pubkey[:], decoded)

	return pubkey, nil
}

// String returns hex encoded key without prefix.
func (p Pubkey) String() string {
	return hex.EncodeToString(p[:])
}

// MarshalText implements encoding.TextMarshaler.
func (p Pubkey) MarshalText() ([]byte, error) {
	return hexutil.Bytes(p[:]).MarshalText()
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Pubkey) UnmarshalText(text []byte) error {
	var decoded hexutil.Bytes
	if err := decoded.UnmarshalText(text); err != nil {
		return err
	}

	if len(decoded) != len(p) {
		return fmt.Errorf("invalid pubkey length %d", len(decoded))
	}

	copy(p[:], decoded)

	return nil
}

// AccountMeta describes account referenced by an instruction.
type AccountMeta struct {
	Pubkey     Pubkey `json:"pubkey"`
	IsSigner   bool   `json:"is_signer"`
	IsWritable bool   `json:"is_writable"`
}

// Instruction describes execution layer operation.
type Instruction struct {
	ProgramID Pubkey        `json:"program_id"`
	Accounts  []AccountMeta `json:"accounts"`
	Data      hexutil.Bytes `json:"data"`
}

// EscrowInput describes escrow utxo the program attaches to the transaction.
type EscrowInput struct {
	TxID       string
	Vout       uint32
	InputIndex uint32 // index of the input once attached.
}

// SwapPayload describes settlement instruction data following the operation byte.
// Escrow inputs were detached from Tx and are re-attached by the program
// according to the placement of the operation.
type SwapPayload struct {
	Escrow []EscrowInput
	Tx     []byte
}

// prependData is the borsh layout of operations attaching single escrow input in front of the user inputs.
type prependData struct {
	TxID string
	Vout uint8
	Tx   []byte
}

// appendData is the borsh layout of operations attaching escrow inputs after the user inputs.
type appendData struct {
	TxIDs []string
	Vouts []uint8
	Tx    []byte
}

// indexedData is the borsh layout of operations attaching escrow inputs at the carried indexes.
type indexedData struct {
	TxIDs        []string
	Vouts        []uint32
	InputIndexes []uint32
	Tx           []byte
}

// Validate checks that escrow inputs can be attached with the placement.
func (p SwapPayload) Validate(placement txbuilder.Placement) error {
	tx, err := p.transaction()
	if err != nil {
		return err
	}

	indexes := make([]int, 0, len(p.Escrow))
	for _, input := range p.Escrow {
		if placement != txbuilder.PlacementIndexed && input.Vout > math.MaxUint8 {
			return fmt.Errorf("%w: %s placement carries vout %d in one byte", ErrInvalidInstruction, placement, input.Vout)
		}

		indexes = append(indexes, int(input.InputIndex))
	}

	if err = placement.Check(indexes, len(tx.TxIn)+len(p.Escrow)); err != nil {
		return errors.Join(ErrInvalidInstruction, err)
	}

	return nil
}

// transaction parses Tx.
func (p SwapPayload) transaction() (*wire.MsgTx, error) {
	if len(p.Tx) == 0 {
		return nil, fmt.Errorf("%w: empty transaction", ErrInvalidInstruction)
	}

	tx := new(wire.MsgTx)
	if err := tx.Deserialize(bytes.NewReader(p.Tx)); err != nil {
		return nil, errors.Join(ErrInvalidInstruction, err)
	}

	return tx, nil
}

// EncodeInstructionData returns operation discriminant followed by borsh encoded payload
// in the layout of the operation placement.
func EncodeInstructionData(operation txbuilder.Operation, payload SwapPayload) ([]byte, error) {
	shape, err := txbuilder.ShapeByOperation(operation)
	if err != nil {
		return nil, errors.Join(ErrInvalidInstruction, err)
	}

	if err = payload.Validate(shape.Placement); err != nil {
		return nil, err
	}

	var data any
	switch shape.Placement {
	case txbuilder.PlacementPrepend:
		data = prependData{TxID: payload.Escrow[0].TxID, Vout: uint8(payload.Escrow[0].Vout), Tx: payload.Tx}
	case txbuilder.PlacementAppend:
		appended := appendData{TxIDs: make([]string, 0, len(payload.Escrow)), Vouts: make([]uint8, 0, len(payload.Escrow)), Tx: payload.Tx}
		for _, input := range payload.Escrow {
			appended.TxIDs = append(appended.TxIDs, input.TxID)
			appended.Vouts = append(appended.Vouts, uint8(input.Vout))
		}
		data = appended
	default:
		indexed := indexedData{
			TxIDs:        make([]string, 0, len(payload.Escrow)),
			Vouts:        make([]uint32, 0, len(payload.Escrow)),
			InputIndexes: make([]uint32, 0, len(payload.Escrow)),
			Tx:           payload.Tx,
		}
		for _, input := range payload.Escrow {
			indexed.TxIDs = append(indexed.TxIDs, input.TxID)
			indexed.Vouts = append(indexed.Vouts, input.Vout)
			indexed.InputIndexes = append(indexed.InputIndexes, input.InputIndex)
		}
		data = indexed
	}

	encoded, err := borsh.Serialize(data)
	if err != nil {
		return nil, err
	}

	return append([]byte{byte(operation)}, encoded...), nil
}

// DecodeInstructionData parses data produced by EncodeInstructionData.
// Input indexes of prepended and appended escrow inputs are derived from Tx.
func DecodeInstructionData(data []byte) (txbuilder.Operation, SwapPayload, error) {
	var payload SwapPayload
	if len(data) < 2 {
		return 0, payload, fmt.Errorf("%w: %d bytes", ErrInvalidInstruction, len(data))
	}

	operation := txbuilder.Operation(data[0])
	shape, err := txbuilder.ShapeByOperation(operation)
	if err != nil {
		return 0, payload, errors.Join(ErrInvalidInstruction, err)
	}

	switch shape.Placement {
	case txbuilder.PlacementPrepend:
		var prepended prependData
		if err = borsh.Deserialize(&prepended, data[1:]); err != nil {
			return 0, payload, errors.Join(ErrInvalidInstruction, err)
		}

		payload.Tx = prepended.Tx
		payload.Escrow = []EscrowInput{{TxID: prepended.TxID, Vout: uint32(prepended.Vout)}}
	case txbuilder.PlacementAppend:
		var appended appendData
		if err = borsh.Deserialize(&appended, data[1:]); err != nil {
			return 0, payload, errors.Join(ErrInvalidInstruction, err)
		}
		if len(appended.TxIDs) != len(appended.Vouts) {
			return 0, payload, fmt.Errorf("%w: %d escrow txids, %d vouts", ErrInvalidInstruction, len(appended.TxIDs), len(appended.Vouts))
		}

		payload.Tx = appended.Tx
		tx, err := payload.transaction()
		if err != nil {
			return 0, payload, err
		}

		payload.Escrow = make([]EscrowInput, 0, len(appended.TxIDs))
		for i, txID := range appended.TxIDs {
			payload.Escrow = append(payload.Escrow, EscrowInput{
				TxID:       txID,
				Vout:       uint32(appended.Vouts[i]),
				InputIndex: uint32(len(tx.TxIn) + i),
			})
		}
	default:
		var indexed indexedData
		if err = borsh.Deserialize(&indexed, data[1:]); err != nil {
			return 0, payload, errors.Join(ErrInvalidInstruction, err)
		}
		if len(indexed.TxIDs) != len(indexed.Vouts) || len(indexed.TxIDs) != len(indexed.InputIndexes) {
			return 0, payload, fmt.Errorf("%w: %d escrow txids, %d vouts, %d input indexes", ErrInvalidInstruction,
				len(indexed.TxIDs), len(indexed.Vouts), len(indexed.InputIndexes))
		}

		payload.Tx = indexed.Tx
		payload.Escrow = make([]EscrowInput, 0, len(indexed.TxIDs))
		for i, txID := range indexed.TxIDs {
			payload.Escrow = append(payload.Escrow, EscrowInput{TxID: txID, Vout: indexed.Vouts[i], InputIndex: indexed.InputIndexes[i]})
		}
	}

	return operation, payload, payload.Validate(shape.Placement)
}

// NewSwapInstruction returns settlement instruction of the program over the escrow account.
func NewSwapInstruction(programID, escrowAccount Pubkey, operation txbuilder.Operation, payload SwapPayload) (Instruction, error) {
	data, err := EncodeInstructionData(operation, payload)
	if err != nil {
		return Instruction{}, err
	}

	return Instruction{
		ProgramID: programID,
		Accounts:  []AccountMeta{{Pubkey: escrowAccount, IsSigner: false, IsWritable: true}},
		Data:      data,
	}, nil
}
