// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package runes

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/aviate-labs/leb128"
	"github.com/btcsuite/btcd/txscript"

	"github.com/BoostyLabs/chimera/internal/numbers"
	"github.com/BoostyLabs/chimera/internal/sequencereader"
)

// MaxPushSize defines the largest data chunk carried by a single OP_PUSH_<num>.
const MaxPushSize = txscript.OP_DATA_75

// MaxDivisibility defines maximum divisibility for runes.
const MaxDivisibility byte = 38

// ErrCenotaph defines invalid runestone produced malformed payload.
var ErrCenotaph = errors.New("cenotaph")

// ErrTruncated defines that payload is do not have required fields.
var ErrTruncated = errors.New("truncated payload")

// ErrEtchingUnsupported defines that the runestone carries etching fields which are not produced or consumed here.
var ErrEtchingUnsupported = errors.New("etching runestones are not supported")

// Runestone abstractly defines runestone fields used by transfers.
type Runestone struct {
	Edicts  []Edict
	Mint    *RuneID
	Pointer *uint32
}

// ParseRunestone parses Runestone from script code.
func ParseRunestone(script []byte) (*Runestone, error) {
	payload, err := PreparePayload(script)
	if err != nil {
		return nil, err
	}

	sequence, err := PayloadIntoIntSequence(payload)
	if err != nil {
		return nil, err
	}

	runestone := new(Runestone)
	return runestone, runestone.parse(sequencereader.New(sequence))
}

// parse parses runestone fields from integer sequence.
func (runestone *Runestone) parse(sr *sequencereader.SequenceReader[*big.Int]) error {
	message, err := ParseMessage(sr)
	if err != nil {
		return err
	}

	for tag, ints := range message.Fields {
		switch {
		case tag == TagMint:
			if len(ints) != 2 {
				return ErrCenotaph
			}

			runestone.Mint = &RuneID{Block: ints[0].Uint64(), TxID: uint32(ints[1].Uint64())}
		case tag == TagPointer:
			if len(ints) != 1 {
				return ErrCenotaph
			}

			pointer := uint32(ints[0].Uint64())
			runestone.Pointer = &pointer
		case tag.IsEtching():
			return ErrEtchingUnsupported
		case tag%2 == 0:
			// unrecognized even tags produce cenotaph, odd ones are ignored.
			return ErrCenotaph
		}
	}

	runestone.Edicts = message.Edicts

	return nil
}

// IntoScript returns Runestone as script bytes: OP_RETURN + OP_13 + OP_PUSH_<num> data chunks.
func (runestone *Runestone) IntoScript() ([]byte, error) {
	payload, err := runestone.Serialize()
	if err != nil {
		return nil, err
	}

	if len(payload) == 0 {
		return nil, errors.New("empty runestone payload")
	}

	script := make([]byte, 0, len(payload)+2+len(payload)/MaxPushSize+1)
	script = append(script, txscript.OP_RETURN, txscript.OP_13)
	for start := 0; start < len(payload); start += MaxPushSize {
		end := min(start+MaxPushSize, len(payload))
		script = append(script, byte(end-start))
		script = append(script, payload[start:end]...)
	}

	return script, nil
}

// Serialize returns Runestone as bytes array.
func (runestone *Runestone) Serialize() ([]byte, error) {
	message := Message{
		Edicts: runestone.Edicts,
		Fields: map[Tag][]*big.Int{},
	}

	if runestone.Mint != nil {
		message.Fields[TagMint] = runestone.Mint.ToIntSeq()
	}

	if runestone.Pointer != nil {
		message.Fields[TagPointer] = []*big.Int{big.NewInt(int64(*runestone.Pointer))}
	}

	return IntSequenceIntoPayload(message.ToIntSeq())
}

// Verify returns CenotaphError if the runestone breaks protocol rules for a transaction with outputsNumber outputs.
func (runestone *Runestone) Verify(outputsNumber int) error {
	cenotaph := func(reason CenotaphReason, format string, args ...any) error {
		return &CenotaphError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
	}

	if runestone.Pointer != nil && int(*runestone.Pointer) >= outputsNumber {
		return cenotaph(CenotaphPointer, "pointer %d is out of %d outputs", *runestone.Pointer, outputsNumber)
	}

	if runestone.Mint != nil && !runestone.Mint.IsValid() {
		return cenotaph(CenotaphMint, "rune id %s does not exist", runestone.Mint.String())
	}

	for idx, edict := range runestone.Edicts {
		switch {
		case !edict.RuneID.IsValid():
			return cenotaph(CenotaphEdict, "edict %d has rune id %s", idx, edict.RuneID.String())
		// output equal to the outputs number splits the amount between all outputs, never produced here.
		case int(edict.Output) >= outputsNumber:
			return cenotaph(CenotaphEdict, "edict %d output %d is out of %d outputs", idx, edict.Output, outputsNumber)
		case edict.Amount == nil || edict.Amount.Sign() <= 0:
			return cenotaph(CenotaphEdict, "edict %d has non positive amount", idx)
		}
	}

	return nil
}

// PreparePayload validates runestone script and returns concatenated data of its pushes.
func PreparePayload(script []byte) ([]byte, error) {
	if !IsPossibleRunestone(script) {
		return nil, errors.New("script is not a runestone")
	}

	payload := make([]byte, 0, len(script))
	tokenizer := txscript.MakeScriptTokenizer(0, script[2:])
	for tokenizer.Next() {
		if op := tokenizer.Opcode(); op < txscript.OP_DATA_1 || op > MaxPushSize {
			return nil, fmt.Errorf("unexpected opcode %#x in runestone payload", op)
		}

		payload = append(payload, tokenizer.Data()...)
	}

	if err := tokenizer.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTruncated, err)
	}

	return payload, nil
}

// IsPossibleRunestone returns true if the script starts with OP_RETURN OP_13 followed by a data push.
func IsPossibleRunestone(script []byte) bool {
	return len(script) >= 4 &&
		script[0] == txscript.OP_RETURN &&
		script[1] == txscript.OP_13 &&
		script[2] >= txscript.OP_DATA_1 && script[2] <= MaxPushSize
}

// PayloadIntoIntSequence decodes payload in LEB128 into integer sequence.
func PayloadIntoIntSequence(payload []byte) ([]*big.Int, error) {
	sequence := make([]*big.Int, 0)
	data := bytes.NewReader(payload)
	for data.Len() > 0 {
		num, err := leb128.DecodeUnsigned(data)
		if err != nil {
			return nil, err
		}

		if !numbers.FitsUint128(num) {
			return nil, ErrCenotaph
		}

		sequence = append(sequence, num)
	}

	return sequence, nil
}

// IntSequenceIntoPayload encodes integer sequence into payload in LEB128.
func IntSequenceIntoPayload(sequence []*big.Int) ([]byte, error) {
	payload := make([]byte, 0)
	for _, num := range sequence {
		if !numbers.FitsUint128(num) {
			return nil, fmt.Errorf("%w: %s does not fit uint128", ErrInvalidAmount, num.String())
		}

		encoded, err := leb128.EncodeUnsigned(num)
		if err != nil {
			return nil, err
		}

		payload = append(payload, encoded...)
	}

	return payload, nil
}
