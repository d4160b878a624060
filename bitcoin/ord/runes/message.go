// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package runes

import (
	"maps"
	"math"
	"math/big"
	"slices"

	"github.com/BoostyLabs/chimera/internal/sequencereader"
)

// Message is the tag/value form of a runestone payload, edicts follow the body tag.
type Message struct {
	Edicts []Edict
	Fields map[Tag][]*big.Int
}

// ParseMessage parses Message from integer sequence. Unknown tags above the Tag range
// follow the protocol parity rule: even ones produce cenotaph, odd ones are skipped.
func ParseMessage(sr *sequencereader.SequenceReader[*big.Int]) (*Message, error) {
	message := new(Message)
	fields := make(map[Tag][]*big.Int)

	for sr.HasNext() {
		rawTag, _ := sr.Next()
		if TagBody.Equal(rawTag) {
			edicts, err := ParseEdictsFromIntSeq(sr)
			if err != nil {
				return nil, err
			}

			message.Edicts = edicts
			break
		}

		value, err := sr.Next()
		if err != nil {
			return nil, ErrTruncated
		}

		if !rawTag.IsUint64() || rawTag.Uint64() > math.MaxUint8 {
			if rawTag.Bit(0) == 0 {
				return nil, ErrCenotaph
			}

			continue
		}

		tag := Tag(rawTag.Uint64())
		fields[tag] = append(fields[tag], value)
	}

	if len(fields) > 0 {
		message.Fields = fields
	}

	return message, nil
}

// ToIntSeq returns Message as sequence on integers, fields are ordered by tag.
func (message *Message) ToIntSeq() []*big.Int {
	sequence := make([]*big.Int, 0, 2*len(message.Fields)+1+4*len(message.Edicts))
	for _, tag := range slices.Sorted(maps.Keys(message.Fields)) {
		for _, value := range message.Fields[tag] {
			sequence = append(sequence, tag.BigInt(), value)
		}
	}

	if len(message.Edicts) > 0 {
		sequence = append(sequence, TagBody.BigInt())
		sequence = append(sequence, EdictsToIntSeq(message.Edicts)...)
	}

	return sequence
}
