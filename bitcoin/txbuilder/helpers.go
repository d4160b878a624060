// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package txbuilder

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/btcsuite/btcd/btcutil/psbt"
)

// ExtractAddressTypeInputIndexesFromPSBT returns map with address types and indexes to sign.
// Global unknowns which are not inputs helping keys are ignored.
func ExtractAddressTypeInputIndexesFromPSBT(p *psbt.Packet) map[InputsHelpingKey][]int {
	var result = make(map[InputsHelpingKey][]int, 3)
	for _, unknown := range p.Unknowns {
		key, err := InputsHelpingKeyFromBytes(unknown.Key)
		if err != nil {
			continue
		}

		for _, val := range unknown.Value {
			result[key] = append(result[key], int(val))
		}
	}

	return result
}

// MaxHelpingKeyInputIndex defines the largest input index an inputs helping key can mark.
const MaxHelpingKeyInputIndex = math.MaxUint8

// ErrHelpingKeyIndexOverflow defines input index which does not fit into one byte.
var ErrHelpingKeyIndexOverflow = errors.New("input index does not fit into inputs helping key")

// InputsHelpingUnknowns returns global unknowns marking input indexes per helping key, ordered by key.
func InputsHelpingUnknowns(indexes map[InputsHelpingKey][]int) ([]*psbt.Unknown, error) {
	keys := make([]InputsHelpingKey, 0, len(indexes))
	for key, idxs := range indexes {
		if len(idxs) > 0 {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)

	unknowns := make([]*psbt.Unknown, 0, len(keys))
	for _, key := range keys {
		value := make([]byte, 0, len(indexes[key]))
		for _, idx := range indexes[key] {
			if idx < 0 || idx > MaxHelpingKeyInputIndex {
				return nil, fmt.Errorf("%w: %s input %d", ErrHelpingKeyIndexOverflow, key, idx)
			}

			value = append(value, byte(idx))
		}

		unknowns = append(unknowns, &psbt.Unknown{Key: key.Bytes(), Value: value})
	}

	return unknowns, nil
}
