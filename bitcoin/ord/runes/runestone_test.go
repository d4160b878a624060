// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package runes_test

import (
	"encoding/hex"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/BoostyLabs/chimera/bitcoin/ord/runes"
)

func pointerTo(value uint32) *uint32 {
	return &value
}

func TestRunestone(t *testing.T) {
	// scripts taken from testnet transactions.
	vectors := []struct {
		name      string
		script    string
		runestone *runes.Runestone
	}{
		{
			name:      "edict only",
			script:    "6a5d09008fe69d0154d70e01",
			runestone: &runes.Runestone{Edicts: []runes.Edict{edict(2585359, 84, 1879, 1)}},
		},
		{
			name:      "mint only",
			script:    "6a5d0814e5e49d0114cc01",
			runestone: &runes.Runestone{Mint: &runes.RuneID{Block: 2585189, TxID: 204}},
		},
		{
			name:      "mint with pointer",
			script:    "6a5d0a14b0dd9d011482011601",
			runestone: &runes.Runestone{Mint: &runes.RuneID{Block: 2584240, TxID: 130}, Pointer: pointerTo(1)},
		},
		{
			name:      "pointer only",
			script:    "6a5d02160e",
			runestone: &runes.Runestone{Pointer: pointerTo(14)},
		},
	}

	for _, vector := range vectors {
		t.Run(vector.name, func(t *testing.T) {
			data, err := hex.DecodeString(vector.script)
			require.NoError(t, err)

			parsed, err := runes.ParseRunestone(data)
			require.NoError(t, err)
			require.Equal(t, vector.runestone, parsed)

			script, err := vector.runestone.IntoScript()
			require.NoError(t, err)
			require.Equal(t, vector.script, hex.EncodeToString(script))
		})
	}

	t.Run("rejected scripts", func(t *testing.T) {
		tests := []struct {
			name   string
			script string
			err    error
		}{
			{"etching", "6a5d15010a0201030004dedfd1e58fd617054d0680b19164", runes.ErrEtchingUnsupported},
			{"etching with premine", "6a5d1a020104fae2a3e9ac8cb9d814010403800205240680c2d72f1601", runes.ErrEtchingUnsupported},
			{"dangling edict value", "6a5d09008fe69d0154d70e0115", runes.ErrTruncated},
			{"unknown even tag", "6a5d021801", runes.ErrCenotaph},
		}

		for _, test := range tests {
			t.Run(test.name, func(t *testing.T) {
				data, err := hex.DecodeString(test.script)
				require.NoError(t, err)

				_, err = runes.ParseRunestone(data)
				require.ErrorIs(t, err, test.err)
			})
		}
	})

	t.Run("empty runestone has no script", func(t *testing.T) {
		_, err := (&runes.Runestone{}).IntoScript()
		require.Error(t, err)
	})

	t.Run("large payload is chunked", func(t *testing.T) {
		edicts := make([]runes.Edict, 0, 10)
		for i := uint32(0); i < 10; i++ {
			edicts = append(edicts, runes.Edict{
				RuneID: runes.RuneID{Block: 840000 + uint64(i), TxID: i + 1},
				Amount: new(big.Int).SetUint64(1_000_000_000_000 + uint64(i)),
				Output: i + 1,
			})
		}

		runestone := &runes.Runestone{Edicts: edicts}
		payload, err := runestone.Serialize()
		require.NoError(t, err)
		require.Greater(t, len(payload), runes.MaxPushSize)

		script, err := runestone.IntoScript()
		require.NoError(t, err)
		require.Equal(t, byte(runes.MaxPushSize), script[2])
		require.Equal(t, len(payload)+2+2, len(script))
		require.Equal(t, byte(len(payload)-runes.MaxPushSize), script[3+runes.MaxPushSize])

		parsed, err := runes.ParseRunestone(script)
		require.NoError(t, err)
		require.Len(t, parsed.Edicts, len(edicts))
		for idx, parsedEdict := range parsed.Edicts {
			require.Equal(t, edicts[idx].RuneID, parsedEdict.RuneID)
			require.Equal(t, edicts[idx].Output, parsedEdict.Output)
			require.Zero(t, edicts[idx].Amount.Cmp(parsedEdict.Amount))
		}
	})

	t.Run("payload varints", func(t *testing.T) {
		tests := []struct {
			name    string
			payload string
			seq     []*big.Int
		}{
			{"mint", "14e5e49d0114cc01", ints(20, 2585189, 20, 204)},
			{"edict", "008fe69d0154d70e01", ints(0, 2585359, 84, 1879, 1)},
		}

		for _, test := range tests {
			t.Run(test.name, func(t *testing.T) {
				data, err := hex.DecodeString(test.payload)
				require.NoError(t, err)

				seq, err := runes.PayloadIntoIntSequence(data)
				require.NoError(t, err)
				require.Equal(t, test.seq, seq)

				payload, err := runes.IntSequenceIntoPayload(test.seq)
				require.NoError(t, err)
				require.Equal(t, test.payload, hex.EncodeToString(payload))
			})
		}

		t.Run("decoded value above uint128", func(t *testing.T) {
			data, err := hex.DecodeString(strings.Repeat("80", 18) + "04")
			require.NoError(t, err)

			_, err = runes.PayloadIntoIntSequence(data)
			require.ErrorIs(t, err, runes.ErrCenotaph)
		})

		t.Run("encoded value above uint128", func(t *testing.T) {
			_, err := runes.IntSequenceIntoPayload([]*big.Int{new(big.Int).Lsh(big.NewInt(1), 128)})
			require.ErrorIs(t, err, runes.ErrInvalidAmount)
		})
	})

	t.Run("IsPossibleRunestone", func(t *testing.T) {
		tests := []struct {
			script string
			mustBe bool
		}{
			{"6a5d09008fe69d0154d70e01", true},
			{"6a5d0814e5e49d0114cc01", true},
			{"6a5d02160e", true},
			{"", false},
			{"10", false},
			{"0231", false},
			{"6a5d1a", false},
			{"6a5dff00", false},
			{"6affff00", false},
			{"ff5d1a00", false},
			{"6a5d1a00", true},
		}
		for _, test := range tests {
			script, err := hex.DecodeString(test.script)
			require.NoError(t, err)
			require.Equal(t, test.mustBe, runes.IsPossibleRunestone(script))
		}
	})

	t.Run("Verify", func(t *testing.T) {
		pointer := uint32(3)
		tests := []struct {
			name      string
			runestone runes.Runestone
			outputs   int
			reason    runes.CenotaphReason
		}{
			{
				name: "valid",
				runestone: runes.Runestone{Edicts: []runes.Edict{
					{RuneID: runes.RuneID{Block: 1, TxID: 1}, Amount: big.NewInt(1), Output: 2},
				}},
				outputs: 3,
			},
			{
				name:      "pointer out of range",
				runestone: runes.Runestone{Pointer: &pointer},
				outputs:   3,
				reason:    runes.CenotaphPointer,
			},
			{
				name:      "impossible mint",
				runestone: runes.Runestone{Mint: &runes.RuneID{Block: 0, TxID: 5}},
				outputs:   3,
				reason:    runes.CenotaphMint,
			},
			{
				name: "edict output out of range",
				runestone: runes.Runestone{Edicts: []runes.Edict{
					{RuneID: runes.RuneID{Block: 1, TxID: 1}, Amount: big.NewInt(1), Output: 3},
				}},
				outputs: 3,
				reason:  runes.CenotaphEdict,
			},
			{
				name: "zero amount",
				runestone: runes.Runestone{Edicts: []runes.Edict{
					{RuneID: runes.RuneID{Block: 1, TxID: 1}, Amount: big.NewInt(0), Output: 1},
				}},
				outputs: 3,
				reason:  runes.CenotaphEdict,
			},
			{
				name: "invalid rune id",
				runestone: runes.Runestone{Edicts: []runes.Edict{
					{RuneID: runes.RuneID{Block: 0, TxID: 1}, Amount: big.NewInt(1), Output: 1},
				}},
				outputs: 3,
				reason:  runes.CenotaphEdict,
			},
		}

		for _, test := range tests {
			t.Run(test.name, func(t *testing.T) {
				err := test.runestone.Verify(test.outputs)
				if test.reason == 0 {
					require.NoError(t, err)
					return
				}

				require.ErrorIs(t, err, runes.ErrCenotaph)

				var cenotaphErr *runes.CenotaphError
				require.True(t, errors.As(err, &cenotaphErr))
				require.Equal(t, test.reason, cenotaphErr.Reason)
			})
		}
	})
}
