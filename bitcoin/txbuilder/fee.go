// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package txbuilder

const (
	// baseSizeVBytes defines rough tx header size in vBytes.
	baseSizeVBytes int64 = 10
	// inputSizeVBytes defines rough tx input size in vBytes.
	inputSizeVBytes int64 = 180
	// outputSizeVBytes defines rough tx output size in vBytes.
	outputSizeVBytes int64 = 34

	// MinFeeRate defines the lowest fee rate in satoshi per vByte used for drafts.
	MinFeeRate int64 = 5
)

// RoughTxSizeEstimate returns Tx rough estimated size in vBytes, change output included on demand.
func RoughTxSizeEstimate(inputs, outputs int, includeChange bool) int64 {
	size := baseSizeVBytes + int64(inputs)*inputSizeVBytes + int64(outputs)*outputSizeVBytes
	if includeChange {
		size += outputSizeVBytes
	}

	return size
}

// Fee returns fee in satoshi for the transaction shape: size * rate * 1.5 rounded half up.
func Fee(inputs, outputs int, satoshiPerVByte int64, includeChange bool) int64 {
	size := RoughTxSizeEstimate(inputs, outputs, includeChange)

	// x * 1.5 rounded half up is (3x + 1) / 2 for non-negative integers.
	return (size*satoshiPerVByte*3 + 1) / 2
}
