// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package unit

import "fmt"

const (
	// TxOverheadSize is the fixed part of a serialized transaction: 4 bytes
	// of version, 4 bytes of locktime, and one byte each for the input and
	// output count varints.
	TxOverheadSize = 4 + 4 + 1 + 1

	// InputSize is the worst case size of a compressed P2PKH redeem input.
	//
	//   - 32 bytes previous tx
	//   - 4 bytes output index
	//   - 1 byte compact int encoding value 107
	//   - 107 bytes signature script
	//   - 4 bytes sequence
	InputSize = 32 + 4 + 1 + 107 + 4

	// OutputSize is the serialize size of a transaction output with a
	// P2PKH output script.
	//
	//   - 8 bytes output value
	//   - 1 byte compact int encoding value 25
	//   - 25 bytes P2PKH output script
	OutputSize = 8 + 1 + 25
)

// VByte is a transaction size in virtual bytes. For the non-witness
// transactions estimated here a vbyte equals a serialized byte.
type VByte uint64

// NewVByte creates a new VByte.
func NewVByte(vb uint64) VByte {
	return VByte(vb)
}

// String returns the size with its unit.
func (v VByte) String() string {
	return fmt.Sprintf("%d vb", uint64(v))
}

// EstimateTxSize returns the estimated serialize size of a transaction that
// spends the given number of P2PKH inputs and pays to the given number of
// P2PKH outputs. Negative counts are treated as zero.
func EstimateTxSize(inputs, outputs int) VByte {
	if inputs < 0 {
		inputs = 0
	}
	if outputs < 0 {
		outputs = 0
	}

	return VByte(TxOverheadSize + inputs*InputSize + outputs*OutputSize)
}
