// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ledger

import "math/bits"

// checkedAdd returns a+b and false if the sum overflows.
func checkedAdd(a, b uint64) (uint64, bool) {
	sum, carry := bits.Add64(a, b, 0)
	return sum, carry == 0
}

// checkedSub returns a-b and false if the difference underflows.
func checkedSub(a, b uint64) (uint64, bool) {
	diff, borrow := bits.Sub64(a, b, 0)
	return diff, borrow == 0
}

// saturatingSub returns a-b, clamped to zero.
func saturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

// percentOf returns floor(amount * percent / 100). The product is computed
// in 128 bits so it cannot overflow before the division. It returns false if
// the quotient does not fit in 64 bits.
func percentOf(amount uint64, percent uint8) (uint64, bool) {
	hi, lo := bits.Mul64(amount, uint64(percent))
	if hi >= 100 {
		return 0, false
	}

	quo, _ := bits.Div64(hi, lo, 100)
	return quo, true
}
