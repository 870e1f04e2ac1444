// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package unit provides a set of types for dealing with bitcoin units, fee
// rates and transaction size estimates.
package unit

import (
	"math"
	"math/big"

	"github.com/btcsuite/btcd/btcutil"
)

const (
	// SatsPerKilo is the number of satoshis in a kilo-satoshi.
	SatsPerKilo = 1000

	// floatStringPrecision is the number of decimal places to use when
	// converting a fee rate to a string.
	floatStringPrecision = 2
)

// SatPerKVByte represents a fee rate in sat/kvb. The fee rate is encoded as a
// big.Rat to allow for fractional (sub-satoshi) fee rates. The zero value is
// a rate of zero.
type SatPerKVByte struct {
	*big.Rat
}

// NewSatPerKVByte creates a new fee rate in sat/kvb. The given fee and vbytes
// are used to calculate the fee rate.
func NewSatPerKVByte(fee btcutil.Amount, vb VByte) SatPerKVByte {
	if vb == 0 {
		return SatPerKVByte{big.NewRat(0, 1)}
	}

	return SatPerKVByte{
		big.NewRat(
			int64(fee)*SatsPerKilo, safeUint64ToInt64(uint64(vb)),
		),
	}
}

// SatPerKVByteFromFloat creates a fee rate from a float number of satoshis per
// 1000 vbytes. NaN, infinite and negative values yield a zero rate.
func SatPerKVByteFromFloat(rate float64) SatPerKVByte {
	if math.IsNaN(rate) || math.IsInf(rate, 0) || rate <= 0 {
		return SatPerKVByte{big.NewRat(0, 1)}
	}

	return SatPerKVByte{new(big.Rat).SetFloat64(rate)}
}

// FromBTCPerKB converts a fee rate expressed in BTC/kvB, as returned by the
// estimatesmartfee RPC, into sat/kvb.
func FromBTCPerKB(btcPerKB float64) SatPerKVByte {
	amt, err := btcutil.NewAmount(btcPerKB)
	if err != nil || amt <= 0 {
		return SatPerKVByte{big.NewRat(0, 1)}
	}

	return SatPerKVByte{big.NewRat(int64(amt), 1)}
}

func (s SatPerKVByte) rat() *big.Rat {
	if s.Rat == nil || s.Sign() < 0 {
		return new(big.Rat)
	}

	return s.Rat
}

// FeeForVSize calculates the fee resulting from this fee rate and the given
// vsize in vbytes. The resulting fee is rounded down and capped at the
// maximum number of satoshis.
func (s SatPerKVByte) FeeForVSize(vbytes VByte) btcutil.Amount {
	fee := new(big.Rat).Mul(
		s.rat(),
		big.NewRat(safeUint64ToInt64(uint64(vbytes)), SatsPerKilo),
	)

	q := new(big.Int).Quo(fee.Num(), fee.Denom())
	if !q.IsInt64() || q.Int64() > btcutil.MaxSatoshi {
		return btcutil.MaxSatoshi
	}

	return btcutil.Amount(q.Int64())
}

// EstimateFee returns the fee for a P2PKH transaction with the given number
// of inputs and outputs.
func (s SatPerKVByte) EstimateFee(inputs, outputs int) btcutil.Amount {
	return s.FeeForVSize(EstimateTxSize(inputs, outputs))
}

// String returns a human-readable string of the fee rate.
func (s SatPerKVByte) String() string {
	return s.rat().FloatString(floatStringPrecision) + " sat/kvb"
}

// Equal returns true if the fee rate is equal to the other fee rate.
func (s SatPerKVByte) Equal(other SatPerKVByte) bool {
	return s.rat().Cmp(other.rat()) == 0
}

// GreaterThan returns true if the fee rate is greater than the other fee rate.
func (s SatPerKVByte) GreaterThan(other SatPerKVByte) bool {
	return s.rat().Cmp(other.rat()) > 0
}

// LessThan returns true if the fee rate is less than the other fee rate.
func (s SatPerKVByte) LessThan(other SatPerKVByte) bool {
	return s.rat().Cmp(other.rat()) < 0
}

// IsZero reports whether the fee rate is zero.
func (s SatPerKVByte) IsZero() bool {
	return s.rat().Sign() == 0
}

// safeUint64ToInt64 converts a uint64 to an int64, capping at math.MaxInt64.
func safeUint64ToInt64(u uint64) int64 {
	if u > math.MaxInt64 {
		return math.MaxInt64
	}

	return int64(u)
}
