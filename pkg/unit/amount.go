// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package unit

import (
	"errors"
	"math"

	"github.com/btcsuite/btcd/btcutil"
)

// SatoshiPerBitcoin is the scale factor between base units and display units.
const SatoshiPerBitcoin = btcutil.SatoshiPerBitcoin

// ErrInvalidDisplayAmount is returned when a display amount cannot be
// represented in base units.
var ErrInvalidDisplayAmount = errors.New("invalid display amount")

// ToBTC converts an amount in satoshis to its display value in bitcoin.
func ToBTC(amt btcutil.Amount) float64 {
	return amt.ToBTC()
}

// FromBTC converts a display value in bitcoin to satoshis. The value is
// rounded to the nearest satoshi. Negative, NaN and infinite values are
// rejected.
func FromBTC(btc float64) (btcutil.Amount, error) {
	if math.IsNaN(btc) || math.IsInf(btc, 0) || btc < 0 {
		return 0, ErrInvalidDisplayAmount
	}

	amt, err := btcutil.NewAmount(btc)
	if err != nil {
		return 0, errors.Join(ErrInvalidDisplayAmount, err)
	}

	return amt, nil
}

// FormatBTC renders the amount in bitcoin followed by the unit suffix.
func FormatBTC(amt btcutil.Amount) string {
	return amt.Format(btcutil.AmountBTC)
}
