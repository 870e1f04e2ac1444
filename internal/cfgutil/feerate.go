// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cfgutil

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcvault/pkg/unit"
)

// FeeRateFlag embeds a unit.SatPerKVByte and implements the flags.Marshaler
// and Unmarshaler interfaces so it can be used as a config struct field.
// Values are read as sat/kvb unless suffixed with "sat/vb".
type FeeRateFlag struct {
	unit.SatPerKVByte
}

// NewFeeRateFlag creates a FeeRateFlag with a default fee rate.
func NewFeeRateFlag(defaultValue unit.SatPerKVByte) *FeeRateFlag {
	return &FeeRateFlag{defaultValue}
}

// MarshalFlag satisfies the flags.Marshaler interface.
func (f *FeeRateFlag) MarshalFlag() (string, error) {
	return f.SatPerKVByte.String(), nil
}

// UnmarshalFlag satisfies the flags.Unmarshaler interface.
func (f *FeeRateFlag) UnmarshalFlag(value string) error {
	s := strings.ToLower(strings.TrimSpace(value))

	scale := 1.0
	switch {
	case strings.HasSuffix(s, "sat/kvb"):
		s = strings.TrimSuffix(s, "sat/kvb")

	case strings.HasSuffix(s, "sat/vb"):
		s = strings.TrimSuffix(s, "sat/vb")
		scale = unit.SatsPerKilo
	}

	rate, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return fmt.Errorf("invalid fee rate %q: %w", value, err)
	}
	if rate <= 0 {
		return fmt.Errorf("invalid fee rate %q: must be positive", value)
	}

	f.SatPerKVByte = unit.SatPerKVByteFromFloat(rate * scale)
	return nil
}
