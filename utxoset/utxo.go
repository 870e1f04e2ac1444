// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package utxoset maintains an in-memory set of unspent transaction outputs
// with a running total, and selects inputs from it to fund a payment under a
// fee rate.
package utxoset

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

var (
	// ErrInvalidReference is returned when a reference string is not of
	// the form <txid>:<vout>.
	ErrInvalidReference = errors.New("invalid utxo reference")

	// ErrInvalidAmount is returned when a UTXO with a negative amount, or
	// one above the maximum number of satoshis, is added to a set.
	ErrInvalidAmount = errors.New("invalid utxo amount")
)

// Utxo is a snapshot of an unspent output as observed on chain. A Utxo is
// never modified in place. A new observation of the same outpoint replaces
// the old one wholesale.
type Utxo struct {
	// OutPoint is the outpoint of the UTXO.
	OutPoint wire.OutPoint

	// Amount is the value of the UTXO.
	Amount btcutil.Amount

	// Confirmations is the number of confirmations the UTXO has.
	Confirmations int32

	// Address is the address the output pays to.
	Address string

	// PkScript is the public key script of the UTXO.
	PkScript []byte

	// Spendable reports whether the backing node considers the output
	// spendable.
	Spendable bool
}

// Reference returns the unique <txid>:<vout> string for the UTXO.
func (u Utxo) Reference() string {
	return u.OutPoint.String()
}

// ParseReference parses a <txid>:<vout> reference back into an outpoint.
func ParseReference(ref string) (wire.OutPoint, error) {
	txid, vout, ok := strings.Cut(ref, ":")
	if !ok {
		return wire.OutPoint{}, fmt.Errorf("%w: %q", ErrInvalidReference,
			ref)
	}

	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return wire.OutPoint{}, fmt.Errorf("%w: %v", ErrInvalidReference,
			err)
	}

	index, err := strconv.ParseUint(vout, 10, 32)
	if err != nil {
		return wire.OutPoint{}, fmt.Errorf("%w: %v", ErrInvalidReference,
			err)
	}

	return *wire.NewOutPoint(hash, uint32(index)), nil
}

// compareOutPoints orders outpoints by txid bytes and then by output index.
func compareOutPoints(a, b *wire.OutPoint) int {
	if c := bytes.Compare(a.Hash[:], b.Hash[:]); c != 0 {
		return c
	}

	switch {
	case a.Index < b.Index:
		return -1
	case a.Index > b.Index:
		return 1
	default:
		return 0
	}
}
