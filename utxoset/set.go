// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package utxoset

import (
	"cmp"
	"slices"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

// Set is a collection of UTXOs keyed by outpoint with a running total of
// their amounts.
//
// NOTE: A Set is not safe for concurrent use. Selection only reads the set,
// but it must not run concurrently with Add or Remove.
type Set struct {
	utxos map[wire.OutPoint]Utxo
	total btcutil.Amount
}

// New returns an empty set.
func New() *Set {
	return &Set{
		utxos: make(map[wire.OutPoint]Utxo),
	}
}

// Add inserts the UTXO, replacing any previous snapshot of the same
// outpoint. The running total is adjusted by the difference.
func (s *Set) Add(u Utxo) error {
	if u.Amount < 0 || u.Amount > btcutil.MaxSatoshi {
		return ErrInvalidAmount
	}

	if old, ok := s.utxos[u.OutPoint]; ok {
		s.total -= old.Amount
	}

	s.utxos[u.OutPoint] = u
	s.total += u.Amount

	return nil
}

// Remove deletes the UTXO with the given outpoint and returns it.
func (s *Set) Remove(op wire.OutPoint) (Utxo, bool) {
	u, ok := s.utxos[op]
	if !ok {
		return Utxo{}, false
	}

	delete(s.utxos, op)
	s.total -= u.Amount

	return u, true
}

// Get returns the UTXO with the given outpoint.
func (s *Set) Get(op wire.OutPoint) (Utxo, bool) {
	u, ok := s.utxos[op]
	return u, ok
}

// TotalAmount returns the sum of all UTXO amounts in the set.
func (s *Set) TotalAmount() btcutil.Amount {
	return s.total
}

// Len returns the number of UTXOs in the set.
func (s *Set) Len() int {
	return len(s.utxos)
}

// Utxos returns all UTXOs ordered by ascending amount, with ties ordered by
// outpoint.
func (s *Set) Utxos() []Utxo {
	utxos := make([]Utxo, 0, len(s.utxos))
	for _, u := range s.utxos {
		utxos = append(utxos, u)
	}
	slices.SortFunc(utxos, ascending)

	return utxos
}

// Filter returns a new set holding the UTXOs for which keep returns true.
func (s *Set) Filter(keep func(Utxo) bool) *Set {
	filtered := New()
	for op, u := range s.utxos {
		if keep(u) {
			filtered.utxos[op] = u
			filtered.total += u.Amount
		}
	}

	return filtered
}

func ascending(a, b Utxo) int {
	if c := cmp.Compare(a.Amount, b.Amount); c != 0 {
		return c
	}

	return compareOutPoints(&a.OutPoint, &b.OutPoint)
}

func descending(a, b Utxo) int {
	if c := cmp.Compare(b.Amount, a.Amount); c != 0 {
		return c
	}

	return compareOutPoints(&a.OutPoint, &b.OutPoint)
}
