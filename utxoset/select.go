// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package utxoset

import (
	"errors"
	"fmt"
	"slices"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcvault/pkg/unit"
)

const (
	// DefaultMaxSearchInputs is the largest set for which branch and bound
	// is attempted. Larger sets go straight to the knapsack fallback.
	DefaultMaxSearchInputs = 20

	// selectionOutputs is the number of outputs assumed when estimating
	// fees during selection: the payment and the change.
	selectionOutputs = 2
)

var (
	// ErrInsufficientFunds is matched by every InsufficientFundsError.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidTarget is returned when the target amount is not a
	// positive amount of satoshis.
	ErrInvalidTarget = errors.New("invalid target amount")
)

// InsufficientFundsError is returned when a set cannot fund a target. It
// signals the missing amount to the caller.
type InsufficientFundsError struct {
	Target    btcutil.Amount
	Fee       btcutil.Amount
	Available btcutil.Amount
}

// Error implements the error interface.
func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds available to construct "+
		"transaction: amount: %v, minimum fee: %v, available amount: %v",
		e.Target, e.Fee, e.Available)
}

// Is allows errors.Is to match the error against ErrInsufficientFunds.
func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

// Strategy identifies which selection step produced a Selection.
type Strategy uint8

const (
	// ExactMatch is a single input whose amount equals the target plus
	// fee.
	ExactMatch Strategy = iota

	// SingleWithChange is a single input larger than the target plus fee.
	SingleWithChange

	// BranchAndBound is the subset with the least excess over the target.
	BranchAndBound

	// Knapsack is the smallest-first accumulation fallback.
	Knapsack
)

// String returns a human readable name for the strategy.
func (s Strategy) String() string {
	switch s {
	case ExactMatch:
		return "exact match"
	case SingleWithChange:
		return "single with change"
	case BranchAndBound:
		return "branch and bound"
	case Knapsack:
		return "knapsack"
	default:
		return fmt.Sprintf("unknown strategy %d", uint8(s))
	}
}

// Selection is the result of a successful coin selection.
type Selection struct {
	// Inputs are the selected UTXOs in the order the strategy visited
	// them.
	Inputs []Utxo

	// Change is the amount left over after paying the target and fee.
	Change btcutil.Amount

	// Fee is the fee that was budgeted for the selection.
	Fee btcutil.Amount

	// Strategy is the step that produced the selection.
	Strategy Strategy
}

// InputTotal returns the sum of the selected input amounts.
func (s *Selection) InputTotal() btcutil.Amount {
	var total btcutil.Amount
	for _, u := range s.Inputs {
		total += u.Amount
	}

	return total
}

// SelectOptions tunes the selection engine.
type SelectOptions struct {
	// MaxSearchInputs caps the size of sets for which branch and bound
	// is attempted. A non-positive value selects the default.
	MaxSearchInputs int
}

// Select chooses inputs from the set to pay target at the given fee rate
// using the default options. See SelectWithOptions.
func (s *Set) Select(target btcutil.Amount,
	feeRate unit.SatPerKVByte) (*Selection, error) {

	return s.SelectWithOptions(target, feeRate, SelectOptions{})
}

// SelectWithOptions chooses inputs from the set to pay target at the given
// fee rate. The steps are tried in order and the first success wins:
//
//  1. a single UTXO equal to the target plus the one input fee
//  2. a single UTXO larger than the target plus the one input fee
//  3. branch and bound over the set sorted by descending amount
//  4. knapsack accumulation over the set sorted by ascending amount
//
// Steps one and two pick the smallest qualifying UTXO, with equal amounts
// ordered by outpoint, so the result never depends on map iteration order.
func (s *Set) SelectWithOptions(target btcutil.Amount,
	feeRate unit.SatPerKVByte, opts SelectOptions) (*Selection, error) {

	if target <= 0 || target > btcutil.MaxSatoshi {
		return nil, ErrInvalidTarget
	}

	if s.total < target {
		return nil, &InsufficientFundsError{
			Target:    target,
			Available: s.total,
		}
	}

	maxSearch := opts.MaxSearchInputs
	if maxSearch <= 0 {
		maxSearch = DefaultMaxSearchInputs
	}

	utxos := s.Utxos()

	sel := selectSingle(utxos, target, feeRate)
	if sel == nil && len(utxos) <= maxSearch {
		sel = selectBranchAndBound(utxos, target, feeRate)
	}
	if sel == nil {
		var err error
		sel, err = selectKnapsack(utxos, target, feeRate)
		if err != nil {
			return nil, err
		}
	}

	log.Debugf("Selected %d inputs totalling %v for target %v using %v "+
		"(fee=%v, change=%v)", len(sel.Inputs), sel.InputTotal(),
		target, sel.Strategy, sel.Fee, sel.Change)

	return sel, nil
}

// selectSingle tries the exact match and single with change steps over
// UTXOs sorted by ascending amount.
func selectSingle(utxos []Utxo, target btcutil.Amount,
	feeRate unit.SatPerKVByte) *Selection {

	fee := feeRate.EstimateFee(1, selectionOutputs)
	needed := target + fee

	for _, u := range utxos {
		if u.Amount == needed {
			return &Selection{
				Inputs:   []Utxo{u},
				Fee:      fee,
				Strategy: ExactMatch,
			}
		}
	}

	for _, u := range utxos {
		if u.Amount > needed {
			return &Selection{
				Inputs:   []Utxo{u},
				Change:   u.Amount - needed,
				Fee:      fee,
				Strategy: SingleWithChange,
			}
		}
	}

	return nil
}

// bnbSearch holds the state of a depth first include/exclude search for the
// subset whose sum exceeds the target by the least amount.
type bnbSearch struct {
	utxos  []Utxo
	suffix []btcutil.Amount
	target btcutil.Amount

	current   []int
	best      []int
	bestWaste btcutil.Amount
	found     bool
}

func (b *bnbSearch) search(index int, sum btcutil.Amount) {
	// Nothing can beat a zero waste subset that was visited first.
	if b.found && b.bestWaste == 0 {
		return
	}

	if sum >= b.target {
		waste := sum - b.target
		if !b.found || waste < b.bestWaste {
			b.best = slices.Clone(b.current)
			b.bestWaste = waste
			b.found = true
		}

		return
	}

	// Prune branches that cannot reach the target even by including every
	// remaining UTXO.
	if index >= len(b.utxos) || sum+b.suffix[index] < b.target {
		return
	}

	b.current = append(b.current, index)
	b.search(index+1, sum+b.utxos[index].Amount)
	b.current = b.current[:len(b.current)-1]

	b.search(index+1, sum)
}

// selectBranchAndBound searches for the subset with minimal waste, where
// waste is the excess of the subset sum over the target ignoring fees. The
// fee is then computed for the actual input count and the subset is only
// accepted if it strictly exceeds the target plus fee.
func selectBranchAndBound(ascending []Utxo, target btcutil.Amount,
	feeRate unit.SatPerKVByte) *Selection {

	utxos := slices.Clone(ascending)
	slices.SortFunc(utxos, descending)

	suffix := make([]btcutil.Amount, len(utxos)+1)
	for i := len(utxos) - 1; i >= 0; i-- {
		suffix[i] = suffix[i+1] + utxos[i].Amount
	}

	b := &bnbSearch{
		utxos:  utxos,
		suffix: suffix,
		target: target,
	}
	b.search(0, 0)

	if !b.found {
		return nil
	}

	inputs := make([]Utxo, 0, len(b.best))
	for _, i := range b.best {
		inputs = append(inputs, utxos[i])
	}

	sel := &Selection{
		Inputs:   inputs,
		Fee:      feeRate.EstimateFee(len(inputs), selectionOutputs),
		Strategy: BranchAndBound,
	}

	total := sel.InputTotal()
	if total <= target+sel.Fee {
		log.Tracef("Branch and bound subset of %d inputs (%v) does not "+
			"cover target %v plus fee %v", len(inputs), total,
			target, sel.Fee)

		return nil
	}
	sel.Change = total - target - sel.Fee

	return sel
}

// selectKnapsack accumulates UTXOs in ascending order until the running sum
// covers the target plus the fee for the inputs accumulated so far.
func selectKnapsack(utxos []Utxo, target btcutil.Amount,
	feeRate unit.SatPerKVByte) (*Selection, error) {

	var (
		inputs []Utxo
		sum    btcutil.Amount
		fee    btcutil.Amount
	)
	for _, u := range utxos {
		inputs = append(inputs, u)
		sum += u.Amount

		fee = feeRate.EstimateFee(len(inputs), selectionOutputs)
		if sum >= target+fee {
			return &Selection{
				Inputs:   inputs,
				Change:   sum - target - fee,
				Fee:      fee,
				Strategy: Knapsack,
			}, nil
		}
	}

	return nil, &InsufficientFundsError{
		Target:    target,
		Fee:       fee,
		Available: sum,
	}
}
