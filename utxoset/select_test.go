// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package utxoset

import (
	"math/rand"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcvault/pkg/unit"
	"github.com/stretchr/testify/require"
)

var (
	zeroRate = unit.SatPerKVByteFromFloat(0)
	oneRate  = unit.SatPerKVByteFromFloat(1)

	// satPerByte is a rate of one satoshi per byte, so the one input fee is
	// 226 satoshis.
	satPerByte = unit.SatPerKVByteFromFloat(1000)
)

// amounts returns the amounts of the selected inputs in order.
func amounts(sel *Selection) []btcutil.Amount {
	amts := make([]btcutil.Amount, 0, len(sel.Inputs))
	for _, u := range sel.Inputs {
		amts = append(amts, u.Amount)
	}

	return amts
}

// requireBalanced asserts the selection pays exactly target plus fee plus
// change.
func requireBalanced(t *testing.T, sel *Selection, target btcutil.Amount) {
	t.Helper()

	require.GreaterOrEqual(t, sel.Change, btcutil.Amount(0))
	require.Equal(t, target+sel.Fee+sel.Change, sel.InputTotal())

	seen := make(map[string]struct{})
	for _, u := range sel.Inputs {
		_, dup := seen[u.Reference()]
		require.False(t, dup, "duplicate input %v", u.Reference())
		seen[u.Reference()] = struct{}{}
	}
}

// TestSelectStrategies checks which step wins for a range of sets.
func TestSelectStrategies(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name      string
		utxos     []btcutil.Amount
		target    btcutil.Amount
		rate      unit.SatPerKVByte
		opts      SelectOptions
		strategy  Strategy
		inputs    []btcutil.Amount
		change    btcutil.Amount
		fee       btcutil.Amount
		expectErr error
	}{
		{
			name:     "exact match at negligible fee",
			utxos:    []btcutil.Amount{3000},
			target:   3000,
			rate:     oneRate,
			strategy: ExactMatch,
			inputs:   []btcutil.Amount{3000},
			change:   0,
			fee:      0,
		},
		{
			name:     "exact match covers target and fee",
			utxos:    []btcutil.Amount{9000, 4226, 5000},
			target:   4000,
			rate:     satPerByte,
			strategy: ExactMatch,
			inputs:   []btcutil.Amount{4226},
			change:   0,
			fee:      226,
		},
		{
			name:     "smallest single with change",
			utxos:    []btcutil.Amount{1000, 8000, 5000},
			target:   4000,
			rate:     satPerByte,
			strategy: SingleWithChange,
			inputs:   []btcutil.Amount{5000},
			change:   774,
			fee:      226,
		},
		{
			name:     "branch and bound minimal waste",
			utxos:    []btcutil.Amount{100, 450, 500, 600},
			target:   1000,
			rate:     zeroRate,
			strategy: BranchAndBound,
			inputs:   []btcutil.Amount{600, 450},
			change:   50,
			fee:      0,
		},
		{
			name:     "branch and bound pays refined fee",
			utxos:    []btcutil.Amount{5000, 3000, 2500},
			target:   7000,
			rate:     satPerByte,
			strategy: BranchAndBound,
			inputs:   []btcutil.Amount{5000, 2500},
			// 10 + 2*148 + 2*34 = 374 bytes.
			change: 7500 - 7000 - 374,
			fee:    374,
		},
		{
			name:     "zero waste subset fails strict fee check",
			utxos:    []btcutil.Amount{400, 500, 600},
			target:   900,
			rate:     zeroRate,
			strategy: Knapsack,
			inputs:   []btcutil.Amount{400, 500},
			change:   0,
			fee:      0,
		},
		{
			name:     "search cap falls back to knapsack",
			utxos:    []btcutil.Amount{100, 450, 500, 600},
			target:   1000,
			rate:     zeroRate,
			opts:     SelectOptions{MaxSearchInputs: 3},
			strategy: Knapsack,
			inputs:   []btcutil.Amount{100, 450, 500},
			change:   50,
			fee:      0,
		},
		{
			name:      "fee growth exhausts knapsack",
			utxos:     []btcutil.Amount{1000, 1000},
			target:    1900,
			rate:      satPerByte,
			expectErr: ErrInsufficientFunds,
		},
		{
			name:      "total below target",
			utxos:     []btcutil.Amount{1000, 500},
			target:    1501,
			rate:      zeroRate,
			expectErr: ErrInsufficientFunds,
		},
		{
			name:      "empty set",
			target:    1,
			rate:      zeroRate,
			expectErr: ErrInsufficientFunds,
		},
		{
			name:      "zero target",
			utxos:     []btcutil.Amount{1000},
			target:    0,
			rate:      zeroRate,
			expectErr: ErrInvalidTarget,
		},
		{
			name:      "negative target",
			utxos:     []btcutil.Amount{1000},
			target:    -5,
			rate:      zeroRate,
			expectErr: ErrInvalidTarget,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			s := newTestSet(t, tc.utxos...)
			sel, err := s.SelectWithOptions(tc.target, tc.rate, tc.opts)
			if tc.expectErr != nil {
				require.ErrorIs(t, err, tc.expectErr)
				require.Nil(t, sel)

				return
			}

			require.NoError(t, err)
			require.Equal(t, tc.strategy, sel.Strategy)
			require.Equal(t, tc.inputs, amounts(sel))
			require.Equal(t, tc.change, sel.Change)
			require.Equal(t, tc.fee, sel.Fee)
			requireBalanced(t, sel, tc.target)
		})
	}
}

// TestSelectInsufficientFundsDetail checks that the error reports the fee
// needed for the full set.
func TestSelectInsufficientFundsDetail(t *testing.T) {
	t.Parallel()

	s := newTestSet(t, 1000, 1000)

	_, err := s.Select(1900, satPerByte)

	var fundsErr *InsufficientFundsError
	require.ErrorAs(t, err, &fundsErr)
	require.Equal(t, btcutil.Amount(1900), fundsErr.Target)
	require.Equal(t, btcutil.Amount(374), fundsErr.Fee)
	require.Equal(t, btcutil.Amount(2000), fundsErr.Available)
}

// TestSelectDeterministicTieBreak checks that equal amounts are resolved by
// outpoint regardless of insertion order.
func TestSelectDeterministicTieBreak(t *testing.T) {
	t.Parallel()

	for i := 0; i < 20; i++ {
		s := New()
		ids := []byte{5, 3, 9, 1}
		rand.Shuffle(len(ids), func(a, b int) {
			ids[a], ids[b] = ids[b], ids[a]
		})
		for _, id := range ids {
			require.NoError(t, s.Add(testUtxo(id, 3000)))
		}

		sel, err := s.Select(3000, oneRate)
		require.NoError(t, err)
		require.Equal(t, ExactMatch, sel.Strategy)
		require.Equal(t, testUtxo(1, 3000), sel.Inputs[0])
	}
}

// TestSelectExhaustion checks that a set whose total is below the target
// never yields a partial selection.
func TestSelectExhaustion(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		n := rng.Intn(12)
		amts := make([]btcutil.Amount, n)

		var total btcutil.Amount
		for j := range amts {
			amts[j] = btcutil.Amount(rng.Int63n(100_000) + 1)
			total += amts[j]
		}

		s := newTestSet(t, amts...)
		target := total + btcutil.Amount(rng.Int63n(1000)+1)

		sel, err := s.Select(target, oneRate)
		require.ErrorIs(t, err, ErrInsufficientFunds)
		require.Nil(t, sel)
	}
}

// TestSelectBalanced checks that every successful selection over random sets
// pays the target plus fee plus change exactly with distinct inputs.
func TestSelectBalanced(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(7))
	rates := []unit.SatPerKVByte{zeroRate, oneRate, satPerByte}

	for i := 0; i < 300; i++ {
		n := rng.Intn(15) + 1
		amts := make([]btcutil.Amount, n)

		var total btcutil.Amount
		for j := range amts {
			amts[j] = btcutil.Amount(rng.Int63n(50_000) + 1)
			total += amts[j]
		}

		s := newTestSet(t, amts...)
		target := btcutil.Amount(rng.Int63n(int64(total))) + 1
		rate := rates[rng.Intn(len(rates))]

		sel, err := s.Select(target, rate)
		if err != nil {
			require.ErrorIs(t, err, ErrInsufficientFunds)
			continue
		}
		requireBalanced(t, sel, target)

		// Selection never mutates the set.
		require.Equal(t, n, s.Len())
		require.Equal(t, total, s.TotalAmount())
	}
}

// TestStrategyString checks the strategy names used in logs.
func TestStrategyString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "exact match", ExactMatch.String())
	require.Equal(t, "knapsack", Knapsack.String())
	require.Equal(t, "unknown strategy 9", Strategy(9).String())
}
