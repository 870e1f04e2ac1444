// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ledger

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"time"

	"github.com/btcsuite/btcvault/token"
	"github.com/lightningnetwork/lnd/fn/v2"
)

const (
	// MaxDepositAmount is the largest amount a single deposit may carry.
	MaxDepositAmount = math.MaxUint64 / 2

	// MinLockDays is the shortest lock period in days.
	MinLockDays = 1

	// MaxLockDays is the longest lock period in days.
	MaxLockDays = 3650

	// MaxFeePercent is the largest emergency withdrawal fee.
	MaxFeePercent = 100

	// lockDay is the length of one lock period day.
	lockDay = 24 * time.Hour
)

// DepositState is the lifecycle state of a deposit.
type DepositState uint8

const (
	// DepositActive is a deposit that has not been withdrawn. It may or
	// may not be unlocked.
	DepositActive DepositState = iota

	// DepositWithdrawn is terminal.
	DepositWithdrawn
)

// String returns a human readable name for the state.
func (s DepositState) String() string {
	switch s {
	case DepositActive:
		return "active"
	case DepositWithdrawn:
		return "withdrawn"
	default:
		return fmt.Sprintf("unknown state %d", uint8(s))
	}
}

// Deposit is a time locked deposit owned by the ledger.
type Deposit struct {
	// ID is the unique, monotonically increasing deposit id.
	ID uint64

	// Depositor is the address that made the deposit.
	Depositor string

	// Token is the deposited asset.
	Token token.Type

	// Amount is the deposited amount in the token's base units.
	Amount uint64

	// DepositTime is when the deposit was made.
	DepositTime time.Time

	// UnlockTime is the earliest time the deposit can be withdrawn
	// without a fee.
	UnlockTime time.Time

	// Withdrawn is set once the deposit has been paid out.
	Withdrawn bool

	// WithdrawalTx is the transaction that paid out the deposit, when
	// known.
	WithdrawalTx fn.Option[string]

	// LastModified is when the deposit was created or withdrawn.
	LastModified time.Time

	// UtxoRef is the <txid>:<vout> of the output that funded the deposit.
	UtxoRef fn.Option[string]

	// LightningPaymentHash references the channel payment of a Lightning
	// deposit.
	LightningPaymentHash fn.Option[string]

	// MultisigWallet references the multisig wallet holding a deposit made
	// from a script hash address.
	MultisigWallet fn.Option[string]
}

// State returns the lifecycle state of the deposit.
func (d *Deposit) State() DepositState {
	if d.Withdrawn {
		return DepositWithdrawn
	}
	return DepositActive
}

// IsUnlocked reports whether the lock has elapsed at the given time.
func (d *Deposit) IsUnlocked(now time.Time) bool {
	return !now.Before(d.UnlockTime)
}

// FeeConfig holds the emergency withdrawal fee settings and the fees
// collected so far.
type FeeConfig struct {
	// EmergencyFeePercent is the share of an emergency withdrawal kept
	// as a fee.
	EmergencyFeePercent uint8

	// Collector receives collected fees.
	Collector string

	// Collected is the accumulated fee per token.
	Collected map[token.Type]uint64
}

// copy returns a deep copy of the fee config.
func (f FeeConfig) copy() FeeConfig {
	f.Collected = cloneMap(f.Collected)
	return f
}

// DepositLimits restricts deposits. Unset options mean unlimited.
type DepositLimits struct {
	// MaxDepositAmounts is the maximum amount of a single deposit per
	// token. Tokens without an entry are unlimited.
	MaxDepositAmounts map[token.Type]uint64

	// MaxDepositsPerUser caps the number of deposits a single address can
	// make over the ledger's lifetime.
	MaxDepositsPerUser fn.Option[uint32]

	// MaxTotalDeposits caps the aggregate active deposits of each token.
	MaxTotalDeposits fn.Option[uint64]
}

// errZeroLimit is wrapped when a limit is explicitly set to zero.
var errZeroLimit = errors.New("limit cannot be zero")

// Validate returns an error if any explicit limit is zero.
func (l DepositLimits) Validate() error {
	if l.MaxDepositsPerUser.UnwrapOr(1) == 0 {
		return fmt.Errorf("maximum deposits per user: %w", errZeroLimit)
	}

	if l.MaxTotalDeposits.UnwrapOr(1) == 0 {
		return fmt.Errorf("maximum total deposits: %w", errZeroLimit)
	}

	for tok, amt := range l.MaxDepositAmounts {
		if amt == 0 {
			return fmt.Errorf("maximum deposit amount for %v: %w",
				tok, errZeroLimit)
		}
	}

	return nil
}

// copy returns a deep copy of the limits.
func (l DepositLimits) copy() DepositLimits {
	l.MaxDepositAmounts = cloneMap(l.MaxDepositAmounts)
	return l
}

// cloneMap returns a non-nil copy of m.
func cloneMap[K comparable, V interface{}](m map[K]V) map[K]V {
	c := make(map[K]V, len(m))
	maps.Copy(c, m)

	return c
}
