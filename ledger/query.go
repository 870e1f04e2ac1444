// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ledger

import (
	"context"
	"fmt"
	"slices"

	"github.com/btcsuite/btcvault/token"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// rlock takes the read lock unless ctx belongs to the operation that holds
// the write lock, in which case the state is already stable.
func (l *Ledger) rlock(ctx context.Context) func() {
	if l.guard.Entered(ctx) {
		return func() {}
	}

	l.mu.RLock()
	return l.mu.RUnlock
}

// DepositByID returns a copy of the deposit with the given id.
func (l *Ledger) DepositByID(ctx context.Context, id uint64) (*Deposit,
	error) {

	defer l.rlock(ctx)()

	d, ok := l.deposits[id]
	if !ok {
		return nil, ledgerError(ErrDepositNotFound,
			fmt.Sprintf("deposit %d not found", id), nil)
	}

	dCopy := *d
	return &dCopy, nil
}

// UserDeposits returns copies of every deposit made by addr, ordered by id.
func (l *Ledger) UserDeposits(ctx context.Context, addr string) []Deposit {
	defer l.rlock(ctx)()

	ids := l.userDeposits[addr]
	deposits := make([]Deposit, 0, len(ids))
	for _, id := range ids {
		deposits = append(deposits, *l.deposits[id])
	}

	return deposits
}

// TotalDeposits returns the sum of active deposits of the token.
func (l *Ledger) TotalDeposits(ctx context.Context, tok token.Type) uint64 {
	defer l.rlock(ctx)()

	return l.totals[tok]
}

// CollectedFees returns the fees collected for the token and not yet paid
// out.
func (l *Ledger) CollectedFees(ctx context.Context, tok token.Type) uint64 {
	defer l.rlock(ctx)()

	return l.fees.Collected[tok]
}

// SupportedTokens returns the tokens that can be deposited, in the order
// they were added.
func (l *Ledger) SupportedTokens(ctx context.Context) []token.Type {
	defer l.rlock(ctx)()

	return slices.Clone(l.supported)
}

// IsPaused reports whether deposits and withdrawals are paused.
func (l *Ledger) IsPaused(ctx context.Context) bool {
	defer l.rlock(ctx)()

	return l.paused
}

// Owner returns the owner address.
func (l *Ledger) Owner(ctx context.Context) string {
	defer l.rlock(ctx)()

	return l.owner
}

// PendingOwner returns the nominated owner, if any.
func (l *Ledger) PendingOwner(ctx context.Context) fn.Option[string] {
	defer l.rlock(ctx)()

	return l.pendingOwner
}

// FeeConfig returns a copy of the fee configuration.
func (l *Ledger) FeeConfig(ctx context.Context) FeeConfig {
	defer l.rlock(ctx)()

	return l.fees.copy()
}

// Limits returns a copy of the deposit limits.
func (l *Ledger) Limits(ctx context.Context) DepositLimits {
	defer l.rlock(ctx)()

	return l.limits.copy()
}

// NetworkType returns the backend's network label.
func (l *Ledger) NetworkType() string {
	return l.transfer.NetworkType()
}

// IsTestnet reports whether the backend talks to a test network.
func (l *Ledger) IsTestnet() bool {
	return l.transfer.NetworkType() == "testnet"
}
