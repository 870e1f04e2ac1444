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

// State is a deep copy of everything a ledger owns. It is used to persist
// and restore a ledger, and to compare ledgers in tests.
type State struct {
	Owner           string
	PendingOwner    fn.Option[string]
	Paused          bool
	NextDepositID   uint64
	Deposits        map[uint64]Deposit
	UserDeposits    map[string][]uint64
	TotalDeposits   map[token.Type]uint64
	SupportedTokens []token.Type
	Fees            FeeConfig
	Limits          DepositLimits
}

// Snapshot returns a deep copy of the ledger state.
func (l *Ledger) Snapshot(ctx context.Context) *State {
	defer l.rlock(ctx)()

	s := &State{
		Owner:           l.owner,
		PendingOwner:    l.pendingOwner,
		Paused:          l.paused,
		NextDepositID:   l.nextID,
		Deposits:        make(map[uint64]Deposit, len(l.deposits)),
		UserDeposits:    make(map[string][]uint64, len(l.userDeposits)),
		TotalDeposits:   cloneMap(l.totals),
		SupportedTokens: slices.Clone(l.supported),
		Fees:            l.fees.copy(),
		Limits:          l.limits.copy(),
	}
	for id, d := range l.deposits {
		s.Deposits[id] = *d
	}
	for addr, ids := range l.userDeposits {
		s.UserDeposits[addr] = slices.Clone(ids)
	}

	return s
}

// Restore recreates a ledger from a snapshot. The owner and fee settings come
// from the state; cfg only supplies the backend, clock and chain parameters.
// The state is checked against the ledger invariants first.
func Restore(cfg Config, s *State) (*Ledger, error) {
	if cfg.Transfer == nil {
		return nil, ledgerError(ErrInitialization,
			"no token transfer backend", nil)
	}

	if err := s.CheckInvariants(); err != nil {
		return nil, err
	}

	l := newLedger(cfg)
	l.owner = s.Owner
	l.pendingOwner = s.PendingOwner
	l.paused = s.Paused
	l.nextID = s.NextDepositID
	l.supported = slices.Clone(s.SupportedTokens)
	l.fees = s.Fees.copy()
	l.limits = s.Limits.copy()
	l.totals = cloneMap(s.TotalDeposits)
	for id, d := range s.Deposits {
		dCopy := d
		l.deposits[id] = &dCopy
	}
	for addr, ids := range s.UserDeposits {
		l.userDeposits[addr] = slices.Clone(ids)
	}

	log.Infof("Restored ledger owned by %s with %d deposits", l.owner,
		len(l.deposits))

	return l, nil
}

// CheckInvariants verifies that the state is internally consistent:
//
//   - the total of each token equals the sum of its active deposits
//   - every indexed id exists and belongs to the indexing address
//   - the next id exceeds every issued id
//   - no deposit unlocks before it was made
//   - the fee percentage is within range
func (s *State) CheckInvariants() error {
	corrupt := func(format string, args ...interface{}) error {
		return ledgerError(ErrCorruptState,
			fmt.Sprintf(format, args...), nil)
	}

	if s.Owner == "" {
		return corrupt("owner address is empty")
	}

	if s.Fees.EmergencyFeePercent > MaxFeePercent {
		return corrupt("emergency fee %d%% exceeds %d%%",
			s.Fees.EmergencyFeePercent, MaxFeePercent)
	}

	active := make(map[token.Type]uint64)
	for id, d := range s.Deposits {
		if id != d.ID {
			return corrupt("deposit %d stored under id %d", d.ID, id)
		}

		if id >= s.NextDepositID {
			return corrupt("deposit %d not below next id %d", id,
				s.NextDepositID)
		}

		if d.UnlockTime.Before(d.DepositTime) {
			return corrupt("deposit %d unlocks before it was made",
				id)
		}

		if d.Withdrawn {
			continue
		}

		sum, ok := checkedAdd(active[d.Token], d.Amount)
		if !ok {
			return corrupt("active %v deposits overflow", d.Token)
		}
		active[d.Token] = sum
	}

	for tok, total := range s.TotalDeposits {
		if active[tok] != total {
			return corrupt("total %v deposits %d does not match "+
				"active deposits %d", tok, total, active[tok])
		}
	}
	for tok, sum := range active {
		if s.TotalDeposits[tok] != sum {
			return corrupt("total %v deposits %d does not match "+
				"active deposits %d", tok, s.TotalDeposits[tok],
				sum)
		}
	}

	for addr, ids := range s.UserDeposits {
		for _, id := range ids {
			d, ok := s.Deposits[id]
			if !ok {
				return corrupt("deposit %d indexed for %s not "+
					"found", id, addr)
			}

			if d.Depositor != addr {
				return corrupt("deposit %d indexed for %s "+
					"belongs to %s", id, addr, d.Depositor)
			}
		}
	}

	return nil
}
