// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package vaultdb

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcvault/chain"
	"github.com/btcsuite/btcvault/ledger"
	"github.com/btcsuite/btcvault/token"
	"github.com/lightningnetwork/lnd/fn/v2"
	bolt "go.etcd.io/bbolt"
)

// stateVersion is the version of the stored meta record.
const stateVersion = 1

// stateRecord is the stored form of everything in a ledger.State except the
// deposits, which live in their own bucket.
type stateRecord struct {
	Version             uint32                `json:"version"`
	Owner               string                `json:"owner"`
	PendingOwner        *string               `json:"pending_owner,omitempty"`
	Paused              bool                  `json:"paused"`
	NextDepositID       uint64                `json:"next_deposit_id"`
	UserDeposits        map[string][]uint64   `json:"user_deposits"`
	TotalDeposits       map[token.Type]uint64 `json:"total_deposits"`
	SupportedTokens     []token.Type          `json:"supported_tokens"`
	EmergencyFeePercent uint8                 `json:"emergency_fee_percent"`
	FeeCollector        string                `json:"fee_collector"`
	CollectedFees       map[token.Type]uint64 `json:"collected_fees"`
	MaxDepositAmounts   map[token.Type]uint64 `json:"max_deposit_amounts"`
	MaxDepositsPerUser  *uint32               `json:"max_deposits_per_user,omitempty"`
	MaxTotalDeposits    *uint64               `json:"max_total_deposits,omitempty"`
}

func optionPtr[T interface{}](o fn.Option[T]) *T {
	var p *T
	o.WhenSome(func(v T) {
		p = &v
	})

	return p
}

func ptrOption[T interface{}](p *T) fn.Option[T] {
	if p == nil {
		return fn.None[T]()
	}

	return fn.Some(*p)
}

func newStateRecord(s *ledger.State) *stateRecord {
	return &stateRecord{
		Version:             stateVersion,
		Owner:               s.Owner,
		PendingOwner:        optionPtr(s.PendingOwner),
		Paused:              s.Paused,
		NextDepositID:       s.NextDepositID,
		UserDeposits:        s.UserDeposits,
		TotalDeposits:       s.TotalDeposits,
		SupportedTokens:     s.SupportedTokens,
		EmergencyFeePercent: s.Fees.EmergencyFeePercent,
		FeeCollector:        s.Fees.Collector,
		CollectedFees:       s.Fees.Collected,
		MaxDepositAmounts:   s.Limits.MaxDepositAmounts,
		MaxDepositsPerUser:  optionPtr(s.Limits.MaxDepositsPerUser),
		MaxTotalDeposits:    optionPtr(s.Limits.MaxTotalDeposits),
	}
}

func (r *stateRecord) state() *ledger.State {
	s := &ledger.State{
		Owner:           r.Owner,
		PendingOwner:    ptrOption(r.PendingOwner),
		Paused:          r.Paused,
		NextDepositID:   r.NextDepositID,
		Deposits:        make(map[uint64]ledger.Deposit),
		UserDeposits:    r.UserDeposits,
		TotalDeposits:   r.TotalDeposits,
		SupportedTokens: r.SupportedTokens,
		Fees: ledger.FeeConfig{
			EmergencyFeePercent: r.EmergencyFeePercent,
			Collector:           r.FeeCollector,
			Collected:           r.CollectedFees,
		},
		Limits: ledger.DepositLimits{
			MaxDepositAmounts:  r.MaxDepositAmounts,
			MaxDepositsPerUser: ptrOption(r.MaxDepositsPerUser),
			MaxTotalDeposits:   ptrOption(r.MaxTotalDeposits),
		},
	}

	// Empty maps are written as null or omitted by older records.
	if s.UserDeposits == nil {
		s.UserDeposits = make(map[string][]uint64)
	}
	if s.TotalDeposits == nil {
		s.TotalDeposits = make(map[token.Type]uint64)
	}
	if s.Fees.Collected == nil {
		s.Fees.Collected = make(map[token.Type]uint64)
	}
	if s.Limits.MaxDepositAmounts == nil {
		s.Limits.MaxDepositAmounts = make(map[token.Type]uint64)
	}

	return s
}

// PutState replaces the stored ledger state.
func (db *DB) PutState(s *ledger.State) error {
	return db.Commit(s, nil)
}

// Commit replaces the stored ledger state, queues the transfers the
// operation that produced it staged, and appends the events it emitted, all
// in a single transaction. Either everything is stored or nothing is, so a
// payout is never queued for a withdrawal the ledger does not record.
func (db *DB) Commit(s *ledger.State, transfers []chain.Transfer,
	events ...ledger.Event) error {

	var ids []uint64
	err := db.bolt.Update(func(tx *bolt.Tx) error {
		ids = ids[:0]
		for i := range transfers {
			id, err := queueTransfer(tx, &transfers[i])
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}

		if err := putState(tx, s); err != nil {
			return err
		}

		for _, ev := range events {
			if err := putEvent(tx, ev); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	for i, id := range ids {
		t := &transfers[i]
		log.Debugf("Queued %v transfer %d of %v from %s to %s",
			t.Direction, id, t.Amount, t.From, t.To)
	}

	return nil
}

// putState stores s after checking its invariants. A corrupt state is
// refused so it never replaces a good one.
func putState(tx *bolt.Tx, s *ledger.State) error {
	if err := s.CheckInvariants(); err != nil {
		return fmt.Errorf("refusing to store ledger state: %w", err)
	}

	v, err := json.Marshal(newStateRecord(s))
	if err != nil {
		return fmt.Errorf("unable to encode ledger state: %w", err)
	}

	if err := tx.Bucket(bucketMeta).Put(metaState, v); err != nil {
		return fmt.Errorf("unable to put ledger state: %w", err)
	}

	written, err := putDeposits(tx, s.Deposits)
	if err != nil {
		return err
	}

	log.Tracef("Stored ledger state with %d deposits (%d written)",
		len(s.Deposits), written)

	return nil
}

// putDeposits writes the deposits whose encoding differs from the stored
// record and returns how many were written. Deposits are never deleted by
// the ledger, so stored records missing from deposits are left alone.
func putDeposits(tx *bolt.Tx, deposits map[uint64]ledger.Deposit) (int,
	error) {

	b := tx.Bucket(bucketDeposits)

	var written int
	for id, d := range deposits {
		v, err := encodeDeposit(&d)
		if err != nil {
			return 0, fmt.Errorf("unable to encode deposit %d: %w",
				id, err)
		}

		k := keyUint64(id)
		if bytes.Equal(b.Get(k), v) {
			continue
		}

		if err := b.Put(k, v); err != nil {
			return 0, fmt.Errorf("unable to put deposit %d: %w",
				id, err)
		}
		written++
	}

	return written, nil
}

// FetchState returns the stored ledger state. ErrNoState is returned if no
// state was stored yet.
func (db *DB) FetchState() (*ledger.State, error) {
	var s *ledger.State
	err := db.bolt.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketMeta).Get(metaState)
		if v == nil {
			return ErrNoState
		}

		var r stateRecord
		if err := json.Unmarshal(v, &r); err != nil {
			return fmt.Errorf("%w: ledger state: %v", ErrData, err)
		}
		if r.Version > stateVersion {
			return fmt.Errorf("%w: ledger state version %d",
				ErrUnknownVersion, r.Version)
		}
		s = r.state()

		return tx.Bucket(bucketDeposits).ForEach(func(k, v []byte) error {
			id, err := fetchUint64Key(k)
			if err != nil {
				return err
			}

			d, err := decodeDeposit(v)
			if err != nil {
				return err
			}
			if d.ID != id {
				return fmt.Errorf("%w: deposit %d stored under "+
					"key %d", ErrData, d.ID, id)
			}
			s.Deposits[id] = *d

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return s, nil
}
