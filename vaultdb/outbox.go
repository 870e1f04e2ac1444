// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package vaultdb

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcvault/chain"
	"github.com/btcsuite/btcvault/token"
	"github.com/lightningnetwork/lnd/fn/v2"
	bolt "go.etcd.io/bbolt"
)

// A compile-time assertion to ensure that DB implements the chain.Outbox
// interface.
var _ chain.Outbox = (*DB)(nil)

// transferRecord is the stored form of a chain.Transfer.
type transferRecord struct {
	ID        uint64          `json:"id"`
	Direction chain.Direction `json:"direction"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Token     token.Type      `json:"token"`
	Amount    btcutil.Amount  `json:"amount"`
	Queued    time.Time       `json:"queued"`
	TxHash    string          `json:"tx_hash,omitempty"`
	Packet    string          `json:"psbt,omitempty"`
}

func newTransferRecord(t *chain.Transfer) *transferRecord {
	r := &transferRecord{
		ID:        t.ID,
		Direction: t.Direction,
		From:      t.From,
		To:        t.To,
		Token:     t.Token,
		Amount:    t.Amount,
		Queued:    t.Queued,
		Packet:    t.Packet,
	}
	t.TxHash.WhenSome(func(h chainhash.Hash) {
		r.TxHash = h.String()
	})

	return r
}

func (r *transferRecord) transfer() (*chain.Transfer, error) {
	t := &chain.Transfer{
		ID:        r.ID,
		Direction: r.Direction,
		From:      r.From,
		To:        r.To,
		Token:     r.Token,
		Amount:    r.Amount,
		Queued:    r.Queued,
		Packet:    r.Packet,
	}

	if r.TxHash != "" {
		h, err := chainhash.NewHashFromStr(r.TxHash)
		if err != nil {
			return nil, fmt.Errorf("%w: transfer %d: %v", ErrData,
				r.ID, err)
		}
		t.TxHash = fn.Some(*h)
	}

	return t, nil
}

func fetchTransfer(b *bolt.Bucket, k []byte) (*chain.Transfer, error) {
	v := b.Get(k)
	if v == nil {
		return nil, chain.ErrTransferNotFound
	}

	var r transferRecord
	if err := json.Unmarshal(v, &r); err != nil {
		return nil, fmt.Errorf("%w: transfer: %v", ErrData, err)
	}

	return r.transfer()
}

func putTransfer(b *bolt.Bucket, t *chain.Transfer) error {
	v, err := json.Marshal(newTransferRecord(t))
	if err != nil {
		return fmt.Errorf("unable to encode transfer %d: %w", t.ID, err)
	}

	return b.Put(keyUint64(t.ID), v)
}

// queueTransfer stores t as a new pending transfer under the next id of the
// transfers bucket and returns that id. Any id or completion already set on
// t is ignored.
func queueTransfer(tx *bolt.Tx, t *chain.Transfer) (uint64, error) {
	b := tx.Bucket(bucketTransfers)

	seq, err := b.NextSequence()
	if err != nil {
		return 0, err
	}

	queued := *t
	queued.ID = seq
	queued.TxHash = fn.None[chainhash.Hash]()
	queued.Packet = ""
	if err := putTransfer(b, &queued); err != nil {
		return 0, err
	}

	return seq, nil
}

// QueueTransfer stores a new pending transfer and returns its id. Any id or
// completion already set on t is ignored.
func (db *DB) QueueTransfer(t *chain.Transfer) (uint64, error) {
	var id uint64
	err := db.bolt.Update(func(tx *bolt.Tx) error {
		var err error
		id, err = queueTransfer(tx, t)
		return err
	})
	if err != nil {
		return 0, err
	}

	log.Debugf("Queued %v transfer %d of %v from %s to %s", t.Direction,
		id, t.Amount, t.From, t.To)

	return id, nil
}

// PendingTransfers returns up to limit transfers without a transaction,
// oldest first. A non-positive limit returns all of them.
func (db *DB) PendingTransfers(limit int) ([]chain.Transfer, error) {
	var pending []chain.Transfer
	err := db.bolt.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTransfers)
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if limit > 0 && len(pending) >= limit {
				break
			}

			t, err := fetchTransfer(b, k)
			if err != nil {
				return err
			}
			if t.Completed() {
				continue
			}
			pending = append(pending, *t)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return pending, nil
}

// CompleteTransfer records the transaction built for a pending transfer.
func (db *DB) CompleteTransfer(id uint64, txHash chainhash.Hash,
	packet string) error {

	return db.bolt.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTransfers)

		t, err := fetchTransfer(b, keyUint64(id))
		if err != nil {
			return err
		}
		if t.Completed() {
			return fmt.Errorf("transfer %d already completed", id)
		}

		t.TxHash = fn.Some(txHash)
		t.Packet = packet

		return putTransfer(b, t)
	})
}

// FetchTransfer returns the transfer with the given id, pending or not.
func (db *DB) FetchTransfer(id uint64) (*chain.Transfer, error) {
	var t *chain.Transfer
	err := db.bolt.View(func(tx *bolt.Tx) error {
		var err error
		t, err = fetchTransfer(tx.Bucket(bucketTransfers), keyUint64(id))
		return err
	})
	if err != nil {
		return nil, err
	}

	return t, nil
}
