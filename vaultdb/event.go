// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package vaultdb

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/btcsuite/btcvault/ledger"
	bolt "go.etcd.io/bbolt"
)

// eventRecord is the stored form of a ledger event.
type eventRecord struct {
	Name      string          `json:"name"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// AppendEvent appends an event to the event log.
func (db *DB) AppendEvent(ev ledger.Event) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		return putEvent(tx, ev)
	})
}

func putEvent(tx *bolt.Tx, ev ledger.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("unable to encode %s event: %w", ev.Name(),
			err)
	}

	v, err := json.Marshal(&eventRecord{
		Name:      ev.Name(),
		Timestamp: ev.Timestamp(),
		Payload:   payload,
	})
	if err != nil {
		return fmt.Errorf("unable to encode %s event: %w", ev.Name(),
			err)
	}

	b := tx.Bucket(bucketEvents)
	seq, err := b.NextSequence()
	if err != nil {
		return err
	}

	return b.Put(keyUint64(seq), v)
}

// Events returns the event log in the order the events were appended.
func (db *DB) Events() ([]ledger.Event, error) {
	var events []ledger.Event
	err := db.bolt.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEvents).ForEach(func(k, v []byte) error {
			var r eventRecord
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("%w: event: %v", ErrData, err)
			}

			ev, ok := ledger.NewEvent(r.Name)
			if !ok {
				return fmt.Errorf("%w: unknown event %q", ErrData,
					r.Name)
			}

			if err := json.Unmarshal(r.Payload, ev); err != nil {
				return fmt.Errorf("%w: %s event: %v", ErrData,
					r.Name, err)
			}
			events = append(events, ev)

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return events, nil
}
