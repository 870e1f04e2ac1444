// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package vaultdb persists the deposit ledger, its event log and the queue of
// pending chain transfers in a bbolt database.
package vaultdb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Naming
//
// The following variables are commonly used in this package and given
// reserved names:
//
//   b:  The bucket being operated on
//   k:  A single bucket key
//   v:  A single bucket value
//   c:  A bucket cursor
//
// Functions use the naming scheme `opType`, where op is one of:
//
//   key:    return a db key for some data
//   put:    insert or replace a value into a bucket
//   fetch:  read and return a value
//   encode: serialize a value for storage
//   decode: deserialize a stored value

// Big endian is the preferred byte order, due to cursor scans over integer
// keys iterating in order.
var byteOrder = binary.BigEndian

// LatestVersion is the most recent database version. Versions start at 1 and
// increment for each change to the stored formats.
const LatestVersion = 1

// DefaultTimeout is how long Open waits for the file lock of a database held
// by another process.
const DefaultTimeout = 5 * time.Second

// Bucket names.
var (
	bucketMeta      = []byte("meta")
	bucketDeposits  = []byte("deposits")
	bucketEvents    = []byte("events")
	bucketTransfers = []byte("transfers")
)

// Meta bucket keys.
var (
	metaVersion = []byte("vers")
	metaState   = []byte("state")
)

var (
	// ErrNoState is returned by FetchState when no ledger has been stored
	// yet.
	ErrNoState = errors.New("no ledger state stored")

	// ErrData indicates stored data could not be decoded.
	ErrData = errors.New("malformed stored data")

	// ErrUnknownVersion indicates the database was written by a newer
	// version of this package.
	ErrUnknownVersion = errors.New("unknown database version")
)

// DB is a vault database.
type DB struct {
	bolt *bolt.DB
}

// Open opens the database at path, creating and initializing it if it does
// not exist. A timeout of zero uses DefaultTimeout.
func Open(path string, timeout time.Duration) (*DB, error) {
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	boltDB, err := bolt.Open(path, 0600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("unable to open %s: %w", path, err)
	}

	db := &DB{bolt: boltDB}
	if err := db.bolt.Update(initBuckets); err != nil {
		_ = boltDB.Close()
		return nil, err
	}

	log.Debugf("Opened vault database %s", path)

	return db, nil
}

// Close closes the database.
func (db *DB) Close() error {
	return db.bolt.Close()
}

// initBuckets creates any missing bucket and checks the stored version.
func initBuckets(tx *bolt.Tx) error {
	for _, name := range [][]byte{
		bucketMeta, bucketDeposits, bucketEvents, bucketTransfers,
	} {
		if _, err := tx.CreateBucketIfNotExists(name); err != nil {
			return fmt.Errorf("unable to create bucket %s: %w",
				name, err)
		}
	}

	b := tx.Bucket(bucketMeta)
	v := b.Get(metaVersion)
	if v == nil {
		return b.Put(metaVersion, keyUint32(LatestVersion))
	}

	if len(v) != 4 {
		return fmt.Errorf("%w: version: short read (expected 4 bytes, "+
			"read %d)", ErrData, len(v))
	}
	if version := byteOrder.Uint32(v); version > LatestVersion {
		return fmt.Errorf("%w: %d", ErrUnknownVersion, version)
	}

	return nil
}

func keyUint32(n uint32) []byte {
	k := make([]byte, 4)
	byteOrder.PutUint32(k, n)
	return k
}

func keyUint64(n uint64) []byte {
	k := make([]byte, 8)
	byteOrder.PutUint64(k, n)
	return k
}

func fetchUint64Key(k []byte) (uint64, error) {
	if len(k) != 8 {
		return 0, fmt.Errorf("%w: key: short read (expected 8 bytes, "+
			"read %d)", ErrData, len(k))
	}

	return byteOrder.Uint64(k), nil
}
