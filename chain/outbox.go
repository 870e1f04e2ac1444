// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcvault/token"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// ErrTransferNotFound is returned by an Outbox for an unknown transfer id.
var ErrTransferNotFound = errors.New("transfer not found")

// Direction tells which way a queued transfer moves funds.
type Direction uint8

const (
	// DirectionDeposit moves funds from a depositor into the vault.
	DirectionDeposit Direction = iota

	// DirectionPayout moves funds from the vault to a recipient.
	DirectionPayout
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionDeposit:
		return "deposit"
	case DirectionPayout:
		return "payout"
	default:
		return fmt.Sprintf("unknown direction %d", uint8(d))
	}
}

// Transfer is a token movement queued by the vault's TokenTransfer backend.
// A transfer is pending until a batch has built a transaction for it.
type Transfer struct {
	// ID is assigned by the outbox when the transfer is queued.
	ID uint64

	Direction Direction

	// From is the address whose outputs fund the transfer.
	From string

	// To is the address that receives the transfer.
	To string

	Token  token.Type
	Amount btcutil.Amount
	Queued time.Time

	// TxHash is the hash of the unsigned transaction built for the
	// transfer, once it has been batched.
	TxHash fn.Option[chainhash.Hash]

	// Packet is the base64 encoded PSBT carrying the transaction.
	Packet string
}

// Completed reports whether a transaction was built for the transfer.
func (t *Transfer) Completed() bool {
	return t.TxHash.IsSome()
}

// Outbox persists queued transfers until they are batched.
type Outbox interface {
	// QueueTransfer stores a new pending transfer and returns its id.
	QueueTransfer(t *Transfer) (uint64, error)

	// PendingTransfers returns up to limit pending transfers, oldest
	// first. A non-positive limit returns all of them.
	PendingTransfers(limit int) ([]Transfer, error)

	// CompleteTransfer records the transaction built for a pending
	// transfer.
	CompleteTransfer(id uint64, txHash chainhash.Hash,
		packet string) error
}
