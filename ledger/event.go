// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ledger

import (
	"time"

	"github.com/btcsuite/btcvault/token"
)

// Event names.
const (
	EventDeposited            = "Deposited"
	EventWithdrawn            = "Withdrawn"
	EventEmergencyWithdrawn   = "EmergencyWithdrawn"
	EventFeeCollected         = "FeeCollected"
	EventContractPaused       = "ContractPaused"
	EventContractUnpaused     = "ContractUnpaused"
	EventOwnershipTransferred = "OwnershipTransferred"
	EventTokenSupportAdded    = "TokenSupportAdded"
	EventTokenSupportRemoved  = "TokenSupportRemoved"
)

// Event is emitted by every successful mutating ledger operation. Events are
// never modified after they are returned.
type Event interface {
	// Name returns the event name.
	Name() string

	// Timestamp returns when the event happened.
	Timestamp() time.Time
}

// DepositedEvent is emitted when a deposit is made.
type DepositedEvent struct {
	DepositID  uint64     `json:"deposit_id"`
	Depositor  string     `json:"depositor_address"`
	Token      token.Type `json:"token_type"`
	Amount     uint64     `json:"deposit_amount"`
	UnlockTime time.Time  `json:"unlock_timestamp"`
	Time       time.Time  `json:"timestamp"`
}

// Name returns the event name.
func (e *DepositedEvent) Name() string { return EventDeposited }

// Timestamp returns when the event happened.
func (e *DepositedEvent) Timestamp() time.Time { return e.Time }

// WithdrawnEvent is emitted when an unlocked deposit is withdrawn.
type WithdrawnEvent struct {
	DepositID   uint64     `json:"deposit_id"`
	Depositor   string     `json:"depositor_address"`
	Token       token.Type `json:"token_type"`
	Amount      uint64     `json:"withdrawn_amount"`
	IsEmergency bool       `json:"is_emergency_withdrawal"`
	Time        time.Time  `json:"timestamp"`
}

// Name returns the event name.
func (e *WithdrawnEvent) Name() string { return EventWithdrawn }

// Timestamp returns when the event happened.
func (e *WithdrawnEvent) Timestamp() time.Time { return e.Time }

// EmergencyWithdrawnEvent is emitted when a deposit is withdrawn before it
// unlocks. Amount is the net payout after Fee was withheld.
type EmergencyWithdrawnEvent struct {
	DepositID uint64     `json:"deposit_id"`
	Depositor string     `json:"depositor_address"`
	Token     token.Type `json:"token_type"`
	Amount    uint64     `json:"withdrawn_amount"`
	Fee       uint64     `json:"fee_amount"`
	Time      time.Time  `json:"timestamp"`
}

// Name returns the event name.
func (e *EmergencyWithdrawnEvent) Name() string {
	return EventEmergencyWithdrawn
}

// Timestamp returns when the event happened.
func (e *EmergencyWithdrawnEvent) Timestamp() time.Time { return e.Time }

// FeeCollectedEvent is emitted when collected fees are paid out.
type FeeCollectedEvent struct {
	Token     token.Type `json:"token_type"`
	Amount    uint64     `json:"fee_amount"`
	Collector string     `json:"collector_address"`
	Time      time.Time  `json:"timestamp"`
}

// Name returns the event name.
func (e *FeeCollectedEvent) Name() string { return EventFeeCollected }

// Timestamp returns when the event happened.
func (e *FeeCollectedEvent) Timestamp() time.Time { return e.Time }

// ContractPausedEvent is emitted when the ledger is paused.
type ContractPausedEvent struct {
	Pauser string    `json:"pauser_address"`
	Time   time.Time `json:"timestamp"`
}

// Name returns the event name.
func (e *ContractPausedEvent) Name() string { return EventContractPaused }

// Timestamp returns when the event happened.
func (e *ContractPausedEvent) Timestamp() time.Time { return e.Time }

// ContractUnpausedEvent is emitted when the ledger is unpaused.
type ContractUnpausedEvent struct {
	Unpauser string    `json:"unpauser_address"`
	Time     time.Time `json:"timestamp"`
}

// Name returns the event name.
func (e *ContractUnpausedEvent) Name() string { return EventContractUnpaused }

// Timestamp returns when the event happened.
func (e *ContractUnpausedEvent) Timestamp() time.Time { return e.Time }

// OwnershipTransferredEvent is emitted when a pending owner accepts
// ownership.
type OwnershipTransferredEvent struct {
	PreviousOwner string    `json:"previous_owner"`
	NewOwner      string    `json:"new_owner"`
	Time          time.Time `json:"timestamp"`
}

// Name returns the event name.
func (e *OwnershipTransferredEvent) Name() string {
	return EventOwnershipTransferred
}

// Timestamp returns when the event happened.
func (e *OwnershipTransferredEvent) Timestamp() time.Time { return e.Time }

// TokenSupportAddedEvent is emitted when a token becomes depositable.
type TokenSupportAddedEvent struct {
	Token token.Type `json:"token_type"`
	Time  time.Time  `json:"timestamp"`
}

// Name returns the event name.
func (e *TokenSupportAddedEvent) Name() string { return EventTokenSupportAdded }

// Timestamp returns when the event happened.
func (e *TokenSupportAddedEvent) Timestamp() time.Time { return e.Time }

// TokenSupportRemovedEvent is emitted when a token stops being depositable.
type TokenSupportRemovedEvent struct {
	Token token.Type `json:"token_type"`
	Time  time.Time  `json:"timestamp"`
}

// Name returns the event name.
func (e *TokenSupportRemovedEvent) Name() string {
	return EventTokenSupportRemoved
}

// Timestamp returns when the event happened.
func (e *TokenSupportRemovedEvent) Timestamp() time.Time { return e.Time }

// NewEvent returns an empty event of the named type, for decoding stored
// events.
func NewEvent(name string) (Event, bool) {
	switch name {
	case EventDeposited:
		return &DepositedEvent{}, true
	case EventWithdrawn:
		return &WithdrawnEvent{}, true
	case EventEmergencyWithdrawn:
		return &EmergencyWithdrawnEvent{}, true
	case EventFeeCollected:
		return &FeeCollectedEvent{}, true
	case EventContractPaused:
		return &ContractPausedEvent{}, true
	case EventContractUnpaused:
		return &ContractUnpausedEvent{}, true
	case EventOwnershipTransferred:
		return &OwnershipTransferredEvent{}, true
	case EventTokenSupportAdded:
		return &TokenSupportAddedEvent{}, true
	case EventTokenSupportRemoved:
		return &TokenSupportRemovedEvent{}, true
	default:
		return nil, false
	}
}
