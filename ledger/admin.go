// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ledger

import (
	"context"
	"fmt"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// Pause stops deposits and withdrawals. Fee collection and administration
// keep working while paused.
func (l *Ledger) Pause(ctx context.Context,
	caller string) (*ContractPausedEvent, error) {

	_, done, err := l.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	if err := l.requireOwner(caller); err != nil {
		return nil, err
	}

	l.paused = true
	log.Infof("Ledger paused by %s", caller)

	return &ContractPausedEvent{Pauser: caller, Time: l.clock.Now()}, nil
}

// Unpause resumes deposits and withdrawals.
func (l *Ledger) Unpause(ctx context.Context,
	caller string) (*ContractUnpausedEvent, error) {

	_, done, err := l.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	if err := l.requireOwner(caller); err != nil {
		return nil, err
	}

	l.paused = false
	log.Infof("Ledger unpaused by %s", caller)

	return &ContractUnpausedEvent{Unpauser: caller, Time: l.clock.Now()},
		nil
}

// TransferOwnership nominates newOwner. Ownership only changes once the
// nominee calls AcceptOwnership. A later nomination replaces an earlier one.
func (l *Ledger) TransferOwnership(ctx context.Context, caller,
	newOwner string) error {

	ctx, done, err := l.enter(ctx)
	if err != nil {
		return err
	}
	defer done()

	if err := l.requireOwner(caller); err != nil {
		return err
	}

	if err := l.transfer.ValidateAddress(ctx, newOwner); err != nil {
		return ledgerError(ErrInvalidAddress,
			fmt.Sprintf("invalid new owner address %q", newOwner), err)
	}

	l.pendingOwner = fn.Some(newOwner)
	log.Infof("Ownership transfer from %s to %s pending", caller, newOwner)

	return nil
}

// AcceptOwnership completes a pending ownership transfer. The caller must be
// the nominated owner.
func (l *Ledger) AcceptOwnership(ctx context.Context,
	caller string) (*OwnershipTransferredEvent, error) {

	_, done, err := l.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	pending, ok := optionValue(l.pendingOwner)
	if !ok || pending != caller {
		return nil, ledgerError(ErrUnauthorized,
			fmt.Sprintf("%s is not the pending owner", caller), nil)
	}

	previous := l.owner
	l.owner = caller
	l.pendingOwner = fn.None[string]()

	log.Infof("Ownership transferred from %s to %s", previous, caller)

	return &OwnershipTransferredEvent{
		PreviousOwner: previous,
		NewOwner:      caller,
		Time:          l.clock.Now(),
	}, nil
}

// SetDepositLimits replaces the deposit limits. Explicit zero limits are
// rejected. Existing deposits are not affected.
func (l *Ledger) SetDepositLimits(ctx context.Context, caller string,
	limits DepositLimits) error {

	_, done, err := l.enter(ctx)
	if err != nil {
		return err
	}
	defer done()

	if err := l.requireOwner(caller); err != nil {
		return err
	}

	if err := limits.Validate(); err != nil {
		return ledgerError(ErrInvalidAmount, "invalid deposit limits",
			err)
	}

	l.limits = limits.copy()
	log.Infof("Deposit limits updated by %s", caller)

	return nil
}

// SetFeeCollector changes the address that receives collected fees.
func (l *Ledger) SetFeeCollector(ctx context.Context, caller,
	collector string) error {

	ctx, done, err := l.enter(ctx)
	if err != nil {
		return err
	}
	defer done()

	if err := l.requireOwner(caller); err != nil {
		return err
	}

	if err := l.transfer.ValidateAddress(ctx, collector); err != nil {
		return ledgerError(ErrInvalidAddress,
			fmt.Sprintf("invalid fee collector address %q", collector),
			err)
	}

	l.fees.Collector = collector
	log.Infof("Fee collector set to %s", collector)

	return nil
}

// SetEmergencyFeePercent changes the emergency withdrawal fee. Fees already
// collected are not affected.
func (l *Ledger) SetEmergencyFeePercent(ctx context.Context, caller string,
	percent uint8) error {

	_, done, err := l.enter(ctx)
	if err != nil {
		return err
	}
	defer done()

	if err := l.requireOwner(caller); err != nil {
		return err
	}

	if percent > MaxFeePercent {
		return ledgerError(ErrInvalidFeePercentage,
			fmt.Sprintf("emergency fee %d%% exceeds %d%%", percent,
				MaxFeePercent), nil)
	}

	l.fees.EmergencyFeePercent = percent
	log.Infof("Emergency fee set to %d%%", percent)

	return nil
}
