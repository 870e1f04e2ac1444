// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package ledger implements the time locked deposit ledger. The ledger owns
// every deposit, the per user and per token indexes, fee accounting and the
// pause, ownership and limit configuration. It moves tokens only through a
// TokenTransfer backend and never commits state before the backend call for
// an operation succeeded.
package ledger

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcvault/internal/reentrancy"
	"github.com/btcsuite/btcvault/token"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"golang.org/x/sync/semaphore"
)

// Version is the ledger version reported to clients.
const Version = "1.0.0"

// Config holds the dependencies and initial settings of a Ledger.
type Config struct {
	// Owner is the address allowed to perform administrative
	// operations. It is also the initial fee collector.
	Owner string

	// EmergencyFeePercent is the share of an emergency withdrawal kept as
	// a fee, from 0 to 100.
	EmergencyFeePercent uint8

	// Transfer is the token transfer backend.
	Transfer TokenTransfer

	// Clock is the time source. The default clock is used when nil.
	Clock clock.Clock

	// ChainParams is used to recognise script hash depositor addresses.
	// Main net parameters are used when nil.
	ChainParams *chaincfg.Params
}

// Ledger is the deposit ledger state machine.
//
// Every mutating operation is serialized by a mutex and guarded against
// reentrancy. A call made with the context handed to the TokenTransfer
// backend during an operation fails with ErrReentrancyDetected instead of
// deadlocking.
type Ledger struct {
	transfer TokenTransfer
	clock    clock.Clock
	params   *chaincfg.Params

	// ops admits one mutating operation at a time. It is acquired with
	// the caller's context before mu is locked.
	ops   *semaphore.Weighted
	mu    sync.RWMutex
	guard reentrancy.Guard

	owner        string
	pendingOwner fn.Option[string]
	paused       bool
	nextID       uint64
	deposits     map[uint64]*Deposit
	userDeposits map[string][]uint64
	totals       map[token.Type]uint64
	supported    []token.Type
	fees         FeeConfig
	limits       DepositLimits
}

// New creates an empty ledger owned by cfg.Owner. The default tokens are
// supported, plus the default ordinal and Lightning when the backend
// supports them.
func New(ctx context.Context, cfg Config) (*Ledger, error) {
	if cfg.EmergencyFeePercent > MaxFeePercent {
		return nil, ledgerError(ErrInvalidFeePercentage,
			fmt.Sprintf("emergency fee %d%% exceeds %d%%",
				cfg.EmergencyFeePercent, MaxFeePercent), nil)
	}

	if cfg.Owner == "" {
		return nil, ledgerError(ErrInvalidAddress,
			"owner address is empty", nil)
	}

	if cfg.Transfer == nil {
		return nil, ledgerError(ErrInitialization,
			"no token transfer backend", nil)
	}

	if err := cfg.Transfer.ValidateAddress(ctx, cfg.Owner); err != nil {
		return nil, ledgerError(ErrInitialization,
			"invalid owner address", err)
	}

	supported := []token.Type{
		token.Bitcoin, token.Ethereum, token.Solana, token.DefaultRune,
	}
	for _, tok := range []token.Type{token.DefaultOrdinal, token.Lightning} {
		if cfg.Transfer.SupportsTokenType(tok) {
			supported = append(supported, tok)
		}
	}

	l := newLedger(cfg)
	l.owner = cfg.Owner
	l.nextID = 1
	l.supported = supported
	l.fees = FeeConfig{
		EmergencyFeePercent: cfg.EmergencyFeePercent,
		Collector:           cfg.Owner,
		Collected:           make(map[token.Type]uint64),
	}
	l.limits = DepositLimits{
		MaxDepositAmounts: make(map[token.Type]uint64),
	}

	log.Infof("Created ledger v%s owned by %s on %s (emergency fee %d%%, "+
		"%d supported tokens)", Version, cfg.Owner,
		cfg.Transfer.NetworkType(), cfg.EmergencyFeePercent,
		len(supported))

	return l, nil
}

// newLedger returns a ledger with its dependencies set and empty indexes.
func newLedger(cfg Config) *Ledger {
	l := &Ledger{
		transfer:     cfg.Transfer,
		clock:        cfg.Clock,
		params:       cfg.ChainParams,
		ops:          semaphore.NewWeighted(1),
		deposits:     make(map[uint64]*Deposit),
		userDeposits: make(map[string][]uint64),
		totals:       make(map[token.Type]uint64),
	}
	if l.clock == nil {
		l.clock = clock.NewDefaultClock()
	}
	if l.params == nil {
		l.params = &chaincfg.MainNetParams
	}

	return l
}

// enter serializes a mutating operation. The returned context must be passed
// to the backend so callbacks made on its behalf are recognised, and done
// must be called when the operation returns.
//
// A call made with the context of the operation in progress fails with
// ErrReentrancyDetected. Any other call waits for that operation to finish,
// and gives up with the context's error once ctx is done. A backend calling
// back with an unrelated context therefore waits until that context
// expires.
func (l *Ledger) enter(ctx context.Context) (context.Context, func(), error) {
	// Check before waiting so a callback fails instead of blocking.
	if l.guard.Entered(ctx) {
		return nil, nil, ledgerError(ErrReentrancyDetected,
			"ledger operation already in progress",
			reentrancy.ErrReentrant)
	}

	if err := l.ops.Acquire(ctx, 1); err != nil {
		return nil, nil, fmt.Errorf("unable to enter ledger: %w", err)
	}
	l.mu.Lock()

	ctx, release, err := l.guard.Enter(ctx)
	if err != nil {
		l.mu.Unlock()
		l.ops.Release(1)

		return nil, nil, ledgerError(ErrReentrancyDetected,
			"ledger operation already in progress", err)
	}

	return ctx, func() {
		release()
		l.mu.Unlock()
		l.ops.Release(1)
	}, nil
}

// isSupported reports whether deposits of the token are accepted.
func (l *Ledger) isSupported(tok token.Type) bool {
	return slices.Contains(l.supported, tok)
}

// isScriptHashAddress reports whether addr is a pay to script hash address.
// Addresses that do not decode for the configured network fall back to the
// leading character used by main and test net script hash addresses.
func (l *Ledger) isScriptHashAddress(addr string) bool {
	decoded, err := btcutil.DecodeAddress(addr, l.params)
	if err == nil {
		_, ok := decoded.(*btcutil.AddressScriptHash)
		return ok
	}

	return strings.HasPrefix(addr, "2") || strings.HasPrefix(addr, "3")
}

// Deposit locks amount of the token from caller for lockDays days. The
// preconditions are checked in a fixed order and the first failure is
// returned. The backend is asked for the caller's balance and then to move
// the tokens, and the deposit is only recorded once the move succeeded.
func (l *Ledger) Deposit(ctx context.Context, caller string, tok token.Type,
	amount uint64, lockDays uint32,
	utxoRef fn.Option[string]) (*DepositedEvent, error) {

	ctx, done, err := l.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	if l.paused {
		return nil, ledgerError(ErrContractPaused,
			"deposits are paused", nil)
	}

	if err := l.transfer.ValidateAddress(ctx, caller); err != nil {
		return nil, ledgerError(ErrInvalidAddress,
			fmt.Sprintf("invalid depositor address %q", caller), err)
	}

	if !l.isSupported(tok) {
		return nil, ledgerError(ErrUnsupportedTokenOperation,
			fmt.Sprintf("token %v is not supported", tok), nil)
	}

	if err := tok.Validate(); err != nil {
		return nil, ledgerError(ErrTokenValidationFailed,
			"invalid token", err)
	}

	if amount == 0 || amount > MaxDepositAmount {
		return nil, ledgerError(ErrInvalidAmount,
			fmt.Sprintf("deposit amount %d out of range", amount), nil)
	}

	if lockDays < MinLockDays || lockDays > MaxLockDays {
		return nil, ledgerError(ErrInvalidLockPeriod,
			fmt.Sprintf("lock period of %d days not within [%d, %d]",
				lockDays, MinLockDays, MaxLockDays), nil)
	}

	if limit, ok := l.limits.MaxDepositAmounts[tok]; ok && amount > limit {
		return nil, ledgerError(ErrDepositLimitExceeded,
			fmt.Sprintf("deposit amount %d exceeds the %v limit of %d",
				amount, tok, limit), nil)
	}

	if limit, ok := optionValue(l.limits.MaxDepositsPerUser); ok &&
		len(l.userDeposits[caller]) >= int(limit) {

		return nil, ledgerError(ErrUserDepositLimitReached,
			fmt.Sprintf("%s reached the limit of %d deposits",
				caller, limit), nil)
	}

	newTotal, ok := checkedAdd(l.totals[tok], amount)
	if !ok {
		return nil, ledgerError(ErrArithmetic,
			fmt.Sprintf("total %v deposits overflow", tok), nil)
	}

	if limit, ok := optionValue(l.limits.MaxTotalDeposits); ok &&
		newTotal > limit {

		return nil, ledgerError(ErrTotalDepositLimitReached,
			fmt.Sprintf("total %v deposits of %d would exceed the "+
				"limit of %d", tok, newTotal, limit), nil)
	}

	nextID, ok := checkedAdd(l.nextID, 1)
	if !ok {
		return nil, ledgerError(ErrArithmetic,
			"deposit id space exhausted", nil)
	}

	balance, err := l.transfer.GetBalance(ctx, caller, tok)
	if err != nil {
		return nil, ledgerError(ErrCollaborator,
			"unable to fetch depositor balance", err)
	}
	if balance < amount {
		return nil, ledgerError(ErrInsufficientBalance,
			fmt.Sprintf("balance %d is below deposit amount %d",
				balance, amount), nil)
	}

	err = l.transfer.TransferToContract(ctx, caller, tok, amount)
	if err != nil {
		return nil, ledgerError(ErrCollaborator,
			"unable to transfer deposit to the vault", err)
	}

	id := l.nextID
	now := l.clock.Now()

	d := &Deposit{
		ID:           id,
		Depositor:    caller,
		Token:        tok,
		Amount:       amount,
		DepositTime:  now,
		UnlockTime:   now.Add(lockDay * time.Duration(lockDays)),
		LastModified: now,
		UtxoRef:      utxoRef,
	}
	if tok == token.Lightning {
		d.LightningPaymentHash = fn.Some(
			fmt.Sprintf("lightning_payment_%d", id),
		)
	}
	if tok.IsBitcoinBased() && l.isScriptHashAddress(caller) {
		d.MultisigWallet = fn.Some(fmt.Sprintf("multisig_wallet_%d", id))
	}

	l.nextID = nextID
	l.deposits[id] = d
	l.userDeposits[caller] = append(l.userDeposits[caller], id)
	l.totals[tok] = newTotal

	log.Infof("Deposit %d: %s locked %d %v until %v", id, caller, amount,
		tok, d.UnlockTime)

	return &DepositedEvent{
		DepositID:  id,
		Depositor:  caller,
		Token:      tok,
		Amount:     amount,
		UnlockTime: d.UnlockTime,
		Time:       now,
	}, nil
}

// withdrawable looks up the deposit and checks that caller may withdraw it.
func (l *Ledger) withdrawable(ctx context.Context, caller string,
	id uint64) (*Deposit, error) {

	if l.paused {
		return nil, ledgerError(ErrContractPaused,
			"withdrawals are paused", nil)
	}

	if err := l.transfer.ValidateAddress(ctx, caller); err != nil {
		return nil, ledgerError(ErrInvalidAddress,
			fmt.Sprintf("invalid caller address %q", caller), err)
	}

	d, ok := l.deposits[id]
	if !ok {
		return nil, ledgerError(ErrDepositNotFound,
			fmt.Sprintf("deposit %d not found", id), nil)
	}

	if d.Depositor != caller {
		return nil, ledgerError(ErrUnauthorized,
			fmt.Sprintf("deposit %d does not belong to %s", id,
				caller), nil)
	}

	if d.Withdrawn {
		return nil, ledgerError(ErrDepositAlreadyWithdrawn,
			fmt.Sprintf("deposit %d already withdrawn", id), nil)
	}

	return d, nil
}

// decreaseTotal removes amount from the token's total. The total saturates
// at zero; a clamp means the total had drifted from the deposits and is
// logged.
func (l *Ledger) decreaseTotal(tok token.Type, amount uint64) {
	total := l.totals[tok]
	if amount > total {
		log.Warnf("Total %v deposits of %d is below withdrawn amount "+
			"%d, clamping to zero", tok, total, amount)
	}
	l.totals[tok] = saturatingSub(total, amount)
}

// Withdraw pays out an unlocked deposit in full to its depositor.
func (l *Ledger) Withdraw(ctx context.Context, caller string,
	id uint64) (*WithdrawnEvent, error) {

	ctx, done, err := l.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	d, err := l.withdrawable(ctx, caller, id)
	if err != nil {
		return nil, err
	}

	now := l.clock.Now()
	if !d.IsUnlocked(now) {
		return nil, ledgerError(ErrDepositLocked,
			fmt.Sprintf("deposit %d is locked until %v", id,
				d.UnlockTime), nil)
	}

	err = l.transfer.TransferFromContract(ctx, caller, d.Token, d.Amount)
	if err != nil {
		return nil, ledgerError(ErrCollaborator,
			"unable to transfer withdrawal from the vault", err)
	}

	d.Withdrawn = true
	d.LastModified = now
	l.decreaseTotal(d.Token, d.Amount)

	log.Infof("Deposit %d: %s withdrew %d %v", id, caller, d.Amount,
		d.Token)

	return &WithdrawnEvent{
		DepositID: id,
		Depositor: caller,
		Token:     d.Token,
		Amount:    d.Amount,
		Time:      now,
	}, nil
}

// EmergencyWithdraw pays out a deposit regardless of its lock, withholding
// the emergency fee. The fee accrues to the token's collected fees.
func (l *Ledger) EmergencyWithdraw(ctx context.Context, caller string,
	id uint64) (*EmergencyWithdrawnEvent, error) {

	ctx, done, err := l.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	d, err := l.withdrawable(ctx, caller, id)
	if err != nil {
		return nil, err
	}

	fee, ok := percentOf(d.Amount, l.fees.EmergencyFeePercent)
	if !ok {
		return nil, ledgerError(ErrArithmetic,
			"emergency fee overflow", nil)
	}

	net, ok := checkedSub(d.Amount, fee)
	if !ok {
		return nil, ledgerError(ErrArithmetic,
			"emergency fee exceeds deposit", nil)
	}

	collected, ok := checkedAdd(l.fees.Collected[d.Token], fee)
	if !ok {
		return nil, ledgerError(ErrArithmetic,
			fmt.Sprintf("collected %v fees overflow", d.Token), nil)
	}

	err = l.transfer.TransferFromContract(ctx, caller, d.Token, net)
	if err != nil {
		return nil, ledgerError(ErrCollaborator,
			"unable to transfer emergency withdrawal from the vault",
			err)
	}

	now := l.clock.Now()
	d.Withdrawn = true
	d.LastModified = now
	l.fees.Collected[d.Token] = collected
	l.decreaseTotal(d.Token, d.Amount)

	log.Infof("Deposit %d: %s emergency withdrew %d %v (fee %d)", id,
		caller, net, d.Token, fee)

	return &EmergencyWithdrawnEvent{
		DepositID: id,
		Depositor: caller,
		Token:     d.Token,
		Amount:    net,
		Fee:       fee,
		Time:      now,
	}, nil
}

// WithdrawFees pays the fees collected for the token to the fee collector.
// Only the owner may collect fees, and it may do so while paused.
func (l *Ledger) WithdrawFees(ctx context.Context, caller string,
	tok token.Type) (*FeeCollectedEvent, error) {

	ctx, done, err := l.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	if err := l.requireOwner(caller); err != nil {
		return nil, err
	}

	if err := tok.Validate(); err != nil {
		return nil, ledgerError(ErrTokenValidationFailed,
			"invalid token", err)
	}

	amount := l.fees.Collected[tok]
	if amount == 0 {
		return nil, ledgerError(ErrInvalidAmount,
			fmt.Sprintf("no %v fees collected", tok), nil)
	}

	collector := l.fees.Collector
	if err := l.transfer.ValidateAddress(ctx, collector); err != nil {
		return nil, ledgerError(ErrInvalidAddress,
			fmt.Sprintf("invalid fee collector address %q", collector),
			err)
	}

	err = l.transfer.TransferFromContract(ctx, collector, tok, amount)
	if err != nil {
		return nil, ledgerError(ErrCollaborator,
			"unable to transfer fees from the vault", err)
	}

	l.fees.Collected[tok] = 0

	log.Infof("Collected %d %v fees to %s", amount, tok, collector)

	return &FeeCollectedEvent{
		Token:     tok,
		Amount:    amount,
		Collector: collector,
		Time:      l.clock.Now(),
	}, nil
}

// AddSupportedToken allows deposits of the token. The token must be valid,
// not yet supported, and supported by the backend.
func (l *Ledger) AddSupportedToken(ctx context.Context, caller string,
	tok token.Type) (*TokenSupportAddedEvent, error) {

	_, done, err := l.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	if err := l.requireOwner(caller); err != nil {
		return nil, err
	}

	if err := tok.Validate(); err != nil {
		return nil, ledgerError(ErrTokenValidationFailed,
			"invalid token", err)
	}

	if l.isSupported(tok) {
		return nil, ledgerError(ErrUnsupportedTokenOperation,
			fmt.Sprintf("token %v is already supported", tok), nil)
	}

	if !l.transfer.SupportsTokenType(tok) {
		return nil, ledgerError(ErrUnsupportedTokenOperation,
			fmt.Sprintf("token %v is not supported by the %s "+
				"backend", tok, l.transfer.NetworkType()), nil)
	}

	l.supported = append(l.supported, tok)

	log.Infof("Added support for %v", tok)

	return &TokenSupportAddedEvent{
		Token: tok,
		Time:  l.clock.Now(),
	}, nil
}

// RemoveSupportedToken stops deposits of the token. A token with active
// deposits cannot be removed.
func (l *Ledger) RemoveSupportedToken(ctx context.Context, caller string,
	tok token.Type) (*TokenSupportRemovedEvent, error) {

	_, done, err := l.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	if err := l.requireOwner(caller); err != nil {
		return nil, err
	}

	if !l.isSupported(tok) {
		return nil, ledgerError(ErrUnsupportedTokenOperation,
			fmt.Sprintf("token %v is not supported", tok), nil)
	}

	if total := l.totals[tok]; total > 0 {
		return nil, ledgerError(ErrUnsupportedTokenOperation,
			fmt.Sprintf("token %v has %d in active deposits", tok,
				total), nil)
	}

	l.supported = slices.DeleteFunc(l.supported, func(t token.Type) bool {
		return t == tok
	})

	log.Infof("Removed support for %v", tok)

	return &TokenSupportRemovedEvent{
		Token: tok,
		Time:  l.clock.Now(),
	}, nil
}

// requireOwner returns ErrUnauthorized unless caller is the owner.
func (l *Ledger) requireOwner(caller string) error {
	if caller != l.owner {
		return ledgerError(ErrUnauthorized,
			fmt.Sprintf("%s is not the owner", caller), nil)
	}

	return nil
}

// optionValue unpacks an option into the comma ok form.
func optionValue[T interface{}](o fn.Option[T]) (T, bool) {
	var v T
	o.WhenSome(func(t T) {
		v = t
	})

	return v, o.IsSome()
}
