// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ledger

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/btcsuite/btcvault/token"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testOwner = "owner-address"
	testUser  = "mipcBbFg9gMiCh81Kj8tqqdgoZub1ZJRfn"
	testOther = "n3GNqMveyvaPvUbH469vDRadqpJMPc84JA"

	// testScriptHashUser is a test net P2SH address.
	testScriptHashUser = "2MzQwSSnBHWHqSAqtTVQ6v47XtaisrJa1Vc"

	// invalidAddr is rejected by the mock backend.
	invalidAddr = "invalid-address"

	// unsupportedPrefix marks custom tokens the mock backend cannot move.
	unsupportedPrefix = "UNSUPPORTED"
)

var (
	testStart = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	errBackend = errors.New("backend unavailable")
)

// mockTransfer is a mock implementation of the TokenTransfer interface.
type mockTransfer struct {
	mock.Mock
}

// A compile-time assertion to ensure that mockTransfer implements the
// TokenTransfer interface.
var _ TokenTransfer = (*mockTransfer)(nil)

// TransferToContract implements the TokenTransfer interface.
func (m *mockTransfer) TransferToContract(ctx context.Context, from string,
	tok token.Type, amount uint64) error {

	args := m.Called(ctx, from, tok, amount)
	return args.Error(0)
}

// TransferFromContract implements the TokenTransfer interface.
func (m *mockTransfer) TransferFromContract(ctx context.Context, to string,
	tok token.Type, amount uint64) error {

	args := m.Called(ctx, to, tok, amount)
	return args.Error(0)
}

// GetBalance implements the TokenTransfer interface.
func (m *mockTransfer) GetBalance(ctx context.Context, addr string,
	tok token.Type) (uint64, error) {

	args := m.Called(ctx, addr, tok)
	return args.Get(0).(uint64), args.Error(1)
}

// ValidateAddress implements the TokenTransfer interface.
func (m *mockTransfer) ValidateAddress(ctx context.Context,
	addr string) error {

	args := m.Called(ctx, addr)
	return args.Error(0)
}

// SupportsTokenType implements the TokenTransfer interface.
func (m *mockTransfer) SupportsTokenType(tok token.Type) bool {
	args := m.Called(tok)
	return args.Bool(0)
}

// NetworkType implements the TokenTransfer interface.
func (m *mockTransfer) NetworkType() string {
	args := m.Called()
	return args.String(0)
}

// newMockTransfer returns a backend that accepts every address except
// invalidAddr and the empty address, and supports every token except custom
// tokens named with unsupportedPrefix.
func newMockTransfer() *mockTransfer {
	m := &mockTransfer{}

	m.On("ValidateAddress", mock.Anything, mock.MatchedBy(
		func(addr string) bool {
			return addr != invalidAddr &&
				ValidateAddressDefault(addr) == nil
		},
	)).Return(nil).Maybe()
	m.On("ValidateAddress", mock.Anything, mock.Anything).Return(
		ErrEmptyAddress,
	).Maybe()

	m.On("SupportsTokenType", mock.MatchedBy(func(tok token.Type) bool {
		return tok.Kind != token.KindCustom ||
			!strings.HasPrefix(tok.ID, unsupportedPrefix)
	})).Return(true).Maybe()
	m.On("SupportsTokenType", mock.Anything).Return(false).Maybe()

	m.On("NetworkType").Return("testnet").Maybe()

	return m
}

// fund makes every balance lookup return balance and every deposit transfer
// succeed.
func (m *mockTransfer) fund(balance uint64) {
	m.On("GetBalance", mock.Anything, mock.Anything, mock.Anything).Return(
		balance, nil,
	).Maybe()
	m.On("TransferToContract", mock.Anything, mock.Anything,
		mock.Anything, mock.Anything).Return(nil).Maybe()
}

// allowPayouts makes every payout transfer succeed.
func (m *mockTransfer) allowPayouts() {
	m.On("TransferFromContract", mock.Anything, mock.Anything,
		mock.Anything, mock.Anything).Return(nil).Maybe()
}

// testLedger bundles a ledger with its mocked dependencies.
type testLedger struct {
	*Ledger

	transfer *mockTransfer
	clock    *clock.TestClock
	ctx      context.Context
}

// newTestLedger creates a ledger with a 10% emergency fee over a funded mock
// backend that allows payouts.
func newTestLedger(t *testing.T) *testLedger {
	t.Helper()

	transfer := newMockTransfer()
	transfer.fund(1_000_000)
	transfer.allowPayouts()

	return newTestLedgerWith(t, transfer)
}

// newTestLedgerWith creates a ledger with a 10% emergency fee over the given
// backend.
func newTestLedgerWith(t *testing.T, transfer *mockTransfer) *testLedger {
	t.Helper()

	testClock := clock.NewTestClock(testStart)
	ctx := context.Background()

	l, err := New(ctx, Config{
		Owner:               testOwner,
		EmergencyFeePercent: 10,
		Transfer:            transfer,
		Clock:               testClock,
	})
	require.NoError(t, err)

	return &testLedger{
		Ledger:   l,
		transfer: transfer,
		clock:    testClock,
		ctx:      ctx,
	}
}

// deposit makes a Bitcoin deposit from testUser and returns its id.
func (tl *testLedger) deposit(t *testing.T, amount uint64,
	lockDays uint32) uint64 {

	t.Helper()

	ev, err := tl.Deposit(
		tl.ctx, testUser, token.Bitcoin, amount, lockDays, noUtxo,
	)
	require.NoError(t, err)

	return ev.DepositID
}

// advance moves the test clock forward.
func (tl *testLedger) advance(d time.Duration) {
	tl.clock.SetTime(tl.clock.Now().Add(d))
}

// requireUnchanged asserts that the ledger state equals before and that the
// ledger invariants hold.
func (tl *testLedger) requireUnchanged(t *testing.T, before *State) {
	t.Helper()

	after := tl.Snapshot(tl.ctx)
	require.Equal(t, before, after)
	require.NoError(t, after.CheckInvariants())
}
