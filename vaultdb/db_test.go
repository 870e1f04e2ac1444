// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package vaultdb

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcvault/chain"
	"github.com/btcsuite/btcvault/ledger"
	"github.com/btcsuite/btcvault/token"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/tlv"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

var testTime = time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

// openTestDB opens a fresh database in a temporary directory and returns it
// with its path.
func openTestDB(t *testing.T) (*DB, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "vault.db")
	db, err := Open(path, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})

	return db, path
}

// testState returns a ledger state exercising every stored field.
func testState() *ledger.State {
	day := 24 * time.Hour
	gold := token.NewCustom("GOLD")

	return &ledger.State{
		Owner:         "owner",
		PendingOwner:  fn.Some("next-owner"),
		Paused:        true,
		NextDepositID: 4,
		Deposits: map[uint64]ledger.Deposit{
			1: {
				ID:           1,
				Depositor:    "2MzQwSSnBHWHqSAqtTVQ6v47XtaisrJa1Vc",
				Token:        token.Bitcoin,
				Amount:       50_000,
				DepositTime:  testTime,
				UnlockTime:   testTime.Add(30 * day),
				LastModified: testTime,
				UtxoRef: fn.Some(
					"4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b:0",
				),
				MultisigWallet: fn.Some("multisig_wallet_1"),
			},
			2: {
				ID:           2,
				Depositor:    "alice",
				Token:        token.Lightning,
				Amount:       700,
				DepositTime:  testTime.Add(time.Hour),
				UnlockTime:   testTime.Add(time.Hour + day),
				Withdrawn:    true,
				WithdrawalTx: fn.Some("withdrawal"),
				LastModified: testTime.Add(3 * day),
				LightningPaymentHash: fn.Some(
					"lightning_payment_2",
				),
			},
			3: {
				ID:           3,
				Depositor:    "alice",
				Token:        gold,
				Amount:       1,
				DepositTime:  testTime,
				UnlockTime:   testTime.Add(day),
				LastModified: testTime,
			},
		},
		UserDeposits: map[string][]uint64{
			"2MzQwSSnBHWHqSAqtTVQ6v47XtaisrJa1Vc": {1},
			"alice":                              {2, 3},
		},
		TotalDeposits: map[token.Type]uint64{
			token.Bitcoin:   50_000,
			token.Lightning: 0,
			gold:            1,
		},
		SupportedTokens: []token.Type{
			token.Bitcoin, token.Lightning, gold,
		},
		Fees: ledger.FeeConfig{
			EmergencyFeePercent: 5,
			Collector:           "collector",
			Collected: map[token.Type]uint64{
				token.Lightning: 35,
			},
		},
		Limits: ledger.DepositLimits{
			MaxDepositAmounts: map[token.Type]uint64{
				token.Bitcoin: 1_000_000,
			},
			MaxDepositsPerUser: fn.Some[uint32](10),
			MaxTotalDeposits:   fn.None[uint64](),
		},
	}
}

// TestFetchStateEmpty checks that a fresh database has no state.
func TestFetchStateEmpty(t *testing.T) {
	t.Parallel()

	db, _ := openTestDB(t)

	_, err := db.FetchState()
	require.ErrorIs(t, err, ErrNoState)

	events, err := db.Events()
	require.NoError(t, err)
	require.Empty(t, events)
}

// TestStateRoundTrip checks that stored state survives reopening the
// database.
func TestStateRoundTrip(t *testing.T) {
	t.Parallel()

	db, path := openTestDB(t)
	state := testState()
	require.NoError(t, state.CheckInvariants())

	require.NoError(t, db.PutState(state))

	fetched, err := db.FetchState()
	require.NoError(t, err)
	require.Equal(t, state, fetched)

	require.NoError(t, db.Close())
	db, err = Open(path, 0)
	require.NoError(t, err)
	defer db.Close()

	fetched, err = db.FetchState()
	require.NoError(t, err)
	require.Equal(t, state, fetched)
	require.NoError(t, fetched.CheckInvariants())
}

// TestStateOverwrite checks that a later state replaces an earlier one.
func TestStateOverwrite(t *testing.T) {
	t.Parallel()

	db, _ := openTestDB(t)
	state := testState()
	require.NoError(t, db.PutState(state))

	d := state.Deposits[1]
	d.Withdrawn = true
	d.LastModified = testTime.Add(40 * 24 * time.Hour)
	state.Deposits[1] = d
	state.TotalDeposits[token.Bitcoin] = 0
	state.PendingOwner = fn.None[string]()
	state.Limits.MaxTotalDeposits = fn.Some[uint64](99)

	ev := &ledger.WithdrawnEvent{
		DepositID: 1,
		Depositor: d.Depositor,
		Token:     token.Bitcoin,
		Amount:    d.Amount,
		Time:      d.LastModified,
	}
	require.NoError(t, db.Commit(state, nil, ev))

	fetched, err := db.FetchState()
	require.NoError(t, err)
	require.Equal(t, state, fetched)

	events, err := db.Events()
	require.NoError(t, err)
	require.Equal(t, []ledger.Event{ev}, events)
}

// TestCommitTransfers checks that staged transfers are queued together with
// the state, and that none are queued when the state is refused.
func TestCommitTransfers(t *testing.T) {
	t.Parallel()

	payout := testTransfer("2MzQwSSnBHWHqSAqtTVQ6v47XtaisrJa1Vc", 50_000)

	corrupt := testState()
	corrupt.TotalDeposits[token.Bitcoin] = 1

	tests := []struct {
		name      string
		state     *ledger.State
		transfers []chain.Transfer
		valid     bool
	}{
		{
			name:      "state and payout",
			state:     testState(),
			transfers: []chain.Transfer{*payout, *payout},
			valid:     true,
		},
		{
			name:  "state only",
			state: testState(),
			valid: true,
		},
		{
			name:      "corrupt state",
			state:     corrupt,
			transfers: []chain.Transfer{*payout},
			valid:     false,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			db, _ := openTestDB(t)
			ev := &ledger.ContractPausedEvent{
				Pauser: "owner",
				Time:   testTime,
			}

			err := db.Commit(tc.state, tc.transfers, ev)

			pending, pendErr := db.PendingTransfers(0)
			require.NoError(t, pendErr)
			events, evErr := db.Events()
			require.NoError(t, evErr)

			if !tc.valid {
				require.True(t, ledger.IsError(
					err, ledger.ErrCorruptState,
				))
				require.Empty(t, pending)
				require.Empty(t, events)

				_, err = db.FetchState()
				require.ErrorIs(t, err, ErrNoState)

				return
			}

			require.NoError(t, err)
			require.Len(t, pending, len(tc.transfers))
			for i, transfer := range pending {
				require.EqualValues(t, i+1, transfer.ID)
				require.Equal(t, payout.To, transfer.To)
				require.Equal(t, payout.Amount, transfer.Amount)
			}
			require.Len(t, events, 1)

			fetched, err := db.FetchState()
			require.NoError(t, err)
			require.Equal(t, tc.state, fetched)
		})
	}
}

// TestPutDepositsChanged checks that only deposits whose stored form
// changed are rewritten.
func TestPutDepositsChanged(t *testing.T) {
	t.Parallel()

	db, _ := openTestDB(t)
	state := testState()

	put := func() int {
		var written int
		err := db.bolt.Update(func(tx *bolt.Tx) error {
			var err error
			written, err = putDeposits(tx, state.Deposits)
			return err
		})
		require.NoError(t, err)

		return written
	}

	require.Equal(t, 3, put())
	require.Zero(t, put())

	d := state.Deposits[3]
	d.Withdrawn = true
	d.LastModified = testTime.Add(time.Hour)
	state.Deposits[3] = d
	require.Equal(t, 1, put())

	state.Deposits[4] = ledger.Deposit{
		ID:           4,
		Depositor:    "bob",
		Token:        token.Bitcoin,
		Amount:       10,
		DepositTime:  testTime,
		UnlockTime:   testTime.Add(time.Hour),
		LastModified: testTime,
	}
	require.Equal(t, 1, put())

	// A full commit of an unchanged state leaves the deposits alone.
	state = testState()
	require.NoError(t, db.PutState(state))
	require.Zero(t, put())
}

// TestEvents checks that events are replayed in order with their payloads.
func TestEvents(t *testing.T) {
	t.Parallel()

	db, _ := openTestDB(t)

	events := []ledger.Event{
		&ledger.DepositedEvent{
			DepositID:  1,
			Depositor:  "alice",
			Token:      token.NewRune("RUNE_EXAMPLE"),
			Amount:     10,
			UnlockTime: testTime.Add(time.Hour),
			Time:       testTime,
		},
		&ledger.ContractPausedEvent{Pauser: "owner", Time: testTime},
		&ledger.EmergencyWithdrawnEvent{
			DepositID: 1,
			Depositor: "alice",
			Token:     token.NewRune("RUNE_EXAMPLE"),
			Amount:    9,
			Fee:       1,
			Time:      testTime,
		},
		&ledger.FeeCollectedEvent{
			Token:     token.NewRune("RUNE_EXAMPLE"),
			Amount:    1,
			Collector: "owner",
			Time:      testTime,
		},
		&ledger.OwnershipTransferredEvent{
			PreviousOwner: "owner",
			NewOwner:      "alice",
			Time:          testTime,
		},
		&ledger.TokenSupportRemovedEvent{
			Token: token.Solana,
			Time:  testTime,
		},
	}
	for _, ev := range events {
		require.NoError(t, db.AppendEvent(ev))
	}

	stored, err := db.Events()
	require.NoError(t, err)
	require.Equal(t, events, stored)
}

// TestDecodeDepositMalformed checks that damaged deposit records are
// reported as ErrData.
func TestDecodeDepositMalformed(t *testing.T) {
	t.Parallel()

	d := testState().Deposits[1]
	good, err := encodeDeposit(&d)
	require.NoError(t, err)

	decoded, err := decodeDeposit(good)
	require.NoError(t, err)
	require.Equal(t, d, *decoded)

	_, err = decodeDeposit(good[:len(good)-3])
	require.ErrorIs(t, err, ErrData)

	// A stream holding only the id lacks the required records.
	id := uint64(1)
	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeDepositID, &id),
	)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, stream.Encode(&buf))
	_, err = decodeDeposit(buf.Bytes())
	require.ErrorIs(t, err, ErrData)
}

// TestOpenNewerVersion checks that a database written by a newer version is
// refused.
func TestOpenNewerVersion(t *testing.T) {
	t.Parallel()

	db, path := openTestDB(t)
	err := db.bolt.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Put(
			metaVersion, keyUint32(LatestVersion+1),
		)
	})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = Open(path, 0)
	require.ErrorIs(t, err, ErrUnknownVersion)
}

// TestOpenLocked checks that a database held open elsewhere times out.
func TestOpenLocked(t *testing.T) {
	t.Parallel()

	_, path := openTestDB(t)

	_, err := Open(path, 50*time.Millisecond)
	require.Error(t, err)
}
