// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcvault/ledger"
	"github.com/btcsuite/btcvault/pkg/unit"
	"github.com/btcsuite/btcvault/token"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// TestNewBackendConfig checks that incomplete configs are rejected.
func TestNewBackendConfig(t *testing.T) {
	t.Parallel()

	contract := testAddress(t, 0xcc).EncodeAddress()
	mainnetAddr, err := btcutil.NewAddressWitnessPubKeyHash(
		make([]byte, 20), &chaincfg.MainNetParams,
	)
	require.NoError(t, err)

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{
			name:   "no client",
			modify: func(c *Config) { c.Client = nil },
		},
		{
			name:   "no outbox",
			modify: func(c *Config) { c.Outbox = nil },
		},
		{
			name:   "no params",
			modify: func(c *Config) { c.ChainParams = nil },
		},
		{
			name:   "zero rate limit",
			modify: func(c *Config) { c.RateLimit = 0 },
		},
		{
			name: "zero confirmations",
			modify: func(c *Config) {
				c.MinConfirmations = 0
			},
		},
		{
			name:   "zero batch size",
			modify: func(c *Config) { c.MaxBatchSize = 0 },
		},
		{
			name:   "zero fee target",
			modify: func(c *Config) { c.FeeTarget = 0 },
		},
		{
			name: "empty contract address",
			modify: func(c *Config) {
				c.ContractAddress = ""
			},
		},
		{
			name: "contract address on another network",
			modify: func(c *Config) {
				c.ContractAddress = mainnetAddr.EncodeAddress()
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := DefaultConfig(
				&mockNodeClient{}, &memOutbox{}, testParams,
				contract,
			)
			tc.modify(cfg)

			_, err := NewBackend(cfg)
			require.Error(t, err)
		})
	}
}

// TestValidateAddress checks address validation against the backend's
// network.
func TestValidateAddress(t *testing.T) {
	t.Parallel()

	tb := newTestBackend(t)
	ctx := context.Background()

	mainnetAddr, err := btcutil.NewAddressWitnessPubKeyHash(
		make([]byte, 20), &chaincfg.MainNetParams,
	)
	require.NoError(t, err)

	require.NoError(t, tb.ValidateAddress(
		ctx, testAddress(t, 1).EncodeAddress(),
	))
	require.NoError(t, tb.ValidateAddress(
		ctx, tb.contract.EncodeAddress(),
	))

	require.Error(t, tb.ValidateAddress(ctx, ""))
	require.ErrorIs(t, tb.ValidateAddress(ctx, "not an address"),
		ErrInvalidAddress)
	require.ErrorIs(t, tb.ValidateAddress(
		ctx, mainnetAddr.EncodeAddress(),
	), ErrInvalidAddress)
}

// TestSupportsTokenType checks that only bitcoin is supported.
func TestSupportsTokenType(t *testing.T) {
	t.Parallel()

	tb := newTestBackend(t)

	require.True(t, tb.SupportsTokenType(token.Bitcoin))
	require.False(t, tb.SupportsTokenType(token.NewRune("DOG")))
	require.False(t, tb.SupportsTokenType(token.Lightning))
	require.Equal(t, NetworkRegtest, tb.NetworkType())
}

// TestNetworkType checks the network labels of the known chains.
func TestNetworkType(t *testing.T) {
	t.Parallel()

	require.Equal(t, NetworkMainnet, NetworkType(&chaincfg.MainNetParams))
	require.Equal(t, NetworkTestnet, NetworkType(&chaincfg.TestNet3Params))
	require.Equal(
		t, NetworkRegtest, NetworkType(&chaincfg.RegressionNetParams),
	)
	require.Equal(t, NetworkSignet, NetworkType(&chaincfg.SigNetParams))
	require.Equal(t, NetworkSimnet, NetworkType(&chaincfg.SimNetParams))
}

// TestGetBalance checks that balances sum the confirmed outputs and are
// cached.
func TestGetBalance(t *testing.T) {
	t.Parallel()

	tb := newTestBackend(t)
	ctx := context.Background()
	user := testAddress(t, 1)

	tb.client.On(
		"ListUnspentMinMaxAddresses", DefaultMinConfirmations,
		maxConfirmations, forAddress(user),
	).Return([]btcjson.ListUnspentResult{
		unspent(t, user, 1, 30_000, true),
		unspent(t, user, 2, 70_000, false),
	}, nil).Once()

	// Outputs the node cannot spend do not count, as a batch could never
	// fund a transfer with them.
	balance, err := tb.GetBalance(ctx, user.EncodeAddress(), token.Bitcoin)
	require.NoError(t, err)
	require.EqualValues(t, 30_000, balance)

	// The second call is served from the cache.
	balance, err = tb.GetBalance(ctx, user.EncodeAddress(), token.Bitcoin)
	require.NoError(t, err)
	require.EqualValues(t, 30_000, balance)

	tb.client.AssertExpectations(t)

	_, err = tb.GetBalance(ctx, user.EncodeAddress(), token.NewRune("DOG"))
	require.ErrorIs(t, err, ErrUnsupportedToken)
}

// TestGetBalanceErrors checks that node failures and bad node data are
// reported and not cached.
func TestGetBalanceErrors(t *testing.T) {
	t.Parallel()

	tb := newTestBackend(t)
	ctx := context.Background()
	user := testAddress(t, 1)
	errNode := errors.New("node down")

	tb.client.On(
		"ListUnspentMinMaxAddresses", mock.Anything, mock.Anything,
		forAddress(user),
	).Return(nil, errNode).Once()

	_, err := tb.GetBalance(ctx, user.EncodeAddress(), token.Bitcoin)
	require.ErrorIs(t, err, errNode)

	bad := unspent(t, user, 1, 1000, true)
	bad.TxID = "zz"
	tb.client.On(
		"ListUnspentMinMaxAddresses", mock.Anything, mock.Anything,
		forAddress(user),
	).Return([]btcjson.ListUnspentResult{bad}, nil).Once()

	_, err = tb.GetBalance(ctx, user.EncodeAddress(), token.Bitcoin)
	require.Error(t, err)

	tb.client.AssertExpectations(t)
}

// TestGetBalanceCanceled checks that a canceled context stops a call
// waiting on the rate limiter.
func TestGetBalanceCanceled(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig(
		&mockNodeClient{}, &memOutbox{}, testParams,
		testAddress(t, 0xcc).EncodeAddress(),
	)
	cfg.RateLimit = 1

	backend, err := NewBackend(cfg)
	require.NoError(t, err)
	defer backend.Stop()

	ctx, cancel := context.WithTimeout(
		context.Background(), 10*time.Millisecond,
	)
	defer cancel()

	_, err = backend.GetBalance(
		ctx, testAddress(t, 1).EncodeAddress(), token.Bitcoin,
	)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

// TestFeeRate checks fee estimates, their caching and the fallback rate.
func TestFeeRate(t *testing.T) {
	t.Parallel()

	tb := newTestBackend(t)
	ctx := context.Background()

	tb.client.On("EstimateSmartFee", int64(6), mock.Anything).Return(
		estimate(0.0002), nil,
	).Once()

	rate, err := tb.FeeRate(ctx, 6)
	require.NoError(t, err)
	require.True(t, rate.Equal(unit.SatPerKVByteFromFloat(20_000)),
		"rate: %v", rate)

	rate, err = tb.FeeRate(ctx, 6)
	require.NoError(t, err)
	require.True(t, rate.Equal(unit.SatPerKVByteFromFloat(20_000)))

	// Without an estimate the fallback is used and nothing is cached.
	tb.client.On("EstimateSmartFee", int64(2), mock.Anything).Return(
		&btcjson.EstimateSmartFeeResult{
			Errors: []string{"Insufficient data"},
		}, nil,
	).Twice()

	for i := 0; i < 2; i++ {
		rate, err = tb.FeeRate(ctx, 2)
		require.NoError(t, err)
		require.True(t, rate.Equal(DefaultFallbackFeeRate))
	}

	errNode := errors.New("node down")
	tb.client.On("EstimateSmartFee", int64(1), mock.Anything).Return(
		nil, errNode,
	).Once()

	_, err = tb.FeeRate(ctx, 1)
	require.ErrorIs(t, err, errNode)

	tb.client.AssertExpectations(t)
}

// TestStageTransfers checks that transfers are validated and staged in the
// right direction, and only reach the outbox once flushed.
func TestStageTransfers(t *testing.T) {
	t.Parallel()

	tb := newTestBackend(t)
	ctx := context.Background()
	user := testAddress(t, 1).EncodeAddress()
	contract := tb.contract.EncodeAddress()

	require.NoError(t, tb.TransferToContract(
		ctx, user, token.Bitcoin, 5000,
	))
	tb.clock.SetTime(testStart.Add(time.Hour))
	require.NoError(t, tb.TransferFromContract(
		ctx, user, token.Bitcoin, 4000,
	))

	// A zero amount moves nothing and stages nothing.
	require.NoError(t, tb.TransferFromContract(
		ctx, user, token.Bitcoin, 0,
	))

	pending, err := tb.outbox.PendingTransfers(0)
	require.NoError(t, err)
	require.Empty(t, pending)

	require.NoError(t, tb.FlushStaged())
	require.Empty(t, tb.TakeStaged())

	pending, err = tb.outbox.PendingTransfers(0)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	require.Equal(t, DirectionDeposit, pending[0].Direction)
	require.Equal(t, user, pending[0].From)
	require.Equal(t, contract, pending[0].To)
	require.Equal(t, btcutil.Amount(5000), pending[0].Amount)
	require.Equal(t, testStart, pending[0].Queued)

	require.Equal(t, DirectionPayout, pending[1].Direction)
	require.Equal(t, contract, pending[1].From)
	require.Equal(t, user, pending[1].To)
	require.Equal(t, testStart.Add(time.Hour), pending[1].Queued)

	err = tb.TransferToContract(ctx, user, token.NewRune("DOG"), 1)
	require.ErrorIs(t, err, ErrUnsupportedToken)

	err = tb.TransferFromContract(
		ctx, user, token.Bitcoin, btcutil.MaxSatoshi+1,
	)
	require.ErrorIs(t, err, ErrAmountOutOfRange)

	err = tb.TransferToContract(ctx, "bogus", token.Bitcoin, 1)
	require.ErrorIs(t, err, ErrInvalidAddress)

	require.Empty(t, tb.TakeStaged())

	// Discarded transfers are never queued.
	require.NoError(t, tb.TransferFromContract(
		ctx, user, token.Bitcoin, 1000,
	))
	tb.DiscardStaged()
	require.NoError(t, tb.FlushStaged())

	pending, err = tb.outbox.PendingTransfers(0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
}

// TestEmergencyWithdrawFullFee checks that a deposit can be exited when the
// emergency fee keeps all of it, leaving nothing to pay out.
func TestEmergencyWithdrawFullFee(t *testing.T) {
	t.Parallel()

	tb := newTestBackend(t)
	ctx := context.Background()
	owner := testAddress(t, 0xaa).EncodeAddress()
	user := testAddress(t, 1)

	l, err := ledger.New(ctx, ledger.Config{
		Owner:               owner,
		EmergencyFeePercent: 100,
		Transfer:            tb.Backend,
		Clock:               tb.clock,
		ChainParams:         testParams,
	})
	require.NoError(t, err)

	tb.client.On(
		"ListUnspentMinMaxAddresses", mock.Anything, mock.Anything,
		forAddress(user),
	).Return([]btcjson.ListUnspentResult{
		unspent(t, user, 1, 50_000, true),
	}, nil).Once()

	dep, err := l.Deposit(
		ctx, user.EncodeAddress(), token.Bitcoin, 1000, 30,
		fn.None[string](),
	)
	require.NoError(t, err)

	ev, err := l.EmergencyWithdraw(ctx, user.EncodeAddress(), dep.DepositID)
	require.NoError(t, err)
	require.Zero(t, ev.Amount)
	require.EqualValues(t, 1000, ev.Fee)
	require.EqualValues(t, 1000, l.CollectedFees(ctx, token.Bitcoin))
	require.Zero(t, l.TotalDeposits(ctx, token.Bitcoin))

	// Only the deposit itself needs a transaction.
	staged := tb.TakeStaged()
	require.Len(t, staged, 1)
	require.Equal(t, DirectionDeposit, staged[0].Direction)

	tb.client.AssertExpectations(t)
}

// TestCheckNetwork checks the node's chain against the backend's network.
func TestCheckNetwork(t *testing.T) {
	t.Parallel()

	tb := newTestBackend(t)
	ctx := context.Background()

	tb.client.On("GetBlockChainInfo").Return(
		&btcjson.GetBlockChainInfoResult{Chain: "regtest", Blocks: 101},
		nil,
	).Once()
	require.NoError(t, tb.CheckNetwork(ctx))

	tb.client.On("GetBlockChainInfo").Return(
		&btcjson.GetBlockChainInfoResult{Chain: "main"}, nil,
	).Once()
	require.Error(t, tb.CheckNetwork(ctx))

	tb.client.AssertExpectations(t)
}
