// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"encoding/hex"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	testParams = &chaincfg.RegressionNetParams
	testStart  = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
)

// A compile-time check to ensure mockNodeClient satisfies NodeClient.
var _ NodeClient = (*mockNodeClient)(nil)

// mockNodeClient mocks the node RPC calls made by the backend.
type mockNodeClient struct {
	mock.Mock
}

func (m *mockNodeClient) ListUnspentMinMaxAddresses(minConf, maxConf int,
	addrs []btcutil.Address) ([]btcjson.ListUnspentResult, error) {

	args := m.Called(minConf, maxConf, addrs)

	res := args.Get(0)
	if res == nil {
		return nil, args.Error(1)
	}

	return res.([]btcjson.ListUnspentResult), args.Error(1)
}

func (m *mockNodeClient) EstimateSmartFee(confTarget int64,
	mode *btcjson.EstimateSmartFeeMode) (*btcjson.EstimateSmartFeeResult,
	error) {

	args := m.Called(confTarget, mode)

	res := args.Get(0)
	if res == nil {
		return nil, args.Error(1)
	}

	return res.(*btcjson.EstimateSmartFeeResult), args.Error(1)
}

func (m *mockNodeClient) GetBlockChainInfo() (*btcjson.GetBlockChainInfoResult,
	error) {

	args := m.Called()

	res := args.Get(0)
	if res == nil {
		return nil, args.Error(1)
	}

	return res.(*btcjson.GetBlockChainInfoResult), args.Error(1)
}

// A compile-time check to ensure memOutbox satisfies Outbox.
var _ Outbox = (*memOutbox)(nil)

// memOutbox is an in-memory Outbox.
type memOutbox struct {
	mu        sync.Mutex
	transfers []Transfer
}

func (m *memOutbox) QueueTransfer(t *Transfer) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	queued := *t
	queued.ID = uint64(len(m.transfers) + 1)
	queued.TxHash = fn.None[chainhash.Hash]()
	queued.Packet = ""
	m.transfers = append(m.transfers, queued)

	return queued.ID, nil
}

func (m *memOutbox) PendingTransfers(limit int) ([]Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var pending []Transfer
	for _, t := range m.transfers {
		if limit > 0 && len(pending) == limit {
			break
		}
		if !t.Completed() {
			pending = append(pending, t)
		}
	}

	return pending, nil
}

func (m *memOutbox) CompleteTransfer(id uint64, txHash chainhash.Hash,
	packet string) error {

	m.mu.Lock()
	defer m.mu.Unlock()

	if id == 0 || id > uint64(len(m.transfers)) {
		return ErrTransferNotFound
	}

	m.transfers[id-1].TxHash = fn.Some(txHash)
	m.transfers[id-1].Packet = packet

	return nil
}

func (m *memOutbox) get(id uint64) Transfer {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.transfers[id-1]
}

// testAddress returns a deterministic regtest P2WPKH address.
func testAddress(t *testing.T, seed byte) btcutil.Address {
	t.Helper()

	program := make([]byte, 20)
	for i := range program {
		program[i] = seed
	}

	addr, err := btcutil.NewAddressWitnessPubKeyHash(program, testParams)
	require.NoError(t, err)

	return addr
}

// unspent returns a listunspent entry of amt satoshis paying to addr.
func unspent(t *testing.T, addr btcutil.Address, index byte, amt int64,
	spendable bool) btcjson.ListUnspentResult {

	t.Helper()

	pkScript, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)

	return btcjson.ListUnspentResult{
		TxID:          chainhash.Hash{index}.String(),
		Vout:          uint32(index),
		Address:       addr.EncodeAddress(),
		ScriptPubKey:  hex.EncodeToString(pkScript),
		Amount:        btcutil.Amount(amt).ToBTC(),
		Confirmations: 6,
		Spendable:     spendable,
	}
}

// forAddress matches a listunspent address argument holding only addr.
func forAddress(addr btcutil.Address) interface{} {
	return mock.MatchedBy(func(addrs []btcutil.Address) bool {
		return len(addrs) == 1 &&
			addrs[0].EncodeAddress() == addr.EncodeAddress()
	})
}

// testBackend bundles a backend with its mocked collaborators.
type testBackend struct {
	*Backend

	client   *mockNodeClient
	outbox   *memOutbox
	clock    *clock.TestClock
	contract btcutil.Address
}

// newTestBackend returns a regtest backend whose rate limiter ticks every
// millisecond.
func newTestBackend(t *testing.T) *testBackend {
	t.Helper()

	client := &mockNodeClient{}
	outbox := &memOutbox{}
	contract := testAddress(t, 0xcc)

	cfg := DefaultConfig(
		client, outbox, testParams, contract.EncodeAddress(),
	)
	testClock := clock.NewTestClock(testStart)
	cfg.Clock = testClock
	cfg.RateTicker = ticker.New(time.Millisecond)

	backend, err := NewBackend(cfg)
	require.NoError(t, err)
	t.Cleanup(backend.Stop)

	return &testBackend{
		Backend:  backend,
		client:   client,
		outbox:   outbox,
		clock:    testClock,
		contract: contract,
	}
}

// estimate returns a fee estimate result of rate BTC/kvB.
func estimate(rate float64) *btcjson.EstimateSmartFeeResult {
	return &btcjson.EstimateSmartFeeResult{
		FeeRate: &rate,
		Blocks:  DefaultFeeTarget,
	}
}
