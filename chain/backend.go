// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ReneKroon/ttlcache/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcvault/ledger"
	"github.com/btcsuite/btcvault/pkg/unit"
	"github.com/btcsuite/btcvault/token"
	"github.com/btcsuite/btcvault/utxoset"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
)

const (
	// DefaultRateLimit is the default number of node calls a minute.
	DefaultRateLimit = 60

	// DefaultMinConfirmations is the default number of confirmations an
	// output needs to count towards a balance.
	DefaultMinConfirmations = 1

	// DefaultMaxBatchSize is the default number of transfers built per
	// batch.
	DefaultMaxBatchSize = 10

	// DefaultBalanceTTL is how long a fetched balance is reused.
	DefaultBalanceTTL = time.Minute

	// DefaultFeeTTL is how long a fee estimate is reused.
	DefaultFeeTTL = 10 * time.Minute

	// DefaultFeeTarget is the confirmation target, in blocks, of fee
	// estimates.
	DefaultFeeTarget = 6

	// maxConfirmations is the upper confirmation bound passed to the node
	// when listing unspent outputs.
	maxConfirmations = 9999999
)

var (
	// ErrInvalidAddress is returned for addresses that do not decode for
	// the backend's network.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrUnsupportedToken is returned for tokens the backend cannot move.
	ErrUnsupportedToken = errors.New("unsupported token")

	// ErrAmountOutOfRange is returned for amounts that are not a valid
	// number of satoshis.
	ErrAmountOutOfRange = errors.New("amount out of range")

	// DefaultFallbackFeeRate is used when the node has no fee estimate:
	// 10 sat/vb.
	DefaultFallbackFeeRate = unit.SatPerKVByteFromFloat(10_000)
)

// Config holds the dependencies and settings of a Backend.
type Config struct {
	// Client is the node the backend queries.
	Client NodeClient

	// Outbox stores queued transfers until they are batched.
	Outbox Outbox

	// ChainParams is the network addresses must belong to.
	ChainParams *chaincfg.Params

	// ContractAddress is the vault's own address.
	ContractAddress string

	// RateLimit is the number of node calls allowed a minute.
	RateLimit uint32

	// MinConfirmations is the number of confirmations an output needs to
	// count towards a balance.
	MinConfirmations uint32

	// MaxBatchSize is the number of transfers built per batch.
	MaxBatchSize uint32

	// FeeTarget is the confirmation target, in blocks, of the fee rate
	// used when building batches.
	FeeTarget int64

	// BalanceTTL and FeeTTL override the cache lifetimes when non-zero.
	BalanceTTL time.Duration
	FeeTTL     time.Duration

	// FallbackFeeRate is used when the node has no fee estimate. The
	// default is used when nil.
	FallbackFeeRate *unit.SatPerKVByte

	// Clock stamps queued transfers. The default clock is used when nil.
	Clock clock.Clock

	// RateTicker overrides the ticker spacing node calls.
	RateTicker ticker.Ticker
}

// DefaultConfig returns a config with the default limits for the given
// node, outbox and network.
func DefaultConfig(client NodeClient, outbox Outbox,
	params *chaincfg.Params, contractAddr string) *Config {

	return &Config{
		Client:           client,
		Outbox:           outbox,
		ChainParams:      params,
		ContractAddress:  contractAddr,
		RateLimit:        DefaultRateLimit,
		MinConfirmations: DefaultMinConfirmations,
		MaxBatchSize:     DefaultMaxBatchSize,
		FeeTarget:        DefaultFeeTarget,
	}
}

// validate checks the required config options are set.
func (c *Config) validate() error {
	switch {
	case c.Client == nil:
		return errors.New("missing node client")

	case c.Outbox == nil:
		return errors.New("missing transfer outbox")

	case c.ChainParams == nil:
		return errors.New("missing chain params")

	case c.RateLimit == 0:
		return errors.New("rate limit cannot be zero")

	case c.MinConfirmations == 0:
		return errors.New("minimum confirmations cannot be zero")

	case c.MaxBatchSize == 0:
		return errors.New("maximum batch size cannot be zero")

	case c.FeeTarget <= 0:
		return errors.New("fee target must be positive")
	}

	if _, err := decodeAddress(c.ContractAddress, c.ChainParams); err != nil {
		return fmt.Errorf("contract address: %w", err)
	}

	return nil
}

// Backend moves bitcoin for the ledger through a node. Transfers requested
// by the ledger are staged in memory until the caller persists them with
// TakeStaged or FlushStaged, and queued transfers are turned into unsigned
// transactions by ProcessPending. Signing and broadcasting the transactions
// is left to the operator.
type Backend struct {
	cfg     Config
	clock   clock.Clock
	limiter *rateLimiter

	balances *ttlcache.Cache
	fees     *ttlcache.Cache

	stagedMtx sync.Mutex
	staged    []Transfer
}

// A compile-time check to ensure that Backend satisfies the
// ledger.TokenTransfer interface.
var _ ledger.TokenTransfer = (*Backend)(nil)

// NewBackend validates cfg and returns a backend. Stop must be called to
// release its resources.
func NewBackend(cfg *Config) (*Backend, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	b := &Backend{
		cfg:   *cfg,
		clock: cfg.Clock,
	}
	if b.clock == nil {
		b.clock = clock.NewDefaultClock()
	}

	balanceTTL := cfg.BalanceTTL
	if balanceTTL == 0 {
		balanceTTL = DefaultBalanceTTL
	}
	feeTTL := cfg.FeeTTL
	if feeTTL == 0 {
		feeTTL = DefaultFeeTTL
	}

	var err error
	b.balances, err = newCache(balanceTTL)
	if err != nil {
		return nil, err
	}
	b.fees, err = newCache(feeTTL)
	if err != nil {
		_ = b.balances.Close()
		return nil, err
	}

	if cfg.RateTicker != nil {
		b.limiter = newRateLimiterWithTicker(cfg.RateTicker)
	} else {
		b.limiter = newRateLimiter(cfg.RateLimit)
	}

	log.Infof("Bitcoin backend on %s with contract address %s (%d calls "+
		"a minute, %d confirmations)", NetworkType(cfg.ChainParams),
		cfg.ContractAddress, cfg.RateLimit, cfg.MinConfirmations)

	return b, nil
}

func newCache(ttl time.Duration) (*ttlcache.Cache, error) {
	cache := ttlcache.NewCache()
	if err := cache.SetTTL(ttl); err != nil {
		return nil, err
	}
	cache.SkipTTLExtensionOnHit(true)

	return cache, nil
}

// Stop releases the caches and the rate limiter.
func (b *Backend) Stop() {
	b.limiter.stop()
	if err := b.balances.Close(); err != nil {
		log.Errorf("Unable to close balance cache: %v", err)
	}
	if err := b.fees.Close(); err != nil {
		log.Errorf("Unable to close fee cache: %v", err)
	}
}

// decodeAddress decodes addr and checks that it belongs to params.
func decodeAddress(addr string, params *chaincfg.Params) (btcutil.Address,
	error) {

	if err := ledger.ValidateAddressDefault(addr); err != nil {
		return nil, err
	}

	decoded, err := btcutil.DecodeAddress(addr, params)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidAddress, addr, err)
	}

	if !decoded.IsForNet(params) {
		return nil, fmt.Errorf("%w %q: not a %s address",
			ErrInvalidAddress, addr, params.Name)
	}

	return decoded, nil
}

// ValidateAddress checks that addr is a valid address of the backend's
// network.
func (b *Backend) ValidateAddress(_ context.Context, addr string) error {
	_, err := decodeAddress(addr, b.cfg.ChainParams)
	return err
}

// SupportsTokenType reports whether the backend can move the token. Only
// bitcoin is supported.
func (b *Backend) SupportsTokenType(tok token.Type) bool {
	return tok == token.Bitcoin
}

// NetworkType returns the label of the backend's network.
func (b *Backend) NetworkType() string {
	return NetworkType(b.cfg.ChainParams)
}

// checkTransfer validates the token and amount of a transfer. A zero amount
// is valid and moves nothing.
func (b *Backend) checkTransfer(tok token.Type,
	amount uint64) (btcutil.Amount, error) {

	if !b.SupportsTokenType(tok) {
		return 0, fmt.Errorf("%w: %v on %s", ErrUnsupportedToken, tok,
			b.NetworkType())
	}

	if amount > btcutil.MaxSatoshi {
		return 0, fmt.Errorf("%w: %d", ErrAmountOutOfRange, amount)
	}

	return btcutil.Amount(amount), nil
}

// stage records a transfer to be queued once the ledger state that produced
// it is persisted, and drops the cached balance of the paying address.
func (b *Backend) stage(dir Direction, from, to string, tok token.Type,
	amount btcutil.Amount) {

	if amount == 0 {
		log.Debugf("Skipping empty %v transfer from %s to %s", dir,
			from, to)
		return
	}

	b.stagedMtx.Lock()
	b.staged = append(b.staged, Transfer{
		Direction: dir,
		From:      from,
		To:        to,
		Token:     tok,
		Amount:    amount,
		Queued:    b.clock.Now(),
	})
	b.stagedMtx.Unlock()

	_ = b.balances.Remove(balanceKey(from, tok))

	log.Debugf("Staged %v transfer of %v from %s to %s", dir, amount,
		from, to)
}

// TakeStaged returns the transfers staged since the last call and forgets
// them. The caller must queue them in the same store transaction that
// persists the ledger state, so a payout is never stored without the
// withdrawal that caused it.
func (b *Backend) TakeStaged() []Transfer {
	b.stagedMtx.Lock()
	defer b.stagedMtx.Unlock()

	staged := b.staged
	b.staged = nil

	return staged
}

// DiscardStaged drops the staged transfers of an operation that is not
// going to be persisted.
func (b *Backend) DiscardStaged() {
	if n := len(b.TakeStaged()); n > 0 {
		log.Debugf("Discarded %d staged transfers", n)
	}
}

// FlushStaged queues the staged transfers in the outbox on their own. It is
// meant for callers that keep no ledger state of their own.
func (b *Backend) FlushStaged() error {
	for _, t := range b.TakeStaged() {
		id, err := b.cfg.Outbox.QueueTransfer(&t)
		if err != nil {
			return fmt.Errorf("unable to queue transfer: %w", err)
		}

		log.Debugf("Queued %v transfer %d: %v from %s to %s",
			t.Direction, id, t.Amount, t.From, t.To)
	}

	return nil
}

// TransferToContract stages a transfer from addr to the contract address.
func (b *Backend) TransferToContract(ctx context.Context, from string,
	tok token.Type, amount uint64) error {

	if err := b.ValidateAddress(ctx, from); err != nil {
		return err
	}

	amt, err := b.checkTransfer(tok, amount)
	if err != nil {
		return err
	}

	b.stage(DirectionDeposit, from, b.cfg.ContractAddress, tok, amt)

	return nil
}

// TransferFromContract stages a transfer from the contract address to addr.
func (b *Backend) TransferFromContract(ctx context.Context, to string,
	tok token.Type, amount uint64) error {

	if err := b.ValidateAddress(ctx, to); err != nil {
		return err
	}

	amt, err := b.checkTransfer(tok, amount)
	if err != nil {
		return err
	}

	b.stage(DirectionPayout, b.cfg.ContractAddress, to, tok, amt)

	return nil
}

func balanceKey(addr string, tok token.Type) string {
	return addr + ":" + tok.String()
}

// GetBalance returns the confirmed, spendable balance of addr. Balances are
// cached for the configured balance TTL.
func (b *Backend) GetBalance(ctx context.Context, addr string,
	tok token.Type) (uint64, error) {

	if !b.SupportsTokenType(tok) {
		return 0, fmt.Errorf("%w: %v on %s", ErrUnsupportedToken, tok,
			b.NetworkType())
	}

	key := balanceKey(addr, tok)
	if cached, err := b.balances.Get(key); err == nil {
		return cached.(uint64), nil
	}

	set, err := b.utxos(ctx, addr)
	if err != nil {
		return 0, err
	}

	balance := uint64(spendable(set).TotalAmount())
	if err := b.balances.Set(key, balance); err != nil {
		log.Warnf("Unable to cache balance of %s: %v", addr, err)
	}

	return balance, nil
}

// utxos fetches the outputs paying to addr with at least the configured
// number of confirmations.
func (b *Backend) utxos(ctx context.Context, addr string) (*utxoset.Set,
	error) {

	decoded, err := decodeAddress(addr, b.cfg.ChainParams)
	if err != nil {
		return nil, err
	}

	if err := b.limiter.wait(ctx); err != nil {
		return nil, err
	}

	unspent, err := b.cfg.Client.ListUnspentMinMaxAddresses(
		int(b.cfg.MinConfirmations), maxConfirmations,
		[]btcutil.Address{decoded},
	)
	if err != nil {
		return nil, fmt.Errorf("unable to list unspent outputs of %s: "+
			"%w", addr, err)
	}

	set := utxoset.New()
	for _, u := range unspent {
		hash, err := chainhash.NewHashFromStr(u.TxID)
		if err != nil {
			return nil, fmt.Errorf("invalid txid %q: %w", u.TxID,
				err)
		}

		pkScript, err := hex.DecodeString(u.ScriptPubKey)
		if err != nil {
			return nil, fmt.Errorf("invalid script of %s:%d: %w",
				u.TxID, u.Vout, err)
		}

		amount, err := btcutil.NewAmount(u.Amount)
		if err != nil {
			return nil, fmt.Errorf("invalid amount of %s:%d: %w",
				u.TxID, u.Vout, err)
		}

		err = set.Add(utxoset.Utxo{
			OutPoint:      *wire.NewOutPoint(hash, u.Vout),
			Amount:        amount,
			Confirmations: int32(u.Confirmations),
			Address:       u.Address,
			PkScript:      pkScript,
			Spendable:     u.Spendable,
		})
		if err != nil {
			return nil, err
		}
	}

	log.Tracef("Fetched %d outputs worth %v for %s", set.Len(),
		set.TotalAmount(), addr)

	return set, nil
}

// spendable returns the outputs of set the node is able to spend.
func spendable(set *utxoset.Set) *utxoset.Set {
	return set.Filter(func(u utxoset.Utxo) bool {
		return u.Spendable
	})
}

// FeeRate returns the node's fee estimate for confirmation within target
// blocks. Estimates are cached for the configured fee TTL, and the fallback
// rate is returned when the node has none.
func (b *Backend) FeeRate(ctx context.Context,
	target int64) (unit.SatPerKVByte, error) {

	key := strconv.FormatInt(target, 10)
	if cached, err := b.fees.Get(key); err == nil {
		return cached.(unit.SatPerKVByte), nil
	}

	if err := b.limiter.wait(ctx); err != nil {
		return unit.SatPerKVByte{}, err
	}

	estimate, err := b.cfg.Client.EstimateSmartFee(target, nil)
	if err != nil {
		return unit.SatPerKVByte{}, fmt.Errorf("unable to estimate "+
			"fee: %w", err)
	}

	var rate unit.SatPerKVByte
	if estimate.FeeRate != nil {
		rate = unit.FromBTCPerKB(*estimate.FeeRate)
	}
	if estimate.FeeRate == nil || rate.IsZero() {
		fallback := DefaultFallbackFeeRate
		if b.cfg.FallbackFeeRate != nil {
			fallback = *b.cfg.FallbackFeeRate
		}

		log.Warnf("No fee estimate for %d blocks (%v), using %v",
			target, estimate.Errors, fallback)

		return fallback, nil
	}

	if err := b.fees.Set(key, rate); err != nil {
		log.Warnf("Unable to cache fee estimate: %v", err)
	}

	return rate, nil
}

// chainNames maps network labels to the chain names a node reports in
// getblockchaininfo.
var chainNames = map[string]string{
	NetworkMainnet: "main",
	NetworkTestnet: "test",
	NetworkRegtest: "regtest",
	NetworkSignet:  "signet",
}

// CheckNetwork asks the node which chain it follows and returns an error if
// it is not the backend's network.
func (b *Backend) CheckNetwork(ctx context.Context) error {
	if err := b.limiter.wait(ctx); err != nil {
		return err
	}

	info, err := b.cfg.Client.GetBlockChainInfo()
	if err != nil {
		return fmt.Errorf("unable to query chain info: %w", err)
	}

	network := b.NetworkType()
	want, ok := chainNames[network]
	if !ok {
		want = network
	}

	if !strings.EqualFold(info.Chain, want) {
		return fmt.Errorf("node follows chain %q, expected %q",
			info.Chain, want)
	}

	log.Infof("Node on chain %s at height %d (%s)", info.Chain,
		info.Blocks, info.BestBlockHash)

	return nil
}
