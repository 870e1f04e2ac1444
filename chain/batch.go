// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/mempool"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcvault/pkg/unit"
	"github.com/btcsuite/btcvault/utxoset"
	"github.com/davecgh/go-spew/spew"
	"github.com/lightningnetwork/lnd/ticker"
)

// DefaultBatchInterval is the average time between two batches.
const DefaultBatchInterval = time.Minute

// BatchResult describes an unsigned transaction built for a transfer.
type BatchResult struct {
	Transfer Transfer
	Tx       *wire.MsgTx
	Packet   string

	// Selection is the coin selection that funds the transaction.
	Selection *utxoset.Selection

	// Fee is the fee the transaction pays. It exceeds Selection.Fee when
	// dust change was left to the miner.
	Fee btcutil.Amount
}

// ProcessPending builds unsigned transactions for up to MaxBatchSize pending
// transfers. Transfers that cannot be funded stay pending and their errors
// are joined into the returned error.
func (b *Backend) ProcessPending(ctx context.Context) ([]BatchResult, error) {
	pending, err := b.cfg.Outbox.PendingTransfers(int(b.cfg.MaxBatchSize))
	if err != nil {
		return nil, fmt.Errorf("unable to fetch pending transfers: %w",
			err)
	}
	if len(pending) == 0 {
		return nil, nil
	}

	feeRate, err := b.FeeRate(ctx, b.cfg.FeeTarget)
	if err != nil {
		return nil, err
	}

	// Group the transfers by the paying address, keeping queue order
	// within each group.
	var (
		order  []string
		groups = make(map[string][]Transfer)
	)
	for _, t := range pending {
		if _, ok := groups[t.From]; !ok {
			order = append(order, t.From)
		}
		groups[t.From] = append(groups[t.From], t)
	}

	var (
		results []BatchResult
		errs    []error
	)
	for _, from := range order {
		set, err := b.utxos(ctx, from)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		set = spendable(set)

		for _, t := range groups[from] {
			res, err := b.buildTransfer(set, t, feeRate)
			if err != nil {
				errs = append(errs, fmt.Errorf("transfer %d: %w",
					t.ID, err))
				continue
			}

			results = append(results, *res)
		}

		_ = b.balances.Remove(balanceKey(from, groups[from][0].Token))
	}

	log.Infof("Built %d of %d pending transfers", len(results),
		len(pending))

	return results, errors.Join(errs...)
}

// buildTransfer funds t from set, builds its unsigned transaction and marks
// the transfer complete in the outbox. The spent inputs are removed from
// set.
func (b *Backend) buildTransfer(set *utxoset.Set, t Transfer,
	feeRate unit.SatPerKVByte) (*BatchResult, error) {

	sel, err := set.Select(t.Amount, feeRate)
	if err != nil {
		return nil, err
	}

	payee, err := decodeAddress(t.To, b.cfg.ChainParams)
	if err != nil {
		return nil, err
	}
	change, err := decodeAddress(t.From, b.cfg.ChainParams)
	if err != nil {
		return nil, err
	}

	tx, err := newUnsignedTx(sel, payee, change, t.Amount)
	if err != nil {
		return nil, err
	}

	packet, err := newPacket(tx, sel.Inputs)
	if err != nil {
		return nil, err
	}

	fee := sel.InputTotal()
	for _, out := range tx.TxOut {
		fee -= btcutil.Amount(out.Value)
	}

	txHash := tx.TxHash()
	err = b.cfg.Outbox.CompleteTransfer(t.ID, txHash, packet)
	if err != nil {
		return nil, err
	}

	for _, in := range sel.Inputs {
		set.Remove(in.OutPoint)
	}

	log.Debugf("Transfer %d of %v to %s batched in %v using %v (%d "+
		"inputs, fee %v)", t.ID, t.Amount, t.To, txHash, sel.Strategy,
		len(sel.Inputs), fee)
	log.Tracef("Unsigned transaction %v: %v", txHash,
		NewLogClosure(func() string {
			return spew.Sdump(tx)
		}))

	return &BatchResult{
		Transfer:  t,
		Tx:        tx,
		Packet:    packet,
		Selection: sel,
		Fee:       fee,
	}, nil
}

// newUnsignedTx spends the selected inputs to payee, returning the change to
// change. Change below the dust limit is left to the fee.
func newUnsignedTx(sel *utxoset.Selection, payee, change btcutil.Address,
	amount btcutil.Amount) (*wire.MsgTx, error) {

	tx := wire.NewMsgTx(wire.TxVersion)
	for _, in := range sel.Inputs {
		op := in.OutPoint
		tx.AddTxIn(wire.NewTxIn(&op, nil, nil))
	}

	payScript, err := txscript.PayToAddrScript(payee)
	if err != nil {
		return nil, err
	}
	tx.AddTxOut(wire.NewTxOut(int64(amount), payScript))

	if sel.Change > 0 {
		changeScript, err := txscript.PayToAddrScript(change)
		if err != nil {
			return nil, err
		}

		changeOut := wire.NewTxOut(int64(sel.Change), changeScript)
		if !mempool.IsDust(changeOut, mempool.DefaultMinRelayTxFee) {
			tx.AddTxOut(changeOut)
		}
	}

	return tx, nil
}

// newPacket wraps tx in a base64 encoded PSBT. Witness inputs carry their
// previous output so a signer can sign them without the funding
// transactions.
func newPacket(tx *wire.MsgTx, inputs []utxoset.Utxo) (string, error) {
	packet, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		return "", err
	}

	for i, in := range inputs {
		if !txscript.IsWitnessProgram(in.PkScript) {
			continue
		}

		packet.Inputs[i].WitnessUtxo = wire.NewTxOut(
			int64(in.Amount), in.PkScript,
		)
	}

	return packet.B64Encode()
}

// Batcher periodically processes the pending transfers of a backend.
type Batcher struct {
	backend *Backend
	ticker  ticker.Ticker

	// results receives the transactions built by each batch.
	results chan<- []BatchResult

	started sync.Once
	stopped sync.Once
	quit    chan struct{}
	wg      sync.WaitGroup
}

// NewBatcher returns a batcher driven by tk. When tk is nil a jittered
// ticker around DefaultBatchInterval is used. Built transactions are sent on
// results when it is not nil.
func NewBatcher(backend *Backend, tk ticker.Ticker,
	results chan<- []BatchResult) *Batcher {

	if tk == nil {
		tk = NewJitterTicker(DefaultBatchInterval, 0.2)
	}

	return &Batcher{
		backend: backend,
		ticker:  tk,
		results: results,
		quit:    make(chan struct{}),
	}
}

// Start launches the batch loop.
func (b *Batcher) Start() {
	b.started.Do(func() {
		log.Info("Transfer batcher starting")

		b.ticker.Resume()

		b.wg.Add(1)
		go b.batchLoop()
	})
}

// Stop ends the batch loop and waits for a running batch to finish.
func (b *Batcher) Stop() {
	b.stopped.Do(func() {
		log.Info("Transfer batcher shutting down")

		close(b.quit)
		b.wg.Wait()
		b.ticker.Stop()
	})
}

func (b *Batcher) batchLoop() {
	defer b.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-b.quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-b.ticker.Ticks():
			results, err := b.backend.ProcessPending(ctx)
			if err != nil {
				log.Errorf("Unable to batch transfers: %v", err)
			}

			if len(results) == 0 || b.results == nil {
				continue
			}

			select {
			case b.results <- results:
			case <-b.quit:
				return
			}

		case <-b.quit:
			return
		}
	}
}
