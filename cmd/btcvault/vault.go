// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcvault/chain"
	"github.com/btcsuite/btcvault/ledger"
	"github.com/btcsuite/btcvault/vaultdb"
)

// vault bundles the open store, node backend and ledger a command works on.
type vault struct {
	db      *vaultdb.DB
	client  *rpcclient.Client
	backend *chain.Backend
	ledger  *ledger.Ledger
}

// openVault opens the vault database of the active network and restores the
// ledger from it. A fresh database gets a new ledger owned by --owner.
func openVault(ctx context.Context, cfg *config) (*vault, error) {
	if err := cfg.finalize(); err != nil {
		return nil, err
	}

	netDir := networkDir(cfg.DataDir, cfg.activeNet.Params)
	if err := os.MkdirAll(netDir, 0700); err != nil {
		return nil, err
	}

	dbPath := filepath.Join(netDir, vaultDbName)
	db, err := vaultdb.Open(dbPath, vaultdb.DefaultTimeout)
	if err != nil {
		return nil, err
	}

	v := &vault{db: db}
	if err := v.init(ctx, cfg); err != nil {
		v.close()
		return nil, err
	}

	return v, nil
}

func (v *vault) init(ctx context.Context, cfg *config) error {
	rpcCfg, err := cfg.rpcConfig()
	if err != nil {
		return err
	}
	v.client, err = chain.NewRPCClient(rpcCfg)
	if err != nil {
		return err
	}

	fallback := cfg.FallbackFee.SatPerKVByte
	backendCfg := chain.DefaultConfig(
		v.client, v.db, cfg.activeNet.Params, cfg.ContractAddr,
	)
	backendCfg.RateLimit = cfg.RateLimit
	backendCfg.MinConfirmations = cfg.MinConf
	backendCfg.MaxBatchSize = cfg.BatchSize
	backendCfg.FeeTarget = cfg.FeeTarget
	backendCfg.FallbackFeeRate = &fallback

	v.backend, err = chain.NewBackend(backendCfg)
	if err != nil {
		return err
	}

	ledgerCfg := ledger.Config{
		Owner:               cfg.Owner,
		EmergencyFeePercent: cfg.EmergencyFee,
		Transfer:            v.backend,
		ChainParams:         cfg.activeNet.Params,
	}

	state, err := v.db.FetchState()
	switch {
	case errors.Is(err, vaultdb.ErrNoState):
		log.Infof("Creating new vault owned by %s", cfg.Owner)

		v.ledger, err = ledger.New(ctx, ledgerCfg)
		if err != nil {
			return err
		}

		return v.commit(ctx)

	case err != nil:
		return fmt.Errorf("unable to load vault state: %w", err)
	}

	v.ledger, err = ledger.Restore(ledgerCfg, state)
	return err
}

// commit persists the ledger state together with the transfers staged and
// the events emitted by the operation that produced it.
func (v *vault) commit(ctx context.Context, events ...ledger.Event) error {
	return v.db.Commit(
		v.ledger.Snapshot(ctx), v.backend.TakeStaged(), events...,
	)
}

// close releases the backend, the node client and the database.
func (v *vault) close() {
	if v.backend != nil {
		v.backend.Stop()
	}
	if v.client != nil {
		v.client.Shutdown()
	}
	if err := v.db.Close(); err != nil {
		log.Errorf("Unable to close vault database: %v", err)
	}
}
