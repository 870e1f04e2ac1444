// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"errors"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/rpcclient"
)

// NodeClient is the subset of the bitcoin node RPC interface the vault
// backend uses. It is satisfied by *rpcclient.Client connected to a wallet
// enabled node.
type NodeClient interface {
	// ListUnspentMinMaxAddresses returns the unspent outputs paying to
	// the addresses with a confirmation count in [minConf, maxConf].
	ListUnspentMinMaxAddresses(minConf, maxConf int,
		addrs []btcutil.Address) ([]btcjson.ListUnspentResult, error)

	// EstimateSmartFee returns the node's fee estimate for confirmation
	// within confTarget blocks.
	EstimateSmartFee(confTarget int64,
		mode *btcjson.EstimateSmartFeeMode) (
		*btcjson.EstimateSmartFeeResult, error)

	// GetBlockChainInfo returns the state of the node's chain.
	GetBlockChainInfo() (*btcjson.GetBlockChainInfoResult, error)
}

// A compile-time check to ensure that rpcclient.Client satisfies the
// NodeClient interface.
var _ NodeClient = (*rpcclient.Client)(nil)

// RPCConfig describes how to reach a node over HTTP POST RPC.
type RPCConfig struct {
	// Host is the host:port of the node's RPC server.
	Host string

	// User and Pass are the RPC credentials.
	User string
	Pass string

	// Certificates holds the PEM encoded server certificate when TLS is
	// enabled.
	Certificates []byte

	// DisableTLS connects over plain HTTP.
	DisableTLS bool
}

// validate checks the required config options are set.
func (r *RPCConfig) validate() error {
	if r == nil {
		return errors.New("missing rpc config")
	}

	if r.Host == "" {
		return errors.New("missing rpc host")
	}

	if r.User == "" || r.Pass == "" {
		return errors.New("missing rpc credentials")
	}

	return nil
}

// NewRPCClient creates an HTTP POST client for the node described by cfg. No
// connection is made until the first call.
func NewRPCClient(cfg *RPCConfig) (*rpcclient.Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return rpcclient.New(&rpcclient.ConnConfig{
		Host:         cfg.Host,
		User:         cfg.User,
		Pass:         cfg.Pass,
		Certificates: cfg.Certificates,
		DisableTLS:   cfg.DisableTLS,
		HTTPPostMode: true,
	}, nil)
}
