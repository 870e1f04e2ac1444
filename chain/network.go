// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
)

// Network labels reported by NetworkType.
const (
	NetworkMainnet = "mainnet"
	NetworkTestnet = "testnet"
	NetworkRegtest = "regtest"
	NetworkSignet  = "signet"
	NetworkSimnet  = "simnet"
)

// NetworkType maps chain parameters to the label reported to the ledger.
// Networks without a label report the parameter name.
func NetworkType(params *chaincfg.Params) string {
	switch params.Net {
	case wire.MainNet:
		return NetworkMainnet
	case wire.TestNet3:
		return NetworkTestnet
	case wire.TestNet:
		return NetworkRegtest
	case wire.SigNet:
		return NetworkSignet
	case wire.SimNet:
		return NetworkSimnet
	default:
		return params.Name
	}
}
