// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ledger

import (
	"context"
	"errors"

	"github.com/btcsuite/btcvault/token"
)

// ErrEmptyAddress is returned by ValidateAddressDefault for an empty
// address.
var ErrEmptyAddress = errors.New("empty address")

// TokenTransfer moves tokens between depositors and the vault. The ledger
// performs all of its I/O through this interface and never retries a failed
// call. Implementations enforce their own timeouts and rate limits.
//
// The ledger holds its lock while a method runs. An implementation calling
// back into the ledger must pass the ctx it was given: mutating calls made
// with it fail with ErrReentrancyDetected and queries see the current state.
// A mutating call made with any other context waits until that context is
// done, and a query made with one blocks for good.
type TokenTransfer interface {
	// TransferToContract moves amount of the token from the address into
	// the vault.
	TransferToContract(ctx context.Context, from string, tok token.Type,
		amount uint64) error

	// TransferFromContract moves amount of the token from the vault to
	// the address. The amount is zero when an emergency fee keeps the
	// whole deposit.
	TransferFromContract(ctx context.Context, to string, tok token.Type,
		amount uint64) error

	// GetBalance returns the address's balance of the token.
	GetBalance(ctx context.Context, addr string,
		tok token.Type) (uint64, error)

	// ValidateAddress returns an error if the address cannot hold tokens.
	// Implementations without extra rules should defer to
	// ValidateAddressDefault.
	ValidateAddress(ctx context.Context, addr string) error

	// SupportsTokenType reports whether the backend can move the token.
	SupportsTokenType(tok token.Type) bool

	// NetworkType returns a label for the network the backend talks to,
	// e.g. "testnet".
	NetworkType() string
}

// ValidateAddressDefault is the baseline address check shared by every
// TokenTransfer: the address must not be empty.
func ValidateAddressDefault(addr string) error {
	if addr == "" {
		return ErrEmptyAddress
	}

	return nil
}
