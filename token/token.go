// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package token defines the closed set of asset kinds the vault accepts and
// the validation rules for their identifiers.
package token

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

const (
	// RunePrefix is the literal every rune identifier starts with.
	RunePrefix = "RUNE_"

	// MinRuneIDLen is the minimum length of a rune identifier.
	MinRuneIDLen = 10

	// MinOrdinalIDLen is the minimum length of an ordinal inscription
	// identifier, a hex encoded 32 byte hash.
	MinOrdinalIDLen = 64
)

// Kind is the variant of a token type.
type Kind uint8

const (
	// KindBitcoin is the base bitcoin asset.
	KindBitcoin Kind = iota

	// KindEthereum is the base ether asset.
	KindEthereum

	// KindSolana is the base sol asset.
	KindSolana

	// KindRune is a fungible rune carried on bitcoin.
	KindRune

	// KindOrdinal is a non-fungible ordinal inscription.
	KindOrdinal

	// KindLightning is bitcoin held in payment channels.
	KindLightning

	// KindCustom is any other asset named by an identifier.
	KindCustom
)

var kindNames = map[Kind]string{
	KindBitcoin:   "Bitcoin",
	KindEthereum:  "Ethereum",
	KindSolana:    "Solana",
	KindRune:      "Rune",
	KindOrdinal:   "Ordinal",
	KindLightning: "Lightning",
	KindCustom:    "Custom",
}

// String returns the name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}

	return fmt.Sprintf("Unknown(%d)", uint8(k))
}

// HasID reports whether tokens of this kind carry an identifier.
func (k Kind) HasID() bool {
	switch k {
	case KindRune, KindOrdinal, KindCustom:
		return true
	default:
		return false
	}
}

// Type identifies an asset. Two types are equal when both the kind and the
// identifier are equal, so Type can be used as a map key. ID is empty for
// kinds that do not carry an identifier.
type Type struct {
	Kind Kind
	ID   string
}

var (
	// Bitcoin is the base bitcoin asset.
	Bitcoin = Type{Kind: KindBitcoin}

	// Ethereum is the base ether asset.
	Ethereum = Type{Kind: KindEthereum}

	// Solana is the base sol asset.
	Solana = Type{Kind: KindSolana}

	// Lightning is bitcoin held in payment channels.
	Lightning = Type{Kind: KindLightning}

	// DefaultRune is the rune supported by a freshly created ledger.
	DefaultRune = NewRune("RUNE_DEFAULT_TOKEN")

	// DefaultOrdinal is the placeholder inscription supported by a freshly
	// created ledger when the transfer backend handles ordinals.
	DefaultOrdinal = NewOrdinal(strings.Repeat("0", MinOrdinalIDLen))
)

// NewRune returns the rune token with the given identifier.
func NewRune(id string) Type {
	return Type{Kind: KindRune, ID: id}
}

// NewOrdinal returns the ordinal inscription with the given identifier.
func NewOrdinal(id string) Type {
	return Type{Kind: KindOrdinal, ID: id}
}

// NewCustom returns the custom token with the given identifier.
func NewCustom(id string) Type {
	return Type{Kind: KindCustom, ID: id}
}

// ErrValidation is matched by every ValidationError.
var ErrValidation = errors.New("token validation failed")

// ValidationError describes why a token identifier was rejected.
type ValidationError struct {
	Type   Type
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %v token: %s", e.Type.Kind, e.Reason)
}

// Unwrap returns ErrValidation.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Validate checks the identifier against the rules of the token's kind. Base
// assets are always valid. Validation says nothing about whether a ledger
// supports the token.
func (t Type) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return &ValidationError{
			Type:   t,
			Reason: fmt.Sprintf(format, args...),
		}
	}

	switch t.Kind {
	case KindBitcoin, KindEthereum, KindSolana, KindLightning:
		return nil

	case KindRune:
		switch {
		case t.ID == "":
			return invalid("identifier cannot be empty")

		case strings.IndexFunc(t.ID, notRuneChar) != -1:
			return invalid("identifier can only contain " +
				"alphanumeric characters and underscores")

		case len(t.ID) < MinRuneIDLen:
			return invalid("identifier must be at least %d "+
				"characters long", MinRuneIDLen)

		case !strings.HasPrefix(t.ID, RunePrefix):
			return invalid("identifier must start with %q",
				RunePrefix)
		}

		return nil

	case KindOrdinal:
		switch {
		case t.ID == "":
			return invalid("identifier cannot be empty")

		case strings.IndexFunc(t.ID, notHexChar) != -1:
			return invalid("identifier must be a valid " +
				"hexadecimal string")

		case len(t.ID) < MinOrdinalIDLen:
			return invalid("identifier must be at least %d "+
				"characters long", MinOrdinalIDLen)
		}

		return nil

	case KindCustom:
		if t.ID == "" {
			return invalid("identifier cannot be empty")
		}

		return nil

	default:
		return invalid("unknown kind")
	}
}

// IsBitcoinBased reports whether the asset settles on the bitcoin chain.
func (t Type) IsBitcoinBased() bool {
	switch t.Kind {
	case KindBitcoin, KindRune, KindOrdinal, KindLightning:
		return true
	default:
		return false
	}
}

// String returns the display form of the token, e.g. "Bitcoin" or
// "Rune(RUNE_EXAMPLE)".
func (t Type) String() string {
	if t.Kind.HasID() {
		return fmt.Sprintf("%v(%s)", t.Kind, t.ID)
	}

	return t.Kind.String()
}

func notRuneChar(r rune) bool {
	return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_')
}

func notHexChar(r rune) bool {
	switch {
	case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		return false
	default:
		return true
	}
}
