// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ledger

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a kind of error.
type ErrorCode int

// These constants are used to identify a specific LedgerError.
const (
	// ErrInvalidAddress indicates an address was rejected by the token
	// transfer backend or was empty.
	ErrInvalidAddress ErrorCode = iota

	// ErrInvalidAmount indicates a zero or out of range amount, or a fee
	// payout with nothing collected.
	ErrInvalidAmount

	// ErrInvalidLockPeriod indicates a lock period outside of the allowed
	// range of days.
	ErrInvalidLockPeriod

	// ErrInvalidFeePercentage indicates an emergency fee above 100
	// percent.
	ErrInvalidFeePercentage

	// ErrDepositNotFound indicates the requested deposit id is unknown.
	ErrDepositNotFound

	// ErrDepositAlreadyWithdrawn indicates the deposit was already
	// withdrawn.
	ErrDepositAlreadyWithdrawn

	// ErrDepositLocked indicates the deposit's unlock time has not been
	// reached.
	ErrDepositLocked

	// ErrInsufficientBalance indicates the depositor does not hold enough
	// tokens.
	ErrInsufficientBalance

	// ErrUnauthorized indicates the caller may not perform the operation.
	ErrUnauthorized

	// ErrContractPaused indicates the ledger is paused.
	ErrContractPaused

	// ErrDepositLimitExceeded indicates the per token maximum deposit
	// amount was exceeded.
	ErrDepositLimitExceeded

	// ErrUserDepositLimitReached indicates the depositor has reached the
	// maximum number of deposits.
	ErrUserDepositLimitReached

	// ErrTotalDepositLimitReached indicates the per token aggregate limit
	// would be exceeded.
	ErrTotalDepositLimitReached

	// ErrUnsupportedTokenOperation indicates the token is not supported,
	// already supported, or cannot be removed.
	ErrUnsupportedTokenOperation

	// ErrTokenValidationFailed indicates the token identifier is
	// malformed.
	ErrTokenValidationFailed

	// ErrArithmetic indicates an overflow or underflow in checked
	// arithmetic.
	ErrArithmetic

	// ErrReentrancyDetected indicates a mutating call was made while
	// another one was in progress on the same ledger.
	ErrReentrancyDetected

	// ErrCollaborator indicates the token transfer backend failed. The
	// Err field of the LedgerError holds the backend's error.
	ErrCollaborator

	// ErrInitialization indicates the ledger could not be created.
	ErrInitialization

	// ErrCorruptState indicates restored state violates a ledger
	// invariant.
	ErrCorruptState
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrInvalidAddress:            "ErrInvalidAddress",
	ErrInvalidAmount:             "ErrInvalidAmount",
	ErrInvalidLockPeriod:         "ErrInvalidLockPeriod",
	ErrInvalidFeePercentage:      "ErrInvalidFeePercentage",
	ErrDepositNotFound:           "ErrDepositNotFound",
	ErrDepositAlreadyWithdrawn:   "ErrDepositAlreadyWithdrawn",
	ErrDepositLocked:             "ErrDepositLocked",
	ErrInsufficientBalance:       "ErrInsufficientBalance",
	ErrUnauthorized:              "ErrUnauthorized",
	ErrContractPaused:            "ErrContractPaused",
	ErrDepositLimitExceeded:      "ErrDepositLimitExceeded",
	ErrUserDepositLimitReached:   "ErrUserDepositLimitReached",
	ErrTotalDepositLimitReached:  "ErrTotalDepositLimitReached",
	ErrUnsupportedTokenOperation: "ErrUnsupportedTokenOperation",
	ErrTokenValidationFailed:     "ErrTokenValidationFailed",
	ErrArithmetic:                "ErrArithmetic",
	ErrReentrancyDetected:        "ErrReentrancyDetected",
	ErrCollaborator:              "ErrCollaborator",
	ErrInitialization:            "ErrInitialization",
	ErrCorruptState:              "ErrCorruptState",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// Error implements the error interface so a bare code can be used as the
// target of errors.Is.
func (e ErrorCode) Error() string {
	return e.String()
}

// LedgerError provides a single type for errors that can happen during
// ledger operation.
type LedgerError struct {
	ErrorCode   ErrorCode // Describes the kind of error
	Description string    // Human readable description of the issue
	Err         error     // Underlying error
}

// Error satisfies the error interface and prints human-readable errors.
func (e LedgerError) Error() string {
	if e.Err != nil {
		return e.Description + ": " + e.Err.Error()
	}
	return e.Description
}

// Unwrap returns the underlying error, if any.
func (e LedgerError) Unwrap() error {
	return e.Err
}

// Is reports whether the target is the ErrorCode of this error.
func (e LedgerError) Is(target error) bool {
	code, ok := target.(ErrorCode)
	return ok && code == e.ErrorCode
}

// ledgerError creates a LedgerError given a set of arguments.
func ledgerError(c ErrorCode, desc string, err error) LedgerError {
	return LedgerError{ErrorCode: c, Description: desc, Err: err}
}

// IsError returns whether the error is a LedgerError with a matching error
// code.
func IsError(err error, code ErrorCode) bool {
	var lerr LedgerError
	return errors.As(err, &lerr) && lerr.ErrorCode == code
}
