// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package vaultdb

import (
	"bytes"
	"fmt"
	"time"

	"github.com/btcsuite/btcvault/ledger"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/tlv"
)

const (
	typeDepositID           tlv.Type = 1
	typeDepositor           tlv.Type = 2
	typeDepositToken        tlv.Type = 3
	typeDepositAmount       tlv.Type = 4
	typeDepositTime         tlv.Type = 5
	typeUnlockTime          tlv.Type = 6
	typeWithdrawn           tlv.Type = 7
	typeLastModified        tlv.Type = 8
	typeWithdrawalTx        tlv.Type = 9
	typeUtxoRef             tlv.Type = 10
	typeLightningPaymentRef tlv.Type = 11
	typeMultisigWallet      tlv.Type = 12
)

// optionalString pairs an optional deposit field with its tlv type.
type optionalString struct {
	typ tlv.Type
	opt *fn.Option[string]
}

func optionalFields(d *ledger.Deposit) []optionalString {
	return []optionalString{
		{typeWithdrawalTx, &d.WithdrawalTx},
		{typeUtxoRef, &d.UtxoRef},
		{typeLightningPaymentRef, &d.LightningPaymentHash},
		{typeMultisigWallet, &d.MultisigWallet},
	}
}

// encodeDeposit serializes a deposit as a TLV stream. Times are stored as
// unix nanoseconds and optional references are only written when set.
func encodeDeposit(d *ledger.Deposit) ([]byte, error) {
	tokenBytes, err := d.Token.MarshalText()
	if err != nil {
		return nil, err
	}

	var (
		depositor    = []byte(d.Depositor)
		depositTime  = uint64(d.DepositTime.UnixNano())
		unlockTime   = uint64(d.UnlockTime.UnixNano())
		lastModified = uint64(d.LastModified.UnixNano())
		withdrawn    uint8
	)
	if d.Withdrawn {
		withdrawn = 1
	}

	records := []tlv.Record{
		tlv.MakePrimitiveRecord(typeDepositID, &d.ID),
		tlv.MakePrimitiveRecord(typeDepositor, &depositor),
		tlv.MakePrimitiveRecord(typeDepositToken, &tokenBytes),
		tlv.MakePrimitiveRecord(typeDepositAmount, &d.Amount),
		tlv.MakePrimitiveRecord(typeDepositTime, &depositTime),
		tlv.MakePrimitiveRecord(typeUnlockTime, &unlockTime),
		tlv.MakePrimitiveRecord(typeWithdrawn, &withdrawn),
		tlv.MakePrimitiveRecord(typeLastModified, &lastModified),
	}

	for _, field := range optionalFields(d) {
		field.opt.WhenSome(func(s string) {
			v := []byte(s)
			records = append(records, tlv.MakePrimitiveRecord(
				field.typ, &v,
			))
		})
	}

	stream, err := tlv.NewStream(records...)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := stream.Encode(&buf); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// decodeDeposit deserializes a deposit written by encodeDeposit.
func decodeDeposit(v []byte) (*ledger.Deposit, error) {
	var (
		d            ledger.Deposit
		depositor    []byte
		tokenBytes   []byte
		depositTime  uint64
		unlockTime   uint64
		lastModified uint64
		withdrawn    uint8
		optional     [4][]byte
	)

	records := []tlv.Record{
		tlv.MakePrimitiveRecord(typeDepositID, &d.ID),
		tlv.MakePrimitiveRecord(typeDepositor, &depositor),
		tlv.MakePrimitiveRecord(typeDepositToken, &tokenBytes),
		tlv.MakePrimitiveRecord(typeDepositAmount, &d.Amount),
		tlv.MakePrimitiveRecord(typeDepositTime, &depositTime),
		tlv.MakePrimitiveRecord(typeUnlockTime, &unlockTime),
		tlv.MakePrimitiveRecord(typeWithdrawn, &withdrawn),
		tlv.MakePrimitiveRecord(typeLastModified, &lastModified),
	}
	fields := optionalFields(&d)
	for i, field := range fields {
		records = append(records, tlv.MakePrimitiveRecord(
			field.typ, &optional[i],
		))
	}

	stream, err := tlv.NewStream(records...)
	if err != nil {
		return nil, err
	}

	parsedTypes, err := stream.DecodeWithParsedTypes(bytes.NewReader(v))
	if err != nil {
		return nil, fmt.Errorf("%w: deposit: %v", ErrData, err)
	}

	for _, typ := range []tlv.Type{
		typeDepositID, typeDepositor, typeDepositToken,
		typeDepositAmount, typeDepositTime, typeUnlockTime,
		typeLastModified,
	} {
		if _, ok := parsedTypes[typ]; !ok {
			return nil, fmt.Errorf("%w: deposit: missing record "+
				"type %d", ErrData, typ)
		}
	}

	if err := d.Token.UnmarshalText(tokenBytes); err != nil {
		return nil, fmt.Errorf("%w: deposit %d: %v", ErrData, d.ID,
			err)
	}

	d.Depositor = string(depositor)
	d.DepositTime = decodeTime(depositTime)
	d.UnlockTime = decodeTime(unlockTime)
	d.LastModified = decodeTime(lastModified)
	d.Withdrawn = withdrawn != 0

	for i, field := range fields {
		if t, ok := parsedTypes[field.typ]; ok && t == nil {
			*field.opt = fn.Some(string(optional[i]))
		}
	}

	return &d, nil
}

func decodeTime(nanos uint64) time.Time {
	return time.Unix(0, int64(nanos)).UTC()
}
