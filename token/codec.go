// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package token

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownToken is returned when parsing a string that does not name a
// token.
var ErrUnknownToken = errors.New("unknown token")

// Parse parses the display form produced by String. Kind names are matched
// case-insensitively. The identifier is not validated.
func Parse(s string) (Type, error) {
	name, id, hasID := strings.Cut(s, "(")
	if hasID {
		if !strings.HasSuffix(id, ")") {
			return Type{}, fmt.Errorf("%w: %q", ErrUnknownToken, s)
		}
		id = strings.TrimSuffix(id, ")")
	}

	for kind, kindName := range kindNames {
		if !strings.EqualFold(name, kindName) {
			continue
		}

		if kind.HasID() != hasID {
			return Type{}, fmt.Errorf("%w: %q", ErrUnknownToken, s)
		}

		return Type{Kind: kind, ID: id}, nil
	}

	return Type{}, fmt.Errorf("%w: %q", ErrUnknownToken, s)
}

// MarshalText implements encoding.TextMarshaler so tokens can be used as
// JSON object keys.
func (t Type) MarshalText() ([]byte, error) {
	if _, ok := kindNames[t.Kind]; !ok {
		return nil, fmt.Errorf("%w: kind %d", ErrUnknownToken,
			uint8(t.Kind))
	}

	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Type) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*t = parsed

	return nil
}
