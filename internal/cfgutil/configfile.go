// Copyright (c) 2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cfgutil

import (
	"fmt"
	"os"
)

// ExplicitString is a string option that remembers whether the flags package
// set it, so a default value can be told apart from the same value given on
// the command line.
type ExplicitString struct {
	Value         string
	explicitlySet bool
}

// NewExplicitString creates a string flag with the provided default value.
func NewExplicitString(defaultValue string) *ExplicitString {
	return &ExplicitString{Value: defaultValue}
}

// ExplicitlySet returns whether the flag was explicitly set through the
// flags.Unmarshaler interface.
func (e *ExplicitString) ExplicitlySet() bool { return e.explicitlySet }

// MarshalFlag implements the flags.Marshaler interface.
func (e *ExplicitString) MarshalFlag() (string, error) { return e.Value, nil }

// UnmarshalFlag implements the flags.Unmarshaler interface.
func (e *ExplicitString) UnmarshalFlag(value string) error {
	e.Value = value
	e.explicitlySet = true
	return nil
}

// FileExists reports whether the named file or directory exists.
func FileExists(filePath string) (bool, error) {
	_, err := os.Stat(filePath)
	switch {
	case err == nil:
		return true, nil

	case os.IsNotExist(err):
		return false, nil

	default:
		return false, err
	}
}

// LocateFile resolves an optional file option. expand rewrites the option
// value into a usable path. The returned bool is false when the file does not
// exist, which is only an error if the option was given explicitly.
func LocateFile(opt *ExplicitString,
	expand func(string) string) (string, bool, error) {

	path := expand(opt.Value)
	exists, err := FileExists(path)
	if err != nil {
		return "", false, err
	}
	if !exists && opt.ExplicitlySet() {
		return "", false, fmt.Errorf("file %s does not exist", path)
	}

	return path, exists, nil
}
