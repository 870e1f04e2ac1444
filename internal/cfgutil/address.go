// Copyright (c) 2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cfgutil

import "net"

// NormalizeAddress returns addr with defaultPort appended if it does not
// already name a port. An address that still fails to parse once the port is
// added is reported with the original parse error.
func NormalizeAddress(addr string, defaultPort string) (string, error) {
	host, port, origErr := net.SplitHostPort(addr)
	if origErr == nil {
		return net.JoinHostPort(host, port), nil
	}

	withPort := net.JoinHostPort(addr, defaultPort)
	if _, _, err := net.SplitHostPort(withPort); err != nil {
		return "", origErr
	}

	return withPort, nil
}
