// Copyright (c) 2013-2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/btcsuite/btcvault/ledger"
	"github.com/jessevdk/go-flags"
)

var (
	// appCfg holds the global options shared by every command.
	appCfg = defaultConfig()

	// appCtx is canceled when the process is interrupted.
	appCtx context.Context
)

func main() {
	if err := btcvaultMain(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}

// btcvaultMain parses the configuration and runs the requested command.
// Errors are printed by the parser.
func btcvaultMain() error {
	defer closeLogRotator()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	addInterruptHandler(cancel)
	appCtx = ctx

	parser := flags.NewParser(appCfg, flags.Default)
	if err := addCommands(parser); err != nil {
		return err
	}

	args := os.Args[1:]
	if err := readConfigFile(appCfg, parser, args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}

	if appCfg.ShowVersion {
		fmt.Printf("btcvault version %s\n", ledger.Version)
		return nil
	}

	_, err := parser.ParseArgs(args)
	return err
}
