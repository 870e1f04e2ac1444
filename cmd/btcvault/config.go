// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcvault/chain"
	"github.com/btcsuite/btcvault/internal/cfgutil"
	"github.com/btcsuite/btcvault/netparams"
	"github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename = "btcvault.conf"
	defaultLogLevel       = "info"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "btcvault.log"
	defaultEmergencyFee   = 10

	vaultDbName = "vault.db"
)

var (
	btcvaultHomeDir   = btcutil.AppDataDir("btcvault", false)
	bitcoindHomeDir   = btcutil.AppDataDir("bitcoin", false)
	defaultConfigFile = filepath.Join(btcvaultHomeDir, defaultConfigFilename)
	defaultDataDir    = btcvaultHomeDir
	defaultLogDir     = filepath.Join(btcvaultHomeDir, defaultLogDirname)
	defaultCAFile     = filepath.Join(bitcoindHomeDir, "rpc.cert")
)

type config struct {
	// General application behavior
	ConfigFile  *cfgutil.ExplicitString `short:"C" long:"configfile" description:"Path to configuration file"`
	ShowVersion bool                    `short:"V" long:"version" description:"Display version information and exit"`
	DataDir     string                  `short:"b" long:"datadir" description:"Directory to store the vault database"`
	LogDir      string                  `long:"logdir" description:"Directory to log output"`
	DebugLevel  string                  `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`

	// Network selection
	TestNet3 bool `long:"testnet" description:"Use the test Bitcoin network (version 3) (default mainnet)"`
	RegTest  bool `long:"regtest" description:"Use the regression test network (default mainnet)"`
	SimNet   bool `long:"simnet" description:"Use the simulation test network (default mainnet)"`
	SigNet   bool `long:"signet" description:"Use the signet test network (default mainnet)"`

	// RPC client options
	RPCConnect       string `short:"c" long:"rpcconnect" description:"Hostname/IP and port of the bitcoin node RPC server to connect to (default localhost:8332, testnet: localhost:18332, regtest: localhost:18443)"`
	RPCUser          string `short:"u" long:"rpcuser" description:"Username for node RPC authentication"`
	RPCPass          string `short:"P" long:"rpcpass" default-mask:"-" description:"Password for node RPC authentication"`
	CAFile           string `long:"cafile" description:"File containing the node's TLS certificate"`
	DisableClientTLS bool   `long:"notls" description:"Disable TLS for the RPC client"`

	// Vault options
	Owner        string               `long:"owner" description:"Owner address, used to initialise a new vault and as the caller of administrative commands"`
	ContractAddr string               `long:"contractaddr" description:"Address holding the vault's funds"`
	EmergencyFee uint8                `long:"emergencyfee" description:"Emergency withdrawal fee percentage of a new vault"`
	RateLimit    uint32               `long:"ratelimit" description:"Maximum node RPC calls per minute"`
	MinConf      uint32               `long:"minconf" description:"Confirmations an output needs to count towards a balance"`
	BatchSize    uint32               `long:"batchsize" description:"Maximum number of transfers built per batch"`
	FeeTarget    int64                `long:"feetarget" description:"Confirmation target in blocks of fee estimates"`
	FallbackFee  *cfgutil.FeeRateFlag `long:"fallbackfee" description:"Fee rate used when the node has no estimate, in sat/kvb or suffixed with sat/vb"`

	activeNet *netparams.Params
}

// defaultConfig returns a config populated with the default settings.
func defaultConfig() *config {
	return &config{
		ConfigFile:   cfgutil.NewExplicitString(defaultConfigFile),
		DataDir:      defaultDataDir,
		LogDir:       defaultLogDir,
		DebugLevel:   defaultLogLevel,
		CAFile:       defaultCAFile,
		EmergencyFee: defaultEmergencyFee,
		RateLimit:    chain.DefaultRateLimit,
		MinConf:      chain.DefaultMinConfirmations,
		BatchSize:    chain.DefaultMaxBatchSize,
		FeeTarget:    chain.DefaultFeeTarget,
		FallbackFee:  cfgutil.NewFeeRateFlag(chain.DefaultFallbackFeeRate),
	}
}

// cleanAndExpandPath expands environement variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		homeDir := filepath.Dir(btcvaultHomeDir)
		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows cmd.exe-style
	// %VARIABLE%, but they variables can still be expanded via POSIX-style
	// $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

// networkDir returns the directory name of a network directory to hold vault
// files.
func networkDir(dataDir string, chainParams *chaincfg.Params) string {
	netname := chainParams.Name

	// The test network version 3 is stored as "testnet" rather than the
	// chaincfg name "testnet3".
	if chainParams.Net == wire.TestNet3 {
		netname = "testnet"
	}

	return filepath.Join(dataDir, netname)
}

// readConfigFile pre-parses the command line for the config file location
// and loads the file into cfg through parser.  A missing default config file
// is not an error.
func readConfigFile(cfg *config, parser *flags.Parser, args []string) error {
	preCfg := defaultConfig()
	preParser := flags.NewParser(preCfg, flags.IgnoreUnknown)
	if _, err := preParser.ParseArgs(args); err != nil {
		return err
	}

	if preCfg.ShowVersion {
		cfg.ShowVersion = true
		return nil
	}

	configFile, exists, err := cfgutil.LocateFile(
		preCfg.ConfigFile, cleanAndExpandPath,
	)
	if err != nil || !exists {
		return err
	}

	return flags.NewIniParser(parser).ParseFile(configFile)
}

// finalize validates the parsed options, selects the active network and
// sets up logging.
func (c *config) finalize() error {
	numNets := 0
	c.activeNet = &netparams.MainNetParams
	for _, net := range []struct {
		set    bool
		params *netparams.Params
	}{
		{c.TestNet3, &netparams.TestNet3Params},
		{c.RegTest, &netparams.RegressionNetParams},
		{c.SimNet, &netparams.SimNetParams},
		{c.SigNet, &netparams.SigNetParams},
	} {
		if net.set {
			numNets++
			c.activeNet = net.params
		}
	}
	if numNets > 1 {
		return errors.New("the testnet, regtest, simnet and signet " +
			"params can't be used together -- choose one")
	}

	// Special show command to list supported subsystems and exit.
	if c.DebugLevel == "show" {
		fmt.Println("Supported subsystems", supportedSubsystems())
		os.Exit(0)
	}

	c.DataDir = cleanAndExpandPath(c.DataDir)
	c.LogDir = networkDir(cleanAndExpandPath(c.LogDir), c.activeNet.Params)
	if err := initLogRotator(
		filepath.Join(c.LogDir, defaultLogFilename),
	); err != nil {
		return err
	}

	if err := parseAndSetDebugLevels(c.DebugLevel); err != nil {
		return err
	}

	if c.RPCConnect == "" {
		c.RPCConnect = "localhost"
	}
	rpcConnect, err := cfgutil.NormalizeAddress(
		c.RPCConnect, c.activeNet.RPCClientPort,
	)
	if err != nil {
		return fmt.Errorf("invalid RPC network address %q: %w",
			c.RPCConnect, err)
	}
	c.RPCConnect = rpcConnect

	if c.EmergencyFee > 100 {
		return fmt.Errorf("emergency fee %d%% exceeds 100%%",
			c.EmergencyFee)
	}

	if c.FallbackFee.IsZero() {
		return errors.New("fallback fee must be positive")
	}

	return nil
}

// rpcConfig returns the node connection settings, reading the node's TLS
// certificate unless TLS is disabled.
func (c *config) rpcConfig() (*chain.RPCConfig, error) {
	rpcCfg := &chain.RPCConfig{
		Host:       c.RPCConnect,
		User:       c.RPCUser,
		Pass:       c.RPCPass,
		DisableTLS: c.DisableClientTLS,
	}
	if c.DisableClientTLS {
		return rpcCfg, nil
	}

	certs, err := os.ReadFile(cleanAndExpandPath(c.CAFile))
	if err != nil {
		return nil, fmt.Errorf("unable to read node certificate: %w",
			err)
	}
	rpcCfg.Certificates = certs

	return rpcCfg, nil
}
