// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcvault/chain"
	"github.com/btcsuite/btcvault/ledger"
	"github.com/btcsuite/btcvault/token"
	"github.com/jessevdk/go-flags"
	"github.com/lightningnetwork/lnd/fn/v2"
	"golang.org/x/sync/errgroup"
)

// tokenFlag is a token.Type usable as a go-flags option.
type tokenFlag struct {
	token.Type
}

// MarshalFlag satisfies the flags.Marshaler interface.
func (t *tokenFlag) MarshalFlag() (string, error) {
	return t.Type.String(), nil
}

// UnmarshalFlag satisfies the flags.Unmarshaler interface.
func (t *tokenFlag) UnmarshalFlag(value string) error {
	tok, err := token.Parse(value)
	if err != nil {
		return err
	}
	t.Type = tok
	return nil
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// withVault opens the vault and runs f against it.
func withVault(f func(ctx context.Context, v *vault) error) error {
	v, err := openVault(appCtx, appCfg)
	if err != nil {
		return err
	}
	defer v.close()

	return f(appCtx, v)
}

// mutate runs a state changing operation, persists the new ledger state with
// the emitted event and prints the event.
func mutate(f func(ctx context.Context, v *vault) (ledger.Event,
	error)) error {

	return withVault(func(ctx context.Context, v *vault) error {
		ev, err := f(ctx, v)
		if err != nil {
			v.backend.DiscardStaged()
			return err
		}

		if ev == nil {
			return v.commit(ctx)
		}
		if err := v.commit(ctx, ev); err != nil {
			return err
		}

		log.Infof("%s at %v", ev.Name(), ev.Timestamp())
		return printJSON(ev)
	})
}

type depositCmd struct {
	From     string    `long:"from" required:"true" description:"Depositor address"`
	Token    tokenFlag `long:"token" default:"Bitcoin" description:"Token to deposit, e.g. Bitcoin or Rune(RUNE_NAME)"`
	Amount   uint64    `long:"amount" required:"true" description:"Amount in the token's base units"`
	LockDays uint32    `long:"lockdays" required:"true" description:"Lock duration in days (1-3650)"`
	UtxoRef  string    `long:"utxo" description:"<txid>:<vout> of the output funding the deposit"`
}

func (c *depositCmd) Execute(_ []string) error {
	utxoRef := fn.None[string]()
	if c.UtxoRef != "" {
		utxoRef = fn.Some(c.UtxoRef)
	}

	return mutate(func(ctx context.Context, v *vault) (ledger.Event,
		error) {

		return v.ledger.Deposit(
			ctx, c.From, c.Token.Type, c.Amount, c.LockDays,
			utxoRef,
		)
	})
}

type withdrawCmd struct {
	From      string `long:"from" required:"true" description:"Depositor address"`
	DepositID uint64 `long:"id" required:"true" description:"Deposit id"`
}

func (c *withdrawCmd) Execute(_ []string) error {
	return mutate(func(ctx context.Context, v *vault) (ledger.Event,
		error) {

		return v.ledger.Withdraw(ctx, c.From, c.DepositID)
	})
}

type emergencyWithdrawCmd struct {
	From      string `long:"from" required:"true" description:"Depositor address"`
	DepositID uint64 `long:"id" required:"true" description:"Deposit id"`
}

func (c *emergencyWithdrawCmd) Execute(_ []string) error {
	return mutate(func(ctx context.Context, v *vault) (ledger.Event,
		error) {

		return v.ledger.EmergencyWithdraw(ctx, c.From, c.DepositID)
	})
}

type withdrawFeesCmd struct {
	Token tokenFlag `long:"token" default:"Bitcoin" description:"Token whose collected fees are paid out"`
}

func (c *withdrawFeesCmd) Execute(_ []string) error {
	return mutate(func(ctx context.Context, v *vault) (ledger.Event,
		error) {

		return v.ledger.WithdrawFees(ctx, appCfg.Owner, c.Token.Type)
	})
}

type pauseCmd struct{}

func (c *pauseCmd) Execute(_ []string) error {
	return mutate(func(ctx context.Context, v *vault) (ledger.Event,
		error) {

		return v.ledger.Pause(ctx, appCfg.Owner)
	})
}

type unpauseCmd struct{}

func (c *unpauseCmd) Execute(_ []string) error {
	return mutate(func(ctx context.Context, v *vault) (ledger.Event,
		error) {

		return v.ledger.Unpause(ctx, appCfg.Owner)
	})
}

type addTokenCmd struct {
	Token tokenFlag `long:"token" required:"true" description:"Token to support"`
}

func (c *addTokenCmd) Execute(_ []string) error {
	return mutate(func(ctx context.Context, v *vault) (ledger.Event,
		error) {

		return v.ledger.AddSupportedToken(
			ctx, appCfg.Owner, c.Token.Type,
		)
	})
}

type removeTokenCmd struct {
	Token tokenFlag `long:"token" required:"true" description:"Token to stop supporting"`
}

func (c *removeTokenCmd) Execute(_ []string) error {
	return mutate(func(ctx context.Context, v *vault) (ledger.Event,
		error) {

		return v.ledger.RemoveSupportedToken(
			ctx, appCfg.Owner, c.Token.Type,
		)
	})
}

type transferOwnershipCmd struct {
	NewOwner string `long:"newowner" required:"true" description:"Address that may accept ownership"`
}

func (c *transferOwnershipCmd) Execute(_ []string) error {
	return mutate(func(ctx context.Context, v *vault) (ledger.Event,
		error) {

		return nil, v.ledger.TransferOwnership(
			ctx, appCfg.Owner, c.NewOwner,
		)
	})
}

type acceptOwnershipCmd struct {
	From string `long:"from" required:"true" description:"Pending owner address"`
}

func (c *acceptOwnershipCmd) Execute(_ []string) error {
	return mutate(func(ctx context.Context, v *vault) (ledger.Event,
		error) {

		return v.ledger.AcceptOwnership(ctx, c.From)
	})
}

type setLimitsCmd struct {
	MaxAmounts []string `long:"maxamount" description:"Per-token maximum deposit as <token>=<amount>; may be repeated"`
	MaxPerUser uint32   `long:"maxperuser" description:"Maximum number of deposits per address (0 for unlimited)"`
	MaxTotal   uint64   `long:"maxtotal" description:"Maximum aggregate active deposits per token (0 for unlimited)"`
}

// limits converts the options into deposit limits.
func (c *setLimitsCmd) limits() (ledger.DepositLimits, error) {
	limits := ledger.DepositLimits{
		MaxDepositAmounts: make(map[token.Type]uint64),
	}

	for _, pair := range c.MaxAmounts {
		idx := strings.LastIndex(pair, "=")
		if idx < 0 {
			return limits, fmt.Errorf("invalid maximum amount %q, "+
				"expected <token>=<amount>", pair)
		}

		tok, err := token.Parse(pair[:idx])
		if err != nil {
			return limits, err
		}
		amount, err := strconv.ParseUint(pair[idx+1:], 10, 64)
		if err != nil {
			return limits, fmt.Errorf("invalid maximum amount %q: "+
				"%w", pair, err)
		}

		limits.MaxDepositAmounts[tok] = amount
	}

	if c.MaxPerUser > 0 {
		limits.MaxDepositsPerUser = fn.Some(c.MaxPerUser)
	}
	if c.MaxTotal > 0 {
		limits.MaxTotalDeposits = fn.Some(c.MaxTotal)
	}

	return limits, nil
}

func (c *setLimitsCmd) Execute(_ []string) error {
	limits, err := c.limits()
	if err != nil {
		return err
	}

	return mutate(func(ctx context.Context, v *vault) (ledger.Event,
		error) {

		return nil, v.ledger.SetDepositLimits(ctx, appCfg.Owner, limits)
	})
}

type setFeeCollectorCmd struct {
	Collector string `long:"collector" required:"true" description:"Address receiving collected fees"`
}

func (c *setFeeCollectorCmd) Execute(_ []string) error {
	return mutate(func(ctx context.Context, v *vault) (ledger.Event,
		error) {

		return nil, v.ledger.SetFeeCollector(
			ctx, appCfg.Owner, c.Collector,
		)
	})
}

type setEmergencyFeeCmd struct {
	Percent uint8 `long:"percent" required:"true" description:"Emergency withdrawal fee percentage (0-100)"`
}

func (c *setEmergencyFeeCmd) Execute(_ []string) error {
	return mutate(func(ctx context.Context, v *vault) (ledger.Event,
		error) {

		return nil, v.ledger.SetEmergencyFeePercent(
			ctx, appCfg.Owner, c.Percent,
		)
	})
}

// depositView is the printed form of a deposit.
type depositView struct {
	ID           uint64    `json:"id"`
	Depositor    string    `json:"depositor"`
	Token        string    `json:"token"`
	Amount       uint64    `json:"amount"`
	State        string    `json:"state"`
	DepositTime  time.Time `json:"deposit_time"`
	UnlockTime   time.Time `json:"unlock_time"`
	LastModified time.Time `json:"last_modified"`
	UtxoRef      string    `json:"utxo_ref,omitempty"`
	Multisig     string    `json:"multisig_wallet,omitempty"`
	Lightning    string    `json:"lightning_payment_hash,omitempty"`
}

func newDepositView(d *ledger.Deposit) depositView {
	return depositView{
		ID:           d.ID,
		Depositor:    d.Depositor,
		Token:        d.Token.String(),
		Amount:       d.Amount,
		State:        d.State().String(),
		DepositTime:  d.DepositTime,
		UnlockTime:   d.UnlockTime,
		LastModified: d.LastModified,
		UtxoRef:      d.UtxoRef.UnwrapOr(""),
		Multisig:     d.MultisigWallet.UnwrapOr(""),
		Lightning:    d.LightningPaymentHash.UnwrapOr(""),
	}
}

type listDepositsCmd struct {
	User      string `long:"user" description:"Only list deposits of this address"`
	DepositID uint64 `long:"id" description:"Only show this deposit"`
}

func (c *listDepositsCmd) Execute(_ []string) error {
	return withVault(func(ctx context.Context, v *vault) error {
		if c.DepositID != 0 {
			d, err := v.ledger.DepositByID(ctx, c.DepositID)
			if err != nil {
				return err
			}
			return printJSON(newDepositView(d))
		}

		var deposits []ledger.Deposit
		if c.User != "" {
			deposits = v.ledger.UserDeposits(ctx, c.User)
		} else {
			state := v.ledger.Snapshot(ctx)
			for id := uint64(1); id < state.NextDepositID; id++ {
				if d, ok := state.Deposits[id]; ok {
					deposits = append(deposits, d)
				}
			}
		}

		views := make([]depositView, 0, len(deposits))
		for i := range deposits {
			views = append(views, newDepositView(&deposits[i]))
		}
		return printJSON(views)
	})
}

type statusCmd struct{}

func (c *statusCmd) Execute(_ []string) error {
	return withVault(func(ctx context.Context, v *vault) error {
		tokens := v.ledger.SupportedTokens(ctx)
		fees := v.ledger.FeeConfig(ctx)

		totals := make(map[string]uint64, len(tokens))
		collected := make(map[string]uint64, len(tokens))
		names := make([]string, 0, len(tokens))
		for _, tok := range tokens {
			names = append(names, tok.String())
			totals[tok.String()] = v.ledger.TotalDeposits(ctx, tok)
			collected[tok.String()] = v.ledger.CollectedFees(
				ctx, tok,
			)
		}

		return printJSON(struct {
			Version         string            `json:"version"`
			Network         string            `json:"network"`
			Testnet         bool              `json:"testnet"`
			Owner           string            `json:"owner"`
			PendingOwner    string            `json:"pending_owner,omitempty"`
			Paused          bool              `json:"paused"`
			EmergencyFee    uint8             `json:"emergency_fee_percent"`
			FeeCollector    string            `json:"fee_collector"`
			SupportedTokens []string          `json:"supported_tokens"`
			TotalDeposits   map[string]uint64 `json:"total_deposits"`
			CollectedFees   map[string]uint64 `json:"collected_fees"`
		}{
			Version:         ledger.Version,
			Network:         v.ledger.NetworkType(),
			Testnet:         v.ledger.IsTestnet(),
			Owner:           v.ledger.Owner(ctx),
			PendingOwner:    v.ledger.PendingOwner(ctx).UnwrapOr(""),
			Paused:          v.ledger.IsPaused(ctx),
			EmergencyFee:    fees.EmergencyFeePercent,
			FeeCollector:    fees.Collector,
			SupportedTokens: names,
			TotalDeposits:   totals,
			CollectedFees:   collected,
		})
	})
}

type eventsCmd struct{}

func (c *eventsCmd) Execute(_ []string) error {
	return withVault(func(_ context.Context, v *vault) error {
		events, err := v.db.Events()
		if err != nil {
			return err
		}

		type eventView struct {
			Name    string       `json:"name"`
			Payload ledger.Event `json:"payload"`
		}
		views := make([]eventView, 0, len(events))
		for _, ev := range events {
			views = append(views, eventView{ev.Name(), ev})
		}
		return printJSON(views)
	})
}

// transferView is the printed form of a batched transfer.
type transferView struct {
	ID        uint64 `json:"id"`
	Direction string `json:"direction"`
	From      string `json:"from"`
	To        string `json:"to"`
	Amount    int64  `json:"amount"`
	TxID      string `json:"txid"`
	Strategy  string `json:"strategy"`
	Fee       int64  `json:"fee"`
	Psbt      string `json:"psbt"`
}

func printBatch(results []chain.BatchResult) error {
	views := make([]transferView, 0, len(results))
	for _, res := range results {
		views = append(views, transferView{
			ID:        res.Transfer.ID,
			Direction: res.Transfer.Direction.String(),
			From:      res.Transfer.From,
			To:        res.Transfer.To,
			Amount:    int64(res.Transfer.Amount),
			TxID:      res.Tx.TxHash().String(),
			Strategy:  res.Selection.Strategy.String(),
			Fee:       int64(res.Fee),
			Psbt:      res.Packet,
		})
	}
	return printJSON(views)
}

type processTransfersCmd struct {
	Daemon bool `long:"daemon" description:"Keep running and batch pending transfers periodically until interrupted"`
}

func (c *processTransfersCmd) Execute(_ []string) error {
	return withVault(func(ctx context.Context, v *vault) error {
		if err := v.backend.CheckNetwork(ctx); err != nil {
			return err
		}

		if !c.Daemon {
			results, err := v.backend.ProcessPending(ctx)
			if len(results) > 0 {
				if perr := printBatch(results); perr != nil {
					return perr
				}
			}
			return err
		}

		results := make(chan []chain.BatchResult)
		batcher := chain.NewBatcher(v.backend, nil, results)
		batcher.Start()

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			<-ctx.Done()
			batcher.Stop()
			return nil
		})
		g.Go(func() error {
			for {
				select {
				case batch := <-results:
					if err := printBatch(batch); err != nil {
						return err
					}
				case <-ctx.Done():
					return nil
				}
			}
		})

		return g.Wait()
	})
}

// addCommands registers the vault subcommands with the parser.
func addCommands(parser *flags.Parser) error {
	commands := []struct {
		name, short, long string
		data              interface{}
	}{
		{"deposit", "Lock tokens in the vault",
			"Lock an amount of a supported token for a number of days.",
			&depositCmd{}},
		{"withdraw", "Withdraw an unlocked deposit",
			"Pay out an unlocked deposit in full to its depositor.",
			&withdrawCmd{}},
		{"emergencywithdraw", "Withdraw a deposit before it unlocks",
			"Pay out a deposit regardless of its lock, keeping the " +
				"emergency fee.",
			&emergencyWithdrawCmd{}},
		{"withdrawfees", "Pay out collected fees",
			"Pay the collected emergency fees of a token to the fee " +
				"collector.",
			&withdrawFeesCmd{}},
		{"pause", "Pause deposits", "Stop accepting new deposits.",
			&pauseCmd{}},
		{"unpause", "Resume deposits", "Accept new deposits again.",
			&unpauseCmd{}},
		{"addtoken", "Support a token", "Allow deposits of a token.",
			&addTokenCmd{}},
		{"removetoken", "Stop supporting a token",
			"Refuse new deposits of a token.", &removeTokenCmd{}},
		{"transferownership", "Start an ownership transfer",
			"Nominate the address that may accept ownership.",
			&transferOwnershipCmd{}},
		{"acceptownership", "Complete an ownership transfer",
			"Accept ownership as the nominated pending owner.",
			&acceptOwnershipCmd{}},
		{"setlimits", "Set deposit limits",
			"Replace the deposit limits.", &setLimitsCmd{}},
		{"setfeecollector", "Set the fee collector",
			"Set the address receiving collected fees.",
			&setFeeCollectorCmd{}},
		{"setemergencyfee", "Set the emergency fee",
			"Set the emergency withdrawal fee percentage.",
			&setEmergencyFeeCmd{}},
		{"listdeposits", "List deposits",
			"Show all deposits, the deposits of one address or a " +
				"single deposit.",
			&listDepositsCmd{}},
		{"status", "Show the vault configuration",
			"Show the owner, fees, supported tokens and totals.",
			&statusCmd{}},
		{"events", "List stored events",
			"Show every event emitted by the vault, oldest first.",
			&eventsCmd{}},
		{"processtransfers", "Build transactions for queued transfers",
			"Fund pending transfers from the node's unspent outputs " +
				"and print unsigned PSBTs for them.",
			&processTransfersCmd{}},
	}

	for _, cmd := range commands {
		_, err := parser.AddCommand(cmd.name, cmd.short, cmd.long,
			cmd.data)
		if err != nil {
			return err
		}
	}

	return nil
}
