package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"go.zenon.tools/znnwallet/api"
	"go.zenon.tools/znnwallet/plasma"
	"go.zenon.tools/znnwallet/types"
)

// addressArg returns the address given as the command's only argument, or
// the client's address if there is none.
func addressArg(cmd *flag.FlagSet, c *api.Client) types.Address {
	switch len(cmd.Args()) {
	case 0:
		if c.Address() == "" {
			stdoutFatalError("no address given and none configured")
		}
		return c.Address()
	case 1:
		addr, err := types.ParseAddress(cmd.Arg(0))
		check("invalid address", err)
		return addr
	default:
		cmd.Usage()
		os.Exit(2)
	}
	panic("unreachable")
}

// parseTransfer builds a transfer request from command line values. Empty
// values take their defaults.
func parseTransfer(sender, receiver, amount, token string) (tr types.TransferRequest, err error) {
	if sender != "" {
		if tr.Sender, err = types.ParseAddress(sender); err != nil {
			return types.TransferRequest{}, fmt.Errorf("invalid sender: %w", err)
		}
	}
	if tr.Receiver, err = types.ParseAddress(receiver); err != nil {
		return types.TransferRequest{}, fmt.Errorf("invalid receiver: %w", err)
	}
	if amount != "" {
		if tr.Amount, err = types.ParseTokenAmount(amount); err != nil {
			return types.TransferRequest{}, err
		}
	}
	tr.TokenStandard = types.TokenStandard(token)
	return tr, nil
}

func printJSON(v any, err error) error {
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printRaw(resp json.RawMessage, err error) error {
	if err != nil {
		return err
	} else if len(resp) == 0 {
		return nil
	}
	return printJSON(resp, nil)
}

func printStatus(ctx context.Context, c *api.Client) error {
	status, err := c.WalletStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to get wallet status: %w", err)
	}
	fmt.Println("Initialized:", status.IsInitialized)
	fmt.Println("Unlocked:   ", status.IsUnlocked)
	return nil
}

func printAccounts(ctx context.Context, c *api.Client, add bool) error {
	if add {
		if _, err := c.AddWalletAccounts(ctx); err != nil {
			return fmt.Errorf("failed to add accounts: %w", err)
		}
	}
	accounts, err := c.WalletAccounts(ctx)
	if err != nil {
		return fmt.Errorf("failed to get wallet accounts: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Index\tAddress")
	for _, acc := range accounts.List {
		fmt.Fprintf(w, "%d\t%s\n", acc.Index, acc.Address)
	}
	return w.Flush()
}

func printBalances(ctx context.Context, c *api.Client, addr types.Address) error {
	info, err := c.AccountInfo(ctx, addr)
	if err != nil {
		return fmt.Errorf("failed to get account info: %w", err)
	}

	standards := make([]types.TokenStandard, 0, len(info.BalanceInfoMap))
	for ts := range info.BalanceInfoMap {
		standards = append(standards, ts)
	}
	sort.Slice(standards, func(i, j int) bool { return standards[i] < standards[j] })

	fmt.Println("Address:", info.Address)
	fmt.Println("Height: ", info.AccountHeight)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Token\tSymbol\tBalance")
	for _, ts := range standards {
		bi := info.BalanceInfoMap[ts]
		balance, err := bi.DisplayBalance()
		if err != nil {
			return fmt.Errorf("invalid %s balance: %w", ts, err)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", ts, bi.Token.Symbol, balance)
	}
	return w.Flush()
}

func printPlasma(ctx context.Context, c *api.Client, s *plasma.Sender, addr types.Address, wait bool) error {
	if wait {
		if err := s.WaitForPlasma(ctx, addr, cfg.Plasma.Timeout, cfg.Plasma.Interval); err != nil {
			return err
		}
	}
	info, err := c.PlasmaInfo(ctx, addr)
	if err != nil {
		return fmt.Errorf("failed to get plasma info: %w", err)
	}
	fmt.Println("Current plasma:", info.CurrentPlasma)
	fmt.Println("Max plasma:    ", info.MaxPlasma)
	fmt.Println("Fused QSR:     ", info.QsrAmount)
	return nil
}
