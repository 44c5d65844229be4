package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.zenon.tools/znnwallet/api"
	"go.zenon.tools/znnwallet/plasma"
)

// errNoSecret is returned when the wallet is locked and no secret was given.
var errNoSecret = errors.New("wallet is locked and no secret was provided")

type runOptions struct {
	Secret string
	// PromptSecret is called for the secret when the wallet is locked and
	// Secret is empty.
	PromptSecret func() string
	// Wait makes the workflow wait for generated plasma instead of
	// returning as soon as the plasma-bot accepts the request.
	Wait     bool
	Timeout  time.Duration
	Interval time.Duration
}

// runWorkflow prepares the client's account for sending. It unlocks the
// wallet if it is locked, checks that the wallet owns the client's address,
// and generates plasma for the address if it has none.
func runWorkflow(ctx context.Context, c *api.Client, s *plasma.Sender, opts runOptions, log *zap.Logger) error {
	status, err := c.WalletStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to get wallet status: %w", err)
	}
	log.Info("wallet status", zap.Bool("initialized", status.IsInitialized), zap.Bool("unlocked", status.IsUnlocked))
	if !status.IsInitialized {
		return errors.New("wallet is not initialized")
	}

	if !status.IsUnlocked {
		if opts.Secret == "" && opts.PromptSecret != nil {
			opts.Secret = opts.PromptSecret()
		}
		if opts.Secret == "" {
			return errNoSecret
		} else if err := c.UnlockWallet(ctx, opts.Secret); err != nil {
			return fmt.Errorf("failed to unlock wallet: %w", err)
		}
		log.Info("wallet unlocked")
	}

	if err := c.CheckUnlockedAccount(ctx); err != nil {
		return err
	}

	addr := c.Address()
	info, err := c.PlasmaInfo(ctx, addr)
	if err != nil {
		return fmt.Errorf("failed to get plasma info: %w", err)
	}
	log = log.With(zap.Stringer("address", addr))
	log.Info("plasma info", zap.Uint64("current", info.CurrentPlasma), zap.Uint64("max", info.MaxPlasma), zap.String("qsr", info.QsrAmount))
	if info.HasPlasma() {
		return nil
	}

	resp, err := s.Generate(ctx, addr)
	if err != nil {
		return err
	}
	log.Info("generated plasma", zap.ByteString("response", resp))
	if !opts.Wait {
		return nil
	}
	return s.WaitForPlasma(ctx, addr, opts.Timeout, opts.Interval)
}
