// Package plasma sends transfers that depend on the receiver having plasma,
// generating plasma through the plasma-bot and waiting for it when needed.
package plasma

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	"go.uber.org/zap"
	"go.zenon.tools/znnwallet/api"
	"go.zenon.tools/znnwallet/types"
)

const (
	// DefaultTimeout is the default maximum time to wait for plasma.
	DefaultTimeout = 30 * time.Minute
	// DefaultInterval is the default time between plasma polls.
	DefaultInterval = 2 * time.Minute

	// DefaultAttempts is the default number of SendWithRetry attempts.
	DefaultAttempts = 10
	// DefaultBackoff is the default time between SendWithRetry attempts.
	DefaultBackoff = 10 * time.Second
)

var (
	// ErrTimeout is returned when plasma does not become available before
	// the wait times out.
	ErrTimeout = errors.New("timed out waiting for plasma")
	// ErrInvalidWait is returned when a wait is requested with an empty
	// address or a non-positive timeout or interval.
	ErrInvalidWait = errors.New("invalid plasma wait")
	// ErrGenerate is returned when the plasma-bot rejects a fusion request.
	ErrGenerate = errors.New("failed to generate plasma")
	// ErrSend is returned when the daemon rejects a transfer.
	ErrSend = errors.New("failed to send transfer")
)

type (
	// A WalletAPI is the part of the wallet daemon used to send transfers.
	WalletAPI interface {
		// Address returns the default sender of transfers.
		Address() types.Address
		PlasmaInfo(context.Context, types.Address) (api.PlasmaInfo, error)
		PlasmaBotFuse(context.Context, types.Address) (json.RawMessage, error)
		Send(context.Context, types.TransferRequest) (api.AccountBlock, error)
	}

	// A Clock tells the time and sleeps.
	Clock interface {
		Now() time.Time
		After(time.Duration) <-chan time.Time
	}

	// A RetryPolicy bounds how often SendWithRetry attempts a transfer.
	// Attempts are separated by a fixed backoff.
	RetryPolicy struct {
		Attempts uint
		Backoff  time.Duration
	}

	// A SendResult describes a completed transfer.
	SendResult struct {
		Block api.AccountBlock
		// Generated is true if plasma had to be generated for the
		// receiver before the transfer was sent.
		Generated bool
		// Attempts is the number of attempts made by SendWithRetry.
		Attempts int
	}

	// A Sender sends transfers once the receiver has plasma.
	Sender struct {
		api   WalletAPI
		clock Clock
		log   *zap.Logger

		timeout  time.Duration
		interval time.Duration
	}

	systemClock struct{}
)

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// DefaultRetryPolicy returns the default retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: DefaultAttempts, Backoff: DefaultBackoff}
}

// HasPlasma checks once whether addr has plasma. A failed query is reported
// as no plasma.
func (s *Sender) HasPlasma(ctx context.Context, addr types.Address) bool {
	info, err := s.api.PlasmaInfo(ctx, addr)
	if err != nil {
		s.log.Debug("failed to query plasma", zap.Stringer("address", addr), zap.Error(err))
		return false
	}
	return info.HasPlasma()
}

// WaitForPlasma polls addr every interval until it has plasma. It returns
// ErrTimeout once timeout has elapsed since the first poll without plasma
// becoming available. Because the elapsed time is only checked after a
// poll, the wait can exceed timeout by up to one interval.
func (s *Sender) WaitForPlasma(ctx context.Context, addr types.Address, timeout, interval time.Duration) error {
	if addr == "" {
		return fmt.Errorf("%w: address is required", ErrInvalidWait)
	} else if timeout <= 0 || interval <= 0 {
		return fmt.Errorf("%w: timeout and interval must be positive", ErrInvalidWait)
	}

	log := s.log.With(zap.Stringer("address", addr))
	start := s.clock.Now()
	for {
		if s.HasPlasma(ctx, addr) {
			log.Info("plasma available", zap.Duration("elapsed", s.clock.Now().Sub(start)))
			return nil
		}

		elapsed := s.clock.Now().Sub(start)
		if elapsed >= timeout {
			log.Warn("timed out waiting for plasma", zap.Duration("elapsed", elapsed), zap.Duration("timeout", timeout))
			return ErrTimeout
		}

		log.Info("waiting for plasma", zap.Duration("elapsed", elapsed), zap.Duration("timeout", timeout), zap.Duration("interval", interval))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.clock.After(interval):
		}
	}
}

// Generate asks the plasma-bot to fuse plasma for addr. A nil error means
// the request was accepted; use WaitForPlasma to observe the plasma.
func (s *Sender) Generate(ctx context.Context, addr types.Address) (json.RawMessage, error) {
	resp, err := s.api.PlasmaBotFuse(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("%w for %s: %w", ErrGenerate, addr, err)
	}
	s.log.Info("plasma generation requested", zap.Stringer("address", addr))
	return resp, nil
}

// SendWithPlasma sends a transfer once the receiver has plasma. If the
// receiver has none, plasma is generated and awaited first. The transfer is
// never sent if the wait fails. The sender defaults to the API's address.
func (s *Sender) SendWithPlasma(ctx context.Context, req types.TransferRequest) (SendResult, error) {
	req = req.WithDefaults(s.api.Address())
	if err := req.Validate(); err != nil {
		return SendResult{}, fmt.Errorf("invalid transfer: %w", err)
	} else if req.Sender == "" {
		return SendResult{}, fmt.Errorf("invalid transfer: %w: no sender", types.ErrInvalidAddress)
	}

	var res SendResult
	log := s.log.With(zap.Stringer("receiver", req.Receiver))
	if !s.HasPlasma(ctx, req.Receiver) {
		log.Info("receiver has no plasma, generating")
		if _, err := s.Generate(ctx, req.Receiver); err != nil {
			return SendResult{}, err
		} else if err := s.WaitForPlasma(ctx, req.Receiver, s.timeout, s.interval); err != nil {
			return SendResult{}, err
		}
		res.Generated = true
	}

	block, err := s.api.Send(ctx, req)
	if err != nil {
		return SendResult{}, fmt.Errorf("%w: %w", ErrSend, err)
	}
	log.Info("transfer sent", zap.String("hash", block.Hash), zap.Stringer("amount", req.Amount), zap.String("tokenStandard", string(req.TokenStandard)))
	res.Block = block
	return res, nil
}

// SendWithRetry calls SendWithPlasma until it succeeds or the policy's
// attempts are exhausted, sleeping a fixed backoff between attempts. Invalid
// transfers and cancelled contexts are not retried.
func (s *Sender) SendWithRetry(ctx context.Context, req types.TransferRequest, policy RetryPolicy) (SendResult, error) {
	if policy.Attempts == 0 {
		policy.Attempts = DefaultAttempts
	}

	var res SendResult
	var attempts int
	err := retry.Do(func() error {
		attempts++
		r, err := s.SendWithPlasma(ctx, req)
		switch {
		case err == nil:
			res = r
			return nil
		case ctx.Err() != nil, errors.Is(err, ErrInvalidWait):
			return retry.Unrecoverable(err)
		case isValidationError(err):
			return retry.Unrecoverable(err)
		}
		return err
	},
		retry.Context(ctx),
		retry.Attempts(policy.Attempts),
		retry.Delay(policy.Backoff),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			s.log.Warn("send attempt failed", zap.Uint("attempt", n+1), zap.Uint("attempts", policy.Attempts), zap.Error(err))
		}),
	)
	res.Attempts = attempts
	if err != nil {
		return res, fmt.Errorf("giving up after %d attempts: %w", attempts, err)
	}
	return res, nil
}

func isValidationError(err error) bool {
	return errors.Is(err, types.ErrMissingReceiver) ||
		errors.Is(err, types.ErrInvalidAmount) ||
		errors.Is(err, types.ErrAmountTooSmall) ||
		errors.Is(err, types.ErrInvalidAddress)
}

// NewSender returns a Sender that talks to the wallet daemon through w.
func NewSender(w WalletAPI, opts ...Option) *Sender {
	s := &Sender{
		api:      w,
		clock:    systemClock{},
		log:      zap.NewNop(),
		timeout:  DefaultTimeout,
		interval: DefaultInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}
