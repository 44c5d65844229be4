// Package types contains the value types exchanged with the wallet daemon.
package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// DefaultTokenStandard is the network's native token.
	DefaultTokenStandard TokenStandard = "ZNN"
	// DefaultTokenAmount is the amount sent when none is specified.
	DefaultTokenAmount TokenAmount = "0.00000001"

	addressPrefix  = "z1"
	addressLength  = 40
	bech32Alphabet = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"
)

var (
	// MinTokenAmount is the smallest transferable amount in display units.
	MinTokenAmount = decimal.New(1, -8)

	// ErrInvalidAddress is returned when an address is not well formed.
	ErrInvalidAddress = errors.New("invalid address")
	// ErrMissingReceiver is returned when a transfer has no receiver.
	ErrMissingReceiver = errors.New("receiver is required")
	// ErrInvalidAmount is returned when an amount is not a decimal number.
	ErrInvalidAmount = errors.New("amount must be a valid decimal string")
	// ErrAmountTooSmall is returned when an amount is below MinTokenAmount.
	ErrAmountTooSmall = errors.New("amount must be at least 0.00000001")
)

type (
	// An Address identifies a wallet account.
	Address string

	// A TokenStandard identifies a fungible asset on the ledger.
	TokenStandard string

	// A TokenAmount is a transfer quantity in display units, kept as a
	// decimal string so minimal-denomination values are never rounded.
	TokenAmount string

	// A TransferRequest describes a single token transfer.
	TransferRequest struct {
		// Sender defaults to the client's own address.
		Sender   Address
		Receiver Address
		// Amount defaults to DefaultTokenAmount.
		Amount TokenAmount
		// TokenStandard defaults to DefaultTokenStandard.
		TokenStandard TokenStandard
	}
)

// String implements fmt.Stringer.
func (a Address) String() string { return string(a) }

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) { return []byte(a), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(b []byte) error {
	addr, err := ParseAddress(string(b))
	if err != nil {
		return err
	}
	*a = addr
	return nil
}

// ParseAddress checks that s looks like a wallet address. It only checks the
// encoding; the daemon's address validation endpoint is authoritative.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return "", fmt.Errorf("%w: empty", ErrInvalidAddress)
	case len(s) != addressLength:
		return "", fmt.Errorf("%w: %q must be %d characters", ErrInvalidAddress, s, addressLength)
	case !strings.HasPrefix(s, addressPrefix):
		return "", fmt.Errorf("%w: %q must start with %q", ErrInvalidAddress, s, addressPrefix)
	}
	for _, c := range s[len(addressPrefix):] {
		if !strings.ContainsRune(bech32Alphabet, c) {
			return "", fmt.Errorf("%w: %q contains invalid character %q", ErrInvalidAddress, s, c)
		}
	}
	return Address(s), nil
}

// ParseTokenAmount parses and validates a decimal amount.
func ParseTokenAmount(s string) (TokenAmount, error) {
	a := TokenAmount(strings.TrimSpace(s))
	if err := a.Validate(); err != nil {
		return "", err
	}
	return a, nil
}

// Decimal returns the amount as a decimal.
func (a TokenAmount) Decimal() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(string(a))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %q", ErrInvalidAmount, string(a))
	}
	return d, nil
}

// Validate returns an error if the amount is not a decimal number or is
// smaller than MinTokenAmount.
func (a TokenAmount) Validate() error {
	d, err := a.Decimal()
	if err != nil {
		return err
	} else if d.LessThan(MinTokenAmount) {
		return fmt.Errorf("%w: got %q", ErrAmountTooSmall, string(a))
	}
	return nil
}

// String implements fmt.Stringer.
func (a TokenAmount) String() string { return string(a) }

// WithDefaults returns a copy of the request with unset optional fields
// replaced by their defaults.
func (tr TransferRequest) WithDefaults(sender Address) TransferRequest {
	if tr.Sender == "" {
		tr.Sender = sender
	}
	if tr.Amount == "" {
		tr.Amount = DefaultTokenAmount
	}
	if tr.TokenStandard == "" {
		tr.TokenStandard = DefaultTokenStandard
	}
	return tr
}

// Validate checks the receiver and amount of the request. The sender is
// optional and is filled in by the client.
func (tr TransferRequest) Validate() error {
	if tr.Receiver == "" {
		return ErrMissingReceiver
	}
	return tr.Amount.Validate()
}

// MarshalJSON implements json.Marshaler. The sender is part of the route, not
// the body.
func (tr TransferRequest) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Address       Address       `json:"address"`
		Amount        TokenAmount   `json:"amount"`
		TokenStandard TokenStandard `json:"tokenStandard"`
	}{tr.Receiver, tr.Amount, tr.TokenStandard})
}

// FormatBalance converts a raw balance in the token's smallest unit into
// display units.
func FormatBalance(raw string, decimals uint8) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("failed to parse balance %q: %w", raw, err)
	}
	return d.Shift(-int32(decimals)), nil
}
