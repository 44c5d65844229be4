package types_test

import (
	"encoding/json"
	"errors"
	"testing"

	"go.zenon.tools/znnwallet/types"
)

const (
	testSender   = types.Address("z1qqjnwjjpnue8xmmpanz6csze6tcmtzzdtfsww7")
	testReceiver = types.Address("z1qr00j9wkcyvgz567sygnjxshnkq3xqxsc0t7cv")
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in    string
		valid bool
	}{
		{"z1qqjnwjjpnue8xmmpanz6csze6tcmtzzdtfsww7", true},
		{" z1qzg4377yxss6m0duu38ntc0zu3s0thn9rwze3f ", true},
		{"", false},
		{"z1qqjnwjjpnue8xmmpanz6csze6tcmtzzdtfsww", false},
		{"x1qqjnwjjpnue8xmmpanz6csze6tcmtzzdtfsww7", false},
		{"z1qqjnwjjpnue8xmmpanz6csze6tcmtzzdtfswwb", false}, // 'b' is not in the bech32 alphabet
	}
	for _, tt := range tests {
		_, err := types.ParseAddress(tt.in)
		if tt.valid && err != nil {
			t.Fatalf("expected %q to be valid, got %v", tt.in, err)
		} else if !tt.valid && !errors.Is(err, types.ErrInvalidAddress) {
			t.Fatalf("expected %q to be invalid, got %v", tt.in, err)
		}
	}
}

func TestTokenAmount(t *testing.T) {
	tests := []struct {
		in  string
		err error
	}{
		{"0.00000001", nil},
		{"1", nil},
		{"12.5", nil},
		{"0.000000009", types.ErrAmountTooSmall},
		{"0", types.ErrAmountTooSmall},
		{"-1", types.ErrAmountTooSmall},
		{"abc", types.ErrInvalidAmount},
		{"", types.ErrInvalidAmount},
	}
	for _, tt := range tests {
		_, err := types.ParseTokenAmount(tt.in)
		if tt.err == nil && err != nil {
			t.Fatalf("expected %q to be accepted, got %v", tt.in, err)
		} else if tt.err != nil && !errors.Is(err, tt.err) {
			t.Fatalf("expected %q to fail with %v, got %v", tt.in, tt.err, err)
		}
	}
}

func TestTransferRequest(t *testing.T) {
	req := types.TransferRequest{Receiver: testReceiver}.WithDefaults(testSender)
	if req.Sender != testSender {
		t.Fatalf("expected sender %q, got %q", testSender, req.Sender)
	} else if req.Amount != types.DefaultTokenAmount {
		t.Fatalf("expected default amount, got %q", req.Amount)
	} else if req.TokenStandard != types.DefaultTokenStandard {
		t.Fatalf("expected default token standard, got %q", req.TokenStandard)
	} else if err := req.Validate(); err != nil {
		t.Fatal(err)
	}

	// explicit values are kept
	req = types.TransferRequest{Sender: testReceiver, Receiver: testSender, Amount: "5", TokenStandard: "QSR"}.WithDefaults(testSender)
	if req.Sender != testReceiver || req.Amount != "5" || req.TokenStandard != "QSR" {
		t.Fatalf("defaults overwrote explicit values: %+v", req)
	}

	if err := (types.TransferRequest{}).WithDefaults(testSender).Validate(); !errors.Is(err, types.ErrMissingReceiver) {
		t.Fatalf("expected ErrMissingReceiver, got %v", err)
	}

	buf, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	var body map[string]string
	if err := json.Unmarshal(buf, &body); err != nil {
		t.Fatal(err)
	} else if body["address"] != testSender.String() || body["amount"] != "5" || body["tokenStandard"] != "QSR" {
		t.Fatalf("unexpected body %s", buf)
	} else if _, ok := body["sender"]; ok {
		t.Fatal("sender should not be part of the body")
	}
}

func TestFormatBalance(t *testing.T) {
	d, err := types.FormatBalance("123456789", 8)
	if err != nil {
		t.Fatal(err)
	} else if d.String() != "1.23456789" {
		t.Fatalf("expected 1.23456789, got %v", d)
	}

	if _, err := types.FormatBalance("12x", 8); err == nil {
		t.Fatal("expected an error for a malformed balance")
	}
}
