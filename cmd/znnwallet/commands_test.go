package main

import (
	"errors"
	"testing"

	"go.zenon.tools/znnwallet/internal/testutil"
	"go.zenon.tools/znnwallet/types"
)

func TestParseTransfer(t *testing.T) {
	receiver := testutil.RandomAddress()
	sender := testutil.RandomAddress()

	tr, err := parseTransfer("", receiver.String(), "", "")
	if err != nil {
		t.Fatal(err)
	} else if tr.Receiver != receiver || tr.Sender != "" || tr.Amount != "" || tr.TokenStandard != "" {
		t.Fatalf("unexpected transfer %+v", tr)
	}

	tr, err = parseTransfer(sender.String(), receiver.String(), "1.5", "QSR")
	if err != nil {
		t.Fatal(err)
	} else if tr.Sender != sender || tr.Amount != "1.5" || tr.TokenStandard != "QSR" {
		t.Fatalf("unexpected transfer %+v", tr)
	}

	if _, err := parseTransfer("", "z1bad", "", ""); !errors.Is(err, types.ErrInvalidAddress) {
		t.Fatalf("expected %v, got %v", types.ErrInvalidAddress, err)
	} else if _, err := parseTransfer("nope", receiver.String(), "", ""); !errors.Is(err, types.ErrInvalidAddress) {
		t.Fatalf("expected %v, got %v", types.ErrInvalidAddress, err)
	} else if _, err := parseTransfer("", receiver.String(), "0.000000001", ""); !errors.Is(err, types.ErrAmountTooSmall) {
		t.Fatalf("expected %v, got %v", types.ErrAmountTooSmall, err)
	}
}
