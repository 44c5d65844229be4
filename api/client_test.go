package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"go.zenon.tools/znnwallet/api"
	"go.zenon.tools/znnwallet/internal/testutil"
	"go.zenon.tools/znnwallet/types"
)

func TestAuthentication(t *testing.T) {
	d := testutil.NewDaemon(t)
	d.SetWalletStatus(api.WalletStatus{IsInitialized: true, IsUnlocked: true})

	// without credentials every request is rejected
	anon := api.NewClient(d.URL())
	if _, err := anon.WalletStatus(context.Background()); err == nil {
		t.Fatal("expected an error without credentials")
	} else if ae := new(api.Error); !errors.As(err, &ae) || ae.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}

	bad := api.NewClient(d.URL(), api.WithCredentials(testutil.Username, "wrong"))
	if err := bad.Authenticate(context.Background()); err == nil {
		t.Fatal("expected authentication to fail")
	}

	// the client authenticates lazily
	before := d.Calls("POST /api/users/authenticate")
	c := d.Client(t)
	status, err := c.WalletStatus(context.Background())
	if err != nil {
		t.Fatal(err)
	} else if !status.IsUnlocked {
		t.Fatal("expected wallet to be unlocked")
	} else if n := d.Calls("POST /api/users/authenticate") - before; n != 1 {
		t.Fatalf("expected 1 authentication, got %d", n)
	}

	if _, err := c.WalletStatus(context.Background()); err != nil {
		t.Fatal(err)
	} else if n := d.Calls("POST /api/users/authenticate") - before; n != 1 {
		t.Fatalf("expected the token to be reused, got %d authentications", n)
	}

	// a new token invalidates the old one, the client should recover on the
	// next request
	other := d.Client(t)
	if err := other.Authenticate(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := c.WalletStatus(context.Background()); err == nil {
		t.Fatal("expected stale token to be rejected")
	}
	if _, err := c.WalletStatus(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestRequestEnvelope(t *testing.T) {
	d := testutil.NewDaemon(t)
	c := d.Client(t)

	r := c.Request(context.Background(), http.MethodGet, "/api/wallet/status", nil)
	if !r.OK() {
		t.Fatalf("expected 200, got %d", r.Status)
	}
	var status api.WalletStatus
	if err := r.Decode(&status); err != nil {
		t.Fatal(err)
	} else if !status.IsInitialized {
		t.Fatal("expected wallet to be initialized")
	}

	d.Fail("GET /api/wallet/status", http.StatusInternalServerError)
	r = c.Request(context.Background(), http.MethodGet, "/api/wallet/status", nil)
	if r.Status != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", r.Status)
	} else if err := r.Err(); err == nil {
		t.Fatal("expected an error")
	}

	// transport failures have no status
	d.Close()
	r = c.Request(context.Background(), http.MethodGet, "/api/wallet/status", nil)
	if r.Status != 0 {
		t.Fatalf("expected no status, got %d", r.Status)
	} else if r.Data != nil {
		t.Fatalf("expected no data, got %s", r.Data)
	}
	var ae *api.Error
	if err := r.Err(); !errors.As(err, &ae) || ae.Status != 0 {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestWalletLifecycle(t *testing.T) {
	d := testutil.NewDaemon(t)
	d.SetWalletStatus(api.WalletStatus{})
	c := d.Client(t)
	ctx := context.Background()

	resp, err := c.InitWallet(ctx, testutil.WalletPassword)
	if err != nil {
		t.Fatal(err)
	} else if resp.Mnemonic == "" {
		t.Fatal("expected a mnemonic")
	} else if _, err := c.InitWallet(ctx, testutil.WalletPassword); err == nil {
		t.Fatal("expected second init to fail")
	}

	if err := c.RestoreWallet(ctx, testutil.WalletPassword, resp.Mnemonic); err != nil {
		t.Fatal(err)
	}

	if err := c.UnlockWallet(ctx, "wrong"); err == nil {
		t.Fatal("expected unlock with the wrong password to fail")
	} else if err := c.UnlockWallet(ctx, testutil.WalletPassword); err != nil {
		t.Fatal(err)
	} else if !d.WalletStatus().IsUnlocked {
		t.Fatal("expected wallet to be unlocked")
	}

	accounts, err := c.WalletAccounts(ctx)
	if err != nil {
		t.Fatal(err)
	} else if len(accounts.List) != 1 {
		t.Fatalf("expected 1 account, got %d", len(accounts.List))
	}

	if _, err := c.AddWalletAccounts(ctx); err != nil {
		t.Fatal(err)
	} else if accounts, err = c.WalletAccounts(ctx); err != nil {
		t.Fatal(err)
	} else if len(accounts.List) != 11 {
		t.Fatalf("expected 11 accounts, got %d", len(accounts.List))
	}

	if err := c.LockWallet(ctx); err != nil {
		t.Fatal(err)
	} else if d.WalletStatus().IsUnlocked {
		t.Fatal("expected wallet to be locked")
	}
}

func TestCheckUnlockedAccount(t *testing.T) {
	d := testutil.NewDaemon(t)
	d.SetWalletStatus(api.WalletStatus{IsInitialized: true, IsUnlocked: true})
	addr := testutil.RandomAddress()
	c := d.Client(t, api.WithAddress(addr))
	ctx := context.Background()

	if err := c.CheckUnlockedAccount(ctx); !errors.Is(err, api.ErrNoAccounts) {
		t.Fatalf("expected ErrNoAccounts, got %v", err)
	}

	d.AddAccount(testutil.RandomAddress())
	if err := c.CheckUnlockedAccount(ctx); !errors.Is(err, api.ErrWrongWallet) {
		t.Fatalf("expected ErrWrongWallet, got %v", err)
	}

	d2 := testutil.NewDaemon(t)
	d2.SetWalletStatus(api.WalletStatus{IsInitialized: true, IsUnlocked: true})
	d2.AddAccount(addr)
	if err := d2.Client(t, api.WithAddress(addr)).CheckUnlockedAccount(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestSend(t *testing.T) {
	d := testutil.NewDaemon(t)
	d.SetWalletStatus(api.WalletStatus{IsInitialized: true, IsUnlocked: true})
	sender, receiver := testutil.RandomAddress(), testutil.RandomAddress()
	c := d.Client(t, api.WithAddress(sender))
	ctx := context.Background()

	// invalid requests never reach the daemon
	invalid := []struct {
		req types.TransferRequest
		err error
	}{
		{types.TransferRequest{}, types.ErrMissingReceiver},
		{types.TransferRequest{Receiver: receiver, Amount: "0.000000009"}, types.ErrAmountTooSmall},
		{types.TransferRequest{Receiver: receiver, Amount: "one"}, types.ErrInvalidAmount},
	}
	for _, tt := range invalid {
		if _, err := c.Send(ctx, tt.req); !errors.Is(err, tt.err) {
			t.Fatalf("expected %v, got %v", tt.err, err)
		}
	}
	if n := d.TotalCalls(); n != 0 {
		t.Fatalf("expected no calls, got %d", n)
	}

	block, err := c.Send(ctx, types.TransferRequest{Receiver: receiver, Amount: "0.00000001"})
	if err != nil {
		t.Fatal(err)
	} else if block.Address != sender.String() || block.ToAddress != receiver.String() {
		t.Fatalf("unexpected block %+v", block)
	} else if block.TokenStandard != types.DefaultTokenStandard || block.Amount != "0.00000001" {
		t.Fatalf("unexpected block %+v", block)
	}

	// the receiver sees the block as unreceived until it is received
	unreceived, err := c.UnreceivedBlocks(ctx, receiver, 0, 0)
	if err != nil {
		t.Fatal(err)
	} else if len(unreceived.List) != 1 || unreceived.List[0].Hash != block.Hash {
		t.Fatalf("expected the sent block to be unreceived, got %+v", unreceived)
	}

	recv, err := c.Receive(ctx, receiver, block.Hash)
	if err != nil {
		t.Fatal(err)
	} else if recv.FromBlockHash != block.Hash {
		t.Fatalf("expected from block hash %q, got %q", block.Hash, recv.FromBlockHash)
	}

	received, err := c.ReceivedBlocks(ctx, receiver, 0, 1)
	if err != nil {
		t.Fatal(err)
	} else if len(received.List) != 1 {
		t.Fatalf("expected 1 received block, got %d", len(received.List))
	} else if unreceived, err = c.UnreceivedBlocks(ctx, receiver, 0, 0); err != nil {
		t.Fatal(err)
	} else if len(unreceived.List) != 0 {
		t.Fatalf("expected no unreceived blocks, got %d", len(unreceived.List))
	}
}

func TestPagination(t *testing.T) {
	d := testutil.NewDaemon(t)
	c := d.Client(t)
	addr := testutil.RandomAddress()
	ctx := context.Background()

	tests := []struct {
		index, size int
		unreceived  bool
	}{
		{-1, 1, false},
		{0, 1025, false},
		{0, -1, false},
		{0, 51, true},
		{-1, 10, true},
	}
	for _, tt := range tests {
		var err error
		if tt.unreceived {
			_, err = c.UnreceivedBlocks(ctx, addr, tt.index, tt.size)
		} else {
			_, err = c.ReceivedBlocks(ctx, addr, tt.index, tt.size)
		}
		if !errors.Is(err, api.ErrInvalidPage) {
			t.Fatalf("expected ErrInvalidPage for %+v, got %v", tt, err)
		}
	}
	if n := d.TotalCalls(); n != 0 {
		t.Fatalf("expected no calls, got %d", n)
	}

	if _, err := c.ReceivedBlocks(ctx, addr, 0, api.DefaultReceivedPageSize); err != nil {
		t.Fatal(err)
	} else if _, err := c.UnreceivedBlocks(ctx, addr, 3, api.DefaultUnreceivedPageSize); err != nil {
		t.Fatal(err)
	}
}

func TestPlasmaEndpoints(t *testing.T) {
	d := testutil.NewDaemon(t)
	addr := testutil.RandomAddress()
	c := d.Client(t)
	ctx := context.Background()

	info, err := c.PlasmaInfo(ctx, addr)
	if err != nil {
		t.Fatal(err)
	} else if info.HasPlasma() {
		t.Fatal("expected no plasma")
	}

	if _, err := c.FusionExpiration(ctx, addr); err == nil {
		t.Fatal("expected no plasma-bot fusion")
	}
	if _, err := c.PlasmaBotFuse(ctx, addr); err != nil {
		t.Fatal(err)
	}
	if resp, err := c.FusionExpiration(ctx, addr); err != nil {
		t.Fatal(err)
	} else if len(resp) == 0 {
		t.Fatal("expected an expiration")
	}

	// fusing QSR directly grants plasma
	if _, err := c.FuseQSR(ctx, addr); err != nil {
		t.Fatal(err)
	}
	entries, err := c.FusionEntries(ctx, addr)
	if err != nil {
		t.Fatal(err)
	} else if entries.Count != 1 {
		t.Fatalf("expected 1 fusion entry, got %d", entries.Count)
	}

	if _, err := c.CancelFusion(ctx, addr, entries.List[0].ID); err != nil {
		t.Fatal(err)
	} else if entries, err = c.FusionEntries(ctx, addr); err != nil {
		t.Fatal(err)
	} else if entries.Count != 0 {
		t.Fatalf("expected no fusion entries, got %d", entries.Count)
	} else if _, err := c.CancelFusion(ctx, addr, "missing"); err == nil {
		t.Fatal("expected cancelling an unknown fusion to fail")
	}
}

func TestAccountInfo(t *testing.T) {
	d := testutil.NewDaemon(t)
	addr := testutil.RandomAddress()
	d.SetBalance(addr, api.Token{Name: "Zenon", Symbol: "ZNN", Decimals: 8, TokenStandard: "zts1znnxxxxxxxxxxxxx9z4ulx"}, "150000000")
	c := d.Client(t)

	info, err := c.AccountInfo(context.Background(), addr)
	if err != nil {
		t.Fatal(err)
	} else if len(info.BalanceInfoMap) != 1 {
		t.Fatalf("expected 1 token, got %d", len(info.BalanceInfoMap))
	}

	bi := info.BalanceInfoMap["zts1znnxxxxxxxxxxxxx9z4ulx"]
	balance, err := bi.DisplayBalance()
	if err != nil {
		t.Fatal(err)
	} else if balance.String() != "1.5" {
		t.Fatalf("expected 1.5, got %v", balance)
	}
}

func TestUtilities(t *testing.T) {
	d := testutil.NewDaemon(t)
	c := d.Client(t)
	ctx := context.Background()

	for addr, expected := range map[string]bool{
		testutil.RandomAddress().String(): true,
		"not an address":                  false,
	} {
		resp, err := c.ValidateAddress(ctx, addr)
		if err != nil {
			t.Fatal(err)
		}
		var valid bool
		if err := json.Unmarshal(resp, &valid); err != nil {
			t.Fatal(err)
		} else if valid != expected {
			t.Fatalf("expected %q valid=%v, got %v", addr, expected, valid)
		}
	}

	if _, err := c.AutoReceiverStatus(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestAddressEscaping(t *testing.T) {
	d := testutil.NewDaemon(t)
	c := d.Client(t)

	// the query delimiter must stay part of the address segment
	_, err := c.PlasmaInfo(context.Background(), types.Address("z1?pageSize=1"))
	if ae := new(api.Error); !errors.As(err, &ae) || ae.Status != http.StatusBadRequest {
		t.Fatalf("expected the daemon to reject the address with 400, got %v", err)
	} else if n := d.Calls("GET /api/ledger/:address/plasma"); n != 1 {
		t.Fatalf("expected the plasma route to be called once, got %d", n)
	}
}
