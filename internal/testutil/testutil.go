package testutil

import (
	"encoding/hex"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"

	"go.sia.tech/jape"
	"go.uber.org/zap/zaptest"
	"go.zenon.tools/znnwallet/api"
	"go.zenon.tools/znnwallet/types"
	"lukechampine.com/frand"
)

const (
	// Username and Password are the admin credentials accepted by the
	// daemon.
	Username = "admin"
	Password = "password"
	// WalletPassword unlocks the daemon's wallet.
	WalletPassword = "secret"
	// FusedPlasma is the plasma an address receives from a fusion.
	FusedPlasma = 21000

	bech32Alphabet = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"
)

// NeverFuse makes plasma-bot fusions never produce plasma.
const NeverFuse = -1

type (
	// A Daemon is an in-memory wallet daemon served over HTTP. It records
	// every call so tests can assert exactly what a client did.
	Daemon struct {
		l   net.Listener
		srv *http.Server

		mu        sync.Mutex
		token     string
		status    api.WalletStatus
		accounts  []api.WalletAccount
		plasma    map[types.Address]uint64
		balances  map[types.Address]map[types.TokenStandard]api.BalanceInfo
		fusions   map[types.Address][]api.FusionEntry
		received  map[types.Address][]api.AccountBlock
		pending   map[types.Address][]api.AccountBlock
		fuseDelay int
		fusing    map[types.Address]int
		expiry    map[types.Address]uint64
		height    uint64
		failures  map[string]int
		calls     map[string]int
		sent      []api.AccountBlock
	}

	sendRequest struct {
		Address       types.Address       `json:"address"`
		Amount        types.TokenAmount   `json:"amount"`
		TokenStandard types.TokenStandard `json:"tokenStandard"`
	}
)

// RandomAddress returns a random well-formed address.
func RandomAddress() types.Address {
	var sb strings.Builder
	sb.WriteString("z1q")
	for i := 0; i < 37; i++ {
		sb.WriteByte(bech32Alphabet[frand.Intn(len(bech32Alphabet))])
	}
	return types.Address(sb.String())
}

func randomHash() string {
	return hex.EncodeToString(frand.Bytes(32))
}

// URL returns the base URL of the daemon.
func (d *Daemon) URL() string {
	return "http://" + d.l.Addr().String()
}

// Client returns a client authenticated against the daemon.
func (d *Daemon) Client(tb testing.TB, opts ...api.ClientOption) *api.Client {
	tb.Helper()

	opts = append([]api.ClientOption{
		api.WithCredentials(Username, Password),
		api.WithLogger(zaptest.NewLogger(tb).Named("api")),
	}, opts...)
	c := api.NewClient(d.URL(), opts...)
	tb.Cleanup(func() { c.Close() })
	return c
}

// Close stops the daemon.
func (d *Daemon) Close() error {
	return d.srv.Close()
}

// SetPlasma sets the plasma available to an address.
func (d *Daemon) SetPlasma(addr types.Address, plasma uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.plasma[addr] = plasma
}

// SetFuseDelay sets how many plasma queries return no plasma after a
// plasma-bot fusion before the fused plasma shows up. NeverFuse disables
// fusion entirely.
func (d *Daemon) SetFuseDelay(queries int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fuseDelay = queries
}

// SetBalance sets the balance of a token held by an address.
func (d *Daemon) SetBalance(addr types.Address, token api.Token, raw string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.balances[addr] == nil {
		d.balances[addr] = make(map[types.TokenStandard]api.BalanceInfo)
	}
	d.balances[addr][token.TokenStandard] = api.BalanceInfo{Token: token, Balance: raw}
}

// AddAccount adds an account to the wallet.
func (d *Daemon) AddAccount(addr types.Address) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.accounts = append(d.accounts, api.WalletAccount{Index: len(d.accounts), Address: addr.String()})
}

// SetWalletStatus sets the wallet status.
func (d *Daemon) SetWalletStatus(status api.WalletStatus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status = status
}

// WalletStatus returns the wallet status.
func (d *Daemon) WalletStatus() api.WalletStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// Fail makes every call to route fail with the given status code. A zero
// status removes the failure. Routes are written the way they are
// registered, e.g. "GET /api/ledger/:address/plasma".
func (d *Daemon) Fail(route string, status int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if status == 0 {
		delete(d.failures, route)
		return
	}
	d.failures[route] = status
}

// Calls returns the number of calls made to route.
func (d *Daemon) Calls(route string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[route]
}

// TotalCalls returns the number of calls made to the daemon, excluding
// authentication.
func (d *Daemon) TotalCalls() (n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for route, c := range d.calls {
		if route != "POST /api/users/authenticate" {
			n += c
		}
	}
	return
}

// Sent returns the transfers submitted to the daemon.
func (d *Daemon) Sent() []api.AccountBlock {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]api.AccountBlock(nil), d.sent...)
}

// route wraps a handler with call tracking, failure injection and bearer
// token authentication.
func (d *Daemon) route(name string, h jape.Handler) jape.Handler {
	return func(jc jape.Context) {
		d.mu.Lock()
		d.calls[name]++
		status, fail := d.failures[name]
		token := d.token
		d.mu.Unlock()

		if fail {
			jc.Error(errors.New("injected failure"), status)
			return
		} else if name != "POST /api/users/authenticate" {
			if token == "" || jc.Request.Header.Get("Authorization") != "Bearer "+token {
				jc.Error(errors.New("unauthorized"), http.StatusUnauthorized)
				return
			}
		}
		h(jc)
	}
}

func (d *Daemon) authenticateHandler(jc jape.Context) {
	var req api.AuthenticateRequest
	if jc.Decode(&req) != nil {
		return
	} else if req.Username != Username || req.Password != Password {
		jc.Error(errors.New("invalid credentials"), http.StatusUnauthorized)
		return
	}

	d.mu.Lock()
	d.token = hex.EncodeToString(frand.Bytes(16))
	token := d.token
	d.mu.Unlock()
	jc.Encode(api.AuthenticateResponse{Token: token})
}

func (d *Daemon) autoReceiverStatusHandler(jc jape.Context) {
	jc.Encode(map[string]bool{"isRunning": true})
}

func (d *Daemon) plasmaFuseHandler(jc jape.Context) {
	var addr types.Address
	if jc.DecodeParam("address", &addr) != nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.height++
	entry := api.FusionEntry{
		ID:               randomHash(),
		QsrAmount:        "1000000000",
		Beneficiary:      addr.String(),
		ExpirationHeight: d.height + 360,
		IsRevocable:      false,
	}
	d.fusions[addr] = append(d.fusions[addr], entry)
	d.plasma[addr] += FusedPlasma
	jc.Encode(api.AccountBlock{Hash: randomHash(), Height: d.height, Address: addr.String(), Amount: entry.QsrAmount, TokenStandard: "QSR"})
}

func (d *Daemon) plasmaCancelHandler(jc jape.Context) {
	var addr types.Address
	var req api.CancelFusionRequest
	if jc.DecodeParam("address", &addr) != nil || jc.Decode(&req) != nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	entries := d.fusions[addr]
	for i, entry := range entries {
		if entry.ID != req.IDHash {
			continue
		}
		d.fusions[addr] = append(entries[:i:i], entries[i+1:]...)
		if d.plasma[addr] >= FusedPlasma {
			d.plasma[addr] -= FusedPlasma
		}
		d.height++
		jc.Encode(api.AccountBlock{Hash: randomHash(), Height: d.height, Address: addr.String()})
		return
	}
	jc.Error(errors.New("fusion entry not found"), http.StatusNotFound)
}

func (d *Daemon) ledgerBalancesHandler(jc jape.Context) {
	var addr types.Address
	if jc.DecodeParam("address", &addr) != nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	info := api.AccountInfo{
		Address:        addr.String(),
		AccountHeight:  d.height,
		BalanceInfoMap: make(map[types.TokenStandard]api.BalanceInfo),
	}
	for ts, bi := range d.balances[addr] {
		info.BalanceInfoMap[ts] = bi
	}
	jc.Encode(info)
}

func (d *Daemon) blockPage(jc jape.Context, blocks map[types.Address][]api.AccountBlock) {
	var addr types.Address
	if jc.DecodeParam("address", &addr) != nil {
		return
	}
	var index, size int
	if jc.DecodeForm("pageIndex", &index) != nil || jc.DecodeForm("pageSize", &size) != nil {
		return
	} else if size <= 0 {
		jc.Error(errors.New("pageSize must be positive"), http.StatusBadRequest)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	all := blocks[addr]
	list := api.AccountBlockList{List: []api.AccountBlock{}, Count: len(all)}
	if start := index * size; start < len(all) {
		end := min(start+size, len(all))
		list.List = append(list.List, all[start:end]...)
		list.More = end < len(all)
	}
	jc.Encode(list)
}

func (d *Daemon) ledgerReceivedHandler(jc jape.Context) {
	d.blockPage(jc, d.received)
}

func (d *Daemon) ledgerUnreceivedHandler(jc jape.Context) {
	d.blockPage(jc, d.pending)
}

func (d *Daemon) ledgerPlasmaHandler(jc jape.Context) {
	var addr types.Address
	if jc.DecodeParam("address", &addr) != nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if n, ok := d.fusing[addr]; ok {
		switch {
		case n == 0:
			d.plasma[addr] += FusedPlasma
			delete(d.fusing, addr)
		case n > 0:
			d.fusing[addr] = n - 1
		}
	}
	jc.Encode(api.PlasmaInfo{
		CurrentPlasma: d.plasma[addr],
		MaxPlasma:     d.plasma[addr],
		QsrAmount:     "0",
	})
}

func (d *Daemon) ledgerFusedHandler(jc jape.Context) {
	var addr types.Address
	if jc.DecodeParam("address", &addr) != nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	list := api.FusionEntryList{QsrAmount: "0", List: append([]api.FusionEntry{}, d.fusions[addr]...)}
	list.Count = len(list.List)
	jc.Encode(list)
}

func (d *Daemon) transferSendHandler(jc jape.Context) {
	var sender types.Address
	var req sendRequest
	if jc.DecodeParam("address", &sender) != nil || jc.Decode(&req) != nil {
		return
	} else if _, err := types.ParseAddress(req.Address.String()); err != nil {
		jc.Error(err, http.StatusBadRequest)
		return
	} else if err := req.Amount.Validate(); err != nil {
		jc.Error(err, http.StatusBadRequest)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.status.IsUnlocked {
		jc.Error(errors.New("wallet is locked"), http.StatusForbidden)
		return
	}
	d.height++
	block := api.AccountBlock{
		Hash:          randomHash(),
		Height:        d.height,
		Address:       sender.String(),
		ToAddress:     req.Address.String(),
		Amount:        req.Amount.String(),
		TokenStandard: req.TokenStandard,
	}
	d.sent = append(d.sent, block)
	d.pending[req.Address] = append(d.pending[req.Address], block)
	jc.Encode(block)
}

func (d *Daemon) transferReceiveHandler(jc jape.Context) {
	var addr types.Address
	var req api.ReceiveRequest
	if jc.DecodeParam("address", &addr) != nil || jc.Decode(&req) != nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	pending := d.pending[addr]
	for i, block := range pending {
		if block.Hash != req.BlockHash {
			continue
		}
		d.pending[addr] = append(pending[:i:i], pending[i+1:]...)
		d.height++
		recv := api.AccountBlock{
			Hash:          randomHash(),
			Height:        d.height,
			Address:       addr.String(),
			Amount:        block.Amount,
			TokenStandard: block.TokenStandard,
			FromBlockHash: block.Hash,
		}
		d.received[addr] = append(d.received[addr], recv)
		jc.Encode(recv)
		return
	}
	jc.Error(errors.New("block not found"), http.StatusNotFound)
}

func (d *Daemon) walletStatusHandler(jc jape.Context) {
	jc.Encode(d.WalletStatus())
}

func (d *Daemon) walletAccountsHandlerGET(jc jape.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.status.IsUnlocked {
		jc.Error(errors.New("wallet is locked"), http.StatusForbidden)
		return
	}
	jc.Encode(api.WalletAccountList{List: append([]api.WalletAccount{}, d.accounts...), Count: len(d.accounts)})
}

func (d *Daemon) walletAccountsHandlerPOST(jc jape.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.status.IsUnlocked {
		jc.Error(errors.New("wallet is locked"), http.StatusForbidden)
		return
	}
	added := make([]api.WalletAccount, 0, 10)
	for i := 0; i < 10; i++ {
		acc := api.WalletAccount{Index: len(d.accounts), Address: RandomAddress().String()}
		d.accounts = append(d.accounts, acc)
		added = append(added, acc)
	}
	jc.Encode(api.WalletAccountList{List: added, Count: len(added)})
}

func (d *Daemon) walletInitHandler(jc jape.Context) {
	var req api.WalletPasswordRequest
	if jc.Decode(&req) != nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status.IsInitialized {
		jc.Error(errors.New("wallet is already initialized"), http.StatusConflict)
		return
	}
	d.status.IsInitialized = true
	d.accounts = append(d.accounts, api.WalletAccount{Address: RandomAddress().String()})
	jc.Encode(api.WalletInitResponse{Mnemonic: strings.Repeat("abandon ", 23) + "art"})
}

func (d *Daemon) walletRestoreHandler(jc jape.Context) {
	var req api.WalletRestoreRequest
	if jc.Decode(&req) != nil {
		return
	} else if len(strings.Fields(req.Mnemonic)) != 24 {
		jc.Error(errors.New("invalid mnemonic"), http.StatusBadRequest)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.status.IsInitialized = true
	jc.Encode(nil)
}

func (d *Daemon) walletLockHandler(jc jape.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status.IsUnlocked = false
	jc.Encode(nil)
}

func (d *Daemon) walletUnlockHandler(jc jape.Context) {
	var req api.WalletPasswordRequest
	if jc.Decode(&req) != nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.status.IsInitialized {
		jc.Error(errors.New("wallet is not initialized"), http.StatusBadRequest)
		return
	} else if req.Password != WalletPassword {
		jc.Error(errors.New("invalid password"), http.StatusBadRequest)
		return
	}
	d.status.IsUnlocked = true
	jc.Encode(nil)
}

func (d *Daemon) plasmaBotFuseHandler(jc jape.Context) {
	var req api.PlasmaBotFuseRequest
	if jc.Decode(&req) != nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fuseDelay != NeverFuse {
		d.fusing[req.Address] = d.fuseDelay
	}
	d.expiry[req.Address] = d.height + 4320
	jc.Encode(map[string]string{"address": req.Address.String()})
}

func (d *Daemon) plasmaBotExpirationHandler(jc jape.Context) {
	var addr types.Address
	if jc.DecodeParam("address", &addr) != nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	height, ok := d.expiry[addr]
	if !ok {
		jc.Error(errors.New("no plasma-bot fusion"), http.StatusNotFound)
		return
	}
	jc.Encode(map[string]uint64{"expirationHeight": height})
}

func (d *Daemon) addressValidateHandler(jc jape.Context) {
	_, err := types.ParseAddress(jc.Request.FormValue("address"))
	jc.Encode(err == nil)
}

// NewDaemon starts a wallet daemon on a random local port. It is stopped
// when the test finishes.
func NewDaemon(tb testing.TB) *Daemon {
	tb.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		tb.Fatal(err)
	}

	d := &Daemon{
		l:        l,
		status:   api.WalletStatus{IsInitialized: true},
		plasma:   make(map[types.Address]uint64),
		balances: make(map[types.Address]map[types.TokenStandard]api.BalanceInfo),
		fusions:  make(map[types.Address][]api.FusionEntry),
		received: make(map[types.Address][]api.AccountBlock),
		pending:  make(map[types.Address][]api.AccountBlock),
		fusing:   make(map[types.Address]int),
		expiry:   make(map[types.Address]uint64),
		failures: make(map[string]int),
		calls:    make(map[string]int),
	}

	handlers := map[string]jape.Handler{
		"POST /api/users/authenticate": d.authenticateHandler,

		"GET /api/auto-receiver/status": d.autoReceiverStatusHandler,

		"POST /api/plasma/:address/fuse":   d.plasmaFuseHandler,
		"POST /api/plasma/:address/cancel": d.plasmaCancelHandler,

		"GET /api/ledger/:address/balances":   d.ledgerBalancesHandler,
		"GET /api/ledger/:address/received":   d.ledgerReceivedHandler,
		"GET /api/ledger/:address/unreceived": d.ledgerUnreceivedHandler,
		"GET /api/ledger/:address/plasma":     d.ledgerPlasmaHandler,
		"GET /api/ledger/:address/fused":      d.ledgerFusedHandler,

		"POST /api/transfer/:address/send":    d.transferSendHandler,
		"POST /api/transfer/:address/receive": d.transferReceiveHandler,

		"GET /api/wallet/status":    d.walletStatusHandler,
		"GET /api/wallet/accounts":  d.walletAccountsHandlerGET,
		"POST /api/wallet/accounts": d.walletAccountsHandlerPOST,
		"POST /api/wallet/init":     d.walletInitHandler,
		"POST /api/wallet/restore":  d.walletRestoreHandler,
		"POST /api/wallet/lock":     d.walletLockHandler,
		"POST /api/wallet/unlock":   d.walletUnlockHandler,

		"POST /api/utilities/plasma-bot/fuse":               d.plasmaBotFuseHandler,
		"GET /api/utilities/plasma-bot/expiration/:address": d.plasmaBotExpirationHandler,
		"POST /api/utilities/address/validate":              d.addressValidateHandler,
	}
	for name, h := range handlers {
		handlers[name] = d.route(name, h)
	}

	d.srv = &http.Server{Handler: jape.Mux(handlers)}
	go d.srv.Serve(l)
	tb.Cleanup(func() { d.Close() })
	return d
}
