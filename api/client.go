package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.zenon.tools/znnwallet/types"
)

const (
	// DefaultReceivedPageSize is the default and maximum page size for
	// received account blocks.
	DefaultReceivedPageSize = 1024
	// DefaultUnreceivedPageSize is the default and maximum page size for
	// unreceived account blocks.
	DefaultUnreceivedPageSize = 50

	maxResponseSize = 16 << 20
)

var (
	// ErrInvalidPage is returned when pagination parameters are out of range.
	ErrInvalidPage = errors.New("invalid page")
	// ErrNoAccounts is returned when the wallet has no accounts.
	ErrNoAccounts = errors.New("no wallet accounts found")
	// ErrWrongWallet is returned when the unlocked wallet does not own the
	// client's address.
	ErrWrongWallet = errors.New("wrong wallet unlocked")
)

// A ClientOption sets an optional parameter for the client.
type ClientOption func(*Client)

// WithCredentials sets the admin credentials used to obtain a bearer token.
func WithCredentials(username, password string) ClientOption {
	return func(c *Client) {
		c.username = username
		c.password = password
	}
}

// WithAddress sets the client's own address. It is the default sender of
// transfers.
func WithAddress(addr types.Address) ClientOption {
	return func(c *Client) {
		c.address = addr
	}
}

// WithLogger sets the logger used by the client.
func WithLogger(log *zap.Logger) ClientOption {
	return func(c *Client) {
		c.log = log
	}
}

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.hc = hc
	}
}

// A Client provides methods for interacting with a wallet daemon.
type Client struct {
	baseURL  string
	username string
	password string
	address  types.Address
	hc       *http.Client
	log      *zap.Logger

	mu    sync.Mutex
	token string
}

// Address returns the client's own address.
func (c *Client) Address() types.Address {
	return c.address
}

// Close releases idle connections held by the client.
func (c *Client) Close() error {
	c.hc.CloseIdleConnections()
	return nil
}

func (c *Client) bearerToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Client) setBearerToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Authenticate exchanges the admin credentials for a bearer token that is
// attached to every subsequent request.
func (c *Client) Authenticate(ctx context.Context) error {
	r := c.roundTrip(ctx, http.MethodPost, "/api/users/authenticate", AuthenticateRequest{
		Username: c.username,
		Password: c.password,
	}, false)
	if err := r.Err(); err != nil {
		return fmt.Errorf("failed to authenticate: %w", err)
	}

	var resp AuthenticateResponse
	if err := r.Decode(&resp); err != nil {
		return fmt.Errorf("failed to decode authentication response: %w", err)
	} else if resp.Token == "" {
		return errors.New("authentication response did not include a token")
	}
	c.setBearerToken(resp.Token)
	c.log.Debug("authenticated", zap.String("username", c.username))
	return nil
}

// Request performs an API request and returns the daemon's answer. It never
// returns an error: transport failures are reported as a Result with a zero
// status.
func (c *Client) Request(ctx context.Context, method, route string, payload any) Result {
	if c.username != "" && c.bearerToken() == "" {
		if err := c.Authenticate(ctx); err != nil {
			// the daemon will reject the request, surface that result
			c.log.Error("authentication failed", zap.Error(err))
		}
	}

	r := c.roundTrip(ctx, method, route, payload, true)
	if r.Status == http.StatusUnauthorized {
		// token expired or was revoked, authenticate again on the next call
		c.setBearerToken("")
	}
	return r
}

func (c *Client) roundTrip(ctx context.Context, method, route string, payload any, auth bool) Result {
	log := c.log.With(zap.String("method", method), zap.String("route", route))

	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			log.Error("failed to encode request", zap.Error(err))
			return Result{err: fmt.Errorf("failed to encode request: %w", err)}
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+route, body)
	if err != nil {
		log.Error("failed to create request", zap.Error(err))
		return Result{err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.bearerToken(); auth && token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		log.Error("request failed", zap.Error(err))
		return Result{err: err}
	}
	defer resp.Body.Close()

	buf, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		log.Error("failed to read response", zap.Int("status", resp.StatusCode), zap.Error(err))
		return Result{err: fmt.Errorf("failed to read response: %w", err)}
	}
	log.Info("API response", zap.Int("status", resp.StatusCode))

	buf = bytes.TrimSpace(buf)
	if len(buf) != 0 && !json.Valid(buf) {
		log.Debug("response is not JSON, returning raw text")
		buf, _ = json.Marshal(string(buf))
	}
	return Result{Status: resp.StatusCode, Data: buf}
}

func (c *Client) do(ctx context.Context, method, route string, req, resp any) error {
	r := c.Request(ctx, method, route, req)
	if err := r.Err(); err != nil {
		return err
	} else if err := r.Decode(resp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, route string, resp any) error {
	return c.do(ctx, http.MethodGet, route, nil, resp)
}

func (c *Client) post(ctx context.Context, route string, req, resp any) error {
	return c.do(ctx, http.MethodPost, route, req, resp)
}

func pageQuery(index, size, maxSize int) (string, error) {
	if size == 0 {
		size = maxSize
	}
	if index < 0 {
		return "", fmt.Errorf("%w: page index must be non-negative, got %d", ErrInvalidPage, index)
	} else if size < 1 || size > maxSize {
		return "", fmt.Errorf("%w: page size must be between 1 and %d, got %d", ErrInvalidPage, maxSize, size)
	}
	v := url.Values{}
	v.Set("pageIndex", fmt.Sprint(index))
	v.Set("pageSize", fmt.Sprint(size))
	return v.Encode(), nil
}

// AutoReceiverStatus returns the status of the daemon's auto-receiver.
func (c *Client) AutoReceiverStatus(ctx context.Context) (resp json.RawMessage, err error) {
	err = c.get(ctx, "/api/auto-receiver/status", &resp)
	return
}

// FuseQSR fuses QSR from the wallet address to generate plasma.
func (c *Client) FuseQSR(ctx context.Context, addr types.Address) (resp AccountBlock, err error) {
	err = c.post(ctx, fmt.Sprintf("/api/plasma/%s/fuse", url.PathEscape(addr.String())), nil, &resp)
	return
}

// CancelFusion cancels the fusion entry with the given id.
func (c *Client) CancelFusion(ctx context.Context, addr types.Address, idHash string) (resp AccountBlock, err error) {
	err = c.post(ctx, fmt.Sprintf("/api/plasma/%s/cancel", url.PathEscape(addr.String())), CancelFusionRequest{IDHash: idHash}, &resp)
	return
}

// AccountInfo returns the token balances of an address.
func (c *Client) AccountInfo(ctx context.Context, addr types.Address) (resp AccountInfo, err error) {
	err = c.get(ctx, fmt.Sprintf("/api/ledger/%s/balances", url.PathEscape(addr.String())), &resp)
	return
}

// ReceivedBlocks returns a page of the blocks received by an address. A
// zero size selects DefaultReceivedPageSize.
func (c *Client) ReceivedBlocks(ctx context.Context, addr types.Address, index, size int) (resp AccountBlockList, err error) {
	query, err := pageQuery(index, size, DefaultReceivedPageSize)
	if err != nil {
		return AccountBlockList{}, err
	}
	err = c.get(ctx, fmt.Sprintf("/api/ledger/%s/received?%s", url.PathEscape(addr.String()), query), &resp)
	return
}

// UnreceivedBlocks returns a page of the blocks sent to an address that
// have not been received yet. A zero size selects
// DefaultUnreceivedPageSize.
func (c *Client) UnreceivedBlocks(ctx context.Context, addr types.Address, index, size int) (resp AccountBlockList, err error) {
	query, err := pageQuery(index, size, DefaultUnreceivedPageSize)
	if err != nil {
		return AccountBlockList{}, err
	}
	err = c.get(ctx, fmt.Sprintf("/api/ledger/%s/unreceived?%s", url.PathEscape(addr.String()), query), &resp)
	return
}

// PlasmaInfo returns the plasma available to an address.
func (c *Client) PlasmaInfo(ctx context.Context, addr types.Address) (resp PlasmaInfo, err error) {
	err = c.get(ctx, fmt.Sprintf("/api/ledger/%s/plasma", url.PathEscape(addr.String())), &resp)
	return
}

// FusionEntries returns the fusion entries of an address.
func (c *Client) FusionEntries(ctx context.Context, addr types.Address) (resp FusionEntryList, err error) {
	err = c.get(ctx, fmt.Sprintf("/api/ledger/%s/fused", url.PathEscape(addr.String())), &resp)
	return
}

// Send submits a transfer. Unset fields take their documented defaults and
// the sender defaults to the client's address. The request is validated
// before anything is sent to the daemon.
func (c *Client) Send(ctx context.Context, tr types.TransferRequest) (resp AccountBlock, err error) {
	tr = tr.WithDefaults(c.address)
	if err := tr.Validate(); err != nil {
		return AccountBlock{}, fmt.Errorf("invalid transfer: %w", err)
	} else if tr.Sender == "" {
		return AccountBlock{}, fmt.Errorf("invalid transfer: %w: no sender and the client has no address", types.ErrInvalidAddress)
	}
	err = c.post(ctx, fmt.Sprintf("/api/transfer/%s/send", url.PathEscape(tr.Sender.String())), tr, &resp)
	return
}

// Receive receives an account block. It is only needed when the
// auto-receiver is disabled.
func (c *Client) Receive(ctx context.Context, addr types.Address, blockHash string) (resp AccountBlock, err error) {
	err = c.post(ctx, fmt.Sprintf("/api/transfer/%s/receive", url.PathEscape(addr.String())), ReceiveRequest{BlockHash: blockHash}, &resp)
	return
}

// WalletStatus returns the status of the wallet.
func (c *Client) WalletStatus(ctx context.Context) (resp WalletStatus, err error) {
	err = c.get(ctx, "/api/wallet/status", &resp)
	return
}

// WalletAccounts returns the accounts of the wallet.
func (c *Client) WalletAccounts(ctx context.Context) (resp WalletAccountList, err error) {
	err = c.get(ctx, "/api/wallet/accounts", &resp)
	return
}

// AddWalletAccounts derives new accounts in the wallet. The wallet must be
// initialized and unlocked.
func (c *Client) AddWalletAccounts(ctx context.Context) (resp json.RawMessage, err error) {
	err = c.post(ctx, "/api/wallet/accounts", nil, &resp)
	return
}

// InitWallet creates a new encrypted wallet with a random seed and returns
// its mnemonic.
func (c *Client) InitWallet(ctx context.Context, password string) (resp WalletInitResponse, err error) {
	err = c.post(ctx, "/api/wallet/init", WalletPasswordRequest{Password: password}, &resp)
	return
}

// RestoreWallet restores an existing wallet from its mnemonic.
func (c *Client) RestoreWallet(ctx context.Context, password, mnemonic string) error {
	return c.post(ctx, "/api/wallet/restore", WalletRestoreRequest{Password: password, Mnemonic: mnemonic}, nil)
}

// LockWallet locks the wallet.
func (c *Client) LockWallet(ctx context.Context) error {
	return c.post(ctx, "/api/wallet/lock", nil, nil)
}

// UnlockWallet unlocks the wallet.
func (c *Client) UnlockWallet(ctx context.Context, password string) error {
	return c.post(ctx, "/api/wallet/unlock", WalletPasswordRequest{Password: password}, nil)
}

// CheckUnlockedAccount checks that the first account of the unlocked wallet
// is the client's address.
func (c *Client) CheckUnlockedAccount(ctx context.Context) error {
	accounts, err := c.WalletAccounts(ctx)
	if err != nil {
		return fmt.Errorf("failed to get wallet accounts: %w", err)
	} else if len(accounts.List) == 0 {
		return ErrNoAccounts
	} else if first := types.Address(accounts.List[0].Address); first != c.address {
		return fmt.Errorf("%w: got %q, expected %q", ErrWrongWallet, first, c.address)
	}
	return nil
}

// PlasmaBotFuse asks the plasma-bot to fuse QSR for an address. A nil error
// means the request was accepted, not that plasma is available yet.
func (c *Client) PlasmaBotFuse(ctx context.Context, addr types.Address) (resp json.RawMessage, err error) {
	err = c.post(ctx, "/api/utilities/plasma-bot/fuse", PlasmaBotFuseRequest{Address: addr}, &resp)
	return
}

// FusionExpiration returns when the plasma-bot fusion for an address
// expires.
func (c *Client) FusionExpiration(ctx context.Context, addr types.Address) (resp json.RawMessage, err error) {
	err = c.get(ctx, fmt.Sprintf("/api/utilities/plasma-bot/expiration/%s", url.PathEscape(addr.String())), &resp)
	return
}

// ValidateAddress asks the daemon to validate an address.
func (c *Client) ValidateAddress(ctx context.Context, addr string) (resp json.RawMessage, err error) {
	err = c.post(ctx, "/api/utilities/address/validate?address="+url.QueryEscape(addr), nil, &resp)
	return
}

// NewClient returns a client that communicates with a wallet daemon
// listening at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		hc:      &http.Client{},
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}
