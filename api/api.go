package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"go.zenon.tools/znnwallet/types"
)

// A Result is the envelope returned by every call to the wallet daemon. A
// zero Status means the request never completed.
type Result struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`

	err error // transport error, only set when Status is zero
}

// OK returns true if the daemon answered with 200 OK.
func (r Result) OK() bool { return r.Status == http.StatusOK }

// Err returns nil if the result is OK, otherwise an *Error describing it.
func (r Result) Err() error {
	if r.OK() {
		return nil
	} else if r.Status == 0 {
		msg := "no response"
		if r.err != nil {
			msg = r.err.Error()
		}
		return &Error{Message: msg}
	}
	msg := strings.TrimSpace(string(r.Data))
	var s string
	if json.Unmarshal(r.Data, &s) == nil {
		msg = s
	}
	return &Error{Status: r.Status, Message: msg}
}

// Decode unmarshals the result data into v.
func (r Result) Decode(v any) error {
	if v == nil || len(r.Data) == 0 {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// An Error is returned by the typed client methods when the daemon did not
// answer with 200 OK. Status is zero for transport failures.
type Error struct {
	Status  int
	Message string
}

// Error implements error.
func (e *Error) Error() string {
	if e.Status == 0 {
		return "transport failure: " + e.Message
	}
	return fmt.Sprintf("%d %s: %s", e.Status, http.StatusText(e.Status), e.Message)
}

// AuthenticateRequest is the request type for /users/authenticate.
type AuthenticateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthenticateResponse is the response type for /users/authenticate.
type AuthenticateResponse struct {
	Token string `json:"token"`
}

// PlasmaInfo is the response type for /ledger/:address/plasma.
type PlasmaInfo struct {
	CurrentPlasma uint64 `json:"currentPlasma"`
	MaxPlasma     uint64 `json:"maxPlasma"`
	QsrAmount     string `json:"qsrAmount"`
}

// HasPlasma returns true if the address has plasma available.
func (p PlasmaInfo) HasPlasma() bool { return p.CurrentPlasma > 0 }

// A Token describes a token on the ledger.
type Token struct {
	Name          string              `json:"name"`
	Symbol        string              `json:"symbol"`
	Domain        string              `json:"domain"`
	TotalSupply   string              `json:"totalSupply"`
	MaxSupply     string              `json:"maxSupply"`
	Decimals      uint8               `json:"decimals"`
	Owner         string              `json:"owner"`
	TokenStandard types.TokenStandard `json:"tokenStandard"`
	IsBurnable    bool                `json:"isBurnable"`
	IsMintable    bool                `json:"isMintable"`
	IsUtility     bool                `json:"isUtility"`
}

// BalanceInfo is the balance of a single token.
type BalanceInfo struct {
	Token   Token  `json:"token"`
	Balance string `json:"balance"`
}

// DisplayBalance returns the balance in display units.
func (bi BalanceInfo) DisplayBalance() (decimal.Decimal, error) {
	return types.FormatBalance(bi.Balance, bi.Token.Decimals)
}

// AccountInfo is the response type for /ledger/:address/balances.
type AccountInfo struct {
	Address        string                              `json:"address"`
	AccountHeight  uint64                              `json:"accountHeight"`
	BalanceInfoMap map[types.TokenStandard]BalanceInfo `json:"balanceInfoMap"`
}

// An AccountBlock is a block on an account chain.
type AccountBlock struct {
	Hash          string              `json:"hash"`
	Height        uint64              `json:"height"`
	Address       string              `json:"address"`
	ToAddress     string              `json:"toAddress"`
	Amount        string              `json:"amount"`
	TokenStandard types.TokenStandard `json:"tokenStandard"`
	FromBlockHash string              `json:"fromBlockHash,omitempty"`
}

// AccountBlockList is a page of account blocks.
type AccountBlockList struct {
	List  []AccountBlock `json:"list"`
	Count int            `json:"count"`
	More  bool           `json:"more"`
}

// A FusionEntry is a single QSR fusion.
type FusionEntry struct {
	ID               string `json:"id"`
	QsrAmount        string `json:"qsrAmount"`
	Beneficiary      string `json:"beneficiary"`
	ExpirationHeight uint64 `json:"expirationHeight"`
	IsRevocable      bool   `json:"isRevocable"`
}

// FusionEntryList is the response type for /ledger/:address/fused.
type FusionEntryList struct {
	QsrAmount string        `json:"qsrAmount"`
	Count     int           `json:"count"`
	List      []FusionEntry `json:"list"`
}

// CancelFusionRequest is the request type for /plasma/:address/cancel.
type CancelFusionRequest struct {
	IDHash string `json:"idHash"`
}

// ReceiveRequest is the request type for /transfer/:address/receive.
type ReceiveRequest struct {
	BlockHash string `json:"blockHash"`
}

// WalletStatus is the response type for /wallet/status.
type WalletStatus struct {
	IsInitialized bool `json:"isInitialized"`
	IsUnlocked    bool `json:"isUnlocked"`
}

// A WalletAccount is an account held by the wallet.
type WalletAccount struct {
	Index   int    `json:"index"`
	Address string `json:"address"`
}

// WalletAccountList is the response type for /wallet/accounts.
type WalletAccountList struct {
	List  []WalletAccount `json:"list"`
	Count int             `json:"count"`
}

// WalletPasswordRequest is the request type for /wallet/init and
// /wallet/unlock.
type WalletPasswordRequest struct {
	Password string `json:"password"`
}

// WalletRestoreRequest is the request type for /wallet/restore.
type WalletRestoreRequest struct {
	Password string `json:"password"`
	Mnemonic string `json:"mnemonic"`
}

// WalletInitResponse is the response type for /wallet/init.
type WalletInitResponse struct {
	Mnemonic string `json:"mnemonic"`
}

// PlasmaBotFuseRequest is the request type for /utilities/plasma-bot/fuse.
type PlasmaBotFuseRequest struct {
	Address types.Address `json:"address"`
}
