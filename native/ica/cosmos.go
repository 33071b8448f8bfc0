package ica

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// Coin is a denominated amount in host chain JSON form.
type Coin struct {
	Denom  string  `json:"denom"`
	Amount Uint128 `json:"amount"`
}

// NewCoin builds a coin from a copy of amount.
func NewCoin(denom string, amount *uint256.Int) Coin {
	return Coin{Denom: denom, Amount: NewUint128(amount)}
}

// Coins is an ordered coin list. A nil list marshals as [].
type Coins []Coin

func (c Coins) MarshalJSON() ([]byte, error) {
	if c == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]Coin(c))
}

// String renders "<amount><denom>" pairs joined by commas.
func (c Coins) String() string {
	parts := make([]string, 0, len(c))
	for _, coin := range c {
		parts = append(parts, coin.Amount.String()+coin.Denom)
	}
	return strings.Join(parts, ",")
}

// CosmosMsg is the remote-executable message union. Only the wasm arm is used
// by the vault.
type CosmosMsg struct {
	Wasm *WasmMsg `json:"wasm,omitempty"`
}

// WasmMsg targets a contract on the chain that executes it.
type WasmMsg struct {
	Execute      *WasmExecute      `json:"execute,omitempty"`
	Instantiate2 *WasmInstantiate2 `json:"instantiate2,omitempty"`
}

// WasmExecute calls a contract with a JSON message and attached funds.
type WasmExecute struct {
	ContractAddr string `json:"contract_addr"`
	Msg          []byte `json:"msg"`
	Funds        Coins  `json:"funds"`
}

// WasmInstantiate2 creates a contract at a predictable address.
type WasmInstantiate2 struct {
	Admin  *string `json:"admin"`
	CodeID uint64  `json:"code_id"`
	Label  string  `json:"label"`
	Msg    []byte  `json:"msg"`
	Funds  Coins   `json:"funds"`
	Salt   []byte  `json:"salt"`
}

// Target returns the address the message is directed at; empty for
// instantiation which creates its target.
func (m WasmMsg) Target() string {
	if m.Execute != nil {
		return m.Execute.ContractAddr
	}
	return ""
}

// Kind names the populated variant.
func (m WasmMsg) Kind() string {
	switch {
	case m.Execute != nil:
		return "execute"
	case m.Instantiate2 != nil:
		return "instantiate2"
	default:
		return "unknown"
	}
}

// NewWasmExecute JSON-encodes msg and wraps it in an execute message.
func NewWasmExecute(contract string, msg interface{}, funds Coins) (WasmMsg, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return WasmMsg{}, fmt.Errorf("encode execute msg for %s: %w", contract, err)
	}
	return WasmMsg{Execute: &WasmExecute{ContractAddr: contract, Msg: raw, Funds: funds}}, nil
}

// QueryRequest is a read-only remote query.
type QueryRequest struct {
	Wasm *WasmQuery `json:"wasm,omitempty"`
	Bank *BankQuery `json:"bank,omitempty"`
}

// WasmQuery is a smart contract query.
type WasmQuery struct {
	Smart *SmartQuery `json:"smart,omitempty"`
}

// SmartQuery carries a JSON query for contract_addr.
type SmartQuery struct {
	ContractAddr string `json:"contract_addr"`
	Msg          []byte `json:"msg"`
}

// BankQuery reads native balances.
type BankQuery struct {
	Balance *BalanceQuery `json:"balance,omitempty"`
}

// BalanceQuery asks for the balance of denom held by address.
type BalanceQuery struct {
	Address string `json:"address"`
	Denom   string `json:"denom"`
}

// NewSmartQuery JSON-encodes msg into a smart query request.
func NewSmartQuery(contract string, msg interface{}) (QueryRequest, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return QueryRequest{}, fmt.Errorf("encode query msg for %s: %w", contract, err)
	}
	return QueryRequest{Wasm: &WasmQuery{Smart: &SmartQuery{ContractAddr: contract, Msg: raw}}}, nil
}
