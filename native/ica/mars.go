package ica

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Credit manager messages of the remote lending protocol.

// CreditManagerExecuteMsg is the subset of the credit manager execute union the
// vault sends.
type CreditManagerExecuteMsg struct {
	UpdateCreditAccount *UpdateCreditAccount `json:"update_credit_account,omitempty"`
}

// UpdateCreditAccount applies actions to a credit account. A nil account id
// asks the credit manager to open a new account.
type UpdateCreditAccount struct {
	AccountID   *string        `json:"account_id"`
	AccountKind *string        `json:"account_kind"`
	Actions     []CreditAction `json:"actions"`
}

// CreditAction is one step of an account update.
type CreditAction struct {
	Deposit *Coin       `json:"deposit,omitempty"`
	Lend    *ActionCoin `json:"lend,omitempty"`
	Reclaim *ActionCoin `json:"reclaim,omitempty"`
}

// ActionCoin is a coin whose amount may be exact or the whole balance.
type ActionCoin struct {
	Denom  string       `json:"denom"`
	Amount ActionAmount `json:"amount"`
}

// ActionAmount selects an exact amount. The account_balance arm is not used.
type ActionAmount struct {
	Exact *Uint128 `json:"exact,omitempty"`
}

// ExactActionCoin builds an ActionCoin for exactly amount of denom.
func ExactActionCoin(denom string, amount *uint256.Int) ActionCoin {
	exact := NewUint128(amount)
	return ActionCoin{Denom: denom, Amount: ActionAmount{Exact: &exact}}
}

// DepositAndLend deposits coin into the account and lends the same amount.
func DepositAndLend(coin Coin) []CreditAction {
	deposit := coin
	lend := ExactActionCoin(coin.Denom, coin.Amount.Value())
	return []CreditAction{{Deposit: &deposit}, {Lend: &lend}}
}

// NewUpdateCreditAccountMsg builds the remote execute against the credit
// manager at custodian.
func NewUpdateCreditAccountMsg(custodian string, accountID *string, actions []CreditAction, funds Coins) (CosmosMsg, error) {
	var id *string
	if accountID != nil {
		value := *accountID
		id = &value
	}
	msg := CreditManagerExecuteMsg{UpdateCreditAccount: &UpdateCreditAccount{
		AccountID: id,
		Actions:   actions,
	}}
	wasm, err := NewWasmExecute(custodian, msg, funds)
	if err != nil {
		return CosmosMsg{}, err
	}
	return CosmosMsg{Wasm: &wasm}, nil
}

// CreditManagerQueryMsg is the subset of credit manager queries the vault
// issues.
type CreditManagerQueryMsg struct {
	Positions *PositionsQuery `json:"positions,omitempty"`
}

// PositionsQuery asks for the positions of one credit account.
type PositionsQuery struct {
	AccountID string `json:"account_id"`
}

// NewPositionsQuery builds the smart query for accountID at custodian.
func NewPositionsQuery(custodian, accountID string) (QueryRequest, error) {
	return NewSmartQuery(custodian, CreditManagerQueryMsg{Positions: &PositionsQuery{AccountID: accountID}})
}

// Positions is the credit manager's positions answer. Unused position kinds
// are ignored while decoding.
type Positions struct {
	AccountID string `json:"account_id"`
	Deposits  []Coin `json:"deposits"`
	Lends     []Coin `json:"lends"`
}

// Value sums deposits and lends in denom.
func (p Positions) Value(denom string) (*uint256.Int, error) {
	total := new(uint256.Int)
	for _, list := range [][]Coin{p.Deposits, p.Lends} {
		for _, coin := range list {
			if coin.Denom != denom {
				continue
			}
			if _, overflow := total.AddOverflow(total, coin.Amount.Value()); overflow {
				return nil, fmt.Errorf("%w: positions overflow", ErrDecodeQueryResult)
			}
		}
	}
	return total, nil
}
