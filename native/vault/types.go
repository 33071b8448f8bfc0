package vault

import (
	"fmt"
	"time"

	"icavault/native/ica"
)

// AddressAPI validates and converts host chain addresses.
type AddressAPI interface {
	ValidateAddress(addr string) error
	Canonicalize(addr string) ([]byte, error)
	Humanize(canonical []byte) (string, error)
}

// CodeQuerier resolves stored code metadata on the host chain.
type CodeQuerier interface {
	CodeChecksum(codeID uint64) ([]byte, error)
}

// Env describes the block and contract a command executes in.
type Env struct {
	ContractAddress string
	BlockHeight     uint64
	BlockTime       time.Time
}

// MessageInfo carries the command sender and the funds attached to it.
type MessageInfo struct {
	Sender string
	Funds  ica.Coins
}

// InstantiateMsg creates the vault and one controller per outpost.
type InstantiateMsg struct {
	Owner            string          `json:"owner" yaml:"owner"`
	Outposts         []OutpostConfig `json:"outposts" yaml:"outposts"`
	ControllerCodeID uint64          `json:"cw_ica_controller_code_id" yaml:"cw_ica_controller_code_id"`
}

// OutpostConfig declares an outpost at instantiation. The controller address
// is derived, never supplied.
type OutpostConfig struct {
	CustodianAddress string                     `json:"custodian_address" yaml:"custodian_address"`
	ChannelOptions   ica.ChannelOpenInitOptions `json:"channel_open_init_options" yaml:"channel_open_init_options"`
	AccountID        *string                    `json:"account_id,omitempty" yaml:"account_id,omitempty"`
}

// ExecuteMsg is the command union accepted by the vault. Exactly one field
// must be set.
type ExecuteMsg struct {
	Deposit            *DepositMsg      `json:"deposit,omitempty"`
	Withdraw           *WithdrawMsg     `json:"withdraw,omitempty"`
	CreateVault        *struct{}        `json:"create_vault,omitempty"`
	CreateChannel      *ChannelMsg      `json:"create_channel,omitempty"`
	CloseChannel       *ChannelMsg      `json:"close_channel,omitempty"`
	MoveFunds          *MoveFundsMsg    `json:"move_funds,omitempty"`
	ReceiveIcaCallback *ica.CallbackMsg `json:"receive_ica_callback,omitempty"`
	UpdateConfig       *UpdateConfigMsg `json:"update_config,omitempty"`
}

// Command kinds reported by ExecuteMsg.Kind.
const (
	KindDeposit       = "deposit"
	KindWithdraw      = "withdraw"
	KindCreateVault   = "create_vault"
	KindCreateChannel = "create_channel"
	KindCloseChannel  = "close_channel"
	KindMoveFunds     = "move_funds"
	KindCallback      = "receive_ica_callback"
	KindUpdateConfig  = "update_config"
)

// Kind names the populated command and fails unless exactly one is set.
func (m ExecuteMsg) Kind() (string, error) {
	var kinds []string
	add := func(set bool, kind string) {
		if set {
			kinds = append(kinds, kind)
		}
	}
	add(m.Deposit != nil, KindDeposit)
	add(m.Withdraw != nil, KindWithdraw)
	add(m.CreateVault != nil, KindCreateVault)
	add(m.CreateChannel != nil, KindCreateChannel)
	add(m.CloseChannel != nil, KindCloseChannel)
	add(m.MoveFunds != nil, KindMoveFunds)
	add(m.ReceiveIcaCallback != nil, KindCallback)
	add(m.UpdateConfig != nil, KindUpdateConfig)
	if len(kinds) != 1 {
		return "", fmt.Errorf("%w: expected exactly one command, got %d", ErrInvalidMessage, len(kinds))
	}
	return kinds[0], nil
}

// DepositMsg routes the attached coin to the outpost keyed by Destination.
type DepositMsg struct {
	Destination string `json:"destination"`
}

// WithdrawMsg requests redemption of Amount.
type WithdrawMsg struct {
	Amount ica.Uint128 `json:"amount"`
}

// ChannelMsg targets one outpost, or every outpost when Destination is empty.
type ChannelMsg struct {
	Destination string `json:"destination,omitempty"`
}

// MoveDirection selects whether idle funds are lent or lent funds reclaimed.
type MoveDirection string

const (
	MoveOn  MoveDirection = "on"
	MoveOff MoveDirection = "off"
)

// MoveFundsMsg shifts funds inside the credit account of Chain.
type MoveFundsMsg struct {
	Action MoveDirection `json:"action"`
	Denom  string        `json:"denom"`
	Amount ica.Uint128   `json:"amount"`
	Chain  string        `json:"chain"`
}

// UpdateConfigMsg carries a configuration patch.
type UpdateConfigMsg struct {
	Config ConfigUpdate `json:"config"`
}

// QueryMsg is the read-only query union.
type QueryMsg struct {
	Config   *struct{}      `json:"config,omitempty"`
	State    *struct{}      `json:"state,omitempty"`
	Receipts *ReceiptsQuery `json:"receipts,omitempty"`
}

// ReceiptsQuery asks for the virtual receipt balance of Address.
type ReceiptsQuery struct {
	Address string `json:"address"`
}

// ConfigResponse is the public view of Config.
type ConfigResponse struct {
	Owner            string    `json:"owner"`
	Outposts         []Outpost `json:"outposts"`
	ControllerCodeID uint64    `json:"cw_ica_controller_code_id"`
}

// StateResponse is the public view of PoolState.
type StateResponse struct {
	TotalValue     ica.Uint128 `json:"total_value"`
	TotalShares    ica.Uint128 `json:"total_shares"`
	RedemptionRate string      `json:"redemption_rate"`
}

// ReceiptsResponse reports a virtual receipt balance.
type ReceiptsResponse struct {
	Address string      `json:"address"`
	Amount  ica.Uint128 `json:"amount"`
}

// Response is the outcome of a successful command: remote messages for the
// transport plus attributes describing what happened.
type Response struct {
	Messages   []ica.WasmMsg `json:"messages"`
	Attributes []Attribute   `json:"attributes"`
}

// Attribute is one key/value pair of a response.
type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func newResponse(method string) *Response {
	return &Response{Attributes: []Attribute{{Key: "method", Value: method}}}
}

func (r *Response) addAttribute(key, value string) *Response {
	r.Attributes = append(r.Attributes, Attribute{Key: key, Value: value})
	return r
}

func (r *Response) addMessage(msg ica.WasmMsg) *Response {
	r.Messages = append(r.Messages, msg)
	return r
}

// Attribute returns the first value stored under key.
func (r *Response) Attribute(key string) (string, bool) {
	if r == nil {
		return "", false
	}
	for _, attr := range r.Attributes {
		if attr.Key == key {
			return attr.Value, true
		}
	}
	return "", false
}
