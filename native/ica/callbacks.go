package ica

import (
	"encoding/json"
	"fmt"

	"github.com/holiman/uint256"
)

// CallbackMsg is the union the controller sends back once the transport has
// resolved a channel event.
type CallbackMsg struct {
	OnChannelOpenAck  *ChannelOpenAck  `json:"on_channel_open_ack_callback,omitempty"`
	OnAcknowledgement *Acknowledgement `json:"on_acknowledgement_packet_callback,omitempty"`
	OnTimeout         *PacketTimeout   `json:"on_timeout_packet_callback,omitempty"`
}

// Kind names the populated variant and fails unless exactly one is set.
func (m CallbackMsg) Kind() (string, error) {
	kinds := make([]string, 0, 1)
	if m.OnChannelOpenAck != nil {
		kinds = append(kinds, "channel_open_ack")
	}
	if m.OnAcknowledgement != nil {
		kinds = append(kinds, "acknowledgement")
	}
	if m.OnTimeout != nil {
		kinds = append(kinds, "timeout")
	}
	if len(kinds) != 1 {
		return "", fmt.Errorf("%w: callback sets %d variants", ErrAmbiguousUnionType, len(kinds))
	}
	return kinds[0], nil
}

// Channel describes an opened channel.
type Channel struct {
	Endpoint             Endpoint `json:"endpoint"`
	CounterpartyEndpoint Endpoint `json:"counterparty_endpoint"`
	Order                string   `json:"order"`
	Version              string   `json:"version"`
	ConnectionID         string   `json:"connection_id"`
}

// ChannelOpenAck reports a completed channel handshake.
type ChannelOpenAck struct {
	Channel    Channel `json:"channel"`
	IcaAddress string  `json:"ica_address"`
	TxEncoding string  `json:"tx_encoding"`
}

// AckData is the remote chain's acknowledgement payload.
type AckData struct {
	Result []byte  `json:"result,omitempty"`
	Error  *string `json:"error,omitempty"`
}

// Acknowledgement resolves a dispatched packet.
type Acknowledgement struct {
	IcaAcknowledgement AckData      `json:"ica_acknowledgement"`
	OriginalPacket     Packet       `json:"original_packet"`
	Relayer            string       `json:"relayer"`
	QueryResult        *QueryResult `json:"query_result,omitempty"`
}

// PacketTimeout reports that a dispatched packet was never delivered.
type PacketTimeout struct {
	OriginalPacket Packet `json:"original_packet"`
	Relayer        string `json:"relayer"`
}

// QueryResult is the outcome of the query batch attached to a packet.
type QueryResult struct {
	Success *QuerySuccess `json:"success,omitempty"`
	Error   *string       `json:"error,omitempty"`
}

// QuerySuccess carries one response per dispatched query, in order.
type QuerySuccess struct {
	Height    uint64          `json:"height"`
	Responses []QueryResponse `json:"responses"`
}

// QueryResponse is the union of supported remote query answers.
type QueryResponse struct {
	Bank *BankQueryResponse `json:"bank,omitempty"`
	Wasm *WasmQueryResponse `json:"wasm,omitempty"`
}

// BankQueryResponse answers a bank query.
type BankQueryResponse struct {
	Balance *BalanceResponse `json:"balance,omitempty"`
}

// BalanceResponse is a single-denom balance.
type BalanceResponse struct {
	Amount Coin `json:"amount"`
}

// WasmQueryResponse answers a wasm query.
type WasmQueryResponse struct {
	SmartContractState *SmartContractState `json:"smart_contract_state,omitempty"`
}

// SmartContractState carries the raw JSON answer of a smart query.
type SmartContractState struct {
	Data []byte `json:"data"`
}

// ObservedValue extracts the amount of denom reported by the response. A bank
// balance in another denom reports zero; a smart response is read as a credit
// account positions payload and sums its deposits and lends in denom.
func (r QueryResponse) ObservedValue(denom string) (*uint256.Int, error) {
	switch {
	case r.Bank != nil && r.Bank.Balance != nil:
		if r.Bank.Balance.Amount.Denom != denom {
			return new(uint256.Int), nil
		}
		return r.Bank.Balance.Amount.Amount.Value(), nil
	case r.Wasm != nil && r.Wasm.SmartContractState != nil:
		var positions Positions
		if err := json.Unmarshal(r.Wasm.SmartContractState.Data, &positions); err != nil {
			return nil, fmt.Errorf("%w: positions: %v", ErrDecodeQueryResult, err)
		}
		return positions.Value(denom)
	default:
		return nil, fmt.Errorf("%w: unsupported response variant", ErrDecodeQueryResult)
	}
}
