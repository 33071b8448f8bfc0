package ica

import (
	"encoding/json"
	"fmt"
)

// ChannelOrdering mirrors the IBC channel order names used by the controller.
type ChannelOrdering string

const (
	OrderOrdered   ChannelOrdering = "ORDER_ORDERED"
	OrderUnordered ChannelOrdering = "ORDER_UNORDERED"
)

// ChannelOpenInitOptions are the channel parameters fixed when a controller
// is created.
type ChannelOpenInitOptions struct {
	ConnectionID             string          `json:"connection_id" yaml:"connection_id"`
	CounterpartyConnectionID string          `json:"counterparty_connection_id" yaml:"counterparty_connection_id"`
	CounterpartyPortID       string          `json:"counterparty_port_id,omitempty" yaml:"counterparty_port_id"`
	ChannelOrdering          ChannelOrdering `json:"channel_ordering,omitempty" yaml:"channel_ordering"`
}

// Validate checks the required connection identifiers and the ordering name.
func (o ChannelOpenInitOptions) Validate() error {
	if o.ConnectionID == "" {
		return fmt.Errorf("channel options: connection_id required")
	}
	if o.CounterpartyConnectionID == "" {
		return fmt.Errorf("channel options: counterparty_connection_id required")
	}
	switch o.ChannelOrdering {
	case "", OrderOrdered, OrderUnordered:
		return nil
	default:
		return fmt.Errorf("channel options: unknown channel_ordering %q", o.ChannelOrdering)
	}
}

// ControllerInstantiateMsg initialises an ICA controller contract.
type ControllerInstantiateMsg struct {
	Owner                  *string                `json:"owner"`
	ChannelOpenInitOptions ChannelOpenInitOptions `json:"channel_open_init_options"`
	SendCallbacksTo        *string                `json:"send_callbacks_to"`
}

// ControllerExecuteMsg is the controller's execute union.
type ControllerExecuteMsg struct {
	SendCosmosMsgs *SendCosmosMsgs `json:"send_cosmos_msgs,omitempty"`
	CreateChannel  *CreateChannel  `json:"create_channel,omitempty"`
	CloseChannel   *CloseChannel   `json:"close_channel,omitempty"`
}

// SendCosmosMsgs asks the controller to relay messages and queries to its
// interchain account.
type SendCosmosMsgs struct {
	Messages       []CosmosMsg    `json:"messages"`
	Queries        []QueryRequest `json:"queries"`
	PacketMemo     *string        `json:"packet_memo"`
	TimeoutSeconds *uint64        `json:"timeout_seconds"`
}

// CreateChannel re-opens the controller channel, optionally with new options.
type CreateChannel struct {
	ChannelOpenInitOptions *ChannelOpenInitOptions `json:"channel_open_init_options"`
}

// CloseChannel closes the controller channel.
type CloseChannel struct{}

// OutboundPacket is one command for the remote chain, addressed to the local
// controller that owns the channel.
type OutboundPacket struct {
	Controller string
	Msg        SendCosmosMsgs
}

// BuildCommandPacket batches remote messages and queries with an optional
// correlation memo. Query-only commands pass an empty message list.
func BuildCommandPacket(controller string, memo *string, messages []CosmosMsg, queries []QueryRequest) OutboundPacket {
	if messages == nil {
		messages = []CosmosMsg{}
	}
	if queries == nil {
		queries = []QueryRequest{}
	}
	var carried *string
	if memo != nil {
		value := *memo
		carried = &value
	}
	return OutboundPacket{
		Controller: controller,
		Msg: SendCosmosMsgs{
			Messages:   messages,
			Queries:    queries,
			PacketMemo: carried,
		},
	}
}

// WasmMsg renders the packet as an execute message against its controller.
func (p OutboundPacket) WasmMsg() (WasmMsg, error) {
	return NewWasmExecute(p.Controller, ControllerExecuteMsg{SendCosmosMsgs: &p.Msg}, nil)
}

// PacketData is what the controller puts on the wire for a SendCosmosMsgs
// command. The original packet handed back in callbacks carries it as Data.
func (p OutboundPacket) PacketData() PacketData {
	return PacketData{Messages: p.Msg.Messages, Queries: p.Msg.Queries, PacketMemo: p.Msg.PacketMemo}
}

// EncodePacketData marshals p as the controller would.
func EncodePacketData(p PacketData) ([]byte, error) {
	return json.Marshal(p)
}

// NewCreateChannelMsg builds the controller execute that opens a channel with
// the options stored at instantiation.
func NewCreateChannelMsg(controller string) (WasmMsg, error) {
	return NewWasmExecute(controller, ControllerExecuteMsg{CreateChannel: &CreateChannel{}}, nil)
}

// NewCloseChannelMsg builds the controller execute that closes its channel.
func NewCloseChannelMsg(controller string) (WasmMsg, error) {
	return NewWasmExecute(controller, ControllerExecuteMsg{CloseChannel: &CloseChannel{}}, nil)
}
