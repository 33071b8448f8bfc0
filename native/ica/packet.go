package ica

import (
	"encoding/json"
	"fmt"
)

// Endpoint identifies one side of a channel.
type Endpoint struct {
	PortID    string `json:"port_id"`
	ChannelID string `json:"channel_id"`
}

// TimeoutBlock is a height based packet timeout.
type TimeoutBlock struct {
	Revision uint64 `json:"revision"`
	Height   uint64 `json:"height"`
}

// Timeout is the packet timeout; either or both fields may be set.
type Timeout struct {
	Block     *TimeoutBlock `json:"block,omitempty"`
	Timestamp *string       `json:"timestamp,omitempty"`
}

// Packet is a relayed channel packet as handed back to the vault in callbacks.
// Data holds the bytes the controller sent, untouched by the transport.
type Packet struct {
	Data     []byte   `json:"data"`
	Src      Endpoint `json:"src"`
	Dest     Endpoint `json:"dest"`
	Sequence uint64   `json:"sequence"`
	Timeout  Timeout  `json:"timeout"`
}

// PacketData is the structured payload of a controller packet.
type PacketData struct {
	Messages   []CosmosMsg    `json:"messages"`
	Queries    []QueryRequest `json:"queries"`
	PacketMemo *string        `json:"packet_memo,omitempty"`
}

// ExtractMemo decodes the packet payload and returns the memo it carries. A
// payload that does not decode is ErrDecodePacket, never an absent memo.
func ExtractMemo(packet Packet) (*string, error) {
	if len(packet.Data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrDecodePacket)
	}
	var data PacketData
	if err := json.Unmarshal(packet.Data, &data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodePacket, err)
	}
	if data.Messages == nil {
		return nil, fmt.Errorf("%w: messages field missing", ErrDecodePacket)
	}
	return data.PacketMemo, nil
}
