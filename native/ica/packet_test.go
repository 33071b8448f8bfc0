package ica

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/holiman/uint256"
)

func TestExtractPacketMemo(t *testing.T) {
	memo := "test_memo"
	data, err := EncodePacketData(PacketData{Messages: []CosmosMsg{}, Queries: []QueryRequest{}, PacketMemo: &memo})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	packet := Packet{
		Data:     data,
		Src:      Endpoint{PortID: "port", ChannelID: "channel"},
		Dest:     Endpoint{PortID: "port", ChannelID: "channel"},
		Sequence: 1,
		Timeout:  Timeout{Block: &TimeoutBlock{Revision: 1, Height: 1}},
	}
	got, err := ExtractMemo(packet)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if got == nil || *got != memo {
		t.Fatalf("expected %q, got %v", memo, got)
	}
}

func TestExtractMemoAbsentAndMalformed(t *testing.T) {
	got, err := ExtractMemo(Packet{Data: []byte(`{"messages":[]}`)})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if got != nil {
		t.Fatalf("expected absent memo, got %q", *got)
	}

	for name, data := range map[string]string{
		"not json":         "deposit/a/b/1/c",
		"missing messages": `{"packet_memo":"deposit/a/b/1/c"}`,
		"wrong type":       `{"messages":{},"packet_memo":"x"}`,
		"empty":            "",
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := ExtractMemo(Packet{Data: []byte(data)}); !errors.Is(err, ErrDecodePacket) {
				t.Fatalf("expected ErrDecodePacket, got %v", err)
			}
		})
	}
}

func TestBuildCommandPacketWireShape(t *testing.T) {
	query, err := NewPositionsQuery("kujira1credit", "42")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	memo := "deposit/userX/uusd/5/kujira1credit"
	packet := BuildCommandPacket("kujira1ctrl", &memo, nil, []QueryRequest{query})
	memo = "mutated"
	if packet.Msg.PacketMemo == nil || *packet.Msg.PacketMemo != "deposit/userX/uusd/5/kujira1credit" {
		t.Fatalf("packet must copy the memo")
	}
	if len(packet.Msg.Messages) != 0 {
		t.Fatalf("query-only packet must carry no messages")
	}

	wasm, err := packet.WasmMsg()
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if wasm.Target() != "kujira1ctrl" || wasm.Kind() != "execute" {
		t.Fatalf("unexpected target %q kind %q", wasm.Target(), wasm.Kind())
	}
	var decoded struct {
		SendCosmosMsgs struct {
			Messages   []json.RawMessage `json:"messages"`
			Queries    []json.RawMessage `json:"queries"`
			PacketMemo string            `json:"packet_memo"`
		} `json:"send_cosmos_msgs"`
	}
	if err := json.Unmarshal(wasm.Execute.Msg, &decoded); err != nil {
		t.Fatalf("decode controller msg: %v", err)
	}
	if decoded.SendCosmosMsgs.Messages == nil || len(decoded.SendCosmosMsgs.Messages) != 0 {
		t.Fatalf("expected empty message list, got %v", decoded.SendCosmosMsgs.Messages)
	}
	if len(decoded.SendCosmosMsgs.Queries) != 1 {
		t.Fatalf("expected one query, got %d", len(decoded.SendCosmosMsgs.Queries))
	}

	// The controller relays the same payload, so the memo survives a trip
	// through the packet data.
	data, err := EncodePacketData(packet.PacketData())
	if err != nil {
		t.Fatalf("encode packet data: %v", err)
	}
	got, err := ExtractMemo(Packet{Data: data})
	if err != nil || got == nil || *got != "deposit/userX/uusd/5/kujira1credit" {
		t.Fatalf("memo did not survive: %v %v", got, err)
	}
}

func TestUpdateCreditAccountWireShape(t *testing.T) {
	account := "7"
	coin := NewCoin("uusd", uint256.NewInt(1_000_000))
	msg, err := NewUpdateCreditAccountMsg("kujira1credit", &account, DepositAndLend(coin), Coins{coin})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if msg.Wasm == nil || msg.Wasm.Execute == nil {
		t.Fatalf("expected wasm execute")
	}
	body := string(msg.Wasm.Execute.Msg)
	for _, fragment := range []string{
		`"update_credit_account":`,
		`"account_id":"7"`,
		`{"deposit":{"denom":"uusd","amount":"1000000"}}`,
		`{"lend":{"denom":"uusd","amount":{"exact":"1000000"}}}`,
	} {
		if !strings.Contains(body, fragment) {
			t.Fatalf("expected %s in %s", fragment, body)
		}
	}
	if funds := msg.Wasm.Execute.Funds.String(); funds != "1000000uusd" {
		t.Fatalf("unexpected funds %s", funds)
	}
}

func TestObservedValue(t *testing.T) {
	bank := QueryResponse{Bank: &BankQueryResponse{Balance: &BalanceResponse{Amount: NewCoin("uusd", uint256.NewInt(950000))}}}
	v, err := bank.ObservedValue("uusd")
	if err != nil || v.Uint64() != 950000 {
		t.Fatalf("bank: got %v %v", v, err)
	}
	v, err = bank.ObservedValue("ukuji")
	if err != nil || !v.IsZero() {
		t.Fatalf("bank other denom: got %v %v", v, err)
	}

	positions := []byte(`{"account_id":"7","deposits":[{"denom":"uusd","amount":"50000"},{"denom":"ukuji","amount":"9"}],"lends":[{"denom":"uusd","amount":"900000"}],"debts":[]}`)
	smart := QueryResponse{Wasm: &WasmQueryResponse{SmartContractState: &SmartContractState{Data: positions}}}
	v, err = smart.ObservedValue("uusd")
	if err != nil || v.Uint64() != 950000 {
		t.Fatalf("smart: got %v %v", v, err)
	}

	broken := QueryResponse{Wasm: &WasmQueryResponse{SmartContractState: &SmartContractState{Data: []byte("nope")}}}
	if _, err := broken.ObservedValue("uusd"); !errors.Is(err, ErrDecodeQueryResult) {
		t.Fatalf("expected decode error, got %v", err)
	}
	if _, err := (QueryResponse{}).ObservedValue("uusd"); !errors.Is(err, ErrDecodeQueryResult) {
		t.Fatalf("expected unsupported variant error, got %v", err)
	}
}

func TestCallbackKind(t *testing.T) {
	var msg CallbackMsg
	if err := json.Unmarshal([]byte(`{"on_timeout_packet_callback":{"original_packet":{"data":"e30="},"relayer":"r"}}`), &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	kind, err := msg.Kind()
	if err != nil || kind != "timeout" {
		t.Fatalf("expected timeout, got %q %v", kind, err)
	}
	if _, err := (CallbackMsg{}).Kind(); !errors.Is(err, ErrAmbiguousUnionType) {
		t.Fatalf("expected ambiguity error, got %v", err)
	}
}
