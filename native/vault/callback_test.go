package vault

import (
	"encoding/json"
	"errors"
	"testing"

	"icavault/native/ica"
)

func TestDepositAckCreditsObservedValue(t *testing.T) {
	f := newFixture(t)
	resp, err := f.callback("ctrlA", ackCallback(t, "deposit/userX/uusd/1000000/chainA", bankResult("uusd", 950000)))
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	state := f.state(t)
	if state.TotalValue.Uint64() != 950000 {
		t.Fatalf("expected 950000 credited, got %s", state.TotalValue.Dec())
	}
	if len(resp.Messages) != 1 {
		t.Fatalf("expected one outbound message, got %d", len(resp.Messages))
	}
	if target := resp.Messages[0].Target(); target != "ctrlA" {
		t.Fatalf("expected message to ctrlA, got %s", target)
	}
	send := controllerMsg(t, resp.Messages[0])
	if len(send.Queries) != 0 {
		t.Fatalf("follow-up command must not carry queries")
	}
	if send.PacketMemo != nil {
		t.Fatalf("follow-up command must not carry a memo, got %q", *send.PacketMemo)
	}
	if len(send.Messages) != 1 || send.Messages[0].Wasm == nil || send.Messages[0].Wasm.Execute == nil {
		t.Fatalf("expected a single remote execute, got %+v", send.Messages)
	}
	remote := send.Messages[0].Wasm.Execute
	if remote.ContractAddr != "chainA" {
		t.Fatalf("expected remote execute against chainA, got %s", remote.ContractAddr)
	}
	if remote.Funds.String() != "1000000uusd" {
		t.Fatalf("unexpected funds %s", remote.Funds)
	}
	var cm ica.CreditManagerExecuteMsg
	if err := json.Unmarshal(remote.Msg, &cm); err != nil {
		t.Fatalf("decode credit manager msg: %v", err)
	}
	update := cm.UpdateCreditAccount
	if update == nil || update.AccountID == nil || *update.AccountID != "7" {
		t.Fatalf("expected update of account 7, got %+v", update)
	}
	if len(update.Actions) != 2 || update.Actions[0].Deposit == nil || update.Actions[1].Lend == nil {
		t.Fatalf("expected deposit then lend, got %+v", update.Actions)
	}
	if got := update.Actions[1].Lend.Amount.Exact.String(); got != "1000000" {
		t.Fatalf("expected lend of 1000000, got %s", got)
	}
	if credited, _ := resp.Attribute("credited"); credited != "950000" {
		t.Fatalf("expected credited attribute 950000, got %q", credited)
	}
}

func positionsResult(deposits, lends string) *ica.QueryResult {
	data := []byte(`{"account_id":"7","deposits":[` + deposits + `],"lends":[` + lends + `]}`)
	return &ica.QueryResult{Success: &ica.QuerySuccess{Responses: []ica.QueryResponse{{
		Wasm: &ica.WasmQueryResponse{SmartContractState: &ica.SmartContractState{Data: data}},
	}}}}
}

func TestDepositAckFromPositionsQuery(t *testing.T) {
	f := newFixture(t)
	result := positionsResult(`{"denom":"uusd","amount":"100"}`, `{"denom":"uusd","amount":"300"}`)
	resp, err := f.callback("ctrlA", ackCallback(t, "deposit/userX/uusd/500/chainA", result))
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	if got := f.state(t).TotalValue.Uint64(); got != 400 {
		t.Fatalf("expected 400 credited, got %d", got)
	}
	if observed, _ := resp.Attribute("observed"); observed != "400" {
		t.Fatalf("expected observed attribute 400, got %q", observed)
	}
}

func TestRepeatedDepositsAgainstFundedAccount(t *testing.T) {
	f := newFixture(t)
	funded := positionsResult("", `{"denom":"uusd","amount":"1000"}`)
	for i := 0; i < 3; i++ {
		resp, err := f.callback("ctrlA", ackCallback(t, "deposit/userX/uusd/10/chainA", funded))
		if err != nil {
			t.Fatalf("ack %d: %v", i, err)
		}
		if credited, _ := resp.Attribute("credited"); credited != "10" {
			t.Fatalf("ack %d: expected 10 credited, got %q", i, credited)
		}
	}
	if got := f.state(t).TotalValue.Uint64(); got != 30 {
		t.Fatalf("expected 30 credited over three deposits, got %d", got)
	}
}

func TestDepositAckWithoutAccountID(t *testing.T) {
	f := newFixture(t)
	resp, err := f.callback("ctrlB", ackCallback(t, "deposit/userX/uusd/1000000/chainB", bankResult("uusd", 950000)))
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	if got := f.state(t).TotalValue.Uint64(); got != 950000 {
		t.Fatalf("expected 950000 credited, got %d", got)
	}
	if len(resp.Messages) != 1 || resp.Messages[0].Target() != "ctrlB" {
		t.Fatalf("expected one command to ctrlB, got %+v", resp.Messages)
	}
	send := controllerMsg(t, resp.Messages[0])
	if len(send.Messages) != 1 || send.Messages[0].Wasm == nil || send.Messages[0].Wasm.Execute == nil {
		t.Fatalf("expected a single remote execute, got %+v", send.Messages)
	}
	var raw map[string]map[string]json.RawMessage
	if err := json.Unmarshal(send.Messages[0].Wasm.Execute.Msg, &raw); err != nil {
		t.Fatalf("decode credit manager msg: %v", err)
	}
	if id := string(raw["update_credit_account"]["account_id"]); id != "null" {
		t.Fatalf("expected account_id null, got %s", id)
	}
}

func TestDepositAckWithoutQueryCreditsNothing(t *testing.T) {
	f := newFixture(t)
	resp, err := f.callback("ctrlA", ackCallback(t, "deposit/userX/uusd/1000/chainA", nil))
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	if !f.state(t).TotalValue.IsZero() {
		t.Fatalf("expected nothing credited")
	}
	if len(resp.Messages) != 1 {
		t.Fatalf("expected the deposit to be forwarded")
	}
}

func TestRejectedAcksLeaveStateUntouched(t *testing.T) {
	queryErr := "account not found"
	cases := []struct {
		name   string
		sender string
		memo   string
		result *ica.QueryResult
		want   error
	}{
		{name: "query error", sender: "ctrlA", memo: "deposit/userX/uusd/1000000/chainA", result: &ica.QueryResult{Error: &queryErr}, want: ErrIcaQuery},
		{name: "empty query result", sender: "ctrlA", memo: "deposit/userX/uusd/1000000/chainA", result: &ica.QueryResult{}, want: ErrIcaQuery},
		{name: "unknown destination", sender: "ctrlA", memo: "deposit/userX/uusd/1000000/chainZ", result: bankResult("uusd", 1), want: ErrDestinationNotFound},
		{name: "missing destination", sender: "ctrlA", memo: "deposit/userX/uusd/1000000", result: bankResult("uusd", 1), want: ErrInvalidMemoFormat},
		{name: "bad amount", sender: "ctrlA", memo: "deposit/userX/uusd/ten/chainA", result: bankResult("uusd", 1), want: ErrInvalidAmount},
		{name: "unknown verb", sender: "ctrlA", memo: "rebalance/userX/uusd/1/chainA", result: bankResult("uusd", 1), want: ErrUnknownMemo},
		{name: "foreign channel", sender: "ctrlB", memo: "deposit/userX/uusd/1/chainA", result: bankResult("uusd", 1), want: ErrUnauthorized},
		{name: "unregistered sender", sender: "mallory", memo: "deposit/userX/uusd/1/chainA", result: bankResult("uusd", 1), want: ErrUnauthorized},
		{name: "withdraw", sender: "ctrlA", memo: "withdraw/userX/uusd/1/chainA", result: bankResult("uusd", 1), want: ErrNotSupported},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			stateBefore := f.raw(t, stateKey)
			configBefore := f.raw(t, configKey)
			resp, err := f.callback(tc.sender, ackCallback(t, tc.memo, tc.result))
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if resp != nil {
				t.Fatalf("failed callback must not return messages")
			}
			requireSameBytes(t, "state", stateBefore, f.raw(t, stateKey))
			requireSameBytes(t, "config", configBefore, f.raw(t, configKey))
		})
	}
}

func TestAckErrorPayload(t *testing.T) {
	f := newFixture(t)
	msg := ackCallback(t, "deposit/userX/uusd/1/chainA", bankResult("uusd", 1))
	reason := "out of gas"
	msg.OnAcknowledgement.IcaAcknowledgement = ica.AckData{Error: &reason}
	if _, err := f.callback("ctrlA", msg); !errors.Is(err, ErrIcaAcknowledgement) {
		t.Fatalf("expected ErrIcaAcknowledgement, got %v", err)
	}
	if !f.state(t).TotalValue.IsZero() {
		t.Fatalf("failed remote transaction must not credit the pool")
	}
}

func TestAckPacketDecoding(t *testing.T) {
	f := newFixture(t)
	missing := ica.CallbackMsg{OnAcknowledgement: &ica.Acknowledgement{OriginalPacket: packetWithMemo(t, nil)}}
	if _, err := f.callback("ctrlA", missing); !errors.Is(err, ErrUnknownMemo) {
		t.Fatalf("absent memo: expected ErrUnknownMemo, got %v", err)
	}
	garbled := ica.CallbackMsg{OnAcknowledgement: &ica.Acknowledgement{OriginalPacket: ica.Packet{Data: []byte("not json")}}}
	if _, err := f.callback("ctrlA", garbled); !errors.Is(err, ErrDecodePacket) {
		t.Fatalf("garbled packet: expected ErrDecodePacket, got %v", err)
	}
}

func TestTimeoutIsNoOp(t *testing.T) {
	f := newFixture(t)
	stateBefore := f.raw(t, stateKey)
	memo := "deposit/userX/uusd/1000000/chainA"
	resp, err := f.callback("ctrlA", ica.CallbackMsg{OnTimeout: &ica.PacketTimeout{
		OriginalPacket: packetWithMemo(t, &memo),
		Relayer:        "relayer",
	}})
	if err != nil {
		t.Fatalf("timeout: %v", err)
	}
	if len(resp.Messages) != 0 {
		t.Fatalf("timeout must not emit messages")
	}
	if action, _ := resp.Attribute("action"); action != ActionPacketTimeout {
		t.Fatalf("unexpected action %q", action)
	}
	if got, _ := resp.Attribute("memo"); got != memo {
		t.Fatalf("expected memo attribute, got %q", got)
	}
	requireSameBytes(t, "state", stateBefore, f.raw(t, stateKey))

	if _, err := f.callback("mallory", ica.CallbackMsg{OnTimeout: &ica.PacketTimeout{}}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for unknown sender, got %v", err)
	}
}

func TestChannelOpenAck(t *testing.T) {
	f := newFixture(t)
	resp, err := f.callback("ctrlB", ica.CallbackMsg{OnChannelOpenAck: &ica.ChannelOpenAck{
		Channel:    ica.Channel{Endpoint: ica.Endpoint{PortID: "icacontroller-ctrlB", ChannelID: "channel-4"}},
		IcaAddress: "neutron1ica",
		TxEncoding: "proto3json",
	}})
	if err != nil {
		t.Fatalf("channel open ack: %v", err)
	}
	if custodian, _ := resp.Attribute("custodian"); custodian != "chainB" {
		t.Fatalf("expected chainB, got %q", custodian)
	}
	if id, _ := resp.Attribute("channel_id"); id != "channel-4" {
		t.Fatalf("expected channel-4, got %q", id)
	}
	cfg, err := f.store.LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if o, _ := cfg.FindOutpost("chainB"); o.AccountID != nil {
		t.Fatalf("channel open ack must not provision an account")
	}
}

func TestMoveFundsAckConfirms(t *testing.T) {
	f := newFixture(t)
	stateBefore := f.raw(t, stateKey)
	resp, err := f.callback("ctrlA", ackCallback(t, "move_funds/owner/uusd/250/chainA", nil))
	if err != nil {
		t.Fatalf("move funds ack: %v", err)
	}
	if action, _ := resp.Attribute("action"); action != ActionMoveFundsAck {
		t.Fatalf("unexpected action %q", action)
	}
	if len(resp.Messages) != 0 {
		t.Fatalf("confirmation must not emit messages")
	}
	requireSameBytes(t, "state", stateBefore, f.raw(t, stateKey))
}

func TestAmbiguousCallback(t *testing.T) {
	f := newFixture(t)
	msg := ica.CallbackMsg{OnTimeout: &ica.PacketTimeout{}, OnChannelOpenAck: &ica.ChannelOpenAck{}}
	if _, err := f.callback("ctrlA", msg); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage, got %v", err)
	}
}
