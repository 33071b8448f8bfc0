package vault

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/holiman/uint256"

	"icavault/native/ica"
	"icavault/storage"
)

// permissiveAPI accepts any non-empty address that does not start with "bad".
type permissiveAPI struct{}

func (permissiveAPI) ValidateAddress(addr string) error {
	if addr == "" || strings.HasPrefix(addr, "bad") {
		return errors.New("malformed address")
	}
	return nil
}

func (permissiveAPI) Canonicalize(addr string) ([]byte, error) {
	if err := (permissiveAPI{}).ValidateAddress(addr); err != nil {
		return nil, err
	}
	return []byte(addr), nil
}

func (permissiveAPI) Humanize(canonical []byte) (string, error) {
	return string(canonical), nil
}

type staticCodes map[uint64][]byte

func (c staticCodes) CodeChecksum(codeID uint64) ([]byte, error) {
	sum, ok := c[codeID]
	if !ok {
		return nil, errors.New("no such code")
	}
	return sum, nil
}

const (
	testOwner = "owner"
	testUser  = "userX"
)

func strPtr(s string) *string { return &s }

func testOptions() ica.ChannelOpenInitOptions {
	return ica.ChannelOpenInitOptions{ConnectionID: "connection-0", CounterpartyConnectionID: "connection-1"}
}

func testConfig() *Config {
	return &Config{
		Owner:            testOwner,
		ControllerCodeID: 3,
		Outposts: []Outpost{
			{CustodianAddress: "chainA", ControllerAddress: "ctrlA", ChannelOptions: testOptions(), AccountID: strPtr("7")},
			{CustodianAddress: "chainB", ControllerAddress: "ctrlB", ChannelOptions: testOptions()},
		},
	}
}

type fixture struct {
	db       *storage.MemDB
	store    *Store
	contract *Contract
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := storage.NewMemDB()
	store := NewStore(db)
	if err := store.Save(Commit{Config: testConfig(), State: NewPoolState()}, permissiveAPI{}); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	return &fixture{db: db, store: store, contract: NewContract(store, permissiveAPI{}, nil, nil)}
}

func (f *fixture) raw(t *testing.T, key []byte) []byte {
	t.Helper()
	value, err := f.db.Get(key)
	if err != nil {
		t.Fatalf("read %s: %v", key, err)
	}
	return value
}

func (f *fixture) state(t *testing.T) *PoolState {
	t.Helper()
	state, err := f.store.LoadState()
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	return state
}

func (f *fixture) execute(sender string, funds ica.Coins, msg ExecuteMsg) (*Response, error) {
	env := Env{ContractAddress: "vault", BlockHeight: 10, BlockTime: time.Unix(1700000000, 0)}
	return f.contract.Execute(env, MessageInfo{Sender: sender, Funds: funds}, msg)
}

func (f *fixture) callback(sender string, msg ica.CallbackMsg) (*Response, error) {
	return f.execute(sender, nil, ExecuteMsg{ReceiveIcaCallback: &msg})
}

func packetWithMemo(t *testing.T, memo *string) ica.Packet {
	t.Helper()
	data, err := ica.EncodePacketData(ica.PacketData{Messages: []ica.CosmosMsg{}, Queries: []ica.QueryRequest{}, PacketMemo: memo})
	if err != nil {
		t.Fatalf("encode packet: %v", err)
	}
	return ica.Packet{
		Data:     data,
		Src:      ica.Endpoint{PortID: "icacontroller-vault", ChannelID: "channel-0"},
		Dest:     ica.Endpoint{PortID: "icahost", ChannelID: "channel-9"},
		Sequence: 1,
	}
}

func bankResult(denom string, amount uint64) *ica.QueryResult {
	return &ica.QueryResult{Success: &ica.QuerySuccess{
		Height: 42,
		Responses: []ica.QueryResponse{{Bank: &ica.BankQueryResponse{
			Balance: &ica.BalanceResponse{Amount: ica.NewCoin(denom, uint256.NewInt(amount))},
		}}},
	}}
}

func ackCallback(t *testing.T, memo string, result *ica.QueryResult) ica.CallbackMsg {
	t.Helper()
	return ica.CallbackMsg{OnAcknowledgement: &ica.Acknowledgement{
		IcaAcknowledgement: ica.AckData{Result: []byte("{}")},
		OriginalPacket:     packetWithMemo(t, &memo),
		Relayer:            "relayer",
		QueryResult:        result,
	}}
}

// controllerMsg decodes the send_cosmos_msgs payload of an outbound message.
func controllerMsg(t *testing.T, msg ica.WasmMsg) ica.SendCosmosMsgs {
	t.Helper()
	if msg.Execute == nil {
		t.Fatalf("expected execute message, got %s", msg.Kind())
	}
	var decoded ica.ControllerExecuteMsg
	if err := json.Unmarshal(msg.Execute.Msg, &decoded); err != nil {
		t.Fatalf("decode controller msg: %v", err)
	}
	if decoded.SendCosmosMsgs == nil {
		t.Fatalf("expected send_cosmos_msgs in %s", msg.Execute.Msg)
	}
	return *decoded.SendCosmosMsgs
}

func requireSameBytes(t *testing.T, what string, before, after []byte) {
	t.Helper()
	if !bytes.Equal(before, after) {
		t.Fatalf("%s changed: %x -> %x", what, before, after)
	}
}
