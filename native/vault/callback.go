package vault

import (
	"fmt"

	"github.com/holiman/uint256"

	"icavault/native/ica"
)

// Callback actions reported in the "action" attribute.
const (
	ActionChannelOpenAck = "channel_open_ack"
	ActionPacketTimeout  = "packet_timeout"
	ActionDepositAck     = "deposit_ack"
	ActionMoveFundsAck   = "move_funds_ack"
)

// callbackMachine advances the vault from controller callbacks. It works on
// the working copies of a single command; every check runs before the first
// mutation so a failure leaves both copies untouched.
type callbackMachine struct {
	cfg   *Config
	state *PoolState
}

func (m callbackMachine) handle(sender string, msg ica.CallbackMsg) (*Response, error) {
	kind, err := msg.Kind()
	if err != nil {
		return nil, codecError(err)
	}
	outpost, ok := m.cfg.FindByController(sender)
	if !ok {
		return nil, fmt.Errorf("%w: callback sender %s is not a registered controller", ErrUnauthorized, sender)
	}
	switch kind {
	case "channel_open_ack":
		return m.channelOpenAck(outpost, *msg.OnChannelOpenAck), nil
	case "timeout":
		return m.timeout(outpost, *msg.OnTimeout), nil
	default:
		return m.acknowledgement(sender, *msg.OnAcknowledgement)
	}
}

func (m callbackMachine) channelOpenAck(outpost Outpost, ack ica.ChannelOpenAck) *Response {
	return newResponse("receive_ica_callback").
		addAttribute("action", ActionChannelOpenAck).
		addAttribute("custodian", outpost.CustodianAddress).
		addAttribute("channel_id", ack.Channel.Endpoint.ChannelID).
		addAttribute("ica_address", ack.IcaAddress)
}

// timeout is a deliberate no-op: nothing was applied when the command was
// dispatched, so there is nothing to unwind.
func (m callbackMachine) timeout(outpost Outpost, timeout ica.PacketTimeout) *Response {
	resp := newResponse("receive_ica_callback").
		addAttribute("action", ActionPacketTimeout).
		addAttribute("custodian", outpost.CustodianAddress)
	if memo, err := ica.ExtractMemo(timeout.OriginalPacket); err == nil && memo != nil {
		resp.addAttribute("memo", *memo)
	}
	return resp
}

func (m callbackMachine) acknowledgement(sender string, ack ica.Acknowledgement) (*Response, error) {
	memo, err := ica.ExtractMemo(ack.OriginalPacket)
	if err != nil {
		return nil, codecError(err)
	}
	if memo == nil {
		return nil, fmt.Errorf("%w: acknowledgement without memo", ErrUnknownMemo)
	}
	env, err := ica.DecodeEnvelope(*memo)
	if err != nil {
		return nil, codecError(err)
	}
	if ack.IcaAcknowledgement.Error != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrIcaAcknowledgement, env.Action, *ack.IcaAcknowledgement.Error)
	}
	switch env.Action {
	case ica.ActionDeposit:
		return m.depositAck(sender, env, ack.QueryResult)
	case ica.ActionWithdraw:
		return nil, fmt.Errorf("%w: withdraw acknowledgement", ErrNotSupported)
	case ica.ActionMoveFunds:
		return m.moveFundsAck(sender, env, ack.QueryResult)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownMemo, *memo)
	}
}

// observedValue reads the first query response. A missing result or an empty
// batch observes nothing.
func observedValue(result *ica.QueryResult, denom string) (*uint256.Int, error) {
	if result == nil {
		return new(uint256.Int), nil
	}
	if result.Error != nil {
		return nil, fmt.Errorf("%w: %s", ErrIcaQuery, *result.Error)
	}
	if result.Success == nil {
		return nil, fmt.Errorf("%w: query result sets neither success nor error", ErrIcaQuery)
	}
	if len(result.Success.Responses) == 0 {
		return new(uint256.Int), nil
	}
	value, err := result.Success.Responses[0].ObservedValue(denom)
	if err != nil {
		return nil, codecError(err)
	}
	return value, nil
}

func (m callbackMachine) resolveDestination(sender string, env ica.CommandEnvelope) (Outpost, error) {
	outpost, ok := m.cfg.FindOutpost(env.Destination)
	if !ok {
		return Outpost{}, fmt.Errorf("%w: %s", ErrDestinationNotFound, env.Destination)
	}
	if outpost.ControllerAddress != sender {
		return Outpost{}, fmt.Errorf("%w: %s does not own the channel of %s", ErrUnauthorized, sender, env.Destination)
	}
	return outpost, nil
}

// depositAck credits what the remote query observed and forwards the
// requested amount into the credit account as a deposit followed by a lend.
// The credit never exceeds the amount this deposit requested: the positions
// answer covers the whole account, including value credited by earlier acks.
// An outpost without an account id forwards account_id null and the credit
// manager opens one.
func (m callbackMachine) depositAck(sender string, env ica.CommandEnvelope, result *ica.QueryResult) (*Response, error) {
	observed, err := observedValue(result, env.Denom)
	if err != nil {
		return nil, err
	}
	outpost, err := m.resolveDestination(sender, env)
	if err != nil {
		return nil, err
	}
	credited := observed
	if credited.Gt(env.Amount) {
		credited = new(uint256.Int).Set(env.Amount)
	}

	coin := ica.NewCoin(env.Denom, env.Amount)
	update, err := ica.NewUpdateCreditAccountMsg(outpost.CustodianAddress, outpost.AccountID, ica.DepositAndLend(coin), ica.Coins{coin})
	if err != nil {
		return nil, err
	}
	packet := ica.BuildCommandPacket(outpost.ControllerAddress, nil, []ica.CosmosMsg{update}, nil)
	wasm, err := packet.WasmMsg()
	if err != nil {
		return nil, err
	}

	next := m.state.Clone()
	if err := next.RecordInflow(credited); err != nil {
		return nil, err
	}
	*m.state = *next

	return newResponse("receive_ica_callback").
		addAttribute("action", ActionDepositAck).
		addAttribute("depositor", env.Subject).
		addAttribute("destination", env.Destination).
		addAttribute("requested", env.Amount.Dec()+env.Denom).
		addAttribute("denom", env.Denom).
		addAttribute("observed", observed.Dec()).
		addAttribute("credited", credited.Dec()).
		addMessage(wasm), nil
}

// moveFundsAck confirms a lend or reclaim. Funds stayed inside the same credit
// account so the pooled value is unchanged.
func (m callbackMachine) moveFundsAck(sender string, env ica.CommandEnvelope, result *ica.QueryResult) (*Response, error) {
	if result != nil && result.Error != nil {
		return nil, fmt.Errorf("%w: %s", ErrIcaQuery, *result.Error)
	}
	if _, err := m.resolveDestination(sender, env); err != nil {
		return nil, err
	}
	return newResponse("receive_ica_callback").
		addAttribute("action", ActionMoveFundsAck).
		addAttribute("destination", env.Destination).
		addAttribute("amount", env.Amount.Dec()+env.Denom), nil
}
