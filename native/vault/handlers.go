package vault

import (
	"fmt"
	"strings"

	"icavault/native/ica"
)

// command holds the working copies of one Execute call. Handlers mutate cfg
// and state in place; Contract persists them only when the handler succeeds.
type command struct {
	env   Env
	info  MessageInfo
	cfg   *Config
	state *PoolState
	api   AddressAPI
}

func (c *command) requireOwner() error {
	if c.info.Sender != c.cfg.Owner {
		return fmt.Errorf("%w: %s is not the owner", ErrUnauthorized, c.info.Sender)
	}
	return nil
}

func (c *command) requireNonPayable() error {
	if len(c.info.Funds) != 0 {
		return fmt.Errorf("%w: command does not accept funds, got %s", ErrPayment, c.info.Funds)
	}
	return nil
}

// onePayment returns the single positive coin attached to the command.
func (c *command) onePayment() (ica.Coin, error) {
	if len(c.info.Funds) != 1 {
		return ica.Coin{}, fmt.Errorf("%w: expected exactly one coin, got %d", ErrPayment, len(c.info.Funds))
	}
	coin := c.info.Funds[0]
	if coin.Denom == "" || coin.Amount.Value().IsZero() {
		return ica.Coin{}, fmt.Errorf("%w: empty payment %s", ErrPayment, c.info.Funds)
	}
	return coin, nil
}

// deposit asks the destination credit account for its positions. The memo
// carries the deposit intent back with the acknowledgement, where the observed
// positions are credited.
func (c *command) deposit(msg DepositMsg) (*Response, error) {
	coin, err := c.onePayment()
	if err != nil {
		return nil, err
	}
	if strings.Contains(coin.Denom, ica.MemoDelimiter) {
		return nil, fmt.Errorf("%w: denom %s not representable in memo", ErrPayment, coin.Denom)
	}
	outpost, ok := c.cfg.FindOutpost(msg.Destination)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDestinationNotFound, msg.Destination)
	}
	if outpost.AccountID == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoCreditAccount, outpost.CustodianAddress)
	}
	memo, err := ica.EncodeEnvelope(ica.ActionDeposit, c.info.Sender, coin.Denom, coin.Amount.Value(), msg.Destination)
	if err != nil {
		return nil, codecError(err)
	}
	query, err := ica.NewPositionsQuery(outpost.CustodianAddress, *outpost.AccountID)
	if err != nil {
		return nil, err
	}
	wasm, err := ica.BuildCommandPacket(outpost.ControllerAddress, &memo, nil, []ica.QueryRequest{query}).WasmMsg()
	if err != nil {
		return nil, err
	}
	return newResponse(KindDeposit).
		addAttribute("depositor", c.info.Sender).
		addAttribute("destination", msg.Destination).
		addAttribute("amount", coin.Amount.String()+coin.Denom).
		addAttribute("memo", memo).
		addMessage(wasm), nil
}

func (c *command) withdraw(WithdrawMsg) (*Response, error) {
	if err := c.requireNonPayable(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: withdraw", ErrNotSupported)
}

func (c *command) createVault() (*Response, error) {
	if err := c.requireOwner(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: create_vault", ErrNotSupported)
}

// targets returns the outposts a channel command applies to.
func (c *command) targets(destination string) ([]Outpost, error) {
	if destination == "" {
		out := make([]Outpost, 0, len(c.cfg.Outposts))
		for _, o := range c.cfg.Outposts {
			out = append(out, o.clone())
		}
		return out, nil
	}
	o, ok := c.cfg.FindOutpost(destination)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDestinationNotFound, destination)
	}
	return []Outpost{o}, nil
}

func (c *command) channel(kind string, msg ChannelMsg, build func(controller string) (ica.WasmMsg, error)) (*Response, error) {
	if err := c.requireOwner(); err != nil {
		return nil, err
	}
	if err := c.requireNonPayable(); err != nil {
		return nil, err
	}
	outposts, err := c.targets(msg.Destination)
	if err != nil {
		return nil, err
	}
	resp := newResponse(kind)
	for _, o := range outposts {
		wasm, err := build(o.ControllerAddress)
		if err != nil {
			return nil, err
		}
		resp.addAttribute("controller", o.ControllerAddress).addMessage(wasm)
	}
	return resp, nil
}

// moveFunds lends idle funds (on) or reclaims lent funds (off) inside the
// credit account of msg.Chain.
func (c *command) moveFunds(msg MoveFundsMsg) (*Response, error) {
	if err := c.requireOwner(); err != nil {
		return nil, err
	}
	if err := c.requireNonPayable(); err != nil {
		return nil, err
	}
	outpost, ok := c.cfg.FindOutpost(msg.Chain)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDestinationNotFound, msg.Chain)
	}
	if outpost.AccountID == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoCreditAccount, outpost.CustodianAddress)
	}
	amount := msg.Amount.Value()
	if amount.IsZero() {
		return nil, fmt.Errorf("%w: move amount must be positive", ErrInvalidAmount)
	}
	coin := ica.ExactActionCoin(msg.Denom, amount)
	var action ica.CreditAction
	switch msg.Action {
	case MoveOn:
		action.Lend = &coin
	case MoveOff:
		action.Reclaim = &coin
	default:
		return nil, fmt.Errorf("%w: move_funds action %q", ErrInvalidMessage, msg.Action)
	}
	memo, err := ica.EncodeEnvelope(ica.ActionMoveFunds, c.info.Sender, msg.Denom, amount, msg.Chain)
	if err != nil {
		return nil, codecError(err)
	}
	update, err := ica.NewUpdateCreditAccountMsg(outpost.CustodianAddress, outpost.AccountID, []ica.CreditAction{action}, nil)
	if err != nil {
		return nil, err
	}
	wasm, err := ica.BuildCommandPacket(outpost.ControllerAddress, &memo, []ica.CosmosMsg{update}, nil).WasmMsg()
	if err != nil {
		return nil, err
	}
	return newResponse(KindMoveFunds).
		addAttribute("direction", string(msg.Action)).
		addAttribute("chain", msg.Chain).
		addAttribute("memo", memo).
		addMessage(wasm), nil
}

func (c *command) updateConfig(msg UpdateConfigMsg) (*Response, error) {
	if err := c.requireOwner(); err != nil {
		return nil, err
	}
	if err := c.requireNonPayable(); err != nil {
		return nil, err
	}
	next, err := ApplyUpdate(c.cfg, msg.Config, c.api)
	if err != nil {
		return nil, err
	}
	*c.cfg = *next
	return newResponse(KindUpdateConfig).addAttribute("owner", next.Owner), nil
}

func (c *command) receiveCallback(msg ica.CallbackMsg) (*Response, error) {
	if err := c.requireNonPayable(); err != nil {
		return nil, err
	}
	return callbackMachine{cfg: c.cfg, state: c.state}.handle(c.info.Sender, msg)
}
