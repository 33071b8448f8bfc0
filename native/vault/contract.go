package vault

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"icavault/crypto"
	"icavault/native/ica"
	"icavault/observability"
	"icavault/observability/logging"
)

const (
	// ContractName is recorded in vault/contract_info.
	ContractName = "crates.io:mars-vault-ica"
	// ContractVersion is recorded in vault/contract_info.
	ContractVersion = "0.1.0"
)

// Contract serialises every command against the vault store. Each call loads
// the records, mutates copies and writes them back in one batch before the
// response, with its outbound messages, is returned.
type Contract struct {
	mu     sync.Mutex
	store  *Store
	api    AddressAPI
	codes  CodeQuerier
	logger *slog.Logger
}

// NewContract wires a contract over store.
func NewContract(store *Store, api AddressAPI, codes CodeQuerier, logger *slog.Logger) *Contract {
	if logger == nil {
		logger = slog.Default()
	}
	return &Contract{store: store, api: api, codes: codes, logger: logger.With("component", "vault")}
}

// Instantiated reports whether a configuration has been saved.
func (c *Contract) Instantiated() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.store.LoadConfig()
	if errors.Is(err, ErrNotInstantiated) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Instantiate stores the initial configuration and emits one controller
// instantiation per outpost at its predicted address.
func (c *Contract) Instantiate(env Env, info MessageInfo, msg InstantiateMsg) (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	start := time.Now()
	resp, err := c.instantiate(env, info, msg)
	observability.Vault().Observe("instantiate", time.Since(start), err)
	if err != nil {
		c.logger.Warn("instantiate rejected", slog.String("error", err.Error()))
		return nil, err
	}
	c.logger.Info("vault instantiated",
		logging.MaskField("owner", msg.Owner),
		slog.Int("outposts", len(msg.Outposts)))
	return resp, nil
}

func (c *Contract) instantiate(env Env, info MessageInfo, msg InstantiateMsg) (*Response, error) {
	if _, err := c.store.LoadConfig(); err == nil {
		return nil, ErrAlreadyInstantiated
	} else if !errors.Is(err, ErrNotInstantiated) {
		return nil, err
	}
	if len(info.Funds) != 0 {
		return nil, fmt.Errorf("%w: instantiate does not accept funds", ErrPayment)
	}
	if c.codes == nil {
		return nil, fmt.Errorf("%w: no code querier", ErrCodeNotFound)
	}
	checksum, err := c.codes.CodeChecksum(msg.ControllerCodeID)
	if err != nil {
		return nil, fmt.Errorf("%w: code %d: %v", ErrCodeNotFound, msg.ControllerCodeID, err)
	}
	creator, err := c.api.Canonicalize(env.ContractAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: contract address: %v", ErrInvalidAddress, err)
	}

	cfg := &Config{Owner: msg.Owner, ControllerCodeID: msg.ControllerCodeID, Outposts: make([]Outpost, 0, len(msg.Outposts))}
	for _, o := range msg.Outposts {
		outpost := Outpost{CustodianAddress: o.CustodianAddress, ChannelOptions: o.ChannelOptions}
		if o.AccountID != nil {
			id := *o.AccountID
			outpost.AccountID = &id
		}
		cfg.Outposts = append(cfg.Outposts, outpost)
	}

	resp := newResponse("instantiate").addAttribute("owner", msg.Owner)
	contract := env.ContractAddress
	for _, o := range msg.Outposts {
		salt := crypto.ControllerSalt(o.CustodianAddress, env.BlockTime.Unix())
		predicted, err := crypto.Instantiate2Address(checksum, creator, salt)
		if err != nil {
			return nil, fmt.Errorf("%w: predict controller for %s: %v", ErrInvalidOutpost, o.CustodianAddress, err)
		}
		controller, err := c.api.Humanize(predicted)
		if err != nil {
			return nil, fmt.Errorf("%w: controller address: %v", ErrInvalidAddress, err)
		}
		if err := cfg.UpsertController(o.CustodianAddress, controller); err != nil {
			return nil, err
		}
		initMsg, err := json.Marshal(ica.ControllerInstantiateMsg{
			Owner:                  &contract,
			ChannelOpenInitOptions: o.ChannelOptions,
			SendCallbacksTo:        &contract,
		})
		if err != nil {
			return nil, fmt.Errorf("vault: encode controller instantiate: %w", err)
		}
		admin := contract
		resp.addAttribute("controller", controller).addMessage(ica.WasmMsg{Instantiate2: &ica.WasmInstantiate2{
			Admin:  &admin,
			CodeID: msg.ControllerCodeID,
			Label:  "ICA Controller - " + o.CustodianAddress,
			Msg:    initMsg,
			Salt:   salt,
		}})
	}

	err = c.store.Save(Commit{
		Config:       cfg,
		State:        NewPoolState(),
		ContractInfo: &ContractInfo{Contract: ContractName, Version: ContractVersion},
	}, c.api)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Execute runs one command. Nothing is persisted when it fails.
func (c *Contract) Execute(env Env, info MessageInfo, msg ExecuteMsg) (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	start := time.Now()
	kind, err := msg.Kind()
	if err != nil {
		observability.Vault().Observe("unknown", time.Since(start), err)
		return nil, err
	}
	resp, err := c.execute(env, info, kind, msg)
	observability.Vault().Observe(kind, time.Since(start), err)
	if err != nil {
		c.logger.Warn("command rejected",
			slog.String("kind", kind),
			logging.MaskField("sender", info.Sender),
			slog.String("error", err.Error()))
		return nil, err
	}
	if action, ok := resp.Attribute("action"); ok && kind == KindCallback {
		observability.Events().RecordCallback(action)
	}
	if credited, ok := resp.Attribute("credited"); ok {
		denom, _ := resp.Attribute("denom")
		if v, err := strconv.ParseFloat(credited, 64); err == nil {
			observability.Vault().RecordInflow(denom, v)
		}
	}
	c.logger.Info("command applied",
		slog.String("kind", kind),
		slog.Int("messages", len(resp.Messages)))
	return resp, nil
}

func (c *Contract) execute(env Env, info MessageInfo, kind string, msg ExecuteMsg) (*Response, error) {
	cfg, err := c.store.LoadConfig()
	if err != nil {
		return nil, err
	}
	state, err := c.store.LoadState()
	if err != nil {
		return nil, err
	}
	cmd := &command{env: env, info: info, cfg: cfg.Clone(), state: state.Clone(), api: c.api}

	var resp *Response
	switch kind {
	case KindDeposit:
		resp, err = cmd.deposit(*msg.Deposit)
	case KindWithdraw:
		resp, err = cmd.withdraw(*msg.Withdraw)
	case KindCreateVault:
		resp, err = cmd.createVault()
	case KindCreateChannel:
		resp, err = cmd.channel(KindCreateChannel, *msg.CreateChannel, ica.NewCreateChannelMsg)
	case KindCloseChannel:
		resp, err = cmd.channel(KindCloseChannel, *msg.CloseChannel, ica.NewCloseChannelMsg)
	case KindMoveFunds:
		resp, err = cmd.moveFunds(*msg.MoveFunds)
	case KindCallback:
		resp, err = cmd.receiveCallback(*msg.ReceiveIcaCallback)
	case KindUpdateConfig:
		resp, err = cmd.updateConfig(*msg.UpdateConfig)
	default:
		err = fmt.Errorf("%w: %s", ErrInvalidMessage, kind)
	}
	if err != nil {
		return nil, err
	}
	if err := c.store.Save(Commit{Config: cmd.cfg, State: cmd.state}, c.api); err != nil {
		return nil, err
	}
	return resp, nil
}

// Query answers a read-only query with its JSON encoding.
func (c *Contract) Query(msg QueryMsg) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out interface{}
	switch {
	case msg.Config != nil && msg.State == nil && msg.Receipts == nil:
		cfg, err := c.store.LoadConfig()
		if err != nil {
			return nil, err
		}
		out = cfg.Snapshot()
	case msg.State != nil && msg.Config == nil && msg.Receipts == nil:
		state, err := c.store.LoadState()
		if err != nil {
			return nil, err
		}
		out = state.Snapshot()
	case msg.Receipts != nil && msg.Config == nil && msg.State == nil:
		if err := validateAddress(c.api, "address", msg.Receipts.Address); err != nil {
			return nil, err
		}
		amount, err := c.store.Receipt(msg.Receipts.Address)
		if err != nil {
			return nil, err
		}
		out = ReceiptsResponse{Address: msg.Receipts.Address, Amount: ica.NewUint128(amount)}
	default:
		return nil, fmt.Errorf("%w: expected exactly one query", ErrInvalidMessage)
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("vault: encode query response: %w", err)
	}
	return raw, nil
}
