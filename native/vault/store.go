package vault

import (
	"fmt"

	"github.com/holiman/uint256"

	"icavault/native/ica"
	"icavault/storage"
)

var (
	configKey       = []byte("vault/config")
	stateKey        = []byte("vault/state")
	contractInfoKey = []byte("vault/contract_info")
	receiptPrefix   = []byte("vault/receipts/")
)

func receiptKey(addr string) []byte {
	key := make([]byte, 0, len(receiptPrefix)+len(addr))
	key = append(key, receiptPrefix...)
	return append(key, addr...)
}

// ContractInfo records the code name and version that last wrote the store.
type ContractInfo struct {
	Contract string `json:"contract"`
	Version  string `json:"version"`
}

type storedOutpost struct {
	Custodian                string
	Controller               string
	ConnectionID             string
	CounterpartyConnectionID string
	CounterpartyPortID       string
	ChannelOrdering          string
	AccountID                string
	HasAccountID             bool
}

type storedConfig struct {
	Owner            string
	Outposts         []storedOutpost
	ControllerCodeID uint64
}

type storedState struct {
	TotalValue  *uint256.Int
	TotalShares *uint256.Int
}

func newStoredConfig(cfg *Config) storedConfig {
	out := storedConfig{Owner: cfg.Owner, ControllerCodeID: cfg.ControllerCodeID}
	out.Outposts = make([]storedOutpost, len(cfg.Outposts))
	for i, o := range cfg.Outposts {
		rec := storedOutpost{
			Custodian:                o.CustodianAddress,
			Controller:               o.ControllerAddress,
			ConnectionID:             o.ChannelOptions.ConnectionID,
			CounterpartyConnectionID: o.ChannelOptions.CounterpartyConnectionID,
			CounterpartyPortID:       o.ChannelOptions.CounterpartyPortID,
			ChannelOrdering:          string(o.ChannelOptions.ChannelOrdering),
		}
		if o.AccountID != nil {
			rec.AccountID = *o.AccountID
			rec.HasAccountID = true
		}
		out.Outposts[i] = rec
	}
	return out
}

func (s storedConfig) toConfig() *Config {
	cfg := &Config{Owner: s.Owner, ControllerCodeID: s.ControllerCodeID, Outposts: make([]Outpost, len(s.Outposts))}
	for i, rec := range s.Outposts {
		o := Outpost{
			CustodianAddress:  rec.Custodian,
			ControllerAddress: rec.Controller,
			ChannelOptions: ica.ChannelOpenInitOptions{
				ConnectionID:             rec.ConnectionID,
				CounterpartyConnectionID: rec.CounterpartyConnectionID,
				CounterpartyPortID:       rec.CounterpartyPortID,
				ChannelOrdering:          ica.ChannelOrdering(rec.ChannelOrdering),
			},
		}
		if rec.HasAccountID {
			id := rec.AccountID
			o.AccountID = &id
		}
		cfg.Outposts[i] = o
	}
	return cfg
}

// Store persists the vault records.
type Store struct {
	kv *storage.KVStore
}

// NewStore wraps db.
func NewStore(db storage.Database) *Store {
	return &Store{kv: storage.NewKVStore(db)}
}

// LoadConfig returns the stored configuration or ErrNotInstantiated.
func (s *Store) LoadConfig() (*Config, error) {
	var rec storedConfig
	ok, err := s.kv.KVGet(configKey, &rec)
	if err != nil {
		return nil, fmt.Errorf("vault: load config: %w", err)
	}
	if !ok {
		return nil, ErrNotInstantiated
	}
	return rec.toConfig(), nil
}

// LoadState returns the stored pool state or ErrNotInstantiated.
func (s *Store) LoadState() (*PoolState, error) {
	var rec storedState
	ok, err := s.kv.KVGet(stateKey, &rec)
	if err != nil {
		return nil, fmt.Errorf("vault: load state: %w", err)
	}
	if !ok {
		return nil, ErrNotInstantiated
	}
	state := &PoolState{TotalValue: rec.TotalValue, TotalShares: rec.TotalShares}
	state.normalize()
	return state, nil
}

// ContractInfo returns the stored contract version record.
func (s *Store) ContractInfo() (ContractInfo, bool, error) {
	var info ContractInfo
	ok, err := s.kv.KVGet(contractInfoKey, &info)
	if err != nil {
		return ContractInfo{}, false, fmt.Errorf("vault: load contract info: %w", err)
	}
	return info, ok, nil
}

// Receipt returns the virtual receipt balance of addr, zero when unset.
func (s *Store) Receipt(addr string) (*uint256.Int, error) {
	amount := new(uint256.Int)
	if _, err := s.kv.KVGet(receiptKey(addr), amount); err != nil {
		return nil, fmt.Errorf("vault: load receipt %s: %w", addr, err)
	}
	return amount, nil
}

// Commit is the single write of a command. The config is validated first and
// every record lands in one batch, so a failed save leaves the store as it was.
type Commit struct {
	Config       *Config
	State        *PoolState
	ContractInfo *ContractInfo
	Receipts     map[string]*uint256.Int
}

// Save validates and writes c atomically.
func (s *Store) Save(c Commit, api AddressAPI) error {
	ws := s.kv.NewWriteSet()
	if c.Config != nil {
		if err := c.Config.Validate(api); err != nil {
			return err
		}
		ws.Put(configKey, newStoredConfig(c.Config))
	}
	if c.State != nil {
		state := c.State.Clone()
		if state.TotalValue.BitLen() > maxPoolBits || state.TotalShares.BitLen() > maxPoolBits {
			return fmt.Errorf("%w: pool totals exceed 128 bits", ErrAccountingOverflow)
		}
		ws.Put(stateKey, storedState{TotalValue: state.TotalValue, TotalShares: state.TotalShares})
	}
	if c.ContractInfo != nil {
		ws.Put(contractInfoKey, *c.ContractInfo)
	}
	for addr, amount := range c.Receipts {
		if addr == "" {
			return fmt.Errorf("%w: receipt holder is empty", ErrInvalidAddress)
		}
		if amount == nil {
			amount = new(uint256.Int)
		}
		ws.Put(receiptKey(addr), amount)
	}
	if err := ws.Commit(); err != nil {
		return fmt.Errorf("vault: commit: %w", err)
	}
	return nil
}

// AddReceipt credits amount to the virtual receipt balance of addr.
func (s *Store) AddReceipt(addr string, amount *uint256.Int) (*uint256.Int, error) {
	current, err := s.Receipt(addr)
	if err != nil {
		return nil, err
	}
	next, overflow := new(uint256.Int).AddOverflow(current, amount)
	if overflow || next.BitLen() > maxPoolBits {
		return nil, fmt.Errorf("%w: receipt %s", ErrAccountingOverflow, addr)
	}
	if err := s.Save(Commit{Receipts: map[string]*uint256.Int{addr: next}}, nil); err != nil {
		return nil, err
	}
	return next, nil
}
