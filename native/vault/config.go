package vault

import (
	"fmt"

	"icavault/native/ica"
)

// Outpost binds a remote credit manager to the local controller that owns the
// command channel towards it. CustodianAddress is the registry key.
type Outpost struct {
	CustodianAddress  string                     `json:"custodian_address"`
	ControllerAddress string                     `json:"controller_address"`
	ChannelOptions    ica.ChannelOpenInitOptions `json:"channel_open_init_options"`
	AccountID         *string                    `json:"account_id,omitempty"`
}

func (o Outpost) clone() Outpost {
	out := o
	if o.AccountID != nil {
		id := *o.AccountID
		out.AccountID = &id
	}
	return out
}

// Config is the persisted vault configuration and outpost registry.
type Config struct {
	Owner            string
	Outposts         []Outpost
	ControllerCodeID uint64
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := &Config{Owner: c.Owner, ControllerCodeID: c.ControllerCodeID}
	if c.Outposts != nil {
		out.Outposts = make([]Outpost, len(c.Outposts))
		for i, o := range c.Outposts {
			out.Outposts[i] = o.clone()
		}
	}
	return out
}

// FindOutpost returns a copy of the outpost keyed by custodian.
func (c *Config) FindOutpost(custodian string) (Outpost, bool) {
	if o, ok := c.FindOutpostMut(custodian); ok {
		return o.clone(), true
	}
	return Outpost{}, false
}

// FindOutpostMut returns a pointer into the registry for in-place updates.
func (c *Config) FindOutpostMut(custodian string) (*Outpost, bool) {
	for i := range c.Outposts {
		if c.Outposts[i].CustodianAddress == custodian {
			return &c.Outposts[i], true
		}
	}
	return nil, false
}

// FindByController returns the outpost whose channel is owned by controller.
func (c *Config) FindByController(controller string) (Outpost, bool) {
	if controller == "" {
		return Outpost{}, false
	}
	for _, o := range c.Outposts {
		if o.ControllerAddress == controller {
			return o.clone(), true
		}
	}
	return Outpost{}, false
}

// UpsertAccountID overwrites the credit account id of an existing outpost.
func (c *Config) UpsertAccountID(custodian, accountID string) error {
	o, ok := c.FindOutpostMut(custodian)
	if !ok {
		return fmt.Errorf("%w: %s", ErrDestinationNotFound, custodian)
	}
	o.AccountID = &accountID
	return nil
}

// UpsertController overwrites the controller address of an existing outpost.
func (c *Config) UpsertController(custodian, controller string) error {
	o, ok := c.FindOutpostMut(custodian)
	if !ok {
		return fmt.Errorf("%w: %s", ErrDestinationNotFound, custodian)
	}
	o.ControllerAddress = controller
	return nil
}

// Validate checks every address and the uniqueness of outpost keys.
func (c *Config) Validate(api AddressAPI) error {
	if c == nil {
		return ErrNotInstantiated
	}
	if err := validateAddress(api, "owner", c.Owner); err != nil {
		return err
	}
	custodians := make(map[string]struct{}, len(c.Outposts))
	controllers := make(map[string]struct{}, len(c.Outposts))
	for i, o := range c.Outposts {
		if err := validateAddress(api, fmt.Sprintf("outposts[%d].custodian_address", i), o.CustodianAddress); err != nil {
			return err
		}
		if _, dup := custodians[o.CustodianAddress]; dup {
			return fmt.Errorf("%w: custodian %s", ErrDuplicateOutpost, o.CustodianAddress)
		}
		custodians[o.CustodianAddress] = struct{}{}
		if err := validateAddress(api, fmt.Sprintf("outposts[%d].controller_address", i), o.ControllerAddress); err != nil {
			return err
		}
		if _, dup := controllers[o.ControllerAddress]; dup {
			return fmt.Errorf("%w: controller %s", ErrDuplicateOutpost, o.ControllerAddress)
		}
		controllers[o.ControllerAddress] = struct{}{}
		if err := o.ChannelOptions.Validate(); err != nil {
			return fmt.Errorf("%w: outposts[%d]: %v", ErrInvalidOutpost, i, err)
		}
		if o.AccountID != nil && *o.AccountID == "" {
			return fmt.Errorf("%w: outposts[%d]: empty account_id", ErrInvalidOutpost, i)
		}
	}
	return nil
}

func validateAddress(api AddressAPI, field, addr string) error {
	if addr == "" {
		return fmt.Errorf("%w: %s is empty", ErrInvalidAddress, field)
	}
	if api == nil {
		return nil
	}
	if err := api.ValidateAddress(addr); err != nil {
		return fmt.Errorf("%w: %s %q: %v", ErrInvalidAddress, field, addr, err)
	}
	return nil
}

// Snapshot renders the public view of the configuration.
func (c *Config) Snapshot() ConfigResponse {
	cp := c.Clone()
	outposts := cp.Outposts
	if outposts == nil {
		outposts = []Outpost{}
	}
	return ConfigResponse{Owner: cp.Owner, Outposts: outposts, ControllerCodeID: cp.ControllerCodeID}
}

// ConfigUpdate is a privileged patch. Nil fields are left untouched; a non-nil
// Outposts replaces the whole list.
type ConfigUpdate struct {
	Owner            *string   `json:"owner,omitempty"`
	Outposts         []Outpost `json:"outposts,omitempty"`
	ControllerCodeID *uint64   `json:"cw_ica_controller_code_id,omitempty"`
}

// ApplyUpdate returns current with patch applied. current is never modified;
// on error it is returned unchanged alongside the failure.
func ApplyUpdate(current *Config, patch ConfigUpdate, api AddressAPI) (*Config, error) {
	next := current.Clone()
	if next == nil {
		return current, ErrNotInstantiated
	}
	if patch.Owner != nil {
		next.Owner = *patch.Owner
	}
	if patch.Outposts != nil {
		next.Outposts = make([]Outpost, len(patch.Outposts))
		for i, o := range patch.Outposts {
			next.Outposts[i] = o.clone()
		}
	}
	if patch.ControllerCodeID != nil {
		next.ControllerCodeID = *patch.ControllerCodeID
	}
	if err := next.Validate(api); err != nil {
		return current, err
	}
	return next, nil
}
