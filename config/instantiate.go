package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"icavault/native/vault"
)

// LoadInstantiate reads the vault instantiate message from a YAML file.
// Address checks are left to the contract, which knows the chain prefix.
func LoadInstantiate(path string) (vault.InstantiateMsg, error) {
	var msg vault.InstantiateMsg
	if strings.TrimSpace(path) == "" {
		return msg, fmt.Errorf("instantiate path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return msg, fmt.Errorf("open instantiate file: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&msg); err != nil {
		return vault.InstantiateMsg{}, fmt.Errorf("decode instantiate file: %w", err)
	}
	normalizeInstantiate(&msg)
	if err := validateInstantiate(msg); err != nil {
		return vault.InstantiateMsg{}, err
	}
	return msg, nil
}

func normalizeInstantiate(msg *vault.InstantiateMsg) {
	msg.Owner = strings.TrimSpace(msg.Owner)
	for i := range msg.Outposts {
		o := &msg.Outposts[i]
		o.CustodianAddress = strings.TrimSpace(o.CustodianAddress)
		o.ChannelOptions.ConnectionID = strings.TrimSpace(o.ChannelOptions.ConnectionID)
		o.ChannelOptions.CounterpartyConnectionID = strings.TrimSpace(o.ChannelOptions.CounterpartyConnectionID)
		o.ChannelOptions.CounterpartyPortID = strings.TrimSpace(o.ChannelOptions.CounterpartyPortID)
		if o.AccountID != nil {
			trimmed := strings.TrimSpace(*o.AccountID)
			o.AccountID = &trimmed
		}
	}
}

func validateInstantiate(msg vault.InstantiateMsg) error {
	if msg.Owner == "" {
		return fmt.Errorf("%w: owner required", ErrInvalidConfig)
	}
	if msg.ControllerCodeID == 0 {
		return fmt.Errorf("%w: cw_ica_controller_code_id required", ErrInvalidConfig)
	}
	for i, o := range msg.Outposts {
		if o.CustodianAddress == "" {
			return fmt.Errorf("%w: outposts[%d]: custodian_address required", ErrInvalidConfig, i)
		}
		if err := o.ChannelOptions.Validate(); err != nil {
			return fmt.Errorf("%w: outposts[%d]: %v", ErrInvalidConfig, i, err)
		}
	}
	return nil
}
