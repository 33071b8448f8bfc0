package crypto

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
)

var (
	ErrEmptyAddress   = errors.New("crypto: empty address")
	ErrAddressPrefix  = errors.New("crypto: unexpected address prefix")
	ErrAddressLength  = errors.New("crypto: unexpected address length")
	ErrAddressNotNorm = errors.New("crypto: address not in normalized form")
)

// Canonical address lengths accepted by the host chain: 20 bytes for
// key-derived accounts and 32 bytes for contract (module derived) accounts.
const (
	AccountAddressLength  = 20
	ContractAddressLength = 32
)

// Bech32API validates and converts human-readable bech32 addresses for a
// single chain prefix.
type Bech32API struct {
	prefix string
}

// NewBech32API returns an address API bound to the supplied human-readable
// prefix (for example "kujira").
func NewBech32API(prefix string) *Bech32API {
	return &Bech32API{prefix: strings.ToLower(strings.TrimSpace(prefix))}
}

// Prefix returns the human-readable part every address must carry.
func (a *Bech32API) Prefix() string {
	if a == nil {
		return ""
	}
	return a.prefix
}

// ValidateAddress checks that addr decodes under the configured prefix, has a
// supported length and is already in its normalized (lower case) form.
func (a *Bech32API) ValidateAddress(addr string) error {
	canonical, err := a.Canonicalize(addr)
	if err != nil {
		return err
	}
	normalized, err := a.Humanize(canonical)
	if err != nil {
		return err
	}
	if normalized != addr {
		return fmt.Errorf("%w: %s", ErrAddressNotNorm, addr)
	}
	return nil
}

// Canonicalize decodes a bech32 address into its raw bytes.
func (a *Bech32API) Canonicalize(addr string) ([]byte, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, ErrEmptyAddress
	}
	prefix, decoded, err := bech32.Decode(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid bech32 string: %w", err)
	}
	if prefix != a.Prefix() {
		return nil, fmt.Errorf("%w: got %q want %q", ErrAddressPrefix, prefix, a.Prefix())
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return nil, fmt.Errorf("error converting bits: %w", err)
	}
	if err := checkLength(conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// Humanize encodes raw address bytes under the configured prefix.
func (a *Bech32API) Humanize(canonical []byte) (string, error) {
	if err := checkLength(canonical); err != nil {
		return "", err
	}
	conv, err := bech32.ConvertBits(canonical, 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("error converting bits: %w", err)
	}
	encoded, err := bech32.Encode(a.Prefix(), conv)
	if err != nil {
		return "", err
	}
	return encoded, nil
}

func checkLength(b []byte) error {
	switch len(b) {
	case AccountAddressLength, ContractAddressLength:
		return nil
	default:
		return fmt.Errorf("%w: %d bytes", ErrAddressLength, len(b))
	}
}
