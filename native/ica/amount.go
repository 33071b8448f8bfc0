package ica

import (
	"encoding/json"
	"fmt"

	"github.com/holiman/uint256"
)

// maxUint128Bits bounds every on-wire amount to the host chain's Uint128.
const maxUint128Bits = 128

// Uint128 renders an amount as a JSON decimal string, the wire form of the
// host chain's Uint128.
type Uint128 struct {
	*uint256.Int
}

// NewUint128 copies v into a wire amount.
func NewUint128(v *uint256.Int) Uint128 {
	if v == nil {
		return Uint128{Int: new(uint256.Int)}
	}
	return Uint128{Int: new(uint256.Int).Set(v)}
}

// Value returns a copy of the amount, zero when unset.
func (u Uint128) Value() *uint256.Int {
	if u.Int == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(u.Int)
}

func (u Uint128) String() string {
	return u.Value().Dec()
}

func (u Uint128) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.String())
}

func (u *Uint128) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: amount must be a decimal string", ErrInvalidAmount)
	}
	v, err := ParseAmount(s)
	if err != nil {
		return err
	}
	u.Int = v
	return nil
}

// ParseAmount parses a base-10 unsigned integer that fits Uint128. Signs,
// spaces and any non-digit characters are rejected.
func ParseAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
		}
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidAmount, s, err)
	}
	if v.BitLen() > maxUint128Bits {
		return nil, fmt.Errorf("%w: %q exceeds 128 bits", ErrInvalidAmount, s)
	}
	return v, nil
}
