package vault

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"icavault/native/ica"
)

const (
	decimalPlaces = 18
	// maxPoolBits bounds pool totals to the host chain's Uint128.
	maxPoolBits = 128
)

var decimalFractional = new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(decimalPlaces))

// Decimal is an unsigned fixed point number with 18 fractional digits.
type Decimal struct {
	atomics uint256.Int
}

// ZeroDecimal is the sentinel rate of an empty pool.
var ZeroDecimal = Decimal{}

// DecimalFromRatio returns num/den, or zero when den is zero.
func DecimalFromRatio(num, den *uint256.Int) Decimal {
	var d Decimal
	if den == nil || den.IsZero() || num == nil {
		return d
	}
	scaled, overflow := new(uint256.Int).MulOverflow(num, decimalFractional)
	if overflow {
		return d
	}
	d.atomics.Div(scaled, den)
	return d
}

// IsZero reports whether d is zero.
func (d Decimal) IsZero() bool {
	return d.atomics.IsZero()
}

// Cmp compares d and other.
func (d Decimal) Cmp(other Decimal) int {
	return d.atomics.Cmp(&other.atomics)
}

// String renders d without trailing fractional zeros, e.g. "0.95" or "1".
func (d Decimal) String() string {
	whole := new(uint256.Int).Div(&d.atomics, decimalFractional)
	frac := new(uint256.Int).Mod(&d.atomics, decimalFractional)
	if frac.IsZero() {
		return whole.Dec()
	}
	digits := frac.Dec()
	digits = strings.Repeat("0", decimalPlaces-len(digits)) + digits
	return whole.Dec() + "." + strings.TrimRight(digits, "0")
}

// PoolState tracks the pooled value and the shares outstanding against it.
type PoolState struct {
	TotalValue  *uint256.Int
	TotalShares *uint256.Int
}

// NewPoolState returns an empty pool.
func NewPoolState() *PoolState {
	return &PoolState{TotalValue: new(uint256.Int), TotalShares: new(uint256.Int)}
}

func (s *PoolState) normalize() {
	if s.TotalValue == nil {
		s.TotalValue = new(uint256.Int)
	}
	if s.TotalShares == nil {
		s.TotalShares = new(uint256.Int)
	}
}

// Clone returns a deep copy.
func (s *PoolState) Clone() *PoolState {
	if s == nil {
		return nil
	}
	out := NewPoolState()
	if s.TotalValue != nil {
		out.TotalValue.Set(s.TotalValue)
	}
	if s.TotalShares != nil {
		out.TotalShares.Set(s.TotalShares)
	}
	return out
}

// RecordInflow credits delta to the pooled value. The state is left untouched
// when the total would exceed Uint128.
func (s *PoolState) RecordInflow(delta *uint256.Int) error {
	s.normalize()
	if delta == nil || delta.IsZero() {
		return nil
	}
	next, overflow := new(uint256.Int).AddOverflow(s.TotalValue, delta)
	if overflow || next.BitLen() > maxPoolBits {
		return fmt.Errorf("%w: total value %s + %s", ErrAccountingOverflow, s.TotalValue.Dec(), delta.Dec())
	}
	s.TotalValue = next
	return nil
}

// RecordOutflow removes value from the pool and burns the shares it
// represents at the current rate, rounding the burn down. It returns the
// burned shares.
func (s *PoolState) RecordOutflow(value *uint256.Int) (*uint256.Int, error) {
	s.normalize()
	if value == nil || value.IsZero() {
		return new(uint256.Int), nil
	}
	if value.Gt(s.TotalValue) {
		return nil, fmt.Errorf("%w: requested %s of %s", ErrInsufficientPoolValue, value.Dec(), s.TotalValue.Dec())
	}
	burned := new(uint256.Int)
	if !s.TotalShares.IsZero() {
		product, overflow := new(uint256.Int).MulOverflow(value, s.TotalShares)
		if overflow {
			return nil, fmt.Errorf("%w: burn %s x %s", ErrAccountingOverflow, value.Dec(), s.TotalShares.Dec())
		}
		burned.Div(product, s.TotalValue)
	}
	s.TotalValue = new(uint256.Int).Sub(s.TotalValue, value)
	s.TotalShares = new(uint256.Int).Sub(s.TotalShares, burned)
	return burned, nil
}

// CurrentRate is value per share; zero while no shares are outstanding.
func (s *PoolState) CurrentRate() Decimal {
	if s == nil {
		return ZeroDecimal
	}
	return DecimalFromRatio(s.TotalValue, s.TotalShares)
}

// Snapshot renders the public view of the pool.
func (s *PoolState) Snapshot() StateResponse {
	cp := s.Clone()
	if cp == nil {
		cp = NewPoolState()
	}
	return StateResponse{
		TotalValue:     ica.NewUint128(cp.TotalValue),
		TotalShares:    ica.NewUint128(cp.TotalShares),
		RedemptionRate: cp.CurrentRate().String(),
	}
}
