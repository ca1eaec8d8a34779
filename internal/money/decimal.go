// Package money provides the exact, rounding-aware decimal type used for
// every price and quantity in the matching engine. No float64 appears on
// the price or quantity path anywhere in this module.
package money

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// ErrPrecisionOverflow is returned when an operation's result would need
// more mantissa digits than fit in a signed 128-bit integer.
var ErrPrecisionOverflow = errors.New("money: precision overflow")

// maxMantissaDigits bounds the mantissa to the range of a signed 128-bit
// integer (2^127 has 39 decimal digits; 38 digits always fits).
const maxMantissaDigits = 38

// RoundingMode selects how Rescale resolves digits beyond the target scale.
type RoundingMode int

const (
	// RoundHalfEven rounds to the nearest representable value, breaking
	// exact ties toward the even digit (banker's rounding). This is the
	// only rounding mode the engine uses, and only for display/reporting;
	// no arithmetic on the matching path requires rounding when inputs
	// respect tick and lot size.
	RoundHalfEven RoundingMode = iota
)

// Decimal is an exact fixed-point value: an arbitrary-precision integer
// mantissa and a base-10 scale (number of digits after the decimal
// point), matching the spec's "signed 128-bit mantissa and a scale".
type Decimal struct {
	d decimal.Decimal
}

// Zero is the additive identity.
var Zero = Decimal{d: decimal.Zero}

// NewFromString parses a base-10 string (e.g. "100.00", "-0.001") exactly.
func NewFromString(s string) (Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Decimal{}, fmt.Errorf("money: invalid decimal %q: %w", s, err)
	}
	return Decimal{d: d}, nil
}

// MustFromString is NewFromString but panics on a malformed literal. Only
// use it for constants known-valid at compile time (tests, symbol tables).
func MustFromString(s string) Decimal {
	d, err := NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// NewFromMantissaScale builds mantissa * 10^-scale exactly.
func NewFromMantissaScale(mantissa int64, scale int32) Decimal {
	return Decimal{d: decimal.New(mantissa, -scale)}
}

// NewFromInt builds an integral decimal with scale zero.
func NewFromInt(v int64) Decimal {
	return Decimal{d: decimal.NewFromInt(v)}
}

// MantissaScale returns the (mantissa, scale) pair used by the wire codec
// and the journal sink to persist an exact decimal representation.
func (v Decimal) MantissaScale() (mantissa *big.Int, scale int32) {
	coeff := v.d.Coefficient()
	return coeff, -v.d.Exponent()
}

// digitCount reports how many base-10 digits the decimal's mantissa needs.
func digitCount(v decimal.Decimal) int {
	coeff := v.Coefficient()
	if coeff.Sign() == 0 {
		return 1
	}
	abs := new(big.Int).Abs(coeff)
	return len(abs.String())
}

func checkOverflow(v decimal.Decimal) error {
	if digitCount(v) > maxMantissaDigits {
		return ErrPrecisionOverflow
	}
	return nil
}

// Add returns v + other, detecting mantissa overflow.
func (v Decimal) Add(other Decimal) (Decimal, error) {
	sum := v.d.Add(other.d)
	if err := checkOverflow(sum); err != nil {
		return Decimal{}, err
	}
	return Decimal{d: sum}, nil
}

// Sub returns v - other, detecting mantissa overflow.
func (v Decimal) Sub(other Decimal) (Decimal, error) {
	diff := v.d.Sub(other.d)
	if err := checkOverflow(diff); err != nil {
		return Decimal{}, err
	}
	return Decimal{d: diff}, nil
}

// Mul returns v * other. The result's scale is the sum of the operand
// scales, exactly as the spec requires; no rounding occurs.
func (v Decimal) Mul(other Decimal) (Decimal, error) {
	prod := v.d.Mul(other.d)
	if err := checkOverflow(prod); err != nil {
		return Decimal{}, err
	}
	return Decimal{d: prod}, nil
}

// Rescale changes the decimal's scale, applying mode to any digits beyond
// the new scale.
func (v Decimal) Rescale(scale int32, mode RoundingMode) Decimal {
	switch mode {
	case RoundHalfEven:
		return Decimal{d: v.d.RoundBank(scale)}
	default:
		return Decimal{d: v.d.Round(scale)}
	}
}

// Cmp returns -1, 0, or 1 as v is less than, equal to, or greater than other.
func (v Decimal) Cmp(other Decimal) int { return v.d.Cmp(other.d) }

func (v Decimal) LessThan(other Decimal) bool    { return v.Cmp(other) < 0 }
func (v Decimal) LessOrEqual(other Decimal) bool { return v.Cmp(other) <= 0 }
func (v Decimal) GreaterThan(other Decimal) bool { return v.Cmp(other) > 0 }
func (v Decimal) GreaterOrEqual(other Decimal) bool {
	return v.Cmp(other) >= 0
}
func (v Decimal) Equal(other Decimal) bool { return v.Cmp(other) == 0 }

func (v Decimal) IsZero() bool     { return v.d.IsZero() }
func (v Decimal) IsPositive() bool { return v.d.IsPositive() }
func (v Decimal) IsNegative() bool { return v.d.IsNegative() }

// Min returns the lesser of two decimals.
func Min(a, b Decimal) Decimal {
	if a.LessOrEqual(b) {
		return a
	}
	return b
}

// DivisibleBy reports whether v is an exact integer multiple of step (used
// to validate tick/lot size compliance). step must be positive.
func (v Decimal) DivisibleBy(step Decimal) bool {
	if step.IsZero() {
		return false
	}
	_, rem := v.d.QuoRem(step.d, 0)
	return rem.IsZero()
}

// String renders the decimal in base 10 with all of its scale's digits,
// trailing zeros included ("42.50" stays "42.50").
func (v Decimal) String() string {
	if exp := v.d.Exponent(); exp < 0 {
		return v.d.StringFixed(-exp)
	}
	return v.d.String()
}

// MarshalJSON encodes the decimal as a base-10 JSON string, preserving the
// exact representation per the spec's persisted-state requirement.
func (v Decimal) MarshalJSON() ([]byte, error) {
	return []byte(`"` + v.String() + `"`), nil
}

// UnmarshalJSON decodes a base-10 JSON string produced by MarshalJSON.
func (v *Decimal) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("money: invalid decimal json %q: %w", s, err)
	}
	v.d = d
	return nil
}
