// Package fixedpoint implements 18-decimal fixed-point amounts on top of
// 256-bit unsigned integers. Every checked operation reports overflow instead
// of wrapping.
package fixedpoint

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

// Decimals is the number of implied decimal places ("ether" units).
const Decimals = 18

var (
	ErrOverflow       = errors.New("arithmetic overflow")
	ErrDivisionByZero = errors.New("division by zero")
	ErrMalformed      = errors.New("malformed amount")
)

const unit uint64 = 1_000_000_000_000_000_000

var unitBig = new(big.Int).SetUint64(unit)

// Unit returns 10^18, the fixed-point representation of 1.
func Unit() *uint256.Int {
	return uint256.NewInt(unit)
}

// Zero returns a fresh zero value.
func Zero() *uint256.Int {
	return new(uint256.Int)
}

// Ether scales a whole number of tokens to fixed-point units.
func Ether(n uint64) *uint256.Int {
	out, _ := new(uint256.Int).MulOverflow(uint256.NewInt(n), Unit())
	return out
}

// Parse converts a decimal string such as "1.5" into fixed-point units.
func Parse(input string) (*uint256.Int, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, fmt.Errorf("%w: empty", ErrMalformed)
	}

	whole, frac, hasDot := strings.Cut(input, ".")
	if hasDot && frac == "" && whole == "" {
		return nil, fmt.Errorf("%w: %q", ErrMalformed, input)
	}
	if !isDigits(whole) || !isDigits(frac) {
		return nil, fmt.Errorf("%w: %q", ErrMalformed, input)
	}
	if len(frac) > Decimals {
		return nil, fmt.Errorf("%w: more than %d decimals in %q", ErrMalformed, Decimals, input)
	}

	digits := whole + frac + strings.Repeat("0", Decimals-len(frac))
	value, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMalformed, input)
	}

	out, overflow := uint256.FromBig(value)
	if overflow {
		return nil, fmt.Errorf("%w: %q", ErrOverflow, input)
	}
	return out, nil
}

// ParseUnits converts a raw integer string (smallest units) into a value.
func ParseUnits(input string) (*uint256.Int, error) {
	input = strings.TrimSpace(input)
	if input == "" || !isDigits(input) {
		return nil, fmt.Errorf("%w: %q", ErrMalformed, input)
	}
	value, ok := new(big.Int).SetString(input, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMalformed, input)
	}
	out, overflow := uint256.FromBig(value)
	if overflow {
		return nil, fmt.Errorf("%w: %q", ErrOverflow, input)
	}
	return out, nil
}

// Format renders a fixed-point value as a decimal string without trailing zeros.
func Format(value *uint256.Int) string {
	if value == nil || value.IsZero() {
		return "0"
	}
	rat := new(big.Rat).SetFrac(value.ToBig(), unitBig)
	text := rat.FloatString(Decimals)
	text = strings.TrimRight(text, "0")
	return strings.TrimSuffix(text, ".")
}

// Units renders the raw integer value.
func Units(value *uint256.Int) string {
	if value == nil {
		return "0"
	}
	return value.ToBig().String()
}

// Ratio returns num/den rounded to the given number of decimal places.
func Ratio(num, den *uint256.Int, places int) (string, error) {
	if den == nil || den.IsZero() {
		return "", ErrDivisionByZero
	}
	if num == nil {
		num = Zero()
	}
	rat := new(big.Rat).SetFrac(num.ToBig(), den.ToBig())
	return rat.FloatString(places), nil
}

func Add(x, y *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return nil, fmt.Errorf("%w: %s + %s", ErrOverflow, Units(x), Units(y))
	}
	return out, nil
}

// Sub fails when y > x; unsigned amounts never go negative.
func Sub(x, y *uint256.Int) (*uint256.Int, error) {
	out, underflow := new(uint256.Int).SubOverflow(x, y)
	if underflow {
		return nil, fmt.Errorf("%w: %s - %s", ErrOverflow, Units(x), Units(y))
	}
	return out, nil
}

func Mul(x, y *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).MulOverflow(x, y)
	if overflow {
		return nil, fmt.Errorf("%w: %s * %s", ErrOverflow, Units(x), Units(y))
	}
	return out, nil
}

// Div is floor division.
func Div(x, y *uint256.Int) (*uint256.Int, error) {
	if y.IsZero() {
		return nil, ErrDivisionByZero
	}
	return new(uint256.Int).Div(x, y), nil
}

// MulDiv computes floor(x*y/d) with a 512-bit intermediate product, so it
// only fails when the result itself does not fit in 256 bits.
func MulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrDivisionByZero
	}
	out, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, fmt.Errorf("%w: %s * %s / %s", ErrOverflow, Units(x), Units(y), Units(d))
	}
	return out, nil
}

// Clone copies v, treating nil as zero.
func Clone(v *uint256.Int) *uint256.Int {
	if v == nil {
		return Zero()
	}
	return new(uint256.Int).Set(v)
}

func isDigits(input string) bool {
	for _, r := range input {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
