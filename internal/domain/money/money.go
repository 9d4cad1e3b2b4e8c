// Package money implements exact integer arithmetic over cent amounts.
//
// All persisted monetary values are arbitrary-precision integers in the
// smallest currency unit. Floating point never crosses a storage or wire
// boundary; percentages are applied with basis-point scaling.
package money

import (
	"fmt"
	"math"
	"math/big"
	"regexp"
)

// percentScale is the denominator for ApplyPercent: percent values are
// expressed in hundredths of a percent (1500 == 15.00%).
const percentScale = 10000

var centsPattern = regexp.MustCompile(`^-?\d+$`)

// InvalidMoneyError reports an unparseable cents value.
type InvalidMoneyError struct {
	Value string
}

func (e *InvalidMoneyError) Error() string {
	return fmt.Sprintf("invalid money value %q: expected integer cents", e.Value)
}

// Parse converts a decimal-string-safe integer into cents. Only strings
// matching ^-?\d+$ are accepted; anything else (floats, separators, blanks)
// is an InvalidMoneyError, never a silent coercion.
func Parse(s string) (*big.Int, error) {
	if !centsPattern.MatchString(s) {
		return nil, &InvalidMoneyError{Value: s}
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, &InvalidMoneyError{Value: s}
	}
	return v, nil
}

// ParseNumber converts a float received from a lenient boundary (JSON
// numbers) into cents, rounding to the nearest integer. Non-finite values
// are rejected.
func ParseNumber(f float64) (*big.Int, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, &InvalidMoneyError{Value: fmt.Sprintf("%v", f)}
	}
	return big.NewInt(int64(math.Round(f))), nil
}

// FromInt64 wraps an int64 cents value.
func FromInt64(v int64) *big.Int {
	return big.NewInt(v)
}

// Format renders cents as a decimal integer string. Parse(Format(x)) == x
// for every representable value.
func Format(v *big.Int) string {
	return v.String()
}

// Add returns a+b without mutating either operand.
func Add(a, b *big.Int) *big.Int {
	return new(big.Int).Add(a, b)
}

// Sub returns a-b without mutating either operand.
func Sub(a, b *big.Int) *big.Int {
	return new(big.Int).Sub(a, b)
}

// Neg returns -a.
func Neg(a *big.Int) *big.Int {
	return new(big.Int).Neg(a)
}

// ApplyPercent scales value by percentHundredths/10000, truncating toward
// zero. Negative values are permitted (refunds, outflows).
func ApplyPercent(value *big.Int, percentHundredths int64) *big.Int {
	scaled := new(big.Int).Mul(value, big.NewInt(percentHundredths))
	return scaled.Quo(scaled, big.NewInt(percentScale))
}

// ApplyRate scales value by a float rate sampled once at the boundary.
// The rate is converted to percent-hundredths before any cents arithmetic
// so repeated application stays deterministic.
func ApplyRate(value *big.Int, rate float64) *big.Int {
	return ApplyPercent(value, int64(math.Round(rate*percentScale)))
}

// IsNegative reports value < 0.
func IsNegative(v *big.Int) bool {
	return v.Sign() < 0
}

// Zero returns a fresh zero cents value.
func Zero() *big.Int {
	return new(big.Int)
}
