package money

import (
	"encoding/json"
	"math/big"
	"strconv"
	"strings"
)

// Cents is a cent amount that crosses JSON boundaries as a decimal string.
// Marshaling always emits a quoted integer so arbitrary precision survives
// every decoder; unmarshaling accepts both the string form and a bare JSON
// number, which is rounded to the nearest cent.
type Cents big.Int

// NewCents wraps an int64 cents value.
func NewCents(v int64) *Cents {
	return (*Cents)(big.NewInt(v))
}

// AsCents reinterprets a big.Int as Cents without copying. Nil stays nil.
func AsCents(v *big.Int) *Cents {
	if v == nil {
		return nil
	}
	return (*Cents)(v)
}

// Big exposes the underlying integer for arithmetic.
func (c *Cents) Big() *big.Int {
	return (*big.Int)(c)
}

func (c *Cents) String() string {
	return (*big.Int)(c).String()
}

// Sign reports -1, 0 or +1.
func (c *Cents) Sign() int {
	return (*big.Int)(c).Sign()
}

// MarshalJSON emits the amount as a quoted decimal integer.
func (c *Cents) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote((*big.Int)(c).String())), nil
}

// UnmarshalJSON accepts quoted integer strings under the same ^-?\d+$ rule
// as Parse, plus bare JSON numbers for lenient callers.
func (c *Cents) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		return nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := Parse(s)
		if err != nil {
			return err
		}
		(*big.Int)(c).Set(v)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return &InvalidMoneyError{Value: trimmed}
	}
	v, err := ParseNumber(f)
	if err != nil {
		return err
	}
	(*big.Int)(c).Set(v)
	return nil
}
