package chain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	harvesterr "github.com/mrz1836/harvest/pkg/errors"
)

// Balance is an immutable amount in a chain's base unit.
// The zero value is zero. Arithmetic returns new values.
type Balance struct {
	i *big.Int
}

// NewBalance creates a Balance from an int64.
func NewBalance(v int64) Balance {
	return Balance{i: big.NewInt(v)}
}

// BalanceFromBig copies x into a Balance. A nil x is zero.
func BalanceFromBig(x *big.Int) Balance {
	if x == nil {
		return Balance{}
	}
	return Balance{i: new(big.Int).Set(x)}
}

// ParseBalance parses a base-unit amount written as decimal or 0x-prefixed hex.
func ParseBalance(s string) (Balance, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Balance{}, nil
	}
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
		base = 16
		if s == "" {
			return Balance{}, nil
		}
	}
	v, ok := new(big.Int).SetString(s, base)
	if !ok {
		return Balance{}, fmt.Errorf("%w: %q", harvesterr.ErrInvalidAmount, s)
	}
	return Balance{i: v}, nil
}

// MustBalance parses s and panics on failure. For tests and constants.
func MustBalance(s string) Balance {
	b, err := ParseBalance(s)
	if err != nil {
		panic(err)
	}
	return b
}

// Big returns a copy of the underlying integer.
func (b Balance) Big() *big.Int {
	if b.i == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(b.i)
}

func (b Balance) v() *big.Int {
	if b.i == nil {
		return new(big.Int)
	}
	return b.i
}

// String returns the decimal representation.
func (b Balance) String() string {
	return b.v().String()
}

// IsZero reports whether b == 0.
func (b Balance) IsZero() bool {
	return b.v().Sign() == 0
}

// Sign returns -1, 0 or +1.
func (b Balance) Sign() int {
	return b.v().Sign()
}

// Cmp compares b and o.
func (b Balance) Cmp(o Balance) int {
	return b.v().Cmp(o.v())
}

// Add returns b + o.
func (b Balance) Add(o Balance) Balance {
	return Balance{i: new(big.Int).Add(b.v(), o.v())}
}

// Sub returns b - o.
func (b Balance) Sub(o Balance) Balance {
	return Balance{i: new(big.Int).Sub(b.v(), o.v())}
}

// SubFloor returns b - o, or zero when o > b.
func (b Balance) SubFloor(o Balance) Balance {
	if b.Cmp(o) <= 0 {
		return Balance{}
	}
	return b.Sub(o)
}

// Mul returns b * o.
func (b Balance) Mul(o Balance) Balance {
	return Balance{i: new(big.Int).Mul(b.v(), o.v())}
}

// Div returns b / o truncated toward zero. Division by zero yields zero.
func (b Balance) Div(o Balance) Balance {
	if o.IsZero() {
		return Balance{}
	}
	return Balance{i: new(big.Int).Quo(b.v(), o.v())}
}

// MulDiv returns b * num / den with truncating division, in that operand order.
func (b Balance) MulDiv(num, den Balance) Balance {
	return b.Mul(num).Div(den)
}

// Max returns the larger of b and o.
func (b Balance) Max(o Balance) Balance {
	if b.Cmp(o) >= 0 {
		return b
	}
	return o
}

// Min returns the smaller of b and o.
func (b Balance) Min(o Balance) Balance {
	if b.Cmp(o) <= 0 {
		return b
	}
	return o
}

// SumBalances adds every value.
func SumBalances(values ...Balance) Balance {
	total := new(big.Int)
	for _, v := range values {
		total.Add(total, v.v())
	}
	return Balance{i: total}
}

// MarshalJSON encodes the balance as a quoted decimal string.
func (b Balance) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}

// UnmarshalJSON accepts a JSON number, a decimal string or a 0x hex string.
func (b *Balance) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*b = Balance{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := ParseBalance(s)
		if err != nil {
			return err
		}
		*b = parsed
		return nil
	}
	parsed, err := ParseBalance(string(data))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// MarshalYAML encodes the balance as a decimal string.
func (b Balance) MarshalYAML() (any, error) {
	return b.String(), nil
}
