package fx

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

var (
	// ErrInvalidFraction is returned when a spread or slippage value is
	// unparsable or outside [0, 1).
	ErrInvalidFraction = errors.New("fraction must be in [0, 1)")

	one = big.NewRat(1, 1)
)

// ParseFraction parses a decimal ("0.001"), rational ("1/1000") or percent
// ("0.1%") string into an exact fraction in [0, 1).
func ParseFraction(s string) (*big.Rat, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return new(big.Rat), nil
	}

	percent := strings.HasSuffix(s, "%")
	s = strings.TrimSuffix(s, "%")

	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFraction, s)
	}
	if percent {
		r.Quo(r, big.NewRat(100, 1))
	}

	if r.Sign() < 0 || r.Cmp(one) >= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFraction,
			r.FloatString(6))
	}

	return r, nil
}

// ParseRate parses a strictly positive exchange rate.
func ParseRate(s string) (*big.Rat, error) {
	r, ok := new(big.Rat).SetString(strings.TrimSpace(s))
	if !ok || r.Sign() <= 0 {
		return nil, fmt.Errorf("invalid exchange rate %q", s)
	}

	return r, nil
}

// Convert turns an amount of source ledger units into destination ledger
// units. The rate is expressed between whole currency units, so the ledgers'
// scales are applied on both sides. The result is rounded down so the
// connector never promises more than the rate covers.
func Convert(amount *big.Int, rate *big.Rat, srcScale,
	dstScale uint8) *big.Int {

	r := new(big.Rat).SetInt(amount)
	r.Mul(r, rate)
	r.Mul(r, scaleFactor(int(dstScale)-int(srcScale)))

	return floor(r)
}

// ApplySpread reduces an amount by the connector's spread, rounding down.
func ApplySpread(amount *big.Int, spread *big.Rat) *big.Int {
	return floor(reduce(amount, spread))
}

// ApplySlippage reduces an amount by the tolerated slippage, rounding half
// up. At 0.1%, 9999 becomes 9989 and 10000 becomes 9990.
func ApplySlippage(amount *big.Int, slippage *big.Rat) *big.Int {
	return RoundHalfUp(reduce(amount, slippage))
}

// RoundHalfUp rounds a non-negative rational to the nearest integer, ties
// going up.
func RoundHalfUp(r *big.Rat) *big.Int {
	half := new(big.Rat).Add(r, big.NewRat(1, 2))

	return floor(half)
}

// reduce computes amount * (1 - fraction).
func reduce(amount *big.Int, fraction *big.Rat) *big.Rat {
	factor := new(big.Rat).Sub(one, fraction)

	return new(big.Rat).Mul(new(big.Rat).SetInt(amount), factor)
}

// floor rounds a rational towards negative infinity.
func floor(r *big.Rat) *big.Int {
	// Denom is always positive, so Euclidean division floors.
	return new(big.Int).Div(r.Num(), r.Denom())
}

// scaleFactor returns 10^exp as a rational, exp may be negative.
func scaleFactor(exp int) *big.Rat {
	if exp >= 0 {
		return new(big.Rat).SetInt(pow10(exp))
	}

	return new(big.Rat).SetFrac(big.NewInt(1), pow10(-exp))
}

func pow10(exp int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil)
}
