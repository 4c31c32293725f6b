package fx

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
)

// ErrNoRate is returned when no exchange rate is configured between two
// currencies. Forwarding between them is impossible.
var ErrNoRate = errors.New("no exchange rate configured")

// RateProvider returns the exchange rate between two currencies: one unit of
// src is worth rate units of dst.
type RateProvider interface {
	// Rate returns the rate from src to dst, or an error wrapping
	// ErrNoRate.
	Rate(src, dst string) (*big.Rat, error)
}

type currencyPair struct {
	src, dst string
}

// StaticRates is a RateProvider backed by a fixed table. Identical currencies
// always convert at 1 and a pair that is only configured in the opposite
// direction is served with the inverted rate.
type StaticRates struct {
	mu    sync.RWMutex
	rates map[currencyPair]*big.Rat
}

// A compile-time check to ensure StaticRates implements RateProvider.
var _ RateProvider = (*StaticRates)(nil)

// NewStaticRates returns an empty rate table.
func NewStaticRates() *StaticRates {
	return &StaticRates{
		rates: make(map[currencyPair]*big.Rat),
	}
}

// Set configures the rate from src to dst.
func (s *StaticRates) Set(src, dst string, rate *big.Rat) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pair := currencyPair{
		src: strings.ToUpper(src),
		dst: strings.ToUpper(dst),
	}
	s.rates[pair] = new(big.Rat).Set(rate)

	log.Debugf("Set rate %v->%v = %v", pair.src, pair.dst,
		rate.FloatString(8))
}

// Rate returns the rate from src to dst.
func (s *StaticRates) Rate(src, dst string) (*big.Rat, error) {
	src, dst = strings.ToUpper(src), strings.ToUpper(dst)
	if src == dst {
		return big.NewRat(1, 1), nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if rate, ok := s.rates[currencyPair{src: src, dst: dst}]; ok {
		return new(big.Rat).Set(rate), nil
	}

	if rate, ok := s.rates[currencyPair{src: dst, dst: src}]; ok {
		return new(big.Rat).Inv(rate), nil
	}

	return nil, fmt.Errorf("%w: %v->%v", ErrNoRate, src, dst)
}

// ParseRateSpec parses a "SRC:DST:RATE" definition as found in the
// configuration.
func ParseRateSpec(spec string) (string, string, *big.Rat, error) {
	parts := strings.Split(spec, ":")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return "", "", nil, fmt.Errorf("invalid rate %q, expected "+
			"SRC:DST:RATE", spec)
	}

	rate, err := ParseRate(parts[2])
	if err != nil {
		return "", "", nil, err
	}

	return strings.ToUpper(parts[0]), strings.ToUpper(parts[1]), rate, nil
}
