package routing

import (
	"fmt"
	"regexp"
	"time"

	"github.com/interledger/connector/ilp"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// DefaultSourceFilter is the source filter of routes that accept payments
// from every ledger.
const DefaultSourceFilter = "(.*?)"

// routeKey is the identity of a route. Two routes with the same key are the
// same route, whatever their expiry.
type routeKey struct {
	targetPrefix   ilp.Address
	nextHopAccount ilp.Address
	sourceFilter   string
}

// Route tells the connector that payments for addresses under TargetPrefix
// can be handed to NextHopAccount, provided they arrive from a ledger whose
// prefix matches the source filter. A Route is never modified once built.
type Route struct {
	// TargetPrefix is the namespace reachable through this route.
	TargetPrefix ilp.Address

	// NextHopAccount is the account credited on the next ledger.
	NextHopAccount ilp.Address

	// ExpiresAt is when the route stops being usable, if ever.
	ExpiresAt fn.Option[time.Time]

	filterText string
	filter     *regexp.Regexp
}

// RouteOption customizes a route built by NewRoute.
type RouteOption func(*routeOptions)

type routeOptions struct {
	sourceFilter string
	expiresAt    fn.Option[time.Time]
}

// WithSourceFilter restricts the route to source ledgers whose prefix fully
// matches the regular expression.
func WithSourceFilter(pattern string) RouteOption {
	return func(o *routeOptions) {
		o.sourceFilter = pattern
	}
}

// WithExpiry makes the route unusable from the given time on.
func WithExpiry(t time.Time) RouteOption {
	return func(o *routeOptions) {
		o.expiresAt = fn.Some(t)
	}
}

// NewRoute validates its arguments and builds a route.
func NewRoute(targetPrefix, nextHopAccount ilp.Address,
	opts ...RouteOption) (*Route, error) {

	if _, err := ilp.NewPrefix(string(targetPrefix)); err != nil {
		return nil, fmt.Errorf("route target: %w", err)
	}
	if _, err := ilp.NewAccount(string(nextHopAccount)); err != nil {
		return nil, fmt.Errorf("route next hop: %w", err)
	}

	options := routeOptions{
		sourceFilter: DefaultSourceFilter,
		expiresAt:    fn.None[time.Time](),
	}
	for _, opt := range opts {
		opt(&options)
	}

	// The filter has to match the whole source prefix, not just part of
	// it.
	filter, err := regexp.Compile("^(?:" + options.sourceFilter + ")$")
	if err != nil {
		return nil, fmt.Errorf("invalid source filter %q: %w",
			options.sourceFilter, err)
	}

	return &Route{
		TargetPrefix:   targetPrefix,
		NextHopAccount: nextHopAccount,
		ExpiresAt:      options.expiresAt,
		filterText:     options.sourceFilter,
		filter:         filter,
	}, nil
}

// SourceFilter returns the text of the source filter.
func (r *Route) SourceFilter() string {
	return r.filterText
}

// NextHopLedgerPrefix is the ledger the next hop account lives on.
func (r *Route) NextHopLedgerPrefix() ilp.Address {
	return r.NextHopAccount.Prefix()
}

// AcceptsSource reports whether payments arriving from the given ledger may
// use this route.
func (r *Route) AcceptsSource(sourcePrefix ilp.Address) bool {
	return r.filter.MatchString(sourcePrefix.String())
}

// Expired reports whether the route's expiry is at or before now.
func (r *Route) Expired(now time.Time) bool {
	return fn.MapOptionZ(r.ExpiresAt, func(t time.Time) bool {
		return !now.Before(t)
	})
}

// Equal reports whether both routes have the same identity.
func (r *Route) Equal(other *Route) bool {
	return r.key() == other.key()
}

func (r *Route) key() routeKey {
	return routeKey{
		targetPrefix:   r.TargetPrefix,
		nextHopAccount: r.NextHopAccount,
		sourceFilter:   r.filterText,
	}
}

// String returns a compact description for log lines.
func (r *Route) String() string {
	return fmt.Sprintf("%v via %v (source %q)", r.TargetPrefix,
		r.NextHopAccount, r.filterText)
}
