package routing

import (
	"github.com/interledger/connector/ilp"
	"github.com/lightningnetwork/lnd/clock"
)

// RoutingTable stores the routes known to the connector and answers next hop
// queries with longest-prefix matching.
type RoutingTable interface {
	// AddRoute inserts a route, returning false if an equal route was
	// already present.
	AddRoute(route *Route) bool

	// RemoveRoute removes the route equal to the given one, returning
	// whether one was found.
	RemoveRoute(route *Route) bool

	// RoutesByTargetPrefix returns the routes stored under exactly the
	// given prefix.
	RoutesByTargetPrefix(prefix ilp.Address) []*Route

	// RemoveAllRoutesForTargetPrefix removes and returns every route
	// stored under exactly the given prefix.
	RemoveAllRoutesForTargetPrefix(prefix ilp.Address) []*Route

	// ForEach visits every populated prefix and its routes.
	ForEach(cb func(ilp.Address, []*Route) error) error

	// FindNextHopRoutes returns the usable routes stored under the longest
	// populated prefix of dest.
	FindNextHopRoutes(dest ilp.Address) []*Route

	// FindNextHopRoutesFrom is like FindNextHopRoutes but only returns
	// routes accepting payments from sourcePrefix. dest must be an
	// account and sourcePrefix a prefix.
	FindNextHopRoutesFrom(dest, sourcePrefix ilp.Address) ([]*Route,
		error)

	// RemoveExpiredRoutes drops every route that has expired and returns
	// them.
	RemoveExpiredRoutes() []*Route
}

// InMemoryRoutingTable is a RoutingTable backed by a PrefixMap.
type InMemoryRoutingTable struct {
	routes *PrefixMap
	clock  clock.Clock
}

// A compile-time check to ensure InMemoryRoutingTable implements
// RoutingTable.
var _ RoutingTable = (*InMemoryRoutingTable)(nil)

// NewInMemoryRoutingTable returns an empty table that evaluates route expiry
// against the passed clock.
func NewInMemoryRoutingTable(clk clock.Clock) *InMemoryRoutingTable {
	return &InMemoryRoutingTable{
		routes: NewPrefixMap(),
		clock:  clk,
	}
}

// AddRoute inserts a route, returning false if an equal route was already
// present.
func (t *InMemoryRoutingTable) AddRoute(route *Route) bool {
	added := t.routes.Add(route)
	if added {
		log.Debugf("Added route %v", route)
	}

	return added
}

// RemoveRoute removes the route equal to the given one.
func (t *InMemoryRoutingTable) RemoveRoute(route *Route) bool {
	removed := t.routes.Remove(route)
	if removed {
		log.Debugf("Removed route %v", route)
	}

	return removed
}

// RoutesByTargetPrefix returns the routes stored under exactly prefix.
func (t *InMemoryRoutingTable) RoutesByTargetPrefix(
	prefix ilp.Address) []*Route {

	return t.routes.Routes(prefix)
}

// RemoveAllRoutesForTargetPrefix removes and returns every route stored under
// exactly prefix.
func (t *InMemoryRoutingTable) RemoveAllRoutesForTargetPrefix(
	prefix ilp.Address) []*Route {

	removed := t.routes.RemoveAll(prefix)
	if len(removed) > 0 {
		log.Debugf("Removed %d routes for %v", len(removed), prefix)
	}

	return removed
}

// ForEach visits every populated prefix and its routes.
func (t *InMemoryRoutingTable) ForEach(
	cb func(ilp.Address, []*Route) error) error {

	return t.routes.ForEach(cb)
}

// FindNextHopRoutes returns the unexpired routes stored under the longest
// populated prefix of dest.
func (t *InMemoryRoutingTable) FindNextHopRoutes(dest ilp.Address) []*Route {
	now := t.clock.Now()

	var usable []*Route
	for _, route := range t.routes.FindNextHopRoutes(dest) {
		if route.Expired(now) {
			continue
		}
		usable = append(usable, route)
	}

	return usable
}

// FindNextHopRoutesFrom returns the unexpired routes under the longest
// populated prefix of dest whose source filter accepts sourcePrefix.
func (t *InMemoryRoutingTable) FindNextHopRoutesFrom(dest,
	sourcePrefix ilp.Address) ([]*Route, error) {

	if err := ilp.RequireNotPrefix(dest); err != nil {
		return nil, err
	}
	if err := ilp.RequirePrefix(sourcePrefix); err != nil {
		return nil, err
	}

	var eligible []*Route
	for _, route := range t.FindNextHopRoutes(dest) {
		if !route.AcceptsSource(sourcePrefix) {
			continue
		}
		eligible = append(eligible, route)
	}

	return eligible, nil
}

// RemoveExpiredRoutes drops every route whose expiry has passed.
func (t *InMemoryRoutingTable) RemoveExpiredRoutes() []*Route {
	now := t.clock.Now()

	var expired []*Route
	_ = t.routes.ForEach(func(_ ilp.Address, routes []*Route) error {
		for _, route := range routes {
			if !route.Expired(now) {
				continue
			}

			if t.routes.Remove(route) {
				expired = append(expired, route)
			}
		}

		return nil
	})

	return expired
}

// NumRoutes returns the number of stored routes, expired or not.
func (t *InMemoryRoutingTable) NumRoutes() int {
	return t.routes.NumRoutes()
}

// NumPrefixes returns the number of distinct target prefixes.
func (t *InMemoryRoutingTable) NumPrefixes() int {
	return t.routes.NumKeys()
}
