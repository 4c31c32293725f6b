package routing

import (
	"sort"
	"sync"

	"github.com/interledger/connector/ilp"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// PrefixMap stores routes keyed by their exact target prefix. Several routes
// may share a key, for instance when they lead to different next hops or
// accept different sources. All methods are safe for concurrent use, and
// lookups never observe a partially inserted route since routes are fully
// built before they're added.
type PrefixMap struct {
	mu     sync.RWMutex
	routes map[ilp.Address]map[routeKey]*Route
}

// NewPrefixMap returns an empty map.
func NewPrefixMap() *PrefixMap {
	return &PrefixMap{
		routes: make(map[ilp.Address]map[routeKey]*Route),
	}
}

// Add inserts the route. It returns false, leaving the map untouched, if an
// equal route is already present.
func (p *PrefixMap) Add(route *Route) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	set, ok := p.routes[route.TargetPrefix]
	if !ok {
		set = make(map[routeKey]*Route)
		p.routes[route.TargetPrefix] = set
	}

	key := route.key()
	if _, ok := set[key]; ok {
		return false
	}
	set[key] = route

	return true
}

// Remove deletes the route equal to the given one, returning whether there
// was one. A key whose set becomes empty is dropped.
func (p *PrefixMap) Remove(route *Route) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	set, ok := p.routes[route.TargetPrefix]
	if !ok {
		return false
	}

	key := route.key()
	if _, ok := set[key]; !ok {
		return false
	}

	delete(set, key)
	if len(set) == 0 {
		delete(p.routes, route.TargetPrefix)
	}

	return true
}

// RemoveAll deletes and returns every route stored under the exact prefix.
func (p *PrefixMap) RemoveAll(prefix ilp.Address) []*Route {
	p.mu.Lock()
	defer p.mu.Unlock()

	set, ok := p.routes[prefix]
	if !ok {
		return nil
	}
	delete(p.routes, prefix)

	return sortedRoutes(set)
}

// Routes returns the routes stored under the exact prefix. No prefix matching
// takes place.
func (p *PrefixMap) Routes(prefix ilp.Address) []*Route {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return sortedRoutes(p.routes[prefix])
}

// NumKeys returns the number of distinct populated prefixes.
func (p *PrefixMap) NumKeys() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return len(p.routes)
}

// NumRoutes returns the total number of routes over all prefixes.
func (p *PrefixMap) NumRoutes() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var n int
	for _, set := range p.routes {
		n += len(set)
	}

	return n
}

// Keys returns the populated prefixes in lexical order.
func (p *PrefixMap) Keys() []ilp.Address {
	p.mu.RLock()
	defer p.mu.RUnlock()

	keys := make([]ilp.Address, 0, len(p.routes))
	for key := range p.routes {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i] < keys[j]
	})

	return keys
}

// ForEach calls cb for every populated prefix in lexical order. Iteration
// stops at the first error, which is returned. The callback runs on a
// snapshot so it may modify the map.
func (p *PrefixMap) ForEach(cb func(ilp.Address, []*Route) error) error {
	for _, key := range p.Keys() {
		routes := p.Routes(key)
		if len(routes) == 0 {
			continue
		}

		if err := cb(key, routes); err != nil {
			return err
		}
	}

	return nil
}

// FindLongestPrefix walks the ancestor prefixes of addr, most specific first,
// and returns the first one that is populated.
func (p *PrefixMap) FindLongestPrefix(addr ilp.Address) fn.Option[ilp.Address] {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.findLongestPrefix(addr)
}

func (p *PrefixMap) findLongestPrefix(addr ilp.Address) fn.Option[ilp.Address] {
	for _, ancestor := range addr.Ancestors() {
		if _, ok := p.routes[ancestor]; ok {
			return fn.Some(ancestor)
		}
	}

	return fn.None[ilp.Address]()
}

// FindNextHopRoutes returns the routes stored under the longest populated
// prefix of dest.
func (p *PrefixMap) FindNextHopRoutes(dest ilp.Address) []*Route {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return fn.MapOptionZ(
		p.findLongestPrefix(dest), func(prefix ilp.Address) []*Route {
			return sortedRoutes(p.routes[prefix])
		},
	)
}

// sortedRoutes copies a route set into a slice with a stable order.
func sortedRoutes(set map[routeKey]*Route) []*Route {
	if len(set) == 0 {
		return nil
	}

	routes := make([]*Route, 0, len(set))
	for _, route := range set {
		routes = append(routes, route)
	}
	sort.Slice(routes, func(i, j int) bool {
		a, b := routes[i].key(), routes[j].key()
		if a.nextHopAccount != b.nextHopAccount {
			return a.nextHopAccount < b.nextHopAccount
		}

		return a.sourceFilter < b.sourceFilter
	})

	return routes
}
