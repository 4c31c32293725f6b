package routing

import (
	"fmt"
	"sync"
	"testing"

	"github.com/interledger/connector/ilp"
	"github.com/stretchr/testify/require"
)

func mustRoute(t testing.TB, target, nextHop string,
	opts ...RouteOption) *Route {

	route, err := NewRoute(
		ilp.MustAddress(target), ilp.MustAddress(nextHop), opts...,
	)
	require.NoError(t, err)

	return route
}

// populatedPrefixMap builds the map used by most tests below.
func populatedPrefixMap(t *testing.T) *PrefixMap {
	m := NewPrefixMap()

	require.True(t, m.Add(mustRoute(t, "g.", "g.mainhub.connie")))
	require.True(t, m.Add(mustRoute(t, "g.foo.", "g.foo.connie")))
	require.True(t, m.Add(mustRoute(t, "g.bar.", "g.bar.connie")))
	require.True(t, m.Add(mustRoute(t, "g.baz.boo.", "g.baz.boo.connie")))
	require.True(t, m.Add(
		mustRoute(t, "g.baz.boo.bar.", "g.baz.boo.bar.connie"),
	))
	require.True(t, m.Add(
		mustRoute(t, "g.baz.boo.bar.", "g.baz.boo.bar.bob"),
	))

	return m
}

// TestNewRouteValidation asserts that routes enforce their address kinds.
func TestNewRouteValidation(t *testing.T) {
	t.Parallel()

	_, err := NewRoute("g.usd.bob", "g.usd.connie")
	require.ErrorIs(t, err, ilp.ErrNotPrefix)

	_, err = NewRoute("g.usd.", "g.usd.")
	require.ErrorIs(t, err, ilp.ErrIsPrefix)

	_, err = NewRoute("g.usd.", "g.usd.connie", WithSourceFilter("("))
	require.Error(t, err)

	_, err = NewRoute("zzz.", "g.usd.connie")
	require.ErrorIs(t, err, ilp.ErrInvalidAddress)

	_, err = NewRoute("g.usd.", "g..connie")
	require.ErrorIs(t, err, ilp.ErrInvalidAddress)

	route := mustRoute(t, "g.usd.", "g.eur.connie")
	require.Equal(t, DefaultSourceFilter, route.SourceFilter())
	require.Equal(t, ilp.Address("g.eur."), route.NextHopLedgerPrefix())
	require.True(t, route.AcceptsSource("g.anything."))
	require.True(t, route.ExpiresAt.IsNone())
}

// TestPrefixMapIdempotentAdd makes sure adding the same route many times
// leaves a single entry.
func TestPrefixMapIdempotentAdd(t *testing.T) {
	t.Parallel()

	m := NewPrefixMap()
	require.True(t, m.Add(mustRoute(t, "g.usd.", "g.usd.connie")))

	for i := 0; i < 10; i++ {
		require.False(t, m.Add(mustRoute(t, "g.usd.", "g.usd.connie")))
	}

	require.Equal(t, 1, m.NumKeys())
	require.Len(t, m.Routes("g.usd."), 1)

	// A different source filter is a different route under the same key.
	require.True(t, m.Add(mustRoute(
		t, "g.usd.", "g.usd.connie", WithSourceFilter(`g\.eur\.`),
	)))
	require.Equal(t, 1, m.NumKeys())
	require.Len(t, m.Routes("g.usd."), 2)
	require.Equal(t, 2, m.NumRoutes())
}

// TestPrefixMapRemove checks single removal and key cleanup.
func TestPrefixMapRemove(t *testing.T) {
	t.Parallel()

	m := populatedPrefixMap(t)
	require.Equal(t, 5, m.NumKeys())

	require.True(t, m.Remove(mustRoute(t, "g.foo.", "g.foo.connie")))
	require.False(t, m.Remove(mustRoute(t, "g.foo.", "g.foo.connie")))
	require.Equal(t, 4, m.NumKeys())
	require.Empty(t, m.Routes("g.foo."))

	// Removing one of two routes under a key keeps the key.
	require.True(t, m.Remove(
		mustRoute(t, "g.baz.boo.bar.", "g.baz.boo.bar.bob"),
	))
	require.Equal(t, 4, m.NumKeys())
	require.Len(t, m.Routes("g.baz.boo.bar."), 1)

	require.False(t, m.Remove(mustRoute(t, "g.nope.", "g.nope.connie")))
}

// TestPrefixMapRemoveAll checks that every route under a key is returned.
func TestPrefixMapRemoveAll(t *testing.T) {
	t.Parallel()

	m := populatedPrefixMap(t)

	removed := m.RemoveAll("g.baz.boo.bar.")
	require.Len(t, removed, 2)
	require.Equal(t, 4, m.NumKeys())
	require.Empty(t, m.Routes("g.baz.boo.bar."))

	require.Empty(t, m.RemoveAll("g.baz.boo.bar."))
}

// TestPrefixMapFindLongestPrefix runs the longest-prefix fixtures.
func TestPrefixMapFindLongestPrefix(t *testing.T) {
	t.Parallel()

	m := populatedPrefixMap(t)

	tests := []struct {
		addr     ilp.Address
		expected ilp.Address
	}{
		{"g.baz.boo.bar.alice", "g.baz.boo.bar."},
		{"g.baz.boo.bar.", "g.baz.boo.bar."},
		{"g.baz.boo.alice", "g.baz.boo."},
		{"g.baz.bob", "g."},
		{"g.bart.", "g."},
		{"g.bart.bob", "g."},
		{"g.bar.", "g.bar."},
		{"g.foo.bob", "g.foo."},
		{"g.1", "g."},
		{"self.me", ""},
	}

	for _, test := range tests {
		got := m.FindLongestPrefix(test.addr).UnwrapOr("")
		require.Equal(t, test.expected, got, "address %v", test.addr)
	}
}

// TestPrefixMapFindNextHopRoutes checks that lookups return the whole set at
// the longest prefix.
func TestPrefixMapFindNextHopRoutes(t *testing.T) {
	t.Parallel()

	m := populatedPrefixMap(t)

	routes := m.FindNextHopRoutes("g.baz.boo.bar.alice")
	require.Len(t, routes, 2)
	for _, route := range routes {
		require.Equal(t, ilp.Address("g.baz.boo.bar."),
			route.TargetPrefix)
	}

	routes = m.FindNextHopRoutes("g.1")
	require.Len(t, routes, 1)
	require.Equal(t, ilp.Address("g.mainhub.connie"),
		routes[0].NextHopAccount)

	require.Empty(t, m.FindNextHopRoutes("self.me"))
}

// TestPrefixMapKeysAndForEach checks enumeration order and early exit.
func TestPrefixMapKeysAndForEach(t *testing.T) {
	t.Parallel()

	m := populatedPrefixMap(t)

	require.Equal(t, []ilp.Address{
		"g.", "g.bar.", "g.baz.boo.", "g.baz.boo.bar.", "g.foo.",
	}, m.Keys())

	var visited int
	err := m.ForEach(func(prefix ilp.Address, routes []*Route) error {
		visited++
		require.NotEmpty(t, routes)

		if prefix == "g.baz.boo." {
			return fmt.Errorf("stop")
		}

		return nil
	})
	require.EqualError(t, err, "stop")
	require.Equal(t, 3, visited)
}

// TestPrefixMapConcurrentAccess exercises lookups while routes are being
// added and removed.
func TestPrefixMapConcurrentAccess(t *testing.T) {
	t.Parallel()

	m := populatedPrefixMap(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)

		go func(i int) {
			defer wg.Done()

			route := mustRoute(
				t, fmt.Sprintf("g.dyn%d.", i),
				fmt.Sprintf("g.dyn%d.connie", i),
			)
			for j := 0; j < 100; j++ {
				m.Add(route)
				m.Remove(route)
			}
		}(i)

		go func() {
			defer wg.Done()

			for j := 0; j < 100; j++ {
				routes := m.FindNextHopRoutes(
					"g.baz.boo.bar.alice",
				)
				require.Len(t, routes, 2)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 5, m.NumKeys())
}
