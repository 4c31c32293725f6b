package routing

import (
	"testing"
	"time"

	"github.com/interledger/connector/ilp"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/stretchr/testify/require"
)

var testTime = time.Unix(1_700_000_000, 0)

// TestRoutingTableSourceFilter checks that routes restricted to a source are
// only returned for that source.
func TestRoutingTableSourceFilter(t *testing.T) {
	t.Parallel()

	table := NewInMemoryRoutingTable(clock.NewTestClock(testTime))

	restricted := mustRoute(
		t, "g.eur.", "g.eur.connie",
		WithSourceFilter(`g\.usd\.bar\.`),
	)
	require.True(t, table.AddRoute(restricted))

	routes, err := table.FindNextHopRoutesFrom("g.eur.bob", "g.usd.")
	require.NoError(t, err)
	require.Empty(t, routes)

	routes, err = table.FindNextHopRoutesFrom("g.eur.bob", "g.usd.bar.")
	require.NoError(t, err)
	require.Len(t, routes, 1)
	require.True(t, routes[0].Equal(restricted))

	// Without a source every route at the prefix is returned.
	require.Len(t, table.FindNextHopRoutes("g.eur.bob"), 1)
}

// TestRoutingTableKindValidation makes sure the filtered lookup refuses the
// wrong kind of address.
func TestRoutingTableKindValidation(t *testing.T) {
	t.Parallel()

	table := NewInMemoryRoutingTable(clock.NewTestClock(testTime))
	table.AddRoute(mustRoute(t, "g.", "g.mainhub.connie"))

	_, err := table.FindNextHopRoutesFrom("g.eur.", "g.usd.")
	require.ErrorIs(t, err, ilp.ErrIsPrefix)

	_, err = table.FindNextHopRoutesFrom("g.eur.bob", "g.usd.alice")
	require.ErrorIs(t, err, ilp.ErrNotPrefix)
}

// TestRoutingTableExpiry checks that expired routes are hidden from lookups
// and removed by RemoveExpiredRoutes.
func TestRoutingTableExpiry(t *testing.T) {
	t.Parallel()

	testClock := clock.NewTestClock(testTime)
	table := NewInMemoryRoutingTable(testClock)

	expiring := mustRoute(
		t, "g.eur.", "g.eur.connie",
		WithExpiry(testTime.Add(time.Minute)),
	)
	permanent := mustRoute(t, "g.eur.", "g.eur.dave")
	table.AddRoute(expiring)
	table.AddRoute(permanent)

	require.Len(t, table.FindNextHopRoutes("g.eur.bob"), 2)
	require.Empty(t, table.RemoveExpiredRoutes())

	testClock.SetTime(testTime.Add(time.Minute))
	routes := table.FindNextHopRoutes("g.eur.bob")
	require.Len(t, routes, 1)
	require.True(t, routes[0].Equal(permanent))

	expired := table.RemoveExpiredRoutes()
	require.Len(t, expired, 1)
	require.True(t, expired[0].Equal(expiring))
	require.Len(t, table.RoutesByTargetPrefix("g.eur."), 1)
}

// TestRoutingTableRemoveAll checks bulk removal through the table.
func TestRoutingTableRemoveAll(t *testing.T) {
	t.Parallel()

	table := NewInMemoryRoutingTable(clock.NewTestClock(testTime))
	table.AddRoute(mustRoute(t, "g.eur.", "g.eur.connie"))
	table.AddRoute(mustRoute(t, "g.eur.", "g.eur.dave"))

	require.Len(t, table.RemoveAllRoutesForTargetPrefix("g.eur."), 2)
	require.Empty(t, table.FindNextHopRoutes("g.eur.bob"))
	require.False(t, table.RemoveRoute(mustRoute(t, "g.eur.", "g.eur.dave")))
}

// TestPaymentRouter checks next hop selection, including the random choice
// among equally specific routes.
func TestPaymentRouter(t *testing.T) {
	t.Parallel()

	table := NewInMemoryRoutingTable(clock.NewTestClock(testTime))
	router := NewSimplePaymentRouter(table)

	none := router.FindBestNextHop("g.eur.bob", fn.None[ilp.Address]())
	require.True(t, none.IsNone())

	table.AddRoute(mustRoute(t, "g.", "g.mainhub.connie"))
	table.AddRoute(mustRoute(t, "g.eur.", "g.eur.connie"))
	table.AddRoute(mustRoute(t, "g.eur.", "g.eur.dave"))

	// The less specific route is never picked.
	seen := make(map[ilp.Address]int)
	for i := 0; i < 200; i++ {
		route := router.FindBestNextHop(
			"g.eur.bob", fn.Some(ilp.Address("g.usd.")),
		)
		require.True(t, route.IsSome())

		seen[route.UnsafeFromSome().NextHopAccount]++
	}
	require.Len(t, seen, 2)
	require.Contains(t, seen, ilp.Address("g.eur.connie"))
	require.Contains(t, seen, ilp.Address("g.eur.dave"))

	fallback := router.FindBestNextHop("g.cad.bob", fn.None[ilp.Address]())
	require.Equal(t, ilp.Address("g.mainhub.connie"),
		fallback.UnsafeFromSome().NextHopAccount)

	// An invalid source yields no route rather than an error.
	bad := router.FindBestNextHop(
		"g.eur.bob", fn.Some(ilp.Address("g.usd.alice")),
	)
	require.True(t, bad.IsNone())
}

// TestExpirySweeper checks that a tick removes expired routes.
func TestExpirySweeper(t *testing.T) {
	t.Parallel()

	testClock := clock.NewTestClock(testTime)
	table := NewInMemoryRoutingTable(testClock)
	table.AddRoute(mustRoute(
		t, "g.eur.", "g.eur.connie",
		WithExpiry(testTime.Add(time.Minute)),
	))

	forceTicker := ticker.NewForce(time.Hour)
	sweeper := NewExpirySweeper(SweeperConfig{
		Table:  table,
		Ticker: forceTicker,
	})
	require.NoError(t, sweeper.Start())
	t.Cleanup(func() {
		require.NoError(t, sweeper.Stop())
	})

	n, err := sweeper.SweepNow()
	require.NoError(t, err)
	require.Zero(t, n)

	testClock.SetTime(testTime.Add(2 * time.Minute))
	forceTicker.Force <- testClock.Now()

	require.Eventually(t, func() bool {
		return len(table.RoutesByTargetPrefix("g.eur.")) == 0
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, sweeper.Stop())
	_, err = sweeper.SweepNow()
	require.ErrorIs(t, err, ErrSweeperShuttingDown)
}
