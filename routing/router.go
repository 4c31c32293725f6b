package routing

import (
	"math/rand/v2"

	"github.com/interledger/connector/ilp"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// PaymentRouter picks the next hop for a payment.
type PaymentRouter interface {
	// FindBestNextHop returns a route towards dest. When a source ledger
	// is given, only routes accepting payments from it are considered.
	// None is returned if no route is eligible, in which case the payment
	// can't be forwarded.
	FindBestNextHop(dest ilp.Address,
		sourcePrefix fn.Option[ilp.Address]) fn.Option[*Route]
}

// SimplePaymentRouter selects among the eligible routes at the longest
// matching prefix. When several routes are equally specific it picks one at
// random, so callers must not rely on a particular choice.
type SimplePaymentRouter struct {
	table RoutingTable
}

// A compile-time check to ensure SimplePaymentRouter implements
// PaymentRouter.
var _ PaymentRouter = (*SimplePaymentRouter)(nil)

// NewSimplePaymentRouter creates a router over the given table.
func NewSimplePaymentRouter(table RoutingTable) *SimplePaymentRouter {
	return &SimplePaymentRouter{
		table: table,
	}
}

// FindBestNextHop returns one eligible route towards dest.
func (r *SimplePaymentRouter) FindBestNextHop(dest ilp.Address,
	sourcePrefix fn.Option[ilp.Address]) fn.Option[*Route] {

	var (
		routes []*Route
		err    error
	)
	if sourcePrefix.IsSome() {
		routes, err = r.table.FindNextHopRoutesFrom(
			dest, sourcePrefix.UnsafeFromSome(),
		)
		if err != nil {
			log.Debugf("Unable to look up routes to %v: %v", dest,
				err)

			return fn.None[*Route]()
		}
	} else {
		routes = r.table.FindNextHopRoutes(dest)
	}

	switch len(routes) {
	case 0:
		log.Debugf("No route to %v", dest)

		return fn.None[*Route]()

	case 1:
		return fn.Some(routes[0])
	}

	choice := routes[rand.IntN(len(routes))]
	log.Tracef("Picked %v out of %d routes to %v", choice, len(routes),
		dest)

	return fn.Some(choice)
}
