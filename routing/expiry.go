package routing

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/lightningnetwork/lnd/ticker"
)

// ErrSweeperShuttingDown is returned when the sweeper is asked to do work
// after it has been stopped.
var ErrSweeperShuttingDown = errors.New("route expiry sweeper shutting down")

// SweeperConfig holds the dependencies of an ExpirySweeper.
type SweeperConfig struct {
	// Table is swept for expired routes.
	Table RoutingTable

	// Ticker paces the sweeps.
	Ticker ticker.Ticker
}

// ExpirySweeper periodically removes expired routes from a routing table so
// stale next hops don't accumulate between route updates.
type ExpirySweeper struct {
	started atomic.Bool
	stopped atomic.Bool

	cfg SweeperConfig

	sweepReqs chan chan int

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewExpirySweeper creates a sweeper. It does nothing until Start is called.
func NewExpirySweeper(cfg SweeperConfig) *ExpirySweeper {
	return &ExpirySweeper{
		cfg:       cfg,
		sweepReqs: make(chan chan int),
		quit:      make(chan struct{}),
	}
}

// Start launches the sweeping goroutine.
func (s *ExpirySweeper) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return nil
	}

	log.Info("Route expiry sweeper starting")

	s.cfg.Ticker.Resume()

	s.wg.Add(1)
	go s.sweeper()

	return nil
}

// Stop halts the sweeper and waits for its goroutine to exit.
func (s *ExpirySweeper) Stop() error {
	if !s.stopped.CompareAndSwap(false, true) {
		return nil
	}

	log.Info("Route expiry sweeper shutting down...")
	defer log.Debug("Route expiry sweeper shutdown complete")

	close(s.quit)
	s.wg.Wait()

	s.cfg.Ticker.Stop()

	return nil
}

// SweepNow runs a sweep immediately and returns the number of removed
// routes.
func (s *ExpirySweeper) SweepNow() (int, error) {
	resp := make(chan int, 1)

	select {
	case s.sweepReqs <- resp:
	case <-s.quit:
		return 0, ErrSweeperShuttingDown
	}

	select {
	case n := <-resp:
		return n, nil
	case <-s.quit:
		return 0, ErrSweeperShuttingDown
	}
}

// sweeper is the main loop of the sweeper.
//
// NOTE: MUST be run as a goroutine.
func (s *ExpirySweeper) sweeper() {
	defer s.wg.Done()

	for {
		select {
		case <-s.cfg.Ticker.Ticks():
			s.sweep()

		case resp := <-s.sweepReqs:
			resp <- s.sweep()

		case <-s.quit:
			return
		}
	}
}

func (s *ExpirySweeper) sweep() int {
	expired := s.cfg.Table.RemoveExpiredRoutes()
	for _, route := range expired {
		log.Infof("Removed expired route %v", route)
	}

	return len(expired)
}
