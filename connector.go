package connector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/interledger/connector/adminrpc"
	"github.com/interledger/connector/build"
	"github.com/interledger/connector/correlation"
	"github.com/interledger/connector/ilp"
	"github.com/interledger/connector/ledger"
	"github.com/interledger/connector/monitoring"
	"github.com/interledger/connector/routing"
	"github.com/interledger/connector/settlement"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/healthcheck"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// shutdownTimeout bounds how long the HTTP servers get to finish open
// requests on shutdown.
const shutdownTimeout = 5 * time.Second

// Connector ties the ledger plugins, the routing table and the settlement
// engine together. Every plugin gets its own goroutine pumping its events into
// the engine.
type Connector struct {
	started atomic.Bool
	stopped atomic.Bool

	cfg *Config

	// requestShutdown asks the process to shut down after a fatal error.
	requestShutdown func()

	clock clock.Clock

	store      correlation.Store
	closeStore func() error

	manager *ledger.Manager
	table   *routing.InMemoryRoutingTable
	router  *routing.SimplePaymentRouter
	sweeper *routing.ExpirySweeper
	engine  *settlement.Engine

	registry *prometheus.Registry
	metrics  *monitoring.Metrics
	exporter *monitoring.Exporter

	admin  *adminrpc.Server
	health *healthcheck.Monitor

	// pumps runs the event pumps and reconnection attempts.
	pumps *fn.GoroutineManager

	// reconnects paces reconnection attempts over all ledgers.
	reconnects *rate.Limiter

	// plugins holds every plugin the connector created, registered with
	// the manager or not.
	plugins map[ilp.Address]ledger.Plugin

	// attempts counts consecutive failed reconnections per ledger.
	attempts map[ilp.Address]int

	mu sync.Mutex
}

// New assembles a connector from a validated configuration. requestShutdown
// is called when the connector hits an error it can't recover from.
func New(cfg *Config, requestShutdown func()) (*Connector, error) {
	return newConnector(cfg, requestShutdown, clock.NewDefaultClock())
}

func newConnector(cfg *Config, requestShutdown func(),
	clk clock.Clock) (*Connector, error) {

	store, closeStore, err := correlation.Open(cfg.DB, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("unable to open correlation store: %w",
			err)
	}

	c := &Connector{
		cfg:             cfg,
		requestShutdown: requestShutdown,
		clock:           clk,
		store:           store,
		closeStore:      closeStore,
		registry:        prometheus.NewRegistry(),
		pumps:           fn.NewGoroutineManager(),
		reconnects: rate.NewLimiter(
			rate.Every(cfg.Reconnect.Interval), 1,
		),
		plugins:  make(map[ilp.Address]ledger.Plugin),
		attempts: make(map[ilp.Address]int),
	}

	c.manager = ledger.NewManager(ledger.ManagerConfig{
		Correlations: store,
	})
	c.table = routing.NewInMemoryRoutingTable(clk)
	c.router = routing.NewSimplePaymentRouter(c.table)
	c.sweeper = routing.NewExpirySweeper(routing.SweeperConfig{
		Table:  c.table,
		Ticker: ticker.New(cfg.Routing.SweepInterval),
	})

	for _, route := range cfg.routes {
		c.table.AddRoute(route)
	}

	c.metrics, err = monitoring.NewMetrics(c.registry)
	if err != nil {
		_ = closeStore()
		return nil, err
	}
	err = monitoring.RegisterGauges(c.registry, monitoring.GaugeSources{
		Ledgers: func() int {
			return len(c.manager.Prefixes())
		},
		Routes:        c.table.NumRoutes,
		RoutePrefixes: c.table.NumPrefixes,
	})
	if err != nil {
		_ = closeStore()
		return nil, err
	}

	c.engine, err = settlement.New(settlement.Config{
		Plugins:              c.manager,
		Router:               c.router,
		Rates:                cfg.rates,
		Spread:               cfg.spread,
		Slippage:             cfg.slippage,
		TransferExpiryWindow: cfg.Transfers.ExpiryWindow,
		MinMessageWindow:     cfg.Transfers.MinMessageWindow,
		MaxHoldTime:          cfg.Transfers.MaxHoldTime,
		Secret:               cfg.secret,
		Clock:                clk,
		Metrics:              c.metrics,
	})
	if err != nil {
		_ = closeStore()
		return nil, err
	}

	if cfg.Prometheus.Enabled() {
		c.exporter = monitoring.NewExporter(cfg.Prometheus, c.registry)
	}

	if !cfg.Admin.Disable {
		c.admin = adminrpc.New(&adminrpc.Config{
			Listen:       cfg.Admin.Listen,
			Routes:       c.table,
			Router:       c.router,
			Ledgers:      c.manager,
			Correlations: store,
		})
	}

	if check := cfg.HealthChecks.DBCheck; check.Interval > 0 {
		dbCheck := healthcheck.NewObservation(
			"correlation store",
			func() error {
				return correlation.Probe(c.store)
			},
			check.Interval, check.Timeout, check.Backoff,
			check.Attempts,
		)

		c.health = healthcheck.NewMonitor(&healthcheck.Config{
			Checks: []*healthcheck.Observation{dbCheck},
			Shutdown: func(format string, params ...interface{}) {
				log.Criticalf("Health check: "+format,
					params...)
				c.requestShutdown()
			},
		})
	}

	return c, nil
}

// Start connects every configured ledger and starts serving. Ledgers are
// connected concurrently, and the first one failing to connect aborts the
// start.
func (c *Connector) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return nil
	}

	log.Infof("Connector starting with %d ledgers and %d routes",
		len(c.cfg.pluginConfigs), c.table.NumRoutes())

	if c.cfg.Routing.BroadcastInterval > 0 {
		log.Debugf("Route broadcasting is not supported, ignoring "+
			"broadcast interval %v", c.cfg.Routing.BroadcastInterval)
	}

	if err := c.sweeper.Start(); err != nil {
		return err
	}

	// Every plugin is built before any of them connects, so a bad ledger
	// definition leaves nothing running.
	plugins := make([]ledger.Plugin, 0, len(c.cfg.pluginConfigs))
	for _, pluginCfg := range c.cfg.pluginConfigs {
		plugin, err := ledger.NewPlugin(pluginCfg)
		if err != nil {
			return err
		}
		plugins = append(plugins, plugin)
	}

	g, gCtx := errgroup.WithContext(ctx)
	for i, pluginCfg := range c.cfg.pluginConfigs {
		plugin := plugins[i]

		c.mu.Lock()
		c.plugins[pluginCfg.Prefix] = plugin
		c.mu.Unlock()

		// The pump has to run before the plugin connects so a failed
		// connection's error event is consumed.
		c.startPump(ctx, pluginCfg, plugin)

		pluginCfg := pluginCfg
		g.Go(func() error {
			return c.manager.AddPlugin(gCtx, pluginCfg, plugin)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if c.health != nil {
		if err := c.health.Start(); err != nil {
			return err
		}
	}

	if c.exporter != nil {
		if err := c.exporter.Start(); err != nil {
			return err
		}
	}

	if c.admin != nil {
		if err := c.admin.Start(); err != nil {
			return err
		}
	}

	log.Infof("Connector started, %d ledgers connected",
		len(c.manager.Prefixes()))

	return nil
}

// Stop shuts every component down. It is safe to call after a failed Start.
func (c *Connector) Stop() error {
	if !c.stopped.CompareAndSwap(false, true) {
		return nil
	}

	log.Info("Connector shutting down...")

	var errs []error

	ctx, cancel := context.WithTimeout(
		context.Background(), shutdownTimeout,
	)
	defer cancel()

	if c.admin != nil {
		errs = append(errs, c.admin.Stop(ctx))
	}
	if c.exporter != nil {
		errs = append(errs, c.exporter.Stop(ctx))
	}
	if c.health != nil && c.started.Load() {
		errs = append(errs, c.health.Stop())
	}

	c.pumps.Stop()
	c.manager.Stop()

	c.mu.Lock()
	for _, plugin := range c.plugins {
		plugin.Emitter().Stop()
	}
	c.mu.Unlock()

	errs = append(errs, c.sweeper.Stop())
	errs = append(errs, c.closeStore())

	return errors.Join(errs...)
}

// Routes returns the connector's routing table.
func (c *Connector) Routes() routing.RoutingTable {
	return c.table
}

// Plugins returns the manager of the connector's ledger plugins.
func (c *Connector) Plugins() *ledger.Manager {
	return c.manager
}

// startPump hands every event of the plugin to the engine until the plugin's
// emitter or the connector stops.
func (c *Connector) startPump(ctx context.Context, cfg ledger.PluginConfig,
	plugin ledger.Plugin) {

	emitter := plugin.Emitter()
	c.pumps.Go(ctx, func(ctx context.Context) {
		for {
			select {
			case ev := <-emitter.Events():
				c.handleEvent(ctx, cfg, ev)

			case <-emitter.Quit():
				return

			case <-ctx.Done():
				return
			}
		}
	})
}

// handleEvent passes ev to the engine, then lets the supervisor react to
// connection changes.
func (c *Connector) handleEvent(ctx context.Context, cfg ledger.PluginConfig,
	ev ledger.Event) {

	if err := c.engine.HandleEvent(ctx, ev); err != nil {
		c.fatal(err)
		return
	}

	switch e := ev.(type) {
	case *ledger.Connected:
		c.mu.Lock()
		delete(c.attempts, cfg.Prefix)
		c.mu.Unlock()

	case *ledger.PluginError:
		log.Warnf("Ledger %v failed: %v", cfg.Prefix, e.Err)
		c.reconnect(ctx, cfg)
	}
}

// reconnect schedules another connection attempt for the ledger, unless it
// already failed too often.
func (c *Connector) reconnect(ctx context.Context, cfg ledger.PluginConfig) {
	c.mu.Lock()
	plugin, ok := c.plugins[cfg.Prefix]
	c.attempts[cfg.Prefix]++
	attempt := c.attempts[cfg.Prefix]
	c.mu.Unlock()

	if !ok {
		return
	}

	if attempt > c.cfg.Reconnect.Attempts {
		log.Errorf("Giving up on ledger %v after %d reconnection "+
			"attempts", cfg.Prefix, attempt-1)
		return
	}

	c.pumps.Go(ctx, func(ctx context.Context) {
		if err := c.reconnects.Wait(ctx); err != nil {
			return
		}

		log.Infof("Reconnecting ledger %v (attempt %d/%d)", cfg.Prefix,
			attempt, c.cfg.Reconnect.Attempts)

		// A failed attempt emits another error event, which brings us
		// back here.
		err := c.manager.AddPlugin(ctx, cfg, plugin)
		if err != nil {
			log.Debugf("Reconnecting ledger %v failed: %v",
				cfg.Prefix, err)
		}
	})
}

// fatal reports an error the connector can't recover from and asks for a
// shutdown.
func (c *Connector) fatal(err error) {
	log.Criticalf("Unable to handle ledger event: %v", err)
	c.metrics.ObserveFatal()

	go c.requestShutdown()
}

// Main is the true entry point of the connector. It runs until the shutdown
// channel is closed.
func Main(cfg *Config, requestShutdown func(),
	shutdownChan <-chan struct{}) error {

	defer func() {
		log.Info("Shutdown complete")
		if err := cfg.LogRotator.Close(); err != nil {
			log.Errorf("Could not close log rotator: %v", err)
		}
	}()

	log.Infof("Version: %s commit=%s, debuglevel=%s", build.Version(),
		build.Commit, cfg.DebugLevel)
	log.Debugf("Ledgers: %v", build.SpewLogClosure(cfg.pluginConfigs))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := New(cfg, requestShutdown)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Stop(); err != nil {
			log.Errorf("Error while stopping connector: %v", err)
		}
	}()

	if err := c.Start(ctx); err != nil {
		return fmt.Errorf("unable to start connector: %w", err)
	}

	<-shutdownChan

	return nil
}
