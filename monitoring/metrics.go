package monitoring

import (
	"time"

	"github.com/interledger/connector/build"
	"github.com/interledger/connector/ilp"
	"github.com/interledger/connector/settlement"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ilpc"

// Metrics exports the connector's counters to prometheus.
type Metrics struct {
	events      *prometheus.CounterVec
	forwards    *prometheus.CounterVec
	rejections  *prometheus.CounterVec
	settlements *prometheus.CounterVec
	fatal       prometheus.Counter
}

// A compile-time check to ensure Metrics implements settlement.Metrics.
var _ settlement.Metrics = (*Metrics)(nil)

// NewMetrics creates the connector's counters and registers them, along with
// the version and uptime gauges, with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ledger_events_total",
				Help:      "Ledger events handled, by event.",
			},
			[]string{"event"},
		),
		forwards: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "forwards_total",
				Help:      "Incoming transfers handled, by outcome.",
			},
			[]string{"outcome"},
		),
		rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rejections_total",
				Help:      "Incoming transfers rejected, by code.",
			},
			[]string{"code"},
		),
		settlements: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "settlements_total",
				Help: "Incoming transfers settled after their " +
					"outgoing transfer resolved, by result.",
			},
			[]string{"result"},
		),
		fatal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fatal_errors_total",
			Help:      "Fatal errors raised while handling events.",
		}),
	}

	versionGauge := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "version",
			Help:      "Version of the connector running.",
		},
		[]string{"version", "commit"},
	)
	versionGauge.WithLabelValues(build.Version(), build.Commit).Set(1)

	startTime := time.Now()
	uptime := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Uptime of the connector in seconds.",
		},
		func() float64 {
			return time.Since(startTime).Seconds()
		},
	)

	collectors := []prometheus.Collector{
		m.events, m.forwards, m.rejections, m.settlements, m.fatal,
		versionGauge, uptime,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// ObserveEvent counts a handled ledger event.
func (m *Metrics) ObserveEvent(name string) {
	m.events.WithLabelValues(name).Inc()
}

// ObserveForward counts the outcome of an incoming transfer.
func (m *Metrics) ObserveForward(outcome settlement.ForwardOutcome) {
	m.forwards.WithLabelValues(outcome.String()).Inc()
}

// ObserveRejection counts a rejected incoming transfer.
func (m *Metrics) ObserveRejection(code ilp.ErrorCode) {
	m.rejections.WithLabelValues(string(code)).Inc()
}

// ObserveSettlement counts a settled incoming transfer.
func (m *Metrics) ObserveSettlement(result settlement.SettlementResult) {
	m.settlements.WithLabelValues(string(result)).Inc()
}

// ObserveFatal counts a fatal error.
func (m *Metrics) ObserveFatal() {
	m.fatal.Inc()
}

// GaugeSources supplies the values of the connector's gauges.
type GaugeSources struct {
	// Ledgers returns the number of registered ledger plugins.
	Ledgers func() int

	// Routes returns the number of routes in the routing table.
	Routes func() int

	// RoutePrefixes returns the number of distinct route target prefixes.
	RoutePrefixes func() int
}

// RegisterGauges registers gauges reading their value from src.
func RegisterGauges(reg prometheus.Registerer, src GaugeSources) error {
	gauges := []struct {
		name, help string
		value      func() int
	}{
		{"ledgers", "Number of registered ledger plugins.", src.Ledgers},
		{"routes", "Number of routes in the routing table.", src.Routes},
		{
			"route_prefixes",
			"Number of distinct target prefixes in the routing " +
				"table.",
			src.RoutePrefixes,
		},
	}

	for _, g := range gauges {
		if g.value == nil {
			continue
		}

		value := g.value
		err := reg.Register(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      g.name,
				Help:      g.help,
			},
			func() float64 {
				return float64(value())
			},
		))
		if err != nil {
			return err
		}
	}

	return nil
}
