package monitoring

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultListen is the default address of the prometheus exporter.
const DefaultListen = "127.0.0.1:8989"

// Prometheus configures the prometheus exporter.
//
//nolint:lll
type Prometheus struct {
	Enable bool   `long:"enable" description:"Export prometheus metrics."`
	Listen string `long:"listen" description:"The address the prometheus exporter listens on."`
}

// DefaultPrometheus returns the default exporter configuration.
func DefaultPrometheus() *Prometheus {
	return &Prometheus{
		Listen: DefaultListen,
	}
}

// Enabled reports whether metrics should be exported.
func (p *Prometheus) Enabled() bool {
	return p != nil && p.Enable
}

// Handler returns the HTTP handler serving the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Exporter serves metrics over HTTP.
type Exporter struct {
	server *http.Server

	wg sync.WaitGroup
}

// NewExporter returns an exporter serving g's metrics at /metrics.
func NewExporter(cfg *Prometheus, g prometheus.Gatherer) *Exporter {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(g))

	return &Exporter{
		server: &http.Server{
			Addr:              cfg.Listen,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start binds the listener and starts serving.
func (e *Exporter) Start() error {
	lis, err := net.Listen("tcp", e.server.Addr)
	if err != nil {
		return err
	}

	log.Infof("Prometheus exporter started on %v/metrics", lis.Addr())

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		err := e.server.Serve(lis)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Prometheus exporter stopped: %v", err)
		}
	}()

	return nil
}

// Stop shuts the server down, waiting up to the context's deadline for open
// requests.
func (e *Exporter) Stop(ctx context.Context) error {
	err := e.server.Shutdown(ctx)
	e.wg.Wait()

	return err
}
