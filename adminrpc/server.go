package adminrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/interledger/connector/build"
	"github.com/interledger/connector/correlation"
	"github.com/interledger/connector/ilp"
	"github.com/interledger/connector/ledger"
	"github.com/interledger/connector/routing"
	"github.com/lightningnetwork/lnd/fn/v2"
)

const (
	// DefaultListen is the default address of the admin server.
	DefaultListen = "127.0.0.1:7768"

	// maxBodySize bounds request bodies.
	maxBodySize = 1 << 16
)

// Ledgers is the view of the registered ledger plugins the admin server
// reports on.
type Ledgers interface {
	// Prefixes returns the prefixes of every registered plugin.
	Prefixes() []ilp.Address

	// Plugin returns the plugin of a ledger, if registered.
	Plugin(prefix ilp.Address) fn.Option[ledger.Plugin]

	// IsLocallyPeered reports whether the ledger's participants are known
	// to be the final recipients of payments addressed under it.
	IsLocallyPeered(prefix ilp.Address) bool
}

// A compile-time check to ensure *ledger.Manager satisfies Ledgers.
var _ Ledgers = (*ledger.Manager)(nil)

// Config holds what the admin server exposes.
type Config struct {
	// Listen is the address the server binds to.
	Listen string

	// Routes is the routing table operators may inspect and change.
	Routes routing.RoutingTable

	// Router answers next hop queries.
	Router routing.PaymentRouter

	// Ledgers lists the registered plugins.
	Ledgers Ledgers

	// Correlations is queried for pending forwards.
	Correlations correlation.Store
}

// Server is a small JSON API over the connector's state.
type Server struct {
	cfg    *Config
	server *http.Server

	wg sync.WaitGroup
}

// New creates a server. It doesn't listen until Start is called.
func New(cfg *Config) *Server {
	s := &Server{
		cfg: cfg,
	}
	s.server = &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	return s
}

// Handler returns the router serving the API.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	v1 := r.PathPrefix("/v1").Subrouter()

	v1.HandleFunc("/version", s.getVersion).Methods(http.MethodGet)
	v1.HandleFunc("/routes", s.listRoutes).Methods(http.MethodGet)
	v1.HandleFunc("/routes", s.addRoute).Methods(http.MethodPost)
	v1.HandleFunc("/routes", s.removeRoute).Methods(http.MethodDelete)
	v1.HandleFunc("/routes/{prefix}", s.removePrefix).
		Methods(http.MethodDelete)
	v1.HandleFunc("/nexthop", s.nextHop).Methods(http.MethodGet)
	v1.HandleFunc("/ledgers", s.listLedgers).Methods(http.MethodGet)
	v1.HandleFunc("/correlations/{id}", s.getCorrelation).
		Methods(http.MethodGet)

	return r
}

// Start binds the listener and starts serving.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}

	log.Infof("Admin server listening on %v", lis.Addr())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		err := s.server.Serve(lis)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Admin server stopped: %v", err)
		}
	}()

	return nil
}

// Stop shuts the server down, waiting up to the context's deadline for open
// requests.
func (s *Server) Stop(ctx context.Context) error {
	err := s.server.Shutdown(ctx)
	s.wg.Wait()

	return err
}

func (s *Server) getVersion(w http.ResponseWriter, _ *http.Request) {
	writeResponse(w, http.StatusOK, Version{
		Version: build.Version(),
		Commit:  build.Commit,
	})
}

func (s *Server) listRoutes(w http.ResponseWriter, _ *http.Request) {
	routes := make([]Route, 0)
	err := s.cfg.Routes.ForEach(func(_ ilp.Address, rs []*routing.Route) error {
		for _, r := range rs {
			routes = append(routes, marshalRoute(r))
		}

		return nil
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeResponse(w, http.StatusOK, routes)
}

func (s *Server) addRoute(w http.ResponseWriter, r *http.Request) {
	route, err := readRoute(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if !s.cfg.Routes.AddRoute(route) {
		writeResponse(w, http.StatusOK, marshalRoute(route))
		return
	}

	log.Infof("Added route %v", route)
	writeResponse(w, http.StatusCreated, marshalRoute(route))
}

func (s *Server) removeRoute(w http.ResponseWriter, r *http.Request) {
	route, err := readRoute(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if !s.cfg.Routes.RemoveRoute(route) {
		writeError(w, http.StatusNotFound,
			fmt.Errorf("no route %v", route))
		return
	}

	log.Infof("Removed route %v", route)
	writeResponse(w, http.StatusOK, marshalRoute(route))
}

func (s *Server) removePrefix(w http.ResponseWriter, r *http.Request) {
	prefix, err := ilp.NewPrefix(mux.Vars(r)["prefix"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	removed := s.cfg.Routes.RemoveAllRoutesForTargetPrefix(prefix)
	log.Infof("Removed %d routes for %v", len(removed), prefix)

	routes := make([]Route, 0, len(removed))
	for _, route := range removed {
		routes = append(routes, marshalRoute(route))
	}

	writeResponse(w, http.StatusOK, routes)
}

func (s *Server) nextHop(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	dest, err := ilp.NewAccount(query.Get("destination"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	source := fn.None[ilp.Address]()
	if s := query.Get("source"); s != "" {
		prefix, err := ilp.NewPrefix(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		source = fn.Some(prefix)
	}

	route, err := s.cfg.Router.FindBestNextHop(dest, source).UnwrapOrErr(
		fmt.Errorf("no route to %v", dest),
	)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	writeResponse(w, http.StatusOK, marshalRoute(route))
}

func (s *Server) listLedgers(w http.ResponseWriter, _ *http.Request) {
	prefixes := s.cfg.Ledgers.Prefixes()

	ledgers := make([]Ledger, 0, len(prefixes))
	for _, prefix := range prefixes {
		s.cfg.Ledgers.Plugin(prefix).WhenSome(func(p ledger.Plugin) {
			info := p.Info()
			ledgers = append(ledgers, Ledger{
				Prefix:        prefix.String(),
				CurrencyCode:  info.CurrencyCode,
				CurrencyScale: info.CurrencyScale,
				ConnectorAccount: p.ConnectorAccount().
					String(),
				Connected: p.IsConnected(),
				LocallyPeered: s.cfg.Ledgers.IsLocallyPeered(
					prefix,
				),
			})
		})
	}

	writeResponse(w, http.StatusOK, ledgers)
}

func (s *Server) getCorrelation(w http.ResponseWriter, r *http.Request) {
	id, err := ilp.ParseTransferID(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	c, err := s.cfg.Correlations.FindByDestinationTransferID(id)
	switch {
	case errors.Is(err, correlation.ErrCorrelationNotFound):
		writeError(w, http.StatusNotFound, err)

	case err != nil:
		writeError(w, http.StatusInternalServerError, err)

	default:
		writeResponse(w, http.StatusOK, marshalCorrelation(c))
	}
}

// readRoute decodes and validates the route in the request body.
func readRoute(r *http.Request) (*routing.Route, error) {
	var req Route
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return nil, fmt.Errorf("invalid route: %w", err)
	}

	return req.unmarshal()
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeResponse(w, status, errorResponse{Error: err.Error()})
}

func writeResponse(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Debugf("Unable to write response: %v", err)
	}
}
