package adminrpc

import (
	"math/big"
	"time"

	"github.com/interledger/connector/correlation"
	"github.com/interledger/connector/ilp"
	"github.com/interledger/connector/routing"
)

// Route is the JSON form of a routing table entry.
type Route struct {
	Target       string     `json:"target"`
	NextHop      string     `json:"next_hop"`
	SourceFilter string     `json:"source_filter,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

func marshalRoute(r *routing.Route) Route {
	route := Route{
		Target:       r.TargetPrefix.String(),
		NextHop:      r.NextHopAccount.String(),
		SourceFilter: r.SourceFilter(),
	}
	r.ExpiresAt.WhenSome(func(t time.Time) {
		route.ExpiresAt = &t
	})

	return route
}

func (r *Route) unmarshal() (*routing.Route, error) {
	var opts []routing.RouteOption
	if r.SourceFilter != "" {
		opts = append(opts, routing.WithSourceFilter(r.SourceFilter))
	}
	if r.ExpiresAt != nil {
		opts = append(opts, routing.WithExpiry(*r.ExpiresAt))
	}

	return routing.NewRoute(
		ilp.Address(r.Target), ilp.Address(r.NextHop), opts...,
	)
}

// Ledger describes a registered ledger plugin.
type Ledger struct {
	Prefix           string `json:"prefix"`
	CurrencyCode     string `json:"currency_code"`
	CurrencyScale    uint8  `json:"currency_scale"`
	ConnectorAccount string `json:"connector_account"`
	Connected        bool   `json:"connected"`
	LocallyPeered    bool   `json:"locally_peered"`
}

// Transfer is the JSON form of a transfer.
type Transfer struct {
	ID                 string    `json:"id"`
	Ledger             string    `json:"ledger"`
	SourceAccount      string    `json:"source_account"`
	DestinationAccount string    `json:"destination_account"`
	Amount             string    `json:"amount"`
	PacketDestination  string    `json:"packet_destination"`
	PacketAmount       string    `json:"packet_amount"`
	ExecutionCondition string    `json:"execution_condition"`
	ExpiresAt          time.Time `json:"expires_at"`
}

func marshalTransfer(t *ilp.Transfer) Transfer {
	return Transfer{
		ID:                 t.ID.String(),
		Ledger:             t.LedgerPrefix.String(),
		SourceAccount:      t.SourceAccount.String(),
		DestinationAccount: t.DestinationAccount.String(),
		Amount:             amountString(t.Amount),
		PacketDestination:  t.Packet.DestinationAccount.String(),
		PacketAmount:       amountString(t.Packet.DestinationAmount),
		ExecutionCondition: t.ExecutionCondition.String(),
		ExpiresAt:          t.ExpiresAt,
	}
}

func amountString(amt *big.Int) string {
	if amt == nil {
		return ""
	}

	return amt.String()
}

// Correlation is the JSON form of a transfer correlation.
type Correlation struct {
	Source      Transfer `json:"source"`
	Destination Transfer `json:"destination"`
}

func marshalCorrelation(c *correlation.TransferCorrelation) Correlation {
	return Correlation{
		Source:      marshalTransfer(c.Source),
		Destination: marshalTransfer(c.Destination),
	}
}

// Version describes the running connector.
type Version struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error string `json:"error"`
}
