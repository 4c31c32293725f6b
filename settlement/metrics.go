package settlement

import "github.com/interledger/connector/ilp"

// Metrics receives the engine's counters.
type Metrics interface {
	// ObserveEvent counts a handled ledger event by variant name.
	ObserveEvent(name string)

	// ObserveForward counts the outcome of forwarding an incoming
	// transfer.
	ObserveForward(outcome ForwardOutcome)

	// ObserveRejection counts an incoming transfer rejected by the engine.
	ObserveRejection(code ilp.ErrorCode)

	// ObserveSettlement counts a source transfer settled after its
	// outgoing transfer was resolved.
	ObserveSettlement(result SettlementResult)
}

// SettlementResult says how a source transfer was settled.
type SettlementResult string

const (
	// SettlementFulfilled means the source transfer was executed.
	SettlementFulfilled SettlementResult = "fulfilled"

	// SettlementRejected means the source transfer was rejected after its
	// outgoing transfer was.
	SettlementRejected SettlementResult = "rejected"

	// SettlementFailed means the source transfer could not be settled.
	SettlementFailed SettlementResult = "failed"
)

type noopMetrics struct{}

func (noopMetrics) ObserveEvent(string)                {}
func (noopMetrics) ObserveForward(ForwardOutcome)      {}
func (noopMetrics) ObserveRejection(ilp.ErrorCode)     {}
func (noopMetrics) ObserveSettlement(SettlementResult) {}
