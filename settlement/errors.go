package settlement

import (
	"errors"

	"github.com/interledger/connector/ilp"
	"github.com/interledger/connector/ledger"
)

var (
	// ErrMissingCorrelation is returned when an outgoing transfer resolves
	// but no record of the transfer that caused it exists. Nothing can be
	// settled upstream, so the condition is fatal.
	ErrMissingCorrelation = errors.New("no correlation for destination " +
		"transfer")

	// ErrInvalidFulfillment is returned when a destination ledger reports
	// a fulfillment that doesn't release the source transfer.
	ErrInvalidFulfillment = errors.New("fulfillment does not match " +
		"source condition")

	// errNoRoute marks a destination the router has no route to.
	errNoRoute = errors.New("no route")
)

// FailureCode maps the kind of a failed submission to the protocol error code
// the source transfer is rejected with.
func FailureCode(kind ledger.ErrorKind) ilp.ErrorCode {
	switch kind {
	case ledger.KindDuplicateTransfer, ledger.KindInvalidTransfer:
		return ilp.CodeBadRequest

	case ledger.KindInsufficientBalance:
		return ilp.CodeInsufficientLiquidity

	case ledger.KindAccountNotFound:
		return ilp.CodeUnreachable

	default:
		return ilp.CodeLedgerUnreachable
	}
}
