package ilp

import (
	"fmt"
	"strings"
	"time"
)

// ErrorCode is a forwarding-protocol error code. The leading letter encodes
// the class: F (final), T (temporary) or R (relative to the payment's
// parameters).
type ErrorCode string

const (
	// CodeBadRequest signals a malformed or duplicate request.
	CodeBadRequest ErrorCode = "F00"

	// CodeInvalidPacket signals an undecodable payment packet.
	CodeInvalidPacket ErrorCode = "F01"

	// CodeUnreachable signals that no route to the destination exists.
	CodeUnreachable ErrorCode = "F02"

	// CodeTransferTimedOut signals that a transfer expired before it was
	// fulfilled.
	CodeTransferTimedOut ErrorCode = "R00"

	// CodeInsufficientSourceAmount signals that the incoming transfer did
	// not carry enough value to pay the next hop.
	CodeInsufficientSourceAmount ErrorCode = "R01"

	// CodeInsufficientTimeout signals that the incoming transfer expires
	// too soon to forward it safely.
	CodeInsufficientTimeout ErrorCode = "R02"

	// CodeInternalError signals an unexpected local failure.
	CodeInternalError ErrorCode = "T00"

	// CodeLedgerUnreachable signals that the next ledger could not be
	// reached.
	CodeLedgerUnreachable ErrorCode = "T01"

	// CodeInsufficientLiquidity signals that the connector lacks the
	// balance to pay the next hop.
	CodeInsufficientLiquidity ErrorCode = "T04"
)

var codeNames = map[ErrorCode]string{
	CodeBadRequest:               "Bad Request",
	CodeInvalidPacket:            "Invalid Packet",
	CodeUnreachable:              "Unreachable",
	CodeTransferTimedOut:         "Transfer Timed Out",
	CodeInsufficientSourceAmount: "Insufficient Source Amount",
	CodeInsufficientTimeout:      "Insufficient Timeout",
	CodeInternalError:            "Internal Error",
	CodeLedgerUnreachable:        "Ledger Unreachable",
	CodeInsufficientLiquidity:    "Insufficient Liquidity",
}

// Name returns the human readable name of the code.
func (c ErrorCode) Name() string {
	if name, ok := codeNames[c]; ok {
		return name
	}

	return "Unknown Error"
}

// Final reports whether retrying the same payment cannot succeed.
func (c ErrorCode) Final() bool {
	return strings.HasPrefix(string(c), "F")
}

// Temporary reports whether the same payment may succeed if retried later.
func (c ErrorCode) Temporary() bool {
	return strings.HasPrefix(string(c), "T")
}

// Relative reports whether the payment may succeed if retried with different
// parameters, such as a larger amount or a later expiry.
func (c ErrorCode) Relative() bool {
	return strings.HasPrefix(string(c), "R")
}

// ProtocolError is the reason attached to a rejected transfer. It travels
// back along the payment path, collecting the address of every connector that
// forwarded it.
type ProtocolError struct {
	// Code is the error code.
	Code ErrorCode

	// TriggeredBy is the address of the node that raised the error.
	TriggeredBy Address

	// ForwardedBy lists the connectors that relayed the error, oldest
	// first.
	ForwardedBy []Address

	// TriggeredAt is when the error was raised.
	TriggeredAt time.Time

	// Message is free-form diagnostic text.
	Message string
}

// NewProtocolError builds a fresh error with an empty forwarding trace.
func NewProtocolError(code ErrorCode, triggeredBy Address, at time.Time,
	format string, args ...interface{}) *ProtocolError {

	return &ProtocolError{
		Code:        code,
		TriggeredBy: triggeredBy,
		TriggeredAt: at,
		Message:     fmt.Sprintf(format, args...),
	}
}

// Name returns the name of the error's code.
func (e *ProtocolError) Name() string {
	return e.Code.Name()
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%v %v (triggered by %v): %v", e.Code, e.Name(),
		e.TriggeredBy, e.Message)
}

// WithForwardedAddress returns a copy of the error with addr appended to the
// forwarding trace. The receiver is left untouched.
func (e *ProtocolError) WithForwardedAddress(addr Address) *ProtocolError {
	cp := *e
	cp.ForwardedBy = make([]Address, 0, len(e.ForwardedBy)+1)
	cp.ForwardedBy = append(cp.ForwardedBy, e.ForwardedBy...)
	cp.ForwardedBy = append(cp.ForwardedBy, addr)

	return &cp
}
