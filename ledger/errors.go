package ledger

import (
	"errors"
	"fmt"

	"github.com/interledger/connector/ilp"
)

// ErrorKind classifies a plugin failure.
type ErrorKind uint8

const (
	// KindOther covers every failure without a more specific kind.
	KindOther ErrorKind = iota

	// KindDuplicateTransfer means a transfer with the same id was already
	// prepared on the ledger.
	KindDuplicateTransfer

	// KindInvalidTransfer means the ledger refused the transfer as
	// malformed.
	KindInvalidTransfer

	// KindInsufficientBalance means the debited account can't cover the
	// amount.
	KindInsufficientBalance

	// KindAccountNotFound means the credited account doesn't exist.
	KindAccountNotFound

	// KindNotConnected means the plugin isn't connected to its ledger.
	KindNotConnected

	// KindTransferResolved means the transfer was already fulfilled,
	// rejected or cancelled.
	KindTransferResolved

	// KindTransferNotFound means the ledger has no transfer with the
	// given id.
	KindTransferNotFound
)

// String returns a human readable name for the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindDuplicateTransfer:
		return "DuplicateTransfer"

	case KindInvalidTransfer:
		return "InvalidTransfer"

	case KindInsufficientBalance:
		return "InsufficientBalance"

	case KindAccountNotFound:
		return "AccountNotFound"

	case KindNotConnected:
		return "NotConnected"

	case KindTransferResolved:
		return "TransferResolved"

	case KindTransferNotFound:
		return "TransferNotFound"

	default:
		return "Other"
	}
}

// Error is the failure type returned across the plugin boundary.
type Error struct {
	// Kind classifies the failure.
	Kind ErrorKind

	// Prefix is the ledger that reported the failure.
	Prefix ilp.Address

	// TransferID is the transfer the failure relates to, if any.
	TransferID ilp.TransferID

	// Err is the underlying cause, if any.
	Err error
}

// NewError builds an *Error.
func NewError(kind ErrorKind, prefix ilp.Address, id ilp.TransferID,
	err error) *Error {

	return &Error{
		Kind:       kind,
		Prefix:     prefix,
		TransferID: id,
		Err:        err,
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("ledger %v: %v", e.Prefix, e.Kind)
	if e.TransferID != (ilp.TransferID{}) {
		msg += fmt.Sprintf(" (transfer %v)", e.TransferID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first *Error in err's chain, or KindOther if
// there is none.
func KindOf(err error) ErrorKind {
	var ledgerErr *Error
	if errors.As(err, &ledgerErr) {
		return ledgerErr.Kind
	}

	return KindOther
}
