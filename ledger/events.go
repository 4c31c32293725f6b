package ledger

import (
	"fmt"

	"github.com/interledger/connector/ilp"
)

// Event is a notification published by a plugin. The set of variants is
// closed: every event embeds EventHeader.
type Event interface {
	// Ledger returns the prefix of the ledger the event comes from.
	Ledger() ilp.Address

	// ledgerEvent seals the interface.
	ledgerEvent()
}

// EventHeader carries the fields shared by every event.
type EventHeader struct {
	// Prefix is the ledger the event comes from.
	Prefix ilp.Address
}

// Ledger returns the prefix of the ledger the event comes from.
func (h EventHeader) Ledger() ilp.Address {
	return h.Prefix
}

func (EventHeader) ledgerEvent() {}

// IncomingTransferPrepared signals that a transfer to the connector's account
// was prepared and is waiting for the connector to act on it.
type IncomingTransferPrepared struct {
	EventHeader

	Transfer *ilp.Transfer
}

// IncomingTransferFulfilled signals that an incoming transfer was executed.
type IncomingTransferFulfilled struct {
	EventHeader

	Transfer    *ilp.Transfer
	Fulfillment ilp.Fulfillment
}

// IncomingTransferRejected signals that an incoming transfer was rejected.
type IncomingTransferRejected struct {
	EventHeader

	Transfer *ilp.Transfer
	Reason   *ilp.ProtocolError
}

// IncomingTransferCancelled signals that an incoming transfer expired or was
// cancelled by the ledger.
type IncomingTransferCancelled struct {
	EventHeader

	Transfer *ilp.Transfer
	Reason   *ilp.ProtocolError
}

// OutgoingTransferPrepared signals that a transfer sent by the connector was
// prepared on the ledger.
type OutgoingTransferPrepared struct {
	EventHeader

	Transfer *ilp.Transfer
}

// OutgoingTransferFulfilled signals that the recipient of an outgoing
// transfer released its condition.
type OutgoingTransferFulfilled struct {
	EventHeader

	Transfer    *ilp.Transfer
	Fulfillment ilp.Fulfillment
}

// OutgoingTransferRejected signals that the recipient of an outgoing transfer
// refused it.
type OutgoingTransferRejected struct {
	EventHeader

	Transfer *ilp.Transfer
	Reason   *ilp.ProtocolError
}

// OutgoingTransferCancelled signals that an outgoing transfer expired or was
// cancelled. Reason is nil when the ledger gave none.
type OutgoingTransferCancelled struct {
	EventHeader

	Transfer *ilp.Transfer
	Reason   *ilp.ProtocolError
}

// Connected signals that the plugin connected to its ledger.
type Connected struct {
	EventHeader
}

// Disconnected signals that the plugin lost or closed its connection.
type Disconnected struct {
	EventHeader
}

// PluginError signals an unrecoverable plugin failure. The plugin should be
// removed from service.
type PluginError struct {
	EventHeader

	Err error
}

// MessageRequest carries an out-of-band message sent to the connector.
type MessageRequest struct {
	EventHeader

	From ilp.Address
	Data []byte
}

// EventName returns a short name for the event's variant, suitable for logs
// and metric labels.
func EventName(ev Event) string {
	switch ev.(type) {
	case *IncomingTransferPrepared:
		return "incoming_prepare"

	case *IncomingTransferFulfilled:
		return "incoming_fulfill"

	case *IncomingTransferRejected:
		return "incoming_reject"

	case *IncomingTransferCancelled:
		return "incoming_cancel"

	case *OutgoingTransferPrepared:
		return "outgoing_prepare"

	case *OutgoingTransferFulfilled:
		return "outgoing_fulfill"

	case *OutgoingTransferRejected:
		return "outgoing_reject"

	case *OutgoingTransferCancelled:
		return "outgoing_cancel"

	case *Connected:
		return "connect"

	case *Disconnected:
		return "disconnect"

	case *PluginError:
		return "error"

	case *MessageRequest:
		return "message"

	default:
		return fmt.Sprintf("%T", ev)
	}
}
