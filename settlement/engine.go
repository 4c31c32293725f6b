package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/interledger/connector/build"
	"github.com/interledger/connector/correlation"
	"github.com/interledger/connector/fx"
	"github.com/interledger/connector/ilp"
	"github.com/interledger/connector/ledger"
	"github.com/interledger/connector/routing"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// ForwardOutcome is the result of handling an incoming transfer.
type ForwardOutcome uint8

const (
	// OutcomeUnknown accompanies an error: handling stopped before the
	// transfer reached any of the other outcomes.
	OutcomeUnknown ForwardOutcome = iota

	// OutcomeLocalDelivery means the payment is addressed to the
	// connector itself, so there is nothing to forward.
	OutcomeLocalDelivery

	// OutcomeForwarded means an outgoing transfer was submitted.
	OutcomeForwarded

	// OutcomeRejected means the incoming transfer was rejected.
	OutcomeRejected

	// OutcomeDuplicate means the outgoing transfer had already been
	// submitted by an earlier delivery of the same notification.
	OutcomeDuplicate

	// OutcomeAlreadyResolved means the incoming transfer was to be
	// rejected but its ledger had already settled it one way or another,
	// usually because an earlier delivery of the same notification
	// rejected it.
	OutcomeAlreadyResolved
)

// String returns a name for the outcome, used as a metric label.
func (o ForwardOutcome) String() string {
	switch o {
	case OutcomeLocalDelivery:
		return "local"

	case OutcomeForwarded:
		return "forwarded"

	case OutcomeRejected:
		return "rejected"

	case OutcomeDuplicate:
		return "duplicate"

	case OutcomeAlreadyResolved:
		return "resolved"

	default:
		return "unknown"
	}
}

// Engine moves payments across ledgers. For every transfer prepared to the
// connector on one ledger it prepares the next transfer on another, and once
// that one resolves it settles the first accordingly.
//
// The engine keeps no state of its own besides the correlation store, so
// HandleEvent may be called concurrently. Repeated notifications of the same
// incoming transfer are safe since the outgoing transfer id is derived from
// the incoming one.
type Engine struct {
	cfg Config
}

// New returns an engine for the given configuration.
func New(cfg Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid settlement config: %w", err)
	}

	return &Engine{cfg: cfg}, nil
}

// HandleEvent reacts to a ledger event. An error is only returned for fatal
// conditions, such as a resolved outgoing transfer without a correlation or a
// source transfer that could not be fulfilled after its outgoing transfer was.
// Rejecting an incoming transfer is a normal outcome, not an error.
func (e *Engine) HandleEvent(ctx context.Context, ev ledger.Event) error {
	e.cfg.Metrics.ObserveEvent(ledger.EventName(ev))

	switch ev := ev.(type) {
	case *ledger.IncomingTransferPrepared:
		_, err := e.ForwardIncomingTransfer(ctx, ev.Transfer)
		return err

	case *ledger.OutgoingTransferFulfilled:
		return e.fulfillSource(ctx, ev.Transfer, ev.Fulfillment)

	case *ledger.OutgoingTransferRejected:
		reason := ev.Reason
		if reason == nil {
			reason = ilp.NewProtocolError(
				ilp.CodeInternalError, ev.Ledger(),
				e.cfg.Clock.Now(), "transfer %v rejected "+
					"without a reason", ev.Transfer.ID,
			)
		}

		return e.rejectSource(ctx, ev.Transfer, reason)

	case *ledger.OutgoingTransferCancelled:
		reason := ev.Reason
		if reason == nil {
			reason = ilp.NewProtocolError(
				ilp.CodeTransferTimedOut, ev.Ledger(),
				e.cfg.Clock.Now(), "transfer %v cancelled",
				ev.Transfer.ID,
			)
		}

		return e.rejectSource(ctx, ev.Transfer, reason)

	case *ledger.PluginError:
		log.Errorf("Plugin for ledger %v failed, taking it out of "+
			"service: %v", ev.Ledger(), ev.Err)

		e.cfg.Plugins.RemovePlugin(ev.Ledger())

		return nil

	case *ledger.IncomingTransferFulfilled:
		log.Debugf("Incoming transfer %v on %v fulfilled",
			ev.Transfer.ID, ev.Ledger())

		return nil

	case *ledger.IncomingTransferRejected,
		*ledger.IncomingTransferCancelled:

		log.Debugf("Incoming transfer on %v resolved: %v",
			ev.Ledger(), ledger.EventName(ev))

		return nil

	default:
		log.Tracef("Ignoring %v event from %v", ledger.EventName(ev),
			ev.Ledger())

		return nil
	}
}

// ForwardIncomingTransfer prepares the next hop of the payment carried by src,
// or rejects src if that can't be done.
func (e *Engine) ForwardIncomingTransfer(ctx context.Context,
	src *ilp.Transfer) (ForwardOutcome, error) {

	outcome, err := e.forward(ctx, src)
	if err != nil {
		log.Errorf("Unable to forward incoming transfer %v: %v", src,
			err)
	}
	e.cfg.Metrics.ObserveForward(outcome)

	return outcome, err
}

func (e *Engine) forward(ctx context.Context,
	src *ilp.Transfer) (ForwardOutcome, error) {

	srcPlugin, err := e.cfg.Plugins.PluginOrFail(src.ID, src.LedgerPrefix)
	if err != nil {
		return OutcomeUnknown, err
	}

	// Plugins are trusted to report what their ledger holds, not to have
	// checked it.
	if err := src.Packet.Validate(); err != nil {
		return e.reject(ctx, srcPlugin, src, ilp.NewProtocolError(
			ilp.CodeInvalidPacket, srcPlugin.ConnectorAccount(),
			e.cfg.Clock.Now(), "%v", err,
		))
	}
	if err := src.Validate(); err != nil {
		return e.reject(ctx, srcPlugin, src, ilp.NewProtocolError(
			ilp.CodeBadRequest, srcPlugin.ConnectorAccount(),
			e.cfg.Clock.Now(), "%v", err,
		))
	}

	dest := src.Packet.DestinationAccount
	if dest.StartsWith(srcPlugin.ConnectorAccount()) {
		log.Debugf("Incoming transfer %v is addressed to %v, nothing "+
			"to forward", src.ID, dest)

		return OutcomeLocalDelivery, nil
	}

	route, err := e.cfg.Router.FindBestNextHop(
		dest, fn.Some(src.LedgerPrefix),
	).UnwrapOrErr(errNoRoute)
	if err != nil {
		return e.reject(ctx, srcPlugin, src, ilp.NewProtocolError(
			ilp.CodeUnreachable, srcPlugin.ConnectorAccount(),
			e.cfg.Clock.Now(), "no route to %v", dest,
		))
	}

	dst, rejection := e.buildNextHopTransfer(src, srcPlugin, route)
	if rejection != nil {
		return e.reject(ctx, srcPlugin, src, rejection)
	}

	c := &correlation.TransferCorrelation{Source: src, Destination: dst}
	if err := e.cfg.Plugins.Correlations().Save(c); err != nil {
		_, rejectErr := e.reject(ctx, srcPlugin, src,
			ilp.NewProtocolError(
				ilp.CodeInternalError,
				srcPlugin.ConnectorAccount(), e.cfg.Clock.Now(),
				"unable to record transfer",
			),
		)

		return OutcomeUnknown, errors.Join(
			fmt.Errorf("unable to save correlation %v: %w", c, err),
			rejectErr,
		)
	}

	// The destination plugin was looked up while building the transfer,
	// but it may have gone away since.
	dstPlugin, err := e.cfg.Plugins.PluginOrFail(dst.ID, dst.LedgerPrefix)
	if err != nil {
		return e.reject(ctx, srcPlugin, src, ilp.NewProtocolError(
			ilp.CodeLedgerUnreachable, dst.LedgerPrefix,
			e.cfg.Clock.Now(), "%v", err,
		))
	}

	log.Debugf("Forwarding incoming transfer %v as %v", src, dst)
	log.Tracef("Outgoing transfer: %v", build.SpewLogClosure(dst))

	err = dstPlugin.SendTransfer(ctx, dst)
	if err == nil {
		log.Infof("Forwarded transfer %v on %v as %v on %v", src.ID,
			src.LedgerPrefix, dst.ID, dst.LedgerPrefix)

		return OutcomeForwarded, nil
	}

	kind := ledger.KindOf(err)
	if kind == ledger.KindDuplicateTransfer {
		log.Infof("Outgoing transfer %v for incoming transfer %v was "+
			"already submitted", dst.ID, src.ID)

		return OutcomeDuplicate, nil
	}

	log.Warnf("Unable to submit outgoing transfer %v (%v): %v", dst.ID,
		kind, err)

	return e.reject(ctx, srcPlugin, src, ilp.NewProtocolError(
		FailureCode(kind), dst.LedgerPrefix, e.cfg.Clock.Now(), "%v",
		err,
	))
}

// buildNextHopTransfer builds the transfer paying the payment's next hop. If
// the incoming transfer can't be forwarded, the returned protocol error is
// the reason it must be rejected with.
func (e *Engine) buildNextHopTransfer(src *ilp.Transfer, srcPlugin ledger.Plugin,
	route *routing.Route) (*ilp.Transfer, *ilp.ProtocolError) {

	now := e.cfg.Clock.Now()
	nextLedger := route.NextHopLedgerPrefix()
	me := srcPlugin.ConnectorAccount()

	rejection := func(code ilp.ErrorCode, triggeredBy ilp.Address,
		format string, args ...interface{}) *ilp.ProtocolError {

		return ilp.NewProtocolError(code, triggeredBy, now, format,
			args...)
	}

	id := ilp.DeriveTransferID(e.cfg.Secret, src.LedgerPrefix, src.ID)

	dstPlugin, err := e.cfg.Plugins.PluginOrFail(id, nextLedger)
	if err != nil {
		return nil, rejection(ilp.CodeLedgerUnreachable, nextLedger,
			"%v", err)
	}

	srcInfo, dstInfo := srcPlugin.Info(), dstPlugin.Info()
	rate, err := e.cfg.Rates.Rate(srcInfo.CurrencyCode, dstInfo.CurrencyCode)
	if err != nil {
		log.Errorf("No rate from %v to %v: %v", srcInfo.CurrencyCode,
			dstInfo.CurrencyCode, err)

		return nil, rejection(ilp.CodeInternalError, me,
			"no rate from %v to %v", srcInfo.CurrencyCode,
			dstInfo.CurrencyCode)
	}

	// What the incoming transfer's value pays for on the next ledger,
	// after the connector's cut.
	justified := fx.ApplySpread(
		fx.Convert(src.Amount, rate, srcInfo.CurrencyScale,
			dstInfo.CurrencyScale),
		e.cfg.Spread,
	)

	packet := src.Packet
	var (
		creditAccount ilp.Address
		amount        *big.Int
	)
	if e.cfg.Plugins.IsLocallyPeered(nextLedger) &&
		packet.DestinationAccount.StartsWith(nextLedger) {

		// The receiver is on a ledger we're peered with, so we pay
		// out exactly what the packet promises and keep the surplus.
		// That's only safe if the incoming value covers the promise.
		minimum := fx.ApplySlippage(
			packet.DestinationAmount, e.cfg.Slippage,
		)
		if minimum.Cmp(justified) > 0 {
			log.Infof("Incoming transfer %v pays for %v on %v, "+
				"packet requires at least %v", src.ID,
				justified, nextLedger, minimum)

			return nil, rejection(
				ilp.CodeInsufficientSourceAmount, me,
				"payment rate does not match the rate "+
					"currently offered",
			)
		}

		creditAccount = packet.DestinationAccount
		amount = new(big.Int).Set(packet.DestinationAmount)
	} else {
		if justified.Sign() <= 0 {
			return nil, rejection(
				ilp.CodeInsufficientSourceAmount, me,
				"amount %v is too small to forward",
				src.Amount,
			)
		}

		creditAccount = route.NextHopAccount
		amount = justified
	}

	expiresAt, ok := e.nextHopExpiry(src.ExpiresAt, now)
	if !ok {
		return nil, rejection(ilp.CodeInsufficientTimeout, me,
			"source transfer expires at %v, too soon to forward",
			src.ExpiresAt)
	}

	return &ilp.Transfer{
		ID:                    id,
		LedgerPrefix:          nextLedger,
		SourceAccount:         dstPlugin.ConnectorAccount(),
		DestinationAccount:    creditAccount,
		Amount:                amount,
		Packet:                packet.Copy(),
		ExecutionCondition:    src.ExecutionCondition,
		CancellationCondition: src.CancellationCondition,
		ExpiresAt:             expiresAt,
	}, nil
}

// nextHopExpiry returns the expiry of the outgoing transfer for a source
// transfer expiring at srcExpiry. It's false if the outgoing transfer would
// not leave the minimum message window.
func (e *Engine) nextHopExpiry(srcExpiry, now time.Time) (time.Time, bool) {
	expiresAt := now.Add(e.cfg.MaxHoldTime)
	if !srcExpiry.IsZero() {
		candidate := srcExpiry.Add(-e.cfg.TransferExpiryWindow)
		if candidate.Before(expiresAt) {
			expiresAt = candidate
		}
	}

	if expiresAt.Before(now.Add(e.cfg.MinMessageWindow)) {
		return time.Time{}, false
	}

	return expiresAt, true
}

// reject rejects the incoming transfer src on its plugin.
func (e *Engine) reject(ctx context.Context, p ledger.Plugin,
	src *ilp.Transfer, reason *ilp.ProtocolError) (ForwardOutcome, error) {

	log.Infof("Rejecting incoming transfer %v on %v: %v", src.ID,
		src.LedgerPrefix, reason)

	err := p.RejectIncomingTransfer(ctx, src.ID, reason)
	switch {
	case err == nil:
		e.cfg.Metrics.ObserveRejection(reason.Code)

		return OutcomeRejected, nil

	case alreadyResolved(err):
		log.Warnf("Incoming transfer %v on %v can no longer be "+
			"rejected: %v", src.ID, src.LedgerPrefix, err)

		return OutcomeAlreadyResolved, nil

	default:
		return OutcomeUnknown, fmt.Errorf("unable to reject incoming "+
			"transfer %v: %w", src.ID, err)
	}
}

// alreadyResolved reports whether err means the incoming transfer is no
// longer pending on its ledger.
func alreadyResolved(err error) bool {
	switch ledger.KindOf(err) {
	case ledger.KindTransferResolved, ledger.KindTransferNotFound:
		return true

	default:
		return false
	}
}

// lookupSource returns the correlation recorded for an outgoing transfer.
func (e *Engine) lookupSource(
	dst *ilp.Transfer) (*correlation.TransferCorrelation, error) {

	c, err := e.cfg.Plugins.Correlations().FindByDestinationTransferID(
		dst.ID,
	)
	switch {
	case errors.Is(err, correlation.ErrCorrelationNotFound):
		log.Criticalf("Outgoing transfer %v resolved but no incoming "+
			"transfer is on record for it", dst)

		return nil, fmt.Errorf("%w: %v", ErrMissingCorrelation, dst.ID)

	case err != nil:
		return nil, fmt.Errorf("unable to look up correlation for "+
			"%v: %w", dst.ID, err)
	}

	return c, nil
}

// fulfillSource claims the incoming transfer that paid for the fulfilled
// outgoing transfer dst.
func (e *Engine) fulfillSource(ctx context.Context, dst *ilp.Transfer,
	fulfillment ilp.Fulfillment) error {

	c, err := e.lookupSource(dst)
	if err != nil {
		e.cfg.Metrics.ObserveSettlement(SettlementFailed)
		return err
	}
	src := c.Source

	if !src.ExecutionCondition.Validate(fulfillment) {
		log.Criticalf("Fulfillment %v for outgoing transfer %v does "+
			"not release incoming transfer %v", fulfillment,
			dst.ID, src.ID)
		e.cfg.Metrics.ObserveSettlement(SettlementFailed)

		return fmt.Errorf("%w: transfer %v", ErrInvalidFulfillment,
			src.ID)
	}

	p, err := e.cfg.Plugins.PluginOrFail(src.ID, src.LedgerPrefix)
	if err == nil {
		err = p.FulfillCondition(ctx, src.ID, fulfillment)
	}
	if err != nil {
		log.Criticalf("Unable to fulfill incoming transfer %v after "+
			"outgoing transfer %v was fulfilled: %v", src, dst.ID,
			err)
		e.cfg.Metrics.ObserveSettlement(SettlementFailed)

		return fmt.Errorf("unable to fulfill incoming transfer %v: %w",
			src.ID, err)
	}

	log.Infof("Fulfilled incoming transfer %v on %v", src.ID,
		src.LedgerPrefix)
	e.cfg.Metrics.ObserveSettlement(SettlementFulfilled)

	return nil
}

// rejectSource passes the rejection of outgoing transfer dst back to the
// incoming transfer that caused it.
func (e *Engine) rejectSource(ctx context.Context, dst *ilp.Transfer,
	reason *ilp.ProtocolError) error {

	c, err := e.lookupSource(dst)
	if err != nil {
		e.cfg.Metrics.ObserveSettlement(SettlementFailed)
		return err
	}
	src := c.Source

	p, err := e.cfg.Plugins.PluginOrFail(src.ID, src.LedgerPrefix)
	if err == nil {
		err = p.RejectIncomingTransfer(
			ctx, src.ID, reason.WithForwardedAddress(
				p.ConnectorAccount(),
			),
		)
	}
	switch {
	case err == nil:
		log.Infof("Rejected incoming transfer %v on %v after "+
			"outgoing transfer %v failed: %v", src.ID,
			src.LedgerPrefix, dst.ID, reason)
		e.cfg.Metrics.ObserveSettlement(SettlementRejected)

		return nil

	case alreadyResolved(err):
		log.Warnf("Incoming transfer %v on %v was already resolved "+
			"when outgoing transfer %v failed: %v", src.ID,
			src.LedgerPrefix, dst.ID, err)

		return nil

	default:
		e.cfg.Metrics.ObserveSettlement(SettlementFailed)

		return fmt.Errorf("unable to reject incoming transfer %v: %w",
			src.ID, err)
	}
}
