// Package loopback implements an in-process ledger plugin. The simulated
// ledger keeps its books in memory and exposes hooks to drive the other side
// of every transfer, which makes it the plugin of choice for tests and local
// connector setups.
package loopback

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"

	"github.com/interledger/connector/ilp"
	"github.com/interledger/connector/ledger"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// PluginType is the name the plugin is registered under.
const PluginType = "loopback"

const (
	// OptionBalance sets the connector account's starting balance. The
	// balance is unlimited when the option is absent.
	OptionBalance = "balance"

	// OptionAccounts is a comma separated list of the ledger's accounts.
	// When set, transfers to any other account fail.
	OptionAccounts = "accounts"
)

var (
	// ErrUnknownTransfer is returned by the hooks when no transfer with the
	// given id exists.
	ErrUnknownTransfer = errors.New("unknown transfer")

	// ErrTransferResolved is returned when a transfer was already
	// fulfilled, rejected or cancelled.
	ErrTransferResolved = errors.New("transfer already resolved")

	// ErrWrongFulfillment is returned when a fulfillment doesn't match the
	// transfer's execution condition.
	ErrWrongFulfillment = errors.New("fulfillment does not match " +
		"condition")
)

type transferState uint8

const (
	statePrepared transferState = iota
	stateFulfilled
	stateRejected
	stateCancelled
)

func (s transferState) String() string {
	switch s {
	case statePrepared:
		return "prepared"

	case stateFulfilled:
		return "fulfilled"

	case stateRejected:
		return "rejected"

	default:
		return "cancelled"
	}
}

type entry struct {
	transfer *ilp.Transfer
	state    transferState
}

// Option tweaks a Plugin at construction.
type Option func(*Plugin)

// WithBalance caps what the connector account can send.
func WithBalance(balance *big.Int) Option {
	return func(p *Plugin) {
		p.balance = fn.Some(new(big.Int).Set(balance))
	}
}

// WithAccounts restricts the ledger to the given accounts.
func WithAccounts(accounts ...ilp.Address) Option {
	return func(p *Plugin) {
		for _, account := range accounts {
			p.accounts[account] = struct{}{}
		}
	}
}

// WithClock sets the clock used to expire transfers.
func WithClock(clk clock.Clock) Option {
	return func(p *Plugin) {
		p.clock = clk
	}
}

// Plugin is a simulated ledger.
type Plugin struct {
	cfg     ledger.PluginConfig
	emitter *ledger.Emitter
	clock   clock.Clock

	mu         sync.Mutex
	connected  bool
	connectErr error
	sendErr    error
	balance    fn.Option[*big.Int]
	accounts   map[ilp.Address]struct{}

	outgoing     map[ilp.TransferID]*entry
	sent         []ilp.TransferID
	incoming     map[ilp.TransferID]*entry
	rejections   map[ilp.TransferID]*ilp.ProtocolError
	fulfillments map[ilp.TransferID]ilp.Fulfillment
}

// A compile-time check to ensure Plugin implements ledger.Plugin.
var _ ledger.Plugin = (*Plugin)(nil)

// New returns a disconnected plugin for the configured ledger.
func New(cfg ledger.PluginConfig, opts ...Option) *Plugin {
	p := &Plugin{
		cfg:          cfg,
		emitter:      ledger.NewEmitter(ledger.DefaultEmitterBuffer),
		clock:        clock.NewDefaultClock(),
		accounts:     make(map[ilp.Address]struct{}),
		outgoing:     make(map[ilp.TransferID]*entry),
		incoming:     make(map[ilp.TransferID]*entry),
		rejections:   make(map[ilp.TransferID]*ilp.ProtocolError),
		fulfillments: make(map[ilp.TransferID]ilp.Fulfillment),
	}
	for _, opt := range opts {
		opt(p)
	}

	return p
}

// newFromConfig builds a plugin from the string options of its
// configuration.
func newFromConfig(cfg ledger.PluginConfig) (ledger.Plugin, error) {
	var opts []Option

	if raw, ok := cfg.Options[OptionBalance]; ok {
		balance, ok := new(big.Int).SetString(raw, 10)
		if !ok || balance.Sign() < 0 {
			return nil, fmt.Errorf("loopback %v: invalid balance %q",
				cfg.Prefix, raw)
		}
		opts = append(opts, WithBalance(balance))
	}

	if raw, ok := cfg.Options[OptionAccounts]; ok && raw != "" {
		var accounts []ilp.Address
		for _, s := range strings.Split(raw, ",") {
			account, err := ilp.NewAccount(strings.TrimSpace(s))
			if err != nil {
				return nil, fmt.Errorf("loopback %v: %w",
					cfg.Prefix, err)
			}
			accounts = append(accounts, account)
		}

		// The connector's own account always exists.
		accounts = append(accounts, cfg.ConnectorAccount)
		opts = append(opts, WithAccounts(accounts...))
	}

	return New(cfg, opts...), nil
}

func init() {
	if err := ledger.RegisterPluginType(PluginType, newFromConfig); err != nil {
		panic(fmt.Sprintf("failed to register ledger plugin type %q: %v",
			PluginType, err))
	}
}

func (p *Plugin) header() ledger.EventHeader {
	return ledger.EventHeader{Prefix: p.cfg.Prefix}
}

func (p *Plugin) ledgerError(kind ledger.ErrorKind, id ilp.TransferID,
	err error) *ledger.Error {

	return ledger.NewError(kind, p.cfg.Prefix, id, err)
}

// Connect connects the plugin, or returns the error set with
// SetConnectError.
func (p *Plugin) Connect(_ context.Context) error {
	p.mu.Lock()
	if p.connectErr != nil {
		err := p.connectErr
		p.mu.Unlock()

		return err
	}
	p.connected = true
	p.mu.Unlock()

	p.emitter.Emit(&ledger.Connected{EventHeader: p.header()})

	return nil
}

// Disconnect disconnects the plugin.
func (p *Plugin) Disconnect() error {
	p.mu.Lock()
	wasConnected := p.connected
	p.connected = false
	p.mu.Unlock()

	if wasConnected {
		p.emitter.Emit(&ledger.Disconnected{EventHeader: p.header()})
	}

	return nil
}

// IsConnected reports whether the plugin is connected.
func (p *Plugin) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.connected
}

// Info returns the ledger's description.
func (p *Plugin) Info() ledger.Info {
	return p.cfg.Info()
}

// ConnectorAccount returns the connector's account on the ledger.
func (p *Plugin) ConnectorAccount() ilp.Address {
	return p.cfg.ConnectorAccount
}

// Emitter returns the plugin's event emitter.
func (p *Plugin) Emitter() *ledger.Emitter {
	return p.emitter
}

// SendTransfer prepares an outgoing transfer from the connector account,
// holding its amount until it's resolved.
func (p *Plugin) SendTransfer(_ context.Context, t *ilp.Transfer) error {
	p.mu.Lock()

	switch {
	case !p.connected:
		p.mu.Unlock()
		return p.ledgerError(ledger.KindNotConnected, t.ID, nil)

	case p.sendErr != nil:
		err := p.sendErr
		p.mu.Unlock()

		var ledgerErr *ledger.Error
		if errors.As(err, &ledgerErr) {
			return err
		}

		return p.ledgerError(ledger.KindOther, t.ID, err)
	}

	if err := p.checkOutgoing(t); err != nil {
		p.mu.Unlock()
		return err
	}

	p.balance.WhenSome(func(b *big.Int) {
		b.Sub(b, t.Amount)
	})
	p.outgoing[t.ID] = &entry{transfer: t.Copy(), state: statePrepared}
	p.sent = append(p.sent, t.ID)
	p.mu.Unlock()

	log.Debugf("Ledger %v prepared outgoing transfer %v", p.cfg.Prefix, t)

	p.emitter.Emit(&ledger.OutgoingTransferPrepared{
		EventHeader: p.header(),
		Transfer:    t.Copy(),
	})

	return nil
}

// checkOutgoing validates an outgoing transfer against the ledger's books.
//
// NOTE: p.mu must be held.
func (p *Plugin) checkOutgoing(t *ilp.Transfer) error {
	if err := t.Validate(); err != nil {
		return p.ledgerError(ledger.KindInvalidTransfer, t.ID, err)
	}

	if t.LedgerPrefix != p.cfg.Prefix {
		return p.ledgerError(ledger.KindInvalidTransfer, t.ID,
			fmt.Errorf("transfer is for ledger %v", t.LedgerPrefix))
	}

	if t.SourceAccount != p.cfg.ConnectorAccount {
		return p.ledgerError(ledger.KindInvalidTransfer, t.ID,
			fmt.Errorf("cannot debit account %v", t.SourceAccount))
	}

	if _, ok := p.outgoing[t.ID]; ok {
		return p.ledgerError(ledger.KindDuplicateTransfer, t.ID, nil)
	}

	if len(p.accounts) > 0 {
		if _, ok := p.accounts[t.DestinationAccount]; !ok {
			return p.ledgerError(ledger.KindAccountNotFound, t.ID,
				fmt.Errorf("no account %v", t.DestinationAccount))
		}
	}

	insufficient := fn.MapOptionZ(p.balance, func(b *big.Int) bool {
		return b.Cmp(t.Amount) < 0
	})
	if insufficient {
		return p.ledgerError(ledger.KindInsufficientBalance, t.ID, nil)
	}

	return nil
}

// RejectIncomingTransfer rejects a prepared incoming transfer.
func (p *Plugin) RejectIncomingTransfer(_ context.Context, id ilp.TransferID,
	reason *ilp.ProtocolError) error {

	p.mu.Lock()
	e, err := p.pendingIncoming(id)
	if err != nil {
		p.mu.Unlock()
		return err
	}
	e.state = stateRejected
	p.rejections[id] = reason
	transfer := e.transfer.Copy()
	p.mu.Unlock()

	log.Debugf("Ledger %v rejected incoming transfer %v: %v",
		p.cfg.Prefix, id, reason)

	p.emitter.Emit(&ledger.IncomingTransferRejected{
		EventHeader: p.header(),
		Transfer:    transfer,
		Reason:      reason,
	})

	return nil
}

// FulfillCondition executes a prepared incoming transfer, crediting the
// connector account.
func (p *Plugin) FulfillCondition(_ context.Context, id ilp.TransferID,
	fulfillment ilp.Fulfillment) error {

	p.mu.Lock()
	e, err := p.pendingIncoming(id)
	if err != nil {
		p.mu.Unlock()
		return err
	}

	if !e.transfer.ExecutionCondition.Validate(fulfillment) {
		p.mu.Unlock()
		return p.ledgerError(ledger.KindInvalidTransfer, id,
			ErrWrongFulfillment)
	}

	e.state = stateFulfilled
	p.fulfillments[id] = fulfillment
	p.balance.WhenSome(func(b *big.Int) {
		b.Add(b, e.transfer.Amount)
	})
	transfer := e.transfer.Copy()
	p.mu.Unlock()

	log.Debugf("Ledger %v fulfilled incoming transfer %v", p.cfg.Prefix, id)

	p.emitter.Emit(&ledger.IncomingTransferFulfilled{
		EventHeader: p.header(),
		Transfer:    transfer,
		Fulfillment: fulfillment,
	})

	return nil
}

// pendingIncoming returns the incoming transfer if it's still prepared.
//
// NOTE: p.mu must be held.
func (p *Plugin) pendingIncoming(id ilp.TransferID) (*entry, error) {
	if !p.connected {
		return nil, p.ledgerError(ledger.KindNotConnected, id, nil)
	}

	e, ok := p.incoming[id]
	if !ok {
		return nil, p.ledgerError(ledger.KindTransferNotFound, id,
			ErrUnknownTransfer)
	}

	if e.state != statePrepared {
		return nil, p.ledgerError(ledger.KindTransferResolved, id,
			fmt.Errorf("%w: %v", ErrTransferResolved, e.state))
	}

	return e, nil
}

// SetConnectError makes every following Connect call fail with err. A nil err
// restores normal behavior.
func (p *Plugin) SetConnectError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.connectErr = err
}

// SetSendError makes every following SendTransfer call fail with err. Errors
// that aren't a *ledger.Error are reported with KindOther.
func (p *Plugin) SetSendError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.sendErr = err
}

// Fail simulates an unrecoverable plugin failure.
func (p *Plugin) Fail(err error) {
	p.emitter.Emit(&ledger.PluginError{
		EventHeader: p.header(),
		Err:         err,
	})
}

// Prepare simulates someone preparing a transfer to the connector account.
func (p *Plugin) Prepare(t *ilp.Transfer) error {
	if err := t.Validate(); err != nil {
		return p.ledgerError(ledger.KindInvalidTransfer, t.ID, err)
	}

	p.mu.Lock()
	if _, ok := p.incoming[t.ID]; ok {
		p.mu.Unlock()
		return p.ledgerError(ledger.KindDuplicateTransfer, t.ID, nil)
	}
	p.incoming[t.ID] = &entry{transfer: t.Copy(), state: statePrepared}
	p.mu.Unlock()

	p.emitter.Emit(&ledger.IncomingTransferPrepared{
		EventHeader: p.header(),
		Transfer:    t.Copy(),
	})

	return nil
}

// Notify re-publishes the prepare event of a known incoming transfer, the way
// a ledger resends a notification it believes was lost.
func (p *Plugin) Notify(id ilp.TransferID) error {
	p.mu.Lock()
	e, ok := p.incoming[id]
	if !ok {
		p.mu.Unlock()
		return ErrUnknownTransfer
	}
	transfer := e.transfer.Copy()
	p.mu.Unlock()

	p.emitter.Emit(&ledger.IncomingTransferPrepared{
		EventHeader: p.header(),
		Transfer:    transfer,
	})

	return nil
}

// FulfillOutgoing simulates the recipient of an outgoing transfer releasing
// its condition.
func (p *Plugin) FulfillOutgoing(id ilp.TransferID,
	fulfillment ilp.Fulfillment) error {

	p.mu.Lock()
	e, err := p.pendingOutgoing(id)
	if err != nil {
		p.mu.Unlock()
		return err
	}

	if !e.transfer.ExecutionCondition.Validate(fulfillment) {
		p.mu.Unlock()
		return ErrWrongFulfillment
	}
	e.state = stateFulfilled
	transfer := e.transfer.Copy()
	p.mu.Unlock()

	p.emitter.Emit(&ledger.OutgoingTransferFulfilled{
		EventHeader: p.header(),
		Transfer:    transfer,
		Fulfillment: fulfillment,
	})

	return nil
}

// RejectOutgoing simulates the recipient of an outgoing transfer refusing it.
// The held amount is returned to the connector account.
func (p *Plugin) RejectOutgoing(id ilp.TransferID,
	reason *ilp.ProtocolError) error {

	transfer, err := p.release(id, stateRejected)
	if err != nil {
		return err
	}

	p.emitter.Emit(&ledger.OutgoingTransferRejected{
		EventHeader: p.header(),
		Transfer:    transfer,
		Reason:      reason,
	})

	return nil
}

// CancelOutgoing simulates the ledger cancelling an outgoing transfer. The
// reason may be nil.
func (p *Plugin) CancelOutgoing(id ilp.TransferID,
	reason *ilp.ProtocolError) error {

	transfer, err := p.release(id, stateCancelled)
	if err != nil {
		return err
	}

	p.emitter.Emit(&ledger.OutgoingTransferCancelled{
		EventHeader: p.header(),
		Transfer:    transfer,
		Reason:      reason,
	})

	return nil
}

// ExpireTransfers cancels, without a reason, every prepared outgoing transfer
// whose expiry has passed. It returns the number of cancelled transfers.
func (p *Plugin) ExpireTransfers() int {
	now := p.clock.Now()

	p.mu.Lock()
	var expired []ilp.TransferID
	for _, id := range p.sent {
		e := p.outgoing[id]
		if e.state == statePrepared && !e.transfer.ExpiresAt.IsZero() &&
			!now.Before(e.transfer.ExpiresAt) {

			expired = append(expired, id)
		}
	}
	p.mu.Unlock()

	var n int
	for _, id := range expired {
		if err := p.CancelOutgoing(id, nil); err == nil {
			n++
		}
	}

	return n
}

// release moves a prepared outgoing transfer to state and refunds its amount.
func (p *Plugin) release(id ilp.TransferID,
	state transferState) (*ilp.Transfer, error) {

	p.mu.Lock()
	defer p.mu.Unlock()

	e, err := p.pendingOutgoing(id)
	if err != nil {
		return nil, err
	}
	e.state = state
	p.balance.WhenSome(func(b *big.Int) {
		b.Add(b, e.transfer.Amount)
	})

	return e.transfer.Copy(), nil
}

// NOTE: p.mu must be held.
func (p *Plugin) pendingOutgoing(id ilp.TransferID) (*entry, error) {
	e, ok := p.outgoing[id]
	if !ok {
		return nil, ErrUnknownTransfer
	}

	if e.state != statePrepared {
		return nil, fmt.Errorf("%w: %v", ErrTransferResolved, e.state)
	}

	return e, nil
}

// Sent returns copies of the outgoing transfers in the order they were sent.
func (p *Plugin) Sent() []*ilp.Transfer {
	p.mu.Lock()
	defer p.mu.Unlock()

	sent := make([]*ilp.Transfer, 0, len(p.sent))
	for _, id := range p.sent {
		sent = append(sent, p.outgoing[id].transfer.Copy())
	}

	return sent
}

// Rejections returns the reasons given for every rejected incoming transfer.
func (p *Plugin) Rejections() map[ilp.TransferID]*ilp.ProtocolError {
	p.mu.Lock()
	defer p.mu.Unlock()

	rejections := make(map[ilp.TransferID]*ilp.ProtocolError,
		len(p.rejections))
	for id, reason := range p.rejections {
		rejections[id] = reason
	}

	return rejections
}

// Fulfillments returns the fulfillments of every executed incoming transfer.
func (p *Plugin) Fulfillments() map[ilp.TransferID]ilp.Fulfillment {
	p.mu.Lock()
	defer p.mu.Unlock()

	fulfillments := make(map[ilp.TransferID]ilp.Fulfillment,
		len(p.fulfillments))
	for id, f := range p.fulfillments {
		fulfillments[id] = f
	}

	return fulfillments
}

// Balance returns the connector account's balance, if it's limited.
func (p *Plugin) Balance() fn.Option[*big.Int] {
	p.mu.Lock()
	defer p.mu.Unlock()

	return fn.MapOption(func(b *big.Int) *big.Int {
		return new(big.Int).Set(b)
	})(p.balance)
}

// Accounts returns the ledger's known accounts, sorted. It's empty when any
// account is accepted.
func (p *Plugin) Accounts() []ilp.Address {
	p.mu.Lock()
	defer p.mu.Unlock()

	accounts := make([]ilp.Address, 0, len(p.accounts))
	for account := range p.accounts {
		accounts = append(accounts, account)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i] < accounts[j]
	})

	return accounts
}
