package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/interledger/connector/ilp"
)

var (
	// ErrUnknownPluginType is returned when no factory is registered under
	// the requested plugin type.
	ErrUnknownPluginType = errors.New("unknown ledger plugin type")

	// ErrDuplicatePluginType is returned when a factory is registered
	// twice under the same name.
	ErrDuplicatePluginType = errors.New("ledger plugin type already " +
		"registered")
)

// Info describes the ledger a plugin is attached to.
type Info struct {
	// Prefix is the ledger's address prefix.
	Prefix ilp.Address

	// CurrencyCode is the ledger's asset, for example "USD".
	CurrencyCode string

	// CurrencyScale is the number of decimal places the ledger's integer
	// amounts carry.
	CurrencyScale uint8
}

// Plugin is the connector's handle on a single ledger. Implementations must be
// safe for concurrent use.
type Plugin interface {
	// Connect establishes the plugin's connection to its ledger.
	Connect(ctx context.Context) error

	// Disconnect tears the connection down.
	Disconnect() error

	// IsConnected reports whether the plugin is currently connected.
	IsConnected() bool

	// Info returns the ledger's description.
	Info() Info

	// ConnectorAccount is the connector's own account on the ledger.
	ConnectorAccount() ilp.Address

	// SendTransfer prepares an outgoing transfer. Failures are returned as
	// *Error so callers can branch on the kind.
	SendTransfer(ctx context.Context, transfer *ilp.Transfer) error

	// RejectIncomingTransfer rejects a transfer prepared by someone else to
	// the connector's account.
	RejectIncomingTransfer(ctx context.Context, id ilp.TransferID,
		reason *ilp.ProtocolError) error

	// FulfillCondition executes an incoming transfer with the given
	// fulfillment.
	FulfillCondition(ctx context.Context, id ilp.TransferID,
		fulfillment ilp.Fulfillment) error

	// Emitter is where the plugin publishes ledger events.
	Emitter() *Emitter
}

// PluginConfig is the static configuration of one ledger plugin.
type PluginConfig struct {
	// Prefix is the ledger prefix the plugin serves.
	Prefix ilp.Address

	// Type names the factory that builds the plugin.
	Type string

	// ConnectorAccount is the connector's account on the ledger.
	ConnectorAccount ilp.Address

	// CurrencyCode is the ledger's asset.
	CurrencyCode string

	// CurrencyScale is the ledger's number of decimal places.
	CurrencyScale uint8

	// LocallyPeered marks ledgers whose account holders can be paid
	// directly, making a hop onto this ledger the final one.
	LocallyPeered bool

	// Options carries plugin specific settings.
	Options map[string]string
}

// Validate checks the configuration.
func (c *PluginConfig) Validate() error {
	if err := ilp.RequirePrefix(c.Prefix); err != nil {
		return fmt.Errorf("ledger prefix: %w", err)
	}

	if err := ilp.RequireNotPrefix(c.ConnectorAccount); err != nil {
		return fmt.Errorf("connector account: %w", err)
	}

	if !c.ConnectorAccount.StartsWith(c.Prefix) {
		return fmt.Errorf("connector account %v is not on ledger %v",
			c.ConnectorAccount, c.Prefix)
	}

	if c.Type == "" {
		return fmt.Errorf("ledger %v: missing plugin type", c.Prefix)
	}

	return nil
}

// Info returns the ledger description derived from the configuration.
func (c *PluginConfig) Info() Info {
	return Info{
		Prefix:        c.Prefix,
		CurrencyCode:  c.CurrencyCode,
		CurrencyScale: c.CurrencyScale,
	}
}

// Factory builds a plugin from its configuration.
type Factory func(cfg PluginConfig) (Plugin, error)

var (
	factoriesMtx sync.RWMutex
	factories    = make(map[string]Factory)
)

// RegisterPluginType makes a plugin factory available under name. It's meant
// to be called from the init function of the package implementing the plugin.
func RegisterPluginType(name string, factory Factory) error {
	factoriesMtx.Lock()
	defer factoriesMtx.Unlock()

	if _, ok := factories[name]; ok {
		return fmt.Errorf("%w: %v", ErrDuplicatePluginType, name)
	}
	factories[name] = factory

	return nil
}

// PluginTypes returns the registered plugin type names, sorted.
func PluginTypes() []string {
	factoriesMtx.RLock()
	defer factoriesMtx.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// NewPlugin builds a plugin using the factory registered for cfg.Type.
func NewPlugin(cfg PluginConfig) (Plugin, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	factoriesMtx.RLock()
	factory, ok := factories[cfg.Type]
	factoriesMtx.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownPluginType, cfg.Type)
	}

	return factory(cfg)
}
