package settlement

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/interledger/connector/correlation"
	"github.com/interledger/connector/fx"
	"github.com/interledger/connector/ilp"
	"github.com/interledger/connector/ledger"
	"github.com/interledger/connector/routing"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
)

const (
	// DefaultTransferExpiryWindow is how much earlier than its source an
	// outgoing transfer expires, leaving time to pass the fulfillment
	// back.
	DefaultTransferExpiryWindow = time.Second

	// DefaultMinMessageWindow is the least time an outgoing transfer must
	// leave to reach its ledger.
	DefaultMinMessageWindow = time.Second

	// DefaultMaxHoldTime caps how long the connector lets a transfer hold
	// its funds.
	DefaultMaxHoldTime = 10 * time.Second
)

// PluginRegistry is the engine's view of the set of connected ledgers.
type PluginRegistry interface {
	// Plugin returns the plugin registered for prefix.
	Plugin(prefix ilp.Address) fn.Option[ledger.Plugin]

	// PluginOrFail returns the connected plugin for prefix.
	PluginOrFail(id ilp.TransferID, prefix ilp.Address) (ledger.Plugin,
		error)

	// RemovePlugin takes the plugin for prefix out of service.
	RemovePlugin(prefix ilp.Address)

	// IsLocallyPeered reports whether account holders of the ledger can be
	// paid directly.
	IsLocallyPeered(prefix ilp.Address) bool

	// Correlations returns the correlation store.
	Correlations() correlation.Store
}

// A compile-time check to ensure ledger.Manager implements PluginRegistry.
var _ PluginRegistry = (*ledger.Manager)(nil)

// Config holds everything the engine needs.
type Config struct {
	// Plugins is the registry of connected ledgers.
	Plugins PluginRegistry

	// Router picks the next hop of every payment.
	Router routing.PaymentRouter

	// Rates converts between ledger currencies.
	Rates fx.RateProvider

	// Spread is the fraction the connector keeps from every forwarded
	// amount.
	Spread *big.Rat

	// Slippage is the fraction by which a final hop's packet amount may
	// fall short of what the incoming transfer justifies.
	Slippage *big.Rat

	// TransferExpiryWindow is subtracted from the source transfer's expiry
	// to obtain the outgoing transfer's expiry.
	TransferExpiryWindow time.Duration

	// MinMessageWindow is the least time an outgoing transfer must have
	// left when it's sent.
	MinMessageWindow time.Duration

	// MaxHoldTime caps the outgoing transfer's expiry relative to now.
	MaxHoldTime time.Duration

	// Secret seeds the deterministic outgoing transfer ids.
	Secret []byte

	// Clock is the engine's time source.
	Clock clock.Clock

	// Metrics receives the engine's counters. Optional.
	Metrics Metrics
}

// validate checks the configuration and fills in defaults.
func (c *Config) validate() error {
	switch {
	case c.Plugins == nil:
		return errors.New("missing plugin registry")

	case c.Router == nil:
		return errors.New("missing payment router")

	case c.Rates == nil:
		return errors.New("missing rate provider")

	case len(c.Secret) == 0:
		return errors.New("missing transfer id secret")
	}

	for name, f := range map[string]**big.Rat{
		"spread":   &c.Spread,
		"slippage": &c.Slippage,
	} {
		if *f == nil {
			*f = new(big.Rat)
			continue
		}

		if (*f).Sign() < 0 || (*f).Cmp(big.NewRat(1, 1)) >= 0 {
			return fmt.Errorf("%v %v: %w", name, (*f).RatString(),
				fx.ErrInvalidFraction)
		}
	}

	if c.TransferExpiryWindow < 0 || c.MinMessageWindow < 0 ||
		c.MaxHoldTime <= 0 {

		return fmt.Errorf("invalid transfer timing: window=%v, "+
			"min message window=%v, max hold time=%v",
			c.TransferExpiryWindow, c.MinMessageWindow,
			c.MaxHoldTime)
	}

	if c.Clock == nil {
		c.Clock = clock.NewDefaultClock()
	}

	if c.Metrics == nil {
		c.Metrics = noopMetrics{}
	}

	return nil
}
