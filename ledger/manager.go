package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/interledger/connector/correlation"
	"github.com/interledger/connector/ilp"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// ErrPluginNotConnected is returned when a transfer needs a plugin that is
// either unknown or not connected.
var ErrPluginNotConnected = errors.New("no connected plugin for ledger")

// ManagerConfig holds the dependencies shared by every plugin.
type ManagerConfig struct {
	// Correlations is the store linking incoming and outgoing transfers.
	Correlations correlation.Store

	// Codec encodes and decodes the payment packets carried by transfers.
	Codec ilp.PacketCodec
}

// registeredPlugin pairs a plugin with the configuration it was added with.
type registeredPlugin struct {
	cfg    PluginConfig
	plugin Plugin
}

// Manager is the registry of active ledger plugins, keyed by ledger prefix.
type Manager struct {
	cfg ManagerConfig

	mu      sync.RWMutex
	plugins map[ilp.Address]*registeredPlugin
}

// NewManager returns an empty manager.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Codec == nil {
		cfg.Codec = ilp.TLVCodec{}
	}

	return &Manager{
		cfg:     cfg,
		plugins: make(map[ilp.Address]*registeredPlugin),
	}
}

// AddPlugin connects p and registers it under cfg.Prefix. Any plugin already
// registered for the prefix is removed and disconnected first. A single
// connection attempt is made: if it fails, p is not registered and a
// PluginError event is published on p's own emitter.
func (m *Manager) AddPlugin(ctx context.Context, cfg PluginConfig,
	p Plugin) error {

	if err := ilp.RequirePrefix(cfg.Prefix); err != nil {
		return fmt.Errorf("unable to add plugin: %w", err)
	}

	m.RemovePlugin(cfg.Prefix)

	log.Infof("Connecting %v plugin for ledger %v", cfg.Type, cfg.Prefix)

	if err := p.Connect(ctx); err != nil {
		log.Errorf("Unable to connect plugin for ledger %v: %v",
			cfg.Prefix, err)

		p.Emitter().Emit(&PluginError{
			EventHeader: EventHeader{Prefix: cfg.Prefix},
			Err:         err,
		})

		return fmt.Errorf("unable to connect ledger %v: %w", cfg.Prefix,
			err)
	}

	m.mu.Lock()
	prior := m.plugins[cfg.Prefix]
	m.plugins[cfg.Prefix] = &registeredPlugin{cfg: cfg, plugin: p}
	m.mu.Unlock()

	// Another caller may have registered a plugin for the same prefix
	// while we were connecting.
	if prior != nil && prior.plugin != p {
		disconnect(cfg.Prefix, prior.plugin)
	}

	log.Infof("Ledger %v connected, connector account %v", cfg.Prefix,
		p.ConnectorAccount())

	return nil
}

// RemovePlugin unregisters and disconnects the plugin for prefix, if any.
func (m *Manager) RemovePlugin(prefix ilp.Address) {
	m.mu.Lock()
	prior, ok := m.plugins[prefix]
	delete(m.plugins, prefix)
	m.mu.Unlock()

	if !ok {
		return
	}

	log.Infof("Removing plugin for ledger %v", prefix)
	disconnect(prefix, prior.plugin)
}

func disconnect(prefix ilp.Address, p Plugin) {
	if err := p.Disconnect(); err != nil {
		log.Warnf("Unable to disconnect plugin for ledger %v: %v",
			prefix, err)
	}
}

// Plugin returns the plugin registered for prefix.
func (m *Manager) Plugin(prefix ilp.Address) fn.Option[Plugin] {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.plugins[prefix]
	if !ok {
		return fn.None[Plugin]()
	}

	return fn.Some(entry.plugin)
}

// PluginOrFail returns the connected plugin for prefix. The transfer id only
// serves to give the error context.
func (m *Manager) PluginOrFail(id ilp.TransferID,
	prefix ilp.Address) (Plugin, error) {

	p, err := m.Plugin(prefix).UnwrapOrErr(ErrPluginNotConnected)
	if err != nil {
		return nil, fmt.Errorf("transfer %v: %w: %v", id, err, prefix)
	}

	if !p.IsConnected() {
		return nil, fmt.Errorf("transfer %v: %w: %v", id,
			ErrPluginNotConnected, prefix)
	}

	return p, nil
}

// Prefixes returns the prefixes of every registered plugin, sorted.
func (m *Manager) Prefixes() []ilp.Address {
	m.mu.RLock()
	defer m.mu.RUnlock()

	prefixes := make([]ilp.Address, 0, len(m.plugins))
	for prefix := range m.plugins {
		prefixes = append(prefixes, prefix)
	}
	sort.Slice(prefixes, func(i, j int) bool {
		return prefixes[i] < prefixes[j]
	})

	return prefixes
}

// PluginConfig returns the configuration the plugin for prefix was added
// with.
func (m *Manager) PluginConfig(prefix ilp.Address) fn.Option[PluginConfig] {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.plugins[prefix]
	if !ok {
		return fn.None[PluginConfig]()
	}

	return fn.Some(entry.cfg)
}

// IsLocallyPeered reports whether the plugin for prefix was configured as
// locally peered. Unknown prefixes are never locally peered.
func (m *Manager) IsLocallyPeered(prefix ilp.Address) bool {
	return fn.MapOptionZ(m.PluginConfig(prefix), func(c PluginConfig) bool {
		return c.LocallyPeered
	})
}

// Correlations returns the shared correlation store.
func (m *Manager) Correlations() correlation.Store {
	return m.cfg.Correlations
}

// Codec returns the shared packet codec.
func (m *Manager) Codec() ilp.PacketCodec {
	return m.cfg.Codec
}

// Stop disconnects and unregisters every plugin.
func (m *Manager) Stop() {
	for _, prefix := range m.Prefixes() {
		m.RemovePlugin(prefix)
	}
}
