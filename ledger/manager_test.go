package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/interledger/connector/correlation"
	"github.com/interledger/connector/ilp"
	"github.com/interledger/connector/ledger"
	"github.com/interledger/connector/ledger/loopback"
	"github.com/stretchr/testify/require"
)

const eventTimeout = 5 * time.Second

func pluginConfig(prefix string, peered bool) ledger.PluginConfig {
	p := ilp.MustAddress(prefix)

	return ledger.PluginConfig{
		Prefix:           p,
		Type:             loopback.PluginType,
		ConnectorAccount: p.With("connie"),
		CurrencyCode:     "USD",
		CurrencyScale:    2,
		LocallyPeered:    peered,
	}
}

func nextEvent(t *testing.T, e *ledger.Emitter) ledger.Event {
	t.Helper()

	select {
	case ev := <-e.Events():
		return ev

	case <-time.After(eventTimeout):
		t.Fatalf("no event received")
		return nil
	}
}

func newManager() *ledger.Manager {
	return ledger.NewManager(ledger.ManagerConfig{
		Correlations: correlation.NewMemoryStore(),
	})
}

// TestManagerAddPlugin checks registration and lookups.
func TestManagerAddPlugin(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := newManager()

	cfgA := pluginConfig("g.a.", true)
	a := loopback.New(cfgA)
	require.NoError(t, m.AddPlugin(ctx, cfgA, a))

	cfgB := pluginConfig("g.b.", false)
	b := loopback.New(cfgB)
	require.NoError(t, m.AddPlugin(ctx, cfgB, b))

	require.Equal(t, []ilp.Address{"g.a.", "g.b."}, m.Prefixes())
	require.True(t, m.IsLocallyPeered("g.a."))
	require.False(t, m.IsLocallyPeered("g.b."))
	require.False(t, m.IsLocallyPeered("g.c."))

	require.True(t, m.Plugin("g.a.").IsSome())
	require.True(t, m.Plugin("g.c.").IsNone())
	require.NotNil(t, m.Correlations())
	require.NotNil(t, m.Codec())

	_, ok := nextEvent(t, a.Emitter()).(*ledger.Connected)
	require.True(t, ok)

	id := ilp.NewTransferID()
	p, err := m.PluginOrFail(id, "g.b.")
	require.NoError(t, err)
	require.Equal(t, ilp.Address("g.b.connie"), p.ConnectorAccount())

	_, err = m.PluginOrFail(id, "g.c.")
	require.ErrorIs(t, err, ledger.ErrPluginNotConnected)

	require.NoError(t, m.AddPlugin(ctx, pluginConfig("g.c.", false),
		loopback.New(pluginConfig("g.c.", false))))
	require.Len(t, m.Prefixes(), 3)

	m.RemovePlugin("g.b.")
	require.False(t, b.IsConnected())
	require.True(t, m.Plugin("g.b.").IsNone())

	// Removing an unknown prefix is a no-op.
	m.RemovePlugin("g.zzz.")

	m.Stop()
	require.Empty(t, m.Prefixes())
	require.False(t, a.IsConnected())
}

// TestManagerReplacePlugin checks that adding a plugin for a prefix already in
// use disconnects the old one.
func TestManagerReplacePlugin(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := newManager()

	cfg := pluginConfig("g.a.", false)
	first := loopback.New(cfg)
	require.NoError(t, m.AddPlugin(ctx, cfg, first))

	second := loopback.New(cfg)
	require.NoError(t, m.AddPlugin(ctx, cfg, second))

	require.False(t, first.IsConnected())
	require.True(t, second.IsConnected())
	require.Equal(t, ledger.Plugin(second), m.Plugin("g.a.").UnsafeFromSome())
}

// TestManagerConnectFailure checks that a plugin failing to connect is not
// registered and reports the failure on its emitter.
func TestManagerConnectFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := newManager()

	cfg := pluginConfig("g.a.", false)
	p := loopback.New(cfg)
	errBoom := errors.New("boom")
	p.SetConnectError(errBoom)

	err := m.AddPlugin(ctx, cfg, p)
	require.ErrorIs(t, err, errBoom)
	require.True(t, m.Plugin("g.a.").IsNone())

	ev, ok := nextEvent(t, p.Emitter()).(*ledger.PluginError)
	require.True(t, ok)
	require.Equal(t, ilp.Address("g.a."), ev.Ledger())
	require.ErrorIs(t, ev.Err, errBoom)

	// An account is not a valid prefix.
	bad := pluginConfig("g.a.", false)
	bad.Prefix = "g.a.b"
	require.Error(t, m.AddPlugin(ctx, bad, loopback.New(bad)))
}

// TestNewPlugin checks the factory registry.
func TestNewPlugin(t *testing.T) {
	t.Parallel()

	require.Contains(t, ledger.PluginTypes(), loopback.PluginType)

	cfg := pluginConfig("g.a.", false)
	cfg.Options = map[string]string{
		loopback.OptionBalance:  "100",
		loopback.OptionAccounts: "g.a.bob, g.a.carol",
	}
	p, err := ledger.NewPlugin(cfg)
	require.NoError(t, err)
	require.Equal(t, cfg.Info(), p.Info())

	lp, ok := p.(*loopback.Plugin)
	require.True(t, ok)
	require.Equal(t, []ilp.Address{"g.a.bob", "g.a.carol", "g.a.connie"},
		lp.Accounts())
	require.Equal(t, int64(100), lp.Balance().UnsafeFromSome().Int64())

	cfg.Type = "nope"
	_, err = ledger.NewPlugin(cfg)
	require.ErrorIs(t, err, ledger.ErrUnknownPluginType)

	err = ledger.RegisterPluginType(loopback.PluginType, nil)
	require.ErrorIs(t, err, ledger.ErrDuplicatePluginType)

	testCases := []struct {
		name   string
		mutate func(c *ledger.PluginConfig)
	}{
		{
			name: "account outside ledger",
			mutate: func(c *ledger.PluginConfig) {
				c.ConnectorAccount = "g.b.connie"
			},
		},
		{
			name: "prefix as account",
			mutate: func(c *ledger.PluginConfig) {
				c.ConnectorAccount = "g.a.sub."
			},
		},
		{
			name: "missing type",
			mutate: func(c *ledger.PluginConfig) {
				c.Type = ""
			},
		},
		{
			name: "bad balance",
			mutate: func(c *ledger.PluginConfig) {
				c.Options = map[string]string{
					loopback.OptionBalance: "-1",
				}
			},
		},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			cfg := pluginConfig("g.a.", false)
			tc.mutate(&cfg)

			_, err := ledger.NewPlugin(cfg)
			require.Error(t, err)
		})
	}
}

// TestKindOf checks error kind extraction through wrapping.
func TestKindOf(t *testing.T) {
	t.Parallel()

	id := ilp.NewTransferID()
	err := ledger.NewError(ledger.KindInsufficientBalance, "g.a.", id, nil)
	wrapped := fmt.Errorf("sending: %w", err)

	require.Equal(t, ledger.KindInsufficientBalance, ledger.KindOf(wrapped))
	require.Equal(t, ledger.KindOther, ledger.KindOf(errors.New("x")))
	require.Contains(t, err.Error(), "InsufficientBalance")
	require.Contains(t, err.Error(), id.String())
}

// TestEmitterStop checks that emitting after a stop doesn't block.
func TestEmitterStop(t *testing.T) {
	t.Parallel()

	e := ledger.NewEmitter(1)
	hdr := ledger.EventHeader{Prefix: "g.a."}

	// More events than the buffer holds must not block the emitter.
	for i := 0; i < 10; i++ {
		require.True(t, e.Emit(&ledger.Connected{EventHeader: hdr}))
	}
	for i := 0; i < 10; i++ {
		ev := nextEvent(t, e)
		require.Equal(t, "connect", ledger.EventName(ev))
	}

	e.Stop()
	e.Stop()
	require.False(t, e.Emit(&ledger.Disconnected{EventHeader: hdr}))

	select {
	case <-e.Quit():
	default:
		t.Fatalf("quit not closed")
	}
}
