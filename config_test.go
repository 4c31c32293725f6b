package connector

import (
	"encoding/hex"
	"io"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/interledger/connector/correlation"
	"github.com/interledger/connector/ilp"
	"github.com/interledger/connector/ledger"
	"github.com/interledger/connector/ledger/loopback"
	"github.com/interledger/connector/routing"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("correct horse battery staple")

// testConfig returns a default configuration rooted in a temporary directory,
// with logging silenced and the optional services disabled.
func testConfig(t *testing.T) Config {
	t.Helper()

	dir := t.TempDir()

	cfg := DefaultConfig()
	cfg.ConnectorDir = dir
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.LogDir = filepath.Join(dir, "logs")
	cfg.Secret = hex.EncodeToString(testSecret)
	cfg.Admin.Disable = true
	cfg.HealthChecks.DBCheck.Interval = 0
	cfg.LogConfig.Console.Disable = true
	cfg.LogConfig.File.Disable = true

	return cfg
}

func TestParseLedger(t *testing.T) {
	tests := []struct {
		name string
		spec string
		want ledger.PluginConfig
		err  bool
	}{
		{
			name: "minimal",
			spec: "g.a.;loopback;g.a.connie;usd;2",
			want: ledger.PluginConfig{
				Prefix:           "g.a.",
				Type:             loopback.PluginType,
				ConnectorAccount: "g.a.connie",
				CurrencyCode:     "USD",
				CurrencyScale:    2,
				Options:          map[string]string{},
			},
		},
		{
			name: "peered with options",
			spec: "g.b.; loopback ;g.b.connie;EUR;4;peered;" +
				"balance=1000;accounts=g.b.bob,g.b.carl",
			want: ledger.PluginConfig{
				Prefix:           "g.b.",
				Type:             loopback.PluginType,
				ConnectorAccount: "g.b.connie",
				CurrencyCode:     "EUR",
				CurrencyScale:    4,
				LocallyPeered:    true,
				Options: map[string]string{
					loopback.OptionBalance:  "1000",
					loopback.OptionAccounts: "g.b.bob,g.b.carl",
				},
			},
		},
		{
			name: "too few fields",
			spec: "g.a.;loopback;g.a.connie;USD",
			err:  true,
		},
		{
			name: "bad scale",
			spec: "g.a.;loopback;g.a.connie;USD;300",
			err:  true,
		},
		{
			name: "bad option",
			spec: "g.a.;loopback;g.a.connie;USD;2;balance",
			err:  true,
		},
		{
			name: "account outside ledger",
			spec: "g.a.;loopback;g.b.connie;USD;2",
			err:  true,
		},
		{
			name: "prefix is an account",
			spec: "g.a;loopback;g.a.connie;USD;2",
			err:  true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := ParseLedger(tc.spec)
			if tc.err {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tc.want, cfg)
		})
	}
}

func TestParseRoute(t *testing.T) {
	route, err := ParseRoute("g.b.=g.b.mark")
	require.NoError(t, err)
	require.Equal(t, ilp.Address("g.b."), route.TargetPrefix)
	require.Equal(t, ilp.Address("g.b.mark"), route.NextHopAccount)
	require.Equal(t, routing.DefaultSourceFilter, route.SourceFilter())
	require.True(t, route.ExpiresAt.IsNone())

	route, err = ParseRoute(`g.c. = g.b.mark;g\.a\.`)
	require.NoError(t, err)
	require.Equal(t, ilp.Address("g.c."), route.TargetPrefix)
	require.True(t, route.AcceptsSource("g.a."))
	require.False(t, route.AcceptsSource("g.b."))

	for _, spec := range []string{
		"g.b.", "g.b=g.b.mark", "g.b.=g.b.", "g.b.=g.b.mark;(",
	} {
		_, err := ParseRoute(spec)
		require.Error(t, err, spec)
	}
}

func TestValidateConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.FX.Spread = "0.2%"
	cfg.FX.Slippage = "1/1000"
	cfg.FX.Rates = []string{"USD:EUR:0.9"}
	cfg.Routing.Routes = []string{"g.b.=g.b.mark"}
	cfg.Ledgers = []string{
		"g.a.;loopback;g.a.connie;USD;2",
		"g.b.;loopback;g.b.connie;EUR;2;peered",
	}

	validated, err := ValidateConfig(cfg, io.Discard)
	require.NoError(t, err)

	require.Equal(t, testSecret, validated.secret)
	require.Zero(t, validated.spread.Cmp(big.NewRat(2, 1000)))
	require.Zero(t, validated.slippage.Cmp(big.NewRat(1, 1000)))
	require.Len(t, validated.routes, 1)
	require.Len(t, validated.pluginConfigs, 2)
	require.True(t, validated.pluginConfigs[1].LocallyPeered)
	require.NotNil(t, validated.SubLogMgr)
	require.DirExists(t, validated.DataDir)
	require.DirExists(t, validated.LogDir)

	rate, err := validated.rates.Rate("USD", "EUR")
	require.NoError(t, err)
	require.Zero(t, rate.Cmp(big.NewRat(9, 10)))

	// Subsystem levels can be set for every package.
	for _, subsystem := range []string{
		Subsystem, routing.Subsystem, correlation.Subsystem,
		ledger.Subsystem, loopback.Subsystem,
	} {
		require.Contains(t,
			validated.SubLogMgr.SupportedSubsystems(), subsystem)
	}
}

func TestValidateConfigGeneratesSecret(t *testing.T) {
	cfg := testConfig(t)
	cfg.Secret = ""

	first, err := ValidateConfig(cfg, io.Discard)
	require.NoError(t, err)
	require.Len(t, first.secret, secretSize)

	second, err := ValidateConfig(cfg, io.Discard)
	require.NoError(t, err)
	require.NotEqual(t, first.secret, second.secret)
}

func TestValidateConfigErrors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{
			name: "bad secret",
			modify: func(c *Config) {
				c.Secret = "zz"
			},
		},
		{
			name: "bad spread",
			modify: func(c *Config) {
				c.FX.Spread = "1.5"
			},
		},
		{
			name: "bad slippage",
			modify: func(c *Config) {
				c.FX.Slippage = "lots"
			},
		},
		{
			name: "bad rate",
			modify: func(c *Config) {
				c.FX.Rates = []string{"USD:EUR"}
			},
		},
		{
			name: "bad route",
			modify: func(c *Config) {
				c.Routing.Routes = []string{"g.b.mark"}
			},
		},
		{
			name: "duplicate ledger",
			modify: func(c *Config) {
				c.Ledgers = []string{
					"g.a.;loopback;g.a.connie;USD;2",
					"g.a.;loopback;g.a.mark;USD;2",
				}
			},
		},
		{
			name: "unknown db backend",
			modify: func(c *Config) {
				c.DB.Backend = "postgres"
			},
		},
		{
			name: "bad log compressor",
			modify: func(c *Config) {
				c.LogConfig.File.Compressor = "lzma"
			},
		},
		{
			name: "negative expiry window",
			modify: func(c *Config) {
				c.Transfers.ExpiryWindow = -time.Second
			},
		},
		{
			name: "zero max hold time",
			modify: func(c *Config) {
				c.Transfers.MaxHoldTime = 0
			},
		},
		{
			name: "zero sweep interval",
			modify: func(c *Config) {
				c.Routing.SweepInterval = 0
			},
		},
		{
			name: "zero reconnect interval",
			modify: func(c *Config) {
				c.Reconnect.Interval = 0
			},
		},
		{
			name: "no health check attempts",
			modify: func(c *Config) {
				c.HealthChecks.DBCheck.Interval = time.Minute
				c.HealthChecks.DBCheck.Attempts = 0
			},
		},
		{
			name: "bad debug level",
			modify: func(c *Config) {
				c.DebugLevel = "info,NOPE=debug"
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig(t)
			tc.modify(&cfg)

			_, err := ValidateConfig(cfg, io.Discard)
			require.Error(t, err)
		})
	}
}

func TestCleanAndExpandPath(t *testing.T) {
	t.Setenv("ILPC_TEST_DIR", "/tmp/ilpc")

	require.Equal(t, "", CleanAndExpandPath(""))
	require.Equal(t, "/tmp/ilpc/data",
		CleanAndExpandPath("$ILPC_TEST_DIR/./data/"))
	require.NotContains(t, CleanAndExpandPath("~/x"), "~")
}
