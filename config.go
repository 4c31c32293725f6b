package connector

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/interledger/connector/adminrpc"
	"github.com/interledger/connector/build"
	"github.com/interledger/connector/correlation"
	"github.com/interledger/connector/fx"
	"github.com/interledger/connector/ilp"
	"github.com/interledger/connector/ledger"
	"github.com/interledger/connector/monitoring"
	"github.com/interledger/connector/routing"
	"github.com/interledger/connector/settlement"
	"github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename = "ilpconnector.conf"
	defaultDataDirname    = "data"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "ilpconnector.log"
	defaultLogLevel       = "info"

	defaultSweepInterval     = time.Minute
	defaultBroadcastInterval = 30 * time.Second

	defaultReconnectInterval = 5 * time.Second
	defaultReconnectAttempts = 10

	defaultDBCheckInterval = time.Minute
	defaultDBCheckTimeout  = 5 * time.Second
	defaultDBCheckBackoff  = 10 * time.Second
	defaultDBCheckAttempts = 3

	// secretSize is the size of a generated transfer id secret.
	secretSize = 32

	// peeredFlag marks a ledger definition as locally peered.
	peeredFlag = "peered"
)

var (
	// DefaultConnectorDir is the default directory where the connector
	// keeps its data and logs.
	DefaultConnectorDir = defaultConnectorDir()

	// DefaultConfigFile is the default full path of the connector's
	// configuration file.
	DefaultConfigFile = filepath.Join(
		DefaultConnectorDir, defaultConfigFilename,
	)

	defaultDataDir = filepath.Join(DefaultConnectorDir, defaultDataDirname)
	defaultLogDir  = filepath.Join(DefaultConnectorDir, defaultLogDirname)
)

// FX holds the exchange settings.
//
//nolint:lll
type FX struct {
	Spread   string   `long:"spread" description:"Fraction kept by the connector on every forward, e.g. 0.002 or 0.2%."`
	Slippage string   `long:"slippage" description:"Fraction of the promised final amount the connector may fall short of when delivering it."`
	Rates    []string `long:"rate" description:"An exchange rate SRC:DST:RATE, one unit of SRC being worth RATE units of DST. May be repeated."`
}

// Transfers holds the timing constraints applied to outgoing transfers.
//
//nolint:lll
type Transfers struct {
	ExpiryWindow     time.Duration `long:"expirywindow" description:"How much earlier than the incoming transfer the outgoing transfer expires."`
	MinMessageWindow time.Duration `long:"minmessagewindow" description:"The minimum time an outgoing transfer must leave for its fulfillment to travel back."`
	MaxHoldTime      time.Duration `long:"maxholdtime" description:"The longest an outgoing transfer may hold funds."`
}

// Routing holds the routing table settings.
//
//nolint:lll
type Routing struct {
	SweepInterval     time.Duration `long:"sweepinterval" description:"How often expired routes are removed from the routing table."`
	BroadcastInterval time.Duration `long:"broadcastinterval" description:"Accepted for compatibility, routes are never broadcast."`
	Routes            []string      `long:"route" description:"A static route TARGET=NEXTHOP[;SOURCEFILTER]. May be repeated."`
}

// Admin configures the admin API.
//
//nolint:lll
type Admin struct {
	Disable bool   `long:"disable" description:"Don't serve the admin API."`
	Listen  string `long:"listen" description:"The address the admin API listens on."`
}

// CheckConfig configures a single health check.
//
//nolint:lll
type CheckConfig struct {
	Interval time.Duration `long:"interval" description:"How often to run the check, 0 disables it."`
	Attempts int           `long:"attempts" description:"The number of calls made for the check before failing."`
	Timeout  time.Duration `long:"timeout" description:"The amount of time we allow the check to take before it fails."`
	Backoff  time.Duration `long:"backoff" description:"The amount of time to back off between failed attempts."`
}

// HealthChecks holds the health checks the connector runs.
//
//nolint:lll
type HealthChecks struct {
	DBCheck *CheckConfig `group:"db" namespace:"db" description:"Checks that the correlation store answers lookups."`
}

// Reconnect configures how failed ledger plugins are brought back.
//
//nolint:lll
type Reconnect struct {
	Interval time.Duration `long:"interval" description:"Minimum time between two reconnection attempts over all ledgers."`
	Attempts int           `long:"attempts" description:"Consecutive failed reconnection attempts after which a ledger is given up on."`
}

// Config holds the connector's configuration.
//
//nolint:lll
type Config struct {
	ShowVersion bool `short:"V" long:"version" description:"Display version information and exit"`

	ConnectorDir string `long:"connectordir" description:"The base directory that contains the connector's data and logs."`
	ConfigFile   string `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir      string `short:"b" long:"datadir" description:"The directory to store the connector's data within"`
	LogDir       string `long:"logdir" description:"Directory to log output."`

	DebugLevel string `short:"d" long:"debuglevel" description:"Log level {trace, debug, info, warn, error, critical, off}, optionally followed by SUBSYSTEM=LEVEL pairs such as info,RTNG=debug,SETL=trace. Use show to list the subsystems."`

	Secret string `long:"secret" description:"Hex encoded secret transfer ids are derived from. Must stay the same across restarts for duplicate transfers to be detected."`

	Ledgers []string `long:"ledger" description:"A ledger PREFIX;TYPE;CONNECTORACCOUNT;CURRENCY;SCALE[;peered][;KEY=VALUE...]. May be repeated."`

	DB *correlation.Config `group:"db" namespace:"db" description:"The correlation store."`

	FX *FX `group:"fx" namespace:"fx"`

	Transfers *Transfers `group:"transfers" namespace:"transfers"`

	Routing *Routing `group:"routing" namespace:"routing"`

	Admin *Admin `group:"admin" namespace:"admin"`

	Prometheus *monitoring.Prometheus `group:"prometheus" namespace:"prometheus"`

	HealthChecks *HealthChecks `group:"healthcheck" namespace:"healthcheck"`

	Reconnect *Reconnect `group:"reconnect" namespace:"reconnect"`

	LogConfig *build.LogConfig `group:"logging" namespace:"logging"`

	// LogRotator writes the log file. It is set up by ValidateConfig.
	LogRotator *build.RotatingLogWriter

	// SubLogMgr hands out the subsystem loggers. It is set up by
	// ValidateConfig.
	SubLogMgr *build.SubLoggerManager

	// The fields below are parsed from their textual counterparts by
	// ValidateConfig.
	secret        []byte
	spread        *big.Rat
	slippage      *big.Rat
	rates         *fx.StaticRates
	routes        []*routing.Route
	pluginConfigs []ledger.PluginConfig
}

// DefaultConfig returns all default values for the Config struct.
func DefaultConfig() Config {
	return Config{
		ConnectorDir: DefaultConnectorDir,
		ConfigFile:   DefaultConfigFile,
		DataDir:      defaultDataDir,
		LogDir:       defaultLogDir,
		DebugLevel:   defaultLogLevel,
		DB:           correlation.DefaultConfig(),
		FX: &FX{
			Spread:   "0",
			Slippage: "0",
		},
		Transfers: &Transfers{
			ExpiryWindow:     settlement.DefaultTransferExpiryWindow,
			MinMessageWindow: settlement.DefaultMinMessageWindow,
			MaxHoldTime:      settlement.DefaultMaxHoldTime,
		},
		Routing: &Routing{
			SweepInterval:     defaultSweepInterval,
			BroadcastInterval: defaultBroadcastInterval,
		},
		Admin: &Admin{
			Listen: adminrpc.DefaultListen,
		},
		Prometheus: monitoring.DefaultPrometheus(),
		HealthChecks: &HealthChecks{
			DBCheck: &CheckConfig{
				Interval: defaultDBCheckInterval,
				Attempts: defaultDBCheckAttempts,
				Timeout:  defaultDBCheckTimeout,
				Backoff:  defaultDBCheckBackoff,
			},
		},
		Reconnect: &Reconnect{
			Interval: defaultReconnectInterval,
			Attempts: defaultReconnectAttempts,
		},
		LogConfig:  build.DefaultLogConfig(),
		LogRotator: build.NewRotatingLogWriter(),
	}
}

// LoadConfig initializes and parses the config using a config file and command
// line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
func LoadConfig() (*Config, error) {
	// The command line may point at another config file or directory, so
	// it is read once on its own first.
	cmdLine := DefaultConfig()
	if _, err := flags.Parse(&cmdLine); err != nil {
		return nil, err
	}

	if cmdLine.ShowVersion {
		name := strings.TrimSuffix(
			filepath.Base(os.Args[0]), filepath.Ext(os.Args[0]),
		)
		fmt.Printf("%s version %s commit=%s\n", name, build.Version(),
			build.Commit)
		os.Exit(0)
	}

	configFile := CleanAndExpandPath(cmdLine.ConfigFile)
	connectorDir := CleanAndExpandPath(cmdLine.ConnectorDir)
	if configFile == DefaultConfigFile &&
		connectorDir != DefaultConnectorDir {

		configFile = filepath.Join(connectorDir, defaultConfigFilename)
	}

	// A missing file is only worth a warning, a malformed one is fatal.
	cfg := cmdLine
	var missingFile error
	if err := flags.IniParse(configFile, &cfg); err != nil {
		var iniErr *flags.IniError
		if errors.As(err, &iniErr) {
			return nil, err
		}
		missingFile = err
	}

	// Flags win over the file.
	if _, err := flags.Parse(&cfg); err != nil {
		return nil, err
	}

	validated, err := ValidateConfig(cfg, os.Stdout)
	if err != nil {
		return nil, err
	}

	// Logging only works once the config is validated.
	if missingFile != nil {
		log.Warnf("Config file not loaded: %v", missingFile)
	}

	return validated, nil
}

// ValidateConfig checks the given configuration to be sane and parses its
// textual settings. All file system paths are normalized. Console logs are
// written to console. The cleaned up config is returned on success.
func ValidateConfig(cfg Config, console io.Writer) (*Config, error) {
	// If the base directory is not the default, move the data and logs
	// into it.
	connectorDir := CleanAndExpandPath(cfg.ConnectorDir)
	if connectorDir != DefaultConnectorDir {
		if cfg.DataDir == defaultDataDir {
			cfg.DataDir = filepath.Join(
				connectorDir, defaultDataDirname,
			)
		}
		if cfg.LogDir == defaultLogDir {
			cfg.LogDir = filepath.Join(
				connectorDir, defaultLogDirname,
			)
		}
	}
	cfg.ConnectorDir = connectorDir
	cfg.DataDir = CleanAndExpandPath(cfg.DataDir)
	cfg.LogDir = CleanAndExpandPath(cfg.LogDir)

	for _, dir := range []string{cfg.DataDir, cfg.LogDir} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create directory "+
				"%v: %w", dir, err)
		}
	}

	if err := cfg.DB.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.LogConfig.Validate(); err != nil {
		return nil, err
	}

	if err := cfg.parseSecret(); err != nil {
		return nil, err
	}
	if err := cfg.parseFX(); err != nil {
		return nil, err
	}
	if err := cfg.parseRoutes(); err != nil {
		return nil, err
	}
	if err := cfg.parseLedgers(); err != nil {
		return nil, err
	}

	switch {
	case cfg.Transfers.ExpiryWindow < 0:
		return nil, fmt.Errorf("transfers.expirywindow must not be " +
			"negative")

	case cfg.Transfers.MinMessageWindow < 0:
		return nil, fmt.Errorf("transfers.minmessagewindow must not " +
			"be negative")

	case cfg.Transfers.MaxHoldTime <= 0:
		return nil, fmt.Errorf("transfers.maxholdtime must be " +
			"positive")

	case cfg.Routing.SweepInterval <= 0:
		return nil, fmt.Errorf("routing.sweepinterval must be " +
			"positive")

	case cfg.Reconnect.Interval <= 0:
		return nil, fmt.Errorf("reconnect.interval must be positive")

	case cfg.Reconnect.Attempts < 0:
		return nil, fmt.Errorf("reconnect.attempts must not be " +
			"negative")

	case cfg.HealthChecks.DBCheck.Interval > 0 &&
		cfg.HealthChecks.DBCheck.Attempts <= 0:

		return nil, fmt.Errorf("healthcheck.db.attempts must be " +
			"positive")
	}

	if err := cfg.setupLogging(console); err != nil {
		return nil, err
	}

	if cfg.Secret == "" {
		log.Warnf("No secret configured, using a random one. " +
			"Duplicate transfers won't be detected across restarts")
	}

	return &cfg, nil
}

// setupLogging creates the log writers and applies the debug levels.
func (c *Config) setupLogging(console io.Writer) error {
	var writers []io.Writer
	if !c.LogConfig.Console.Disable {
		writers = append(writers, console)
	}
	if !c.LogConfig.File.Disable {
		err := c.LogRotator.InitLogRotator(
			c.LogConfig.File,
			filepath.Join(c.LogDir, defaultLogFilename),
		)
		if err != nil {
			return err
		}
		writers = append(writers, c.LogRotator)
	}

	c.SubLogMgr = build.NewSubLoggerManager(
		io.MultiWriter(writers...),
		c.LogConfig.Console.HandlerOptions()...,
	)
	SetupLoggers(c.SubLogMgr)

	if c.DebugLevel == "show" {
		fmt.Printf("Supported subsystems: %v\n",
			strings.Join(c.SubLogMgr.SupportedSubsystems(), ", "))
		os.Exit(0)
	}

	return build.ParseAndSetDebugLevels(c.DebugLevel, c.SubLogMgr)
}

// parseSecret decodes the transfer id secret, generating one if none is
// configured.
func (c *Config) parseSecret() error {
	if c.Secret == "" {
		c.secret = make([]byte, secretSize)
		if _, err := rand.Read(c.secret); err != nil {
			return err
		}

		return nil
	}

	secret, err := hex.DecodeString(c.Secret)
	if err != nil {
		return fmt.Errorf("invalid secret: %w", err)
	}
	if len(secret) == 0 {
		return fmt.Errorf("invalid secret: empty")
	}
	c.secret = secret

	return nil
}

// parseFX parses the spread, the slippage and the rate table.
func (c *Config) parseFX() error {
	var err error
	c.spread, err = fx.ParseFraction(c.FX.Spread)
	if err != nil {
		return fmt.Errorf("invalid fx.spread: %w", err)
	}
	c.slippage, err = fx.ParseFraction(c.FX.Slippage)
	if err != nil {
		return fmt.Errorf("invalid fx.slippage: %w", err)
	}

	c.rates = fx.NewStaticRates()
	for _, spec := range c.FX.Rates {
		src, dst, rate, err := fx.ParseRateSpec(spec)
		if err != nil {
			return err
		}
		c.rates.Set(src, dst, rate)
	}

	return nil
}

// parseRoutes parses the static routes.
func (c *Config) parseRoutes() error {
	c.routes = nil
	for _, spec := range c.Routing.Routes {
		route, err := ParseRoute(spec)
		if err != nil {
			return err
		}
		c.routes = append(c.routes, route)
	}

	return nil
}

// parseLedgers parses the ledger definitions.
func (c *Config) parseLedgers() error {
	c.pluginConfigs = nil

	seen := make(map[ilp.Address]struct{})
	for _, spec := range c.Ledgers {
		cfg, err := ParseLedger(spec)
		if err != nil {
			return err
		}

		if _, ok := seen[cfg.Prefix]; ok {
			return fmt.Errorf("ledger %v defined twice", cfg.Prefix)
		}
		seen[cfg.Prefix] = struct{}{}

		c.pluginConfigs = append(c.pluginConfigs, cfg)
	}

	return nil
}

// ParseRoute parses a route definition of the form
// TARGET=NEXTHOP[;SOURCEFILTER].
func ParseRoute(spec string) (*routing.Route, error) {
	target, rest, ok := strings.Cut(spec, "=")
	if !ok {
		return nil, fmt.Errorf("invalid route %q, expected "+
			"TARGET=NEXTHOP[;SOURCEFILTER]", spec)
	}

	nextHop, filter, hasFilter := strings.Cut(rest, ";")

	var opts []routing.RouteOption
	if hasFilter {
		opts = append(opts, routing.WithSourceFilter(filter))
	}

	route, err := routing.NewRoute(
		ilp.Address(strings.TrimSpace(target)),
		ilp.Address(strings.TrimSpace(nextHop)), opts...,
	)
	if err != nil {
		return nil, fmt.Errorf("invalid route %q: %w", spec, err)
	}

	return route, nil
}

// ParseLedger parses a ledger definition of the form
// PREFIX;TYPE;CONNECTORACCOUNT;CURRENCY;SCALE[;peered][;KEY=VALUE...].
func ParseLedger(spec string) (ledger.PluginConfig, error) {
	fields := strings.Split(spec, ";")
	if len(fields) < 5 {
		return ledger.PluginConfig{}, fmt.Errorf("invalid ledger %q, "+
			"expected PREFIX;TYPE;CONNECTORACCOUNT;CURRENCY;"+
			"SCALE[;peered][;KEY=VALUE...]", spec)
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	scale, err := strconv.ParseUint(fields[4], 10, 8)
	if err != nil {
		return ledger.PluginConfig{}, fmt.Errorf("invalid ledger %q "+
			"scale: %w", spec, err)
	}

	cfg := ledger.PluginConfig{
		Prefix:           ilp.Address(fields[0]),
		Type:             fields[1],
		ConnectorAccount: ilp.Address(fields[2]),
		CurrencyCode:     strings.ToUpper(fields[3]),
		CurrencyScale:    uint8(scale),
		Options:          make(map[string]string),
	}

	for _, field := range fields[5:] {
		if field == peeredFlag {
			cfg.LocallyPeered = true
			continue
		}

		key, value, ok := strings.Cut(field, "=")
		if !ok || key == "" {
			return ledger.PluginConfig{}, fmt.Errorf("invalid "+
				"ledger %q option %q", spec, field)
		}
		cfg.Options[key] = value
	}

	if err := cfg.Validate(); err != nil {
		return ledger.PluginConfig{}, fmt.Errorf("invalid ledger %q: "+
			"%w", spec, err)
	}

	return cfg, nil
}

// defaultConnectorDir returns the default base directory, ~/.ilpconnector.
func defaultConnectorDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ilpconnector"
	}

	return filepath.Join(home, ".ilpconnector")
}

// CleanAndExpandPath replaces a leading ~ with the home directory, expands
// $VARIABLES and cleans the result. An empty path stays empty.
func CleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	if rest, ok := strings.CutPrefix(path, "~"); ok {
		home := os.Getenv("HOME")
		if u, err := user.Current(); err == nil {
			home = u.HomeDir
		}
		path = home + rest
	}

	return filepath.Clean(os.ExpandEnv(path))
}
