package connector

import (
	"github.com/btcsuite/btclog/v2"
	"github.com/interledger/connector/adminrpc"
	"github.com/interledger/connector/build"
	"github.com/interledger/connector/correlation"
	"github.com/interledger/connector/fx"
	"github.com/interledger/connector/ledger"
	"github.com/interledger/connector/ledger/loopback"
	"github.com/interledger/connector/monitoring"
	"github.com/interledger/connector/routing"
	"github.com/interledger/connector/settlement"
	"github.com/interledger/connector/signal"
)

// Subsystem defines the logging code for the connector itself.
const Subsystem = "ILPC"

// log is the connector's own logger. It discards everything until
// SetupLoggers is called.
var log = build.NewSubLogger(Subsystem, nil)

// SetupLoggers initializes all package-global logger variables.
func SetupLoggers(root *build.SubLoggerManager) {
	genLogger := root.GenSubLogger

	log = build.NewSubLogger(Subsystem, genLogger)

	AddSubLogger(root, routing.Subsystem, routing.UseLogger)
	AddSubLogger(root, fx.Subsystem, fx.UseLogger)
	AddSubLogger(root, correlation.Subsystem, correlation.UseLogger)
	AddSubLogger(root, ledger.Subsystem, ledger.UseLogger)
	AddSubLogger(root, loopback.Subsystem, loopback.UseLogger)
	AddSubLogger(root, settlement.Subsystem, settlement.UseLogger)
	AddSubLogger(root, monitoring.Subsystem, monitoring.UseLogger)
	AddSubLogger(root, adminrpc.Subsystem, adminrpc.UseLogger)
	AddSubLogger(root, signal.Subsystem, signal.UseLogger)
}

// AddSubLogger is a helper method to conveniently create and register the
// logger of one or more sub systems.
func AddSubLogger(root *build.SubLoggerManager, subsystem string,
	useLoggers ...func(btclog.Logger)) {

	// Create and register just a single logger to prevent them from
	// overwriting each other internally.
	logger := build.NewSubLogger(subsystem, root.GenSubLogger)
	for _, useLogger := range useLoggers {
		useLogger(logger)
	}
}
