package build

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/btcsuite/btclog/v2"
)

// NewSubLogger constructs a new subsystem log from the passed generator. If
// no generator is given the returned logger is disabled, which is what
// packages use until the daemon wires up its logging backend.
func NewSubLogger(subsystem string,
	genSubLogger func(string) btclog.Logger) btclog.Logger {

	if genSubLogger != nil {
		return genSubLogger(subsystem)
	}

	return btclog.Disabled
}

// SubLoggers indexes subsystem loggers by their tag.
type SubLoggers map[string]btclog.Logger

// LeveledSubLogger is a set of tagged loggers whose levels can be changed at
// runtime, one tag at a time or all together.
type LeveledSubLogger interface {
	// SubLoggers returns the registered loggers by tag.
	SubLoggers() SubLoggers

	// SupportedSubsystems returns the sorted tags.
	SupportedSubsystems() []string

	// SetLogLevel changes the level of the logger with the given tag.
	SetLogLevel(subsystem string, level string)

	// SetLogLevels changes the level of every logger.
	SetLogLevels(level string)
}

// SubLoggerManager hands out subsystem loggers that all write through the
// same handler and keeps track of them so their levels can be changed later.
type SubLoggerManager struct {
	root btclog.Logger

	mu      sync.Mutex
	loggers SubLoggers
}

// A compile-time check to ensure SubLoggerManager implements
// LeveledSubLogger.
var _ LeveledSubLogger = (*SubLoggerManager)(nil)

// NewSubLoggerManager creates a manager whose loggers write to w using the
// given handler options.
func NewSubLoggerManager(w io.Writer,
	opts ...btclog.HandlerOption) *SubLoggerManager {

	handler := btclog.NewDefaultHandler(w, opts...)

	return &SubLoggerManager{
		root:    btclog.NewSLogger(handler),
		loggers: make(SubLoggers),
	}
}

// GenSubLogger creates, registers and returns the logger for a subsystem. It
// has the signature expected by NewSubLogger.
func (m *SubLoggerManager) GenSubLogger(subsystem string) btclog.Logger {
	m.mu.Lock()
	defer m.mu.Unlock()

	if logger, ok := m.loggers[subsystem]; ok {
		return logger
	}

	logger := m.root.SubSystem(subsystem)
	m.loggers[subsystem] = logger

	return logger
}

// SubLoggers returns a copy of the registered subsystem loggers.
func (m *SubLoggerManager) SubLoggers() SubLoggers {
	m.mu.Lock()
	defer m.mu.Unlock()

	loggers := make(SubLoggers, len(m.loggers))
	for k, v := range m.loggers {
		loggers[k] = v
	}

	return loggers
}

// SupportedSubsystems returns the sorted names of all registered subsystems.
func (m *SubLoggerManager) SupportedSubsystems() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	subsystems := make([]string, 0, len(m.loggers))
	for subsystem := range m.loggers {
		subsystems = append(subsystems, subsystem)
	}
	sort.Strings(subsystems)

	return subsystems
}

// SetLogLevel assigns a new level to one subsystem. Unknown subsystems are
// ignored.
func (m *SubLoggerManager) SetLogLevel(subsystem string, level string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	logger, ok := m.loggers[subsystem]
	lvl, valid := btclog.LevelFromString(level)
	if ok && valid {
		logger.SetLevel(lvl)
	}
}

// SetLogLevels assigns the same level to every subsystem.
func (m *SubLoggerManager) SetLogLevels(level string) {
	lvl, ok := btclog.LevelFromString(level)
	if !ok {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, logger := range m.loggers {
		logger.SetLevel(lvl)
	}
}

// ParseAndSetDebugLevels applies a debug level specification such as
// "info,RTNG=debug,SETL=trace" to logger. A leading entry without a subsystem
// sets the level of every subsystem before the per-subsystem entries are
// applied. Nothing is changed if any entry is invalid.
func ParseAndSetDebugLevels(level string, logger LeveledSubLogger) error {
	entries := strings.Split(level, ",")

	var global string
	if !strings.Contains(entries[0], "=") {
		global, entries = entries[0], entries[1:]
		if !validLogLevel(global) {
			return fmt.Errorf("invalid debug level %q", global)
		}
	}

	known := logger.SubLoggers()
	overrides := make(map[string]string, len(entries))
	for _, entry := range entries {
		subsystem, lvl, ok := strings.Cut(entry, "=")
		if !ok || strings.Contains(lvl, "=") {
			return fmt.Errorf("invalid subsystem level %q, expected "+
				"SUBSYSTEM=LEVEL", entry)
		}

		if _, ok := known[subsystem]; !ok {
			return fmt.Errorf("unknown subsystem %q, supported "+
				"subsystems are %v", subsystem,
				logger.SupportedSubsystems())
		}

		if !validLogLevel(lvl) {
			return fmt.Errorf("invalid debug level %q for %v", lvl,
				subsystem)
		}

		overrides[subsystem] = lvl
	}

	if global != "" {
		logger.SetLogLevels(global)
	}
	for subsystem, lvl := range overrides {
		logger.SetLogLevel(subsystem, lvl)
	}

	return nil
}

func validLogLevel(logLevel string) bool {
	_, ok := btclog.LevelFromString(logLevel)

	return ok
}
