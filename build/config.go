package build

import (
	"fmt"

	"github.com/btcsuite/btclog/v2"
)

// Rolled log files are compressed with one of these.
const (
	Gzip = "gzip"
	Zstd = "zstd"
)

const (
	// DefaultMaxLogFiles is how many rolled log files are kept.
	DefaultMaxLogFiles = 10

	// DefaultMaxLogFileSize is the size in MB at which the log file rolls.
	DefaultMaxLogFileSize = 20
)

// logCompressors maps each compressor to the suffix of its rolled files.
var logCompressors = map[string]string{
	Gzip: "gz",
	Zstd: "zst",
}

// SupportedLogCompressor reports whether name is a known compressor.
func SupportedLogCompressor(name string) bool {
	_, ok := logCompressors[name]

	return ok
}

// LogConfig configures the two log outputs of the connector.
//
//nolint:lll
type LogConfig struct {
	Console *LoggerConfig     `group:"console" namespace:"console" description:"Options for logging to stdout."`
	File    *FileLoggerConfig `group:"file" namespace:"file" description:"Options for logging to the log directory."`
}

// Validate checks the options that go-flags can't check on its own.
func (c *LogConfig) Validate() error {
	if c.File != nil && !SupportedLogCompressor(c.File.Compressor) {
		return fmt.Errorf("invalid log compressor: %v",
			c.File.Compressor)
	}

	return nil
}

// DefaultLogConfig logs to both outputs with timestamps and without call
// sites, rolling gzipped files.
func DefaultLogConfig() *LogConfig {
	return &LogConfig{
		Console: &LoggerConfig{CallSite: CallSiteOff},
		File: &FileLoggerConfig{
			LoggerConfig:   LoggerConfig{CallSite: CallSiteOff},
			Compressor:     Gzip,
			MaxLogFiles:    DefaultMaxLogFiles,
			MaxLogFileSize: DefaultMaxLogFileSize,
		},
	}
}

// Call site modes of LoggerConfig.
const (
	CallSiteOff   = "off"
	CallSiteShort = "short"
	CallSiteLong  = "long"
)

// LoggerConfig holds the options shared by both outputs.
//
//nolint:lll
type LoggerConfig struct {
	Disable      bool   `long:"disable" description:"Turn this output off."`
	NoTimestamps bool   `long:"no-timestamps" description:"Leave timestamps out of each line."`
	CallSite     string `long:"call-site" description:"Add the source location of the log call to each line." choice:"off" choice:"short" choice:"long"`
}

// HandlerOptions translates the config into btclog handler options.
func (cfg *LoggerConfig) HandlerOptions() []btclog.HandlerOption {
	var opts []btclog.HandlerOption
	if cfg.NoTimestamps {
		opts = append(opts, btclog.WithNoTimestamp())
	}

	if cfg.CallSite == CallSiteShort {
		opts = append(opts, btclog.WithCallerFlags(btclog.Lshortfile))
	} else if cfg.CallSite == CallSiteLong {
		opts = append(opts, btclog.WithCallerFlags(btclog.Llongfile))
	}

	return opts
}

// FileLoggerConfig adds rotation options to the file output.
//
//nolint:lll
type FileLoggerConfig struct {
	LoggerConfig

	Compressor     string `long:"compressor" description:"How rolled log files are compressed." choice:"gzip" choice:"zstd"`
	MaxLogFiles    int    `long:"max-files" description:"Number of rolled log files to keep, 0 keeps all of them."`
	MaxLogFileSize int    `long:"max-file-size" description:"Size in MB at which the log file is rolled."`
}
