package build

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btclog/v2"
	"github.com/stretchr/testify/require"
)

// TestParseAndSetDebugLevels covers the global and per-subsystem forms of the
// debug level string.
func TestParseAndSetDebugLevels(t *testing.T) {
	t.Parallel()

	var b bytes.Buffer
	mgr := NewSubLoggerManager(&b, btclog.WithNoTimestamp())

	setl := NewSubLogger("SETL", mgr.GenSubLogger)
	rtng := NewSubLogger("RTNG", mgr.GenSubLogger)

	require.Equal(t, []string{"RTNG", "SETL"}, mgr.SupportedSubsystems())

	require.NoError(t, ParseAndSetDebugLevels("warn", mgr))
	require.Equal(t, btclog.LevelWarn, rtng.Level())
	require.Equal(t, btclog.LevelWarn, setl.Level())

	require.NoError(t, ParseAndSetDebugLevels("SETL=debug", mgr))
	require.Equal(t, btclog.LevelDebug, setl.Level())

	setl.Debugf("forwarded")
	require.Contains(t, b.String(), "forwarded")
	require.Contains(t, b.String(), "SETL")

	require.Error(t, ParseAndSetDebugLevels("verbose", mgr))
	require.Error(t, ParseAndSetDebugLevels("info,NOPE=debug", mgr))
	require.Error(t, ParseAndSetDebugLevels("info,SETL", mgr))
	require.Error(t, ParseAndSetDebugLevels("info,SETL=loud", mgr))
}

// TestNewSubLoggerDisabled makes sure a missing generator yields the disabled
// logger.
func TestNewSubLoggerDisabled(t *testing.T) {
	t.Parallel()

	require.Equal(t, btclog.Disabled, NewSubLogger("TEST", nil))
}

// TestSupportedLogCompressor checks the compressor table.
func TestSupportedLogCompressor(t *testing.T) {
	t.Parallel()

	require.True(t, SupportedLogCompressor(Gzip))
	require.True(t, SupportedLogCompressor(Zstd))
	require.False(t, SupportedLogCompressor("lz4"))

	cfg := DefaultLogConfig()
	require.NoError(t, cfg.Validate())

	cfg.File.Compressor = "lz4"
	require.Error(t, cfg.Validate())
}

func TestSpewLogClosure(t *testing.T) {
	t.Parallel()

	calls := 0
	c := NewLogClosure(func() string {
		calls++
		return "expensive"
	})
	require.Zero(t, calls)
	require.Equal(t, "expensive", c.String())
	require.Equal(t, 1, calls)

	dump := SpewLogClosure(struct{ Amount int }{42}).String()
	require.Contains(t, dump, "Amount")
	require.Contains(t, dump, "42")
}

// TestRotatingLogWriter writes through the rotator and checks the lines end
// up in the log file once it is closed.
func TestRotatingLogWriter(t *testing.T) {
	t.Parallel()

	w := NewRotatingLogWriter()

	// Nothing is written before the rotator is initialized.
	n, err := w.Write([]byte("dropped\n"))
	require.NoError(t, err)
	require.Equal(t, 8, n)

	logFile := filepath.Join(t.TempDir(), "logs", "ilpc.log")
	cfg := DefaultLogConfig().File
	cfg.Compressor = Zstd
	require.NoError(t, w.InitLogRotator(cfg, logFile))

	_, err = w.Write([]byte("forwarded transfer\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	require.Equal(t, "forwarded transfer\n", string(content))

	cfg.Compressor = "lz4"
	require.Error(t, NewRotatingLogWriter().InitLogRotator(cfg, logFile))
}
