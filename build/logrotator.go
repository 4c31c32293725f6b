package build

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/jrick/logrotate/rotator"
	"github.com/klauspost/compress/zstd"
)

// newCompressor returns the rotator compressor for one of the supported
// compressor names.
func newCompressor(name string) (rotator.Compressor, error) {
	switch name {
	case Gzip:
		return gzip.NewWriter(nil), nil

	case Zstd:
		return zstd.NewWriter(nil)

	default:
		return nil, fmt.Errorf("unknown log compressor: %v", name)
	}
}

// RotatingLogWriter feeds the connector's log file, rolling and compressing
// it once it grows past the configured size. Writes made before
// InitLogRotator are dropped.
type RotatingLogWriter struct {
	mu      sync.Mutex
	pipe    *io.PipeWriter
	rotator *rotator.Rotator

	// done is closed once the rotator stops reading from the pipe.
	done chan struct{}
}

// NewRotatingLogWriter returns a writer that discards everything until
// InitLogRotator is called.
func NewRotatingLogWriter() *RotatingLogWriter {
	return &RotatingLogWriter{}
}

// InitLogRotator starts writing to logFile. Rolled files are kept next to it.
// Close must be called on shutdown to flush the file.
func (r *RotatingLogWriter) InitLogRotator(cfg *FileLoggerConfig,
	logFile string) error {

	compressor, err := newCompressor(cfg.Compressor)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(logFile), 0700); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	// The rotator takes its threshold in KB.
	rot, err := rotator.New(
		logFile, int64(cfg.MaxLogFileSize*1024), false, cfg.MaxLogFiles,
	)
	if err != nil {
		return fmt.Errorf("failed to create file rotator: %w", err)
	}
	rot.SetCompressor(compressor, logCompressors[cfg.Compressor])

	pr, pw := io.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)

		// Nowhere else to report a broken log file.
		if err := rot.Run(pr); err != nil {
			_, _ = fmt.Fprintf(os.Stderr,
				"failed to run file rotator: %v\n", err)
		}
	}()

	r.mu.Lock()
	r.rotator, r.pipe, r.done = rot, pw, done
	r.mu.Unlock()

	return nil
}

// Write hands b to the rotator.
func (r *RotatingLogWriter) Write(b []byte) (int, error) {
	r.mu.Lock()
	pipe := r.pipe
	r.mu.Unlock()

	if pipe == nil {
		return len(b), nil
	}

	return pipe.Write(b)
}

// Close flushes and closes the log file. Later writes are dropped.
func (r *RotatingLogWriter) Close() error {
	r.mu.Lock()
	pipe, rot, done := r.pipe, r.rotator, r.done
	r.pipe, r.rotator = nil, nil
	r.mu.Unlock()

	if pipe == nil {
		return nil
	}

	// Closing the pipe ends Run once the buffered lines are written.
	if err := pipe.Close(); err != nil {
		return err
	}
	<-done

	return rot.Close()
}
