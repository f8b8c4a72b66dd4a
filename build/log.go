package build

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/decred/slog"
	"github.com/jrick/logrotate/rotator"
)

// LogType is a type for identifying how logging output is configured.
type LogType int

const (
	// LogTypeNone indicates no logging output should be configured. This is
	// the default type.
	LogTypeNone LogType = iota

	// LogTypeStdOut indicates that logging output should be directed to
	// stdout.
	LogTypeStdOut

	// LogTypeDefault is the default log type determined at compile time via
	// build tags. The "filelog" build tag flips this to LogTypeStdOut and
	// arranges for a log file to be created alongside it; see
	// log_filelog.go.
	LogTypeDefault = LogTypeNone
)

// LoggingType is the selected LogType for this build. It may be shadowed by
// build-tag-specific files (see log_filelog.go).
var LoggingType = LogTypeDefault

// LogWriter is a stub io.Writer implementation that build-tag-specific files
// (e.g. log_filelog.go) give a concrete Write method to. Without any such
// tag, writes are discarded.
type LogWriter struct{}

// Write implements io.Writer. The no-tag default is a no-op; log_filelog.go
// supplies a file-backed Write under the "filelog" build tag.
func (w *LogWriter) Write(b []byte) (int, error) {
	return len(b), nil
}

// RotatingLogWriter wraps a rotating log file and registers per-subsystem
// slog.Logger instances against it. Callers obtain individual subsystem
// loggers via GenSubLogger and attach them with RegisterSubLogger so that
// verbosity can be adjusted per subsystem at runtime.
type RotatingLogWriter struct {
	mu         sync.Mutex
	rotator    *rotator.Rotator
	subLoggers map[string]slog.Logger
	backend    *slog.Backend
	writer     io.Writer
}

// NewRotatingLogWriter returns a RotatingLogWriter that is not yet backed by
// a file. Call InitLogRotator to attach a log file before any subsystem
// logger produced through it is expected to persist to disk.
func NewRotatingLogWriter() *RotatingLogWriter {
	logWriter := &LogWriter{}
	writer := io.MultiWriter(os.Stdout, logWriter)

	return &RotatingLogWriter{
		subLoggers: make(map[string]slog.Logger),
		backend:    slog.NewBackend(writer),
		writer:     writer,
	}
}

// InitLogRotator initializes the log file rotator to write logs to the
// specified file and create roll files in the same directory. It should be
// called as early as possible at startup.
func (r *RotatingLogWriter) InitLogRotator(logFile string, maxLogFileSize int64, maxLogFiles int) error {
	logRotator, err := rotator.New(logFile, maxLogFileSize*1024, false, maxLogFiles)
	if err != nil {
		return fmt.Errorf("failed to create file rotator: %w", err)
	}

	r.mu.Lock()
	r.rotator = logRotator
	r.mu.Unlock()

	pr, pw := io.Pipe()
	go logRotator.Run(pr)

	r.mu.Lock()
	r.writer = io.MultiWriter(os.Stdout, pw)
	r.backend = slog.NewBackend(r.writer)
	r.mu.Unlock()

	return nil
}

// GenSubLogger creates a new subsystem logger backed by this writer's
// current backend. It matches the func(string) slog.Logger shape that
// NewSubLogger expects.
func (r *RotatingLogWriter) GenSubLogger(subsystem string) slog.Logger {
	r.mu.Lock()
	backend := r.backend
	r.mu.Unlock()

	logger := backend.Logger(subsystem)
	logger.SetLevel(slog.LevelInfo)
	return logger
}

// RegisterSubLogger saves a subsystem logger so SetLogLevel/SetLogLevels can
// find it later.
func (r *RotatingLogWriter) RegisterSubLogger(subsystem string, logger slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subLoggers[subsystem] = logger
}

// SetLogLevel sets the logging level of the named subsystem, if registered.
func (r *RotatingLogWriter) SetLogLevel(subsystem string, level string) {
	r.mu.Lock()
	logger, ok := r.subLoggers[subsystem]
	r.mu.Unlock()
	if !ok {
		return
	}
	lvl, _ := slog.LevelFromString(level)
	logger.SetLevel(lvl)
}

// SetLogLevels sets the same logging level across every registered
// subsystem.
func (r *RotatingLogWriter) SetLogLevels(level string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, logger := range r.subLoggers {
		lvl, _ := slog.LevelFromString(level)
		logger.SetLevel(lvl)
	}
}

// Close flushes and closes the underlying rotator, if any was configured.
func (r *RotatingLogWriter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rotator != nil {
		return r.rotator.Close()
	}
	return nil
}

// NewSubLogger creates a new slog.Logger for subsystem, using genLogger to
// produce it if one is supplied, or slog.Disabled (which discards all
// output) otherwise. This mirrors the bootstrap problem every lnd-family
// package logger faces: loggers are referenced at package init time, well
// before the root RotatingLogWriter exists.
func NewSubLogger(subsystem string, genLogger func(string) slog.Logger) slog.Logger {
	if genLogger == nil {
		return slog.Disabled
	}
	return genLogger(subsystem)
}
