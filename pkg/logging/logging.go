package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the logging capability handed to every component. Implementations
// must be safe for concurrent use.
type Logger interface {
	// Info logs a free-form diagnostic line.
	Info(msg string)
	// Warn logs a non-fatal problem, e.g. a tolerated submodule failure.
	Warn(msg string)
	// Error logs a failure line.
	Error(msg string)
	// Success logs the final success line for a package, carrying its path.
	Success(msg string)
	// Status logs a machine-readable "STATUS:value" line. These lines are the
	// contract consumed by the invoking build system; everything else is
	// diagnostic only.
	Status(status, value string)
}

// LineLogger writes "-- PREFIX:message" lines to a single sink, matching the
// status protocol build systems scrape from configure output. A mutex keeps
// concurrent writers from interleaving lines. When Diag is set, every line is
// mirrored to it at a matching level for offline troubleshooting.
type LineLogger struct {
	mu   sync.Mutex
	out  io.Writer
	diag *logrus.Logger
}

var _ Logger = &LineLogger{}

// New returns a LineLogger writing to out. A nil out defaults to os.Stdout.
func New(out io.Writer) *LineLogger {
	if out == nil {
		out = os.Stdout
	}
	return &LineLogger{out: out}
}

// WithDiagnostics mirrors all lines into the given logrus logger and returns
// the receiver for chaining.
func (l *LineLogger) WithDiagnostics(diag *logrus.Logger) *LineLogger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.diag = diag
	return l
}

func (l *LineLogger) Info(msg string)    { l.write("INFO:"+msg, logrus.InfoLevel) }
func (l *LineLogger) Warn(msg string)    { l.write("WARNING:"+msg, logrus.WarnLevel) }
func (l *LineLogger) Error(msg string)   { l.write("ERROR:"+msg, logrus.ErrorLevel) }
func (l *LineLogger) Success(msg string) { l.write("SUCCESS:"+msg, logrus.InfoLevel) }

func (l *LineLogger) Status(status, value string) {
	l.write(status+":"+value, logrus.InfoLevel)
}

func (l *LineLogger) write(line string, level logrus.Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.out, "-- %s\n", line)
	if l.diag != nil {
		l.diag.Log(level, line)
	}
}

// NewDiagnostics builds a JSON logrus logger writing to a size-rotated file.
// On any setup problem it falls back to stderr so diagnostics are never
// silently dropped.
func NewDiagnostics(path string, maxSizeMB, maxBackups int) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "diagnostic log fallback: %v\n", err)
		logger.SetOutput(os.Stderr)
		return logger
	}

	logger.SetOutput(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		LocalTime:  true,
	})
	return logger
}
