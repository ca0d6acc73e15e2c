package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// RFC3339UsecTz0 is the timestamp layout used for every log line.
const RFC3339UsecTz0 = "2006-01-02T15:04:05.000000Z07:00"

// Logger is the logging interface shared by every package.
type Logger interface {
	Printf(format string, v ...interface{})
	Debugf(format string, v ...interface{})
	Infof(format string, v ...interface{})
	Warnf(format string, v ...interface{})
	Errorf(format string, v ...interface{})
	// WithPrefix returns a Logger with the same configuration whose lines
	// all carry prefix.
	WithPrefix(prefix string) Logger
}

const (
	LevelError = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

// LevelPrefix returns the fixed-width tag written before a message.
func LevelPrefix(level int) string {
	return [...]string{"ERROR: ", "WARN:  ", "INFO:  ", "DEBUG: "}[level]
}

var _ Logger = &nopLogger{}

// StderrLogger logs at info level to stderr.
var StderrLogger Logger = NewStandardLogger(os.Stderr)

// NopLogger discards everything.
var NopLogger Logger = &nopLogger{}

type nopLogger struct{}

func (n *nopLogger) Printf(format string, v ...interface{}) {}
func (n *nopLogger) Debugf(format string, v ...interface{}) {}
func (n *nopLogger) Infof(format string, v ...interface{})  {}
func (n *nopLogger) Warnf(format string, v ...interface{})  {}
func (n *nopLogger) Errorf(format string, v ...interface{}) {}

func (n *nopLogger) WithPrefix(prefix string) Logger { return n }

// standardLogger is a Logger backed by log.Logger.
type standardLogger struct {
	logger    *log.Logger
	verbosity int
	prefix    string
	w         io.Writer
}

// formatLog stamps lines in UTC with constant width and microsecond resolution.
type formatLog struct {
	w io.Writer
}

func (fl formatLog) Write(b []byte) (int, error) {
	return fmt.Fprintf(fl.w, "%v %v", time.Now().UTC().Format(RFC3339UsecTz0), string(b))
}

func newStandardLogger(w io.Writer, verbosity int, prefix string) *standardLogger {
	l := log.New(formatLog{w: w}, "", 0)
	return &standardLogger{
		logger:    l,
		verbosity: verbosity,
		prefix:    prefix,
		w:         w,
	}
}

// NewStandardLogger returns an info-level Logger writing to w.
func NewStandardLogger(w io.Writer) Logger {
	return newStandardLogger(w, LevelInfo, "")
}

// NewVerboseLogger returns a debug-level Logger writing to w.
func NewVerboseLogger(w io.Writer) Logger {
	return newStandardLogger(w, LevelDebug, "")
}

func (s *standardLogger) printf(level int, format string, v ...interface{}) {
	if level > s.verbosity {
		return
	}
	s.logger.Printf(LevelPrefix(level)+s.prefix+format, v...)
}

func (s *standardLogger) Printf(format string, v ...interface{}) {
	s.printf(LevelInfo, format, v...)
}

func (s *standardLogger) Debugf(format string, v ...interface{}) {
	s.printf(LevelDebug, format, v...)
}

func (s *standardLogger) Infof(format string, v ...interface{}) {
	s.printf(LevelInfo, format, v...)
}

func (s *standardLogger) Warnf(format string, v ...interface{}) {
	s.printf(LevelWarn, format, v...)
}

func (s *standardLogger) Errorf(format string, v ...interface{}) {
	s.printf(LevelError, format, v...)
}

func (s *standardLogger) WithPrefix(prefix string) Logger {
	return newStandardLogger(s.w, s.verbosity, s.prefix+prefix)
}

// Logfer is anything with a Logf method, like testing.T.
type Logfer interface {
	Logf(format string, v ...interface{})
}

// LogfLogger adapts a Logfer to Logger so test output lands in the test log.
type LogfLogger struct {
	wrapped Logfer
	prefix  string
}

// NewLogfLogger wraps l.
func NewLogfLogger(l Logfer) *LogfLogger {
	return &LogfLogger{wrapped: l}
}

func (ll *LogfLogger) logf(level int, format string, v ...interface{}) {
	ll.wrapped.Logf(LevelPrefix(level)+ll.prefix+format, v...)
}

func (ll *LogfLogger) Printf(format string, v ...interface{}) { ll.logf(LevelInfo, format, v...) }
func (ll *LogfLogger) Debugf(format string, v ...interface{}) { ll.logf(LevelDebug, format, v...) }
func (ll *LogfLogger) Infof(format string, v ...interface{})  { ll.logf(LevelInfo, format, v...) }
func (ll *LogfLogger) Warnf(format string, v ...interface{})  { ll.logf(LevelWarn, format, v...) }
func (ll *LogfLogger) Errorf(format string, v ...interface{}) { ll.logf(LevelError, format, v...) }

func (ll *LogfLogger) WithPrefix(prefix string) Logger {
	return &LogfLogger{wrapped: ll.wrapped, prefix: ll.prefix + prefix}
}

// BufferLogger holds log lines in memory. Used by tests that assert on
// what was logged.
type BufferLogger struct {
	mu     sync.Mutex
	lines  []string
	prefix string
	parent *BufferLogger
}

// NewBufferLogger returns an empty BufferLogger.
func NewBufferLogger() *BufferLogger {
	return &BufferLogger{}
}

func (b *BufferLogger) root() *BufferLogger {
	if b.parent != nil {
		return b.parent
	}
	return b
}

func (b *BufferLogger) add(level int, format string, v ...interface{}) {
	r := b.root()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, LevelPrefix(level)+b.prefix+fmt.Sprintf(format, v...))
}

func (b *BufferLogger) Printf(format string, v ...interface{}) { b.add(LevelInfo, format, v...) }
func (b *BufferLogger) Debugf(format string, v ...interface{}) { b.add(LevelDebug, format, v...) }
func (b *BufferLogger) Infof(format string, v ...interface{})  { b.add(LevelInfo, format, v...) }
func (b *BufferLogger) Warnf(format string, v ...interface{})  { b.add(LevelWarn, format, v...) }
func (b *BufferLogger) Errorf(format string, v ...interface{}) { b.add(LevelError, format, v...) }

func (b *BufferLogger) WithPrefix(prefix string) Logger {
	return &BufferLogger{prefix: b.prefix + prefix, parent: b.root()}
}

// Lines returns a copy of everything logged so far.
func (b *BufferLogger) Lines() []string {
	r := b.root()
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.lines))
	copy(out, r.lines)
	return out
}

// Contains reports whether any logged line contains s.
func (b *BufferLogger) Contains(s string) bool {
	for _, l := range b.Lines() {
		if strings.Contains(l, s) {
			return true
		}
	}
	return false
}

// Leveled adapts a Logger to the key/value leveled interface used by
// go-retryablehttp.
type Leveled struct {
	L Logger
}

func (l Leveled) Error(msg string, kv ...interface{}) { l.L.Errorf("%s%s", msg, formatKV(kv)) }
func (l Leveled) Info(msg string, kv ...interface{})  { l.L.Infof("%s%s", msg, formatKV(kv)) }
func (l Leveled) Debug(msg string, kv ...interface{}) { l.L.Debugf("%s%s", msg, formatKV(kv)) }
func (l Leveled) Warn(msg string, kv ...interface{})  { l.L.Warnf("%s%s", msg, formatKV(kv)) }

func formatKV(kv []interface{}) string {
	var sb strings.Builder
	for i := 0; i < len(kv); i += 2 {
		sb.WriteByte(' ')
		if i+1 < len(kv) {
			fmt.Fprintf(&sb, "%v=%v", kv[i], kv[i+1])
		} else {
			fmt.Fprintf(&sb, "%v", kv[i])
		}
	}
	return sb.String()
}
